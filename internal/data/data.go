package data

import (
	"database/sql"

	"github.com/devricklin/feishu-persona-bot/internal/biz/repo"
	"github.com/devricklin/feishu-persona-bot/internal/infra/openai"
)

// Repositories contains all repositories
type Repositories struct {
	Conversation repo.ConversationRepo
	User         repo.UserRepo
	Message      repo.MessageRepo
	Audit        repo.AuditRepo
	Generator    repo.GeneratorRepo
	Platform     repo.PlatformRepo

	db *sql.DB
}

// NewRepositories opens the store and creates all repositories.
// A nil sender leaves Platform unset, for runs that never deliver.
func NewRepositories(dbPath string, generator *openai.Client, sender FeishuSender) (*Repositories, error) {
	db, err := OpenStore(dbPath)
	if err != nil {
		return nil, err
	}

	repos := &Repositories{
		Conversation: NewConversationRepo(db),
		User:         NewUserRepo(db),
		Message:      NewMessageRepo(db),
		Audit:        NewAuditRepo(db),
		Generator:    NewGeneratorRepo(generator),
		db:           db,
	}
	if sender != nil {
		repos.Platform = NewPlatformRepo(sender)
	}
	return repos, nil
}

// Close closes the underlying store
func (r *Repositories) Close() error {
	return r.db.Close()
}
