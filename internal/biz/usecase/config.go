package usecase

// PipelineConfig contains the reply pipeline tunables
type PipelineConfig struct {
	PersonaID     string // platform identity the persona posts as
	PersonaName   string // informal persona name
	PersonaHandle string // literal mention handle, without "@"

	FormalMentions   []string
	InformalMentions []string

	MinusMinutes     int // window lookback before the anchor
	MessagesLimit    int // window size for mention answers, doubled for replies
	AmbientEveryNth  int // long messages required before interjecting
	AmbientMinLength int // code points a message must exceed to count as long

	MessageCharLimit int // per-message content ceiling, in code points
	MaxTokens        int // prompt plus reply budget
	MinReplyTokens   int // smallest generation cap handed to the backend
}

// DefaultPipelineConfig contains default pipeline configuration
var DefaultPipelineConfig = PipelineConfig{
	PersonaName:      "Uncle Vova",
	MinusMinutes:     20,
	MessagesLimit:    3,
	AmbientEveryNth:  15,
	AmbientMinLength: 20,
	MessageCharLimit: 836,
	MaxTokens:        1800,
	MinReplyTokens:   200,
}

// WithDefaults fills zero values from DefaultPipelineConfig
func (c PipelineConfig) WithDefaults() PipelineConfig {
	d := DefaultPipelineConfig
	if c.PersonaName == "" {
		c.PersonaName = d.PersonaName
	}
	if c.MinusMinutes <= 0 {
		c.MinusMinutes = d.MinusMinutes
	}
	if c.MessagesLimit <= 0 {
		c.MessagesLimit = d.MessagesLimit
	}
	if c.AmbientEveryNth <= 0 {
		c.AmbientEveryNth = d.AmbientEveryNth
	}
	if c.AmbientMinLength <= 0 {
		c.AmbientMinLength = d.AmbientMinLength
	}
	if c.MessageCharLimit <= 0 {
		c.MessageCharLimit = d.MessageCharLimit
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MinReplyTokens <= 0 {
		c.MinReplyTokens = d.MinReplyTokens
	}
	return c
}
