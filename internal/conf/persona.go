package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devricklin/feishu-persona-bot/internal/biz/usecase"
)

// PersonaConfig contains persona and pipeline tuning loaded from YAML
type PersonaConfig struct {
	Mentions MentionsConfig `yaml:"mentions"`
	Window   WindowConfig   `yaml:"window"`
	Prompt   PromptConfig   `yaml:"prompt"`

	// LoadedFrom is the file the config was read from, empty for defaults
	LoadedFrom string `yaml:"-"`
}

// MentionsConfig lists the ways people call the persona
type MentionsConfig struct {
	Formal   []string `yaml:"formal"`   // {{handle}} expands to the persona handle
	Informal []string `yaml:"informal"` // nicknames that select the informal register
}

// WindowConfig contains context window sizes
type WindowConfig struct {
	MinusMinutes     int `yaml:"minus_minutes"`
	Limit            int `yaml:"limit"`
	AmbientEveryNth  int `yaml:"ambient_every_nth"`
	AmbientMinLength int `yaml:"ambient_min_length"`
}

// PromptConfig contains prompt budget settings
type PromptConfig struct {
	MaxTokens        int `yaml:"max_tokens"`
	MessageCharLimit int `yaml:"message_char_limit"`
	MinReplyTokens   int `yaml:"min_reply_tokens"`
}

// LoadPersonaConfig loads persona configuration from a YAML file. With an
// empty path the usual locations are searched; no file means defaults.
func LoadPersonaConfig(configPath string) (*PersonaConfig, error) {
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/persona.yaml",
			"/etc/feishu-persona-bot/persona.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "persona.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data, loadedPath = b, p
			break
		}
		if configPath != "" {
			return nil, fmt.Errorf("failed to read %s: %w", configPath, err)
		}
	}

	if data == nil {
		return DefaultPersonaConfig(), nil
	}

	var config PersonaConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", loadedPath, err)
	}
	config.fillDefaults()
	config.LoadedFrom = loadedPath
	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *PersonaConfig) fillDefaults() {
	defaults := DefaultPersonaConfig()

	if len(c.Mentions.Formal) == 0 {
		c.Mentions.Formal = defaults.Mentions.Formal
	}
	if len(c.Mentions.Informal) == 0 {
		c.Mentions.Informal = defaults.Mentions.Informal
	}

	if c.Window.MinusMinutes == 0 {
		c.Window.MinusMinutes = defaults.Window.MinusMinutes
	}
	if c.Window.Limit == 0 {
		c.Window.Limit = defaults.Window.Limit
	}
	if c.Window.AmbientEveryNth == 0 {
		c.Window.AmbientEveryNth = defaults.Window.AmbientEveryNth
	}
	if c.Window.AmbientMinLength == 0 {
		c.Window.AmbientMinLength = defaults.Window.AmbientMinLength
	}

	if c.Prompt.MaxTokens == 0 {
		c.Prompt.MaxTokens = defaults.Prompt.MaxTokens
	}
	if c.Prompt.MessageCharLimit == 0 {
		c.Prompt.MessageCharLimit = defaults.Prompt.MessageCharLimit
	}
	if c.Prompt.MinReplyTokens == 0 {
		c.Prompt.MinReplyTokens = defaults.Prompt.MinReplyTokens
	}
}

// FormalMentions returns the formal variants with {{handle}} expanded.
// Variants that need a handle are dropped when there is none.
func (c *PersonaConfig) FormalMentions(handle string) []string {
	out := make([]string, 0, len(c.Mentions.Formal))
	for _, m := range c.Mentions.Formal {
		if strings.Contains(m, "{{handle}}") {
			if handle == "" {
				continue
			}
			m = strings.ReplaceAll(m, "{{handle}}", handle)
		}
		out = append(out, m)
	}
	return out
}

// DefaultPersonaConfig returns the default persona configuration
func DefaultPersonaConfig() *PersonaConfig {
	d := usecase.DefaultPipelineConfig
	return &PersonaConfig{
		Mentions: MentionsConfig{
			Formal:   []string{"@{{handle}}"},
			Informal: []string{"uncle vova", "vovan", "дядя вова", "вован"},
		},
		Window: WindowConfig{
			MinusMinutes:     d.MinusMinutes,
			Limit:            d.MessagesLimit,
			AmbientEveryNth:  d.AmbientEveryNth,
			AmbientMinLength: d.AmbientMinLength,
		},
		Prompt: PromptConfig{
			MaxTokens:        d.MaxTokens,
			MessageCharLimit: d.MessageCharLimit,
			MinReplyTokens:   d.MinReplyTokens,
		},
	}
}
