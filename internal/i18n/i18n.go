// Package i18n holds the localized strings of the persona bot
package i18n

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultLocale is used when the requested locale has no catalog
const DefaultLocale = "en"

//go:embed locales/*.yaml
var builtin embed.FS

// Translator looks strings up in a flattened catalog. Keys are dotted paths
// ("events.wakeup.createJoke"); placeholders are written {name}.
type Translator struct {
	locale  string
	strings map[string]string
	lists   map[string][]string
}

// New loads the built-in catalog for locale, then overlays <dir>/<locale>.yaml
// when dir is set. An unknown built-in locale falls back to DefaultLocale.
func New(locale, dir string) (*Translator, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	t := &Translator{
		locale:  locale,
		strings: make(map[string]string),
		lists:   make(map[string][]string),
	}

	data, err := builtin.ReadFile("locales/" + locale + ".yaml")
	if err != nil {
		data, err = builtin.ReadFile("locales/" + DefaultLocale + ".yaml")
		if err != nil {
			return nil, fmt.Errorf("failed to read default locale: %w", err)
		}
	}
	if err := t.load(data); err != nil {
		return nil, fmt.Errorf("failed to parse locale %s: %w", locale, err)
	}

	if dir != "" {
		path := filepath.Join(dir, locale+".yaml")
		override, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err == nil {
			if err := t.load(override); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}
	return t, nil
}

// Locale returns the catalog language
func (t *Translator) Locale() string {
	return t.locale
}

// T returns the string at key with {name} placeholders replaced from args.
// A missing key returns the key itself; unknown placeholders are left as is.
func (t *Translator) T(key string, args map[string]string) string {
	s, ok := t.strings[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return s
	}
	pairs := make([]string, 0, len(args)*2)
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// List returns the string list at key, nil when missing
func (t *Translator) List(key string) []string {
	return t.lists[key]
}

func (t *Translator) load(data []byte) error {
	var root map[string]any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	t.flatten("", root)
	return nil
}

func (t *Translator) flatten(prefix string, node map[string]any) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			t.flatten(key, val)
		case []any:
			list := make([]string, 0, len(val))
			for _, item := range val {
				list = append(list, fmt.Sprint(item))
			}
			t.lists[key] = list
		case nil:
		default:
			t.strings[key] = fmt.Sprint(val)
		}
	}
}
