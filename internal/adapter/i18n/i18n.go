// Package i18n implements the localizer port over embedded YAML catalogs.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultLocale is used when a key is missing from the requested locale.
const DefaultLocale = "en"

//go:embed catalogs/*.yaml
var catalogFS embed.FS

// Catalog maps locale to message key to format string.
type Catalog struct {
	messages map[string]map[string]string
}

// Load parses every embedded catalog.
func Load() (*Catalog, error) {
	c := &Catalog{messages: make(map[string]map[string]string)}
	entries, err := fs.ReadDir(catalogFS, "catalogs")
	if err != nil {
		return nil, fmt.Errorf("read catalogs: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(catalogFS, "catalogs/"+name)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", name, err)
		}
		msgs := make(map[string]string)
		if err := yaml.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", name, err)
		}
		c.messages[strings.TrimSuffix(name, ".yaml")] = msgs
	}
	if _, ok := c.messages[DefaultLocale]; !ok {
		return nil, fmt.Errorf("catalog %q missing", DefaultLocale)
	}
	return c, nil
}

// MustLoad is Load for program start-up.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Locales returns the loaded locale names.
func (c *Catalog) Locales() []string {
	out := make([]string, 0, len(c.messages))
	for l := range c.messages {
		out = append(out, l)
	}
	return out
}

// Keys returns the message keys of locale.
func (c *Catalog) Keys(locale string) []string {
	msgs := c.messages[locale]
	out := make([]string, 0, len(msgs))
	for k := range msgs {
		out = append(out, k)
	}
	return out
}

// T implements localizer.Localizer. Lookup falls back to DefaultLocale, then
// to the key itself.
func (c *Catalog) T(locale, key string, args ...any) string {
	format, ok := c.messages[locale][key]
	if !ok {
		format, ok = c.messages[DefaultLocale][key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
