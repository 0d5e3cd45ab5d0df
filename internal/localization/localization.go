// Package localization loads the embedded message catalogs and resolves
// dotted message keys per locale, falling back to English.
package localization

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"embed"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// DefaultLocale is used when a channel has no locale configured or the
// configured one is unknown.
const DefaultLocale = "en"

// Bundle holds all loaded locales keyed by locale code.
type Bundle struct {
	locales map[string]map[string]string
}

// Load parses every embedded locale file. It fails if the default locale is
// missing, since it is the fallback for every lookup.
func Load() (*Bundle, error) {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("reading locales: %w", err)
	}
	b := &Bundle{locales: make(map[string]map[string]string)}
	for _, e := range entries {
		code := strings.TrimSuffix(e.Name(), ".yaml")
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading locale %s: %w", code, err)
		}
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parsing locale %s: %w", code, err)
		}
		flat := make(map[string]string)
		flatten("", tree, flat)
		b.locales[code] = flat
	}
	if _, ok := b.locales[DefaultLocale]; !ok {
		return nil, fmt.Errorf("default locale %q missing", DefaultLocale)
	}
	return b, nil
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// Locales lists loaded locale codes.
func (b *Bundle) Locales() []string {
	codes := make([]string, 0, len(b.locales))
	for code := range b.locales {
		codes = append(codes, code)
	}
	return codes
}

// Has reports whether the locale is loaded.
func (b *Bundle) Has(locale string) bool {
	_, ok := b.locales[locale]
	return ok
}

// Name returns the locale's human-readable language name, used when telling
// the narrator which language to answer in.
func (b *Bundle) Name(locale string) string {
	return b.T(locale, "meta.name")
}

// T resolves key for the given locale, interpolating {name} placeholders
// from alternating name/value args. An unknown locale or key falls back to
// the default locale, then to the key itself.
func (b *Bundle) T(locale, key string, args ...string) string {
	msg, ok := b.lookup(locale, key)
	if !ok {
		msg, ok = b.lookup(DefaultLocale, key)
	}
	if !ok {
		return key
	}
	for i := 0; i+1 < len(args); i += 2 {
		msg = strings.ReplaceAll(msg, "{"+args[i]+"}", args[i+1])
	}
	return msg
}

func (b *Bundle) lookup(locale, key string) (string, bool) {
	flat, ok := b.locales[locale]
	if !ok {
		return "", false
	}
	msg, ok := flat[key]
	return msg, ok
}
