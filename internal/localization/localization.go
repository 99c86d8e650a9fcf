// Package localization provides the translated texts used in agent alerts.
// Catalogs are JSON files named after the language code (e.g. "en.json").
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

// DefaultLang is used when a key is missing in the requested language.
const DefaultLang = "en"

//go:embed locales/*.json
var builtin embed.FS

// Localizer holds one flat key/text catalog per language.
type Localizer struct {
	mu       sync.RWMutex
	catalogs map[string]map[string]string
}

// NewLocalizer loads every JSON catalog in dir of fsys.
func NewLocalizer(fsys fs.FS, dir string) (*Localizer, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("localization: read %s: %w", dir, err)
	}

	l := &Localizer{catalogs: make(map[string]map[string]string)}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".json" {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("localization: read %s: %w", name, err)
		}
		catalog := map[string]string{}
		if err := json.Unmarshal(raw, &catalog); err != nil {
			return nil, fmt.Errorf("localization: parse %s: %w", name, err)
		}
		l.catalogs[normalize(strings.TrimSuffix(name, ".json"))] = catalog
	}
	return l, nil
}

// Builtin returns a Localizer over the catalogs compiled into the binary.
func Builtin() (*Localizer, error) {
	return NewLocalizer(builtin, "locales")
}

// normalize maps "uk-UA", "UK" and "uk_UA" to "uk".
func normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

// Has reports whether a catalog for lang is loaded.
func (l *Localizer) Has(lang string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.catalogs[normalize(lang)]
	return ok
}

// Languages lists the loaded language codes.
func (l *Localizer) Languages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	langs := make([]string, 0, len(l.catalogs))
	for lang := range l.catalogs {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// GetString returns the text for key in lang, falling back to DefaultLang
// and finally to the key itself.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, candidate := range []string{normalize(lang), DefaultLang} {
		if text, ok := l.catalogs[candidate][key]; ok {
			return text
		}
	}
	return key
}

// Format is GetString followed by fmt.Sprintf.
func (l *Localizer) Format(lang, key string, args ...interface{}) string {
	return fmt.Sprintf(l.GetString(lang, key), args...)
}
