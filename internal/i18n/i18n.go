// Package i18n resolves localized bot messages from YAML catalogs.
package i18n

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Translator resolves localized strings using dot-separated keys.
type Translator interface {
	T(key string) string
	Tf(key string, args ...interface{}) string
	Lang() string
}

// Manager stores all loaded translations.
type Manager struct {
	translations map[string]map[string]string
	defaultLang  string
}

// LoadFromDir loads every YAML catalog in dir. Each file maps a language
// code to a nested tree of message strings; nesting flattens to dotted keys.
func LoadFromDir(dir, defaultLang string) (*Manager, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("i18n: read dir %s: %w", dir, err)
	}

	catalog := make(map[string]map[string]string)

	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		fileCatalog, err := parseFile(path)
		if err != nil {
			return nil, err
		}

		for lang, translations := range fileCatalog {
			if catalog[lang] == nil {
				catalog[lang] = make(map[string]string)
			}
			for key, value := range translations {
				catalog[lang][key] = value
			}
		}
	}

	if len(catalog) == 0 {
		return nil, fmt.Errorf("i18n: no yaml catalogs found in %s", dir)
	}

	if defaultLang == "" {
		defaultLang = "ru"
	}
	if catalog[defaultLang] == nil {
		return nil, fmt.Errorf("i18n: default language %q is missing", defaultLang)
	}

	return &Manager{translations: catalog, defaultLang: defaultLang}, nil
}

// Translator returns a translator for the requested language, falling back
// to the default language for unknown codes and missing keys.
func (m *Manager) Translator(lang string) Translator {
	if m == nil {
		return translator{}
	}

	norm := strings.ToLower(strings.TrimSpace(lang))
	if norm == "" || m.translations[norm] == nil {
		norm = m.defaultLang
	}

	return translator{
		lang:         norm,
		fallback:     m.defaultLang,
		translations: m.translations,
	}
}

// Languages returns all loaded language codes.
func (m *Manager) Languages() []string {
	if m == nil {
		return nil
	}

	languages := make([]string, 0, len(m.translations))
	for lang := range m.translations {
		languages = append(languages, lang)
	}
	return languages
}

type translator struct {
	lang         string
	fallback     string
	translations map[string]map[string]string
}

func (t translator) Lang() string {
	return t.lang
}

// T returns the message for key, or the key itself when untranslated.
func (t translator) T(key string) string {
	if value := t.lookup(t.lang, key); value != "" {
		return value
	}
	if value := t.lookup(t.fallback, key); value != "" {
		return value
	}
	return key
}

// Tf formats the message for key with fmt verbs.
func (t translator) Tf(key string, args ...interface{}) string {
	return fmt.Sprintf(t.T(key), args...)
}

func (t translator) lookup(lang, key string) string {
	if t.translations == nil {
		return ""
	}
	return t.translations[lang][key]
}

func parseFile(path string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("i18n: read file %s: %w", path, err)
	}

	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("i18n: parse file %s: %w", path, err)
	}

	catalog := make(map[string]map[string]string)
	for lang, tree := range raw {
		langKey := strings.ToLower(strings.TrimSpace(lang))
		if langKey == "" || len(tree) == 0 {
			continue
		}

		flattened := make(map[string]string)
		flatten("", tree, flattened)
		if len(flattened) > 0 {
			catalog[langKey] = flattened
		}
	}

	return catalog, nil
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for key, value := range in {
		if key == "" {
			continue
		}

		nextKey := key
		if prefix != "" {
			nextKey = prefix + "." + key
		}

		switch v := value.(type) {
		case string:
			out[nextKey] = v
		case map[string]any:
			flatten(nextKey, v, out)
		}
	}
}
