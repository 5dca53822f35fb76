// Package i18n serves the bot texts from YAML catalogs keyed by language.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultLang is the language of the original audience.
const DefaultLang = "tr"

//go:embed locales/*.yaml
var embedded embed.FS

// Translator resolves localized strings using dot-separated keys.
type Translator interface {
	T(key string) string
	Tf(key string, args ...any) string
	Lang() string
}

// catalog maps a language to its flattened "section.key" texts.
type catalog map[string]map[string]string

// Manager stores all available translations.
type Manager struct {
	translations catalog
	defaultLang  string
}

// Load loads the catalogs compiled into the binary.
func Load(defaultLang string) (*Manager, error) {
	return LoadFS(embedded, "locales", defaultLang)
}

// LoadFS loads every .yaml/.yml file under dir in fsys. Each file holds one or
// more top-level language sections; later files override earlier keys.
func LoadFS(fsys fs.FS, dir, defaultLang string) (*Manager, error) {
	if defaultLang == "" {
		defaultLang = DefaultLang
	}

	names, err := fs.Glob(fsys, path.Join(dir, "*.y*ml"))
	if err != nil {
		return nil, fmt.Errorf("i18n: list %s: %w", dir, err)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("i18n: no yaml files found in %s", dir)
	}

	all := make(catalog)
	for _, name := range names {
		if err := all.load(fsys, name); err != nil {
			return nil, err
		}
	}

	if len(all[defaultLang]) == 0 {
		return nil, fmt.Errorf("i18n: default language %q is missing", defaultLang)
	}

	return &Manager{translations: all, defaultLang: defaultLang}, nil
}

// Translator returns a translator for a Telegram language code such as
// "en-US". Unknown languages get the default one.
func (m *Manager) Translator(lang string) Translator {
	if m == nil {
		return translator{}
	}

	code, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(lang)), "-")
	code, _, _ = strings.Cut(code, "_")
	if _, ok := m.translations[code]; !ok {
		code = m.defaultLang
	}

	return translator{
		primary:  m.translations[code],
		fallback: m.translations[m.defaultLang],
		lang:     code,
	}
}

// Languages returns the loaded language codes in sorted order.
func (m *Manager) Languages() []string {
	if m == nil {
		return nil
	}

	langs := make([]string, 0, len(m.translations))
	for lang := range m.translations {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

type translator struct {
	primary  map[string]string
	fallback map[string]string
	lang     string
}

func (t translator) Lang() string { return t.lang }

// T returns the text for key, falling back to the default language and then
// to the key itself.
func (t translator) T(key string) string {
	if text, ok := t.primary[key]; ok {
		return text
	}
	if text, ok := t.fallback[key]; ok {
		return text
	}
	return key
}

func (t translator) Tf(key string, args ...any) string {
	return fmt.Sprintf(t.T(key), args...)
}

func (c catalog) load(fsys fs.FS, name string) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("i18n: read file %s: %w", name, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("i18n: parse file %s: %w", name, err)
	}
	if len(doc.Content) == 0 {
		return nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("i18n: %s: top level must map languages to texts", name)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		lang := strings.ToLower(strings.TrimSpace(root.Content[i].Value))
		if lang == "" {
			continue
		}
		if c[lang] == nil {
			c[lang] = make(map[string]string)
		}
		if err := flatten(root.Content[i+1], "", c[lang]); err != nil {
			return fmt.Errorf("i18n: %s: %w", name, err)
		}
	}

	return nil
}

func flatten(node *yaml.Node, prefix string, out map[string]string) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if prefix == "" {
			return fmt.Errorf("line %d: text outside of a key", node.Line)
		}
		out[prefix] = node.Value
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if prefix != "" {
				key = prefix + "." + key
			}
			if err := flatten(node.Content[i+1], key, out); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("line %d: unsupported value for %q", node.Line, prefix)
	}
	return nil
}
