// Package message provides the reply templates used by the FTP translator.
//
// English templates are built in. A directory may add or override templates:
// messages.yaml applies to the default language and messages_<lang>.yaml to
// the named language. Each file is a flat YAML map from "code" or
// "code.subID" to a template.
package message

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/marmos91/dittoftp/internal/logger"
	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when no language is configured.
const DefaultLanguage = "en"

//go:embed messages_en.yaml
var builtin []byte

// Config selects the override directory and default language.
type Config struct {
	// Directory holds optional messages*.yaml files. Empty means built-in
	// templates only.
	Directory string `mapstructure:"directory" yaml:"directory"`

	// DefaultLanguage is served to sessions that never sent LANG.
	DefaultLanguage string `mapstructure:"default_language" yaml:"default_language"`
}

// Resource holds templates per language. It is read-only once loaded.
type Resource struct {
	defaultLang string
	catalogs    map[string]map[string]string
}

// New loads the built-in templates plus any overrides from cfg.Directory.
func New(cfg Config) (*Resource, error) {
	lang := strings.ToLower(cfg.DefaultLanguage)
	if lang == "" {
		lang = DefaultLanguage
	}

	r := &Resource{defaultLang: lang, catalogs: make(map[string]map[string]string)}

	if err := r.merge(DefaultLanguage, builtin); err != nil {
		return nil, fmt.Errorf("built-in messages: %w", err)
	}

	if cfg.Directory == "" {
		return r, nil
	}

	entries, err := os.ReadDir(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("read messages directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fileLang, ok := languageOf(e.Name(), lang)
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(cfg.Directory, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		if err := r.merge(fileLang, data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		logger.Debug("Loaded messages for %q from %s", fileLang, e.Name())
	}
	return r, nil
}

// languageOf maps messages.yaml to def and messages_<lang>.yaml to lang.
func languageOf(name, def string) (string, bool) {
	ext := filepath.Ext(name)
	if ext != ".yaml" && ext != ".yml" {
		return "", false
	}
	base := strings.TrimSuffix(name, ext)
	if base == "messages" {
		return def, true
	}
	lang, ok := strings.CutPrefix(base, "messages_")
	if !ok || lang == "" {
		return "", false
	}
	return strings.ToLower(lang), true
}

func (r *Resource) merge(lang string, data []byte) error {
	var raw map[string]string
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		// An empty file decodes to io.EOF.
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		return err
	}

	catalog := r.catalogs[lang]
	if catalog == nil {
		catalog = make(map[string]string, len(raw))
		r.catalogs[lang] = catalog
	}
	for k, v := range raw {
		catalog[strings.TrimSpace(k)] = v
	}
	return nil
}

// Message implements ftp.MessageResource. Lookups in lang fall back to the
// default language.
func (r *Resource) Message(code int, subID, lang string) (string, bool) {
	key := strconv.Itoa(code)
	if subID != "" {
		key += "." + subID
	}

	if lang != "" {
		if v, ok := r.catalogs[strings.ToLower(lang)][key]; ok {
			return v, true
		}
	}
	v, ok := r.catalogs[r.defaultLang][key]
	if !ok && r.defaultLang != DefaultLanguage {
		v, ok = r.catalogs[DefaultLanguage][key]
	}
	return v, ok
}

// Languages implements ftp.MessageResource.
func (r *Resource) Languages() []string {
	langs := make([]string, 0, len(r.catalogs))
	for l := range r.catalogs {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Default returns the language used before LANG.
func (r *Resource) Default() string {
	return r.defaultLang
}
