package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// FallbackLang is used for keys missing from the selected locale.
const FallbackLang = "en"

type Translator struct {
	lang         string
	translations map[string]string
	fallback     map[string]string
}

// NewTranslator loads locales/<lang>.yaml from fsys. Keys missing there are
// looked up in the English file when it exists.
func NewTranslator(fsys fs.FS, lang string) (*Translator, error) {
	translations, err := readLocale(fsys, lang)
	if err != nil {
		return nil, err
	}
	t := &Translator{lang: lang, translations: translations}
	if lang != FallbackLang {
		if fb, err := readLocale(fsys, FallbackLang); err == nil {
			t.fallback = fb
		}
	}
	return t, nil
}

func readLocale(fsys fs.FS, lang string) (map[string]string, error) {
	filePath := path.Join("locales", lang+".yaml")
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	return parse(data)
}

func parse(data []byte) (map[string]string, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return translations, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	translations, err := parse(data)
	if err != nil {
		return nil, err
	}
	return &Translator{translations: translations}, nil
}

func (t *Translator) Lang() string { return t.lang }

// T formats the translation of key with args. Unknown keys come back as is.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		if format, ok = t.fallback[key]; !ok {
			return key
		}
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}
