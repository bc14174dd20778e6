package alerts

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// LoadTemplates reads, validates and compiles the template configuration file
func LoadTemplates(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrInvalidTemplate, path, err)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes and validates templates and compiles their texts. Declared
// order is kept, it decides which template wins.
func ParseTemplates(data []byte) ([]Template, error) {
	var file TemplateFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	if err := newValidator().Struct(file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	for i := range file.Templates {
		if err := file.Templates[i].compile(i); err != nil {
			return nil, err
		}
	}

	return file.Templates, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("gtfs_cause", func(fl validator.FieldLevel) bool {
		_, ok := gtfs.Alert_Cause_value[fl.Field().String()]
		return ok
	})
	_ = v.RegisterValidation("gtfs_effect", func(fl validator.FieldLevel) bool {
		_, ok := gtfs.Alert_Effect_value[fl.Field().String()]
		return ok
	})
	return v
}

// DisplayName identifies the template in logs
func (t *Template) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("%s/%s", t.Cause, t.Effect)
}

func (t *Template) compile(index int) error {
	t.compiled = make(map[textField]map[string]*template.Template)

	fields := map[textField]map[string]string{
		fieldURL:         t.URL,
		fieldHeader:      t.Header,
		fieldDescription: t.Description,
	}
	for field, texts := range fields {
		if len(texts) == 0 {
			continue
		}
		t.compiled[field] = make(map[string]*template.Template, len(texts))
		for lang, text := range texts {
			name := fmt.Sprintf("templates[%d].%s.%s", index, field, lang)
			tmpl, err := template.New(name).Funcs(funcMap).Option("missingkey=zero").Parse(text)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
			}
			t.compiled[field][lang] = tmpl
		}
	}
	return nil
}

// render executes every language of a field, languages in sorted order
func (t *Template) render(field textField, data RenderContext) (TranslatedString, error) {
	if t.compiled == nil {
		if err := t.compile(0); err != nil {
			return TranslatedString{}, err
		}
	}

	result := TranslatedString{Translation: []Translation{}}

	texts := t.compiled[field]
	langs := make([]string, 0, len(texts))
	for lang := range texts {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	for _, lang := range langs {
		var buf bytes.Buffer
		if err := texts[lang].Execute(&buf, data); err != nil {
			return TranslatedString{}, fmt.Errorf("failed to render %s: %w", texts[lang].Name(), err)
		}
		result.Translation = append(result.Translation, Translation{
			Language: lang,
			Text:     stripNewlines(buf.String()),
		})
	}
	return result, nil
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
