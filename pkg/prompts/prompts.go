package prompts

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

// Render executes a template with the sprig function set. Prompt templates
// are compiled per call; they are small and rendered rarely.
func Render(name, tmpl string, data interface{}) (string, error) {
	t, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return "", errors.Wrapf(err, "parse template %s", name)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", errors.Wrapf(err, "render template %s", name)
	}
	return sb.String(), nil
}

// MustRender panics on template errors; reserved for compiled-in templates
// that are exercised by tests.
func MustRender(name, tmpl string, data interface{}) string {
	out, err := Render(name, tmpl, data)
	if err != nil {
		panic(err)
	}
	return out
}
