package notifier

import (
	"regexp"

	"github.com/elclub/paqclub/internal/models"
)

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Render substitutes {placeholder} variables in the template body. The
// variable set is closed: a placeholder with no value fails the render
// instead of going out blank to a customer.
func Render(tmpl *models.SMSTemplate, vars map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(tmpl.Body, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		return v
	})
	if missing != "" {
		return "", &models.TemplateRenderError{TemplateID: tmpl.TemplateID, Variable: missing}
	}
	return out, nil
}
