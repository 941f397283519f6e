// Package template renders email subject and body templates by substituting
// {{variable}} tokens. Rendering is total: missing variables become empty
// strings and no input can make it fail.
package template

import (
	"fmt"
	"regexp"

	"github.com/dukex/mailflow/pkg/models"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Render substitutes variables into subject and body independently. Values
// are stringified with their default formatting; HTML is not escaped because
// bodies are authored as HTML.
func Render(tpl models.EmailContent, vars map[string]any) models.EmailContent {
	return models.EmailContent{
		Subject: RenderString(tpl.Subject, vars),
		Body:    RenderString(tpl.Body, vars),
	}
}

// RenderString substitutes every {{identifier}} token in s.
func RenderString(s string, vars map[string]any) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]

		value, ok := vars[name]
		if !ok || value == nil {
			return ""
		}

		return fmt.Sprintf("%v", value)
	})
}
