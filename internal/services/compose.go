package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/tbourn/go-reminder-agent/internal/domain"
)

// Composer turns a template body and variables into message text.
type Composer interface {
	Compose(ctx context.Context, body string, vars map[string]string) (string, error)
}

// TemplateComposer substitutes {{name}} placeholders. Unknown placeholders
// are kept verbatim so a typo in a template is visible in the message log.
type TemplateComposer struct{}

var placeholderRE = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

func (TemplateComposer) Compose(_ context.Context, body string, vars map[string]string) (string, error) {
	out := placeholderRE.ReplaceAllStringFunc(body, func(m string) string {
		name := placeholderRE.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyMessage
	}
	return out, nil
}

// messageVars builds the placeholder set for a client and an optional
// appointment. Dates are rendered in UTC.
func messageVars(c *domain.Client, a *domain.Appointment) map[string]string {
	vars := map[string]string{
		"first_name": c.FirstName,
		"last_name":  c.LastName,
	}
	if a != nil {
		at := a.StartsAt.UTC()
		vars["service"] = a.Service
		vars["date"] = at.Format("02/01/2006")
		vars["time"] = at.Format("15:04")
	}
	return vars
}

// jsonVars converts vars for the log's JSON column.
func jsonVars(vars map[string]string) map[string]any {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
