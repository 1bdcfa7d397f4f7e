// Package templ renders the small text templates used for artifact names.
package templ

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/rs/zerolog/log"
)

const option = "missingkey=error"

// Renderer parses and executes Go templates, caching parsed templates by content.
type Renderer struct {
	cache sync.Map // map[string]*template.Template
}

// NewRenderer creates a new Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render executes content with data and returns the trimmed result.
// An empty result is an error, as it can never name anything.
func (r *Renderer) Render(content string, data any) (string, error) {
	tmpl, err := r.getTemplate(content)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %q: %w", content, err)
	}
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return "", fmt.Errorf("template %q rendered to an empty string", content)
	}

	log.Trace().Str("template", content).Str("result", out).Msg("rendered template")
	return out, nil
}

func (r *Renderer) getTemplate(content string) (*template.Template, error) {
	if cached, ok := r.cache.Load(content); ok {
		return cached.(*template.Template), nil
	}

	tmpl, err := template.New("azrelay").
		Option(option).
		Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}

	r.cache.Store(content, tmpl)
	return tmpl, nil
}
