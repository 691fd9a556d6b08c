// internal/templates/registry.go

// Package templates holds the transactional email templates. Assets are
// compiled into the binary; callers select them by registry name only,
// never by path.
package templates

import (
	"embed"

	"github.com/cbroglie/mustache"

	"poppins-pipeline/internal/common/errors"
)

//go:embed assets/*.html
var assets embed.FS

// DefaultTemplate is used when the requested name is unknown.
const DefaultTemplate = "parent-invitation"

// registry is the fixed name -> asset mapping.
var registry = map[string]string{
	"parent-invitation": "assets/parent-invitation.html",
	"child-history":     "assets/child-history.html",
}

// Registry resolves template names and renders them with logic-less
// substitution: {{var}} interpolates HTML-escaped, {{{var}}} raw, and
// sections iterate or test truthiness. No code execution.
type Registry struct {
	compiled map[string]*mustache.Template
}

func NewRegistry() (*Registry, error) {
	compiled := make(map[string]*mustache.Template, len(registry))
	for name, path := range registry {
		source, err := assets.ReadFile(path)
		if err != nil {
			return nil, errors.NewTemplateNotFoundError(name)
		}
		tmpl, err := mustache.ParseString(string(source))
		if err != nil {
			return nil, errors.NewRenderError(name, err)
		}
		compiled[name] = tmpl
	}
	return &Registry{compiled: compiled}, nil
}

// Resolve returns the template for name, falling back to the default
// for unknown or empty names. The second return reports whether the
// requested name was found as-is.
func (r *Registry) Resolve(name string) (*mustache.Template, bool) {
	if tmpl, ok := r.compiled[name]; ok {
		return tmpl, true
	}
	return r.compiled[DefaultTemplate], false
}

// Render renders the named template (with fallback) against data.
func (r *Registry) Render(name string, data map[string]interface{}) (string, error) {
	tmpl, _ := r.Resolve(name)
	out, err := tmpl.Render(data)
	if err != nil {
		return "", errors.NewRenderError(name, err)
	}
	return out, nil
}

// Names lists the registered template names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.compiled))
	for name := range r.compiled {
		names = append(names, name)
	}
	return names
}
