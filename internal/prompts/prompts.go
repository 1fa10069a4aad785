// Package prompts renders role-dependent task prompts from embedded YAML
// templates. Manager prompts carry the coordination protocol; associate
// prompts forbid further delegation.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templatesFS embed.FS

// Roles.
const (
	RoleManager   = "manager"
	RoleAssociate = "associate"
)

var managerTypePattern = regexp.MustCompile(`manager|lead`)

// RoleFor maps an agent type to its prompt role.
func RoleFor(agentType string) string {
	if managerTypePattern.MatchString(strings.ToLower(agentType)) {
		return RoleManager
	}
	return RoleAssociate
}

type promptFile struct {
	Role   string `yaml:"role"`
	System string `yaml:"system"`
}

// promptData is the template input.
type promptData struct {
	AgentType      string
	Specifications string
}

// Renderer holds the parsed prompt templates keyed by role.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	entries, err := fs.ReadDir(templatesFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt templates: %w", err)
	}

	r := &Renderer{templates: make(map[string]*template.Template)}
	for _, entry := range entries {
		raw, err := templatesFS.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", entry.Name(), err)
		}
		var pf promptFile
		if err := yaml.Unmarshal(raw, &pf); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", entry.Name(), err)
		}
		if pf.Role == "" || pf.System == "" {
			return nil, fmt.Errorf("template %s is missing role or system text", entry.Name())
		}
		tmpl, err := template.New(pf.Role).Parse(pf.System)
		if err != nil {
			return nil, fmt.Errorf("failed to compile template %s: %w", entry.Name(), err)
		}
		r.templates[pf.Role] = tmpl
	}

	for _, role := range []string{RoleManager, RoleAssociate} {
		if _, ok := r.templates[role]; !ok {
			return nil, fmt.Errorf("missing embedded template for role %q", role)
		}
	}
	return r, nil
}

// Render produces the full task prompt for an agent type. Specifications
// are expected to already carry the scope-constraints banner.
func (r *Renderer) Render(agentType, specifications string) (string, error) {
	role := RoleFor(agentType)
	tmpl, ok := r.templates[role]
	if !ok {
		return "", fmt.Errorf("no template for role %q", role)
	}

	var buf bytes.Buffer
	err := tmpl.Execute(&buf, promptData{AgentType: agentType, Specifications: specifications})
	if err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", role, err)
	}
	return buf.String(), nil
}
