package mail

import (
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"strings"
	"text/template"
)

const (
	TplVerifyEmail       = "verify_email"
	TplAlreadyRegistered = "already_registered"
	TplPasswordReset     = "password_reset"
)

const (
	subjectSuffix = "_subject.tpl"
	bodySuffix    = "_body.tpl"
)

//go:embed templates/*.tpl
var templateFS embed.FS

var ErrTemplateNotFound = errors.New("template not found")

type TemplateData = map[string]any

type emailTemplate struct {
	subject *template.Template
	body    *htmltemplate.Template
}

// TemplateRegistry holds subject/body pairs loaded from templates/. A pair is
// named after its files: <name>_subject.tpl and <name>_body.tpl.
type TemplateRegistry struct {
	templates map[string]emailTemplate
}

func NewTemplateRegistry() (*TemplateRegistry, error) {
	tr := &TemplateRegistry{templates: make(map[string]emailTemplate)}
	if err := tr.load(templateFS); err != nil {
		return nil, err
	}
	return tr, nil
}

func (tr *TemplateRegistry) load(fsys fs.FS) error {
	subjects, err := fs.Glob(fsys, "templates/*"+subjectSuffix)
	if err != nil {
		return fmt.Errorf("glob templates: %w", err)
	}

	for _, subjectPath := range subjects {
		name := strings.TrimSuffix(strings.TrimPrefix(subjectPath, "templates/"), subjectSuffix)

		subjectContent, err := fs.ReadFile(fsys, subjectPath)
		if err != nil {
			return fmt.Errorf("read template %s: %w", subjectPath, err)
		}
		subject, err := template.New(name).Parse(strings.TrimSpace(string(subjectContent)))
		if err != nil {
			return fmt.Errorf("parse template %s: %w", subjectPath, err)
		}

		bodyPath := "templates/" + name + bodySuffix
		bodyContent, err := fs.ReadFile(fsys, bodyPath)
		if err != nil {
			return fmt.Errorf("read template %s: %w", bodyPath, err)
		}
		body, err := htmltemplate.New(name).Parse(string(bodyContent))
		if err != nil {
			return fmt.Errorf("parse template %s: %w", bodyPath, err)
		}

		tr.templates[name] = emailTemplate{subject: subject, body: body}
	}

	return nil
}

func (tr *TemplateRegistry) Render(name string, vars TemplateData) (*Email, error) {
	tmpl, ok := tr.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	var subject strings.Builder
	if err := tmpl.subject.Execute(&subject, vars); err != nil {
		return nil, fmt.Errorf("render subject %s: %w", name, err)
	}

	var body strings.Builder
	if err := tmpl.body.Execute(&body, vars); err != nil {
		return nil, fmt.Errorf("render body %s: %w", name, err)
	}

	return &Email{Subject: subject.String(), Body: body.String()}, nil
}
