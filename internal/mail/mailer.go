package mail

import (
	"context"
)

type Mailer struct {
	sender    Sender
	templates *TemplateRegistry
}

func NewMailer(sender Sender, templates *TemplateRegistry) *Mailer {
	return &Mailer{sender: sender, templates: templates}
}

func (m *Mailer) TemplateSend(ctx context.Context, template string, vars TemplateData, to string) error {
	email, err := m.templates.Render(template, vars)
	if err != nil {
		return err
	}

	return m.sender.Send(ctx, to, email.Subject, email.Body)
}
