// Package mailer sends HTML email over SMTP.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"taskflow/config"
	"taskflow/logger"
	"taskflow/metrics"

	"gopkg.in/gomail.v2"
)

//go:embed templates/*.html
var templateFS embed.FS

// Template names.
const (
	TemplateWelcome        = "welcome.html"
	TemplateTeamInvitation = "team_invitation.html"
	TemplateTaskAssigned   = "task_assigned.html"
	TemplateEventReminder  = "event_reminder.html"
	TemplateTaskOverdue    = "task_overdue.html"
)

type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Mailer struct {
	sender    sender
	from      string
	host      string
	port      int
	templates *template.Template
	log       *logger.Logger
}

func New(cfg *config.Config, log *logger.Logger) (*Mailer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}

	m := &Mailer{
		from:      cfg.SMTPFrom,
		host:      cfg.SMTPHost,
		port:      cfg.SMTPPort,
		templates: tmpl,
		log:       log,
	}
	if cfg.SMTPHost != "" {
		m.sender = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	return m, nil
}

// Enabled reports whether an SMTP host is configured.
func (m *Mailer) Enabled() bool {
	return m.sender != nil
}

func (m *Mailer) Send(ctx context.Context, msg Message) error {
	log := m.log.WithContext(ctx)

	if !m.Enabled() {
		log.Debug("SMTP not configured, skipping email", "to", msg.To, "subject", msg.Subject)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetDateHeader("Date", time.Now())
	if msg.Text != "" {
		gm.SetBody("text/plain", msg.Text)
		if msg.HTML != "" {
			gm.AddAlternative("text/html", msg.HTML)
		}
	} else {
		gm.SetBody("text/html", msg.HTML)
	}

	err := m.sender.DialAndSend(gm)
	metrics.RecordEmail(err)
	if err != nil {
		log.Error("Failed to send email",
			"to", msg.To,
			"subject", msg.Subject,
			"smtp_host", m.host,
			"smtp_port", m.port,
			"error", err,
		)
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}

	log.Info("Email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Render executes the named template.
func (m *Mailer) Render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := m.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (m *Mailer) SendTemplate(ctx context.Context, to, subject, name string, data interface{}) error {
	html, err := m.Render(name, data)
	if err != nil {
		return err
	}
	return m.Send(ctx, Message{To: to, Subject: subject, HTML: html})
}
