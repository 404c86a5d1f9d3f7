// Package mailer renders the embedded role templates and delivers them
// through SendGrid, or logs them when no API key is configured.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/pkg/config"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Message is one templated email.
type Message struct {
	To       string
	ToName   string
	Template string
	Data     map[string]interface{}
}

// Mailer delivers templated messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Renderer executes the "<name>.subject" and "<name>.body" templates.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("mail").Option("missingkey=zero").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Has reports whether a template is defined.
func (r *Renderer) Has(name string) bool {
	return r.tmpl.Lookup(name+".subject") != nil && r.tmpl.Lookup(name+".body") != nil
}

// Render returns the subject and plain text body.
func (r *Renderer) Render(msg Message) (string, string, error) {
	if !r.Has(msg.Template) {
		return "", "", fmt.Errorf("unknown mail template %q", msg.Template)
	}
	var subject, body bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&subject, msg.Template+".subject", msg.Data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", msg.Template, err)
	}
	if err := r.tmpl.ExecuteTemplate(&body, msg.Template+".body", msg.Data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", msg.Template, err)
	}
	return strings.TrimSpace(subject.String()), strings.TrimSpace(body.String()) + "\n", nil
}

// New selects the SendGrid mailer when an API key is set, else the log mailer.
func New(cfg config.MailConfig, logger *zap.Logger) (Mailer, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if cfg.SendGridAPIKey == "" {
		return NewLogMailer(renderer, logger), nil
	}
	return NewSendGridMailer(cfg, renderer, logger), nil
}

// LogMailer renders messages and logs them instead of sending.
type LogMailer struct {
	renderer *Renderer
	logger   *zap.Logger

	mu   sync.Mutex
	sent []Message
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(renderer *Renderer, logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{renderer: renderer, logger: logger}
}

// Send renders msg and logs the result.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	subject, _, err := m.renderer.Render(msg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	m.logger.Info("email suppressed", zap.String("template", msg.Template), zap.String("to", msg.To), zap.String("subject", subject))
	return nil
}

// Sent returns a copy of the messages handled so far.
func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
