package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/pkg/config"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

// SendGridMailer delivers messages through the SendGrid v3 API.
type SendGridMailer struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
	renderer   *Renderer
	logger     *zap.Logger
}

// NewSendGridMailer constructs a SendGridMailer.
func NewSendGridMailer(cfg config.MailConfig, renderer *Renderer, logger *zap.Logger) *SendGridMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := ""
	if cfg.FromName != "" {
		prefix = "[" + cfg.FromName + "] "
	}
	return &SendGridMailer{
		key:        cfg.SendGridAPIKey,
		host:       sendGridHost,
		from:       sgmail.NewEmail(cfg.FromName, cfg.FromAddress),
		subjPrefix: prefix,
		renderer:   renderer,
		logger:     logger,
	}
}

func (m *SendGridMailer) prepare(msg Message) (*sgmail.SGMailV3, error) {
	subject, body, err := m.renderer.Render(msg)
	if err != nil {
		return nil, err
	}
	p := sgmail.NewPersonalization()
	p.Subject = m.subjPrefix + subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.To))

	mail := sgmail.NewV3Mail()
	mail.SetFrom(m.from)
	mail.AddPersonalizations(p)
	mail.AddContent(sgmail.NewContent("text/plain", body))
	return mail, nil
}

// Send renders and delivers msg. A 4xx or 5xx answer is an error.
func (m *SendGridMailer) Send(_ context.Context, msg Message) error {
	mail, err := m.prepare(msg)
	if err != nil {
		return err
	}
	req := sendgrid.GetRequest(m.key, sendGridEndpoint, m.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(mail)

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("send %s email: %w", msg.Template, err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		m.logger.Error("sendgrid rejected email",
			zap.String("template", msg.Template),
			zap.Int("status", res.StatusCode),
			zap.String("body", res.Body))
		return fmt.Errorf("send %s email: sendgrid status %d", msg.Template, res.StatusCode)
	}
	return nil
}
