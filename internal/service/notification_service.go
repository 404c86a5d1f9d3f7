package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/pkg/mailer"
)

// NotificationService sends the welcome and password reset emails. Delivery
// failures are logged and never fail the calling operation.
type NotificationService struct {
	mailer   mailer.Mailer
	loginURL string
	logger   *zap.Logger
}

// NewNotificationService constructs a NotificationService. A nil mailer
// disables delivery.
func NewNotificationService(m mailer.Mailer, loginURL string, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{mailer: m, loginURL: loginURL, logger: logger}
}

// WelcomeTemplate names the welcome template for a role.
func WelcomeTemplate(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return "admin_welcome"
	case models.RoleTeacher:
		return "teacher_welcome"
	case models.RoleLearner:
		return "student_welcome"
	default:
		return ""
	}
}

// ForgotPasswordTemplate names the reset template for a role.
func ForgotPasswordTemplate(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return "admin_forgot_password"
	case models.RoleTeacher:
		return "teacher_forgot_password"
	case models.RoleLearner:
		return "student_forgot_password"
	default:
		return "default_forgot_password"
	}
}

// Welcome greets a freshly provisioned account. password may be empty when
// the user chose it.
func (s *NotificationService) Welcome(ctx context.Context, account models.UserAccount, password string, extra map[string]interface{}) {
	name := WelcomeTemplate(account.Role)
	if name == "" {
		return
	}
	data := map[string]interface{}{
		"Name":     account.FullName(),
		"Username": account.Username,
		"Email":    account.Email,
		"Password": password,
		"LoginURL": s.loginURL,
	}
	for k, v := range extra {
		data[k] = v
	}
	s.send(ctx, mailer.Message{To: account.Email, ToName: account.FullName(), Template: name, Data: data})
}

// PasswordReset mails a reset link.
func (s *NotificationService) PasswordReset(ctx context.Context, account models.UserAccount, resetURL, expiresIn string) {
	s.send(ctx, mailer.Message{
		To:       account.Email,
		ToName:   account.FullName(),
		Template: ForgotPasswordTemplate(account.Role),
		Data: map[string]interface{}{
			"Name":      account.FullName(),
			"Username":  account.Username,
			"ResetURL":  resetURL,
			"ExpiresIn": expiresIn,
		},
	})
}

func (s *NotificationService) send(ctx context.Context, msg mailer.Message) {
	if s == nil || s.mailer == nil || msg.To == "" {
		return
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("email delivery failed", zap.String("template", msg.Template), zap.String("to", msg.To), zap.Error(err))
	}
}
