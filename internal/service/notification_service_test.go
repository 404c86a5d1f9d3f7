package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/questplus-school-api/internal/models"
)

func notificationAccount(role models.Role) models.UserAccount {
	return models.UserAccount{
		Identity: models.Identity{ID: "u1", Username: "F001", Email: "tara@school.example"},
		Profile:  models.Profile{IdentityID: "u1", Role: role, FirstName: "Tara", LastName: "Singh"},
	}
}

func TestTemplatesByRole(t *testing.T) {
	assert.Equal(t, "admin_welcome", WelcomeTemplate(models.RoleAdmin))
	assert.Equal(t, "student_welcome", WelcomeTemplate(models.RoleLearner))
	assert.Empty(t, WelcomeTemplate(models.Role("Parent")))
	assert.Equal(t, "student_forgot_password", ForgotPasswordTemplate(models.RoleLearner))
	assert.Equal(t, "default_forgot_password", ForgotPasswordTemplate(models.Role("Parent")))
}

func TestNotificationServiceWelcome(t *testing.T) {
	mail := &recordingMailer{}
	svc := NewNotificationService(mail, "https://school.example/login", nil)

	svc.Welcome(context.Background(), notificationAccount(models.RoleTeacher), "temp-pass", map[string]interface{}{"Groups": "5 - A"})
	require.Len(t, mail.sent, 1)
	msg := mail.sent[0]
	assert.Equal(t, "tara@school.example", msg.To)
	assert.Equal(t, "Tara Singh", msg.ToName)
	assert.Equal(t, "teacher_welcome", msg.Template)
	assert.Equal(t, "temp-pass", msg.Data["Password"])
	assert.Equal(t, "https://school.example/login", msg.Data["LoginURL"])
	assert.Equal(t, "5 - A", msg.Data["Groups"])

	svc.Welcome(context.Background(), notificationAccount(models.Role("Parent")), "", nil)
	assert.Len(t, mail.sent, 1)
}

func TestNotificationServiceSwallowsDeliveryErrors(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	mail := &recordingMailer{err: errors.New("sendgrid down")}
	svc := NewNotificationService(mail, "", zap.New(core))

	svc.PasswordReset(context.Background(), notificationAccount(models.RoleAdmin), "https://school.example/reset?token=x", "24h0m0s")
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "admin_forgot_password", mail.sent[0].Template)
	assert.Equal(t, 1, logs.FilterMessage("email delivery failed").Len())
}

func TestNotificationServiceWithoutMailer(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNotificationService(nil, "", nil).PasswordReset(context.Background(), notificationAccount(models.RoleAdmin), "link", "1h")
	})
}
