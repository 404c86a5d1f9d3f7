package mailer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/questplus-school-api/pkg/config"
)

func TestRendererKnowsRoleTemplates(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	for _, name := range []string{
		"admin_welcome", "teacher_welcome", "student_welcome",
		"admin_forgot_password", "teacher_forgot_password", "student_forgot_password", "default_forgot_password",
	} {
		assert.True(t, r.Has(name), name)
	}
	assert.False(t, r.Has("parent_welcome"))
}

func TestRenderTeacherWelcome(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	subject, body, err := r.Render(Message{Template: "teacher_welcome", Data: map[string]interface{}{
		"Name":     "Asha Rao",
		"Username": "F004",
		"Password": "s3cret-pass",
		"LoginURL": "https://school.example.com",
		"Groups":   []string{"5 - A", "5 - B"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Welcome to QuestPlus", subject)
	assert.Contains(t, body, "Username: F004")
	assert.Contains(t, body, "  - 5 - B")
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	_, _, err = r.Render(Message{Template: "nope"})
	assert.Error(t, err)
}

func TestNewPicksLogMailerWithoutKey(t *testing.T) {
	m, err := New(config.MailConfig{}, nil)
	require.NoError(t, err)
	logMailer, ok := m.(*LogMailer)
	require.True(t, ok)

	require.NoError(t, logMailer.Send(context.Background(), Message{To: "a@example.com", Template: "default_forgot_password"}))
	assert.Len(t, logMailer.Sent(), 1)
}

func TestSendGridMailerPostsV3Mail(t *testing.T) {
	var payload map[string]interface{}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	r, err := NewRenderer()
	require.NoError(t, err)
	m := NewSendGridMailer(config.MailConfig{SendGridAPIKey: "key", FromAddress: "no-reply@example.com", FromName: "QuestPlus"}, r, nil)
	m.host = srv.URL

	err = m.Send(context.Background(), Message{To: "s@example.com", ToName: "S", Template: "student_welcome", Data: map[string]interface{}{"Username": "L3G5"}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer key", auth)
	personalizations, ok := payload["personalizations"].([]interface{})
	require.True(t, ok)
	first := personalizations[0].(map[string]interface{})
	assert.Equal(t, "[QuestPlus] Welcome to QuestPlus", first["subject"])
}

func TestSendGridMailerReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad"}]}`))
	}))
	defer srv.Close()

	r, err := NewRenderer()
	require.NoError(t, err)
	m := NewSendGridMailer(config.MailConfig{SendGridAPIKey: "key"}, r, nil)
	m.host = srv.URL

	err = m.Send(context.Background(), Message{To: "s@example.com", Template: "default_forgot_password"})
	assert.Error(t, err)
}
