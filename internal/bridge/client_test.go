package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/questplus-school-api/pkg/config"
	"github.com/noah-isme/questplus-school-api/pkg/middleware/requestid"
)

type backend struct {
	server *httptest.Server
	calls  int32
	last   *http.Request
}

func newBackend(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *backend {
	t.Helper()
	b := &backend{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.calls, 1)
		b.last = r
		handler(w, r)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) client(verifyKey string) *Client {
	return NewClient(config.BridgeConfig{
		WebBaseURL:   b.server.URL + "/web/",
		APIBaseURL:   b.server.URL + "/api/",
		Timeout:      2 * time.Second,
		CIDVerifyKey: verifyKey,
	}, nil)
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func signedToken(t *testing.T, key, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{NameIdentifierClaim: subject})
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestParsePlatform(t *testing.T) {
	for _, raw := range []int{0, 1, 2} {
		p, err := ParsePlatform(raw)
		require.NoError(t, err)
		assert.Equal(t, Platform(raw), p)
	}
	for _, raw := range []int{-1, 3, 42} {
		_, err := ParsePlatform(raw)
		assert.ErrorIs(t, err, ErrInvalidPlatform)
	}
}

func TestAuthenticateInvalidPlatformSendsNothing(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) { writeJSON(w, map[string]string{}) })

	_, err := b.client("").Authenticate(context.Background(), Platform(3), Credentials{Username: "u", Password: "p"})
	assert.ErrorIs(t, err, ErrInvalidPlatform)
	assert.EqualValues(t, 0, atomic.LoadInt32(&b.calls))
}

func TestAuthenticateWebPlatform(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"userId": 991, "name": "jdoe"})
	})

	res, err := b.client("").Authenticate(context.Background(), PlatformWeb, Credentials{
		Username: "jdoe", Password: "s3cret&x", IsLogger: true, ModuleName: "login", EventName: "signin", DataID: "7",
	})
	require.NoError(t, err)
	assert.Equal(t, "991", res.CID)
	assert.False(t, res.CIDVerified)
	assert.Equal(t, http.MethodGet, b.last.Method)
	assert.Equal(t, "/web/Auth/GetAuthenticateUser", b.last.URL.Path)
	q := b.last.URL.Query()
	assert.Equal(t, "jdoe", q.Get("Username"))
	assert.Equal(t, "s3cret&x", q.Get("Password"))
	assert.Equal(t, "true", q.Get("isLogger"))
	assert.Equal(t, "7", q.Get("dataId"))
}

func TestAuthenticateUnifiedPlatformUnverifiedCID(t *testing.T) {
	token := signedToken(t, "upstream-secret", "ext-42")
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"questToken": token}})
	})

	res, err := b.client("").Authenticate(context.Background(), PlatformUnified, Credentials{Username: "jdoe", Password: "pw", DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.Equal(t, "ext-42", res.CID)
	assert.False(t, res.CIDVerified)
	assert.Equal(t, http.MethodPost, b.last.Method)
	assert.Equal(t, "/api/QuestUser/UserUnifiedLogin", b.last.URL.Path)
	assert.Equal(t, "dev-1", b.last.Header.Get("DeviceId"))
	user, pass, ok := b.last.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "jdoe", user)
	assert.Equal(t, "pw", pass)
}

func TestAuthenticateAppPlatformVerifiedCID(t *testing.T) {
	token := signedToken(t, "shared-key", "ext-7")
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"token": token})
	})

	res, err := b.client("shared-key").Authenticate(context.Background(), PlatformApp, Credentials{Username: "jdoe", Password: "pw", DeviceID: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "ext-7", res.CID)
	assert.True(t, res.CIDVerified)
	assert.Equal(t, "/api/QuestUser/AuthenticateUser", b.last.URL.Path)
	assert.Empty(t, b.last.Header.Get("DeviceId"))
}

func TestAuthenticateDropsCIDOnFailedVerification(t *testing.T) {
	token := signedToken(t, "other-key", "ext-7")
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"token": token})
	})

	res, err := b.client("shared-key").Authenticate(context.Background(), PlatformApp, Credentials{Username: "jdoe", Password: "pw"})
	require.NoError(t, err)
	assert.Empty(t, res.CID)
	assert.False(t, res.CIDVerified)
}

func TestAuthenticateMissingTokenIsMalformed(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"ok": true})
	})

	_, err := b.client("").Authenticate(context.Background(), PlatformApp, Credentials{Username: "jdoe", Password: "pw"})
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestAuthenticateRejected(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := b.client("").Authenticate(context.Background(), PlatformWeb, Credentials{Username: "jdoe", Password: "bad"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Status)
}

func TestLogoutUsesBearerForAppPlatforms(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"success": true})
	})

	body, err := b.client("").Logout(context.Background(), PlatformApp, "tok-1", Credentials{})
	require.NoError(t, err)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "/api/QuestUser/Logout", b.last.URL.Path)
	assert.Equal(t, "Bearer tok-1", b.last.Header.Get("Authorization"))
}

func TestLogoutWebPlatform(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"success": true})
	})

	ctx := requestid.WithContext(context.Background(), "req-7")
	_, err := b.client("").Logout(ctx, PlatformWeb, "tok-1", Credentials{ModuleName: "m"})
	require.NoError(t, err)
	assert.Equal(t, "/web/Auth/Logout", b.last.URL.Path)
	assert.Equal(t, "req-7", b.last.Header.Get(requestid.Header))
	assert.Equal(t, "tok-1", b.last.URL.Query().Get("Token"))
}
