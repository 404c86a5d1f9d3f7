// Package bridge talks to the external legacy identity backends that the
// universal login delegates to.
package bridge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/pkg/config"
	"github.com/noah-isme/questplus-school-api/pkg/middleware/requestid"
)

// Platform selects which backend authenticates a login.
type Platform int

const (
	// PlatformWeb is the legacy web portal (GET with query credentials).
	PlatformWeb Platform = 0
	// PlatformUnified is the unified mobile login (POST, Basic auth, DeviceId header).
	PlatformUnified Platform = 1
	// PlatformApp is the classic mobile login (POST, Basic auth).
	PlatformApp Platform = 2
)

// String names the platform for logs and metrics.
func (p Platform) String() string {
	switch p {
	case PlatformWeb:
		return "web"
	case PlatformUnified:
		return "unified"
	case PlatformApp:
		return "app"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidPlatform is returned for selectors outside 0..2. No request is sent.
	ErrInvalidPlatform = errors.New("bridge: invalid platform")
	// ErrRejected matches any non-200 backend answer.
	ErrRejected = errors.New("bridge: rejected by backend")
)

// StatusError carries the upstream status of a rejected call.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge: backend answered %d", e.Status)
}

// Is lets errors.Is match ErrRejected.
func (e *StatusError) Is(target error) bool { return target == ErrRejected }

// ParsePlatform validates a raw selector.
func ParsePlatform(raw int) (Platform, error) {
	switch p := Platform(raw); p {
	case PlatformWeb, PlatformUnified, PlatformApp:
		return p, nil
	default:
		return 0, ErrInvalidPlatform
	}
}

// Credentials is the decrypted login forwarded to a backend.
type Credentials struct {
	Username   string
	Password   string
	DeviceID   string
	IsLogger   bool
	ModuleName string
	EventName  string
	DataID     string
}

// Result is a successful backend answer.
type Result struct {
	Platform    Platform
	Body        map[string]interface{}
	CID         string
	CIDVerified bool
}

// Client issues backend calls over a shared, verified TLS transport.
type Client struct {
	http      *http.Client
	webBase   string
	apiBase   string
	timeout   time.Duration
	verifyKey []byte
	logger    *zap.Logger
}

// NewClient builds a client from bridge configuration.
func NewClient(cfg config.BridgeConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.InsecureSkipVerify {
		logger.Warn("bridge TLS verification disabled")
	}
	c := &Client{
		http:    &http.Client{Timeout: timeout, Transport: transport},
		webBase: cfg.WebBaseURL,
		apiBase: cfg.APIBaseURL,
		timeout: timeout,
		logger:  logger,
	}
	if cfg.CIDVerifyKey != "" {
		c.verifyKey = []byte(cfg.CIDVerifyKey)
	}
	return c
}

// Authenticate forwards credentials to the backend selected by platform.
func (c *Client) Authenticate(ctx context.Context, platform Platform, creds Credentials) (*Result, error) {
	req, err := c.loginRequest(ctx, platform, creds)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req, platform)
	if err != nil {
		return nil, err
	}
	cid, verified, err := c.extractCID(platform, body)
	if err != nil {
		return nil, err
	}
	return &Result{Platform: platform, Body: body, CID: cid, CIDVerified: verified}, nil
}

// Logout ends the backend session identified by token.
func (c *Client) Logout(ctx context.Context, platform Platform, token string, meta Credentials) (map[string]interface{}, error) {
	var (
		req *http.Request
		err error
	)
	switch platform {
	case PlatformWeb:
		q := url.Values{}
		q.Set("Token", token)
		setLoggerParams(q, meta)
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.webBase+"Auth/Logout?"+q.Encode(), nil)
	case PlatformUnified, PlatformApp:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"QuestUser/Logout", nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	default:
		return nil, ErrInvalidPlatform
	}
	if err != nil {
		return nil, fmt.Errorf("bridge: build logout request: %w", err)
	}
	return c.do(req, platform)
}

func (c *Client) loginRequest(ctx context.Context, platform Platform, creds Credentials) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	switch platform {
	case PlatformWeb:
		q := url.Values{}
		q.Set("Username", creds.Username)
		q.Set("Password", creds.Password)
		setLoggerParams(q, creds)
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.webBase+"Auth/GetAuthenticateUser?"+q.Encode(), nil)
	case PlatformUnified:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"QuestUser/UserUnifiedLogin", nil)
		if err == nil {
			req.SetBasicAuth(creds.Username, creds.Password)
			if creds.DeviceID != "" {
				req.Header.Set("DeviceId", creds.DeviceID)
			}
		}
	case PlatformApp:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"QuestUser/AuthenticateUser", nil)
		if err == nil {
			req.SetBasicAuth(creds.Username, creds.Password)
		}
	default:
		return nil, ErrInvalidPlatform
	}
	if err != nil {
		return nil, fmt.Errorf("bridge: build login request: %w", err)
	}
	return req, nil
}

func setLoggerParams(q url.Values, meta Credentials) {
	q.Set("isLogger", strconv.FormatBool(meta.IsLogger))
	q.Set("moduleName", meta.ModuleName)
	q.Set("eventName", meta.EventName)
	q.Set("dataId", meta.DataID)
}

func (c *Client) do(req *http.Request, platform Platform) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(req.Context(), c.timeout)
	defer cancel()
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	if id := requestid.FromContext(req.Context()); id != "" {
		req.Header.Set(requestid.Header, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: %s call: %w", platform, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		c.logger.Warn("bridge backend rejected call",
			zap.String("platform", platform.String()),
			zap.Int("upstream_status", resp.StatusCode),
		)
		return nil, &StatusError{Status: resp.StatusCode}
	}

	var body map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("bridge: decode %s response: %w", platform, err)
	}
	return body, nil
}
