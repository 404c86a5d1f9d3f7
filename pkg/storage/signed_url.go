package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken covers malformed tokens and bad signatures.
	ErrInvalidToken = errors.New("invalid download token")
	// ErrExpiredToken is returned once a token is past its expiry.
	ErrExpiredToken = errors.New("download token expired")
)

// Signer issues and checks download tokens of the form
// subject.expiry.base64(key).hmac.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner constructs a Signer. A non-positive ttl defaults to 15 minutes.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token granting access to key on behalf of subject.
func (s *Signer) Sign(subject, key string) (string, time.Time, error) {
	if subject == "" || key == "" {
		return "", time.Time{}, errors.New("subject and key are required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(key))
	token := strings.Join([]string{subject, exp, encoded, s.mac(subject, exp, encoded)}, ".")
	return token, expiresAt, nil
}

// Verify checks the signature and expiry of token.
func (s *Signer) Verify(token string) (subject, key string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 || len(s.secret) == 0 {
		return "", "", ErrInvalidToken
	}
	subject, exp, encoded, signature := parts[0], parts[1], parts[2], parts[3]
	if !hmac.Equal([]byte(s.mac(subject, exp, encoded)), []byte(signature)) {
		return "", "", ErrInvalidToken
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return "", "", ErrExpiredToken
	}
	return subject, string(raw), nil
}

func (s *Signer) mac(subject, exp, encoded string) string {
	h := hmac.New(sha256.New, s.secret)
	_, _ = h.Write([]byte(subject + "|" + exp + "|" + encoded))
	return hex.EncodeToString(h.Sum(nil))
}
