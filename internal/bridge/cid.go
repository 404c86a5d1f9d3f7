package bridge

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// NameIdentifierClaim holds the external user id inside backend tokens.
const NameIdentifierClaim = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"

// ErrMalformedToken is returned when a backend answer lacks a usable token.
var ErrMalformedToken = errors.New("bridge: malformed backend token")

// extractCID reads the correlation id from a backend answer. Platform 0
// exposes it directly; platforms 1 and 2 nest it inside a JWT.
func (c *Client) extractCID(platform Platform, body map[string]interface{}) (string, bool, error) {
	switch platform {
	case PlatformWeb:
		return scalarString(body["userId"]), false, nil
	case PlatformUnified:
		data, _ := body["data"].(map[string]interface{})
		token, _ := data["questToken"].(string)
		return c.cidFromToken(platform, token)
	case PlatformApp:
		token, _ := body["token"].(string)
		return c.cidFromToken(platform, token)
	default:
		return "", false, ErrInvalidPlatform
	}
}

func (c *Client) cidFromToken(platform Platform, raw string) (string, bool, error) {
	if raw == "" {
		return "", false, ErrMalformedToken
	}
	if c.verifyKey != nil {
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return c.verifyKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			c.logger.Warn("bridge token failed verification, dropping correlation id",
				zap.String("platform", platform.String()),
				zap.Error(err),
			)
			return "", false, nil
		}
		return scalarString(claims[NameIdentifierClaim]), true, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return scalarString(claims[NameIdentifierClaim]), false, nil
}

func scalarString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
