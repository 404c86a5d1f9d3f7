package reporter

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/questplus-school-api/pkg/config"
)

func TestNewWithoutTokenIsNop(t *testing.T) {
	r := New(config.RollbarConfig{}, "dev", nil)
	assert.IsType(t, Nop{}, r)

	req := httptest.NewRequest("GET", "/", nil)
	assert.NotPanics(t, func() {
		r.Error(req, errors.New("boom"), nil)
		r.Panic(req, "boom")
		r.Close()
	})
}

func TestNewWithTokenUsesRollbar(t *testing.T) {
	r := New(config.RollbarConfig{Token: "token", Environment: "test"}, "1.0.0", nil)
	_, ok := r.(*Rollbar)
	assert.True(t, ok)
}
