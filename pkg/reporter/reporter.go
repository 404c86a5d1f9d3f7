// Package reporter forwards panics and server errors to Rollbar.
package reporter

import (
	"fmt"
	"net/http"
	"os"

	"github.com/rollbar/rollbar-go"
	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/pkg/config"
)

// Reporter records unexpected failures.
type Reporter interface {
	Error(r *http.Request, err error, extras map[string]interface{})
	Panic(r *http.Request, recovered interface{})
	Close()
}

// New returns a Rollbar reporter, or a no-op one when no token is configured.
func New(cfg config.RollbarConfig, version string, logger *zap.Logger) Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Token == "" {
		logger.Info("error reporting disabled")
		return Nop{}
	}
	host, _ := os.Hostname()
	client := rollbar.New(cfg.Token, cfg.Environment, version, host, "")
	logger.Info("error reporting enabled", zap.String("environment", cfg.Environment))
	return &Rollbar{client: client, logger: logger}
}

// Rollbar reports to a Rollbar project.
type Rollbar struct {
	client *rollbar.Client
	logger *zap.Logger
}

// Error reports err at error level, attaching the request when present.
func (r *Rollbar) Error(req *http.Request, err error, extras map[string]interface{}) {
	if err == nil {
		return
	}
	if req != nil {
		r.client.RequestErrorWithExtras(rollbar.ERR, req, err, extras)
		return
	}
	r.client.ErrorWithExtras(rollbar.ERR, err, extras)
}

// Panic reports a recovered panic at critical level.
func (r *Rollbar) Panic(req *http.Request, recovered interface{}) {
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", recovered)
	}
	if req != nil {
		r.client.RequestErrorWithExtras(rollbar.CRIT, req, err, nil)
		return
	}
	r.client.ErrorWithExtras(rollbar.CRIT, err, nil)
}

// Close flushes queued reports.
func (r *Rollbar) Close() {
	r.client.Wait()
	r.client.Close()
}

// Nop discards every report.
type Nop struct{}

func (Nop) Error(*http.Request, error, map[string]interface{}) {}
func (Nop) Panic(*http.Request, interface{})                   {}
func (Nop) Close()                                             {}
