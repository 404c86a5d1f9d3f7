// Command shadow_compare replays a list of requests against the Go API and the
// legacy backend and reports where the two disagree. It is used while login
// and account traffic is being moved off the legacy stack.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"
)

type target struct {
	Name     string          `json:"name"`
	Method   string          `json:"method"`
	Path     string          `json:"path"`
	Body     json.RawMessage `json:"body,omitempty"`
	Critical bool            `json:"critical"`
	// Ignore lists top level response keys whose values differ per call.
	Ignore []string `json:"ignore,omitempty"`
}

type targetFile struct {
	Targets []target `json:"targets"`
}

type side struct {
	Base  string
	Token string
}

type comparison struct {
	Target         target
	LegacyStatus   int
	GoStatus       int
	StatusMatch    bool
	BodyMatch      bool
	Error          error
	DurationGo     time.Duration
	DurationLegacy time.Duration
}

func (c comparison) failed() bool {
	return c.Error != nil || !c.StatusMatch || !c.BodyMatch
}

func main() {
	var (
		goSide      side
		legacySide  side
		targetsPath string
		timeout     time.Duration
	)

	flag.StringVar(&goSide.Base, "go-base", "http://localhost:8080", "Go API base URL")
	flag.StringVar(&legacySide.Base, "legacy-base", "http://localhost:8000", "Legacy API base URL")
	flag.StringVar(&goSide.Token, "go-token", os.Getenv("SHADOW_GO_TOKEN"), "Bearer token for the Go API")
	flag.StringVar(&legacySide.Token, "legacy-token", os.Getenv("SHADOW_LEGACY_TOKEN"), "Bearer token for the legacy API")
	flag.StringVar(&targetsPath, "targets", filepath.Join("scripts", "shadow_compare", "targets.json"), "Path to JSON targets file")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	targets, err := loadTargets(targetsPath)
	if err != nil {
		logger.Fatal("failed to load targets", zap.String("path", targetsPath), zap.Error(err))
	}

	client := &http.Client{Timeout: timeout}
	var breaking, optional int
	for _, t := range targets {
		comp := compareTarget(client, goSide, legacySide, t)
		report(logger, comp)
		if comp.failed() {
			if t.Critical {
				breaking++
			} else {
				optional++
			}
		}
	}

	logger.Info("shadow compare finished", zap.Int("targets", len(targets)), zap.Int("breaking", breaking), zap.Int("optional", optional))
	if breaking > 0 {
		os.Exit(1)
	}
}

func loadTargets(path string) ([]target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file targetFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}
	return file.Targets, nil
}

func compareTarget(client *http.Client, goSide, legacySide side, tgt target) comparison {
	comp := comparison{Target: tgt}
	goStatus, goBody, goDur, goErr := perform(client, goSide, tgt)
	legacyStatus, legacyBody, legacyDur, legacyErr := perform(client, legacySide, tgt)
	comp.DurationGo = goDur
	comp.DurationLegacy = legacyDur

	if goErr != nil {
		comp.Error = fmt.Errorf("go request failed: %w", goErr)
		return comp
	}
	if legacyErr != nil {
		comp.Error = fmt.Errorf("legacy request failed: %w", legacyErr)
		return comp
	}

	comp.GoStatus = goStatus
	comp.LegacyStatus = legacyStatus
	comp.StatusMatch = goStatus == legacyStatus
	comp.BodyMatch = bodiesEqual(goBody, legacyBody, tgt.Ignore)
	return comp
}

func perform(client *http.Client, s side, tgt target) (int, []byte, time.Duration, error) {
	if client == nil {
		return 0, nil, 0, errors.New("nil client")
	}
	method := strings.ToUpper(strings.TrimSpace(tgt.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := tgt.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var body io.Reader
	if len(tgt.Body) > 0 {
		body = bytes.NewReader(tgt.Body)
	}
	req, err := http.NewRequest(method, strings.TrimRight(s.Base, "/")+path, body)
	if err != nil {
		return 0, nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, data, time.Since(start), nil
}

func bodiesEqual(a, b []byte, ignore []string) bool {
	if len(ignore) == 0 && bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b)) {
		return true
	}

	var aj, bj interface{}
	if err := json.Unmarshal(a, &aj); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bj); err != nil {
		return false
	}
	for _, key := range ignore {
		drop(aj, key)
		drop(bj, key)
	}
	normalize(&aj)
	normalize(&bj)
	return reflect.DeepEqual(aj, bj)
}

func drop(v interface{}, key string) {
	if m, ok := v.(map[string]interface{}); ok {
		delete(m, key)
	}
}

func normalize(v *interface{}) {
	switch val := (*v).(type) {
	case map[string]interface{}:
		for k, v2 := range val {
			normalize(&v2)
			val[k] = v2
		}
	case []interface{}:
		for i, v2 := range val {
			normalize(&v2)
			val[i] = v2
		}
	case float64:
		if val == float64(int64(val)) {
			*v = int64(val)
		}
	}
}

func report(logger *zap.Logger, res comparison) {
	fields := []zap.Field{
		zap.String("name", res.Target.Name),
		zap.String("method", res.Target.Method),
		zap.String("path", res.Target.Path),
		zap.Int("go_status", res.GoStatus),
		zap.Int("legacy_status", res.LegacyStatus),
		zap.Duration("go_latency", res.DurationGo),
		zap.Duration("legacy_latency", res.DurationLegacy),
		zap.Bool("critical", res.Target.Critical),
	}
	switch {
	case res.Error != nil:
		logger.Error("compare error", append(fields, zap.Error(res.Error))...)
	case res.failed():
		logger.Warn("compare diff", append(fields, zap.Bool("status_match", res.StatusMatch), zap.Bool("body_match", res.BodyMatch))...)
	default:
		logger.Info("compare ok", fields...)
	}
}
