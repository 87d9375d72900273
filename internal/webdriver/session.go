// Package webdriver is the small part of the W3C WebDriver protocol the
// IPC fallback channel needs: running scripts in an existing session.
package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tomyan/wdio-electron/internal/log"
)

// Error is a WebDriver error response.
type Error struct {
	Status  int
	Code    string // e.g. "javascript error", "no such window"
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("webdriver: %s (%d): %s", e.Code, e.Status, e.Message)
}

// Session addresses one WebDriver session on a remote end such as
// chromedriver.
type Session struct {
	baseURL string
	id      string
	client  *http.Client
	logger  *log.Logger
}

// NewSession returns a handle to session id on the remote end at baseURL,
// e.g. http://localhost:9515.
func NewSession(baseURL, id string, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Session{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		id:      id,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Execute runs a synchronous script and returns its JSON value.
func (s *Session) Execute(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	return s.execute(ctx, "sync", script, args)
}

// ExecuteAsync runs an asynchronous script; the script calls the last
// argument to complete.
func (s *Session) ExecuteAsync(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	return s.execute(ctx, "async", script, args)
}

func (s *Session) execute(ctx context.Context, mode, script string, args []any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(map[string]any{"script": script, "args": args})
	if err != nil {
		return nil, fmt.Errorf("encoding script request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/session/%s/execute/%s", s.baseURL, url.PathEscape(s.id), mode)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	s.logger.Tracef("Session:execute", "sid:%s mode:%s", s.id, mode)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webdriver request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading webdriver response: %w", err)
	}
	return parseValue(resp.StatusCode, data)
}

// parseValue unwraps {"value": ...}, turning error values into *Error.
func parseValue(status int, data []byte) (json.RawMessage, error) {
	if !gjson.ValidBytes(data) {
		return nil, &Error{Status: status, Code: "invalid response", Message: truncate(string(data), 200)}
	}

	value := gjson.GetBytes(data, "value")
	if code := value.Get("error"); code.Exists() && code.Type == gjson.String {
		return nil, &Error{Status: status, Code: code.String(), Message: value.Get("message").String()}
	}
	if status >= http.StatusBadRequest {
		return nil, &Error{Status: status, Code: "unknown error", Message: truncate(string(data), 200)}
	}
	if !value.Exists() {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(value.Raw), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
