// Package rpc exposes a Service to the WebdriverIO side over a stream of
// JSON messages, one request per line:
//
//	{"id":1,"method":"execute","params":{"script":"(electron) => electron.app.getName()"}}
//	{"id":1,"result":"demo-app"}
//
// Requests are handled one at a time, in order.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/tomyan/wdio-electron/internal/log"
)

// Request is one call from the client.
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with the same id.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is a failed call.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Handler serves one method. params is nil when the request had none.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// ErrUnknownMethod is returned for a method with no handler.
var ErrUnknownMethod = errors.New("unknown method")

// Server dispatches requests to handlers.
type Server struct {
	logger      *log.Logger
	maxBodySize int
	codeOf      func(error) string

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewServer returns a server with no handlers.
func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Server{
		logger:      logger,
		maxBodySize: DefaultMaxBodySize,
		codeOf:      func(error) string { return "" },
		handlers:    make(map[string]Handler),
	}
}

// Handle registers h for method, replacing any previous handler.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Methods returns the registered method names, sorted.
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Serve reads requests from r and writes one response line per request
// to w until r is exhausted or ctx is done.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := readMessage(reader, s.maxBodySize)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading request: %w", err)
		}

		resp := s.Dispatch(ctx, msg)
		out, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("encoding response: %w", err)
		}
		if _, err := w.Write(append(out, '\n')); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
}

// Dispatch handles one raw request.
func (s *Server) Dispatch(ctx context.Context, msg []byte) Response {
	var req Request
	if err := json.Unmarshal(msg, &req); err != nil {
		s.logger.Warnf("Server:Dispatch", "malformed request: %v", err)
		return Response{ID: json.RawMessage("null"), Error: &Error{Message: "parse error: " + err.Error(), Code: "parse_error"}}
	}
	if len(req.ID) == 0 {
		req.ID = json.RawMessage("null")
	}

	s.mu.Lock()
	h, ok := s.handlers[req.Method]
	s.mu.Unlock()
	if !ok {
		return Response{ID: req.ID, Error: &Error{
			Message: fmt.Sprintf("%v: %q", ErrUnknownMethod, req.Method),
			Code:    "unknown_method",
		}}
	}

	s.logger.Debugf("Server:Dispatch", "id:%s method:%s", req.ID, req.Method)

	result, err := h(ctx, req.Params)
	if err != nil {
		s.logger.Debugf("Server:Dispatch", "id:%s method:%s failed: %v", req.ID, req.Method, err)
		return Response{ID: req.ID, Error: &Error{Message: err.Error(), Code: s.codeOf(err)}}
	}

	raw, err := encodeResult(result)
	if err != nil {
		return Response{ID: req.ID, Error: &Error{Message: err.Error(), Code: "internal"}}
	}
	return Response{ID: req.ID, Result: raw}
}

func encodeResult(result any) (json.RawMessage, error) {
	switch v := result.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("null"), nil
		}
		return v, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return raw, nil
}
