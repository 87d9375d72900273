// Package cdp is a minimal Chrome DevTools Protocol client for the Node
// inspector exposed by an Electron main process started with --inspect.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/tomyan/wdio-electron/internal/log"
)

// TargetInfo describes one debuggable target listed by the inspector.
type TargetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// MaxMessageSize bounds one outgoing command. The Node inspector rejects
// fragmented frames, so every command is written as a single frame.
const MaxMessageSize = 4 << 20

// Client is one websocket connection to an inspector target.
type Client struct {
	conn            *websocket.Conn
	wsURL           string
	logger          *log.Logger
	mu              sync.Mutex
	messageID       atomic.Int64
	pending         map[int64]chan callResult
	pendingMu       sync.Mutex
	eventHandlers   map[string][]chan json.RawMessage // key: method
	eventHandlersMu sync.Mutex
	closed          atomic.Bool
	closeOnce       sync.Once
	closeCh         chan struct{}
}

type callResult struct {
	Result json.RawMessage
	Error  *ProtocolError
}

// ListTargets fetches /json/list from the inspector at host:port.
func ListTargets(ctx context.Context, host string, port int) ([]TargetInfo, error) {
	listURL := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/json/list"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to inspector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing targets: unexpected status %s", resp.Status)
	}

	var targets []TargetInfo
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("decoding target list: %w", err)
	}
	return targets, nil
}

// Connect discovers the first debuggable target at host:port and opens a
// websocket to it.
func Connect(ctx context.Context, host string, port int, logger *log.Logger) (*Client, error) {
	targets, err := ListTargets(ctx, host, port)
	if err != nil {
		return nil, err
	}

	for _, t := range targets {
		if t.WebSocketDebuggerURL != "" {
			return Dial(ctx, t.WebSocketDebuggerURL, logger)
		}
	}
	return nil, fmt.Errorf("%w at %s", ErrNoDebuggerTarget, net.JoinHostPort(host, strconv.Itoa(port)))
}

// Dial opens a websocket to a known debugger URL.
func Dial(ctx context.Context, wsURL string, logger *log.Logger) (*Client, error) {
	dialer := websocket.Dialer{WriteBufferSize: MaxMessageSize}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to WebSocket: %w", err)
	}

	client := &Client{
		conn:          conn,
		wsURL:         wsURL,
		logger:        logger,
		pending:       make(map[int64]chan callResult),
		eventHandlers: make(map[string][]chan json.RawMessage),
		closeCh:       make(chan struct{}),
	}
	logger.Debugf("Client:Dial", "url:%s", wsURL)

	go client.readMessages()

	return client, nil
}

// WebSocketURL returns the WebSocket URL used for this connection.
func (c *Client) WebSocketURL() string {
	return c.wsURL
}

// Done is closed once the connection is gone, whether by Close or because
// the remote end went away.
func (c *Client) Done() <-chan struct{} {
	return c.closeCh
}

// Close closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		err = c.conn.Close()

		// Wake up all pending callers
		c.pendingMu.Lock()
		for _, ch := range c.pending {
			close(ch)
		}
		c.pending = make(map[int64]chan callResult)
		c.pendingMu.Unlock()

		c.eventHandlersMu.Lock()
		for method, handlers := range c.eventHandlers {
			for _, h := range handlers {
				close(h)
			}
			delete(c.eventHandlers, method)
		}
		c.eventHandlersMu.Unlock()

		c.logger.Debugf("Client:Close", "url:%s", c.wsURL)
	})
	return err
}

type request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ProtocolError  `json:"error,omitempty"`
	Method string          `json:"method,omitempty"` // For events
	Params json.RawMessage `json:"params,omitempty"` // For events
}

// Call sends a protocol command and waits for the response.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}

	id := c.messageID.Add(1)

	req := request{
		ID:     id,
		Method: method,
	}

	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling params: %w", err)
		}
		req.Params = data
	}

	respChan := make(chan callResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.logger.Tracef("Client:Call", "id:%d method:%s", id, method)

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrMessageTooLarge, method, len(data))
	}

	c.mu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}

	select {
	case result, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if result.Error != nil {
			return nil, result.Error
		}
		return result.Result, nil
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readMessages() {
	defer c.Close()

	for {
		var resp response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.logger.Debugf("Client:readMessages", "url:%s stopped: %v", c.wsURL, err)
			return
		}

		// Route response to waiting caller
		if resp.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[resp.ID]; ok {
				ch <- callResult{
					Result: resp.Result,
					Error:  resp.Error,
				}
			}
			c.pendingMu.Unlock()
		}

		// Route events to handlers
		if resp.Method != "" {
			c.eventHandlersMu.Lock()
			for _, h := range c.eventHandlers[resp.Method] {
				select {
				case h <- resp.Params:
				default:
					// Drop if channel is full
				}
			}
			c.eventHandlersMu.Unlock()
		}
	}
}

// Subscribe registers for an event. The returned channel is closed by
// Unsubscribe or when the client closes.
func (c *Client) Subscribe(method string) chan json.RawMessage {
	ch := make(chan json.RawMessage, 100)

	c.eventHandlersMu.Lock()
	defer c.eventHandlersMu.Unlock()
	if c.closed.Load() {
		close(ch)
		return ch
	}
	c.eventHandlers[method] = append(c.eventHandlers[method], ch)

	return ch
}

// Unsubscribe removes an event handler.
func (c *Client) Unsubscribe(method string, ch chan json.RawMessage) {
	c.eventHandlersMu.Lock()
	defer c.eventHandlersMu.Unlock()

	handlers := c.eventHandlers[method]
	for i, h := range handlers {
		if h == ch {
			c.eventHandlers[method] = append(handlers[:i], handlers[i+1:]...)
			close(ch)
			return
		}
	}
}
