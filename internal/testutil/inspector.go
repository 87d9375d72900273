// Package testutil provides a fake Node inspector for tests that need a
// debugger endpoint without launching Electron, and a real node process
// for tests that need the scripts to run.
package testutil

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// Reply is what a Handler returns for one command. Set Error to make the
// command fail with a protocol error.
type Reply struct {
	Result interface{}
	Error  *ReplyError
}

// ReplyError mirrors the protocol's error object.
type ReplyError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Event is pushed to the client unprompted.
type Event struct {
	Method string
	Params interface{}
}

// Handler answers one command. Events returned are written before the reply.
type Handler func(method string, params json.RawMessage) (Reply, []Event)

// Inspector is an httptest server speaking enough of the inspector HTTP and
// websocket protocol for the client, bridge and script packages.
type Inspector struct {
	Server *httptest.Server

	handler Handler

	mu       sync.Mutex
	conns    []*websocket.Conn
	methods  []string
	requests map[string][]json.RawMessage
}

// NewInspector starts a fake inspector and registers cleanup with t.
// A nil handler answers every command with an empty result.
func NewInspector(t testing.TB, handler Handler) *Inspector {
	t.Helper()

	if handler == nil {
		handler = func(string, json.RawMessage) (Reply, []Event) {
			return Reply{Result: struct{}{}}, nil
		}
	}
	insp := &Inspector{
		handler:  handler,
		requests: make(map[string][]json.RawMessage),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", insp.serveList)
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"Browser":"node.js/v20.9.0","Protocol-Version":"1.1"}`)
	})
	mux.HandleFunc("/ws", insp.serveWS)

	insp.Server = httptest.NewServer(mux)
	t.Cleanup(insp.Close)

	return insp
}

// Host returns the server's host.
func (i *Inspector) Host() string {
	host, _, _ := net.SplitHostPort(strings.TrimPrefix(i.Server.URL, "http://"))
	return host
}

// Port returns the server's port.
func (i *Inspector) Port() int {
	_, port, _ := net.SplitHostPort(strings.TrimPrefix(i.Server.URL, "http://"))
	p, _ := strconv.Atoi(port)
	return p
}

// WebSocketURL is the debugger URL advertised by /json/list.
func (i *Inspector) WebSocketURL() string {
	return "ws://" + strings.TrimPrefix(i.Server.URL, "http://") + "/ws"
}

// Methods returns every command method received, in order.
func (i *Inspector) Methods() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.methods...)
}

// Params returns the raw params of every received command named method.
func (i *Inspector) Params(method string) []json.RawMessage {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]json.RawMessage(nil), i.requests[method]...)
}

// DropConnections closes every open websocket, as a crashed app would.
func (i *Inspector) DropConnections() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, c := range i.conns {
		c.Close()
	}
	i.conns = nil
}

// Close drops connections and stops the server.
func (i *Inspector) Close() {
	i.DropConnections()
	i.Server.Close()
}

func (i *Inspector) serveList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode([]map[string]string{{
		"id":                   "0d2b3c1e-6f4a-4f7e-9a51-2f1c3b5d7e90",
		"type":                 "node",
		"title":                "electron/js2c/browser_init",
		"url":                  "file://",
		"webSocketDebuggerUrl": i.WebSocketURL(),
	}})
}

var upgrader = websocket.Upgrader{}

type inbound struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (i *Inspector) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	i.mu.Lock()
	i.conns = append(i.conns, conn)
	i.mu.Unlock()

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		i.mu.Lock()
		i.methods = append(i.methods, msg.Method)
		i.requests[msg.Method] = append(i.requests[msg.Method], msg.Params)
		i.mu.Unlock()

		reply, events := i.handler(msg.Method, msg.Params)
		for _, ev := range events {
			if err := conn.WriteJSON(map[string]interface{}{"method": ev.Method, "params": ev.Params}); err != nil {
				return
			}
		}

		out := map[string]interface{}{"id": msg.ID}
		if reply.Error != nil {
			out["error"] = reply.Error
		} else {
			result := reply.Result
			if result == nil {
				result = struct{}{}
			}
			out["result"] = result
		}
		if err := conn.WriteJSON(out); err != nil {
			return
		}
	}
}

// ContextCreated is the event the inspector sends after Runtime.enable.
func ContextCreated(id int) Event {
	return Event{
		Method: "Runtime.executionContextCreated",
		Params: map[string]interface{}{
			"context": map[string]interface{}{
				"id":     id,
				"origin": "",
				"name":   "Electron Main Context",
			},
		},
	}
}

// ValueResult builds a Runtime.callFunctionOn / Runtime.evaluate result
// carrying value returned by value.
func ValueResult(value interface{}) map[string]interface{} {
	if value == nil {
		return map[string]interface{}{"result": map[string]interface{}{"type": "undefined"}}
	}
	return map[string]interface{}{"result": map[string]interface{}{"type": "object", "value": value}}
}

// ExceptionResult builds a result carrying a thrown error.
func ExceptionResult(message string) map[string]interface{} {
	return map[string]interface{}{
		"result": map[string]interface{}{
			"type":        "object",
			"subtype":     "error",
			"className":   "Error",
			"description": "Error: " + message + "\n    at <anonymous>:1:7",
		},
		"exceptionDetails": map[string]interface{}{
			"exceptionId":  1,
			"text":         "Uncaught",
			"lineNumber":   0,
			"columnNumber": 6,
			"exception": map[string]interface{}{
				"type":        "object",
				"subtype":     "error",
				"className":   "Error",
				"description": "Error: " + message + "\n    at <anonymous>:1:7",
			},
		},
	}
}
