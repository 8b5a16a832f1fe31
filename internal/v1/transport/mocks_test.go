package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeSocket is a channel-backed wsConnection. The test plays the client:
// it pushes inbound frames into in and observes server writes on out.
type fakeSocket struct {
	in  chan []byte
	out chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

var errSocketClosed = errors.New("socket closed")

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return 0, nil, errSocketClosed
		}
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errSocketClosed
	}
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errSocketClosed
	default:
	}
	if messageType != websocket.TextMessage {
		// Close frames and pings are invisible to these tests.
		return nil
	}
	select {
	case f.out <- data:
		return nil
	default:
		return errors.New("test out buffer full")
	}
}

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) SetWriteDeadline(time.Time) error {
	return nil
}

// hangUp simulates the client dropping the connection.
func (f *fakeSocket) hangUp() {
	f.Close()
}

// frame is the decoded union of responses and notifications.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// wireClient drives one fake socket like a JSON-RPC client, buffering
// notifications that arrive while waiting for a response.
type wireClient struct {
	t      *testing.T
	sock   *fakeSocket
	nextID int
	notifs []frame
}

func newWireClient(t *testing.T, sock *fakeSocket) *wireClient {
	return &wireClient{t: t, sock: sock}
}

func (w *wireClient) read() (frame, bool) {
	w.t.Helper()
	select {
	case data, ok := <-w.sock.out:
		if !ok {
			return frame{}, false
		}
		var f frame
		require.NoError(w.t, json.Unmarshal(data, &f))
		return f, true
	case <-w.sock.closed:
		return frame{}, false
	case <-time.After(2 * time.Second):
		w.t.Fatal("timed out waiting for frame")
		return frame{}, false
	}
}

// call sends a request and waits for its response, setting aside any
// notifications that interleave.
func (w *wireClient) call(method string, params any) (json.RawMessage, *Error) {
	w.t.Helper()
	w.nextID++
	id := fmt.Sprintf("%d", w.nextID)

	req := map[string]any{"jsonrpc": jsonRPCVersion, "id": w.nextID, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	require.NoError(w.t, err)
	w.sock.in <- data

	for {
		f, ok := w.read()
		require.True(w.t, ok, "socket closed before response to %s", method)
		if f.Method != "" {
			w.notifs = append(w.notifs, f)
			continue
		}
		require.Equal(w.t, id, string(f.ID))
		return f.Result, f.Error
	}
}

// mustCall asserts the call succeeded and decodes the result into v.
func (w *wireClient) mustCall(method string, params, v any) {
	w.t.Helper()
	result, rpcErr := w.call(method, params)
	require.Nil(w.t, rpcErr, "%s failed: %+v", method, rpcErr)
	if v != nil {
		require.NoError(w.t, json.Unmarshal(result, v))
	}
}

// notification returns the next pushed frame with the given method.
func (w *wireClient) notification(method string, v any) {
	w.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		for i, f := range w.notifs {
			if f.Method == method {
				w.notifs = append(w.notifs[:i], w.notifs[i+1:]...)
				if v != nil {
					require.NoError(w.t, json.Unmarshal(f.Params, v))
				}
				return
			}
		}
		if time.Now().After(deadline) {
			w.t.Fatalf("timed out waiting for %s notification", method)
		}
		f, ok := w.read()
		require.True(w.t, ok, "socket closed while waiting for %s", method)
		if f.Method != "" {
			w.notifs = append(w.notifs, f)
		}
	}
}

// expectClosed waits for the server to drop the socket.
func (w *wireClient) expectClosed() {
	w.t.Helper()
	for {
		select {
		case <-w.sock.closed:
			return
		case <-w.sock.out:
			// Drain trailing frames.
		case <-time.After(2 * time.Second):
			w.t.Fatal("socket was not closed")
		}
	}
}
