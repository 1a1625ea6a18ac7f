package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/murmurkit/murmur/pkg/audio"
	"github.com/murmurkit/murmur/pkg/tools"
)

const defaultConnectTimeout = 15 * time.Second

// TransportError wraps a failure at the websocket boundary.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TransportConfig describes one connection attempt.
type TransportConfig struct {
	URL          string
	APIKey       string
	Model        string
	SystemPrompt string
}

// Callbacks receive transport activity. OnMessage is invoked from a single
// goroutine, one event at a time, in arrival order. The read loop starts
// before Dial returns, so any callback may fire before the caller holds
// the returned Handle; callers that need the handle must gate on it.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(*ServerEvent)
	OnError   func(error)
	OnClose   func()
}

// Handle is an open transport session.
type Handle interface {
	SendRealtimeInput(blob audio.Blob) error
	SendToolResponse(resp tools.Response) error
	Close() error
}

// Dialer opens transport sessions.
type Dialer interface {
	Dial(ctx context.Context, cfg TransportConfig, cb Callbacks) (Handle, error)
}

// WebsocketDialer connects over a websocket and speaks the JSON frame
// protocol from protocol.go.
type WebsocketDialer struct {
	// Dialer overrides the underlying websocket dialer when set.
	Dialer *websocket.Dialer
}

func (d *WebsocketDialer) Dial(ctx context.Context, cfg TransportConfig, cb Callbacks) (Handle, error) {
	wsDialer := d.Dialer
	if wsDialer == nil {
		wsDialer = websocket.DefaultDialer
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	headers := make(http.Header)
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	conn, resp, err := wsDialer.DialContext(dialCtx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, &TransportError{Op: "dial", Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &TransportError{Op: "dial", Err: err}
	}

	setup := setupFrame{Setup: setupBody{Model: cfg.Model, SystemPrompt: cfg.SystemPrompt}}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "setup", Err: err}
	}

	h := &wsHandle{conn: conn, cb: cb}
	go h.readLoop()
	return h, nil
}

type wsHandle struct {
	conn *websocket.Conn
	cb   Callbacks

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func (h *wsHandle) SendRealtimeInput(blob audio.Blob) error {
	frame := realtimeInputFrame{RealtimeInput: realtimeInputBody{MediaChunks: []audio.Blob{blob}}}
	return h.sendJSON(frame)
}

func (h *wsHandle) SendToolResponse(resp tools.Response) error {
	frame := toolResponseFrame{ToolResponse: toolResponseBody{
		FunctionResponses: []functionResponse{{
			ID:       resp.ID,
			Name:     resp.Name,
			Response: functionResult{Result: resp.Result},
		}},
	}}
	return h.sendJSON(frame)
}

func (h *wsHandle) sendJSON(v any) error {
	if h.closed.Load() {
		return &TransportError{Op: "write", Err: fmt.Errorf("session is closed")}
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.conn.WriteJSON(v); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (h *wsHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.writeMu.Lock()
		_ = h.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		h.writeMu.Unlock()
		_ = h.conn.Close()
	})
	return nil
}

// readLoop delivers inbound frames one at a time. The single goroutine is
// what preserves arrival order for every downstream effect.
func (h *wsHandle) readLoop() {
	for {
		messageType, data, err := h.conn.ReadMessage()
		if err != nil {
			if h.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if h.cb.OnClose != nil {
					h.cb.OnClose()
				}
				return
			}
			if h.cb.OnError != nil {
				h.cb.OnError(&TransportError{Op: "read", Err: err})
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		ev, err := DecodeServerEvent(data)
		if err != nil {
			if h.cb.OnError != nil {
				h.cb.OnError(&TransportError{Op: "decode", Err: err})
			}
			return
		}
		if ev.SetupComplete != nil {
			if h.cb.OnOpen != nil {
				h.cb.OnOpen()
			}
			continue
		}
		if h.cb.OnMessage != nil {
			h.cb.OnMessage(ev)
		}
	}
}
