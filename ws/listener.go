// Package ws maintains the push channel subscription: a websocket connection that is reconnected after a fixed
// delay whenever it closes, for as long as the listener runs.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/walkingbuddy/globals"
	"github.com/tcriess/walkingbuddy/types"
)

const (
	maxMessageSize        = 64 * 1024
	pongWait              = 2 * time.Minute
	pingPeriod            = time.Minute
	writeWait             = 10 * time.Second
	handshakeTimeout      = 10 * time.Second
	DefaultReconnectDelay = 3 * time.Second
)

type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Handler receives the decoded push messages. HandlePushEvent is called from the listener goroutine, one message
// at a time.
type Handler interface {
	HandlePushEvent(msg types.PushMessage)
}

type HandlerFunc func(msg types.PushMessage)

func (f HandlerFunc) HandlePushEvent(msg types.PushMessage) {
	f(msg)
}

type Listener struct {
	url            string
	dialer         *websocket.Dialer
	handler        Handler
	reconnectDelay time.Duration
	logger         hclog.Logger

	attempts int64

	mu      sync.Mutex
	state   State
	onState func(State)
}

// NewListener creates a listener for url; jar (may be nil) provides the session cookies for the handshake.
func NewListener(url string, jar http.CookieJar, handler Handler, reconnectDelay time.Duration) *Listener {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &Listener{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Jar:              jar,
		},
		handler:        handler,
		reconnectDelay: reconnectDelay,
		logger:         globals.AppLogger.Named("push"),
		state:          StateClosed,
	}
}

// OnStateChange registers fn to be called on every state transition. Must be called before Run.
func (l *Listener) OnStateChange(fn func(State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Attempts returns the number of connection attempts made so far.
func (l *Listener) Attempts() int {
	return int(atomic.LoadInt64(&l.attempts))
}

// Run connects and reconnects until ctx is cancelled. There is no backoff and no retry limit.
func (l *Listener) Run(ctx context.Context) {
	for ctx.Err() == nil {
		l.setState(StateConnecting)
		atomic.AddInt64(&l.attempts, 1)
		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			l.logger.Warn("could not connect push channel", "url", l.url, "error", err)
		} else {
			l.setState(StateOpen)
			l.serve(ctx, conn)
		}
		l.setState(StateClosed)
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.reconnectDelay):
		}
	}
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	fn := l.onState
	l.mu.Unlock()
	l.logger.Debug("push channel state", "state", s)
	if fn != nil {
		fn(s)
	}
}

// serve pumps messages from conn to the handler until the connection fails or ctx is cancelled.
func (l *Listener) serve(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go l.keepAlive(ctx, conn, done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.logger.Info("push channel closed unexpectedly", "error", err)
			}
			return
		}
		l.dispatch(raw)
	}
}

// keepAlive pings the server and closes conn when ctx is cancelled, which unblocks the read loop.
func (l *Listener) keepAlive(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				l.logger.Debug("could not send ping", "error", err)
				return
			}
		}
	}
}

// dispatch decodes one frame and hands it to the handler. Malformed or unknown messages are logged and dropped,
// they never affect the connection.
func (l *Listener) dispatch(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("push handler panicked", "panic", r)
		}
	}()
	msg, err := Decode(raw)
	if err != nil {
		l.logger.Warn("dropping push message", "error", err, "message", string(raw))
		return
	}
	l.handler.HandlePushEvent(msg)
}

// Decode parses a push frame: {"type": ..., "room": {...}} or {"type": ..., "room_id": ...}.
func Decode(raw []byte) (types.PushMessage, error) {
	msg := types.PushMessage{}
	m := make(map[string]interface{})
	if err := json.Unmarshal(raw, &m); err != nil {
		return msg, fmt.Errorf("could not unmarshal push message: %w", err)
	}
	// some events carry only the id in "room"
	if v, ok := m["room"]; ok {
		if _, isObject := v.(map[string]interface{}); !isObject {
			if m["room_id"] == nil && v != nil {
				m["room_id"] = v
			}
			delete(m, "room")
		}
	}
	if err := mapstructure.WeakDecode(m, &msg); err != nil {
		return msg, fmt.Errorf("could not decode push message: %w", err)
	}
	msg.Type = types.NormalizeEventType(msg.Type)
	if !types.IsKnownEventType(msg.Type) {
		return msg, fmt.Errorf("unknown push message type %q", msg.Type)
	}
	if msg.Room == nil && msg.RoomId == "" {
		return msg, fmt.Errorf("push message %s without room", msg.Type)
	}
	return msg, nil
}
