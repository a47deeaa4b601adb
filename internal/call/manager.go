// Package call drives the real-time call channel over a WebSocket.
package call

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connection status strings reported to the status callback.
const (
	StatusConnecting   = "Connecting..."
	StatusConnected    = "Connected"
	StatusDisconnected = "Disconnected"
)

// Commands understood by the call backend.
const (
	CommandMute    = "mute"
	CommandUnmute  = "unmute"
	CommandEndCall = "end_call"
)

const (
	closeReason      = "User closed connection"
	handshakeTimeout = 30 * time.Second
	closeWait        = 5 * time.Second
)

// ErrNotConnected is returned when a command is sent without an open connection.
var ErrNotConnected = errors.New("call channel is not connected")

// TokenFunc returns a bearer token for the handshake.
type TokenFunc func(ctx context.Context) (string, error)

// Command is the JSON frame sent to the backend.
type Command struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	Timestamp int64  `json:"timestamp"`
}

// Manager owns one WebSocket connection.
type Manager struct {
	url    string
	dialer *websocket.Dialer
	token  TokenFunc
	logger *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	closing   bool
	onStatus  func(string)
	onMessage func(string)

	writeMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithToken authenticates the handshake with a bearer token.
func WithToken(fn TokenFunc) Option {
	return func(m *Manager) { m.token = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager for the given ws:// or wss:// URL.
func NewManager(url string, opts ...Option) *Manager {
	m := &Manager{
		url:    url,
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: handshakeTimeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnStatus registers the connection status callback.
func (m *Manager) OnStatus(fn func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatus = fn
}

// OnMessage registers the callback for incoming text frames.
func (m *Manager) OnMessage(fn func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = fn
}

// Connected reports whether a connection is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Connect dials the call endpoint and starts delivering incoming frames.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.url == "" {
		return errors.New("call url is not configured")
	}
	m.status(StatusConnecting)

	header := http.Header{}
	if m.token != nil {
		token, err := m.token(ctx)
		if err != nil {
			m.logger.Warn("connecting without token", zap.Error(err))
		} else {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, _, err := m.dialer.DialContext(ctx, m.url, header)
	if err != nil {
		m.status("Failed: " + err.Error())
		return fmt.Errorf("failed to connect: %w", err)
	}

	conn.SetCloseHandler(m.closeHandler(conn))

	done := make(chan struct{})
	m.mu.Lock()
	m.conn = conn
	m.done = done
	m.closing = false
	m.mu.Unlock()

	m.logger.Info("call channel connected", zap.String("url", m.url))
	m.status(StatusConnected)

	go m.readLoop(conn, done)
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(conn, err)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		m.logger.Debug("call message received", zap.ByteString("data", data))
		m.mu.Lock()
		fn := m.onMessage
		m.mu.Unlock()
		if fn != nil {
			fn(string(data))
		}
	}
}

// closeHandler reports a peer-initiated close as "Closing: <reason>" and
// answers it the way the default handler does.
func (m *Manager) closeHandler(conn *websocket.Conn) func(code int, text string) error {
	return func(code int, text string) error {
		m.mu.Lock()
		closing := m.closing
		m.mu.Unlock()
		if !closing {
			m.status("Closing: " + text)
		}
		msg := websocket.FormatCloseMessage(code, "")
		err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			m.logger.Debug("failed to answer close frame", zap.Error(err))
		}
		return nil
	}
}

func (m *Manager) handleReadError(conn *websocket.Conn, err error) {
	m.mu.Lock()
	closing := m.closing
	if m.conn == conn && !closing {
		m.conn = nil
	}
	m.mu.Unlock()

	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		m.logger.Info("call channel closed", zap.Int("code", closeErr.Code), zap.String("reason", closeErr.Text))
		m.status("Closed: " + closeErr.Text)
	case closing:
		m.logger.Debug("read loop stopped", zap.Error(err))
	default:
		m.logger.Error("call channel failed", zap.Error(err))
		m.status("Failed: " + err.Error())
	}
	if !closing {
		conn.Close()
	}
}

// SendCommand sends a command frame.
func (m *Manager) SendCommand(command string) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	err := conn.WriteJSON(Command{Type: "command", Command: command, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		m.logger.Error("failed to send command", zap.String("command", command), zap.Error(err))
		return fmt.Errorf("failed to send command: %w", err)
	}
	m.logger.Debug("sent command", zap.String("command", command))
	return nil
}

// Disconnect closes the connection with a normal closure and waits for the
// read loop to finish.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	conn, done := m.conn, m.done
	m.conn = nil
	m.closing = true
	m.mu.Unlock()

	if conn == nil {
		m.status(StatusDisconnected)
		return nil
	}

	m.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReason)
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	m.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		m.logger.Warn("failed to send close frame", zap.Error(err))
	}

	select {
	case <-done:
	case <-time.After(closeWait):
		m.logger.Warn("timed out waiting for close acknowledgement")
	}
	conn.Close()
	<-done

	m.logger.Info("call channel disconnected")
	m.status(StatusDisconnected)
	return nil
}

func (m *Manager) status(s string) {
	m.mu.Lock()
	fn := m.onStatus
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
