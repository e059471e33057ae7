package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/propagation"

	"github.com/vinayprograms/skillsynth/telemetry"
)

// WebSocketTransport implements Transport over WebSocket.
type WebSocketTransport struct {
	conn   *websocket.Conn
	config WebSocketConfig

	recv   chan *InboundMessage
	send   chan *OutboundMessage
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// WebSocketConfig holds WebSocket transport configuration.
type WebSocketConfig struct {
	Config // Embed base config

	// WriteTimeout for write operations.
	WriteTimeout time.Duration

	// ReadTimeout for read operations (0 = no timeout).
	ReadTimeout time.Duration

	// MaxMessageSize limits incoming message size.
	MaxMessageSize int64

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Config:         DefaultConfig(),
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    0,
		MaxMessageSize: maxLineSize,
		PingInterval:   30 * time.Second,
	}
}

// NewWebSocketTransport creates a transport from an existing connection.
func NewWebSocketTransport(conn *websocket.Conn, cfg WebSocketConfig) *WebSocketTransport {
	cfg.Config = cfg.Config.withDefaults()
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &WebSocketTransport{
		conn:   conn,
		config: cfg,
		recv:   make(chan *InboundMessage, cfg.RecvBufferSize),
		send:   make(chan *OutboundMessage, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// NewWebSocketUpgrader creates an upgrader for accepting WebSocket connections.
func NewWebSocketUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true }, // Override in production
	}
}

// NewWebSocketHandler returns an HTTP handler that upgrades every request
// and serves JSON-RPC on it with h until the peer disconnects or ctx ends.
// Trace context in the upgrade request headers becomes the parent of every
// span started for that connection.
func NewWebSocketHandler(ctx context.Context, h Handler, cfg WebSocketConfig, opts ServeOptions) http.Handler {
	upgrader := NewWebSocketUpgrader()
	logger := cfg.Config.withDefaults().Logger

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already answered with an HTTP error.
			logger.Debug("websocket_upgrade_failed", map[string]interface{}{"error": err.Error()})
			return
		}

		connCtx := telemetry.ExtractContext(ctx, propagation.HeaderCarrier(r.Header))
		logger.Info("websocket_connected", map[string]interface{}{"remote": r.RemoteAddr})
		err = Serve(connCtx, NewWebSocketTransport(conn, cfg), h, opts)
		fields := map[string]interface{}{"remote": r.RemoteAddr}
		if err != nil {
			fields["error"] = err.Error()
		}
		logger.Info("websocket_disconnected", fields)
	})
}

// Recv returns the channel for incoming messages.
func (t *WebSocketTransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for delivery.
func (t *WebSocketTransport) Send(msg *OutboundMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	select {
	case t.send <- msg:
		return nil
	case <-t.done:
		return ErrClosed
	}
}

// Run starts the transport, blocking until ctx is done.
func (t *WebSocketTransport) Run(ctx context.Context) error {
	readDone := make(chan struct{})
	writeDone := make(chan struct{})

	go func() {
		defer close(readDone)
		t.readLoop(ctx)
	}()

	go func() {
		defer close(writeDone)
		t.writeLoop(ctx)
	}()

	<-ctx.Done()

	// Flush queued responses before the close frame. The reader stays
	// blocked in ReadMessage until the connection is closed.
	t.markClosed()
	<-writeDone
	t.closeConn()
	<-readDone

	return ctx.Err()
}

// Close initiates graceful shutdown.
func (t *WebSocketTransport) Close() error {
	if !t.markClosed() {
		return nil
	}
	return t.closeConn()
}

// markClosed flips the transport to closed. It reports whether this call
// did so.
func (t *WebSocketTransport) markClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.closed = true
	close(t.done)
	return true
}

func (t *WebSocketTransport) closeConn() error {
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}

// readLoop reads WebSocket messages and sends them to the recv channel.
// A closed or broken connection closes the channel.
func (t *WebSocketTransport) readLoop(ctx context.Context) {
	defer close(t.recv)

	for {
		if t.config.ReadTimeout > 0 {
			t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		}
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-t.done:
				default:
					t.config.Logger.Debug("websocket_read_failed", map[string]interface{}{"error": err.Error()})
				}
			}
			return
		}

		msg, parseErr := ParseInbound(data)
		if parseErr != nil {
			t.sendParseError(parseErr)
			continue
		}

		select {
		case t.recv <- msg:
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

// writeLoop reads from send channel and writes to WebSocket.
func (t *WebSocketTransport) writeLoop(ctx context.Context) {
	ticker := t.createPingTicker()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.drainSendQueue()
			return
		case <-t.done:
			t.drainSendQueue()
			return
		case <-ticker.C:
			t.writePing()
		case msg := <-t.send:
			t.writeMessage(msg)
		}
	}
}

// createPingTicker creates a ticker for keepalive pings.
func (t *WebSocketTransport) createPingTicker() *time.Ticker {
	if t.config.PingInterval > 0 {
		return time.NewTicker(t.config.PingInterval)
	}
	// Return a ticker that never fires
	ticker := time.NewTicker(time.Hour)
	ticker.Stop()
	return ticker
}

// writePing sends a WebSocket ping frame.
func (t *WebSocketTransport) writePing() {
	t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
}

// drainSendQueue writes remaining messages before shutdown.
func (t *WebSocketTransport) drainSendQueue() {
	for {
		select {
		case msg := <-t.send:
			t.writeMessage(msg)
		default:
			return
		}
	}
}

// writeMessage serializes and writes a single message. Only the write loop
// calls it, so writes never interleave.
func (t *WebSocketTransport) writeMessage(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		t.config.Logger.Error("encode_failed", map[string]interface{}{"error": err.Error()})
		return
	}

	if t.config.WriteTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.config.Logger.Warn("websocket_write_failed", map[string]interface{}{"error": err.Error()})
	}
}

// sendParseError answers a frame that is not a valid JSON-RPC message.
func (t *WebSocketTransport) sendParseError(parseErr error) {
	rpcErr, ok := parseErr.(*Error)
	if !ok {
		rpcErr = &Error{Code: ParseError, Message: "Parse error", Data: parseErr.Error()}
	}

	t.Send(&OutboundMessage{
		Response: &Response{
			JSONRPC: "2.0",
			ID:      nil,
			Error:   rpcErr,
		},
	})
}
