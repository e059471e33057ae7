// Package transport provides pluggable transports for JSON-RPC 2.0 communication.
//
// The Transport interface enables bidirectional message passing over stdio
// and WebSocket while maintaining JSON-RPC 2.0 as the protocol.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/vinayprograms/skillsynth/logging"
)

// Common errors.
var (
	ErrClosed      = errors.New("transport closed")
	ErrSendTimeout = errors.New("send timeout")
)

// Transport provides bidirectional JSON-RPC message passing.
type Transport interface {
	// Recv returns channel for incoming messages.
	// Channel is closed when transport shuts down.
	Recv() <-chan *InboundMessage

	// Send queues a message for delivery.
	// Returns ErrClosed if transport is closed.
	Send(msg *OutboundMessage) error

	// Run starts the transport, blocks until ctx cancelled or error.
	// Returns nil on graceful shutdown, error otherwise.
	Run(ctx context.Context) error

	// Close initiates graceful shutdown.
	// Drains pending sends before returning.
	Close() error
}

// InboundMessage wraps an incoming JSON-RPC message.
type InboundMessage struct {
	// Request is set if this is a JSON-RPC request (has ID).
	Request *Request

	// Notification is set if this is a notification (no ID).
	Notification *Notification

	// Raw contains the original bytes.
	Raw json.RawMessage
}

// OutboundMessage wraps an outgoing JSON-RPC message.
type OutboundMessage struct {
	// Response is set when replying to a request.
	Response *Response

	// Notification is set when sending an unsolicited notification.
	Notification *Notification
}

// ParseInbound parses raw JSON into an InboundMessage.
func ParseInbound(data []byte) (*InboundMessage, error) {
	var raw struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}

	if raw.JSONRPC != "2.0" {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "jsonrpc must be 2.0"}
	}
	if raw.Method == "" {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "method is required"}
	}

	msg := &InboundMessage{Raw: data}

	// If ID is present and not null, it's a request
	if len(raw.ID) > 0 && string(raw.ID) != "null" {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
		}
		msg.Request = &req
	} else {
		var notif Notification
		if err := json.Unmarshal(data, &notif); err != nil {
			return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
		}
		msg.Notification = &notif
	}

	return msg, nil
}

// MarshalOutbound serializes an OutboundMessage to JSON.
func MarshalOutbound(msg *OutboundMessage) ([]byte, error) {
	if msg.Response != nil {
		return json.Marshal(msg.Response)
	}
	if msg.Notification != nil {
		return json.Marshal(msg.Notification)
	}
	return nil, errors.New("empty outbound message")
}

// Config holds common transport configuration.
type Config struct {
	// RecvBufferSize is the size of the receive channel buffer.
	// Default: 100
	RecvBufferSize int

	// SendBufferSize is the size of the internal send buffer.
	// Default: 100
	SendBufferSize int

	// Logger reports dropped and undeliverable messages.
	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecvBufferSize: 100,
		SendBufferSize: 100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = d.RecvBufferSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	return c
}

// ServeOptions configures Serve.
type ServeOptions struct {
	// MapError turns a handler error into a JSON-RPC error. Handler errors
	// that already are *Error pass through unchanged.
	// Default: InternalError carrying the error text.
	MapError func(err error) *Error

	// MaxInFlight bounds concurrently handled messages. Default: 8
	MaxInFlight int

	Logger *logging.Logger
}

// Serve runs t and dispatches every inbound message to h. Requests are
// answered; notifications are handled without a reply. Serve returns when
// the peer closes the transport (nil) or ctx is done (ctx.Err()).
func Serve(ctx context.Context, t Transport, h Handler, opts ServeOptions) error {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 8
	}
	if opts.MapError == nil {
		opts.MapError = func(err error) *Error {
			return &Error{Code: InternalError, Message: err.Error()}
		}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- t.Run(runCtx) }()

	sem := make(chan struct{}, opts.MaxInFlight)
	var wg sync.WaitGroup
	dispatch := func(msg *InboundMessage) {
		defer wg.Done()
		defer func() { <-sem }()

		if msg.Notification != nil {
			if _, err := handle(ctx, h, msg.Notification.Method, rawParams(msg.Notification.Params), opts.Logger); err != nil {
				opts.Logger.Debug("notification_failed", map[string]interface{}{
					"method": msg.Notification.Method,
					"error":  err.Error(),
				})
			}
			return
		}

		req := msg.Request
		resp := &Response{JSONRPC: "2.0", ID: req.ID}
		result, err := handle(ctx, h, req.Method, req.Params, opts.Logger)
		if err != nil {
			var rpcErr *Error
			if !errors.As(err, &rpcErr) {
				rpcErr = opts.MapError(err)
			}
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
		if err := t.Send(&OutboundMessage{Response: resp}); err != nil {
			opts.Logger.Warn("response_dropped", map[string]interface{}{
				"method": req.Method,
				"error":  err.Error(),
			})
		}
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			<-runDone
			return ctx.Err()
		case msg, ok := <-t.Recv():
			if !ok {
				wg.Wait()
				cancel()
				<-runDone
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				<-runDone
				return ctx.Err()
			}
			wg.Add(1)
			go dispatch(msg)
		}
	}
}

// handle calls h and turns a panic into an InternalError so one bad
// request cannot take the connection down.
func handle(ctx context.Context, h Handler, method string, params json.RawMessage, logger *logging.Logger) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler_panic", map[string]interface{}{
				"method": method,
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			})
			result = nil
			err = &Error{Code: InternalError, Message: "Internal error", Data: method}
		}
	}()
	return h.Handle(ctx, method, params)
}

// rawParams re-encodes notification params for the Handler.
func rawParams(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
