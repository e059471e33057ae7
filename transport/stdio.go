package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
)

// maxLineSize bounds one newline-delimited message. Skill taxonomies and
// user batches travel in a single line.
const maxLineSize = 8 * 1024 * 1024

// StdioTransport implements Transport over newline-delimited stdin/stdout.
type StdioTransport struct {
	reader io.Reader
	writer io.Writer
	config Config

	recv   chan *InboundMessage
	send   chan *OutboundMessage
	done   chan struct{}
	mu     sync.Mutex
	wmu    sync.Mutex
	closed bool
}

// NewStdioTransport creates a new stdio transport.
func NewStdioTransport(r io.Reader, w io.Writer, cfg Config) *StdioTransport {
	cfg = cfg.withDefaults()
	return &StdioTransport{
		reader: r,
		writer: w,
		config: cfg,
		recv:   make(chan *InboundMessage, cfg.RecvBufferSize),
		send:   make(chan *OutboundMessage, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// Recv returns the channel for incoming messages.
func (t *StdioTransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for delivery.
func (t *StdioTransport) Send(msg *OutboundMessage) error {
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
func (t *StdioTransport) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)

	go t.readLoop(ctx)

	go func() {
		defer wg.Done()
		t.writeLoop(ctx)
	}()

	<-ctx.Done()

	// The reader may be blocked on stdin; only the writer is awaited so
	// queued responses are flushed.
	t.Close()
	wg.Wait()

	return ctx.Err()
}

// Close initiates graceful shutdown.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

// readLoop reads lines from input and sends them to the recv channel. EOF
// closes the channel.
func (t *StdioTransport) readLoop(ctx context.Context) {
	defer close(t.recv)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := ParseInbound(append([]byte(nil), line...))
		if err != nil {
			t.sendParseError(line, err)
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
	if err := scanner.Err(); err != nil {
		t.config.Logger.Warn("stdio_read_failed", map[string]interface{}{"error": err.Error()})
	}
}

// writeLoop reads from send channel and writes to output.
func (t *StdioTransport) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.drainSendQueue()
			return
		case <-t.done:
			t.drainSendQueue()
			return
		case msg := <-t.send:
			t.writeMessage(msg)
		}
	}
}

// drainSendQueue writes any remaining messages in the send queue.
func (t *StdioTransport) drainSendQueue() {
	for {
		select {
		case msg := <-t.send:
			t.writeMessage(msg)
		default:
			return
		}
	}
}

// writeMessage serializes and writes a single message.
func (t *StdioTransport) writeMessage(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		t.config.Logger.Error("encode_failed", map[string]interface{}{"error": err.Error()})
		return
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		t.config.Logger.Warn("stdio_write_failed", map[string]interface{}{"error": err.Error()})
	}
}

// sendParseError answers a line that is not a valid JSON-RPC message.
func (t *StdioTransport) sendParseError(raw []byte, parseErr error) {
	// Try to extract ID from malformed message
	var partial struct {
		ID interface{} `json:"id"`
	}
	json.Unmarshal(raw, &partial)

	rpcErr, ok := parseErr.(*Error)
	if !ok {
		rpcErr = &Error{Code: ParseError, Message: "Parse error", Data: parseErr.Error()}
	}

	t.Send(&OutboundMessage{
		Response: &Response{
			JSONRPC: "2.0",
			ID:      partial.ID,
			Error:   rpcErr,
		},
	})
}
