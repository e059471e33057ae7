package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- Unit Tests ---

func TestParseInbound_Request(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","id":1,"method":"skills.relevant","params":{"skill":"Go"}}`)
	msg, err := ParseInbound(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Request == nil {
		t.Fatal("expected request, got nil")
	}
	if msg.Request.Method != "skills.relevant" {
		t.Errorf("method = %q, want %q", msg.Request.Method, "skills.relevant")
	}
	if msg.Request.ID != float64(1) {
		t.Errorf("id = %v, want 1", msg.Request.ID)
	}
	if string(msg.Request.Params) != `{"skill":"Go"}` {
		t.Errorf("params = %s", msg.Request.Params)
	}
}

func TestParseInbound_Notification(t *testing.T) {
	for _, data := range []string{
		`{"jsonrpc":"2.0","method":"notify","params":{}}`,
		`{"jsonrpc":"2.0","id":null,"method":"notify"}`,
	} {
		msg, err := ParseInbound([]byte(data))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", data, err)
		}
		if msg.Notification == nil || msg.Request != nil {
			t.Fatalf("%s: expected notification, got %+v", data, msg)
		}
		if msg.Notification.Method != "notify" {
			t.Errorf("method = %q, want %q", msg.Notification.Method, "notify")
		}
	}
}

func TestParseInbound_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		code int
	}{
		{"invalid json", `{invalid json}`, ParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"test"}`, InvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, InvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInbound([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			rpcErr, ok := err.(*Error)
			if !ok {
				t.Fatalf("expected *Error, got %T", err)
			}
			if rpcErr.Code != tt.code {
				t.Errorf("code = %d, want %d", rpcErr.Code, tt.code)
			}
		})
	}
}

func TestMarshalOutbound(t *testing.T) {
	data, err := MarshalOutbound(&OutboundMessage{
		Response: &Response{JSONRPC: "2.0", ID: 1, Result: map[string]string{"status": "success"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Contains(data, []byte(`"result":{"status":"success"}`)) {
		t.Errorf("expected result in output: %s", data)
	}

	data, err = MarshalOutbound(&OutboundMessage{
		Notification: &Notification{JSONRPC: "2.0", Method: "event"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Contains(data, []byte(`"method":"event"`)) {
		t.Errorf("expected method in output: %s", data)
	}

	if _, err := MarshalOutbound(&OutboundMessage{}); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestResponse_NullID(t *testing.T) {
	data, err := json.Marshal(&Response{JSONRPC: "2.0", Error: &Error{Code: ParseError, Message: "Parse error"}})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"id":null`)) {
		t.Errorf("error response must carry a null id: %s", data)
	}
}

// --- Integration Tests ---

func TestStdioTransport_RoundTrip(t *testing.T) {
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	tr := NewStdioTransport(serverRead, serverWrite, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.Run(ctx)
	}()

	go func() {
		clientWrite.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n"))
	}()

	select {
	case msg := <-tr.Recv():
		if msg.Request == nil || msg.Request.Method != "ping" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if err := tr.Send(&OutboundMessage{
			Response: &Response{JSONRPC: "2.0", ID: msg.Request.ID, Result: "pong"},
		}); err != nil {
			t.Fatalf("send: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for message")
	}

	buf := make([]byte, 1024)
	n, err := clientRead.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf[:n])
	}
	if resp.Result != "pong" {
		t.Errorf("result = %v, want pong", resp.Result)
	}

	cancel()
	clientWrite.Close()
	wg.Wait()
}

func TestStdioTransport_SendAfterClose(t *testing.T) {
	tr := NewStdioTransport(strings.NewReader(""), io.Discard, DefaultConfig())
	tr.Close()

	err := tr.Send(&OutboundMessage{Response: &Response{JSONRPC: "2.0", ID: 1}})
	if err != ErrClosed {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestStdioTransport_LargeMessage(t *testing.T) {
	big := strings.Repeat("x", 2*1024*1024)
	input := `{"jsonrpc":"2.0","id":1,"method":"skills.process","params":{"blob":"` + big + `"}}` + "\n"

	tr := NewStdioTransport(strings.NewReader(input), io.Discard, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go tr.Run(ctx)

	select {
	case msg := <-tr.Recv():
		if msg == nil || msg.Request == nil {
			t.Fatal("expected request")
		}
		if len(msg.Request.Params) < len(big) {
			t.Errorf("params truncated: %d bytes", len(msg.Request.Params))
		}
	case <-ctx.Done():
		t.Fatal("timeout")
	}
}

// --- Benchmarks ---

func BenchmarkParseInbound(b *testing.B) {
	data := []byte(`{"jsonrpc":"2.0","id":1,"method":"skills.relevant","params":{"skill":"Python","top_k":3}}`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseInbound(data)
	}
}

func BenchmarkMarshalOutbound(b *testing.B) {
	msg := &OutboundMessage{
		Response: &Response{JSONRPC: "2.0", ID: 1, Result: map[string]interface{}{"status": "success"}},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MarshalOutbound(msg)
	}
}
