// Package transport carries JSON-RPC 2.0 over stdio and WebSocket.
//
// # Transports
//
//   - StdioTransport: newline-delimited messages on stdin/stdout
//   - WebSocketTransport: one message per text frame
//
// # Usage
//
// Serve drives any Transport with a Handler. Requests are answered,
// notifications are handled without a reply, and handler errors are mapped
// to JSON-RPC errors:
//
//	t := transport.NewStdioTransport(os.Stdin, os.Stdout, transport.DefaultConfig())
//	err := transport.Serve(ctx, t, handler, transport.ServeOptions{
//	    MapError: rpc.MapError,
//	})
//
// For WebSocket, NewWebSocketHandler upgrades each HTTP request and calls
// Serve on the resulting connection.
//
// # Thread Safety
//
// All transport methods are safe for concurrent use. The Recv() channel
// is closed when the peer goes away.
package transport
