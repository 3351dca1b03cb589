// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sitewright/sitewright/lib/codec"
)

// dialTimeout covers only the connect phase; the server's own
// timeouts govern the rest of the exchange.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the response
// after writing a request. Matched to the server's readTimeout plus
// writeTimeout to allow for handler execution.
const responseReadTimeout = 45 * time.Second

// maxResponseSize mirrors the server's maxRequestSize.
const maxResponseSize = 1024 * 1024

// CallError is returned by Call when the server responds with
// ok=false.
type CallError struct {
	Action  string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("engine error on %q: %s", e.Action, e.Message)
}

// Client sends control requests to the engine socket. Each Call or
// Stream opens a fresh connection, matching the server's one request
// per connection model.
type Client struct {
	socketPath string
}

// NewClient creates a client for the engine socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends a request and decodes the response. The fields map holds
// the handler-specific request fields; the client injects "action".
// Pass nil for actions without parameters.
//
// On ok=false the returned error is a *CallError carrying the
// server's message. Connection and encoding failures are plain
// errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	conn, err := c.send(ctx, action, fields)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return fmt.Errorf("calling %q on %s: reading response: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &CallError{Action: action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// Stream sends a request to a streaming action and returns the open
// stream. The initial response envelope is consumed here: an ok=false
// envelope becomes a *CallError and the stream is closed. The caller
// reads frames with Next and must Close the stream.
func (c *Client) Stream(ctx context.Context, action string, fields map[string]any, header any) (*Stream, error) {
	conn, err := c.send(ctx, action, fields)
	if err != nil {
		return nil, fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	decoder := codec.NewDecoder(conn)
	var response Response
	if err := decoder.Decode(&response); err != nil {
		conn.Close()
		return nil, fmt.Errorf("calling %q on %s: reading stream header: %w", action, c.socketPath, err)
	}
	if !response.OK {
		conn.Close()
		return nil, &CallError{Action: action, Message: response.Error}
	}
	if header != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, header); err != nil {
			conn.Close()
			return nil, fmt.Errorf("decoding stream header for %q: %w", action, err)
		}
	}

	return &Stream{conn: conn, decoder: decoder}, nil
}

// send connects, writes the request, and half-closes the write side
// so the server's read loop sees a clean EOF.
func (c *Client) send(ctx context.Context, action string, fields map[string]any) (net.Conn, error) {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}
	return conn, nil
}

// Stream is an open frame stream from a streaming action.
type Stream struct {
	conn    net.Conn
	decoder *codec.Decoder
}

// Next decodes the next frame into target. Returns io.EOF when the
// server ends the stream.
func (s *Stream) Next(target any) error {
	return s.decoder.Decode(target)
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}
