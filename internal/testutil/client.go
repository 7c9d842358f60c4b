// Package testutil provides a framed-protocol test client for integration
// testing against a real listener.
package testutil

import (
	"net"
	"testing"
	"time"

	"github.com/turepagans/tris/internal/protocol"
)

// Client is a simple framed-protocol test client.
type Client struct {
	conn net.Conn
	t    *testing.T
}

// NewClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected Client or fails the test.
func NewClient(t *testing.T, addr string) *Client {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return &Client{conn: conn, t: t}
}

// Send encodes and writes one message, failing the test on error.
func (c *Client) Send(msg protocol.Message) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := protocol.Encode(c.conn, msg); err != nil {
		c.t.Fatalf("sending %v: %v", msg, err)
	}
}

// Recv blocks for the next message, failing the test on error or timeout.
func (c *Client) Recv(timeout time.Duration) protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	msg, err := protocol.Decode(c.conn)
	if err != nil {
		c.t.Fatalf("receiving: %v", err)
	}
	return msg
}

// RecvType reads messages until one with the given "type" field arrives,
// discarding everything else (presence churn, chat). Fails on timeout.
func (c *Client) RecvType(msgType string, timeout time.Duration) protocol.Message {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("timed out waiting for message type %q", msgType)
		}
		_ = c.conn.SetReadDeadline(deadline)
		msg, err := protocol.Decode(c.conn)
		if err != nil {
			c.t.Fatalf("receiving while waiting for %q: %v", msgType, err)
		}
		if msg.Str("type") == msgType {
			return msg
		}
	}
}

// Login sends a join for id and asserts the server accepts it.
func (c *Client) Login(id string) {
	c.t.Helper()
	c.Send(protocol.Message{"action": "join", "player_id": id})
	reply := c.Recv(5 * time.Second)
	if ok, _ := reply["ok"].(bool); !ok {
		c.t.Fatalf("login as %q rejected: %v", id, reply)
	}
}

// Close closes the underlying connection.
func (c *Client) Close() {
	c.conn.Close()
}
