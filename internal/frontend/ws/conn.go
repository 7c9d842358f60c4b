package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/turepagans/tris/internal/protocol"
)

// Conn adapts a WebSocket connection to the frontend.Conn contract.
// WebSocket is already message-oriented, so each binary message carries one
// payload with no length prefix; the payload serialization is identical to
// the TCP framing.
type Conn struct {
	raw *websocket.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an upgraded WebSocket connection.
//
// Precondition: raw must be a valid, open WebSocket connection.
func NewConn(raw *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		writeTimeout: writeTimeout,
	}
}

// ReadMessage blocks until the next binary or text message arrives and
// decodes it. Transport errors surface as framing failures so the session
// loop treats them as a disconnect, same as on TCP.
func (c *Conn) ReadMessage() (protocol.Message, error) {
	_, payload, err := c.raw.ReadMessage()
	if err != nil {
		return nil, &protocol.FramingError{Op: "reading websocket message", Err: err}
	}
	return protocol.DecodePayload(payload)
}

// WriteMessage encodes and sends one message. Writes are serialized under
// the write mutex; gorilla connections support only one concurrent writer.
func (c *Conn) WriteMessage(msg protocol.Message) error {
	payload, err := protocol.EncodePayload(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.raw.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return &protocol.FramingError{Op: "writing websocket message", Err: err}
	}
	return nil
}

// Close closes the underlying WebSocket connection exactly once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}
