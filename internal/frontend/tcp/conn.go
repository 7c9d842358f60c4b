package tcp

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/turepagans/tris/internal/protocol"
)

// Conn wraps a raw TCP connection with frame-level reading and writing.
// Reads are owned by the session goroutine; writes may come from any
// goroutine (presence broadcasts, opponent moves) and are serialized under
// the write mutex so frames never interleave.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps a raw TCP connection for framed message exchange.
//
// Precondition: raw must be a valid, open network connection.
func NewConn(raw net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		writeTimeout: writeTimeout,
	}
}

// ReadMessage blocks until one full frame is read and decoded.
// No read deadline is applied: a silent peer is reclaimed only when the
// transport closes the connection.
func (c *Conn) ReadMessage() (protocol.Message, error) {
	return protocol.Decode(c.reader)
}

// WriteMessage encodes and writes one frame. A short write deadline bounds
// the attempt so a dead peer cannot stall the sender; failures are returned,
// not retried.
func (c *Conn) WriteMessage(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return protocol.Encode(c.raw, msg)
}

// Close closes the underlying TCP connection exactly once.
// Subsequent calls return the first result.
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
