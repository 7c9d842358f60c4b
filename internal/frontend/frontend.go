// Package frontend defines the transport-neutral connection contract shared
// by the TCP and WebSocket acceptors. The game layer only ever sees a Conn.
package frontend

import (
	"context"

	"github.com/turepagans/tris/internal/protocol"
)

// Conn is one client's bidirectional message stream. A Conn is owned by
// exactly one session for its lifetime and closed exactly once; Close is
// idempotent on every implementation.
//
// ReadMessage blocks until a full message arrives or the transport fails.
// WriteMessage is safe for concurrent use; writes to one Conn are serialized
// so messages are delivered in the order they were written.
type Conn interface {
	ReadMessage() (protocol.Message, error)
	WriteMessage(protocol.Message) error
	Close() error
	RemoteAddr() string
}

// SessionHandler processes one connected client end-to-end.
// Implementations run the login and command loop for a single Conn.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn Conn) error
}
