package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/turepagans/tris/internal/config"
	"github.com/turepagans/tris/internal/frontend"
	"github.com/turepagans/tris/internal/protocol"
)

// echoHandler replies to every inbound message until the connection drops.
type echoHandler struct{}

func (echoHandler) HandleSession(ctx context.Context, conn frontend.Conn) error {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		msg["echoed"] = true
		if err := conn.WriteMessage(msg); err != nil {
			return nil
		}
	}
}

func startAcceptor(t *testing.T, handler frontend.SessionHandler) *Acceptor {
	t.Helper()

	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 0, WriteTimeout: time.Second}
	a := NewAcceptor(cfg, handler, zaptest.NewLogger(t))

	go func() {
		if err := a.ListenAndServe(); err != nil {
			t.Errorf("serving: %v", err)
		}
	}()

	require.Eventually(t, func() bool { return a.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(a.Stop)
	return a
}

func TestAcceptorServesSessions(t *testing.T) {
	a := startAcceptor(t, echoHandler{})
	assert.True(t, a.IsRunning())

	client := dial(t, a.Addr())
	require.NoError(t, client.WriteMessage(protocol.Message{"action": "ping"}))

	reply, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", reply.Action())
	assert.Equal(t, true, reply["echoed"])
}

func TestAcceptorServesConcurrentSessions(t *testing.T) {
	a := startAcceptor(t, echoHandler{})

	clients := make([]*Conn, 4)
	for i := range clients {
		clients[i] = dial(t, a.Addr())
	}
	for i, client := range clients {
		require.NoError(t, client.WriteMessage(protocol.Message{"n": float64(i)}))
	}
	for i, client := range clients {
		reply, err := client.ReadMessage()
		require.NoError(t, err)
		n, ok := reply.Int("n")
		require.True(t, ok)
		assert.Equal(t, i, n)
	}
}

func TestAcceptorStopUnblocksSessions(t *testing.T) {
	a := startAcceptor(t, echoHandler{})

	// A connected client that never sends keeps its session blocked in
	// ReadMessage; Stop must still return promptly.
	client := dial(t, a.Addr())
	defer client.Close()

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not unblock the idle session")
	}
	assert.False(t, a.IsRunning())
}

func TestAcceptorStopIsIdempotent(t *testing.T) {
	a := startAcceptor(t, echoHandler{})
	a.Stop()
	a.Stop()
	assert.False(t, a.IsRunning())
}

func dial(t *testing.T, addr string) *Conn {
	t.Helper()
	raw, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	conn := NewConn(raw, time.Second)
	t.Cleanup(func() { conn.Close() })
	return conn
}
