package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAddGetRemove(t *testing.T) {
	m := NewManager()
	rm := NewWaitingRoom("alice", &fakeConn{})

	m.Add(rm)
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get(rm.ID())
	require.True(t, ok)
	assert.Same(t, rm, got)

	m.Remove(rm.ID())
	assert.Equal(t, 0, m.Count())
	_, ok = m.Get(rm.ID())
	assert.False(t, ok)

	// Repeat removal is a no-op.
	m.Remove(rm.ID())
}

func TestManagerRoomFor(t *testing.T) {
	m := NewManager()
	rm := NewInviteRoom("alice", &fakeConn{}, "bob", &fakeConn{})
	m.Add(rm)

	got, ok := m.RoomFor("bob")
	require.True(t, ok)
	assert.Same(t, rm, got)

	_, ok = m.RoomFor("carol")
	assert.False(t, ok)
}
