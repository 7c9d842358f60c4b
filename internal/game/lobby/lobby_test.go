package lobby

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/turepagans/tris/internal/game/lottery"
	"github.com/turepagans/tris/internal/game/registry"
	"github.com/turepagans/tris/internal/game/room"
	"github.com/turepagans/tris/internal/protocol"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (c *fakeConn) ReadMessage() (protocol.Message, error) {
	return nil, errors.New("not readable")
}

func (c *fakeConn) WriteMessage(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close() error       { return nil }
func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message{}, c.sent...)
}

// ofType filters the received messages by their "type" field.
func (c *fakeConn) ofType(typ string) []protocol.Message {
	var out []protocol.Message
	for _, msg := range c.messages() {
		if msg.Str("type") == typ {
			out = append(out, msg)
		}
	}
	return out
}

type fixture struct {
	registry *registry.Registry
	rooms    *room.Manager
	lobby    *Lobby
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := registry.NewRegistry(logger)
	rooms := room.NewManager()
	return &fixture{
		registry: reg,
		rooms:    rooms,
		lobby:    NewLobby(reg, rooms, lottery.NewSeededSource(1), logger),
	}
}

func (f *fixture) join(t *testing.T, id string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	_, err := f.registry.Register(id, conn)
	require.NoError(t, err)
	return conn
}

func TestStartSearchOccupiesVacantSlot(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")

	f.lobby.StartSearch("alice", alice)

	assert.Equal(t, "alice", f.lobby.WaitingID())
	p, _ := f.registry.Get("alice")
	assert.Equal(t, registry.StatusQueued, p.Status)

	msgs := alice.messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, true, msgs[0]["ok"])
	assert.Equal(t, "waiting", msgs[0].Str("status"))
	assert.Len(t, alice.ofType("player_list_update"), 1)
}

func TestStartSearchRepeatIsHarmless(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")

	f.lobby.StartSearch("alice", alice)
	f.lobby.StartSearch("alice", alice)

	assert.Equal(t, "alice", f.lobby.WaitingID())
	assert.Equal(t, 1, f.rooms.Count())
}

func TestStartSearchPairsTwoPlayers(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.lobby.StartSearch("alice", alice)
	f.lobby.StartSearch("bob", bob)

	assert.Equal(t, "", f.lobby.WaitingID(), "slot vacated by the match")

	aliceMatch := alice.ofType("match_found")
	bobMatch := bob.ofType("match_found")
	require.Len(t, aliceMatch, 1)
	require.Len(t, bobMatch, 1)

	aliceData := aliceMatch[0]["data"].(map[string]any)
	bobData := bobMatch[0]["data"].(map[string]any)

	assert.Equal(t, aliceData["game_id"], bobData["game_id"])
	assert.Equal(t, "bob", aliceData["opponent"])
	assert.Equal(t, "alice", bobData["opponent"])

	symbols := []string{aliceData["you_are"].(string), bobData["you_are"].(string)}
	assert.ElementsMatch(t, []string{"X", "O"}, symbols)

	for _, id := range []string{"alice", "bob"} {
		p, _ := f.registry.Get(id)
		assert.Equal(t, registry.StatusInGame, p.Status, "player %s", id)
	}

	rm, ok := f.rooms.Get(aliceData["game_id"].(string))
	require.True(t, ok)
	assert.Equal(t, room.StatusRunning, rm.Status())
}

func TestStartSearchRejectedWhileInGame(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.lobby.StartSearch("alice", alice)
	f.lobby.StartSearch("bob", bob)
	require.Equal(t, 1, f.rooms.Count())

	// Mid-match, alice tries to queue again.
	f.lobby.StartSearch("alice", alice)

	assert.Equal(t, "", f.lobby.WaitingID(), "a seated player cannot claim the slot")
	assert.Equal(t, 1, f.rooms.Count(), "no second room for a seated player")
	p, _ := f.registry.Get("alice")
	assert.Equal(t, registry.StatusInGame, p.Status, "status is not demoted")

	msgs := alice.messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, false, last["ok"])
	assert.Equal(t, "You are already in a game or queue", last.Str("reason"))
}

func TestRespondInviteAcceptRejectedWhileInGame(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")
	f.join(t, "carol")

	f.lobby.StartSearch("alice", alice)
	f.lobby.StartSearch("bob", bob)
	require.Equal(t, 1, f.rooms.Count())

	// Bob, already seated, tries to accept a stray invite from carol.
	f.lobby.RespondInvite("bob", "carol", "accept", bob)

	errs := bob.ofType("invite_error")
	require.Len(t, errs, 1)
	assert.Equal(t, "You are already in a game", errs[0].Str("message"))
	assert.Equal(t, 1, f.rooms.Count())
	p, _ := f.registry.Get("bob")
	assert.Equal(t, registry.StatusInGame, p.Status)
}

func TestLeaveQueueVacatesSlot(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")

	f.lobby.StartSearch("alice", alice)
	require.Equal(t, 1, f.rooms.Count())

	f.lobby.LeaveQueue("alice")

	assert.Equal(t, "", f.lobby.WaitingID())
	assert.Equal(t, 0, f.rooms.Count(), "the withdrawn room is destroyed")
	p, _ := f.registry.Get("alice")
	assert.Equal(t, registry.StatusOnline, p.Status)
}

func TestLeaveQueueByNonHolderIsNoOp(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	f.join(t, "bob")

	f.lobby.StartSearch("alice", alice)
	f.lobby.LeaveQueue("bob")

	assert.Equal(t, "alice", f.lobby.WaitingID())
}

func TestSendInviteDeliversToTarget(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	bob := f.join(t, "bob")

	f.lobby.SendInvite("alice", "bob", nil)

	invites := bob.ofType("incoming_invite")
	require.Len(t, invites, 1)
	assert.Equal(t, "alice", invites[0].Str("from"))
}

func TestSendInviteRejectsSelf(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")

	f.lobby.SendInvite("alice", "alice", alice)

	errs := alice.ofType("invite_error")
	require.Len(t, errs, 1)
	assert.Equal(t, "You cannot invite yourself", errs[0].Str("message"))
}

func TestSendInviteRejectsUnavailableTarget(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")
	f.registry.SetStatus("bob", registry.StatusInGame)

	f.lobby.SendInvite("alice", "bob", alice)
	f.lobby.SendInvite("alice", "ghost", alice)

	assert.Len(t, alice.ofType("invite_error"), 2)
	assert.Empty(t, bob.ofType("incoming_invite"))
}

func TestRespondInviteDecline(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.lobby.RespondInvite("bob", "alice", "decline", bob)

	declined := alice.ofType("invite_declined")
	require.Len(t, declined, 1)
	assert.Equal(t, "bob", declined[0].Str("from"))
	assert.Equal(t, 0, f.rooms.Count())
}

func TestRespondInviteAcceptStartsMatch(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.lobby.RespondInvite("bob", "alice", "accept", bob)

	aliceMatch := alice.ofType("match_found")
	bobMatch := bob.ofType("match_found")
	require.Len(t, aliceMatch, 1)
	require.Len(t, bobMatch, 1)

	// The inviter takes X; the accepter takes O.
	assert.Equal(t, "X", aliceMatch[0]["data"].(map[string]any)["you_are"])
	assert.Equal(t, "O", bobMatch[0]["data"].(map[string]any)["you_are"])

	// Both sides then receive the initial empty-board state, X to move.
	for _, conn := range []*fakeConn{alice, bob} {
		states := conn.ofType("game_state")
		require.Len(t, states, 1)
		data := states[0]["data"].(map[string]any)
		assert.Equal(t, "running", data["status"])
		assert.Equal(t, "X", data["turn"])
	}

	assert.Equal(t, 1, f.rooms.Count())
}

func TestRespondInviteAcceptVacatesAcceptersSlot(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	bob := f.join(t, "bob")

	f.lobby.StartSearch("bob", bob)
	require.Equal(t, "bob", f.lobby.WaitingID())

	f.lobby.RespondInvite("bob", "alice", "accept", bob)

	assert.Equal(t, "", f.lobby.WaitingID())
	assert.Equal(t, 1, f.rooms.Count(), "only the invite room remains")
}

func TestRespondInviteStaleInviter(t *testing.T) {
	f := newFixture(t)
	bob := f.join(t, "bob")

	// The inviter logged out between sending and the accept.
	f.lobby.RespondInvite("bob", "ghost", "accept", bob)

	errs := bob.ofType("invite_error")
	require.Len(t, errs, 1)
	assert.Equal(t, "Player is no longer available", errs[0].Str("message"))
	assert.Equal(t, 0, f.rooms.Count())
}

func TestChatInRoomReachesOpponentOnly(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")
	carol := f.join(t, "carol")

	f.lobby.StartSearch("alice", alice)
	f.lobby.StartSearch("bob", bob)

	f.lobby.Chat("alice", "good luck")

	bobChats := bob.ofType("chat_message")
	require.Len(t, bobChats, 1)
	data := bobChats[0]["data"].(map[string]any)
	assert.Equal(t, "alice", data["sender"])
	assert.Equal(t, "good luck", data["message"])

	assert.Empty(t, alice.ofType("chat_message"), "room chat is not echoed")
	assert.Empty(t, carol.ofType("chat_message"), "room chat stays in the room")
}

func TestChatInLobbyReachesNonPlayers(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")
	carol := f.join(t, "carol")
	f.registry.SetStatus("carol", registry.StatusInGame)

	f.lobby.Chat("alice", "anyone up for a game?")

	assert.Len(t, alice.ofType("chat_message"), 1, "lobby chat is echoed to the sender")
	assert.Len(t, bob.ofType("chat_message"), 1)
	assert.Empty(t, carol.ofType("chat_message"))
}

func TestLeaveRoomForfeitsRunningMatch(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.lobby.RespondInvite("bob", "alice", "accept", bob)

	f.lobby.LeaveRoom("alice", "")

	// The survivor receives exactly one terminal state crediting them.
	states := bob.ofType("game_state")
	require.Len(t, states, 2, "initial state plus the terminal one")
	final := states[1]["data"].(map[string]any)
	assert.Equal(t, "ended", final["status"])
	assert.Equal(t, "X_disconnected", final["result"])
	assert.Equal(t, "O", final["winner"])

	p, _ := f.registry.Get("alice")
	assert.Equal(t, registry.StatusOnline, p.Status, "the leaver returns to the lobby")
	assert.Empty(t, alice.ofType("game_state")[1:], "the leaver gets no terminal push")
}

func TestChatAfterForfeitRoutesToLobby(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")
	carol := f.join(t, "carol")

	f.lobby.RespondInvite("bob", "alice", "accept", bob)
	f.lobby.LeaveRoom("alice", "")

	f.lobby.Chat("alice", "back in the lobby")

	// Alice left the match, so her chat is lobby chat: echoed to herself and
	// carol, never to her former opponent.
	assert.Len(t, alice.ofType("chat_message"), 1)
	assert.Len(t, carol.ofType("chat_message"), 1)
	assert.Empty(t, bob.ofType("chat_message"))
}

func TestLeaveRoomWhenInNoRoom(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")
	f.lobby.LeaveRoom("alice", "")
	f.lobby.LeaveRoom("alice", "no-such-room")
}

func TestDisconnectMidMatch(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.lobby.StartSearch("alice", alice)
	f.lobby.StartSearch("bob", bob)

	f.lobby.Disconnect("alice")

	_, ok := f.registry.Get("alice")
	assert.False(t, ok, "the player is unregistered")

	states := bob.ofType("game_state")
	require.Len(t, states, 1)
	data := states[0]["data"].(map[string]any)
	assert.Equal(t, "ended", data["status"])
	assert.Contains(t, data["result"], "_disconnected")

	p, _ := f.registry.Get("bob")
	assert.Equal(t, registry.StatusInGame, p.Status, "the survivor keeps their seat until they leave")
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.lobby.StartSearch("alice", alice)
	f.lobby.StartSearch("bob", bob)

	f.lobby.Disconnect("alice")
	f.lobby.Disconnect("alice")

	// The survivor still sees exactly one terminal broadcast.
	assert.Len(t, bob.ofType("game_state"), 1)
}

func TestDisconnectWhileQueuedVacatesSlot(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "alice")

	f.lobby.StartSearch("alice", alice)
	f.lobby.Disconnect("alice")

	assert.Equal(t, "", f.lobby.WaitingID())
	assert.Equal(t, 0, f.rooms.Count())
}

// TestPropertySingleWaitingSlot interleaves searches, queue withdrawals, and
// disconnects and checks the core matchmaking invariant: at most one player
// holds the slot, and a held slot always corresponds to a live waiting room.
func TestPropertySingleWaitingSlot(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		logger := zaptest.NewLogger(t)
		reg := registry.NewRegistry(logger)
		rooms := room.NewManager()
		l := NewLobby(reg, rooms, lottery.NewSeededSource(1), logger)

		players := map[string]*fakeConn{}
		for i := 0; i < 4; i++ {
			id := fmt.Sprintf("player%d", i)
			conn := &fakeConn{}
			if _, err := reg.Register(id, conn); err != nil {
				t.Fatalf("registering %s: %v", id, err)
			}
			players[id] = conn
		}

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			id := fmt.Sprintf("player%d", rapid.IntRange(0, 3).Draw(t, "player"))
			conn := players[id]
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				if _, ok := reg.Get(id); ok {
					l.StartSearch(id, conn)
				}
			case 1:
				l.LeaveQueue(id)
			case 2:
				l.Disconnect(id)
				fresh := &fakeConn{}
				if _, err := reg.Register(id, fresh); err != nil {
					t.Fatalf("re-registering %s: %v", id, err)
				}
				players[id] = fresh
			}

			holder := l.WaitingID()
			if holder != "" {
				p, ok := reg.Get(holder)
				if !ok {
					t.Fatalf("slot held by unregistered %q", holder)
				}
				if p.Status != registry.StatusQueued {
					t.Fatalf("slot holder %q has status %q", holder, p.Status)
				}
			}
		}
	})
}
