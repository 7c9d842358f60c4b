// Package lobby orchestrates everything outside a running match: the
// single-slot matchmaking queue, the invite handshake, chat routing, and
// disconnect reconciliation. It owns the waiting slot's lock; when an
// operation must also touch the registry it acquires the slot lock first,
// then the registry lock, in that fixed order.
package lobby

import (
	"sync"

	"go.uber.org/zap"

	"github.com/turepagans/tris/internal/frontend"
	"github.com/turepagans/tris/internal/game/lottery"
	"github.com/turepagans/tris/internal/game/registry"
	"github.com/turepagans/tris/internal/game/room"
	"github.com/turepagans/tris/internal/protocol"
)

// Lobby coordinates matchmaking, invites, chat, and cleanup across the
// player registry and the active rooms.
type Lobby struct {
	mu        sync.Mutex // guards the waiting slot
	waiting   *room.Room
	waitingID string // creator id holding the slot; "" when vacant

	registry *registry.Registry
	rooms    *room.Manager
	src      lottery.Source
	logger   *zap.Logger
}

// NewLobby creates a Lobby over the given registry and room manager.
//
// Precondition: all arguments must be non-nil.
func NewLobby(reg *registry.Registry, rooms *room.Manager, src lottery.Source, logger *zap.Logger) *Lobby {
	return &Lobby{
		registry: reg,
		rooms:    rooms,
		src:      src,
		logger:   logger,
	}
}

// send delivers one message to one peer: a single short attempt, failures
// logged and swallowed so one dead peer never stalls anyone else.
func (l *Lobby) send(conn frontend.Conn, msg protocol.Message) {
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(msg); err != nil {
		l.logger.Debug("lobby send failed",
			zap.String("remote_addr", conn.RemoteAddr()),
			zap.Error(err),
		)
	}
}

func matchFound(gameID string, youAre room.Symbol, opponent string) protocol.Message {
	return protocol.Message{
		"type": "match_found",
		"data": map[string]any{
			"game_id":  gameID,
			"you_are":  string(youAre),
			"opponent": opponent,
		},
	}
}

func gameState(s room.State) protocol.Message {
	return protocol.Message{"type": "game_state", "data": s.Data()}
}

// StartSearch enters playerID into the matchmaking queue. With the slot
// vacant it creates a waiting room, occupies the slot, and acknowledges with
// "waiting". With the slot occupied it joins that room: the slot is cleared,
// symbols are drawn, and both sides receive match_found naming their own
// symbol and the opponent. Occupancy flips to matched atomically under the
// slot lock, so a waiting slot can never be claimed twice. A caller who is
// not an online lobby player is rejected inline with no state change.
func (l *Lobby) StartSearch(playerID string, conn frontend.Conn) {
	l.mu.Lock()

	if l.waitingID == playerID {
		// Already holding the slot; acknowledge again, change nothing.
		l.mu.Unlock()
		l.send(conn, protocol.Message{"ok": true, "status": "waiting"})
		return
	}

	// Only lobby players may queue. A caller who is already seated in a
	// match cannot demote their status and claim a second room.
	if p, ok := l.registry.Get(playerID); !ok || p.Status != registry.StatusOnline {
		l.mu.Unlock()
		l.send(conn, protocol.Message{"ok": false, "reason": "You are already in a game or queue"})
		return
	}

	if l.waiting == nil {
		rm := room.NewWaitingRoom(playerID, conn)
		l.waiting = rm
		l.waitingID = playerID
		l.rooms.Add(rm)
		l.registry.SetStatus(playerID, registry.StatusQueued)
		l.mu.Unlock()

		l.send(conn, protocol.Message{"ok": true, "status": "waiting"})
		l.registry.BroadcastPresence()

		l.logger.Info("player queued",
			zap.String("player", playerID),
			zap.String("room", rm.ID()),
		)
		return
	}

	rm := l.waiting
	creatorID := l.waitingID
	joinerSym, err := rm.AddPlayer(playerID, conn, l.src)
	if err != nil {
		// Lost a race for the slot; the requester stays unmatched.
		l.mu.Unlock()
		l.send(conn, protocol.Message{"ok": false, "reason": err.Error()})
		return
	}

	l.waiting = nil
	l.waitingID = ""
	l.registry.SetStatus(creatorID, registry.StatusInGame)
	l.registry.SetStatus(playerID, registry.StatusInGame)
	l.mu.Unlock()

	creatorSym := room.SymbolX
	if joinerSym == room.SymbolX {
		creatorSym = room.SymbolO
	}
	creator, _ := l.registry.Get(creatorID)
	l.send(creator.Conn, matchFound(rm.ID(), creatorSym, playerID))
	l.send(conn, matchFound(rm.ID(), joinerSym, creatorID))
	l.registry.BroadcastPresence()

	l.logger.Info("match started",
		zap.String("room", rm.ID()),
		zap.String("creator", creatorID),
		zap.String("joiner", playerID),
		zap.String("joiner_symbol", string(joinerSym)),
	)
}

// LeaveQueue vacates the waiting slot if playerID holds it; otherwise it is
// a no-op. The withdrawn room is destroyed.
func (l *Lobby) LeaveQueue(playerID string) {
	l.mu.Lock()
	if l.waitingID != playerID {
		l.mu.Unlock()
		return
	}

	rm := l.waiting
	l.waiting = nil
	l.waitingID = ""
	if rm != nil {
		l.rooms.Remove(rm.ID())
	}
	l.registry.SetStatus(playerID, registry.StatusOnline)
	l.mu.Unlock()

	l.registry.BroadcastPresence()

	l.logger.Info("player left queue", zap.String("player", playerID))
}

// SendInvite asks targetID for a direct match. The invite is rejected
// immediately, with no state change, unless the target is currently online.
func (l *Lobby) SendInvite(fromID, targetID string, conn frontend.Conn) {
	if targetID == fromID {
		l.send(conn, protocol.Message{"type": "invite_error", "message": "You cannot invite yourself"})
		return
	}

	target, ok := l.registry.Get(targetID)
	if !ok || target.Status != registry.StatusOnline {
		l.send(conn, protocol.Message{"type": "invite_error", "message": "Player is not available"})
		return
	}

	l.send(target.Conn, protocol.Message{"type": "incoming_invite", "from": fromID})

	l.logger.Info("invite sent",
		zap.String("from", fromID),
		zap.String("to", targetID),
	)
}

// RespondInvite resolves a pending invite. A decline only notifies the
// inviter. An accept revalidates that the inviter is still online — not
// mid-match, not gone — and that the accepter is not seated in a match
// already, then creates a running room with the inviter as X
// and the accepter as O, marks both in-game, and sends match_found to both
// followed by the initial game_state (empty board, X to move). The state
// follows match_found on the same ordered connection, so no delay or
// acknowledgement round trip is needed.
func (l *Lobby) RespondInvite(responderID, inviterID, response string, conn frontend.Conn) {
	inviter, ok := l.registry.Get(inviterID)

	if response != "accept" {
		if ok {
			l.send(inviter.Conn, protocol.Message{"type": "invite_declined", "from": responderID})
		}
		return
	}

	if !ok || inviter.Status != registry.StatusOnline {
		// The invite went stale between send and accept.
		l.send(conn, protocol.Message{"type": "invite_error", "message": "Player is no longer available"})
		return
	}

	// An accepter who is already seated stays in their match; only lobby or
	// queued players may accept (a queued accepter vacates the slot below).
	if responder, found := l.registry.Get(responderID); !found || responder.Status == registry.StatusInGame {
		l.send(conn, protocol.Message{"type": "invite_error", "message": "You are already in a game"})
		return
	}

	// If the accepter was holding the matchmaking slot, vacate it first.
	l.mu.Lock()
	if l.waitingID == responderID && l.waiting != nil {
		l.rooms.Remove(l.waiting.ID())
		l.waiting = nil
		l.waitingID = ""
	}

	rm := room.NewInviteRoom(inviterID, inviter.Conn, responderID, conn)
	l.rooms.Add(rm)
	l.registry.SetStatus(inviterID, registry.StatusInGame)
	l.registry.SetStatus(responderID, registry.StatusInGame)
	l.mu.Unlock()

	initial := gameState(rm.State())
	l.send(inviter.Conn, matchFound(rm.ID(), room.SymbolX, responderID))
	l.send(conn, matchFound(rm.ID(), room.SymbolO, inviterID))
	l.send(inviter.Conn, initial)
	l.send(conn, initial)
	l.registry.BroadcastPresence()

	l.logger.Info("invite accepted",
		zap.String("room", rm.ID()),
		zap.String("x", inviterID),
		zap.String("o", responderID),
	)
}

// Chat routes a chat message. A room member's message is delivered only to
// the room's other member(s); everyone else's reaches every registered
// player who is not in a game, the sender included.
func (l *Lobby) Chat(senderID, text string) {
	msg := protocol.Message{
		"type": "chat_message",
		"data": map[string]any{"sender": senderID, "message": text},
	}

	if rm, ok := l.rooms.RoomFor(senderID); ok {
		for _, conn := range rm.OtherConns(senderID) {
			l.send(conn, msg)
		}
		return
	}

	for _, conn := range l.registry.ConnsWhere(func(s registry.Status) bool {
		return s != registry.StatusInGame
	}) {
		l.send(conn, msg)
	}
}

// LeaveRoom runs the leave/forfeit path for playerID against the room with
// the given id, or against whichever room the player occupies when id is
// empty. Safe to call when the player is in no room at all.
func (l *Lobby) LeaveRoom(playerID, roomID string) {
	var (
		rm *room.Room
		ok bool
	)
	if roomID != "" {
		rm, ok = l.rooms.Get(roomID)
	} else {
		rm, ok = l.rooms.RoomFor(playerID)
	}
	if !ok {
		return
	}

	l.teardown(rm, playerID, true)
	l.registry.BroadcastPresence()
}

// teardown removes playerID from rm and reconciles the fallout: a running
// match ends with a disconnect result pushed to the survivor, the leaver
// returns to online (when still registered), and an emptied room is
// destroyed. Grounded on the room's idempotent Leave, running it twice
// produces no second broadcast.
func (l *Lobby) teardown(rm *room.Room, playerID string, setOnline bool) {
	res := rm.Leave(playerID)

	if res.Ended {
		final := gameState(res.State)
		for _, conn := range res.Notify {
			l.send(conn, final)
		}
		l.logger.Info("match ended by departure",
			zap.String("room", rm.ID()),
			zap.String("player", playerID),
			zap.String("symbol", string(res.Symbol)),
		)
	}

	if res.Removed && setOnline {
		l.registry.SetStatus(playerID, registry.StatusOnline)
	}
	if res.Empty {
		l.rooms.Remove(rm.ID())
	}
}

// Disconnect reconciles a terminated session: the waiting slot is vacated if
// this player held it, any room membership runs the leave path, the player
// is unregistered, and a single presence broadcast follows once every state
// change has been applied. Every step is a no-op when already done, so the
// session's cleanup guard and a racing explicit leave cannot double-fire.
func (l *Lobby) Disconnect(playerID string) {
	l.mu.Lock()
	if l.waitingID == playerID {
		if l.waiting != nil {
			l.rooms.Remove(l.waiting.ID())
		}
		l.waiting = nil
		l.waitingID = ""
	}
	l.mu.Unlock()

	if rm, ok := l.rooms.RoomFor(playerID); ok {
		l.teardown(rm, playerID, false)
	}

	l.registry.Unregister(playerID)
	l.registry.BroadcastPresence()

	l.logger.Info("player disconnected", zap.String("player", playerID))
}

// WaitingID returns the id currently holding the matchmaking slot, or ""
// when the slot is vacant.
func (l *Lobby) WaitingID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waitingID
}
