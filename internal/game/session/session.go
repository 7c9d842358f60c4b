// Package session runs the per-connection command loop: login, action
// dispatch, and exactly-once cleanup. One Handler serves every connection;
// per-connection state lives on the stack of HandleSession.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/turepagans/tris/internal/frontend"
	"github.com/turepagans/tris/internal/game/lobby"
	"github.com/turepagans/tris/internal/game/registry"
	"github.com/turepagans/tris/internal/game/room"
	"github.com/turepagans/tris/internal/protocol"
)

// Handler implements frontend.SessionHandler over the registry, room
// manager, and lobby.
type Handler struct {
	registry *registry.Registry
	rooms    *room.Manager
	lobby    *lobby.Lobby
	logger   *zap.Logger
}

// NewHandler creates a session Handler with the given dependencies.
//
// Precondition: all arguments must be non-nil.
func NewHandler(reg *registry.Registry, rooms *room.Manager, lb *lobby.Lobby, logger *zap.Logger) *Handler {
	return &Handler{
		registry: reg,
		rooms:    rooms,
		lobby:    lb,
		logger:   logger,
	}
}

// HandleSession drives one connection from login to close. The session
// moves AwaitingLogin → Active → Closed; any decode failure or an explicit
// logout closes it. Cleanup runs exactly once per connection, guarded by a
// per-session sync.Once, no matter which path detects the failure first.
//
// Postcondition: The connection is closed and, if a login succeeded, the
// player has been removed from every shared structure.
func (h *Handler) HandleSession(ctx context.Context, conn frontend.Conn) error {
	playerID, err := h.awaitLogin(conn)
	if err != nil {
		return err
	}
	if playerID == "" {
		// Rejected login: the reason has been sent; close without registering.
		return nil
	}

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			h.lobby.Disconnect(playerID)
			_ = conn.Close()
		})
	}
	defer cleanup()

	h.registry.BroadcastPresence()
	h.logger.Info("player joined",
		zap.String("player", playerID),
		zap.String("remote_addr", conn.RemoteAddr()),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := conn.ReadMessage()
		if err != nil {
			// Framing and serialization failures are both fatal to the
			// connection; either way this session is over.
			return fmt.Errorf("session %s: %w", playerID, err)
		}

		if done := h.dispatch(playerID, conn, msg); done {
			return nil
		}
	}
}

// awaitLogin reads and answers the first message. It returns the registered
// player id, or "" when the login was rejected and answered.
func (h *Handler) awaitLogin(conn frontend.Conn) (string, error) {
	msg, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("awaiting login: %w", err)
	}

	if msg.Action() != "join" {
		h.reject(conn, "First message must be a join")
		return "", nil
	}

	candidate := msg.Str("player_id")
	if !registry.ValidID(candidate) {
		h.reject(conn, "Nickname must be 3-15 letters and digits")
		return "", nil
	}

	if _, err := h.registry.Register(candidate, conn); err != nil {
		if errors.Is(err, registry.ErrDuplicateID) {
			h.reject(conn, "Nickname already taken")
			return "", nil
		}
		return "", fmt.Errorf("registering %q: %w", candidate, err)
	}

	if err := conn.WriteMessage(protocol.Message{"ok": true, "status": "online"}); err != nil {
		// The ack never arrived; undo the registration before the caller
		// runs any cleanup it no longer owns.
		h.registry.Unregister(candidate)
		return "", fmt.Errorf("acknowledging login: %w", err)
	}

	return candidate, nil
}

func (h *Handler) reject(conn frontend.Conn, reason string) {
	if err := conn.WriteMessage(protocol.Message{"ok": false, "reason": reason}); err != nil {
		h.logger.Debug("login rejection send failed", zap.Error(err))
	}
	h.logger.Info("login rejected", zap.String("reason", reason))
}

// dispatch handles one decoded message. It returns true when the session
// should close cleanly.
func (h *Handler) dispatch(playerID string, conn frontend.Conn, msg protocol.Message) bool {
	switch action := msg.Action(); action {
	case "ping":
		// Liveness no-op.
	case "logout":
		return true
	case "start_search":
		h.lobby.StartSearch(playerID, conn)
	case "leave_queue":
		h.lobby.LeaveQueue(playerID)
	case "send_invite":
		h.lobby.SendInvite(playerID, msg.Str("target_id"), conn)
	case "respond_invite":
		h.lobby.RespondInvite(playerID, msg.Str("target_id"), msg.Str("response"), conn)
	case "move":
		h.handleMove(playerID, conn, msg)
	case "leave_game":
		h.lobby.LeaveRoom(playerID, msg.Str("room_id"))
	case "back_to_lobby":
		h.lobby.LeaveRoom(playerID, "")
	case "chat":
		if text := msg.Str("message"); text != "" {
			h.lobby.Chat(playerID, text)
		}
	default:
		// Unknown tags are rejected explicitly, never silently dropped.
		h.sendError(conn, fmt.Sprintf("unknown action %q", action))
	}
	return false
}

// handleMove validates and applies one move, then broadcasts the resulting
// state to both participants. Rejections are reported inline; the session
// stays open.
func (h *Handler) handleMove(playerID string, conn frontend.Conn, msg protocol.Message) {
	pos, ok := msg.Int("pos")
	if !ok {
		h.sendError(conn, "Invalid move")
		return
	}

	rm, found := h.rooms.Get(msg.Str("room_id"))
	if !found {
		h.sendError(conn, "Room not found")
		return
	}

	state, err := rm.ApplyMove(playerID, pos)
	if err != nil {
		var roomErr *room.RoomError
		if errors.As(err, &roomErr) {
			h.sendError(conn, roomErr.Reason)
			return
		}
		h.sendError(conn, err.Error())
		return
	}

	update := protocol.Message{"type": "game_state", "data": state.Data()}
	for _, member := range rm.Conns() {
		if err := member.WriteMessage(update); err != nil {
			h.logger.Debug("state send failed",
				zap.String("room", rm.ID()),
				zap.Error(err),
			)
		}
	}

	if state.Status == room.StatusEnded {
		h.logger.Info("match ended",
			zap.String("room", rm.ID()),
			zap.String("result", state.Result),
			zap.Int("moves", rm.MoveCount()),
		)
	}
}

// sendError reports a rejected operation inline, in the same {ok, reason}
// shape move rejections have always used.
func (h *Handler) sendError(conn frontend.Conn, reason string) {
	if err := conn.WriteMessage(protocol.Message{"ok": false, "reason": reason}); err != nil {
		h.logger.Debug("error reply send failed", zap.Error(err))
	}
}
