// Package registry tracks connected players and broadcasts presence.
// All methods are safe for concurrent use; every mutation happens under a
// single registry-wide lock, and fan-out happens outside it so a slow peer
// never blocks registration or status changes.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/turepagans/tris/internal/frontend"
	"github.com/turepagans/tris/internal/protocol"
)

// Status is a player's presence state, in its wire spelling.
type Status string

const (
	// StatusOnline marks a player in the lobby, available for invites.
	StatusOnline Status = "online"
	// StatusQueued marks a player holding or waiting in the matchmaking slot.
	StatusQueued Status = "waiting"
	// StatusInGame marks a player who is a member of a running or just-ended room.
	StatusInGame Status = "ingame"
)

// ErrDuplicateID is returned when a candidate id is already registered.
// The duplicate is rejected; the existing registration is never overwritten.
var ErrDuplicateID = errors.New("nickname already taken")

// idPattern: 3-15 alphanumeric characters.
const (
	minIDLen = 3
	maxIDLen = 15
)

// ValidID reports whether id is a legal player identifier:
// 3-15 characters, letters and digits only.
func ValidID(id string) bool {
	if len(id) < minIDLen || len(id) > maxIDLen {
		return false
	}
	for _, r := range id {
		isDigit := r >= '0' && r <= '9'
		isLower := r >= 'a' && r <= 'z'
		isUpper := r >= 'A' && r <= 'Z'
		if !isDigit && !isLower && !isUpper {
			return false
		}
	}
	return true
}

// Player is one registered player's record.
type Player struct {
	// ID is the unique nickname chosen at login.
	ID string
	// Conn is the connection handle owned by this player's session.
	Conn frontend.Conn
	// Status is the presence state at snapshot time.
	Status Status
}

// Presence is one entry of the broadcast player list.
type Presence struct {
	Name   string
	Status Status
}

// Registry is the mapping from player id to record.
type Registry struct {
	mu      sync.Mutex
	players map[string]*Player
	logger  *zap.Logger
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger must be non-nil.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		players: make(map[string]*Player),
		logger:  logger,
	}
}

// Register creates a record for id. Uniqueness is enforced here, under the
// registry lock: a duplicate id is rejected with ErrDuplicateID, never
// overwritten.
//
// Precondition: id must satisfy ValidID; conn must be non-nil.
// Postcondition: On success the player is registered with StatusOnline.
func (r *Registry) Register(id string, conn frontend.Conn) (*Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.players[id]; exists {
		return nil, fmt.Errorf("registering %q: %w", id, ErrDuplicateID)
	}

	p := &Player{ID: id, Conn: conn, Status: StatusOnline}
	r.players[id] = p
	return p, nil
}

// Unregister removes the record for id. Removing an absent id is a no-op,
// so disconnect cleanup can run from any state.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, id)
}

// SetStatus updates a player's presence state. Unknown ids are ignored;
// a status change can race a disconnect and lose.
func (r *Registry) SetStatus(id string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.players[id]; ok {
		p.Status = status
	}
}

// Get returns a copy of the record for id.
//
// Postcondition: Returns (player, true) if found, or (zero, false) otherwise.
func (r *Registry) Get(id string) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.players[id]; ok {
		return *p, true
	}
	return Player{}, false
}

// Snapshot returns the full presence list, ordered by ascending id.
func (r *Registry) Snapshot() []Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Presence {
	list := make([]Presence, 0, len(r.players))
	for _, p := range r.players {
		list = append(list, Presence{Name: p.ID, Status: p.Status})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Count returns the number of registered players.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// BroadcastPresence sends the full presence snapshot to every registered
// connection. The snapshot and the connection list are taken under the lock;
// the sends happen outside it. Each send is a single best-effort attempt —
// a failure is logged and swallowed, never retried, and never aborts
// delivery to the remaining peers.
func (r *Registry) BroadcastPresence() {
	r.mu.Lock()
	snapshot := r.snapshotLocked()
	conns := make([]frontend.Conn, 0, len(r.players))
	for _, p := range r.players {
		conns = append(conns, p.Conn)
	}
	r.mu.Unlock()

	data := make([]protocol.Message, len(snapshot))
	for i, pr := range snapshot {
		data[i] = protocol.Message{"name": pr.Name, "status": string(pr.Status)}
	}
	msg := protocol.Message{"type": "player_list_update", "data": data}

	for _, conn := range conns {
		if err := conn.WriteMessage(msg); err != nil {
			r.logger.Debug("presence send failed",
				zap.String("remote_addr", conn.RemoteAddr()),
				zap.Error(err),
			)
		}
	}
}

// ConnsWhere returns the connections of every registered player whose status
// satisfies pred. Used for lobby-wide fan-out such as chat routing.
func (r *Registry) ConnsWhere(pred func(Status) bool) []frontend.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]frontend.Conn, 0, len(r.players))
	for _, p := range r.players {
		if pred(p.Status) {
			conns = append(conns, p.Conn)
		}
	}
	return conns
}
