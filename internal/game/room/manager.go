package room

import "sync"

// Manager is the active-room registry. Rooms are added when created and
// removed when their last member detaches; lookups during move dispatch go
// through here.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewManager creates an empty room Manager.
func NewManager() *Manager {
	return &Manager{rooms: make(map[string]*Room)}
}

// Add registers a room.
func (m *Manager) Add(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID()] = r
}

// Get returns the room with the given id.
//
// Postcondition: Returns (room, true) if found, or (nil, false) otherwise.
func (m *Manager) Get(id string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Remove deletes the room with the given id. Removing an absent id is a
// no-op so teardown can run twice safely.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, id)
}

// RoomFor returns the active room playerID belongs to, if any.
// A player is a member of at most one room.
func (m *Manager) RoomFor(playerID string) (*Room, bool) {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	// Membership checks take each room's own lock, so they happen outside
	// the manager lock to respect the lock ordering.
	for _, r := range rooms {
		if r.HasPlayer(playerID) {
			return r, true
		}
	}
	return nil, false
}

// Count returns the number of active rooms.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
