// Package room implements the authoritative match state machine: one Room
// owns one board, its turn order, and its membership. Status only moves
// forward (waiting → running → ended) and every mutation happens under the
// Room's own lock, independent of the registry, so unrelated matches never
// contend.
package room

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turepagans/tris/internal/frontend"
	"github.com/turepagans/tris/internal/game/lottery"
)

// Symbol is a player's mark on the board.
type Symbol string

const (
	SymbolX Symbol = "X"
	SymbolO Symbol = "O"
)

// other returns the opposing symbol.
func (s Symbol) other() Symbol {
	if s == SymbolX {
		return SymbolO
	}
	return SymbolX
}

// Status is a room's lifecycle state, in its wire spelling.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusRunning Status = "running"
	StatusEnded   Status = "ended"
)

// Result tags carried in game_state payloads.
const (
	ResultRunning = "running"
	ResultDraw    = "draw"
)

// RoomError reports a rejected room operation: invalid move, wrong turn,
// room full, player not in room. It is reported inline to the caller; the
// connection stays open and the board is untouched.
type RoomError struct {
	Reason string
}

func (e *RoomError) Error() string { return e.Reason }

// winLines are the 8 fixed winning triples: 3 rows, 3 columns, 2 diagonals.
var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Move is one entry of a room's move history.
type Move struct {
	PlayerID string
	Pos      int
}

// State is the full room snapshot returned by every move and teardown; it is
// broadcast verbatim to both participants as a game_state payload.
type State struct {
	Board  [9]Symbol
	Turn   Symbol // empty when status is not running
	Status Status
	Result string
	Winner Symbol // empty unless a decided, ended game
}

// Data converts the snapshot to its wire shape. Empty cells and the absent
// turn serialize as null, matching what clients render.
func (s State) Data() map[string]any {
	board := make([]any, len(s.Board))
	for i, cell := range s.Board {
		if cell != "" {
			board[i] = string(cell)
		}
	}

	data := map[string]any{
		"board":  board,
		"status": string(s.Status),
		"result": s.Result,
	}
	if s.Turn != "" {
		data["turn"] = string(s.Turn)
	} else {
		data["turn"] = nil
	}
	if s.Winner != "" {
		data["winner"] = string(s.Winner)
	} else {
		data["winner"] = nil
	}
	return data
}

// Room is one match. Exactly one Room owns its board; no other component
// mutates cells.
//
// Invariant: symbols is a bijection {creator, joiner} → {X, O} fixed when the
// room starts, never reassigned, and pruned together with conns when a member
// leaves; membership means presence in both maps.
// Invariant: turn is non-empty iff status == running.
type Room struct {
	mu sync.Mutex

	id      string
	symbols map[string]Symbol       // player id → symbol; "" before start
	conns   map[string]frontend.Conn // player id → connection handle
	board   [9]Symbol
	turn    Symbol
	status  Status
	result  string
	winner  Symbol
	moves   []Move

	createdAt time.Time
	endedAt   time.Time
}

// NewWaitingRoom creates a room holding only its creator, eligible to
// receive a second player through the matchmaking slot.
//
// Precondition: creatorID must be non-empty; conn must be non-nil.
func NewWaitingRoom(creatorID string, conn frontend.Conn) *Room {
	return &Room{
		id:        uuid.New().String(),
		symbols:   map[string]Symbol{creatorID: ""},
		conns:     map[string]frontend.Conn{creatorID: conn},
		status:    StatusWaiting,
		result:    ResultRunning,
		createdAt: time.Now(),
	}
}

// NewInviteRoom creates a running room directly from an accepted invite,
// bypassing the waiting state. The inviter always takes X and the accepter O.
//
// Precondition: ids must be distinct and non-empty; conns must be non-nil.
func NewInviteRoom(inviterID string, inviterConn frontend.Conn, accepterID string, accepterConn frontend.Conn) *Room {
	return &Room{
		id: uuid.New().String(),
		symbols: map[string]Symbol{
			inviterID:  SymbolX,
			accepterID: SymbolO,
		},
		conns: map[string]frontend.Conn{
			inviterID:  inviterConn,
			accepterID: accepterConn,
		},
		turn:      SymbolX,
		status:    StatusRunning,
		result:    ResultRunning,
		createdAt: time.Now(),
	}
}

// ID returns the room's opaque unique token.
func (r *Room) ID() string { return r.id }

// AddPlayer joins a second player to a waiting room and starts the match:
// symbols are assigned by an unbiased draw over the two ids, X moves first.
//
// Postcondition: On success the room is running and the returned symbol is
// the joiner's. A full or already-started room yields a RoomError and no
// state change.
func (r *Room) AddPlayer(playerID string, conn frontend.Conn, src lottery.Source) (Symbol, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.symbols[playerID]; exists {
		return "", &RoomError{Reason: "Player already in room"}
	}
	if len(r.symbols) >= 2 || r.status != StatusWaiting {
		return "", &RoomError{Reason: "Room full"}
	}

	r.symbols[playerID] = ""
	r.conns[playerID] = conn

	ids := make([]string, 0, 2)
	for id := range r.symbols {
		ids = append(ids, id)
	}
	xID, oID := lottery.DrawFirst(src, ids[0], ids[1])
	r.symbols[xID] = SymbolX
	r.symbols[oID] = SymbolO

	r.turn = SymbolX
	r.status = StatusRunning

	return r.symbols[playerID], nil
}

// Symbol returns the symbol assigned to playerID, if any.
func (r *Room) Symbol(playerID string) (Symbol, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sym, ok := r.symbols[playerID]
	return sym, ok && sym != ""
}

// Opponent returns the other member's id, if the room has one.
func (r *Room) Opponent(playerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.symbols {
		if id != playerID {
			return id, true
		}
	}
	return "", false
}

// HasPlayer reports whether playerID is a member of this room.
func (r *Room) HasPlayer(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.symbols[playerID]
	return ok
}

// Conns returns the current connection handles of the room's members.
func (r *Room) Conns() []frontend.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make([]frontend.Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// OtherConns returns the connection handles of every member except playerID.
func (r *Room) OtherConns(playerID string) []frontend.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make([]frontend.Conn, 0, len(r.conns))
	for id, c := range r.conns {
		if id != playerID {
			conns = append(conns, c)
		}
	}
	return conns
}

// Status returns the room's lifecycle state.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// State returns the current room snapshot.
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Room) stateLocked() State {
	return State{
		Board:  r.board,
		Turn:   r.turn,
		Status: r.status,
		Result: r.result,
		Winner: r.winner,
	}
}

// MoveCount returns the number of accepted moves.
func (r *Room) MoveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.moves)
}

// ApplyMove validates and applies one move. Rejections carry a reason and
// leave the board untouched: room not running, player not a member, not that
// player's turn, cell outside [0,8], or cell occupied.
//
// Postcondition: On success the returned State reflects the move and the
// resulting terminal condition (win, draw, or flipped turn). Concurrent
// calls are serialized by the room lock; the loser of the race is evaluated
// against the already-updated turn.
func (r *Room) ApplyMove(playerID string, pos int) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRunning {
		return State{}, &RoomError{Reason: "Game not running"}
	}
	sym, ok := r.symbols[playerID]
	if !ok {
		return State{}, &RoomError{Reason: "Player not in room"}
	}
	if r.turn != sym {
		return State{}, &RoomError{Reason: "Not your turn"}
	}
	if pos < 0 || pos > 8 || r.board[pos] != "" {
		return State{}, &RoomError{Reason: "Invalid move"}
	}

	r.board[pos] = sym
	r.moves = append(r.moves, Move{PlayerID: playerID, Pos: pos})

	switch {
	case r.lineWinnerLocked() != "":
		winner := r.lineWinnerLocked()
		r.status = StatusEnded
		r.endedAt = time.Now()
		r.result = fmt.Sprintf("%s_wins", winner)
		r.winner = winner
		r.turn = ""
	case r.boardFullLocked():
		r.status = StatusEnded
		r.endedAt = time.Now()
		r.result = ResultDraw
		r.turn = ""
	default:
		r.turn = sym.other()
	}

	return r.stateLocked(), nil
}

// lineWinnerLocked returns the symbol completing any of the 8 win lines,
// or "" when no full line of equal non-empty symbols exists.
func (r *Room) lineWinnerLocked() Symbol {
	for _, line := range winLines {
		a, b, c := line[0], line[1], line[2]
		if r.board[a] != "" && r.board[a] == r.board[b] && r.board[b] == r.board[c] {
			return r.board[a]
		}
	}
	return ""
}

func (r *Room) boardFullLocked() bool {
	for _, cell := range r.board {
		if cell == "" {
			return false
		}
	}
	return true
}

// LeaveResult describes the effect of removing a member.
type LeaveResult struct {
	// Removed is false when the player was already absent (repeat cleanup).
	Removed bool
	// Ended is true when this departure ended a running match. The State then
	// carries the disconnect result and must be pushed to Notify.
	Ended bool
	// State is the terminal snapshot when Ended is true.
	State State
	// Notify holds the remaining members' connections when Ended is true.
	Notify []frontend.Conn
	// Symbol is the departing player's symbol, if one was assigned.
	Symbol Symbol
	// Empty is true when no connections remain and the room can be destroyed.
	Empty bool
}

// Leave removes playerID's connection from the room. Explicit forfeit and
// disconnect teardown share this path. Running rooms end immediately with a
// "<symbol>_disconnected" result crediting the survivor; the remaining
// connection receives that state exactly once. Repeat calls for the same
// player are no-ops, so a "leave" message followed by the socket close never
// double-broadcasts.
func (r *Room) Leave(playerID string) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[playerID]; !ok {
		return LeaveResult{Removed: false, Empty: len(r.conns) == 0}
	}

	// Membership ends here: the symbol is captured for the result tag, then
	// the player is pruned from both maps so RoomFor and chat routing stop
	// treating them as a member of a room they already left.
	sym := r.symbols[playerID]
	delete(r.conns, playerID)
	delete(r.symbols, playerID)

	res := LeaveResult{
		Removed: true,
		Symbol:  sym,
		Empty:   len(r.conns) == 0,
	}

	if r.status == StatusRunning {
		r.status = StatusEnded
		r.endedAt = time.Now()
		r.result = fmt.Sprintf("%s_disconnected", sym)
		r.winner = sym.other()
		r.turn = ""

		res.Ended = true
		res.State = r.stateLocked()
		res.Notify = make([]frontend.Conn, 0, len(r.conns))
		for _, c := range r.conns {
			res.Notify = append(res.Notify, c)
		}
	}

	return res
}
