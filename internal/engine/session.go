package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/player"
)

// Session binds one player to the inventory they carry.
//
// The Store locks itself. mu guards the player only and is never held while
// the Store is mutated, because Store observers take it again. Commands hold
// active for reading; Release holds it for writing.
type Session struct {
	ID    string
	Store *inventory.Store

	mu     sync.Mutex
	player *player.Player

	active     sync.RWMutex
	released   bool
	lastActive atomic.Int64
}

func newSession(p *player.Player, store *inventory.Store) *Session {
	s := &Session{
		ID:     p.ID,
		Store:  store,
		player: p,
	}
	s.lastActive.Store(time.Now().UnixNano())
	return s
}

// LastActive returns when the session last ran a command.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// enter marks the start of a command. It fails once the session is released.
func (s *Session) enter() bool {
	s.active.RLock()
	if s.released {
		s.active.RUnlock()
		return false
	}
	s.lastActive.Store(time.Now().UnixNano())
	return true
}

func (s *Session) leave() {
	s.active.RUnlock()
}

// Player returns a copy of the session's player.
func (s *Session) Player() player.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.player
}

// Equipped returns the slot in hand, or player.NoSlot.
func (s *Session) Equipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player.EquippedSlot
}

// Capture returns the player and the occupied slots, for persistence.
func (s *Session) Capture() (player.Player, []inventory.Record) {
	return s.Player(), s.Store.Snapshot()
}

func (s *Session) withPlayer(fn func(p *player.Player)) {
	s.mu.Lock()
	fn(s.player)
	s.mu.Unlock()
}
