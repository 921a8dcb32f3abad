// internal/clock/clock.go
//
// The turn clock manager owns one authoritative countdown per
// (session, player) pair. Every timer instance delivers either ticks
// followed by exactly one expiry, or a cancellation — never both. Expiry
// handlers remove the timer from the active set before running, so a
// racing Clear either wins outright or observes nothing to clear.
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Key identifies one turn clock. A struct key avoids the ambiguity of
// delimiter-joined id strings.
type Key struct {
	SessionID uuid.UUID
	PlayerID  uuid.UUID
}

// TickFunc receives periodic countdown notifications. Ticks are advisory
// and may be dropped under load; expiry never is.
type TickFunc func(key Key, remainingSec int)

// ExpireFunc runs when a clock counts down to zero. It is invoked at most
// once per timer instance, off the scheduler goroutine's critical path.
type ExpireFunc func(key Key)

type turnClock struct {
	key       Key
	duration  time.Duration
	startedAt time.Time
	expiry    *time.Timer
	stopTick  chan struct{}
	onTick    TickFunc
	onExpire  ExpireFunc
}

// Manager schedules and cancels turn clocks. Construct one per process
// with NewManager and inject it; its lifecycle runs app-start to
// app-shutdown, ended by Cleanup.
type Manager struct {
	mu     sync.Mutex
	clocks map[Key]*turnClock
	log    *logrus.Logger
}

func NewManager(log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		clocks: make(map[Key]*turnClock),
		log:    log,
	}
}

// Start schedules a countdown for the key, cancelling any prior clock for
// the same key first so at most one live clock exists per (session,
// player) at any instant.
func (m *Manager) Start(sessionID, playerID uuid.UUID, duration time.Duration, onTick TickFunc, onExpire ExpireFunc) {
	key := Key{SessionID: sessionID, PlayerID: playerID}
	m.mu.Lock()
	m.stopLocked(key)
	c := &turnClock{
		key:       key,
		duration:  duration,
		startedAt: time.Now(),
		stopTick:  make(chan struct{}),
		onTick:    onTick,
		onExpire:  onExpire,
	}
	c.expiry = time.AfterFunc(duration, func() { m.fire(key, c) })
	m.clocks[key] = c
	m.mu.Unlock()

	if onTick != nil {
		go m.tickLoop(c)
	}
}

// ResetForBonus restarts the key's clock with its original duration,
// preserving the callbacks. Returns false if no clock is live for the key.
func (m *Manager) ResetForBonus(sessionID, playerID uuid.UUID) bool {
	key := Key{SessionID: sessionID, PlayerID: playerID}
	m.mu.Lock()
	c, ok := m.clocks[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	duration, onTick, onExpire := c.duration, c.onTick, c.onExpire
	m.mu.Unlock()

	m.Start(sessionID, playerID, duration, onTick, onExpire)
	return true
}

// Clear cancels the key's clock. No-op if none is live.
func (m *Manager) Clear(sessionID, playerID uuid.UUID) {
	m.mu.Lock()
	m.stopLocked(Key{SessionID: sessionID, PlayerID: playerID})
	m.mu.Unlock()
}

// ClearAll cancels every clock belonging to the session. Callers invoke
// this synchronously inside completion/pause handling so no stale expiry
// can act on a session that has moved on.
func (m *Manager) ClearAll(sessionID uuid.UUID) {
	m.mu.Lock()
	for key := range m.clocks {
		if key.SessionID == sessionID {
			m.stopLocked(key)
		}
	}
	m.mu.Unlock()
}

// Cleanup cancels every clock in the manager. Called at app shutdown.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	for key := range m.clocks {
		m.stopLocked(key)
	}
	m.mu.Unlock()
}

// Remaining recomputes the seconds left from the wall clock, so restarts
// of externally persisted timers don't trust a stored counter.
func (m *Manager) Remaining(sessionID, playerID uuid.UUID) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clocks[Key{SessionID: sessionID, PlayerID: playerID}]
	if !ok {
		return 0, false
	}
	rem := c.duration - time.Since(c.startedAt)
	if rem < 0 {
		rem = 0
	}
	return int(rem.Round(time.Second).Seconds()), true
}

// Active reports whether a clock is live for the key.
func (m *Manager) Active(sessionID, playerID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.clocks[Key{SessionID: sessionID, PlayerID: playerID}]
	return ok
}

// Count returns the number of live clocks.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clocks)
}

// stopLocked cancels and removes the key's clock. Assumes m.mu is held.
func (m *Manager) stopLocked(key Key) {
	c, ok := m.clocks[key]
	if !ok {
		return
	}
	c.expiry.Stop()
	close(c.stopTick)
	delete(m.clocks, key)
}

// fire runs when the expiry timer goes off. The clock removes itself from
// the active set before invoking the handler; if a Clear already removed
// it (or Start replaced it), the expiry loses the race and does nothing.
func (m *Manager) fire(key Key, c *turnClock) {
	m.mu.Lock()
	cur, ok := m.clocks[key]
	if !ok || cur != c {
		m.mu.Unlock()
		return
	}
	delete(m.clocks, key)
	close(c.stopTick)
	m.mu.Unlock()

	if c.onExpire == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(logrus.Fields{
				"session": key.SessionID,
				"player":  key.PlayerID,
			}).Errorf("turn clock expiry handler panicked: %v", r)
		}
	}()
	c.onExpire(key)
}

func (m *Manager) tickLoop(c *turnClock) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopTick:
			return
		case <-ticker.C:
			rem := c.duration - time.Since(c.startedAt)
			if rem <= 0 {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Errorf("turn clock tick handler panicked: %v", r)
					}
				}()
				c.onTick(c.key, int(rem.Round(time.Second).Seconds()))
			}()
		}
	}
}
