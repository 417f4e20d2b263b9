package pricing

import (
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Trend direction values.
const (
	DirectionUp      = 1
	DirectionNeutral = 0
	DirectionDown    = -1
)

// MomentumState tracks consecutive same-direction price moves for one
// company. LastChange is the fractional price change of the most recent
// tick (0.02 == +2%).
type MomentumState struct {
	Direction        int     `msgpack:"direction"`
	ConsecutiveCount int     `msgpack:"consecutive_count"`
	LastChange       float64 `msgpack:"last_change"`
}

// MomentumTracker is a process-local cache of per-company momentum
// state. It is never authoritative: losing it on restart only degrades
// momentum modeling, so snapshots go to the cache database and decode
// failures are ignored.
type MomentumTracker struct {
	mu     sync.RWMutex
	states map[int64]MomentumState
}

// NewMomentumTracker creates an empty momentum tracker.
func NewMomentumTracker() *MomentumTracker {
	return &MomentumTracker{
		states: make(map[int64]MomentumState),
	}
}

// Get returns the momentum state for a company, zero-valued if unseen.
func (t *MomentumTracker) Get(companyID int64) MomentumState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[companyID]
}

// Record updates momentum state with a tick's fractional price change
// and returns the new state. A move in the same direction extends the
// streak; a reversal or flat tick starts over.
func (t *MomentumTracker) Record(companyID int64, change float64) MomentumState {
	direction := DirectionNeutral
	if change > 0 {
		direction = DirectionUp
	} else if change < 0 {
		direction = DirectionDown
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.states[companyID]
	next := MomentumState{
		Direction:  direction,
		LastChange: change,
	}

	if direction != DirectionNeutral && direction == prev.Direction {
		next.ConsecutiveCount = prev.ConsecutiveCount + 1
	} else if direction != DirectionNeutral {
		next.ConsecutiveCount = 1
	}

	t.states[companyID] = next
	return next
}

// Forget drops a company's state. Used when a company is delisted.
func (t *MomentumTracker) Forget(companyID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, companyID)
}

// Len returns the number of tracked companies.
func (t *MomentumTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

// Snapshot serializes the tracker for a warm start after restart.
func (t *MomentumTracker) Snapshot() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	payload, err := msgpack.Marshal(t.states)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal momentum snapshot: %w", err)
	}
	return payload, nil
}

// Restore replaces the tracker contents from a snapshot payload.
func (t *MomentumTracker) Restore(payload []byte) error {
	var states map[int64]MomentumState
	if err := msgpack.Unmarshal(payload, &states); err != nil {
		return fmt.Errorf("failed to unmarshal momentum snapshot: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = states
	if t.states == nil {
		t.states = make(map[int64]MomentumState)
	}

	return nil
}
