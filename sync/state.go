// Package sync implements the SyncOrchestrator and SyncStateManager of
// spec.md §4.10: two-phase handshake negotiation, push/pull sync driving,
// and the concurrency caps spec.md §5 names ("at most one active pull; at
// most three active pushes; attempts beyond these fail fast with 503").
// Grounded on the teacher's use of go.uber.org/atomic for lock-free
// concurrency counters alongside a locked map for the bounded per-peer
// tracker, the same pairing services/blockvalidation.Server uses for its
// own in-flight-request bookkeeping.
package sync

import (
	stdsync "sync"

	"go.uber.org/atomic"

	"github.com/ledgerd/node/errors"
)

const (
	// MaxActivePulls is the pull-sync concurrency cap, per spec.md §4.10.
	MaxActivePulls = 1
	// MaxActivePushes is the push-sync concurrency cap, per spec.md §4.10.
	MaxActivePushes = 3
	// MaxPushTargets bounds the push-sync-target tracker, per spec.md
	// §4.10 ("tracker bounded to 100 peers; oldest displaced when full").
	MaxPushTargets = 100
)

// StateManager enforces spec.md §4.10/§5's sync concurrency bounds.
type StateManager struct {
	activePulls  atomic.Int32
	activePushes atomic.Int32

	mu          stdsync.Mutex
	pushTargets map[string]struct{}
	pushOrder   []string
}

// NewStateManager returns an empty StateManager.
func NewStateManager() *StateManager {
	return &StateManager{pushTargets: make(map[string]struct{})}
}

// AcquirePull reserves the single pull-sync slot, returning a release
// function. Returns ERR_BUSY if a pull is already in flight.
func (s *StateManager) AcquirePull() (func(), error) {
	if !s.activePulls.CompareAndSwap(0, 1) {
		return nil, errors.New(errors.ERR_BUSY, "sync: pull already in progress")
	}
	return func() { s.activePulls.Store(0) }, nil
}

// AcquirePush reserves one of the push-sync slots targeting nodeID. Only
// one push-sync may target a given peer at once; a second attempt at the
// same peer is rejected even if push slots remain free.
func (s *StateManager) AcquirePush(nodeID string) (func(), error) {
	if s.activePushes.Load() >= MaxActivePushes {
		return nil, errors.New(errors.ERR_BUSY, "sync: max concurrent pushes reached")
	}

	s.mu.Lock()
	if _, already := s.pushTargets[nodeID]; already {
		s.mu.Unlock()
		return nil, errors.New(errors.ERR_BUSY, "sync: push already targeting this peer")
	}
	if len(s.pushOrder) >= MaxPushTargets {
		oldest := s.pushOrder[0]
		s.pushOrder = s.pushOrder[1:]
		delete(s.pushTargets, oldest)
	}
	s.pushTargets[nodeID] = struct{}{}
	s.pushOrder = append(s.pushOrder, nodeID)
	s.mu.Unlock()

	s.activePushes.Add(1)
	return func() {
		s.activePushes.Add(-1)
		s.mu.Lock()
		delete(s.pushTargets, nodeID)
		s.mu.Unlock()
	}, nil
}

// ActivePulls reports the current pull-sync count, for diagnostics/tests.
func (s *StateManager) ActivePulls() int32 { return s.activePulls.Load() }

// ActivePushes reports the current push-sync count, for diagnostics/tests.
func (s *StateManager) ActivePushes() int32 { return s.activePushes.Load() }
