// Package peerregistry implements the peer table and reputation system of
// spec.md §4.11: a lifecycle state machine per peer, severity-weighted
// violation scoring, and GC of stale violations. Grounded on the
// teacher's services/blockchain.Server finite-state-machine usage
// (b.finiteStateMachine = b.NewFiniteStateMachine(), driven by
// looplab/fsm.Event/Current) adapted from a single chain-wide FSM to one
// FSM instance per peer record, since spec.md §4.11 needs independent
// lifecycle tracking for every known node rather than one global state.
package peerregistry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ledgerd/node/errors"
	"github.com/ledgerd/node/metrics"
	"github.com/ledgerd/node/model"
	"github.com/looplab/fsm"
)

// Lifecycle states, per spec.md §4.11/§2 ("Peers enter through handshake
// or gossip, leave when unreachable (non-punitive) or banned
// (reputation-based)").
const (
	StateDiscovered  = "discovered"
	StateActive      = "active"
	StateUnreachable = "unreachable"
	StateBanned      = "banned"
)

const (
	eventSeen        = "seen"
	eventUnreachable = "unreachable"
	eventBan         = "ban"
)

// Violation type severities, per spec.md §4.11.
const (
	ViolationInvalidTx          = "invalid_transaction"
	ViolationInvalidURL         = "invalid_url"
	ViolationInvalidHandshake   = "invalid_handshake"
	ViolationInvalidBlock       = "invalid_block"
	ViolationInvalidSyncBlock   = "invalid_sync_block"
	ViolationOversizedBlock     = "oversized_block"
	ViolationNonContinuousBlock = "non_continuous_blocks"
	ViolationRejectedSync       = "rejected_sync"
	ViolationPropagationFailure = "propagation_failure"
)

var severities = map[string]int{
	ViolationInvalidTx:          2,
	ViolationInvalidURL:         3,
	ViolationInvalidHandshake:   6,
	ViolationInvalidBlock:       7,
	ViolationInvalidSyncBlock:   8,
	ViolationOversizedBlock:     3,
	ViolationNonContinuousBlock: 4,
	ViolationRejectedSync:       3,
	ViolationPropagationFailure: 1,
}

const (
	minScore          = -100
	maxScore          = 100
	banThreshold      = -100
	maxViolationsKept = 1000
	violationTTL      = 86400 * time.Second
)

type entry struct {
	record  *model.PeerRecord
	machine *fsm.FSM
}

// Registry is the central peer table, keyed by node_id. All mutation
// goes through a single lock, per spec.md §5.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// isNoTransition reports whether err is looplab/fsm's "no transition"
// sentinel, which fires when an event is a no-op in the current state
// (e.g. "seen" while already active) — not a real failure.
func isNoTransition(err error) bool {
	_, ok := err.(fsm.NoTransitionError)
	return ok
}

func newMachine(initial string) *fsm.FSM {
	return fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: eventSeen, Src: []string{StateDiscovered, StateActive, StateUnreachable}, Dst: StateActive},
			{Name: eventUnreachable, Src: []string{StateDiscovered, StateActive}, Dst: StateUnreachable},
			{Name: eventBan, Src: []string{StateDiscovered, StateActive, StateUnreachable}, Dst: StateBanned},
		},
		nil,
	)
}

// Discover registers a peer seen for the first time, or refreshes an
// existing one's contact details without touching its reputation.
func (r *Registry) Discover(ctx context.Context, nodeID, pubKey, url string, isPublic bool) (*model.PeerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[nodeID]
	if !ok {
		e = &entry{
			record: &model.PeerRecord{
				NodeID:   nodeID,
				PubKey:   pubKey,
				URL:      url,
				IsPublic: isPublic,
				State:    StateDiscovered,
			},
			machine: newMachine(StateDiscovered),
		}
		r.entries[nodeID] = e
	}

	if e.record.State == StateBanned {
		return nil, errors.New(errors.ERR_AUTH_FAILED, "peerregistry: peer is banned")
	}

	e.record.URL = url
	e.record.IsPublic = isPublic
	e.record.LastSeen = time.Now()
	if err := e.machine.Event(ctx, eventSeen); err != nil && !isNoTransition(err) {
		return nil, errors.New(errors.ERR_UNKNOWN, "peerregistry: state transition failed", err)
	}
	e.record.State = e.machine.Current()

	return copyRecord(e.record), nil
}

// MarkUnreachable demotes a peer after a network failure, non-punitively
// per spec.md §4.11 ("Unreachable ≠ malicious").
func (r *Registry) MarkUnreachable(ctx context.Context, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[nodeID]
	if !ok {
		return nil
	}
	if err := e.machine.Event(ctx, eventUnreachable); err != nil && !isNoTransition(err) {
		return errors.New(errors.ERR_UNKNOWN, "peerregistry: state transition failed", err)
	}
	e.record.State = e.machine.Current()
	return nil
}

// RecordViolation applies a severity-weighted reputation penalty, per
// spec.md §4.11's scoring table, banning the peer once its score reaches
// the threshold.
func (r *Registry) RecordViolation(ctx context.Context, nodeID, violationType string) (*model.PeerRecord, error) {
	severity, ok := severities[violationType]
	if !ok {
		return nil, errors.New(errors.ERR_INVALID_ARGUMENT, "peerregistry: unknown violation type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[nodeID]
	if !ok {
		e = &entry{
			record:  &model.PeerRecord{NodeID: nodeID, State: StateDiscovered},
			machine: newMachine(StateDiscovered),
		}
		r.entries[nodeID] = e
	}

	e.record.ReputationScore = clamp(e.record.ReputationScore-10*severity, minScore, maxScore)
	e.record.Violations = append(e.record.Violations, model.ReputationViolation{
		Type:     violationType,
		Severity: severity,
		At:       time.Now(),
	})
	if len(e.record.Violations) > maxViolationsKept {
		e.record.Violations = e.record.Violations[len(e.record.Violations)-maxViolationsKept:]
	}

	metrics.PeerReputationViolations.WithLabelValues(violationType).Inc()

	if e.record.ReputationScore <= banThreshold {
		if err := e.machine.Event(ctx, eventBan); err != nil && !isNoTransition(err) {
			return nil, errors.New(errors.ERR_UNKNOWN, "peerregistry: ban transition failed", err)
		}
		e.record.State = e.machine.Current()
	}

	return copyRecord(e.record), nil
}

// Get returns a snapshot of the named peer, or nil if unknown.
func (r *Registry) Get(nodeID string) *model.PeerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[nodeID]
	if !ok {
		return nil
	}
	return copyRecord(e.record)
}

// ListNonBanned returns every peer not in the banned state, sorted by
// node_id, for the /get_peers endpoint.
func (r *Registry) ListNonBanned() []*model.PeerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.PeerRecord, 0, len(r.entries))
	for _, e := range r.entries {
		if e.record.State != StateBanned {
			out = append(out, copyRecord(e.record))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// GC prunes violations older than violationTTL and forgets peers with no
// remaining violations and a non-negative score, per spec.md §4.11.
func (r *Registry) GC(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for nodeID, e := range r.entries {
		kept := e.record.Violations[:0:0]
		for _, v := range e.record.Violations {
			if now.Sub(v.At) <= violationTTL {
				kept = append(kept, v)
			}
		}
		e.record.Violations = kept

		if len(kept) == 0 && e.record.ReputationScore >= 0 && e.record.State != StateBanned {
			delete(r.entries, nodeID)
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func copyRecord(r *model.PeerRecord) *model.PeerRecord {
	out := *r
	out.Violations = append([]model.ReputationViolation(nil), r.Violations...)
	return &out
}
