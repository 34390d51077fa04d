package model

import "time"

// PeerRecord is a single entry in the PeerRegistry, per spec.md §3: a
// known node's identity, reachability and reputation standing. Peers are
// keyed by NodeID, never by URL — a peer's URL can change across restarts
// without losing its reputation history (spec.md §4.11 Design Notes).
type PeerRecord struct {
	NodeID   string // hex(pubkey), the peer's stable identity
	PubKey   string // hex-encoded ECDSA P-256 public key
	URL      string // "" for non-public (inbound-only) peers
	IsPublic bool

	// State is the looplab/fsm lifecycle state: "discovered", "active",
	// "unreachable" or "banned".
	State string

	LastSeen time.Time

	ReputationScore int // clamped to [-100, 100]
	Violations      []ReputationViolation
}

// ReputationViolation records a single severity-weighted infraction, per
// spec.md §4.11's scoring table. Violations older than the GC window
// (86400s) are pruned by PeerRegistry's periodic sweep.
type ReputationViolation struct {
	Type     string
	Severity int
	At       time.Time
}
