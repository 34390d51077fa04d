package model

import "time"

// MempoolEntry is a single pending transaction record, per spec.md §3:
// the transaction itself plus the wall-clock time it was admitted, used
// by eviction (oldest-first) and conflict-sweep ordering.
type MempoolEntry struct {
	TxHash        string
	Tx            Transaction
	InsertionTime time.Time
}
