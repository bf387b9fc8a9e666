// Package txn implements the Transaction Manager (C13): it snapshots the
// whole frame store before a transaction step's body runs and restores it
// if the body raises an unhandled error, giving flow authors an all-or-
// nothing block of record operations. Grounded on the teacher's
// infrastructure/transaction compensation pattern and infrastructure/state
// snapshot/restore.
package txn

import (
	"fmt"

	"github.com/n3flow/core/internal/engine/frame"
)

// ErrNestedTransaction is returned when a transaction step's body tries to
// open another transaction; the original runtime does not support nesting.
var ErrNestedTransaction = fmt.Errorf("transactions cannot be nested")

// Manager runs transaction bodies against a frame.Store, restoring on
// failure.
type Manager struct {
	Frames *frame.Store
	active bool
}

// New builds a Manager bound to a frame store.
func New(frames *frame.Store) *Manager {
	return &Manager{Frames: frames}
}

// Run snapshots the store, invokes body, and restores the snapshot if body
// returns an error; the snapshot is discarded on success.
func (m *Manager) Run(body func() error) error {
	if m.active {
		return ErrNestedTransaction
	}
	m.active = true
	defer func() { m.active = false }()

	snap := m.Frames.Snapshot()
	if err := body(); err != nil {
		m.Frames.Restore(snap)
		return err
	}
	return nil
}
