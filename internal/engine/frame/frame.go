// Package frame implements the Frame Store (C3): the in-memory table
// registry record operations read and write against, plus snapshot/restore
// support for the Transaction Manager (C13). Grounded on the teacher's
// PersistenceBackend/MemoryBackend split for state snapshotting.
package frame

import (
	"sync"

	"github.com/n3flow/core/internal/engine/value"
)

// Row is one stored record: an ordered field map plus an internal sequence
// number used to keep query results stable across inserts/deletes.
type Row struct {
	Seq    int64
	Fields map[string]value.Value
}

// Filter is one equality/comparison clause evaluated against a row, as
// produced by the record layer's where-tree translation.
type Filter struct {
	Field string
	Op    string // "eq", "neq", "lt", "lte", "gt", "gte", "in"
	Value value.Value
}

// Frame is one named table: its rows in insertion order.
type Frame struct {
	Name string
	rows []*Row
}

// Store is the registry of all frames in a flow run, matching
// FlowRuntimeContext.frames in the original runtime.
type Store struct {
	mu     sync.RWMutex
	frames map[string]*Frame
	seq    int64
}

// NewStore builds an empty frame registry.
func NewStore() *Store {
	return &Store{frames: make(map[string]*Frame)}
}

func (s *Store) frame(name string) *Frame {
	f, ok := s.frames[name]
	if !ok {
		f = &Frame{Name: name}
		s.frames[name] = f
	}
	return f
}

// Insert appends fields as a new row in the named frame and returns it.
func (s *Store) Insert(name string, fields map[string]value.Value) *Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	row := &Row{Seq: s.seq, Fields: fields}
	f := s.frame(name)
	f.rows = append(f.rows, row)
	return row
}

// Query returns every row in the named frame matching all filters (AND
// semantics); a nil filter slice returns every row.
func (s *Store) Query(name string, filters []Filter) []*Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[name]
	if !ok {
		return nil
	}
	if len(filters) == 0 {
		out := make([]*Row, len(f.rows))
		copy(out, f.rows)
		return out
	}
	out := make([]*Row, 0, len(f.rows))
	for _, row := range f.rows {
		if matchesAll(row, filters) {
			out = append(out, row)
		}
	}
	return out
}

func matchesAll(row *Row, filters []Filter) bool {
	for _, f := range filters {
		if !matchesOne(row, f) {
			return false
		}
	}
	return true
}

func matchesOne(row *Row, f Filter) bool {
	actual, ok := row.Fields[f.Field]
	if !ok {
		actual = value.Null()
	}
	switch f.Op {
	case "eq", "":
		return value.Equal(actual, f.Value)
	case "neq":
		return !value.Equal(actual, f.Value)
	case "lt":
		return value.Compare(actual, f.Value) < 0
	case "lte":
		return value.Compare(actual, f.Value) <= 0
	case "gt":
		return value.Compare(actual, f.Value) > 0
	case "gte":
		return value.Compare(actual, f.Value) >= 0
	case "in":
		if f.Value.Kind != value.KindList {
			return false
		}
		for _, item := range f.Value.List {
			if value.Equal(actual, item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Delete removes every row in the named frame matching filters, returning
// the count removed.
func (s *Store) Delete(name string, filters []Filter) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[name]
	if !ok {
		return 0
	}
	kept := make([]*Row, 0, len(f.rows))
	removed := 0
	for _, row := range f.rows {
		if len(filters) > 0 && matchesAll(row, filters) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	f.rows = kept
	return removed
}

// Snapshot is a deep copy of the whole store, taken when a transaction
// begins so it can be restored if the body fails.
type Snapshot struct {
	frames map[string][]*Row
	seq    int64
}

// Snapshot captures the current state of every frame for later Restore.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &Snapshot{frames: make(map[string][]*Row, len(s.frames)), seq: s.seq}
	for name, f := range s.frames {
		rows := make([]*Row, len(f.rows))
		for i, row := range f.rows {
			fields := make(map[string]value.Value, len(row.Fields))
			for k, v := range row.Fields {
				fields[k] = v
			}
			rows[i] = &Row{Seq: row.Seq, Fields: fields}
		}
		snap.frames[name] = rows
	}
	return snap
}

// Restore replaces the store's contents with a previously captured
// Snapshot, discarding any writes made after it was taken.
func (s *Store) Restore(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = make(map[string]*Frame, len(snap.frames))
	for name, rows := range snap.frames {
		s.frames[name] = &Frame{Name: name, rows: rows}
	}
	s.seq = snap.seq
}
