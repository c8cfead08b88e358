// Package memstore is an in-memory RecordStore and MigrationLog with fault injection, used by tests.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/skosovsky/promptvault"
)

// ErrInjected is the cause of faults armed with FailNext.
var ErrInjected = errors.New("memstore: injected fault")

// Store operations that can be armed to fail.
const (
	OpLoad    = "load"
	OpCreate  = "create"
	OpUpdate  = "update"
	OpAppend  = "append"
	OpLoadLog = "load_migrations"
)

var (
	_ promptvault.RecordStore  = (*Store)(nil)
	_ promptvault.MigrationLog = (*Store)(nil)
)

// Store keeps records and migrations in memory.
type Store struct {
	mu         sync.Mutex
	records    map[string]promptvault.PromptRecord
	order      []string
	migrations []promptvault.MigrationRecord
	faults     map[string]int
	calls      map[string]int
}

// New returns a Store pre-populated with records.
func New(records ...promptvault.PromptRecord) *Store {
	s := &Store{
		records: make(map[string]promptvault.PromptRecord),
		faults:  make(map[string]int),
		calls:   make(map[string]int),
	}
	for _, rec := range records {
		s.records[rec.PromptID] = rec.Clone()
		s.order = append(s.order, rec.PromptID)
	}
	return s
}

// FailNext makes the next n calls of op fail with a *promptvault.StorageError wrapping ErrInjected.
func (s *Store) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = n
}

// Calls returns how many times op was invoked, including failed calls.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) fault(op string) error {
	s.calls[op]++
	if s.faults[op] > 0 {
		s.faults[op]--
		return &promptvault.StorageError{Op: op, Err: ErrInjected}
	}
	return nil
}

// LoadRecords implements promptvault.RecordStore.
func (s *Store) LoadRecords(_ context.Context) ([]promptvault.PromptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpLoad); err != nil {
		return nil, err
	}
	out := make([]promptvault.PromptRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

// CreateRecord implements promptvault.RecordStore.
func (s *Store) CreateRecord(_ context.Context, rec promptvault.PromptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpCreate); err != nil {
		return err
	}
	if _, ok := s.records[rec.PromptID]; ok {
		return &promptvault.StorageError{Op: OpCreate, Err: fmt.Errorf("%w: %q", promptvault.ErrDuplicateRecord, rec.PromptID)}
	}
	s.records[rec.PromptID] = rec.Clone()
	s.order = append(s.order, rec.PromptID)
	return nil
}

// UpdateRecord implements promptvault.RecordStore.
func (s *Store) UpdateRecord(_ context.Context, rec promptvault.PromptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpUpdate); err != nil {
		return err
	}
	prev, ok := s.records[rec.PromptID]
	if !ok {
		return &promptvault.StorageError{Op: OpUpdate, Err: fmt.Errorf("%w: %q", promptvault.ErrNotFound, rec.PromptID)}
	}
	if err := promptvault.CheckAppendOnly(prev, rec); err != nil {
		return &promptvault.StorageError{Op: OpUpdate, Err: err}
	}
	s.records[rec.PromptID] = rec.Clone()
	return nil
}

// Record returns the stored copy of id, bypassing any registry.
func (s *Store) Record(id string) (promptvault.PromptRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec.Clone(), ok
}

// LoadMigrations implements promptvault.MigrationLog.
func (s *Store) LoadMigrations(_ context.Context) ([]promptvault.MigrationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpLoadLog); err != nil {
		return nil, err
	}
	out := make([]promptvault.MigrationRecord, len(s.migrations))
	for i, m := range s.migrations {
		out[i] = m.Clone()
	}
	return out, nil
}

// AppendMigration implements promptvault.MigrationLog.
func (s *Store) AppendMigration(_ context.Context, rec promptvault.MigrationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpAppend); err != nil {
		return err
	}
	s.migrations = append(s.migrations, rec.Clone())
	return nil
}
