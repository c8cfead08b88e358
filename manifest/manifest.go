// Package manifest is the append-only audit trail of migration attempts.
// Entries are validated, persisted through a promptvault.MigrationLog and only then exposed.
package manifest

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/skosovsky/promptvault"
)

// Manifest holds migration records in append order. It is safe for concurrent use.
type Manifest struct {
	log    promptvault.MigrationLog
	logger *zap.Logger

	mu      sync.RWMutex
	entries []promptvault.MigrationRecord
	ids     map[string]struct{}
}

// Option configures a Manifest.
type Option func(*Manifest)

// WithLogger sets the logger. Default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(m *Manifest) {
		if l != nil {
			m.logger = l
		}
	}
}

// Open loads the existing entries of log. Entries that fail validation or repeat an id
// fail the load with promptvault.ErrCorruptDocument.
func Open(ctx context.Context, log promptvault.MigrationLog, opts ...Option) (*Manifest, error) {
	m := &Manifest{
		log:    log,
		logger: zap.NewNop(),
		ids:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	loaded, err := log.LoadMigrations(ctx)
	if err != nil {
		return nil, err
	}
	for i, rec := range loaded {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", promptvault.ErrCorruptDocument, i, err)
		}
		if _, dup := m.ids[rec.MigrationID]; dup {
			return nil, fmt.Errorf("%w: entry %d: duplicate migration_id %q", promptvault.ErrCorruptDocument, i, rec.MigrationID)
		}
		m.ids[rec.MigrationID] = struct{}{}
		m.entries = append(m.entries, rec.Clone())
	}
	return m, nil
}

// Append validates rec and durably appends it. A rejected or failed append changes nothing.
func (m *Manifest) Append(ctx context.Context, rec promptvault.MigrationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.ids[rec.MigrationID]; dup {
		return fmt.Errorf("%w: duplicate migration_id %q", promptvault.ErrInvalidMigration, rec.MigrationID)
	}
	rec = rec.Clone()
	if err := m.log.AppendMigration(ctx, rec); err != nil {
		m.logger.Warn("manifest append failed", zap.String("migration_id", rec.MigrationID), zap.Error(err))
		return err
	}
	m.ids[rec.MigrationID] = struct{}{}
	m.entries = append(m.entries, rec)
	m.logger.Debug("manifest append", zap.String("migration_id", rec.MigrationID), zap.String("status", string(rec.Status)))
	return nil
}

// List returns a copy of all entries in append order.
func (m *Manifest) List() []promptvault.MigrationRecord {
	return m.filter(nil)
}

// ForPrompt returns the entries in which id is the source or the target, in append order.
func (m *Manifest) ForPrompt(id string) []promptvault.MigrationRecord {
	return m.filter(func(rec promptvault.MigrationRecord) bool {
		return rec.SourcePromptID == id || rec.TargetPromptID == id
	})
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Manifest) filter(keep func(promptvault.MigrationRecord) bool) []promptvault.MigrationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]promptvault.MigrationRecord, 0, len(m.entries))
	for _, rec := range m.entries {
		if keep == nil || keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out
}
