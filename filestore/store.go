package filestore

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/skosovsky/promptvault"
)

// Document file names inside the store directory.
const (
	RegistryFile = "prompt_registry.json"
	ManifestFile = "migration_manifest.json"
)

var (
	_ promptvault.RecordStore  = (*Store)(nil)
	_ promptvault.MigrationLog = (*Store)(nil)
)

type registryDocument struct {
	Prompts map[string]promptvault.PromptRecord `json:"prompts"`
}

type manifestDocument struct {
	Migrations []promptvault.MigrationRecord `json:"migrations"`
}

// Store is a directory holding the registry and manifest documents.
// One process owns the directory; Store serializes writes within that process.
type Store struct {
	dir      string
	logger   *zap.Logger
	attempts uint
	delay    time.Duration
	rename   func(oldpath, newpath string) error

	mu         sync.Mutex
	prompts    map[string]promptvault.PromptRecord
	migrations []promptvault.MigrationRecord
}

// Open creates dir if needed and loads both documents. Missing documents load as empty.
// A document that is not valid JSON fails with an error matching both promptvault.ErrStorage
// and promptvault.ErrCorruptDocument.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:      dir,
		logger:   zap.NewNop(),
		attempts: 3,
		delay:    50 * time.Millisecond,
		rename:   os.Rename,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &promptvault.StorageError{Op: "open", Path: dir, Err: err}
	}

	var reg registryDocument
	if err := s.readJSON(RegistryFile, &reg); err != nil {
		return nil, err
	}
	s.prompts = make(map[string]promptvault.PromptRecord, len(reg.Prompts))
	for id, rec := range reg.Prompts {
		if rec.PromptID != id {
			return nil, &promptvault.StorageError{Op: "load", Path: s.path(RegistryFile),
				Err: fmt.Errorf("%w: key %q holds prompt %q", promptvault.ErrCorruptDocument, id, rec.PromptID)}
		}
		s.prompts[id] = rec
	}

	var man manifestDocument
	if err := s.readJSON(ManifestFile, &man); err != nil {
		return nil, err
	}
	s.migrations = man.Migrations
	s.logger.Debug("filestore opened",
		zap.String("dir", dir),
		zap.Int("prompts", len(s.prompts)),
		zap.Int("migrations", len(s.migrations)))
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) readJSON(name string, v any) error {
	path := s.path(name)
	data, err := os.ReadFile(path) // #nosec G304 -- path is the store's own document
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &promptvault.StorageError{Op: "read", Path: path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &promptvault.StorageError{Op: "decode", Path: path, Err: fmt.Errorf("%w: %w", promptvault.ErrCorruptDocument, err)}
	}
	return nil
}

// writeJSON replaces the named document atomically, retrying transient failures.
func (s *Store) writeJSON(ctx context.Context, name string, v any) error {
	path := s.path(name)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &promptvault.StorageError{Op: "encode", Path: path, Err: err}
	}
	err = retry.Do(
		func() error { return s.replaceFile(path, data) },
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("document write failed, retrying", zap.String("path", path), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return &promptvault.StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (s *Store) replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := s.rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

// LoadRecords implements promptvault.RecordStore. Records are returned ordered by prompt_id.
func (s *Store) LoadRecords(ctx context.Context) ([]promptvault.PromptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]promptvault.PromptRecord, 0, len(s.prompts))
	for _, rec := range s.prompts {
		out = append(out, rec.Clone())
	}
	slices.SortFunc(out, func(a, b promptvault.PromptRecord) int { return cmp.Compare(a.PromptID, b.PromptID) })
	return out, nil
}

// CreateRecord implements promptvault.RecordStore.
func (s *Store) CreateRecord(ctx context.Context, rec promptvault.PromptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prompts[rec.PromptID]; ok {
		return &promptvault.StorageError{Op: "create", Path: s.path(RegistryFile),
			Err: fmt.Errorf("%w: %q", promptvault.ErrDuplicateRecord, rec.PromptID)}
	}
	return s.commitPrompt(ctx, rec)
}

// UpdateRecord implements promptvault.RecordStore. Updates that change identity or existing
// versions are rejected with promptvault.ErrHistoryRewrite.
func (s *Store) UpdateRecord(ctx context.Context, rec promptvault.PromptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.prompts[rec.PromptID]
	if !ok {
		return &promptvault.StorageError{Op: "update", Path: s.path(RegistryFile),
			Err: fmt.Errorf("%w: %q", promptvault.ErrNotFound, rec.PromptID)}
	}
	if err := promptvault.CheckAppendOnly(prev, rec); err != nil {
		return &promptvault.StorageError{Op: "update", Path: s.path(RegistryFile), Err: err}
	}
	return s.commitPrompt(ctx, rec)
}

func (s *Store) commitPrompt(ctx context.Context, rec promptvault.PromptRecord) error {
	next := maps.Clone(s.prompts)
	next[rec.PromptID] = rec.Clone()
	if err := s.writeJSON(ctx, RegistryFile, registryDocument{Prompts: next}); err != nil {
		return err
	}
	s.prompts = next
	return nil
}

// LoadMigrations implements promptvault.MigrationLog.
func (s *Store) LoadMigrations(ctx context.Context) ([]promptvault.MigrationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]promptvault.MigrationRecord, len(s.migrations))
	for i, m := range s.migrations {
		out[i] = m.Clone()
	}
	return out, nil
}

// AppendMigration implements promptvault.MigrationLog.
func (s *Store) AppendMigration(ctx context.Context, rec promptvault.MigrationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append(slices.Clip(s.migrations), rec.Clone())
	if err := s.writeJSON(ctx, ManifestFile, manifestDocument{Migrations: next}); err != nil {
		return err
	}
	s.migrations = next
	return nil
}
