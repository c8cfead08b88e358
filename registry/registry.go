package registry

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skosovsky/promptvault"
	"github.com/skosovsky/promptvault/internal/cast"
)

// Change notes written by the versioning engine.
const (
	NoteInitial = "Initial version"
	NoteUpdated = "Updated version"
)

// Registry is the in-memory view of all prompt records, kept consistent with its RecordStore.
// It is safe for concurrent use.
type Registry struct {
	store      promptvault.RecordStore
	logger     *zap.Logger
	now        func() time.Time
	domains    map[string]struct{}
	agentTypes map[string]struct{}
	defaults   map[string]any

	mu      sync.RWMutex
	records map[string]promptvault.PromptRecord
	order   []string // listing order: created_at, then prompt_id
}

// New loads every record from store and returns a Registry serving them.
// A record that violates the registry invariants fails the load with promptvault.ErrCorruptDocument.
func New(ctx context.Context, store promptvault.RecordStore, opts ...Option) (*Registry, error) {
	r := &Registry{
		store:    store,
		logger:   zap.NewNop(),
		now:      time.Now,
		defaults: DefaultModelParameters(),
		records:  make(map[string]promptvault.PromptRecord),
	}
	for _, opt := range opts {
		opt(r)
	}
	defaults, err := cast.CanonicalMap(r.defaults)
	if err != nil {
		return nil, fmt.Errorf("registry: default model parameters: %w", err)
	}
	r.defaults = defaults

	loaded, err := store.LoadRecords(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range loaded {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.records[rec.PromptID]; dup {
			return nil, fmt.Errorf("%w: prompt %q stored twice", promptvault.ErrCorruptDocument, rec.PromptID)
		}
		r.records[rec.PromptID] = rec.Clone()
		r.order = append(r.order, rec.PromptID)
	}
	slices.SortFunc(r.order, func(a, b string) int {
		ra, rb := r.records[a], r.records[b]
		if c := ra.CreatedAt.Compare(rb.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	r.logger.Debug("registry loaded", zap.Int("records", len(r.records)))
	return r, nil
}

// Create registers a new prompt from draft in the dev environment with version 1.
// Drafts for any other environment fail with promptvault.ErrEnvironmentNotAllowed;
// records in later environments only come into being through promotion.
func (r *Registry) Create(ctx context.Context, draft promptvault.PromptDraft) (promptvault.PromptRecord, error) {
	if draft.Environment != "" && draft.Environment != promptvault.EnvDev {
		return promptvault.PromptRecord{}, fmt.Errorf("%w: create in %q, only %q is allowed",
			promptvault.ErrEnvironmentNotAllowed, draft.Environment, promptvault.EnvDev)
	}
	var created promptvault.PromptRecord
	err := r.Update(ctx, func(tx *Tx) error {
		rec, err := tx.Create(draft)
		created = rec
		return err
	})
	if err != nil {
		return promptvault.PromptRecord{}, err
	}
	return created, nil
}

// Get returns a deep copy of the record stored under id.
func (r *Registry) Get(ctx context.Context, id string) (promptvault.PromptRecord, error) {
	if err := ctx.Err(); err != nil {
		return promptvault.PromptRecord{}, err
	}
	if err := promptvault.ValidateID(id); err != nil {
		return promptvault.PromptRecord{}, &promptvault.RecordError{Op: "get", PromptID: id, Err: err}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return promptvault.PromptRecord{}, &promptvault.RecordError{Op: "get", PromptID: id, Err: promptvault.ErrNotFound}
	}
	return rec.Clone(), nil
}

// List returns deep copies of the records accepted by pred in stable order. A nil pred accepts all.
func (r *Registry) List(ctx context.Context, pred func(promptvault.PromptRecord) bool) ([]promptvault.PromptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(pred), nil
}

func (r *Registry) list(pred func(promptvault.PromptRecord) bool) []promptvault.PromptRecord {
	out := make([]promptvault.PromptRecord, 0, len(r.order))
	for _, id := range r.order {
		rec := r.records[id]
		if pred == nil || pred(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// AddVersion appends content as version current_version+1 of id and makes it current.
// An empty changeNote becomes "Updated version".
func (r *Registry) AddVersion(ctx context.Context, id string, content promptvault.Content, createdBy, changeNote string) (promptvault.Version, error) {
	if changeNote == "" {
		changeNote = NoteUpdated
	}
	var added promptvault.Version
	err := r.Update(ctx, func(tx *Tx) error {
		v, err := tx.AppendVersion(id, content, createdBy, changeNote)
		added = v
		return err
	})
	if err != nil {
		return promptvault.Version{}, err
	}
	return added, nil
}

// Rollback appends a copy of version target's content as a new current version.
// History is never rewritten: the rollback itself becomes version current_version+1.
func (r *Registry) Rollback(ctx context.Context, id string, target int, operator, note string) (promptvault.Version, error) {
	var added promptvault.Version
	err := r.Update(ctx, func(tx *Tx) error {
		rec, err := tx.Get(id)
		if err != nil {
			return err
		}
		src, ok := rec.Versions[target]
		if !ok {
			return &promptvault.VersionError{
				PromptID:  id,
				Version:   target,
				Available: rec.VersionNumbers(),
				Err:       promptvault.ErrVersionNotFound,
			}
		}
		v, err := tx.AppendVersion(id, src.Content(), operator, RollbackNote(target, note))
		added = v
		return err
	})
	if err != nil {
		return promptvault.Version{}, err
	}
	return added, nil
}

// RollbackNote returns the change note recorded for a rollback to target.
func RollbackNote(target int, note string) string {
	if note = strings.TrimSpace(note); note != "" {
		return fmt.Sprintf("Rollback to v%d: %s", target, note)
	}
	return fmt.Sprintf("Rollback to v%d", target)
}

// History returns all versions of id ordered by version number ascending.
func (r *Registry) History(ctx context.Context, id string) ([]promptvault.Version, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.History(), nil
}

// Update runs fn as one atomic read-modify-write unit under the registry write lock.
// fn works on staged copies and may write at most one record, so the unit commits with a single
// store call; the staged record becomes visible only after that call succeeds. fn must not call
// other Registry methods.
func (r *Registry) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := newTx(r)
	if err := fn(tx); err != nil {
		return err
	}
	return r.commit(ctx, tx)
}

// View runs fn against a consistent read-only snapshot under the registry read lock.
// fn must not call other Registry methods.
func (r *Registry) View(ctx context.Context, fn func(v *View) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(&View{r: r})
}

func (r *Registry) commit(ctx context.Context, tx *Tx) error {
	for _, w := range tx.writes {
		rec := tx.staged[w.id]
		var err error
		if w.create {
			err = r.store.CreateRecord(ctx, rec)
		} else {
			err = r.store.UpdateRecord(ctx, rec)
		}
		if err != nil {
			r.logger.Warn("registry write failed", zap.String("prompt_id", w.id), zap.Bool("create", w.create), zap.Error(err))
			return err
		}
		if w.create {
			r.order = append(r.order, w.id)
		}
		r.records[w.id] = rec
		r.logger.Info("registry write",
			zap.String("prompt_id", w.id),
			zap.Bool("create", w.create),
			zap.Int("current_version", rec.CurrentVersion))
	}
	return nil
}

// View is a read-only snapshot handed to the function passed to Registry.View.
type View struct {
	r *Registry
}

// Get returns a deep copy of the record stored under id.
func (v *View) Get(id string) (promptvault.PromptRecord, error) {
	rec, ok := v.r.records[id]
	if !ok {
		return promptvault.PromptRecord{}, &promptvault.RecordError{Op: "get", PromptID: id, Err: promptvault.ErrNotFound}
	}
	return rec.Clone(), nil
}

// List returns deep copies of the records accepted by pred in stable order.
func (v *View) List(pred func(promptvault.PromptRecord) bool) []promptvault.PromptRecord {
	return v.r.list(pred)
}
