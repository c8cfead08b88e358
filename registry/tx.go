package registry

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skosovsky/promptvault"
	"github.com/skosovsky/promptvault/internal/cast"
)

// Tx is the staging area of one Update unit. Reads see earlier writes of the same unit.
// A unit writes at most one record; staging a write to a second one fails with ErrMultiRecordUnit.
type Tx struct {
	r      *Registry
	now    time.Time
	staged map[string]promptvault.PromptRecord
	writes []pendingWrite
}

type pendingWrite struct {
	id     string
	create bool
}

func newTx(r *Registry) *Tx {
	return &Tx{
		r:      r,
		now:    r.now().UTC().Truncate(time.Microsecond),
		staged: make(map[string]promptvault.PromptRecord),
	}
}

// Now returns the timestamp stamped on every write of this unit, at microsecond precision.
func (tx *Tx) Now() time.Time { return tx.now }

// Get returns a deep copy of the record stored (or staged) under id.
func (tx *Tx) Get(id string) (promptvault.PromptRecord, error) {
	if err := promptvault.ValidateID(id); err != nil {
		return promptvault.PromptRecord{}, &promptvault.RecordError{Op: "get", PromptID: id, Err: err}
	}
	rec, ok := tx.lookup(id)
	if !ok {
		return promptvault.PromptRecord{}, &promptvault.RecordError{Op: "get", PromptID: id, Err: promptvault.ErrNotFound}
	}
	return rec.Clone(), nil
}

// Exists reports whether a record is stored (or staged) under id.
func (tx *Tx) Exists(id string) bool {
	_, ok := tx.lookup(id)
	return ok
}

func (tx *Tx) lookup(id string) (promptvault.PromptRecord, bool) {
	if rec, ok := tx.staged[id]; ok {
		return rec, true
	}
	rec, ok := tx.r.records[id]
	return rec, ok
}

// Create stages a new record built from draft in draft.Environment (dev when empty).
// Unlike Registry.Create it accepts any environment; the migration engine uses it to create promotion targets.
func (tx *Tx) Create(draft promptvault.PromptDraft) (promptvault.PromptRecord, error) {
	operator := strings.TrimSpace(draft.Operator)
	if operator == "" {
		return promptvault.PromptRecord{}, fmt.Errorf("registry: create %q: %w", draft.Name, promptvault.ErrMissingOperator)
	}
	env := draft.Environment
	if env == "" {
		env = promptvault.EnvDev
	}
	if !env.Valid() {
		return promptvault.PromptRecord{}, fmt.Errorf("%w: %q", promptvault.ErrInvalidEnvironment, env)
	}
	if err := promptvault.ValidateIdentity(draft.Name, draft.Domain, draft.AgentType); err != nil {
		return promptvault.PromptRecord{}, err
	}
	if !allowed(tx.r.domains, draft.Domain) {
		return promptvault.PromptRecord{}, fmt.Errorf("%w: domain %q is not allowed", promptvault.ErrInvalidDraft, draft.Domain)
	}
	if !allowed(tx.r.agentTypes, draft.AgentType) {
		return promptvault.PromptRecord{}, fmt.Errorf("%w: agent_type %q is not allowed", promptvault.ErrInvalidDraft, draft.AgentType)
	}

	params := draft.ModelParameters
	if params == nil {
		params = tx.r.defaults
	}
	params, err := cast.CanonicalMap(params)
	if err != nil {
		return promptvault.PromptRecord{}, fmt.Errorf("%w: model_parameters: %w", promptvault.ErrInvalidDraft, err)
	}
	meta, err := cast.CanonicalMap(draft.Metadata)
	if err != nil {
		return promptvault.PromptRecord{}, fmt.Errorf("%w: metadata: %w", promptvault.ErrInvalidDraft, err)
	}
	if params == nil {
		params = map[string]any{}
	}
	if meta == nil {
		meta = map[string]any{}
	}

	id := promptvault.PromptID(draft.AgentType, draft.Domain, draft.Name, env)
	if err := tx.claim("create", id); err != nil {
		return promptvault.PromptRecord{}, err
	}
	if tx.Exists(id) {
		return promptvault.PromptRecord{}, &promptvault.RecordError{Op: "create", PromptID: id, Err: promptvault.ErrDuplicateRecord}
	}
	note := draft.ChangeNote
	if note == "" {
		note = NoteInitial
	}
	rec := promptvault.PromptRecord{
		PromptID:        id,
		Name:            draft.Name,
		Domain:          draft.Domain,
		AgentType:       draft.AgentType,
		Environment:     env,
		CurrentVersion:  promptvault.InitialVersion,
		CreatedAt:       tx.now,
		UpdatedAt:       tx.now,
		ModelParameters: params,
		Metadata:        meta,
		Versions: map[int]promptvault.Version{
			promptvault.InitialVersion: {
				Version:            promptvault.InitialVersion,
				SystemInstructions: draft.SystemInstructions,
				Template:           draft.Template,
				CreatedAt:          tx.now,
				CreatedBy:          operator,
				ChangeNote:         note,
			},
		},
	}
	tx.staged[id] = rec
	tx.writes = append(tx.writes, pendingWrite{id: id, create: true})
	tx.r.logger.Debug("create staged", zap.String("prompt_id", id), zap.Stringer("environment", env))
	return rec.Clone(), nil
}

// AppendVersion stages content as version current_version+1 of id and makes it current.
func (tx *Tx) AppendVersion(id string, content promptvault.Content, createdBy, changeNote string) (promptvault.Version, error) {
	createdBy = strings.TrimSpace(createdBy)
	if createdBy == "" {
		return promptvault.Version{}, &promptvault.RecordError{Op: "add_version", PromptID: id, Err: promptvault.ErrMissingOperator}
	}
	rec, err := tx.Get(id)
	if err != nil {
		return promptvault.Version{}, err
	}
	if err := tx.claim("add_version", id); err != nil {
		return promptvault.Version{}, err
	}
	v := promptvault.Version{
		Version:            rec.CurrentVersion + 1,
		SystemInstructions: content.SystemInstructions,
		Template:           content.Template,
		CreatedAt:          tx.now,
		CreatedBy:          createdBy,
		ChangeNote:         changeNote,
	}
	rec.Versions[v.Version] = v
	rec.CurrentVersion = v.Version
	rec.UpdatedAt = tx.now

	if _, already := tx.staged[id]; !already {
		tx.writes = append(tx.writes, pendingWrite{id: id})
	}
	tx.staged[id] = rec
	tx.r.logger.Debug("version staged", zap.String("prompt_id", id), zap.Int("version", v.Version))
	return v, nil
}

// claim rejects a write to id when the unit already writes another record: a unit persists as a
// single store call or not at all.
func (tx *Tx) claim(op, id string) error {
	if len(tx.writes) > 0 && tx.writes[0].id != id {
		return &promptvault.RecordError{Op: op, PromptID: id, Err: promptvault.ErrMultiRecordUnit}
	}
	return nil
}

func allowed(set map[string]struct{}, v string) bool {
	if set == nil {
		return true
	}
	_, ok := set[v]
	return ok
}
