package promptvault

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/skosovsky/promptvault/internal/cast"
)

// InitialVersion is the number of the first version of every record.
const InitialVersion = 1

// Content is the instructional text of a prompt. Updates always supply it whole.
type Content struct {
	SystemInstructions string `json:"system_instructions" yaml:"system_instructions"`
	Template           string `json:"template" yaml:"template"`
}

// Version is an immutable snapshot of a prompt's content.
type Version struct {
	Version            int       `json:"version" yaml:"version"`
	SystemInstructions string    `json:"system_instructions" yaml:"system_instructions"`
	Template           string    `json:"template" yaml:"template"`
	CreatedAt          time.Time `json:"created_at" yaml:"created_at"`
	CreatedBy          string    `json:"created_by" yaml:"created_by"`
	ChangeNote         string    `json:"change_note" yaml:"change_note"`
}

// Content returns the instructional text of v.
func (v Version) Content() Content {
	return Content{SystemInstructions: v.SystemInstructions, Template: v.Template}
}

// PromptRecord is one prompt in one environment together with its full version history.
// A record never changes environment; promotion creates or updates a record in the next one.
type PromptRecord struct {
	PromptID        string          `json:"prompt_id" yaml:"prompt_id"`
	Name            string          `json:"name" yaml:"name"`
	Domain          string          `json:"domain" yaml:"domain"`
	AgentType       string          `json:"agent_type" yaml:"agent_type"`
	Environment     Environment     `json:"environment" yaml:"environment"`
	CurrentVersion  int             `json:"current_version" yaml:"current_version"`
	CreatedAt       time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" yaml:"updated_at"`
	ModelParameters map[string]any  `json:"model_parameters" yaml:"model_parameters"`
	Metadata        map[string]any  `json:"metadata" yaml:"metadata"`
	Versions        map[int]Version `json:"versions" yaml:"versions"`
}

// Clone returns a deep copy of r. Registries hand out clones so callers cannot mutate stored state.
func (r PromptRecord) Clone() PromptRecord {
	out := r
	out.ModelParameters = cast.CloneMap(r.ModelParameters)
	out.Metadata = cast.CloneMap(r.Metadata)
	if r.Versions != nil {
		out.Versions = maps.Clone(r.Versions)
	}
	return out
}

// Current returns the version current_version points at.
func (r PromptRecord) Current() (Version, bool) {
	v, ok := r.Versions[r.CurrentVersion]
	return v, ok
}

// History returns all versions ordered by version number ascending.
func (r PromptRecord) History() []Version {
	out := slices.Collect(maps.Values(r.Versions))
	slices.SortFunc(out, func(a, b Version) int { return a.Version - b.Version })
	return out
}

// VersionNumbers returns the existing version numbers ascending.
func (r PromptRecord) VersionNumbers() []int {
	return slices.Sorted(maps.Keys(r.Versions))
}

// IDIn returns the id the same prompt has in env.
func (r PromptRecord) IDIn(env Environment) string {
	return PromptID(r.AgentType, r.Domain, r.Name, env)
}

// Validate checks the structural invariants of a record: a valid id and environment,
// at least one version, versions numbered 1..current_version without gaps, and each version keyed by its own number.
func (r PromptRecord) Validate() error {
	if err := ValidateID(r.PromptID); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptDocument, err)
	}
	if !r.Environment.Valid() {
		return fmt.Errorf("%w: prompt %q: unknown environment %q", ErrCorruptDocument, r.PromptID, r.Environment)
	}
	if len(r.Versions) == 0 {
		return fmt.Errorf("%w: prompt %q has no versions", ErrCorruptDocument, r.PromptID)
	}
	if len(r.Versions) != r.CurrentVersion {
		return fmt.Errorf("%w: prompt %q has %d versions but current_version %d",
			ErrCorruptDocument, r.PromptID, len(r.Versions), r.CurrentVersion)
	}
	for n := InitialVersion; n <= r.CurrentVersion; n++ {
		v, ok := r.Versions[n]
		if !ok {
			return fmt.Errorf("%w: prompt %q is missing version %d", ErrCorruptDocument, r.PromptID, n)
		}
		if v.Version != n {
			return fmt.Errorf("%w: prompt %q version key %d holds version %d", ErrCorruptDocument, r.PromptID, n, v.Version)
		}
	}
	return nil
}

// CheckAppendOnly reports whether next is a valid successor of prev: same identity, and every
// version of prev present in next unchanged. Backings call it before replacing a stored record.
func CheckAppendOnly(prev, next PromptRecord) error {
	if prev.PromptID != next.PromptID || prev.Environment != next.Environment ||
		prev.Name != next.Name || prev.Domain != next.Domain || prev.AgentType != next.AgentType {
		return fmt.Errorf("%w: prompt %q: identity changed", ErrHistoryRewrite, prev.PromptID)
	}
	if next.CurrentVersion < prev.CurrentVersion {
		return fmt.Errorf("%w: prompt %q: current_version %d < %d", ErrHistoryRewrite, prev.PromptID, next.CurrentVersion, prev.CurrentVersion)
	}
	for n, old := range prev.Versions {
		v, ok := next.Versions[n]
		if !ok || !sameVersion(old, v) {
			return fmt.Errorf("%w: prompt %q: version %d", ErrHistoryRewrite, prev.PromptID, n)
		}
	}
	return nil
}

func sameVersion(a, b Version) bool {
	return a.Version == b.Version &&
		a.SystemInstructions == b.SystemInstructions &&
		a.Template == b.Template &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.CreatedBy == b.CreatedBy &&
		a.ChangeNote == b.ChangeNote
}

// PromptDraft is the normalized output of an ingestion adapter, handed to Registry.Create.
type PromptDraft struct {
	Name               string
	Domain             string
	AgentType          string
	Environment        Environment // empty means dev
	SystemInstructions string
	Template           string
	ModelParameters    map[string]any
	Metadata           map[string]any
	Operator           string
	ChangeNote         string // empty means "Initial version"
}

// Content returns the instructional text of the draft.
func (d PromptDraft) Content() Content {
	return Content{SystemInstructions: d.SystemInstructions, Template: d.Template}
}

// MigrationStatus is the outcome of a migration attempt.
type MigrationStatus string

// Migration outcomes.
const (
	StatusSuccess MigrationStatus = "success"
	StatusFailed  MigrationStatus = "failed"
	StatusDryRun  MigrationStatus = "dry_run"
)

// Valid reports whether s is a known status.
func (s MigrationStatus) Valid() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusDryRun
}

// MigrationAction tells whether a promotion created the target record or appended to it.
type MigrationAction string

// Migration actions.
const (
	ActionCreate MigrationAction = "create"
	ActionUpdate MigrationAction = "update"
)

// MigrationRecord is one immutable entry of the migration manifest.
type MigrationRecord struct {
	MigrationID    string          `json:"migration_id" yaml:"migration_id"`
	SourcePromptID string          `json:"source_prompt_id" yaml:"source_prompt_id"`
	TargetPromptID string          `json:"target_prompt_id" yaml:"target_prompt_id"`
	SourceEnv      Environment     `json:"source_env" yaml:"source_env"`
	TargetEnv      Environment     `json:"target_env" yaml:"target_env"`
	SourceVersion  int             `json:"source_version" yaml:"source_version"`
	TargetVersion  *int            `json:"target_version" yaml:"target_version"`
	Operator       string          `json:"operator" yaml:"operator"`
	Timestamp      time.Time       `json:"timestamp" yaml:"timestamp"`
	DryRun         bool            `json:"dry_run" yaml:"dry_run"`
	Status         MigrationStatus `json:"status" yaml:"status"`
	Action         MigrationAction `json:"action,omitempty" yaml:"action,omitempty"`
	Error          string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// Clone returns a copy of m that shares no pointers with it.
func (m MigrationRecord) Clone() MigrationRecord {
	if m.TargetVersion != nil {
		v := *m.TargetVersion
		m.TargetVersion = &v
	}
	return m
}

// Validate checks the shape of a manifest entry: an id, a known status, an error exactly when failed,
// and a target version exactly when not failed.
func (m MigrationRecord) Validate() error {
	if m.MigrationID == "" {
		return fmt.Errorf("%w: empty migration_id", ErrInvalidMigration)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("%w: %s: unknown status %q", ErrInvalidMigration, m.MigrationID, m.Status)
	}
	failed := m.Status == StatusFailed
	if failed != (m.Error != "") {
		return fmt.Errorf("%w: %s: error must be set exactly when status is failed", ErrInvalidMigration, m.MigrationID)
	}
	if failed != (m.TargetVersion == nil) {
		return fmt.Errorf("%w: %s: target_version must be null exactly when status is failed", ErrInvalidMigration, m.MigrationID)
	}
	if m.DryRun != (m.Status == StatusDryRun) {
		return fmt.Errorf("%w: %s: dry_run flag disagrees with status %q", ErrInvalidMigration, m.MigrationID, m.Status)
	}
	return nil
}

// RecordStore persists prompt records. Implementations must make each call atomic and durable
// before returning, and report failures as *StorageError.
type RecordStore interface {
	// LoadRecords returns every stored record.
	LoadRecords(ctx context.Context) ([]PromptRecord, error)
	// CreateRecord stores a new record.
	CreateRecord(ctx context.Context, rec PromptRecord) error
	// UpdateRecord replaces a stored record with a version that only appends versions.
	UpdateRecord(ctx context.Context, rec PromptRecord) error
}

// MigrationLog persists the append-only migration manifest.
type MigrationLog interface {
	// LoadMigrations returns every entry in append order.
	LoadMigrations(ctx context.Context) ([]MigrationRecord, error)
	// AppendMigration durably appends one entry.
	AppendMigration(ctx context.Context, rec MigrationRecord) error
}
