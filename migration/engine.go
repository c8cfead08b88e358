// Package migration promotes prompts along the fixed environment chain dev → qa → staging → prod
// and records every attempt in the migration manifest.
//
// The target environment is always the successor of the source record's environment; callers cannot
// name one, so skipping a stage or promoting backwards cannot be expressed.
package migration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/skosovsky/promptvault"
	"github.com/skosovsky/promptvault/internal/cast"
	"github.com/skosovsky/promptvault/registry"
)

const tracerName = "github.com/skosovsky/promptvault/migration"

// UnknownEnvironment fills the environment fields of failed entries whose source could not be resolved.
const UnknownEnvironment promptvault.Environment = "unknown"

// Metadata keys added to records created by promotion.
const (
	MetaPromotedFrom        = "promoted_from"
	MetaPromotedFromVersion = "promoted_from_version"
	MetaPromotedBy          = "promoted_by"
)

// Store is the part of *registry.Registry the engine needs.
type Store interface {
	Update(ctx context.Context, fn func(tx *registry.Tx) error) error
	View(ctx context.Context, fn func(v *registry.View) error) error
	List(ctx context.Context, pred func(promptvault.PromptRecord) bool) ([]promptvault.PromptRecord, error)
}

// Recorder is the part of *manifest.Manifest the engine needs.
type Recorder interface {
	Append(ctx context.Context, rec promptvault.MigrationRecord) error
}

// Engine runs migrations one at a time so manifest order equals the order of registry mutations.
type Engine struct {
	store        Store
	manifest     Recorder
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
	idSuffix     func() string
	auditDryRuns bool

	mu sync.Mutex
}

// NewEngine returns an Engine promoting records of store and auditing into manifest.
func NewEngine(store Store, manifest Recorder, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		manifest:     manifest,
		logger:       zap.NewNop(),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
		idSuffix:     func() string { return uuid.NewString()[:8] },
		auditDryRuns: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// plan is what a migration resolves to; fields are filled as far as resolution got.
type plan struct {
	source        promptvault.PromptRecord
	found         bool
	targetEnv     promptvault.Environment
	targetID      string
	action        promptvault.MigrationAction
	targetVersion int
}

// Migrate promotes the current version of sourceID into the next environment.
//
// Malformed ids and a missing operator are rejected without a manifest entry. Any other failure of a
// real migration leaves the registry untouched, appends a failed entry and returns that entry with the
// error. A dry run resolves everything from one consistent snapshot, mutates nothing and, unless
// disabled with WithDryRunAudit, appends a dry_run entry carrying the predicted target version.
// When the promotion succeeded but its manifest entry could not be written, the entry is returned
// together with an error matching promptvault.ErrStorage; the promotion itself stands.
func (e *Engine) Migrate(ctx context.Context, sourceID string, dryRun bool, operator string) (promptvault.MigrationRecord, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return promptvault.MigrationRecord{}, &promptvault.RecordError{Op: "migrate", PromptID: sourceID, Err: promptvault.ErrMissingOperator}
	}
	if err := promptvault.ValidateID(sourceID); err != nil {
		return promptvault.MigrationRecord{}, &promptvault.RecordError{Op: "migrate", PromptID: sourceID, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "promptvault.migrate", trace.WithAttributes(
		attribute.String("promptvault.source_prompt_id", sourceID),
		attribute.Bool("promptvault.dry_run", dryRun),
	))
	defer span.End()

	var p plan
	var err error
	if dryRun {
		err = e.store.View(ctx, func(v *registry.View) error {
			var rerr error
			p, rerr = resolve(sourceID, v.Get)
			return rerr
		})
	} else {
		err = e.store.Update(ctx, func(tx *registry.Tx) error {
			var rerr error
			p, rerr = resolve(sourceID, tx.Get)
			if rerr != nil {
				return rerr
			}
			return apply(tx, p, operator)
		})
	}

	rec := e.entry(sourceID, p, operator, dryRun)
	log := e.logger.With(
		zap.String("migration_id", rec.MigrationID),
		zap.String("source_prompt_id", sourceID),
		zap.Bool("dry_run", dryRun),
	)

	span.SetAttributes(attribute.String("promptvault.migration_id", rec.MigrationID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("migration failed", zap.Error(err))
		if dryRun {
			return promptvault.MigrationRecord{}, err
		}
		rec.Status = promptvault.StatusFailed
		rec.Error = err.Error()
		if aerr := e.manifest.Append(ctx, rec); aerr != nil {
			log.Error("failed migration not recorded", zap.Error(aerr))
			return promptvault.MigrationRecord{}, errors.Join(err, aerr)
		}
		return rec, err
	}

	target := p.targetVersion
	rec.TargetVersion = &target
	rec.Action = p.action
	rec.Status = promptvault.StatusSuccess
	if dryRun {
		rec.Status = promptvault.StatusDryRun
	}
	span.SetAttributes(
		attribute.String("promptvault.target_prompt_id", rec.TargetPromptID),
		attribute.String("promptvault.action", string(rec.Action)),
		attribute.Int("promptvault.target_version", target),
	)
	log.Info("migration",
		zap.String("status", string(rec.Status)),
		zap.String("target_prompt_id", rec.TargetPromptID),
		zap.String("action", string(rec.Action)),
		zap.Int("target_version", target))

	if dryRun && !e.auditDryRuns {
		return rec, nil
	}
	if aerr := e.manifest.Append(ctx, rec); aerr != nil {
		span.RecordError(aerr)
		span.SetStatus(codes.Error, "manifest append failed")
		log.Error("migration not recorded", zap.Error(aerr))
		if errors.Is(aerr, promptvault.ErrStorage) {
			return rec, fmt.Errorf("migration: %s: manifest append: %w", rec.MigrationID, aerr)
		}
		return rec, &promptvault.StorageError{Op: "append migration", Err: aerr}
	}
	return rec, nil
}

// MigrateMatching promotes every record accepted by filter. Candidates from later environments go first,
// listing order within one environment, so each stage is promoted with the content it held before the
// batch and never with content another candidate just promoted into it. Individual failures do not stop
// the batch; their errors are joined. The returned entries cover every attempt that produced one.
func (e *Engine) MigrateMatching(ctx context.Context, filter promptvault.Filter, dryRun bool, operator string) ([]promptvault.MigrationRecord, error) {
	candidates, err := e.store.List(ctx, filter.Predicate())
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(candidates, func(a, b promptvault.PromptRecord) int {
		return b.Environment.Index() - a.Environment.Index()
	})
	var (
		out  []promptvault.MigrationRecord
		errs []error
	)
	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		entry, err := e.Migrate(ctx, rec.PromptID, dryRun, operator)
		if entry.MigrationID != "" {
			out = append(out, entry)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

func resolve(sourceID string, get func(string) (promptvault.PromptRecord, error)) (plan, error) {
	var p plan
	src, err := get(sourceID)
	if err != nil {
		if errors.Is(err, promptvault.ErrNotFound) {
			return p, &promptvault.RecordError{Op: "migrate", PromptID: sourceID, Err: promptvault.ErrNotFound}
		}
		return p, err
	}
	p.source, p.found = src, true

	next, ok := src.Environment.Next()
	if !ok {
		return p, &promptvault.RecordError{Op: "migrate", PromptID: sourceID, Err: promptvault.ErrTerminalEnvironment}
	}
	p.targetEnv = next
	p.targetID = src.IDIn(next)

	target, err := get(p.targetID)
	switch {
	case err == nil:
		p.action = promptvault.ActionUpdate
		p.targetVersion = target.CurrentVersion + 1
	case errors.Is(err, promptvault.ErrNotFound):
		p.action = promptvault.ActionCreate
		p.targetVersion = promptvault.InitialVersion
	default:
		return p, err
	}
	return p, nil
}

func apply(tx *registry.Tx, p plan, operator string) error {
	current, _ := p.source.Current()
	note := promotionNote(p.source.Environment, p.source.CurrentVersion)

	if p.action == promptvault.ActionUpdate {
		_, err := tx.AppendVersion(p.targetID, current.Content(), operator, note)
		return err
	}

	meta := cast.CloneMap(p.source.Metadata)
	if meta == nil {
		meta = make(map[string]any, 3)
	}
	meta[MetaPromotedFrom] = string(p.source.Environment)
	meta[MetaPromotedFromVersion] = p.source.CurrentVersion
	meta[MetaPromotedBy] = operator
	// A non-nil map keeps the registry from substituting its defaults for the source's parameters.
	params := cast.CloneMap(p.source.ModelParameters)
	if params == nil {
		params = map[string]any{}
	}
	_, err := tx.Create(promptvault.PromptDraft{
		Name:               p.source.Name,
		Domain:             p.source.Domain,
		AgentType:          p.source.AgentType,
		Environment:        p.targetEnv,
		SystemInstructions: current.SystemInstructions,
		Template:           current.Template,
		ModelParameters:    params,
		Metadata:           meta,
		Operator:           operator,
		ChangeNote:         note,
	})
	return err
}

func promotionNote(env promptvault.Environment, version int) string {
	return fmt.Sprintf("Promoted from %s v%d", env, version)
}

func (e *Engine) entry(sourceID string, p plan, operator string, dryRun bool) promptvault.MigrationRecord {
	now := e.now().UTC().Truncate(time.Microsecond)
	rec := promptvault.MigrationRecord{
		SourcePromptID: sourceID,
		TargetPromptID: p.targetID,
		SourceEnv:      UnknownEnvironment,
		TargetEnv:      UnknownEnvironment,
		Operator:       operator,
		Timestamp:      now,
		DryRun:         dryRun,
	}
	base := sourceID
	if p.found {
		rec.SourceEnv = p.source.Environment
		rec.SourceVersion = p.source.CurrentVersion
		base, _, _ = promptvault.SplitEnvironment(sourceID)
	}
	if p.targetEnv != "" {
		rec.TargetEnv = p.targetEnv
	}
	rec.MigrationID = fmt.Sprintf("mig_%s_%s_to_%s_%s_%s",
		base, rec.SourceEnv, rec.TargetEnv, now.Format("20060102150405"), e.idSuffix())
	return rec
}
