package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/skosovsky/promptvault"
)

// Creator creates dev records from drafts; *registry.Registry implements it.
type Creator interface {
	Create(ctx context.Context, draft promptvault.PromptDraft) (promptvault.PromptRecord, error)
}

// Report lists the outcome of one Run.
type Report struct {
	Created []string `json:"created" yaml:"created"`
	Skipped []string `json:"skipped" yaml:"skipped"`
	Failed  []string `json:"failed" yaml:"failed"`
}

// Runner feeds drafts to a Creator.
type Runner struct {
	creator Creator
	logger  *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner returns a Runner creating records through creator.
func NewRunner(creator Creator, opts ...Option) *Runner {
	r := &Runner{creator: creator, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run creates a record for every draft, stamping operator on each. Drafts whose record already exists
// are skipped, so re-running an ingestion is a no-op. Other failures do not stop the run; they are
// listed in the report and returned joined.
func (r *Runner) Run(ctx context.Context, drafts []promptvault.PromptDraft, operator string) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	for _, d := range drafts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		d.Operator = operator
		label := d.Name
		if err := promptvault.ValidateIdentity(d.Name, d.Domain, d.AgentType); err == nil {
			label = promptvault.PromptID(d.AgentType, d.Domain, d.Name, promptvault.EnvDev)
		}
		rec, err := r.creator.Create(ctx, d)
		switch {
		case err == nil:
			rep.Created = append(rep.Created, rec.PromptID)
			r.logger.Info("prompt ingested", zap.String("prompt_id", rec.PromptID))
		case errors.Is(err, promptvault.ErrDuplicateRecord):
			rep.Skipped = append(rep.Skipped, label)
			r.logger.Info("prompt already exists, skipped", zap.String("prompt_id", label))
		default:
			rep.Failed = append(rep.Failed, label)
			errs = append(errs, fmt.Errorf("ingest %s: %w", label, err))
			r.logger.Warn("prompt not ingested", zap.String("prompt", label), zap.Error(err))
		}
	}
	return rep, errors.Join(errs...)
}
