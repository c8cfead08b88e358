package registry

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Registry (functional options pattern).
type Option func(*Registry)

// WithLogger sets the logger. Default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source used for created_at/updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithAllowedDomains restricts the domains new records may use. Empty means any.
func WithAllowedDomains(domains ...string) Option {
	return func(r *Registry) { r.domains = toSet(domains) }
}

// WithAllowedAgentTypes restricts the agent types new records may use. Empty means any.
func WithAllowedAgentTypes(agentTypes ...string) Option {
	return func(r *Registry) { r.agentTypes = toSet(agentTypes) }
}

// WithDefaultModelParameters sets the model_parameters applied to drafts that carry none.
func WithDefaultModelParameters(params map[string]any) Option {
	return func(r *Registry) { r.defaults = params }
}

// DefaultModelParameters returns the model parameters used when none are configured.
func DefaultModelParameters() map[string]any {
	return map[string]any{
		"model":             "gemini-1.5-pro",
		"temperature":       0.7,
		"max_output_tokens": 1024.0,
		"top_p":             0.9,
		"top_k":             40.0,
	}
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
