package filestore

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRetry sets how many times a document write is attempted and the delay between attempts.
// Default is 3 attempts, 50ms apart.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.attempts = attempts
		}
		s.delay = delay
	}
}
