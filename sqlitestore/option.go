package sqlitestore

import "go.uber.org/zap"

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
