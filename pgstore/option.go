package pgstore

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

// WithSchema places the tables in schema, creating it if needed. Default is the connection's search_path.
func WithSchema(schema string) Option {
	return func(s *Store) { s.schema = schema }
}

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) Option {
	return func(s *Store) { s.maxConns = n }
}
