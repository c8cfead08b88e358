// Package pgstore persists prompt records and the migration manifest in PostgreSQL through a pgx
// connection pool. Writes run in one transaction each; updates lock the prompt row and only insert
// versions above the stored current_version.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/skosovsky/promptvault"
)

var (
	_ promptvault.RecordStore  = (*Store)(nil)
	_ promptvault.MigrationLog = (*Store)(nil)
)

// Store is a PostgreSQL-backed RecordStore and MigrationLog.
type Store struct {
	pool     *pgxpool.Pool
	logger   *zap.Logger
	schema   string
	maxConns int32
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Open connects to dsn, verifies the connection and initializes the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &promptvault.StorageError{Op: "parse dsn", Err: err}
	}
	if s.maxConns > 0 {
		poolCfg.MaxConns = s.maxConns
	}
	if s.schema != "" {
		poolCfg.ConnConfig.RuntimeParams["search_path"] = quoteSchema(s.schema)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &promptvault.StorageError{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &promptvault.StorageError{Op: "ping", Err: err}
	}
	s.pool = pool

	if s.schema != "" {
		if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteSchema(s.schema)); err != nil {
			pool.Close()
			return nil, &promptvault.StorageError{Op: "create schema", Err: err}
		}
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, &promptvault.StorageError{Op: "init schema", Err: err}
	}
	s.logger.Debug("postgres store opened", zap.String("schema", s.schema))
	return s, nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// LoadRecords implements promptvault.RecordStore.
func (s *Store) LoadRecords(ctx context.Context) ([]promptvault.PromptRecord, error) {
	recs, err := loadRecords(ctx, s.pool, "", false)
	if err != nil {
		return nil, &promptvault.StorageError{Op: "load records", Err: err}
	}
	return recs, nil
}

// CreateRecord implements promptvault.RecordStore.
func (s *Store) CreateRecord(ctx context.Context, rec promptvault.PromptRecord) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO prompts (prompt_id, name, domain, agent_type, environment, current_version,
				created_at, updated_at, model_parameters, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (prompt_id) DO NOTHING`,
			rec.PromptID, rec.Name, rec.Domain, rec.AgentType, string(rec.Environment), rec.CurrentVersion,
			rec.CreatedAt, rec.UpdatedAt, orEmpty(rec.ModelParameters), orEmpty(rec.Metadata),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %q", promptvault.ErrDuplicateRecord, rec.PromptID)
		}
		return insertVersions(ctx, tx, rec, 0)
	})
	if err != nil {
		return &promptvault.StorageError{Op: "create", Err: err}
	}
	return nil
}

// UpdateRecord implements promptvault.RecordStore.
func (s *Store) UpdateRecord(ctx context.Context, rec promptvault.PromptRecord) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		prev, err := loadRecords(ctx, tx, rec.PromptID, true)
		if err != nil {
			return err
		}
		if len(prev) == 0 {
			return fmt.Errorf("%w: %q", promptvault.ErrNotFound, rec.PromptID)
		}
		if err := promptvault.CheckAppendOnly(prev[0], rec); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE prompts SET current_version = $1, updated_at = $2, model_parameters = $3, metadata = $4
			WHERE prompt_id = $5`,
			rec.CurrentVersion, rec.UpdatedAt, orEmpty(rec.ModelParameters), orEmpty(rec.Metadata), rec.PromptID,
		); err != nil {
			return err
		}
		return insertVersions(ctx, tx, rec, prev[0].CurrentVersion)
	})
	if err != nil {
		return &promptvault.StorageError{Op: "update", Err: err}
	}
	return nil
}

// LoadMigrations implements promptvault.MigrationLog.
func (s *Store) LoadMigrations(ctx context.Context) ([]promptvault.MigrationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT migration_id, source_prompt_id, target_prompt_id, source_env, target_env, source_version,
			target_version, operator, timestamp, dry_run, status, action, error
		FROM migrations ORDER BY seq`)
	if err != nil {
		return nil, &promptvault.StorageError{Op: "load migrations", Err: err}
	}
	defer rows.Close()

	var out []promptvault.MigrationRecord
	for rows.Next() {
		var (
			m              promptvault.MigrationRecord
			srcEnv, dstEnv string
			status, action string
			target         *int
		)
		if err := rows.Scan(&m.MigrationID, &m.SourcePromptID, &m.TargetPromptID, &srcEnv, &dstEnv, &m.SourceVersion,
			&target, &m.Operator, &m.Timestamp, &m.DryRun, &status, &action, &m.Error); err != nil {
			return nil, &promptvault.StorageError{Op: "load migrations", Err: err}
		}
		m.SourceEnv, m.TargetEnv = promptvault.Environment(srcEnv), promptvault.Environment(dstEnv)
		m.Status, m.Action = promptvault.MigrationStatus(status), promptvault.MigrationAction(action)
		m.TargetVersion = target
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &promptvault.StorageError{Op: "load migrations", Err: err}
	}
	return out, nil
}

// AppendMigration implements promptvault.MigrationLog.
func (s *Store) AppendMigration(ctx context.Context, rec promptvault.MigrationRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO migrations (migration_id, source_prompt_id, target_prompt_id, source_env, target_env,
			source_version, target_version, operator, timestamp, dry_run, status, action, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.MigrationID, rec.SourcePromptID, rec.TargetPromptID, string(rec.SourceEnv), string(rec.TargetEnv),
		rec.SourceVersion, rec.TargetVersion, rec.Operator, rec.Timestamp, rec.DryRun,
		string(rec.Status), string(rec.Action), rec.Error,
	)
	if err != nil {
		return &promptvault.StorageError{Op: "append migration", Err: err}
	}
	return nil
}

// loadRecords reads every record, or only id when it is non-empty. forUpdate locks the selected prompt rows.
func loadRecords(ctx context.Context, q querier, id string, forUpdate bool) ([]promptvault.PromptRecord, error) {
	promptQuery := `SELECT prompt_id, name, domain, agent_type, environment, current_version,
		created_at, updated_at, model_parameters, metadata FROM prompts`
	versionQuery := `SELECT prompt_id, version, system_instructions, template, created_at, created_by, change_note
		FROM prompt_versions`
	var args []any
	if id != "" {
		promptQuery += ` WHERE prompt_id = $1`
		versionQuery += ` WHERE prompt_id = $1`
		args = append(args, id)
	}
	promptQuery += ` ORDER BY prompt_id`
	if forUpdate {
		promptQuery += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, promptQuery, args...)
	if err != nil {
		return nil, err
	}
	var (
		out   []promptvault.PromptRecord
		index = make(map[string]int)
	)
	for rows.Next() {
		var (
			rec promptvault.PromptRecord
			env string
		)
		if err := rows.Scan(&rec.PromptID, &rec.Name, &rec.Domain, &rec.AgentType, &env, &rec.CurrentVersion,
			&rec.CreatedAt, &rec.UpdatedAt, &rec.ModelParameters, &rec.Metadata); err != nil {
			rows.Close()
			return nil, err
		}
		rec.Environment = promptvault.Environment(env)
		rec.CreatedAt, rec.UpdatedAt = rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()
		rec.Versions = make(map[int]promptvault.Version)
		index[rec.PromptID] = len(out)
		out = append(out, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := q.Query(ctx, versionQuery, args...)
	if err != nil {
		return nil, err
	}
	defer vrows.Close()
	for vrows.Next() {
		var (
			pid string
			v   promptvault.Version
		)
		if err := vrows.Scan(&pid, &v.Version, &v.SystemInstructions, &v.Template, &v.CreatedAt, &v.CreatedBy, &v.ChangeNote); err != nil {
			return nil, err
		}
		v.CreatedAt = v.CreatedAt.UTC()
		i, ok := index[pid]
		if !ok {
			return nil, fmt.Errorf("%w: version %d of unknown prompt %q", promptvault.ErrCorruptDocument, v.Version, pid)
		}
		out[i].Versions[v.Version] = v
	}
	return out, vrows.Err()
}

func insertVersions(ctx context.Context, tx pgx.Tx, rec promptvault.PromptRecord, after int) error {
	batch := &pgx.Batch{}
	for _, v := range rec.History() {
		if v.Version <= after {
			continue
		}
		batch.Queue(`
			INSERT INTO prompt_versions (prompt_id, version, system_instructions, template, created_at, created_by, change_note)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.PromptID, v.Version, v.SystemInstructions, v.Template, v.CreatedAt.Truncate(time.Microsecond), v.CreatedBy, v.ChangeNote)
	}
	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}

// quoteSchema quotes name so that search_path and CREATE SCHEMA refer to the same, case-preserved schema.
func quoteSchema(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
