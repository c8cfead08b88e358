// Package sqlitestore persists prompt records and the migration manifest in an embedded SQLite
// database using the pure-Go modernc.org/sqlite driver. Each write runs in one SQL transaction and
// versions are insert-only.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/skosovsky/promptvault"
)

var (
	_ promptvault.RecordStore  = (*Store)(nil)
	_ promptvault.MigrationLog = (*Store)(nil)
)

// Store is a SQLite-backed RecordStore and MigrationLog.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (creating if needed) the database at path and initializes the schema.
// path is a file path or a full "file:" DSN.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &promptvault.StorageError{Op: "open", Path: path, Err: err}
	}
	// One writer connection keeps SQLite transactions serialized within the process.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, &promptvault.StorageError{Op: "init schema", Path: path, Err: err}
	}
	s.logger.Debug("sqlite store opened", zap.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) fail(op string, err error) error {
	return &promptvault.StorageError{Op: op, Path: s.path, Err: err}
}

// LoadRecords implements promptvault.RecordStore.
func (s *Store) LoadRecords(ctx context.Context) ([]promptvault.PromptRecord, error) {
	recs, err := loadRecords(ctx, s.db, "")
	if err != nil {
		return nil, s.fail("load records", err)
	}
	return recs, nil
}

// CreateRecord implements promptvault.RecordStore.
func (s *Store) CreateRecord(ctx context.Context, rec promptvault.PromptRecord) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM prompts WHERE prompt_id = ?`, rec.PromptID).Scan(&exists)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %q", promptvault.ErrDuplicateRecord, rec.PromptID)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		params, meta, err := encodeBags(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO prompts (prompt_id, name, domain, agent_type, environment, current_version,
				created_at, updated_at, model_parameters, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.PromptID, rec.Name, rec.Domain, rec.AgentType, string(rec.Environment), rec.CurrentVersion,
			formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), params, meta,
		); err != nil {
			return err
		}
		return insertVersions(ctx, tx, rec, 0)
	})
	if err != nil {
		return s.fail("create", err)
	}
	return nil
}

// UpdateRecord implements promptvault.RecordStore. Only versions above the stored current_version are inserted.
func (s *Store) UpdateRecord(ctx context.Context, rec promptvault.PromptRecord) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		prev, err := loadRecords(ctx, tx, rec.PromptID)
		if err != nil {
			return err
		}
		if len(prev) == 0 {
			return fmt.Errorf("%w: %q", promptvault.ErrNotFound, rec.PromptID)
		}
		if err := promptvault.CheckAppendOnly(prev[0], rec); err != nil {
			return err
		}
		params, meta, err := encodeBags(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE prompts SET current_version = ?, updated_at = ?, model_parameters = ?, metadata = ?
			WHERE prompt_id = ?`,
			rec.CurrentVersion, formatTime(rec.UpdatedAt), params, meta, rec.PromptID,
		); err != nil {
			return err
		}
		return insertVersions(ctx, tx, rec, prev[0].CurrentVersion)
	})
	if err != nil {
		return s.fail("update", err)
	}
	return nil
}

// LoadMigrations implements promptvault.MigrationLog.
func (s *Store) LoadMigrations(ctx context.Context) ([]promptvault.MigrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT migration_id, source_prompt_id, target_prompt_id, source_env, target_env, source_version,
			target_version, operator, timestamp, dry_run, status, action, error
		FROM migrations ORDER BY seq`)
	if err != nil {
		return nil, s.fail("load migrations", err)
	}
	defer rows.Close()

	var out []promptvault.MigrationRecord
	for rows.Next() {
		var (
			m      promptvault.MigrationRecord
			target sql.NullInt64
			ts     string
			srcEnv string
			dstEnv string
			status string
			action string
		)
		if err := rows.Scan(&m.MigrationID, &m.SourcePromptID, &m.TargetPromptID, &srcEnv, &dstEnv, &m.SourceVersion,
			&target, &m.Operator, &ts, &m.DryRun, &status, &action, &m.Error); err != nil {
			return nil, s.fail("load migrations", err)
		}
		m.SourceEnv, m.TargetEnv = promptvault.Environment(srcEnv), promptvault.Environment(dstEnv)
		m.Status, m.Action = promptvault.MigrationStatus(status), promptvault.MigrationAction(action)
		if target.Valid {
			v := int(target.Int64)
			m.TargetVersion = &v
		}
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, s.fail("load migrations", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("load migrations", err)
	}
	return out, nil
}

// AppendMigration implements promptvault.MigrationLog.
func (s *Store) AppendMigration(ctx context.Context, rec promptvault.MigrationRecord) error {
	var target sql.NullInt64
	if rec.TargetVersion != nil {
		target = sql.NullInt64{Int64: int64(*rec.TargetVersion), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO migrations (migration_id, source_prompt_id, target_prompt_id, source_env, target_env,
			source_version, target_version, operator, timestamp, dry_run, status, action, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MigrationID, rec.SourcePromptID, rec.TargetPromptID, string(rec.SourceEnv), string(rec.TargetEnv),
		rec.SourceVersion, target, rec.Operator, formatTime(rec.Timestamp), rec.DryRun,
		string(rec.Status), string(rec.Action), rec.Error,
	)
	if err != nil {
		return s.fail("append migration", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit()
}

// loadRecords reads every record, or only id when it is non-empty.
func loadRecords(ctx context.Context, q querier, id string) ([]promptvault.PromptRecord, error) {
	promptQuery := `SELECT prompt_id, name, domain, agent_type, environment, current_version,
		created_at, updated_at, model_parameters, metadata FROM prompts`
	versionQuery := `SELECT prompt_id, version, system_instructions, template, created_at, created_by, change_note
		FROM prompt_versions`
	var args []any
	if id != "" {
		promptQuery += ` WHERE prompt_id = ?`
		versionQuery += ` WHERE prompt_id = ?`
		args = append(args, id)
	}
	promptQuery += ` ORDER BY prompt_id`

	rows, err := q.QueryContext(ctx, promptQuery, args...)
	if err != nil {
		return nil, err
	}
	var (
		out   []promptvault.PromptRecord
		index = make(map[string]int)
	)
	for rows.Next() {
		var (
			rec                  promptvault.PromptRecord
			env, created, update string
			params, meta         string
		)
		if err := rows.Scan(&rec.PromptID, &rec.Name, &rec.Domain, &rec.AgentType, &env, &rec.CurrentVersion,
			&created, &update, &params, &meta); err != nil {
			_ = rows.Close()
			return nil, err
		}
		rec.Environment = promptvault.Environment(env)
		if rec.CreatedAt, err = parseTime(created); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if rec.UpdatedAt, err = parseTime(update); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &rec.ModelParameters); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: %s model_parameters: %w", promptvault.ErrCorruptDocument, rec.PromptID, err)
		}
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: %s metadata: %w", promptvault.ErrCorruptDocument, rec.PromptID, err)
		}
		rec.Versions = make(map[int]promptvault.Version)
		index[rec.PromptID] = len(out)
		out = append(out, rec)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := q.QueryContext(ctx, versionQuery, args...)
	if err != nil {
		return nil, err
	}
	defer vrows.Close()
	for vrows.Next() {
		var (
			pid     string
			v       promptvault.Version
			created string
		)
		if err := vrows.Scan(&pid, &v.Version, &v.SystemInstructions, &v.Template, &created, &v.CreatedBy, &v.ChangeNote); err != nil {
			return nil, err
		}
		if v.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		i, ok := index[pid]
		if !ok {
			return nil, fmt.Errorf("%w: version %d of unknown prompt %q", promptvault.ErrCorruptDocument, v.Version, pid)
		}
		out[i].Versions[v.Version] = v
	}
	return out, vrows.Err()
}

func insertVersions(ctx context.Context, tx *sql.Tx, rec promptvault.PromptRecord, after int) error {
	for _, v := range rec.History() {
		if v.Version <= after {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO prompt_versions (prompt_id, version, system_instructions, template, created_at, created_by, change_note)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.PromptID, v.Version, v.SystemInstructions, v.Template, formatTime(v.CreatedAt), v.CreatedBy, v.ChangeNote,
		); err != nil {
			return err
		}
	}
	return nil
}

func encodeBags(rec promptvault.PromptRecord) (params, meta string, err error) {
	p, err := json.Marshal(orEmpty(rec.ModelParameters))
	if err != nil {
		return "", "", err
	}
	m, err := json.Marshal(orEmpty(rec.Metadata))
	if err != nil {
		return "", "", err
	}
	return string(p), string(m), nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %w", promptvault.ErrCorruptDocument, s, err)
	}
	return t, nil
}
