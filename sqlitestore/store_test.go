package sqlitestore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/promptvault"
	"github.com/skosovsky/promptvault/internal/storetest"
	"github.com/skosovsky/promptvault/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openAt(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (storetest.Backing, func() storetest.Backing) {
		path := filepath.Join(t.TempDir(), "promptvault.db")
		s := openAt(t, path)
		return s, func() storetest.Backing { return openAt(t, path) }
	})
}

func TestRegistryOverSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "promptvault.db")
	reg, err := registry.New(ctx, openAt(t, path))
	require.NoError(t, err)

	rec, err := reg.Create(ctx, promptvault.PromptDraft{
		Name: "Reset Router", Domain: "tech_support", AgentType: "adk",
		SystemInstructions: "A", Template: "{device}", Operator: "alice",
	})
	require.NoError(t, err)
	_, err = reg.AddVersion(ctx, rec.PromptID, promptvault.Content{SystemInstructions: "B"}, "bob", "")
	require.NoError(t, err)
	_, err = reg.Rollback(ctx, rec.PromptID, 1, "carol", "")
	require.NoError(t, err)

	reloaded, err := registry.New(ctx, openAt(t, path))
	require.NoError(t, err)
	history, err := reloaded.History(ctx, rec.PromptID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "A", history[2].SystemInstructions)
	assert.Equal(t, "Rollback to v1", history[2].ChangeNote)
}

func TestLoad_CorruptBag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "promptvault.db")
	s := openAt(t, path)
	require.NoError(t, s.CreateRecord(ctx, storetest.Record("a")))

	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, `UPDATE prompts SET metadata = 'not json'`)
	require.NoError(t, err)

	_, err = s.LoadRecords(ctx)
	require.ErrorIs(t, err, promptvault.ErrCorruptDocument)
	require.ErrorIs(t, err, promptvault.ErrStorage)
}
