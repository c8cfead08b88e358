// Package storetest holds behavior tests shared by every RecordStore / MigrationLog backing.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skosovsky/promptvault"
)

// Backing is what the shared tests exercise.
type Backing interface {
	promptvault.RecordStore
	promptvault.MigrationLog
}

// Opener returns a fresh, empty backing for one test. reopen returns a second handle on the same data.
type Opener func(t *testing.T) (store Backing, reopen func() Backing)

var base = time.Date(2026, 6, 1, 9, 30, 0, 123456000, time.UTC)

// Record returns a valid one-version record named name in dev.
func Record(name string) promptvault.PromptRecord {
	return promptvault.PromptRecord{
		PromptID:        promptvault.PromptID("adk", "tech_support", name, promptvault.EnvDev),
		Name:            name,
		Domain:          "tech_support",
		AgentType:       "adk",
		Environment:     promptvault.EnvDev,
		CurrentVersion:  1,
		CreatedAt:       base,
		UpdatedAt:       base,
		ModelParameters: map[string]any{"model": "gemini-1.5-pro", "temperature": 0.2, "stop": []any{"END"}},
		Metadata:        map[string]any{"owner": map[string]any{"team": "support"}},
		Versions: map[int]promptvault.Version{
			1: {Version: 1, SystemInstructions: "You fix routers.", Template: "{device}", CreatedAt: base, CreatedBy: "alice", ChangeNote: "Initial version"},
		},
	}
}

// Run executes the shared behavior tests against backings produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("RecordsRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s, reopen := open(t)
		rec := Record("reset_router")
		require.NoError(t, s.CreateRecord(ctx, rec))

		next := rec.Clone()
		next.Versions[2] = promptvault.Version{Version: 2, SystemInstructions: "v2", Template: "{device}!", CreatedAt: base.Add(time.Minute), CreatedBy: "bob", ChangeNote: "Updated version"}
		next.CurrentVersion = 2
		next.UpdatedAt = base.Add(time.Minute)
		require.NoError(t, s.UpdateRecord(ctx, next))

		recs, err := reopen().LoadRecords(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, next, recs[0])
		require.NoError(t, recs[0].Validate())
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)
		require.NoError(t, s.CreateRecord(ctx, Record("a")))
		err := s.CreateRecord(ctx, Record("a"))
		require.ErrorIs(t, err, promptvault.ErrStorage)
		require.ErrorIs(t, err, promptvault.ErrDuplicateRecord)
	})

	t.Run("UpdateGuards", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)
		err := s.UpdateRecord(ctx, Record("missing"))
		require.ErrorIs(t, err, promptvault.ErrNotFound)

		rec := Record("a")
		require.NoError(t, s.CreateRecord(ctx, rec))
		rewritten := rec.Clone()
		v := rewritten.Versions[1]
		v.Template = "rewritten"
		rewritten.Versions[1] = v
		err = s.UpdateRecord(ctx, rewritten)
		require.ErrorIs(t, err, promptvault.ErrHistoryRewrite)

		recs, err := s.LoadRecords(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "{device}", recs[0].Versions[1].Template)
	})

	t.Run("MigrationsInAppendOrder", func(t *testing.T) {
		ctx := context.Background()
		s, reopen := open(t)
		one := 1
		entries := []promptvault.MigrationRecord{
			{MigrationID: "mig_b", SourcePromptID: "x_dev", TargetPromptID: "x_qa", SourceEnv: promptvault.EnvDev,
				TargetEnv: promptvault.EnvQA, SourceVersion: 1, TargetVersion: &one, Operator: "op", Timestamp: base,
				Status: promptvault.StatusSuccess, Action: promptvault.ActionCreate},
			{MigrationID: "mig_a", SourcePromptID: "x_prod", SourceEnv: promptvault.EnvProd, TargetEnv: "unknown",
				SourceVersion: 3, Operator: "op", Timestamp: base.Add(time.Second),
				Status: promptvault.StatusFailed, Error: "terminal"},
			{MigrationID: "mig_c", SourcePromptID: "x_dev", TargetPromptID: "x_qa", SourceEnv: promptvault.EnvDev,
				TargetEnv: promptvault.EnvQA, SourceVersion: 1, TargetVersion: &one, Operator: "op", Timestamp: base,
				DryRun: true, Status: promptvault.StatusDryRun, Action: promptvault.ActionUpdate},
		}
		for _, e := range entries {
			require.NoError(t, s.AppendMigration(ctx, e))
		}
		got, err := reopen().LoadMigrations(ctx)
		require.NoError(t, err)
		assert.Equal(t, entries, got)
	})
}
