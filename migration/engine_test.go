package migration

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/promptvault"
	"github.com/skosovsky/promptvault/internal/memstore"
	"github.com/skosovsky/promptvault/manifest"
	"github.com/skosovsky/promptvault/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const devID = "dfcx_billing_billing_payment_query_dev"

type fixture struct {
	store *memstore.Store
	reg   *registry.Registry
	man   *manifest.Manifest
	eng   *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	var seq atomic.Int64

	store := memstore.New()
	reg, err := registry.New(ctx, store, registry.WithClock(now))
	require.NoError(t, err)
	man, err := manifest.Open(ctx, store)
	require.NoError(t, err)
	opts = append([]Option{
		WithClock(now),
		WithIDSuffix(func() string { return fmt.Sprintf("%08x", seq.Add(1)) }),
	}, opts...)
	return &fixture{store: store, reg: reg, man: man, eng: NewEngine(reg, man, opts...)}
}

func (f *fixture) create(t *testing.T, content string) promptvault.PromptRecord {
	t.Helper()
	rec, err := f.reg.Create(context.Background(), promptvault.PromptDraft{
		Name:               "billing_payment_query",
		Domain:             "billing",
		AgentType:          "dfcx",
		SystemInstructions: content,
		Template:           "Customer asks about {issue_type}.",
		ModelParameters:    map[string]any{"model": "gemini-1.5-pro", "temperature": 0.3},
		Metadata:           map[string]any{"source_agent": "telecom-billing-agent-v2"},
		Operator:           "alice",
	})
	require.NoError(t, err)
	return rec
}

func current(t *testing.T, reg *registry.Registry, id string) promptvault.Version {
	t.Helper()
	rec, err := reg.Get(context.Background(), id)
	require.NoError(t, err)
	v, ok := rec.Current()
	require.True(t, ok)
	return v
}

func TestMigrate_BillingScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "A")

	first, err := f.eng.Migrate(ctx, devID, false, "bob")
	require.NoError(t, err)
	assert.Equal(t, promptvault.StatusSuccess, first.Status)
	assert.Equal(t, promptvault.ActionCreate, first.Action)
	assert.Equal(t, "dfcx_billing_billing_payment_query_qa", first.TargetPromptID)
	assert.Equal(t, promptvault.EnvDev, first.SourceEnv)
	assert.Equal(t, promptvault.EnvQA, first.TargetEnv)
	require.NotNil(t, first.TargetVersion)
	assert.Equal(t, 1, *first.TargetVersion)
	assert.Equal(t, "mig_dfcx_billing_billing_payment_query_dev_to_qa_20260401120000_00000001", first.MigrationID)

	qa, err := f.reg.Get(ctx, first.TargetPromptID)
	require.NoError(t, err)
	assert.Equal(t, "A", qa.Versions[1].SystemInstructions)
	assert.Equal(t, "Promoted from dev v1", qa.Versions[1].ChangeNote)
	assert.Equal(t, "bob", qa.Versions[1].CreatedBy)
	assert.Equal(t, "dev", qa.Metadata[MetaPromotedFrom])
	assert.InDelta(t, 1.0, qa.Metadata[MetaPromotedFromVersion], 1e-9)
	assert.Equal(t, "bob", qa.Metadata[MetaPromotedBy])
	assert.Equal(t, "telecom-billing-agent-v2", qa.Metadata["source_agent"])
	assert.InDelta(t, 0.3, qa.ModelParameters["temperature"], 1e-9)
	require.Len(t, f.man.List(), 1)

	_, err = f.reg.AddVersion(ctx, devID, promptvault.Content{SystemInstructions: "B", Template: "Customer asks about {issue_type}."}, "alice", "")
	require.NoError(t, err)

	second, err := f.eng.Migrate(ctx, devID, false, "bob")
	require.NoError(t, err)
	assert.Equal(t, promptvault.ActionUpdate, second.Action)
	assert.Equal(t, 2, second.SourceVersion)
	assert.Equal(t, 2, *second.TargetVersion)
	assert.Equal(t, "B", current(t, f.reg, second.TargetPromptID).SystemInstructions)
	assert.Equal(t, "Promoted from dev v2", current(t, f.reg, second.TargetPromptID).ChangeNote)
	assert.Equal(t, 2, f.reg.Len())

	entries := f.man.List()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, promptvault.StatusSuccess, e.Status)
		assert.Equal(t, promptvault.EnvDev, e.SourceEnv)
		assert.Equal(t, promptvault.EnvQA, e.TargetEnv)
	}

	rolled, err := f.reg.Rollback(ctx, second.TargetPromptID, 1, "carol", "")
	require.NoError(t, err)
	assert.Equal(t, 3, rolled.Version)
	assert.Equal(t, "A", rolled.SystemInstructions)

	_, err = f.eng.Migrate(ctx, second.TargetPromptID, false, "bob")
	require.NoError(t, err)
	staging, err := f.eng.Migrate(ctx, "dfcx_billing_billing_payment_query_staging", false, "bob")
	require.NoError(t, err)
	assert.Equal(t, promptvault.EnvProd, staging.TargetEnv)

	before := f.man.Len()
	failed, err := f.eng.Migrate(ctx, staging.TargetPromptID, false, "bob")
	require.ErrorIs(t, err, promptvault.ErrTerminalEnvironment)
	assert.Equal(t, promptvault.StatusFailed, failed.Status)
	assert.Nil(t, failed.TargetVersion)
	assert.Contains(t, failed.Error, "terminal")
	assert.Equal(t, before+1, f.man.Len())
	last := f.man.List()[f.man.Len()-1]
	assert.Equal(t, failed, last)
	assert.Equal(t, promptvault.EnvProd, last.SourceEnv)
	assert.Equal(t, UnknownEnvironment, last.TargetEnv)
}

func TestMigrate_ForwardOnlyChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "A")

	id := devID
	var path []promptvault.Environment
	for {
		rec, err := f.eng.Migrate(ctx, id, false, "bob")
		if err != nil {
			require.ErrorIs(t, err, promptvault.ErrTerminalEnvironment)
			break
		}
		if len(path) == 0 {
			path = append(path, rec.SourceEnv)
		}
		path = append(path, rec.TargetEnv)
		id = rec.TargetPromptID
	}
	assert.Equal(t, promptvault.Environments(), path)
	assert.Equal(t, 4, f.reg.Len())
}

func TestMigrate_TerminalNoMutation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "A")
	for _, id := range []string{devID, "dfcx_billing_billing_payment_query_qa", "dfcx_billing_billing_payment_query_staging"} {
		_, err := f.eng.Migrate(ctx, id, false, "bob")
		require.NoError(t, err)
	}
	before, err := f.reg.List(ctx, nil)
	require.NoError(t, err)

	for range 3 {
		_, err := f.eng.Migrate(ctx, "dfcx_billing_billing_payment_query_prod", false, "bob")
		require.ErrorIs(t, err, promptvault.ErrTerminalEnvironment)
	}
	_, err = f.eng.Migrate(ctx, "dfcx_billing_billing_payment_query_prod", true, "bob")
	require.ErrorIs(t, err, promptvault.ErrTerminalEnvironment)

	after, err := f.reg.List(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 6, f.man.Len())
}

func TestMigrate_SourceImmutable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "A")
	before, err := f.reg.Get(ctx, devID)
	require.NoError(t, err)

	for range 3 {
		_, err := f.eng.Migrate(ctx, devID, false, "bob")
		require.NoError(t, err)
	}
	after, err := f.reg.Get(ctx, devID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	qa, err := f.reg.Get(ctx, "dfcx_billing_billing_payment_query_qa")
	require.NoError(t, err)
	assert.Equal(t, 3, qa.CurrentVersion)
	require.NoError(t, qa.Validate())
}

func TestMigrate_DryRunNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "A")
	before, err := f.reg.List(ctx, nil)
	require.NoError(t, err)

	rec, err := f.eng.Migrate(ctx, devID, true, "bob")
	require.NoError(t, err)
	assert.Equal(t, promptvault.StatusDryRun, rec.Status)
	assert.True(t, rec.DryRun)
	assert.Equal(t, promptvault.ActionCreate, rec.Action)
	assert.Equal(t, 1, *rec.TargetVersion)

	after, err := f.reg.List(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, f.store.Calls(memstore.OpCreate))

	entries := f.man.List()
	require.Len(t, entries, 1)
	assert.Equal(t, promptvault.StatusDryRun, entries[0].Status)

	_, err = f.eng.Migrate(ctx, devID, false, "bob")
	require.NoError(t, err)
	rec, err = f.eng.Migrate(ctx, devID, true, "bob")
	require.NoError(t, err)
	assert.Equal(t, promptvault.ActionUpdate, rec.Action)
	assert.Equal(t, 2, *rec.TargetVersion)

	_, err = f.eng.Migrate(ctx, "dfcx_billing_missing_dev", true, "bob")
	require.ErrorIs(t, err, promptvault.ErrNotFound)
	assert.Equal(t, 3, f.man.Len())
}

func TestMigrate_DryRunAuditDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, WithDryRunAudit(false))
	f.create(t, "A")
	rec, err := f.eng.Migrate(ctx, devID, true, "bob")
	require.NoError(t, err)
	assert.Equal(t, promptvault.StatusDryRun, rec.Status)
	assert.Equal(t, 0, f.man.Len())
}

func TestMigrate_NotFoundAudited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.eng.Migrate(ctx, "dfcx_billing_missing_dev", false, "bob")
	require.ErrorIs(t, err, promptvault.ErrNotFound)
	assert.Equal(t, promptvault.StatusFailed, rec.Status)
	assert.Equal(t, UnknownEnvironment, rec.SourceEnv)
	assert.Equal(t, UnknownEnvironment, rec.TargetEnv)
	assert.Equal(t, "mig_dfcx_billing_missing_dev_unknown_to_unknown_20260401120000_00000001", rec.MigrationID)
	require.Len(t, f.man.List(), 1)
}

func TestMigrate_InputValidationNotAudited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "A")

	_, err := f.eng.Migrate(ctx, "not an id!", false, "bob")
	require.ErrorIs(t, err, promptvault.ErrInvalidID)
	_, err = f.eng.Migrate(ctx, devID, false, " ")
	require.ErrorIs(t, err, promptvault.ErrMissingOperator)
	assert.Equal(t, 0, f.man.Len())
}

func TestMigrate_StorageFaultAudited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "A")

	f.store.FailNext(memstore.OpCreate, 1)
	rec, err := f.eng.Migrate(ctx, devID, false, "bob")
	require.ErrorIs(t, err, promptvault.ErrStorage)
	assert.Equal(t, promptvault.StatusFailed, rec.Status)
	assert.Equal(t, promptvault.EnvQA, rec.TargetEnv)
	assert.Equal(t, 1, f.reg.Len())
	_, err = f.reg.Get(ctx, "dfcx_billing_billing_payment_query_qa")
	require.ErrorIs(t, err, promptvault.ErrNotFound)
	require.Len(t, f.man.List(), 1)

	rec, err = f.eng.Migrate(ctx, devID, false, "bob")
	require.NoError(t, err)
	assert.Equal(t, promptvault.ActionCreate, rec.Action)
}

func TestMigrate_ManifestFaultAfterSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "A")

	f.store.FailNext(memstore.OpAppend, 1)
	rec, err := f.eng.Migrate(ctx, devID, false, "bob")
	require.ErrorIs(t, err, promptvault.ErrStorage)
	assert.Equal(t, promptvault.StatusSuccess, rec.Status)
	_, err = f.reg.Get(ctx, rec.TargetPromptID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.man.Len())
}

func TestMigrate_FailedAndAuditFaultJoined(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	f.store.FailNext(memstore.OpAppend, 1)
	_, err := f.eng.Migrate(ctx, "dfcx_billing_missing_dev", false, "bob")
	require.ErrorIs(t, err, promptvault.ErrNotFound)
	require.ErrorIs(t, err, promptvault.ErrStorage)
}

func TestMigrateMatching(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	for _, d := range []struct{ name, domain string }{{"one", "billing"}, {"two", "billing"}, {"three", "shared"}} {
		_, err := f.reg.Create(ctx, promptvault.PromptDraft{
			Name: d.name, Domain: d.domain, AgentType: "adk", SystemInstructions: d.name, Operator: "alice",
		})
		require.NoError(t, err)
	}

	dry, err := f.eng.MigrateMatching(ctx, promptvault.Filter{Domain: "billing", Environment: promptvault.EnvDev}, true, "bob")
	require.NoError(t, err)
	require.Len(t, dry, 2)
	assert.Equal(t, 3, f.reg.Len())

	done, err := f.eng.MigrateMatching(ctx, promptvault.Filter{Domain: "billing", Environment: promptvault.EnvDev}, false, "bob")
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, "adk_billing_one_qa", done[0].TargetPromptID)
	assert.Equal(t, "adk_billing_two_qa", done[1].TargetPromptID)
	assert.Equal(t, 5, f.reg.Len())

	f.store.FailNext(memstore.OpUpdate, 1)
	res, err := f.eng.MigrateMatching(ctx, promptvault.Filter{Domain: "billing", Environment: promptvault.EnvDev}, false, "bob")
	require.ErrorIs(t, err, promptvault.ErrStorage)
	require.Len(t, res, 2)
	assert.Equal(t, promptvault.StatusFailed, res[0].Status)
	assert.Equal(t, promptvault.StatusSuccess, res[1].Status)
}

func TestMigrate_CarriesMissingModelParameters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := memstore.New(promptvault.PromptRecord{
		PromptID:       devID,
		Name:           "billing_payment_query",
		Domain:         "billing",
		AgentType:      "dfcx",
		Environment:    promptvault.EnvDev,
		CurrentVersion: 1,
		CreatedAt:      at,
		UpdatedAt:      at,
		Versions: map[int]promptvault.Version{
			1: {Version: 1, SystemInstructions: "A", Template: "{issue_type}", CreatedAt: at, CreatedBy: "alice", ChangeNote: "Initial version"},
		},
	})
	reg, err := registry.New(ctx, store)
	require.NoError(t, err)
	man, err := manifest.Open(ctx, store)
	require.NoError(t, err)

	rec, err := NewEngine(reg, man).Migrate(ctx, devID, false, "bob")
	require.NoError(t, err)
	target, err := reg.Get(ctx, rec.TargetPromptID)
	require.NoError(t, err)
	assert.Empty(t, target.ModelParameters)
	assert.NotContains(t, target.ModelParameters, "model")
}

func TestMigrateMatching_LatestEnvironmentFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "A")
	_, err := f.eng.Migrate(ctx, devID, false, "bob")
	require.NoError(t, err)
	_, err = f.reg.AddVersion(ctx, devID, promptvault.Content{SystemInstructions: "B", Template: "Customer asks about {issue_type}."}, "alice", "")
	require.NoError(t, err)

	done, err := f.eng.MigrateMatching(ctx, promptvault.Filter{}, false, "bob")
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, "dfcx_billing_billing_payment_query_qa", done[0].SourcePromptID)
	assert.Equal(t, devID, done[1].SourcePromptID)
	assert.Equal(t, "A", current(t, f.reg, "dfcx_billing_billing_payment_query_staging").SystemInstructions)
	assert.Equal(t, "B", current(t, f.reg, "dfcx_billing_billing_payment_query_qa").SystemInstructions)
}
