package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/promptvault"
	"github.com/skosovsky/promptvault/internal/memstore"
	"github.com/skosovsky/promptvault/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseBytes_SingleDraft(t *testing.T) {
	t.Parallel()
	drafts, err := ParseFile(filepath.Join("testdata", "prompts", "dfcx_billing.yaml"))
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	d := drafts[0]
	assert.Equal(t, "billing_payment_query", d.Name)
	assert.Equal(t, "billing", d.Domain)
	assert.Equal(t, "dfcx", d.AgentType)
	assert.Equal(t, promptvault.EnvDev, d.Environment)
	assert.Contains(t, d.Template, "{issue_type}")
	assert.Equal(t, 512.0, d.ModelParameters["max_output_tokens"])
	assert.Equal(t, "gen-billing-001", d.Metadata["generator_id"])
	assert.Empty(t, d.Operator)
}

func TestParseBytes_PromptList(t *testing.T) {
	t.Parallel()
	drafts, err := ParseFile(filepath.Join("testdata", "prompts", "custom", "agents.yaml"))
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "account_update_handler", drafts[0].Name)
	assert.Equal(t, "safety_guardrails", drafts[1].Name)
	assert.InDelta(t, 0.0, drafts[1].ModelParameters["temperature"], 0)
}

func TestParseBytes_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		doc  string
	}{
		{name: "not yaml", doc: "name: [unterminated"},
		{name: "empty", doc: ""},
		{name: "scalar", doc: "just text"},
		{name: "missing domain", doc: "name: a\nagent_type: adk\n"},
		{name: "bad domain", doc: "name: a\ndomain: Billing Dept\nagent_type: adk\n"},
		{name: "unknown env", doc: "name: a\ndomain: billing\nagent_type: adk\nenvironment: uat\n"},
		{name: "unknown key", doc: "name: a\ndomain: billing\nagent_type: adk\nowner: me\n"},
		{name: "params not a map", doc: "name: a\ndomain: billing\nagent_type: adk\nmodel_parameters: [1, 2]\n"},
		{name: "empty list", doc: "prompts: []\n"},
		{name: "bad list item", doc: "prompts:\n  - name: a\n"},
		{name: "non-string keys", doc: "name: a\ndomain: billing\nagent_type: adk\nmetadata:\n  1: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseBytes([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestParseFile_Missing(t *testing.T) {
	t.Parallel()
	_, err := ParseFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDir_DeterministicOrder(t *testing.T) {
	t.Parallel()
	drafts, err := LoadDir(context.Background(), filepath.Join("testdata", "prompts"))
	require.NoError(t, err)
	names := make([]string, 0, len(drafts))
	for _, d := range drafts {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"tech_support_troubleshoot",
		"account_update_handler",
		"safety_guardrails",
		"billing_payment_query",
	}, names)
}

func TestLoadDir_InvalidFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.yaml"), []byte("name: a\ndomain: billing\nagent_type: adk\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: a\n"), 0o600))
	_, err := LoadDir(context.Background(), dir)
	require.ErrorIs(t, err, ErrInvalidDocument)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestLoadFS(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"seed/b.yaml":   {Data: []byte("name: b\ndomain: shared\nagent_type: custom\n")},
		"seed/a.yml":    {Data: []byte("prompts:\n  - name: a1\n    domain: shared\n    agent_type: custom\n  - name: a2\n    domain: shared\n    agent_type: custom\n")},
		"seed/notes.md": {Data: []byte("# ignored")},
		"other/c.yaml":  {Data: []byte("name: c\ndomain: shared\nagent_type: custom\n")},
	}
	drafts, err := LoadFS(context.Background(), fsys, "seed")
	require.NoError(t, err)
	require.Len(t, drafts, 3)
	assert.Equal(t, "a1", drafts[0].Name)
	assert.Equal(t, "a2", drafts[1].Name)
	assert.Equal(t, "b", drafts[2].Name)
}

func TestLoadDir_Canceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadDir(ctx, filepath.Join("testdata", "prompts"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, err := registry.New(ctx, memstore.New())
	require.NoError(t, err)
	drafts, err := LoadDir(ctx, filepath.Join("testdata", "prompts"))
	require.NoError(t, err)
	runner := NewRunner(reg)

	rep, err := runner.Run(ctx, drafts, "ingest-bot")
	require.NoError(t, err)
	assert.Len(t, rep.Created, 4)
	assert.Empty(t, rep.Skipped)
	assert.Contains(t, rep.Created, "dfcx_billing_billing_payment_query_dev")

	rec, err := reg.Get(ctx, "dfcx_billing_billing_payment_query_dev")
	require.NoError(t, err)
	assert.Equal(t, "ingest-bot", rec.History()[0].CreatedBy)
	assert.Equal(t, 0.3, rec.ModelParameters["temperature"])

	rep, err = runner.Run(ctx, drafts, "ingest-bot")
	require.NoError(t, err)
	assert.Empty(t, rep.Created)
	assert.Len(t, rep.Skipped, 4)
	assert.Equal(t, 4, reg.Len())
}

func TestRun_CollectsFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, err := registry.New(ctx, memstore.New(), registry.WithAllowedDomains("billing"))
	require.NoError(t, err)
	drafts := []promptvault.PromptDraft{
		{Name: "ok", Domain: "billing", AgentType: "dfcx"},
		{Name: "elsewhere", Domain: "shared", AgentType: "custom"},
		{Name: "late", Domain: "billing", AgentType: "dfcx", Environment: promptvault.EnvQA},
	}
	rep, err := NewRunner(reg).Run(ctx, drafts, "bot")
	require.ErrorIs(t, err, promptvault.ErrInvalidDraft)
	require.ErrorIs(t, err, promptvault.ErrEnvironmentNotAllowed)
	assert.Equal(t, []string{"dfcx_billing_ok_dev"}, rep.Created)
	assert.Equal(t, []string{"custom_shared_elsewhere_dev", "dfcx_billing_late_dev"}, rep.Failed)
}

func TestRun_MissingOperator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, err := registry.New(ctx, memstore.New())
	require.NoError(t, err)
	rep, err := NewRunner(reg).Run(ctx, []promptvault.PromptDraft{{Name: "a", Domain: "shared", AgentType: "custom"}}, " ")
	require.ErrorIs(t, err, promptvault.ErrMissingOperator)
	assert.Empty(t, rep.Created)
	assert.Equal(t, 0, reg.Len())
}
