package promptvault

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() PromptRecord {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return PromptRecord{
		PromptID:        "dfcx_billing_billing_payment_query_dev",
		Name:            "billing_payment_query",
		Domain:          "billing",
		AgentType:       "dfcx",
		Environment:     EnvDev,
		CurrentVersion:  2,
		CreatedAt:       at,
		UpdatedAt:       at.Add(time.Hour),
		ModelParameters: map[string]any{"model": "gemini-1.5-pro", "temperature": 0.3},
		Metadata:        map[string]any{"source_agent": "telecom-billing-agent-v2"},
		Versions: map[int]Version{
			1: {Version: 1, SystemInstructions: "A", Template: "{issue_type}", CreatedAt: at, CreatedBy: "op", ChangeNote: "Initial version"},
			2: {Version: 2, SystemInstructions: "B", Template: "{issue_type}", CreatedAt: at.Add(time.Hour), CreatedBy: "op", ChangeNote: "edit"},
		},
	}
}

func TestPromptRecord_Validate(t *testing.T) {
	t.Parallel()
	require.NoError(t, sampleRecord().Validate())

	tests := []struct {
		name   string
		mutate func(*PromptRecord)
	}{
		{"no versions", func(r *PromptRecord) { r.Versions = nil; r.CurrentVersion = 0 }},
		{"dangling current", func(r *PromptRecord) { r.CurrentVersion = 3 }},
		{"gap", func(r *PromptRecord) {
			v := r.Versions[2]
			v.Version = 3
			delete(r.Versions, 2)
			r.Versions[3] = v
			r.CurrentVersion = 3
		}},
		{"mismatched key", func(r *PromptRecord) {
			v := r.Versions[2]
			v.Version = 9
			r.Versions[2] = v
		}},
		{"bad environment", func(r *PromptRecord) { r.Environment = "uat" }},
		{"bad id", func(r *PromptRecord) { r.PromptID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := sampleRecord()
			tt.mutate(&r)
			assert.ErrorIs(t, r.Validate(), ErrCorruptDocument)
		})
	}
}

func TestPromptRecord_CloneIsDeep(t *testing.T) {
	t.Parallel()
	orig := sampleRecord()
	c := orig.Clone()
	c.ModelParameters["temperature"] = 1.0
	c.Metadata["extra"] = "x"
	c.Versions[3] = Version{Version: 3}
	assert.InDelta(t, 0.3, orig.ModelParameters["temperature"], 1e-9)
	assert.NotContains(t, orig.Metadata, "extra")
	assert.Len(t, orig.Versions, 2)
}

func TestPromptRecord_HistoryAndCurrent(t *testing.T) {
	t.Parallel()
	r := sampleRecord()
	h := r.History()
	require.Len(t, h, 2)
	assert.Equal(t, 1, h[0].Version)
	assert.Equal(t, 2, h[1].Version)
	assert.Equal(t, []int{1, 2}, r.VersionNumbers())

	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, Content{SystemInstructions: "B", Template: "{issue_type}"}, cur.Content())
	assert.Equal(t, "dfcx_billing_billing_payment_query_qa", r.IDIn(EnvQA))
}

func TestPromptRecord_JSONShape(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(sampleRecord())
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"prompt_id", "name", "domain", "agent_type", "environment", "current_version",
		"created_at", "updated_at", "model_parameters", "metadata", "versions"} {
		assert.Contains(t, raw, key)
	}
	versions := raw["versions"].(map[string]any)
	assert.Contains(t, versions, "1")
	assert.Contains(t, versions["2"], "change_note")

	var back PromptRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, sampleRecord(), back)
}

func TestPromptRecord_DecodesLegacyTimestamps(t *testing.T) {
	t.Parallel()
	doc := []byte(`{"prompt_id":"custom_shared_safety_guardrails_dev","name":"safety_guardrails","domain":"shared",
"agent_type":"custom","environment":"dev","current_version":1,
"created_at":"2025-01-15T09:30:12.123456Z","updated_at":"2025-01-15T09:30:12.123456Z",
"model_parameters":{"model":"gemini-1.5-pro","top_k":1},"metadata":{},
"versions":{"1":{"version":1,"system_instructions":"SAFETY","template":"t","created_at":"2025-01-15T09:30:12.123456Z",
"created_by":"pawan.malik","change_note":"Initial version"}}}`)
	var r PromptRecord
	require.NoError(t, json.Unmarshal(doc, &r))
	require.NoError(t, r.Validate())
	assert.Equal(t, 123456000, r.CreatedAt.Nanosecond())
	assert.Equal(t, "pawan.malik", r.Versions[1].CreatedBy)
}

func TestMigrationRecord_Validate(t *testing.T) {
	t.Parallel()
	two := 2
	ok := MigrationRecord{MigrationID: "mig_x", Status: StatusSuccess, TargetVersion: &two}
	require.NoError(t, ok.Validate())

	failed := MigrationRecord{MigrationID: "mig_y", Status: StatusFailed, Error: "boom"}
	require.NoError(t, failed.Validate())

	dry := MigrationRecord{MigrationID: "mig_z", Status: StatusDryRun, DryRun: true, TargetVersion: &two}
	require.NoError(t, dry.Validate())

	bad := []MigrationRecord{
		{Status: StatusSuccess, TargetVersion: &two},
		{MigrationID: "m", Status: "pending", TargetVersion: &two},
		{MigrationID: "m", Status: StatusFailed},
		{MigrationID: "m", Status: StatusSuccess, Error: "x", TargetVersion: &two},
		{MigrationID: "m", Status: StatusSuccess},
		{MigrationID: "m", Status: StatusFailed, Error: "x", TargetVersion: &two},
		{MigrationID: "m", Status: StatusDryRun, TargetVersion: &two},
	}
	for i, m := range bad {
		assert.ErrorIs(t, m.Validate(), ErrInvalidMigration, "case %d", i)
	}
}

func TestMigrationRecord_Clone(t *testing.T) {
	t.Parallel()
	v := 4
	m := MigrationRecord{MigrationID: "m", TargetVersion: &v}
	c := m.Clone()
	*c.TargetVersion = 5
	assert.Equal(t, 4, *m.TargetVersion)
}

func TestMigrationRecord_FailedEncodesNullTarget(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(MigrationRecord{MigrationID: "m", Status: StatusFailed, Error: "boom"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"target_version":null`)
	assert.Contains(t, string(data), `"error":"boom"`)
	assert.NotContains(t, string(data), `"action"`)
}

func TestCheckAppendOnly(t *testing.T) {
	t.Parallel()
	prev := sampleRecord()

	next := prev.Clone()
	next.Versions[3] = Version{Version: 3, Template: "t3"}
	next.CurrentVersion = 3
	require.NoError(t, CheckAppendOnly(prev, next))

	rewritten := next.Clone()
	v := rewritten.Versions[1]
	v.Template = "changed"
	rewritten.Versions[1] = v
	assert.ErrorIs(t, CheckAppendOnly(prev, rewritten), ErrHistoryRewrite)

	dropped := next.Clone()
	delete(dropped.Versions, 2)
	assert.ErrorIs(t, CheckAppendOnly(prev, dropped), ErrHistoryRewrite)

	moved := next.Clone()
	moved.Environment = EnvQA
	assert.ErrorIs(t, CheckAppendOnly(prev, moved), ErrHistoryRewrite)
}
