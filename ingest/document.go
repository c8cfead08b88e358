// Package ingest turns YAML draft documents exported from agent configurations into prompt drafts
// and feeds them to the registry.
//
// A document is either a single draft mapping or a mapping with a "prompts" list of drafts:
//
//	prompts:
//	  - name: billing_payment_query
//	    domain: billing
//	    agent_type: dfcx
//	    system_instructions: You are a billing support assistant.
//	    template: "Customer has a query about: {issue_type}"
//	    model_parameters:
//	      temperature: 0.3
//
// Every document is validated against an embedded JSON Schema before it is decoded.
package ingest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/skosovsky/promptvault"
)

// ErrInvalidDocument is returned when a draft document is not valid YAML or violates the document schema.
var ErrInvalidDocument = errors.New("ingest: invalid draft document")

//go:embed schema.json
var schemaJSON []byte

var documentSchema = jsonschema.MustCompileString("schema.json", string(schemaJSON))

// fileDraft is the document shape of one draft.
type fileDraft struct {
	Name               string                  `json:"name"`
	Domain             string                  `json:"domain"`
	AgentType          string                  `json:"agent_type"`
	Environment        promptvault.Environment `json:"environment"`
	SystemInstructions string                  `json:"system_instructions"`
	Template           string                  `json:"template"`
	ModelParameters    map[string]any          `json:"model_parameters"`
	Metadata           map[string]any          `json:"metadata"`
	ChangeNote         string                  `json:"change_note"`
}

type fileDocument struct {
	Prompts []fileDraft `json:"prompts"`
}

// ParseBytes parses one YAML draft document. Operator is left empty; Run fills it in.
func ParseBytes(data []byte) ([]promptvault.PromptDraft, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
	}
	// The schema validator works on JSON values; YAML-only constructs fail here.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if err := documentSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	var drafts []fileDraft
	if m, ok := doc.(map[string]any); ok && m["prompts"] != nil {
		var fd fileDocument
		if err := json.Unmarshal(encoded, &fd); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}
		drafts = fd.Prompts
	} else {
		var d fileDraft
		if err := json.Unmarshal(encoded, &d); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}
		drafts = []fileDraft{d}
	}

	out := make([]promptvault.PromptDraft, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, d.draft())
	}
	return out, nil
}

// ParseFile reads and parses a draft document file.
func ParseFile(path string) ([]promptvault.PromptDraft, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("ingest: read file: %w", err)
	}
	drafts, err := ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return drafts, nil
}

// ParseFS reads and parses a draft document from fs.FS (e.g. embed.FS).
func ParseFS(fsys fs.FS, name string) ([]promptvault.PromptDraft, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("ingest: read fs: %w", err)
	}
	drafts, err := ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return drafts, nil
}

func (d fileDraft) draft() promptvault.PromptDraft {
	return promptvault.PromptDraft{
		Name:               d.Name,
		Domain:             d.Domain,
		AgentType:          d.AgentType,
		Environment:        d.Environment,
		SystemInstructions: d.SystemInstructions,
		Template:           d.Template,
		ModelParameters:    d.ModelParameters,
		Metadata:           d.Metadata,
		ChangeNote:         d.ChangeNote,
	}
}
