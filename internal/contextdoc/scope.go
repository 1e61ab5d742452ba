package contextdoc

import (
	"encoding/json"
	"fmt"
)

// ScopedInput is the reduced view of a document sent to one stage's reasoning call.
// It carries the raw inputs only while no compact summary serves the stage, plus the
// domain fields the stage's contract declares as required.
type ScopedInput struct {
	ClientID   string                                `json:"client_id"`
	RunVersion int                                   `json:"run_version"`
	RawInputs  map[string]json.RawMessage            `json:"raw_inputs,omitempty"`
	Fields     map[string]map[string]json.RawMessage `json:"fields,omitempty"`
}

// ScopePolicy controls when raw inputs stop flowing to stages. Once StageIndex
// reaches SummaryAfter and the summary field is available, later stages receive only
// the compact summary and their declared required fields.
type ScopePolicy struct {
	SummaryField FieldRef
	SummaryAfter int
}

// BuildScopedInput assembles the stage's reduced input. If the stage's required set
// lists the summary field, raw inputs are omitted even when present.
func BuildScopedInput(doc *Document, required []FieldRef, stageIndex int, policy ScopePolicy) (*ScopedInput, error) {
	in := &ScopedInput{
		ClientID:   doc.ID,
		RunVersion: doc.RunVersion,
		Fields:     make(map[string]map[string]json.RawMessage),
	}

	wantsSummary := false
	for _, ref := range required {
		if ref == policy.SummaryField {
			wantsSummary = true
		}
		value := doc.Get(ref)
		if value == nil {
			return nil, fmt.Errorf("required field %s is not populated", ref)
		}
		section, ok := in.Fields[ref.Domain]
		if !ok {
			section = make(map[string]json.RawMessage)
			in.Fields[ref.Domain] = section
		}
		section[ref.Field] = value
	}

	summaryReady := doc.Has(policy.SummaryField)
	includeRaw := !wantsSummary && (stageIndex < policy.SummaryAfter || !summaryReady)
	if includeRaw {
		in.RawInputs = make(map[string]json.RawMessage, len(doc.RawInputs))
		for k, v := range doc.RawInputs {
			in.RawInputs[k] = v
		}
	}

	return in, nil
}

// MarshalIndent renders the scoped input as the JSON payload for the engine call.
func (s *ScopedInput) MarshalIndent() (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal scoped input: %w", err)
	}
	return string(data), nil
}
