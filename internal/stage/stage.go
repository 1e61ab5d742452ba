// Package stage defines the contract every pipeline stage implements and the closed
// set of stages that make up the shipped pipeline types.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coachplan/plan-engine/internal/contextdoc"
	"github.com/coachplan/plan-engine/internal/llm"
)

// Fragment is the validated output of one stage execution: exactly the field the
// stage's contract allows it to write.
type Fragment struct {
	Field contextdoc.FieldRef
	Value json.RawMessage
}

// Stage is the contract every pipeline stage implements. ValidateInput is a
// precondition check and returns false, not an error, on missing prerequisites.
type Stage interface {
	Name() string
	RequiredFields() []contextdoc.FieldRef
	ProducedField() contextdoc.FieldRef
	ValidateInput(doc *contextdoc.Document) bool
	Execute(ctx context.Context, engine llm.Client, scoped *contextdoc.ScopedInput) (string, llm.Usage, error)
	ProcessOutput(raw string) (*Fragment, error)
}

// ContractError reports stage output that violates the field-ownership contract:
// missing the produced field, malformed JSON, or writes outside the contract.
type ContractError struct {
	Stage   string
	Message string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("stage %s output contract violation: %s", e.Stage, e.Message)
}

// promptStage is the shared base for all stage variants. Each variant configures its
// name, dependencies, produced field, model tier, and reasoning instructions.
type promptStage struct {
	name         string
	required     []contextdoc.FieldRef
	produced     contextdoc.FieldRef
	tier         llm.ModelTier
	instructions string
}

func (s *promptStage) Name() string { return s.name }

func (s *promptStage) RequiredFields() []contextdoc.FieldRef { return s.required }

func (s *promptStage) ProducedField() contextdoc.FieldRef { return s.produced }

// ValidateInput checks that every declared required field is already populated.
func (s *promptStage) ValidateInput(doc *contextdoc.Document) bool {
	for _, ref := range s.required {
		if !doc.Has(ref) {
			return false
		}
	}
	return true
}

// Execute invokes the reasoning engine with the stage's scoped input.
func (s *promptStage) Execute(ctx context.Context, engine llm.Client, scoped *contextdoc.ScopedInput) (string, llm.Usage, error) {
	payload, err := scoped.MarshalIndent()
	if err != nil {
		return "", llm.Usage{}, err
	}

	raw, usage, err := engine.GenerateJSON(ctx, s.buildPrompt(payload), s.tier)
	if err != nil {
		return "", usage, fmt.Errorf("stage %s engine call failed: %w", s.name, err)
	}
	return raw, usage, nil
}

// buildPrompt assembles instructions, the scoped document, and the output contract.
func (s *promptStage) buildPrompt(payload string) string {
	var sb strings.Builder
	sb.WriteString(s.instructions)
	sb.WriteString("\n\nClient context document:\n")
	sb.WriteString(payload)
	sb.WriteString("\n\nReturn ONLY valid JSON matching this exact structure:\n")
	sb.WriteString(fmt.Sprintf("{\n  %q: {\n    %q: <your result>\n  }\n}\n", s.produced.Domain, s.produced.Field))
	sb.WriteString("Do not include any other domain or field.")
	return sb.String()
}

// ProcessOutput parses the raw engine output and asserts it contains exactly the
// produced field populated. Extra fields, a missing field, or malformed JSON are
// rejected as contract violations.
func (s *promptStage) ProcessOutput(raw string) (*Fragment, error) {
	cleaned := llm.CleanJSONBlock(raw)

	var sections map[string]map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &sections); err != nil {
		return nil, &ContractError{Stage: s.name, Message: fmt.Sprintf("malformed JSON: %v", err)}
	}

	for domain, fields := range sections {
		if domain != s.produced.Domain {
			return nil, &ContractError{Stage: s.name, Message: fmt.Sprintf("wrote outside contract: domain %q", domain)}
		}
		for field := range fields {
			if field != s.produced.Field {
				return nil, &ContractError{Stage: s.name, Message: fmt.Sprintf("wrote outside contract: field %q", contextdoc.FieldRef{Domain: domain, Field: field})}
			}
		}
	}

	value := sections[s.produced.Domain][s.produced.Field]
	if len(value) == 0 || string(value) == "null" {
		return nil, &ContractError{Stage: s.name, Message: fmt.Sprintf("missing produced field %s", s.produced)}
	}

	return &Fragment{Field: s.produced, Value: value}, nil
}
