package contextdoc

import (
	"encoding/json"
	"fmt"
)

// Seed is the caller-supplied material a job is enqueued with: the raw questionnaire
// inputs and, for evolutionary follow-up runs, the previous run's final document.
type Seed struct {
	RawInputs        map[string]json.RawMessage `json:"raw_inputs"`
	PreviousDocument *Document                  `json:"previous_document,omitempty"`
}

// ParseSeed decodes and structurally validates a stored context seed.
func ParseSeed(data json.RawMessage) (*Seed, error) {
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse context seed: %w", err)
	}
	if len(seed.RawInputs) == 0 {
		return nil, fmt.Errorf("context seed has no raw inputs")
	}
	return &seed, nil
}

// NewDocument builds the initial context document for a run from this seed.
func (s *Seed) NewDocument(clientID string) *Document {
	return NewDocument(clientID, s.RawInputs, s.PreviousDocument)
}
