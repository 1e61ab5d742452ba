package stage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachplan/plan-engine/internal/contextdoc"
	"github.com/coachplan/plan-engine/internal/llm"
)

// fakeEngine is a canned-response engine for stage tests.
type fakeEngine struct {
	response   string
	err        error
	lastPrompt string
}

func (f *fakeEngine) GenerateJSON(_ context.Context, prompt string, _ llm.ModelTier) (string, llm.Usage, error) {
	f.lastPrompt = prompt
	if f.err != nil {
		return "", llm.Usage{}, f.err
	}
	return f.response, llm.Usage{PromptTokens: 10, OutputTokens: 5, TotalTokens: 15}, nil
}

func (f *fakeEngine) GetModel(llm.ModelTier) string { return "fake-model" }

func (f *fakeEngine) Close() error { return nil }

func testDoc(t *testing.T) *contextdoc.Document {
	t.Helper()
	raw := map[string]json.RawMessage{"questionnaire": json.RawMessage(`{"goal":"strength"}`)}
	return contextdoc.NewDocument("client-1", raw, nil)
}

func TestValidateInput(t *testing.T) {
	doc := testDoc(t)
	split := NewTrainingSplit()

	assert.False(t, split.ValidateInput(doc), "summary not yet written")

	require.NoError(t, doc.WriteField(FieldClientSummary, json.RawMessage(`"summary"`)))
	assert.True(t, split.ValidateInput(doc))
}

func TestExecute_BuildsPromptFromScopedInput(t *testing.T) {
	doc := testDoc(t)
	require.NoError(t, doc.WriteField(FieldClientSummary, json.RawMessage(`"lifter, 4 days"`)))

	split := NewTrainingSplit()
	scoped, err := contextdoc.BuildScopedInput(doc, split.RequiredFields(), 1,
		contextdoc.ScopePolicy{SummaryField: FieldClientSummary, SummaryAfter: 1})
	require.NoError(t, err)

	engine := &fakeEngine{response: `{"training":{"split":{"days":4}}}`}
	raw, usage, err := split.Execute(context.Background(), engine, scoped)
	require.NoError(t, err)

	assert.Contains(t, engine.lastPrompt, "client_summary")
	assert.Contains(t, engine.lastPrompt, `"training"`)
	assert.NotContains(t, engine.lastPrompt, "questionnaire")
	assert.JSONEq(t, `{"training":{"split":{"days":4}}}`, raw)
	assert.Equal(t, int32(15), usage.TotalTokens)
}

func TestExecute_EngineError(t *testing.T) {
	doc := testDoc(t)
	summary := NewIntakeSummary()
	scoped, err := contextdoc.BuildScopedInput(doc, nil, 0, contextdoc.ScopePolicy{SummaryField: FieldClientSummary, SummaryAfter: 1})
	require.NoError(t, err)

	engine := &fakeEngine{err: errors.New("model unavailable")}
	_, _, execErr := summary.Execute(context.Background(), engine, scoped)
	require.Error(t, execErr)
	assert.Contains(t, execErr.Error(), "intake_summary")
}

func TestProcessOutput(t *testing.T) {
	split := NewTrainingSplit()

	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			name: "valid fragment",
			raw:  `{"training":{"split":{"days":4,"focus":["upper","lower"]}}}`,
		},
		{
			name: "markdown fenced output accepted",
			raw:  "```json\n{\"training\":{\"split\":{\"days\":4}}}\n```",
		},
		{
			name:    "malformed JSON",
			raw:     `{"training": not json`,
			wantErr: "malformed JSON",
		},
		{
			name:    "missing produced field",
			raw:     `{"training":{}}`,
			wantErr: "missing produced field",
		},
		{
			name:    "null produced field",
			raw:     `{"training":{"split":null}}`,
			wantErr: "missing produced field",
		},
		{
			name:    "extra field in owned domain",
			raw:     `{"training":{"split":{"days":4},"progression_model":{}}}`,
			wantErr: "outside contract",
		},
		{
			name:    "write to foreign domain",
			raw:     `{"nutrition":{"calorie_targets":{"kcal":2600}}}`,
			wantErr: "outside contract",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag, err := split.ProcessOutput(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				var contractErr *ContractError
				assert.ErrorAs(t, err, &contractErr)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, FieldTrainingSplit, frag.Field)
			assert.NotEmpty(t, frag.Value)
		})
	}
}
