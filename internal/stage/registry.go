package stage

import (
	"fmt"

	"github.com/coachplan/plan-engine/internal/contextdoc"
)

// Pipeline type names shipped by default.
const (
	PipelineTraining  = "training"
	PipelineNutrition = "nutrition"
)

// Pipeline is one pipeline type: an ordered list of stages plus the scope policy that
// decides when raw questionnaire material stops flowing to later stages.
type Pipeline struct {
	Name   string
	Stages []Stage
	Scope  contextdoc.ScopePolicy
}

// TotalSteps returns the number of stages in the pipeline.
func (p *Pipeline) TotalSteps() int { return len(p.Stages) }

// Registry holds all known pipeline types. Dispatch is by ordered list, not
// reflection: each pipeline names its stage variants explicitly.
type Registry struct {
	pipelines map[string]*Pipeline
}

// NewRegistry returns a registry with the default pipeline types. The summary
// cutover (SummaryAfter) is a per-pipeline policy choice: stage 0 produces the
// summary, every later stage consumes it instead of the raw questionnaire.
func NewRegistry() *Registry {
	r := &Registry{pipelines: make(map[string]*Pipeline)}

	r.Register(&Pipeline{
		Name: PipelineTraining,
		Stages: []Stage{
			NewIntakeSummary(),
			NewTrainingSplit(),
			NewProgressionModel(),
			NewRecoveryProtocol(),
		},
		Scope: contextdoc.ScopePolicy{SummaryField: FieldClientSummary, SummaryAfter: 1},
	})

	r.Register(&Pipeline{
		Name: PipelineNutrition,
		Stages: []Stage{
			NewIntakeSummary(),
			NewCalorieTargets(),
			NewMacroSplit(),
			NewMealStructure(),
		},
		Scope: contextdoc.ScopePolicy{SummaryField: FieldClientSummary, SummaryAfter: 1},
	})

	return r
}

// Register adds or replaces a pipeline type.
func (r *Registry) Register(p *Pipeline) {
	r.pipelines[p.Name] = p
}

// Pipeline looks up a pipeline type by name.
func (r *Registry) Pipeline(name string) (*Pipeline, error) {
	p, ok := r.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline type: %s", name)
	}
	return p, nil
}

// Names returns the registered pipeline type names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	return names
}
