package stage

import (
	"github.com/coachplan/plan-engine/internal/contextdoc"
	"github.com/coachplan/plan-engine/internal/llm"
)

// Field references owned by the shipped stages.
var (
	FieldClientSummary = contextdoc.FieldRef{Domain: "assessment", Field: "client_summary"}

	FieldTrainingSplit    = contextdoc.FieldRef{Domain: "training", Field: "split"}
	FieldProgressionModel = contextdoc.FieldRef{Domain: "training", Field: "progression_model"}
	FieldRecoveryProtocol = contextdoc.FieldRef{Domain: "training", Field: "recovery_protocol"}

	FieldCalorieTargets = contextdoc.FieldRef{Domain: "nutrition", Field: "calorie_targets"}
	FieldMacroSplit     = contextdoc.FieldRef{Domain: "nutrition", Field: "macro_split"}
	FieldMealStructure  = contextdoc.FieldRef{Domain: "nutrition", Field: "meal_structure"}
)

// IntakeSummaryStage distills the raw questionnaire into a compact client summary
// that later stages consume instead of the full raw material.
type IntakeSummaryStage struct{ promptStage }

// NewIntakeSummary creates the intake summarization stage.
func NewIntakeSummary() *IntakeSummaryStage {
	return &IntakeSummaryStage{promptStage{
		name:     "intake_summary",
		produced: FieldClientSummary,
		tier:     llm.TierLite,
		instructions: "You are a coaching intake analyst. Read the client questionnaire answers and " +
			"produce a compact summary of the client: goals, training history, constraints, " +
			"equipment, schedule, and any health flags. Be concise and factual.",
	}}
}

// TrainingSplitStage designs the weekly training split.
type TrainingSplitStage struct{ promptStage }

// NewTrainingSplit creates the training split stage.
func NewTrainingSplit() *TrainingSplitStage {
	return &TrainingSplitStage{promptStage{
		name:     "training_split",
		required: []contextdoc.FieldRef{FieldClientSummary},
		produced: FieldTrainingSplit,
		tier:     llm.TierStandard,
		instructions: "You are a strength coach. Based on the client summary, design a weekly " +
			"training split: days, session focus, exercise slots per session, and rationale.",
	}}
}

// ProgressionModelStage designs the progression and periodization scheme on top of
// the chosen split.
type ProgressionModelStage struct{ promptStage }

// NewProgressionModel creates the progression model stage.
func NewProgressionModel() *ProgressionModelStage {
	return &ProgressionModelStage{promptStage{
		name:     "progression_model",
		required: []contextdoc.FieldRef{FieldClientSummary, FieldTrainingSplit},
		produced: FieldProgressionModel,
		tier:     llm.TierAdvanced,
		instructions: "You are a periodization specialist. Given the client summary and the weekly " +
			"split, design the progression model: loading scheme, rep ranges, deload cadence, " +
			"and how to autoregulate across a 12-week block.",
	}}
}

// RecoveryProtocolStage derives sleep, rest-day, and fatigue-management guidance.
type RecoveryProtocolStage struct{ promptStage }

// NewRecoveryProtocol creates the recovery protocol stage.
func NewRecoveryProtocol() *RecoveryProtocolStage {
	return &RecoveryProtocolStage{promptStage{
		name:     "recovery_protocol",
		required: []contextdoc.FieldRef{FieldClientSummary, FieldTrainingSplit, FieldProgressionModel},
		produced: FieldRecoveryProtocol,
		tier:     llm.TierStandard,
		instructions: "You are a recovery coach. Given the client summary, split, and progression " +
			"model, produce a recovery protocol: sleep targets, rest-day activity, and warning " +
			"signs of under-recovery specific to this plan.",
	}}
}

// CalorieTargetsStage estimates daily energy targets for the client's goal.
type CalorieTargetsStage struct{ promptStage }

// NewCalorieTargets creates the calorie targets stage.
func NewCalorieTargets() *CalorieTargetsStage {
	return &CalorieTargetsStage{promptStage{
		name:     "calorie_targets",
		required: []contextdoc.FieldRef{FieldClientSummary},
		produced: FieldCalorieTargets,
		tier:     llm.TierStandard,
		instructions: "You are a nutrition coach. Based on the client summary, estimate maintenance " +
			"calories and set daily calorie targets for training and rest days toward the " +
			"client's goal, with a brief rationale.",
	}}
}

// MacroSplitStage turns calorie targets into a macronutrient distribution.
type MacroSplitStage struct{ promptStage }

// NewMacroSplit creates the macro split stage.
func NewMacroSplit() *MacroSplitStage {
	return &MacroSplitStage{promptStage{
		name:     "macro_split",
		required: []contextdoc.FieldRef{FieldClientSummary, FieldCalorieTargets},
		produced: FieldMacroSplit,
		tier:     llm.TierStandard,
		instructions: "You are a nutrition coach. Given the client summary and calorie targets, " +
			"set protein, fat, and carbohydrate targets in grams for training and rest days.",
	}}
}

// MealStructureStage lays out a daily meal skeleton matching the macro targets.
type MealStructureStage struct{ promptStage }

// NewMealStructure creates the meal structure stage.
func NewMealStructure() *MealStructureStage {
	return &MealStructureStage{promptStage{
		name:     "meal_structure",
		required: []contextdoc.FieldRef{FieldClientSummary, FieldCalorieTargets, FieldMacroSplit},
		produced: FieldMealStructure,
		tier:     llm.TierAdvanced,
		instructions: "You are a nutrition coach. Given the client summary, calorie targets, and " +
			"macro split, lay out a daily meal structure: meal count, timing around training, " +
			"and per-meal macro allocation that fits the client's schedule.",
	}}
}
