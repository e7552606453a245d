// Package models contains domain types for the guided upload flow.
package models

import "fmt"

// Stage identifies one step of the guided upload wizard.
type Stage string

const (
	StageConfirmStructure Stage = "U2"
	StageReviewColumns    Stage = "U3"
	StageReviewDataTypes  Stage = "U4"
	StageMissingValues    Stage = "U5"
	StageFinalPreview     Stage = "U6"
)

// Stages lists every stage in wizard order.
var Stages = []Stage{
	StageConfirmStructure,
	StageReviewColumns,
	StageReviewDataTypes,
	StageMissingValues,
	StageFinalPreview,
}

// InitialStage is where every new or restarted flow begins.
const InitialStage = StageConfirmStructure

// TerminalStage is the last stage of the wizard.
const TerminalStage = StageFinalPreview

// ParseStage converts a token into a Stage, rejecting anything outside the five stage tokens.
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !stage.Valid() {
		return "", fmt.Errorf("invalid stage token %q", s)
	}
	return stage, nil
}

// Valid reports whether s is one of the five stage tokens.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Index returns the zero-based position of s in the wizard, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the following stage. At the terminal stage it returns s itself.
func (s Stage) Next() Stage {
	i := s.Index()
	if i < 0 || i == len(Stages)-1 {
		return s
	}
	return Stages[i+1]
}

// Previous returns the preceding stage. At the initial stage it returns s itself.
func (s Stage) Previous() Stage {
	i := s.Index()
	if i <= 0 {
		return s
	}
	return Stages[i-1]
}
