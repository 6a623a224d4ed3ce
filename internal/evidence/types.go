package evidence

import "fmt"

// #region scenario-score
// ScenarioScore is one evidence point for a (candidate, world) pair as produced
// by the solver layer. All numeric fields are in [0,1] after normalization.
type ScenarioScore struct {
	CandidateID             string  `json:"candidate_id"`
	WorldID                 string  `json:"world_id"`
	MuScore                 float64 `json:"mu_score"`
	FaizalScore             float64 `json:"faizal_score"`
	MeanUndecidabilityIndex float64 `json:"mean_undecidability_index"`
	EnergyFeasibility       float64 `json:"energy_feasibility"`
}

// #endregion scenario-score

// #region payload
// Shape records which of the two accepted payload layouts was decoded.
type Shape string

const (
	ShapeList  Shape = "list"  // bare array of score records
	ShapeKeyed Shape = "keyed" // object carrying a run id and a score array
)

// Payload is the canonical result of normalizing an evidence document.
type Payload struct {
	Shape    Shape
	RunID    string // empty when the payload carried none
	Scores   []ScenarioScore
	Warnings []Warning
}

// HasRunID reports whether the payload named its run.
func (p Payload) HasRunID() bool {
	return p.RunID != ""
}

// Warning is emitted when a numeric field had to be clamped into [0,1].
type Warning struct {
	Index       int     `json:"index"`
	CandidateID string  `json:"candidate_id"`
	Field       string  `json:"field"`
	Original    float64 `json:"original"`
	Clamped     float64 `json:"clamped"`
}

func (w Warning) String() string {
	return fmt.Sprintf("record %d (%s): %s=%g clamped to %g", w.Index, w.CandidateID, w.Field, w.Original, w.Clamped)
}

// #endregion payload

// #region errors
// MalformedEvidenceError reports an evidence payload the caller must fix.
// Index is -1 for payload-level problems.
type MalformedEvidenceError struct {
	Index  int
	Field  string
	Reason string
}

func (e *MalformedEvidenceError) Error() string {
	switch {
	case e.Index < 0:
		return fmt.Sprintf("malformed evidence: %s", e.Reason)
	case e.Field == "":
		return fmt.Sprintf("malformed evidence: record %d: %s", e.Index, e.Reason)
	default:
		return fmt.Sprintf("malformed evidence: record %d: %s: %s", e.Index, e.Field, e.Reason)
	}
}

// #endregion errors
