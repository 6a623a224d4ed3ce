package trust

// #region trust-config
// Config holds the low-trust heuristic thresholds. Governance policy varies
// per deployment so neither value is a constant.
type Config struct {
	MuMinGood     float64 // flag when mu_score_avg falls below this...
	FaizalMaxGood float64 // ...and faizal_score_avg rises above this
}

// DefaultConfig returns the reference governance thresholds.
func DefaultConfig() Config {
	return Config{
		MuMinGood:     0.4,
		FaizalMaxGood: 0.7,
	}
}

// #endregion trust-config

// #region trust-summary
// Summary aggregates every scenario score of one candidate.
type Summary struct {
	CandidateID          string  `json:"toe_candidate_id"`
	MuScoreAvg           float64 `json:"mu_score_avg"`
	FaizalScoreAvg       float64 `json:"faizal_score_avg"`
	UndecidabilityAvg    float64 `json:"undecidability_avg"`
	EnergyFeasibilityAvg float64 `json:"energy_feasibility_avg"`
	LowTrustFlag         bool    `json:"low_trust_flag"`
	SampleCount          int     `json:"runs"`
	RunID                string  `json:"run_id,omitempty"`
}

// #endregion trust-summary

// PooledCandidateID names the synthetic summary produced by Pool.
const PooledCandidateID = "*"
