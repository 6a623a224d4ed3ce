package governance

import "fmt"

// #region tier
// Tier is a coarse governance classification of a candidate.
type Tier string

const (
	TierHigh    Tier = "high"
	TierNormal  Tier = "normal"
	TierUnknown Tier = "unknown"
	TierLow     Tier = "low"
)

// Tiers lists every tier from most to least trusted.
var Tiers = []Tier{TierHigh, TierNormal, TierUnknown, TierLow}

// ParseTier maps free text to a Tier. Empty or unrecognized text is unknown.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierHigh, TierNormal, TierLow:
		return Tier(s)
	default:
		return TierUnknown
	}
}

// #endregion tier

// #region governance-config
// Config holds every coefficient of the quality and routing formulas.
type Config struct {
	MuWeight      float64 // quality weight on mu
	FaizalWeight  float64 // quality weight on (1 - faizal)
	BaseWeight    float64 // route_omega weight on the base omega
	QualityWeight float64 // route_omega weight on the tier-scaled quality
	TierPenalties map[Tier]float64

	FailureThreshold int
	LowTrustTag      string
}

// DefaultConfig returns the reference 7:3 quality weighting, a 6:4 route
// blend and the standard tier penalty table.
func DefaultConfig() Config {
	return Config{
		MuWeight:      0.7,
		FaizalWeight:  0.3,
		BaseWeight:    0.6,
		QualityWeight: 0.4,
		TierPenalties: map[Tier]float64{
			TierHigh:    1.0,
			TierNormal:  0.9,
			TierUnknown: 0.8,
			TierLow:     0.6,
		},
		FailureThreshold: 3,
		LowTrustTag:      "simuniverse.low_trust",
	}
}

// Validate rejects coefficient sets that would break monotonicity.
func (c Config) Validate() error {
	if c.MuWeight < 0 || c.FaizalWeight < 0 {
		return fmt.Errorf("quality weights must be non-negative (mu=%g faizal=%g)", c.MuWeight, c.FaizalWeight)
	}
	if c.BaseWeight < 0 || c.QualityWeight < 0 {
		return fmt.Errorf("route weights must be non-negative (base=%g quality=%g)", c.BaseWeight, c.QualityWeight)
	}
	if c.BaseWeight+c.QualityWeight == 0 {
		return fmt.Errorf("route weights must not both be zero")
	}
	prev := 1.0
	for _, tier := range Tiers {
		p, ok := c.TierPenalties[tier]
		if !ok {
			return fmt.Errorf("tier penalty for %q is missing", tier)
		}
		if p < 0 || p > 1 {
			return fmt.Errorf("tier penalty for %q must be in [0,1], got %g", tier, p)
		}
		if p > prev {
			return fmt.Errorf("tier penalty for %q (%g) exceeds the penalty of a more trusted tier (%g)", tier, p, prev)
		}
		prev = p
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	return nil
}

// #endregion governance-config

// #region registry-entry
// SimUniverseTrust is the trust.simuniverse block of a registry entry.
type SimUniverseTrust struct {
	MuScoreAvg           float64 `json:"mu_score_avg" yaml:"mu_score_avg"`
	FaizalScoreAvg       float64 `json:"faizal_score_avg" yaml:"faizal_score_avg"`
	UndecidabilityAvg    float64 `json:"undecidability_avg" yaml:"undecidability_avg"`
	EnergyFeasibilityAvg float64 `json:"energy_feasibility_avg" yaml:"energy_feasibility_avg"`
	LowTrustFlag         bool    `json:"low_trust_flag" yaml:"low_trust_flag"`
	LastUpdateRunID      string  `json:"last_update_run_id,omitempty" yaml:"last_update_run_id,omitempty"`
}

// TrustBlock is the trust block of a registry entry.
type TrustBlock struct {
	Tier        Tier             `json:"tier" yaml:"tier"`
	SimUniverse SimUniverseTrust `json:"simuniverse" yaml:"simuniverse"`
}

// RegistryEntry is the persisted per-candidate governance record.
type RegistryEntry struct {
	CandidateID   string     `json:"id" yaml:"id"`
	Trust         TrustBlock `json:"trust" yaml:"trust"`
	SovereignTags []string   `json:"sovereign_tags,omitempty" yaml:"sovereign_tags,omitempty"`
}

// #endregion registry-entry

// #region candidate-score
// CandidateScore is the routing view of one candidate after a run.
type CandidateScore struct {
	CandidateID string  `json:"toe_candidate_id"`
	Quality     float64 `json:"simuniverse_quality"`
	Tier        Tier    `json:"tier"`
	RoutedOmega float64 `json:"routed_omega"`
}

// #endregion candidate-score
