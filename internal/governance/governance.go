package governance

import (
	"math"
	"sort"

	"github.com/danielpatrickdp/simuniverse-cert/internal/trust"
)

// #region scorer
// Scorer computes routing quality and tier transitions.
type Scorer struct {
	config Config
}

// NewScorer creates a scorer with the given configuration.
func NewScorer(config Config) *Scorer {
	return &Scorer{config: config}
}

// Config returns the scorer's active configuration.
func (s *Scorer) Config() Config {
	return s.config
}

// Quality rewards evidentiary support (mu) and penalizes resistance to
// constructive simulation (faizal). The result is clamped into [0,1].
func (s *Scorer) Quality(mu, faizal float64) float64 {
	return clamp01(s.config.MuWeight*mu + s.config.FaizalWeight*(1-faizal))
}

// Penalty returns the tier's scaling factor. Unrecognized tiers are treated
// as unknown.
func (s *Scorer) Penalty(tier Tier) float64 {
	if p, ok := s.config.TierPenalties[tier]; ok {
		return p
	}
	return s.config.TierPenalties[TierUnknown]
}

// RouteOmega blends the base certification score with the quality signal.
// The tier penalty scales the quality contribution before it is folded in, so
// the result never decreases with quality and never increases on demotion.
func (s *Scorer) RouteOmega(baseOmega, simQuality float64, tier Tier) float64 {
	total := s.config.BaseWeight + s.config.QualityWeight
	if total == 0 {
		return clamp01(baseOmega)
	}
	mixed := s.config.BaseWeight*baseOmega + s.config.QualityWeight*s.Penalty(tier)*simQuality
	return clamp01(mixed / total)
}

// #endregion scorer

// #region tier-transitions
// TierFromFailures demotes to low once failureCount reaches failureThreshold.
// Below the threshold prevTier passes through unchanged, so a tier that is
// already low stays low: there is no automatic promotion.
func TierFromFailures(prevTier Tier, failureCount, failureThreshold int) Tier {
	if failureCount >= failureThreshold {
		return TierLow
	}
	return prevTier
}

// TierFromSummary applies a fresh trust summary on top of the failure ratchet.
// A low-trust summary forces low. A clean summary is the explicit evidence
// that may lift unknown or low to normal, unless the failure counter still
// holds the candidate at low.
func (s *Scorer) TierFromSummary(prevTier Tier, summary trust.Summary, failureCount int) Tier {
	tier := TierFromFailures(prevTier, failureCount, s.config.FailureThreshold)
	if summary.LowTrustFlag {
		return TierLow
	}
	if failureCount >= s.config.FailureThreshold {
		return tier
	}
	if tier == TierLow || tier == TierUnknown || tier == "" {
		return TierNormal
	}
	return tier
}

// #endregion tier-transitions

// #region apply-summary
// ApplySummary writes a trust summary into a registry entry: the
// trust.simuniverse block, the tier, and the low-trust sovereign tag.
// runID is used when the summary does not carry its own.
func (s *Scorer) ApplySummary(entry RegistryEntry, summary trust.Summary, failureCount int, runID string) RegistryEntry {
	out := entry
	out.Trust.SimUniverse = SimUniverseTrust{
		MuScoreAvg:           summary.MuScoreAvg,
		FaizalScoreAvg:       summary.FaizalScoreAvg,
		UndecidabilityAvg:    summary.UndecidabilityAvg,
		EnergyFeasibilityAvg: summary.EnergyFeasibilityAvg,
		LowTrustFlag:         summary.LowTrustFlag,
		LastUpdateRunID:      summary.RunID,
	}
	if out.Trust.SimUniverse.LastUpdateRunID == "" {
		out.Trust.SimUniverse.LastUpdateRunID = runID
	}
	out.Trust.Tier = s.TierFromSummary(ParseTier(string(entry.Trust.Tier)), summary, failureCount)

	tags := make(map[string]struct{}, len(entry.SovereignTags)+1)
	for _, t := range entry.SovereignTags {
		tags[t] = struct{}{}
	}
	if summary.LowTrustFlag {
		tags[s.config.LowTrustTag] = struct{}{}
	} else {
		delete(tags, s.config.LowTrustTag)
	}
	out.SovereignTags = make([]string, 0, len(tags))
	for t := range tags {
		out.SovereignTags = append(out.SovereignTags, t)
	}
	sort.Strings(out.SovereignTags)
	if len(out.SovereignTags) == 0 {
		out.SovereignTags = nil
	}
	return out
}

// ScoreCandidates computes the routing view of every summary against baseOmega.
// prevTiers and failures are keyed by candidate id and may be nil.
func (s *Scorer) ScoreCandidates(summaries []trust.Summary, baseOmega float64, prevTiers map[string]Tier, failures map[string]int) []CandidateScore {
	out := make([]CandidateScore, 0, len(summaries))
	for _, sum := range summaries {
		prev, ok := prevTiers[sum.CandidateID]
		if !ok {
			prev = TierUnknown
		}
		tier := s.TierFromSummary(prev, sum, failures[sum.CandidateID])
		q := s.Quality(sum.MuScoreAvg, sum.FaizalScoreAvg)
		out = append(out, CandidateScore{
			CandidateID: sum.CandidateID,
			Quality:     q,
			Tier:        tier,
			RoutedOmega: s.RouteOmega(baseOmega, q, tier),
		})
	}
	return out
}

// #endregion apply-summary

// #region helpers
func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// #endregion helpers
