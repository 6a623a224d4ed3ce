package trust

import (
	"sort"

	"github.com/danielpatrickdp/simuniverse-cert/internal/evidence"
)

// #region aggregator
// Aggregator reduces per-world scores into per-candidate summaries.
type Aggregator struct {
	config Config
}

// NewAggregator creates an aggregator with the given thresholds.
func NewAggregator(config Config) *Aggregator {
	return &Aggregator{config: config}
}

type accumulator struct {
	mu, faizal, undecidability, energy []float64
}

func (acc *accumulator) add(mu, faizal, undecidability, energy float64) {
	acc.mu = append(acc.mu, mu)
	acc.faizal = append(acc.faizal, faizal)
	acc.undecidability = append(acc.undecidability, undecidability)
	acc.energy = append(acc.energy, energy)
}

func (acc *accumulator) len() int {
	return len(acc.mu)
}

// mean sums in ascending order so the result is bit-identical under any
// permutation of the inputs.
func mean(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}

// Aggregate groups scores by candidate and averages each field. Output order is
// the order of first appearance; empty groups never produce a summary.
// runID is stamped on every summary and may be empty.
func (a *Aggregator) Aggregate(scores []evidence.ScenarioScore, runID string) []Summary {
	order := make([]string, 0)
	groups := make(map[string]*accumulator)

	for _, s := range scores {
		acc, ok := groups[s.CandidateID]
		if !ok {
			acc = &accumulator{}
			groups[s.CandidateID] = acc
			order = append(order, s.CandidateID)
		}
		acc.add(s.MuScore, s.FaizalScore, s.MeanUndecidabilityIndex, s.EnergyFeasibility)
	}

	summaries := make([]Summary, 0, len(order))
	for _, id := range order {
		acc := groups[id]
		if acc.len() == 0 {
			continue
		}
		sum := Summary{
			CandidateID:          id,
			MuScoreAvg:           mean(acc.mu),
			FaizalScoreAvg:       mean(acc.faizal),
			UndecidabilityAvg:    mean(acc.undecidability),
			EnergyFeasibilityAvg: mean(acc.energy),
			SampleCount:          acc.len(),
			RunID:                runID,
		}
		sum.LowTrustFlag = a.IsLowTrust(sum)
		summaries = append(summaries, sum)
	}
	return summaries
}

// IsLowTrust applies the low-trust heuristic to a summary's averages.
func (a *Aggregator) IsLowTrust(s Summary) bool {
	return s.MuScoreAvg < a.config.MuMinGood && s.FaizalScoreAvg > a.config.FaizalMaxGood
}

// #endregion aggregator

// #region pool
// Pool folds candidate summaries into one run-level summary: an unweighted mean
// of the candidate averages, with sample counts summed. The low-trust flag is
// recomputed on the pooled averages. ok is false when summaries is empty.
func (a *Aggregator) Pool(summaries []Summary) (Summary, bool) {
	if len(summaries) == 0 {
		return Summary{}, false
	}
	var acc accumulator
	pooled := Summary{CandidateID: PooledCandidateID}
	for _, s := range summaries {
		acc.add(s.MuScoreAvg, s.FaizalScoreAvg, s.UndecidabilityAvg, s.EnergyFeasibilityAvg)
		pooled.SampleCount += s.SampleCount
		if pooled.RunID == "" {
			pooled.RunID = s.RunID
		}
	}
	pooled.MuScoreAvg = mean(acc.mu)
	pooled.FaizalScoreAvg = mean(acc.faizal)
	pooled.UndecidabilityAvg = mean(acc.undecidability)
	pooled.EnergyFeasibilityAvg = mean(acc.energy)
	pooled.LowTrustFlag = a.IsLowTrust(pooled)
	return pooled, true
}

// #endregion pool

// #region index
// ByCandidate indexes summaries by candidate id.
func ByCandidate(summaries []Summary) map[string]Summary {
	out := make(map[string]Summary, len(summaries))
	for _, s := range summaries {
		out[s.CandidateID] = s
	}
	return out
}

// #endregion index
