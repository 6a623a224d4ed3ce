package trust

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/simuniverse-cert/internal/evidence"
)

func score(id, world string, mu, faizal, u, e float64) evidence.ScenarioScore {
	return evidence.ScenarioScore{
		CandidateID:             id,
		WorldID:                 world,
		MuScore:                 mu,
		FaizalScore:             faizal,
		MeanUndecidabilityIndex: u,
		EnergyFeasibility:       e,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

// #region aggregate-tests
func TestAggregate_SingleSamplePerCandidate(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	scores := []evidence.ScenarioScore{
		score("toe_candidate_muh_cuh", "w1", 0.82, 0.28, 0.32, 0.91),
		score("toe_candidate_faizal_mtoe", "w1", 0.24, 0.86, 0.81, 0.18),
	}

	got := agg.Aggregate(scores, "run-1")
	if len(got) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(got))
	}

	muh := got[0]
	if muh.CandidateID != "toe_candidate_muh_cuh" {
		t.Fatalf("expected first-appearance order, got %s first", muh.CandidateID)
	}
	if muh.MuScoreAvg != 0.82 || muh.FaizalScoreAvg != 0.28 || muh.UndecidabilityAvg != 0.32 || muh.EnergyFeasibilityAvg != 0.91 {
		t.Errorf("single-sample averages should equal inputs: %+v", muh)
	}
	if muh.LowTrustFlag {
		t.Error("muh_cuh should not be low trust")
	}
	if muh.SampleCount != 1 || muh.RunID != "run-1" {
		t.Errorf("unexpected count/run: %+v", muh)
	}

	faizal := got[1]
	if !faizal.LowTrustFlag {
		t.Error("faizal_mtoe should be low trust")
	}
}

func TestAggregate_MeansAndPermutationInvariance(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	a := []evidence.ScenarioScore{
		score("a", "w1", 0.1, 0.9, 0.3, 0.7),
		score("b", "w1", 0.5, 0.5, 0.5, 0.5),
		score("a", "w2", 0.3, 0.7, 0.6, 0.2),
		score("a", "w3", 0.7, 0.2, 0.9, 0.4),
	}
	b := []evidence.ScenarioScore{a[3], a[1], a[0], a[2]}

	ga := ByCandidate(agg.Aggregate(a, ""))
	gb := ByCandidate(agg.Aggregate(b, ""))

	if ga["a"].SampleCount != 3 {
		t.Fatalf("expected 3 samples for a, got %d", ga["a"].SampleCount)
	}
	if !approx(ga["a"].MuScoreAvg, (0.1+0.3+0.7)/3) {
		t.Errorf("mu avg = %f", ga["a"].MuScoreAvg)
	}
	if !approx(ga["a"].EnergyFeasibilityAvg, (0.7+0.2+0.4)/3) {
		t.Errorf("energy avg = %f", ga["a"].EnergyFeasibilityAvg)
	}
	if ga["a"] != gb["a"] || ga["b"] != gb["b"] {
		t.Errorf("aggregation not permutation invariant:\n%+v\n%+v", ga, gb)
	}
	for _, s := range ga {
		for _, v := range []float64{s.MuScoreAvg, s.FaizalScoreAvg, s.UndecidabilityAvg, s.EnergyFeasibilityAvg} {
			if v < 0 || v > 1 {
				t.Errorf("average %f out of [0,1] for %s", v, s.CandidateID)
			}
		}
	}
}

func TestAggregate_EmptyInput(t *testing.T) {
	got := NewAggregator(DefaultConfig()).Aggregate(nil, "")
	if len(got) != 0 {
		t.Fatalf("expected no summaries, got %d", len(got))
	}
}

// #endregion aggregate-tests

// #region low-trust-tests
func TestIsLowTrust_Defaults(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	if agg.IsLowTrust(Summary{MuScoreAvg: 0.82, FaizalScoreAvg: 0.28}) {
		t.Error("0.82/0.28 should not be low trust")
	}
	if !agg.IsLowTrust(Summary{MuScoreAvg: 0.24, FaizalScoreAvg: 0.86}) {
		t.Error("0.24/0.86 should be low trust")
	}
	// both conditions are required
	if agg.IsLowTrust(Summary{MuScoreAvg: 0.2, FaizalScoreAvg: 0.5}) {
		t.Error("low mu alone should not flag")
	}
	if agg.IsLowTrust(Summary{MuScoreAvg: 0.6, FaizalScoreAvg: 0.9}) {
		t.Error("high faizal alone should not flag")
	}
}

func TestIsLowTrust_CustomThresholds(t *testing.T) {
	agg := NewAggregator(Config{MuMinGood: 0.9, FaizalMaxGood: 0.2})
	if !agg.IsLowTrust(Summary{MuScoreAvg: 0.82, FaizalScoreAvg: 0.28}) {
		t.Error("strict policy should flag 0.82/0.28")
	}
}

// #endregion low-trust-tests

// #region pool-tests
func TestPool(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	summaries := agg.Aggregate([]evidence.ScenarioScore{
		score("a", "w1", 0.82, 0.28, 0.32, 0.91),
		score("b", "w1", 0.24, 0.86, 0.81, 0.18),
		score("b", "w2", 0.24, 0.86, 0.81, 0.18),
	}, "r")

	pooled, ok := agg.Pool(summaries)
	if !ok {
		t.Fatal("expected pooled summary")
	}
	if pooled.CandidateID != PooledCandidateID {
		t.Errorf("unexpected id %s", pooled.CandidateID)
	}
	if pooled.SampleCount != 3 {
		t.Errorf("expected 3 samples, got %d", pooled.SampleCount)
	}
	if !approx(pooled.MuScoreAvg, (0.82+0.24)/2) {
		t.Errorf("pooled mu = %f", pooled.MuScoreAvg)
	}
	if pooled.LowTrustFlag {
		t.Error("pooled summary should not be low trust")
	}
	if pooled.RunID != "r" {
		t.Errorf("expected run id r, got %q", pooled.RunID)
	}

	if _, ok := agg.Pool(nil); ok {
		t.Error("expected ok=false for empty pool")
	}
}

// #endregion pool-tests
