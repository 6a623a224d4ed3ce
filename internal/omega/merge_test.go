package omega

import (
	"errors"
	"math"
	"testing"

	"github.com/danielpatrickdp/simuniverse-cert/internal/trust"
)

var (
	muhCuh = trust.Summary{
		CandidateID:          "toe_candidate_muh_cuh",
		MuScoreAvg:           0.82,
		FaizalScoreAvg:       0.28,
		UndecidabilityAvg:    0.32,
		EnergyFeasibilityAvg: 0.91,
		SampleCount:          1,
	}
	faizalMtoe = trust.Summary{
		CandidateID:          "toe_candidate_faizal_mtoe",
		MuScoreAvg:           0.24,
		FaizalScoreAvg:       0.86,
		UndecidabilityAvg:    0.81,
		EnergyFeasibilityAvg: 0.18,
		LowTrustFlag:         true,
		SampleCount:          1,
	}
)

// #region consistency-tests
func TestConsistency_ReferenceCandidates(t *testing.T) {
	m := NewMerger(DefaultConfig())
	if got := m.Consistency(muhCuh); math.Abs(got-0.77) > 1e-9 {
		t.Errorf("muh_cuh consistency: expected 0.77, got %f", got)
	}
	if got := m.Consistency(faizalMtoe); math.Abs(got-0.19) > 1e-9 {
		t.Errorf("faizal_mtoe consistency: expected 0.19, got %f", got)
	}
}

func TestConsistency_EnergyCeiling(t *testing.T) {
	m := NewMerger(DefaultConfig())
	s := muhCuh
	s.EnergyFeasibilityAvg = 0.05
	if got := m.Consistency(s); got != 0.05 {
		t.Errorf("expected consistency capped at energy 0.05, got %f", got)
	}
}

func TestConsistency_CustomWeightsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Consistency = ConsistencyConfig{MuWeight: 3, FaizalComplementWeight: 1, UndecidabilityComplementWeight: 2, EnergyWeight: 4}
	m := NewMerger(cfg)
	for _, s := range []trust.Summary{muhCuh, faizalMtoe, {}, {MuScoreAvg: 1, EnergyFeasibilityAvg: 1}} {
		got := m.Consistency(s)
		if got < 0 || got > 1 {
			t.Fatalf("consistency %f out of [0,1]", got)
		}
	}
}

// #endregion consistency-tests

// #region merge-tests
func TestMerge_RenormalizesWeights(t *testing.T) {
	m := NewMerger(DefaultConfig())
	report, err := m.Merge(Input{
		Tenant:   "acme",
		Service:  "router",
		RunID:    "run-1",
		BaseAxes: []Axis{{Name: "safety", Value: 0.9, Weight: 0.5}, {Name: "robustness", Value: 0.8, Weight: 0.5}},
		Summary:  muhCuh,
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(report.Axes) != 3 {
		t.Fatalf("expected 3 axes, got %d", len(report.Axes))
	}

	var wsum, total float64
	for _, a := range report.Axes {
		wsum += a.Weight
		total += a.Value * a.Weight
	}
	if math.Abs(wsum-1) > 1e-9 {
		t.Errorf("weights sum to %f, expected 1", wsum)
	}
	if math.Abs(total-report.OmegaTotal) > 1e-9 {
		t.Errorf("omega_total %f != weighted sum %f", report.OmegaTotal, total)
	}

	sim, ok := report.Axis(SimUniverseAxis)
	if !ok {
		t.Fatal("simuniverse axis missing")
	}
	if math.Abs(sim.Weight-0.15/1.15) > 1e-9 {
		t.Errorf("sim weight = %f", sim.Weight)
	}
	if report.Axes[0].Name != "safety" || report.Axes[2].Name != SimUniverseAxis {
		t.Errorf("axis order not preserved: %v", report.Axes)
	}
}

func TestMerge_ReplacesExistingAxisInPlace(t *testing.T) {
	m := NewMerger(DefaultConfig())
	base := []Axis{
		{Name: SimUniverseAxis, Value: 0.1, Weight: 0.9},
		{Name: "safety", Value: 0.9, Weight: 0.85},
	}
	report, err := m.Merge(Input{BaseAxes: base, Summary: muhCuh})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(report.Axes) != 2 {
		t.Fatalf("expected replacement, got %d axes", len(report.Axes))
	}
	if report.Axes[0].Name != SimUniverseAxis || math.Abs(report.Axes[0].Value-0.77) > 1e-9 {
		t.Errorf("expected replaced sim axis first with value 0.77, got %+v", report.Axes[0])
	}
	if math.Abs(report.Axes[0].Weight-0.15) > 1e-9 {
		t.Errorf("expected configured weight 0.15 after renormalization, got %f", report.Axes[0].Weight)
	}
	if base[0].Value != 0.1 || base[1].Weight != 0.85 {
		t.Error("base axes were mutated")
	}
}

func TestMerge_InvalidWeights(t *testing.T) {
	m := NewMerger(DefaultConfig())
	cases := map[string][]Axis{
		"negative":  {{Name: "safety", Value: 0.5, Weight: -0.1}},
		"duplicate": {{Name: "safety", Value: 0.5, Weight: 0.5}, {Name: "safety", Value: 0.5, Weight: 0.5}},
		"value":     {{Name: "safety", Value: 1.5, Weight: 0.5}},
	}
	for name, axes := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.Merge(Input{BaseAxes: axes, Summary: muhCuh})
			var werr *InvalidAxisWeightsError
			if !errors.As(err, &werr) {
				t.Fatalf("expected InvalidAxisWeightsError, got %v", err)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.SimWeight = 0
	_, err := NewMerger(cfg).Merge(Input{BaseAxes: []Axis{{Name: "safety", Value: 0.5, Weight: 0}}, Summary: muhCuh})
	var werr *InvalidAxisWeightsError
	if !errors.As(err, &werr) {
		t.Fatalf("expected zero-total error, got %v", err)
	}
}

func TestMerge_DetailsAndAttachments(t *testing.T) {
	m := NewMerger(DefaultConfig())
	attach := map[string]string{"html_report_url": "https://example.invalid/r.html"}
	report, err := m.Merge(Input{
		BaseAxes:    []Axis{{Name: "safety", Value: 0.9, Weight: 1}},
		Summary:     muhCuh,
		Tiers:       map[string]string{"toe_candidate_muh_cuh": "normal"},
		Attachments: attach,
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if report.Attachments["html_report_url"] != attach["html_report_url"] {
		t.Error("attachment not passed through")
	}
	sim, _ := report.Axis(SimUniverseAxis)
	tiers, ok := sim.Details["toe_trust_tiers"].(map[string]any)
	if !ok || tiers["toe_candidate_muh_cuh"] != "normal" {
		t.Errorf("tier details missing: %v", sim.Details)
	}
}

// #endregion merge-tests

// #region level-tests
func TestLevel_Bands(t *testing.T) {
	m := NewMerger(DefaultConfig())
	cases := []struct {
		total float64
		want  string
	}{
		{1.0, "Ω-3"},
		{0.90, "Ω-3"},
		{0.8999, "Ω-2"},
		{0.82, "Ω-2"},
		{0.75, "Ω-1"},
		{0.70, "Ω-1"},
		{0.69, "Ω-0"},
		{0, "Ω-0"},
	}
	for _, c := range cases {
		if got := m.Level(c.total); got != c.want {
			t.Errorf("Level(%f) = %s, want %s", c.total, got, c.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Levels = []Level{{Name: "Ω-3", Min: 0.7}, {Name: "Ω-2", Min: 0.8}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-descending levels")
	}
	cfg = DefaultConfig()
	cfg.SimWeight = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative sim weight")
	}
	cfg = DefaultConfig()
	cfg.Consistency = ConsistencyConfig{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero consistency weights")
	}
}

// #endregion level-tests
