package pipeline

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/simuniverse-cert/internal/evidence"
	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/logging"
	"github.com/danielpatrickdp/simuniverse-cert/internal/metrics"
	"github.com/danielpatrickdp/simuniverse-cert/internal/omega"
	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
)

const twoCandidates = `{
  "run_id": "stage5-demo",
  "scores": [
    {"candidate_id": "toe_candidate_muh_cuh", "world_id": "w1", "mu_score": 0.82, "faizal_score": 0.28, "mean_undecidability_index": 0.32, "energy_feasibility": 0.91},
    {"candidate_id": "toe_candidate_faizal_mtoe", "world_id": "w1", "mu_score": 0.24, "faizal_score": 0.86, "mean_undecidability_index": 0.81, "energy_feasibility": 0.18}
  ]
}`

const gateRules = `
IF metric(simuniverse_low_trust_flag,toe_candidate,toe_candidate_faizal_mtoe) > 0.5 THEN fail("faizal candidate is low trust")
IF metric(asdpi_omega_total) < 0.82 THEN warn("omega below Ω-2")
`

func baseAxes() omega.Base {
	return omega.Base{
		Tenant: "physics",
		Axes: []omega.Axis{
			{Name: "safety", Value: 0.9, Weight: 0.5},
			{Name: "robustness", Value: 0.8, Weight: 0.5},
		},
		Attachments: map[string]string{"dashboard": "https://grafana.invalid/d/sim"},
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func newCertifier(t *testing.T, store *registry.Store, exporter *metrics.Exporter) *Certifier {
	t.Helper()
	g, err := gate.NewGateFromText(gateRules)
	if err != nil {
		t.Fatal(err)
	}
	return New(DefaultConfig(), Deps{Store: store, Gate: g, Exporter: exporter, Logger: logging.Discard()})
}

func tempStore(t *testing.T) *registry.Store {
	t.Helper()
	s, err := registry.NewStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createRun(t *testing.T, s *registry.Store, runID string) {
	t.Helper()
	if _, _, err := s.Create(context.Background(), registry.CreateRequest{RunID: runID, Environment: "staging", GitSHA: "abcdef0"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

// #region certify-tests
func TestCertify_EndToEnd(t *testing.T) {
	c := newCertifier(t, nil, nil)
	out, err := c.Certify(Input{RunID: "staging-abcdef0-00000001", Evidence: []byte(twoCandidates), Base: baseAxes()})
	if err != nil {
		t.Fatalf("Certify: %v", err)
	}

	if len(out.Summaries) != 2 || out.Summaries[0].CandidateID != "toe_candidate_muh_cuh" {
		t.Fatalf("unexpected summaries %+v", out.Summaries)
	}
	muh, faizal := out.Summaries[0], out.Summaries[1]
	if muh.MuScoreAvg != 0.82 || muh.LowTrustFlag {
		t.Errorf("muh_cuh summary wrong: %+v", muh)
	}
	if !faizal.LowTrustFlag {
		t.Error("faizal_mtoe must be low trust")
	}
	if muh.RunID != "stage5-demo" {
		t.Errorf("expected payload run id on summaries, got %q", muh.RunID)
	}
	if got := out.LowTrust(); len(got) != 1 || got[0] != "toe_candidate_faizal_mtoe" {
		t.Errorf("LowTrust() = %v", got)
	}

	// Pooled: mu 0.53, faizal 0.57 -> consistency (0.53 + 0.43) / 2.
	if !approx(out.Consistency, 0.48) {
		t.Errorf("expected consistency 0.48, got %v", out.Consistency)
	}
	if out.Report.Tenant != "physics" || out.Report.Service != "simuniverse" || out.Report.RunID != "staging-abcdef0-00000001" {
		t.Errorf("report header wrong: %+v", out.Report)
	}
	wantTotal := (0.9*0.5 + 0.8*0.5 + 0.48*0.15) / 1.15
	if !approx(out.Report.OmegaTotal, wantTotal) || out.Report.OmegaLevel != "Ω-1" {
		t.Errorf("omega total %v level %s, want %v Ω-1", out.Report.OmegaTotal, out.Report.OmegaLevel, wantTotal)
	}
	sim, _ := out.Report.Axis(omega.SimUniverseAxis)
	tiers, _ := sim.Details["toe_trust_tiers"].(map[string]any)
	if tiers["toe_candidate_faizal_mtoe"] != "low" || tiers["toe_candidate_muh_cuh"] != "normal" {
		t.Errorf("unexpected tier details %v", sim.Details["toe_trust_tiers"])
	}

	if len(out.Scores) != 2 {
		t.Fatalf("expected 2 candidate scores, got %d", len(out.Scores))
	}
	if !approx(out.Scores[0].Quality, 0.79) || out.Scores[0].Tier != governance.TierNormal {
		t.Errorf("unexpected muh_cuh score %+v", out.Scores[0])
	}
	wantRouted := 0.6*0.85 + 0.4*0.9*0.79
	if !approx(out.Scores[0].RoutedOmega, wantRouted) {
		t.Errorf("routed omega %v, want %v", out.Scores[0].RoutedOmega, wantRouted)
	}
	if out.Scores[1].Tier != governance.TierLow {
		t.Errorf("expected low tier for faizal, got %s", out.Scores[1].Tier)
	}

	if out.Decision.Outcome != gate.VerdictFail || len(out.Decision.Findings) != 2 {
		t.Errorf("unexpected gate decision %+v", out.Decision)
	}
}

func TestCertify_FailureRatchetFeedsTiers(t *testing.T) {
	c := newCertifier(t, nil, nil)
	out, err := c.Certify(Input{
		RunID:      "r1",
		Evidence:   []byte(twoCandidates),
		Base:       baseAxes(),
		PriorTiers: map[string]governance.Tier{"toe_candidate_muh_cuh": governance.TierHigh},
		Failures:   map[string]int{"toe_candidate_muh_cuh": 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Scores[0].Tier != governance.TierLow {
		t.Errorf("expected failure ratchet to demote to low, got %s", out.Scores[0].Tier)
	}
}

func TestCertify_NoBaseAxes(t *testing.T) {
	c := newCertifier(t, nil, nil)
	out, err := c.Certify(Input{RunID: "r1", Evidence: []byte(twoCandidates)})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Report.Axes) != 1 || !approx(out.Report.Axes[0].Weight, 1) {
		t.Errorf("expected only the sim axis at weight 1, got %+v", out.Report.Axes)
	}
	if !approx(out.Report.OmegaTotal, out.Consistency) {
		t.Errorf("omega total %v should equal consistency %v", out.Report.OmegaTotal, out.Consistency)
	}
	if out.Report.Tenant != "asdp" {
		t.Errorf("expected default tenant, got %q", out.Report.Tenant)
	}
}

func TestCertify_ClampWarnings(t *testing.T) {
	c := newCertifier(t, nil, nil)
	out, err := c.Certify(Input{RunID: "r1", Evidence: []byte(`[
		{"candidate_id": "a", "mu_score": 1.2, "faizal_score": 0.1, "mean_undecidability_index": 0.2, "energy_feasibility": 0.9}
	]`)})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.WarningStrings()) != 1 || out.Summaries[0].MuScoreAvg != 1 {
		t.Errorf("expected one clamp warning and mu=1, got %v %+v", out.WarningStrings(), out.Summaries[0])
	}
	if out.Summaries[0].RunID != "r1" {
		t.Errorf("expected request run id when payload has none, got %q", out.Summaries[0].RunID)
	}
}

// #endregion certify-tests

// #region run-tests
func TestRun_Succeeded(t *testing.T) {
	store := tempStore(t)
	exporter := metrics.NewExporter()
	c := newCertifier(t, store, exporter)
	createRun(t, store, "r1")

	rec, out, err := c.Run(context.Background(), Input{RunID: "r1", Evidence: []byte(twoCandidates), Base: baseAxes()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != registry.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", rec.Status)
	}
	if rec.GateReport == nil || rec.GateReport.Outcome != gate.VerdictFail {
		t.Errorf("gate report not stored: %+v", rec.GateReport)
	}

	stored, err := store.Get(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.TrustSummaries) != 2 || stored.OmegaReport == nil || stored.SimUniverseConsistency == nil {
		t.Fatalf("results not persisted: %+v", stored)
	}
	if !approx(*stored.SimUniverseConsistency, out.Consistency) {
		t.Errorf("stored consistency %v, want %v", *stored.SimUniverseConsistency, out.Consistency)
	}

	snap, err := exporter.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := snap.Lookup("asdpi_omega_total", "", ""); !ok || !approx(v, out.Report.OmegaTotal) {
		t.Errorf("shared exporter not updated: %v %v", v, ok)
	}
}

func TestRun_MalformedEvidenceFailsRun(t *testing.T) {
	store := tempStore(t)
	c := newCertifier(t, store, metrics.NewExporter())
	createRun(t, store, "r1")

	rec, _, err := c.Run(context.Background(), Input{RunID: "r1", Evidence: []byte(`[{"candidate_id": "a", "mu_score": 0.5}]`)})
	var malformed *evidence.MalformedEvidenceError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedEvidenceError, got %v", err)
	}
	if rec.Status != registry.StatusFailed || rec.ErrorMessage == "" {
		t.Fatalf("expected failed record with reason, got %+v", rec)
	}
	if rec.TrustSummaries != nil || rec.OmegaReport != nil {
		t.Error("failed run must not carry partial results")
	}
}

func TestCertify_EmptyEvidenceHasNoCandidates(t *testing.T) {
	c := newCertifier(t, nil, nil)
	for _, raw := range []string{`[]`, `{"run_id": "r1", "scores": []}`} {
		_, err := c.Certify(Input{RunID: "r1", Evidence: []byte(raw)})
		var malformed *evidence.MalformedEvidenceError
		if !errors.As(err, &malformed) {
			t.Fatalf("%s: expected MalformedEvidenceError, got %v", raw, err)
		}
		if malformed.Index != -1 {
			t.Errorf("%s: expected payload-level error, got index %d", raw, malformed.Index)
		}
	}
}

func TestRun_InvalidAxisWeightsFailsRun(t *testing.T) {
	store := tempStore(t)
	c := newCertifier(t, store, nil)
	createRun(t, store, "r1")

	base := baseAxes()
	base.Axes[0].Weight = -0.5
	rec, _, err := c.Run(context.Background(), Input{RunID: "r1", Evidence: []byte(twoCandidates), Base: base})
	var bad *omega.InvalidAxisWeightsError
	if !errors.As(err, &bad) {
		t.Fatalf("expected InvalidAxisWeightsError, got %v", err)
	}
	if rec.Status != registry.StatusFailed {
		t.Errorf("expected failed, got %s", rec.Status)
	}
}

func TestRun_RequiresPendingRun(t *testing.T) {
	store := tempStore(t)
	c := newCertifier(t, store, nil)
	createRun(t, store, "r1")
	in := Input{RunID: "r1", Evidence: []byte(twoCandidates)}
	if _, _, err := c.Run(context.Background(), in); err != nil {
		t.Fatal(err)
	}

	_, _, err := c.Run(context.Background(), in)
	var bad *registry.InvalidTransitionError
	if !errors.As(err, &bad) {
		t.Fatalf("expected InvalidTransitionError on rerun, got %v", err)
	}

	_, _, err = c.Run(context.Background(), Input{RunID: "missing", Evidence: []byte(twoCandidates)})
	if !errors.Is(err, registry.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRun_NoStore(t *testing.T) {
	c := newCertifier(t, nil, nil)
	if _, _, err := c.Run(context.Background(), Input{RunID: "r1"}); err == nil {
		t.Fatal("expected error without a store")
	}
}

// #endregion run-tests

// #region retry-tests
func TestRetryEngine_OnlyConflictsRetry(t *testing.T) {
	r := NewRetryEngine()
	conflict := &registry.RegistryConflictError{RunID: "r1", Expected: 1, Actual: 2}
	if !r.ShouldRetry(conflict, 1) {
		t.Error("conflict should be retried")
	}
	if r.ShouldRetry(errors.New("disk full"), 1) {
		t.Error("plain errors must not be retried")
	}
	if r.ShouldRetry(nil, 1) {
		t.Error("success must not be retried")
	}
	if r.ShouldRetry(conflict, 3) {
		t.Error("should not retry after 3 attempts")
	}
}

func TestRetryEngine_Do(t *testing.T) {
	r := NewRetryEngine()
	var waits []time.Duration
	r.sleep = func(d time.Duration) { waits = append(waits, d) }

	calls := 0
	err := r.Do(func() error {
		calls++
		if calls < 3 {
			return &registry.RegistryConflictError{RunID: "r1"}
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got err=%v calls=%d", err, calls)
	}
	if len(waits) != 2 || waits[1] != 2*waits[0] {
		t.Errorf("expected doubling backoff, got %v", waits)
	}

	calls = 0
	err = r.Do(func() error {
		calls++
		return &registry.RegistryConflictError{RunID: "r1"}
	})
	var conflict *registry.RegistryConflictError
	if !errors.As(err, &conflict) || calls != 3 {
		t.Fatalf("expected conflict after 3 attempts, got err=%v calls=%d", err, calls)
	}
}

// #endregion retry-tests
