package asdp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/trust"
)

const registryYAML = `
registry_version: 3
toe_candidates:
  - id: toe_candidate_a
    label: A
    owner: physics-team
    sovereign_tags: [public]
    trust:
      tier: unknown
      reviewed_by: alice
  - id: toe_candidate_b
    label: B
    sovereign_tags: [simuniverse.low_trust]
    trust:
      tier: normal
      simuniverse:
        mu_score_avg: 0.1
        low_trust_flag: true
  - label: no id here
`

func newSyncer() *Syncer {
	return NewSyncer(governance.NewScorer(governance.DefaultConfig()))
}

func lowSummary() trust.Summary {
	return trust.Summary{
		CandidateID: "toe_candidate_a", SampleCount: 1,
		MuScoreAvg: 0.2, FaizalScoreAvg: 0.9, UndecidabilityAvg: 0.8, EnergyFeasibilityAvg: 0.1,
		LowTrustFlag: true, RunID: "demo",
	}
}

func cleanSummary() trust.Summary {
	return trust.Summary{
		CandidateID: "toe_candidate_b", SampleCount: 2,
		MuScoreAvg: 0.8, FaizalScoreAvg: 0.2, UndecidabilityAvg: 0.3, EnergyFeasibilityAvg: 0.9,
	}
}

func findEntry(t *testing.T, doc *Document, id string) governance.RegistryEntry {
	t.Helper()
	for _, e := range doc.Entries() {
		if e.CandidateID == id {
			return e
		}
	}
	t.Fatalf("entry %s not found", id)
	return governance.RegistryEntry{}
}

// #region apply-tests
func TestApply_LowTrustDemotesAndTags(t *testing.T) {
	doc, err := Parse([]byte(registryYAML), FormatYAML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res := newSyncer().Apply(doc, []trust.Summary{lowSummary()}, nil, "fallback-run")
	if len(res.Updated) != 1 {
		t.Fatalf("expected 1 updated entry, got %d", len(res.Updated))
	}

	a := findEntry(t, doc, "toe_candidate_a")
	if a.Trust.Tier != governance.TierLow {
		t.Errorf("expected low tier, got %s", a.Trust.Tier)
	}
	if strings.Join(a.SovereignTags, ",") != "public,simuniverse.low_trust" {
		t.Errorf("unexpected tags %v", a.SovereignTags)
	}
	if a.Trust.SimUniverse.LastUpdateRunID != "demo" {
		t.Errorf("expected summary run id, got %q", a.Trust.SimUniverse.LastUpdateRunID)
	}
	if a.Trust.SimUniverse.MuScoreAvg != 0.2 || !a.Trust.SimUniverse.LowTrustFlag {
		t.Errorf("simuniverse block not written: %+v", a.Trust.SimUniverse)
	}
}

func TestApply_FailureCountsHoldLow(t *testing.T) {
	doc, _ := Parse([]byte(registryYAML), FormatYAML)
	newSyncer().Apply(doc, []trust.Summary{cleanSummary()}, map[string]int{"toe_candidate_b": 5}, "run-7")

	b := findEntry(t, doc, "toe_candidate_b")
	if b.Trust.Tier != governance.TierLow {
		t.Errorf("expected failure ratchet to hold low, got %s", b.Trust.Tier)
	}
	for _, tag := range b.SovereignTags {
		if tag == "simuniverse.low_trust" {
			t.Error("clean summary must remove the low-trust tag")
		}
	}
	if b.Trust.SimUniverse.LastUpdateRunID != "run-7" {
		t.Errorf("expected fallback run id, got %q", b.Trust.SimUniverse.LastUpdateRunID)
	}
}

func TestApply_CleanSummaryBelowThresholdKeepsNormal(t *testing.T) {
	doc, _ := Parse([]byte(registryYAML), FormatYAML)
	newSyncer().Apply(doc, []trust.Summary{cleanSummary()}, map[string]int{"toe_candidate_b": 1}, "")

	b := findEntry(t, doc, "toe_candidate_b")
	if b.Trust.Tier != governance.TierNormal {
		t.Errorf("expected normal, got %s", b.Trust.Tier)
	}
	if b.Trust.SimUniverse.LowTrustFlag {
		t.Error("low trust flag should be cleared")
	}
}

func TestApply_ReportsMissingCandidates(t *testing.T) {
	doc, _ := Parse([]byte(registryYAML), FormatYAML)
	ghost := cleanSummary()
	ghost.CandidateID = "toe_candidate_ghost"
	res := newSyncer().Apply(doc, []trust.Summary{ghost}, nil, "")
	if len(res.Updated) != 0 || len(res.Missing) != 1 || res.Missing[0] != "toe_candidate_ghost" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestApply_PreservesUnknownFields(t *testing.T) {
	doc, _ := Parse([]byte(registryYAML), FormatYAML)
	newSyncer().Apply(doc, []trust.Summary{lowSummary(), cleanSummary()}, nil, "")

	out, err := doc.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"registry_version: 3", "owner: physics-team", "reviewed_by: alice", "label: no id here"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("lost %q in output:\n%s", want, out)
		}
	}
}

// #endregion apply-tests

// #region file-tests
func TestLoadSave_JSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "registry.json")
	raw := `{"toe_candidates":[{"id":"toe_candidate_a","sovereign_tags":[],"trust":{"tier":"unknown"}}]}`
	if err := os.WriteFile(src, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := Load(src)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	newSyncer().Apply(doc, []trust.Summary{lowSummary()}, nil, "")

	dst := filepath.Join(dir, "out", "registry.json")
	if err := doc.Save(dst); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, _ := os.ReadFile(dst)
	var decoded struct {
		Candidates []governance.RegistryEntry `json:"toe_candidates"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("saved file is not JSON: %v\n%s", err, data)
	}
	if decoded.Candidates[0].Trust.Tier != governance.TierLow {
		t.Errorf("expected low tier in saved JSON, got %s", decoded.Candidates[0].Trust.Tier)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse([]byte("toe_candidates: {a: 1}"), FormatYAML); err == nil {
		t.Error("expected error for non-list toe_candidates")
	}
	if _, err := Parse([]byte("[unclosed"), FormatYAML); err == nil {
		t.Error("expected decode error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestTiers(t *testing.T) {
	doc, _ := Parse([]byte(registryYAML), FormatYAML)
	tiers := doc.Tiers()
	if len(tiers) != 2 || tiers["toe_candidate_a"] != governance.TierUnknown || tiers["toe_candidate_b"] != governance.TierNormal {
		t.Errorf("unexpected tiers %v", tiers)
	}
}

func TestFormatFor(t *testing.T) {
	if FormatFor("a/registry.JSON") != FormatJSON || FormatFor("registry.yaml") != FormatYAML || FormatFor("registry") != FormatYAML {
		t.Error("unexpected format detection")
	}
}

func TestLoadInputs(t *testing.T) {
	dir := t.TempDir()
	sumPath := filepath.Join(dir, "trust.json")
	data, _ := json.Marshal([]trust.Summary{lowSummary()})
	os.WriteFile(sumPath, data, 0o644)

	sums, err := LoadSummaries(sumPath)
	if err != nil {
		t.Fatalf("LoadSummaries: %v", err)
	}
	if len(sums) != 1 || sums[0].CandidateID != "toe_candidate_a" || sums[0].SampleCount != 1 {
		t.Errorf("unexpected summaries %+v", sums)
	}

	failPath := filepath.Join(dir, "failures.json")
	os.WriteFile(failPath, []byte(`{"toe_candidate_a": 4}`), 0o644)
	counts, err := LoadFailureCounts(failPath)
	if err != nil || counts["toe_candidate_a"] != 4 {
		t.Errorf("LoadFailureCounts = %v, %v", counts, err)
	}

	os.WriteFile(failPath, []byte(`{"toe_candidate_a": -1}`), 0o644)
	if _, err := LoadFailureCounts(failPath); err == nil {
		t.Error("expected error for negative failure count")
	}

	empty, err := LoadFailureCounts("")
	if err != nil || len(empty) != 0 {
		t.Errorf("empty path = %v, %v", empty, err)
	}
}

// #endregion file-tests
