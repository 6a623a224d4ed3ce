package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/danielpatrickdp/simuniverse-cert/internal/config"
	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/metrics"
	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
	"github.com/danielpatrickdp/simuniverse-cert/internal/replay"
	"github.com/danielpatrickdp/simuniverse-cert/internal/trust"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to simcert.db (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	configPath := flag.String("config", envOr("SIMCERT_CONFIG", ""), "simcert YAML config supplying gate rules (DB mode)")
	rulesPath := flag.String("rules", "", "gate rule file to replay instead of the configured rules (DB mode)")
	last := flag.Int("last", 50, "replay the N most recent runs (DB mode)")
	flag.Parse()

	if (*dbPath == "" && *fixturePath == "") || (*dbPath != "" && *fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/simcert.db [--config simcert.yaml] [--rules gates.rules] [--last N]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json")
		os.Exit(2)
	}

	var exitCode int
	if *fixturePath != "" {
		exitCode = runFixtureMode(*fixturePath)
	} else {
		exitCode = runDBMode(*dbPath, *configPath, *rulesPath, *last)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region fixture-mode

func runFixtureMode(path string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	results, err := f.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "execute fixture: %v\n", err)
		return 2
	}
	mismatches := f.Compare(results)

	bad := make(map[string]bool, len(mismatches))
	for _, m := range mismatches {
		bad[m.RunID] = true
	}

	fmt.Printf("%-12s| %-24s| %-6s| %-5s| %-40s| %s\n", "Run", "Low Trust", "Level", "Gate", "Tiers", "Match")
	fmt.Printf("%-12s+%-25s+%-7s+%-6s+%-41s+%s\n",
		"------------", "-------------------------", "-------", "------", "-----------------------------------------", "------")
	for _, r := range results {
		match := "OK"
		if bad[r.RunID] {
			match = "DIFF"
		}
		if r.Err != nil {
			fmt.Printf("%-12s| %-24s| %-6s| %-5s| %-40s| %s\n", r.RunID, "error", "—", "—", formatTiers(r.Tiers), match)
			continue
		}
		fmt.Printf("%-12s| %-24s| %-6s| %-5s| %-40s| %s\n",
			r.RunID, dash(strings.Join(r.Outcome.LowTrust(), ",")), r.Outcome.Report.OmegaLevel,
			r.Outcome.Decision.Outcome, formatTiers(r.Tiers), match)
	}

	s := replay.Summarize(results)
	fmt.Printf("\nSummary: %d runs, %d pass, %d warn, %d fail, %d error\n", s.TotalRuns, s.Passed, s.Warned, s.Failed, s.Errors)
	fmt.Printf("Final tiers: %s\n", formatTiers(s.FinalTiers))

	if len(mismatches) > 0 {
		fmt.Printf("\n%d mismatches:\n", len(mismatches))
		for _, m := range mismatches {
			fmt.Printf("  %s\n", m)
		}
		return 1
	}
	return 0
}

// #endregion fixture-mode

// #region db-mode

// runDBMode re-evaluates gate rules against the stored results of past runs.
// It answers whether a rule change would have flipped earlier decisions.
func runDBMode(dbPath, configPath, rulesPath string, last int) int {
	g, err := loadGate(configPath, rulesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gate rules: %v\n", err)
		return 2
	}

	store, err := registry.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer store.Close()

	runs, err := store.List(context.Background(), registry.ListOptions{Limit: last})
	if err != nil {
		fmt.Fprintf(os.Stderr, "list runs: %v\n", err)
		return 2
	}

	fmt.Printf("%-28s| %-9s| %-9s| %s\n", "Run", "Recorded", "Replayed", "Match")
	fmt.Printf("%-28s+%-10s+%-10s+%s\n", "----------------------------", "----------", "----------", "------")

	total, diverge := 0, 0
	// List is newest first; replay oldest first.
	for i := len(runs) - 1; i >= 0; i-- {
		rec := runs[i]
		if rec.Status != registry.StatusSucceeded || rec.GateReport == nil {
			continue
		}
		replayed, err := reevaluate(g, rec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "run %s: %v\n", rec.RunID, err)
			return 2
		}
		total++
		match := "OK"
		if replayed.Outcome != rec.GateReport.Outcome {
			match = "DIFF"
			diverge++
		}
		fmt.Printf("%-28s| %-9s| %-9s| %s\n", rec.RunID, rec.GateReport.Outcome, replayed.Outcome, match)
	}

	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", total, total-diverge, diverge)
	if diverge > 0 {
		return 1
	}
	return 0
}

func loadGate(configPath, rulesPath string) (*gate.Gate, error) {
	if rulesPath != "" {
		rules, err := gate.CompileFile(rulesPath)
		if err != nil {
			return nil, err
		}
		return gate.NewGate(rules), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg.Gate()
}

// reevaluate rebuilds the run's metric series from its stored results and
// evaluates the rules against them.
func reevaluate(g *gate.Gate, rec registry.RunRecord) (gate.Decision, error) {
	ids := make([]string, 0, len(rec.TrustSummaries))
	for id := range rec.TrustSummaries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	summaries := make([]trust.Summary, len(ids))
	for i, id := range ids {
		summaries[i] = rec.TrustSummaries[id]
	}

	exp := metrics.NewExporter()
	exp.ObserveSummaries(summaries)
	exp.ObserveScores(rec.CandidateScores)
	if rec.OmegaReport != nil {
		exp.ObserveReport(*rec.OmegaReport)
	}
	snap, err := exp.Snapshot()
	if err != nil {
		return gate.Decision{}, err
	}
	return g.Evaluate(snap), nil
}

// #endregion db-mode

// #region output

func formatTiers(tiers map[string]governance.Tier) string {
	if len(tiers) == 0 {
		return "—"
	}
	ids := make([]string, 0, len(tiers))
	for id := range tiers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s=%s", shortCandidate(id), tiers[id])
	}
	return strings.Join(parts, " ")
}

func shortCandidate(id string) string {
	return strings.TrimPrefix(id, "toe_candidate_")
}

func dash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion output
