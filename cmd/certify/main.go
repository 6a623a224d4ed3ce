package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/simuniverse-cert/internal/asdp"
	"github.com/danielpatrickdp/simuniverse-cert/internal/config"
	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/omega"
	"github.com/danielpatrickdp/simuniverse-cert/internal/pipeline"
)

// #region main

func main() {
	configPath := flag.String("config", envOr("SIMCERT_CONFIG", ""), "path to simcert YAML config")
	evidencePath := flag.String("evidence", "", "path to solver-layer evidence JSON")
	basePath := flag.String("base", "", "baseline omega report JSON (defaults to config base_axes)")
	registryPath := flag.String("registry", "", "ASDP registry document for prior tiers")
	failuresPath := flag.String("failures", "", "JSON map of candidate id to gate failure count")
	runID := flag.String("run-id", "", "run id stamped on the report")
	summariesOut := flag.String("summaries-out", "", "write trust summaries JSON list here")
	reportOut := flag.String("report-out", "", "write the merged omega report here")
	jsonOut := flag.Bool("json", false, "print the full outcome as JSON instead of tables")
	flag.Parse()

	if *evidencePath == "" {
		fmt.Fprintln(os.Stderr, "usage: certify --evidence path/to/evidence.json [--base report.json] [--registry registry.yaml]")
		fmt.Fprintln(os.Stderr, "               [--failures failures.json] [--summaries-out trust.json] [--report-out omega.json] [--json]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	g, err := cfg.Gate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gate rules: %v\n", err)
		os.Exit(2)
	}

	in, err := loadInput(cfg, *evidencePath, *basePath, *registryPath, *failuresPath, *runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cert := pipeline.New(cfg.ToPipelineConfig(), pipeline.Deps{Gate: g})
	out, err := cert.Certify(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "certify: %v\n", err)
		os.Exit(1)
	}

	if *summariesOut != "" {
		if err := writeJSON(*summariesOut, out.Summaries); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	if *reportOut != "" {
		if err := writeJSON(*reportOut, out.Report); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}

	if *jsonOut {
		if err := printJSON(out); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	} else {
		printOutcome(out)
	}
	if out.Decision.Outcome == gate.VerdictFail {
		os.Exit(3)
	}
}

// #endregion main

// #region inputs

func loadInput(cfg config.Config, evidencePath, basePath, registryPath, failuresPath, runID string) (pipeline.Input, error) {
	raw, err := os.ReadFile(evidencePath)
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("read evidence %s: %w", evidencePath, err)
	}
	base := cfg.DefaultBase()
	if basePath != "" {
		if base, err = omega.LoadBase(basePath); err != nil {
			return pipeline.Input{}, err
		}
	}
	var tiers map[string]governance.Tier
	if registryPath != "" {
		doc, err := asdp.Load(registryPath)
		if err != nil {
			return pipeline.Input{}, err
		}
		tiers = doc.Tiers()
	}
	failures, err := asdp.LoadFailureCounts(failuresPath)
	if err != nil {
		return pipeline.Input{}, err
	}
	return pipeline.Input{
		RunID:      runID,
		Evidence:   raw,
		Base:       base,
		PriorTiers: tiers,
		Failures:   failures,
	}, nil
}

// #endregion inputs

// #region output

func printOutcome(out pipeline.Outcome) {
	for _, w := range out.WarningStrings() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	fmt.Printf("%-32s  %6s  %6s  %6s  %6s  %4s  %s\n",
		"Candidate", "Mu", "Faizal", "Undec", "Energy", "Runs", "Low Trust")
	fmt.Printf("%-32s+-%6s+-%6s+-%6s+-%6s+-%4s+-%s\n",
		"--------------------------------", "------", "------", "------", "------", "----", "---------")
	for _, s := range out.Summaries {
		fmt.Printf("%-32s  %6.3f  %6.3f  %6.3f  %6.3f  %4d  %v\n",
			s.CandidateID, s.MuScoreAvg, s.FaizalScoreAvg, s.UndecidabilityAvg, s.EnergyFeasibilityAvg, s.SampleCount, s.LowTrustFlag)
	}

	fmt.Printf("\n%-32s  %7s  %-8s  %s\n", "Candidate", "Quality", "Tier", "Routed Omega")
	fmt.Printf("%-32s+-%7s+-%-8s+-%s\n", "--------------------------------", "-------", "--------", "------------")
	for _, sc := range out.Scores {
		fmt.Printf("%-32s  %7.3f  %-8s  %.4f\n", sc.CandidateID, sc.Quality, sc.Tier, sc.RoutedOmega)
	}

	fmt.Printf("\nSimUniverse consistency: %.4f\n", out.Consistency)
	fmt.Printf("Omega total: %.4f (%s)\n", out.Report.OmegaTotal, out.Report.OmegaLevel)
	fmt.Printf("Gates: %s (%d rules)\n", out.Decision.Outcome, out.Decision.Rules)
	for _, f := range out.Decision.Findings {
		fmt.Printf("  [%s] line %d: %s\n", f.Verdict, f.Line, f.Message)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion output
