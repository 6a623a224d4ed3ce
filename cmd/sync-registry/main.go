package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/simuniverse-cert/internal/asdp"
	"github.com/danielpatrickdp/simuniverse-cert/internal/config"
	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
)

// #region main

func main() {
	configPath := flag.String("config", envOr("SIMCERT_CONFIG", ""), "path to simcert YAML config")
	registryPath := flag.String("registry", "", "ASDP registry document (YAML or JSON)")
	summaryPath := flag.String("trust-summary", "", "trust summaries JSON list written by certify")
	failuresPath := flag.String("failures", "", "JSON map of candidate id to gate failure count")
	out := flag.String("out", "", "write the patched document here (defaults to --registry)")
	runID := flag.String("run", "", "run id recorded as last_update_run_id")
	dbPath := flag.String("db", "", "also attach the synced entries to --run in this simcert.db")
	dryRun := flag.Bool("dry-run", false, "print the patched entries without writing")
	flag.Parse()

	if *registryPath == "" || *summaryPath == "" {
		fmt.Fprintln(os.Stderr, "usage: sync-registry --registry registry.yaml --trust-summary trust.json [--failures failures.json]")
		fmt.Fprintln(os.Stderr, "                     [--run id] [--out path] [--db simcert.db] [--dry-run]")
		os.Exit(2)
	}
	if *dbPath != "" && *runID == "" {
		fmt.Fprintln(os.Stderr, "--db requires --run")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}

	doc, err := asdp.Load(*registryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	summaries, err := asdp.LoadSummaries(*summaryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	failures, err := asdp.LoadFailureCounts(*failuresPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	syncer := asdp.NewSyncer(governance.NewScorer(cfg.ToGovernanceConfig()))
	res := syncer.Apply(doc, summaries, failures, *runID)
	for _, id := range res.Missing {
		fmt.Fprintf(os.Stderr, "warning: no registry entry for %s\n", id)
	}

	if *dryRun {
		if err := printJSON(res.Updated); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	dest := *out
	if dest == "" {
		dest = *registryPath
	}
	if err := doc.Save(dest); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("updated %d entries in %s\n", len(res.Updated), dest)
	for _, e := range res.Updated {
		fmt.Printf("  %-32s  %-8s  low_trust=%v\n", e.CandidateID, e.Trust.Tier, e.Trust.SimUniverse.LowTrustFlag)
	}

	if *dbPath != "" {
		if err := attachToRun(*dbPath, *runID, doc.Entries()); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("attached registry trust to run %s\n", *runID)
	}
}

// #endregion main

// #region helpers

func attachToRun(dbPath, runID string, entries []governance.RegistryEntry) error {
	store, err := registry.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.SyncTrust(context.Background(), runID, entries)
	return err
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
