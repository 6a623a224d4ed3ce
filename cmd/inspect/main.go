package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/danielpatrickdp/simuniverse-cert/internal/logging"
	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
	"github.com/danielpatrickdp/simuniverse-cert/internal/rpc"
)

// #region main

func main() {
	dbPath := flag.String("db", envOr("SIMCERT_DB", ""), "path to simcert.db")
	addr := flag.String("addr", "", "control plane gRPC address (instead of --db)")
	last := flag.Int("last", 20, "show N most recent runs")
	env := flag.String("env", "", "filter runs by environment")
	runID := flag.String("run", "", "show single run detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if (*dbPath == "") == (*addr == "") {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/simcert.db [--last N] [--env name] [--run id] [--json]")
		fmt.Fprintln(os.Stderr, "       inspect --addr host:9090 [--last N] [--env name] [--run id] [--json]")
		os.Exit(2)
	}

	src, err := openSource(*dbPath, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *runID != "" {
		err = runDetailMode(ctx, src, *runID, *jsonOut)
	} else {
		err = runListMode(ctx, src, registry.ListOptions{Environment: *env, Limit: *last}, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region source

// source reads runs either straight from the registry database or through
// the control plane. Events are only available from the database.
type source struct {
	store  *registry.Store
	client *rpc.Client
}

func openSource(dbPath, addr string) (*source, error) {
	if dbPath != "" {
		store, err := registry.NewStore(dbPath)
		if err != nil {
			return nil, err
		}
		return &source{store: store}, nil
	}
	client, err := rpc.NewClient(addr)
	if err != nil {
		return nil, err
	}
	return &source{client: client}, nil
}

func (s *source) Close() {
	if s.store != nil {
		s.store.Close()
	}
	s.client.Close()
}

func (s *source) list(ctx context.Context, opts registry.ListOptions) ([]registry.RunRecord, error) {
	if s.store != nil {
		return s.store.List(ctx, opts)
	}
	return s.client.ListRuns(ctx, opts)
}

func (s *source) get(ctx context.Context, runID string) (registry.RunRecord, error) {
	if s.store != nil {
		return s.store.Get(ctx, runID)
	}
	return s.client.GetRun(ctx, runID)
}

func (s *source) events(runID string) ([]logging.RunEvent, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Events(runID)
}

// #endregion source

// #region list-mode

type listRow struct {
	RunID       string   `json:"run_id"`
	Environment string   `json:"environment"`
	Status      string   `json:"status"`
	OmegaTotal  *float64 `json:"omega_total,omitempty"`
	OmegaLevel  string   `json:"omega_level,omitempty"`
	Consistency *float64 `json:"simuniverse_consistency,omitempty"`
	Gate        string   `json:"gate,omitempty"`
	LowTrust    int      `json:"low_trust"`
	CreatedAt   string   `json:"created_at"`
}

func runListMode(ctx context.Context, src *source, opts registry.ListOptions, jsonOut bool) error {
	runs, err := src.list(ctx, opts)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, r := range runs {
		row := listRow{
			RunID:       r.RunID,
			Environment: r.Environment,
			Status:      string(r.Status),
			Consistency: r.SimUniverseConsistency,
			CreatedAt:   r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if r.OmegaReport != nil {
			total := r.OmegaReport.OmegaTotal
			row.OmegaTotal = &total
			row.OmegaLevel = r.OmegaReport.OmegaLevel
		}
		if r.GateReport != nil {
			row.Gate = string(r.GateReport.Outcome)
		}
		for _, s := range r.TrustSummaries {
			if s.LowTrustFlag {
				row.LowTrust++
			}
		}
		rows[i] = row
	}

	if jsonOut {
		return printJSON(rows)
	}
	printListTable(rows)
	return nil
}

func printListTable(rows []listRow) {
	fmt.Printf("%-28s  %-10s  %-9s  %7s  %-5s  %7s  %-5s  %3s  %s\n",
		"Run", "Env", "Status", "Omega", "Level", "Consist", "Gate", "Low", "Created")
	fmt.Printf("%-28s+-%-10s+-%-9s+-%7s+-%-5s+-%7s+-%-5s+-%3s+-%s\n",
		"----------------------------", "----------", "---------", "-------", "-----", "-------", "-----", "---", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-28s  %-10s  %-9s  %7s  %-5s  %7s  %-5s  %3d  %s\n",
			shortID(r.RunID), r.Environment, r.Status, optFloat(r.OmegaTotal), dash(r.OmegaLevel),
			optFloat(r.Consistency), dash(r.Gate), r.LowTrust, r.CreatedAt)
	}
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Run    registry.RunRecord `json:"run"`
	Events []logging.RunEvent `json:"events,omitempty"`
}

func runDetailMode(ctx context.Context, src *source, runID string, jsonOut bool) error {
	rec, err := src.get(ctx, runID)
	if err != nil {
		return err
	}
	events, err := src.events(runID)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(detailOutput{Run: rec, Events: events})
	}

	fmt.Printf("Run:         %s\n", rec.RunID)
	fmt.Printf("Environment: %s\n", rec.Environment)
	fmt.Printf("Git SHA:     %s\n", rec.GitSHA)
	fmt.Printf("Status:      %s (version %d)\n", rec.Status, rec.Version)
	fmt.Printf("Created:     %s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Printf("Updated:     %s\n", rec.UpdatedAt.UTC().Format(time.RFC3339))
	if rec.ErrorMessage != "" {
		fmt.Printf("Error:       %s\n", rec.ErrorMessage)
	}
	for _, w := range rec.Warnings {
		fmt.Printf("Warning:     %s\n", w)
	}

	if len(rec.TrustSummaries) > 0 {
		ids := make([]string, 0, len(rec.TrustSummaries))
		for id := range rec.TrustSummaries {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Printf("\n%-32s  %6s  %6s  %6s  %6s  %4s  %s\n", "Candidate", "Mu", "Faizal", "Undec", "Energy", "Runs", "Low Trust")
		for _, id := range ids {
			s := rec.TrustSummaries[id]
			fmt.Printf("%-32s  %6.3f  %6.3f  %6.3f  %6.3f  %4d  %v\n",
				id, s.MuScoreAvg, s.FaizalScoreAvg, s.UndecidabilityAvg, s.EnergyFeasibilityAvg, s.SampleCount, s.LowTrustFlag)
		}
	}

	if len(rec.CandidateScores) > 0 {
		fmt.Printf("\n%-32s  %7s  %-8s  %s\n", "Candidate", "Quality", "Tier", "Routed Omega")
		for _, sc := range rec.CandidateScores {
			fmt.Printf("%-32s  %7.3f  %-8s  %.4f\n", sc.CandidateID, sc.Quality, sc.Tier, sc.RoutedOmega)
		}
	}

	if rec.OmegaReport != nil {
		fmt.Printf("\nOmega: %.4f (%s)\n", rec.OmegaReport.OmegaTotal, rec.OmegaReport.OmegaLevel)
		for _, a := range rec.OmegaReport.Axes {
			fmt.Printf("  %-28s  %.4f  w=%.3f\n", a.Name, a.Value, a.Weight)
		}
	}
	if rec.GateReport != nil {
		fmt.Printf("\nGates: %s (%d rules)\n", rec.GateReport.Outcome, rec.GateReport.Rules)
		for _, f := range rec.GateReport.Findings {
			fmt.Printf("  [%s] line %d: %s\n", f.Verdict, f.Line, f.Message)
		}
	}
	if len(rec.RegistryTrust) > 0 {
		ids := make([]string, 0, len(rec.RegistryTrust))
		for id := range rec.RegistryTrust {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Printf("\nRegistry trust:\n")
		for _, id := range ids {
			e := rec.RegistryTrust[id]
			fmt.Printf("  %-32s  %-8s  %v\n", id, e.Trust.Tier, e.SovereignTags)
		}
	}

	if len(events) > 0 {
		fmt.Printf("\nEvents:\n")
		for _, e := range events {
			fmt.Printf("  %s  %-12s  %s -> %s  %s\n",
				e.CreatedAt.UTC().Format("15:04:05"), e.Kind, dash(e.FromStatus), dash(e.ToStatus), e.Detail)
		}
	}
	return nil
}

// #endregion detail-mode

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 28 {
		return id[:28]
	}
	return id
}

func optFloat(v *float64) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf("%.4f", *v)
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
