package asdp

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/trust"
)

// #region sync
// Result reports what Apply changed.
type Result struct {
	Updated []governance.RegistryEntry // in document order
	Missing []string                   // summary candidates with no registry entry
}

// Syncer patches registry documents with trust summaries.
type Syncer struct {
	scorer *governance.Scorer
}

// NewSyncer creates a syncer that uses the scorer's tier rules and tag name.
func NewSyncer(scorer *governance.Scorer) *Syncer {
	return &Syncer{scorer: scorer}
}

// Apply writes every summary onto the matching toe_candidates entry in place.
// The tier obeys the failure ratchet and the low-trust rule, and the
// low-trust sovereign tag is added or removed. runID fills
// last_update_run_id for summaries that carry none.
func (s *Syncer) Apply(doc *Document, summaries []trust.Summary, failures map[string]int, runID string) Result {
	byID := trust.ByCandidate(summaries)
	seen := make(map[string]bool, len(byID))

	var res Result
	for _, m := range doc.candidates() {
		entry, ok := entryFromMap(m)
		if !ok {
			continue
		}
		summary, ok := byID[entry.CandidateID]
		if !ok {
			continue
		}
		seen[entry.CandidateID] = true
		updated := s.scorer.ApplySummary(entry, summary, failures[entry.CandidateID], runID)
		writeEntry(m, updated)
		res.Updated = append(res.Updated, updated)
	}
	for _, sum := range summaries {
		if !seen[sum.CandidateID] {
			res.Missing = append(res.Missing, sum.CandidateID)
		}
	}
	return res
}

// #endregion sync

// #region inputs
// LoadSummaries reads a trust summary file: a JSON list of summaries as
// written by the certify command.
func LoadSummaries(path string) ([]trust.Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust summary %s: %w", path, err)
	}
	var summaries []trust.Summary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, fmt.Errorf("decode trust summary %s: %w", path, err)
	}
	return summaries, nil
}

// LoadFailureCounts reads a candidate id to gate failure count mapping.
// An empty path yields no failures.
func LoadFailureCounts(path string) (map[string]int, error) {
	if path == "" {
		return map[string]int{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read failure counts %s: %w", path, err)
	}
	counts := map[string]int{}
	if err := json.Unmarshal(data, &counts); err != nil {
		return nil, fmt.Errorf("decode failure counts %s: %w", path, err)
	}
	for id, n := range counts {
		if n < 0 {
			return nil, fmt.Errorf("failure count for %s must be non-negative, got %d", id, n)
		}
	}
	return counts, nil
}

// #endregion inputs
