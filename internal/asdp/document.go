package asdp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
)

// #region format
// Format is the on-disk encoding of a registry document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the encoding from a file extension. Anything that is not
// .json is treated as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// #endregion format

// #region document
// Document is an ASDP registry document. It is held as a generic tree so
// fields this package does not know about (labels, owners, links) survive a
// load-apply-save cycle.
type Document struct {
	root   map[string]any
	format Format
}

// Load reads a registry document from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	doc, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a registry document. JSON is a subset of YAML, so both go
// through the YAML decoder; format only controls how Marshal writes it back.
func Parse(data []byte, format Format) (*Document, error) {
	root := map[string]any{}
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	if root == nil {
		root = map[string]any{}
	}
	if raw, ok := root["toe_candidates"]; ok {
		if _, ok := raw.([]any); !ok && raw != nil {
			return nil, fmt.Errorf("decode registry: toe_candidates must be a list, got %T", raw)
		}
	}
	return &Document{root: root, format: format}, nil
}

// Marshal encodes the document in its format.
func (d *Document) Marshal() ([]byte, error) {
	if d.format == FormatJSON {
		data, err := json.MarshalIndent(d.root, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode registry: %w", err)
		}
		return append(data, '\n'), nil
	}
	data, err := yaml.Marshal(d.root)
	if err != nil {
		return nil, fmt.Errorf("encode registry: %w", err)
	}
	return data, nil
}

// Save writes the document, creating parent directories as needed.
func (d *Document) Save(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write registry %s: %w", path, err)
	}
	return nil
}

// Entries returns the typed view of every candidate that has an id.
func (d *Document) Entries() []governance.RegistryEntry {
	var out []governance.RegistryEntry
	for _, raw := range d.candidates() {
		if e, ok := entryFromMap(raw); ok {
			out = append(out, e)
		}
	}
	return out
}

// Tiers returns the current tier of every candidate, keyed by id.
func (d *Document) Tiers() map[string]governance.Tier {
	tiers := make(map[string]governance.Tier)
	for _, e := range d.Entries() {
		tiers[e.CandidateID] = e.Trust.Tier
	}
	return tiers
}

func (d *Document) candidates() []map[string]any {
	list, _ := d.root["toe_candidates"].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// #endregion document

// #region entry-mapping
func entryFromMap(m map[string]any) (governance.RegistryEntry, bool) {
	id, _ := m["id"].(string)
	if id == "" {
		return governance.RegistryEntry{}, false
	}
	e := governance.RegistryEntry{CandidateID: id}
	trustBlock := childMap(m, "trust", false)
	if tier, ok := trustBlock["tier"].(string); ok {
		e.Trust.Tier = governance.ParseTier(tier)
	} else {
		e.Trust.Tier = governance.TierUnknown
	}
	sim := childMap(trustBlock, "simuniverse", false)
	e.Trust.SimUniverse = governance.SimUniverseTrust{
		MuScoreAvg:           number(sim["mu_score_avg"]),
		FaizalScoreAvg:       number(sim["faizal_score_avg"]),
		UndecidabilityAvg:    number(sim["undecidability_avg"]),
		EnergyFeasibilityAvg: number(sim["energy_feasibility_avg"]),
	}
	e.Trust.SimUniverse.LowTrustFlag, _ = sim["low_trust_flag"].(bool)
	e.Trust.SimUniverse.LastUpdateRunID, _ = sim["last_update_run_id"].(string)
	if tags, ok := m["sovereign_tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				e.SovereignTags = append(e.SovereignTags, s)
			}
		}
	}
	return e, true
}

// writeEntry patches the managed fields of e into m and leaves every other
// key as it was.
func writeEntry(m map[string]any, e governance.RegistryEntry) {
	trustBlock := childMap(m, "trust", true)
	trustBlock["tier"] = string(e.Trust.Tier)
	sim := childMap(trustBlock, "simuniverse", true)
	st := e.Trust.SimUniverse
	sim["mu_score_avg"] = st.MuScoreAvg
	sim["faizal_score_avg"] = st.FaizalScoreAvg
	sim["undecidability_avg"] = st.UndecidabilityAvg
	sim["energy_feasibility_avg"] = st.EnergyFeasibilityAvg
	sim["low_trust_flag"] = st.LowTrustFlag
	if st.LastUpdateRunID != "" {
		sim["last_update_run_id"] = st.LastUpdateRunID
	}
	tags := append([]string(nil), e.SovereignTags...)
	sort.Strings(tags)
	list := make([]any, len(tags))
	for i, t := range tags {
		list[i] = t
	}
	m["sovereign_tags"] = list
}

func childMap(m map[string]any, key string, create bool) map[string]any {
	if child, ok := m[key].(map[string]any); ok {
		return child
	}
	if !create {
		return map[string]any{}
	}
	child := map[string]any{}
	m[key] = child
	return child
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// #endregion entry-mapping
