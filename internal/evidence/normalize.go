package evidence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const defaultWorldID = "unknown_world"

// #region field-table
// numericField names a required score field and the alternate keys the
// solver layer has historically emitted it under.
type numericField struct {
	name       string
	alternates []string
	set        func(*ScenarioScore, float64)
}

var numericFields = []numericField{
	{"mu_score", []string{"mu_score_avg"}, func(s *ScenarioScore, v float64) { s.MuScore = v }},
	{"faizal_score", []string{"faizal_score_avg"}, func(s *ScenarioScore, v float64) { s.FaizalScore = v }},
	{"mean_undecidability_index", []string{"mean_undecidability_index_avg", "undecidability_avg"}, func(s *ScenarioScore, v float64) { s.MeanUndecidabilityIndex = v }},
	{"energy_feasibility", []string{"energy_feasibility_avg"}, func(s *ScenarioScore, v float64) { s.EnergyFeasibility = v }},
}

// #endregion field-table

// #region load
// LoadFile reads and normalizes an evidence document from disk.
func LoadFile(path string) (Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, fmt.Errorf("read evidence %s: %w", path, err)
	}
	return Normalize(data)
}

// #endregion load

// #region normalize
// Normalize decodes either a bare array of score records or an object keyed by
// a run identifier into a canonical ScenarioScore sequence. Out-of-range values
// are clamped into [0,1] and reported as warnings; missing fields are rejected.
// An empty record list is valid and yields no scores.
func Normalize(raw []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Payload{}, &MalformedEvidenceError{Index: -1, Reason: fmt.Sprintf("decode json: %v", err)}
	}

	schema, err := payloadSchema()
	if err != nil {
		return Payload{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return Payload{}, &MalformedEvidenceError{Index: -1, Reason: schemaReason(err)}
	}

	var payload Payload
	var records []any
	switch v := doc.(type) {
	case []any:
		payload.Shape = ShapeList
		records = v
	case map[string]any:
		payload.Shape = ShapeKeyed
		payload.RunID = firstString(v, "run_id", "stage5_run_id")
		if list, ok := v["simuniverse_summary"].([]any); ok && len(list) > 0 {
			records = list
		} else {
			records, _ = v["scores"].([]any)
		}
	}

	payload.Scores = make([]ScenarioScore, 0, len(records))
	for i, r := range records {
		obj, _ := r.(map[string]any)
		score, warnings, err := normalizeRecord(i, obj)
		if err != nil {
			return Payload{}, err
		}
		payload.Scores = append(payload.Scores, score)
		payload.Warnings = append(payload.Warnings, warnings...)
	}
	return payload, nil
}

func normalizeRecord(index int, obj map[string]any) (ScenarioScore, []Warning, error) {
	score := ScenarioScore{
		CandidateID: firstString(obj, "candidate_id", "toe_candidate_id"),
		WorldID:     firstString(obj, "world_id"),
	}
	if score.CandidateID == "" {
		return ScenarioScore{}, nil, &MalformedEvidenceError{Index: index, Field: "candidate_id", Reason: "missing"}
	}
	if score.WorldID == "" {
		score.WorldID = defaultWorldID
	}

	var warnings []Warning
	for _, f := range numericFields {
		v, ok, err := lookupNumber(obj, f.name, f.alternates)
		if err != nil {
			return ScenarioScore{}, nil, &MalformedEvidenceError{Index: index, Field: f.name, Reason: err.Error()}
		}
		if !ok {
			return ScenarioScore{}, nil, &MalformedEvidenceError{Index: index, Field: f.name, Reason: "missing"}
		}
		clamped, err := clampUnit(v)
		if err != nil {
			return ScenarioScore{}, nil, &MalformedEvidenceError{Index: index, Field: f.name, Reason: err.Error()}
		}
		if clamped != v {
			warnings = append(warnings, Warning{
				Index:       index,
				CandidateID: score.CandidateID,
				Field:       f.name,
				Original:    v,
				Clamped:     clamped,
			})
		}
		f.set(&score, clamped)
	}
	return score, warnings, nil
}

// #endregion normalize

// #region helpers
func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func lookupNumber(obj map[string]any, key string, alternates []string) (float64, bool, error) {
	for _, k := range append([]string{key}, alternates...) {
		raw, ok := obj[k]
		if !ok || raw == nil {
			continue
		}
		n, ok := raw.(json.Number)
		if !ok {
			return 0, false, fmt.Errorf("expected number, got %T", raw)
		}
		v, err := n.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("parse %q: %w", n.String(), err)
		}
		return v, true, nil
	}
	return 0, false, nil
}

// clampUnit pulls v into [0,1]. Non-finite values cannot be clamped meaningfully.
func clampUnit(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("value is not finite")
	}
	return math.Max(0, math.Min(1, v)), nil
}

func schemaReason(err error) string {
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		leaf := verr
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		if leaf.InstanceLocation != "" {
			return fmt.Sprintf("schema: %s: %s", leaf.InstanceLocation, leaf.Message)
		}
		return fmt.Sprintf("schema: %s", leaf.Message)
	}
	return fmt.Sprintf("schema: %v", err)
}

// #endregion helpers
