package omega

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// #region base-document
// Base is the externally supplied report a run starts from.
type Base struct {
	Tenant      string
	Service     string
	RunID       string
	Axes        []Axis
	Attachments map[string]string
}

type baseAxis struct {
	Name    string         `json:"name"`
	Value   *float64       `json:"value"`
	Weight  *float64       `json:"weight"`
	Details map[string]any `json:"details,omitempty"`
}

type baseFile struct {
	Tenant      string            `json:"tenant"`
	Service     string            `json:"service"`
	RunID       string            `json:"run_id"`
	Axes        json.RawMessage   `json:"axes"`
	Attachments map[string]string `json:"attachments"`
}

// LoadBase reads a base report from disk.
func LoadBase(path string) (Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Base{}, fmt.Errorf("read base omega %s: %w", path, err)
	}
	b, err := ParseBase(data)
	if err != nil {
		return Base{}, fmt.Errorf("parse base omega %s: %w", path, err)
	}
	return b, nil
}

// ParseBase decodes a base report. Axes may be a list of {name, value,
// weight} objects or an object keyed by axis name; keyed axes are ordered by
// name. Values and weights are required on every axis.
func ParseBase(data []byte) (Base, error) {
	var f baseFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Base{}, fmt.Errorf("decode base omega: %w", err)
	}
	var raw []baseAxis
	if len(f.Axes) > 0 && f.Axes[0] == '{' {
		keyed := map[string]baseAxis{}
		if err := json.Unmarshal(f.Axes, &keyed); err != nil {
			return Base{}, fmt.Errorf("decode axes: %w", err)
		}
		names := make([]string, 0, len(keyed))
		for name := range keyed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			a := keyed[name]
			a.Name = name
			raw = append(raw, a)
		}
	} else if len(f.Axes) > 0 && string(f.Axes) != "null" {
		if err := json.Unmarshal(f.Axes, &raw); err != nil {
			return Base{}, fmt.Errorf("decode axes: %w", err)
		}
	}

	b := Base{Tenant: f.Tenant, Service: f.Service, RunID: f.RunID, Attachments: f.Attachments}
	for i, a := range raw {
		if a.Name == "" {
			return Base{}, fmt.Errorf("axis %d has no name", i)
		}
		if a.Value == nil || a.Weight == nil {
			return Base{}, fmt.Errorf("axis %s needs both value and weight", a.Name)
		}
		b.Axes = append(b.Axes, Axis{Name: a.Name, Value: *a.Value, Weight: *a.Weight, Details: a.Details})
	}
	return b, nil
}

// #endregion base-document
