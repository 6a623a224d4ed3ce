package gate

import (
	"sort"
	"strings"
)

// #region snapshot
// Labels is a metric label set.
type Labels map[string]string

// Sample is one series value in a snapshot.
type Sample struct {
	Name   string
	Labels Labels
	Value  float64
}

// Snapshot is a point-in-time set of named metric series. It is not safe for
// concurrent mutation; build it, then evaluate against it.
type Snapshot struct {
	series map[string][]Sample
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{series: make(map[string][]Sample)}
}

// Set records a value, replacing any series with the same name and label set.
func (s *Snapshot) Set(name string, labels Labels, value float64) {
	key := labelKey(labels)
	list := s.series[name]
	for i := range list {
		if labelKey(list[i].Labels) == key {
			list[i].Value = value
			return
		}
	}
	copied := make(Labels, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	s.series[name] = append(list, Sample{Name: name, Labels: copied, Value: value})
}

// Lookup finds a series value. With an empty labelKey only the unlabeled series
// matches; otherwise the first series carrying labelKey=labelValue matches.
func (s *Snapshot) Lookup(name, labelKey, labelValue string) (float64, bool) {
	for _, sample := range s.series[name] {
		if labelKey == "" {
			if len(sample.Labels) == 0 {
				return sample.Value, true
			}
			continue
		}
		if v, ok := sample.Labels[labelKey]; ok && v == labelValue {
			return sample.Value, true
		}
	}
	return 0, false
}

// Len returns the number of series held.
func (s *Snapshot) Len() int {
	n := 0
	for _, list := range s.series {
		n += len(list)
	}
	return n
}

func labelKey(labels Labels) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(0)
	}
	return b.String()
}

// #endregion snapshot
