package gate

import (
	"fmt"
	"strconv"
	"strings"
)

// #region gate
// Gate evaluates a compiled rule set against metric snapshots. Rules are
// compiled once and are safe to evaluate concurrently.
type Gate struct {
	rules []Rule
}

// NewGate creates a gate over already compiled rules.
func NewGate(rules []Rule) *Gate {
	return &Gate{rules: append([]Rule(nil), rules...)}
}

// NewGateFromText compiles rule text and wraps it in a gate.
func NewGateFromText(text string) (*Gate, error) {
	rules, err := Compile(text)
	if err != nil {
		return nil, err
	}
	return NewGate(rules), nil
}

// Rules returns the compiled rules in evaluation order.
func (g *Gate) Rules() []Rule {
	return append([]Rule(nil), g.rules...)
}

// Evaluate checks every rule first to last. Every triggered rule is reported;
// a fail anywhere makes the outcome fail regardless of earlier warnings.
// Missing metrics leave a rule untriggered and never produce an error.
func (g *Gate) Evaluate(s *Snapshot) Decision {
	if s == nil {
		s = NewSnapshot()
	}
	d := Decision{Outcome: VerdictPass, Rules: len(g.rules)}
	for _, r := range g.rules {
		if !r.When.Eval(s) {
			continue
		}
		d.Findings = append(d.Findings, Finding{
			Line:    r.Line,
			Rule:    r.Source,
			Verdict: r.Then.Verdict,
			Message: r.Then.Message,
		})
		switch r.Then.Verdict {
		case VerdictFail:
			d.Outcome = VerdictFail
		case VerdictWarn:
			if d.Outcome == VerdictPass {
				d.Outcome = VerdictWarn
			}
		}
	}
	return d
}

// #endregion gate

// #region node-eval
// Eval implements Node.
func (c *Comparison) Eval(s *Snapshot) bool {
	v, ok := s.Lookup(c.Metric, c.LabelKey, c.LabelValue)
	if !ok {
		return false
	}
	switch c.Op {
	case OpLT:
		return v < c.Threshold
	case OpGT:
		return v > c.Threshold
	case OpLE:
		return v <= c.Threshold
	case OpGE:
		return v >= c.Threshold
	case OpEQ:
		return v == c.Threshold
	case OpNE:
		return v != c.Threshold
	}
	return false
}

func (c *Comparison) String() string {
	target := c.Metric
	if c.LabelKey != "" {
		target = fmt.Sprintf("%s,%s,%s", c.Metric, c.LabelKey, c.LabelValue)
	}
	return fmt.Sprintf("metric(%s) %s %s", target, c.Op, strconv.FormatFloat(c.Threshold, 'g', -1, 64))
}

// Eval implements Node.
func (c *Conjunction) Eval(s *Snapshot) bool {
	for _, t := range c.Terms {
		if !t.Eval(s) {
			return false
		}
	}
	return true
}

func (c *Conjunction) String() string {
	parts := make([]string, len(c.Terms))
	for i, t := range c.Terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " AND ")
}

// #endregion node-eval
