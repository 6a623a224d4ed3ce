package gate

import "fmt"

// #region verdict
// Verdict is the outcome of a gate check.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictWarn Verdict = "warn"
	VerdictFail Verdict = "fail"
)

// #endregion verdict

// #region rule-tree
// Op is a comparison operator.
type Op string

const (
	OpLT Op = "<"
	OpGT Op = ">"
	OpLE Op = "<="
	OpGE Op = ">="
	OpEQ Op = "=="
	OpNE Op = "!="
)

// Node is a compiled predicate over a metric snapshot.
type Node interface {
	Eval(s *Snapshot) bool
	String() string
}

// Comparison tests one metric series against a threshold. A missing series
// makes the comparison false.
type Comparison struct {
	Metric     string
	LabelKey   string // empty for an unlabeled series
	LabelValue string
	Op         Op
	Threshold  float64
}

// Conjunction holds when every term holds.
type Conjunction struct {
	Terms []Node
}

// Action is the verdict a triggered rule emits.
type Action struct {
	Verdict Verdict
	Message string
}

// Rule is one compiled DSL line.
type Rule struct {
	Line   int
	Source string
	When   Node
	Then   Action
}

// #endregion rule-tree

// #region decision
// Finding records one triggered rule.
type Finding struct {
	Line    int     `json:"line"`
	Rule    string  `json:"rule"`
	Verdict Verdict `json:"verdict"`
	Message string  `json:"message"`
}

// Decision is the output of evaluating a rule set. Findings are in rule order;
// Outcome is fail if any rule failed, otherwise warn if any warned.
type Decision struct {
	Outcome  Verdict   `json:"outcome"`
	Findings []Finding `json:"findings,omitempty"`
	Rules    int       `json:"rules_evaluated"`
}

// Failures returns the triggered fail findings.
func (d Decision) Failures() []Finding {
	var out []Finding
	for _, f := range d.Findings {
		if f.Verdict == VerdictFail {
			out = append(out, f)
		}
	}
	return out
}

// #endregion decision

// #region errors
// GateSyntaxError reports malformed rule text. It is raised at compile time only.
type GateSyntaxError struct {
	Line   int
	Text   string
	Reason string
}

func (e *GateSyntaxError) Error() string {
	return fmt.Sprintf("gate syntax error on line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// #endregion errors
