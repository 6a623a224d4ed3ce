package gate

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// #region compile
var actionRe = regexp.MustCompile(`(?is)^(warn|fail)\s*\((.*)\)$`)

// Compile parses line-oriented rule text:
//
//	IF metric(name[,label,value]) <op> threshold [AND ...] THEN warn(msg)|fail(msg)
//
// Blank lines and lines starting with '#' are skipped. Any malformed line,
// including an unknown operator, rejects the whole text.
func Compile(text string) ([]Rule, error) {
	var rules []Rule
	sc := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := compileLine(lineNo, line)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan rules: %w", err)
	}
	return rules, nil
}

// CompileFile reads and compiles a rule file.
func CompileFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gate rules %s: %w", path, err)
	}
	return Compile(string(data))
}

func compileLine(lineNo int, line string) (Rule, error) {
	fail := func(format string, args ...any) (Rule, error) {
		return Rule{}, &GateSyntaxError{Line: lineNo, Text: line, Reason: fmt.Sprintf(format, args...)}
	}

	condText, actionText, ok := splitThen(line)
	if !ok {
		return fail("missing THEN")
	}
	condText, actionText = strings.TrimSpace(condText), strings.TrimSpace(actionText)

	toks, err := lex(condText)
	if err != nil {
		return fail("%v", err)
	}
	p := &parser{toks: toks}
	if !p.keyword("IF") {
		return fail("rule must start with IF")
	}
	when, err := p.conjunction()
	if err != nil {
		return fail("%v", err)
	}
	if !p.done() {
		return fail("unexpected %q after condition", p.peek().text)
	}

	action, err := parseAction(actionText)
	if err != nil {
		return fail("%v", err)
	}
	return Rule{Line: lineNo, Source: line, When: when, Then: action}, nil
}

// splitThen finds the first THEN keyword outside string literals. A word
// only counts as the keyword when it stands alone, so then_count does not.
func splitThen(line string) (cond, action string, ok bool) {
	rs := []rune(line)
	for i := 0; i < len(rs); i++ {
		switch {
		case rs[i] == '"':
			for i++; i < len(rs) && rs[i] != '"'; i++ {
				if rs[i] == '\\' {
					i++
				}
			}
		case isIdentRune(rs[i]):
			j := i
			for j < len(rs) && isIdentRune(rs[j]) {
				j++
			}
			if strings.EqualFold(string(rs[i:j]), "THEN") {
				return string(rs[:i]), string(rs[j:]), true
			}
			i = j - 1
		}
	}
	return "", "", false
}

func parseAction(text string) (Action, error) {
	m := actionRe.FindStringSubmatch(text)
	if m == nil {
		return Action{}, fmt.Errorf("action must be warn(msg) or fail(msg), got %q", text)
	}
	msg := strings.TrimSpace(m[2])
	if strings.HasPrefix(msg, `"`) {
		unq, err := strconv.Unquote(msg)
		if err != nil {
			return Action{}, fmt.Errorf("bad message literal %s", msg)
		}
		msg = unq
	}
	if msg == "" {
		return Action{}, fmt.Errorf("action message is empty")
	}
	return Action{Verdict: Verdict(strings.ToLower(m[1])), Message: msg}, nil
}

// #endregion compile

// #region lexer
type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
}

var validOps = map[string]Op{"<": OpLT, ">": OpGT, "<=": OpLE, ">=": OpGE, "==": OpEQ, "!=": OpNE}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == ':' || r == '-'
}

func lex(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case strings.ContainsRune("<>=!~", r):
			j := i
			for j < len(rs) && strings.ContainsRune("<>=!~", rs[j]) {
				j++
			}
			op := string(rs[i:j])
			if _, ok := validOps[op]; !ok {
				return nil, fmt.Errorf("unknown operator %q", op)
			}
			toks = append(toks, token{tokOp, op})
			i = j
		case r == '"':
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				if rs[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated string")
			}
			unq, err := strconv.Unquote(string(rs[i : j+1]))
			if err != nil {
				return nil, fmt.Errorf("bad string literal")
			}
			toks = append(toks, token{tokString, unq})
			i = j + 1
		case unicode.IsDigit(r) || ((r == '-' || r == '+') && i+1 < len(rs) && (unicode.IsDigit(rs[i+1]) || rs[i+1] == '.')) || r == '.':
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.' || rs[j] == 'e' || rs[j] == 'E' ||
				((rs[j] == '-' || rs[j] == '+') && (rs[j-1] == 'e' || rs[j-1] == 'E'))) {
				j++
			}
			toks = append(toks, token{tokNumber, string(rs[i:j])})
			i = j
		case isIdentRune(r):
			j := i
			for j < len(rs) && isIdentRune(rs[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, string(rs[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", r)
		}
	}
	return toks, nil
}

// #endregion lexer

// #region parser
type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{kind: -1, text: "end of rule"}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	if !p.done() {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s, got %q", what, t.text)
	}
	return t, nil
}

func (p *parser) conjunction() (Node, error) {
	var terms []Node
	for {
		c, err := p.comparison()
		if err != nil {
			return nil, err
		}
		terms = append(terms, c)
		if !p.keyword("AND") {
			break
		}
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return &Conjunction{Terms: terms}, nil
}

func (p *parser) comparison() (Node, error) {
	if !p.keyword("metric") {
		return nil, fmt.Errorf("expected metric(...), got %q", p.peek().text)
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	name, err := p.expect(tokIdent, "metric name")
	if err != nil {
		return nil, err
	}
	c := &Comparison{Metric: name.text}

	if p.peek().kind == tokComma {
		p.next()
		key, err := p.expect(tokIdent, "label name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokComma, "','"); err != nil {
			return nil, err
		}
		val := p.next()
		if val.kind != tokIdent && val.kind != tokString && val.kind != tokNumber {
			return nil, fmt.Errorf("expected label value, got %q", val.text)
		}
		c.LabelKey, c.LabelValue = key.text, val.text
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}

	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, fmt.Errorf("expected comparison operator, got %q", opTok.text)
	}
	c.Op = validOps[opTok.text]

	numTok, err := p.expect(tokNumber, "numeric threshold")
	if err != nil {
		return nil, err
	}
	threshold, err := strconv.ParseFloat(numTok.text, 64)
	if err != nil {
		return nil, fmt.Errorf("bad threshold %q", numTok.text)
	}
	c.Threshold = threshold
	return c, nil
}

// #endregion parser
