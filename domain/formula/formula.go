// Package formula parses the right-hand side of lme4-style model formulas.
//
// Supported grammar: terms joined by '+', interactions with ':', a "0" term or
// a trailing "- 1" to drop the intercept, and random-effects terms written
// as "(expr | group)" or "(expr || group)". Crossing with '*' and nesting with
// '/' are rejected.
package formula

import (
	"fmt"
	"strings"
)

// InterceptName is the parameter name of the intercept column
const InterceptName = "(Intercept)"

// RandomTerm is one "(expr | group)" block
type RandomTerm struct {
	Expr         string
	Group        string
	Uncorrelated bool // "||"
}

// Term is a fixed-effects term; Factors holds the ':'-joined column names
type Term struct {
	Factors []string
}

// Name returns the term label as written, e.g. "a:b"
func (t Term) Name() string { return strings.Join(t.Factors, ":") }

// Formula is a parsed right-hand side
type Formula struct {
	Raw       string
	Intercept bool
	Fixed     []Term
	Random    []RandomTerm
}

// HasRandom reports whether any random-effects term is present
func (f *Formula) HasRandom() bool { return len(f.Random) > 0 }

// Columns lists every data column the formula references, in first-use order
func (f *Formula) Columns() []string {
	seen := make(map[string]bool)
	var cols []string
	add := func(c string) {
		if c != "" && c != "1" && c != "0" && !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	for _, t := range f.Fixed {
		for _, c := range t.Factors {
			add(c)
		}
	}
	for _, r := range f.Random {
		for _, part := range splitTop(r.Expr, '+') {
			for _, c := range strings.Split(strings.TrimSpace(part), ":") {
				add(strings.TrimSpace(c))
			}
		}
		add(r.Group)
	}
	return cols
}

// Parse parses an RHS string such as "a_cloze_c + (1 | sub_id) + (1 | m_item_id)"
func Parse(rhs string) (*Formula, error) {
	raw := strings.TrimSpace(rhs)
	if raw == "" {
		return nil, fmt.Errorf("empty formula")
	}
	if strings.Contains(raw, "~") {
		return nil, fmt.Errorf("formula %q: pass the right-hand side only", raw)
	}
	if depth(raw) != 0 {
		return nil, fmt.Errorf("formula %q: unbalanced parentheses", raw)
	}

	f := &Formula{Raw: raw, Intercept: true}
	// "-1" is the only subtraction we accept
	body := raw
	if strings.Contains(body, "-") {
		normalized := strings.ReplaceAll(body, " ", "")
		if !strings.HasSuffix(normalized, "-1") || strings.Count(normalized, "-") != 1 {
			return nil, fmt.Errorf("formula %q: only a trailing '- 1' is supported", raw)
		}
		body = body[:strings.LastIndex(body, "-")]
		f.Intercept = false
	}

	for _, part := range splitTop(body, '+') {
		term := strings.TrimSpace(part)
		switch {
		case term == "":
			return nil, fmt.Errorf("formula %q: empty term", raw)
		case term == "1":
			f.Intercept = true
		case term == "0":
			f.Intercept = false
		case strings.HasPrefix(term, "("):
			rt, err := parseRandom(term)
			if err != nil {
				return nil, fmt.Errorf("formula %q: %w", raw, err)
			}
			f.Random = append(f.Random, rt)
		default:
			if strings.ContainsAny(term, "*/|()") {
				return nil, fmt.Errorf("formula %q: unsupported term %q", raw, term)
			}
			var factors []string
			for _, c := range strings.Split(term, ":") {
				c = strings.TrimSpace(c)
				if c == "" {
					return nil, fmt.Errorf("formula %q: empty factor in %q", raw, term)
				}
				factors = append(factors, c)
			}
			f.Fixed = append(f.Fixed, Term{Factors: factors})
		}
	}
	return f, nil
}

func parseRandom(term string) (RandomTerm, error) {
	if !strings.HasSuffix(term, ")") {
		return RandomTerm{}, fmt.Errorf("malformed random-effects term %q", term)
	}
	inner := strings.TrimSpace(term[1 : len(term)-1])
	sep := "|"
	uncorrelated := false
	if strings.Contains(inner, "||") {
		sep = "||"
		uncorrelated = true
	}
	parts := strings.Split(inner, sep)
	if len(parts) != 2 {
		return RandomTerm{}, fmt.Errorf("malformed random-effects term %q", term)
	}
	expr := strings.TrimSpace(parts[0])
	group := strings.TrimSpace(parts[1])
	if expr == "" || group == "" {
		return RandomTerm{}, fmt.Errorf("malformed random-effects term %q", term)
	}
	return RandomTerm{Expr: expr, Group: group, Uncorrelated: uncorrelated}, nil
}

// splitTop splits s on sep outside of parentheses
func splitTop(s string, sep rune) []string {
	var parts []string
	level := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			level++
		case ')':
			level--
		case sep:
			if level == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func depth(s string) int {
	level := 0
	for _, r := range s {
		switch r {
		case '(':
			level++
		case ')':
			level--
			if level < 0 {
				return level
			}
		}
	}
	return level
}
