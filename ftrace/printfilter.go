package ftrace

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PrintFilter decides whether a decoded ftrace/print "buf" payload should be
// kept, per spec.md §3's "Print filter" and SPEC_FULL §11's wiring of a
// structured predicate matcher alongside the plain prefix filter.
//
// Two independent matching modes are supported, mirroring the regex-driven
// expression parser in ltl/tracepoint_matcher.go (newMatcherFromString):
// a plain string prefix (the common case — trace_marker payloads written by
// userspace as "B|pid|name" or similar), or a structured "key=value"
// attribute expression matched against the payload's space-separated
// key=value tokens (the form atrace categories and BPF probes tend to emit).
type PrintFilter struct {
	prefix string
	expr   *printExpr
}

type printExpr struct {
	raw   string
	key   string
	value string
	isNum bool
	num   int64
}

// matchExprRe mirrors ltl/tracepoint_matcher.go's matchExprRe: a structured
// expression is "attribute=value".
var matchExprRe = regexp.MustCompile(`^(\w+)=(.+)$`)

// NewPrintFilter builds a filter from the session config's prefix and/or
// structured expression. At most one of prefix/expr is expected to be set
// by a well-formed Config, but both may be supplied; a record must satisfy
// both to pass.
func NewPrintFilter(prefix, expr string) (*PrintFilter, error) {
	pf := &PrintFilter{prefix: prefix}
	if expr == "" {
		return pf, nil
	}
	m := matchExprRe.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("print filter expression %q: expected form key=value", expr)
	}
	pe := &printExpr{raw: expr, key: m[1], value: m[2]}
	if n, err := strconv.ParseInt(m[2], 10, 64); err == nil {
		pe.isNum = true
		pe.num = n
	}
	pf.expr = pe
	return pf, nil
}

// Matches reports whether buf passes this filter.
func (pf *PrintFilter) Matches(buf string) bool {
	if pf == nil {
		return true
	}
	if pf.prefix != "" && !strings.HasPrefix(buf, pf.prefix) {
		return false
	}
	if pf.expr != nil && !pf.expr.matches(buf) {
		return false
	}
	return true
}

// matches scans buf's whitespace-separated tokens for one of the form
// key=value (or key=<int> when the expression's value parses as a number),
// matching the structural style of ltl/tracepoint_matcher.go's attribute
// matchers (a literal equality test per field) without requiring the full
// ltl binding/environment machinery, which exists in that package to
// correlate matches *across* a sequence of trace.Event tokens — a concern
// this single-record filter does not have.
func (pe *printExpr) matches(buf string) bool {
	for _, tok := range strings.Fields(buf) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k != pe.key {
			continue
		}
		if pe.isNum {
			n, err := strconv.ParseInt(v, 10, 64)
			return err == nil && n == pe.num
		}
		return v == pe.value
	}
	return false
}
