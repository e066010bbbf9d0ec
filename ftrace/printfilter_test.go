package ftrace

import "testing"

func TestPrintFilterPrefix(t *testing.T) {
	pf, err := NewPrintFilter("B|123|", "")
	if err != nil {
		t.Fatalf("NewPrintFilter() error = %v", err)
	}
	if !pf.Matches("B|123|my_slice") {
		t.Errorf("Matches() = false, want true for matching prefix")
	}
	if pf.Matches("E|123|") {
		t.Errorf("Matches() = true, want false for non-matching prefix")
	}
}

func TestPrintFilterExpr(t *testing.T) {
	pf, err := NewPrintFilter("", "cpu=3")
	if err != nil {
		t.Fatalf("NewPrintFilter() error = %v", err)
	}
	if !pf.Matches("tag=sched cpu=3 prio=10") {
		t.Errorf("Matches() = false, want true for matching key=value token")
	}
	if pf.Matches("tag=sched cpu=4 prio=10") {
		t.Errorf("Matches() = true, want false for non-matching value")
	}
	if pf.Matches("tag=sched prio=10") {
		t.Errorf("Matches() = true, want false when key is absent")
	}
}

func TestPrintFilterExprString(t *testing.T) {
	pf, err := NewPrintFilter("", "name=binder_transaction")
	if err != nil {
		t.Fatalf("NewPrintFilter() error = %v", err)
	}
	if !pf.Matches("name=binder_transaction pid=42") {
		t.Errorf("Matches() = false, want true")
	}
	if pf.Matches("name=binder_reply pid=42") {
		t.Errorf("Matches() = true, want false")
	}
}

func TestPrintFilterBothPrefixAndExpr(t *testing.T) {
	pf, err := NewPrintFilter("B|", "cpu=1")
	if err != nil {
		t.Fatalf("NewPrintFilter() error = %v", err)
	}
	if !pf.Matches("B|1|slice cpu=1") {
		t.Errorf("Matches() = false, want true when both clauses are satisfied")
	}
	if pf.Matches("B|1|slice cpu=2") {
		t.Errorf("Matches() = true, want false when the expr clause fails")
	}
	if pf.Matches("X|1|slice cpu=1") {
		t.Errorf("Matches() = true, want false when the prefix clause fails")
	}
}

func TestPrintFilterMalformedExpr(t *testing.T) {
	if _, err := NewPrintFilter("", "not-a-key-value"); err == nil {
		t.Errorf("NewPrintFilter() error = nil, want error for malformed expression")
	}
}

func TestNilPrintFilterMatchesEverything(t *testing.T) {
	var pf *PrintFilter
	if !pf.Matches("anything") {
		t.Errorf("(*PrintFilter)(nil).Matches() = false, want true")
	}
}
