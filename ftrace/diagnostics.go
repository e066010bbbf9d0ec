package ftrace

import "github.com/google/uuid"

// SetupDiagnostics accumulates the non-fatal setup errors spec.md §7
// describes ("Setup errors ... Collected into a per-session diagnostics
// structure and carried into the first output bundle"), per the Open
// Question decision in SPEC_FULL §13: a partially-failed setup still
// returns a nil error, with the failures recorded here instead.
type SetupDiagnostics struct {
	// BatchID uniquely identifies this diagnostics batch so a downstream
	// consumer can correlate it with the bundle it was attached to, even
	// across sessions that reuse the same numeric SessionID over time.
	BatchID uuid.UUID

	UnknownOrInaccessibleEvents []string
	AtraceFailures               []string
	KprobeFailures               []string
	ExclusiveFeatureConflicts    []string
	InvalidKprobeNames           []string
	InvalidTracefsOptionNames    []string
	CompactSchedFormatInvalid    bool
}

// NewSetupDiagnostics constructs an empty diagnostics batch with a fresh id.
func NewSetupDiagnostics() *SetupDiagnostics {
	return &SetupDiagnostics{BatchID: uuid.New()}
}

// Empty reports whether no diagnostic was recorded.
func (d *SetupDiagnostics) Empty() bool {
	return d == nil ||
		(len(d.UnknownOrInaccessibleEvents) == 0 &&
			len(d.AtraceFailures) == 0 &&
			len(d.KprobeFailures) == 0 &&
			len(d.ExclusiveFeatureConflicts) == 0 &&
			len(d.InvalidKprobeNames) == 0 &&
			len(d.InvalidTracefsOptionNames) == 0 &&
			!d.CompactSchedFormatInvalid)
}
