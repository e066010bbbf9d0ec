package ftrace

// RecordSink receives completed bundles from a reader. It takes plain Go
// structs rather than generated protobuf types: spec.md's Non-goals exclude
// wire-format emission, and fabricating hand-written .pb.go-shaped types
// here would mean inventing a dependency this module does not actually use
// anywhere else (see DESIGN.md). A host process that does own a protobuf
// schema adapts a Bundle into it at the boundary, outside this package.
type RecordSink interface {
	Publish(b *Bundle)
}

// Event is one translated kernel event as carried in a Bundle, independent
// of DecodedEvent's map-shaped working representation (Event is the
// immutable, already-finalized form a sink receives).
type Event struct {
	Timestamp    uint64
	ProtoFieldID int32
	Name         string
	Ints         map[string]int64
	Uints        map[string]uint64
	Strings      map[string]string
}

// CompactSchedBatch is the columnar encoding of a run of sched_switch /
// sched_waking events, per spec.md §4.4's "compact-sched columnar
// batching".
type CompactSchedBatch struct {
	SwitchTimestamp    []uint64
	SwitchNextPid      []int32
	SwitchNextPrio     []int32
	SwitchPrevState     []int64
	SwitchNextCommIndex []uint32 // index into the batch's InternedStrings.

	WakingTimestamp    []uint64
	WakingPid          []int32
	WakingTargetCPU    []int32
	WakingPrio         []int32
	WakingCommIndex    []uint32

	InternedStrings []string
}

// GenericEventDescriptor is attached to a bundle the first time a generic
// (not compile-time-known) event's descriptor is emitted, per spec.md §4.3
// ("the descriptor is emitted once, the first time the event is seen").
type GenericEventDescriptor struct {
	ProtoFieldID int32
	Group        string
	Name         string
	Fields       []FieldDescriptor
}

// InternedKernelSymbol is one entry of the kernel-symbol interning table,
// assigned a monotonically increasing index for the lifetime of a session
// on one CPU, per spec.md §4.4's "kernel-symbol interning with monotonic
// indices". Each CPU numbers its symbols independently, so equal indices in
// bundles from different CPUs do not name the same address.
type InternedKernelSymbol struct {
	Index uint32
	Addr  uint64
	Name  string
}

// Bundle is one output record: the unit published per (session, CPU,
// read-cycle), per spec.md §4.4's bundling model.
type Bundle struct {
	SessionID uint64
	CPU       int

	Events []Event

	CompactSched *CompactSchedBatch

	NewGenericDescriptors []GenericEventDescriptor
	NewInternedSymbols    []InternedKernelSymbol

	DroppedEvents uint64
	AbiErrors     []AbiError

	// Diagnostics is non-nil only on the first bundle each CPU publishes for
	// a session (so a session reading several CPUs carries it once per CPU),
	// per spec.md §7.
	Diagnostics *SetupDiagnostics

	// LostEventsSinceLastBundle reports ring-buffer overrun between this
	// bundle and the previous one on this CPU, surfaced from CPUStats.
	LostEventsSinceLastBundle uint64
}
