package ftrace

// KprobeConfig is one requested kprobe/kretprobe installation, per
// spec.md §3.
type KprobeConfig struct {
	Group          string
	Name           string
	KernelFunction string
	Retprobe       bool
	MaxActive      int
}

// Config is the session config supplied by the external data-source host,
// per spec.md §3 "Derived per-session config" (the pre-derivation input)
// and §6's "Session config" wire description.
type Config struct {
	// Events is the user-specified event selector list: "group/name" or
	// "group/*".
	Events []string

	// AtraceApps/AtraceCategories/AtraceCategoriesPreferSDK are atrace
	// side-effect requests, per spec.md §3/§4.2.1.
	AtraceApps               []string
	AtraceCategories         []string
	AtraceCategoriesPreferSDK   []string
	AtraceCategoriesOptOutSDK   []string

	// SyscallEvents, if non-nil, requests raw_syscalls/sys_{enter,exit}
	// with the given filter; its All field true means the "all syscalls"
	// sentinel (disables the kernel filter instead of listing ids).
	SyscallEvents *SyscallEventsConfig

	// CompactSched requests columnar encoding of sched_switch/sched_waking.
	CompactSched bool

	// PrintFilterPrefix is the optional plain text-prefix filter for
	// ftrace/print, per spec.md §3. PrintFilterExpr, if set, takes an ltl
	// attribute-matcher expression instead (SPEC_FULL §11); at most one of
	// the two should be set.
	PrintFilterPrefix string
	PrintFilterExpr   string

	Kprobes []KprobeConfig

	SymbolizeKsyms       bool
	DrainPeriodMs        int
	DrainBufferPercentage int
	BufferSizeKB         int
	RawPageDebugDump     bool
	DisableGenericEvents bool
	LegacyGenericEventEncoding bool
	ThrottleRSSStat      bool

	FunctionGraph        bool
	FunctionFilters      []string
	FunctionGraphRoots   []string
	FunctionGraphDepth   int

	TidsToTrace       []int
	TracefsOptions    map[string]bool
	TracingCPUMask    string
	PreferredClock    string // "mono_raw" forces that clock explicitly.
	PreserveFtraceBuffer bool

	TargetBufferID uint32
}

// SyscallEventsConfig selects which raw syscalls produce sys_enter/sys_exit
// records, per spec.md §3 "Syscall filter".
type SyscallEventsConfig struct {
	All bool
	IDs []int
	// ReturningFDSyscallIDs is the "returning-fd" set from spec.md §4.4.3's
	// sys_exit handler: a syscall whose non-negative return is a new fd.
	ReturningFDSyscallIDs []int
}

// NewFDSyscallSet returns ReturningFDSyscallIDs as a lookup set.
func (c *SyscallEventsConfig) NewFDSyscallSet() map[int]bool {
	out := map[int]bool{}
	if c == nil {
		return out
	}
	for _, id := range c.ReturningFDSyscallIDs {
		out[id] = true
	}
	return out
}

// DataSourceConfig is the per-session state derived by the config muxer
// during Setup, referenced (read-only) by CPU readers for the lifetime of
// the session, per spec.md §3 "Derived per-session config".
type DataSourceConfig struct {
	SessionID uint64

	EventFilter *EventFilter

	SyscallFilterAll bool
	SyscallFilterIDs map[int]bool
	NewFDSyscallIDs  map[int]bool

	CompactSchedEnabled bool
	CompactSchedValid   bool

	PrintFilter *PrintFilter

	// Kprobes maps kernel event id -> descriptor, for the reader's special
	// kprobe dispatch in decode.go.
	Kprobes map[uint16]*EventDescriptor

	SymbolizeKsyms       bool
	DrainPeriodMs        int
	DrainBufferPercentage int
	RawPageDebugDump     bool
	LegacyGenericEventEncoding bool

	TargetBufferID uint32

	Diagnostics *SetupDiagnostics
}
