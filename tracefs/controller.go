// Package tracefs provides a thin, typed wrapper over the kernel's tracefs
// hierarchy (/sys/kernel/tracing, or legacy /sys/kernel/debug/tracing, plus
// instances/<name>/ subdirectories).
//
// The controller never caches file contents; callers (the config muxer, the
// per-CPU readers) own all higher-level caching. Every operation maps
// directly onto one or more file reads/writes, matching the teacher's
// traceparser package's "thin wrapper over the raw artifacts" posture.
package tracefs

import (
	"encoding/binary"
	"io"
)

// Controller is the production/fake-mockable interface for one tracefs
// instance root (the root instance, or one instances/<name>/ subdirectory).
//
// Modeled as an interface rather than a concrete struct, per the "Dynamic
// dispatch" design note in spec.md §9: production code is injected with FS,
// tests are injected with the in-memory Fake.
type Controller interface {
	// Root returns the absolute path this controller is rooted at.
	Root() string

	// SetTracingOn writes "1" or "0" to tracing_on.
	SetTracingOn(on bool) error
	// IsTracingOn reads tracing_on.
	IsTracingOn() (bool, error)

	// ClearTrace truncates trace, plus per_cpu/cpuN/trace for every CPU in
	// offlineCPUs (the main trace file only resets online CPUs).
	ClearTrace(offlineCPUs []int) error
	// ClearCPUTrace truncates per_cpu/cpuN/trace for a single CPU.
	ClearCPUTrace(cpu int) error

	// SetCPUBufferSizePages writes n pages' worth of KB (4 KB a page) to
	// buffer_size_kb.
	SetCPUBufferSizePages(n int) error
	// SetClock writes to trace_clock, picking the first available name
	// from preferred, or exactly mono_raw when requested explicitly and
	// available.
	SetClock(preferred ...string) (applied string, err error)
	// AvailableClocks parses trace_clock; the bracketed entry is current.
	AvailableClocks() (names []string, current string, err error)

	// SetBufferPercent writes to buffer_percent.
	SetBufferPercent(percent int) error

	// EnableEvent writes "1" to events/<group>/<name>/enable.
	EnableEvent(group, name string) error
	// DisableEvent writes "0" to events/<group>/<name>/enable, falling back
	// to appending "!group:name" to set_event on failure.
	DisableEvent(group, name string) error

	// CreateKprobe appends a p:/r<maxactive>: declaration to kprobe_events.
	// EEXIST is treated as success.
	CreateKprobe(group, name, kernelFunction string, retprobe bool, maxActive int) error
	// RemoveKprobe appends a -:group/name declaration to kprobe_events.
	RemoveKprobe(group, name string) error

	// SetCurrentTracer writes to current_tracer. Fails if any trace pipe is
	// open (current_tracer cannot be switched while pipes are held open).
	SetCurrentTracer(name string) error
	// CurrentTracer reads current_tracer.
	CurrentTracer() (string, error)
	// IsTracingAvailable reports whether current_tracer is "nop", or the
	// file could not be read at all (tracefs not mounted is treated as
	// "available" so higher layers can still attempt setup and fail there).
	IsTracingAvailable() bool

	// AppendFunctionFilters appends newline-joined names to
	// set_ftrace_filter. Names containing ':' are rejected (they would
	// install a per-function command, breaking isolation between sessions).
	AppendFunctionFilters(names []string) error
	// AppendFunctionGraphFilters appends newline-joined names to
	// set_graph_function. Same ':' restriction as AppendFunctionFilters.
	AppendFunctionGraphFilters(names []string) error
	// ClearFunctionFilters truncates set_ftrace_filter.
	ClearFunctionFilters() error
	// ClearFunctionGraphFilters truncates set_graph_function.
	ClearFunctionGraphFilters() error
	// SetMaxGraphDepth writes to max_graph_depth.
	SetMaxGraphDepth(depth int) error

	// SetEventPid writes to set_event_pid.
	SetEventPid(tids []int) error
	// ClearEventPid truncates set_event_pid.
	ClearEventPid() error

	// SetSyscallFilter writes a kernel filter expression to
	// events/raw_syscalls/sys_{enter,exit}/filter.
	SetSyscallFilter(expr string) error

	// SetTracefsOption writes "1"/"0" to options/<name>.
	SetTracefsOption(name string, enabled bool) error
	// TracefsOption reads options/<name>.
	TracefsOption(name string) (bool, error)

	// SetTracingCPUMask writes a hex mask to tracing_cpumask.
	SetTracingCPUMask(mask string) error
	// TracingCPUMask reads tracing_cpumask.
	TracingCPUMask() (string, error)

	// ReadPageHeaderFormat reads events/header_page.
	ReadPageHeaderFormat() (string, error)
	// ReadEventFormat reads events/<group>/<name>/format.
	ReadEventFormat(group, name string) (string, error)
	// ReadEventIDs returns the group/name pairs currently discoverable
	// under events/ (used to expand "group/*" selectors).
	ReadEventIDs() (map[string][]string, error)
	// ReadPrintkFormats reads printk_formats.
	ReadPrintkFormats() (string, error)

	// WriteEventTrigger appends a histogram-trigger expression to
	// events/<group>/<name>/trigger (used for the synthetic
	// rss_stat_throttled event).
	WriteEventTrigger(group, name, expr string) error

	// OpenPipeForCPU opens per_cpu/cpuN/trace_pipe_raw nonblocking for
	// reading. Callers must Close() the returned ReadCloser.
	OpenPipeForCPU(cpu int) (io.ReadCloser, error)

	// ReadCPUStats reads and parses per_cpu/cpuN/stats.
	ReadCPUStats(cpu int) (CPUStats, error)

	// Endianness of multi-byte fields read from this tracefs mount's
	// binary artifacts (ring buffer pages, commit fields). Always
	// little-endian on every architecture perfetto targets; kept
	// pluggable for symmetry with the teacher's TraceParser.SetNativeEndian.
	Endianness() binary.ByteOrder
}

// CPUStats mirrors the fields of per_cpu/cpuN/stats, per SPEC_FULL §12.1.
type CPUStats struct {
	Entries           uint64
	Overrun           uint64
	CommitOverrun     uint64
	BytesRead         uint64
	OldestEventTsNs   float64
	NowTsNs           float64
	DroppedEvents     uint64
	ReadEvents        uint64
}
