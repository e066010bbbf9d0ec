package tracefs

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Fake is an in-memory Controller used by tests, per spec.md §9's "Dynamic
// dispatch" design note: tests inject Fake wherever production code would
// receive a *FS.
type Fake struct {
	mu sync.Mutex

	root string

	tracingOn      bool
	traceClock     string
	availClocks    []string
	bufferSizePgs  int
	bufferPercent  int
	currentTracer  string
	enabledEvents  map[string]bool // "group/name" -> enabled
	kprobeEvents   []string
	ftraceFilter   []string
	graphFilter    []string
	maxGraphDepth  int
	eventPid       []int
	syscallFilter  string
	tracefsOptions map[string]bool
	cpumask        string
	trace          string
	perCPUTrace    map[int]string
	eventFormats   map[string]string // "group/name" -> format text
	headerFormat   string
	printkFormats  string
	cpuStats       map[int]CPUStats
	pipeOpen       map[int]bool
	pipeData       map[int][]byte
	triggers       map[string][]string

	// writeLog records every mutating call, in order, for tests that want
	// to assert on the exact sequence of tracefs writes.
	writeLog []string
}

// NewFake constructs an empty fake rooted at root ("/fake/tracing/" by
// default semantics, only used for display).
func NewFake(root string) *Fake {
	return &Fake{
		root:           root,
		currentTracer:  "nop",
		traceClock:     "local",
		availClocks:    []string{"local", "global", "boot", "mono_raw"},
		bufferSizePgs:  1,
		bufferPercent:  50,
		enabledEvents:  map[string]bool{},
		tracefsOptions: map[string]bool{},
		perCPUTrace:    map[int]string{},
		eventFormats:   map[string]string{},
		cpuStats:       map[int]CPUStats{},
		pipeOpen:       map[int]bool{},
		pipeData:       map[int][]byte{},
		triggers:       map[string][]string{},
	}
}

// WriteLog returns the recorded mutating calls, for assertions in tests.
func (f *Fake) WriteLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writeLog))
	copy(out, f.writeLog)
	return out
}

func (f *Fake) log(format string, args ...interface{}) {
	f.writeLog = append(f.writeLog, fmt.Sprintf(format, args...))
}

// SetEventFormat installs canned events/<group>/<name>/format text, for
// tests driving the translation table against the fake.
func (f *Fake) SetEventFormat(group, name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventFormats[group+"/"+name] = content
}

// SetHeaderFormat installs canned events/header_page text.
func (f *Fake) SetHeaderFormat(content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headerFormat = content
}

// SetPrintkFormats installs canned printk_formats text.
func (f *Fake) SetPrintkFormats(content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.printkFormats = content
}

// SetPipeData queues raw page bytes to be returned by OpenPipeForCPU's
// reader for the given CPU.
func (f *Fake) SetPipeData(cpu int, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pipeData[cpu] = data
}

// SetCPUStats installs a canned stats snapshot for a CPU.
func (f *Fake) SetCPUStats(cpu int, st CPUStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cpuStats[cpu] = st
}

func (f *Fake) Root() string { return f.root }

func (f *Fake) SetTracingOn(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracingOn = on
	f.log("tracing_on=%v", on)
	return nil
}

func (f *Fake) IsTracingOn() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracingOn, nil
}

func (f *Fake) ClearTrace(offlineCPUs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trace = ""
	for _, cpu := range offlineCPUs {
		f.perCPUTrace[cpu] = ""
	}
	f.log("clear_trace offline=%v", offlineCPUs)
	return nil
}

func (f *Fake) ClearCPUTrace(cpu int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perCPUTrace[cpu] = ""
	return nil
}

func (f *Fake) SetCPUBufferSizePages(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bufferSizePgs = n
	f.log("buffer_size_kb pages=%d", n)
	return nil
}

func (f *Fake) BufferSizePages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bufferSizePgs
}

func (f *Fake) AvailableClocks() ([]string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.availClocks...), f.traceClock, nil
}

func (f *Fake) SetClock(preferred ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(preferred) == 0 {
		preferred = []string{"boot", "global", "local"}
	}
	avail := map[string]bool{}
	for _, a := range f.availClocks {
		avail[a] = true
	}
	for _, name := range preferred {
		if avail[name] {
			f.traceClock = name
			f.log("trace_clock=%s", name)
			return name, nil
		}
	}
	return "", fmt.Errorf("none of %v available", preferred)
}

func (f *Fake) Clock() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.traceClock
}

func (f *Fake) SetBufferPercent(percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bufferPercent = percent
	f.log("buffer_percent=%d", percent)
	return nil
}

func (f *Fake) BufferPercent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bufferPercent
}

func (f *Fake) EnableEvent(group, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabledEvents[group+"/"+name] = true
	f.log("enable %s/%s", group, name)
	return nil
}

func (f *Fake) DisableEvent(group, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.enabledEvents, group+"/"+name)
	f.log("disable %s/%s", group, name)
	return nil
}

// EnabledEvents returns the sorted "group/name" set currently enabled, used
// by tests to compare against every active
// session's union, per spec.md §8.
func (f *Fake) EnabledEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.enabledEvents))
	for k := range f.enabledEvents {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *Fake) CreateKprobe(group, name, kernelFunction string, retprobe bool, maxActive int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	decl := fmt.Sprintf("p:%s/%s %s", group, name, kernelFunction)
	if retprobe {
		decl = fmt.Sprintf("r%d:%s/%s %s", maxActive, group, name, kernelFunction)
	}
	for _, existing := range f.kprobeEvents {
		if existing == decl {
			return nil // EEXIST-equivalent: treated as success.
		}
	}
	f.kprobeEvents = append(f.kprobeEvents, decl)
	f.log("kprobe_events += %s", decl)
	return nil
}

func (f *Fake) RemoveKprobe(group, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := fmt.Sprintf("%s/%s ", group, name)
	var kept []string
	for _, existing := range f.kprobeEvents {
		if strings.Contains(existing, prefix) {
			continue
		}
		kept = append(kept, existing)
	}
	f.kprobeEvents = kept
	f.log("kprobe_events -= %s/%s", group, name)
	return nil
}

func (f *Fake) KprobeEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.kprobeEvents...)
}

func (f *Fake) SetCurrentTracer(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pipeOpen) > 0 {
		open := false
		for _, o := range f.pipeOpen {
			if o {
				open = true
			}
		}
		if open && name != f.currentTracer {
			return fmt.Errorf("cannot change current_tracer while trace pipes are open")
		}
	}
	f.currentTracer = name
	f.log("current_tracer=%s", name)
	return nil
}

func (f *Fake) CurrentTracer() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentTracer, nil
}

func (f *Fake) IsTracingAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentTracer == "nop" || f.currentTracer == ""
}

func (f *Fake) AppendFunctionFilters(names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		if strings.Contains(n, ":") {
			return fmt.Errorf("function filter name %q contains ':'", n)
		}
	}
	f.ftraceFilter = append(f.ftraceFilter, names...)
	return nil
}

func (f *Fake) AppendFunctionGraphFilters(names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		if strings.Contains(n, ":") {
			return fmt.Errorf("function filter name %q contains ':'", n)
		}
	}
	f.graphFilter = append(f.graphFilter, names...)
	return nil
}

func (f *Fake) ClearFunctionFilters() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ftraceFilter = nil
	return nil
}

func (f *Fake) ClearFunctionGraphFilters() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graphFilter = nil
	return nil
}

func (f *Fake) SetMaxGraphDepth(depth int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxGraphDepth = depth
	return nil
}

func (f *Fake) SetEventPid(tids []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventPid = append([]int(nil), tids...)
	f.log("set_event_pid=%v", tids)
	return nil
}

func (f *Fake) ClearEventPid() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventPid = nil
	return nil
}

func (f *Fake) SetSyscallFilter(expr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syscallFilter = expr
	f.log("syscall_filter=%s", expr)
	return nil
}

func (f *Fake) SyscallFilter() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syscallFilter
}

func (f *Fake) SetTracefsOption(name string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracefsOptions[name] = enabled
	f.log("options/%s=%v", name, enabled)
	return nil
}

func (f *Fake) TracefsOption(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracefsOptions[name], nil
}

func (f *Fake) SetTracingCPUMask(mask string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cpumask = mask
	f.log("tracing_cpumask=%s", mask)
	return nil
}

func (f *Fake) TracingCPUMask() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cpumask, nil
}

func (f *Fake) ReadPageHeaderFormat() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headerFormat == "" {
		return "", fmt.Errorf("no header_page installed on fake")
	}
	return f.headerFormat, nil
}

func (f *Fake) ReadEventFormat(group, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.eventFormats[group+"/"+name]
	if !ok {
		return "", fmt.Errorf("no format installed for %s/%s", group, name)
	}
	return content, nil
}

func (f *Fake) ReadEventIDs() (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]string{}
	for key := range f.eventFormats {
		parts := strings.SplitN(key, "/", 2)
		out[parts[0]] = append(out[parts[0]], parts[1])
	}
	return out, nil
}

func (f *Fake) ReadPrintkFormats() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.printkFormats, nil
}

func (f *Fake) WriteEventTrigger(group, name, expr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := group + "/" + name
	f.triggers[key] = append(f.triggers[key], expr)
	return nil
}

func (f *Fake) Triggers(group, name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.triggers[group+"/"+name]...)
}

// fakePipe adapts queued bytes into an io.ReadCloser that reports itself
// open/closed to the owning Fake, so SetCurrentTracer's "pipes open" check
// behaves like the real kernel's.
type fakePipe struct {
	f    *Fake
	cpu  int
	data []byte
	pos  int
}

func (p *fakePipe) Read(b []byte) (int, error) {
	if p.pos >= len(p.data) {
		return 0, io.EOF
	}
	n := copy(b, p.data[p.pos:])
	p.pos += n
	return n, nil
}

func (p *fakePipe) Close() error {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	p.f.pipeOpen[p.cpu] = false
	return nil
}

func (f *Fake) OpenPipeForCPU(cpu int) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pipeOpen[cpu] = true
	return &fakePipe{f: f, cpu: cpu, data: f.pipeData[cpu]}, nil
}

func (f *Fake) ReadCPUStats(cpu int) (CPUStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cpuStats[cpu], nil
}

func (f *Fake) Endianness() binary.ByteOrder { return binary.LittleEndian }
