package tracefs

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	log "github.com/golang/glog"
)

// syscallNonblock is the O_NONBLOCK flag used to open trace_pipe_raw files
// without blocking the single task-runner thread on an empty buffer.
const syscallNonblock = syscall.O_NONBLOCK

func isEExist(err error) bool {
	return errors.Is(err, syscall.EEXIST) || errors.Is(err, os.ErrExist)
}

// RootCandidates are the two tracefs mount points guessed at startup, in
// preference order, mirroring Tracefs::kTracingPaths in the original
// implementation.
var RootCandidates = []string{
	"/sys/kernel/tracing/",
	"/sys/kernel/debug/tracing/",
}

// preferredClocks is the fallback order used by SetClock when no explicit
// clock is requested.
var preferredClocks = []string{"boot", "global", "local"}

// FS is the production Controller, backed by real tracefs files.
type FS struct {
	root string
}

// NewFS constructs a controller rooted at root, which must already be the
// full instance path (including any instances/<name>/ suffix).
func NewFS(root string) *FS {
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return &FS{root: root}
}

// DiscoverRoot tries each of RootCandidates in order and returns the first
// that exists and looks like a tracefs mount (has a tracing_on file).
func DiscoverRoot() (string, error) {
	for _, candidate := range RootCandidates {
		if _, err := os.Stat(filepath.Join(candidate, "tracing_on")); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no tracefs mount found under any of %v", RootCandidates)
}

func (f *FS) Root() string { return f.root }

func (f *FS) path(elems ...string) string {
	return filepath.Join(append([]string{f.root}, elems...)...)
}

func (f *FS) readFile(elems ...string) (string, error) {
	b, err := os.ReadFile(f.path(elems...))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", f.path(elems...), err)
	}
	return string(b), nil
}

// writeFile writes data to the file at elems, truncating it first. Soft
// failures (EACCES/EPERM) are wrapped and returned, not logged; callers decide
// whether they are fatal, per spec.md §4.1's controller policy.
func (f *FS) writeFile(data string, elems ...string) error {
	p := f.path(elems...)
	fh, err := os.OpenFile(p, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("opening %s for write: %w", p, err)
	}
	defer fh.Close()
	if _, err := fh.WriteString(data); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	return nil
}

func (f *FS) appendFile(data string, elems ...string) error {
	p := f.path(elems...)
	fh, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("opening %s for append: %w", p, err)
	}
	defer fh.Close()
	if _, err := fh.WriteString(data); err != nil {
		return fmt.Errorf("appending to %s: %w", p, err)
	}
	return nil
}

func (f *FS) SetTracingOn(on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	return f.writeFile(v, "tracing_on")
}

func (f *FS) IsTracingOn() (bool, error) {
	s, err := f.readFile("tracing_on")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(s) == "1", nil
}

func (f *FS) ClearTrace(offlineCPUs []int) error {
	if err := f.writeFile("", "trace"); err != nil {
		return err
	}
	// The main trace file only resets online CPUs; offline CPUs keep stale
	// data unless cleared individually. See spec.md §4.1 clear_trace().
	for _, cpu := range offlineCPUs {
		if err := f.ClearCPUTrace(cpu); err != nil {
			log.Warningf("clearing trace for offline cpu %d: %v", cpu, err)
		}
	}
	return nil
}

func (f *FS) ClearCPUTrace(cpu int) error {
	return f.writeFile("", "per_cpu", fmt.Sprintf("cpu%d", cpu), "trace")
}

func (f *FS) SetCPUBufferSizePages(n int) error {
	const pageKB = 4
	return f.writeFile(strconv.Itoa(n*pageKB), "buffer_size_kb")
}

func (f *FS) AvailableClocks() ([]string, string, error) {
	s, err := f.readFile("trace_clock")
	if err != nil {
		return nil, "", err
	}
	var names []string
	var current string
	for _, tok := range strings.Fields(strings.TrimSpace(s)) {
		if strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]") {
			name := strings.TrimSuffix(strings.TrimPrefix(tok, "["), "]")
			names = append(names, name)
			current = name
		} else {
			names = append(names, tok)
		}
	}
	return names, current, nil
}

func (f *FS) SetClock(preferred ...string) (string, error) {
	if len(preferred) == 0 {
		preferred = preferredClocks
	}
	available, _, err := f.AvailableClocks()
	if err != nil {
		return "", err
	}
	avail := map[string]bool{}
	for _, a := range available {
		avail[a] = true
	}
	for _, name := range preferred {
		if avail[name] {
			if err := f.writeFile(name, "trace_clock"); err != nil {
				return "", err
			}
			return name, nil
		}
	}
	return "", fmt.Errorf("none of the preferred clocks %v are available (have %v)", preferred, available)
}

func (f *FS) SetBufferPercent(percent int) error {
	return f.writeFile(strconv.Itoa(percent), "buffer_percent")
}

func (f *FS) EnableEvent(group, name string) error {
	if err := f.writeFile("1", "events", group, name, "enable"); err != nil {
		log.Warningf("enabling event %s/%s: %v", group, name, err)
		return err
	}
	return nil
}

func (f *FS) DisableEvent(group, name string) error {
	if err := f.writeFile("0", "events", group, name, "enable"); err == nil {
		return nil
	}
	// Fall back to the global set_event knob with a '!' prefix, per
	// spec.md §4.1.
	return f.appendFile(fmt.Sprintf("!%s:%s\n", group, name), "set_event")
}

func (f *FS) CreateKprobe(group, name, kernelFunction string, retprobe bool, maxActive int) error {
	var decl string
	if retprobe {
		if maxActive > 0 {
			decl = fmt.Sprintf("r%d:%s/%s %s\n", maxActive, group, name, kernelFunction)
		} else {
			decl = fmt.Sprintf("r:%s/%s %s\n", group, name, kernelFunction)
		}
	} else {
		decl = fmt.Sprintf("p:%s/%s %s\n", group, name, kernelFunction)
	}
	err := f.appendFile(decl, "kprobe_events")
	if err != nil && isEExist(err) {
		return nil
	}
	return err
}

func (f *FS) RemoveKprobe(group, name string) error {
	return f.appendFile(fmt.Sprintf("-:%s/%s\n", group, name), "kprobe_events")
}

func (f *FS) SetCurrentTracer(name string) error {
	return f.writeFile(name, "current_tracer")
}

func (f *FS) CurrentTracer() (string, error) {
	s, err := f.readFile("current_tracer")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (f *FS) IsTracingAvailable() bool {
	s, err := f.CurrentTracer()
	if err != nil {
		// Unreadable tracefs is treated as "available"; the caller's own
		// subsequent reads/writes will surface the real problem.
		return true
	}
	return s == "nop" || s == ""
}

var colonRe = regexp.MustCompile(`:`)

func (f *FS) AppendFunctionFilters(names []string) error {
	return f.appendFunctionNames(names, "set_ftrace_filter")
}

func (f *FS) AppendFunctionGraphFilters(names []string) error {
	return f.appendFunctionNames(names, "set_graph_function")
}

func (f *FS) appendFunctionNames(names []string, file string) error {
	for _, n := range names {
		if colonRe.MatchString(n) {
			return fmt.Errorf("function filter name %q contains ':', which would install a per-function command and break isolation between sessions", n)
		}
	}
	return f.appendFile(strings.Join(names, "\n")+"\n", file)
}

func (f *FS) ClearFunctionFilters() error      { return f.writeFile("", "set_ftrace_filter") }
func (f *FS) ClearFunctionGraphFilters() error { return f.writeFile("", "set_graph_function") }

func (f *FS) SetMaxGraphDepth(depth int) error {
	return f.writeFile(strconv.Itoa(depth), "max_graph_depth")
}

func (f *FS) SetEventPid(tids []int) error {
	strs := make([]string, len(tids))
	for i, t := range tids {
		strs[i] = strconv.Itoa(t)
	}
	return f.writeFile(strings.Join(strs, " "), "set_event_pid")
}

func (f *FS) ClearEventPid() error { return f.writeFile("", "set_event_pid") }

func (f *FS) SetSyscallFilter(expr string) error {
	if err := f.writeFile(expr, "events", "raw_syscalls", "sys_enter", "filter"); err != nil {
		return err
	}
	return f.writeFile(expr, "events", "raw_syscalls", "sys_exit", "filter")
}

var tracefsOptionNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func (f *FS) SetTracefsOption(name string, enabled bool) error {
	if !tracefsOptionNameRe.MatchString(name) {
		return fmt.Errorf("invalid tracefs option name %q", name)
	}
	v := "0"
	if enabled {
		v = "1"
	}
	return f.writeFile(v, "options", name)
}

func (f *FS) TracefsOption(name string) (bool, error) {
	s, err := f.readFile("options", name)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(s) == "1", nil
}

func (f *FS) SetTracingCPUMask(mask string) error {
	return f.writeFile(mask, "tracing_cpumask")
}

func (f *FS) TracingCPUMask() (string, error) {
	s, err := f.readFile("tracing_cpumask")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (f *FS) ReadPageHeaderFormat() (string, error) {
	return f.readFile("events", "header_page")
}

func (f *FS) ReadEventFormat(group, name string) (string, error) {
	return f.readFile("events", group, name, "format")
}

func (f *FS) ReadEventIDs() (map[string][]string, error) {
	root := f.path("events")
	groups, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}
	out := map[string][]string{}
	for _, g := range groups {
		if !g.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(root, g.Name()))
		if err != nil {
			continue
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
		if len(names) > 0 {
			out[g.Name()] = names
		}
	}
	return out, nil
}

func (f *FS) ReadPrintkFormats() (string, error) {
	return f.readFile("printk_formats")
}

func (f *FS) WriteEventTrigger(group, name, expr string) error {
	return f.appendFile(expr+"\n", "events", group, name, "trigger")
}

func (f *FS) OpenPipeForCPU(cpu int) (io.ReadCloser, error) {
	p := f.path("per_cpu", fmt.Sprintf("cpu%d", cpu), "trace_pipe_raw")
	fh, err := os.OpenFile(p, os.O_RDONLY|syscallNonblock, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", p, err)
	}
	return fh, nil
}

func (f *FS) ReadCPUStats(cpu int) (CPUStats, error) {
	s, err := f.readFile("per_cpu", fmt.Sprintf("cpu%d", cpu), "stats")
	if err != nil {
		return CPUStats{}, err
	}
	return parseCPUStats(s)
}

func (f *FS) Endianness() binary.ByteOrder { return binary.LittleEndian }

func parseCPUStats(content string) (CPUStats, error) {
	var st CPUStats
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := strings.TrimSpace(line[:colon])
		valStr := strings.TrimSpace(line[colon+1:])
		// Values may have trailing annotations like "(expanded: 85)".
		if sp := strings.IndexByte(valStr, ' '); sp >= 0 {
			valStr = valStr[:sp]
		}
		val, err := strconv.ParseUint(valStr, 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "entries":
			st.Entries = val
		case "overrun":
			st.Overrun = val
		case "commit overrun":
			st.CommitOverrun = val
		case "bytes":
			st.BytesRead = val
		case "oldest event ts":
			st.OldestEventTsNs = float64(val)
		case "now ts":
			st.NowTsNs = float64(val)
		case "dropped events":
			st.DroppedEvents = val
		case "read events":
			st.ReadEvents = val
		}
	}
	return st, scanner.Err()
}
