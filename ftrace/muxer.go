package ftrace

import (
	"context"
	"fmt"
	"sort"
	"sync"

	log "github.com/golang/glog"

	"github.com/google/perfetto-ftrace/tracefs"
)

// sessionPhase is a session's position in the per-session state machine of
// spec.md §4.2: Configured -> ConfiguredActive -> Configured -> (removed).
type sessionPhase int

const (
	phaseConfigured sessionPhase = iota
	phaseActive
)

// defaultBufferPercent is the buffer_percent value restored once no configs
// remain in the instance, per spec.md §4.2 removal step 5.
const defaultBufferPercent = 50

// session holds everything the muxer needs to undo a session's contribution
// to shared kernel state when it is deactivated or removed.
type session struct {
	phase sessionPhase
	cfg   *Config
	out   *DataSourceConfig

	events       []string // resolved "group/name" selectors this session owns a share of.
	kprobeNames  []string // "group/name" of kprobes this session installed (vs. reused).
	ownsSyscallFilter bool
	ownsCPUMask       bool
	ownsTracefsOption map[string]bool
	ownsFunctionGraph bool
}

// ConfigMuxer is the single point of contact between session configs and one
// tracefs instance's shared, global kernel state, per spec.md §4.2. It is
// not safe for concurrent use from multiple goroutines beyond the mutex
// below; per spec.md §5 it is expected to be driven by a single task runner
// goroutine, and the mutex exists only to make that expectation cheap to
// enforce from tests, not to support genuine concurrent callers.
type ConfigMuxer struct {
	ctrl   tracefs.Controller
	table  *Table
	atrace *AtraceUnion
	vendor *VendorAllowlist

	mu sync.Mutex

	sessions map[uint64]*session

	eventRefs   map[string]int // "group/name" -> number of sessions referencing it.
	kprobeRefs  map[string]int

	syscallFilterOwner uint64
	syscallFilterSet   bool
	cpuMaskOwner       uint64
	cpuMaskSet         bool
	tracefsOptionOwner map[string]uint64
	functionGraphOwner uint64

	activeCount  int
	clockApplied string

	// Instance-lifetime snapshot, taken by the first session's setup (per
	// spec.md §4.2 setup step 1) and restored by the last session's removal
	// (step 5), unless that first session set PreserveFtraceBuffer.
	tracingOnSaved      bool
	savedTracingOn      bool
	savedTracefsOptions map[string]bool // option name -> value before first claim.
	cpuMaskSaved        bool
	savedCPUMask        string
}

// NewConfigMuxer constructs a muxer over one tracefs instance. vendor may be
// nil, meaning no vendor allowlist restriction.
func NewConfigMuxer(ctrl tracefs.Controller, table *Table, atrace *AtraceUnion, vendor *VendorAllowlist) *ConfigMuxer {
	return &ConfigMuxer{
		ctrl:                ctrl,
		table:               table,
		atrace:              atrace,
		vendor:              vendor,
		sessions:            map[uint64]*session{},
		eventRefs:           map[string]int{},
		kprobeRefs:          map[string]int{},
		tracefsOptionOwner:  map[string]uint64{},
		savedTracefsOptions: map[string]bool{},
	}
}

// SetupConfig validates and applies sessionID's config, per spec.md §4.2's
// setup algorithm. A partially-failed setup never returns a non-nil error
// for a problem the spec classifies as a "setup error" (unknown event,
// failed kprobe, atrace failure, etc.) — per the Open Question decision in
// SPEC_FULL §13, those are recorded in the returned DataSourceConfig's
// Diagnostics instead, and the session is still configured with whatever
// subset of the request succeeded. A non-nil error return means the request
// itself could not be honored at all (e.g. sessionID already configured).
func (m *ConfigMuxer) SetupConfig(ctx context.Context, sessionID uint64, cfg *Config) (*DataSourceConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; exists {
		return nil, fmt.Errorf("session %d is already configured", sessionID)
	}

	if len(m.sessions) == 0 {
		m.initInstance(sessionID, cfg)
	}

	diag := NewSetupDiagnostics()
	sess := &session{cfg: cfg, ownsTracefsOption: map[string]bool{}}

	selectors := m.resolveSelectors(cfg, diag)
	if err := m.table.BuildForEvents(ctx, selectors, cfg.DisableGenericEvents); err != nil {
		log.Warningf("session %d: building translation table entries: %v", sessionID, err)
	}

	filter := NewEventFilter()
	for _, sel := range selectors {
		group, name := splitSelector(sel)
		desc, err := m.table.GetOrCreate(group, name, cfg.DisableGenericEvents)
		if err != nil {
			diag.UnknownOrInaccessibleEvents = append(diag.UnknownOrInaccessibleEvents, sel)
			continue
		}
		if m.eventRefs[sel] == 0 {
			if err := m.ctrl.EnableEvent(group, name); err != nil {
				diag.UnknownOrInaccessibleEvents = append(diag.UnknownOrInaccessibleEvents, sel)
				continue
			}
		}
		m.eventRefs[sel]++
		sess.events = append(sess.events, sel)
		filter.Enable(desc.KernelID)
	}

	m.setupKprobes(sessionID, cfg, sess, filter, diag)
	m.setupSyscallFilter(sessionID, cfg, sess, diag)
	compactSchedOK := m.validateCompactSched(cfg, diag)
	printFilter, err := NewPrintFilter(cfg.PrintFilterPrefix, cfg.PrintFilterExpr)
	if err != nil {
		diag.ExclusiveFeatureConflicts = append(diag.ExclusiveFeatureConflicts, err.Error())
		printFilter = nil
	}
	m.setupTracefsOptions(sessionID, cfg, sess, diag)
	m.setupCPUMask(sessionID, cfg, sess, diag)
	m.setupFunctionFilters(sessionID, cfg, sess, diag)

	if err := m.atrace.Update(ctx, sessionID, atraceRequestFromConfig(cfg)); err != nil {
		diag.AtraceFailures = append(diag.AtraceFailures, err.Error())
	}

	out := &DataSourceConfig{
		SessionID:                 sessionID,
		EventFilter:               filter,
		PrintFilter:               printFilter,
		CompactSchedEnabled:       cfg.CompactSched && compactSchedOK,
		CompactSchedValid:         compactSchedOK,
		Kprobes:                   sess.kprobeDescriptors(m.table),
		SymbolizeKsyms:            cfg.SymbolizeKsyms,
		DrainPeriodMs:             cfg.DrainPeriodMs,
		DrainBufferPercentage:     cfg.DrainBufferPercentage,
		RawPageDebugDump:          cfg.RawPageDebugDump,
		LegacyGenericEventEncoding: cfg.LegacyGenericEventEncoding,
		TargetBufferID:            cfg.TargetBufferID,
		Diagnostics:               diag,
	}
	if cfg.SyscallEvents != nil {
		out.SyscallFilterAll = cfg.SyscallEvents.All
		out.SyscallFilterIDs = idSet(cfg.SyscallEvents.IDs)
		out.NewFDSyscallIDs = cfg.SyscallEvents.NewFDSyscallSet()
	}

	sess.phase = phaseConfigured
	sess.out = out
	m.sessions[sessionID] = sess
	return out, nil
}

// initInstance runs spec.md §4.2 setup step 1: the one-time global
// initialization that happens only for the first config in this tracefs
// instance, skipped entirely when that first session asks to preserve
// whatever trace is already sitting in the buffer.
func (m *ConfigMuxer) initInstance(sessionID uint64, cfg *Config) {
	if cfg.PreserveFtraceBuffer {
		return
	}
	if on, err := m.ctrl.IsTracingOn(); err != nil {
		log.Warningf("session %d: reading tracing_on before first setup: %v", sessionID, err)
	} else {
		m.savedTracingOn = on
		m.tracingOnSaved = true
	}
	m.disableAllEvents(sessionID)
	if err := m.ctrl.ClearTrace(nil); err != nil {
		log.Warningf("session %d: clearing trace buffers: %v", sessionID, err)
	}
	if clock, err := m.ctrl.SetClock(m.preferredClocks(cfg)...); err != nil {
		log.Warningf("session %d: setting trace_clock: %v", sessionID, err)
	} else {
		m.clockApplied = clock
	}
	if cfg.BufferSizeKB > 0 {
		if err := m.ctrl.SetCPUBufferSizePages(pagesForKB(cfg.BufferSizeKB)); err != nil {
			log.Warningf("session %d: set buffer size: %v", sessionID, err)
		}
	}
}

// disableAllEvents writes 0 to every known event's enable file, per
// spec.md §4.2 setup step 1 and removal step 5.
func (m *ConfigMuxer) disableAllEvents(sessionID uint64) {
	ids, err := m.ctrl.ReadEventIDs()
	if err != nil {
		log.Warningf("session %d: reading event ids: %v", sessionID, err)
		return
	}
	for group, names := range ids {
		for _, name := range names {
			if err := m.ctrl.DisableEvent(group, name); err != nil {
				log.Warningf("session %d: disabling %s/%s: %v", sessionID, group, name, err)
			}
		}
	}
}

// ActivateConfig transitions sessionID to ConfiguredActive, per spec.md
// §4.2's activation algorithm: recompute the buffer-percent watermark across
// all active sessions, and on the first active session additionally flip
// tracing_on.
func (m *ConfigMuxer) ActivateConfig(sessionID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %d is not configured", sessionID)
	}
	if sess.phase == phaseActive {
		return nil
	}

	first := m.activeCount == 0

	sess.phase = phaseActive
	m.activeCount++
	m.recomputeBufferPercent()

	if first {
		if err := m.ctrl.SetTracingOn(true); err != nil {
			sess.phase = phaseConfigured
			m.activeCount--
			return fmt.Errorf("activating session %d: %w", sessionID, err)
		}
	}
	return nil
}

// recomputeBufferPercent writes buffer_percent to the minimum
// drain_buffer_percent set by any currently active session, per spec.md
// §4.2 activation step 1 and removal step 3. Sessions that left it at its
// zero value (no preference) don't participate in the minimum.
func (m *ConfigMuxer) recomputeBufferPercent() {
	min := -1
	for _, sess := range m.sessions {
		if sess.phase != phaseActive || sess.cfg.DrainBufferPercentage <= 0 {
			continue
		}
		if min == -1 || sess.cfg.DrainBufferPercentage < min {
			min = sess.cfg.DrainBufferPercentage
		}
	}
	if min == -1 {
		return
	}
	if err := m.ctrl.SetBufferPercent(min); err != nil {
		log.Warningf("setting buffer_percent: %v", err)
	}
}

// RemoveConfig tears down sessionID, releasing any shared kernel state
// (events, kprobes, exclusive tracefs resources) no longer referenced by
// another session, per spec.md §4.2's removal algorithm.
func (m *ConfigMuxer) RemoveConfig(ctx context.Context, sessionID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %d is not configured", sessionID)
	}

	for _, sel := range sess.events {
		m.eventRefs[sel]--
		if m.eventRefs[sel] <= 0 {
			delete(m.eventRefs, sel)
			group, name := splitSelector(sel)
			if err := m.ctrl.DisableEvent(group, name); err != nil {
				log.Warningf("session %d: disabling %s: %v", sessionID, sel, err)
			}
		}
	}

	for _, sel := range sess.kprobeNames {
		m.kprobeRefs[sel]--
		if m.kprobeRefs[sel] <= 0 {
			delete(m.kprobeRefs, sel)
			group, name := splitSelector(sel)
			if err := m.ctrl.RemoveKprobe(group, name); err != nil {
				log.Warningf("session %d: removing kprobe %s: %v", sessionID, sel, err)
			}
			m.table.RemoveDynamicEvent(group, name)
		}
	}

	if sess.ownsSyscallFilter && m.syscallFilterOwner == sessionID {
		m.syscallFilterOwner = 0
		m.syscallFilterSet = false
	}
	if sess.ownsCPUMask && m.cpuMaskOwner == sessionID {
		m.cpuMaskOwner = 0
		m.cpuMaskSet = false
	}
	if sess.ownsFunctionGraph && m.functionGraphOwner == sessionID {
		m.functionGraphOwner = 0
		if err := m.ctrl.ClearFunctionFilters(); err != nil {
			log.Warningf("session %d: clearing function filters: %v", sessionID, err)
		}
		if err := m.ctrl.ClearFunctionGraphFilters(); err != nil {
			log.Warningf("session %d: clearing function graph filters: %v", sessionID, err)
		}
	}
	for name, owned := range sess.ownsTracefsOption {
		if !owned {
			continue
		}
		if owner, ok := m.tracefsOptionOwner[name]; ok && owner == sessionID {
			delete(m.tracefsOptionOwner, name)
		}
	}

	if err := m.atrace.Update(ctx, sessionID, nil); err != nil {
		log.Warningf("session %d: removing atrace request: %v", sessionID, err)
	}

	wasActive := sess.phase == phaseActive
	delete(m.sessions, sessionID)
	if wasActive {
		m.activeCount--
	}
	m.recomputeBufferPercent()
	if wasActive && m.activeCount == 0 {
		if err := m.ctrl.SetTracingOn(false); err != nil {
			return fmt.Errorf("deactivating tracing after removing session %d: %w", sessionID, err)
		}
	}

	if len(m.sessions) == 0 {
		m.teardownInstance(sessionID)
	}
	return nil
}

// teardownInstance runs spec.md §4.2 removal step 5: once no configs remain
// in the instance, every piece of global state the first session's setup
// touched (or would have touched, had PreserveFtraceBuffer not been set) is
// put back.
func (m *ConfigMuxer) teardownInstance(sessionID uint64) {
	if err := m.ctrl.SetCPUBufferSizePages(1); err != nil {
		log.Warningf("resetting buffer_size_kb to 1 page: %v", err)
	}
	if err := m.ctrl.SetBufferPercent(defaultBufferPercent); err != nil {
		log.Warningf("resetting buffer_percent: %v", err)
	}
	m.disableAllEvents(sessionID)
	if err := m.ctrl.ClearTrace(nil); err != nil {
		log.Warningf("clearing trace buffers on final teardown: %v", err)
	}
	if err := m.ctrl.ClearEventPid(); err != nil {
		log.Warningf("clearing event tid filter: %v", err)
	}

	if m.tracingOnSaved {
		if err := m.ctrl.SetTracingOn(m.savedTracingOn); err != nil {
			log.Warningf("restoring tracing_on: %v", err)
		}
		m.tracingOnSaved = false
	}
	for name, prior := range m.savedTracefsOptions {
		if err := m.ctrl.SetTracefsOption(name, prior); err != nil {
			log.Warningf("restoring tracefs option %s: %v", name, err)
		}
	}
	m.savedTracefsOptions = map[string]bool{}
	if m.cpuMaskSaved {
		if err := m.ctrl.SetTracingCPUMask(m.savedCPUMask); err != nil {
			log.Warningf("restoring tracing_cpumask: %v", err)
		}
		m.cpuMaskSaved = false
	}
	m.clockApplied = ""
}

// GetDataSourceConfig returns the derived config for sessionID, for use by
// a per-CPU reader.
func (m *ConfigMuxer) GetDataSourceConfig(sessionID uint64) (*DataSourceConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return sess.out, true
}

// ResetCurrentTracer forces current_tracer back to "nop" if some other
// tracer (e.g. function_graph left over from a prior, uncleanly terminated
// instance) is active, per spec.md §4.1's precondition that event tracing
// requires the nop tracer.
func (m *ConfigMuxer) ResetCurrentTracer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctrl.IsTracingAvailable() {
		return nil
	}
	return m.ctrl.SetCurrentTracer("nop")
}

func (m *ConfigMuxer) resolveSelectors(cfg *Config, diag *SetupDiagnostics) []string {
	seen := map[string]bool{}
	var out []string
	add := func(sel string) {
		group, name := splitSelector(sel)
		if m.vendor != nil && !IsStaticEvent(group, name) && !m.vendor.Allows(group, name) {
			diag.UnknownOrInaccessibleEvents = append(diag.UnknownOrInaccessibleEvents, sel)
			return
		}
		if !seen[sel] {
			seen[sel] = true
			out = append(out, sel)
		}
	}

	for _, sel := range cfg.Events {
		group, name := splitSelector(sel)
		if name == "*" {
			ids, err := m.ctrl.ReadEventIDs()
			if err != nil {
				diag.UnknownOrInaccessibleEvents = append(diag.UnknownOrInaccessibleEvents, sel)
				continue
			}
			for _, n := range ids[group] {
				add(group + "/" + n)
			}
			continue
		}
		add(sel)
	}
	for _, sel := range EventsForCategories(allCategories(cfg)) {
		add(sel)
	}
	sort.Strings(out)
	return out
}

func allCategories(cfg *Config) []string {
	return cfg.AtraceCategories
}

func (m *ConfigMuxer) setupKprobes(sessionID uint64, cfg *Config, sess *session, filter *EventFilter, diag *SetupDiagnostics) {
	for _, kp := range cfg.Kprobes {
		sel := kp.Group + "/" + kp.Name
		if m.kprobeRefs[sel] == 0 {
			if err := m.ctrl.CreateKprobe(kp.Group, kp.Name, kp.KernelFunction, kp.Retprobe, kp.MaxActive); err != nil {
				diag.KprobeFailures = append(diag.KprobeFailures, sel)
				continue
			}
		}
		m.kprobeRefs[sel]++
		sess.kprobeNames = append(sess.kprobeNames, sel)

		kt := KprobeInstant
		if kp.Retprobe {
			kt = KprobeEnd
		}
		desc := m.table.RegisterKprobe(kp.Group, kp.Name, kt)
		if desc.KernelID != 0 {
			filter.Enable(desc.KernelID)
		}
	}
}

func (m *ConfigMuxer) setupSyscallFilter(sessionID uint64, cfg *Config, sess *session, diag *SetupDiagnostics) {
	if cfg.SyscallEvents == nil {
		return
	}
	if m.syscallFilterSet && m.syscallFilterOwner != sessionID {
		diag.ExclusiveFeatureConflicts = append(diag.ExclusiveFeatureConflicts, "syscall filter")
		return
	}
	expr := "1"
	if !cfg.SyscallEvents.All && len(cfg.SyscallEvents.IDs) > 0 {
		expr = syscallFilterExpr(cfg.SyscallEvents.IDs)
	}
	if err := m.ctrl.SetSyscallFilter(expr); err != nil {
		diag.ExclusiveFeatureConflicts = append(diag.ExclusiveFeatureConflicts, "syscall filter: "+err.Error())
		return
	}
	m.syscallFilterOwner = sessionID
	m.syscallFilterSet = true
	sess.ownsSyscallFilter = true
}

// setupTracefsOptions applies cfg.TracefsOptions, recording each option's
// pre-existing value the first time it is ever claimed by any session (per
// spec.md §4.2 setup step 4) so teardownInstance can restore it later.
func (m *ConfigMuxer) setupTracefsOptions(sessionID uint64, cfg *Config, sess *session, diag *SetupDiagnostics) {
	for name, enabled := range cfg.TracefsOptions {
		if owner, ok := m.tracefsOptionOwner[name]; ok && owner != sessionID {
			diag.ExclusiveFeatureConflicts = append(diag.ExclusiveFeatureConflicts, "option/"+name)
			continue
		}
		if _, saved := m.savedTracefsOptions[name]; !saved {
			if prior, err := m.ctrl.TracefsOption(name); err != nil {
				log.Warningf("session %d: reading prior value of tracefs option %s: %v", sessionID, name, err)
			} else {
				m.savedTracefsOptions[name] = prior
			}
		}
		if err := m.ctrl.SetTracefsOption(name, enabled); err != nil {
			diag.InvalidTracefsOptionNames = append(diag.InvalidTracefsOptionNames, name)
			continue
		}
		m.tracefsOptionOwner[name] = sessionID
		sess.ownsTracefsOption[name] = true
	}
}

// setupCPUMask applies cfg.TracingCPUMask, snapshotting the pre-existing
// mask the first time it is ever claimed (spec.md §4.2 setup step 5) so
// teardownInstance can restore it later.
func (m *ConfigMuxer) setupCPUMask(sessionID uint64, cfg *Config, sess *session, diag *SetupDiagnostics) {
	if cfg.TracingCPUMask == "" {
		return
	}
	if m.cpuMaskSet && m.cpuMaskOwner != sessionID {
		diag.ExclusiveFeatureConflicts = append(diag.ExclusiveFeatureConflicts, "tracing_cpumask")
		return
	}
	if !m.cpuMaskSaved {
		if prior, err := m.ctrl.TracingCPUMask(); err != nil {
			log.Warningf("session %d: reading prior tracing_cpumask: %v", sessionID, err)
		} else {
			m.savedCPUMask = prior
			m.cpuMaskSaved = true
		}
	}
	if err := m.ctrl.SetTracingCPUMask(cfg.TracingCPUMask); err != nil {
		diag.ExclusiveFeatureConflicts = append(diag.ExclusiveFeatureConflicts, "tracing_cpumask: "+err.Error())
		return
	}
	m.cpuMaskOwner = sessionID
	m.cpuMaskSet = true
	sess.ownsCPUMask = true
}

func (m *ConfigMuxer) setupFunctionFilters(sessionID uint64, cfg *Config, sess *session, diag *SetupDiagnostics) {
	if !cfg.FunctionGraph && len(cfg.FunctionFilters) == 0 {
		return
	}
	if m.functionGraphOwner != 0 && m.functionGraphOwner != sessionID {
		diag.ExclusiveFeatureConflicts = append(diag.ExclusiveFeatureConflicts, "function_graph")
		return
	}
	if len(cfg.FunctionFilters) > 0 {
		if err := m.ctrl.AppendFunctionFilters(cfg.FunctionFilters); err != nil {
			diag.ExclusiveFeatureConflicts = append(diag.ExclusiveFeatureConflicts, "set_ftrace_filter: "+err.Error())
			return
		}
	}
	if cfg.FunctionGraph {
		if err := m.ctrl.SetCurrentTracer("function_graph"); err != nil {
			diag.ExclusiveFeatureConflicts = append(diag.ExclusiveFeatureConflicts, "function_graph tracer: "+err.Error())
			return
		}
		if len(cfg.FunctionGraphRoots) > 0 {
			if err := m.ctrl.AppendFunctionGraphFilters(cfg.FunctionGraphRoots); err != nil {
				log.Warningf("session %d: set_graph_function: %v", sessionID, err)
			}
		}
		if cfg.FunctionGraphDepth > 0 {
			if err := m.ctrl.SetMaxGraphDepth(cfg.FunctionGraphDepth); err != nil {
				log.Warningf("session %d: max_graph_depth: %v", sessionID, err)
			}
		}
	}
	m.functionGraphOwner = sessionID
	sess.ownsFunctionGraph = true
}

// validateCompactSched reports whether sched_switch and sched_waking both
// resolved with every field compact-sched decoding needs, per spec.md §3's
// "compact_sched ... falls back to per-field decoding if the runtime format
// doesn't match what the compact encoder expects".
func (m *ConfigMuxer) validateCompactSched(cfg *Config, diag *SetupDiagnostics) bool {
	if !cfg.CompactSched {
		return false
	}
	sw, ok1 := m.table.ByGroupName("sched", "sched_switch")
	wk, ok2 := m.table.ByGroupName("sched", "sched_waking")
	if !ok1 || !ok2 || len(sw.Fields) == 0 || len(wk.Fields) == 0 {
		diag.CompactSchedFormatInvalid = true
		return false
	}
	return true
}

func (m *ConfigMuxer) preferredClocks(cfg *Config) []string {
	if cfg.PreferredClock != "" {
		return []string{cfg.PreferredClock}
	}
	return nil
}

func (s *session) kprobeDescriptors(t *Table) map[uint16]*EventDescriptor {
	if len(s.kprobeNames) == 0 {
		return nil
	}
	out := map[uint16]*EventDescriptor{}
	for _, sel := range s.kprobeNames {
		group, name := splitSelector(sel)
		if d, ok := t.ByGroupName(group, name); ok && d.KernelID != 0 {
			out[d.KernelID] = d
		}
	}
	return out
}

func atraceRequestFromConfig(cfg *Config) *atraceRequest {
	if len(cfg.AtraceApps) == 0 && len(cfg.AtraceCategories) == 0 {
		return nil
	}
	return &atraceRequest{
		apps:       cfg.AtraceApps,
		categories: cfg.AtraceCategories,
		preferSDK:  cfg.AtraceCategoriesPreferSDK,
		optOutSDK:  cfg.AtraceCategoriesOptOutSDK,
	}
}

func splitSelector(sel string) (group, name string) {
	for i := 0; i < len(sel); i++ {
		if sel[i] == '/' {
			return sel[:i], sel[i+1:]
		}
	}
	return sel, ""
}

func idSet(ids []int) map[int]bool {
	out := map[int]bool{}
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// tracefsPageKB is the per-CPU ring buffer page size tracefs assumes when
// converting a page count to buffer_size_kb (tracefs/fs.go's SetCPUBufferSizePages).
const tracefsPageKB = 4

// pagesForKB converts a requested per-CPU buffer size in KB to the page
// count set_cpu_buffer_size_pages expects, rounding up so the allocated
// buffer is never smaller than requested.
func pagesForKB(kb int) int {
	if kb <= 0 {
		return 0
	}
	return (kb + tracefsPageKB - 1) / tracefsPageKB
}

func syscallFilterExpr(ids []int) string {
	expr := ""
	for i, id := range ids {
		if i > 0 {
			expr += " || "
		}
		expr += fmt.Sprintf("id == %d", id)
	}
	return expr
}
