package ftrace

import (
	"context"
	"fmt"
	"strings"
	"sync"

	log "github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/google/perfetto-ftrace/tracefs"
)

// KprobeEventType distinguishes instant kprobes from kretprobe begin/end
// pairs, per spec.md §4.3 "Kprobes".
type KprobeEventType int

const (
	KprobeInstant KprobeEventType = iota
	KprobeBegin
	KprobeEnd
)

// firstGenericProtoFieldID is the first id handed to a dynamically
// discovered (not compile-time-known) event, per spec.md §4.3.
const firstGenericProtoFieldID = 65536

// kprobeProtoFieldID is the single fixed proto field id shared by every
// kprobe EventDescriptor, per spec.md §4.3 ("the table uses a fixed proto
// field id").
const kprobeProtoFieldID = 900000

// EventDescriptor is the static-at-session-time decode plan for one kernel
// event, per spec.md §3/§4.3.
type EventDescriptor struct {
	Group        string
	Name         string
	KernelID     uint16
	ProtoFieldID int32
	// Size is the maximum (offset+size) across the surviving fields,
	// including common fields, per spec.md §4.3 step 3.
	Size uint64
	// Fields holds, for a compile-time-known event, only the fields the
	// static descriptor expects AND the runtime format declared; fields the
	// runtime omits are dropped, per spec.md §4.3 step 2.
	Fields []FieldDescriptor

	// Generic is true for events discovered only at session-setup time
	// (not in the staticEvents table).
	Generic bool
	// GenericFields holds every runtime field, coerced to int64/uint64/string,
	// for a Generic event; downstream consumers decode later occurrences of
	// the same id using this descriptor alone, per spec.md §4.3.
	GenericFields []FieldDescriptor
	// DescriptorEmitted is set once this generic event's descriptor has been
	// attached to an output bundle; see Bundler.
	DescriptorEmitted bool

	// Kprobe is true for a dynamically installed kprobe/kretprobe.
	Kprobe     bool
	KprobeType KprobeEventType
}

// staticEventSpec is a compile-time-known event: the set of fields the
// implementation understands and has special handling for (compact-sched,
// sys_enter/exit, print, task rename) plus any other event the SPEC_FULL
// category expansion (§12.2) wires in.
type staticEventSpec struct {
	group, name  string
	protoFieldID int32
	fieldNames   []string // expected field names, in order; missing ones are dropped.
}

var staticEvents = buildStaticEvents()

func buildStaticEvents() map[string]staticEventSpec {
	specs := []staticEventSpec{
		{"sched", "sched_switch", 1, []string{"prev_comm", "prev_pid", "prev_prio", "prev_state", "next_comm", "next_pid", "next_prio"}},
		{"sched", "sched_waking", 2, []string{"pid", "comm", "prio", "target_cpu", "common_flags"}},
		{"sched", "sched_wakeup", 3, []string{"pid", "comm", "prio", "target_cpu"}},
		{"sched", "sched_wakeup_new", 4, []string{"pid", "comm", "prio", "target_cpu"}},
		{"sched", "sched_process_exit", 5, []string{"comm", "pid", "prio"}},
		{"sched", "sched_process_free", 6, []string{"comm", "pid", "prio"}},
		{"raw_syscalls", "sys_enter", 7, []string{"id", "args"}},
		{"raw_syscalls", "sys_exit", 8, []string{"id", "ret"}},
		{"ftrace", "print", 9, []string{"buf"}},
		{"task", "task_rename", 10, []string{"pid", "oldcomm", "newcomm"}},
		{"kmem", "rss_stat", 11, []string{"mm_id", "curr", "member", "size"}},
		{"synthetic", "rss_stat_throttled", 11, []string{"mm_id", "curr", "member", "size"}},
		{"power", "cpu_frequency", 12, []string{"state", "cpu_id"}},
		{"power", "cpu_idle", 13, []string{"state", "cpu_id"}},
		{"ext4", "ext4_da_write_begin", 14, []string{"dev", "ino", "pos", "len"}},
		{"block", "block_rq_issue", 15, []string{"dev", "sector", "nr_sector", "bytes", "rwbs", "comm"}},
		{"binder", "binder_transaction", 16, []string{"transaction_id", "dest_node", "to_proc", "to_thread"}},
	}
	out := make(map[string]staticEventSpec, len(specs))
	for _, s := range specs {
		out[s.group+"/"+s.name] = s
	}
	return out
}

// IsStaticEvent reports whether (group, name) is compile-time-known.
func IsStaticEvent(group, name string) bool {
	_, ok := staticEvents[group+"/"+name]
	return ok
}

// Table is the per-instance proto translation table, parsed once per
// instance at startup and incrementally extended as sessions request new
// events or install kprobes.
//
// Grounded on the overall shape of traceparser.TraceParser (which holds
// Formats map[uint16]*EventFormat plus HeaderFormat), generalized to the
// spec's richer per-field translation-strategy table and to support
// incremental growth (the teacher's TraceParser is built once, up front,
// from a fixed list of format files; this table grows across a tracefs
// instance's lifetime as sessions are set up).
type Table struct {
	ctrl tracefs.Controller

	mu          sync.Mutex
	byKernelID  map[uint16]*EventDescriptor
	byGroupName map[string]*EventDescriptor
	nextGeneric int32

	header tracefs.PageHeaderSpec

	printk *PrintkTable
}

// NewTable constructs a translation table for one tracefs instance,
// reading events/header_page and printk_formats once. A header_page read
// failure falls back to tracefs.FallbackPageHeaderSpec(8), per spec.md §3.
func NewTable(ctrl tracefs.Controller) (*Table, error) {
	t := &Table{
		ctrl:        ctrl,
		byKernelID:  map[uint16]*EventDescriptor{},
		byGroupName: map[string]*EventDescriptor{},
		nextGeneric: firstGenericProtoFieldID,
	}

	headerText, err := ctrl.ReadPageHeaderFormat()
	if err != nil {
		log.Warningf("reading header_page: %v; falling back to a 64-bit commit layout", err)
		t.header = tracefs.FallbackPageHeaderSpec(8)
	} else {
		spec, err := tracefs.ParsePageHeaderFormat(headerText)
		if err != nil {
			log.Warningf("parsing header_page: %v; falling back to a 64-bit commit layout", err)
			spec = tracefs.FallbackPageHeaderSpec(8)
		}
		t.header = spec
	}

	printkText, err := ctrl.ReadPrintkFormats()
	if err != nil {
		log.Warningf("reading printk_formats: %v; string pointers will resolve to empty strings", err)
		t.printk = NewPrintkTable(nil)
	} else {
		pt, err := ParsePrintkFormats(printkText)
		if err != nil {
			log.Warningf("parsing printk_formats: %v", err)
			pt = map[uint64]string{}
		}
		t.printk = NewPrintkTable(pt)
	}

	return t, nil
}

// HeaderSpec returns the page header layout for this instance.
func (t *Table) HeaderSpec() tracefs.PageHeaderSpec { return t.header }

// Printk returns the printk-formats resolver for this instance.
func (t *Table) Printk() *PrintkTable { return t.printk }

// ByKernelID looks up an already-resolved descriptor by runtime event id.
func (t *Table) ByKernelID(id uint16) (*EventDescriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.byKernelID[id]
	return d, ok
}

// ByGroupName looks up an already-resolved descriptor by group/name.
func (t *Table) ByGroupName(group, name string) (*EventDescriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.byGroupName[group+"/"+name]
	return d, ok
}

// GetOrCreate resolves (group, name) to an EventDescriptor, parsing
// events/<group>/<name>/format on first use, per spec.md §4.2 step 8 and
// §4.3. If disableGenericEvents is set and the event is not compile-time-known,
// an error is returned instead of creating a generic entry.
func (t *Table) GetOrCreate(group, name string, disableGenericEvents bool) (*EventDescriptor, error) {
	key := group + "/" + name
	t.mu.Lock()
	if d, ok := t.byGroupName[key]; ok {
		t.mu.Unlock()
		return d, nil
	}
	t.mu.Unlock()

	formatText, err := t.ctrl.ReadEventFormat(group, name)
	if err != nil {
		return nil, fmt.Errorf("reading format for %s/%s: %w", group, name, err)
	}
	raw, err := ParseEventFormat(formatText)
	if err != nil {
		return nil, fmt.Errorf("parsing format for %s/%s: %w", group, name, err)
	}

	spec, isStatic := staticEvents[key]
	var desc *EventDescriptor
	if isStatic {
		desc = buildStaticDescriptor(group, name, spec, raw)
	} else {
		if disableGenericEvents {
			return nil, fmt.Errorf("event %s/%s is not a compile-time-known event and disable_generic_events is set", group, name)
		}
		desc = t.buildGenericDescriptor(group, name, raw)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Another goroutine may have raced us (GetOrCreate is called
	// concurrently during startup via BuildForEvents); prefer the
	// already-installed entry so kernel ids stay stable.
	if existing, ok := t.byGroupName[key]; ok {
		return existing, nil
	}
	t.byGroupName[key] = desc
	t.byKernelID[desc.KernelID] = desc
	return desc, nil
}

func buildStaticDescriptor(group, name string, spec staticEventSpec, raw RawFormat) *EventDescriptor {
	wanted := map[string]bool{}
	for _, n := range spec.fieldNames {
		wanted[n] = true
	}

	var fields []FieldDescriptor
	var maxEnd uint64
	for _, cf := range raw.CommonFields {
		fd := BuildFieldDescriptor(cf)
		fields = append(fields, fd)
		if end := fd.Offset + fd.Size; end > maxEnd {
			maxEnd = end
		}
	}
	for _, rf := range raw.Fields {
		if !wanted[rf.Name] {
			continue
		}
		fd := BuildFieldDescriptor(rf)
		fields = append(fields, fd)
		if end := fd.Offset + fd.Size; end > maxEnd {
			maxEnd = end
		}
	}

	return &EventDescriptor{
		Group:        group,
		Name:         name,
		KernelID:     raw.ID,
		ProtoFieldID: spec.protoFieldID,
		Size:         maxEnd,
		Fields:       fields,
	}
}

func (t *Table) buildGenericDescriptor(group, name string, raw RawFormat) *EventDescriptor {
	protoID := t.nextGeneric
	t.mu.Lock()
	t.nextGeneric++
	t.mu.Unlock()

	var fields []FieldDescriptor
	var maxEnd uint64
	for _, rf := range append(append([]RawField{}, raw.CommonFields...), raw.Fields...) {
		fd := BuildFieldDescriptor(rf)
		fields = append(fields, fd)
		if end := fd.Offset + fd.Size; end > maxEnd {
			maxEnd = end
		}
	}

	return &EventDescriptor{
		Group:         group,
		Name:          name,
		KernelID:      raw.ID,
		ProtoFieldID:  protoID,
		Size:          maxEnd,
		Generic:       true,
		GenericFields: fields,
	}
}

// BuildForEvents resolves a batch of "group/name" selectors concurrently,
// fanning the (I/O-bound) format-file reads out across an errgroup, per
// SPEC_FULL §11's wiring of golang.org/x/sync/errgroup. This only ever runs
// at session-setup time, never from the steady-state read loop, so it does
// not conflict with the single-threaded cooperative scheduling model of
// spec.md §5.
func (t *Table) BuildForEvents(ctx context.Context, selectors []string, disableGenericEvents bool) error {
	g, _ := errgroup.WithContext(ctx)
	for _, sel := range selectors {
		sel := sel
		g.Go(func() error {
			parts := strings.SplitN(sel, "/", 2)
			if len(parts) != 2 {
				return fmt.Errorf("malformed event selector %q, want group/name", sel)
			}
			_, err := t.GetOrCreate(parts[0], parts[1], disableGenericEvents)
			return err
		})
	}
	return g.Wait()
}

// RegisterKprobe installs a translation-table entry for a dynamically
// created kprobe/kretprobe, per spec.md §4.2 step 7 and §4.3.
func (t *Table) RegisterKprobe(group, name string, kprobeType KprobeEventType) *EventDescriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := group + "/" + name
	if existing, ok := t.byGroupName[key]; ok {
		return existing
	}
	// Kprobe kernel ids are only known once the kernel assigns one via
	// kprobe_events/<name>/id; callers that already know the assigned id
	// should use RegisterKprobeWithID instead. This path is used when the
	// id is not yet known (e.g. a dry-run validation pass).
	desc := &EventDescriptor{
		Group:        group,
		Name:         name,
		ProtoFieldID: kprobeProtoFieldID,
		Kprobe:       true,
		KprobeType:   kprobeType,
	}
	t.byGroupName[key] = desc
	return desc
}

// RegisterKprobeWithID installs a translation-table entry for a kprobe once
// its kernel-assigned event id is known (read back from
// events/kprobes/<name>/id after CreateKprobe).
func (t *Table) RegisterKprobeWithID(group, name string, id uint16, kprobeType KprobeEventType) *EventDescriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	desc := &EventDescriptor{
		Group:        group,
		Name:         name,
		KernelID:     id,
		ProtoFieldID: kprobeProtoFieldID,
		Kprobe:       true,
		KprobeType:   kprobeType,
	}
	t.byGroupName[group+"/"+name] = desc
	t.byKernelID[id] = desc
	return desc
}

// RemoveDynamicEvent removes a kprobe's translation-table entry, per
// spec.md §4.2 step (removal) "remove the central translation-table
// entries for those kprobes".
func (t *Table) RemoveDynamicEvent(group, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := group + "/" + name
	if desc, ok := t.byGroupName[key]; ok {
		delete(t.byKernelID, desc.KernelID)
		delete(t.byGroupName, key)
	}
}
