package ftrace

import "sync"

// internWatermark bounds how many newly-interned kernel symbols accumulate
// before a bundle is flushed early, independent of the read cycle's regular
// cadence, per spec.md §4.4's "interner-watermark-triggered bundle
// boundaries". Keeps a single bundle from growing unbounded when a session
// first turns on symbolization against a large, symbol-dense stack trace
// source.
const internWatermark = 4096

// Bundler accumulates decoded events for one (session, CPU) pair between
// flushes, and owns the kernel-symbol interning table for that pair, which
// persists across flushes (its indices must never be reused, so it cannot
// simply be reset per bundle). It also reads and sets each generic event's
// "descriptor already emitted" bit, which lives on the shared
// EventDescriptor rather than on the Bundler.
//
// Has no direct analog in the teacher (a single-shot `TraceParser` that
// decodes a whole trace file in one pass has no notion of bundling);
// grounded in style on the same map+monotonic-counter shape the teacher
// uses for its own incrementally-growing translation table.
type Bundler struct {
	sessionID uint64
	cpu       int
	table     *Table

	mu sync.Mutex

	events  []Event
	compact *CompactSchedBatch

	internedIndex   map[uint64]uint32
	nextInternIndex uint32
	newSymbols      []InternedKernelSymbol

	newDescriptors []GenericEventDescriptor

	abiErrors []AbiError
	dropped   uint64
}

// NewBundler constructs a bundler for one (sessionID, cpu) pair.
func NewBundler(sessionID uint64, cpu int, table *Table) *Bundler {
	return &Bundler{
		sessionID:     sessionID,
		cpu:           cpu,
		table:         table,
		internedIndex: map[uint64]uint32{},
	}
}

// AddEvent appends a fully-decoded event to the pending bundle.
func (b *Bundler) AddEvent(ev *DecodedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.Descriptor.Generic && !ev.Descriptor.DescriptorEmitted {
		ev.Descriptor.DescriptorEmitted = true
		b.newDescriptors = append(b.newDescriptors, GenericEventDescriptor{
			ProtoFieldID: ev.Descriptor.ProtoFieldID,
			Group:        ev.Descriptor.Group,
			Name:         ev.Descriptor.Name,
			Fields:       ev.Descriptor.GenericFields,
		})
	}

	b.events = append(b.events, Event{
		Timestamp:    ev.Timestamp,
		ProtoFieldID: ev.Descriptor.ProtoFieldID,
		Name:         ev.Descriptor.Group + "/" + ev.Descriptor.Name,
		Ints:         ev.Ints,
		Uints:        ev.Uints,
		Strings:      ev.Strings,
	})
}

func (b *Bundler) ensureCompact() *CompactSchedBatch {
	if b.compact == nil {
		b.compact = &CompactSchedBatch{}
	}
	return b.compact
}

// AddCompactSwitch appends one sched_switch occurrence to the columnar
// batch, per spec.md §4.4's compact-sched encoding.
func (b *Bundler) AddCompactSwitch(ts uint64, nextPid, nextPrio int32, prevState int64, nextComm string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.ensureCompact()
	c.SwitchTimestamp = append(c.SwitchTimestamp, ts)
	c.SwitchNextPid = append(c.SwitchNextPid, nextPid)
	c.SwitchNextPrio = append(c.SwitchNextPrio, nextPrio)
	c.SwitchPrevState = append(c.SwitchPrevState, prevState)
	c.SwitchNextCommIndex = append(c.SwitchNextCommIndex, b.internString(c, nextComm))
}

// AddCompactWaking appends one sched_waking occurrence to the columnar
// batch.
func (b *Bundler) AddCompactWaking(ts uint64, pid, targetCPU, prio int32, comm string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.ensureCompact()
	c.WakingTimestamp = append(c.WakingTimestamp, ts)
	c.WakingPid = append(c.WakingPid, pid)
	c.WakingTargetCPU = append(c.WakingTargetCPU, targetCPU)
	c.WakingPrio = append(c.WakingPrio, prio)
	c.WakingCommIndex = append(c.WakingCommIndex, b.internString(c, comm))
}

// internString interns a string into this bundle's (not the kernel-symbol
// table's) string pool, used for the compact-sched comm column.
// Unlike InternSymbol, this pool resets every flush: comm strings repeat so
// often within one bundle that per-bundle interning is worth it, but
// nothing downstream needs their indices to stay stable across bundles.
func (b *Bundler) internString(c *CompactSchedBatch, s string) uint32 {
	for i, existing := range c.InternedStrings {
		if existing == s {
			return uint32(i)
		}
	}
	c.InternedStrings = append(c.InternedStrings, s)
	return uint32(len(c.InternedStrings) - 1)
}

// InternSymbol resolves addr to an index that stays stable for the life of
// this Bundler, assigning a new one (and recording it for this bundle's
// NewInternedSymbols) the first time addr is seen, per spec.md §4.4. Each
// CPU's Bundler numbers its symbols independently; the table is not shared
// across CPUs.
func (b *Bundler) InternSymbol(addr uint64, name string) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.internedIndex[addr]; ok {
		return idx
	}
	idx := b.nextInternIndex
	b.nextInternIndex++
	b.internedIndex[addr] = idx
	b.newSymbols = append(b.newSymbols, InternedKernelSymbol{Index: idx, Addr: addr, Name: name})
	return idx
}

// RecordAbiError appends a decode-time ABI violation to be surfaced in the
// next flushed bundle, per spec.md §4.4's "errors as data" model.
func (b *Bundler) RecordAbiError(e AbiError) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.abiErrors = append(b.abiErrors, e)
}

// RecordDropped adds to the running lost-event count for this bundle.
func (b *Bundler) RecordDropped(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropped += n
}

// ShouldFlush reports whether accumulated state has crossed a boundary that
// warrants flushing before the reader's regular per-cycle flush, per
// spec.md §4.4.
func (b *Bundler) ShouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.newSymbols) >= internWatermark || b.dropped > 0
}

// Flush builds a Bundle from everything accumulated since the last Flush
// and resets the per-bundle accumulators. diag is attached as given; Reader
// passes the session's diagnostics on its own first flush and nil after
// that. lostSinceLast is the CPUStats-derived overrun count since the
// previous bundle.
func (b *Bundler) Flush(diag *SetupDiagnostics, lostSinceLast uint64) *Bundle {
	b.mu.Lock()
	defer b.mu.Unlock()

	bundle := &Bundle{
		SessionID:                 b.sessionID,
		CPU:                       b.cpu,
		Events:                    b.events,
		CompactSched:              b.compact,
		NewGenericDescriptors:     b.newDescriptors,
		NewInternedSymbols:        b.newSymbols,
		DroppedEvents:             b.dropped,
		AbiErrors:                 b.abiErrors,
		Diagnostics:               diag,
		LostEventsSinceLastBundle: lostSinceLast,
	}

	b.events = nil
	b.compact = nil
	b.newSymbols = nil
	b.newDescriptors = nil
	b.abiErrors = nil
	b.dropped = 0

	return bundle
}
