package ftrace

import (
	"encoding/binary"
	"errors"
	"io"
	"syscall"

	log "github.com/golang/glog"

	"github.com/google/perfetto-ftrace/tracefs"
)

// pageSize is the tracefs ring buffer page size; every read from
// trace_pipe_raw is expected to be a multiple of it, matching the
// buffer_size_kb unit FS.SetCPUBufferSizePages writes in units of.
const pageSize = 4096

// Reader drains one CPU's trace_pipe_raw for one session, decoding pages
// into a Bundler and periodically flushing completed Bundles to a
// RecordSink. Grounded in overall shape on traceparser/tracereader.go's
// ParseTrace loop, but adapted from a one-shot "parse this whole captured
// trace file" pass into the incremental, non-blocking, cooperatively
// scheduled read documented in spec.md §5: ReadAvailable is called
// repeatedly by a single task-runner goroutine and never blocks waiting for
// data itself.
type Reader struct {
	ctrl  tracefs.Controller
	table *Table
	cfg   *DataSourceConfig
	cpu   int

	pipe   io.ReadCloser
	sink   RecordSink
	bundle *Bundler

	header  tracefs.PageHeaderSpec
	endian  binary.ByteOrder
	pageSeq uint64

	diagPending *SetupDiagnostics
	lastStats   tracefs.CPUStats
	haveStats   bool
	// flushedOverrun is the overrun count already reported by a previous
	// Flush.
	flushedOverrun uint64

	newFDSyscalls map[int]bool
}

// NewReader opens cpu's raw pipe and constructs a reader bound to cfg.
func NewReader(ctrl tracefs.Controller, table *Table, cfg *DataSourceConfig, cpu int, sink RecordSink) (*Reader, error) {
	pipe, err := ctrl.OpenPipeForCPU(cpu)
	if err != nil {
		return nil, err
	}
	return &Reader{
		ctrl:          ctrl,
		table:         table,
		cfg:           cfg,
		cpu:           cpu,
		pipe:          pipe,
		sink:          sink,
		bundle:        NewBundler(cfg.SessionID, cpu, table),
		header:        table.HeaderSpec(),
		endian:        ctrl.Endianness(),
		diagPending:   cfg.Diagnostics,
		newFDSyscalls: cfg.NewFDSyscallIDs,
	}, nil
}

// Close releases the underlying pipe.
func (r *Reader) Close() error { return r.pipe.Close() }

// ReadAvailable drains every currently-available whole page from the pipe
// without blocking, decoding each into the pending bundle. It returns the
// number of pages consumed; zero means the pipe had nothing to offer this
// tick (EAGAIN), which is the expected steady-state outcome between
// watermark crossings.
func (r *Reader) ReadAvailable() (int, error) {
	buf := make([]byte, pageSize)
	pages := 0
	for {
		n, err := io.ReadFull(r.pipe, buf)
		if n == pageSize {
			r.decodePage(buf)
			pages++
			continue
		}
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return pages, nil
		}
		if err != nil {
			return pages, err
		}
	}
}

func (r *Reader) decodePage(raw []byte) {
	r.pageSeq++
	page, abiErr := ParsePage(raw, r.header, r.endian, r.cpu, r.pageSeq)
	if abiErr != nil {
		r.bundle.RecordAbiError(*abiErr)
		return
	}
	if page.MissedEvents {
		r.bundle.RecordDropped(1)
	}

	walker := NewRecordWalker(page, r.endian, r.cpu, r.pageSeq)
	for {
		rec, abiErr, ok := walker.Next()
		if abiErr != nil {
			r.bundle.RecordAbiError(*abiErr)
		}
		if !ok {
			return
		}
		r.decodeRecord(rec)
	}
}

func (r *Reader) decodeRecord(rec *Record) {
	if len(rec.Payload) < 2 {
		r.bundle.RecordAbiError(newAbiError(AbiTruncatedField, r.cpu, r.pageSeq, "record payload shorter than a kernel event id"))
		return
	}
	kernelID := r.endian.Uint16(rec.Payload[:2])
	desc, ok := r.table.ByKernelID(kernelID)
	if !ok {
		r.bundle.RecordAbiError(newAbiError(AbiUnknownEventID, r.cpu, r.pageSeq, "no translation-table entry for this id"))
		return
	}
	if !r.cfg.EventFilter.Has(kernelID) {
		return
	}

	ev, errs := DecodeEvent(desc, rec.Payload, r.cpu, rec.Timestamp, r.endian, r.table.Printk())
	for _, e := range errs {
		r.bundle.RecordAbiError(e)
	}

	switch {
	case desc.Group == "sched" && desc.Name == "sched_switch" && r.cfg.CompactSchedEnabled:
		r.bundle.AddCompactSwitch(ev.Timestamp, int32(ev.Ints["next_pid"]), int32(ev.Ints["next_prio"]), ev.Ints["prev_state"], ev.Strings["next_comm"])
	case desc.Group == "sched" && desc.Name == "sched_waking" && r.cfg.CompactSchedEnabled:
		r.bundle.AddCompactWaking(ev.Timestamp, int32(ev.Ints["pid"]), int32(ev.Ints["target_cpu"]), int32(ev.Ints["prio"]), ev.Strings["comm"])
	case desc.Group == "ftrace" && desc.Name == "print":
		if r.cfg.PrintFilter != nil && !r.cfg.PrintFilter.Matches(ev.Strings["buf"]) {
			return
		}
		r.bundle.AddEvent(ev)
	case desc.Group == "raw_syscalls" && desc.Name == "sys_enter":
		if !r.syscallAllowed(ev.Ints["id"]) {
			return
		}
		r.bundle.AddEvent(ev)
	case desc.Group == "raw_syscalls" && desc.Name == "sys_exit":
		if !r.syscallAllowed(ev.Ints["id"]) {
			return
		}
		if r.newFDSyscalls[int(ev.Ints["id"])] && ev.Ints["ret"] >= 0 {
			ev.Uints["new_fd"] = uint64(ev.Ints["ret"])
		}
		r.bundle.AddEvent(ev)
	default:
		if desc.Kprobe {
			ev.Uints["kprobe_type"] = uint64(desc.KprobeType)
		}
		if r.cfg.SymbolizeKsyms {
			for name, addr := range ev.Uints {
				if isSymAddrField(desc, name) {
					ev.Uints[name] = uint64(r.bundle.InternSymbol(addr, ""))
				}
			}
		}
		r.bundle.AddEvent(ev)
	}
}

func (r *Reader) syscallAllowed(id int64) bool {
	if r.cfg.SyscallFilterAll {
		return true
	}
	return r.cfg.SyscallFilterIDs[int(id)]
}

func isSymAddrField(desc *EventDescriptor, name string) bool {
	fields := desc.Fields
	if desc.Generic {
		fields = desc.GenericFields
	}
	for _, fd := range fields {
		if fd.KernelName == name {
			return fd.Strategy == StrategySymAddr
		}
	}
	return false
}

// PollAndMaybeFlush reads this CPU's stats, records any newly-observed
// overrun, and reports whether the bundler has crossed a flush boundary
// (lost events or the symbol-interning watermark), per spec.md §4.4. A
// stats-read failure is logged and treated as "no new information" rather
// than fatal, since it never blocks the read path itself.
func (r *Reader) PollAndMaybeFlush() bool {
	stats, err := r.ctrl.ReadCPUStats(r.cpu)
	if err != nil {
		log.Warningf("cpu %d: reading stats: %v", r.cpu, err)
		return r.bundle.ShouldFlush()
	}
	if r.haveStats && stats.Overrun > r.lastStats.Overrun {
		r.bundle.RecordDropped(stats.Overrun - r.lastStats.Overrun)
	}
	r.lastStats, r.haveStats = stats, true
	return r.bundle.ShouldFlush()
}

// Flush publishes a Bundle to the sink and resets the pending accumulators.
func (r *Reader) Flush() {
	lost := uint64(0)
	if r.haveStats && r.lastStats.Overrun >= r.flushedOverrun {
		lost = r.lastStats.Overrun - r.flushedOverrun
		r.flushedOverrun = r.lastStats.Overrun
	}
	b := r.bundle.Flush(r.diagPending, lost)
	r.diagPending = nil
	r.sink.Publish(b)
}
