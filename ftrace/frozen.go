package ftrace

import (
	"fmt"

	"github.com/google/perfetto-ftrace/tracefs"
)

// FrozenInstance replays a tracefs instance that has already stopped
// tracing (tracing_on was set false, and no further writer will append to
// any per_cpu/cpuN/trace_pipe_raw), per SPEC_FULL §12.5. Unlike Reader's
// steady-state ReadAvailable/PollAndMaybeFlush cycle, a frozen instance's data is
// static: there is no "came back empty, try again next tick" case to
// cooperate around, so Drain reads each CPU to completion in one pass.
type FrozenInstance struct {
	ctrl  tracefs.Controller
	table *Table
	cfg   *DataSourceConfig
	cpus  []int

	stats *StatsSnapshot
}

// NewFrozenInstance captures the Before stats half immediately; callers
// should construct this right after confirming tracing_on is false, before
// the instance (if it is a cloned instances/<name>/ directory) is removed.
func NewFrozenInstance(ctrl tracefs.Controller, table *Table, cfg *DataSourceConfig, cpus []int) *FrozenInstance {
	return &FrozenInstance{
		ctrl:  ctrl,
		table: table,
		cfg:   cfg,
		cpus:  cpus,
		stats: NewStatsSnapshot(ctrl, cpus),
	}
}

// Drain reads every CPU's full, static trace_pipe_raw contents and returns
// one finalized Bundle per CPU. The After stats half is captured once all
// CPUs have been read.
func (f *FrozenInstance) Drain() ([]*Bundle, error) {
	var readers []*Reader
	for _, cpu := range f.cpus {
		r, err := NewReader(f.ctrl, f.table, f.cfg, cpu, nil)
		if err != nil {
			return nil, fmt.Errorf("opening frozen pipe for cpu %d: %w", cpu, err)
		}
		for {
			n, err := r.ReadAvailable()
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("reading frozen pipe for cpu %d: %w", cpu, err)
			}
			if n == 0 {
				break
			}
		}
		r.Close()
		readers = append(readers, r)
	}
	f.stats.Close(f.ctrl, f.cpus)
	var bundles []*Bundle
	for _, r := range readers {
		bundles = append(bundles, r.bundle.Flush(f.cfg.Diagnostics, f.stats.OverrunDelta(r.cpu)))
	}
	return bundles, nil
}
