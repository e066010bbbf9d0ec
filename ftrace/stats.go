package ftrace

import "github.com/google/perfetto-ftrace/tracefs"

// StatsSnapshot bookends a session's per-CPU stats at two points in time
// (typically setup and teardown), per SPEC_FULL §12.1/§12.5: a frozen
// instance only gets one chance to read per_cpu/cpuN/stats before its
// tracefs directory disappears, so the values must be captured and carried
// alongside the final bundle rather than re-read on demand.
type StatsSnapshot struct {
	Before map[int]tracefs.CPUStats
	After  map[int]tracefs.CPUStats
}

// NewStatsSnapshot reads ctrl's per-CPU stats for the given cpus into the
// Before half of a snapshot.
func NewStatsSnapshot(ctrl tracefs.Controller, cpus []int) *StatsSnapshot {
	s := &StatsSnapshot{Before: map[int]tracefs.CPUStats{}}
	for _, cpu := range cpus {
		if st, err := ctrl.ReadCPUStats(cpu); err == nil {
			s.Before[cpu] = st
		}
	}
	return s
}

// Close reads the After half.
func (s *StatsSnapshot) Close(ctrl tracefs.Controller, cpus []int) {
	s.After = map[int]tracefs.CPUStats{}
	for _, cpu := range cpus {
		if st, err := ctrl.ReadCPUStats(cpu); err == nil {
			s.After[cpu] = st
		}
	}
}

// OverrunDelta returns After.Overrun - Before.Overrun for cpu, or 0 if
// either half is missing.
func (s *StatsSnapshot) OverrunDelta(cpu int) uint64 {
	before, ok1 := s.Before[cpu]
	after, ok2 := s.After[cpu]
	if !ok1 || !ok2 || after.Overrun < before.Overrun {
		return 0
	}
	return after.Overrun - before.Overrun
}
