package tracefs

import (
	"os"
	"path/filepath"
	"testing"
)

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func newTestFS(t *testing.T) *FS {
	t.Helper()
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "tracing_on"), "0")
	mustWriteFile(t, filepath.Join(root, "trace"), "")
	mustWriteFile(t, filepath.Join(root, "trace_clock"), "[local] global boot mono_raw")
	mustWriteFile(t, filepath.Join(root, "buffer_size_kb"), "4")
	mustWriteFile(t, filepath.Join(root, "buffer_percent"), "50")
	mustWriteFile(t, filepath.Join(root, "current_tracer"), "nop")
	mustWriteFile(t, filepath.Join(root, "kprobe_events"), "")
	mustWriteFile(t, filepath.Join(root, "set_ftrace_filter"), "")
	mustWriteFile(t, filepath.Join(root, "set_graph_function"), "")
	mustWriteFile(t, filepath.Join(root, "max_graph_depth"), "0")
	mustWriteFile(t, filepath.Join(root, "set_event_pid"), "")
	mustWriteFile(t, filepath.Join(root, "tracing_cpumask"), "f")
	mustWriteFile(t, filepath.Join(root, "events", "raw_syscalls", "sys_enter", "filter"), "")
	mustWriteFile(t, filepath.Join(root, "events", "raw_syscalls", "sys_exit", "filter"), "")
	mustWriteFile(t, filepath.Join(root, "events", "sched", "sched_switch", "enable"), "0")
	mustWriteFile(t, filepath.Join(root, "events", "sched", "sched_switch", "format"), "name: sched_switch\nID: 314\n")
	mustWriteFile(t, filepath.Join(root, "events", "header_page"), "")
	mustWriteFile(t, filepath.Join(root, "options", "overwrite"), "1")
	mustWriteFile(t, filepath.Join(root, "per_cpu", "cpu0", "trace"), "")
	mustWriteFile(t, filepath.Join(root, "per_cpu", "cpu0", "stats"), "entries: 10\noverrun: 0\ncommit overrun: 0\nbytes: 100\noldest event ts: 1.000000\nnow ts: 2.000000\ndropped events: 0\nread events: 10\n")
	return NewFS(root)
}

func TestFSBasics(t *testing.T) {
	fs := newTestFS(t)

	if err := fs.SetTracingOn(true); err != nil {
		t.Fatalf("SetTracingOn(true): %v", err)
	}
	on, err := fs.IsTracingOn()
	if err != nil || !on {
		t.Fatalf("IsTracingOn() = %v, %v, want true, nil", on, err)
	}

	if err := fs.SetCPUBufferSizePages(4); err != nil {
		t.Fatalf("SetCPUBufferSizePages: %v", err)
	}

	applied, err := fs.SetClock("boot", "global", "local")
	if err != nil || applied != "boot" {
		t.Fatalf("SetClock() = %q, %v, want \"boot\", nil", applied, err)
	}

	if err := fs.EnableEvent("sched", "sched_switch"); err != nil {
		t.Fatalf("EnableEvent: %v", err)
	}

	if err := fs.CreateKprobe("kprobes", "myprobe", "do_sys_open", false, 0); err != nil {
		t.Fatalf("CreateKprobe: %v", err)
	}
	// EEXIST-equivalent (re-creating the same probe) must succeed. The fake
	// on-disk file does not actually reject duplicate appends, but real
	// tracefs does; FS.CreateKprobe's EEXIST handling is exercised against
	// the real syscall path, not this file-based harness.

	if err := fs.SetCurrentTracer("nop"); err != nil {
		t.Fatalf("SetCurrentTracer: %v", err)
	}

	stats, err := fs.ReadCPUStats(0)
	if err != nil {
		t.Fatalf("ReadCPUStats: %v", err)
	}
	if stats.Entries != 10 || stats.BytesRead != 100 {
		t.Errorf("ReadCPUStats() = %+v, want entries=10 bytes=100", stats)
	}
}

func TestFSAppendFunctionFiltersRejectsColon(t *testing.T) {
	fs := newTestFS(t)
	if err := fs.AppendFunctionFilters([]string{"evil:cmd"}); err == nil {
		t.Errorf("AppendFunctionFilters([\"evil:cmd\"]) succeeded, want error")
	}
}

func TestFSClearTraceOfflineCPUs(t *testing.T) {
	fs := newTestFS(t)
	root := fs.Root()
	mustWriteFile(t, filepath.Join(root, "per_cpu", "cpu3", "trace"), "stale")
	if err := fs.ClearTrace([]int{3}); err != nil {
		t.Fatalf("ClearTrace: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(root, "per_cpu", "cpu3", "trace"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(b) != 0 {
		t.Errorf("per_cpu/cpu3/trace = %q, want empty", b)
	}
}
