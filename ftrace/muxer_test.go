package ftrace

import (
	"context"
	"testing"

	"github.com/google/perfetto-ftrace/tracefs"
)

const headerPageFormat = `
Header:
	field: u64 timestamp;	offset:0;	size:8;	signed:0;
	field: local_t commit;	offset:8;	size:8;	signed:1;
	field: char data;	offset:16;	size:4080;	signed:1;
`

func schedSwitchFormat(id int) string {
	return `name: sched_switch
ID: ` + itoaInt(id) + `
format:
	field:unsigned short common_type;	offset:0;	size:2;	signed:0;
	field:unsigned char common_flags;	offset:2;	size:1;	signed:0;
	field:unsigned char common_preempt_count;	offset:3;	size:1;	signed:0;
	field:int common_pid;	offset:4;	size:4;	signed:1;

	field:char prev_comm[16];	offset:8;	size:16;	signed:1;
	field:pid_t prev_pid;	offset:24;	size:4;	signed:1;
	field:int prev_prio;	offset:28;	size:4;	signed:1;
	field:long prev_state;	offset:32;	size:8;	signed:1;
	field:char next_comm[16];	offset:40;	size:16;	signed:1;
	field:pid_t next_pid;	offset:56;	size:4;	signed:1;
	field:int next_prio;	offset:60;	size:4;	signed:1;
`
}

func schedWakingFormat(id int) string {
	return `name: sched_waking
ID: ` + itoaInt(id) + `
format:
	field:unsigned short common_type;	offset:0;	size:2;	signed:0;
	field:unsigned char common_flags;	offset:2;	size:1;	signed:0;
	field:unsigned char common_preempt_count;	offset:3;	size:1;	signed:0;
	field:int common_pid;	offset:4;	size:4;	signed:1;

	field:char comm[16];	offset:8;	size:16;	signed:1;
	field:pid_t pid;	offset:24;	size:4;	signed:1;
	field:int prio;	offset:28;	size:4;	signed:1;
	field:int target_cpu;	offset:32;	size:4;	signed:1;
`
}

func itoaInt(n int) string { return itoa(uint64(n)) }

func newTestMuxer(t *testing.T) (*ConfigMuxer, *tracefs.Fake) {
	t.Helper()
	fake := tracefs.NewFake("/fake/tracing/")
	fake.SetHeaderFormat(headerPageFormat)
	fake.SetEventFormat("sched", "sched_switch", schedSwitchFormat(1))
	fake.SetEventFormat("sched", "sched_waking", schedWakingFormat(2))

	table, err := NewTable(fake)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	atrace := NewAtraceUnion(NewExecAtraceRunner(""))
	return NewConfigMuxer(fake, table, atrace, nil), fake
}

func TestConfigMuxerSetupActivateRemoveSingleSession(t *testing.T) {
	m, fake := newTestMuxer(t)
	ctx := context.Background()

	cfg := &Config{Events: []string{"sched/sched_switch", "sched/sched_waking"}, CompactSched: true}
	out, err := m.SetupConfig(ctx, 1, cfg)
	if err != nil {
		t.Fatalf("SetupConfig() error = %v", err)
	}
	if !out.Diagnostics.Empty() {
		t.Errorf("Diagnostics = %+v, want empty", out.Diagnostics)
	}
	if !out.CompactSchedValid || !out.CompactSchedEnabled {
		t.Errorf("CompactSchedValid/Enabled = %v/%v, want true/true", out.CompactSchedValid, out.CompactSchedEnabled)
	}
	if on, _ := fake.IsTracingOn(); on {
		t.Errorf("tracing_on = true after Setup, want false before Activate")
	}

	if err := m.ActivateConfig(1); err != nil {
		t.Fatalf("ActivateConfig() error = %v", err)
	}
	if on, _ := fake.IsTracingOn(); !on {
		t.Errorf("tracing_on = false after Activate, want true")
	}

	if err := m.RemoveConfig(ctx, 1); err != nil {
		t.Fatalf("RemoveConfig() error = %v", err)
	}
	if on, _ := fake.IsTracingOn(); on {
		t.Errorf("tracing_on = true after the last session was removed, want false")
	}
	events := fake.EnabledEvents()
	if len(events) != 0 {
		t.Errorf("EnabledEvents() = %v, want none left enabled", events)
	}
}

func TestConfigMuxerSharedEventRefcounting(t *testing.T) {
	m, fake := newTestMuxer(t)
	ctx := context.Background()

	if _, err := m.SetupConfig(ctx, 1, &Config{Events: []string{"sched/sched_switch"}}); err != nil {
		t.Fatalf("SetupConfig(1) error = %v", err)
	}
	if _, err := m.SetupConfig(ctx, 2, &Config{Events: []string{"sched/sched_switch"}}); err != nil {
		t.Fatalf("SetupConfig(2) error = %v", err)
	}
	if err := m.ActivateConfig(1); err != nil {
		t.Fatalf("ActivateConfig(1) error = %v", err)
	}
	if err := m.ActivateConfig(2); err != nil {
		t.Fatalf("ActivateConfig(2) error = %v", err)
	}

	if err := m.RemoveConfig(ctx, 1); err != nil {
		t.Fatalf("RemoveConfig(1) error = %v", err)
	}
	// Session 2 still references sched_switch, and is still active: the
	// event must stay enabled and tracing must stay on.
	if enabled := fake.EnabledEvents(); len(enabled) != 1 {
		t.Errorf("EnabledEvents() after removing session 1 = %v, want sched_switch still enabled", enabled)
	}
	if on, _ := fake.IsTracingOn(); !on {
		t.Errorf("tracing_on = false with session 2 still active, want true")
	}

	if err := m.RemoveConfig(ctx, 2); err != nil {
		t.Fatalf("RemoveConfig(2) error = %v", err)
	}
	if enabled := fake.EnabledEvents(); len(enabled) != 0 {
		t.Errorf("EnabledEvents() after removing both sessions = %v, want none", enabled)
	}
	if on, _ := fake.IsTracingOn(); on {
		t.Errorf("tracing_on = true after removing the last active session, want false")
	}
}

func TestConfigMuxerUnknownEventIsDiagnosedNotFatal(t *testing.T) {
	m, _ := newTestMuxer(t)
	ctx := context.Background()

	out, err := m.SetupConfig(ctx, 1, &Config{Events: []string{"sched/sched_switch", "bogus/no_such_event"}})
	if err != nil {
		t.Fatalf("SetupConfig() error = %v, want nil (unknown events are diagnostics, not fatal)", err)
	}
	if len(out.Diagnostics.UnknownOrInaccessibleEvents) != 1 {
		t.Fatalf("UnknownOrInaccessibleEvents = %v, want exactly one entry", out.Diagnostics.UnknownOrInaccessibleEvents)
	}
}

func TestConfigMuxerDuplicateSetupRejected(t *testing.T) {
	m, _ := newTestMuxer(t)
	ctx := context.Background()
	if _, err := m.SetupConfig(ctx, 1, &Config{Events: []string{"sched/sched_switch"}}); err != nil {
		t.Fatalf("SetupConfig() error = %v", err)
	}
	if _, err := m.SetupConfig(ctx, 1, &Config{Events: []string{"sched/sched_switch"}}); err == nil {
		t.Errorf("SetupConfig() on an already-configured session id = nil error, want error")
	}
}
