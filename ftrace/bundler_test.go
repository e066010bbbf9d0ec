package ftrace

import "testing"

func fixedIntDescriptor(group, name string) *EventDescriptor {
	return &EventDescriptor{Group: group, Name: name, ProtoFieldID: 1}
}

func genericDescriptor(group, name string) *EventDescriptor {
	return &EventDescriptor{
		Group:        group,
		Name:         name,
		ProtoFieldID: firstGenericProtoFieldID,
		Generic:      true,
		GenericFields: []FieldDescriptor{
			{KernelName: "arg0", Strategy: StrategyFixedInt},
		},
	}
}

func TestBundlerAddEventAndFlush(t *testing.T) {
	b := NewBundler(1, 0, nil)
	desc := fixedIntDescriptor("sched", "sched_process_exit")
	b.AddEvent(&DecodedEvent{Descriptor: desc, Timestamp: 42, Ints: map[string]int64{"pid": 7}, Uints: map[string]uint64{}, Strings: map[string]string{}})

	bundle := b.Flush(nil, 0)
	if len(bundle.Events) != 1 {
		t.Fatalf("len(Events) = %d, want 1", len(bundle.Events))
	}
	if bundle.Events[0].Name != "sched/sched_process_exit" {
		t.Errorf("Events[0].Name = %q, want sched/sched_process_exit", bundle.Events[0].Name)
	}

	// A second flush with nothing added should return an empty bundle.
	empty := b.Flush(nil, 0)
	if len(empty.Events) != 0 {
		t.Errorf("len(Events) on empty flush = %d, want 0", len(empty.Events))
	}
}

func TestBundlerGenericDescriptorEmittedOnce(t *testing.T) {
	b := NewBundler(1, 0, nil)
	desc := genericDescriptor("vendor", "my_event")

	b.AddEvent(&DecodedEvent{Descriptor: desc, Timestamp: 1})
	b.AddEvent(&DecodedEvent{Descriptor: desc, Timestamp: 2})

	bundle := b.Flush(nil, 0)
	if len(bundle.NewGenericDescriptors) != 1 {
		t.Fatalf("len(NewGenericDescriptors) = %d, want 1", len(bundle.NewGenericDescriptors))
	}
	if len(bundle.Events) != 2 {
		t.Errorf("len(Events) = %d, want 2", len(bundle.Events))
	}

	// A later flush after the descriptor bit is already set must not
	// re-emit it, even for a brand new bundler instance sharing the
	// descriptor (session-lifetime state lives on the EventDescriptor).
	b2 := NewBundler(1, 1, nil)
	b2.AddEvent(&DecodedEvent{Descriptor: desc, Timestamp: 3})
	bundle2 := b2.Flush(nil, 0)
	if len(bundle2.NewGenericDescriptors) != 0 {
		t.Errorf("len(NewGenericDescriptors) = %d, want 0 once already emitted", len(bundle2.NewGenericDescriptors))
	}
}

func TestBundlerCompactSchedInterning(t *testing.T) {
	b := NewBundler(1, 0, nil)
	b.AddCompactSwitch(100, 5, 10, 0, "task_a")
	b.AddCompactSwitch(200, 6, 10, 0, "task_a")
	b.AddCompactWaking(150, 5, 0, 10, "task_a")

	bundle := b.Flush(nil, 0)
	cs := bundle.CompactSched
	if cs == nil {
		t.Fatal("CompactSched = nil")
	}
	if len(cs.InternedStrings) != 1 {
		t.Fatalf("len(InternedStrings) = %d, want 1 (repeated comm reuses the index)", len(cs.InternedStrings))
	}
	if cs.SwitchNextCommIndex[0] != cs.SwitchNextCommIndex[1] {
		t.Errorf("SwitchNextCommIndex entries differ for the same comm string")
	}
	if cs.WakingCommIndex[0] != cs.SwitchNextCommIndex[0] {
		t.Errorf("WakingCommIndex = %d, want to reuse the switch comm index %d", cs.WakingCommIndex[0], cs.SwitchNextCommIndex[0])
	}
}

func TestBundlerSymbolInterningPersistsAcrossFlushes(t *testing.T) {
	b := NewBundler(1, 0, nil)
	idx1 := b.InternSymbol(0xdead, "foo")
	idx1Again := b.InternSymbol(0xdead, "foo")
	if idx1 != idx1Again {
		t.Errorf("InternSymbol() reassigned an index for an already-seen address: %d != %d", idx1, idx1Again)
	}

	bundle := b.Flush(nil, 0)
	if len(bundle.NewInternedSymbols) != 1 {
		t.Fatalf("len(NewInternedSymbols) = %d, want 1", len(bundle.NewInternedSymbols))
	}

	// After a flush, a previously-seen address must still resolve to its
	// original index and must not be reported as newly interned again.
	idx2 := b.InternSymbol(0xdead, "foo")
	if idx2 != idx1 {
		t.Errorf("InternSymbol() after flush = %d, want stable index %d", idx2, idx1)
	}
	bundle2 := b.Flush(nil, 0)
	if len(bundle2.NewInternedSymbols) != 0 {
		t.Errorf("len(NewInternedSymbols) on repeat = %d, want 0", len(bundle2.NewInternedSymbols))
	}

	idx3 := b.InternSymbol(0xbeef, "bar")
	if idx3 == idx1 {
		t.Errorf("InternSymbol() assigned a reused index %d to a new address", idx3)
	}
}

func TestBundlerShouldFlushOnDrop(t *testing.T) {
	b := NewBundler(1, 0, nil)
	if b.ShouldFlush() {
		t.Fatalf("ShouldFlush() = true before any drops or watermark symbols")
	}
	b.RecordDropped(1)
	if !b.ShouldFlush() {
		t.Errorf("ShouldFlush() = false after RecordDropped, want true")
	}
}

func TestBundlerShouldFlushOnWatermark(t *testing.T) {
	b := NewBundler(1, 0, nil)
	for i := 0; i < internWatermark; i++ {
		b.InternSymbol(uint64(i), "")
	}
	if !b.ShouldFlush() {
		t.Errorf("ShouldFlush() = false at the intern watermark, want true")
	}
}

func TestBundlerRecordAbiError(t *testing.T) {
	b := NewBundler(1, 0, nil)
	e := newAbiError(AbiShortRead, 0, 1, "test")
	b.RecordAbiError(e)
	bundle := b.Flush(nil, 0)
	if len(bundle.AbiErrors) != 1 {
		t.Fatalf("len(AbiErrors) = %d, want 1", len(bundle.AbiErrors))
	}
	if bundle.AbiErrors[0].Code != AbiShortRead {
		t.Errorf("AbiErrors[0].Code = %v, want AbiShortRead", bundle.AbiErrors[0].Code)
	}
}
