package ftrace

import (
	"encoding/binary"
	"testing"
)

func TestDecodeEventFixedInt(t *testing.T) {
	desc := &EventDescriptor{
		Group: "sched",
		Name:  "sched_process_exit",
		Fields: []FieldDescriptor{
			{KernelName: "common_type", Offset: 0, Size: 2, Strategy: StrategyFixedInt},
			{KernelName: "pid", Offset: 2, Size: 4, Signed: true, Strategy: StrategyFixedInt},
			{KernelName: "prio", Offset: 6, Size: 4, Signed: false, Strategy: StrategyFixedInt},
		},
	}
	payload := make([]byte, 10)
	binary.LittleEndian.PutUint32(payload[2:6], uint32(int32(-7)))
	binary.LittleEndian.PutUint32(payload[6:10], 120)

	ev, errs := DecodeEvent(desc, payload, 0, 1000, binary.LittleEndian, nil)
	if len(errs) != 0 {
		t.Fatalf("DecodeEvent() errs = %v, want none", errs)
	}
	if _, ok := ev.Ints["common_type"]; ok {
		t.Errorf("common_type should be skipped, found in Ints")
	}
	if ev.Ints["pid"] != -7 {
		t.Errorf("pid = %d, want -7", ev.Ints["pid"])
	}
	if ev.Uints["prio"] != 120 {
		t.Errorf("prio = %d, want 120", ev.Uints["prio"])
	}
}

func TestDecodeEventFixedCString(t *testing.T) {
	desc := &EventDescriptor{
		Fields: []FieldDescriptor{
			{KernelName: "comm", Offset: 0, Size: 8, Strategy: StrategyFixedCString},
		},
	}
	payload := []byte("abc\x00\x00\x00\x00\x00")
	ev, errs := DecodeEvent(desc, payload, 0, 0, binary.LittleEndian, nil)
	if len(errs) != 0 {
		t.Fatalf("DecodeEvent() errs = %v", errs)
	}
	if ev.Strings["comm"] != "abc" {
		t.Errorf("comm = %q, want %q", ev.Strings["comm"], "abc")
	}
}

func TestDecodeEventDataLoc(t *testing.T) {
	desc := &EventDescriptor{
		Fields: []FieldDescriptor{
			{KernelName: "name", Offset: 0, Size: 4, Strategy: StrategyDataLoc},
		},
	}
	payload := make([]byte, 4+5)
	copy(payload[4:], "hello")
	// offset=4 (low 16 bits), length=5 (high 16 bits).
	binary.LittleEndian.PutUint32(payload[0:4], uint32(4)|uint32(5)<<16)

	ev, errs := DecodeEvent(desc, payload, 0, 0, binary.LittleEndian, nil)
	if len(errs) != 0 {
		t.Fatalf("DecodeEvent() errs = %v", errs)
	}
	if ev.Strings["name"] != "hello" {
		t.Errorf("name = %q, want %q", ev.Strings["name"], "hello")
	}
}

func TestDecodeEventDataLocOutOfBounds(t *testing.T) {
	desc := &EventDescriptor{
		Fields: []FieldDescriptor{
			{KernelName: "name", Offset: 0, Size: 4, Strategy: StrategyDataLoc},
		},
	}
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(100)|uint32(5)<<16)

	_, errs := DecodeEvent(desc, payload, 0, 0, binary.LittleEndian, nil)
	if len(errs) != 1 || errs[0].Code != AbiTruncatedField {
		t.Fatalf("DecodeEvent() errs = %v, want one AbiTruncatedField", errs)
	}
}

func TestDecodeEventStringPtr(t *testing.T) {
	desc := &EventDescriptor{
		Fields: []FieldDescriptor{
			{KernelName: "fmt", Offset: 0, Size: 8, Strategy: StrategyStringPtr},
		},
	}
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, 0xcafe)

	printk := NewPrintkTable(map[uint64]string{0xcafe: "hello %s"})

	ev, errs := DecodeEvent(desc, payload, 0, 0, binary.LittleEndian, printk)
	if len(errs) != 0 {
		t.Fatalf("DecodeEvent() errs = %v", errs)
	}
	if ev.Strings["fmt"] != "hello %s" {
		t.Errorf("fmt = %q, want %q", ev.Strings["fmt"], "hello %s")
	}
}

func TestDecodeEventDevID(t *testing.T) {
	desc := &EventDescriptor{
		Fields: []FieldDescriptor{
			{KernelName: "dev", Offset: 0, Size: 4, Strategy: StrategyDevID},
		},
	}
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, 0x00800001)

	ev, errs := DecodeEvent(desc, payload, 0, 0, binary.LittleEndian, nil)
	if len(errs) != 0 {
		t.Fatalf("DecodeEvent() errs = %v", errs)
	}
	if ev.Uints["dev"] != TranslateDevID(0x00800001) {
		t.Errorf("dev = %#x, want %#x", ev.Uints["dev"], TranslateDevID(0x00800001))
	}
}

func TestDecodeEventFixedArray(t *testing.T) {
	desc := &EventDescriptor{
		Fields: []FieldDescriptor{
			{KernelName: "args", Offset: 0, Size: 24, Signed: false, Strategy: StrategyFixedInt, NumElements: 3, ElementSize: 8},
		},
	}
	payload := make([]byte, 24)
	binary.LittleEndian.PutUint64(payload[0:8], 1)
	binary.LittleEndian.PutUint64(payload[8:16], 2)
	binary.LittleEndian.PutUint64(payload[16:24], 3)

	ev, errs := DecodeEvent(desc, payload, 0, 0, binary.LittleEndian, nil)
	if len(errs) != 0 {
		t.Fatalf("DecodeEvent() errs = %v", errs)
	}
	for i, want := range []uint64{1, 2, 3} {
		name := "args_" + itoa(uint64(i))
		if ev.Uints[name] != want {
			t.Errorf("%s = %d, want %d", name, ev.Uints[name], want)
		}
	}
}

func TestDecodeEventTruncatedField(t *testing.T) {
	desc := &EventDescriptor{
		Fields: []FieldDescriptor{
			{KernelName: "pid", Offset: 0, Size: 4, Strategy: StrategyFixedInt},
		},
	}
	_, errs := DecodeEvent(desc, []byte{1, 2}, 0, 0, binary.LittleEndian, nil)
	if len(errs) != 1 || errs[0].Code != AbiTruncatedField {
		t.Fatalf("DecodeEvent() errs = %v, want one AbiTruncatedField", errs)
	}
}
