package ftrace

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/perfetto-ftrace/tracefs"
)

var header64 = tracefs.PageHeaderSpec{TimestampOffset: 0, CommitOffset: 8, CommitSize: 8, DataOffset: 16}

// buildPage assembles a raw page buffer with the given base timestamp,
// commit size (data bytes following the header), and record bytes.
func buildPage(ts uint64, missed bool, records []byte) []byte {
	buf := make([]byte, 16+len(records))
	binary.LittleEndian.PutUint64(buf[0:8], ts)
	commit := uint64(len(records)) & pageCommitMask
	if missed {
		commit |= 1 << 31
	}
	binary.LittleEndian.PutUint64(buf[8:16], commit)
	copy(buf[16:], records)
	return buf
}

// recordHeader packs a type_len:5/time_delta:27 bitfield.
func recordHeader(typeLen uint8, delta uint32) []byte {
	v := uint32(typeLen) | (delta << 5)
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func TestParsePage(t *testing.T) {
	records := append(recordHeader(2, 5), []byte{0xAA, 0xBB, 0xCC, 0xDD}...)
	raw := buildPage(1000, true, records)

	page, abiErr := ParsePage(raw, header64, binary.LittleEndian, 0, 1)
	if abiErr != nil {
		t.Fatalf("ParsePage() error = %v", abiErr)
	}
	if page.BaseTimestamp != 1000 {
		t.Errorf("BaseTimestamp = %d, want 1000", page.BaseTimestamp)
	}
	if !page.MissedEvents {
		t.Errorf("MissedEvents = false, want true")
	}
	if diff := cmp.Diff(records, page.Data); diff != "" {
		t.Errorf("Data diff (-want +got):\n%s", diff)
	}
}

func TestParsePageErrors(t *testing.T) {
	tests := []struct {
		description string
		raw         []byte
		wantCode    AbiErrorCode
	}{
		{
			description: "too short for header",
			raw:         make([]byte, 8),
			wantCode:    AbiPageTooShort,
		},
		{
			description: "commit exceeds page length",
			raw: func() []byte {
				b := buildPage(0, false, nil)
				binary.LittleEndian.PutUint64(b[8:16], 999999)
				return b
			}(),
			wantCode: AbiInvalidPageHeader,
		},
	}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			_, abiErr := ParsePage(test.raw, header64, binary.LittleEndian, 0, 1)
			if abiErr == nil {
				t.Fatalf("ParsePage() error = nil, want code %v", test.wantCode)
			}
			if abiErr.Code != test.wantCode {
				t.Errorf("ParsePage() code = %v, want %v", abiErr.Code, test.wantCode)
			}
		})
	}
}

func TestRecordWalkerDataRecords(t *testing.T) {
	rec1 := append(recordHeader(1, 5), []byte{1, 2, 3, 4}...)
	rec2 := append(recordHeader(1, 3), []byte{5, 6, 7, 8}...)
	raw := buildPage(1000, false, append(rec1, rec2...))

	page, abiErr := ParsePage(raw, header64, binary.LittleEndian, 0, 1)
	if abiErr != nil {
		t.Fatalf("ParsePage() error = %v", abiErr)
	}
	w := NewRecordWalker(page, binary.LittleEndian, 0, 1)

	r1, abiErr, ok := w.Next()
	if abiErr != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", r1, abiErr, ok)
	}
	if r1.Timestamp != 1005 {
		t.Errorf("record 1 timestamp = %d, want 1005", r1.Timestamp)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, r1.Payload); diff != "" {
		t.Errorf("record 1 payload diff (-want +got):\n%s", diff)
	}

	r2, abiErr, ok := w.Next()
	if abiErr != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", r2, abiErr, ok)
	}
	if r2.Timestamp != 1008 {
		t.Errorf("record 2 timestamp = %d, want 1008", r2.Timestamp)
	}

	_, abiErr, ok = w.Next()
	if abiErr != nil || ok {
		t.Errorf("Next() at end of page = %v, %v, want (nil, false)", abiErr, ok)
	}
}

func TestRecordWalkerTimeExtend(t *testing.T) {
	// A time-extend record adds (top<<27 | delta) to the running timestamp
	// before the next data record is read.
	extend := append(recordHeader(uint8(recordTypeTimeExtend), 3), []byte{0, 0, 0, 0}...)
	data := append(recordHeader(1, 2), []byte{9, 9, 9, 9}...)
	raw := buildPage(100, false, append(extend, data...))

	page, abiErr := ParsePage(raw, header64, binary.LittleEndian, 0, 1)
	if abiErr != nil {
		t.Fatalf("ParsePage() error = %v", abiErr)
	}
	w := NewRecordWalker(page, binary.LittleEndian, 0, 1)
	r, abiErr, ok := w.Next()
	if abiErr != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", r, abiErr, ok)
	}
	// 100 + (0<<27 | 3) + 2 = 105
	if r.Timestamp != 105 {
		t.Errorf("timestamp after time-extend = %d, want 105", r.Timestamp)
	}
}

func TestRecordWalkerRestOfPagePadding(t *testing.T) {
	data := append(recordHeader(1, 2), []byte{1, 1, 1, 1}...)
	padding := recordHeader(uint8(recordTypePadding), 0)
	raw := buildPage(0, false, append(data, padding...))

	page, abiErr := ParsePage(raw, header64, binary.LittleEndian, 0, 1)
	if abiErr != nil {
		t.Fatalf("ParsePage() error = %v", abiErr)
	}
	w := NewRecordWalker(page, binary.LittleEndian, 0, 1)
	_, abiErr, ok := w.Next()
	if abiErr != nil || !ok {
		t.Fatalf("Next() first record = %v, %v, %v", abiErr, ok, ok)
	}
	_, abiErr, ok = w.Next()
	if abiErr != nil || ok {
		t.Errorf("Next() after rest-of-page padding = %v, %v, want (nil, false)", abiErr, ok)
	}
}

func TestRecordWalkerTruncatedHeader(t *testing.T) {
	raw := buildPage(0, false, []byte{1, 2, 3})
	page, abiErr := ParsePage(raw, header64, binary.LittleEndian, 0, 1)
	if abiErr != nil {
		t.Fatalf("ParsePage() error = %v", abiErr)
	}
	w := NewRecordWalker(page, binary.LittleEndian, 0, 1)
	_, abiErr, ok := w.Next()
	if ok || abiErr == nil {
		t.Fatalf("Next() = _, %v, %v, want an AbiError and ok=false", abiErr, ok)
	}
	if abiErr.Code != AbiInvalidRecordHeader {
		t.Errorf("code = %v, want AbiInvalidRecordHeader", abiErr.Code)
	}
}
