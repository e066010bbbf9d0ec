package ftrace

import (
	"encoding/binary"

	"github.com/google/perfetto-ftrace/tracefs"
)

// recordType enumerates a ring buffer record header's type_len dispatch, per
// spec.md §4.4 ("type_len:5, time_delta:27"): 0..28 is a data record (0
// meaning the length is out-of-band, in the record's first four bytes), 29
// is padding, 30 extends the running time delta, 31 sets an absolute
// timestamp.
//
// Grounded on traceparser/ringbuffer.go's ringBufferType enum and
// ringBufferEvent.Length, generalized here into an explicit walker that
// records ABI violations instead of returning them as fatal errors (per
// spec.md §4.4's "errors as data" framing) and that does not require a
// buffered io.Reader (the reader already has the whole page in memory).
type recordType uint8

const (
	recordTypeDataMax recordType = 28
	recordTypePadding recordType = 29
	recordTypeTimeExtend recordType = 30
	recordTypeTimeStamp  recordType = 31
)

const (
	recordHeaderSize  = 4
	timeDeltaBits     = 27
	typeLenMask       = (1 << 5) - 1
)

// pageCommitMask keeps only the size portion of a commit field; bit 31
// carries the missed-events/overflow indicator, per spec.md §4.4.2
// ("size = commit & ((1<<27)-1)") and original_source's cpu_reader.cc
// kDataSizeMask, generalized from traceparser/ringbuffer.go's
// ringBufferPageHeader.Size to the full 27-bit width.
const pageCommitMask = (1 << 27) - 1

// Page is one parsed tracefs ring buffer page: the portion of raw page
// bytes tracing actually committed, with the page header already consumed.
type Page struct {
	BaseTimestamp uint64
	MissedEvents  bool
	Data          []byte
}

// ParsePage decodes a raw page buffer (exactly one page_size-worth of bytes,
// as read from trace_pipe_raw) using header to locate the timestamp/commit
// fields. A malformed header yields a nil Page and a non-nil AbiError; the
// caller should skip the page and continue with the next one, per spec.md
// §4.4.
func ParsePage(raw []byte, header tracefs.PageHeaderSpec, endian binary.ByteOrder, cpu int, pageSeq uint64) (*Page, *AbiError) {
	if uint64(len(raw)) < header.DataOffset {
		e := newAbiError(AbiPageTooShort, cpu, pageSeq, "page shorter than header.DataOffset")
		return nil, &e
	}

	ts := endian.Uint64(raw[header.TimestampOffset : header.TimestampOffset+8])

	var commit uint64
	var missed bool
	switch header.CommitSize {
	case 4:
		c := endian.Uint32(raw[header.CommitOffset : header.CommitOffset+4])
		commit = uint64(c & pageCommitMask)
		missed = c>>31 != 0
	case 8:
		c := endian.Uint64(raw[header.CommitOffset : header.CommitOffset+8])
		commit = c & pageCommitMask
		missed = c&(1<<31) != 0
	default:
		e := newAbiError(AbiInvalidPageHeader, cpu, pageSeq, "commit size is neither 4 nor 8 bytes")
		return nil, &e
	}

	end := header.DataOffset + commit
	if end > uint64(len(raw)) {
		e := newAbiError(AbiInvalidPageHeader, cpu, pageSeq, "commit exceeds page length")
		return nil, &e
	}

	return &Page{
		BaseTimestamp: ts,
		MissedEvents:  missed,
		Data:          raw[header.DataOffset:end],
	}, nil
}

// Record is one decoded ring buffer entry: either a data record carrying a
// kernel event, or a (already-absorbed) time-control record. Callers only
// ever see data records; RecordWalker folds time-extend/timestamp/padding
// records into the running timestamp internally, per spec.md §4.4.
type Record struct {
	Timestamp uint64
	Payload   []byte
}

// RecordWalker iterates the data records of one Page in order, maintaining
// the running timestamp across time-extend/absolute-timestamp records.
type RecordWalker struct {
	cpu     int
	pageSeq uint64
	endian  binary.ByteOrder
	buf     []byte
	ts      uint64
}

// NewRecordWalker constructs a walker over p, seeded with p's base
// timestamp.
func NewRecordWalker(p *Page, endian binary.ByteOrder, cpu int, pageSeq uint64) *RecordWalker {
	return &RecordWalker{cpu: cpu, pageSeq: pageSeq, endian: endian, buf: p.Data, ts: p.BaseTimestamp}
}

// Next returns the next data record, or (nil, nil, false) at end of page.
// A malformed record header or truncated payload yields a non-nil AbiError
// and stops the walk (the remainder of the page cannot be reliably framed
// once one record's length is wrong), per spec.md §4.4.
func (w *RecordWalker) Next() (*Record, *AbiError, bool) {
	for {
		if len(w.buf) < recordHeaderSize {
			if len(w.buf) != 0 {
				e := newAbiError(AbiInvalidRecordHeader, w.cpu, w.pageSeq, "trailing bytes shorter than a record header")
				return nil, &e, false
			}
			return nil, nil, false
		}

		bitfield := w.endian.Uint32(w.buf[:recordHeaderSize])
		w.buf = w.buf[recordHeaderSize:]
		typeLen := recordType(bitfield & typeLenMask)
		timeDelta := uint64(bitfield >> 5)

		switch {
		case typeLen == recordTypeTimeExtend || typeLen == recordTypeTimeStamp:
			if len(w.buf) < 4 {
				e := newAbiError(AbiTruncatedField, w.cpu, w.pageSeq, "time-extend/timestamp record missing its 4-byte tail")
				return nil, &e, false
			}
			top := uint64(w.endian.Uint32(w.buf[:4]))
			w.buf = w.buf[4:]
			full := (top << timeDeltaBits) | timeDelta
			if typeLen == recordTypeTimeExtend {
				w.ts += full
			} else {
				w.ts = full
			}
			continue

		case typeLen == recordTypePadding:
			if timeDelta == 0 {
				// Rest-of-page padding; nothing more to read.
				w.buf = nil
				return nil, nil, false
			}
			if len(w.buf) < 4 {
				e := newAbiError(AbiNullPadding, w.cpu, w.pageSeq, "padding record missing its length field")
				return nil, &e, false
			}
			length := w.endian.Uint32(w.buf[:4])
			w.buf = w.buf[4:]
			if uint32(len(w.buf)) < length {
				e := newAbiError(AbiShortRead, w.cpu, w.pageSeq, "padding length exceeds remaining page bytes")
				return nil, &e, false
			}
			w.buf = w.buf[length:]
			continue

		case typeLen == 0:
			if len(w.buf) < 4 {
				e := newAbiError(AbiZeroDataLength, w.cpu, w.pageSeq, "out-of-band length missing")
				return nil, &e, false
			}
			length := w.endian.Uint32(w.buf[:4])
			w.buf = w.buf[4:]
			if uint32(len(w.buf)) < length {
				e := newAbiError(AbiShortRead, w.cpu, w.pageSeq, "record payload exceeds remaining page bytes")
				return nil, &e, false
			}
			payload := w.buf[:length]
			w.buf = w.buf[length:]
			w.ts += timeDelta
			return &Record{Timestamp: w.ts, Payload: payload}, nil, true

		default: // 1..recordTypeDataMax: length = typeLen << 2.
			length := uint32(typeLen) << 2
			if uint32(len(w.buf)) < length {
				e := newAbiError(AbiShortRead, w.cpu, w.pageSeq, "record payload exceeds remaining page bytes")
				return nil, &e, false
			}
			payload := w.buf[:length]
			w.buf = w.buf[length:]
			w.ts += timeDelta
			return &Record{Timestamp: w.ts, Payload: payload}, nil, true
		}
	}
}
