package tracefs

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PageHeaderSpec describes the layout of a tracefs ring-buffer page header,
// parsed from events/header_page. See spec.md §3 "Page header descriptor"
// and §4.1.
type PageHeaderSpec struct {
	// TimestampOffset is always 0; kept explicit for symmetry with the
	// other offsets and because the source file technically declares it.
	TimestampOffset uint64
	// CommitOffset is the byte offset of the commit field (8, on every
	// format this implementation has observed, since timestamp is a u64).
	CommitOffset uint64
	// CommitSize is either 4 or 8 bytes.
	CommitSize uint64
	// DataOffset is CommitOffset + CommitSize: where record payload begins.
	DataOffset uint64
}

var headerFieldRe = regexp.MustCompile(`field:[ \t]*([^;]+);[ \t]*offset:[ \t]*(\d+);[ \t]*size:[ \t]*(\d+);`)

// ParsePageHeaderFormat parses the text of events/header_page (three field
// declarations: timestamp, commit, data) into a PageHeaderSpec.
//
// Grounded on traceparser/formatparser.go's parseHeaderFormat and
// traceparser/ringbuffer.go's ringBufferPageHeader32/64, generalized here
// into the spec's explicit {timestamp_offset, commit_offset, commit_size,
// data_offset} record instead of two hand-rolled struct types.
func ParsePageHeaderFormat(content string) (PageHeaderSpec, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	var commitOffset, commitSize uint64
	sawCommit := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "Header:" {
			continue
		}
		m := headerFieldRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		fieldType := strings.TrimSpace(m[1])
		name := lastToken(fieldType)
		offset, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			return PageHeaderSpec{}, fmt.Errorf("parsing header_page offset: %w", err)
		}
		size, err := strconv.ParseUint(m[3], 10, 64)
		if err != nil {
			return PageHeaderSpec{}, fmt.Errorf("parsing header_page size: %w", err)
		}
		if name == "commit" {
			commitOffset = offset
			commitSize = size
			sawCommit = true
		}
	}
	if err := scanner.Err(); err != nil {
		return PageHeaderSpec{}, fmt.Errorf("reading header_page format: %w", err)
	}
	if !sawCommit {
		return PageHeaderSpec{}, fmt.Errorf("header_page format did not declare a commit field")
	}
	if commitSize != 4 && commitSize != 8 {
		return PageHeaderSpec{}, fmt.Errorf("unsupported commit size %d bytes, want 4 or 8", commitSize)
	}
	return PageHeaderSpec{
		TimestampOffset: 0,
		CommitOffset:    commitOffset,
		CommitSize:      commitSize,
		DataOffset:      commitOffset + commitSize,
	}, nil
}

// FallbackPageHeaderSpec is used when header_page cannot be read: the commit
// width is inferred from the userspace word size, per spec.md §3.
func FallbackPageHeaderSpec(wordSizeBytes int) PageHeaderSpec {
	commitSize := uint64(4)
	if wordSizeBytes == 8 {
		commitSize = 8
	}
	return PageHeaderSpec{
		TimestampOffset: 0,
		CommitOffset:    8,
		CommitSize:      commitSize,
		DataOffset:      8 + commitSize,
	}
}

// lastToken returns the final whitespace/pointer-separated token of a C
// declaration, which formatparser.go's typeRe regex otherwise extracts with
// a full C-type grammar; header_page's three fields are simple enough
// (unsigned long, local_t/long, int) that a trailing-token split suffices
// and keeps this parser independent from the event-format grammar.
func lastToken(decl string) string {
	decl = strings.TrimSuffix(decl, "]")
	fields := strings.FieldsFunc(decl, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '*' || r == '['
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
