// Package ftrace implements the config muxer, proto translation table, and
// per-CPU reader/decoder described in spec.md §4.2–§4.4: the pieces that sit
// above tracefs.Controller and turn raw tracefs artifacts into decoded,
// per-session event records.
package ftrace

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RawField is one `field: ...` declaration parsed from an
// events/<group>/<name>/format file, before ftrace-type inference.
//
// Grounded on traceparser/eventformat.go's FormatField, trimmed to the raw
// C-declaration facts; the richer FieldDescriptor (this package's
// fieldtype.go) carries the spec's FtraceFieldType/TranslationStrategy
// inference on top of this.
type RawField struct {
	CType  string
	Name   string
	Offset uint64
	Size   uint64
	Signed bool
}

// RawFormat is the parsed content of one events/<group>/<name>/format file.
type RawFormat struct {
	Name         string
	ID           uint16
	CommonFields []RawField
	Fields       []RawField
}

var (
	formatNameRe  = regexp.MustCompile(`name:[ \t]*(\w+)`)
	formatIDRe    = regexp.MustCompile(`ID:[ \t]*(\d+)`)
	formatFieldRe = regexp.MustCompile(`field:[ \t]*([^;]+);[ \t]*offset:[ \t]*(\d+);[ \t]*size:[ \t]*(\d+);[ \t]*(?:signed:[ \t]*(\d+);)?`)
	declRe        = regexp.MustCompile(`^(.*?[\s*])(\w+)(\[\s*\d*\s*])?$`)
)

// ParseEventFormat parses the text of one events/<group>/<name>/format file,
// per spec.md §4.3 step 1. Grounded on
// traceparser/formatparser.go's parseRegularFormats, generalized from a
// batch-of-files API to a single-file API (the translation table calls this
// once per event, on demand, rather than up front for every format file on
// disk).
func ParseEventFormat(content string) (RawFormat, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	var rf RawFormat
	state := stateName

scan:
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" && state != stateCommonFields {
			continue
		}
		switch state {
		case stateName:
			m := formatNameRe.FindStringSubmatch(line)
			if m == nil {
				return RawFormat{}, fmt.Errorf("expected a name: line, got %q", line)
			}
			rf.Name = m[1]
			state = stateID
		case stateID:
			m := formatIDRe.FindStringSubmatch(line)
			if m == nil {
				return RawFormat{}, fmt.Errorf("expected an ID: line, got %q", line)
			}
			id, err := strconv.ParseUint(m[1], 10, 16)
			if err != nil {
				return RawFormat{}, fmt.Errorf("parsing event ID: %w", err)
			}
			rf.ID = uint16(id)
			state = stateFormatHeader
		case stateFormatHeader:
			if trimmed != "format:" {
				return RawFormat{}, fmt.Errorf("expected \"format:\", got %q", line)
			}
			state = stateCommonFields
		case stateCommonFields:
			field, err := parseFieldLine(line)
			if err != nil {
				state = stateFields
				continue
			}
			rf.CommonFields = append(rf.CommonFields, field)
		case stateFields:
			field, err := parseFieldLine(line)
			if err != nil {
				state = stateDone
				continue
			}
			rf.Fields = append(rf.Fields, field)
		case stateDone:
			break scan
		}
	}
	if err := scanner.Err(); err != nil {
		return RawFormat{}, fmt.Errorf("reading format: %w", err)
	}
	return rf, nil
}

type parseState int

const (
	stateName parseState = iota
	stateID
	stateFormatHeader
	stateCommonFields
	stateFields
	stateDone
)

func parseFieldLine(line string) (RawField, error) {
	m := formatFieldRe.FindStringSubmatch(line)
	if m == nil {
		return RawField{}, fmt.Errorf("not a field line: %q", line)
	}
	cType := strings.TrimSpace(m[1])
	offset, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return RawField{}, fmt.Errorf("parsing field offset: %w", err)
	}
	size, err := strconv.ParseUint(m[3], 10, 64)
	if err != nil {
		return RawField{}, fmt.Errorf("parsing field size: %w", err)
	}
	signed := false
	if m[4] != "" {
		s, err := strconv.ParseUint(m[4], 10, 8)
		if err != nil {
			return RawField{}, fmt.Errorf("parsing field signed flag: %w", err)
		}
		signed = s != 0
	}
	name, err := fieldName(cType)
	if err != nil {
		return RawField{}, err
	}
	return RawField{CType: cType, Name: name, Offset: offset, Size: size, Signed: signed}, nil
}

// fieldName extracts the declared identifier from a C field declaration,
// e.g. "char prev_comm[16]" -> "prev_comm", "unsigned long args[6]" ->
// "args", "__data_loc char[] event" -> "event".
func fieldName(cType string) (string, error) {
	m := declRe.FindStringSubmatch(strings.TrimSpace(cType))
	if m == nil {
		return "", fmt.Errorf("%q does not look like a C field declaration", cType)
	}
	return m[2], nil
}
