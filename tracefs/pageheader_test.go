package tracefs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePageHeaderFormat(t *testing.T) {
	tests := []struct {
		description string
		content     string
		want        PageHeaderSpec
		wantErr     bool
	}{
		{
			description: "64-bit commit",
			content: `
Header:
	field: u64 timestamp;	offset:0;	size:8;	signed:0;
	field: local_t commit;	offset:8;	size:8;	signed:1;
	field: int overwrite;	offset:8;	size:1;	signed:1;
	field: char data;	offset:16;	size:4080;	signed:1;
`,
			want: PageHeaderSpec{TimestampOffset: 0, CommitOffset: 8, CommitSize: 8, DataOffset: 16},
		},
		{
			description: "32-bit commit",
			content: `
Header:
	field: u64 timestamp;	offset:0;	size:8;	signed:0;
	field: local_t commit;	offset:8;	size:4;	signed:1;
	field: char data;	offset:12;	size:4084;	signed:1;
`,
			want: PageHeaderSpec{TimestampOffset: 0, CommitOffset: 8, CommitSize: 4, DataOffset: 12},
		},
		{
			description: "missing commit field",
			content: `
Header:
	field: u64 timestamp;	offset:0;	size:8;	signed:0;
`,
			wantErr: true,
		},
		{
			description: "unsupported commit size",
			content: `
Header:
	field: u64 timestamp;	offset:0;	size:8;	signed:0;
	field: local_t commit;	offset:8;	size:2;	signed:1;
`,
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			got, err := ParsePageHeaderFormat(test.content)
			if (err != nil) != test.wantErr {
				t.Fatalf("ParsePageHeaderFormat() error = %v, wantErr %v", err, test.wantErr)
			}
			if test.wantErr {
				return
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("ParsePageHeaderFormat() returned diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFallbackPageHeaderSpec(t *testing.T) {
	if got, want := FallbackPageHeaderSpec(8).CommitSize, uint64(8); got != want {
		t.Errorf("FallbackPageHeaderSpec(8).CommitSize = %d, want %d", got, want)
	}
	if got, want := FallbackPageHeaderSpec(4).CommitSize, uint64(4); got != want {
		t.Errorf("FallbackPageHeaderSpec(4).CommitSize = %d, want %d", got, want)
	}
}
