package ftrace

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/simplelru"
)

// ParsePrintkFormats parses the text of printk_formats: lines of the form
// `0xaddress : "format string"`, per spec.md §4.1/§6.
func ParsePrintkFormats(content string) (map[uint64]string, error) {
	out := map[uint64]string{}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		addrStr := strings.TrimSpace(line[:colon])
		addr, err := strconv.ParseUint(strings.TrimPrefix(addrStr, "0x"), 16, 64)
		if err != nil {
			continue
		}
		rest := strings.TrimSpace(line[colon+1:])
		rest = strings.TrimPrefix(rest, `"`)
		if idx := strings.IndexByte(rest, '"'); idx >= 0 {
			rest = rest[:idx]
		}
		out[addr] = rest
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning printk_formats: %w", err)
	}
	return out, nil
}

// printkCacheSize bounds the number of resolved (address -> format string)
// pairs kept warm per instance; a miss just falls back to the backing map,
// so eviction never loses information (unlike the per-session symbol
// interning table in bundler.go, whose indices must never be reused).
const printkCacheSize = 4096

// PrintkTable resolves StringPtr field values (kernel addresses) to format
// strings, per spec.md §4.4.3's StringPtr strategy. The backing map is the
// full parse of printk_formats; an LRU sits in front of it so repeated
// resolution of the same hot addresses (the common case: a handful of
// printk call sites fire far more often than the full table's size) avoids
// a map lookup plus hashing of the backing map's (much larger) keyspace
// inside the steady-state decode loop.
type PrintkTable struct {
	backing map[uint64]string
	cache   *lru.LRU
}

// NewPrintkTable wraps a parsed printk_formats map. backing may be nil
// (e.g. when printk_formats could not be read), in which case every lookup
// resolves to the empty string per spec.md §4.4.3 ("may be empty").
func NewPrintkTable(backing map[uint64]string) *PrintkTable {
	cache, err := lru.NewLRU(printkCacheSize, nil)
	if err != nil {
		// Only fails for a non-positive size, which printkCacheSize never is.
		panic(fmt.Sprintf("constructing printk LRU: %v", err))
	}
	return &PrintkTable{backing: backing, cache: cache}
}

// Resolve returns the format string for addr, or "" if unknown.
func (p *PrintkTable) Resolve(addr uint64) string {
	if v, ok := p.cache.Get(addr); ok {
		return v.(string)
	}
	s := p.backing[addr]
	p.cache.Add(addr, s)
	return s
}
