// Package perfscript decodes the textual sample stream produced by
// `perf script` and folds repeated samples at the same address into
// merged events suitable for attribution.
package perfscript

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Event is one sampling record: a program-counter hit with the sampling
// period that elapsed before it was taken.
type Event struct {
	Timestamp float64
	PC        uint64
	Period    int64
	Kind      string // event kind as reported by the collector, e.g. "cycles"
	Symbol    string
	DSO       string
	// Count is the number of logical samples this event stands for.
	// It stays 1 after merging; only periods accumulate.
	Count int
}

// sampleRE matches one line of sample output, e.g.
//
//	471186.145234: 306431 cycles: 7f6f13226a35 intel_check+0x115 (/usr/lib/libc.so)
var sampleRE = regexp.MustCompile(
	`^([0-9]+\.[0-9]*):\s+([0-9]*)\s+(\S*):\s+([0-9a-fA-F]+)\s+(.*)\s+\((.*)\)\s*$`)

// Output is a fully decoded sample stream.
type Output struct {
	// Events holds the merged view: one event per distinct address, in
	// first-occurrence order. Attribution rewrites Symbol/DSO in place.
	Events []*Event
	// RawEvents preserves the stream exactly as decoded.
	RawEvents    []*Event
	TotalSamples int
	TotalPeriod  int64
}

// Decode parses one sample record per line. Blank lines are skipped; any
// other line that does not match the record grammar aborts with an error.
// An empty stream is valid and yields zero totals.
func Decode(r io.Reader) (*Output, error) {
	out := &Output{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		m := sampleRE.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("unable to parse sample line %d: %q", lineno, line)
		}
		ev, err := newEvent(m)
		if err != nil {
			return nil, fmt.Errorf("sample line %d: %w", lineno, err)
		}
		out.RawEvents = append(out.RawEvents, ev)
		out.TotalPeriod += ev.Period
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out.TotalSamples = len(out.RawEvents)
	out.Events = mergeByAddress(out.RawEvents)
	return out, nil
}

func newEvent(m []string) (*Event, error) {
	ts, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q: %w", m[1], err)
	}
	period, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad period %q: %w", m[2], err)
	}
	pc, err := strconv.ParseUint(m[4], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("bad address %q: %w", m[4], err)
	}
	return &Event{
		Timestamp: ts,
		PC:        pc,
		Period:    period,
		Kind:      m[3],
		Symbol:    m[5],
		DSO:       m[6],
		Count:     1,
	}, nil
}

// mergeByAddress folds repeated events at the same address into a single
// event carrying the summed period. The returned events are copies so the
// raw list stays untouched when attribution rewrites symbols.
func mergeByAddress(raw []*Event) []*Event {
	merged := make([]*Event, 0, len(raw))
	byPC := make(map[uint64]*Event, len(raw))
	for _, ev := range raw {
		if e, ok := byPC[ev.PC]; ok {
			e.Period += ev.Period
			continue
		}
		cp := *ev
		byPC[ev.PC] = &cp
		merged = append(merged, &cp)
	}
	return merged
}

// SymbolAggregate is the total weight observed for one (symbol, DSO) pair.
type SymbolAggregate struct {
	Symbol string
	DSO    string
	Period int64
}

// TopSymbols groups the merged events by (symbol, DSO) and returns the
// pairs ordered by descending total period. Ties keep first-seen order.
func (o *Output) TopSymbols() []SymbolAggregate {
	type key struct{ sym, dso string }
	index := make(map[key]int, len(o.Events))
	entries := make([]SymbolAggregate, 0, len(o.Events))
	for _, ev := range o.Events {
		k := key{ev.Symbol, ev.DSO}
		if i, ok := index[k]; ok {
			entries[i].Period += ev.Period
			continue
		}
		index[k] = len(entries)
		entries = append(entries, SymbolAggregate{Symbol: ev.Symbol, DSO: ev.DSO, Period: ev.Period})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Period > entries[j].Period
	})
	return entries
}
