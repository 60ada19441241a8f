package jvmtiasm

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
)

const stubNameCacheSize = 512

func hashAddress(addr uint64) uint32 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], addr)
	return uint32(xxhash.Sum64(b[:]))
}

// Assembly is all the generated code described by one trace: every helper
// stub and JIT-compiled method body, in load order, plus the trace header
// metadata. All regions are expected to be added before the first Find.
type Assembly struct {
	MajorVersion int32
	MinorVersion int32
	Arch         string  // architecture name declared by the producer, e.g. "amd64"
	StartTime    float64 // wall clock at trace start, seconds
	NanoTime     uint64  // monotonic reference counter at trace start

	Regions []*CompiledCodeInfo

	lowAddr   uint64
	highAddr  uint64
	hasBounds bool
	byBase    map[uint64]*CompiledCodeInfo
	index     *Index
	stubNames *freelru.LRU[uint64, string]
}

// Add appends a region in load order and extends the overall address
// bounds. Adding after the first Find leaves the index stale.
func (a *Assembly) Add(region *CompiledCodeInfo) {
	a.Regions = append(a.Regions, region)
	if !a.hasBounds {
		a.lowAddr, a.highAddr = region.Base, region.End()
		a.hasBounds = true
	} else {
		a.lowAddr = min(a.lowAddr, region.Base)
		a.highAddr = max(a.highAddr, region.End())
	}
	if a.byBase == nil {
		a.byBase = make(map[uint64]*CompiledCodeInfo)
	}
	a.byBase[region.Base] = region
}

// Bounds returns the lowest and highest address covered by any region.
// The second value is false when no region was added.
func (a *Assembly) Bounds() (low, high uint64, ok bool) {
	return a.lowAddr, a.highAddr, a.hasBounds
}

// regionAt returns the latest region loaded exactly at base.
func (a *Assembly) regionAt(base uint64) *CompiledCodeInfo {
	return a.byBase[base]
}

// Search linearly scans all regions for those containing pc. It is the
// slow path behind Find's consistency check and stub-name resolution.
func (a *Assembly) Search(pc uint64) []*CompiledCodeInfo {
	var matches []*CompiledCodeInfo
	for _, region := range a.Regions {
		if region.Contains(pc) {
			matches = append(matches, region)
		}
	}
	return matches
}

// Find returns the region live at pc for a sample taken at ts, or nil when
// the address cannot be attributed. The bucketed index answers the address
// part; SelectRegion disambiguates address reuse over time. An index miss
// that a linear scan contradicts is an internal defect and returns an error.
func (a *Assembly) Find(pc uint64, ts float64) (*CompiledCodeInfo, error) {
	if a.index == nil {
		a.index = NewIndex(a.Regions, DefaultBucketSize)
	}
	candidates := a.index.Candidates(pc)
	if len(candidates) == 0 {
		if hits := a.Search(pc); len(hits) > 0 {
			return nil, fmt.Errorf("code index has no hits for pc 0x%x at %f but a full scan found %d region(s), first %s",
				pc, ts, len(hits), hits[0])
		}
		return nil, nil
	}
	return SelectRegion(candidates, ts), nil
}

// StubName resolves pc to the name of the stub region containing it,
// rendered as "name" at the region base and "name+0x<offset>" inside it.
// Returns "" when pc is not inside any stub. Resolutions are memoized
// because call annotation asks for the same few targets repeatedly.
func (a *Assembly) StubName(pc uint64) string {
	if a.stubNames == nil {
		cache, err := freelru.New[uint64, string](stubNameCacheSize, hashAddress)
		if err != nil {
			return a.findStubName(pc)
		}
		a.stubNames = cache
	}
	if name, ok := a.stubNames.Get(pc); ok {
		return name
	}
	name := a.findStubName(pc)
	a.stubNames.Add(pc, name)
	return name
}

func (a *Assembly) findStubName(pc uint64) string {
	for _, region := range a.Search(pc) {
		if !region.IsStub {
			continue
		}
		if offset := pc - region.Base; offset != 0 {
			return fmt.Sprintf("%s+0x%x", region.Name, offset)
		}
		return region.Name
	}
	return ""
}

// TopRegions returns the regions selected by include (nil includes all),
// ordered by descending attributed period. The sort is stable: ties keep
// load order.
func (a *Assembly) TopRegions(include func(*CompiledCodeInfo) bool) []*CompiledCodeInfo {
	var out []*CompiledCodeInfo
	for _, region := range a.Regions {
		if include == nil || include(region) {
			out = append(out, region)
		}
	}
	slices.SortStableFunc(out, func(x, y *CompiledCodeInfo) int {
		switch {
		case x.TotalPeriod > y.TotalPeriod:
			return -1
		case x.TotalPeriod < y.TotalPeriod:
			return 1
		}
		return 0
	})
	return out
}
