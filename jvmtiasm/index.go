package jvmtiasm

// DefaultBucketSize is the address-space bucket granularity for the code
// index. Must be a power of two.
const DefaultBucketSize = 8192

// Index maps fixed-size address buckets to the regions overlapping them,
// turning region lookup into a short candidate scan. It is built once over
// the full region set and goes stale if regions are added afterward.
type Index struct {
	bucketSize uint64
	buckets    map[uint64][]*CompiledCodeInfo
}

// NewIndex builds an index over regions. A bucketSize of 0 selects
// DefaultBucketSize.
func NewIndex(regions []*CompiledCodeInfo, bucketSize uint64) *Index {
	if bucketSize == 0 {
		bucketSize = DefaultBucketSize
	}
	ix := &Index{
		bucketSize: bucketSize,
		buckets:    make(map[uint64][]*CompiledCodeInfo),
	}
	for _, region := range regions {
		for pc := ix.roundDown(region.Base); pc < ix.roundUp(region.End()); pc += bucketSize {
			ix.buckets[pc] = append(ix.buckets[pc], region)
		}
	}
	return ix
}

func (ix *Index) roundDown(v uint64) uint64 {
	return v / ix.bucketSize * ix.bucketSize
}

func (ix *Index) roundUp(v uint64) uint64 {
	return (v + ix.bucketSize - 1) / ix.bucketSize * ix.bucketSize
}

// Candidates returns the regions whose address range contains pc, in load
// order. Time is not consulted.
func (ix *Index) Candidates(pc uint64) []*CompiledCodeInfo {
	var out []*CompiledCodeInfo
	for _, region := range ix.buckets[ix.roundDown(pc)] {
		if region.Contains(pc) {
			out = append(out, region)
		}
	}
	return out
}

// SelectRegion picks the region live at ts from candidates that all contain
// the same address. A single candidate is trusted without consulting time.
// With several (address space reused over time), the first exact time match
// wins; failing that, the first candidate not yet unloaded at ts is taken,
// tolerating samples recorded slightly before the load was announced.
// Returns nil when no candidate qualifies.
func SelectRegion(candidates []*CompiledCodeInfo, ts float64) *CompiledCodeInfo {
	if len(candidates) == 1 {
		return candidates[0]
	}
	for _, region := range candidates {
		if region.IsStub || region.ContainsTimestamp(ts) {
			return region
		}
	}
	for _, region := range candidates {
		if unload, ok := region.UnloadTime(); !ok || unload > ts {
			return region
		}
	}
	return nil
}
