package ingest

// EstimateGap returns the number of messages presumed lost between prev and
// observed. Duplicates, exact successors and decreases all yield zero.
// prev+1 uses uint32 arithmetic, so prev == MaxUint32 wraps to 0.
func EstimateGap(prev, observed uint32) uint32 {
	next := prev + 1
	if observed > next {
		return observed - next
	}
	return 0
}
