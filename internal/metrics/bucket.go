package metrics

import "math/bits"

// NumBuckets is the width of every latency histogram: log2-scaled
// buckets from <64us (bucket 0) to >=~1s (bucket 15), per spec §6.5.
const NumBuckets = 16

// bucketFor maps a latency in microseconds to its histogram bucket:
// bucket 0 covers <64us, bucket i covers [2^(6+i-1), 2^(6+i)) for
// 1 <= i <= 14, and bucket 15 is the overflow bucket for anything
// >= ~1s. This is a branchless bit_width computation in the original
// source; Go's math/bits.Len64 is the exact analogue of C++'s
// std::bit_width.
func bucketFor(latencyUS uint64) int {
	if latencyUS < 64 {
		return 0
	}

	width := bits.Len64(latencyUS)
	index := width - 6

	if index >= NumBuckets-1 {
		return NumBuckets - 1
	}
	return index
}
