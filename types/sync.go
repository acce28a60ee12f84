package types

import (
	"fmt"
)

// SyncBlockRange describes an inclusive range of block heights. When Start is
// greater than End the range is traversed in descending order.
type SyncBlockRange struct {
	CorrelationID uint64 `cbor:"correlation_id"`
	Start         uint64 `cbor:"start"`
	End           uint64 `cbor:"end"`
}

// Ascending reports whether the range is traversed from low to high heights.
func (r *SyncBlockRange) Ascending() bool { return r.Start <= r.End }

// Len returns the number of heights in the range.
func (r *SyncBlockRange) Len() uint64 {
	if r.Ascending() {
		return r.End - r.Start + 1
	}
	return r.Start - r.End + 1
}

// Height returns the i-th height of the range in traversal order.
func (r *SyncBlockRange) Height(i uint64) uint64 {
	if r.Ascending() {
		return r.Start + i
	}
	return r.Start - i
}

// Heights returns every height of the range in traversal order.
func (r *SyncBlockRange) Heights() []uint64 {
	n := r.Len()
	heights := make([]uint64, 0, n)
	for i := uint64(0); i < n; i++ {
		heights = append(heights, r.Height(i))
	}
	return heights
}

// Lowest returns the smallest height of the range.
func (r *SyncBlockRange) Lowest() uint64 {
	if r.Ascending() {
		return r.Start
	}
	return r.End
}

// SameBounds reports whether o covers the same heights in the same order.
func (r *SyncBlockRange) SameBounds(o *SyncBlockRange) bool {
	return o != nil && r.Start == o.Start && r.End == o.End
}

func (r *SyncBlockRange) String() string {
	return fmt.Sprintf("[%d..%d]#%d", r.Start, r.End, r.CorrelationID)
}

// SyncBlocks answers a SYNC_GET_BLOCKS request with the blocks of the
// requested range, in the requested order.
type SyncBlocks struct {
	Range  *SyncBlockRange `cbor:"range"`
	Blocks []*Block        `cbor:"blocks"`
}

// SyncStateSnapshotRequest asks a peer to stream its full state.
type SyncStateSnapshotRequest struct {
	CorrelationID uint64 `cbor:"correlation_id"`
}

// SyncStateSnapshot is one chunk of a snapshot transfer. A transfer ends with
// the first chunk whose Delta is empty.
type SyncStateSnapshot struct {
	Delta       []byte                    `cbor:"delta"`
	Sequence    uint64                    `cbor:"sequence"`
	BlockNumber uint64                    `cbor:"block_number"`
	Request     *SyncStateSnapshotRequest `cbor:"request"`
}

// Last reports whether the chunk terminates its transfer.
func (s *SyncStateSnapshot) Last() bool { return len(s.Delta) == 0 }

// SyncStateDeltasRequest asks for the state deltas of a range of blocks.
type SyncStateDeltasRequest struct {
	Range *SyncBlockRange `cbor:"range"`
}

// MaxStateDeltas is the largest delta range a peer answers in one
// SyncStateDeltas reply. Requesters never ask for more.
const MaxStateDeltas = 500

// SyncStateDeltas answers a SyncStateDeltasRequest. Deltas is positionally
// aligned with the heights of Range in traversal order.
type SyncStateDeltas struct {
	Range  *SyncBlockRange `cbor:"range"`
	Deltas [][]byte        `cbor:"deltas"`
}
