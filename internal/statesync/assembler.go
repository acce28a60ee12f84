package statesync

import (
	"bytes"

	"github.com/chainrelay/chainrelay/types"
)

// SnapshotAssembler rebuilds a snapshot from its chunks. Chunks must arrive in
// sequence order; a gap, a duplicate or a change of block number is a protocol
// violation and poisons the assembler.
type SnapshotAssembler struct {
	correlationID uint64

	next        uint64
	blockNumber uint64
	buf         bytes.Buffer
	done        bool
	err         error
}

// NewSnapshotAssembler returns an assembler for the transfer requested under
// correlationID.
func NewSnapshotAssembler(correlationID uint64) *SnapshotAssembler {
	return &SnapshotAssembler{correlationID: correlationID}
}

// Add appends a chunk. It reports true once the terminating chunk was added.
func (a *SnapshotAssembler) Add(chunk *types.SyncStateSnapshot) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	if err := a.check(chunk); err != nil {
		a.err = err
		return false, err
	}

	if chunk.Sequence == 0 {
		a.blockNumber = chunk.BlockNumber
	}
	a.next++
	if chunk.Last() {
		a.done = true
		return true, nil
	}
	a.buf.Write(chunk.Delta)
	return false, nil
}

func (a *SnapshotAssembler) check(chunk *types.SyncStateSnapshot) error {
	switch {
	case a.done:
		return types.NewProtocolViolation("chunk %d after end of snapshot", chunk.Sequence)
	case chunk.Request == nil || chunk.Request.CorrelationID != a.correlationID:
		return types.NewProtocolViolation("chunk %d does not answer request %d", chunk.Sequence, a.correlationID)
	case chunk.Sequence != a.next:
		return types.NewProtocolViolation("expected chunk %d, got %d", a.next, chunk.Sequence)
	case a.next > 0 && chunk.BlockNumber != a.blockNumber:
		return types.NewProtocolViolation("chunk %d is for block %d, snapshot is for block %d",
			chunk.Sequence, chunk.BlockNumber, a.blockNumber)
	}
	return nil
}

// Done reports whether the terminating chunk was added.
func (a *SnapshotAssembler) Done() bool { return a.done }

// BlockNumber returns the block the snapshot was taken at.
func (a *SnapshotAssembler) BlockNumber() uint64 { return a.blockNumber }

// State returns the concatenated chunks.
func (a *SnapshotAssembler) State() []byte { return a.buf.Bytes() }

// Chunks splits state into snapshot chunks of at most chunkSize bytes,
// followed by the empty terminator.
func Chunks(req *types.SyncStateSnapshotRequest, blockNumber uint64, state []byte, chunkSize int) []*types.SyncStateSnapshot {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	chunks := make([]*types.SyncStateSnapshot, 0, len(state)/chunkSize+2)
	seq := uint64(0)
	for len(state) > 0 {
		n := chunkSize
		if n > len(state) {
			n = len(state)
		}
		chunks = append(chunks, &types.SyncStateSnapshot{
			Delta:       state[:n],
			Sequence:    seq,
			BlockNumber: blockNumber,
			Request:     req,
		})
		state = state[n:]
		seq++
	}
	return append(chunks, &types.SyncStateSnapshot{
		Sequence:    seq,
		BlockNumber: blockNumber,
		Request:     req,
	})
}
