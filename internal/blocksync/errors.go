package blocksync

import (
	"fmt"
)

// ErrSyncFailed is returned when a gap could not be closed because the peer
// failed to deliver a valid range. Batches verified before the failure stay
// committed and Height is the local height reached; the sync may be retried
// against the same or another peer.
type ErrSyncFailed struct {
	Start, End uint64
	Height     uint64
	Reason     error
}

func (e ErrSyncFailed) Error() string {
	return fmt.Sprintf("failed to sync blocks %d..%d at height %d: %v", e.Start, e.End, e.Height, e.Reason)
}

func (e ErrSyncFailed) Unwrap() error { return e.Reason }
