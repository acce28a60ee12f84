package ledger

import (
	"github.com/chainrelay/chainrelay/types"
)

// StateDelta is the change a block makes to the world state. An empty delta
// leaves the state untouched.
type StateDelta struct {
	Sets    map[string][]byte `cbor:"sets,omitempty"`
	Deletes []string          `cbor:"deletes,omitempty"`
}

// Empty reports whether the delta changes nothing.
func (d *StateDelta) Empty() bool {
	return d == nil || (len(d.Sets) == 0 && len(d.Deletes) == 0)
}

// Encode returns the wire form of the delta. The empty delta encodes to nil.
func (d *StateDelta) Encode() ([]byte, error) {
	if d.Empty() {
		return nil, nil
	}
	return types.Marshal(d)
}

// DecodeStateDelta parses a delta produced by Encode.
func DecodeStateDelta(bz []byte) (*StateDelta, error) {
	delta := &StateDelta{}
	if len(bz) == 0 {
		return delta, nil
	}
	if err := types.Unmarshal(bz, delta); err != nil {
		return nil, err
	}
	return delta, nil
}
