package blocksync

import (
	"bytes"

	"github.com/chainrelay/chainrelay/types"
)

// VerifyContiguous checks that blocks, in ascending order, are exactly want
// blocks long and form a hash chain starting from the block with hash
// trustedHash. If headHash is not empty the last block must hash to it.
func VerifyContiguous(trustedHash []byte, blocks []*types.Block, want uint64, headHash []byte) error {
	if uint64(len(blocks)) != want {
		return types.NewProtocolViolation("expected %d blocks, got %d", want, len(blocks))
	}

	prev := trustedHash
	for i, block := range blocks {
		if err := block.ValidateBasic(); err != nil {
			return types.NewProtocolViolation("block %d of range: %v", i, err)
		}
		if !block.LinksTo(prev) {
			return types.NewProtocolViolation(
				"block %d of range links to %X, expected %X", i, block.PreviousBlockHash, prev)
		}
		prev = block.Hash()
	}

	if len(headHash) > 0 && !bytes.Equal(prev, headHash) {
		return types.NewProtocolViolation("range ends at %X, announced head is %X", prev, headHash)
	}
	return nil
}

// ascending returns blocks fetched over rng in ascending height order.
func ascending(rng *types.SyncBlockRange, blocks []*types.Block) []*types.Block {
	if rng.Ascending() {
		return blocks
	}
	out := make([]*types.Block, len(blocks))
	for i, block := range blocks {
		out[len(blocks)-1-i] = block
	}
	return out
}
