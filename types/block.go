package types

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"
)

// Transaction is an opaque unit of chaincode work carried in a block. Its
// content is interpreted by the execution layer only.
type Transaction struct {
	Type        int32     `cbor:"type"`
	ChaincodeID []byte    `cbor:"chaincode_id,omitempty"`
	Payload     []byte    `cbor:"payload,omitempty"`
	Txid        string    `cbor:"txid"`
	Timestamp   time.Time `cbor:"timestamp"`
}

// NonHashData holds local annotations that are excluded from the block hash.
type NonHashData struct {
	LocalLedgerCommitTimestamp time.Time         `cbor:"local_ledger_commit_timestamp"`
	ChaincodeEvents            []*ChaincodeEvent `cbor:"chaincode_events,omitempty"`
}

// Block is a committed unit of the chain. Blocks are immutable once committed.
type Block struct {
	Version           uint32         `cbor:"version"`
	Timestamp         time.Time      `cbor:"timestamp"`
	Transactions      []*Transaction `cbor:"transactions,omitempty"`
	StateHash         []byte         `cbor:"state_hash,omitempty"`
	PreviousBlockHash []byte         `cbor:"previous_block_hash,omitempty"`
	ConsensusMetadata []byte         `cbor:"consensus_metadata,omitempty"`
	NonHashData       *NonHashData   `cbor:"non_hash_data,omitempty"`
}

// Hash returns the SHA3-256 digest of the deterministic encoding of the block
// with NonHashData cleared.
func (b *Block) Hash() []byte {
	if b == nil {
		return nil
	}
	hashed := *b
	hashed.NonHashData = nil

	bz, err := Marshal(&hashed)
	if err != nil {
		panic(fmt.Errorf("encoding block for hashing: %w", err))
	}
	sum := sha3.Sum256(bz)
	return sum[:]
}

// ValidateBasic performs stateless checks on the block.
func (b *Block) ValidateBasic() error {
	if b == nil {
		return errors.New("nil block")
	}
	for i, tx := range b.Transactions {
		if tx == nil {
			return fmt.Errorf("nil transaction at index %d", i)
		}
	}
	return nil
}

// ChaincodeEvents returns the chaincode events recorded for the block, if any.
func (b *Block) ChaincodeEvents() []*ChaincodeEvent {
	if b == nil || b.NonHashData == nil {
		return nil
	}
	return b.NonHashData.ChaincodeEvents
}

// LinksTo reports whether b extends the block with the given hash.
func (b *Block) LinksTo(hash []byte) bool {
	return bytes.Equal(b.PreviousBlockHash, hash)
}

// BlockchainInfo summarizes a chain position. Height is the block number of
// the head block; the genesis block is number 0.
type BlockchainInfo struct {
	Height            uint64 `cbor:"height"`
	CurrentBlockHash  []byte `cbor:"current_block_hash,omitempty"`
	PreviousBlockHash []byte `cbor:"previous_block_hash,omitempty"`
}

// Copy returns a deep copy of the info.
func (bi *BlockchainInfo) Copy() *BlockchainInfo {
	if bi == nil {
		return nil
	}
	return &BlockchainInfo{
		Height:            bi.Height,
		CurrentBlockHash:  append([]byte(nil), bi.CurrentBlockHash...),
		PreviousBlockHash: append([]byte(nil), bi.PreviousBlockHash...),
	}
}

func (bi *BlockchainInfo) String() string {
	if bi == nil {
		return "BlockchainInfo{nil}"
	}
	return fmt.Sprintf("BlockchainInfo{height:%d head:%X}", bi.Height, bi.CurrentBlockHash)
}

// BlockState pairs a block with the state delta produced by executing it.
type BlockState struct {
	Block      *Block `cbor:"block"`
	StateDelta []byte `cbor:"state_delta,omitempty"`
}

// BlockAdded announces a newly committed block together with the announcer's
// chain position after committing it.
type BlockAdded struct {
	BlockchainInfo *BlockchainInfo `cbor:"blockchain_info"`
	BlockState     *BlockState     `cbor:"block_state"`
}

// ValidateBasic checks that the announcement is complete.
func (ba *BlockAdded) ValidateBasic() error {
	switch {
	case ba.BlockchainInfo == nil:
		return errors.New("missing blockchain info")
	case ba.BlockState == nil:
		return errors.New("missing block state")
	}
	return ba.BlockState.Block.ValidateBasic()
}
