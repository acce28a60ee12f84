// Package ledger is a reference implementation of the ledger the sync engine
// commits into. Blocks, their state deltas and the resulting world state live
// in a single tm-db database.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/chainrelay/chainrelay/types"
)

// Store is a block and state store backed by a tm-db database. Commits are
// serialized; reads may run concurrently with them.
//
// The store always holds the contiguous chain from the genesis block, number
// 0, to the head.
type Store struct {
	db dbm.DB

	mtx  sync.RWMutex
	info *types.BlockchainInfo
}

// DefaultGenesis returns the genesis block shared by nodes that are not given
// one explicitly.
func DefaultGenesis() *types.Block {
	return &types.Block{
		Version:   1,
		Timestamp: time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// NewStore opens a store over db. An empty database is initialized with the
// genesis block; a nil genesis means DefaultGenesis.
func NewStore(db dbm.DB, genesis *types.Block) (*Store, error) {
	s := &Store{db: db}

	bz, err := db.Get(infoKey())
	if err != nil {
		return nil, err
	}
	if bz != nil {
		info := &types.BlockchainInfo{}
		if err := types.Unmarshal(bz, info); err != nil {
			return nil, fmt.Errorf("corrupt blockchain info: %w", err)
		}
		s.info = info
		return s, nil
	}

	if genesis == nil {
		genesis = DefaultGenesis()
	}
	if err := genesis.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid genesis block: %w", err)
	}
	if err := s.commit(0, genesis, nil); err != nil {
		return nil, fmt.Errorf("committing genesis block: %w", err)
	}
	return s, nil
}

// GetBlockchainInfo returns the current head of the chain.
func (s *Store) GetBlockchainInfo() (*types.BlockchainInfo, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.info.Copy(), nil
}

// Height returns the block number of the head block.
func (s *Store) Height() uint64 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.info.Height
}

// GetBlock returns the block at height, or types.ErrBlockNotFound.
func (s *Store) GetBlock(height uint64) (*types.Block, error) {
	bz, err := s.db.Get(blockKey(height))
	if err != nil {
		return nil, err
	}
	if bz == nil {
		return nil, types.ErrBlockNotFound
	}
	block := &types.Block{}
	if err := types.Unmarshal(bz, block); err != nil {
		return nil, fmt.Errorf("corrupt block %d: %w", height, err)
	}
	return block, nil
}

// GetStateDelta returns the encoded state delta of the block at height.
func (s *Store) GetStateDelta(height uint64) ([]byte, error) {
	bz, err := s.db.Get(deltaKey(height))
	if err != nil {
		return nil, err
	}
	if bz == nil {
		if ok, err := s.db.Has(blockKey(height)); err != nil || !ok {
			return nil, types.ErrBlockNotFound
		}
	}
	return bz, nil
}

// CommitBlock appends block to the chain and applies delta to the state. The
// block must extend the current head.
func (s *Store) CommitBlock(block *types.Block, delta []byte) error {
	if err := block.ValidateBasic(); err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !block.LinksTo(s.info.CurrentBlockHash) {
		return fmt.Errorf("block does not extend head %X at height %d", s.info.CurrentBlockHash, s.info.Height)
	}
	return s.commitLocked(s.info.Height+1, block, delta)
}

func (s *Store) commit(height uint64, block *types.Block, delta []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.commitLocked(height, block, delta)
}

func (s *Store) commitLocked(height uint64, block *types.Block, delta []byte) error {
	stateDelta, err := DecodeStateDelta(delta)
	if err != nil {
		return fmt.Errorf("invalid state delta: %w", err)
	}

	stored := *block
	nhd := types.NonHashData{}
	if block.NonHashData != nil {
		nhd = *block.NonHashData
	}
	nhd.LocalLedgerCommitTimestamp = time.Now().UTC()
	stored.NonHashData = &nhd

	blockBz, err := types.Marshal(&stored)
	if err != nil {
		return err
	}

	hash := block.Hash()
	info := &types.BlockchainInfo{
		Height:            height,
		CurrentBlockHash:  hash,
		PreviousBlockHash: block.PreviousBlockHash,
	}
	infoBz, err := types.Marshal(info)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(blockKey(height), blockBz); err != nil {
		return err
	}
	if len(delta) > 0 {
		if err := batch.Set(deltaKey(height), delta); err != nil {
			return err
		}
	}
	if err := applyDelta(batch, stateDelta); err != nil {
		return err
	}
	if err := batch.Set(infoKey(), infoBz); err != nil {
		return err
	}
	if err := batch.WriteSync(); err != nil {
		return err
	}

	s.info = info
	return nil
}

// GetState returns the value stored under key, or nil.
func (s *Store) GetState(key string) ([]byte, error) {
	return s.db.Get(stateKey(key))
}

// GetStateSnapshot returns the block number of the head and the full world
// state encoded as a StateDelta that sets every key.
func (s *Store) GetStateSnapshot() (uint64, []byte, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	start, end := stateRange()
	iter, err := s.db.Iterator(start, end)
	if err != nil {
		return 0, nil, err
	}
	defer iter.Close()

	snapshot := &StateDelta{Sets: make(map[string][]byte)}
	for ; iter.Valid(); iter.Next() {
		key, err := decodeStateKey(iter.Key())
		if err != nil {
			return 0, nil, err
		}
		snapshot.Sets[key] = append([]byte(nil), iter.Value()...)
	}
	if err := iter.Error(); err != nil {
		return 0, nil, err
	}

	bz, err := snapshot.Encode()
	if err != nil {
		return 0, nil, err
	}
	return s.info.Height, bz, nil
}

// ApplyStateSnapshot replaces the world state with a snapshot produced by
// GetStateSnapshot at blockNumber. The snapshot may not be older than the
// local head.
func (s *Store) ApplyStateSnapshot(blockNumber uint64, state []byte) error {
	snapshot, err := DecodeStateDelta(state)
	if err != nil {
		return fmt.Errorf("invalid state snapshot: %w", err)
	}
	if len(snapshot.Deletes) > 0 {
		return errors.New("state snapshot must not contain deletes")
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if blockNumber < s.info.Height {
		return fmt.Errorf("snapshot at block %d is older than head %d", blockNumber, s.info.Height)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	start, end := stateRange()
	iter, err := s.db.Iterator(start, end)
	if err != nil {
		return err
	}
	for ; iter.Valid(); iter.Next() {
		if err := batch.Delete(append([]byte(nil), iter.Key()...)); err != nil {
			iter.Close()
			return err
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	iter.Close()

	if err := applyDelta(batch, snapshot); err != nil {
		return err
	}
	return batch.WriteSync()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func applyDelta(batch dbm.Batch, delta *StateDelta) error {
	for key, value := range delta.Sets {
		if err := batch.Set(stateKey(key), value); err != nil {
			return err
		}
	}
	for _, key := range delta.Deletes {
		if err := batch.Delete(stateKey(key)); err != nil {
			return err
		}
	}
	return nil
}

//---------------------------------- KEY ENCODING -----------------------------------------

const (
	// prefixes are unique across the store
	prefixBlock = int64(0)
	prefixDelta = int64(1)
	prefixState = int64(2)
	prefixInfo  = int64(3)
)

func blockKey(height uint64) []byte {
	key, err := orderedcode.Append(nil, prefixBlock, height)
	if err != nil {
		panic(err)
	}
	return key
}

func deltaKey(height uint64) []byte {
	key, err := orderedcode.Append(nil, prefixDelta, height)
	if err != nil {
		panic(err)
	}
	return key
}

func stateKey(key string) []byte {
	bz, err := orderedcode.Append(nil, prefixState, key)
	if err != nil {
		panic(err)
	}
	return bz
}

func decodeStateKey(bz []byte) (string, error) {
	var (
		prefix int64
		key    string
	)
	remaining, err := orderedcode.Parse(string(bz), &prefix, &key)
	if err != nil {
		return "", fmt.Errorf("failed to parse state key: %w", err)
	}
	if len(remaining) != 0 {
		return "", fmt.Errorf("expected no remainder when parsing state key but got: %s", remaining)
	}
	if prefix != prefixState {
		return "", fmt.Errorf("incorrect prefix. Expected %v, got %v", prefixState, prefix)
	}
	return key, nil
}

// stateRange returns the bounds of every state key.
func stateRange() ([]byte, []byte) {
	start, err := orderedcode.Append(nil, prefixState)
	if err != nil {
		panic(err)
	}
	end, err := orderedcode.Append(nil, prefixState+1)
	if err != nil {
		panic(err)
	}
	return start, end
}

func infoKey() []byte {
	key, err := orderedcode.Append(nil, prefixInfo)
	if err != nil {
		panic(err)
	}
	return key
}
