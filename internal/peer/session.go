// Package peer runs the per-channel session between the local node and one
// remote peer: it performs the hello handshake, routes inbound frames and
// issues sync requests on behalf of the block sync engine.
package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainrelay/chainrelay/internal/blocksync"
	"github.com/chainrelay/chainrelay/internal/dispatcher"
	"github.com/chainrelay/chainrelay/internal/p2p"
	"github.com/chainrelay/chainrelay/internal/statesync"
	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/types"
)

const (
	defaultRequestTimeout   = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultSyncQueueSize    = 16
)

// TransactionHandler executes transactions submitted by peers.
type TransactionHandler interface {
	HandleTransaction(ctx context.Context, tx *types.Transaction) (*types.Response, error)
}

// ConsensusHandler receives consensus frames. Their content is opaque to the
// session.
type ConsensusHandler interface {
	HandleConsensus(ctx context.Context, from *types.PeerEndpoint, msg *types.Message) error
}

// ChainInfoSource reports the local chain position for the hello handshake.
type ChainInfoSource interface {
	GetBlockchainInfo() (*types.BlockchainInfo, error)
}

// Env holds what every session of a node shares.
type Env struct {
	Logger log.Logger
	Self   *types.PeerEndpoint

	Ledger      ChainInfoSource
	Engine      *blocksync.Engine
	BlockServer *blocksync.Server
	StateServer *statesync.Server

	// Peers lists the endpoints reported in reply to DISC_GET_PEERS.
	Peers func() []*types.PeerEndpoint

	Transactions TransactionHandler
	Consensus    ConsensusHandler

	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
	SyncQueueSize    int

	DispatcherMetrics *dispatcher.Metrics
	StateMetrics      *statesync.Metrics
}

func (env *Env) requestTimeout() time.Duration {
	if env.RequestTimeout > 0 {
		return env.RequestTimeout
	}
	return defaultRequestTimeout
}

// Hello returns the hello the local node presents.
func (env *Env) Hello() (*types.HelloMessage, error) {
	info, err := env.Ledger.GetBlockchainInfo()
	if err != nil {
		return nil, err
	}
	return &types.HelloMessage{PeerEndpoint: env.Self, BlockchainInfo: info}, nil
}

// syncTask is either a block announcement or, when bs is nil, a plain catch-up
// to target.
type syncTask struct {
	target *types.BlockchainInfo
	bs     *types.BlockState
}

// fetcher serves the engine's range requests over the session's channel.
type fetcher struct {
	blocks *blocksync.Client
	state  *statesync.Client
}

func (f fetcher) FetchBlocks(ctx context.Context, start, end uint64) ([]*types.Block, error) {
	return f.blocks.FetchBlocks(ctx, start, end)
}

func (f fetcher) FetchStateDeltas(ctx context.Context, start, end uint64) ([][]byte, error) {
	return f.state.FetchStateDeltas(ctx, start, end)
}

// Session is one open channel to a remote peer.
type Session struct {
	env    *Env
	logger log.Logger
	ch     *p2p.Channel
	remote *types.HelloMessage

	dispatcher *dispatcher.Dispatcher
	fetcher    fetcher
	syncCh     chan syncTask

	wg sync.WaitGroup
}

// Connect performs the handshake over conn and returns a session ready to
// Run. conn is closed if the handshake fails.
func Connect(ctx context.Context, env *Env, conn p2p.Connection, opts p2p.ChannelOptions) (*Session, error) {
	hello, err := env.Hello()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	timeout := env.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	remote, err := p2p.Handshake(ctx, conn, hello, timeout)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake with %v failed: %w", conn.RemoteEndpoint(), err)
	}

	return NewSession(env, p2p.NewChannel(conn, remote.PeerEndpoint, opts), remote), nil
}

// NewSession binds a session to a channel whose handshake produced remote.
func NewSession(env *Env, ch *p2p.Channel, remote *types.HelloMessage) *Session {
	logger := env.Logger.With("module", "peer", "peer", remote.PeerEndpoint.String())
	d := dispatcher.New(logger, env.DispatcherMetrics)

	queueSize := env.SyncQueueSize
	if queueSize <= 0 {
		queueSize = defaultSyncQueueSize
	}

	s := &Session{
		env:        env,
		logger:     logger,
		ch:         ch,
		remote:     remote,
		dispatcher: d,
		syncCh:     make(chan syncTask, queueSize),
	}
	s.fetcher = fetcher{
		blocks: blocksync.NewClient(ch, d, env.requestTimeout()),
		state:  statesync.NewClient(logger, ch, d, env.requestTimeout(), env.StateMetrics),
	}
	return s
}

// Remote returns the endpoint of the peer.
func (s *Session) Remote() *types.PeerEndpoint { return s.remote.PeerEndpoint }

// RemoteInfo returns the chain position the peer reported in its hello.
func (s *Session) RemoteInfo() *types.BlockchainInfo { return s.remote.BlockchainInfo }

// Fetcher returns a blocksync.Fetcher that requests ranges from the peer.
func (s *Session) Fetcher() blocksync.Fetcher { return s.fetcher }

// Done returns a channel that is closed when the session's channel closes.
func (s *Session) Done() <-chan struct{} { return s.ch.Done() }

// Announce sends a SYNC_BLOCK_ADDED frame to the peer.
func (s *Session) Announce(ctx context.Context, ba *types.BlockAdded) error {
	return s.ch.SendBody(ctx, types.MessageSyncBlockAdded, ba)
}

// SyncSnapshot replaces the local state with the peer's through applier.
func (s *Session) SyncSnapshot(ctx context.Context, applier statesync.StateApplier) (uint64, error) {
	return s.fetcher.state.SyncSnapshot(ctx, applier)
}

// Disconnect tells the peer the session is ending and closes the channel.
func (s *Session) Disconnect(ctx context.Context) {
	if err := s.ch.SendBody(ctx, types.MessageDiscDisconnect, nil); err != nil {
		s.logger.Debug("failed to send disconnect", "err", err)
	}
	// give the send routine a moment to flush the frame
	select {
	case <-time.After(50 * time.Millisecond):
	case <-s.ch.Done():
	}
	s.ch.Close()
}

// Run starts the channel and processes inbound frames until the channel
// closes or ctx is done. Outstanding requests then fail with
// types.ErrConnection.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.ch.Start(ctx)
	defer func() {
		s.ch.Close()
		s.dispatcher.Close(types.ErrConnection)
		cancel()
		s.wg.Wait()
	}()

	s.wg.Add(1)
	go s.syncRoutine(ctx)

	s.logger.Info("peer session started", "remote_height", s.remote.BlockchainInfo.Height)
	s.enqueueSync(syncTask{target: s.remote.BlockchainInfo})

	iter := s.ch.Receive()
	for iter.Next(ctx) {
		if err := s.handleMessage(ctx, iter.Message()); err != nil {
			s.logger.Error("failed to process message", "err", err)
		}
	}

	s.logger.Info("peer session ended", "err", s.ch.Err())
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.ch.Err()
}

func (s *Session) enqueueSync(task syncTask) {
	select {
	case s.syncCh <- task:
	default:
		// announcements are idempotent and a later one closes the same gap
		s.logger.Debug("sync queue full, dropping task", "height", task.target.Height)
	}
}

func (s *Session) syncRoutine(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.syncCh:
			var err error
			if task.bs != nil {
				err = s.env.Engine.HandleBlockAdded(ctx, task.target, task.bs, s.fetcher)
			} else {
				err = s.env.Engine.SyncTo(ctx, task.target, s.fetcher)
			}
			if err != nil && ctx.Err() == nil {
				s.logger.Error("block sync failed", "height", task.target.Height, "err", err)
			}
		}
	}
}

// serve runs a request handler off the receive loop so that long responses,
// such as snapshot streams, do not stall inbound traffic.
func (s *Session) serve(ctx context.Context, msg *types.Message, handle func(context.Context, *types.Message) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := handle(ctx, msg); err != nil && ctx.Err() == nil {
			s.logger.Error("failed to serve request", "type", msg.Type, "err", err)
		}
	}()
}
