package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/chainrelay/chainrelay/config"
	"github.com/chainrelay/chainrelay/internal/blocksync"
	"github.com/chainrelay/chainrelay/internal/eventhub"
	"github.com/chainrelay/chainrelay/internal/ledger"
	"github.com/chainrelay/chainrelay/internal/p2p"
	"github.com/chainrelay/chainrelay/internal/peer"
	"github.com/chainrelay/chainrelay/internal/statesync"
	"github.com/chainrelay/chainrelay/libs/log"
	"github.com/chainrelay/chainrelay/libs/service"
	"github.com/chainrelay/chainrelay/types"
)

var (
	errDuplicatePeer = errors.New("already connected to peer")
	errSelfPeer      = errors.New("connected to self")
)

// Node keeps the local ledger in step with its peers, answers their sync
// requests and distributes committed blocks to event consumers.
type Node struct {
	service.BaseService

	config  *config.Config
	logger  log.Logger
	self    *types.PeerEndpoint
	metrics *Metrics

	store     *ledger.Store
	engine    *blocksync.Engine
	hub       *eventhub.Hub
	transport *p2p.TCPTransport
	env       *peer.Env

	mtx      sync.RWMutex
	sessions map[string]*peer.Session

	group      *errgroup.Group
	servers    []*http.Server
	eventsAddr string
	sessionWG  sync.WaitGroup
}

type nodeOptions struct {
	dbProvider      config.DBProvider
	metricsProvider MetricsProvider
	genesis         *types.Block
	transactions    peer.TransactionHandler
	consensus       peer.ConsensusHandler
}

// Option sets an optional parameter on the Node.
type Option func(*nodeOptions)

// WithDBProvider overrides how the ledger database is opened.
func WithDBProvider(p config.DBProvider) Option {
	return func(o *nodeOptions) { o.dbProvider = p }
}

// WithMetricsProvider overrides DefaultMetricsProvider.
func WithMetricsProvider(p MetricsProvider) Option {
	return func(o *nodeOptions) { o.metricsProvider = p }
}

// WithGenesis sets the block an empty ledger starts from.
func WithGenesis(b *types.Block) Option {
	return func(o *nodeOptions) { o.genesis = b }
}

// WithTransactionHandler executes CHAIN_TRANSACTION frames from peers.
func WithTransactionHandler(h peer.TransactionHandler) Option {
	return func(o *nodeOptions) { o.transactions = h }
}

// WithConsensusHandler receives CONSENSUS frames from peers.
func WithConsensusHandler(h peer.ConsensusHandler) Option {
	return func(o *nodeOptions) { o.consensus = h }
}

// New returns a Node that is ready to start.
func New(cfg *config.Config, logger log.Logger, options ...Option) (*Node, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	opts := nodeOptions{
		dbProvider:      config.DefaultDBProvider,
		metricsProvider: DefaultMetricsProvider(cfg.Instrumentation),
	}
	for _, option := range options {
		option(&opts)
	}

	peerType, err := cfg.Type()
	if err != nil {
		return nil, err
	}

	db, err := opts.dbProvider(&config.DBContext{ID: "ledger", Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("could not open ledger database: %w", err)
	}
	store, err := ledger.NewStore(db, opts.genesis)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	n := &Node{
		config: cfg,
		logger: logger,
		self: &types.PeerEndpoint{
			ID:      types.PeerID{Name: cfg.Moniker},
			Address: cfg.P2P.ExternalAddress,
			Type:    peerType,
		},
		metrics:   opts.metricsProvider(cfg.Moniker),
		store:     store,
		transport: p2p.NewTCPTransport(logger.With("module", "p2p"), cfg.P2P.MaxFrameSize),
		sessions:  make(map[string]*peer.Session),
	}

	n.hub = eventhub.NewHub(logger.With("module", "events"), cfg.Events.BufferSize, n.metrics.eventhub)
	n.engine = blocksync.NewEngine(
		logger.With("module", "blocksync"),
		store,
		blocksync.WithMetrics(n.metrics.blocksync),
		blocksync.WithCommitHook(n.onCommit),
		blocksync.WithBatchSize(cfg.Sync.BatchSize),
		blocksync.WithDescendingRanges(cfg.Sync.Descending),
	)
	n.env = &peer.Env{
		Logger:      logger.With("module", "peer"),
		Self:        n.self,
		Ledger:      store,
		Engine:      n.engine,
		BlockServer: blocksync.NewServer(logger.With("module", "blocksync"), store, cfg.Sync.MaxRange, n.metrics.blocksync),
		StateServer: statesync.NewServer(logger.With("module", "statesync"), store, cfg.Sync.SnapshotChunkSize, n.metrics.statesync),
		Peers:       n.Peers,

		Transactions: opts.transactions,
		Consensus:    opts.consensus,

		RequestTimeout:   cfg.Sync.RequestTimeout,
		HandshakeTimeout: cfg.P2P.HandshakeTimeout,
		SyncQueueSize:    cfg.Sync.QueueSize,

		DispatcherMetrics: n.metrics.dispatcher,
		StateMetrics:      n.metrics.statesync,
	}

	n.BaseService = *service.NewBaseService(logger, "Node", n)
	return n, nil
}

// OnStart starts the sync endpoint, dials persistent peers and starts the
// event and metrics endpoints.
func (n *Node) OnStart(ctx context.Context) error {
	if err := n.transport.Listen(n.config.P2P.ListenAddress, n.config.P2P.MaxConnections); err != nil {
		return fmt.Errorf("could not listen for peers: %w", err)
	}
	if n.self.Address == "" {
		n.self.Address = n.transport.Endpoint()
	}

	n.group, ctx = errgroup.WithContext(ctx)
	n.group.Go(func() error { return n.acceptRoutine(ctx) })
	for _, addr := range n.config.P2P.PersistentPeerAddresses() {
		addr := addr
		n.group.Go(func() error { return n.dialRoutine(ctx, addr) })
	}

	if n.config.Events.ListenAddress != "" {
		if err := n.startEventsServer(ctx); err != nil {
			n.closeEndpoints()
			return err
		}
	}
	if n.config.Instrumentation.Prometheus {
		if err := n.startPrometheusServer(ctx); err != nil {
			n.closeEndpoints()
			return err
		}
	}

	info, err := n.store.GetBlockchainInfo()
	if err != nil {
		return err
	}
	n.logger.Info("node started", "peer", n.self.String(), "height", info.Height)
	return nil
}

// OnStop closes every endpoint, waits for the sessions to end and closes the
// ledger.
func (n *Node) OnStop() {
	n.closeEndpoints()
	if err := n.group.Wait(); err != nil {
		n.logger.Error("node routine failed", "err", err)
	}
	n.sessionWG.Wait()

	if err := n.store.Close(); err != nil {
		n.logger.Error("failed to close ledger", "err", err)
	}
}

func (n *Node) closeEndpoints() {
	if err := n.transport.Close(); err != nil {
		n.logger.Error("failed to close transport", "err", err)
	}
	for _, srv := range n.servers {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			n.logger.Error("failed to shut down HTTP server", "addr", srv.Addr, "err", err)
		}
		cancel()
	}
}

// Self returns the endpoint the node presents to peers.
func (n *Node) Self() *types.PeerEndpoint { return n.self }

// Ledger returns the node's ledger.
func (n *Node) Ledger() *ledger.Store { return n.store }

// Hub returns the node's event hub.
func (n *Node) Hub() *eventhub.Hub { return n.hub }

// EventsAddr returns the address the event endpoint listens on, or "" when it
// is disabled.
func (n *Node) EventsAddr() string { return n.eventsAddr }

// Peers lists the endpoints of all connected peers, sorted by name.
func (n *Node) Peers() []*types.PeerEndpoint {
	n.mtx.RLock()
	defer n.mtx.RUnlock()

	peers := make([]*types.PeerEndpoint, 0, len(n.sessions))
	for _, s := range n.sessions {
		peers = append(peers, s.Remote())
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID.Name < peers[j].ID.Name })
	return peers
}

// Session returns the session with the named peer, if one is open.
func (n *Node) Session(name string) (*peer.Session, bool) {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	s, ok := n.sessions[name]
	return s, ok
}

// SyncSnapshot replaces the local world state with a snapshot streamed from
// the named peer and returns the block number the snapshot belongs to. The
// node never starts a snapshot transfer on its own.
func (n *Node) SyncSnapshot(ctx context.Context, peerName string) (uint64, error) {
	s, ok := n.Session(peerName)
	if !ok {
		return 0, fmt.Errorf("not connected to peer %q", peerName)
	}
	return s.SyncSnapshot(ctx, n.store)
}

// CommitBlock commits a block produced locally, publishes it to event
// consumers and announces it to every connected peer. Local commits go
// through the sync engine so they are ordered with blocks synced from peers.
func (n *Node) CommitBlock(ctx context.Context, block *types.Block, delta []byte) error {
	info, err := n.engine.CommitBlock(block, delta)
	if err != nil {
		return err
	}

	ba := &types.BlockAdded{
		BlockchainInfo: info,
		BlockState:     &types.BlockState{Block: block, StateDelta: delta},
	}
	for _, s := range n.sessionList() {
		if err := s.Announce(ctx, ba); err != nil {
			n.logger.Error("failed to announce block", "peer", s.Remote().String(), "height", info.Height, "err", err)
		}
	}
	return nil
}

func (n *Node) onCommit(height uint64, block *types.Block) {
	n.logger.Debug("publishing committed block", "height", height)
	n.hub.PublishBlock(block)
}

func (n *Node) sessionList() []*peer.Session {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	sessions := make([]*peer.Session, 0, len(n.sessions))
	for _, s := range n.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (n *Node) addSession(s *peer.Session) error {
	name := s.Remote().ID.Name
	if name == n.self.ID.Name {
		return errSelfPeer
	}

	n.mtx.Lock()
	defer n.mtx.Unlock()
	if _, ok := n.sessions[name]; ok {
		return errDuplicatePeer
	}
	n.sessions[name] = s
	n.metrics.p2p.Peers.Set(float64(len(n.sessions)))
	return nil
}

func (n *Node) removeSession(s *peer.Session) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.sessions[s.Remote().ID.Name] == s {
		delete(n.sessions, s.Remote().ID.Name)
	}
	n.metrics.p2p.Peers.Set(float64(len(n.sessions)))
}

func (n *Node) channelOptions() p2p.ChannelOptions {
	return p2p.ChannelOptions{
		SendQueueSize:  n.config.P2P.SendQueueSize,
		RecvBufferSize: n.config.P2P.RecvBufferSize,
		Logger:         n.logger.With("module", "p2p"),
		Metrics:        n.metrics.p2p,
	}
}

// runConn handshakes over conn and runs the resulting session until it ends.
func (n *Node) runConn(ctx context.Context, conn p2p.Connection) error {
	s, err := peer.Connect(ctx, n.env, conn, n.channelOptions())
	if err != nil {
		n.logger.Info("peer handshake failed", "err", err)
		return err
	}
	if err := n.addSession(s); err != nil {
		n.logger.Info("rejecting peer", "peer", s.Remote().String(), "err", err)
		s.Disconnect(ctx)
		return err
	}
	defer n.removeSession(s)

	n.logger.Info("peer connected", "peer", s.Remote().String())
	err = s.Run(ctx)
	n.logger.Info("peer disconnected", "peer", s.Remote().String(), "err", err)
	return err
}

func (n *Node) acceptRoutine(ctx context.Context) error {
	for {
		conn, err := n.transport.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			n.logger.Error("failed to accept connection", "err", err)
			return err
		}

		n.sessionWG.Add(1)
		go func() {
			defer n.sessionWG.Done()
			_ = n.runConn(ctx, conn)
		}()
	}
}

// dialRoutine keeps a session open with the peer at addr, redialing after
// every failure or disconnect until ctx is done.
func (n *Node) dialRoutine(ctx context.Context, addr string) error {
	logger := n.logger.With("addr", addr)
	for {
		dialCtx, cancel := ctx, context.CancelFunc(func() {})
		if n.config.P2P.DialTimeout > 0 {
			dialCtx, cancel = context.WithTimeout(ctx, n.config.P2P.DialTimeout)
		}
		conn, err := n.transport.Dial(dialCtx, addr)
		cancel()

		if err != nil {
			logger.Debug("failed to dial persistent peer", "err", err)
		} else {
			_ = n.runConn(ctx, conn)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(n.config.P2P.RedialInterval):
		}
	}
}

func (n *Node) startEventsServer(ctx context.Context) error {
	cfg := n.config.Events
	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("could not listen for event consumers: %w", err)
	}
	n.eventsAddr = listener.Addr().String()

	mux := http.NewServeMux()
	mux.Handle(eventhub.EventsPath, n.hub.Handler(eventhub.HandlerOptions{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MaxConsumers:   cfg.MaxConsumers,
	}))
	n.serveHTTP(ctx, "events", listener, mux)
	return nil
}

// startPrometheusServer serves the default registry on /metrics.
func (n *Node) startPrometheusServer(ctx context.Context) error {
	cfg := n.config.Instrumentation
	listener, err := net.Listen("tcp", cfg.PrometheusListenAddr)
	if err != nil {
		return fmt.Errorf("could not listen for prometheus: %w", err)
	}
	if cfg.MaxOpenConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxOpenConnections)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{MaxRequestsInFlight: cfg.MaxOpenConnections},
		),
	))
	n.serveHTTP(ctx, "prometheus", listener, mux)
	return nil
}

func (n *Node) serveHTTP(ctx context.Context, name string, listener net.Listener, handler http.Handler) {
	srv := &http.Server{
		Addr:              listener.Addr().String(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// long-lived handlers end with the node
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	n.servers = append(n.servers, srv)

	logger := n.logger.With("server", name, "addr", srv.Addr)
	n.group.Go(func() error {
		logger.Info("HTTP server starting")
		if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server stopped with error", "err", err)
			return err
		}
		logger.Info("HTTP server stopped")
		return nil
	})
}
