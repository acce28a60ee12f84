package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainrelay/chainrelay/types"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"
)

// NOTE: the default configuration is written with toml tags, viper reads it
// back with mapstructure tags. Keep both in sync when adding fields.
var (
	DefaultChainRelayDir = ".chainrelay"
	defaultConfigDir     = "config"
	defaultDataDir       = "data"

	defaultConfigFileName = "config.toml"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
)

// Config defines the top level configuration for a chainrelay node
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	P2P             *P2PConfig             `mapstructure:"p2p" toml:"p2p"`
	Sync            *SyncConfig            `mapstructure:"sync" toml:"sync"`
	Events          *EventsConfig          `mapstructure:"events" toml:"events"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation" toml:"instrumentation"`
}

// DefaultConfig returns a default configuration for a chainrelay node
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		P2P:             DefaultP2PConfig(),
		Sync:            DefaultSyncConfig(),
		Events:          DefaultEventsConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		P2P:             TestP2PConfig(),
		Sync:            TestSyncConfig(),
		Events:          TestEventsConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [p2p] section: %w", err)
	}
	if err := cfg.Sync.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [sync] section: %w", err)
	}
	if err := cfg.Events.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [events] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a chainrelay node
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home" toml:"-"`

	// Name this peer presents in its hello. Peers identify each other by it.
	Moniker string `mapstructure:"moniker" toml:"moniker"`

	// Role announced to peers: validator | non_validator
	PeerType string `mapstructure:"peer_type" toml:"peer_type"`

	// Database backend: goleveldb | memdb
	DBBackend string `mapstructure:"db_backend" toml:"db_backend"`

	// Database directory
	DBPath string `mapstructure:"db_dir" toml:"db_dir"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level" toml:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format" toml:"log_format"`
}

// DefaultBaseConfig returns a default base configuration for a chainrelay node
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:   defaultMoniker,
		PeerType:  "validator",
		DBBackend: "goleveldb",
		DBPath:    defaultDataDir,
		LogLevel:  "info",
		LogFormat: LogFormatPlain,
	}
}

// TestBaseConfig returns a base configuration for testing a chainrelay node
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Moniker = "chainrelay_test"
	cfg.DBBackend = "memdb"
	cfg.LogLevel = "debug"
	return cfg
}

// DBDir returns the full path to the database directory
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ConfigFile returns the full path to the config.toml file
func (cfg BaseConfig) ConfigFile() string {
	return rootify(defaultConfigFilePath, cfg.RootDir)
}

// Type parses PeerType.
func (cfg BaseConfig) Type() (types.PeerType, error) {
	return types.ParsePeerType(cfg.PeerType)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	if cfg.Moniker == "" {
		return errors.New("moniker can't be empty")
	}
	if _, err := cfg.Type(); err != nil {
		return err
	}
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log_format (must be 'plain' or 'json')")
	}
	return nil
}

//-----------------------------------------------------------------------------
// P2PConfig

// P2PConfig defines the configuration options for the sync endpoint
type P2PConfig struct {
	// Address to listen for incoming connections
	ListenAddress string `mapstructure:"laddr" toml:"laddr"`

	// Address to advertise to peers for them to dial
	ExternalAddress string `mapstructure:"external_address" toml:"external_address"`

	// Comma separated list of host:port addresses to keep connections to
	PersistentPeers string `mapstructure:"persistent_peers" toml:"persistent_peers"`

	// Maximum number of inbound connections; 0 means unlimited
	MaxConnections int `mapstructure:"max_connections" toml:"max_connections"`

	// Maximum size of a frame, in bytes
	MaxFrameSize int `mapstructure:"max_frame_size" toml:"max_frame_size"`

	// Outbound frames buffered per peer
	SendQueueSize int `mapstructure:"send_queue_size" toml:"send_queue_size"`

	// Inbound frames buffered per peer
	RecvBufferSize int `mapstructure:"recv_buffer_size" toml:"recv_buffer_size"`

	// Peer connection configuration.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" toml:"handshake_timeout"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout" toml:"dial_timeout"`

	// Time to wait before redialing a persistent peer
	RedialInterval time.Duration `mapstructure:"redial_interval" toml:"redial_interval"`
}

// DefaultP2PConfig returns a default configuration for the sync endpoint
func DefaultP2PConfig() *P2PConfig {
	return &P2PConfig{
		ListenAddress:    "0.0.0.0:7051",
		MaxConnections:   40,
		MaxFrameSize:     4 << 20, // 4 MB
		SendQueueSize:    64,
		RecvBufferSize:   64,
		HandshakeTimeout: 10 * time.Second,
		DialTimeout:      3 * time.Second,
		RedialInterval:   5 * time.Second,
	}
}

// TestP2PConfig returns a configuration for testing the sync endpoint
func TestP2PConfig() *P2PConfig {
	cfg := DefaultP2PConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.HandshakeTimeout = time.Second
	cfg.RedialInterval = 100 * time.Millisecond
	return cfg
}

// PersistentPeerAddresses splits PersistentPeers into addresses.
func (cfg *P2PConfig) PersistentPeerAddresses() []string {
	return splitAndTrimEmpty(cfg.PersistentPeers, ",", " ")
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *P2PConfig) ValidateBasic() error {
	if cfg.MaxConnections < 0 {
		return errors.New("max_connections can't be negative")
	}
	if cfg.MaxFrameSize <= 0 {
		return errors.New("max_frame_size must be positive")
	}
	if cfg.SendQueueSize < 0 {
		return errors.New("send_queue_size can't be negative")
	}
	if cfg.RecvBufferSize < 0 {
		return errors.New("recv_buffer_size can't be negative")
	}
	if cfg.HandshakeTimeout < 0 {
		return errors.New("handshake_timeout can't be negative")
	}
	if cfg.DialTimeout < 0 {
		return errors.New("dial_timeout can't be negative")
	}
	if cfg.RedialInterval < 0 {
		return errors.New("redial_interval can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// SyncConfig

// SyncConfig defines how the node catches up with and serves its peers
type SyncConfig struct {
	// Time to wait for a reply to a block, delta or snapshot request
	RequestTimeout time.Duration `mapstructure:"request_timeout" toml:"request_timeout"`

	// Largest range answered in one SYNC_BLOCKS reply
	MaxRange uint64 `mapstructure:"max_range" toml:"max_range"`

	// Blocks requested per round trip while closing a gap. Peers answering
	// with fewer blocks, up to their max_range, are asked again for the rest.
	BatchSize uint64 `mapstructure:"batch_size" toml:"batch_size"`

	// Request ranges from high to low
	Descending bool `mapstructure:"descending" toml:"descending"`

	// Bytes of state per snapshot chunk
	SnapshotChunkSize int `mapstructure:"snapshot_chunk_size" toml:"snapshot_chunk_size"`

	// Pending block announcements per peer
	QueueSize int `mapstructure:"queue_size" toml:"queue_size"`
}

// DefaultSyncConfig returns a default configuration for block and state sync
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		RequestTimeout:    30 * time.Second,
		MaxRange:          500,
		BatchSize:         500,
		SnapshotChunkSize: 64 * 1024,
		QueueSize:         16,
	}
}

// TestSyncConfig returns a configuration for testing block and state sync
func TestSyncConfig() *SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.RequestTimeout = 2 * time.Second
	cfg.SnapshotChunkSize = 1024
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *SyncConfig) ValidateBasic() error {
	if cfg.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if cfg.MaxRange == 0 {
		return errors.New("max_range must be positive")
	}
	if cfg.BatchSize == 0 {
		return errors.New("batch_size must be positive")
	}
	if cfg.SnapshotChunkSize <= 0 {
		return errors.New("snapshot_chunk_size must be positive")
	}
	if cfg.QueueSize < 0 {
		return errors.New("queue_size can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// EventsConfig

// EventsConfig defines the configuration for the event endpoint
type EventsConfig struct {
	// Address the websocket endpoint listens on. Empty disables it.
	ListenAddress string `mapstructure:"laddr" toml:"laddr"`

	// A list of origins a browser consumer can connect from.
	// Use '["*"]' to allow any origin.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" toml:"cors_allowed_origins"`

	// Maximum number of concurrent consumers; 0 means unlimited
	MaxConsumers int `mapstructure:"max_consumers" toml:"max_consumers"`

	// Events buffered per consumer before the oldest is dropped
	BufferSize int `mapstructure:"buffer_size" toml:"buffer_size"`
}

// DefaultEventsConfig returns a default configuration for the event endpoint
func DefaultEventsConfig() *EventsConfig {
	return &EventsConfig{
		ListenAddress:      "0.0.0.0:7053",
		CORSAllowedOrigins: []string{},
		MaxConsumers:       100,
		BufferSize:         100,
	}
}

// TestEventsConfig returns a configuration for testing the event endpoint
func TestEventsConfig() *EventsConfig {
	cfg := DefaultEventsConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *EventsConfig) ValidateBasic() error {
	if cfg.MaxConsumers < 0 {
		return errors.New("max_consumers can't be negative")
	}
	if cfg.BufferSize <= 0 {
		return errors.New("buffer_size must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus" toml:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr" toml:"prometheus_listen_addr"`

	// Maximum number of simultaneous connections.
	// 0 - unlimited.
	MaxOpenConnections int `mapstructure:"max_open_connections" toml:"max_open_connections"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace" toml:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		MaxOpenConnections:   3,
		Namespace:            "chainrelay",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max_open_connections can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// splitAndTrimEmpty slices s into all subslices separated by sep, trims every
// element of cutset and drops empty ones.
func splitAndTrimEmpty(s, sep, cutset string) []string {
	if s == "" {
		return []string{}
	}

	spl := strings.Split(s, sep)
	nonEmptyStrings := make([]string, 0, len(spl))
	for i := 0; i < len(spl); i++ {
		element := strings.Trim(spl[i], cutset)
		if element != "" {
			nonEmptyStrings = append(nonEmptyStrings, element)
		}
	}
	return nonEmptyStrings
}

//-----------------------------------------------------------------------------
// Moniker

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If runtime
// fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
