package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built softwares version.
	Version = ChainRelaySemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// ChainRelaySemVer is the current version of chainrelay.
	// It's the Semantic Version of the software.
	ChainRelaySemVer = "0.6.0"
)

// Protocol is used for implementation agnostic versioning.
type Protocol uint64

// Uint64 returns the Protocol version as a uint64.
func (p Protocol) Uint64() uint64 {
	return uint64(p)
}

var (
	// SyncProtocol versions the sync frames and their payload encoding.
	SyncProtocol Protocol = 1

	// EventProtocol versions the event stream frames.
	EventProtocol Protocol = 1
)
