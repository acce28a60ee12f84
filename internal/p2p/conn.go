package p2p

import (
	"context"
	"fmt"

	"github.com/chainrelay/chainrelay/types"
)

// Connection is a connected, ordered and reliable transport for sync surface
// frames. Once a Connection fails every subsequent call returns an error
// wrapping types.ErrConnection.
type Connection interface {
	// SendMessage writes one frame. Frames are delivered in send order.
	SendMessage(context.Context, *types.Message) error

	// ReceiveMessage blocks until the next frame arrives.
	ReceiveMessage(context.Context) (*types.Message, error)

	// LocalEndpoint and RemoteEndpoint describe the two ends of the
	// connection, for logging.
	LocalEndpoint() string
	RemoteEndpoint() string

	// Close closes the connection for both directions.
	Close() error

	fmt.Stringer
}

func connectionError(err error) error {
	if err == nil {
		return types.ErrConnection
	}
	return fmt.Errorf("%w: %v", types.ErrConnection, err)
}
