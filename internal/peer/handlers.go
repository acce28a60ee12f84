package peer

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/chainrelay/chainrelay/types"
)

// handleMessage routes one inbound frame. Responses go to the dispatcher by
// correlation id, requests to the servers, and block announcements to the
// sync queue.
func (s *Session) handleMessage(ctx context.Context, msg *types.Message) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("panic in processing message: %v", e)
			s.logger.Error(
				"recovering from processing message panic",
				"err", err,
				"stack", string(debug.Stack()),
			)
		}
	}()

	switch msg.Type {
	case types.MessageSyncBlocks:
		var resp types.SyncBlocks
		if err := msg.Decode(&resp); err != nil {
			return err
		}
		if resp.Range == nil {
			return types.NewProtocolViolation("blocks reply without range")
		}
		s.respond(resp.Range.CorrelationID, msg)

	case types.MessageSyncStateSnapshot:
		var chunk types.SyncStateSnapshot
		if err := msg.Decode(&chunk); err != nil {
			return err
		}
		if chunk.Request == nil {
			return types.NewProtocolViolation("snapshot chunk without request")
		}
		s.respond(chunk.Request.CorrelationID, msg)

	case types.MessageSyncStateDeltas:
		var resp types.SyncStateDeltas
		if err := msg.Decode(&resp); err != nil {
			return err
		}
		if resp.Range == nil {
			return types.NewProtocolViolation("deltas reply without range")
		}
		s.respond(resp.Range.CorrelationID, msg)

	case types.MessageSyncGetBlocks:
		s.serve(ctx, msg, func(ctx context.Context, msg *types.Message) error {
			return s.env.BlockServer.ServeGetBlocks(ctx, s.ch, msg)
		})

	case types.MessageSyncStateGetSnapshot:
		s.serve(ctx, msg, func(ctx context.Context, msg *types.Message) error {
			return s.env.StateServer.ServeSnapshot(ctx, s.ch, msg)
		})

	case types.MessageSyncStateGetDeltas:
		s.serve(ctx, msg, func(ctx context.Context, msg *types.Message) error {
			return s.env.StateServer.ServeDeltas(ctx, s.ch, msg)
		})

	case types.MessageSyncBlockAdded:
		var ba types.BlockAdded
		if err := msg.Decode(&ba); err != nil {
			return err
		}
		if err := ba.ValidateBasic(); err != nil {
			return types.ErrProtocolViolation{Reason: err}
		}
		s.enqueueSync(syncTask{target: ba.BlockchainInfo, bs: ba.BlockState})

	case types.MessageDiscGetPeers:
		var peers []*types.PeerEndpoint
		if s.env.Peers != nil {
			peers = s.env.Peers()
		}
		return s.ch.SendBody(ctx, types.MessageDiscPeers, &types.PeersMessage{Peers: peers})

	case types.MessageDiscPeers:
		var pm types.PeersMessage
		if err := msg.Decode(&pm); err != nil {
			return err
		}
		s.logger.Debug("peer reported endpoints", "count", len(pm.Peers))

	case types.MessageDiscDisconnect:
		s.logger.Info("peer disconnected")
		s.ch.Close()

	case types.MessageDiscHello:
		return types.NewProtocolViolation("hello after handshake")

	case types.MessageChainTransaction:
		return s.handleTransaction(ctx, msg)

	case types.MessageConsensus:
		if s.env.Consensus == nil {
			s.logger.Debug("dropping consensus message, no handler")
			return nil
		}
		return s.env.Consensus.HandleConsensus(ctx, s.remote.PeerEndpoint, msg)

	case types.MessageResponse, types.MessageDiscNewMsg:
		s.logger.Debug("received message", "type", msg.Type)

	default:
		return fmt.Errorf("unknown message type %v", msg.Type)
	}
	return nil
}

func (s *Session) respond(id uint64, msg *types.Message) {
	// unknown responses are logged and counted by the dispatcher
	_ = s.dispatcher.Respond(id, msg)
}

func (s *Session) handleTransaction(ctx context.Context, msg *types.Message) error {
	resp := &types.Response{Status: types.ResponseFailure}

	var tx types.Transaction
	switch err := msg.Decode(&tx); {
	case err != nil:
		resp.Msg = []byte(err.Error())
	case s.env.Transactions == nil:
		resp.Msg = []byte("transactions are not accepted by this peer")
	default:
		r, err := s.env.Transactions.HandleTransaction(ctx, &tx)
		switch {
		case err != nil:
			resp.Msg = []byte(err.Error())
		case r == nil:
			resp.Status = types.ResponseSuccess
		default:
			resp = r
		}
	}
	return s.ch.SendBody(ctx, types.MessageResponse, resp)
}
