package types

import (
	"errors"
	"fmt"
)

// PeerID identifies a peer by name.
type PeerID struct {
	Name string `cbor:"name"`
}

// PeerType is the role a peer plays in the network.
type PeerType int32

const (
	PeerTypeUndefined PeerType = iota
	PeerTypeValidator
	PeerTypeNonValidator
)

func (t PeerType) String() string {
	switch t {
	case PeerTypeValidator:
		return "VALIDATOR"
	case PeerTypeNonValidator:
		return "NON_VALIDATOR"
	default:
		return "UNDEFINED"
	}
}

// ParsePeerType converts a configuration string into a PeerType.
func ParsePeerType(s string) (PeerType, error) {
	switch s {
	case "validator", "VALIDATOR":
		return PeerTypeValidator, nil
	case "non_validator", "NON_VALIDATOR", "":
		return PeerTypeNonValidator, nil
	default:
		return PeerTypeUndefined, fmt.Errorf("unknown peer type %q", s)
	}
}

// PeerEndpoint is the identity of the remote end of a channel. It is fixed for
// the lifetime of a session.
type PeerEndpoint struct {
	ID      PeerID   `cbor:"id"`
	Address string   `cbor:"address"`
	Type    PeerType `cbor:"type"`
	PkiID   []byte   `cbor:"pki_id,omitempty"`
}

func (pe *PeerEndpoint) String() string {
	if pe == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s@%s", pe.ID.Name, pe.Address)
}

// ValidateBasic checks the endpoint carries an identity.
func (pe *PeerEndpoint) ValidateBasic() error {
	if pe == nil {
		return errors.New("nil peer endpoint")
	}
	if pe.ID.Name == "" {
		return errors.New("peer endpoint has no name")
	}
	return nil
}

// HelloMessage is exchanged once per channel before any other traffic.
type HelloMessage struct {
	PeerEndpoint   *PeerEndpoint   `cbor:"peer_endpoint"`
	BlockchainInfo *BlockchainInfo `cbor:"blockchain_info"`
}

// ValidateBasic checks that both halves of the hello are present.
func (hm *HelloMessage) ValidateBasic() error {
	if err := hm.PeerEndpoint.ValidateBasic(); err != nil {
		return err
	}
	if hm.BlockchainInfo == nil {
		return errors.New("hello carries no blockchain info")
	}
	return nil
}

// PeersMessage answers DISC_GET_PEERS.
type PeersMessage struct {
	Peers []*PeerEndpoint `cbor:"peers"`
}
