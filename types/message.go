package types

import (
	"fmt"
	"time"
)

// MessageType discriminates the frames of the sync surface.
type MessageType int32

const (
	MessageUndefined MessageType = iota
	MessageDiscHello
	MessageDiscDisconnect
	MessageDiscGetPeers
	MessageDiscPeers
	MessageDiscNewMsg
	MessageChainTransaction
	MessageSyncGetBlocks
	MessageSyncBlocks
	MessageSyncBlockAdded
	MessageSyncStateGetSnapshot
	MessageSyncStateSnapshot
	MessageSyncStateGetDeltas
	MessageSyncStateDeltas
	MessageResponse
	MessageConsensus
)

var messageTypeNames = map[MessageType]string{
	MessageUndefined:            "UNDEFINED",
	MessageDiscHello:            "DISC_HELLO",
	MessageDiscDisconnect:       "DISC_DISCONNECT",
	MessageDiscGetPeers:         "DISC_GET_PEERS",
	MessageDiscPeers:            "DISC_PEERS",
	MessageDiscNewMsg:           "DISC_NEWMSG",
	MessageChainTransaction:     "CHAIN_TRANSACTION",
	MessageSyncGetBlocks:        "SYNC_GET_BLOCKS",
	MessageSyncBlocks:           "SYNC_BLOCKS",
	MessageSyncBlockAdded:       "SYNC_BLOCK_ADDED",
	MessageSyncStateGetSnapshot: "SYNC_STATE_GET_SNAPSHOT",
	MessageSyncStateSnapshot:    "SYNC_STATE_SNAPSHOT",
	MessageSyncStateGetDeltas:   "SYNC_STATE_GET_DELTAS",
	MessageSyncStateDeltas:      "SYNC_STATE_DELTAS",
	MessageResponse:             "RESPONSE",
	MessageConsensus:            "CONSENSUS",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", int32(t))
}

// Message is a frame of the sync surface: a type discriminant, a timestamp, an
// encoded payload and an optional signature over the payload.
type Message struct {
	Type      MessageType `cbor:"type"`
	Timestamp time.Time   `cbor:"timestamp"`
	Payload   []byte      `cbor:"payload,omitempty"`
	Signature []byte      `cbor:"signature,omitempty"`
}

// NewMessage encodes body into a message of the given type.
func NewMessage(t MessageType, body interface{}) (*Message, error) {
	msg := &Message{Type: t, Timestamp: time.Now().UTC()}
	if body == nil {
		return msg, nil
	}
	bz, err := Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %v payload: %w", t, err)
	}
	msg.Payload = bz
	return msg, nil
}

// MustNewMessage is NewMessage for bodies that cannot fail to encode.
func MustNewMessage(t MessageType, body interface{}) *Message {
	msg, err := NewMessage(t, body)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode decodes the payload into body. A payload that does not decode is a
// protocol violation.
func (m *Message) Decode(body interface{}) error {
	if err := Unmarshal(m.Payload, body); err != nil {
		return NewProtocolViolation("decoding %v payload: %v", m.Type, err)
	}
	return nil
}

func (m *Message) String() string {
	if m == nil {
		return "Message{nil}"
	}
	return fmt.Sprintf("Message{%v %d bytes}", m.Type, len(m.Payload))
}

// ResponseStatus is the outcome carried by a RESPONSE frame.
type ResponseStatus int32

const (
	ResponseUndefined ResponseStatus = iota
	ResponseSuccess
	ResponseFailure
)

// Response answers a CHAIN_TRANSACTION submission.
type Response struct {
	Status ResponseStatus `cbor:"status"`
	Msg    []byte         `cbor:"msg,omitempty"`
}
