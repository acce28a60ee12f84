package types

import (
	"errors"
	"fmt"
)

// EventType is the kind of event an Interest subscribes to.
type EventType int32

const (
	EventTypeRegister EventType = iota
	EventTypeBlock
	EventTypeChaincode
)

func (t EventType) String() string {
	switch t {
	case EventTypeRegister:
		return "REGISTER"
	case EventTypeBlock:
		return "BLOCK"
	case EventTypeChaincode:
		return "CHAINCODE"
	default:
		return fmt.Sprintf("EventType(%d)", int32(t))
	}
}

// ChaincodeReg filters chaincode events by chaincode and event name. An empty
// EventName matches every event of the chaincode.
type ChaincodeReg struct {
	ChaincodeID string `cbor:"chaincode_id"`
	EventName   string `cbor:"event_name"`
}

// InterestRegInfo is the registration detail of an Interest. ChaincodeReg is
// the only variant.
type InterestRegInfo interface {
	isInterestRegInfo()
}

func (*ChaincodeReg) isInterestRegInfo() {}

// Interest is one element of a consumer's subscription.
type Interest struct {
	EventType EventType
	RegInfo   InterestRegInfo
}

// ChaincodeReg returns the chaincode filter of the interest, or nil.
func (i *Interest) ChaincodeReg() *ChaincodeReg {
	if reg, ok := i.RegInfo.(*ChaincodeReg); ok {
		return reg
	}
	return nil
}

// ValidateBasic checks that the interest is one a hub can match.
func (i *Interest) ValidateBasic() error {
	if i == nil {
		return errors.New("nil interest")
	}
	switch i.EventType {
	case EventTypeBlock:
		if i.RegInfo != nil {
			return errors.New("block interest takes no registration info")
		}
	case EventTypeChaincode:
		reg := i.ChaincodeReg()
		if reg == nil {
			return errors.New("chaincode interest without chaincode registration")
		}
		if reg.ChaincodeID == "" {
			return errors.New("chaincode interest without chaincode id")
		}
	default:
		return fmt.Errorf("cannot subscribe to %v events", i.EventType)
	}
	return nil
}

type interestWire struct {
	EventType    EventType     `cbor:"event_type"`
	ChaincodeReg *ChaincodeReg `cbor:"chaincode_reg_info,omitempty"`
}

func (i Interest) MarshalCBOR() ([]byte, error) {
	w := interestWire{EventType: i.EventType}
	switch reg := i.RegInfo.(type) {
	case nil:
	case *ChaincodeReg:
		w.ChaincodeReg = reg
	default:
		return nil, fmt.Errorf("unknown interest registration %T", reg)
	}
	return Marshal(&w)
}

func (i *Interest) UnmarshalCBOR(data []byte) error {
	var w interestWire
	if err := Unmarshal(data, &w); err != nil {
		return err
	}
	i.EventType = w.EventType
	i.RegInfo = nil
	if w.ChaincodeReg != nil {
		i.RegInfo = w.ChaincodeReg
	}
	return nil
}

// Register carries a consumer's complete desired subscription.
type Register struct {
	Events []*Interest `cbor:"events"`
}

// ChaincodeEvent is emitted by transaction execution.
type ChaincodeEvent struct {
	ChaincodeID string `cbor:"chaincode_id"`
	TxID        string `cbor:"tx_id"`
	EventName   string `cbor:"event_name"`
	Payload     []byte `cbor:"payload,omitempty"`
}

// EventPayload is the populated variant of an Event: *Register, *Block or
// *ChaincodeEvent.
type EventPayload interface {
	isEventPayload()
}

func (*Register) isEventPayload()       {}
func (*Block) isEventPayload()          {}
func (*ChaincodeEvent) isEventPayload() {}

// Event is a frame of the event surface. Exactly one variant is populated.
type Event struct {
	Payload EventPayload
}

// NewRegisterEvent wraps interests into a Register event.
func NewRegisterEvent(interests ...*Interest) *Event {
	return &Event{Payload: &Register{Events: interests}}
}

// NewBlockEvent wraps a block into an event.
func NewBlockEvent(b *Block) *Event { return &Event{Payload: b} }

// NewChaincodeEvent wraps a chaincode event into an event.
func NewChaincodeEvent(ce *ChaincodeEvent) *Event { return &Event{Payload: ce} }

func (e *Event) String() string {
	switch p := e.Payload.(type) {
	case *Register:
		return fmt.Sprintf("Event{Register %d interests}", len(p.Events))
	case *Block:
		return fmt.Sprintf("Event{Block %X}", p.Hash())
	case *ChaincodeEvent:
		return fmt.Sprintf("Event{Chaincode %s/%s tx:%s}", p.ChaincodeID, p.EventName, p.TxID)
	default:
		return "Event{empty}"
	}
}

type eventWire struct {
	Register       *Register       `cbor:"register,omitempty"`
	Block          *Block          `cbor:"block,omitempty"`
	ChaincodeEvent *ChaincodeEvent `cbor:"chaincode_event,omitempty"`
}

var errEventVariant = errors.New("event must carry exactly one of register, block or chaincode event")

func (e Event) MarshalCBOR() ([]byte, error) {
	var w eventWire
	switch p := e.Payload.(type) {
	case *Register:
		w.Register = p
	case *Block:
		w.Block = p
	case *ChaincodeEvent:
		w.ChaincodeEvent = p
	}
	if w.Register == nil && w.Block == nil && w.ChaincodeEvent == nil {
		return nil, errEventVariant
	}
	return Marshal(&w)
}

func (e *Event) UnmarshalCBOR(data []byte) error {
	var w eventWire
	if err := Unmarshal(data, &w); err != nil {
		return err
	}

	set := 0
	if w.Register != nil {
		set++
		e.Payload = w.Register
	}
	if w.Block != nil {
		set++
		e.Payload = w.Block
	}
	if w.ChaincodeEvent != nil {
		set++
		e.Payload = w.ChaincodeEvent
	}
	if set != 1 {
		e.Payload = nil
		return errEventVariant
	}
	return nil
}
