package eventhub

import (
	"github.com/chainrelay/chainrelay/types"
)

// Matches reports whether ev is covered by interest.
func Matches(interest *types.Interest, ev *types.Event) bool {
	switch p := ev.Payload.(type) {
	case *types.Block:
		return interest.EventType == types.EventTypeBlock
	case *types.ChaincodeEvent:
		if interest.EventType != types.EventTypeChaincode {
			return false
		}
		reg := interest.ChaincodeReg()
		if reg == nil || reg.ChaincodeID != p.ChaincodeID {
			return false
		}
		return reg.EventName == "" || reg.EventName == p.EventName
	default:
		return false
	}
}

// matchesAny reports whether any of interests covers ev.
func matchesAny(interests []*types.Interest, ev *types.Event) bool {
	for _, interest := range interests {
		if Matches(interest, ev) {
			return true
		}
	}
	return false
}

func eventType(ev *types.Event) types.EventType {
	switch ev.Payload.(type) {
	case *types.Block:
		return types.EventTypeBlock
	case *types.ChaincodeEvent:
		return types.EventTypeChaincode
	default:
		return types.EventTypeRegister
	}
}
