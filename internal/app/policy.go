package app

import (
	"fmt"

	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop"
	case KickMember:
		return "disconnect"
	default:
		return "none"
	}
}

// ParseBackpressure maps a config value to an action.
func ParseBackpressure(s string) (BackpressureAction, error) {
	switch s {
	case "", "drop":
		return DropFrame, nil
	case "disconnect":
		return KickMember, nil
	case "none":
		return NoAction, nil
	default:
		return NoAction, fmt.Errorf("unknown backpressure action %q", s)
	}
}

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(user domain.UserID, conn core.ConnID, cmd domain.Command) BackpressureAction
}

type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(domain.UserID, core.ConnID, domain.Command) BackpressureAction {
	return p.Action
}
