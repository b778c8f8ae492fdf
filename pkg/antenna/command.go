package antenna

import (
	"fmt"

	"github.com/dougsko/steppird/pkg/protocol"
)

// Direction is the antenna radiation pattern
type Direction int

const (
	DirectionNormal Direction = iota
	Direction180
	DirectionBidirectional
)

func (d Direction) String() string {
	switch d {
	case DirectionNormal:
		return "normal"
	case Direction180:
		return "180"
	case DirectionBidirectional:
		return "bidirectional"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts the names used by the web panel and control socket
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "normal", "NORMAL", "forward", "FORWARD":
		return DirectionNormal, nil
	case "180", "reverse", "REVERSE":
		return Direction180, nil
	case "bidirectional", "BIDIRECTIONAL", "bi", "BI":
		return DirectionBidirectional, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// Kind identifies an antenna command
type Kind int

const (
	KindSetFrequency Kind = iota
	KindDirectionNormal
	KindDirection180
	KindDirectionBidirectional
	KindAutotrack
	KindRetract
	KindCalibrate
)

func (k Kind) String() string {
	switch k {
	case KindSetFrequency:
		return "set_frequency"
	case KindDirectionNormal:
		return "direction_normal"
	case KindDirection180:
		return "direction_180"
	case KindDirectionBidirectional:
		return "direction_bidirectional"
	case KindAutotrack:
		return "autotrack"
	case KindRetract:
		return "retract"
	case KindCalibrate:
		return "calibrate"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is a request for the antenna controller. Frequency is only
// meaningful for KindSetFrequency and Enabled only for KindAutotrack.
type Command struct {
	Kind      Kind
	Frequency protocol.Frequency
	Enabled   bool
}

// SetFrequency tunes the elements to freq
func SetFrequency(freq protocol.Frequency) Command {
	return Command{Kind: KindSetFrequency, Frequency: freq}
}

// SetDirection switches the radiation pattern at the current frequency
func SetDirection(dir Direction) Command {
	switch dir {
	case Direction180:
		return Command{Kind: KindDirection180}
	case DirectionBidirectional:
		return Command{Kind: KindDirectionBidirectional}
	default:
		return Command{Kind: KindDirectionNormal}
	}
}

// SetAutotrack turns controller autotrack on or off
func SetAutotrack(enabled bool) Command {
	return Command{Kind: KindAutotrack, Enabled: enabled}
}

// Retract homes the elements
func Retract() Command {
	return Command{Kind: KindRetract}
}

// Calibrate runs the element calibration cycle
func Calibrate() Command {
	return Command{Kind: KindCalibrate}
}

// Coalescable reports whether a newer command of the same kind may replace this one
// before it is sent. Only frequency targets qualify.
func (c Command) Coalescable() bool {
	return c.Kind == KindSetFrequency
}

// IsDirection reports whether the command changes the antenna direction
func (c Command) IsDirection() bool {
	return c.Kind == KindDirectionNormal || c.Kind == KindDirection180 || c.Kind == KindDirectionBidirectional
}

func (c Command) String() string {
	switch c.Kind {
	case KindSetFrequency:
		return fmt.Sprintf("%s(%d)", c.Kind, uint64(c.Frequency))
	case KindAutotrack:
		return fmt.Sprintf("%s(%t)", c.Kind, c.Enabled)
	default:
		return c.Kind.String()
	}
}

// Apply performs cmd on ctrl
func Apply(ctrl Controller, cmd Command) error {
	switch cmd.Kind {
	case KindSetFrequency:
		return ctrl.SetFrequency(cmd.Frequency)
	case KindDirectionNormal:
		return ctrl.SetDirection(DirectionNormal)
	case KindDirection180:
		return ctrl.SetDirection(Direction180)
	case KindDirectionBidirectional:
		return ctrl.SetDirection(DirectionBidirectional)
	case KindAutotrack:
		return ctrl.SetAutotrack(cmd.Enabled)
	case KindRetract:
		return ctrl.Retract()
	case KindCalibrate:
		return ctrl.Calibrate()
	default:
		return fmt.Errorf("unsupported antenna command %s", cmd)
	}
}
