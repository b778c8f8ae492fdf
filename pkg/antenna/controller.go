package antenna

import (
	"errors"

	"github.com/dougsko/steppird/pkg/protocol"
)

var (
	// ErrNotConnected is wrapped by driver errors caused by a lost device link
	ErrNotConnected = errors.New("antenna controller not connected")
	// ErrOutOfRange is returned for frequencies the controller cannot tune
	ErrOutOfRange = errors.New("frequency out of range")
)

// Controller is the antenna controller driver. Each call is one
// command/response transaction and may block for the device's response time.
type Controller interface {
	Initialize() error
	Close() error

	SetFrequency(freq protocol.Frequency) error
	GetFrequency() (protocol.Frequency, error)
	SetDirection(dir Direction) error
	SetAutotrack(enabled bool) error
	Retract() error
	Calibrate() error

	IsConnected() bool
}
