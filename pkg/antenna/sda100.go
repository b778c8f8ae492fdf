package antenna

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dougsko/steppird/pkg/logging"
	"github.com/dougsko/steppird/pkg/protocol"
	"go.bug.st/serial"
)

// SerialConfig describes the controller's serial port
type SerialConfig struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
}

// SDA-100 transceiver-interface framing
const (
	frameLen  = 13
	statusLen = 11

	dirNormal byte = 0x00
	dir180    byte = 0x40
	dirBi     byte = 0x80

	opSet          byte = '1'
	opAutotrackOn  byte = 'R'
	opAutotrackOff byte = 'U'
	opRetract      byte = 'S'
	opCalibrate    byte = 'V'
)

var statusQuery = []byte("?A\r")

// SDA100 drives a SteppIR SDA-100 controller over a serial line
type SDA100 struct {
	config SerialConfig
	mutex  sync.Mutex
	log    *logging.ComponentLogger

	open func() (io.ReadWriteCloser, error)
	port io.ReadWriteCloser

	connected bool
	known     bool
	frequency protocol.Frequency
	direction Direction
	autotrack bool
}

// NewSDA100 creates a driver for the controller on config.Device
func NewSDA100(config SerialConfig) *SDA100 {
	d := &SDA100{
		config: config,
		log:    logging.For("sda100"),
	}
	d.open = d.openSerial
	return d
}

func (d *SDA100) openSerial() (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: d.config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(d.config.Device, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(d.config.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return port, nil
}

// Initialize opens the serial port
func (d *SDA100) Initialize() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.log.Infof("opening %s at %d baud", d.config.Device, d.config.BaudRate)
	return d.ensureOpen()
}

// Close closes the serial port
func (d *SDA100) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.connected = false
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

// IsConnected reports whether the last transaction succeeded
func (d *SDA100) IsConnected() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.connected
}

// SetFrequency tunes the elements to freq
func (d *SDA100) SetFrequency(freq protocol.Frequency) error {
	if freq > protocol.MaxFrequency {
		return fmt.Errorf("%w: %s", ErrOutOfRange, freq)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.send(d.frame(freq, d.direction, opSet)); err != nil {
		return err
	}
	d.frequency = freq
	d.known = true
	return nil
}

// GetFrequency reads the frequency the elements are tuned to
func (d *SDA100) GetFrequency() (protocol.Frequency, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.readStatus()
}

// readStatus queries the controller's frequency. Caller holds d.mutex.
func (d *SDA100) readStatus() (protocol.Frequency, error) {
	if err := d.send(statusQuery); err != nil {
		return 0, err
	}

	status := make([]byte, statusLen)
	if err := d.readFull(status); err != nil {
		return 0, err
	}
	if status[statusLen-1] != '\r' {
		return 0, fmt.Errorf("malformed status frame % x", status)
	}

	freq := protocol.Frequency(binary.BigEndian.Uint32(status[2:6])) * 10
	d.frequency = freq
	d.known = true
	return freq, nil
}

// current returns the frequency operational frames must carry, reading it
// from the controller when no transaction has established it. A frame with
// a zero frequency homes the elements. Caller holds d.mutex.
func (d *SDA100) current() (protocol.Frequency, error) {
	if d.known {
		return d.frequency, nil
	}
	freq, err := d.readStatus()
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: frequency unknown: %v", ErrNotConnected, err)
	}
	return freq, nil
}

// sendOp sends an operational frame at the current frequency. Caller holds d.mutex.
func (d *SDA100) sendOp(dir Direction, op byte) error {
	freq, err := d.current()
	if err != nil {
		return err
	}
	return d.send(d.frame(freq, dir, op))
}

// SetDirection changes the radiation pattern at the current frequency
func (d *SDA100) SetDirection(dir Direction) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.sendOp(dir, opSet); err != nil {
		return err
	}
	d.direction = dir
	return nil
}

// SetAutotrack enables or disables following the radio's frequency
func (d *SDA100) SetAutotrack(enabled bool) error {
	op := opAutotrackOff
	if enabled {
		op = opAutotrackOn
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.sendOp(d.direction, op); err != nil {
		return err
	}
	d.autotrack = enabled
	return nil
}

// Retract homes the elements
func (d *SDA100) Retract() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.sendOp(d.direction, opRetract)
}

// Calibrate runs the element calibration cycle
func (d *SDA100) Calibrate() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.sendOp(d.direction, opCalibrate)
}

// frame builds "@A" 00 00 <freq/10 BE32> 00 <dir> <op> 00 CR
func (d *SDA100) frame(freq protocol.Frequency, dir Direction, op byte) []byte {
	buf := make([]byte, frameLen)
	buf[0], buf[1] = '@', 'A'
	binary.BigEndian.PutUint32(buf[4:8], uint32(freq/10))
	buf[9] = directionByte(dir)
	buf[10] = op
	buf[12] = '\r'
	return buf
}

func directionByte(dir Direction) byte {
	switch dir {
	case Direction180:
		return dir180
	case DirectionBidirectional:
		return dirBi
	default:
		return dirNormal
	}
}

// ensureOpen reopens the port after a failure. Caller holds d.mutex.
func (d *SDA100) ensureOpen() error {
	if d.port != nil {
		return nil
	}
	port, err := d.open()
	if err != nil {
		d.connected = false
		return fmt.Errorf("%w: open %s: %v", ErrNotConnected, d.config.Device, err)
	}
	d.port = port
	d.connected = true
	return nil
}

// fail drops the port so the next transaction reopens it. Caller holds d.mutex.
func (d *SDA100) fail(op string, err error) error {
	if d.port != nil {
		d.port.Close()
		d.port = nil
	}
	d.connected = false
	return fmt.Errorf("%w: %s: %v", ErrNotConnected, op, err)
}

func (d *SDA100) send(frame []byte) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	d.log.Debugf("tx % x", frame)
	if _, err := d.port.Write(frame); err != nil {
		return d.fail("write", err)
	}
	return nil
}

// readFull reads len(buf) bytes. The serial port returns (0, nil) when its
// read timeout expires, which counts as a failed transaction.
func (d *SDA100) readFull(buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := d.port.Read(buf[read:])
		if err != nil {
			return d.fail("read", err)
		}
		if n == 0 {
			return d.fail("read", fmt.Errorf("timeout after %d of %d bytes", read, len(buf)))
		}
		read += n
	}
	d.log.Debugf("rx % x", buf)
	return nil
}
