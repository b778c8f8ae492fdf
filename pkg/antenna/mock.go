package antenna

import (
	"fmt"
	"sync"
	"time"

	"github.com/dougsko/steppird/pkg/logging"
	"github.com/dougsko/steppird/pkg/protocol"
)

// MockController implements Controller in memory for testing and for running
// without a controller attached
type MockController struct {
	mutex sync.Mutex
	log   *logging.ComponentLogger

	connected bool
	frequency protocol.Frequency
	direction Direction
	autotrack bool
	applied   []Command

	delay   time.Duration
	failure func(Command) error
}

// NewMockController creates a mock controller tuned to 14.000 MHz
func NewMockController() *MockController {
	return &MockController{
		frequency: 14000000,
		log:       logging.For("mock-antenna"),
	}
}

// SetDelay makes every transaction take d
func (m *MockController) SetDelay(d time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.delay = d
}

// SetFailure installs a hook that can fail individual commands
func (m *MockController) SetFailure(fn func(Command) error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failure = fn
}

// Applied returns every successfully applied command in order
func (m *MockController) Applied() []Command {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Command(nil), m.applied...)
}

// Direction returns the current direction
func (m *MockController) Direction() Direction {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.direction
}

// Autotrack returns whether autotrack is on
func (m *MockController) Autotrack() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.autotrack
}

// Initialize marks the mock connected; it never fails
func (m *MockController) Initialize() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.connected = true
	m.log.Infof("mock controller ready at %s", m.frequency)
	return nil
}

func (m *MockController) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.connected = false
	return nil
}

func (m *MockController) IsConnected() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.connected
}

func (m *MockController) SetFrequency(freq protocol.Frequency) error {
	if freq > protocol.MaxFrequency {
		return fmt.Errorf("%w: %s", ErrOutOfRange, freq)
	}
	return m.apply(SetFrequency(freq), func() { m.frequency = freq })
}

func (m *MockController) GetFrequency() (protocol.Frequency, error) {
	m.mutex.Lock()
	delay := m.delay
	m.mutex.Unlock()
	time.Sleep(delay)

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.connected {
		return 0, ErrNotConnected
	}
	return m.frequency, nil
}

func (m *MockController) SetDirection(dir Direction) error {
	return m.apply(SetDirection(dir), func() { m.direction = dir })
}

func (m *MockController) SetAutotrack(enabled bool) error {
	return m.apply(SetAutotrack(enabled), func() { m.autotrack = enabled })
}

func (m *MockController) Retract() error {
	return m.apply(Retract(), func() {})
}

func (m *MockController) Calibrate() error {
	return m.apply(Calibrate(), func() {})
}

// apply simulates one transaction without holding the lock across the delay
func (m *MockController) apply(cmd Command, update func()) error {
	m.mutex.Lock()
	delay, failure := m.delay, m.failure
	m.mutex.Unlock()

	time.Sleep(delay)

	if failure != nil {
		if err := failure(cmd); err != nil {
			return err
		}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	update()
	m.applied = append(m.applied, cmd)
	return nil
}
