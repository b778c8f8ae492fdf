package antenna

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/steppird/pkg/logging"
	"github.com/dougsko/steppird/pkg/protocol"
)

// ErrQueueFull is returned by Submit when too many operator commands are waiting
var ErrQueueFull = errors.New("antenna command queue full")

// PendingSlot holds the commands waiting for the serial link. A frequency
// target replaces a frequency target still waiting at the tail; every other
// command is kept and delivered in submission order.
type PendingSlot struct {
	mutex sync.Mutex
	queue []Command
	limit int
	ready chan struct{}
}

// NewPendingSlot creates a slot holding at most limit commands
func NewPendingSlot(limit int) *PendingSlot {
	if limit < 1 {
		limit = 1
	}
	return &PendingSlot{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Put adds cmd, coalescing it with a waiting frequency target.
// It never blocks.
func (s *PendingSlot) Put(cmd Command) (coalesced bool, err error) {
	s.mutex.Lock()
	if n := len(s.queue); n > 0 && cmd.Coalescable() && s.queue[n-1].Coalescable() {
		s.queue[n-1] = cmd
		coalesced = true
	} else if n >= s.limit {
		s.mutex.Unlock()
		return false, ErrQueueFull
	} else {
		s.queue = append(s.queue, cmd)
	}
	s.mutex.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return coalesced, nil
}

// Take removes the oldest command
func (s *PendingSlot) Take() (Command, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.queue) == 0 {
		return Command{}, false
	}
	cmd := s.queue[0]
	s.queue[0] = Command{}
	s.queue = s.queue[1:]
	return cmd, true
}

// Len returns the number of waiting commands
func (s *PendingSlot) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.queue)
}

// Ready is signalled after every Put
func (s *PendingSlot) Ready() <-chan struct{} {
	return s.ready
}

// ChannelState is the delivery state of the serial channel
type ChannelState int

const (
	StateIdle ChannelState = iota
	StatePending
	StateDelivering
)

func (s ChannelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateDelivering:
		return "delivering"
	default:
		return "unknown"
	}
}

// Observer is told about delivery outcomes. Implementations must not block.
type Observer interface {
	CommandDelivered(cmd Command)
	CommandFailed(cmd Command, err error)
	AntennaFrequency(freq protocol.Frequency)
}

// ChannelConfig tunes the serial channel
type ChannelConfig struct {
	// Spacing is the minimum gap after each controller transaction
	Spacing time.Duration
	// StatusInterval is how often an idle channel reads back the controller
	// frequency; zero disables the status monitor
	StatusInterval time.Duration
	QueueSize      int
}

// Channel is the only path to the antenna controller. Callers Submit and
// return immediately; Run delivers one command at a time.
type Channel struct {
	ctrl     Controller
	config   ChannelConfig
	observer Observer
	slot     *PendingSlot
	log      *logging.ComponentLogger

	delivering atomic.Bool
	refresh    bool // read back the controller after a direction change
}

// NewChannel creates a channel delivering to ctrl. observer may be nil.
func NewChannel(ctrl Controller, config ChannelConfig, observer Observer) *Channel {
	return &Channel{
		ctrl:     ctrl,
		config:   config,
		observer: observer,
		slot:     NewPendingSlot(config.QueueSize),
		log:      logging.For("serial"),
	}
}

// Submit queues cmd for delivery without blocking
func (c *Channel) Submit(cmd Command) error {
	coalesced, err := c.slot.Put(cmd)
	if err != nil {
		return fmt.Errorf("submit %s: %w", cmd, err)
	}
	if coalesced {
		c.log.Debugf("coalesced pending target to %s", cmd.Frequency)
	}
	return nil
}

// State reports Idle, Pending or Delivering
func (c *Channel) State() ChannelState {
	if c.delivering.Load() {
		return StateDelivering
	}
	if c.slot.Len() > 0 {
		return StatePending
	}
	return StateIdle
}

// Pending returns the number of queued commands
func (c *Channel) Pending() int {
	return c.slot.Len()
}

// Run delivers queued commands until ctx is cancelled
func (c *Channel) Run(ctx context.Context) error {
	var status <-chan time.Time
	if c.config.StatusInterval > 0 {
		ticker := time.NewTicker(c.config.StatusInterval)
		defer ticker.Stop()
		status = ticker.C
	}

	c.log.Infof("serial channel started (spacing %s)", c.config.Spacing)
	defer c.log.Infof("serial channel stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		if cmd, ok := c.slot.Take(); ok {
			c.deliver(cmd)
			if !c.pause(ctx) {
				return nil
			}
			continue
		}

		if c.refresh {
			c.refresh = false
			c.readBack()
			if !c.pause(ctx) {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.slot.Ready():
		case <-status:
			c.readBack()
			if !c.pause(ctx) {
				return nil
			}
		}
	}
}

func (c *Channel) deliver(cmd Command) {
	c.delivering.Store(true)
	defer c.delivering.Store(false)

	start := time.Now()
	err := Apply(c.ctrl, cmd)
	if err != nil {
		if cmd.Coalescable() {
			// A fresher target follows if the radio is still elsewhere
			c.log.Warnf("dropping %s: %v", cmd, err)
			return
		}
		c.log.Errorf("%s failed: %v", cmd, err)
		if c.observer != nil {
			c.observer.CommandFailed(cmd, err)
		}
		return
	}

	c.log.Debugf("delivered %s in %s", cmd, time.Since(start).Round(time.Millisecond))
	if c.observer != nil {
		c.observer.CommandDelivered(cmd)
	}
	if cmd.IsDirection() {
		c.refresh = true
	}
}

func (c *Channel) readBack() {
	c.delivering.Store(true)
	freq, err := c.ctrl.GetFrequency()
	c.delivering.Store(false)

	if err != nil {
		c.log.Debugf("status read failed: %v", err)
		return
	}
	if c.observer != nil {
		c.observer.AntennaFrequency(freq)
	}
}

// pause enforces the inter-command spacing; false means ctx was cancelled
func (c *Channel) pause(ctx context.Context) bool {
	if c.config.Spacing <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(c.config.Spacing)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
