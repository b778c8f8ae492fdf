package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/steppird/pkg/antenna"
	"github.com/dougsko/steppird/pkg/cat"
	"github.com/dougsko/steppird/pkg/logging"
	"github.com/dougsko/steppird/pkg/protocol"
)

// RadioConfig configures the connection to the radio's CAT server
type RadioConfig struct {
	Address      string
	DialTimeout  time.Duration
	RetryDelay   time.Duration
	ReadPoll     time.Duration
	WriteTimeout time.Duration
}

// RadioLink keeps a connection to the radio, follows its frequency reports
// and passes every byte it receives to the downstream client.
type RadioLink struct {
	config     RadioConfig
	frequency  *FrequencyState
	sink       CommandSink
	events     Publisher
	downstream Downstream
	log        *logging.ComponentLogger

	mutex sync.Mutex
	conn  net.Conn

	state atomic.Int32

	// Owned by the Run goroutine
	scanner   cat.Scanner
	submitted protocol.Frequency
	hasSent   bool
}

// NewRadioLink creates a link that submits frequency changes to sink.
// events may be nil.
func NewRadioLink(config RadioConfig, frequency *FrequencyState, sink CommandSink, events Publisher) *RadioLink {
	if events == nil {
		events = discard{}
	}
	if config.ReadPoll <= 0 {
		config.ReadPoll = 500 * time.Millisecond
	}
	return &RadioLink{
		config:     config,
		frequency:  frequency,
		sink:       sink,
		events:     events,
		downstream: discard{},
		log:        logging.For("radio"),
	}
}

// SetDownstream sets where radio bytes are forwarded. Call before Run.
func (r *RadioLink) SetDownstream(d Downstream) {
	r.downstream = d
}

// State returns the connection state
func (r *RadioLink) State() protocol.LinkState {
	return protocol.LinkState(r.state.Load())
}

func (r *RadioLink) setState(state protocol.LinkState) {
	if protocol.LinkState(r.state.Swap(int32(state))) != state {
		r.events.Publish(linkEvent("radio", state))
	}
}

// Run connects to the radio and serves the connection, reconnecting after
// every failure, until ctx is cancelled
func (r *RadioLink) Run(ctx context.Context) error {
	r.log.Infof("radio link to %s started", r.config.Address)
	defer r.log.Infof("radio link stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		r.setState(protocol.Connecting)
		conn, err := r.dial(ctx)
		if err != nil {
			r.setState(protocol.Disconnected)
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warnf("connect to %s failed: %v; retrying in %s", r.config.Address, err, r.config.RetryDelay)
			if !sleep(ctx, r.config.RetryDelay) {
				return nil
			}
			continue
		}

		r.attach(conn)
		r.setState(protocol.Connected)
		r.log.Infof("connected to radio at %s", r.config.Address)

		err = r.serve(ctx, conn)

		r.detach(conn)
		r.setState(protocol.Disconnected)
		if ctx.Err() != nil {
			return nil
		}
		r.log.Warnf("radio connection lost: %v; reconnecting in %s", err, r.config.RetryDelay)
		if !sleep(ctx, r.config.RetryDelay) {
			return nil
		}
	}
}

func (r *RadioLink) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: r.config.DialTimeout}
	return dialer.DialContext(ctx, "tcp", r.config.Address)
}

// serve reads until the connection fails or ctx is cancelled. Reads are
// bounded by ReadPoll so cancellation is noticed promptly.
func (r *RadioLink) serve(ctx context.Context, conn net.Conn) error {
	r.scanner.Reset()
	buf := make([]byte, readBufferSize)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := conn.SetReadDeadline(time.Now().Add(r.config.ReadPoll)); err != nil {
			return err
		}

		n, err := conn.Read(buf)
		if n > 0 {
			r.handleChunk(buf[:n])
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("radio closed the connection")
			}
			return err
		}
	}
}

func (r *RadioLink) handleChunk(chunk []byte) {
	for _, freq := range r.scanner.Scan(chunk) {
		r.report(freq)
	}
	r.downstream.Forward(chunk)
}

// report follows a frequency report from the radio. Repeats of the last
// submitted frequency are ignored.
func (r *RadioLink) report(freq protocol.Frequency) {
	if r.hasSent && freq == r.submitted {
		return
	}

	r.frequency.Store(freq)
	r.events.Publish(protocol.NewEvent(protocol.EventFrequency, map[string]interface{}{
		"frequency": uint64(freq),
		"source":    "radio",
	}))

	if err := r.sink.Submit(antenna.SetFrequency(freq)); err != nil {
		r.log.Warnf("antenna did not accept %s: %v", freq, err)
		return
	}
	r.submitted = freq
	r.hasSent = true
	r.log.Debugf("radio at %s", freq)
}

func (r *RadioLink) attach(conn net.Conn) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.conn = conn
}

func (r *RadioLink) detach(conn net.Conn) {
	r.mutex.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mutex.Unlock()
	conn.Close()
}

// Send writes b to the radio. While the radio is disconnected the bytes are
// rejected with ErrRadioNotConnected rather than buffered.
func (r *RadioLink) Send(b []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.conn == nil {
		return ErrRadioNotConnected
	}
	if r.config.WriteTimeout > 0 {
		r.conn.SetWriteDeadline(time.Now().Add(r.config.WriteTimeout))
	}
	if _, err := r.conn.Write(b); err != nil {
		// Unblocks the reader, which reconnects
		r.conn.Close()
		r.conn = nil
		return fmt.Errorf("send to radio: %w", err)
	}
	return nil
}
