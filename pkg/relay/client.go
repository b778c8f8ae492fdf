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

	"github.com/dougsko/steppird/pkg/logging"
	"github.com/dougsko/steppird/pkg/protocol"
)

// ClientConfig configures the downstream CAT listener
type ClientConfig struct {
	Address      string
	WriteTimeout time.Duration
}

// ClientLink serves one downstream CAT client at a time. A second client
// connecting while one is attached is closed immediately.
type ClientLink struct {
	config   ClientConfig
	upstream Upstream
	events   Publisher
	log      *logging.ComponentLogger

	listener net.Listener

	mutex    sync.Mutex
	peer     net.Conn
	attached atomic.Bool

	wg sync.WaitGroup
}

// NewClientLink creates a listener relaying client bytes to upstream.
// events may be nil.
func NewClientLink(config ClientConfig, upstream Upstream, events Publisher) *ClientLink {
	if events == nil {
		events = discard{}
	}
	return &ClientLink{
		config:   config,
		upstream: upstream,
		events:   events,
		log:      logging.For("client"),
	}
}

// Listen binds the listener. Run calls it if it has not been called.
func (c *ClientLink) Listen() error {
	if c.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.config.Address, err)
	}
	c.listener = listener
	c.log.Infof("listening for CAT clients on %s", listener.Addr())
	return nil
}

// Unlisten releases a listener bound by Listen when Run will not be called
func (c *ClientLink) Unlisten() {
	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}
}

// Addr returns the bound address, or nil before Listen
func (c *ClientLink) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// HasPeer reports whether a client is attached
func (c *ClientLink) HasPeer() bool {
	return c.attached.Load()
}

// State returns Connected while a client is attached
func (c *ClientLink) State() protocol.LinkState {
	if c.HasPeer() {
		return protocol.Connected
	}
	return protocol.Disconnected
}

// Run accepts clients until ctx is cancelled, then closes the listener and
// any attached client and waits for it to be torn down
func (c *ClientLink) Run(ctx context.Context) error {
	if err := c.Listen(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		c.listener.Close()
		c.closePeer()
	})
	defer stop()
	defer c.wg.Wait()

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.log.Warnf("accept failed: %v", err)
			if !sleep(ctx, 100*time.Millisecond) {
				return nil
			}
			continue
		}

		if !c.attach(conn) {
			c.log.Warnf("rejecting %s: a client is already attached", conn.RemoteAddr())
			conn.Close()
			continue
		}

		c.wg.Add(1)
		go c.serve(ctx, conn)
	}
}

// attach makes conn the peer if there is none
func (c *ClientLink) attach(conn net.Conn) bool {
	c.mutex.Lock()
	if c.peer != nil {
		c.mutex.Unlock()
		return false
	}
	c.peer = conn
	c.attached.Store(true)
	c.mutex.Unlock()

	c.log.Infof("client %s attached", conn.RemoteAddr())
	c.events.Publish(linkEvent("client", protocol.Connected))
	return true
}

// detach closes conn before releasing the peer slot
func (c *ClientLink) detach(conn net.Conn) {
	conn.Close()

	c.mutex.Lock()
	if c.peer == conn {
		c.peer = nil
		c.attached.Store(false)
	}
	c.mutex.Unlock()

	c.log.Infof("client %s detached", conn.RemoteAddr())
	c.events.Publish(linkEvent("client", protocol.Disconnected))
}

func (c *ClientLink) closePeer() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.peer != nil {
		c.peer.Close()
	}
}

func (c *ClientLink) serve(ctx context.Context, conn net.Conn) {
	defer c.wg.Done()
	defer c.detach(conn)

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if sendErr := c.upstream.Send(buf[:n]); sendErr != nil {
				c.log.Warnf("dropped %d bytes for the radio: %v", n, sendErr)
			}
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Warnf("client read failed: %v", err)
			}
			return
		}
	}
}

// Forward writes radio bytes to the attached client, if any. A client that
// cannot keep up is disconnected.
func (c *ClientLink) Forward(b []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.peer == nil {
		return
	}
	if c.config.WriteTimeout > 0 {
		c.peer.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if _, err := c.peer.Write(b); err != nil {
		c.log.Warnf("write to client failed: %v", err)
		c.peer.Close()
	}
}
