package relay

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dougsko/steppird/pkg/antenna"
	"github.com/dougsko/steppird/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRadio is a CAT server standing in for the radio
type fakeRadio struct {
	listener net.Listener
	conns    chan net.Conn
}

func newFakeRadio(t *testing.T) *fakeRadio {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeRadio{listener: listener, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			f.conns <- conn
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return f
}

func (f *fakeRadio) addr() string {
	return f.listener.Addr().String()
}

func (f *fakeRadio) next(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("radio link did not connect")
		return nil
	}
}

// recordingSink records submitted antenna commands
type recordingSink struct {
	mu   sync.Mutex
	cmds []antenna.Command
}

func (s *recordingSink) Submit(cmd antenna.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return nil
}

func (s *recordingSink) commands() []antenna.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]antenna.Command(nil), s.cmds...)
}

// recordingPublisher records published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (p *recordingPublisher) Publish(event protocol.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) ofType(eventType string) []protocol.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []protocol.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// run starts fn in the background and waits for it to return at cleanup
func run(t *testing.T, fn func(ctx context.Context) error) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, fn(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("component did not stop")
		}
	})
	return cancel
}

func testRadioConfig(addr string) RadioConfig {
	return RadioConfig{
		Address:      addr,
		DialTimeout:  time.Second,
		RetryDelay:   50 * time.Millisecond,
		ReadPoll:     20 * time.Millisecond,
		WriteTimeout: time.Second,
	}
}

func readExactly(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func dialClient(t *testing.T, link *ClientLink) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", link.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// relayPair wires a RadioLink and ClientLink the way the engine does
type relayPair struct {
	radio  *RadioLink
	client *ClientLink
	state  *FrequencyState
}

func startRelay(t *testing.T, radioAddr string, sink CommandSink, events Publisher) *relayPair {
	t.Helper()
	state := &FrequencyState{}
	radio := NewRadioLink(testRadioConfig(radioAddr), state, sink, events)
	client := NewClientLink(ClientConfig{Address: "127.0.0.1:0", WriteTimeout: time.Second}, radio, events)
	radio.SetDownstream(client)
	require.NoError(t, client.Listen())

	run(t, client.Run)
	run(t, radio.Run)
	return &relayPair{radio: radio, client: client, state: state}
}

func TestFrequencyState(t *testing.T) {
	var state FrequencyState
	_, known := state.Load()
	assert.False(t, known)

	state.Store(14074000)
	freq, known := state.Load()
	assert.True(t, known)
	assert.Equal(t, protocol.Frequency(14074000), freq)

	state.Store(0)
	freq, known = state.Load()
	assert.True(t, known, "0 Hz is a stored value, not unknown")
	assert.Equal(t, protocol.Frequency(0), freq)
}

func TestFrequencyStateConcurrentFirstStore(t *testing.T) {
	for i := 0; i < 200; i++ {
		var state FrequencyState
		done := make(chan struct{})
		go func() {
			defer close(done)
			state.Store(7074000)
		}()
		for {
			freq, known := state.Load()
			if known {
				require.Equal(t, protocol.Frequency(7074000), freq)
				break
			}
		}
		<-done
	}
}

func TestEndToEndFrequencyReport(t *testing.T) {
	radio := newFakeRadio(t)

	ctrl := antenna.NewMockController()
	require.NoError(t, ctrl.Initialize())
	channel := antenna.NewChannel(ctrl, antenna.ChannelConfig{QueueSize: 8}, nil)
	run(t, channel.Run)

	relay := startRelay(t, radio.addr(), channel, nil)
	radioConn := radio.next(t)
	downstream := dialClient(t, relay.client)
	require.Eventually(t, relay.client.HasPeer, time.Second, 5*time.Millisecond)

	report := []byte("FA00014074000;")
	_, err := radioConn.Write(report)
	require.NoError(t, err)

	assert.Equal(t, report, readExactly(t, downstream, len(report)))
	require.Eventually(t, func() bool {
		freq, _ := relay.state.Load()
		return freq == 14074000
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(ctrl.Applied()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, antenna.SetFrequency(14074000), ctrl.Applied()[0])
}

func TestRadioLinkPassthrough(t *testing.T) {
	t.Run("Opaque Bytes Unchanged", func(t *testing.T) {
		radio := newFakeRadio(t)
		sink := &recordingSink{}
		relay := startRelay(t, radio.addr(), sink, nil)
		radioConn := radio.next(t)
		downstream := dialClient(t, relay.client)
		require.Eventually(t, relay.client.HasPeer, time.Second, 5*time.Millisecond)

		payload := []byte("IF00014074000     +00000000002000000;MD2;\x00\xff")
		_, err := radioConn.Write(payload)
		require.NoError(t, err)

		assert.Equal(t, payload, readExactly(t, downstream, len(payload)))
		_, known := relay.state.Load()
		assert.False(t, known)
		assert.Empty(t, sink.commands())
	})

	t.Run("Client Bytes Reach Radio", func(t *testing.T) {
		radio := newFakeRadio(t)
		relay := startRelay(t, radio.addr(), &recordingSink{}, nil)
		radioConn := radio.next(t)
		downstream := dialClient(t, relay.client)
		require.Eventually(t, func() bool {
			return relay.client.HasPeer() && relay.radio.State() == protocol.Connected
		}, time.Second, 5*time.Millisecond)

		_, err := downstream.Write([]byte("FA;MD;"))
		require.NoError(t, err)
		assert.Equal(t, []byte("FA;MD;"), readExactly(t, radioConn, 6))
	})

	t.Run("No Client Attached", func(t *testing.T) {
		radio := newFakeRadio(t)
		sink := &recordingSink{}
		relay := startRelay(t, radio.addr(), sink, nil)
		radioConn := radio.next(t)
		require.Eventually(t, func() bool { return relay.radio.State() == protocol.Connected }, time.Second, 5*time.Millisecond)

		_, err := radioConn.Write([]byte("FA00007074000;"))
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(sink.commands()) == 1 }, time.Second, 5*time.Millisecond)
	})
}

func TestRadioLinkReports(t *testing.T) {
	t.Run("Distinct Reports Submitted Once", func(t *testing.T) {
		radio := newFakeRadio(t)
		sink := &recordingSink{}
		events := &recordingPublisher{}
		relay := startRelay(t, radio.addr(), sink, events)
		radioConn := radio.next(t)
		require.Eventually(t, func() bool { return relay.radio.State() == protocol.Connected }, time.Second, 5*time.Millisecond)

		_, err := radioConn.Write([]byte("FA00014074000;FA00014074000;MD2;FA0000707"))
		require.NoError(t, err)
		_, err = radioConn.Write([]byte("4000;FA00007074000;"))
		require.NoError(t, err)

		require.Eventually(t, func() bool { return len(sink.commands()) == 2 }, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, []antenna.Command{
			antenna.SetFrequency(14074000),
			antenna.SetFrequency(7074000),
		}, sink.commands())

		freq, _ := relay.state.Load()
		assert.Equal(t, protocol.Frequency(7074000), freq)
		assert.Len(t, events.ofType(protocol.EventFrequency), 2)
	})

	t.Run("Malformed Report Ignored", func(t *testing.T) {
		radio := newFakeRadio(t)
		sink := &recordingSink{}
		relay := startRelay(t, radio.addr(), sink, nil)
		radioConn := radio.next(t)
		require.Eventually(t, func() bool { return relay.radio.State() == protocol.Connected }, time.Second, 5*time.Millisecond)

		_, err := radioConn.Write([]byte("FA0001407;FA000140740X0;"))
		require.NoError(t, err)
		time.Sleep(100 * time.Millisecond)
		assert.Empty(t, sink.commands())
	})
}

func TestRadioLinkReconnect(t *testing.T) {
	radio := newFakeRadio(t)
	sink := &recordingSink{}
	events := &recordingPublisher{}
	relay := startRelay(t, radio.addr(), sink, events)

	first := radio.next(t)
	require.Eventually(t, func() bool { return relay.radio.State() == protocol.Connected }, time.Second, 5*time.Millisecond)
	first.Close()

	second := radio.next(t)
	require.Eventually(t, func() bool { return relay.radio.State() == protocol.Connected }, time.Second, 5*time.Millisecond)

	_, err := second.Write([]byte("FA00021074000;"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sink.commands()) == 1 }, time.Second, 5*time.Millisecond)

	var states []string
	for _, e := range events.ofType(protocol.EventLink) {
		if e.Data["link"] == "radio" {
			states = append(states, e.Data["state"].(string))
		}
	}
	assert.Contains(t, states, "disconnected")
	assert.Equal(t, "connected", states[len(states)-1])
}

func TestRadioLinkSendWhileDisconnected(t *testing.T) {
	t.Run("Before Connect", func(t *testing.T) {
		link := NewRadioLink(testRadioConfig("127.0.0.1:1"), &FrequencyState{}, &recordingSink{}, nil)
		assert.ErrorIs(t, link.Send([]byte("FA;")), ErrRadioNotConnected)
	})

	t.Run("During Outage", func(t *testing.T) {
		radio := newFakeRadio(t)
		relay := startRelay(t, radio.addr(), &recordingSink{}, nil)
		conn := radio.next(t)
		require.Eventually(t, func() bool { return relay.radio.State() == protocol.Connected }, time.Second, 5*time.Millisecond)

		radio.listener.Close()
		conn.Close()

		require.Eventually(t, func() bool {
			return relay.radio.State() != protocol.Connected
		}, time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool {
			return relay.radio.Send([]byte("FA;")) == ErrRadioNotConnected
		}, time.Second, 5*time.Millisecond)
	})
}

func TestClientLinkSinglePeer(t *testing.T) {
	radio := newFakeRadio(t)
	relay := startRelay(t, radio.addr(), &recordingSink{}, nil)
	radioConn := radio.next(t)

	first := dialClient(t, relay.client)
	require.Eventually(t, relay.client.HasPeer, time.Second, 5*time.Millisecond)

	t.Run("Second Client Rejected", func(t *testing.T) {
		second := dialClient(t, relay.client)
		require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, err := second.Read(make([]byte, 1))
		assert.Equal(t, io.EOF, err)
		assert.True(t, relay.client.HasPeer())
	})

	t.Run("First Client Still Served", func(t *testing.T) {
		require.Eventually(t, func() bool { return relay.radio.State() == protocol.Connected }, time.Second, 5*time.Millisecond)
		_, err := radioConn.Write([]byte("MD2;"))
		require.NoError(t, err)
		assert.Equal(t, []byte("MD2;"), readExactly(t, first, 4))
	})

	t.Run("Next Client After Disconnect", func(t *testing.T) {
		first.Close()
		require.Eventually(t, func() bool { return !relay.client.HasPeer() }, time.Second, 5*time.Millisecond)

		third := dialClient(t, relay.client)
		require.Eventually(t, relay.client.HasPeer, time.Second, 5*time.Millisecond)

		_, err := radioConn.Write([]byte("FA00014074000;"))
		require.NoError(t, err)
		assert.Equal(t, []byte("FA00014074000;"), readExactly(t, third, 14))
	})
}

func TestShutdownIsPrompt(t *testing.T) {
	radio := newFakeRadio(t)
	state := &FrequencyState{}
	config := testRadioConfig(radio.addr())
	config.ReadPoll = 200 * time.Millisecond
	link := NewRadioLink(config, state, &recordingSink{}, nil)
	client := NewClientLink(ClientConfig{Address: "127.0.0.1:0"}, link, nil)
	link.SetDownstream(client)
	require.NoError(t, client.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	radioDone := make(chan error, 1)
	clientDone := make(chan error, 1)
	go func() { radioDone <- link.Run(ctx) }()
	go func() { clientDone <- client.Run(ctx) }()

	radio.next(t)
	dialClient(t, client)
	require.Eventually(t, client.HasPeer, time.Second, 5*time.Millisecond)

	cancel()
	for name, done := range map[string]chan error{"radio": radioDone, "client": clientDone} {
		select {
		case err := <-done:
			assert.NoError(t, err, name)
		case <-time.After(time.Second):
			t.Fatalf("%s link did not stop", name)
		}
	}
	assert.False(t, client.HasPeer())
}
