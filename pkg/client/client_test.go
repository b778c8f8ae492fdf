package client

import (
	"bufio"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dougsko/steppird/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon answers each command line with reply(line)
type fakeDaemon struct {
	mu       sync.Mutex
	received []string
}

func startFakeDaemon(t *testing.T, reply func(line string) *protocol.Response) (*fakeDaemon, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctl.sock")
	listener, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	daemon := &fakeDaemon{}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					line := scanner.Text()
					daemon.mu.Lock()
					daemon.received = append(daemon.received, line)
					daemon.mu.Unlock()
					conn.Write([]byte(reply(line).String() + "\n"))
				}
			}(conn)
		}
	}()
	return daemon, path
}

func (d *fakeDaemon) lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.received...)
}

func TestSocketClientCommands(t *testing.T) {
	daemon, path := startFakeDaemon(t, func(line string) *protocol.Response {
		return protocol.NewSuccessResponse(map[string]interface{}{
			"status":    "queued",
			"frequency": 7000000,
		})
	})
	c := NewSocketClient(path)

	require.NoError(t, c.SetFrequency(14074000))
	freq, err := c.Jog(-1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(7000000), freq)
	_, err = c.Band(true)
	require.NoError(t, err)
	_, err = c.Band(false)
	require.NoError(t, err)
	require.NoError(t, c.SetDirection("BI"))
	require.NoError(t, c.SetAutotrack(true))
	require.NoError(t, c.Retract())
	require.NoError(t, c.Calibrate())
	assert.True(t, c.IsConnected())

	assert.Equal(t, []string{
		"FREQUENCY:14074000",
		"JOG:-1000",
		"BAND:UP",
		"BAND:DOWN",
		"DIRECTION:BI",
		"AUTOTRACK:ON",
		"RETRACT",
		"CALIBRATE",
		"PING",
	}, daemon.lines())
}

func TestSocketClientStatus(t *testing.T) {
	_, path := startFakeDaemon(t, func(line string) *protocol.Response {
		return protocol.NewSuccessResponse(map[string]interface{}{
			"status": protocol.Status{
				Frequency:      14074000,
				RadioLink:      protocol.Connected,
				ClientAttached: true,
				ChannelState:   "idle",
				Version:        "test",
			},
		})
	})

	status, err := NewSocketClient(path).GetStatus()
	require.NoError(t, err)
	assert.Equal(t, protocol.Frequency(14074000), status.Frequency)
	assert.Equal(t, protocol.Connected, status.RadioLink)
	assert.True(t, status.ClientAttached)
	assert.Equal(t, "idle", status.ChannelState)
}

func TestSocketClientErrors(t *testing.T) {
	_, path := startFakeDaemon(t, func(line string) *protocol.Response {
		return protocol.NewErrorResponse("frequency unknown")
	})
	c := NewSocketClient(path)

	_, err := c.Jog(1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frequency unknown")
	assert.False(t, c.IsConnected())

	missing := NewSocketClient(filepath.Join(t.TempDir(), "missing.sock"))
	assert.Error(t, missing.Ping())
}
