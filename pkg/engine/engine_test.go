package engine

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/dougsko/steppird/pkg/antenna"
	"github.com/dougsko/steppird/pkg/config"
	"github.com/dougsko/steppird/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEngine starts an engine against a loopback radio and returns the
// radio side of the CAT connection
func testEngine(t *testing.T, mutate func(cfg *config.Config)) (*CoreEngine, *antenna.MockController, net.Conn) {
	t.Helper()

	radio, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { radio.Close() })
	radioConns := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := radio.Accept()
			if err != nil {
				return
			}
			radioConns <- conn
		}
	}()

	tempDir := t.TempDir()
	cfg := config.Default()
	cfg.Radio.Port = radio.Addr().(*net.TCPAddr).Port
	cfg.Radio.RetryDelayMs = 50
	cfg.Radio.ReadPollMs = 20
	cfg.Listener.Port = 0
	cfg.Antenna.UseMock = true
	cfg.Antenna.CommandSpacingMs = 1
	cfg.Storage.DatabasePath = filepath.Join(tempDir, "history.db")
	if mutate != nil {
		mutate(cfg)
	}

	mock := antenna.NewMockController()
	engine := newCoreEngine(cfg, filepath.Join(tempDir, "ctl.sock"), mock)
	require.NoError(t, engine.Start())
	t.Cleanup(func() { assert.NoError(t, engine.Stop()) })

	select {
	case conn := <-radioConns:
		t.Cleanup(func() { conn.Close() })
		require.Eventually(t, func() bool { return engine.Status().RadioLink == protocol.Connected }, time.Second, 5*time.Millisecond)
		return engine, mock, conn
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not connect to the radio")
		return nil, nil, nil
	}
}

func sendCommand(t *testing.T, engine *CoreEngine, line string) protocol.Response {
	t.Helper()
	conn, err := net.Dial("unix", engine.socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var response protocol.Response
	require.NoError(t, json.Unmarshal([]byte(reply), &response))
	return response
}

func TestCoreEngineLifecycle(t *testing.T) {
	engine, mock, _ := testEngine(t, nil)

	assert.True(t, engine.IsRunning())
	assert.True(t, mock.IsConnected())
	require.NotNil(t, engine.CATAddress())
	assert.Error(t, engine.Start(), "second Start fails")

	status := engine.Status()
	assert.Equal(t, Version, status.Version)
	assert.False(t, status.ClientAttached)
	assert.False(t, status.PollerEnabled)
	assert.Equal(t, "idle", status.ChannelState)
}

func TestCoreEngineStartAfterStop(t *testing.T) {
	engine, _, _ := testEngine(t, nil)
	addr := engine.CATAddress().String()

	require.NoError(t, engine.Stop())
	assert.False(t, engine.IsRunning())

	err := engine.Start()
	assert.ErrorIs(t, err, ErrEngineStopped)
	assert.False(t, engine.IsRunning())

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "CAT listener stays closed")

	events, unsubscribe := engine.Events().Subscribe()
	defer unsubscribe()
	_, open := <-events
	assert.False(t, open)

	assert.NoError(t, engine.Stop(), "second Stop is a no-op")
}

func TestCoreEngineFollowsRadio(t *testing.T) {
	engine, mock, radio := testEngine(t, nil)

	downstream, err := net.Dial("tcp", engine.CATAddress().String())
	require.NoError(t, err)
	defer downstream.Close()
	require.Eventually(t, func() bool { return engine.Status().ClientAttached }, time.Second, 5*time.Millisecond)

	_, err = radio.Write([]byte("FA00014074000;"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(mock.Applied()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, antenna.SetFrequency(14074000), mock.Applied()[0])
	assert.Equal(t, protocol.Frequency(14074000), engine.Status().Frequency)

	require.NoError(t, downstream.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 14)
	_, err = io.ReadFull(downstream, buf)
	require.NoError(t, err)
	assert.Equal(t, "FA00014074000;", string(buf))

	require.Eventually(t, func() bool {
		entries, err := engine.History(10)
		return err == nil && len(entries) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCoreEnginePolling(t *testing.T) {
	_, _, radio := testEngine(t, func(cfg *config.Config) {
		cfg.Poller.Enabled = true
		cfg.Poller.IntervalMs = 20
	})

	require.NoError(t, radio.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 3)
	_, err := radio.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "FA;", string(buf))
}

func TestControlSocket(t *testing.T) {
	engine, mock, _ := testEngine(t, nil)

	t.Run("Ping", func(t *testing.T) {
		response := sendCommand(t, engine, "PING")
		assert.True(t, response.Success)
		assert.Contains(t, response.Data, "pong")
	})

	t.Run("Status", func(t *testing.T) {
		response := sendCommand(t, engine, "STATUS")
		require.True(t, response.Success)
		status := response.Data["status"].(map[string]interface{})
		assert.Equal(t, "connected", status["radio_link"])
	})

	t.Run("Relative Tuning Needs A Frequency", func(t *testing.T) {
		response := sendCommand(t, engine, "JOG:10000")
		assert.False(t, response.Success)
		assert.Contains(t, response.Error, ErrFrequencyUnknown.Error())
	})

	t.Run("Frequency", func(t *testing.T) {
		response := sendCommand(t, engine, "FREQUENCY:7074000")
		require.True(t, response.Success, response.Error)
		assert.Equal(t, float64(7074000), response.Data["frequency"])
		require.Eventually(t, func() bool {
			freq, err := mock.GetFrequency()
			return err == nil && freq == 7074000
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Jog And Band", func(t *testing.T) {
		response := sendCommand(t, engine, "JOG:-1000000")
		require.True(t, response.Success, response.Error)
		assert.Equal(t, float64(6074000), response.Data["frequency"])

		response = sendCommand(t, engine, "BAND:UP")
		require.True(t, response.Success, response.Error)
		assert.Equal(t, float64(10100000), response.Data["frequency"])

		response = sendCommand(t, engine, "BAND:DOWN")
		require.True(t, response.Success, response.Error)
		assert.Equal(t, float64(7000000), response.Data["frequency"])
	})

	t.Run("Antenna Operations", func(t *testing.T) {
		for _, line := range []string{"DIRECTION:180", "AUTOTRACK:ON", "RETRACT", "CALIBRATE"} {
			response := sendCommand(t, engine, line)
			assert.True(t, response.Success, line)
		}
		require.Eventually(t, func() bool { return mock.Direction() == antenna.Direction180 && mock.Autotrack() }, time.Second, 5*time.Millisecond)
	})

	t.Run("History", func(t *testing.T) {
		require.Eventually(t, func() bool {
			response := sendCommand(t, engine, "HISTORY:3")
			count, _ := response.Data["count"].(float64)
			return response.Success && count == 3
		}, time.Second, 10*time.Millisecond)

		response := sendCommand(t, engine, "HISTORY:1")
		require.True(t, response.Success, response.Error)
		entries := response.Data["entries"].([]interface{})
		require.Len(t, entries, 1)
		newest := entries[0].(map[string]interface{})
		assert.Equal(t, "delivered", newest["outcome"])
	})

	t.Run("Rejected Input", func(t *testing.T) {
		for _, line := range []string{"HISTORY:abc", "HISTORY:0", "FREQUENCY:abc", "FREQUENCY:99000000", "DIRECTION:UP", "AUTOTRACK:MAYBE", "BOGUS"} {
			response := sendCommand(t, engine, line)
			assert.False(t, response.Success, line)
			assert.NotEmpty(t, response.Error, line)
		}
	})
}

func TestOperatorFailureSurfaced(t *testing.T) {
	radio, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer radio.Close()

	cfg := config.Default()
	cfg.Radio.Port = radio.Addr().(*net.TCPAddr).Port
	cfg.Listener.Port = 0
	cfg.Antenna.CommandSpacingMs = 1

	mock := antenna.NewMockController()
	mock.SetFailure(func(cmd antenna.Command) error {
		if cmd.Kind == antenna.KindCalibrate {
			return errors.New("serial timeout")
		}
		return nil
	})
	engine := newCoreEngine(cfg, "", mock)
	events, unsubscribe := engine.Events().Subscribe()
	defer unsubscribe()

	require.NoError(t, engine.Start())
	defer engine.Stop()

	require.NoError(t, engine.Calibrate())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Type != protocol.EventCommand {
				continue
			}
			assert.Equal(t, "calibrate", event.Data["command"])
			assert.Equal(t, "failed", event.Data["outcome"])
			assert.Equal(t, "serial timeout", event.Data["error"])

			require.Eventually(t, func() bool {
				entries, err := engine.History(1)
				return err == nil && len(entries) == 1 && entries[0].Outcome == "failed"
			}, time.Second, 5*time.Millisecond)
			return
		case <-deadline:
			t.Fatal("no command event")
		}
	}
}

func TestSecondClientRejected(t *testing.T) {
	engine, _, _ := testEngine(t, nil)
	addr := engine.CATAddress().String()

	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return engine.Status().ClientAttached }, time.Second, 5*time.Millisecond)

	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := second.Read(make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.Error(t, err)
	assert.True(t, engine.Status().ClientAttached)

}
