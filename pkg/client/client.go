package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/dougsko/steppird/pkg/protocol"
)

// SocketClient talks to the daemon's control socket
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SendCommand sends a command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return &response, nil
}

// call sends cmd and turns an unsuccessful response into an error
func (c *SocketClient) call(cmd string) (*protocol.Response, error) {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s: %s", cmd, resp.Error)
	}
	return resp, nil
}

// GetStatus gets the current relay status
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	resp, err := c.call(protocol.CmdStatus)
	if err != nil {
		return nil, err
	}

	statusData, ok := resp.Data["status"]
	if !ok {
		return nil, fmt.Errorf("status not found in response")
	}

	// Convert to JSON and back to parse properly
	statusJSON, _ := json.Marshal(statusData)
	var status protocol.Status
	if err := json.Unmarshal(statusJSON, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}

	return &status, nil
}

// SetFrequency tunes the antenna to frequency hertz
func (c *SocketClient) SetFrequency(frequency uint64) error {
	_, err := c.call(fmt.Sprintf("%s:%d", protocol.CmdFrequency, frequency))
	return err
}

// Jog moves the antenna by delta hertz and returns the new target
func (c *SocketClient) Jog(delta int64) (uint64, error) {
	return c.tune(fmt.Sprintf("%s:%+d", protocol.CmdJog, delta))
}

// Band moves the antenna one band up or down and returns the new target
func (c *SocketClient) Band(up bool) (uint64, error) {
	direction := "DOWN"
	if up {
		direction = "UP"
	}
	return c.tune(fmt.Sprintf("%s:%s", protocol.CmdBand, direction))
}

func (c *SocketClient) tune(cmd string) (uint64, error) {
	resp, err := c.call(cmd)
	if err != nil {
		return 0, err
	}
	freq, ok := resp.Data["frequency"].(float64)
	if !ok {
		return 0, fmt.Errorf("frequency not found in response")
	}
	return uint64(freq), nil
}

// SetDirection accepts NORMAL, 180 or BI
func (c *SocketClient) SetDirection(direction string) error {
	_, err := c.call(fmt.Sprintf("%s:%s", protocol.CmdDirection, direction))
	return err
}

// SetAutotrack turns controller autotrack on or off
func (c *SocketClient) SetAutotrack(enabled bool) error {
	state := "OFF"
	if enabled {
		state = "ON"
	}
	_, err := c.call(fmt.Sprintf("%s:%s", protocol.CmdAutotrack, state))
	return err
}

// Retract queues an element retraction
func (c *SocketClient) Retract() error {
	_, err := c.call(protocol.CmdRetract)
	return err
}

// Calibrate queues a calibration cycle
func (c *SocketClient) Calibrate() error {
	_, err := c.call(protocol.CmdCalibrate)
	return err
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	_, err := c.call(protocol.CmdPing)
	return err
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}
