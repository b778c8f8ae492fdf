package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Frequency is a tuned frequency in hertz
type Frequency uint64

// MaxFrequency is the highest frequency the antenna controller accepts (HF plus 6 m)
const MaxFrequency Frequency = 60000000

// MHz returns the frequency in megahertz
func (f Frequency) MHz() float64 {
	return float64(f) / 1000000.0
}

func (f Frequency) String() string {
	return fmt.Sprintf("%.6f MHz", f.MHz())
}

// LinkState is the connection state of a socket component
type LinkState int32

const (
	Disconnected LinkState = iota
	Connecting
	Connected
)

func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state by name
func (s LinkState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name
func (s *LinkState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, state := range []LinkState{Disconnected, Connecting, Connected} {
		if state.String() == name {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown link state %q", name)
}

// Status is a snapshot of the relay for the display and control clients
type Status struct {
	Frequency        Frequency `json:"frequency"`
	AntennaFrequency Frequency `json:"antenna_frequency"`
	RadioLink        LinkState `json:"radio_link"`
	ClientAttached   bool      `json:"client_attached"`
	ChannelState     string    `json:"channel_state"`
	PendingCommands  int       `json:"pending_commands"`
	AntennaConnected bool      `json:"antenna_connected"`
	PollerEnabled    bool      `json:"poller_enabled"`
	Uptime           string    `json:"uptime"`
	StartTime        time.Time `json:"start_time"`
	Version          string    `json:"version"`
}

// Event types pushed to display subscribers
const (
	EventFrequency        = "frequency"
	EventAntennaFrequency = "antenna_frequency"
	EventLink             = "link"
	EventCommand          = "command"
)

// Event is a display notification
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType string, data map[string]interface{}) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Command represents a control socket command
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response represents a control socket response
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// ParseCommand parses a text command into a Command struct
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty command")
	}
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(strings.TrimSpace(parts[0])),
		Args: make(map[string]interface{}),
	}

	var arg string
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd.Type {
	case CmdFrequency:
		// FREQUENCY:14074000
		if arg == "" {
			return nil, fmt.Errorf("%s requires a frequency in Hz", cmd.Type)
		}
		cmd.Args["frequency"] = arg

	case CmdJog:
		// JOG:-10000
		if arg == "" {
			return nil, fmt.Errorf("%s requires a signed offset in Hz", cmd.Type)
		}
		cmd.Args["delta"] = arg

	case CmdBand:
		// BAND:UP or BAND:DOWN
		arg = strings.ToUpper(arg)
		if arg != "UP" && arg != "DOWN" {
			return nil, fmt.Errorf("%s requires UP or DOWN", cmd.Type)
		}
		cmd.Args["direction"] = arg

	case CmdDirection:
		// DIRECTION:NORMAL, DIRECTION:180, DIRECTION:BI
		arg = strings.ToUpper(arg)
		if arg == "" {
			return nil, fmt.Errorf("%s requires NORMAL, 180 or BI", cmd.Type)
		}
		cmd.Args["direction"] = arg

	case CmdHistory:
		// HISTORY or HISTORY:10
		if arg != "" {
			cmd.Args["limit"] = arg
		}

	case CmdAutotrack:
		// AUTOTRACK:ON or AUTOTRACK:OFF
		switch strings.ToUpper(arg) {
		case "ON":
			cmd.Args["enabled"] = true
		case "OFF":
			cmd.Args["enabled"] = false
		default:
			return nil, fmt.Errorf("%s requires ON or OFF", cmd.Type)
		}
	}

	return cmd, nil
}

// String renders the response as a single JSON line
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// Control socket commands
const (
	CmdStatus    = "STATUS"
	CmdPing      = "PING"
	CmdQuit      = "QUIT"
	CmdHistory   = "HISTORY"
	CmdFrequency = "FREQUENCY"
	CmdJog       = "JOG"
	CmdBand      = "BAND"
	CmdDirection = "DIRECTION"
	CmdAutotrack = "AUTOTRACK"
	CmdRetract   = "RETRACT"
	CmdCalibrate = "CALIBRATE"
)
