package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrSamePort is returned when the CAT listener would collide with the radio's CAT port
var ErrSamePort = errors.New("listener port must differ from radio port")

// Config represents the steppird configuration
type Config struct {
	Radio struct {
		// CAT server exposed by the radio (we are the client)
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		DialTimeoutMs  int    `yaml:"dial_timeout_ms"`
		RetryDelayMs   int    `yaml:"retry_delay_ms"`
		ReadPollMs     int    `yaml:"read_poll_ms"`
		WriteTimeoutMs int    `yaml:"write_timeout_ms"`
	} `yaml:"radio"`

	Listener struct {
		// CAT port offered to WSJT-X, Fldigi, JS8Call, etc.
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		WriteTimeoutMs int    `yaml:"write_timeout_ms"`
	} `yaml:"listener"`

	Poller struct {
		Enabled    bool `yaml:"enabled"`
		IntervalMs int  `yaml:"interval_ms"`
	} `yaml:"poller"`

	Antenna struct {
		Device           string `yaml:"device"`
		BaudRate         int    `yaml:"baud_rate"`
		ReadTimeoutMs    int    `yaml:"read_timeout_ms"`
		CommandSpacingMs int    `yaml:"command_spacing_ms"`
		StatusEnabled    bool   `yaml:"status_enabled"`
		StatusIntervalMs int    `yaml:"status_interval_ms"`
		UseMock          bool   `yaml:"use_mock"`
		QueueSize        int    `yaml:"queue_size"`
	} `yaml:"antenna"`

	Web struct {
		Enabled     bool   `yaml:"enabled"`
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxEntries   int    `yaml:"max_entries"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML configuration data and applies defaults
func ParseConfig(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return config, nil
}

// Default returns a configuration with every default filled in
func Default() *Config {
	config := &Config{}
	config.Web.Enabled = true
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.Radio.Host == "" {
		c.Radio.Host = "127.0.0.1"
	}
	if c.Radio.Port == 0 {
		c.Radio.Port = 21000
	}
	if c.Radio.DialTimeoutMs == 0 {
		c.Radio.DialTimeoutMs = 2000
	}
	if c.Radio.RetryDelayMs == 0 {
		c.Radio.RetryDelayMs = 2000
	}
	if c.Radio.ReadPollMs == 0 {
		c.Radio.ReadPollMs = 500
	}
	if c.Radio.WriteTimeoutMs == 0 {
		c.Radio.WriteTimeoutMs = 1000
	}
	if c.Listener.Host == "" {
		c.Listener.Host = "127.0.0.1"
	}
	if c.Listener.Port == 0 {
		c.Listener.Port = 19090
	}
	if c.Listener.WriteTimeoutMs == 0 {
		c.Listener.WriteTimeoutMs = 1000
	}
	if c.Poller.IntervalMs == 0 {
		c.Poller.IntervalMs = 5000
	}
	if c.Antenna.Device == "" {
		c.Antenna.Device = "/dev/ttyUSB0"
	}
	if c.Antenna.BaudRate == 0 {
		c.Antenna.BaudRate = 1200
	}
	if c.Antenna.ReadTimeoutMs == 0 {
		c.Antenna.ReadTimeoutMs = 2000
	}
	if c.Antenna.CommandSpacingMs == 0 {
		c.Antenna.CommandSpacingMs = 1000
	}
	if c.Antenna.StatusIntervalMs == 0 {
		c.Antenna.StatusIntervalMs = 1000
	}
	if c.Antenna.QueueSize == 0 {
		c.Antenna.QueueSize = 16
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "127.0.0.1"
	}
	if c.API.UnixSocket == "" {
		c.API.UnixSocket = "/tmp/steppird.sock"
	}
	if c.Storage.MaxEntries == 0 {
		c.Storage.MaxEntries = 5000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validateHost("radio", c.Radio.Host); err != nil {
		return err
	}
	if err := validatePort("radio", c.Radio.Port); err != nil {
		return err
	}
	if err := validateHost("listener", c.Listener.Host); err != nil {
		return err
	}
	if err := validatePort("listener", c.Listener.Port); err != nil {
		return err
	}
	if c.Listener.Port == c.Radio.Port {
		return fmt.Errorf("%w (both %d)", ErrSamePort, c.Radio.Port)
	}

	durations := map[string]int{
		"radio.dial_timeout_ms":      c.Radio.DialTimeoutMs,
		"radio.retry_delay_ms":       c.Radio.RetryDelayMs,
		"radio.read_poll_ms":         c.Radio.ReadPollMs,
		"radio.write_timeout_ms":     c.Radio.WriteTimeoutMs,
		"listener.write_timeout_ms":  c.Listener.WriteTimeoutMs,
		"poller.interval_ms":         c.Poller.IntervalMs,
		"antenna.read_timeout_ms":    c.Antenna.ReadTimeoutMs,
		"antenna.command_spacing_ms": c.Antenna.CommandSpacingMs,
		"antenna.status_interval_ms": c.Antenna.StatusIntervalMs,
	}
	for key, value := range durations {
		if value < 0 {
			return fmt.Errorf("%s must be positive, got %d", key, value)
		}
	}

	if c.Antenna.BaudRate < 0 {
		return fmt.Errorf("antenna baud rate must be positive, got %d", c.Antenna.BaudRate)
	}
	if !c.Antenna.UseMock && c.Antenna.Device == "" {
		return fmt.Errorf("antenna device is required unless use_mock is set")
	}
	if c.Antenna.QueueSize < 0 {
		return fmt.Errorf("antenna queue size must be positive, got %d", c.Antenna.QueueSize)
	}
	if c.Web.Enabled {
		if err := validatePort("web", c.Web.Port); err != nil {
			return err
		}
	}
	return nil
}

// RadioAddress returns the radio CAT host:port
func (c *Config) RadioAddress() string {
	return net.JoinHostPort(c.Radio.Host, fmt.Sprintf("%d", c.Radio.Port))
}

// ListenerAddress returns the downstream CAT listener host:port
func (c *Config) ListenerAddress() string {
	return net.JoinHostPort(c.Listener.Host, fmt.Sprintf("%d", c.Listener.Port))
}

// WebAddress returns the web panel bind address
func (c *Config) WebAddress() string {
	return net.JoinHostPort(c.Web.BindAddress, fmt.Sprintf("%d", c.Web.Port))
}

// DialTimeout bounds a single connect attempt to the radio
func (c *Config) DialTimeout() time.Duration {
	return ms(c.Radio.DialTimeoutMs)
}

// RetryDelay is the pause between radio reconnect attempts
func (c *Config) RetryDelay() time.Duration {
	return ms(c.Radio.RetryDelayMs)
}

// ReadPoll bounds each radio read so cancellation is noticed
func (c *Config) ReadPoll() time.Duration {
	return ms(c.Radio.ReadPollMs)
}

// RadioWriteTimeout bounds a write of client bytes to the radio
func (c *Config) RadioWriteTimeout() time.Duration {
	return ms(c.Radio.WriteTimeoutMs)
}

// PeerWriteTimeout bounds a write of radio bytes to the CAT client
func (c *Config) PeerWriteTimeout() time.Duration {
	return ms(c.Listener.WriteTimeoutMs)
}

// PollInterval is the radio frequency query period used while no client is attached
func (c *Config) PollInterval() time.Duration {
	return ms(c.Poller.IntervalMs)
}

// SerialReadTimeout bounds a reply from the antenna controller
func (c *Config) SerialReadTimeout() time.Duration {
	return ms(c.Antenna.ReadTimeoutMs)
}

// CommandSpacing is the minimum gap between antenna controller transactions
func (c *Config) CommandSpacing() time.Duration {
	return ms(c.Antenna.CommandSpacingMs)
}

// StatusInterval is the idle period between antenna frequency readbacks
func (c *Config) StatusInterval() time.Duration {
	return ms(c.Antenna.StatusIntervalMs)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s port %d out of range", name, port)
	}
	return nil
}

// validateHost accepts IP literals and RFC 1123 host names
func validateHost(name, host string) error {
	if host == "" {
		return fmt.Errorf("%s host is required", name)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 {
		return fmt.Errorf("%s host %q is too long", name, host)
	}
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || len(label) > 63 {
			return fmt.Errorf("%s host %q is not a valid host name", name, host)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return fmt.Errorf("%s host %q is not a valid host name", name, host)
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
				return fmt.Errorf("%s host %q is not a valid host name", name, host)
			}
		}
	}
	return nil
}
