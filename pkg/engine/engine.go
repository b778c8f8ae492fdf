package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dougsko/steppird/pkg/antenna"
	"github.com/dougsko/steppird/pkg/config"
	"github.com/dougsko/steppird/pkg/events"
	"github.com/dougsko/steppird/pkg/logging"
	"github.com/dougsko/steppird/pkg/protocol"
	"github.com/dougsko/steppird/pkg/relay"
	"github.com/dougsko/steppird/pkg/storage"
)

// Version is reported in status snapshots
const Version = "0.1.0-dev"

// ErrFrequencyUnknown is returned by relative tuning before any frequency is known
var ErrFrequencyUnknown = errors.New("current frequency unknown")

// ErrEngineStopped is returned by Start once the engine has been stopped.
// Components are not restartable; build a new engine instead.
var ErrEngineStopped = errors.New("engine stopped")

// CoreEngine owns the relay components and the antenna channel and runs
// them for the lifetime of the daemon
type CoreEngine struct {
	config     *config.Config
	socketPath string
	startTime  time.Time
	log        *logging.ComponentLogger

	controller antenna.Controller
	channel    *antenna.Channel
	frequency  *relay.FrequencyState
	antennaAt  relay.FrequencyState
	radio      *relay.RadioLink
	client     *relay.ClientLink
	poller     *relay.RadioPoller
	events     *events.Hub
	history    *storage.HistoryStore
	records    chan storage.Entry

	mutex    sync.Mutex
	running  bool
	stopped  bool
	cancel   context.CancelFunc
	listener net.Listener
	wg       sync.WaitGroup
}

// NewCoreEngine creates an engine for cfg. The control socket is served on
// socketPath; an empty path disables it.
func NewCoreEngine(cfg *config.Config, socketPath string) *CoreEngine {
	var controller antenna.Controller
	if cfg.Antenna.UseMock {
		controller = antenna.NewMockController()
	} else {
		controller = antenna.NewSDA100(antenna.SerialConfig{
			Device:      cfg.Antenna.Device,
			BaudRate:    cfg.Antenna.BaudRate,
			ReadTimeout: cfg.SerialReadTimeout(),
		})
	}
	return newCoreEngine(cfg, socketPath, controller)
}

func newCoreEngine(cfg *config.Config, socketPath string, controller antenna.Controller) *CoreEngine {
	e := &CoreEngine{
		config:     cfg,
		socketPath: socketPath,
		startTime:  time.Now(),
		log:        logging.For("engine"),
		controller: controller,
		frequency:  &relay.FrequencyState{},
		events:     events.NewHub(events.DefaultBuffer),
		records:    make(chan storage.Entry, 64),
	}

	channelConfig := antenna.ChannelConfig{
		Spacing:   cfg.CommandSpacing(),
		QueueSize: cfg.Antenna.QueueSize,
	}
	if cfg.Antenna.StatusEnabled {
		channelConfig.StatusInterval = cfg.StatusInterval()
	}
	e.channel = antenna.NewChannel(controller, channelConfig, e)

	e.radio = relay.NewRadioLink(relay.RadioConfig{
		Address:      cfg.RadioAddress(),
		DialTimeout:  cfg.DialTimeout(),
		RetryDelay:   cfg.RetryDelay(),
		ReadPoll:     cfg.ReadPoll(),
		WriteTimeout: cfg.RadioWriteTimeout(),
	}, e.frequency, e.channel, e.events)

	e.client = relay.NewClientLink(relay.ClientConfig{
		Address:      cfg.ListenerAddress(),
		WriteTimeout: cfg.PeerWriteTimeout(),
	}, e.radio, e.events)
	e.radio.SetDownstream(e.client)

	if cfg.Poller.Enabled {
		e.poller = relay.NewRadioPoller(e.radio, e.client, cfg.PollInterval())
	}

	return e
}

// Start binds the CAT listener and control socket and starts every component
func (e *CoreEngine) Start() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.running {
		return fmt.Errorf("engine already running")
	}
	if e.stopped {
		return ErrEngineStopped
	}

	history, err := storage.NewHistoryStore(e.config.Storage.DatabasePath, e.config.Storage.MaxEntries)
	if err != nil {
		return err
	}

	if err := e.client.Listen(); err != nil {
		history.Close()
		return err
	}

	if e.socketPath != "" {
		if err := e.listenControl(); err != nil {
			e.client.Unlisten()
			history.Close()
			return err
		}
	}
	e.history = history

	// The serial driver reopens the port on the next command if this fails
	if err := e.controller.Initialize(); err != nil {
		e.log.Warnf("antenna controller unavailable: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true
	e.startTime = time.Now()

	e.spawn(ctx, "serial channel", e.channel.Run)
	e.spawn(ctx, "radio link", e.radio.Run)
	e.spawn(ctx, "client link", e.client.Run)
	if e.poller != nil {
		e.spawn(ctx, "radio poller", e.poller.Run)
	}
	e.spawn(ctx, "history recorder", e.recordHistory)
	if e.listener != nil {
		e.spawn(ctx, "control socket", e.acceptConnections)
	}

	e.log.Infof("relaying %s <-> %s", e.config.ListenerAddress(), e.config.RadioAddress())
	return nil
}

func (e *CoreEngine) spawn(ctx context.Context, name string, run func(context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := run(ctx); err != nil {
			e.log.Errorf("%s stopped: %v", name, err)
		}
	}()
}

func (e *CoreEngine) listenControl() error {
	os.Remove(e.socketPath)

	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}
	if err := os.Chmod(e.socketPath, 0660); err != nil {
		e.log.Warnf("failed to set socket permissions: %v", err)
	}
	e.listener = listener
	e.log.Infof("control socket listening on %s", e.socketPath)
	return nil
}

// Stop cancels every component and waits for them to finish
func (e *CoreEngine) Stop() error {
	e.mutex.Lock()
	if !e.running {
		e.mutex.Unlock()
		return nil
	}
	e.running = false
	e.stopped = true
	e.cancel()
	if e.listener != nil {
		e.listener.Close()
	}
	e.mutex.Unlock()

	e.wg.Wait()

	var errs []error
	if err := e.controller.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close antenna controller: %w", err))
	}
	if err := e.history.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}
	e.events.Close()
	if e.socketPath != "" {
		os.Remove(e.socketPath)
	}

	e.log.Infof("engine stopped")
	return errors.Join(errs...)
}

// IsRunning reports whether Start has been called without Stop
func (e *CoreEngine) IsRunning() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.running
}

// Events returns the display notification hub
func (e *CoreEngine) Events() *events.Hub {
	return e.events
}

// Controller returns the antenna controller driver
func (e *CoreEngine) Controller() antenna.Controller {
	return e.controller
}

// Config returns the active configuration
func (e *CoreEngine) Config() *config.Config {
	return e.config
}

// CATAddress returns the bound downstream CAT listener address
func (e *CoreEngine) CATAddress() net.Addr {
	return e.client.Addr()
}

// Status returns a snapshot for the display
func (e *CoreEngine) Status() protocol.Status {
	frequency, _ := e.frequency.Load()
	antennaAt, _ := e.antennaAt.Load()

	return protocol.Status{
		Frequency:        frequency,
		AntennaFrequency: antennaAt,
		RadioLink:        e.radio.State(),
		ClientAttached:   e.client.HasPeer(),
		ChannelState:     e.channel.State().String(),
		PendingCommands:  e.channel.Pending(),
		AntennaConnected: e.controller.IsConnected(),
		PollerEnabled:    e.poller != nil,
		Uptime:           time.Since(e.startTime).Round(time.Second).String(),
		StartTime:        e.startTime,
		Version:          Version,
	}
}

// History returns the newest limit journal entries
func (e *CoreEngine) History(limit int) ([]storage.Entry, error) {
	if e.history == nil {
		return nil, fmt.Errorf("history not available")
	}
	return e.history.Recent(limit)
}

// QueryHistory returns journal entries matching query, newest first
func (e *CoreEngine) QueryHistory(query storage.HistoryQuery) ([]storage.Entry, error) {
	if e.history == nil {
		return nil, fmt.Errorf("history not available")
	}
	return e.history.Query(query)
}

// HistoryStats summarises the command journal
func (e *CoreEngine) HistoryStats() (*storage.HistoryStats, error) {
	if e.history == nil {
		return nil, fmt.Errorf("history not available")
	}
	return e.history.Stats()
}
