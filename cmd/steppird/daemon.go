package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dougsko/steppird/pkg/client"
	"github.com/dougsko/steppird/pkg/config"
	"github.com/dougsko/steppird/pkg/engine"
	"github.com/dougsko/steppird/pkg/logging"
)

// StepDaemon runs the relay engine and the web panel in front of it
type StepDaemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logging.ComponentLogger

	coreEngine   *engine.CoreEngine
	socketClient *client.SocketClient
	router       *gin.Engine
	webServer    *http.Server
	webListener  net.Listener
}

// NewStepDaemon creates a daemon around a new core engine
func NewStepDaemon(cfg *config.Config) *StepDaemon {
	return newStepDaemon(cfg, engine.NewCoreEngine(cfg, cfg.API.UnixSocket))
}

func newStepDaemon(cfg *config.Config, core *engine.CoreEngine) *StepDaemon {
	ctx, cancel := context.WithCancel(context.Background())

	d := &StepDaemon{
		config:       cfg,
		ctx:          ctx,
		cancel:       cancel,
		log:          logging.For("daemon"),
		coreEngine:   core,
		socketClient: client.NewSocketClient(cfg.API.UnixSocket),
	}
	d.setupRouter()
	return d
}

// Start starts the engine, checks its control socket, then serves the web panel
func (d *StepDaemon) Start() error {
	d.log.Infof("Starting steppird daemon...")

	if err := d.coreEngine.Start(); err != nil {
		return fmt.Errorf("failed to start core engine: %w", err)
	}

	if !d.socketClient.IsConnected() {
		d.coreEngine.Stop()
		return fmt.Errorf("failed to connect to core engine socket")
	}

	if !d.config.Web.Enabled {
		return nil
	}

	listener, err := net.Listen("tcp", d.config.WebAddress())
	if err != nil {
		d.coreEngine.Stop()
		return fmt.Errorf("failed to listen on %s: %w", d.config.WebAddress(), err)
	}
	d.webListener = listener
	d.webServer = &http.Server{Handler: d.router}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.log.Infof("Starting web server on %s", listener.Addr())
		if err := d.webServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Errorf("Web server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the daemon gracefully
func (d *StepDaemon) Stop() error {
	d.log.Infof("Stopping daemon...")

	// Ends websocket sessions, which Shutdown does not track
	d.cancel()

	var errs []error
	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("web server shutdown: %w", err))
		}
	}

	if err := d.coreEngine.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("core engine shutdown: %w", err))
	}

	d.wg.Wait()

	d.log.Infof("Daemon stopped")
	return errors.Join(errs...)
}

// WebAddress is the bound web panel address, nil when the panel is disabled
func (d *StepDaemon) WebAddress() net.Addr {
	if d.webListener == nil {
		return nil
	}
	return d.webListener.Addr()
}

func (d *StepDaemon) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), d.requestLogger())

	router.GET("/ws", d.handleEventsWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/config", d.handleGetConfig)
		api.GET("/history", d.handleGetHistory)
		api.GET("/serial", d.handleGetSerialDevices)

		antenna := api.Group("/antenna")
		antenna.POST("/frequency", d.handleSetFrequency)
		antenna.POST("/jog", d.handleJog)
		antenna.POST("/band", d.handleBand)
		antenna.POST("/direction", d.handleSetDirection)
		antenna.POST("/autotrack", d.handleSetAutotrack)
		antenna.POST("/retract", d.handleRetract)
		antenna.POST("/calibrate", d.handleCalibrate)
	}

	d.router = router
}

// requestLogger routes gin's access log through the daemon logger
func (d *StepDaemon) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		d.log.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
