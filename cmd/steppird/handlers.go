package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"gopkg.in/yaml.v2"

	"github.com/dougsko/steppird/pkg/antenna"
	"github.com/dougsko/steppird/pkg/engine"
	"github.com/dougsko/steppird/pkg/protocol"
	"github.com/dougsko/steppird/pkg/storage"
)

// handleGetStatus returns the relay status via the control socket
func (d *StepDaemon) handleGetStatus(c *gin.Context) {
	status, err := d.socketClient.GetStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// handleGetConfig returns the current configuration
func (d *StepDaemon) handleGetConfig(c *gin.Context) {
	// Round trip through YAML so field names match the config file
	yamlData, err := yaml.Marshal(d.config)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to marshal config: %v", err),
		})
		return
	}

	var yamlConfig interface{}
	if err := yaml.Unmarshal(yamlData, &yamlConfig); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to unmarshal config: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, convertYamlToJson(yamlConfig))
}

// convertYamlToJson converts YAML map[interface{}]interface{} to JSON-compatible map[string]interface{}
func convertYamlToJson(i interface{}) interface{} {
	switch x := i.(type) {
	case map[interface{}]interface{}:
		m2 := map[string]interface{}{}
		for k, v := range x {
			m2[fmt.Sprint(k)] = convertYamlToJson(v)
		}
		return m2
	case []interface{}:
		for i, v := range x {
			x[i] = convertYamlToJson(v)
		}
	}
	return i
}

// handleGetHistory returns journalled antenna commands, newest first
func (d *StepDaemon) handleGetHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	query := storage.HistoryQuery{
		Limit:   limit,
		Offset:  offset,
		Command: c.Query("command"),
		Outcome: c.Query("outcome"),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid since: %v", err)})
			return
		}
		query.Since = &t
	}

	entries, err := d.coreEngine.QueryHistory(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := d.coreEngine.HistoryStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
		"stats":   stats,
	})
}

// handleGetSerialDevices lists serial ports an SDA-100 could be attached to
func (d *StepDaemon) handleGetSerialDevices(c *gin.Context) {
	ports, err := serial.GetPortsList()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ports == nil {
		ports = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"serial_devices": ports,
		"configured":     d.config.Antenna.Device,
	})
}

func (d *StepDaemon) handleSetFrequency(c *gin.Context) {
	var req struct {
		Frequency uint64 `json:"frequency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	freq := protocol.Frequency(req.Frequency)
	d.tuned(c, freq, d.coreEngine.SetFrequency(freq))
}

func (d *StepDaemon) handleJog(c *gin.Context) {
	var req struct {
		Delta int64 `json:"delta" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	freq, err := d.coreEngine.Jog(req.Delta)
	d.tuned(c, freq, err)
}

func (d *StepDaemon) handleBand(c *gin.Context) {
	var req struct {
		Direction string `json:"direction" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch strings.ToLower(req.Direction) {
	case "up":
		freq, err := d.coreEngine.BandUp()
		d.tuned(c, freq, err)
	case "down":
		freq, err := d.coreEngine.BandDown()
		d.tuned(c, freq, err)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("direction must be up or down, got %q", req.Direction)})
	}
}

func (d *StepDaemon) handleSetDirection(c *gin.Context) {
	var req struct {
		Direction string `json:"direction" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dir, err := antenna.ParseDirection(strings.ToLower(req.Direction))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d.queued(c, d.coreEngine.SetDirection(dir))
}

func (d *StepDaemon) handleSetAutotrack(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d.queued(c, d.coreEngine.SetAutotrack(*req.Enabled))
}

func (d *StepDaemon) handleRetract(c *gin.Context) {
	d.queued(c, d.coreEngine.Retract())
}

func (d *StepDaemon) handleCalibrate(c *gin.Context) {
	d.queued(c, d.coreEngine.Calibrate())
}

func (d *StepDaemon) tuned(c *gin.Context, freq protocol.Frequency, err error) {
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":    "queued",
		"frequency": uint64(freq),
	})
}

func (d *StepDaemon) queued(c *gin.Context, err error) {
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, antenna.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrFrequencyUnknown):
		return http.StatusConflict
	case errors.Is(err, antenna.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEventsWebSocket streams relay events to a display client. The first
// message is a status snapshot.
func (d *StepDaemon) handleEventsWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		d.log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := d.coreEngine.Events().Subscribe()
	defer unsubscribe()

	d.log.Debugf("WebSocket client connected from %s", conn.RemoteAddr())

	// Reads only detect the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v interface{}) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}

	snapshot := protocol.NewEvent("status", map[string]interface{}{
		"status": d.coreEngine.Status(),
	})
	if err := write(snapshot); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := write(event); err != nil {
				d.log.Debugf("WebSocket write error: %v", err)
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}

		case <-closed:
			d.log.Debugf("WebSocket client disconnected")
			return

		case <-d.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}
