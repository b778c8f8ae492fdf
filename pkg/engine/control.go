package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dougsko/steppird/pkg/antenna"
	"github.com/dougsko/steppird/pkg/protocol"
)

const defaultHistoryLimit = 20

// acceptConnections serves the control socket until ctx is cancelled
func (e *CoreEngine) acceptConnections(ctx context.Context) error {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.log.Warnf("socket accept error: %v", err)
			continue
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection answers one command per line until QUIT or EOF
func (e *CoreEngine) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			response := protocol.NewErrorResponse(fmt.Sprintf("parse error: %v", err))
			conn.Write([]byte(response.String() + "\n"))
			continue
		}

		response := e.handleCommand(cmd)
		conn.Write([]byte(response.String() + "\n"))

		if cmd.Type == protocol.CmdQuit {
			break
		}
	}
}

// handleCommand executes a parsed control command
func (e *CoreEngine) handleCommand(cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdStatus:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"status": e.Status(),
		})

	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})

	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "goodbye",
		})

	case protocol.CmdHistory:
		limit := defaultHistoryLimit
		if text, ok := cmd.Args["limit"].(string); ok {
			n, err := strconv.Atoi(text)
			if err != nil || n < 1 {
				return protocol.NewErrorResponse(fmt.Sprintf("invalid limit %q", text))
			}
			limit = n
		}
		entries, err := e.History(limit)
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"entries": entries,
			"count":   len(entries),
		})

	case protocol.CmdFrequency:
		text, _ := cmd.Args["frequency"].(string)
		hz, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return protocol.NewErrorResponse(fmt.Sprintf("invalid frequency %q", text))
		}
		return e.tuned(protocol.Frequency(hz), e.SetFrequency(protocol.Frequency(hz)))

	case protocol.CmdJog:
		text, _ := cmd.Args["delta"].(string)
		delta, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return protocol.NewErrorResponse(fmt.Sprintf("invalid offset %q", text))
		}
		return e.tuned(e.Jog(delta))

	case protocol.CmdBand:
		if cmd.Args["direction"] == "DOWN" {
			return e.tuned(e.BandDown())
		}
		return e.tuned(e.BandUp())

	case protocol.CmdDirection:
		text, _ := cmd.Args["direction"].(string)
		dir, err := antenna.ParseDirection(text)
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return e.queued(e.SetDirection(dir))

	case protocol.CmdAutotrack:
		enabled, _ := cmd.Args["enabled"].(bool)
		return e.queued(e.SetAutotrack(enabled))

	case protocol.CmdRetract:
		return e.queued(e.Retract())

	case protocol.CmdCalibrate:
		return e.queued(e.Calibrate())

	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}

func (e *CoreEngine) tuned(freq protocol.Frequency, err error) *protocol.Response {
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"status":    "queued",
		"frequency": uint64(freq),
	})
}

func (e *CoreEngine) queued(err error) *protocol.Response {
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"status": "queued",
	})
}
