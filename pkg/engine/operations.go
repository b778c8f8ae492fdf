package engine

import (
	"context"
	"fmt"

	"github.com/dougsko/steppird/pkg/antenna"
	"github.com/dougsko/steppird/pkg/protocol"
	"github.com/dougsko/steppird/pkg/storage"
)

// SetFrequency makes freq the target frequency and sends it to the antenna
func (e *CoreEngine) SetFrequency(freq protocol.Frequency) error {
	if freq > protocol.MaxFrequency {
		return fmt.Errorf("%w: %s", antenna.ErrOutOfRange, freq)
	}

	e.frequency.Store(freq)
	e.events.Publish(protocol.NewEvent(protocol.EventFrequency, map[string]interface{}{
		"frequency": uint64(freq),
		"source":    "operator",
	}))
	return e.submit(antenna.SetFrequency(freq))
}

// Jog moves the target frequency by delta hertz
func (e *CoreEngine) Jog(delta int64) (protocol.Frequency, error) {
	current, err := e.currentFrequency()
	if err != nil {
		return 0, err
	}
	target := antenna.Jog(current, delta)
	return target, e.SetFrequency(target)
}

// BandUp moves the target to the bottom of the next band up
func (e *CoreEngine) BandUp() (protocol.Frequency, error) {
	current, err := e.currentFrequency()
	if err != nil {
		return 0, err
	}
	target := antenna.BandUp(current)
	return target, e.SetFrequency(target)
}

// BandDown moves the target to the bottom of the next band down
func (e *CoreEngine) BandDown() (protocol.Frequency, error) {
	current, err := e.currentFrequency()
	if err != nil {
		return 0, err
	}
	target := antenna.BandDown(current)
	return target, e.SetFrequency(target)
}

// SetDirection queues a direction change
func (e *CoreEngine) SetDirection(dir antenna.Direction) error {
	return e.submit(antenna.SetDirection(dir))
}

// SetAutotrack queues an autotrack toggle
func (e *CoreEngine) SetAutotrack(enabled bool) error {
	return e.submit(antenna.SetAutotrack(enabled))
}

// Retract queues an element retraction
func (e *CoreEngine) Retract() error {
	return e.submit(antenna.Retract())
}

// Calibrate queues a calibration cycle. Failures are reported as command events.
func (e *CoreEngine) Calibrate() error {
	return e.submit(antenna.Calibrate())
}

// currentFrequency is the radio or operator target, falling back to the
// frequency last read from the controller
func (e *CoreEngine) currentFrequency() (protocol.Frequency, error) {
	if freq, ok := e.frequency.Load(); ok {
		return freq, nil
	}
	if freq, ok := e.antennaAt.Load(); ok {
		return freq, nil
	}
	return 0, ErrFrequencyUnknown
}

func (e *CoreEngine) submit(cmd antenna.Command) error {
	if err := e.channel.Submit(cmd); err != nil {
		e.record(cmd, storage.OutcomeRejected, err)
		return err
	}
	return nil
}

// CommandDelivered implements antenna.Observer
func (e *CoreEngine) CommandDelivered(cmd antenna.Command) {
	e.record(cmd, storage.OutcomeDelivered, nil)
	e.events.Publish(commandEvent(cmd, storage.OutcomeDelivered, nil))
}

// CommandFailed implements antenna.Observer
func (e *CoreEngine) CommandFailed(cmd antenna.Command, err error) {
	e.record(cmd, storage.OutcomeFailed, err)
	e.events.Publish(commandEvent(cmd, storage.OutcomeFailed, err))
}

// AntennaFrequency implements antenna.Observer
func (e *CoreEngine) AntennaFrequency(freq protocol.Frequency) {
	if previous, ok := e.antennaAt.Load(); ok && previous == freq {
		return
	}
	e.antennaAt.Store(freq)
	e.events.Publish(protocol.NewEvent(protocol.EventAntennaFrequency, map[string]interface{}{
		"frequency": uint64(freq),
	}))
}

func commandEvent(cmd antenna.Command, outcome string, err error) protocol.Event {
	data := map[string]interface{}{
		"command": cmd.Kind.String(),
		"outcome": outcome,
	}
	if cmd.Kind == antenna.KindSetFrequency {
		data["frequency"] = uint64(cmd.Frequency)
	}
	if cmd.Kind == antenna.KindAutotrack {
		data["enabled"] = cmd.Enabled
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return protocol.NewEvent(protocol.EventCommand, data)
}

// record queues a journal entry without blocking the caller
func (e *CoreEngine) record(cmd antenna.Command, outcome string, err error) {
	entry := storage.Entry{
		Command: cmd.Kind.String(),
		Outcome: outcome,
	}
	if cmd.Kind == antenna.KindSetFrequency {
		entry.Frequency = uint64(cmd.Frequency)
	}
	if err != nil {
		entry.Error = err.Error()
	}

	select {
	case e.records <- entry:
	default:
		e.log.Warnf("history queue full, dropping %s entry", entry.Command)
	}
}

// recordHistory writes queued entries until ctx is cancelled
func (e *CoreEngine) recordHistory(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case entry := <-e.records:
					e.writeHistory(entry)
				default:
					return nil
				}
			}
		case entry := <-e.records:
			e.writeHistory(entry)
		}
	}
}

func (e *CoreEngine) writeHistory(entry storage.Entry) {
	if err := e.history.Record(entry); err != nil {
		e.log.Warnf("failed to record %s: %v", entry.Command, err)
	}
}
