// Package relay proxies CAT traffic between a downstream client and the radio
// while following the radio's frequency reports.
package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dougsko/steppird/pkg/antenna"
	"github.com/dougsko/steppird/pkg/protocol"
)

// ErrRadioNotConnected is returned by RadioLink.Send while the radio is unreachable
var ErrRadioNotConnected = errors.New("radio not connected")

const readBufferSize = 4096

// CommandSink accepts antenna commands without blocking
type CommandSink interface {
	Submit(cmd antenna.Command) error
}

// Publisher receives display notifications without blocking
type Publisher interface {
	Publish(event protocol.Event)
}

// Upstream is where client bytes go
type Upstream interface {
	Send(b []byte) error
}

// Downstream is where radio bytes go
type Downstream interface {
	Forward(b []byte)
}

// PeerWatcher reports whether a downstream client is attached
type PeerWatcher interface {
	HasPeer() bool
}

type discard struct{}

func (discard) Publish(protocol.Event) {}
func (discard) Forward([]byte)         {}

// FrequencyState is the last known radio or target frequency. The word holds
// frequency+1 so that zero means nothing has been stored; 11-digit reports
// never reach the top of the range.
type FrequencyState struct {
	word atomic.Uint64
}

// Load returns the frequency and whether one has been stored yet
func (s *FrequencyState) Load() (protocol.Frequency, bool) {
	w := s.word.Load()
	if w == 0 {
		return 0, false
	}
	return protocol.Frequency(w - 1), true
}

// Store replaces the frequency
func (s *FrequencyState) Store(freq protocol.Frequency) {
	s.word.Store(uint64(freq) + 1)
}

// sleep waits for d or until ctx is cancelled; false means cancelled
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func linkEvent(link string, state protocol.LinkState) protocol.Event {
	return protocol.NewEvent(protocol.EventLink, map[string]interface{}{
		"link":  link,
		"state": state.String(),
	})
}
