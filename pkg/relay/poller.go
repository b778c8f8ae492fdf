package relay

import (
	"context"
	"errors"
	"time"

	"github.com/dougsko/steppird/pkg/cat"
	"github.com/dougsko/steppird/pkg/logging"
)

// RadioPoller asks the radio for its frequency while no client is attached,
// so the antenna follows manual tuning at the radio
type RadioPoller struct {
	radio    Upstream
	client   PeerWatcher
	interval time.Duration
	log      *logging.ComponentLogger
}

// NewRadioPoller creates a poller querying radio every interval
func NewRadioPoller(radio Upstream, client PeerWatcher, interval time.Duration) *RadioPoller {
	return &RadioPoller{
		radio:    radio,
		client:   client,
		interval: interval,
		log:      logging.For("poller"),
	}
}

// Run polls until ctx is cancelled
func (p *RadioPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Infof("polling radio every %s while no client is attached", p.interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if p.client.HasPeer() {
				continue
			}
			if err := p.radio.Send(cat.QueryFrequency); err != nil && !errors.Is(err, ErrRadioNotConnected) {
				p.log.Warnf("frequency query failed: %v", err)
			}
		}
	}
}
