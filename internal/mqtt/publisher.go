package mqtt

import (
	"context"
	"log/slog"

	"github.com/oliverhazley/MindMend/internal/session"
)

type sink interface {
	PublishLive(m LiveMessage) error
	PublishState(m StateMessage) error
}

// Publisher turns session snapshots into MQTT messages. Notify is safe to call
// from a session change listener: it never blocks and keeps only the newest
// snapshot.
type Publisher struct {
	sink   sink
	userID string
	logger *slog.Logger
	latest chan session.Snapshot

	lastState string
	lastID    string
}

func NewPublisher(c *Client, userID string, logger *slog.Logger) *Publisher {
	return newPublisher(c, userID, logger)
}

func newPublisher(s sink, userID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		sink:   s,
		userID: userID,
		logger: logger,
		latest: make(chan session.Snapshot, 1),
	}
}

func (p *Publisher) Notify(snap session.Snapshot) {
	for {
		select {
		case p.latest <- snap:
			return
		default:
		}
		select {
		case <-p.latest:
		default:
		}
	}
}

// Run publishes snapshots until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-p.latest:
			p.publish(snap)
		}
	}
}

func (p *Publisher) publish(snap session.Snapshot) {
	state := snap.State.String()
	if state != p.lastState || snap.SessionID != p.lastID {
		err := p.sink.PublishState(StateMessage{
			UserID:    p.userID,
			SessionID: snap.SessionID,
			Device:    snap.Device,
			State:     state,
			Timestamp: snap.Time,
		})
		if err != nil {
			p.logger.Warn("mqtt: publish state failed", "state", state, "error", err)
		} else {
			p.lastState, p.lastID = state, snap.SessionID
		}
	}

	err := p.sink.PublishLive(LiveMessage{
		UserID:    p.userID,
		SessionID: snap.SessionID,
		State:     state,
		Ready:     snap.Ready,
		Pulse:     snap.Pulse,
		RMSSD:     snap.RMSSD,
		Battery:   snap.Battery,
		Timestamp: snap.Time,
	})
	if err != nil {
		p.logger.Debug("mqtt: publish live failed", "error", err)
	}
}
