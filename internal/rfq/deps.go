package rfq

import (
	"context"
	"time"

	"github.com/optionsfi/rfq-router/pkg/model"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Broadcaster fans a newly created RFQ out to connected makers. It must not
// block on delivery.
type Broadcaster interface {
	Broadcast(r *model.Rfq)
}

// Notifier delivers the fill notification to the winning maker only. It
// must not block on delivery and reports whether the message was queued.
type Notifier interface {
	NotifyFill(makerID string, fill model.Fill) bool
}

// MakerAuthority reports whether a maker currently holds an authenticated connection.
type MakerAuthority interface {
	IsAuthenticated(makerID string) bool
}

// EventPublisher receives lifecycle envelopes. Publish is called after the
// entity lock is released and must not block.
type EventPublisher interface {
	Publish(env *model.Envelope)
}

// FillGuard is a cross-process claim on the right to fill an RFQ. A
// distributed deployment uses it so only one router instance can select a
// winner; the single-process deployment runs without one.
type FillGuard interface {
	Claim(ctx context.Context, rfqID string) (bool, error)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(*model.Rfq) {}

type nopPublisher struct{}

func (nopPublisher) Publish(*model.Envelope) {}
