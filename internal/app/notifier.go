package app

import (
	"context"

	redisclient "github.com/coursetrail/coursetrail-backend/internal/clients/redis"
	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/sse"
)

// notifier routes milestone messages through the redis bus when one is
// configured (the forwarder delivers them back into every instance's hub,
// this one included) and straight to the local hub otherwise.
type notifier struct {
	log *logger.Logger
	bus redisclient.NotifyBus
	hub *sse.Hub
}

func newNotifier(log *logger.Logger, bus redisclient.NotifyBus, hub *sse.Hub) *notifier {
	return &notifier{log: log.With("component", "Notifier"), bus: bus, hub: hub}
}

func (n *notifier) Notify(ctx context.Context, msg sse.Message) {
	if n.bus != nil {
		if err := n.bus.Publish(ctx, msg); err != nil {
			n.log.Warn("notify publish failed, delivering locally", "event", msg.Event, "error", err)
			n.hub.PublishToUser(msg)
		}
		return
	}
	n.hub.PublishToUser(msg)
}
