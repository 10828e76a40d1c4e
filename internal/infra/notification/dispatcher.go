// Package notification delivers outbound messages to drivers and operators
// over email and SMS. The worker's notification tasks terminate here.
package notification

import (
	"context"
	"fmt"

	"github.com/driveport/api/pkg/logger"
)

// Sender delivers a message over one concrete channel.
type Sender interface {
	Channel() string
	Send(ctx context.Context, recipient, subject, body string) error
}

// Dispatcher routes a message to the sender registered for its channel.
// It satisfies the job queue's NotificationSender interface.
type Dispatcher struct {
	senders map[string]Sender
	log     *logger.Logger
}

// NewDispatcher creates a dispatcher over the given senders. A channel
// registered twice keeps the last sender.
func NewDispatcher(log *logger.Logger, senders ...Sender) *Dispatcher {
	byChannel := make(map[string]Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	return &Dispatcher{senders: byChannel, log: log}
}

// Channels lists the channels this dispatcher can deliver to.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.senders))
	for name := range d.senders {
		names = append(names, name)
	}
	return names
}

// Send delivers one message. An unregistered channel is an error so the
// task surfaces in the dead queue instead of vanishing.
func (d *Dispatcher) Send(ctx context.Context, recipient, channel, subject, body string) error {
	sender, ok := d.senders[channel]
	if !ok {
		return fmt.Errorf("no sender for channel %q", channel)
	}
	if err := sender.Send(ctx, recipient, subject, body); err != nil {
		return fmt.Errorf("send via %s: %w", channel, err)
	}
	d.log.Debug("message delivered", "channel", channel)
	return nil
}
