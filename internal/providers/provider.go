package providers

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"wellness-service/internal/models"
)

// ErrNoDestination is returned when a link has no address for the channel.
var ErrNoDestination = errors.New("no destination for channel")

// Message is the rendered alert content handed to every channel.
type Message struct {
	AlertID      uuid.UUID
	CheckerName  string
	Level        models.Level
	Title        string
	Body         string
	Interruption models.InterruptionLevel
}

// Result is what a channel reports for an accepted send.
type Result struct {
	ProviderID  string
	Destination string
	Status      models.DeliveryStatus
}

// Sender delivers one message to one supporter over one channel.
type Sender interface {
	Channel() models.Channel
	Send(ctx context.Context, link models.SupporterLink, msg Message) (Result, error)
}

// Registry maps channels to their configured sender. Channels without a
// sender are skipped by the dispatcher.
type Registry map[models.Channel]Sender

func NewRegistry(senders ...Sender) Registry {
	r := make(Registry, len(senders))
	for _, s := range senders {
		if s != nil {
			r[s.Channel()] = s
		}
	}
	return r
}
