package providers

import (
	"context"

	"wellness-service/internal/models"
)

type mailClient interface {
	Send(to, subject, body string) error
}

type Email struct {
	client mailClient
}

func NewEmail(client mailClient) *Email {
	return &Email{client: client}
}

func (e *Email) Channel() models.Channel { return models.ChannelEmail }

// Send has no provider id to report; the dispatcher assigns one.
func (e *Email) Send(ctx context.Context, link models.SupporterLink, msg Message) (Result, error) {
	if link.Email == "" {
		return Result{}, ErrNoDestination
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := e.client.Send(link.Email, msg.Title, msg.Body); err != nil {
		return Result{}, err
	}
	return Result{Destination: link.Email, Status: models.DeliveryCompleted}, nil
}
