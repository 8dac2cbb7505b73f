package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"wellness-service/internal/models"
)

type smsClient interface {
	Send(toNumber, body string) (string, error)
}

type SMS struct {
	client  smsClient
	limiter *rate.Limiter
}

// NewSMS wraps the Twilio message client. limiter may be nil.
func NewSMS(client smsClient, limiter *rate.Limiter) *SMS {
	return &SMS{client: client, limiter: limiter}
}

func (s *SMS) Channel() models.Channel { return models.ChannelSMS }

func (s *SMS) Send(ctx context.Context, link models.SupporterLink, msg Message) (Result, error) {
	to := models.NormalizePhone(link.Phone)
	if to == "" {
		return Result{}, ErrNoDestination
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("sms rate limit wait: %w", err)
		}
	}
	sid, err := s.client.Send(to, joinLines(msg.Title, msg.Body))
	if err != nil {
		return Result{}, err
	}
	return Result{ProviderID: sid, Destination: to, Status: models.DeliveryCompleted}, nil
}
