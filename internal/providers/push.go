package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wellness-service/internal/logging"
	"wellness-service/internal/models"
	"wellness-service/pkg/apns"
)

const pushCategory = "WELLNESS_ALERT"

type pushClient interface {
	Send(ctx context.Context, n apns.Notification) (string, error)
}

// Push fans one message out to every device token of the supporter. The send
// counts as delivered when at least one token is accepted.
type Push struct {
	client pushClient
	logger *logging.Logger
}

func NewPush(client pushClient, logger *logging.Logger) *Push {
	return &Push{client: client, logger: logger}
}

func (p *Push) Channel() models.Channel { return models.ChannelPush }

func (p *Push) Send(ctx context.Context, link models.SupporterLink, msg Message) (Result, error) {
	if len(link.DeviceTokens) == 0 {
		return Result{}, ErrNoDestination
	}
	var (
		firstID string
		errs    []error
	)
	for _, token := range link.DeviceTokens {
		id, err := p.client.Send(ctx, apns.Notification{
			DeviceToken:  token,
			Title:        msg.Title,
			Body:         msg.Body,
			Category:     pushCategory,
			Interruption: string(msg.Interruption),
			Data: map[string]string{
				"alert_id": msg.AlertID.String(),
				"level":    msg.Level.String(),
				"action":   "acknowledge",
			},
		})
		if err != nil {
			p.logger.Warnf("Push to token %s of supporter %s failed: %v", shortToken(token), link.Identity(), err)
			errs = append(errs, err)
			continue
		}
		if firstID == "" {
			firstID = id
		}
	}
	if len(errs) == len(link.DeviceTokens) {
		return Result{}, fmt.Errorf("push failed for all %d tokens: %w", len(errs), errors.Join(errs...))
	}
	return Result{
		ProviderID:  firstID,
		Destination: fmt.Sprintf("%d device(s)", len(link.DeviceTokens)-len(errs)),
		Status:      models.DeliveryCompleted,
	}, nil
}

func shortToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// joinLines joins the non-empty lines.
func joinLines(lines ...string) string {
	var kept []string
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}
