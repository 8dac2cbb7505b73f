package apns

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
)

// Interruption levels understood by iOS 15+.
const (
	InterruptionActive        = string(payload.InterruptionLevelActive)
	InterruptionTimeSensitive = string(payload.InterruptionLevelTimeSensitive)
	InterruptionCritical      = string(payload.InterruptionLevelCritical)
)

// Notification is one alert push to one device token.
type Notification struct {
	DeviceToken  string
	Title        string
	Body         string
	Category     string
	Interruption string
	Data         map[string]string
}

// Error is a non-200 answer from the gateway.
type Error struct {
	StatusCode int
	Reason     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("apns returned %d: %s", e.StatusCode, e.Reason)
}

type Client struct {
	Topic  string
	push   *apns2.Client
	tokens *TokenCache
}

// New builds a token-authenticated client against the production or sandbox
// gateway.
func New(tokens *TokenCache, topic string, production bool) *Client {
	push := apns2.NewTokenClient(tokens.token)
	if production {
		push = push.Production()
	} else {
		push = push.Development()
	}
	return &Client{Topic: topic, push: push, tokens: tokens}
}

func buildPayload(n Notification) *payload.Payload {
	p := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body)
	if n.Category != "" {
		p.Category(n.Category)
	}
	if n.Interruption != "" {
		p.InterruptionLevel(payload.EInterruptionLevel(n.Interruption))
	}
	if n.Interruption == InterruptionCritical {
		// SoundVolume marks the sound critical.
		p.SoundName("default").SoundVolume(1.0)
	} else {
		p.Sound("default")
	}
	for k, v := range n.Data {
		if k != "aps" {
			p.Custom(k, v)
		}
	}
	return p
}

// Send pushes one notification and returns the apns-id assigned to it.
func (c *Client) Send(ctx context.Context, n Notification) (string, error) {
	if n.DeviceToken == "" {
		return "", fmt.Errorf("device token is required")
	}
	if _, err := c.tokens.Token(); err != nil {
		return "", err
	}

	res, err := c.push.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: n.DeviceToken,
		Topic:       c.Topic,
		Priority:    apns2.PriorityHigh,
		PushType:    apns2.PushTypeAlert,
		Payload:     buildPayload(n),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send apns request: %w", err)
	}
	if res.Sent() {
		return res.ApnsID, nil
	}

	if res.Reason == apns2.ReasonExpiredProviderToken || res.Reason == apns2.ReasonInvalidProviderToken {
		c.tokens.Invalidate()
	}
	reason := res.Reason
	if reason == "" {
		reason = http.StatusText(res.StatusCode)
	}
	return "", &Error{StatusCode: res.StatusCode, Reason: reason}
}
