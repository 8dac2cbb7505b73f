package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"wellness-service/internal/models"
)

type callClient interface {
	Call(toNumber, greetingURL, statusURL string) (string, error)
}

// Voice places an outbound call that runs the IVR. The call only reaches
// queued here; status callbacks advance the log entry.
type Voice struct {
	client   callClient
	callback string
}

// NewVoice takes the public base URL under which /voice callbacks are served,
// e.g. https://wellness.example.com/api/v0.
func NewVoice(client callClient, callbackBase string) *Voice {
	return &Voice{client: client, callback: strings.TrimRight(callbackBase, "/")}
}

func (v *Voice) Channel() models.Channel { return models.ChannelVoice }

func (v *Voice) GreetingURL(alertID string) string {
	return v.callback + "/voice/greeting?alert_id=" + url.QueryEscape(alertID)
}

func (v *Voice) StatusURL(alertID string) string {
	return v.callback + "/voice/status?alert_id=" + url.QueryEscape(alertID)
}

func (v *Voice) Send(ctx context.Context, link models.SupporterLink, msg Message) (Result, error) {
	to := models.NormalizePhone(link.Phone)
	if to == "" {
		return Result{}, ErrNoDestination
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	id := msg.AlertID.String()
	sid, err := v.client.Call(to, v.GreetingURL(id), v.StatusURL(id))
	if err != nil {
		return Result{}, fmt.Errorf("voice call to supporter %s: %w", link.Identity(), err)
	}
	return Result{ProviderID: sid, Destination: to, Status: models.DeliveryQueued}, nil
}
