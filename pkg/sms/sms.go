package sms

import (
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Client sends text messages through the Twilio Messages API.
type Client struct {
	api        messageAPI
	fromNumber string
}

func New(accountSID, authToken, fromNumber string) *Client {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Client{api: rest.Api, fromNumber: fromNumber}
}

// Send returns the message SID Twilio assigned.
func (c *Client) Send(toNumber, body string) (string, error) {
	if !strings.HasPrefix(toNumber, "+") {
		return "", fmt.Errorf("invalid phone number: %s", toNumber)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(toNumber)
	params.SetFrom(c.fromNumber)
	params.SetBody(body)

	msg, err := c.api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS to %s: %w", toNumber, err)
	}
	if msg == nil || msg.Sid == nil {
		return "", nil
	}
	return *msg.Sid, nil
}
