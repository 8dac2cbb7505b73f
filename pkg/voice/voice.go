package voice

import (
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type callAPI interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// Client places outbound calls whose script is served by our own callbacks.
type Client struct {
	api        callAPI
	fromNumber string
	// RingTimeout is how long Twilio lets the call ring, in seconds.
	RingTimeout int
}

func New(accountSID, authToken, fromNumber string) *Client {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Client{api: rest.Api, fromNumber: fromNumber, RingTimeout: 30}
}

// Call starts a call to toNumber. Twilio fetches greetingURL when the call is
// answered and posts progress to statusURL. The call SID is returned.
func (c *Client) Call(toNumber, greetingURL, statusURL string) (string, error) {
	if !strings.HasPrefix(toNumber, "+") {
		return "", fmt.Errorf("invalid phone number: %s", toNumber)
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(toNumber)
	params.SetFrom(c.fromNumber)
	params.SetUrl(greetingURL)
	params.SetMethod("POST")
	params.SetStatusCallback(statusURL)
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	if c.RingTimeout > 0 {
		params.SetTimeout(c.RingTimeout)
	}

	call, err := c.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to call %s: %w", toNumber, err)
	}
	if call == nil || call.Sid == nil {
		return "", fmt.Errorf("call to %s returned no sid", toNumber)
	}
	return *call.Sid, nil
}
