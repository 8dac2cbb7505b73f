package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellness-service/internal/logging"
	"wellness-service/internal/models"
	"wellness-service/pkg/apns"
)

var testMsg = Message{
	AlertID:      uuid.MustParse("6f1c2d4e-8a9b-4c3d-9e8f-7a6b5c4d3e2f"),
	CheckerName:  "Ana",
	Level:        models.LevelEscalation,
	Title:        "Ana missed a check-in",
	Body:         "No check-in for 48 hours.",
	Interruption: models.InterruptionCritical,
}

type fakePush struct {
	failTokens map[string]bool
	sent       []apns.Notification
}

func (f *fakePush) Send(_ context.Context, n apns.Notification) (string, error) {
	f.sent = append(f.sent, n)
	if f.failTokens[n.DeviceToken] {
		return "", &apns.Error{StatusCode: 410, Reason: "Unregistered"}
	}
	return "apns-" + n.DeviceToken, nil
}

func TestPushPartialTokenFailureStillDelivers(t *testing.T) {
	client := &fakePush{failTokens: map[string]bool{"t1": true}}
	p := NewPush(client, logging.NewNop())

	res, err := p.Send(context.Background(), models.SupporterLink{ID: "l1", DeviceTokens: []string{"t1", "t2"}}, testMsg)
	require.NoError(t, err)
	assert.Equal(t, "apns-t2", res.ProviderID)
	assert.Equal(t, models.DeliveryCompleted, res.Status)
	require.Len(t, client.sent, 2)
	assert.Equal(t, "critical", client.sent[0].Interruption)
	assert.Equal(t, testMsg.AlertID.String(), client.sent[0].Data["alert_id"])
}

func TestPushAllTokensFail(t *testing.T) {
	client := &fakePush{failTokens: map[string]bool{"t1": true}}
	p := NewPush(client, logging.NewNop())
	_, err := p.Send(context.Background(), models.SupporterLink{DeviceTokens: []string{"t1"}}, testMsg)
	var apnsErr *apns.Error
	assert.ErrorAs(t, err, &apnsErr)

	_, err = p.Send(context.Background(), models.SupporterLink{}, testMsg)
	assert.ErrorIs(t, err, ErrNoDestination)
}

type fakeSMS struct {
	to, body string
	err      error
}

func (f *fakeSMS) Send(to, body string) (string, error) {
	f.to, f.body = to, body
	return "SM1", f.err
}

func TestSMSNormalizesNumber(t *testing.T) {
	client := &fakeSMS{}
	s := NewSMS(client, nil)
	res, err := s.Send(context.Background(), models.SupporterLink{Phone: "+1 (555) 111-2222"}, testMsg)
	require.NoError(t, err)
	assert.Equal(t, "+15551112222", client.to)
	assert.Equal(t, "Ana missed a check-in\nNo check-in for 48 hours.", client.body)
	assert.Equal(t, "SM1", res.ProviderID)

	_, err = s.Send(context.Background(), models.SupporterLink{}, testMsg)
	assert.ErrorIs(t, err, ErrNoDestination)
}

type fakeMail struct{ err error }

func (f *fakeMail) Send(to, subject, body string) error { return f.err }

func TestEmail(t *testing.T) {
	res, err := NewEmail(&fakeMail{}).Send(context.Background(), models.SupporterLink{Email: "bob@example.com"}, testMsg)
	require.NoError(t, err)
	assert.Empty(t, res.ProviderID)
	assert.Equal(t, "bob@example.com", res.Destination)

	boom := errors.New("smtp down")
	_, err = NewEmail(&fakeMail{err: boom}).Send(context.Background(), models.SupporterLink{Email: "bob@example.com"}, testMsg)
	assert.ErrorIs(t, err, boom)
}

type fakeTelegram struct {
	params *bot.SendMessageParams
}

func (f *fakeTelegram) SendMessage(_ context.Context, p *bot.SendMessageParams) (*tgmodels.Message, error) {
	f.params = p
	return &tgmodels.Message{ID: 77}, nil
}

func TestTelegram(t *testing.T) {
	client := &fakeTelegram{}
	res, err := NewTelegram(client, nil).Send(context.Background(), models.SupporterLink{TelegramChatID: 1234}, testMsg)
	require.NoError(t, err)
	assert.Equal(t, "tg:1234:77", res.ProviderID)
	assert.Equal(t, int64(1234), client.params.ChatID)
	assert.Equal(t, tgmodels.ParseModeMarkdown, client.params.ParseMode)
}

type fakeCall struct {
	to, greeting, status string
}

func (f *fakeCall) Call(to, greeting, status string) (string, error) {
	f.to, f.greeting, f.status = to, greeting, status
	return "CA1", nil
}

func TestVoiceCallbacks(t *testing.T) {
	client := &fakeCall{}
	v := NewVoice(client, "https://wellness.example.com/api/v0/")
	res, err := v.Send(context.Background(), models.SupporterLink{Phone: "+15551112222"}, testMsg)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryQueued, res.Status)
	assert.Equal(t, "CA1", res.ProviderID)
	assert.Equal(t, "https://wellness.example.com/api/v0/voice/greeting?alert_id="+testMsg.AlertID.String(), client.greeting)
	assert.Equal(t, "https://wellness.example.com/api/v0/voice/status?alert_id="+testMsg.AlertID.String(), client.status)
}

func TestRegistrySkipsNil(t *testing.T) {
	r := NewRegistry(NewSMS(&fakeSMS{}, nil), nil)
	assert.Len(t, r, 1)
	assert.NotNil(t, r[models.ChannelSMS])
}
