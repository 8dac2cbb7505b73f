package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellness-service/internal/db"
	"wellness-service/internal/logging"
	"wellness-service/internal/metrics"
	"wellness-service/internal/models"
	"wellness-service/internal/providers"
)

var now = time.Date(2024, 3, 6, 20, 30, 0, 0, time.UTC)

type fakeSender struct {
	channel models.Channel
	err     error
	// hang blocks the send and ignores ctx until release is closed.
	hang    bool
	release chan struct{}

	mu   sync.Mutex
	sent []sentMsg
}

type sentMsg struct {
	link models.SupporterLink
	msg  providers.Message
}

func (f *fakeSender) Channel() models.Channel { return f.channel }

func (f *fakeSender) Send(_ context.Context, link models.SupporterLink, msg providers.Message) (providers.Result, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentMsg{link: link, msg: msg})
	f.mu.Unlock()
	if f.hang {
		<-f.release
	}
	if f.err != nil {
		return providers.Result{}, f.err
	}
	status := models.DeliveryCompleted
	if f.channel == models.ChannelVoice {
		status = models.DeliveryQueued
	}
	return providers.Result{ProviderID: string(f.channel) + ":" + link.ID, Destination: link.ID, Status: status}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	store    *db.Memory
	senders  map[models.Channel]*fakeSender
	metrics  *metrics.Metrics
	dispatch *Dispatcher
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		store:   db.NewMemory(),
		senders: map[models.Channel]*fakeSender{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	var list []providers.Sender
	for _, ch := range []models.Channel{models.ChannelPush, models.ChannelEmail, models.ChannelSMS, models.ChannelVoice, models.ChannelTelegram} {
		s := &fakeSender{channel: ch, release: make(chan struct{})}
		f.senders[ch] = s
		list = append(list, s)
	}
	f.dispatch = NewDispatcher(providers.NewRegistry(list...), f.store, f.store, logging.NewNop(), f.metrics,
		Config{Timeout: timeout, Parallelism: 4})
	f.dispatch.now = func() time.Time { return now }
	return f
}

func (f *fixture) alert(t *testing.T, level models.Level) models.Alert {
	t.Helper()
	loc := "Home"
	a, _, err := f.store.InsertActiveAlert(context.Background(), models.Alert{
		ID:                uuid.New(),
		CheckerID:         "c1",
		CheckerName:       "Ana",
		LastKnownLocation: &loc,
		Level:             level,
		TriggeredAt:       now,
		MissedWindowAt:    now.Add(-36 * time.Hour),
	})
	require.NoError(t, err)
	return a
}

func pushSMS(id string) models.SupporterLink {
	return models.SupporterLink{ID: id, CheckerID: "c1", SupporterID: "sup-" + id, Phone: "+15550000001",
		DeviceTokens: []string{"tok-" + id}, PushEnabled: true, SMSEnabled: true, Priority: 1, Active: true}
}

func pushEmail(id string) models.SupporterLink {
	return models.SupporterLink{ID: id, CheckerID: "c1", SupporterID: "sup-" + id, Email: id + "@example.com",
		DeviceTokens: []string{"tok-" + id}, PushEnabled: true, EmailEnabled: true, Priority: 2, Active: true}
}

func TestDispatchHardTwoSupportersFourAttempts(t *testing.T) {
	f := newFixture(t, time.Second)
	f.store.PutSupporterLink(pushSMS("a"))
	f.store.PutSupporterLink(pushEmail("b"))
	a := f.alert(t, models.LevelHard)

	report, err := f.dispatch.Dispatch(context.Background(), a)
	require.NoError(t, err)
	assert.Len(t, report.Attempts, 4)
	assert.Zero(t, report.Failed())
	assert.Zero(t, f.senders[models.ChannelVoice].count())

	got, err := f.store.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"sup-a", "sup-b"}, got.NotifiedSupporterIDs)
	assert.Equal(t, models.LevelHard, got.NotifiedLevel)

	entries, err := f.store.ListDeliveries(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.DispatchAttempts.WithLabelValues("push", "sent"))+
		testutil.ToFloat64(f.metrics.DispatchAttempts.WithLabelValues("sms", "sent"))+
		testutil.ToFloat64(f.metrics.DispatchAttempts.WithLabelValues("email", "sent")))
}

func TestDispatchVoiceAtHardBoundary(t *testing.T) {
	f := newFixture(t, time.Second)
	link := pushSMS("a")
	link.VoiceEnabled = true
	f.store.PutSupporterLink(link)

	soft := f.alert(t, models.LevelSoft)
	report, err := f.dispatch.Dispatch(context.Background(), soft)
	require.NoError(t, err)
	assert.Len(t, report.Attempts, 2)
	assert.Zero(t, f.senders[models.ChannelVoice].count())

	raised, _, err := f.store.RaiseAlertLevel(context.Background(), soft.ID, models.LevelHard, now)
	require.NoError(t, err)
	report, err = f.dispatch.Dispatch(context.Background(), raised)
	require.NoError(t, err)
	assert.Len(t, report.Attempts, 3)
	assert.Equal(t, 1, f.senders[models.ChannelVoice].count())

	e, err := f.store.GetDeliveryByProviderID(context.Background(), "voice:a")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryQueued, e.Status)
}

func TestDispatchReminderSkipsSMS(t *testing.T) {
	f := newFixture(t, time.Second)
	f.store.PutSupporterLink(pushSMS("a"))
	a := f.alert(t, models.LevelReminder)

	report, err := f.dispatch.Dispatch(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, report.Attempts, 1)
	assert.Equal(t, models.ChannelPush, report.Attempts[0].Channel)
	assert.Zero(t, f.senders[models.ChannelSMS].count())
}

func TestDispatchOneChannelFailsOtherSucceeds(t *testing.T) {
	f := newFixture(t, time.Second)
	f.senders[models.ChannelSMS].err = errors.New("carrier rejected")
	f.store.PutSupporterLink(pushSMS("a"))
	a := f.alert(t, models.LevelSoft)

	report, err := f.dispatch.Dispatch(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, report.Attempts, 2)
	assert.Equal(t, 1, report.Failed())

	entries, err := f.store.ListDeliveries(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byChannel := map[models.Channel]models.DeliveryLogEntry{}
	for _, e := range entries {
		byChannel[e.Channel] = e
	}
	assert.Equal(t, models.DeliveryCompleted, byChannel[models.ChannelPush].Status)
	assert.Empty(t, byChannel[models.ChannelPush].Error)
	assert.Equal(t, models.DeliveryFailed, byChannel[models.ChannelSMS].Status)
	assert.Contains(t, byChannel[models.ChannelSMS].Error, "carrier rejected")
	assert.NotEmpty(t, byChannel[models.ChannelSMS].ProviderID)

	got, err := f.store.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, got.WasNotified("sup-a"))
}

func TestDispatchTimeoutDoesNotBlockSiblings(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.senders[models.ChannelEmail].hang = true
	defer close(f.senders[models.ChannelEmail].release)
	f.store.PutSupporterLink(pushSMS("a"))
	f.store.PutSupporterLink(pushEmail("b"))
	a := f.alert(t, models.LevelSoft)

	start := time.Now()
	report, err := f.dispatch.Dispatch(context.Background(), a)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, report.Attempts, 4)
	assert.Equal(t, 1, report.Failed())
	for _, at := range report.Attempts {
		if at.Channel == models.ChannelEmail {
			assert.ErrorIs(t, at.Err, ErrSendTimeout)
		} else {
			assert.NoError(t, at.Err)
		}
	}
}

func TestDispatchSkipsAlreadyNotifiedUntilLevelRises(t *testing.T) {
	f := newFixture(t, time.Second)
	f.store.PutSupporterLink(pushSMS("a"))
	a := f.alert(t, models.LevelSoft)

	_, err := f.dispatch.Dispatch(context.Background(), a)
	require.NoError(t, err)

	again, err := f.store.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	report, err := f.dispatch.Dispatch(context.Background(), again)
	require.NoError(t, err)
	assert.Empty(t, report.Attempts)
	assert.Equal(t, []string{"sup-a"}, report.Skipped)

	raised, _, err := f.store.RaiseAlertLevel(context.Background(), a.ID, models.LevelEscalation, now)
	require.NoError(t, err)
	report, err = f.dispatch.Dispatch(context.Background(), raised)
	require.NoError(t, err)
	assert.Len(t, report.Attempts, 2)

	push := f.senders[models.ChannelPush]
	push.mu.Lock()
	last := push.sent[len(push.sent)-1].msg
	push.mu.Unlock()
	assert.Equal(t, models.InterruptionCritical, last.Interruption)
}

func TestDispatchMarksSupporterWhoseSendsAllFailed(t *testing.T) {
	f := newFixture(t, time.Second)
	f.senders[models.ChannelPush].err = errors.New("gateway down")
	f.senders[models.ChannelSMS].err = errors.New("gateway down")
	f.store.PutSupporterLink(pushSMS("a"))
	a := f.alert(t, models.LevelSoft)

	report, err := f.dispatch.Dispatch(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed())

	again, err := f.store.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"sup-a"}, again.NotifiedSupporterIDs)

	report, err = f.dispatch.Dispatch(context.Background(), again)
	require.NoError(t, err)
	assert.Empty(t, report.Attempts)
	assert.Equal(t, 1, f.senders[models.ChannelPush].count())
}

func TestDispatchIgnoresAcknowledgedAlert(t *testing.T) {
	f := newFixture(t, time.Second)
	f.store.PutSupporterLink(pushSMS("a"))
	a := f.alert(t, models.LevelHard)
	acked, _, err := f.store.AcknowledgeAlert(context.Background(), a.ID, "sup-a", now)
	require.NoError(t, err)

	report, err := f.dispatch.Dispatch(context.Background(), acked)
	require.NoError(t, err)
	assert.Empty(t, report.Attempts)
	assert.Zero(t, f.senders[models.ChannelPush].count())
}

func TestRenderMessage(t *testing.T) {
	loc := "Riverside Park"
	a := models.Alert{
		ID:                uuid.MustParse("6f1c2d4e-8a9b-4c3d-9e8f-7a6b5c4d3e2f"),
		CheckerName:       "Ana",
		LastKnownLocation: &loc,
		Level:             models.LevelHard,
		MissedWindowAt:    now.Add(-(35*time.Hour + 40*time.Minute)),
	}
	msg := Render(a, now)
	assert.Equal(t, "Urgent: Ana has not checked in", msg.Title)
	assert.Contains(t, msg.Body, "36 hours ago")
	assert.Contains(t, msg.Body, "Last known location: Riverside Park.")
	assert.Contains(t, msg.Body, a.ID.String())
	assert.Equal(t, models.InterruptionTimeSensitive, msg.Interruption)

	a.LastKnownLocation = nil
	assert.NotContains(t, Render(a, now).Body, "Last known location")
}
