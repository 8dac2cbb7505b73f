package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellness-service/internal/models"
)

var t0 = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newAlert(checkerID string, level models.Level) models.Alert {
	return models.Alert{
		ID:             uuid.New(),
		CheckerID:      checkerID,
		CheckerName:    "Ana",
		Level:          level,
		TriggeredAt:    t0,
		MissedWindowAt: t0.Add(-time.Hour),
	}
}

func TestMemoryInsertActiveAlertIsUniquePerChecker(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, created, err := m.InsertActiveAlert(ctx, newAlert("c1", models.LevelReminder))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.StatusPending, first.Status)

	second, created, err := m.InsertActiveAlert(ctx, newAlert("c1", models.LevelSoft))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.LevelReminder, second.Level)

	_, _, err = m.ResolveAlert(ctx, first.ID, models.ResolutionCheckedIn, "", "", t0)
	require.NoError(t, err)

	third, created, err := m.InsertActiveAlert(ctx, newAlert("c1", models.LevelSoft))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestMemoryRaiseAlertLevelOnlyGoesUp(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, _, err := m.InsertActiveAlert(ctx, newAlert("c1", models.LevelSoft))
	require.NoError(t, err)

	got, changed, err := m.RaiseAlertLevel(ctx, a.ID, models.LevelReminder, t0)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.LevelSoft, got.Level)

	got, changed, err = m.RaiseAlertLevel(ctx, a.ID, models.LevelHard, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.LevelHard, got.Level)
	assert.Equal(t, t0.Add(time.Hour), got.UpdatedAt)
}

func TestMemoryAcknowledgeHasOneWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, _, err := m.InsertActiveAlert(ctx, newAlert("c1", models.LevelHard))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			who := uuid.NewString()
			_, changed, err := m.AcknowledgeAlert(ctx, a.ID, who, t0)
			if assert.NoError(t, err) && changed {
				mu.Lock()
				winners = append(winners, who)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	got, err := m.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, got.Status)
	require.NotNil(t, got.AcknowledgedBy)
	assert.Equal(t, winners[0], *got.AcknowledgedBy)
}

func TestMemoryResolveIsTerminal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, _, err := m.InsertActiveAlert(ctx, newAlert("c1", models.LevelHard))
	require.NoError(t, err)

	got, changed, err := m.ResolveAlert(ctx, a.ID, models.ResolutionContacted, "called her", "s1", t0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusResolved, got.Status)

	got, changed, err = m.ResolveAlert(ctx, a.ID, models.ResolutionFalseAlarm, "", "s2", t0)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.ResolutionContacted, got.Resolution)

	_, changed, err = m.AcknowledgeAlert(ctx, a.ID, "s3", t0)
	require.NoError(t, err)
	assert.False(t, changed)

	_, changed, err = m.RaiseAlertLevel(ctx, a.ID, models.LevelEscalation, t0)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMemoryUnknownAlert(t *testing.T) {
	_, _, err := NewMemory().AcknowledgeAlert(context.Background(), uuid.New(), "s1", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryMarkNotifiedUnions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, _, err := m.InsertActiveAlert(ctx, newAlert("c1", models.LevelSoft))
	require.NoError(t, err)

	require.NoError(t, m.MarkNotified(ctx, a.ID, []string{"s2", "s1"}, models.LevelSoft))
	require.NoError(t, m.MarkNotified(ctx, a.ID, []string{"s1", "s3"}, models.LevelReminder))

	got, err := m.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, got.NotifiedSupporterIDs)
	assert.Equal(t, models.LevelSoft, got.NotifiedLevel)
}

func TestMemoryUpsertDeliveryKeepsAcknowledged(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	alertID := uuid.New()
	supporter := "s1"

	first, err := m.UpsertDelivery(ctx, models.DeliveryLogEntry{
		AlertID: &alertID, SupporterID: &supporter, ProviderID: "CA1",
		Channel: models.ChannelVoice, Status: models.DeliveryQueued, Destination: "+15550001111",
		UpdatedAt: t0,
	})
	require.NoError(t, err)

	_, err = m.UpsertDelivery(ctx, models.DeliveryLogEntry{
		ProviderID: "CA1", Channel: models.ChannelVoice, Status: models.DeliveryAcknowledged, UpdatedAt: t0.Add(time.Minute),
	})
	require.NoError(t, err)

	duration := 42
	got, err := m.UpsertDelivery(ctx, models.DeliveryLogEntry{
		ProviderID: "CA1", Channel: models.ChannelVoice, Status: models.DeliveryCompleted,
		DurationSeconds: &duration, UpdatedAt: t0.Add(2 * time.Minute),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, models.DeliveryAcknowledged, got.Status)
	require.NotNil(t, got.AlertID)
	assert.Equal(t, alertID, *got.AlertID)
	assert.Equal(t, "+15550001111", got.Destination)
	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, 42, *got.DurationSeconds)
	assert.Equal(t, t0, got.CreatedAt)

	list, err := m.ListDeliveries(ctx, alertID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutSupporterLink(models.SupporterLink{ID: "l2", CheckerID: "c1", SupporterID: "s2", Phone: "+1 (555) 000-2222", Priority: 2, Active: true})
	m.PutSupporterLink(models.SupporterLink{ID: "l1", CheckerID: "c1", SupporterID: "s1", Phone: "(555) 000-1111", Priority: 1, Active: true})
	m.PutSupporterLink(models.SupporterLink{ID: "l3", CheckerID: "c1", SupporterID: "s3", Active: false})

	links, err := m.ListActiveSupporterLinks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "l1", links[0].ID)

	link, err := m.FindSupporterLinkByPhone(ctx, "c1", "+15550002222")
	require.NoError(t, err)
	assert.Equal(t, "s2", link.SupporterID)

	// National format in the directory matches the E.164 caller id.
	link, err = m.FindSupporterLinkByPhone(ctx, "c1", "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, "s1", link.SupporterID)

	_, err = m.FindSupporterLinkByPhone(ctx, "c1", "+15559999999")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := m.IsSupporterOf(ctx, "c1", "s3")
	require.NoError(t, err)
	assert.False(t, ok)

	last, err := m.GetLastCheckIn(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, m.RecordCheckIn(ctx, "c1", t0))
	require.NoError(t, m.RecordCheckIn(ctx, "c1", t0.Add(-time.Hour)))
	last, err = m.GetLastCheckIn(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, t0, *last)
}
