package ivr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"wellness-service/internal/db"
	"wellness-service/internal/models"
)

// StatusCallback is a call progress report from the voice gateway.
type StatusCallback struct {
	AlertID    string
	CallSid    string
	CallStatus string
	Duration   string
	To         string
	From       string
	Direction  string
}

// SupporterNumber picks the supporter's side of a call: the dialed number on
// calls we placed, the calling number on inbound calls.
func SupporterNumber(direction, to, from string) string {
	if direction == "" || strings.HasPrefix(direction, "outbound") {
		return to
	}
	return from
}

// Dialed is the supporter side of the call.
func (s StatusCallback) Dialed() string {
	return SupporterNumber(s.Direction, s.To, s.From)
}

// RecordStatus upserts the call's delivery log entry. An unknown alert or
// number still produces an entry, with the missing ids left null. The
// returned error is for logging; the webhook is always answered with success.
func (m *Machine) RecordStatus(ctx context.Context, cb StatusCallback) error {
	status := models.ParseDeliveryStatus(cb.CallStatus)
	m.metrics.StatusCallbacks.WithLabelValues(string(status)).Inc()

	entry := models.DeliveryLogEntry{
		ProviderID:  cb.CallSid,
		Channel:     models.ChannelVoice,
		Status:      status,
		Destination: models.NormalizePhone(cb.Dialed()),
		UpdatedAt:   m.now(),
	}
	if entry.ProviderID == "" {
		entry.ProviderID = "call-" + uuid.NewString()
		m.logger.Warnf("Voice status callback without CallSid, logged as %s", entry.ProviderID)
	}
	if secs, err := strconv.Atoi(cb.Duration); err == nil && secs >= 0 {
		entry.DurationSeconds = &secs
	}

	var lookupErr error
	if id, err := uuid.Parse(cb.AlertID); err == nil {
		alert, err := m.alerts.Get(ctx, id)
		switch {
		case err == nil:
			entry.AlertID = &id
			link, err := m.supporters.FindSupporterLinkByPhone(ctx, alert.CheckerID, cb.Dialed())
			switch {
			case err == nil:
				supporterID := link.Identity()
				entry.SupporterID = &supporterID
			case !errors.Is(err, db.ErrNotFound):
				lookupErr = err
			}
		case errors.Is(err, db.ErrNotFound):
			m.logger.Warnf("Voice status for call %s names unknown alert %s", entry.ProviderID, id)
		default:
			// The alert most likely exists; keep the reference.
			entry.AlertID = &id
			lookupErr = err
		}
	}
	if entry.SupporterID == nil {
		m.logger.Infof("Voice status %s for call %s to unknown supporter number", status, entry.ProviderID)
	}

	if _, err := m.calls.UpsertDelivery(ctx, entry); err != nil {
		return fmt.Errorf("failed to log call status %s: %w", entry.ProviderID, err)
	}
	if lookupErr != nil {
		return fmt.Errorf("call %s logged without supporter: %w", entry.ProviderID, lookupErr)
	}
	return nil
}
