package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"wellness-service/internal/db"
	"wellness-service/internal/logging"
	"wellness-service/internal/models"
)

var (
	// ErrNotFound is returned when the alert id does not exist.
	ErrNotFound = db.ErrNotFound
	// ErrResolutionConflict rejects resolving an already resolved alert with a
	// different resolution code.
	ErrResolutionConflict = errors.New("alert already resolved with a different resolution")
	// ErrInvalidInput marks validation failures at the boundary.
	ErrInvalidInput = errors.New("invalid input")
)

// Outcome describes what a lifecycle call did. Lost races are outcomes, not
// errors.
type Outcome string

const (
	OutcomeCreated             Outcome = "created"
	OutcomeEscalated           Outcome = "escalated"
	OutcomeUnchanged           Outcome = "unchanged"
	OutcomeAcknowledged        Outcome = "acknowledged"
	OutcomeAlreadyAcknowledged Outcome = "already_acknowledged"
	OutcomeResolved            Outcome = "resolved"
	OutcomeAlreadyResolved     Outcome = "already_resolved"
)

// Changed reports whether the call wrote a new state.
func (o Outcome) Changed() bool {
	switch o {
	case OutcomeCreated, OutcomeEscalated, OutcomeAcknowledged, OutcomeResolved:
		return true
	}
	return false
}

// Store is the persistence the manager needs. Every mutating method is a
// conditional write that reports whether it matched.
type Store interface {
	GetAlert(ctx context.Context, id uuid.UUID) (models.Alert, error)
	ListActiveAlerts(ctx context.Context, checkerID string) ([]models.Alert, error)
	InsertActiveAlert(ctx context.Context, a models.Alert) (models.Alert, bool, error)
	RaiseAlertLevel(ctx context.Context, id uuid.UUID, level models.Level, at time.Time) (models.Alert, bool, error)
	AcknowledgeAlert(ctx context.Context, id uuid.UUID, supporterID string, at time.Time) (models.Alert, bool, error)
	ResolveAlert(ctx context.Context, id uuid.UUID, resolution models.Resolution, notes, resolverID string, at time.Time) (models.Alert, bool, error)
}

// CheckerDirectory provides the profile snapshot copied onto new alerts.
type CheckerDirectory interface {
	GetChecker(ctx context.Context, checkerID string) (models.Checker, error)
}

// CheckInSource provides the last check-in copied onto new alerts.
type CheckInSource interface {
	GetLastCheckIn(ctx context.Context, checkerID string) (*time.Time, error)
}

// Observer receives every state-changing event after it is stored.
type Observer func(models.AlertEvent)

type Manager struct {
	store     Store
	checkers  CheckerDirectory
	checkins  CheckInSource
	logger    *logging.Logger
	observers []Observer
	now       func() time.Time
}

type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithObserver registers an event observer. Observers run synchronously on
// the calling goroutine and must not block.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

func NewManager(store Store, checkers CheckerDirectory, checkins CheckInSource, logger *logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		checkers: checkers,
		checkins: checkins,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe adds an observer after construction. Call it during wiring,
// before the manager is shared.
func (m *Manager) Subscribe(o Observer) {
	m.observers = append(m.observers, o)
}

func (m *Manager) emit(t models.AlertEventType, a models.Alert) {
	ev := models.AlertEvent{Type: t, Alert: a, OccurredAt: m.now()}
	for _, o := range m.observers {
		o(ev)
	}
}

// Get returns the alert or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (models.Alert, error) {
	return m.store.GetAlert(ctx, id)
}

// Trigger creates the checker's alert at level, or raises the level of the
// unresolved one. Equal or lower levels are a no-op. missedAt is the missed
// window instant recorded on a new alert; zero means now.
func (m *Manager) Trigger(ctx context.Context, checkerID string, level models.Level, missedAt time.Time) (models.Alert, Outcome, error) {
	if strings.TrimSpace(checkerID) == "" {
		return models.Alert{}, "", fmt.Errorf("%w: checker id is required", ErrInvalidInput)
	}
	if !level.Valid() {
		return models.Alert{}, "", fmt.Errorf("%w: level %s cannot be triggered", ErrInvalidInput, level)
	}
	now := m.now()
	if missedAt.IsZero() {
		missedAt = now
	}

	candidate := models.Alert{
		ID:             uuid.New(),
		CheckerID:      checkerID,
		Level:          level,
		TriggeredAt:    now,
		MissedWindowAt: missedAt,
	}
	m.snapshot(ctx, &candidate)

	alert, created, err := m.store.InsertActiveAlert(ctx, candidate)
	if err != nil {
		return models.Alert{}, "", fmt.Errorf("failed to trigger alert for checker %s: %w", checkerID, err)
	}
	if created {
		m.logger.Infof("Alert %s created for checker %s at level %s", alert.ID, checkerID, level)
		m.emit(models.EventAlertCreated, alert)
		return alert, OutcomeCreated, nil
	}

	if level <= alert.Level {
		m.logger.Debugf("Alert %s for checker %s already at level %s, requested %s", alert.ID, checkerID, alert.Level, level)
		return alert, OutcomeUnchanged, nil
	}

	raised, changed, err := m.store.RaiseAlertLevel(ctx, alert.ID, level, now)
	if err != nil {
		return models.Alert{}, "", fmt.Errorf("failed to raise alert %s: %w", alert.ID, err)
	}
	if !changed {
		// Raced with another raise or a resolve.
		return raised, OutcomeUnchanged, nil
	}
	m.logger.Infof("Alert %s for checker %s escalated %s -> %s", raised.ID, checkerID, alert.Level, raised.Level)
	m.emit(models.EventAlertEscalated, raised)
	return raised, OutcomeEscalated, nil
}

// snapshot copies checker name, location and last check-in onto a new alert.
// Directory failures leave the fields empty.
func (m *Manager) snapshot(ctx context.Context, a *models.Alert) {
	if m.checkers != nil {
		c, err := m.checkers.GetChecker(ctx, a.CheckerID)
		switch {
		case err == nil:
			a.CheckerName = c.Name
			a.LastKnownLocation = c.LastKnownLocation
		case errors.Is(err, db.ErrNotFound):
			m.logger.Warnf("Checker %s not found in directory, alert snapshot is empty", a.CheckerID)
		default:
			m.logger.Errorf("Failed to load checker %s: %v", a.CheckerID, err)
		}
	}
	if m.checkins != nil {
		last, err := m.checkins.GetLastCheckIn(ctx, a.CheckerID)
		if err != nil {
			m.logger.Errorf("Failed to load last check-in of checker %s: %v", a.CheckerID, err)
			return
		}
		a.LastCheckinAt = last
	}
}

// Acknowledge moves a pending alert to acknowledged. Exactly one concurrent
// caller wins; the others get OutcomeAlreadyAcknowledged or
// OutcomeAlreadyResolved with the current snapshot.
func (m *Manager) Acknowledge(ctx context.Context, id uuid.UUID, supporterID string) (models.Alert, Outcome, error) {
	if strings.TrimSpace(supporterID) == "" {
		return models.Alert{}, "", fmt.Errorf("%w: supporter id is required", ErrInvalidInput)
	}
	alert, changed, err := m.store.AcknowledgeAlert(ctx, id, supporterID, m.now())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return models.Alert{}, "", ErrNotFound
		}
		return models.Alert{}, "", fmt.Errorf("failed to acknowledge alert %s: %w", id, err)
	}
	if !changed {
		if alert.Status == models.StatusResolved {
			return alert, OutcomeAlreadyResolved, nil
		}
		return alert, OutcomeAlreadyAcknowledged, nil
	}
	m.logger.Infof("Alert %s acknowledged by %s", id, supporterID)
	m.emit(models.EventAlertAcknowledged, alert)
	return alert, OutcomeAcknowledged, nil
}

// ValidateNotes enforces the resolution notes bound.
func ValidateNotes(notes string) error {
	if utf8.RuneCountInString(notes) > models.MaxResolutionNotes {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalidInput, models.MaxResolutionNotes)
	}
	return nil
}

// Resolve closes a pending or acknowledged alert. Resolving an already
// resolved alert with the same code returns the stored snapshot; a different
// code is ErrResolutionConflict.
func (m *Manager) Resolve(ctx context.Context, id uuid.UUID, resolution models.Resolution, notes, resolverID string) (models.Alert, Outcome, error) {
	if _, err := models.ParseResolution(string(resolution)); err != nil {
		return models.Alert{}, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := ValidateNotes(notes); err != nil {
		return models.Alert{}, "", err
	}

	alert, changed, err := m.store.ResolveAlert(ctx, id, resolution, notes, resolverID, m.now())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return models.Alert{}, "", ErrNotFound
		}
		return models.Alert{}, "", fmt.Errorf("failed to resolve alert %s: %w", id, err)
	}
	if !changed {
		if alert.Resolution != resolution {
			return alert, "", ErrResolutionConflict
		}
		return alert, OutcomeAlreadyResolved, nil
	}
	m.logger.Infof("Alert %s resolved as %s", id, resolution)
	m.emit(models.EventAlertResolved, alert)
	return alert, OutcomeResolved, nil
}

// ResolveAllForChecker resolves every unresolved alert of the checker as
// checked_in and returns the alerts this call closed.
func (m *Manager) ResolveAllForChecker(ctx context.Context, checkerID string) ([]models.Alert, error) {
	active, err := m.store.ListActiveAlerts(ctx, checkerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts for checker %s: %w", checkerID, err)
	}
	var resolved []models.Alert
	for _, a := range active {
		alert, changed, err := m.store.ResolveAlert(ctx, a.ID, models.ResolutionCheckedIn, "", checkerID, m.now())
		if err != nil {
			return resolved, fmt.Errorf("failed to resolve alert %s: %w", a.ID, err)
		}
		if !changed {
			continue
		}
		m.logger.Infof("Alert %s resolved by check-in of %s", a.ID, checkerID)
		m.emit(models.EventAlertResolved, alert)
		resolved = append(resolved, alert)
	}
	return resolved, nil
}
