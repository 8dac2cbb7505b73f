package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"wellness-service/internal/models"
)

// Memory is an in-process implementation of every store the service reads
// and writes. It backs DB_DRIVER=memory and the package tests.
type Memory struct {
	mu         sync.RWMutex
	alerts     map[uuid.UUID]models.Alert
	deliveries map[string]models.DeliveryLogEntry

	dirMu     sync.RWMutex
	checkers  map[string]models.Checker
	schedules map[string]models.Schedule
	checkins  map[string]time.Time
	links     map[string][]models.SupporterLink
}

func NewMemory() *Memory {
	return &Memory{
		alerts:     make(map[uuid.UUID]models.Alert),
		deliveries: make(map[string]models.DeliveryLogEntry),
		checkers:   make(map[string]models.Checker),
		schedules:  make(map[string]models.Schedule),
		checkins:   make(map[string]time.Time),
		links:      make(map[string][]models.SupporterLink),
	}
}

func cloneAlert(a models.Alert) models.Alert {
	a.NotifiedSupporterIDs = append([]string(nil), a.NotifiedSupporterIDs...)
	return a
}

func (m *Memory) GetAlert(_ context.Context, id uuid.UUID) (models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, ErrNotFound
	}
	return cloneAlert(a), nil
}

func (m *Memory) activeLocked(checkerID string) (models.Alert, bool) {
	for _, a := range m.alerts {
		if a.CheckerID == checkerID && a.Active() {
			return a, true
		}
	}
	return models.Alert{}, false
}

func (m *Memory) GetActiveAlert(_ context.Context, checkerID string) (models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activeLocked(checkerID)
	if !ok {
		return models.Alert{}, ErrNotFound
	}
	return cloneAlert(a), nil
}

func (m *Memory) ListActiveAlerts(_ context.Context, checkerID string) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.Alert
	for _, a := range m.alerts {
		if a.CheckerID == checkerID && a.Active() {
			list = append(list, cloneAlert(a))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TriggeredAt.Before(list[j].TriggeredAt) })
	return list, nil
}

// ListAlerts returns every alert for a checker, newest first.
func (m *Memory) ListAlerts(_ context.Context, checkerID string) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.Alert
	for _, a := range m.alerts {
		if a.CheckerID == checkerID {
			list = append(list, cloneAlert(a))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TriggeredAt.After(list[j].TriggeredAt) })
	return list, nil
}

func (m *Memory) InsertActiveAlert(_ context.Context, a models.Alert) (models.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.activeLocked(a.CheckerID); ok {
		return cloneAlert(existing), false, nil
	}
	a.Status = models.StatusPending
	a.UpdatedAt = a.TriggeredAt
	a.NotifiedSupporterIDs = []string{}
	a.NotifiedLevel = models.LevelNone
	m.alerts[a.ID] = a
	return cloneAlert(a), true, nil
}

// update applies fn under the write lock. fn reports whether it changed the
// alert; unchanged alerts are returned as stored.
func (m *Memory) update(id uuid.UUID, fn func(a *models.Alert) bool) (models.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, false, ErrNotFound
	}
	a = cloneAlert(a)
	if !fn(&a) {
		return cloneAlert(m.alerts[id]), false, nil
	}
	m.alerts[id] = a
	return cloneAlert(a), true, nil
}

func (m *Memory) RaiseAlertLevel(_ context.Context, id uuid.UUID, level models.Level, at time.Time) (models.Alert, bool, error) {
	return m.update(id, func(a *models.Alert) bool {
		if !a.Active() || level <= a.Level {
			return false
		}
		a.Level = level
		a.UpdatedAt = at
		return true
	})
}

func (m *Memory) AcknowledgeAlert(_ context.Context, id uuid.UUID, supporterID string, at time.Time) (models.Alert, bool, error) {
	return m.update(id, func(a *models.Alert) bool {
		if a.Status != models.StatusPending {
			return false
		}
		a.Status = models.StatusAcknowledged
		a.AcknowledgedAt = &at
		a.AcknowledgedBy = &supporterID
		a.UpdatedAt = at
		return true
	})
}

func (m *Memory) ResolveAlert(_ context.Context, id uuid.UUID, resolution models.Resolution, notes, resolverID string, at time.Time) (models.Alert, bool, error) {
	return m.update(id, func(a *models.Alert) bool {
		if a.Status == models.StatusResolved {
			return false
		}
		a.Status = models.StatusResolved
		a.ResolvedAt = &at
		a.Resolution = resolution
		a.ResolutionNotes = notes
		if resolverID != "" {
			a.ResolvedBy = &resolverID
		}
		a.UpdatedAt = at
		return true
	})
}

func (m *Memory) MarkNotified(_ context.Context, id uuid.UUID, supporterIDs []string, level models.Level) error {
	_, _, err := m.update(id, func(a *models.Alert) bool {
		seen := make(map[string]bool, len(a.NotifiedSupporterIDs)+len(supporterIDs))
		for _, s := range a.NotifiedSupporterIDs {
			seen[s] = true
		}
		for _, s := range supporterIDs {
			if !seen[s] {
				seen[s] = true
				a.NotifiedSupporterIDs = append(a.NotifiedSupporterIDs, s)
			}
		}
		sort.Strings(a.NotifiedSupporterIDs)
		if level > a.NotifiedLevel {
			a.NotifiedLevel = level
		}
		a.UpdatedAt = time.Now().UTC()
		return true
	})
	return err
}

func (m *Memory) UpsertDelivery(_ context.Context, e models.DeliveryLogEntry) (models.DeliveryLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	existing, ok := m.deliveries[e.ProviderID]
	if !ok {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.CreatedAt = e.UpdatedAt
		m.deliveries[e.ProviderID] = e
		return e, nil
	}

	if existing.AlertID == nil {
		existing.AlertID = e.AlertID
	}
	if existing.SupporterID == nil {
		existing.SupporterID = e.SupporterID
	}
	if existing.Status != models.DeliveryAcknowledged {
		existing.Status = e.Status
	}
	if e.Destination != "" {
		existing.Destination = e.Destination
	}
	if e.DurationSeconds != nil {
		existing.DurationSeconds = e.DurationSeconds
	}
	if e.Error != "" {
		existing.Error = e.Error
	}
	existing.UpdatedAt = e.UpdatedAt
	m.deliveries[e.ProviderID] = existing
	return existing, nil
}

func (m *Memory) GetDeliveryByProviderID(_ context.Context, providerID string) (models.DeliveryLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.deliveries[providerID]
	if !ok {
		return models.DeliveryLogEntry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) ListDeliveries(_ context.Context, alertID uuid.UUID) ([]models.DeliveryLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.DeliveryLogEntry
	for _, e := range m.deliveries {
		if e.AlertID != nil && *e.AlertID == alertID {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ProviderID < list[j].ProviderID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

// ListAllDeliveries returns every entry, including those without an alert.
func (m *Memory) ListAllDeliveries() []models.DeliveryLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]models.DeliveryLogEntry, 0, len(m.deliveries))
	for _, e := range m.deliveries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ProviderID < list[j].ProviderID })
	return list
}

// Directory side: checkers, schedules, check-ins and supporter links.

func (m *Memory) PutChecker(c models.Checker) {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	m.checkers[c.ID] = c
}

func (m *Memory) PutSchedule(s models.Schedule) {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	m.schedules[s.CheckerID] = s
}

func (m *Memory) RecordCheckIn(_ context.Context, checkerID string, at time.Time) error {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	if prev, ok := m.checkins[checkerID]; !ok || at.After(prev) {
		m.checkins[checkerID] = at
	}
	return nil
}

// PutSupporterLink adds or replaces a link by id.
func (m *Memory) PutSupporterLink(l models.SupporterLink) {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	links := m.links[l.CheckerID]
	for i := range links {
		if links[i].ID == l.ID {
			links[i] = l
			return
		}
	}
	m.links[l.CheckerID] = append(links, l)
}

func (m *Memory) GetChecker(_ context.Context, checkerID string) (models.Checker, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	c, ok := m.checkers[checkerID]
	if !ok {
		return models.Checker{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) GetActiveSchedule(_ context.Context, checkerID string) (models.Schedule, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	s, ok := m.schedules[checkerID]
	if !ok {
		return models.Schedule{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetLastCheckIn(_ context.Context, checkerID string) (*time.Time, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	t, ok := m.checkins[checkerID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) ListScheduledCheckers(_ context.Context) ([]string, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	ids := make([]string, 0, len(m.schedules))
	for id := range m.schedules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) ListActiveSupporterLinks(_ context.Context, checkerID string) ([]models.SupporterLink, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	var links []models.SupporterLink
	for _, l := range m.links[checkerID] {
		if l.Active {
			links = append(links, l)
		}
	}
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Priority == links[j].Priority {
			return links[i].ID < links[j].ID
		}
		return links[i].Priority < links[j].Priority
	})
	return links, nil
}

func (m *Memory) FindSupporterLinkByPhone(ctx context.Context, checkerID, phone string) (models.SupporterLink, error) {
	links, err := m.ListActiveSupporterLinks(ctx, checkerID)
	if err != nil {
		return models.SupporterLink{}, err
	}
	want := models.NormalizePhone(phone)
	for _, l := range links {
		if want != "" && models.NormalizePhone(l.Phone) == want {
			return l, nil
		}
	}
	return models.SupporterLink{}, ErrNotFound
}

func (m *Memory) IsSupporterOf(ctx context.Context, checkerID, supporterID string) (bool, error) {
	links, err := m.ListActiveSupporterLinks(ctx, checkerID)
	if err != nil {
		return false, err
	}
	for _, l := range links {
		if l.Identity() == supporterID {
			return true, nil
		}
	}
	return false, nil
}
