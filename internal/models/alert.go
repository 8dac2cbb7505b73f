package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is the escalation tier of an unresolved miss. Levels are ordered and
// compare with the usual integer operators.
type Level int

const (
	LevelNone Level = iota
	LevelReminder
	LevelSoft
	LevelHard
	LevelEscalation
)

var levelNames = map[Level]string{
	LevelNone:       "none",
	LevelReminder:   "reminder",
	LevelSoft:       "soft",
	LevelHard:       "hard",
	LevelEscalation: "escalation",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Valid reports whether l is one of the alerting levels (reminder..escalation).
func (l Level) Valid() bool {
	return l >= LevelReminder && l <= LevelEscalation
}

// ParseLevel converts a level name into a Level. Unknown names are a
// validation error, never a panic.
func ParseLevel(s string) (Level, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == needle && l.Valid() {
			return l, nil
		}
	}
	return LevelNone, fmt.Errorf("unknown escalation level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	if string(b) == levelNames[LevelNone] {
		*l = LevelNone
		return nil
	}
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Status is the lifecycle state of an Alert.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Resolution records why an alert was closed.
type Resolution string

const (
	ResolutionCheckedIn     Resolution = "checked_in"
	ResolutionContacted     Resolution = "contacted"
	ResolutionSafeConfirmed Resolution = "safe_confirmed"
	ResolutionFalseAlarm    Resolution = "false_alarm"
	ResolutionOther         Resolution = "other"
)

// ParseResolution validates a resolution code coming from a client.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(s))); r {
	case ResolutionCheckedIn, ResolutionContacted, ResolutionSafeConfirmed, ResolutionFalseAlarm, ResolutionOther:
		return r, nil
	}
	return "", fmt.Errorf("unknown resolution %q", s)
}

// MaxResolutionNotes bounds the free-text notes stored on resolve.
const MaxResolutionNotes = 500

// Alert is the single escalation thread for one missed check-in. A checker
// has at most one Alert that is not resolved.
type Alert struct {
	ID        uuid.UUID `json:"id"`
	CheckerID string    `json:"checker_id"`

	// Snapshot taken when the alert was triggered.
	CheckerName       string     `json:"checker_name"`
	LastKnownLocation *string    `json:"last_known_location,omitempty"`
	LastCheckinAt     *time.Time `json:"last_checkin_at,omitempty"`

	Level  Level  `json:"level"`
	Status Status `json:"status"`

	TriggeredAt    time.Time  `json:"triggered_at"`
	MissedWindowAt time.Time  `json:"missed_window_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`

	AcknowledgedBy  *string    `json:"acknowledged_by,omitempty"`
	ResolvedBy      *string    `json:"resolved_by,omitempty"`
	Resolution      Resolution `json:"resolution,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`

	NotifiedSupporterIDs []string `json:"notified_supporter_ids"`
	// NotifiedLevel is the highest level for which a fan-out round finished.
	NotifiedLevel Level `json:"notified_level"`
}

// Active reports whether the alert still needs attention.
func (a Alert) Active() bool {
	return a.Status != StatusResolved
}

// WasNotified reports whether supporterID is already in the notified set.
func (a Alert) WasNotified(supporterID string) bool {
	for _, id := range a.NotifiedSupporterIDs {
		if id == supporterID {
			return true
		}
	}
	return false
}

// HoursSinceMissed is the elapsed time since the missed window, rounded to
// whole hours, as shown to supporters.
func (a Alert) HoursSinceMissed(now time.Time) int {
	d := now.Sub(a.MissedWindowAt)
	if d < 0 {
		return 0
	}
	return int(d.Round(time.Hour) / time.Hour)
}

// AlertEventType names a lifecycle transition published to observers.
type AlertEventType string

const (
	EventAlertCreated      AlertEventType = "alert.created"
	EventAlertEscalated    AlertEventType = "alert.escalated"
	EventAlertAcknowledged AlertEventType = "alert.acknowledged"
	EventAlertResolved     AlertEventType = "alert.resolved"
)

// AlertEvent is emitted after every state-changing lifecycle operation.
type AlertEvent struct {
	Type       AlertEventType `json:"type"`
	Alert      Alert          `json:"alert"`
	OccurredAt time.Time      `json:"occurred_at"`
}
