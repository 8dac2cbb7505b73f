package models

import (
	"fmt"
	"time"
)

// Schedule is a checker's active daily check-in window.
type Schedule struct {
	CheckerID string `json:"checker_id"`
	// WindowStart and WindowEnd are wall-clock times "HH:MM" in Timezone.
	WindowStart string         `json:"window_start"`
	WindowEnd   string         `json:"window_end"`
	Timezone    string         `json:"timezone"`
	GracePeriod time.Duration  `json:"grace_period"`
	ActiveDays  []time.Weekday `json:"active_days,omitempty"`
	// ActiveSince is when monitoring began. A checker who has never checked
	// in is measured from it as if they had checked in at that instant.
	ActiveSince time.Time `json:"active_since,omitempty"`
}

// Validate rejects schedules the evaluator cannot interpret.
func (s Schedule) Validate() error {
	if _, _, err := ParseClock(s.WindowStart); err != nil {
		return fmt.Errorf("invalid window_start: %w", err)
	}
	if _, _, err := ParseClock(s.WindowEnd); err != nil {
		return fmt.Errorf("invalid window_end: %w", err)
	}
	if s.GracePeriod < 0 {
		return fmt.Errorf("grace period must not be negative")
	}
	return nil
}

// Location resolves the schedule timezone, falling back to UTC for empty or
// unknown names.
func (s Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ActiveOn reports whether the schedule applies on weekday d. An empty
// ActiveDays list means every day.
func (s Schedule) ActiveOn(d time.Weekday) bool {
	if len(s.ActiveDays) == 0 {
		return true
	}
	for _, day := range s.ActiveDays {
		if day == d {
			return true
		}
	}
	return false
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(v string) (int, int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("clock %q: %w", v, err)
	}
	return t.Hour(), t.Minute(), nil
}
