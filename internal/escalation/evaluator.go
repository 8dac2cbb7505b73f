// Package escalation decides whether a checker missed today's check-in window
// and how far the miss has escalated. Everything here is a pure function of
// its inputs.
package escalation

import (
	"fmt"
	"time"

	"wellness-service/internal/models"
)

// Thresholds are the elapsed durations at which each level starts. Ranges are
// half-open: a value equal to a threshold belongs to the higher level.
type Thresholds struct {
	Soft       time.Duration
	Hard       time.Duration
	Escalation time.Duration
}

// DefaultThresholds is <24h reminder, [24h,36h) soft, [36h,48h) hard, >=48h escalation.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Soft:       24 * time.Hour,
		Hard:       36 * time.Hour,
		Escalation: 48 * time.Hour,
	}
}

// Validate enforces strictly increasing, positive thresholds.
func (t Thresholds) Validate() error {
	if t.Soft <= 0 || t.Hard <= t.Soft || t.Escalation <= t.Hard {
		return fmt.Errorf("escalation thresholds must be positive and increasing: soft=%s hard=%s escalation=%s",
			t.Soft, t.Hard, t.Escalation)
	}
	return nil
}

// LevelFor maps an elapsed duration to a level.
func (t Thresholds) LevelFor(elapsed time.Duration) models.Level {
	switch {
	case elapsed >= t.Escalation:
		return models.LevelEscalation
	case elapsed >= t.Hard:
		return models.LevelHard
	case elapsed >= t.Soft:
		return models.LevelSoft
	default:
		return models.LevelReminder
	}
}

// Result is the outcome of one evaluation. Level is LevelNone when nothing
// was missed.
type Result struct {
	Level          models.Level
	MissedWindowAt time.Time
	Elapsed        time.Duration
}

// Missed reports whether the evaluation found a missed window.
func (r Result) Missed() bool {
	return r.Level != models.LevelNone
}

// Evaluator applies a fixed set of thresholds.
type Evaluator struct {
	thresholds Thresholds
}

// New builds an Evaluator. Invalid thresholds fall back to the defaults.
func New(t Thresholds) *Evaluator {
	if t.Validate() != nil {
		t = DefaultThresholds()
	}
	return &Evaluator{thresholds: t}
}

// Thresholds returns the thresholds in use.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate computes the escalation level for a checker at now.
//
// The reference instant is the last check-in, or the schedule's ActiveSince
// when the checker has never checked in. The missed window is the first
// deadline (window end in the schedule's timezone plus grace, on an active
// weekday) after the calendar day of that instant. Before the deadline the
// result is LevelNone, so a check-in earlier today always clears the
// evaluation. Elapsed time runs from the reference instant, which is fixed
// until the next check-in, so the level never drops as now advances.
//
// Schedules without ActiveSince fall back to today's deadline for checkers
// with no history; that path measures from the deadline itself.
func (e *Evaluator) Evaluate(s models.Schedule, lastCheckIn *time.Time, now time.Time) Result {
	loc := s.Location()
	hour, minute, err := models.ParseClock(s.WindowEnd)
	if err != nil {
		return Result{Level: models.LevelNone}
	}

	ref := lastCheckIn
	if ref == nil && !s.ActiveSince.IsZero() {
		ref = &s.ActiveSince
	}

	var deadline time.Time
	if ref == nil {
		local := now.In(loc)
		deadline = deadlineOn(local, hour, minute, loc, s.GracePeriod)
		if !s.ActiveOn(local.Weekday()) {
			return Result{Level: models.LevelNone, MissedWindowAt: deadline}
		}
	} else {
		if !ref.Before(now) {
			return Result{Level: models.LevelNone}
		}
		deadline = firstDeadlineAfter(s, ref.In(loc), hour, minute, loc)
	}

	res := Result{Level: models.LevelNone, MissedWindowAt: deadline}
	if now.Before(deadline) {
		return res
	}

	since := deadline
	if ref != nil {
		since = *ref
	}
	res.Elapsed = now.Sub(since)
	res.Level = e.thresholds.LevelFor(res.Elapsed)
	return res
}

// Evaluate runs the default thresholds.
func Evaluate(s models.Schedule, lastCheckIn *time.Time, now time.Time) Result {
	return New(DefaultThresholds()).Evaluate(s, lastCheckIn, now)
}

func deadlineOn(day time.Time, hour, minute int, loc *time.Location, grace time.Duration) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc).Add(grace)
}

// firstDeadlineAfter walks forward from the day after checkedIn to the next
// active weekday. A week always contains one when ActiveDays is non-empty.
func firstDeadlineAfter(s models.Schedule, checkedIn time.Time, hour, minute int, loc *time.Location) time.Time {
	day := time.Date(checkedIn.Year(), checkedIn.Month(), checkedIn.Day(), 12, 0, 0, 0, loc)
	for i := 1; i <= 7; i++ {
		next := day.AddDate(0, 0, i)
		if s.ActiveOn(next.Weekday()) {
			return deadlineOn(next, hour, minute, loc, s.GracePeriod)
		}
	}
	return deadlineOn(day.AddDate(0, 0, 1), hour, minute, loc, s.GracePeriod)
}
