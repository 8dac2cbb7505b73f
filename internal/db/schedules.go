package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"wellness-service/internal/models"
)

func (d *DB) GetActiveSchedule(ctx context.Context, checkerID string) (models.Schedule, error) {
	var (
		s            models.Schedule
		graceMinutes int32
		days         []int16
	)
	err := d.Pool.QueryRow(ctx, `
	SELECT checker_id, window_start, window_end, timezone, grace_minutes, active_days, active_since
	FROM checkin_schedules
	WHERE checker_id = $1 AND active`, checkerID).
		Scan(&s.CheckerID, &s.WindowStart, &s.WindowEnd, &s.Timezone, &graceMinutes, &days, &s.ActiveSince)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Schedule{}, ErrNotFound
		}
		return models.Schedule{}, fmt.Errorf("failed to get schedule for checker %s: %w", checkerID, err)
	}
	s.GracePeriod = time.Duration(graceMinutes) * time.Minute
	for _, day := range days {
		if day >= 0 && day <= 6 {
			s.ActiveDays = append(s.ActiveDays, time.Weekday(day))
		}
	}
	return s, nil
}

// GetLastCheckIn returns nil when the checker has never checked in.
func (d *DB) GetLastCheckIn(ctx context.Context, checkerID string) (*time.Time, error) {
	var last *time.Time
	err := d.Pool.QueryRow(ctx, `
	SELECT max(checked_in_at) FROM checkins WHERE checker_id = $1`, checkerID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to get last check-in for checker %s: %w", checkerID, err)
	}
	return last, nil
}

// ListScheduledCheckers returns every checker with an active schedule.
func (d *DB) ListScheduledCheckers(ctx context.Context) ([]string, error) {
	rows, err := d.Pool.Query(ctx, `SELECT checker_id FROM checkin_schedules WHERE active ORDER BY checker_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled checkers: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan scheduled checkers: %w", err)
	}
	return ids, nil
}

// RecordCheckIn stores a check-in consumed from the checkins topic.
func (d *DB) RecordCheckIn(ctx context.Context, checkerID string, at time.Time) error {
	_, err := d.Pool.Exec(ctx, `INSERT INTO checkins (checker_id, checked_in_at) VALUES ($1, $2)`, checkerID, at)
	if err != nil {
		return fmt.Errorf("failed to record check-in for checker %s: %w", checkerID, err)
	}
	return nil
}
