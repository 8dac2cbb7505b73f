package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"wellness-service/internal/models"
)

const alertColumns = `
	id, checker_id, checker_name, last_known_location, last_checkin_at, level, status,
	triggered_at, missed_window_at, acknowledged_at, acknowledged_by, resolved_at, resolved_by,
	resolution, resolution_notes, notified_supporter_ids, notified_level, updated_at`

func scanAlert(row pgx.Row) (models.Alert, error) {
	var (
		a             models.Alert
		level         int16
		notifiedLevel int16
		status        string
		resolution    *string
	)
	err := row.Scan(
		&a.ID, &a.CheckerID, &a.CheckerName, &a.LastKnownLocation, &a.LastCheckinAt, &level, &status,
		&a.TriggeredAt, &a.MissedWindowAt, &a.AcknowledgedAt, &a.AcknowledgedBy, &a.ResolvedAt, &a.ResolvedBy,
		&resolution, &a.ResolutionNotes, &a.NotifiedSupporterIDs, &notifiedLevel, &a.UpdatedAt,
	)
	if err != nil {
		return models.Alert{}, err
	}
	a.Level = clampLevel(models.Level(level))
	a.NotifiedLevel = models.Level(notifiedLevel)
	a.Status = models.Status(status)
	if resolution != nil {
		a.Resolution = models.Resolution(*resolution)
	}
	return a, nil
}

// clampLevel keeps rows written by a newer or older schema usable: anything
// outside the known range is read as the nearest valid level.
func clampLevel(l models.Level) models.Level {
	switch {
	case l < models.LevelReminder:
		return models.LevelReminder
	case l > models.LevelEscalation:
		return models.LevelEscalation
	}
	return l
}

func (d *DB) GetAlert(ctx context.Context, id uuid.UUID) (models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlert(d.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Alert{}, ErrNotFound
		}
		return models.Alert{}, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return a, nil
}

func (d *DB) GetActiveAlert(ctx context.Context, checkerID string) (models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE checker_id = $1 AND status <> 'resolved'`
	a, err := scanAlert(d.Pool.QueryRow(ctx, query, checkerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Alert{}, ErrNotFound
		}
		return models.Alert{}, fmt.Errorf("failed to get active alert for checker %s: %w", checkerID, err)
	}
	return a, nil
}

func (d *DB) ListActiveAlerts(ctx context.Context, checkerID string) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
	WHERE checker_id = $1 AND status <> 'resolved'
	ORDER BY triggered_at`
	return d.queryAlerts(ctx, query, checkerID)
}

// ListAlerts returns every alert for a checker, newest first.
func (d *DB) ListAlerts(ctx context.Context, checkerID string) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE checker_id = $1 ORDER BY triggered_at DESC`
	return d.queryAlerts(ctx, query, checkerID)
}

func (d *DB) queryAlerts(ctx context.Context, query string, args ...any) ([]models.Alert, error) {
	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var list []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return list, nil
}

// InsertActiveAlert stores a when the checker has no unresolved alert. If one
// already exists it is returned with created=false and nothing is written.
func (d *DB) InsertActiveAlert(ctx context.Context, a models.Alert) (models.Alert, bool, error) {
	query := `
	INSERT INTO alerts (
		id, checker_id, checker_name, last_known_location, last_checkin_at, level, status,
		triggered_at, missed_window_at, notified_supporter_ids, notified_level, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, '{}', 0, $7)
	ON CONFLICT (checker_id) WHERE status <> 'resolved' DO NOTHING
	RETURNING ` + alertColumns

	created, err := scanAlert(d.Pool.QueryRow(ctx, query,
		a.ID, a.CheckerID, a.CheckerName, a.LastKnownLocation, a.LastCheckinAt, int16(a.Level),
		a.TriggeredAt, a.MissedWindowAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Alert{}, false, fmt.Errorf("failed to insert alert: %w", err)
	}

	existing, err := d.GetActiveAlert(ctx, a.CheckerID)
	if err != nil {
		return models.Alert{}, false, err
	}
	return existing, false, nil
}

// RaiseAlertLevel sets the level only when it is strictly higher than the
// stored one and the alert is unresolved.
func (d *DB) RaiseAlertLevel(ctx context.Context, id uuid.UUID, level models.Level, at time.Time) (models.Alert, bool, error) {
	query := `
	UPDATE alerts SET level = $2, updated_at = $3
	WHERE id = $1 AND status <> 'resolved' AND level < $2
	RETURNING ` + alertColumns
	return d.conditionalUpdate(ctx, id, query, id, int16(level), at)
}

// AcknowledgeAlert is the compare-and-set pending -> acknowledged.
func (d *DB) AcknowledgeAlert(ctx context.Context, id uuid.UUID, supporterID string, at time.Time) (models.Alert, bool, error) {
	query := `
	UPDATE alerts
	SET status = 'acknowledged', acknowledged_at = $2, acknowledged_by = $3, updated_at = $2
	WHERE id = $1 AND status = 'pending'
	RETURNING ` + alertColumns
	return d.conditionalUpdate(ctx, id, query, id, at, supporterID)
}

// ResolveAlert is the compare-and-set {pending, acknowledged} -> resolved.
func (d *DB) ResolveAlert(ctx context.Context, id uuid.UUID, resolution models.Resolution, notes, resolverID string, at time.Time) (models.Alert, bool, error) {
	query := `
	UPDATE alerts
	SET status = 'resolved', resolved_at = $2, resolution = $3, resolution_notes = $4,
		resolved_by = NULLIF($5, ''), updated_at = $2
	WHERE id = $1 AND status <> 'resolved'
	RETURNING ` + alertColumns
	return d.conditionalUpdate(ctx, id, query, id, at, string(resolution), notes, resolverID)
}

// MarkNotified unions supporterIDs into the notified set and records level as
// the last notified level. Both only grow.
func (d *DB) MarkNotified(ctx context.Context, id uuid.UUID, supporterIDs []string, level models.Level) error {
	query := `
	UPDATE alerts
	SET notified_supporter_ids = ARRAY(
			SELECT DISTINCT s FROM unnest(notified_supporter_ids || $2::text[]) AS s ORDER BY s
		),
		notified_level = GREATEST(notified_level, $3),
		updated_at = now()
	WHERE id = $1`
	tag, err := d.Pool.Exec(ctx, query, id, supporterIDs, int16(level))
	if err != nil {
		return fmt.Errorf("failed to mark supporters notified on alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// conditionalUpdate runs an UPDATE ... RETURNING. When the WHERE clause does
// not match, the current row is returned with changed=false.
func (d *DB) conditionalUpdate(ctx context.Context, id uuid.UUID, query string, args ...any) (models.Alert, bool, error) {
	a, err := scanAlert(d.Pool.QueryRow(ctx, query, args...))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Alert{}, false, fmt.Errorf("failed to update alert %s: %w", id, err)
	}
	current, err := d.GetAlert(ctx, id)
	if err != nil {
		return models.Alert{}, false, err
	}
	return current, false, nil
}
