package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"wellness-service/internal/models"
)

const deliveryColumns = `
	id, alert_id, supporter_id, provider_id, channel, status, destination,
	duration_seconds, error, created_at, updated_at`

func scanDelivery(row pgx.Row) (models.DeliveryLogEntry, error) {
	var (
		e               models.DeliveryLogEntry
		alertID         pgtype.UUID
		channel, status string
		duration        *int32
	)
	err := row.Scan(
		&e.ID, &alertID, &e.SupporterID, &e.ProviderID, &channel, &status, &e.Destination,
		&duration, &e.Error, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return models.DeliveryLogEntry{}, err
	}
	if alertID.Valid {
		id := uuid.UUID(alertID.Bytes)
		e.AlertID = &id
	}
	if duration != nil {
		v := int(*duration)
		e.DurationSeconds = &v
	}
	e.Channel = models.Channel(channel)
	e.Status = models.DeliveryStatus(status)
	return e, nil
}

// UpsertDelivery inserts a delivery log row or updates the row with the same
// provider id. Existing alert/supporter ids are never cleared, the
// acknowledged status is never overwritten, and duration/error keep their
// previous values when the update does not carry one.
func (d *DB) UpsertDelivery(ctx context.Context, e models.DeliveryLogEntry) (models.DeliveryLogEntry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	var duration *int32
	if e.DurationSeconds != nil {
		v := int32(*e.DurationSeconds)
		duration = &v
	}

	query := `
	INSERT INTO delivery_log (` + deliveryColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	ON CONFLICT (provider_id) DO UPDATE SET
		alert_id         = COALESCE(delivery_log.alert_id, EXCLUDED.alert_id),
		supporter_id     = COALESCE(delivery_log.supporter_id, EXCLUDED.supporter_id),
		status           = CASE WHEN delivery_log.status = 'acknowledged' THEN delivery_log.status ELSE EXCLUDED.status END,
		destination      = CASE WHEN EXCLUDED.destination = '' THEN delivery_log.destination ELSE EXCLUDED.destination END,
		duration_seconds = COALESCE(EXCLUDED.duration_seconds, delivery_log.duration_seconds),
		error            = CASE WHEN EXCLUDED.error = '' THEN delivery_log.error ELSE EXCLUDED.error END,
		updated_at       = EXCLUDED.updated_at
	RETURNING ` + deliveryColumns

	out, err := scanDelivery(d.Pool.QueryRow(ctx, query,
		e.ID, e.AlertID, e.SupporterID, e.ProviderID, string(e.Channel), string(e.Status), e.Destination,
		duration, e.Error, e.UpdatedAt,
	))
	if err != nil {
		return models.DeliveryLogEntry{}, fmt.Errorf("failed to upsert delivery %s: %w", e.ProviderID, err)
	}
	return out, nil
}

func (d *DB) GetDeliveryByProviderID(ctx context.Context, providerID string) (models.DeliveryLogEntry, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_log WHERE provider_id = $1`
	e, err := scanDelivery(d.Pool.QueryRow(ctx, query, providerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DeliveryLogEntry{}, ErrNotFound
		}
		return models.DeliveryLogEntry{}, fmt.Errorf("failed to get delivery %s: %w", providerID, err)
	}
	return e, nil
}

func (d *DB) ListDeliveries(ctx context.Context, alertID uuid.UUID) ([]models.DeliveryLogEntry, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_log WHERE alert_id = $1 ORDER BY created_at, provider_id`
	rows, err := d.Pool.Query(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries for alert %s: %w", alertID, err)
	}
	defer rows.Close()

	var list []models.DeliveryLogEntry
	for rows.Next() {
		e, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}
	return list, nil
}
