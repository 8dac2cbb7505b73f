package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wellness-service/internal/models"
)

const supporterLinkColumns = `
	id, checker_id, COALESCE(supporter_id, ''), name, phone, email, device_tokens, telegram_chat_id,
	priority, push_enabled, sms_enabled, email_enabled, voice_enabled, telegram_enabled, active`

func scanSupporterLink(row pgx.Row) (models.SupporterLink, error) {
	var l models.SupporterLink
	err := row.Scan(
		&l.ID, &l.CheckerID, &l.SupporterID, &l.Name, &l.Phone, &l.Email, &l.DeviceTokens, &l.TelegramChatID,
		&l.Priority, &l.PushEnabled, &l.SMSEnabled, &l.EmailEnabled, &l.VoiceEnabled, &l.TelegramEnabled, &l.Active,
	)
	return l, err
}

// ListActiveSupporterLinks returns the checker's active links, lowest priority
// rank first.
func (d *DB) ListActiveSupporterLinks(ctx context.Context, checkerID string) ([]models.SupporterLink, error) {
	query := `SELECT ` + supporterLinkColumns + ` FROM supporter_links
	WHERE checker_id = $1 AND active
	ORDER BY priority, id`
	rows, err := d.Pool.Query(ctx, query, checkerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list supporter links for checker %s: %w", checkerID, err)
	}
	defer rows.Close()

	var links []models.SupporterLink
	for rows.Next() {
		l, err := scanSupporterLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan supporter link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate supporter links: %w", err)
	}
	return links, nil
}

// FindSupporterLinkByPhone resolves a phone number to one of the checker's
// active supporter links. Numbers are compared after normalization.
func (d *DB) FindSupporterLinkByPhone(ctx context.Context, checkerID, phone string) (models.SupporterLink, error) {
	links, err := d.ListActiveSupporterLinks(ctx, checkerID)
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

// IsSupporterOf reports whether supporterID has an active link to checkerID.
func (d *DB) IsSupporterOf(ctx context.Context, checkerID, supporterID string) (bool, error) {
	var ok bool
	err := d.Pool.QueryRow(ctx, `
	SELECT EXISTS (
		SELECT 1 FROM supporter_links WHERE checker_id = $1 AND supporter_id = $2 AND active
	)`, checkerID, supporterID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check supporter %s of checker %s: %w", supporterID, checkerID, err)
	}
	return ok, nil
}

func (d *DB) GetChecker(ctx context.Context, checkerID string) (models.Checker, error) {
	var c models.Checker
	err := d.Pool.QueryRow(ctx, `
	SELECT id, name, phone, last_known_location FROM checkers WHERE id = $1`, checkerID).
		Scan(&c.ID, &c.Name, &c.Phone, &c.LastKnownLocation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Checker{}, ErrNotFound
		}
		return models.Checker{}, fmt.Errorf("failed to get checker %s: %w", checkerID, err)
	}
	return c, nil
}
