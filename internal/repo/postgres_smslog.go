package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/guardline/guardline/internal/model"
)

type PostgresSmsLogRepo struct {
	db *sql.DB
}

func NewPostgresSmsLogRepo(db *sql.DB) *PostgresSmsLogRepo {
	return &PostgresSmsLogRepo{db: db}
}

func (r *PostgresSmsLogRepo) Create(ctx context.Context, e *model.SmsLogEntry) error {
	// Test messages are not tied to a session.
	var sessionID sql.NullString
	if e.SessionID != "" {
		sessionID = sql.NullString{String: e.SessionID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sms_log (
			id, session_id, contact_id, phone_number, message_body,
			sms_type, status, retry_count, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, now())
	`, e.ID, sessionID, e.ContactID, e.PhoneNumber, e.MessageBody, string(e.SmsType))
	return err
}

func (r *PostgresSmsLogRepo) MarkSent(ctx context.Context, id, providerMessageID string, retryCount int, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE sms_log
		SET status = 'sent',
		    provider_message_id = $2,
		    retry_count = $3,
		    sent_at = $4
		WHERE id = $1 AND status = 'pending'
	`, id, providerMessageID, retryCount, at.UTC())
	if err := r.rowsOrNotFound(res, err); err != nil {
		return err
	}

	// A delivery callback can outrun this update; if one was stashed for the
	// provider ID, apply it now so the terminal status is not lost.
	var (
		stashed    string
		occurredAt time.Time
	)
	err = tx.QueryRowContext(ctx, `
		DELETE FROM sms_delivery_events
		WHERE provider_message_id = $1
		RETURNING status, occurred_at
	`, providerMessageID).Scan(&stashed, &occurredAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	case stashed == "delivered":
		if _, err := tx.ExecContext(ctx, `
			UPDATE sms_log SET status = 'delivered', delivered_at = $2 WHERE id = $1
		`, id, occurredAt.UTC()); err != nil {
			return err
		}
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE sms_log
			SET status = 'failed',
			    failure_reason = COALESCE(failure_reason, 'provider reported failure')
			WHERE id = $1
		`, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PostgresSmsLogRepo) MarkFailed(ctx context.Context, id, reason string, retryCount int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sms_log
		SET status = 'failed',
		    failure_reason = $2,
		    retry_count = $3
		WHERE id = $1 AND status = 'pending'
	`, id, reason, retryCount)
	return r.rowsOrNotFound(res, err)
}

func (r *PostgresSmsLogRepo) UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.SmsStatus, at time.Time) error {
	var res sql.Result
	var err error

	switch status {
	case model.SmsDelivered:
		res, err = r.db.ExecContext(ctx, `
			UPDATE sms_log
			SET status = 'delivered', delivered_at = $2
			WHERE provider_message_id = $1 AND status = 'sent'
		`, providerMessageID, at.UTC())
	case model.SmsFailed:
		res, err = r.db.ExecContext(ctx, `
			UPDATE sms_log
			SET status = 'failed', failure_reason = COALESCE(failure_reason, 'provider reported failure')
			WHERE provider_message_id = $1 AND status = 'sent'
		`, providerMessageID)
	default:
		// "sent" confirmations carry no new information; ack without touching
		// the row, but still report unknown IDs to the caller.
		var exists bool
		err = r.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM sms_log WHERE provider_message_id = $1)
		`, providerMessageID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return nil
	}

	err = r.rowsOrNotFound(res, err)
	if errors.Is(err, ErrNotFound) {
		// Possibly a callback that outran MarkSent. Stash it for re-apply
		// unless the ID is already attached to an entry (then this is a
		// duplicate or out-of-order callback and the row state stands).
		if _, sErr := r.db.ExecContext(ctx, `
			INSERT INTO sms_delivery_events (provider_message_id, status, occurred_at)
			SELECT $1, $2, $3
			WHERE NOT EXISTS (SELECT 1 FROM sms_log WHERE provider_message_id = $1)
			ON CONFLICT (provider_message_id) DO NOTHING
		`, providerMessageID, string(status), at.UTC()); sErr != nil {
			return sErr
		}
		return ErrNotFound
	}
	return err
}

func (r *PostgresSmsLogRepo) ListBySession(ctx context.Context, sessionID string) ([]model.SmsLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, contact_id, phone_number, message_body,
		       sms_type, status, provider_message_id, retry_count,
		       sent_at, delivered_at, failure_reason, created_at
		FROM sms_log
		WHERE session_id = $1
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SmsLogEntry
	for rows.Next() {
		var (
			e          model.SmsLogEntry
			sessionID  sql.NullString
			smsType    string
			status     string
			providerID sql.NullString
			sentAt     sql.NullTime
			delivAt    sql.NullTime
			reason     sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &sessionID, &e.ContactID, &e.PhoneNumber, &e.MessageBody,
			&smsType, &status, &providerID, &e.RetryCount,
			&sentAt, &delivAt, &reason, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.SessionID = sessionID.String
		e.SmsType = model.SmsType(smsType)
		e.Status = model.SmsStatus(status)
		if providerID.Valid {
			s := providerID.String
			e.ProviderMessageID = &s
		}
		if sentAt.Valid {
			t := sentAt.Time
			e.SentAt = &t
		}
		if delivAt.Valid {
			t := delivAt.Time
			e.DeliveredAt = &t
		}
		if reason.Valid {
			s := reason.String
			e.FailureReason = &s
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresSmsLogRepo) rowsOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
