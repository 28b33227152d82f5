package repo

import (
	"context"
	"database/sql"

	"github.com/guardline/guardline/internal/model"
)

type PostgresContactRepo struct {
	db *sql.DB
}

func NewPostgresContactRepo(db *sql.DB) *PostgresContactRepo {
	return &PostgresContactRepo{db: db}
}

func (r *PostgresContactRepo) Create(ctx context.Context, c *model.EmergencyContact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO emergency_contacts (id, user_id, name, phone, priority, opted_out, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, now())
	`, c.ID, c.UserID, c.Name, c.Phone, c.Priority)
	return err
}

func (r *PostgresContactRepo) ListByUser(ctx context.Context, userID string) ([]model.EmergencyContact, error) {
	return r.list(ctx, userID, false)
}

func (r *PostgresContactRepo) ListActiveByUser(ctx context.Context, userID string) ([]model.EmergencyContact, error) {
	return r.list(ctx, userID, true)
}

func (r *PostgresContactRepo) list(ctx context.Context, userID string, activeOnly bool) ([]model.EmergencyContact, error) {
	q := `
		SELECT id, user_id, name, phone, priority, opted_out, created_at
		FROM emergency_contacts
		WHERE user_id = $1`
	if activeOnly {
		q += ` AND opted_out = FALSE`
	}
	q += ` ORDER BY priority ASC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EmergencyContact
	for rows.Next() {
		var c model.EmergencyContact
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &c.Priority, &c.OptedOut, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresContactRepo) SetOptOut(ctx context.Context, id string, optedOut bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE emergency_contacts SET opted_out = $2 WHERE id = $1
	`, id, optedOut)
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
