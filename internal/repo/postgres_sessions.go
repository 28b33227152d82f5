package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/guardline/guardline/internal/model"
)

type PostgresSessionRepo struct {
	db *sql.DB
}

func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

const sessionColumns = `
	id, user_id, start_time, limit_time, tolerance_seconds, deadline,
	status, check_in_confirmed, check_in_confirmed_at, extensions_count,
	share_location, loc_latitude, loc_longitude, loc_accuracy, loc_captured_at,
	note, claimed_at, dispatch_outcome,
	nudge_midpoint_sent_at, nudge_followup_sent_at,
	created_at, updated_at`

func (r *PostgresSessionRepo) Create(ctx context.Context, s *model.Session) error {
	var lat, lon, acc *float64
	var capturedAt *time.Time
	if s.LastKnownLocation != nil {
		lat = &s.LastKnownLocation.Latitude
		lon = &s.LastKnownLocation.Longitude
		acc = &s.LastKnownLocation.Accuracy
		capturedAt = &s.LastKnownLocation.CapturedAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, user_id, start_time, limit_time, tolerance_seconds, deadline,
			status, extensions_count, share_location,
			loc_latitude, loc_longitude, loc_accuracy, loc_captured_at,
			note, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11, $12, $13, now(), now())
	`,
		s.ID, s.UserID, s.StartTime, s.LimitTime, int64(s.Tolerance.Seconds()), s.Deadline,
		string(s.Status), s.ShareLocation, lat, lon, acc, capturedAt, s.Note,
	)
	return err
}

func (r *PostgresSessionRepo) Get(ctx context.Context, id string) (*model.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresSessionRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessions(rows)
}

func (r *PostgresSessionRepo) MarkReturned(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'returned',
		    check_in_confirmed = TRUE,
		    check_in_confirmed_at = $2,
		    claimed_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('returned', 'cancelled', 'sos_triggered')
	`, id, at.UTC())
	return casResult(ctx, r.db, id, res, err)
}

func (r *PostgresSessionRepo) MarkCancelled(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'cancelled', claimed_at = NULL, updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('returned', 'cancelled', 'sos_triggered')
	`, id)
	return casResult(ctx, r.db, id, res, err)
}

func (r *PostgresSessionRepo) MarkSOSTriggered(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'sos_triggered', updated_at = now()
		WHERE id = $1 AND status = 'overdue'
	`, id)
	return casResult(ctx, r.db, id, res, err)
}

func (r *PostgresSessionRepo) Extend(ctx context.Context, id string, add time.Duration) (*model.Session, error) {
	if add <= 0 {
		return nil, errors.New("extension must be > 0")
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET limit_time = limit_time + $2 * interval '1 second',
		    deadline = limit_time + $2 * interval '1 second' + tolerance_seconds * interval '1 second',
		    extensions_count = extensions_count + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('active', 'grace')
		  AND extensions_count < $3
		RETURNING `+sessionColumns+`
	`, id, int64(add.Seconds()), model.MaxExtensions)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish cap exhaustion from a state conflict.
		cur, gerr := r.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if cur.ExtensionsCount >= model.MaxExtensions {
			return nil, ErrExtensionLimit
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresSessionRepo) SweepGrace(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'grace', updated_at = now()
		WHERE status = 'active'
		  AND limit_time <= $1
		  AND deadline > $1
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClaimOverdue is the single synchronization point preventing two concurrent
// ticks from dispatching alerts for the same session. SKIP LOCKED keeps
// overlapping claimers from blocking each other; the claimed_at freshness
// check makes claims abandoned by a crash reclaimable after claimTTL.
func (r *PostgresSessionRepo) ClaimOverdue(ctx context.Context, now time.Time, claimTTL time.Duration, limit int, includeQuotaDenied bool) ([]model.Session, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	nowUTC := now.UTC()
	staleBefore := nowUTC.Add(-claimTTL)

	outcomeFilter := `dispatch_outcome IS NULL`
	if includeQuotaDenied {
		outcomeFilter = `(dispatch_outcome IS NULL OR dispatch_outcome IN ('quota_reached', 'no_credits'))`
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE deadline <= $1
		  AND status IN ('active', 'grace', 'overdue')
		  AND (claimed_at IS NULL OR claimed_at < $2)
		  AND `+outcomeFilter+`
		ORDER BY deadline ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $3
	`, nowUTC, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}

	if len(sessions) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	for _, s := range sessions {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET status = 'overdue', claimed_at = $2, dispatch_outcome = NULL, updated_at = $2
			WHERE id = $1
		`, s.ID, nowUTC); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range sessions {
		sessions[i].Status = model.SessionOverdue
		t := nowUTC
		sessions[i].ClaimedAt = &t
		sessions[i].DispatchOutcome = nil
		sessions[i].UpdatedAt = nowUTC
	}
	return sessions, nil
}

func (r *PostgresSessionRepo) ReleaseClaim(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET claimed_at = NULL, updated_at = now() WHERE id = $1
	`, id)
	return err
}

func (r *PostgresSessionRepo) RecordDispatchOutcome(ctx context.Context, id string, outcome model.DispatchOutcome) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET dispatch_outcome = $2, updated_at = now() WHERE id = $1
	`, id, string(outcome))
	return err
}

func (r *PostgresSessionRepo) ClearDispatchOutcome(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET dispatch_outcome = NULL, claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'overdue'
	`, id)
	return casResult(ctx, r.db, id, res, err)
}

func (r *PostgresSessionRepo) SetLastKnownLocation(ctx context.Context, id string, loc model.Location) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET loc_latitude = $2, loc_longitude = $3, loc_accuracy = $4,
		    loc_captured_at = $5, updated_at = now()
		WHERE id = $1
	`, id, loc.Latitude, loc.Longitude, loc.Accuracy, loc.CapturedAt.UTC())
	return casResult(ctx, r.db, id, res, err)
}

func (r *PostgresSessionRepo) ListDueNudges(ctx context.Context, now time.Time) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status = 'active'
		  AND (
			(nudge_midpoint_sent_at IS NULL
			 AND start_time + (limit_time - start_time) / 2 <= $1)
			OR
			(nudge_midpoint_sent_at IS NOT NULL
			 AND nudge_followup_sent_at IS NULL
			 AND start_time + (limit_time - start_time) / 2 + interval '10 minutes' <= $1)
		  )
		ORDER BY limit_time ASC
	`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessions(rows)
}

func (r *PostgresSessionRepo) MarkNudgeSent(ctx context.Context, id string, kind model.NudgeKind, at time.Time) error {
	var column string
	switch kind {
	case model.NudgeMidpoint:
		column = "nudge_midpoint_sent_at"
	case model.NudgeFollowup:
		column = "nudge_followup_sent_at"
	default:
		return fmt.Errorf("unknown nudge kind: %s", kind)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET `+column+` = $2, updated_at = now()
		WHERE id = $1 AND `+column+` IS NULL
	`, id, at.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s                model.Session
		status           string
		toleranceSeconds int64
		checkInAt        sql.NullTime
		lat, lon, acc    sql.NullFloat64
		capturedAt       sql.NullTime
		claimedAt        sql.NullTime
		outcome          sql.NullString
		midpointAt       sql.NullTime
		followupAt       sql.NullTime
	)

	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.StartTime,
		&s.LimitTime,
		&toleranceSeconds,
		&s.Deadline,
		&status,
		&s.CheckInConfirmed,
		&checkInAt,
		&s.ExtensionsCount,
		&s.ShareLocation,
		&lat,
		&lon,
		&acc,
		&capturedAt,
		&s.Note,
		&claimedAt,
		&outcome,
		&midpointAt,
		&followupAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}

	s.Status = model.SessionStatus(status)
	s.Tolerance = time.Duration(toleranceSeconds) * time.Second

	if checkInAt.Valid {
		t := checkInAt.Time
		s.CheckInConfirmedAt = &t
	}
	if lat.Valid && lon.Valid && capturedAt.Valid {
		s.LastKnownLocation = &model.Location{
			Latitude:   lat.Float64,
			Longitude:  lon.Float64,
			Accuracy:   acc.Float64,
			CapturedAt: capturedAt.Time,
		}
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		s.ClaimedAt = &t
	}
	if outcome.Valid {
		o := model.DispatchOutcome(outcome.String)
		s.DispatchOutcome = &o
	}
	if midpointAt.Valid {
		t := midpointAt.Time
		s.NudgeMidpointSentAt = &t
	}
	if followupAt.Valid {
		t := followupAt.Time
		s.NudgeFollowupSentAt = &t
	}

	return &s, nil
}

func collectSessions(rows *sql.Rows) ([]model.Session, error) {
	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func casResult(ctx context.Context, db *sql.DB, id string, res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if qerr := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); qerr == nil && !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}
