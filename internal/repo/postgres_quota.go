package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/guardline/guardline/internal/model"
)

// QuotaDefaults seed a ledger row the first time a user consumes.
type QuotaDefaults struct {
	FreeAlerts    int
	FreeTestSms   int
	SmsDailyLimit int
	SOSDailyLimit int
}

type PostgresQuotaRepo struct {
	db       *sql.DB
	defaults QuotaDefaults

	// nowFn is swapped in tests exercising the calendar-date reset.
	nowFn func() time.Time
}

func NewPostgresQuotaRepo(db *sql.DB, defaults QuotaDefaults) *PostgresQuotaRepo {
	return &PostgresQuotaRepo{db: db, defaults: defaults, nowFn: time.Now}
}

// ledgerRow is the locked state of one user's quota row, as scanned inside
// the consume transaction.
type ledgerRow struct {
	FreeAlerts  int
	FreeTestSms int
	Subscribed  bool
	SmsLimit    int
	SOSLimit    int
	SmsToday    int
	SOSToday    int
	CounterDate time.Time
}

// decideConsume applies the quota rules to a row as of now and returns the
// decision plus the row state to persist. Daily counters are a pure function
// of the calendar date: a row carrying yesterday's date counts as zero today,
// no reset job involved. Daily caps deny before any balance question; an
// active subscription allows without touching the free balance; otherwise
// the free balance for the message type is decremented. Allowed consumes
// advance the daily counters; denials leave the row untouched.
func decideConsume(row ledgerRow, smsType model.SmsType, now time.Time) (model.ConsumeDecision, ledgerRow) {
	today := dateOnly(now)
	if !dateOnly(row.CounterDate).Equal(today) {
		row.SmsToday, row.SOSToday = 0, 0
	}
	row.CounterDate = today

	balance := row.FreeAlerts
	if smsType == model.SmsTypeTest {
		balance = row.FreeTestSms
	}
	countsAsSOS := smsType == model.SmsTypeSOS || smsType == model.SmsTypeLate

	if row.SmsToday >= row.SmsLimit || (countsAsSOS && row.SOSToday >= row.SOSLimit) {
		return model.ConsumeDecision{Allowed: false, Reason: model.ReasonQuotaReached, RemainingCredits: balance}, row
	}

	var decision model.ConsumeDecision
	switch {
	case row.Subscribed:
		decision = model.ConsumeDecision{Allowed: true, Reason: model.ReasonSubscriptionActive, RemainingCredits: balance}

	case balance <= 0:
		return model.ConsumeDecision{Allowed: false, Reason: model.ReasonNoCredits, RemainingCredits: 0}, row

	default:
		balance--
		if smsType == model.SmsTypeTest {
			row.FreeTestSms = balance
		} else {
			row.FreeAlerts = balance
		}
		decision = model.ConsumeDecision{Allowed: true, Reason: model.ReasonCreditConsumed, RemainingCredits: balance}
	}

	row.SmsToday++
	if countsAsSOS {
		row.SOSToday++
	}
	return decision, row
}

// ConsumeCredit takes the ledger row lock for the user, so concurrent
// dispatch attempts serialize here and can never double-decrement.
func (r *PostgresQuotaRepo) ConsumeCredit(ctx context.Context, userID string, smsType model.SmsType) (model.ConsumeDecision, error) {
	var decision model.ConsumeDecision

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return decision, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.ensureRow(ctx, tx, userID); err != nil {
		return decision, err
	}

	var row ledgerRow
	err = tx.QueryRowContext(ctx, `
		SELECT free_alerts_remaining, free_test_sms_remaining, subscription_active,
		       sms_daily_limit, sms_sos_daily_limit,
		       sms_sent_today, sos_sent_today, counter_date
		FROM user_quotas
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&row.FreeAlerts, &row.FreeTestSms, &row.Subscribed,
		&row.SmsLimit, &row.SOSLimit, &row.SmsToday, &row.SOSToday, &row.CounterDate)
	if err != nil {
		return decision, err
	}

	decision, row = decideConsume(row, smsType, r.nowFn())

	if !decision.Allowed {
		if err := tx.Commit(); err != nil {
			return decision, err
		}
		return decision, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_quotas
		SET free_alerts_remaining = $2,
		    free_test_sms_remaining = $3,
		    sms_sent_today = $4,
		    sos_sent_today = $5,
		    counter_date = $6,
		    updated_at = now()
		WHERE user_id = $1
	`, userID, row.FreeAlerts, row.FreeTestSms, row.SmsToday, row.SOSToday, row.CounterDate); err != nil {
		return decision, err
	}

	if err := tx.Commit(); err != nil {
		return decision, err
	}
	return decision, nil
}

func (r *PostgresQuotaRepo) RefundCredit(ctx context.Context, userID string, smsType model.SmsType) error {
	column := "free_alerts_remaining"
	if smsType == model.SmsTypeTest {
		column = "free_test_sms_remaining"
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE user_quotas
		SET `+column+` = `+column+` + 1, updated_at = now()
		WHERE user_id = $1
	`, userID)
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

func (r *PostgresQuotaRepo) Get(ctx context.Context, userID string) (*model.QuotaState, error) {
	var (
		q          model.QuotaState
		customerID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, free_alerts_remaining, free_test_sms_remaining, subscription_active,
		       sms_daily_limit, sms_sos_daily_limit,
		       sms_sent_today, sos_sent_today, counter_date,
		       stripe_customer_id, updated_at
		FROM user_quotas
		WHERE user_id = $1
	`, userID).Scan(
		&q.UserID, &q.FreeAlertsRemaining, &q.FreeTestSmsRemaining, &q.SubscriptionActive,
		&q.SmsDailyLimit, &q.SmsSOSDailyLimit,
		&q.SmsSentToday, &q.SOSSentToday, &q.CounterDate,
		&customerID, &q.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if customerID.Valid {
		s := customerID.String
		q.StripeCustomerID = &s
	}
	if !dateOnly(q.CounterDate).Equal(dateOnly(r.nowFn())) {
		q.SmsSentToday, q.SOSSentToday = 0, 0
	}
	return &q, nil
}

func (r *PostgresQuotaRepo) Grant(ctx context.Context, userID string, alerts, testSms int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.ensureRow(ctx, tx, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE user_quotas
		SET free_alerts_remaining = free_alerts_remaining + $2,
		    free_test_sms_remaining = free_test_sms_remaining + $3,
		    updated_at = now()
		WHERE user_id = $1
	`, userID, alerts, testSms); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresQuotaRepo) SetSubscription(ctx context.Context, userID string, active bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.ensureRow(ctx, tx, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE user_quotas SET subscription_active = $2, updated_at = now() WHERE user_id = $1
	`, userID, active); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresQuotaRepo) LinkStripeCustomer(ctx context.Context, userID, customerID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.ensureRow(ctx, tx, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE user_quotas SET stripe_customer_id = $2, updated_at = now() WHERE user_id = $1
	`, userID, customerID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresQuotaRepo) SetSubscriptionByCustomer(ctx context.Context, customerID string, active bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE user_quotas SET subscription_active = $2, updated_at = now()
		WHERE stripe_customer_id = $1
	`, customerID, active)
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

func (r *PostgresQuotaRepo) ensureRow(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_quotas (
			user_id, free_alerts_remaining, free_test_sms_remaining,
			subscription_active, sms_daily_limit, sms_sos_daily_limit,
			sms_sent_today, sos_sent_today, counter_date, updated_at
		)
		VALUES ($1, $2, $3, FALSE, $4, $5, 0, 0, CURRENT_DATE, now())
		ON CONFLICT (user_id) DO NOTHING
	`, userID, r.defaults.FreeAlerts, r.defaults.FreeTestSms, r.defaults.SmsDailyLimit, r.defaults.SOSDailyLimit)
	return err
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
