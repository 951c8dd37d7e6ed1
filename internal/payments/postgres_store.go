package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists payment attempts and callbacks in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, a *Attempt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (
			order_reference, amount, description, locale, client_ip, payment_url,
			status, created_at, expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.OrderReference, a.Amount, a.Description, a.Locale, a.ClientIP, nullString(a.PaymentURL),
		string(a.State), a.CreatedAt, a.ExpiresAt, a.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

const attemptColumns = `order_reference, amount, description, locale, client_ip, payment_url,
		       status, response_code, transaction_status, transaction_no, bank_code,
		       created_at, expires_at, resolved_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, ref string) (*Attempt, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM payment_attempts WHERE order_reference = $1`, ref)

	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, ErrAttemptNotFound
	}
	return a, err
}

// Transition is a single conditional UPDATE; concurrent callers race on the
// row lock and only one sees a pending row.
func (p *PostgresStore) Transition(ctx context.Context, ref string, to State, res Resolution, at time.Time) (*Attempt, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE payment_attempts SET
			status = $1, response_code = $2, transaction_status = $3,
			transaction_no = $4, bank_code = $5, resolved_at = $6, updated_at = $6
		WHERE order_reference = $7 AND status = 'pending'
		RETURNING `+attemptColumns,
		string(to), nullString(res.ResponseCode), nullString(res.TransactionStatus),
		nullString(res.TransactionNo), nullString(res.BankCode), at, ref,
	)
	a, err := scanAttempt(row)
	if err == nil {
		return a, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	// Either missing or already terminal.
	existing, err := p.Get(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Attempt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM payment_attempts
		WHERE status = 'pending'
		  AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (p *PostgresStore) RecordCallback(ctx context.Context, rec *CallbackRecord) error {
	paramsJSON, err := json.Marshal(rec.Params)
	if err != nil {
		return err
	}
	if rec.Params == nil {
		paramsJSON = []byte("{}")
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO payment_callbacks (
			id, order_reference, channel, reason, response_code,
			transaction_status, transaction_no, params, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.OrderReference, rec.Channel, rec.Reason, nullString(rec.ResponseCode),
		nullString(rec.TransactionStatus), nullString(rec.TransactionNo), paramsJSON, rec.ReceivedAt,
	)
	return err
}

func (p *PostgresStore) ListCallbacks(ctx context.Context, ref string, limit int) ([]*CallbackRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, order_reference, channel, reason, response_code,
		       transaction_status, transaction_no, params, received_at
		FROM payment_callbacks
		WHERE order_reference = $1
		ORDER BY received_at DESC
		LIMIT $2`, ref, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*CallbackRecord
	for rows.Next() {
		rec := &CallbackRecord{}
		var (
			responseCode sql.NullString
			txnStatus    sql.NullString
			txnNo        sql.NullString
			paramsJSON   []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.OrderReference, &rec.Channel, &rec.Reason, &responseCode,
			&txnStatus, &txnNo, &paramsJSON, &rec.ReceivedAt,
		); err != nil {
			return nil, err
		}
		rec.ResponseCode = responseCode.String
		rec.TransactionStatus = txnStatus.String
		rec.TransactionNo = txnNo.String
		if len(paramsJSON) > 0 {
			_ = json.Unmarshal(paramsJSON, &rec.Params)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(s scanner) (*Attempt, error) {
	a := &Attempt{}
	var (
		paymentURL   sql.NullString
		status       string
		responseCode sql.NullString
		txnStatus    sql.NullString
		txnNo        sql.NullString
		bankCode     sql.NullString
		resolvedAt   sql.NullTime
	)

	err := s.Scan(
		&a.OrderReference, &a.Amount, &a.Description, &a.Locale, &a.ClientIP, &paymentURL,
		&status, &responseCode, &txnStatus, &txnNo, &bankCode,
		&a.CreatedAt, &a.ExpiresAt, &resolvedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.State = State(status)
	a.PaymentURL = paymentURL.String
	a.ResponseCode = responseCode.String
	a.TransactionStatus = txnStatus.String
	a.TransactionNo = txnNo.String
	a.BankCode = bankCode.String
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return a, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
