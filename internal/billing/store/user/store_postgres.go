package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ledgerd/internal/billing/models"
	"ledgerd/internal/billing/ports"
	id "ledgerd/pkg/domain"
	"ledgerd/pkg/platform/sentinel"
	"ledgerd/pkg/platform/tx"
)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed user store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ ports.UserStore = (*PostgresStore)(nil)

const userColumns = `id, email, receipt_email, plan, plan_set_at, plan_expires_at,
	has_verified_email, is_banned, locale, created_at, updated_at`

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	row := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, uuid.UUID(userID))
	return scanUser(row)
}

// Save persists the full record and recomputes derived plan expiry from the
// ledger in the same statement, keeping the invariant maintenance on the
// save path where the user aggregate owns it.
func (s *PostgresStore) Save(ctx context.Context, u *models.User) error {
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO users (id, email, receipt_email, plan, plan_set_at, plan_expires_at,
			has_verified_email, is_banned, locale, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT max(invoice_at + duration_seconds * interval '1 second')
			   FROM payments WHERE user_id = $1),
			$6, $7, $8, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			receipt_email = EXCLUDED.receipt_email,
			plan = EXCLUDED.plan,
			plan_set_at = EXCLUDED.plan_set_at,
			plan_expires_at = EXCLUDED.plan_expires_at,
			has_verified_email = EXCLUDED.has_verified_email,
			is_banned = EXCLUDED.is_banned,
			locale = EXCLUDED.locale,
			updated_at = now()`,
		uuid.UUID(u.ID), u.Email, u.ReceiptEmail, string(u.Plan), u.PlanSetAt,
		u.HasVerifiedEmail, u.IsBanned, u.Locale,
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListIDs(ctx context.Context, q ports.UserQuery) ([]id.UserID, error) {
	query := `SELECT id FROM users WHERE TRUE`
	if q.PaidOnly {
		query += ` AND plan <> 'free'`
	}
	if q.RequireVerifiedEmail {
		query += ` AND has_verified_email`
	}
	if q.ExcludeBanned {
		query += ` AND NOT is_banned`
	}

	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []id.UserID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id.UserID(u))
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		uid       uuid.UUID
		plan      string
		expiresAt sql.NullTime
	)
	err := row.Scan(&uid, &u.Email, &u.ReceiptEmail, &plan, &u.PlanSetAt, &expiresAt,
		&u.HasVerifiedEmail, &u.IsBanned, &u.Locale, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.ID = id.UserID(uid)
	u.Plan = models.Plan(plan)
	if expiresAt.Valid {
		t := expiresAt.Time
		u.PlanExpiresAt = &t
	}
	return &u, nil
}
