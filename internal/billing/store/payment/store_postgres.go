package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledgerd/internal/billing/models"
	"ledgerd/internal/billing/ports"
	id "ledgerd/pkg/domain"
	"ledgerd/pkg/platform/sentinel"
	"ledgerd/pkg/platform/tx"
)

// PostgresStore persists ledger entries in PostgreSQL. The optional
// provider strings live in the meta JSONB column, where a document key can
// be absent, explicitly null, or a string, matching the model's three-state
// optional.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed payment store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ ports.PaymentStore = (*PostgresStore)(nil)

const paymentColumns = `id, user_id, reference, amount, amount_refunded, invoice_at,
	method, plan, duration_seconds, kind, receipt_sent_at, refund_receipt_sent_at,
	meta, created_at, updated_at`

func (s *PostgresStore) FindByID(ctx context.Context, paymentID id.PaymentID) (*models.PaymentEvent, error) {
	row := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, uuid.UUID(paymentID))
	return scanPayment(row)
}

func (s *PostgresStore) ListByUserDesc(ctx context.Context, userID id.UserID) ([]*models.PaymentEvent, error) {
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE user_id = $1 ORDER BY invoice_at DESC`,
		uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []*models.PaymentEvent
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountByUser(ctx context.Context, userID id.UserID) (int, error) {
	var n int
	err := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT count(*) FROM payments WHERE user_id = $1`, uuid.UUID(userID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count payments: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Create(ctx context.Context, p *models.PaymentEvent) error {
	if err := p.Validate(); err != nil {
		return err
	}
	meta, err := marshalMeta(p)
	if err != nil {
		return err
	}
	_, err = tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO payments (id, user_id, reference, amount, amount_refunded, invoice_at,
			method, plan, duration_seconds, kind, receipt_sent_at, refund_receipt_sent_at,
			meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())`,
		uuid.UUID(p.ID), uuid.UUID(p.UserID), p.Reference, p.Amount, p.AmountRefunded,
		p.InvoiceAt, string(p.Method), string(p.Plan), int64(p.Duration/time.Second),
		string(p.Kind), p.ReceiptSentAt, p.RefundReceiptSentAt, meta,
	)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, p *models.PaymentEvent) error {
	if err := p.Validate(); err != nil {
		return err
	}
	meta, err := marshalMeta(p)
	if err != nil {
		return err
	}
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE payments SET
			reference = $2, amount = $3, amount_refunded = $4, invoice_at = $5,
			method = $6, plan = $7, duration_seconds = $8, kind = $9,
			receipt_sent_at = $10, refund_receipt_sent_at = $11, meta = $12,
			updated_at = now()
		WHERE id = $1`,
		uuid.UUID(p.ID), p.Reference, p.Amount, p.AmountRefunded, p.InvoiceAt,
		string(p.Method), string(p.Plan), int64(p.Duration/time.Second), string(p.Kind),
		p.ReceiptSentAt, p.RefundReceiptSentAt, meta,
	)
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ListNullStringIDs is the OR-across-fields selection: any declared
// repair-eligible key whose JSON type is null marks the record corrupt.
func (s *PostgresStore) ListNullStringIDs(ctx context.Context) ([]id.PaymentID, error) {
	preds := make([]string, len(models.RepairableStringFields))
	for i, f := range models.RepairableStringFields {
		preds[i] = fmt.Sprintf("jsonb_typeof(meta->'%s') = 'null'", f.Name)
	}
	query := `SELECT id FROM payments WHERE ` + strings.Join(preds, " OR ")

	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list null-field payments: %w", err)
	}
	defer rows.Close()
	return scanPaymentIDs(rows)
}

func (s *PostgresStore) ListReceiptDueIDs(ctx context.Context, now time.Time) ([]id.PaymentID, error) {
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, `
		SELECT id FROM payments
		WHERE (invoice_at >= $1 AND receipt_sent_at IS NULL)
		   OR (amount_refunded > 0 AND refund_receipt_sent_at IS NULL
		       AND method NOT IN ('free_beta_program', 'plan_conversion'))
		ORDER BY invoice_at ASC`,
		now.Add(-24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("list due receipts: %w", err)
	}
	defer rows.Close()
	return scanPaymentIDs(rows)
}

// SetReceiptStamps writes only the stamp columns, so concurrent writers of
// other fields never lose their updates.
func (s *PostgresStore) SetReceiptStamps(ctx context.Context, paymentID id.PaymentID, stamps ports.ReceiptStamps) error {
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE payments SET
			receipt_sent_at = $2,
			refund_receipt_sent_at = COALESCE($3, refund_receipt_sent_at),
			updated_at = now()
		WHERE id = $1`,
		uuid.UUID(paymentID), stamps.ReceiptSentAt, stamps.RefundReceiptSentAt,
	)
	if err != nil {
		return fmt.Errorf("stamp receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stamp receipt: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// paymentMeta is the JSONB document holding the three-state optionals.
type paymentMeta struct {
	ProviderPaymentID  models.NullableString `json:"provider_payment_id,omitzero"`
	ProviderCustomerID models.NullableString `json:"provider_customer_id,omitzero"`
	ReceiptNumber      models.NullableString `json:"receipt_number,omitzero"`
	Notes              models.NullableString `json:"notes,omitzero"`
}

func marshalMeta(p *models.PaymentEvent) ([]byte, error) {
	meta, err := json.Marshal(paymentMeta{
		ProviderPaymentID:  p.ProviderPaymentID,
		ProviderCustomerID: p.ProviderCustomerID,
		ReceiptNumber:      p.ReceiptNumber,
		Notes:              p.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payment meta: %w", err)
	}
	return meta, nil
}

func scanPayment(row rowScanner) (*models.PaymentEvent, error) {
	var (
		p           models.PaymentEvent
		pid, uid    uuid.UUID
		method      string
		plan        string
		kind        string
		durationSec int64
		receiptAt   sql.NullTime
		refundAt    sql.NullTime
		metaRaw     []byte
	)
	err := row.Scan(&pid, &uid, &p.Reference, &p.Amount, &p.AmountRefunded, &p.InvoiceAt,
		&method, &plan, &durationSec, &kind, &receiptAt, &refundAt,
		&metaRaw, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.ID = id.PaymentID(pid)
	p.UserID = id.UserID(uid)
	p.Method = models.Method(method)
	p.Plan = models.Plan(plan)
	p.Kind = models.Kind(kind)
	p.Duration = time.Duration(durationSec) * time.Second
	if receiptAt.Valid {
		t := receiptAt.Time
		p.ReceiptSentAt = &t
	}
	if refundAt.Valid {
		t := refundAt.Time
		p.RefundReceiptSentAt = &t
	}

	var meta paymentMeta
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return nil, fmt.Errorf("unmarshal payment meta: %w", err)
		}
	}
	p.ProviderPaymentID = meta.ProviderPaymentID
	p.ProviderCustomerID = meta.ProviderCustomerID
	p.ReceiptNumber = meta.ReceiptNumber
	p.Notes = meta.Notes
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaymentIDs(rows *sql.Rows) ([]id.PaymentID, error) {
	var ids []id.PaymentID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan payment id: %w", err)
		}
		ids = append(ids, id.PaymentID(u))
	}
	return ids, rows.Err()
}
