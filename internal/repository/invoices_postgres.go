package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iago/invoice-pipeline/internal/domain"
)

const invoicesSchema = `
CREATE TABLE IF NOT EXISTS invoices (
	id BIGSERIAL PRIMARY KEY,
	vendor TEXT NOT NULL DEFAULT '',
	total_amount NUMERIC NOT NULL DEFAULT 0,
	invoice_date TIMESTAMPTZ NOT NULL,
	s3_bucket TEXT NOT NULL,
	document_key TEXT NOT NULL,
	processing_status TEXT NOT NULL DEFAULT 'PENDING',
	failure_reason TEXT NOT NULL DEFAULT '',
	parsed_data JSONB,
	raw_analysis_data JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS invoices_status_created_idx ON invoices (processing_status, created_at DESC);
CREATE TABLE IF NOT EXISTS invoice_line_items (
	invoice_id BIGINT NOT NULL REFERENCES invoices (id) ON DELETE CASCADE,
	position INT NOT NULL,
	description TEXT NOT NULL,
	quantity INT NOT NULL DEFAULT 0,
	unit TEXT NOT NULL DEFAULT '',
	price NUMERIC NOT NULL DEFAULT 0,
	PRIMARY KEY (invoice_id, position)
);
`

const invoiceColumns = `id, vendor, total_amount::text, invoice_date, s3_bucket, document_key,
	processing_status, failure_reason, parsed_data, raw_analysis_data, created_at, updated_at`

type PostgresInvoicesRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresInvoicesRepository(ctx context.Context, databaseURL string) (*PostgresInvoicesRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresInvoicesRepository{pool: pool}, nil
}

func (r *PostgresInvoicesRepository) Close() {
	r.pool.Close()
}

// EnsureSchema creates the invoice tables when they are missing.
func (r *PostgresInvoicesRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, invoicesSchema); err != nil {
		return fmt.Errorf("ensure invoices schema: %w", err)
	}
	return nil
}

func (r *PostgresInvoicesRepository) CreateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	stampCreated(invoice)
	parsed, raw, err := encodeAnalysisColumns(invoice)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create invoice: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (
			vendor,
			total_amount,
			invoice_date,
			s3_bucket,
			document_key,
			processing_status,
			failure_reason,
			parsed_data,
			raw_analysis_data,
			created_at,
			updated_at
		) VALUES ($1,$2::text::numeric,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`,
		invoice.Vendor,
		invoice.TotalAmount.String(),
		invoice.InvoiceDate,
		invoice.DocumentBucket,
		invoice.DocumentKey,
		string(invoice.ProcessingStatus),
		invoice.FailureReason,
		parsed,
		raw,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Scan(&invoice.ID)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	if err := insertLineItems(ctx, tx, invoice.ID, invoice.LineItems); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create invoice: %w", err)
	}
	return nil
}

func (r *PostgresInvoicesRepository) SaveInvoice(ctx context.Context, invoice *domain.Invoice) error {
	invoice.UpdatedAt = time.Now().UTC()
	parsed, raw, err := encodeAnalysisColumns(invoice)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save invoice: %w", err)
	}
	defer tx.Rollback(ctx)

	command, err := tx.Exec(ctx, `
		UPDATE invoices
		SET vendor = $2,
			total_amount = $3::text::numeric,
			invoice_date = $4,
			processing_status = $5,
			failure_reason = $6,
			parsed_data = $7,
			raw_analysis_data = $8,
			updated_at = $9
		WHERE id = $1
	`,
		invoice.ID,
		invoice.Vendor,
		invoice.TotalAmount.String(),
		invoice.InvoiceDate,
		string(invoice.ProcessingStatus),
		invoice.FailureReason,
		parsed,
		raw,
		invoice.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}

	// Line items are replaced wholesale so redelivered jobs never duplicate rows.
	if _, err := tx.Exec(ctx, `DELETE FROM invoice_line_items WHERE invoice_id = $1`, invoice.ID); err != nil {
		return fmt.Errorf("clear line items: %w", err)
	}
	if err := insertLineItems(ctx, tx, invoice.ID, invoice.LineItems); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save invoice: %w", err)
	}
	return nil
}

func (r *PostgresInvoicesRepository) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	invoice, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query invoice: %w", err)
	}

	items, err := r.lineItems(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	invoice.LineItems = nonNilLineItems(items[id])
	return invoice, nil
}

func (r *PostgresInvoicesRepository) ListInvoices(
	ctx context.Context,
	filter domain.InvoiceListFilter,
) ([]domain.Invoice, int, error) {
	filter = normalizeFilter(filter)

	baseQuery := "FROM invoices"
	args := make([]any, 0, 3)
	if filter.Status != "" {
		baseQuery += " WHERE processing_status = $1"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	offset := pageOffset(filter)
	if offset < 0 || offset >= total {
		return []domain.Invoice{}, total, nil
	}

	listQuery := fmt.Sprintf(
		`SELECT %s
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		invoiceColumns,
		baseQuery,
		len(args)+1,
		len(args)+2,
	)
	listArgs := append(args, filter.PageSize, offset)
	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, *invoice)
		ids = append(ids, invoice.ID)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate invoices: %w", rows.Err())
	}
	rows.Close()

	items, err := r.lineItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for index := range invoices {
		invoices[index].LineItems = nonNilLineItems(items[invoices[index].ID])
	}
	return invoices, total, nil
}

func (r *PostgresInvoicesRepository) lineItems(ctx context.Context, ids []int64) (map[int64][]domain.LineItem, error) {
	result := make(map[int64][]domain.LineItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT invoice_id, description, quantity, unit, price::text
		FROM invoice_line_items
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, position
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			invoiceID int64
			item      domain.LineItem
			price     string
		)
		if err := rows.Scan(&invoiceID, &item.Description, &item.Quantity, &item.Unit, &price); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		item.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("decode line item price: %w", err)
		}
		result[invoiceID] = append(result[invoiceID], item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate line items: %w", rows.Err())
	}
	return result, nil
}

func insertLineItems(ctx context.Context, tx pgx.Tx, invoiceID int64, items []domain.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for position, item := range items {
		batch.Queue(`
			INSERT INTO invoice_line_items (invoice_id, position, description, quantity, unit, price)
			VALUES ($1,$2,$3,$4,$5,$6::text::numeric)
		`, invoiceID, position, item.Description, item.Quantity, item.Unit, item.Price.String())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert line items: %w", err)
	}
	return nil
}

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var (
		invoice     domain.Invoice
		totalAmount string
		status      string
		parsed      []byte
		raw         []byte
	)
	err := row.Scan(
		&invoice.ID,
		&invoice.Vendor,
		&totalAmount,
		&invoice.InvoiceDate,
		&invoice.DocumentBucket,
		&invoice.DocumentKey,
		&status,
		&invoice.FailureReason,
		&parsed,
		&raw,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	invoice.ProcessingStatus = domain.ProcessingStatus(status)
	invoice.TotalAmount, err = decimal.NewFromString(totalAmount)
	if err != nil {
		return nil, fmt.Errorf("decode total amount: %w", err)
	}
	if len(parsed) > 0 {
		invoice.ParsedData = &domain.ParsedExpense{}
		if err := json.Unmarshal(parsed, invoice.ParsedData); err != nil {
			return nil, fmt.Errorf("decode parsed data: %w", err)
		}
	}
	if len(raw) > 0 {
		invoice.RawAnalysisData = &domain.AnalysisResult{}
		if err := json.Unmarshal(raw, invoice.RawAnalysisData); err != nil {
			return nil, fmt.Errorf("decode raw analysis data: %w", err)
		}
	}
	return &invoice, nil
}

func encodeAnalysisColumns(invoice *domain.Invoice) ([]byte, []byte, error) {
	var parsed, raw []byte
	var err error
	if invoice.ParsedData != nil {
		if parsed, err = json.Marshal(invoice.ParsedData); err != nil {
			return nil, nil, fmt.Errorf("encode parsed data: %w", err)
		}
	}
	if invoice.RawAnalysisData != nil {
		if raw, err = json.Marshal(invoice.RawAnalysisData); err != nil {
			return nil, nil, fmt.Errorf("encode raw analysis data: %w", err)
		}
	}
	return parsed, raw, nil
}

func nonNilLineItems(items []domain.LineItem) []domain.LineItem {
	if items == nil {
		return []domain.LineItem{}
	}
	return items
}
