package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iago/invoice-pipeline/internal/domain"
)

const invoicesBucket = "invoices"

// BoltInvoicesRepository keeps invoices as JSON documents in a single bbolt
// file, keyed by a big-endian sequence id.
type BoltInvoicesRepository struct {
	db *bbolt.DB
}

func NewBoltInvoicesRepository(path string) (*BoltInvoicesRepository, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(invoicesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create invoices bucket: %w", err)
	}
	return &BoltInvoicesRepository{db: db}, nil
}

func (r *BoltInvoicesRepository) Close() error {
	return r.db.Close()
}

func (r *BoltInvoicesRepository) CreateInvoice(_ context.Context, invoice *domain.Invoice) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoicesBucket))
		id, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("next invoice id: %w", err)
		}
		invoice.ID = int64(id)
		stampCreated(invoice)
		return putInvoice(bucket, invoice)
	})
}

func (r *BoltInvoicesRepository) SaveInvoice(_ context.Context, invoice *domain.Invoice) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoicesBucket))
		if bucket.Get(invoiceKey(invoice.ID)) == nil {
			return ErrNotFound
		}
		invoice.UpdatedAt = time.Now().UTC()
		return putInvoice(bucket, invoice)
	})
}

func (r *BoltInvoicesRepository) GetInvoice(_ context.Context, id int64) (*domain.Invoice, error) {
	var invoice *domain.Invoice
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(invoicesBucket)).Get(invoiceKey(id))
		if data == nil {
			return ErrNotFound
		}
		decoded, err := decodeInvoice(data)
		if err != nil {
			return err
		}
		invoice = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (r *BoltInvoicesRepository) ListInvoices(
	_ context.Context,
	filter domain.InvoiceListFilter,
) ([]domain.Invoice, int, error) {
	items := make([]domain.Invoice, 0)
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(invoicesBucket)).ForEach(func(_, v []byte) error {
			invoice, err := decodeInvoice(v)
			if err != nil {
				return err
			}
			if filter.Status != "" && invoice.ProcessingStatus != filter.Status {
				return nil
			}
			items = append(items, *invoice)
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	page, total := paginate(items, filter)
	return page, total, nil
}

func putInvoice(bucket *bbolt.Bucket, invoice *domain.Invoice) error {
	data, err := json.Marshal(invoice)
	if err != nil {
		return fmt.Errorf("marshal invoice: %w", err)
	}
	return bucket.Put(invoiceKey(invoice.ID), data)
}

func decodeInvoice(data []byte) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := json.Unmarshal(data, &invoice); err != nil {
		return nil, fmt.Errorf("unmarshal invoice: %w", err)
	}
	if invoice.LineItems == nil {
		invoice.LineItems = []domain.LineItem{}
	}
	return &invoice, nil
}

func invoiceKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}
