package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lojacheckout/paylink"
)

// Dialect selects placeholder syntax and DDL for a database engine
type Dialect int

const (
	DialectMySQL Dialect = iota
	DialectPostgres
	DialectSQLite
)

// DialectFor maps a database/sql driver name to its dialect
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return DialectMySQL, nil
	case "postgres":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return 0, fmt.Errorf("store: unsupported driver %q", driver)
	}
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) autoIncrement() string {
	switch d {
	case DialectPostgres:
		return "BIGSERIAL PRIMARY KEY"
	case DialectSQLite:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	default:
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	}
}

func (d Dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(64) PRIMARY KEY,
			status VARCHAR(32) NOT NULL,
			currency VARCHAR(8) NOT NULL DEFAULT '',
			total BIGINT NOT NULL,
			shipping_total BIGINT NOT NULL DEFAULT 0,
			customer_name VARCHAR(255) NOT NULL DEFAULT '',
			customer_email VARCHAR(255) NOT NULL DEFAULT '',
			customer_phone VARCHAR(64) NOT NULL DEFAULT '',
			postal_code VARCHAR(16) NOT NULL DEFAULT '',
			address_number VARCHAR(32) NOT NULL DEFAULT '',
			address_complement VARCHAR(255) NOT NULL DEFAULT '',
			handle VARCHAR(255) NOT NULL DEFAULT '',
			pending BOOLEAN NOT NULL DEFAULT FALSE,
			invoice_slug VARCHAR(255) NOT NULL DEFAULT '',
			receipt_url TEXT,
			transaction_id VARCHAR(255) NOT NULL DEFAULT '',
			checkout_url TEXT,
			paid_at BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id ` + d.autoIncrement() + `,
			order_id VARCHAR(64) NOT NULL,
			description VARCHAR(255) NOT NULL,
			quantity INT NOT NULL,
			unit_price BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_notes (
			id ` + d.autoIncrement() + `,
			order_id VARCHAR(64) NOT NULL,
			note TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cart_items (
			id ` + d.autoIncrement() + `,
			order_id VARCHAR(64) NOT NULL,
			product VARCHAR(255) NOT NULL,
			quantity INT NOT NULL
		)`,
	}
}

// SQL is an OrderStore and Cart on database/sql
type SQL struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQL wraps an open database
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect, now: time.Now}
}

// Open opens a database by driver name. The driver must be registered by the
// caller (blank import of go-sql-driver/mysql, lib/pq or modernc.org/sqlite).
func Open(driver, dsn string) (*SQL, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if dialect == DialectSQLite {
		// One writer at a time; also keeps a :memory: database alive
		db.SetMaxOpenConns(1)
	}
	return NewSQL(db, dialect), nil
}

// DB returns the underlying database
func (s *SQL) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *SQL) Close() error {
	return s.db.Close()
}

// Migrate creates the tables if they do not exist
func (s *SQL) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQL) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

// Create inserts an order and its items
func (s *SQL) Create(ctx context.Context, order paylink.Order) error {
	if order.Status == "" {
		order.Status = paylink.StatusNew
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.dialect.rebind(`INSERT INTO orders
		(id, status, currency, total, shipping_total, customer_name, customer_email, customer_phone,
		 postal_code, address_number, address_complement, pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(order.ID), string(order.Status), order.Currency, order.Total, order.ShippingTotal,
		order.Customer.Name, order.Customer.Email, order.Customer.Phone,
		order.Address.PostalCode, order.Address.Number, order.Address.Complement, order.Meta.Pending,
	)
	if err != nil {
		return fmt.Errorf("store: insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, s.dialect.rebind(`INSERT INTO order_items
			(order_id, description, quantity, unit_price) VALUES (?, ?, ?, ?)`),
			string(order.ID), item.Description, item.Quantity, item.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("store: insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// Get loads an order with its items and notes
func (s *SQL) Get(ctx context.Context, id paylink.OrderID) (*paylink.Order, error) {
	var (
		o           paylink.Order
		status      string
		receiptURL  sql.NullString
		checkoutURL sql.NullString
		paidAt      sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT
		id, status, currency, total, shipping_total, customer_name, customer_email, customer_phone,
		postal_code, address_number, address_complement, handle, pending, invoice_slug,
		receipt_url, transaction_id, checkout_url, paid_at
		FROM orders WHERE id = ?`), string(id),
	).Scan(
		&o.ID, &status, &o.Currency, &o.Total, &o.ShippingTotal,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.Address.PostalCode, &o.Address.Number, &o.Address.Complement,
		&o.Meta.Handle, &o.Meta.Pending, &o.Meta.InvoiceSlug,
		&receiptURL, &o.Meta.TransactionID, &checkoutURL, &paidAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get order: %w", err)
	}

	o.Status = paylink.OrderStatus(status)
	o.Meta.ReceiptURL = receiptURL.String
	o.Meta.CheckoutURL = checkoutURL.String
	if paidAt.Valid {
		t := time.UnixMilli(paidAt.Int64).UTC()
		o.PaidAt = &t
	}

	if o.Items, err = s.items(ctx, id); err != nil {
		return nil, err
	}
	if o.Notes, err = s.notes(ctx, id); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQL) items(ctx context.Context, id paylink.OrderID) ([]paylink.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT description, quantity, unit_price FROM order_items WHERE order_id = ? ORDER BY id`), string(id))
	if err != nil {
		return nil, fmt.Errorf("store: get items: %w", err)
	}
	defer rows.Close()

	var items []paylink.OrderItem
	for rows.Next() {
		var item paylink.OrderItem
		if err := rows.Scan(&item.Description, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("store: scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQL) notes(ctx context.Context, id paylink.OrderID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT note FROM order_notes WHERE order_id = ? ORDER BY id`), string(id))
	if err != nil {
		return nil, fmt.Errorf("store: get notes: %w", err)
	}
	defer rows.Close()

	var notes []string
	for rows.Next() {
		var note string
		if err := rows.Scan(&note); err != nil {
			return nil, fmt.Errorf("store: scan note: %w", err)
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// MarkPaid applies the paid transition with a conditional UPDATE
func (s *SQL) MarkPaid(ctx context.Context, id paylink.OrderID, update paylink.PaidUpdate) (bool, error) {
	res, err := s.exec(ctx, `UPDATE orders
		SET status = ?, pending = ?, transaction_id = ?, invoice_slug = ?, receipt_url = ?, paid_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(paylink.StatusProcessing), false, update.TransactionID, update.InvoiceSlug,
		nullString(update.ReceiptURL), update.PaidAt.UnixMilli(),
		string(id), string(paylink.StatusProcessing), string(paylink.StatusCompleted),
	)
	if err != nil {
		return false, fmt.Errorf("store: mark paid: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark paid: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	return false, s.mustExist(ctx, id)
}

// MarkAwaitingPayment stores the checkout metadata on an unpaid order
func (s *SQL) MarkAwaitingPayment(ctx context.Context, id paylink.OrderID, update paylink.AwaitingPaymentUpdate) error {
	res, err := s.exec(ctx, `UPDATE orders
		SET status = ?, handle = ?, checkout_url = ?, pending = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(paylink.StatusAwaitingPayment), update.Handle, update.CheckoutURL, true,
		string(id), string(paylink.StatusProcessing), string(paylink.StatusCompleted),
	)
	if err != nil {
		return fmt.Errorf("store: mark awaiting payment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark awaiting payment: %w", err)
	}
	if n == 1 {
		return nil
	}
	if err := s.mustExist(ctx, id); err != nil {
		return err
	}
	return paylink.ErrOrderAlreadyPaid
}

// AddNote appends an audit note
func (s *SQL) AddNote(ctx context.Context, id paylink.OrderID, note string) error {
	_, err := s.exec(ctx, `INSERT INTO order_notes (order_id, note, created_at) VALUES (?, ?, ?)`,
		string(id), note, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: add note: %w", err)
	}
	return nil
}

func (s *SQL) mustExist(ctx context.Context, id paylink.OrderID) error {
	var one int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT 1 FROM orders WHERE id = ?`), string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("store: lookup order: %w", err)
	}
	return nil
}

// SQLCart empties carts kept in the cart_items table
type SQLCart struct {
	store *SQL
}

// Cart returns the cart view of the store
func (s *SQL) Cart() *SQLCart {
	return &SQLCart{store: s}
}

// Empty deletes the cart lines of the order
func (c *SQLCart) Empty(ctx context.Context, id paylink.OrderID) error {
	if _, err := c.store.exec(ctx, `DELETE FROM cart_items WHERE order_id = ?`, string(id)); err != nil {
		return fmt.Errorf("store: empty cart: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var (
	_ paylink.OrderStore = (*SQL)(nil)
	_ paylink.Cart       = (*SQLCart)(nil)
)
