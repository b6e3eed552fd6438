package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/lojacheckout/paylink"
)

// Memory is an in-process order store and cart
type Memory struct {
	mu      sync.Mutex
	orders  map[paylink.OrderID]*paylink.Order
	emptied map[paylink.OrderID]int
}

// NewMemory creates a store seeded with orders
func NewMemory(orders ...paylink.Order) *Memory {
	m := &Memory{
		orders:  make(map[paylink.OrderID]*paylink.Order),
		emptied: make(map[paylink.OrderID]int),
	}
	for _, o := range orders {
		m.Put(o)
	}
	return m
}

// Put inserts or replaces an order
func (m *Memory) Put(order paylink.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o := cloneOrder(&order)
	if o.Status == "" {
		o.Status = paylink.StatusNew
	}
	m.orders[o.ID] = o
}

// Get returns a copy of the order
func (m *Memory) Get(_ context.Context, id paylink.OrderID) (*paylink.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneOrder(o), nil
}

// MarkPaid applies the paid transition if the order is not paid yet
func (m *Memory) MarkPaid(_ context.Context, id paylink.OrderID, update paylink.PaidUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return false, notFound(id)
	}
	if o.Status.IsPaid() {
		return false, nil
	}

	paidAt := update.PaidAt
	o.Status = paylink.StatusProcessing
	o.Meta.Pending = false
	o.Meta.TransactionID = update.TransactionID
	o.Meta.InvoiceSlug = update.InvoiceSlug
	if update.ReceiptURL != "" {
		o.Meta.ReceiptURL = update.ReceiptURL
	}
	o.PaidAt = &paidAt
	return true, nil
}

// MarkAwaitingPayment stores the checkout metadata on an unpaid order
func (m *Memory) MarkAwaitingPayment(_ context.Context, id paylink.OrderID, update paylink.AwaitingPaymentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return notFound(id)
	}
	if o.Status.IsPaid() {
		return paylink.ErrOrderAlreadyPaid
	}

	o.Status = paylink.StatusAwaitingPayment
	o.Meta.Handle = update.Handle
	o.Meta.CheckoutURL = update.CheckoutURL
	o.Meta.Pending = true
	return nil
}

// AddNote appends an audit note
func (m *Memory) AddNote(_ context.Context, id paylink.OrderID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return notFound(id)
	}
	o.Notes = append(o.Notes, note)
	return nil
}

// Empty records that the order's cart was emptied
func (m *Memory) Empty(_ context.Context, id paylink.OrderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.emptied[id]++
	return nil
}

// CartEmptied returns how many times the order's cart was emptied
func (m *Memory) CartEmptied(id paylink.OrderID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emptied[id]
}

func notFound(id paylink.OrderID) error {
	return fmt.Errorf("order %s: %w", id, paylink.ErrOrderNotFound)
}

func cloneOrder(o *paylink.Order) *paylink.Order {
	c := *o
	c.Items = append([]paylink.OrderItem(nil), o.Items...)
	c.Notes = append([]string(nil), o.Notes...)
	if o.PaidAt != nil {
		paidAt := *o.PaidAt
		c.PaidAt = &paidAt
	}
	return &c
}

var (
	_ paylink.OrderStore = (*Memory)(nil)
	_ paylink.Cart       = (*Memory)(nil)
)
