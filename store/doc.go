// Package store provides OrderStore and Cart implementations for the gateway.
//
// Memory keeps orders in process and suits tests and single-node demos.
// SQL keeps them in MySQL, PostgreSQL or SQLite through database/sql.
//
// Both implement MarkPaid as a conditional update: the paid transition only
// applies while the order is still unpaid, so concurrent confirmations of the
// same order produce exactly one applied transition.
package store
