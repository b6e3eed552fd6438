// Package mcp exposes payment support tooling over MCP (Model Context Protocol).
//
// Support agents, human or automated, can inspect an order's payment state
// and re-run reconciliation for a transaction a buyer reports as paid:
//
//	support := mcp.NewSupportServer(gateway, "1.0.0", logger)
//	mux.Handle("/support/mcp", support.Handler())
//
// Reconciliation goes through the gateway, so it follows the same rules as
// the confirmation page: an order is completed only after the processor
// confirms the payment.
package mcp
