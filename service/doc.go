// Package service is the only write entry point into the system. It owns
// the per-instrument mutation lanes, coordinates the domain (book, ledger,
// market state) with the infrastructure (WAL, outbox) and exposes the
// command surface remote collaborators dispatch against: PlaceOrder,
// CancelOrder, GetSnapshot, GetValuation.
package service
