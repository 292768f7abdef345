// Package reconciler runs the engine's one soft timer: a ticker-driven
// loop calling Store.RecoverExpired on a fixed interval, grounded on the
// engine's existing periodic reconciliation loop shape (ticker, stopCh,
// Start/Stop). A claim that isn't heartbeated within its lease is the only
// recovery signal the core owns; this package is what acts on it.
package reconciler
