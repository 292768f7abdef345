// Package worker implements the competing-consumer loop described in the
// engine's concurrency model: a long-lived goroutine that claims one ready
// task at a time from the Store, drives it through the service control
// interface (pkg/svcclient) to a terminal state, and hands completions to
// the scheduler for successor promotion.
//
// A Worker is single-threaded with respect to task driving — claim, drive,
// release happen in strict sequence on one goroutine — so that the only
// cross-worker coordination needed is the Store's atomic claim_one. Process
// supervision starts N of these goroutines against the same Store handle;
// nothing here assumes a particular Store backend.
package worker
