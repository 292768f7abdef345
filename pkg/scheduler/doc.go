// Package scheduler seeds a workflow's tasks from its blueprint graph and
// promotes successors once their upstream predecessors complete.
//
// Seed creates one Task per graph node: source nodes (no upstream) start
// ready and enqueued with the workflow's initial inputs, everything else
// starts pending. Promote runs after a task reaches complete; it walks
// that node's downstream successors in lexicographic node-key order and,
// for each one whose every predecessor has now completed, assembles the
// ordered input list and calls Store.PromoteIfPending — the
// compare-and-set that keeps two predecessors finishing at the same
// instant from enqueuing the same successor twice.
package scheduler
