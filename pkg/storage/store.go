// Package storage defines the Store abstraction the engine coordinates
// through, and ships two implementations: an embedded BoltDB store for
// single-process deployments and tests, and a Redis-backed store for
// multi-process worker pools where claim_one's atomicity must hold across
// OS processes.
package storage

import (
	"time"

	"github.com/cuemby/fluxion/pkg/types"
)

// Store persists workflows, task records, a FIFO ready queue, and an atomic
// claim primitive. Every operation is expected to be linearizable per key
// under concurrent access from multiple workers and the API process.
type Store interface {
	PutWorkflow(workflow *types.Workflow) error
	GetWorkflow(id string) (*types.Workflow, error)
	ListWorkflows() ([]*types.Workflow, error)

	PutTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks(workflowID string) ([]*types.Task, error)

	// EnqueueReady appends taskID to the FIFO named "ready".
	EnqueueReady(taskID string) error

	// ClaimOne pops the queue head and writes (owner, expires_at) into the
	// task record atomically with the pop. Returns "", nil if the queue is empty.
	ClaimOne(workerID string, lease time.Duration) (string, error)

	// ExtendClaim heartbeats an outstanding claim. Returns ErrClaimLost if
	// workerID no longer owns the claim (expired or stolen).
	ExtendClaim(taskID, workerID string, lease time.Duration) error

	// ReleaseClaim drops ownership, used on terminal transition.
	ReleaseClaim(taskID, workerID string) error

	// RecoverExpired scans tasks whose claim has expired, resets their
	// status from running_remote to ready, and re-enqueues them.
	RecoverExpired() ([]string, error)

	// PromoteIfPending atomically sets inputs and transitions a task from
	// pending to ready, enqueuing it. Returns false if the task was not
	// pending (another completion already promoted it), implementing the
	// per-successor compare-and-set the scheduler's promotion step requires.
	PromoteIfPending(taskID string, inputs []types.DataReference) (bool, error)

	Close() error
}

// ErrNotFound is returned by Get* methods when the key is absent.
var ErrNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "not found" }

// ErrClaimLost is returned by ExtendClaim when the caller no longer holds
// the claim it is trying to extend. ReleaseClaim does not return it: a
// release by a caller that does not own the claim is a no-op.
var ErrClaimLost = &claimLostError{}

type claimLostError struct{}

func (*claimLostError) Error() string { return "claim lost" }
