package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/fluxion/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketWorkflows = []byte("workflows")
	bucketTasks     = []byte("tasks")
	bucketReady     = []byte("ready")
)

// BoltStore is the embedded, single-process Store implementation. It is
// intended for development, tests, and single-binary deployments where one
// process hosts both the API and all worker goroutines — cross-worker
// mutual exclusion is enforced by a Go mutex wrapping a single bolt.Tx
// rather than by anything Redis-specific.
type BoltStore struct {
	db *bolt.DB
	mu sync.Mutex
}

// NewBoltStore opens (creating if absent) a BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fluxion.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketWorkflows, bucketTasks, bucketReady} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Workflow operations

func (s *BoltStore) PutWorkflow(workflow *types.Workflow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(workflow)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWorkflows).Put([]byte(workflow.ID), data)
	})
}

func (s *BoltStore) GetWorkflow(id string) (*types.Workflow, error) {
	var workflow types.Workflow
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkflows).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &workflow)
	})
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}

func (s *BoltStore) ListWorkflows() ([]*types.Workflow, error) {
	var workflows []*types.Workflow
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkflows).ForEach(func(k, v []byte) error {
			var workflow types.Workflow
			if err := json.Unmarshal(v, &workflow); err != nil {
				return err
			}
			workflows = append(workflows, &workflow)
			return nil
		})
	})
	return workflows, err
}

// Task operations

func (s *BoltStore) PutTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putTask(tx, task)
	})
}

func putTask(tx *bolt.Tx, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketTasks).Put([]byte(task.ID), data)
}

func getTask(tx *bolt.Tx, id string) (*types.Task, error) {
	data := tx.Bucket(bucketTasks).Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		task, err = getTask(tx, id)
		return err
	})
	return task, err
}

func (s *BoltStore) ListTasks(workflowID string) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.WorkflowID == workflowID {
				tasks = append(tasks, &task)
			}
			return nil
		})
	})
	return tasks, err
}

// EnqueueReady appends taskID to the FIFO under an auto-incrementing sequence key.
func (s *BoltStore) EnqueueReady(taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReady)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), []byte(taskID))
	})
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// ClaimOne pops the oldest ready entry and writes the claim into the task
// record, all inside one bolt.Tx under mu so that concurrent goroutines in
// this process cannot race the pop against the claim write.
func (s *BoltStore) ClaimOne(workerID string, lease time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var taskID string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReady)
		cursor := b.Cursor()
		k, v := cursor.First()
		if k == nil {
			return nil
		}
		taskID = string(v)
		if err := b.Delete(k); err != nil {
			return err
		}

		task, err := getTask(tx, taskID)
		if err != nil {
			return err
		}
		task.Status = types.TaskRunningRemote
		task.Claim = &types.ClaimToken{Owner: workerID, ExpiresAt: time.Now().Add(lease)}
		task.UpdatedAt = time.Now()
		return putTask(tx, task)
	})
	if err != nil {
		return "", err
	}
	return taskID, nil
}

// ExtendClaim heartbeats an outstanding claim.
func (s *BoltStore) ExtendClaim(taskID, workerID string, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		task, err := getTask(tx, taskID)
		if err != nil {
			return err
		}
		if task.Claim == nil || task.Claim.Owner != workerID || time.Now().After(task.Claim.ExpiresAt) {
			return ErrClaimLost
		}
		task.Claim.ExpiresAt = time.Now().Add(lease)
		task.UpdatedAt = time.Now()
		return putTask(tx, task)
	})
}

// ReleaseClaim drops ownership after a terminal transition.
func (s *BoltStore) ReleaseClaim(taskID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		task, err := getTask(tx, taskID)
		if err != nil {
			return err
		}
		if task.Claim != nil && task.Claim.Owner == workerID {
			task.Claim = nil
			task.UpdatedAt = time.Now()
			return putTask(tx, task)
		}
		return nil
	})
}

// PromoteIfPending sets inputs and flips a task from pending to ready,
// enqueuing it, but only if it is still pending — the compare-and-set that
// keeps two concurrent predecessor completions from double-promoting the
// same successor.
func (s *BoltStore) PromoteIfPending(taskID string, inputs []types.DataReference) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promoted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		task, err := getTask(tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != types.TaskPending {
			return nil
		}
		task.Inputs = inputs
		task.Status = types.TaskReady
		task.UpdatedAt = time.Now()
		if err := putTask(tx, task); err != nil {
			return err
		}

		b := tx.Bucket(bucketReady)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(sequenceKey(seq), []byte(taskID)); err != nil {
			return err
		}
		promoted = true
		return nil
	})
	return promoted, err
}

// RecoverExpired resets running_remote tasks whose claim lease has expired
// back to ready and re-enqueues them.
func (s *BoltStore) RecoverExpired() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recovered []string
	err := s.db.Update(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		rb := tx.Bucket(bucketReady)
		now := time.Now()

		var expired []*types.Task
		if err := tb.ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.Status == types.TaskRunningRemote && task.Claim != nil && now.After(task.Claim.ExpiresAt) {
				expired = append(expired, &task)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, task := range expired {
			task.Status = types.TaskReady
			task.Claim = nil
			task.UpdatedAt = now
			if err := putTask(tx, task); err != nil {
				return err
			}
			seq, err := rb.NextSequence()
			if err != nil {
				return err
			}
			if err := rb.Put(sequenceKey(seq), []byte(task.ID)); err != nil {
				return err
			}
			recovered = append(recovered, task.ID)
		}
		return nil
	})
	return recovered, err
}
