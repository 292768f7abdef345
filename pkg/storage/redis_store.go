package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cuemby/fluxion/pkg/types"
	"github.com/redis/go-redis/v9"
)

const (
	readyKey  = "fluxion:ready"
	claimsKey = "fluxion:claims"
)

func workflowKey(id string) string { return "fluxion:workflow:" + id }
func taskKey(id string) string     { return "fluxion:task:" + id }

// RedisStore is the Store implementation for a multi-process worker pool:
// claim_one's atomicity must hold across OS processes, which bbolt's
// in-process mutex cannot offer. The ready queue is a Redis list; claims are
// tracked both on the task record and in a sorted set keyed by lease expiry
// so RecoverExpired can range-scan for stuck tasks without touching every key.
type RedisStore struct {
	client    *redis.Client
	connected atomic.Bool
}

// NewRedisStore creates a client without connecting; EnsureConnection (or
// the first operation) performs the actual dial.
func NewRedisStore(opts *redis.Options) *RedisStore {
	return &RedisStore{client: redis.NewClient(opts)}
}

// EnsureConnection is a fast-path connectivity check: once a Ping has
// succeeded, subsequent calls are a single atomic load.
func (s *RedisStore) EnsureConnection(ctx context.Context) error {
	if s.connected.Load() {
		return nil
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unavailable: %w", err)
	}
	s.connected.Store(true)
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) PutWorkflow(w *types.Workflow) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.client.Set(context.Background(), workflowKey(w.ID), data, 0).Err()
}

func (s *RedisStore) GetWorkflow(id string) (*types.Workflow, error) {
	ctx := context.Background()
	data, err := s.client.Get(ctx, workflowKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var w types.Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *RedisStore) ListWorkflows() ([]*types.Workflow, error) {
	ctx := context.Background()
	var workflows []*types.Workflow
	iter := s.client.Scan(ctx, 0, "fluxion:workflow:*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var w types.Workflow
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		workflows = append(workflows, &w)
	}
	return workflows, iter.Err()
}

func (s *RedisStore) PutTask(t *types.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.client.Set(context.Background(), taskKey(t.ID), data, 0).Err()
}

func getRedisTask(ctx context.Context, cmdable redis.Cmdable, id string) (*types.Task, error) {
	data, err := cmdable.Get(ctx, taskKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t types.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RedisStore) GetTask(id string) (*types.Task, error) {
	return getRedisTask(context.Background(), s.client, id)
}

func (s *RedisStore) ListTasks(workflowID string) ([]*types.Task, error) {
	ctx := context.Background()
	var tasks []*types.Task
	iter := s.client.Scan(ctx, 0, "fluxion:task:*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var t types.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		if t.WorkflowID == workflowID {
			tasks = append(tasks, &t)
		}
	}
	return tasks, iter.Err()
}

func (s *RedisStore) EnqueueReady(taskID string) error {
	return s.client.RPush(context.Background(), readyKey, taskID).Err()
}

// ClaimOne pops the list head, then uses an optimistic WATCH/MULTI
// transaction on the task key to pair the pop with the claim write —
// go-redis's standard pattern for compare-and-set semantics.
func (s *RedisStore) ClaimOne(workerID string, lease time.Duration) (string, error) {
	ctx := context.Background()
	taskID, err := s.client.LPop(ctx, readyKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(lease)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		task, err := getRedisTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		task.Status = types.TaskRunningRemote
		task.Claim = &types.ClaimToken{Owner: workerID, ExpiresAt: expiresAt}
		task.UpdatedAt = time.Now()
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, taskKey(taskID), data, 0)
			pipe.ZAdd(ctx, claimsKey, redis.Z{Score: float64(expiresAt.Unix()), Member: taskID})
			return nil
		})
		return err
	}, taskKey(taskID))
	if err != nil {
		return "", err
	}
	return taskID, nil
}

// ExtendClaim heartbeats an outstanding claim under the same WATCH pattern.
func (s *RedisStore) ExtendClaim(taskID, workerID string, lease time.Duration) error {
	ctx := context.Background()
	expiresAt := time.Now().Add(lease)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		task, err := getRedisTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Claim == nil || task.Claim.Owner != workerID || time.Now().After(task.Claim.ExpiresAt) {
			return ErrClaimLost
		}
		task.Claim.ExpiresAt = expiresAt
		task.UpdatedAt = time.Now()
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, taskKey(taskID), data, 0)
			pipe.ZAdd(ctx, claimsKey, redis.Z{Score: float64(expiresAt.Unix()), Member: taskID})
			return nil
		})
		return err
	}, taskKey(taskID))
}

// ReleaseClaim drops ownership and the expiry-tracking entry.
func (s *RedisStore) ReleaseClaim(taskID, workerID string) error {
	ctx := context.Background()
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		task, err := getRedisTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Claim == nil || task.Claim.Owner != workerID {
			return nil
		}
		task.Claim = nil
		task.UpdatedAt = time.Now()
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, taskKey(taskID), data, 0)
			pipe.ZRem(ctx, claimsKey, taskID)
			return nil
		})
		return err
	}, taskKey(taskID))
}

// PromoteIfPending sets inputs and flips a task from pending to ready under
// the same WATCH pattern ClaimOne uses, so a promotion losing the race
// against another predecessor's completion is a no-op rather than a
// duplicate enqueue.
func (s *RedisStore) PromoteIfPending(taskID string, inputs []types.DataReference) (bool, error) {
	ctx := context.Background()
	promoted := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		task, err := getRedisTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != types.TaskPending {
			return nil
		}
		task.Inputs = inputs
		task.Status = types.TaskReady
		task.UpdatedAt = time.Now()
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, taskKey(taskID), data, 0)
			pipe.RPush(ctx, readyKey, taskID)
			return nil
		})
		if err != nil {
			return err
		}
		promoted = true
		return nil
	}, taskKey(taskID))
	return promoted, err
}

// RecoverExpired range-scans the claims sorted set for leases past due,
// resets each task to ready, and re-enqueues it.
func (s *RedisStore) RecoverExpired() ([]string, error) {
	ctx := context.Background()
	now := float64(time.Now().Unix())
	ids, err := s.client.ZRangeByScore(ctx, claimsKey, &redis.ZRangeBy{
		Min: "0", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return nil, err
	}

	var recovered []string
	for _, taskID := range ids {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			task, err := getRedisTask(ctx, tx, taskID)
			if err != nil {
				return err
			}
			if task.Status != types.TaskRunningRemote {
				_, err := tx.ZRem(ctx, claimsKey, taskID).Result()
				return err
			}
			task.Status = types.TaskReady
			task.Claim = nil
			task.UpdatedAt = time.Now()
			data, err := json.Marshal(task)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, taskKey(taskID), data, 0)
				pipe.ZRem(ctx, claimsKey, taskID)
				pipe.RPush(ctx, readyKey, taskID)
				return nil
			})
			return err
		}, taskKey(taskID))
		if err == nil {
			recovered = append(recovered, taskID)
		}
	}
	return recovered, nil
}
