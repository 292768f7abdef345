/*
Package storage implements the Store abstraction: workflow and task
persistence, the FIFO ready queue, and the atomic claim/lease primitive that
every worker competes against.

Two backends are provided. BoltStore embeds go.etcd.io/bbolt in a single
process — a Go mutex around one bolt.Tx gives claim_one the atomicity
needed when every worker is a goroutine in the same binary. RedisStore
targets a multi-process worker pool: the ready queue is a Redis list, and
claim/extend/release use go-redis's WATCH/MULTI optimistic-transaction
pattern keyed on the task record so the pop-then-claim pair stays atomic
across separate OS processes.

	┌─────────────── STORE ───────────────┐
	│  put/get workflow, put/get task      │
	│  enqueue_ready → FIFO                │
	│  claim_one     → atomic pop + claim  │
	│  extend_claim  → heartbeat           │
	│  release_claim → drop ownership      │
	│  recover_expired → requeue stuck     │
	└──────────────────────────────────────┘
	        │                    │
	   BoltStore            RedisStore
	   (bbolt, mutex)       (list + WATCH/MULTI,
	                         claims ZSET by expiry)

RecoverExpired is the only operation that inspects every outstanding claim:
BoltStore scans the tasks bucket directly (acceptable at single-node scale),
while RedisStore range-scans a sorted set keyed by lease expiry so it never
touches a key that isn't actually due.
*/
package storage
