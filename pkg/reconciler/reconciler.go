package reconciler

import (
	"time"

	"github.com/cuemby/fluxion/pkg/log"
	"github.com/cuemby/fluxion/pkg/metrics"
	"github.com/cuemby/fluxion/pkg/storage"
	"github.com/rs/zerolog"
)

// Reconciler is the lease-recovery loop: on a fixed interval it asks the
// Store for claims whose lease has expired, which resets those tasks from
// running_remote back to ready and re-enqueues them so another worker can
// pick up work abandoned by a crashed or stalled one.
type Reconciler struct {
	store    storage.Store
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Reconciler that calls store.RecoverExpired every interval.
func New(store storage.Store, interval time.Duration) *Reconciler {
	return &Reconciler{
		store:    store,
		interval: interval,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop in a background goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop signals the loop to exit and waits for it to do so.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("lease recovery loop started")

	for {
		select {
		case <-ticker.C:
			r.recoverOnce()
		case <-r.stopCh:
			r.logger.Info().Msg("lease recovery loop stopped")
			return
		}
	}
}

func (r *Reconciler) recoverOnce() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)
	metrics.ReconciliationCyclesTotal.Inc()

	recovered, err := r.store.RecoverExpired()
	if err != nil {
		r.logger.Error().Err(err).Msg("recover_expired failed")
		return
	}
	if len(recovered) == 0 {
		return
	}

	metrics.TasksRecovered.Add(float64(len(recovered)))
	r.logger.Warn().Strs("task_ids", recovered).Int("count", len(recovered)).
		Msg("recovered tasks with expired claims")
}
