package outbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kitilash/altegiobot/internal/clock"
	"github.com/kitilash/altegiobot/internal/observability"
)

const staleRecoveryMessage = "Recovered: stale processing job"

// Store is the worker's view of the job queue. ProcessJob opens one
// transaction per job and hands the handler a JobTx bound to it.
type Store interface {
	// RecoverStaleJobs flips processing rows locked before olderThan back
	// to queued with run_at=now so a crashed worker's lease expires.
	RecoverStaleJobs(ctx context.Context, olderThan, now time.Time, msg string) (int64, error)
	// LeaseDueJobs marks up to limit due queued jobs as processing and
	// returns their ids.
	LeaseDueJobs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ProcessJob(ctx context.Context, id int64, fn func(ctx context.Context, tx JobTx) error) error
	// RequeueLeased returns jobs this worker leased but never processed
	// back to the queue.
	RequeueLeased(ctx context.Context, ids []int64, runAt time.Time, msg string) error
}

type Config struct {
	BatchSize          int
	PollInterval       time.Duration
	StaleAfter         time.Duration
	SendTimeout        time.Duration
	RateLimitWindow    time.Duration
	StopOnTokenExpired bool
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 20 * time.Second
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = 30 * time.Second
	}
}

type Worker struct {
	cfg     Config
	store   Store
	proc    *processor
	clk     clock.Clock
	log     *slog.Logger
	metrics *observability.JobMetrics
	prom    *observability.Prom

	tokenExpired atomic.Bool
}

func NewWorker(cfg Config, store Store, renderer *Renderer, sender Sender, isTokenExpired TokenExpired, isSendBlocked SendBlocked, clk clock.Clock, log *slog.Logger, metrics *observability.JobMetrics, prom *observability.Prom) *Worker {
	cfg.defaults()
	if clk == nil {
		clk = clock.System()
	}
	if metrics == nil {
		metrics = observability.NewJobMetrics()
	}
	return &Worker{
		cfg:   cfg,
		store: store,
		proc: &processor{
			renderer:     renderer,
			sender:       sender,
			tokenExpired: isTokenExpired,
			sendBlocked:  isSendBlocked,
			window:       cfg.RateLimitWindow,
			sendTimeout:  cfg.SendTimeout,
			prom:         prom,
		},
		clk:     clk,
		log:     log,
		metrics: metrics,
		prom:    prom,
	}
}

// TokenExpired reports whether the worker has seen a token-expired send
// since startup. Surfaced on the worker health endpoint.
func (w *Worker) TokenExpired() bool { return w.tokenExpired.Load() }

func (w *Worker) Metrics() observability.JobMetricsSnapShot { return w.metrics.Snapshot() }

// Run polls until ctx is canceled. With StopOnTokenExpired set, the first
// token-expired send requeues the rest of the batch and stops the loop so
// the process can restart with a fresh token.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("outbox worker started",
		"batch_size", w.cfg.BatchSize,
		"poll_interval", w.cfg.PollInterval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("outbox worker stopped")
			return ctx.Err()
		default:
		}

		stop, leased, err := w.tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("worker tick failed", "error", err)
		}
		if stop {
			w.log.Warn("stopping worker after token expiry")
			return nil
		}

		// With a backlog, lease again right away. Sleep only on an empty
		// lease or a failed tick.
		if err == nil && leased > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			w.log.Info("outbox worker stopped")
			return ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

func (w *Worker) tick(ctx context.Context) (stop bool, leased int, err error) {
	now := w.clk.Now()

	recovered, err := w.store.RecoverStaleJobs(ctx, now.Add(-w.cfg.StaleAfter), now, staleRecoveryMessage)
	if err != nil {
		return false, 0, err
	}
	if recovered > 0 {
		w.log.Warn("recovered stale jobs", "count", recovered)
	}

	ids, err := w.store.LeaseDueJobs(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return false, 0, err
	}
	if len(ids) == 0 {
		return false, 0, nil
	}

	if w.prom != nil {
		w.prom.JobsInFlight.Add(float64(len(ids)))
		defer w.prom.JobsInFlight.Sub(float64(len(ids)))
	}

	for i, id := range ids {
		w.metrics.IncLeased()

		if err := w.processOne(ctx, id); err != nil {
			if ctx.Err() != nil {
				return false, len(ids), ctx.Err()
			}
			w.log.Error("job processing failed", "job_id", id, "error", err)
		}

		if w.tokenExpired.Load() && w.cfg.StopOnTokenExpired {
			rest := ids[i+1:]
			if len(rest) > 0 {
				if err := w.store.RequeueLeased(ctx, rest, w.clk.Now(), "Requeued: worker stopping"); err != nil {
					w.log.Error("requeue of leased jobs failed", "count", len(rest), "error", err)
				}
			}
			return true, len(ids), nil
		}
	}

	return false, len(ids), nil
}

func (w *Worker) processOne(ctx context.Context, id int64) error {
	start := time.Now()

	var res processResult
	err := w.store.ProcessJob(ctx, id, func(ctx context.Context, tx JobTx) error {
		var perr error
		res, perr = w.proc.process(ctx, tx, id, w.clk.Now())
		return perr
	})
	if err != nil {
		return err
	}

	w.metrics.ObserveDuration(time.Since(start))
	if res.tokenExpired {
		w.tokenExpired.Store(true)
		w.log.Error("provider token expired", "job_id", id)
	}

	switch res.outcome {
	case outcomeDone:
		w.metrics.IncDone()
	case outcomeFailed:
		w.metrics.IncFailed()
		w.log.Warn("job failed", "job_id", id, "error", res.err)
	case outcomeRetried:
		w.metrics.IncRetried()
	case outcomeCanceled:
		w.metrics.IncCanceled()
	case outcomeRateLimited:
		w.metrics.IncRateLimited()
	}
	return nil
}
