// Package batch drives the reconciliation jobs over their candidate sets
// with bounded concurrency and per-item failure isolation.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ledgerd/internal/platform/metrics"
)

// ItemFailure captures one failed item without aborting the batch.
type ItemFailure struct {
	ID  string
	Err error
}

// Result summarizes one batch pass.
type Result struct {
	Job       string
	Processed int
	Skipped   int
	Failures  []ItemFailure
	Elapsed   time.Duration
}

// Runner holds the shared batch machinery: logger, metrics, and the default
// pool size. The generic Run/RunSequential functions do the mapping; Go
// methods cannot carry type parameters.
type Runner struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithConcurrency overrides the default pool size (one worker per CPU).
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger:      slog.Default(),
		concurrency: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes ids with the runner's bounded pool. fn reports whether the
// item resulted in a write/send (counted as processed) or was a no-op
// (counted as skipped). Item errors and panics are captured per item; the
// batch never aborts on them.
func Run[T fmt.Stringer](ctx context.Context, r *Runner, job string, ids []T, fn func(context.Context, T) (bool, error)) Result {
	return run(ctx, r, job, ids, r.concurrency, fn)
}

// RunSequential processes ids one at a time in the given order. The receipt
// job uses this: sequential processing bounds outbound burst rate and keeps
// a user's delivery-state fields free of intra-run races.
func RunSequential[T fmt.Stringer](ctx context.Context, r *Runner, job string, ids []T, fn func(context.Context, T) (bool, error)) Result {
	return run(ctx, r, job, ids, 1, fn)
}

func run[T fmt.Stringer](ctx context.Context, r *Runner, job string, ids []T, limit int, fn func(context.Context, T) (bool, error)) Result {
	start := time.Now()
	res := Result{Job: job}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, itemID := range ids {
		// Stop dequeuing once the batch is cancelled; workers already
		// running finish their item.
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			acted, err := runItem(gctx, itemID, fn)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures = append(res.Failures, ItemFailure{ID: itemID.String(), Err: err})
				r.logger.Error("item failed", "job", job, "id", itemID.String(), "error", err)
				if r.metrics != nil {
					r.metrics.ItemsFailed.WithLabelValues(job).Inc()
				}
				return nil
			}
			if acted {
				res.Processed++
			} else {
				res.Skipped++
			}
			if r.metrics != nil {
				r.metrics.ItemsProcessed.WithLabelValues(job).Inc()
			}
			return nil
		})
	}

	// Item errors never propagate, so Wait only synchronizes the pool.
	_ = g.Wait()

	res.Elapsed = time.Since(start)
	if r.metrics != nil {
		r.metrics.BatchDuration.WithLabelValues(job).Observe(res.Elapsed.Seconds())
	}
	r.logger.Info("batch complete",
		"job", job,
		"processed", res.Processed,
		"skipped", res.Skipped,
		"failed", len(res.Failures),
		"elapsed", res.Elapsed.String(),
	)
	return res
}

func runItem[T fmt.Stringer](ctx context.Context, itemID T, fn func(context.Context, T) (bool, error)) (acted bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx, itemID)
}
