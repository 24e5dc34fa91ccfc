// Command reconciler runs the billing reconciliation jobs: plan-set-at
// resolution, beta-credit backfill, null-field repair, and receipt
// dispatch. It is invoked by a scheduler with no arguments (run everything)
// or with a single job name.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	goredis "github.com/redis/go-redis/v9"

	"ledgerd/internal/billing/batch"
	"ledgerd/internal/billing/models"
	"ledgerd/internal/billing/notify"
	"ledgerd/internal/billing/ports"
	"ledgerd/internal/billing/service/backfill"
	"ledgerd/internal/billing/service/planresolver"
	"ledgerd/internal/billing/service/receipt"
	"ledgerd/internal/billing/service/repair"
	paymentstore "ledgerd/internal/billing/store/payment"
	userstore "ledgerd/internal/billing/store/user"
	"ledgerd/internal/platform/config"
	"ledgerd/internal/platform/httpserver"
	"ledgerd/internal/platform/logger"
	"ledgerd/internal/platform/metrics"
	platformredis "ledgerd/internal/platform/redis"
	id "ledgerd/pkg/domain"
	"ledgerd/pkg/platform/circuit"
	"ledgerd/pkg/platform/events"
	"ledgerd/pkg/platform/events/publisher"
	eventskafka "ledgerd/pkg/platform/events/store/kafka"
	eventsmemory "ledgerd/pkg/platform/events/store/memory"
	"ledgerd/pkg/platform/tx"
)

const (
	jobPlanSetAt     = "plan-set-at"
	jobBenefitCredit = "benefit-credit"
	jobRepairNull    = "repair-null"
	jobReceipts      = "receipts"
)

var allJobs = []string{jobPlanSetAt, jobBenefitCredit, jobRepairNull, jobReceipts}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "reconciler: %v\n", err)
		os.Exit(1)
	}
}

// run wires dependencies and drives the selected jobs. Only setup failures
// propagate here; per-item failures stay inside the batch runner.
func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	jobs := allJobs
	if len(os.Args) > 1 {
		job := os.Args[1]
		if !validJob(job) {
			return fmt.Errorf("unknown job %q (valid: %v)", job, allJobs)
		}
		jobs = []string{job}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: Postgres when configured, in-memory otherwise (dev runs).
	// inTx makes an item's multi-store writes atomic on Postgres; the memory
	// stores have no transactions, so there it is a passthrough.
	var (
		users    ports.UserStore
		payments ports.PaymentStore
		inTx     = func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		}
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		users = userstore.NewPostgres(db)
		payments = paymentstore.NewPostgres(db)
		inTx = func(ctx context.Context, fn func(context.Context) error) error {
			return tx.WithinTx(ctx, db, fn)
		}
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
		users = userstore.New()
		payments = paymentstore.New()
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Event sink: Kafka when brokers are configured, memory otherwise.
	var sink events.Store
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := eventskafka.New(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer kafkaSink.Close()
		sink = kafkaSink
	} else {
		sink = eventsmemory.NewInMemoryStore()
	}
	pub := publisher.NewPublisher(sink, publisher.WithAsyncBuffer(256), publisher.WithLogger(log))
	defer pub.Close()

	m := metrics.New()
	runner := batch.NewRunner(
		batch.WithLogger(log),
		batch.WithMetrics(m),
		batch.WithConcurrency(cfg.Concurrency),
	)
	lock := batch.NewRunLock(rawRedis(redisClient), cfg.RunLockTTL)

	// Ops surface while the batch runs.
	opsSrv := httpserver.New(cfg.OpsAddr, httpserver.NewOpsRouter())
	go func() {
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = opsSrv.Shutdown(shutdownCtx)
	}()

	resolver, err := planresolver.New(users, payments,
		planresolver.WithLogger(log), planresolver.WithEvents(pub))
	if err != nil {
		return err
	}
	credits, err := backfill.New(users, payments,
		backfill.WithLogger(log), backfill.WithEvents(pub))
	if err != nil {
		return err
	}
	repairer, err := repair.New(payments,
		repair.WithLogger(log), repair.WithEvents(pub))
	if err != nil {
		return err
	}
	mailBreaker := circuit.New("mail-transport",
		circuit.WithFailureThreshold(cfg.MailFailureThreshold))
	mailer := notify.NewBreakerMailer(notify.NewLogMailer(log), mailBreaker, log)
	receipts, err := receipt.New(payments, users,
		mailer, notify.NewTemplateRenderer(), cfg.SystemAddress,
		receipt.WithLogger(log), receipt.WithEvents(pub))
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			log.Info("shutdown requested, remaining jobs skipped")
			break
		}
		if job == jobReceipts {
			// Each run probes the transport afresh.
			mailBreaker.Reset()
		}
		if err := runJob(ctx, log, lock, runner, inTx, job, resolver, credits, repairer, receipts, m); err != nil {
			return err
		}
	}

	// Completion signal for the supervising scheduler, mirroring a worker
	// posting back to its parent; standalone runs just exit 0.
	if cfg.Supervised {
		fmt.Println("done")
	}
	log.Info("reconciler finished")
	return nil
}

func runJob(
	ctx context.Context,
	log *slog.Logger,
	lock *batch.RunLock,
	runner *batch.Runner,
	inTx func(context.Context, func(context.Context) error) error,
	job string,
	resolver *planresolver.Service,
	credits *backfill.Service,
	repairer *repair.Service,
	receipts *receipt.Service,
	m *metrics.Metrics,
) error {
	ok, err := lock.Acquire(ctx, job)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("another run holds the job lease, skipping", "job", job)
		return nil
	}
	defer func() {
		if err := lock.Release(context.Background(), job); err != nil {
			log.Warn("run lock release failed", "job", job, "error", err)
		}
	}()

	switch job {
	case jobPlanSetAt:
		ids, err := resolver.Candidates(ctx)
		if err != nil {
			return err
		}
		batch.Run(ctx, runner, job, ids, func(ctx context.Context, uid id.UserID) (bool, error) {
			// Resolution can touch plan and plan_set_at in separate saves.
			var res planresolver.Resolution
			err := inTx(ctx, func(ctx context.Context) error {
				var err error
				res, err = resolver.Resolve(ctx, uid)
				return err
			})
			return res.PlanChanged || res.PlanSetAtChanged, err
		})
	case jobBenefitCredit:
		ids, err := credits.Candidates(ctx)
		if err != nil {
			return err
		}
		batch.Run(ctx, runner, job, ids, func(ctx context.Context, uid id.UserID) (bool, error) {
			// Credit insert and the expiry-recomputing user save land
			// together or not at all.
			var created *models.PaymentEvent
			err := inTx(ctx, func(ctx context.Context) error {
				var err error
				created, err = credits.Backfill(ctx, uid)
				return err
			})
			return created != nil, err
		})
	case jobRepairNull:
		ids, err := repairer.Candidates(ctx)
		if err != nil {
			return err
		}
		batch.Run(ctx, runner, job, ids, repairer.Repair)
	case jobReceipts:
		ids, err := receipts.Candidates(ctx)
		if err != nil {
			return err
		}
		// Strictly sequential: bounds outbound burst rate and keeps
		// delivery-state writes ordered.
		batch.RunSequential(ctx, runner, job, ids, func(ctx context.Context, pid id.PaymentID) (bool, error) {
			sent, err := receipts.Dispatch(ctx, pid)
			if sent {
				m.IncrementReceiptsSent()
			}
			return sent, err
		})
	}
	return nil
}

func validJob(job string) bool {
	for _, j := range allJobs {
		if j == job {
			return true
		}
	}
	return false
}

// rawRedis unwraps the platform client; a nil client disables the run lock.
func rawRedis(c *platformredis.Client) *goredis.Client {
	if c == nil {
		return nil
	}
	return c.Client
}
