package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"festival-ticketing/internal/config"
	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/metrics"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/utils"

	"golang.org/x/sync/errgroup"
)

type TaskStore interface {
	ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]models.FulfillmentTask, error)
	CompleteTask(ctx context.Context, id int64, at time.Time) error
	RetryTask(ctx context.Context, id int64, lastErr string, nextAttempt, at time.Time) error
	ResetRunningTasks(ctx context.Context, staleBefore, at time.Time) (int64, error)
}

// Processor generates tickets and sends the confirmation for a paid order.
type Processor interface {
	ProcessSuccessfulOrder(ctx context.Context, orderID string) error
	FulfillB2BOrder(ctx context.Context, orderID string) error
}

// Pool drains the fulfillment outbox with a bounded number of concurrent
// tasks. A failed task is retried with exponential backoff until it runs out
// of attempts.
type Pool struct {
	store   TaskStore
	proc    Processor
	cfg     config.FulfillmentConfig
	logger  *logger.Logger
	now     utils.Clock
	wg      sync.WaitGroup
	running sync.Mutex
}

func NewPool(store TaskStore, proc Processor, cfg config.FulfillmentConfig, log *logger.Logger, clock utils.Clock) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if clock == nil {
		clock = utils.SystemClock
	}
	return &Pool{store: store, proc: proc, cfg: cfg, logger: log, now: clock}
}

// Start requeues tasks orphaned by a previous process and polls the outbox
// until ctx is cancelled. Wait blocks until the loop has exited.
func (p *Pool) Start(ctx context.Context) {
	if _, err := p.Recover(ctx, p.now()); err != nil {
		p.logger.Error("FULFILLMENT", fmt.Sprintf("Failed to requeue running tasks: %v", err))
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()

		p.logger.Info("FULFILLMENT", fmt.Sprintf("Worker pool started with %d workers", p.cfg.Workers))
		for {
			if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("FULFILLMENT", fmt.Sprintf("Poll failed: %v", err))
			}
			select {
			case <-ctx.Done():
				p.logger.Info("FULFILLMENT", "Worker pool stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

// Recover puts tasks that have been running since staleBefore back in the
// queue.
func (p *Pool) Recover(ctx context.Context, staleBefore time.Time) (int64, error) {
	n, err := p.store.ResetRunningTasks(ctx, staleBefore, p.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Warn("FULFILLMENT", fmt.Sprintf("Requeued %d stale tasks", n))
	}
	return n, nil
}

// RunOnce claims the due tasks and processes them, at most Workers at a
// time. It returns how many tasks completed.
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	// one batch at a time per process
	p.running.Lock()
	defer p.running.Unlock()

	tasks, err := p.store.ClaimDueTasks(ctx, p.now(), p.cfg.Workers*4)
	if err != nil {
		return 0, fmt.Errorf("claim tasks: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if p.handle(gctx, task) {
				mu.Lock()
				done++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return done, nil
}

func (p *Pool) handle(ctx context.Context, task models.FulfillmentTask) bool {
	err := p.process(ctx, task)
	now := p.now()
	if err == nil {
		if err := p.store.CompleteTask(ctx, task.ID, now); err != nil {
			p.logger.LogDatabase("COMPLETE_TASK", "fulfillment_tasks", err.Error())
			return false
		}
		metrics.RecordFulfillment("done")
		p.logger.Debug("FULFILLMENT", fmt.Sprintf("Task %d for %s %s done", task.ID, task.SubjectKind, task.OrderID))
		return true
	}

	var next time.Time
	result := "failed"
	if task.Attempts < p.cfg.MaxAttempts {
		next = now.Add(p.backoff(task.Attempts))
		result = "retry"
	}
	if err := p.store.RetryTask(ctx, task.ID, err.Error(), next, now); err != nil {
		p.logger.LogDatabase("RETRY_TASK", "fulfillment_tasks", err.Error())
	}
	metrics.RecordFulfillment(result)

	if next.IsZero() {
		p.logger.Error("FULFILLMENT", fmt.Sprintf("Task %d for %s gave up after %d attempts: %v", task.ID, task.OrderID, task.Attempts, err))
	} else {
		p.logger.Warn("FULFILLMENT", fmt.Sprintf("Task %d for %s failed (attempt %d), retry at %s: %v",
			task.ID, task.OrderID, task.Attempts, next.Format(time.RFC3339), err))
	}
	return false
}

func (p *Pool) process(ctx context.Context, task models.FulfillmentTask) error {
	switch task.SubjectKind {
	case models.SubjectRetail:
		return p.proc.ProcessSuccessfulOrder(ctx, task.OrderID)
	case models.SubjectCorporate:
		return p.proc.FulfillB2BOrder(ctx, task.OrderID)
	}
	return fmt.Errorf("unknown subject kind %q", task.SubjectKind)
}

// backoff doubles the base delay per attempt already made.
func (p *Pool) backoff(attempts int) time.Duration {
	d := p.cfg.RetryBackoff
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	return d
}
