package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"festival-ticketing/internal/config"
	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/metrics"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/utils"
)

const (
	JobReminders = "reminders"
	JobExpiry    = "expiry"
	JobRecovery  = "fulfillment_recovery"

	reminderBatch = 100
)

// ErrJobBusy means another run of the job holds its lock.
var ErrJobBusy = errors.New("job already running")

var ErrUnknownJob = errors.New("unknown job")

type ReminderStore interface {
	ListReminderCandidates(ctx context.Context, stage int, olderThan time.Time, limit int) ([]models.Order, error)
	AdvanceReminder(ctx context.Context, id string, expected int, at time.Time) (bool, error)
}

type ReminderSender interface {
	SendFirstReminder(ctx context.Context, order *models.Order) error
	SendSecondReminder(ctx context.Context, order *models.Order) error
}

type Expirer interface {
	ExpireOldPendingOrders(ctx context.Context, hoursOld int) (int, error)
}

type TaskRecoverer interface {
	Recover(ctx context.Context, staleBefore time.Time) (int64, error)
}

// JobLock is a lock shared between replicas. The release func is only valid
// when ok is true.
type JobLock interface {
	TryLock(ctx context.Context, job string) (release func(), ok bool, err error)
}

type Deps struct {
	Store  ReminderStore
	Sender ReminderSender
	Orders Expirer
	Tasks  TaskRecoverer
	Lock   JobLock
	Config config.SchedulerConfig
	Logger *logger.Logger
	Clock  utils.Clock
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
	mu       sync.Mutex
}

// Scheduler runs the periodic maintenance jobs. Each job runs at most once at
// a time in this process, and at most once across replicas when a JobLock is
// configured.
type Scheduler struct {
	store  ReminderStore
	sender ReminderSender
	orders Expirer
	tasks  TaskRecoverer
	lock   JobLock
	cfg    config.SchedulerConfig
	logger *logger.Logger
	now    utils.Clock
	jobs   map[string]*job
	wg     sync.WaitGroup
}

func New(d Deps) *Scheduler {
	clock := d.Clock
	if clock == nil {
		clock = utils.SystemClock
	}
	log := d.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	s := &Scheduler{
		store:  d.Store,
		sender: d.Sender,
		orders: d.Orders,
		tasks:  d.Tasks,
		lock:   d.Lock,
		cfg:    d.Config,
		logger: log,
		now:    clock,
		jobs:   make(map[string]*job),
	}

	s.register(JobReminders, d.Config.ReminderInterval, func(ctx context.Context) error {
		_, err := s.SendReminders(ctx)
		return err
	})
	s.register(JobExpiry, d.Config.ExpiryInterval, func(ctx context.Context) error {
		_, err := s.orders.ExpireOldPendingOrders(ctx, s.cfg.ExpireAfterHours)
		return err
	})
	if d.Tasks != nil {
		s.register(JobRecovery, d.Config.RecoveryInterval, func(ctx context.Context) error {
			_, err := s.tasks.Recover(ctx, s.now().Add(-s.cfg.StaleTaskAfter))
			return err
		})
	}
	return s
}

func (s *Scheduler) register(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.jobs[name] = &job{name: name, interval: interval, run: run}
}

// Start launches one loop per job. Jobs with a non-positive interval are not
// scheduled but can still be run with RunJob.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		if j.interval <= 0 {
			s.logger.Warn("SCHEDULER", fmt.Sprintf("Job %s has no interval, not scheduled", j.name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	s.logger.Info("SCHEDULER", fmt.Sprintf("Job %s scheduled every %s", j.name, j.interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runGuarded(ctx, j); err != nil && !errors.Is(err, ErrJobBusy) && ctx.Err() == nil {
				s.logger.Error("SCHEDULER", fmt.Sprintf("Job %s failed: %v", j.name, err))
			}
		}
	}
}

// RunJob runs the named job now, under the same guards as a scheduled run.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownJob, name)
	}
	return s.runGuarded(ctx, j)
}

func (s *Scheduler) runGuarded(ctx context.Context, j *job) error {
	if !j.mu.TryLock() {
		metrics.RecordSchedulerRun(j.name, "skipped")
		s.logger.Debug("SCHEDULER", fmt.Sprintf("Job %s still running, skipping", j.name))
		return ErrJobBusy
	}
	defer j.mu.Unlock()

	if s.lock != nil {
		release, ok, err := s.lock.TryLock(ctx, j.name)
		if err != nil {
			metrics.RecordSchedulerRun(j.name, "error")
			return fmt.Errorf("acquire lock for %s: %w", j.name, err)
		}
		if !ok {
			metrics.RecordSchedulerRun(j.name, "skipped")
			s.logger.Debug("SCHEDULER", fmt.Sprintf("Job %s held by another replica, skipping", j.name))
			return ErrJobBusy
		}
		defer release()
	}

	start := time.Now()
	if err := j.run(ctx); err != nil {
		metrics.RecordSchedulerRun(j.name, "error")
		return err
	}
	metrics.RecordSchedulerRun(j.name, "ok")
	s.logger.LogProcess(j.name, fmt.Sprintf("completed in %s", time.Since(start).Round(time.Millisecond)))
	return nil
}

// SendReminders mails the first reminder to pending orders older than the
// first threshold and the second reminder to those older than the second.
// The counter only advances after the notifier accepted the message, so a
// failed send is retried on the next run.
func (s *Scheduler) SendReminders(ctx context.Context) (int, error) {
	now := s.now()
	stages := []struct {
		stage int
		after time.Duration
		send  func(context.Context, *models.Order) error
	}{
		// second stage first so one run never sends both
		{2, s.cfg.SecondReminderAfter, s.sender.SendSecondReminder},
		{1, s.cfg.FirstReminderAfter, s.sender.SendFirstReminder},
	}

	sent := 0
	for _, st := range stages {
		expected := st.stage - 1
		orders, err := s.store.ListReminderCandidates(ctx, expected, now.Add(-st.after), reminderBatch)
		if err != nil {
			return sent, fmt.Errorf("list stage %d candidates: %w", st.stage, err)
		}
		for i := range orders {
			o := &orders[i]
			if err := st.send(ctx, o); err != nil {
				s.logger.Warn("SCHEDULER", fmt.Sprintf("Reminder %d for %s not sent: %v", st.stage, o.OrderNumber, err))
				continue
			}
			advanced, err := s.store.AdvanceReminder(ctx, o.ID, expected, s.now())
			if err != nil {
				s.logger.LogDatabase("UPDATE", "orders", fmt.Sprintf("reminder count of %s: %v", o.OrderNumber, err))
				continue
			}
			if !advanced {
				// paid or reminded concurrently
				continue
			}
			sent++
			metrics.RecordReminderSent(st.stage)
			s.logger.LogOrder("REMINDER_SENT", o.OrderNumber, fmt.Sprintf("stage %d", st.stage))
		}
	}
	return sent, nil
}
