package db

import (
	"context"
	"time"

	"festival-ticketing/internal/models"
)

// ---------------- FULFILLMENT OUTBOX ----------------

// EnqueueFulfillment records a pending task for the order. A second enqueue
// for the same order is ignored.
func (d *DB) EnqueueFulfillment(ctx context.Context, kind models.SubjectKind, orderID string, at time.Time) error {
	task := &models.FulfillmentTask{
		SubjectKind:   kind,
		OrderID:       orderID,
		Status:        models.TaskPending,
		NextAttemptAt: at,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	_, err := d.Bun.NewInsert().Model(task).
		On("CONFLICT (order_id) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	return err
}

// ClaimDueTasks moves up to limit due pending tasks to running and returns
// the ones this caller won.
func (d *DB) ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]models.FulfillmentTask, error) {
	var due []models.FulfillmentTask
	err := d.Bun.NewSelect().Model(&due).
		Where("status = ?", models.TaskPending).
		Where("next_attempt_at <= ?", now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	claimed := make([]models.FulfillmentTask, 0, len(due))
	for _, t := range due {
		res, err := d.Bun.NewUpdate().Model((*models.FulfillmentTask)(nil)).
			Set("status = ?", models.TaskRunning).
			Set("attempts = attempts + 1").
			Set("updated_at = ?", now).
			Where("id = ?", t.ID).
			Where("status = ?", models.TaskPending).
			Exec(ctx)
		if err != nil {
			return claimed, err
		}
		if ok, err := affected(res); err != nil {
			return claimed, err
		} else if ok {
			t.Status = models.TaskRunning
			t.Attempts++
			claimed = append(claimed, t)
		}
	}
	return claimed, nil
}

func (d *DB) CompleteTask(ctx context.Context, id int64, at time.Time) error {
	_, err := d.Bun.NewUpdate().Model((*models.FulfillmentTask)(nil)).
		Set("status = ?", models.TaskDone).
		Set("last_error = NULL").
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// RetryTask records a failure. When nextAttempt is zero the task is marked
// failed for good.
func (d *DB) RetryTask(ctx context.Context, id int64, lastErr string, nextAttempt, at time.Time) error {
	q := d.Bun.NewUpdate().Model((*models.FulfillmentTask)(nil)).
		Set("last_error = ?", lastErr).
		Set("updated_at = ?", at)
	if nextAttempt.IsZero() {
		q = q.Set("status = ?", models.TaskFailed)
	} else {
		q = q.Set("status = ?", models.TaskPending).Set("next_attempt_at = ?", nextAttempt)
	}
	_, err := q.Where("id = ?", id).Exec(ctx)
	return err
}

// ResetRunningTasks returns tasks that have been running since staleBefore
// or earlier to the queue. Such tasks belong to a crashed process.
func (d *DB) ResetRunningTasks(ctx context.Context, staleBefore, at time.Time) (int64, error) {
	res, err := d.Bun.NewUpdate().Model((*models.FulfillmentTask)(nil)).
		Set("status = ?", models.TaskPending).
		Set("next_attempt_at = ?", at).
		Set("updated_at = ?", at).
		Where("status = ?", models.TaskRunning).
		Where("updated_at <= ?", staleBefore).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) GetTaskByOrder(ctx context.Context, orderID string) (*models.FulfillmentTask, error) {
	var t models.FulfillmentTask
	err := d.Bun.NewSelect().Model(&t).Where("order_id = ?", orderID).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}
