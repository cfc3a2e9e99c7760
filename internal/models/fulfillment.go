package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SubjectKind string

const (
	SubjectRetail    SubjectKind = "retail"
	SubjectCorporate SubjectKind = "b2b"
)

// PaymentSubject is whatever a gateway transaction id resolved to. Exactly
// one of Retail or Corporate is set.
type PaymentSubject struct {
	Retail    *Order
	Corporate *B2BOrder
}

func (s PaymentSubject) Kind() SubjectKind {
	if s.Corporate != nil {
		return SubjectCorporate
	}
	return SubjectRetail
}

func (s PaymentSubject) OrderID() string {
	if s.Corporate != nil {
		return s.Corporate.ID
	}
	if s.Retail != nil {
		return s.Retail.ID
	}
	return ""
}

func (s PaymentSubject) OrderNumber() string {
	if s.Corporate != nil {
		return s.Corporate.OrderNumber
	}
	if s.Retail != nil {
		return s.Retail.OrderNumber
	}
	return ""
}

func (s PaymentSubject) Language() string {
	if s.Corporate != nil {
		return s.Corporate.Language
	}
	if s.Retail != nil {
		return s.Retail.Language
	}
	return ""
}

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// FulfillmentTask is an outbox row that asks the worker pool to generate
// tickets and send the confirmation for a paid order.
type FulfillmentTask struct {
	bun.BaseModel `bun:"table:fulfillment_tasks"`

	ID            int64       `bun:"id,pk,autoincrement" json:"id"`
	SubjectKind   SubjectKind `bun:"subject_kind,notnull" json:"subjectKind"`
	OrderID       string      `bun:"order_id,notnull,unique" json:"orderId"`
	Status        TaskStatus  `bun:"status,notnull" json:"status"`
	Attempts      int         `bun:"attempts,notnull,default:0" json:"attempts"`
	LastError     string      `bun:"last_error,nullzero" json:"lastError,omitempty"`
	NextAttemptAt time.Time   `bun:"next_attempt_at,notnull" json:"nextAttemptAt"`
	CreatedAt     time.Time   `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt     time.Time   `bun:"updated_at,notnull" json:"updatedAt"`
}
