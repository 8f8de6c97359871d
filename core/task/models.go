package task

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/voluntas/core"
)

// Assignment statuses
const (
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusExpired   = "expired"
)

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Points      int        `json:"points"`
	Penalty     int        `json:"penalty"`
	Deadline    *time.Time `json:"deadline"` // UTC
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"` // UTC
	UpdatedAt   time.Time  `json:"updated_at"` // UTC
}

// Overdue reports whether the deadline of the task is before now.
func (t Task) Overdue(now time.Time) bool {
	return t.Deadline != nil && t.Deadline.Before(now)
}

type Assignment struct {
	TaskID      string     `json:"task_id"`
	UserID      string     `json:"user_id"`
	Status      string     `json:"status"`
	Note        string     `json:"note,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"` // UTC
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`  // UTC
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"` // UTC
	UpdatedAt   time.Time  `json:"updated_at"` // UTC
	PenaltyDue  bool       `json:"-"`          // expired, penalty not deducted yet
}

// NewTask contains information needed to create a new Task.
type NewTask struct {
	Title       string     `json:"title" validate:"required,notblank,max=255"`
	Description string     `json:"description"`
	Points      int        `json:"points" validate:"min=0"`
	Penalty     int        `json:"penalty" validate:"min=0"`
	Deadline    *time.Time `json:"deadline"`
}

func (nt *NewTask) Validate(validate *validator.Validate) error {
	nt.Title = core.CleanString(nt.Title)
	nt.Description = core.CleanString(nt.Description)
	if err := validate.Struct(nt); err != nil {
		return err
	}
	if nt.Deadline != nil && !nt.Deadline.After(time.Now()) {
		return core.NewFieldError("deadline", ErrDeadlineInPast)
	}
	return nil
}

type Assign struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,max=500,dive,required"`
}

func (a Assign) Validate(validate *validator.Validate) error { return validate.Struct(a) }

type Submit struct {
	Note string `json:"note" validate:"max=1000"`
}

type Review struct {
	UserID  string `json:"user_id" validate:"required"`
	Approve *bool  `json:"approve" validate:"required"`
	Note    string `json:"note" validate:"max=1000"`
}

func (r Review) Validate(validate *validator.Validate) error { return validate.Struct(r) }

type QueryFilter struct {
	Search    string `query:"search"`
	CreatedBy string `query:"created_by"`
	Open      bool   `query:"open"` // no deadline, or deadline not passed
}

type AssignmentFilter struct {
	TaskID string `query:"-"`
	UserID string `query:"user_id"`
	Status string `query:"status"`
}

// SweepReport summarizes a SweepDeadlines run.
type SweepReport struct {
	Expired   []Assignment    `json:"expired"`
	Penalties []PenaltyResult `json:"penalties"`
}

type PenaltyResult struct {
	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`
	Retry  bool   `json:"retry,omitempty"` // owed since an earlier sweep
	Error  string `json:"error,omitempty"`
}
