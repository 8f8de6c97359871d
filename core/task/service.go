// Package task implements the task gamification: members complete assigned tasks to earn points
// and lose points when they miss a deadline.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/notification"
	"github.com/trezcool/voluntas/core/points"
)

var (
	// errors
	ErrNotFound           = errors.New("task not found")
	ErrAssignmentNotFound = errors.New("task assignment not found")
	ErrStatusConflict     = errors.New("task assignment is not in the expected status")
	ErrDeadlinePassed     = errors.New("task deadline has passed")
	ErrDeadlineInPast     = errors.New("deadline must be in the future")
)

type (
	Repository interface {
		CreateTask(ctx context.Context, t Task, exec ...core.DBExecutor) (Task, error)
		QueryTasks(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Task, error)
		GetTask(ctx context.Context, id string, exec ...core.DBExecutor) (Task, error)
		// CreateAssignments skips users already assigned to the task and returns the created ones.
		CreateAssignments(ctx context.Context, as []Assignment, exec ...core.DBExecutor) ([]Assignment, error)
		GetAssignment(ctx context.Context, taskID, userID string, exec ...core.DBExecutor) (Assignment, error)
		QueryAssignments(ctx context.Context, filter AssignmentFilter, exec ...core.DBExecutor) ([]Assignment, error)
		// UpdateAssignment saves a only if its stored status still is fromStatus, otherwise it returns ErrStatusConflict.
		UpdateAssignment(ctx context.Context, a Assignment, fromStatus string, exec ...core.DBExecutor) (Assignment, error)
		// QueryOverdueAssignments returns pending assignments of tasks whose deadline is before now.
		QueryOverdueAssignments(ctx context.Context, now time.Time, exec ...core.DBExecutor) ([]Assignment, error)
		// QueryDuePenalties returns expired assignments whose penalty was not deducted yet.
		QueryDuePenalties(ctx context.Context, exec ...core.DBExecutor) ([]Assignment, error)
	}

	PointsAdjuster interface {
		Adjust(ctx context.Context, adj points.Adjustment) (points.Outcome, error)
		AdjustMany(ctx context.Context, ba points.BatchAdjustment) ([]points.BatchResult, error)
	}

	Notifier interface {
		Send(ctx context.Context, nn notification.NewNotification) (notification.Notification, error)
	}

	Service struct {
		repo     Repository
		points   PointsAdjuster
		notifier Notifier
		logger   core.Logger
	}
)

func NewService(repo Repository, pts PointsAdjuster, notifier Notifier, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		points:   pts,
		notifier: notifier,
		logger:   logger,
	}
}

func (svc *Service) Create(ctx context.Context, nt NewTask, createdBy string) (Task, error) {
	now := time.Now().UTC()
	t := Task{
		ID:          uuid.New().String(),
		Title:       nt.Title,
		Description: nt.Description,
		Points:      nt.Points,
		Penalty:     nt.Penalty,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if nt.Deadline != nil {
		dl := nt.Deadline.UTC()
		t.Deadline = &dl
	}
	return svc.repo.CreateTask(ctx, t)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter) ([]Task, error) {
	return svc.repo.QueryTasks(ctx, filter)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Task, error) {
	return svc.repo.GetTask(ctx, id)
}

func (svc *Service) Assignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error) {
	return svc.repo.QueryAssignments(ctx, filter)
}

// Assign assigns the task to the given users. Users already assigned are skipped.
func (svc *Service) Assign(ctx context.Context, t Task, userIDs ...string) ([]Assignment, error) {
	if t.Overdue(time.Now()) {
		return nil, ErrDeadlinePassed
	}

	now := time.Now().UTC()
	as := make([]Assignment, 0, len(userIDs))
	seen := make(map[string]bool, len(userIDs))
	for _, userID := range userIDs {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		as = append(as, Assignment{
			TaskID:    t.ID,
			UserID:    userID,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	created, err := svc.repo.CreateAssignments(ctx, as)
	if err != nil {
		return nil, errors.Wrap(err, "creating assignments")
	}
	for _, a := range created {
		body := fmt.Sprintf("You were assigned %q, worth %d points.", t.Title, t.Points)
		if t.Deadline != nil {
			body += fmt.Sprintf(" Deadline: %s.", t.Deadline.Format(time.RFC1123))
		}
		svc.send(ctx, notification.NewNotification{
			UserID: a.UserID,
			Kind:   notification.KindTaskAssigned,
			Title:  "New task",
			Body:   body,
			Data:   map[string]interface{}{"task_id": t.ID},
		})
	}
	return created, nil
}

// Submit marks the assignment of userID as done, pending review.
func (svc *Service) Submit(ctx context.Context, t Task, userID string, sub Submit) (Assignment, error) {
	now := time.Now().UTC()
	if t.Overdue(now) {
		return Assignment{}, ErrDeadlinePassed
	}

	a, err := svc.repo.GetAssignment(ctx, t.ID, userID)
	if err != nil {
		return Assignment{}, err
	}
	if a.Status != StatusPending && a.Status != StatusRejected {
		return Assignment{}, ErrStatusConflict
	}

	from := a.Status
	a.Status = StatusSubmitted
	a.Note = core.CleanString(sub.Note)
	a.SubmittedAt = &now
	a.UpdatedAt = now
	return svc.repo.UpdateAssignment(ctx, a, from)
}

// Review approves or rejects a submitted assignment. Approval awards the task points to the assignee.
func (svc *Service) Review(ctx context.Context, t Task, rv Review, reviewerID string) (Assignment, error) {
	a, err := svc.repo.GetAssignment(ctx, t.ID, rv.UserID)
	if err != nil {
		return Assignment{}, err
	}
	if a.Status != StatusSubmitted {
		return Assignment{}, ErrStatusConflict
	}

	now := time.Now().UTC()
	reviewed := a
	reviewed.Status = StatusRejected
	if *rv.Approve {
		reviewed.Status = StatusApproved
	}
	if note := core.CleanString(rv.Note); note != "" {
		reviewed.Note = note
	}
	reviewed.ReviewedAt = &now
	reviewed.ReviewedBy = reviewerID
	reviewed.UpdatedAt = now

	// claiming the status first makes concurrent reviews award points at most once
	reviewed, err = svc.repo.UpdateAssignment(ctx, reviewed, StatusSubmitted)
	if err != nil {
		return Assignment{}, err
	}

	if reviewed.Status == StatusApproved && t.Points > 0 {
		_, err = svc.points.Adjust(ctx, points.Adjustment{
			UserID:    rv.UserID,
			Delta:     t.Points,
			Reason:    "completed task: " + t.Title,
			TaskID:    t.ID,
			CreatedBy: reviewerID,
		})
		if err != nil {
			a.UpdatedAt = time.Now().UTC()
			if _, rbErr := svc.repo.UpdateAssignment(ctx, a, StatusApproved); rbErr != nil {
				svc.logger.Error("reverting task approval", rbErr, map[string]interface{}{"task_id": t.ID, "user_id": rv.UserID})
			}
			return Assignment{}, err
		}
	}

	title, body := "Task rejected", fmt.Sprintf("Your submission for %q was rejected.", t.Title)
	if reviewed.Status == StatusApproved {
		title, body = "Task approved", fmt.Sprintf("Your submission for %q was approved.", t.Title)
	}
	svc.send(ctx, notification.NewNotification{
		UserID: rv.UserID,
		Kind:   notification.KindTaskReviewed,
		Title:  title,
		Body:   body,
		Data:   map[string]interface{}{"task_id": t.ID, "status": reviewed.Status},
	})
	return reviewed, nil
}

// SweepDeadlines expires every pending assignment whose task deadline is before now
// and deducts the task penalty from the assignees, one participant at a time.
// An expired assignment owes its penalty until the deduction is committed: penalties
// that failed in an earlier sweep are retried first.
func (svc *Service) SweepDeadlines(ctx context.Context, now time.Time) (SweepReport, error) {
	due, err := svc.repo.QueryDuePenalties(ctx)
	if err != nil {
		return SweepReport{}, errors.Wrap(err, "querying due penalties")
	}
	overdue, err := svc.repo.QueryOverdueAssignments(ctx, now)
	if err != nil {
		return SweepReport{}, errors.Wrap(err, "querying overdue assignments")
	}

	tasks := make(map[string]Task)
	getTask := func(id string) (Task, error) {
		if t, ok := tasks[id]; ok {
			return t, nil
		}
		t, err := svc.repo.GetTask(ctx, id)
		if err != nil {
			return Task{}, errors.Wrap(err, "getting task")
		}
		tasks[id] = t
		return t, nil
	}

	owed := newAssignmentGroups()
	retried := make(map[string]bool, len(due))
	for _, a := range due {
		owed.add(a)
		retried[a.TaskID+"/"+a.UserID] = true
	}

	report := SweepReport{Expired: make([]Assignment, 0, len(overdue))}
	expired := newAssignmentGroups()
	for _, a := range overdue {
		t, err := getTask(a.TaskID)
		if err != nil {
			return report, err
		}
		from := a.Status
		a.Status = StatusExpired
		a.PenaltyDue = t.Penalty > 0
		a.UpdatedAt = now.UTC()
		a, err = svc.repo.UpdateAssignment(ctx, a, from)
		if err != nil {
			if errors.Cause(err) == ErrStatusConflict {
				continue // submitted meanwhile
			}
			return report, errors.Wrap(err, "expiring assignment")
		}
		report.Expired = append(report.Expired, a)
		expired.add(a)
		if a.PenaltyDue {
			owed.add(a)
		}
	}

	for _, taskID := range owed.order {
		t, err := getTask(taskID)
		if err != nil {
			return report, err
		}
		as := owed.byTask[taskID]
		userIDs := make([]string, 0, len(as))
		byUser := make(map[string]Assignment, len(as))
		for _, a := range as {
			userIDs = append(userIDs, a.UserID)
			byUser[a.UserID] = a
		}

		results, err := svc.points.AdjustMany(ctx, points.BatchAdjustment{
			UserIDs: userIDs,
			Delta:   -t.Penalty,
			Reason:  "missed task deadline: " + t.Title,
			TaskID:  t.ID,
		})
		if err != nil {
			return report, errors.Wrap(err, "deducting penalties")
		}
		for _, res := range results {
			a := byUser[res.UserID]
			pr := PenaltyResult{TaskID: t.ID, UserID: res.UserID, Retry: retried[t.ID+"/"+res.UserID]}
			if res.Err != nil {
				pr.Error = res.Err.Error()
				report.Penalties = append(report.Penalties, pr)
				continue
			}

			a.PenaltyDue = false
			a.UpdatedAt = now.UTC()
			if _, err = svc.repo.UpdateAssignment(ctx, a, StatusExpired); err != nil {
				svc.logger.Error("clearing due penalty", err, map[string]interface{}{"task_id": t.ID, "user_id": a.UserID})
			}
			report.Penalties = append(report.Penalties, pr)
		}
	}

	for _, taskID := range expired.order {
		t, err := getTask(taskID)
		if err != nil {
			return report, err
		}
		for _, a := range expired.byTask[taskID] {
			body := fmt.Sprintf("The deadline of %q has passed.", t.Title)
			if t.Penalty > 0 {
				body += fmt.Sprintf(" %d points were deducted.", t.Penalty)
			}
			svc.send(ctx, notification.NewNotification{
				UserID: a.UserID,
				Kind:   notification.KindTaskExpired,
				Title:  "Task expired",
				Body:   body,
				Data:   map[string]interface{}{"task_id": t.ID},
			})
		}
	}
	return report, nil
}

// assignmentGroups groups assignments by task, keeping the first-seen task order.
type assignmentGroups struct {
	order  []string
	byTask map[string][]Assignment
}

func newAssignmentGroups() *assignmentGroups {
	return &assignmentGroups{byTask: make(map[string][]Assignment)}
}

func (g *assignmentGroups) add(a Assignment) {
	if _, ok := g.byTask[a.TaskID]; !ok {
		g.order = append(g.order, a.TaskID)
	}
	g.byTask[a.TaskID] = append(g.byTask[a.TaskID], a)
}

func (svc *Service) send(ctx context.Context, nn notification.NewNotification) {
	if svc.notifier == nil {
		return
	}
	if _, err := svc.notifier.Send(ctx, nn); err != nil {
		svc.logger.Error("sending notification", err, map[string]interface{}{"user_id": nn.UserID, "kind": nn.Kind})
	}
}
