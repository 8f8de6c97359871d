package task_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/voluntas/core/notification"
	"github.com/trezcool/voluntas/core/points"
	"github.com/trezcool/voluntas/core/rank"
	"github.com/trezcool/voluntas/core/task"
	"github.com/trezcool/voluntas/services/pubsub"
	"github.com/trezcool/voluntas/storage/database/inmem"
	testutil "github.com/trezcool/voluntas/tests"
)

type env struct {
	svc    *task.Service
	points *points.Service
	repo   task.Repository
	pub    *pubsub.ConsolePublisher
}

func setup(t *testing.T, adjuster ...func(*points.Service) task.PointsAdjuster) env {
	t.Helper()
	ctx := context.Background()
	logger := testutil.NewLogger()

	db := inmemdb.Open()
	rankRepo := inmemdb.NewRankRepository(db)
	for _, r := range []rank.Rank{
		{ID: "recruit", Name: "Recruit", Order: 0, Threshold: 0},
		{ID: "member", Name: "Member", Order: 1, Threshold: 100},
	} {
		_, err := rankRepo.CreateRank(ctx, r)
		require.NoError(t, err)
	}

	pub := pubsub.NewConsolePublisher(nil)
	notifSvc := notification.NewService(inmemdb.NewNotificationRepository(db), pub, nil, nil, logger)
	ptsRepo := inmemdb.NewPointsRepository(db)
	ptsSvc := points.NewService(ptsRepo, ptsRepo, rank.NewService(rankRepo), inmemdb.NewTxRunner(db), notifSvc, logger)

	var adj task.PointsAdjuster = ptsSvc
	if len(adjuster) > 0 {
		adj = adjuster[0](ptsSvc)
	}
	repo := inmemdb.NewTaskRepository(db)
	return env{
		svc:    task.NewService(repo, adj, notifSvc, logger),
		points: ptsSvc,
		repo:   repo,
		pub:    pub,
	}
}

func (e env) kinds(userID string) []string {
	kinds := make([]string, 0)
	for _, msg := range e.pub.Messages(notification.Channel(userID)) {
		var n notification.Notification
		if err := json.Unmarshal(msg.Payload, &n); err == nil {
			kinds = append(kinds, n.Kind)
		}
	}
	return kinds
}

func newTask(t *testing.T, e env, pts, penalty int, deadline time.Duration) task.Task {
	t.Helper()
	dl := time.Now().Add(deadline)
	tsk, err := e.svc.Create(context.Background(), task.NewTask{
		Title: "Clean the park", Points: pts, Penalty: penalty, Deadline: &dl,
	}, "creator")
	require.NoError(t, err)
	return tsk
}

func TestService_Lifecycle(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	tsk := newTask(t, e, 50, 10, time.Hour)

	created, err := e.svc.Assign(ctx, tsk, "u1", "u2", "u1")
	require.NoError(t, err)
	assert.Len(t, created, 2)
	created, err = e.svc.Assign(ctx, tsk, "u1")
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Equal(t, []string{notification.KindTaskAssigned}, e.kinds("u1"))

	_, err = e.svc.Submit(ctx, tsk, "u3", task.Submit{})
	assert.Equal(t, task.ErrAssignmentNotFound, errors.Cause(err))

	approve, reject := true, false

	// review before submission
	_, err = e.svc.Review(ctx, tsk, task.Review{UserID: "u1", Approve: &approve}, "reviewer")
	assert.Equal(t, task.ErrStatusConflict, errors.Cause(err))

	a, err := e.svc.Submit(ctx, tsk, "u1", task.Submit{Note: " done "})
	require.NoError(t, err)
	assert.Equal(t, task.StatusSubmitted, a.Status)
	assert.Equal(t, "done", a.Note)
	assert.NotNil(t, a.SubmittedAt)
	_, err = e.svc.Submit(ctx, tsk, "u1", task.Submit{})
	assert.Equal(t, task.ErrStatusConflict, errors.Cause(err))

	a, err = e.svc.Review(ctx, tsk, task.Review{UserID: "u1", Approve: &approve}, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, task.StatusApproved, a.Status)
	assert.Equal(t, "reviewer", a.ReviewedBy)
	_, err = e.svc.Review(ctx, tsk, task.Review{UserID: "u1", Approve: &approve}, "reviewer")
	assert.Equal(t, task.ErrStatusConflict, errors.Cause(err))

	prog, err := e.points.Progress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, prog.Points)
	events, err := e.points.History(ctx, points.EventFilter{UserID: "u1"})
	require.NoError(t, err)
	if assert.Len(t, events, 1) {
		assert.Equal(t, tsk.ID, events[0].TaskID)
		assert.Equal(t, "reviewer", events[0].CreatedBy)
	}
	assert.Equal(t, []string{notification.KindTaskAssigned, notification.KindPointsChanged, notification.KindTaskReviewed}, e.kinds("u1"))

	// rejected submissions can be resubmitted
	_, err = e.svc.Submit(ctx, tsk, "u2", task.Submit{})
	require.NoError(t, err)
	a, err = e.svc.Review(ctx, tsk, task.Review{UserID: "u2", Approve: &reject, Note: "pictures missing"}, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, task.StatusRejected, a.Status)
	assert.Equal(t, "pictures missing", a.Note)
	a, err = e.svc.Submit(ctx, tsk, "u2", task.Submit{})
	require.NoError(t, err)
	assert.Equal(t, task.StatusSubmitted, a.Status)

	prog, err = e.points.Progress(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, prog.Points)

	as, err := e.svc.Assignments(ctx, task.AssignmentFilter{TaskID: tsk.ID, Status: task.StatusSubmitted})
	require.NoError(t, err)
	if assert.Len(t, as, 1) {
		assert.Equal(t, "u2", as[0].UserID)
	}
}

func TestService_OverdueTask(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	tsk := newTask(t, e, 50, 10, time.Hour)
	_, err := e.svc.Assign(ctx, tsk, "u1")
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	tsk.Deadline = &past
	_, err = e.svc.Assign(ctx, tsk, "u2")
	assert.Equal(t, task.ErrDeadlinePassed, err)
	_, err = e.svc.Submit(ctx, tsk, "u1", task.Submit{})
	assert.Equal(t, task.ErrDeadlinePassed, err)
}

type failingAdjuster struct {
	task.PointsAdjuster
}

func (failingAdjuster) Adjust(context.Context, points.Adjustment) (points.Outcome, error) {
	return points.Outcome{}, errors.Wrap(points.ErrUpdateFailed, "deadlock detected")
}

func TestService_ReviewRevertsApproval(t *testing.T) {
	e := setup(t, func(*points.Service) task.PointsAdjuster { return failingAdjuster{} })
	ctx := context.Background()
	tsk := newTask(t, e, 50, 10, time.Hour)
	_, err := e.svc.Assign(ctx, tsk, "u1")
	require.NoError(t, err)
	_, err = e.svc.Submit(ctx, tsk, "u1", task.Submit{})
	require.NoError(t, err)

	approve := true
	_, err = e.svc.Review(ctx, tsk, task.Review{UserID: "u1", Approve: &approve}, "reviewer")
	assert.Equal(t, points.ErrUpdateFailed, errors.Cause(err))

	a, err := e.repo.GetAssignment(ctx, tsk.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusSubmitted, a.Status)
	assert.NotContains(t, e.kinds("u1"), notification.KindTaskReviewed)
}

func TestService_SweepDeadlines(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.points.Adjust(ctx, points.Adjustment{UserID: "u1", Delta: 30, Reason: "welcome"})
	require.NoError(t, err)

	withPenalty := newTask(t, e, 50, 10, time.Hour)
	noPenalty := newTask(t, e, 20, 0, time.Hour)
	later := newTask(t, e, 20, 10, 5*time.Hour)

	for _, assign := range []struct {
		tsk   task.Task
		users []string
	}{
		{tsk: withPenalty, users: []string{"u1", "u2", "u4"}},
		{tsk: noPenalty, users: []string{"u3"}},
		{tsk: later, users: []string{"u1"}},
	} {
		_, err = e.svc.Assign(ctx, assign.tsk, assign.users...)
		require.NoError(t, err)
	}
	_, err = e.svc.Submit(ctx, withPenalty, "u2", task.Submit{})
	require.NoError(t, err)

	now := time.Now().Add(2 * time.Hour)
	report, err := e.svc.SweepDeadlines(ctx, now)
	require.NoError(t, err)

	expired := make(map[string]string)
	for _, a := range report.Expired {
		assert.Equal(t, task.StatusExpired, a.Status)
		expired[a.UserID] = a.TaskID
	}
	assert.Equal(t, map[string]string{"u1": withPenalty.ID, "u3": noPenalty.ID, "u4": withPenalty.ID}, expired)
	assert.ElementsMatch(t, []task.PenaltyResult{
		{TaskID: withPenalty.ID, UserID: "u1"},
		{TaskID: withPenalty.ID, UserID: "u4"},
	}, report.Penalties)

	for userID, want := range map[string]int{"u1": 20, "u2": 0, "u3": 0, "u4": 0} {
		prog, err := e.points.Progress(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, want, prog.Points, userID)
	}
	assert.Contains(t, e.kinds("u1"), notification.KindTaskExpired)
	assert.Contains(t, e.kinds("u3"), notification.KindTaskExpired)
	assert.NotContains(t, e.kinds("u2"), notification.KindTaskExpired)

	a, err := e.repo.GetAssignment(ctx, withPenalty.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, task.StatusSubmitted, a.Status)
	a, err = e.repo.GetAssignment(ctx, withPenalty.ID, "u1")
	require.NoError(t, err)
	assert.False(t, a.PenaltyDue)
	a, err = e.repo.GetAssignment(ctx, later.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, a.Status)

	// nothing left to expire
	report, err = e.svc.SweepDeadlines(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, report.Expired)
	assert.Empty(t, report.Penalties)
}

// flakyAdjuster fails the batch adjustments of the users in failFor.
type flakyAdjuster struct {
	task.PointsAdjuster
	failFor map[string]bool
}

func (f *flakyAdjuster) AdjustMany(ctx context.Context, ba points.BatchAdjustment) ([]points.BatchResult, error) {
	results := make([]points.BatchResult, 0, len(ba.UserIDs))
	for _, userID := range ba.UserIDs {
		if f.failFor[userID] {
			results = append(results, points.BatchResult{UserID: userID, Err: errors.Wrap(points.ErrUpdateFailed, "deadlock detected")})
			continue
		}
		res, err := f.PointsAdjuster.AdjustMany(ctx, points.BatchAdjustment{
			UserIDs: []string{userID}, Delta: ba.Delta, Reason: ba.Reason, TaskID: ba.TaskID,
		})
		if err != nil {
			return nil, err
		}
		results = append(results, res...)
	}
	return results, nil
}

func TestService_SweepDeadlinesRetriesPenalties(t *testing.T) {
	flaky := &flakyAdjuster{failFor: map[string]bool{"u2": true}}
	e := setup(t, func(svc *points.Service) task.PointsAdjuster {
		flaky.PointsAdjuster = svc
		return flaky
	})
	ctx := context.Background()

	for _, userID := range []string{"u1", "u2"} {
		_, err := e.points.Adjust(ctx, points.Adjustment{UserID: userID, Delta: 30, Reason: "welcome"})
		require.NoError(t, err)
	}
	tsk := newTask(t, e, 50, 10, time.Hour)
	_, err := e.svc.Assign(ctx, tsk, "u1", "u2")
	require.NoError(t, err)

	now := time.Now().Add(2 * time.Hour)
	report, err := e.svc.SweepDeadlines(ctx, now)
	require.NoError(t, err)
	assert.Len(t, report.Expired, 2)
	require.Len(t, report.Penalties, 2)
	for _, pr := range report.Penalties {
		assert.False(t, pr.Retry)
		if pr.UserID == "u2" {
			assert.NotEmpty(t, pr.Error)
		} else {
			assert.Empty(t, pr.Error)
		}
	}

	a, err := e.repo.GetAssignment(ctx, tsk.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, task.StatusExpired, a.Status)
	assert.True(t, a.PenaltyDue)

	// the failed penalty is owed until it goes through
	report, err = e.svc.SweepDeadlines(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, report.Expired)
	if assert.Len(t, report.Penalties, 1) {
		assert.Equal(t, task.PenaltyResult{TaskID: tsk.ID, UserID: "u2", Retry: true, Error: report.Penalties[0].Error}, report.Penalties[0])
		assert.NotEmpty(t, report.Penalties[0].Error)
	}

	flaky.failFor = nil
	report, err = e.svc.SweepDeadlines(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []task.PenaltyResult{{TaskID: tsk.ID, UserID: "u2", Retry: true}}, report.Penalties)

	a, err = e.repo.GetAssignment(ctx, tsk.ID, "u2")
	require.NoError(t, err)
	assert.False(t, a.PenaltyDue)

	for _, userID := range []string{"u1", "u2"} {
		prog, err := e.points.Progress(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 20, prog.Points, userID)
	}

	// nothing owed anymore
	report, err = e.svc.SweepDeadlines(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, report.Penalties)
	assert.Equal(t, []string{
		notification.KindPointsChanged, notification.KindTaskAssigned, notification.KindTaskExpired, notification.KindPointsChanged,
	}, e.kinds("u2"))
}
