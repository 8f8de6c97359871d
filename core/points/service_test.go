package points_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/points"
	"github.com/trezcool/voluntas/core/rank"
	"github.com/trezcool/voluntas/core/user"
	"github.com/trezcool/voluntas/storage/database/inmem"
	testutil "github.com/trezcool/voluntas/tests"
)

type notifierSpy struct {
	mu       sync.Mutex
	outcomes []points.Outcome
}

func (n *notifierSpy) ProgressChanged(_ context.Context, out points.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, out)
}

func (n *notifierSpy) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.outcomes)
}

// failingRepo fails to append the events of failFor.
type failingRepo struct {
	points.Repository
	failFor string
}

func (r failingRepo) AppendEvent(ctx context.Context, e points.Event, exec ...core.DBExecutor) error {
	if e.UserID == r.failFor {
		return errors.New("disk full")
	}
	return r.Repository.AppendEvent(ctx, e, exec...)
}

type env struct {
	db       *inmemdb.DB
	repo     points.Repository
	svc      *points.Service
	notifier *notifierSpy
	users    []user.User
}

var scenarioRanks = []rank.Rank{
	{ID: "A", Name: "A", Order: 0, Threshold: 0},
	{ID: "B", Name: "B", Order: 1, Threshold: 100},
	{ID: "Parent", Name: "Parent", Order: 2, Threshold: 200, IsParent: true},
	{ID: "Parent*", Name: "Parent*", Order: 3, Threshold: 250},
	{ID: "D", Name: "D", Order: 4, Threshold: 400},
}

func setup(t *testing.T, ranks []rank.Rank, nUsers int, wrap ...func(points.Repository) points.Repository) env {
	t.Helper()
	ctx := context.Background()

	db := inmemdb.Open()
	rankRepo := inmemdb.NewRankRepository(db)
	for _, r := range ranks {
		_, err := rankRepo.CreateRank(ctx, r)
		require.NoError(t, err)
	}

	usrRepo := inmemdb.NewUserRepository(db)
	users := make([]user.User, 0, nUsers)
	for i := 0; i < nUsers; i++ {
		usr, err := usrRepo.CreateUser(ctx, user.User{Name: "Volunteer", CreatedAt: time.Now().UTC()})
		require.NoError(t, err)
		users = append(users, usr)
	}

	ptsRepo := inmemdb.NewPointsRepository(db)
	var repo points.Repository = ptsRepo
	for _, w := range wrap {
		repo = w(repo)
	}

	notifier := new(notifierSpy)
	svc := points.NewService(repo, ptsRepo, rank.NewService(rankRepo), inmemdb.NewTxRunner(db), notifier, testutil.NewLogger())
	return env{db: db, repo: repo, svc: svc, notifier: notifier, users: users}
}

func TestAdjust(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		before      *points.Progression
		delta       int
		wantPoints  int
		wantRank    string
		wantReset   bool
		wantEvent   bool
		wantNotifed bool
	}{
		{
			name:   "crosses parent boundary",
			before: &points.Progression{Points: 150, RankID: "B"}, delta: 100,
			wantPoints: 0, wantRank: "Parent*", wantReset: true, wantEvent: true, wantNotifed: true,
		},
		{
			name:   "stays on rank",
			before: &points.Progression{Points: 50, RankID: "A"}, delta: 30,
			wantPoints: 80, wantRank: "A", wantEvent: true, wantNotifed: true,
		},
		{
			name:   "downgrade to zero steps back",
			before: &points.Progression{Points: 5, RankID: "B"}, delta: -10,
			wantPoints: 0, wantRank: "A", wantEvent: true, wantNotifed: true,
		},
		{
			name:   "downgrade above zero keeps rank",
			before: &points.Progression{Points: 50, RankID: "B"}, delta: -10,
			wantPoints: 40, wantRank: "B", wantEvent: true, wantNotifed: true,
		},
		{
			name:   "no effective change",
			before: &points.Progression{Points: 0, RankID: "A"}, delta: -10,
			wantPoints: 0, wantRank: "A",
		},
		{
			name:  "new participant enters on lowest rank",
			delta: 120, wantPoints: 120, wantRank: "B", wantEvent: true, wantNotifed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t, scenarioRanks, 1)
			userID := e.users[0].ID
			if tt.before != nil {
				tt.before.UserID = userID
				require.NoError(t, e.repo.SaveState(ctx, *tt.before))
			}

			out, err := e.svc.Adjust(ctx, points.Adjustment{UserID: userID, Delta: tt.delta, Reason: "test"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantPoints, out.Result.Points)
			assert.Equal(t, tt.wantRank, out.Result.State().RankID)
			assert.Equal(t, tt.wantReset, out.Result.PointsReset)
			assert.Equal(t, tt.wantEvent, out.Changed())

			prog, err := e.repo.GetState(ctx, userID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPoints, prog.Points)
			assert.Equal(t, tt.wantRank, prog.RankID)

			events, err := e.svc.History(ctx, points.EventFilter{UserID: userID})
			require.NoError(t, err)
			if tt.wantEvent {
				if assert.Len(t, events, 1) {
					assert.Equal(t, tt.delta, events[0].Delta)
					assert.Equal(t, "test", events[0].Reason)
					assert.Equal(t, tt.wantPoints, events[0].PointsAfter)
					assert.Equal(t, tt.wantRank, events[0].RankAfter)
				}
			} else {
				assert.Empty(t, events)
			}

			if tt.wantNotifed {
				assert.Equal(t, 1, e.notifier.count())
			} else {
				assert.Equal(t, 0, e.notifier.count())
			}
		})
	}
}

func TestAdjustInvalidInput(t *testing.T) {
	ctx := context.Background()

	t.Run("empty rank directory", func(t *testing.T) {
		e := setup(t, nil, 1)
		_, err := e.svc.Adjust(ctx, points.Adjustment{UserID: e.users[0].ID, Delta: 10, Reason: "test"})
		assert.Equal(t, rank.ErrInvalidInput, errors.Cause(err))
	})

	t.Run("unknown current rank", func(t *testing.T) {
		e := setup(t, scenarioRanks, 1)
		require.NoError(t, e.repo.SaveState(ctx, points.Progression{UserID: e.users[0].ID, Points: 10, RankID: "gone"}))
		_, err := e.svc.Adjust(ctx, points.Adjustment{UserID: e.users[0].ID, Delta: 10, Reason: "test"})
		assert.Equal(t, rank.ErrInvalidInput, errors.Cause(err))
	})
}

func TestAdjustRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()

	var failFor string
	e := setup(t, scenarioRanks, 1, func(repo points.Repository) points.Repository {
		return &failingRepo{Repository: repo, failFor: ""}
	})
	failFor = e.users[0].ID
	e.repo.(*failingRepo).failFor = failFor

	require.NoError(t, e.repo.SaveState(ctx, points.Progression{UserID: failFor, Points: 50, RankID: "A"}))
	_, err := e.svc.Adjust(ctx, points.Adjustment{UserID: failFor, Delta: 60, Reason: "test"})
	assert.Equal(t, points.ErrUpdateFailed, errors.Cause(err))

	prog, err := e.repo.GetState(ctx, failFor)
	require.NoError(t, err)
	assert.Equal(t, 50, prog.Points, "state must be rolled back")
	assert.Equal(t, "A", prog.RankID)
	assert.Equal(t, 0, e.notifier.count())
}

func TestSetRank(t *testing.T) {
	ctx := context.Background()
	ranks := append([]rank.Rank{{ID: "Ambassador", Name: "Ambassador", Order: 5, Threshold: 500, IsExempt: true}}, scenarioRanks...)

	tests := []struct {
		name       string
		before     *points.Progression
		rankID     string
		wantPoints int
		wantBefore string
		wantEvent  bool
	}{
		{name: "new participant onto exempt rank", rankID: "Ambassador", wantBefore: "A", wantEvent: true},
		{
			name: "keeps points", before: &points.Progression{Points: 60, RankID: "B"}, rankID: "Ambassador",
			wantPoints: 60, wantBefore: "B", wantEvent: true,
		},
		{
			name: "back from exempt rank", before: &points.Progression{Points: 10, RankID: "Ambassador"}, rankID: "B",
			wantPoints: 10, wantBefore: "Ambassador", wantEvent: true,
		},
		{
			name: "already on rank", before: &points.Progression{Points: 60, RankID: "B"}, rankID: "B",
			wantPoints: 60, wantBefore: "B",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t, ranks, 1)
			userID := e.users[0].ID
			if tt.before != nil {
				tt.before.UserID = userID
				require.NoError(t, e.repo.SaveState(ctx, *tt.before))
			}

			out, err := e.svc.SetRank(ctx, points.RankAssignment{UserID: userID, RankID: tt.rankID, Reason: "board decision", CreatedBy: "admin"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantEvent, out.Changed())
			assert.Equal(t, tt.wantEvent, out.Result.RankChanged)
			assert.Equal(t, tt.wantBefore, out.Before.RankID)
			assert.Equal(t, tt.rankID, out.Result.State().RankID)
			assert.Equal(t, tt.wantPoints, out.Result.Points)

			prog, err := e.repo.GetState(ctx, userID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPoints, prog.Points)
			assert.Equal(t, tt.rankID, prog.RankID)

			events, err := e.svc.History(ctx, points.EventFilter{UserID: userID})
			require.NoError(t, err)
			if tt.wantEvent {
				if assert.Len(t, events, 1) {
					assert.Zero(t, events[0].Delta)
					assert.Equal(t, tt.wantBefore, events[0].RankBefore)
					assert.Equal(t, tt.rankID, events[0].RankAfter)
					assert.Equal(t, tt.wantPoints, events[0].PointsAfter)
					assert.Equal(t, "admin", events[0].CreatedBy)
				}
				assert.Equal(t, 1, e.notifier.count())
			} else {
				assert.Empty(t, events)
				assert.Equal(t, 0, e.notifier.count())
			}
		})
	}

	t.Run("unknown rank", func(t *testing.T) {
		e := setup(t, ranks, 1)
		_, err := e.svc.SetRank(ctx, points.RankAssignment{UserID: e.users[0].ID, RankID: "gone", Reason: "test"})
		vErr, ok := errors.Cause(err).(*core.ValidationError)
		if assert.True(t, ok, "%v", err) && assert.Len(t, vErr.Fields, 1) {
			assert.Equal(t, "rank_id", vErr.Fields[0].Field)
		}
	})

	t.Run("upgrades resume above the exempt rank", func(t *testing.T) {
		e := setup(t, ranks, 1)
		userID := e.users[0].ID
		_, err := e.svc.SetRank(ctx, points.RankAssignment{UserID: userID, RankID: "Ambassador", Reason: "test"})
		require.NoError(t, err)

		out, err := e.svc.Adjust(ctx, points.Adjustment{UserID: userID, Delta: 450, Reason: "test"})
		require.NoError(t, err)
		assert.False(t, out.Result.RankChanged)
		assert.Equal(t, "Ambassador", out.Result.State().RankID)
		assert.Equal(t, 450, out.Result.Points)
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		e := setup(t, ranks, 1, func(repo points.Repository) points.Repository {
			return &failingRepo{Repository: repo}
		})
		userID := e.users[0].ID
		e.repo.(*failingRepo).failFor = userID
		require.NoError(t, e.repo.SaveState(ctx, points.Progression{UserID: userID, Points: 60, RankID: "B"}))

		_, err := e.svc.SetRank(ctx, points.RankAssignment{UserID: userID, RankID: "Ambassador", Reason: "test"})
		assert.Equal(t, points.ErrUpdateFailed, errors.Cause(err))

		prog, err := e.repo.GetState(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "B", prog.RankID)
		assert.Equal(t, 0, e.notifier.count())
	})
}

func TestAdjustMany(t *testing.T) {
	ctx := context.Background()

	e := setup(t, scenarioRanks, 3, func(repo points.Repository) points.Repository {
		return &failingRepo{Repository: repo}
	})
	e.repo.(*failingRepo).failFor = e.users[1].ID

	ids := []string{e.users[0].ID, e.users[1].ID, e.users[2].ID}
	results, err := e.svc.AdjustMany(ctx, points.BatchAdjustment{UserIDs: ids, Delta: 120, Reason: "event"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, ids[i], res.UserID)
		prog, err := e.repo.GetState(ctx, ids[i])
		require.NoError(t, err)

		if i == 1 {
			assert.False(t, res.OK())
			assert.Equal(t, points.ErrUpdateFailed, errors.Cause(res.Err))
			assert.Nil(t, res.Outcome)
			assert.Equal(t, 0, prog.Points)
			continue
		}
		assert.True(t, res.OK())
		if assert.NotNil(t, res.Outcome) {
			assert.Equal(t, "B", res.Outcome.Result.State().RankID)
		}
		assert.Equal(t, 120, prog.Points)
		assert.Equal(t, "B", prog.RankID)
	}
	assert.Equal(t, 2, e.notifier.count())
}

func TestAdjustConcurrentSameParticipant(t *testing.T) {
	ctx := context.Background()
	e := setup(t, []rank.Rank{
		{ID: "low", Name: "Low", Order: 0, Threshold: 0},
		{ID: "high", Name: "High", Order: 1, Threshold: 10000},
	}, 1)
	userID := e.users[0].ID

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Adjust(ctx, points.Adjustment{UserID: userID, Delta: 1, Reason: "tick"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	prog, err := e.repo.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, n, prog.Points)

	events, err := e.svc.History(ctx, points.EventFilter{UserID: userID, Limit: 200})
	require.NoError(t, err)
	assert.Len(t, events, n)
	for i, evt := range events {
		assert.Equal(t, evt.PointsBefore+1, evt.PointsAfter)
		if i > 0 {
			assert.Equal(t, events[i-1].PointsBefore, evt.PointsAfter, "events must chain")
		}
	}
}

func TestProgress(t *testing.T) {
	ctx := context.Background()
	e := setup(t, scenarioRanks, 2)

	require.NoError(t, e.repo.SaveState(ctx, points.Progression{UserID: e.users[0].ID, Points: 120, RankID: "B"}))

	prog, err := e.svc.Progress(ctx, e.users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 120, prog.Points)
	if assert.NotNil(t, prog.Rank) && assert.NotNil(t, prog.NextRank) {
		assert.Equal(t, "B", prog.Rank.ID)
		assert.Equal(t, "Parent", prog.NextRank.ID)
	}
	assert.Equal(t, 80, prog.PointsToNext)

	// never adjusted
	prog, err = e.svc.Progress(ctx, e.users[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, prog.Points)
	if assert.NotNil(t, prog.Rank) {
		assert.Equal(t, "A", prog.Rank.ID)
	}
	assert.Equal(t, 100, prog.PointsToNext)
}

func TestLeaderboard(t *testing.T) {
	ctx := context.Background()
	e := setup(t, scenarioRanks, 3)

	require.NoError(t, e.repo.SaveState(ctx, points.Progression{UserID: e.users[0].ID, Points: 120, RankID: "B"}))
	require.NoError(t, e.repo.SaveState(ctx, points.Progression{UserID: e.users[1].ID, Points: 10, RankID: "Parent*"}))
	require.NoError(t, e.repo.SaveState(ctx, points.Progression{UserID: e.users[2].ID, Points: 150, RankID: "B"}))

	standings, err := e.svc.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, standings, 3)
	assert.Equal(t, e.users[1].ID, standings[0].UserID)
	assert.Equal(t, e.users[2].ID, standings[1].UserID)
	assert.Equal(t, e.users[0].ID, standings[2].UserID)

	standings, err = e.svc.Leaderboard(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, standings, 1)
}
