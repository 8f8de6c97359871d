// Package points is the ledger writer of the progression engine: it loads a participant's state,
// runs the rank engine and persists the outcome together with an append-only Event.
package points

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/rank"
)

const defaultLeaderboardLimit = 50

var (
	// ErrUpdateFailed is returned when a point change could not be persisted. The change can be retried.
	ErrUpdateFailed = errors.New("update failed, retry")
)

type (
	Repository interface {
		// GetStateForUpdate locks and returns the progression of userID, or NewProgression(userID) when none exists.
		GetStateForUpdate(ctx context.Context, userID string, exec ...core.DBExecutor) (Progression, error)
		// GetState returns the progression of userID, or NewProgression(userID) when none exists.
		GetState(ctx context.Context, userID string, exec ...core.DBExecutor) (Progression, error)
		// SaveState inserts or updates the progression.
		SaveState(ctx context.Context, p Progression, exec ...core.DBExecutor) error
		AppendEvent(ctx context.Context, e Event, exec ...core.DBExecutor) error
		// QueryEvents returns events, most recent first.
		QueryEvents(ctx context.Context, filter EventFilter, exec ...core.DBExecutor) ([]Event, error)
	}

	// LeaderboardReader is the read model behind Service.Leaderboard.
	LeaderboardReader interface {
		// QueryStandings orders participants by rank order then points, both descending.
		QueryStandings(ctx context.Context, limit int) ([]Standing, error)
	}

	// RankDirectory loads the rank hierarchy. rank.Service implements it.
	RankDirectory interface {
		Directory(ctx context.Context, exec ...core.DBExecutor) (*rank.Directory, error)
	}

	// Notifier is told about every committed change.
	Notifier interface {
		ProgressChanged(ctx context.Context, out Outcome)
	}

	Service struct {
		repo     Repository
		board    LeaderboardReader
		ranks    RankDirectory
		tx       core.TxRunner
		notifier Notifier
		logger   core.Logger
	}
)

func NewService(repo Repository, board LeaderboardReader, ranks RankDirectory, tx core.TxRunner, notifier Notifier, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		board:    board,
		ranks:    ranks,
		tx:       tx,
		notifier: notifier,
		logger:   logger,
	}
}

// Adjust applies adj to a single participant.
// Loading, computing, persisting and recording the event happen in one transaction holding the participant's row lock.
// The notifier is called once the transaction is committed.
func (svc *Service) Adjust(ctx context.Context, adj Adjustment) (Outcome, error) {
	dir, err := svc.directory(ctx)
	if err != nil {
		return Outcome{}, err
	}
	out, err := svc.adjust(ctx, dir, adj)
	if err != nil {
		return Outcome{}, err
	}
	svc.notify(ctx, out)
	return out, nil
}

// AdjustMany applies ba to every participant, each in their own transaction.
// A failure is reported in the participant's BatchResult and does not affect the others.
func (svc *Service) AdjustMany(ctx context.Context, ba BatchAdjustment) ([]BatchResult, error) {
	dir, err := svc.directory(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, 0, len(ba.UserIDs))
	for _, userID := range ba.UserIDs {
		if err = ctx.Err(); err != nil {
			results = append(results, BatchResult{UserID: userID, Err: errors.Wrap(err, "batch interrupted")})
			continue
		}
		out, err := svc.adjust(ctx, dir, ba.adjustment(userID))
		if err != nil {
			svc.logger.Warn("batch adjustment failed", err, map[string]interface{}{"user_id": userID})
			results = append(results, BatchResult{UserID: userID, Err: err})
			continue
		}
		svc.notify(ctx, out)
		results = append(results, BatchResult{UserID: userID, Outcome: &out})
	}
	return results, nil
}

func (svc *Service) directory(ctx context.Context) (*rank.Directory, error) {
	dir, err := svc.ranks.Directory(ctx)
	if err != nil {
		if errors.Cause(err) == rank.ErrInvalidInput {
			return nil, err
		}
		return nil, errors.Wrapf(ErrUpdateFailed, "loading rank directory: %v", err)
	}
	return dir, nil
}

func (svc *Service) adjust(ctx context.Context, dir *rank.Directory, adj Adjustment) (Outcome, error) {
	var out Outcome

	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		prog, err := svc.repo.GetStateForUpdate(ctx, adj.UserID, execs(exec)...)
		if err != nil {
			return errors.Wrap(err, "loading progression")
		}
		if prog.IsNew() {
			// participants enter the hierarchy on its lowest rank
			prog.RankID = dir.Lowest().ID
		}

		before := prog.State()
		res, err := rank.Apply(dir, before, adj.Delta)
		if err != nil {
			return err
		}

		out = Outcome{UserID: adj.UserID, Before: before, Result: res, Adjustment: adj}
		if before.RankID != "" {
			if prev, ok := dir.Get(before.RankID); ok {
				out.PrevRank = &prev
			}
		}

		after := res.State()
		if after == before && !prog.IsNew() {
			return nil
		}

		now := time.Now().UTC()
		prog.Points, prog.RankID, prog.UpdatedAt = after.Points, after.RankID, now
		if err = svc.repo.SaveState(ctx, prog, execs(exec)...); err != nil {
			return errors.Wrap(err, "saving progression")
		}
		if after == before {
			return nil
		}

		evt := Event{
			ID:           uuid.New().String(),
			UserID:       adj.UserID,
			Delta:        adj.Delta,
			Reason:       adj.Reason,
			TaskID:       adj.TaskID,
			PointsBefore: before.Points,
			PointsAfter:  after.Points,
			RankBefore:   before.RankID,
			RankAfter:    after.RankID,
			PointsReset:  res.PointsReset,
			CreatedBy:    adj.CreatedBy,
			CreatedAt:    now,
		}
		if err = svc.repo.AppendEvent(ctx, evt, execs(exec)...); err != nil {
			return errors.Wrap(err, "appending event")
		}
		out.Event = &evt
		return nil
	})

	if err != nil {
		if errors.Cause(err) == rank.ErrInvalidInput {
			return Outcome{}, err
		}
		return Outcome{}, errors.Wrapf(ErrUpdateFailed, "adjusting points of %s: %v", adj.UserID, err)
	}
	return out, nil
}

// SetRank moves ra.UserID onto ra.RankID without going through the rank engine, points are kept.
// It runs in one transaction like Adjust and records an Event with a zero delta.
func (svc *Service) SetRank(ctx context.Context, ra RankAssignment) (Outcome, error) {
	dir, err := svc.directory(ctx)
	if err != nil {
		return Outcome{}, err
	}
	target, ok := dir.Get(ra.RankID)
	if !ok {
		return Outcome{}, core.NewFieldError("rank_id", rank.ErrNotFound)
	}

	adj := Adjustment{UserID: ra.UserID, Reason: ra.Reason, CreatedBy: ra.CreatedBy}
	var out Outcome

	err = svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		prog, err := svc.repo.GetStateForUpdate(ctx, ra.UserID, execs(exec)...)
		if err != nil {
			return errors.Wrap(err, "loading progression")
		}
		if prog.IsNew() {
			prog.RankID = dir.Lowest().ID
		}

		before := prog.State()
		out = Outcome{
			UserID:     ra.UserID,
			Before:     before,
			Result:     rank.Result{Points: before.Points, Rank: &target, RankChanged: before.RankID != target.ID},
			Adjustment: adj,
		}
		if prev, ok := dir.Get(before.RankID); ok {
			out.PrevRank = &prev
		}
		if !out.Result.RankChanged {
			return nil
		}

		now := time.Now().UTC()
		prog.RankID, prog.UpdatedAt = target.ID, now
		if err = svc.repo.SaveState(ctx, prog, execs(exec)...); err != nil {
			return errors.Wrap(err, "saving progression")
		}

		evt := Event{
			ID:           uuid.New().String(),
			UserID:       ra.UserID,
			Reason:       ra.Reason,
			PointsBefore: before.Points,
			PointsAfter:  before.Points,
			RankBefore:   before.RankID,
			RankAfter:    target.ID,
			CreatedBy:    ra.CreatedBy,
			CreatedAt:    now,
		}
		if err = svc.repo.AppendEvent(ctx, evt, execs(exec)...); err != nil {
			return errors.Wrap(err, "appending event")
		}
		out.Event = &evt
		return nil
	})
	if err != nil {
		return Outcome{}, errors.Wrapf(ErrUpdateFailed, "setting rank of %s: %v", ra.UserID, err)
	}
	svc.notify(ctx, out)
	return out, nil
}

func (svc *Service) notify(ctx context.Context, out Outcome) {
	if svc.notifier == nil || !out.Changed() {
		return
	}
	svc.notifier.ProgressChanged(ctx, out)
}

// Progress returns the current standing of userID.
func (svc *Service) Progress(ctx context.Context, userID string) (Progress, error) {
	dir, err := svc.ranks.Directory(ctx)
	if err != nil {
		return Progress{}, errors.Wrap(err, "loading rank directory")
	}
	prog, err := svc.repo.GetState(ctx, userID)
	if err != nil {
		return Progress{}, errors.Wrap(err, "loading progression")
	}
	if prog.IsNew() {
		prog.RankID = dir.Lowest().ID
	}

	p := Progress{UserID: userID, Points: prog.Points}
	if r, ok := dir.Get(prog.RankID); ok {
		p.Rank = &r
	}
	if next, ok := dir.NextUpgrade(prog.RankID); ok {
		p.NextRank = next
		if next.Threshold > prog.Points {
			p.PointsToNext = next.Threshold - prog.Points
		}
	}
	return p, nil
}

// History lists the ledger entries matching filter, most recent first.
func (svc *Service) History(ctx context.Context, filter EventFilter) ([]Event, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return svc.repo.QueryEvents(ctx, filter)
}

func (svc *Service) Leaderboard(ctx context.Context, limit int) ([]Standing, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultLeaderboardLimit
	}
	return svc.board.QueryStandings(ctx, limit)
}

// execs forwards the transaction executor; a nil executor lets the repository use its default.
func execs(exec core.DBExecutor) []core.DBExecutor {
	if exec == nil {
		return nil
	}
	return []core.DBExecutor{exec}
}
