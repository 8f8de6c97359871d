package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/points"
)

type pointsRepository struct {
	db *DB
}

var (
	_ points.Repository        = (*pointsRepository)(nil)
	_ points.LeaderboardReader = (*pointsRepository)(nil)
)

// NewPointsRepository returns the progression repository. It also serves the leaderboard.
func NewPointsRepository(db *DB) *pointsRepository {
	return &pointsRepository{db: db}
}

func (repo *pointsRepository) GetStateForUpdate(ctx context.Context, userID string, exec ...core.DBExecutor) (points.Progression, error) {
	return repo.GetState(ctx, userID, exec...)
}

func (repo *pointsRepository) GetState(_ context.Context, userID string, _ ...core.DBExecutor) (points.Progression, error) {
	repo.db.progression.RLock()
	defer repo.db.progression.RUnlock()

	if p, ok := repo.db.progression.table[userID]; ok {
		return p, nil
	}
	return points.NewProgression(userID), nil
}

func (repo *pointsRepository) SaveState(_ context.Context, p points.Progression, _ ...core.DBExecutor) error {
	repo.db.progression.Lock()
	defer repo.db.progression.Unlock()

	repo.db.progression.table[p.UserID] = points.Progression{
		UserID:    p.UserID,
		Points:    p.Points,
		RankID:    p.RankID,
		UpdatedAt: p.UpdatedAt,
	}
	return nil
}

func (repo *pointsRepository) AppendEvent(_ context.Context, e points.Event, _ ...core.DBExecutor) error {
	repo.db.event.Lock()
	defer repo.db.event.Unlock()

	repo.db.event.rows = append(repo.db.event.rows, e)
	return nil
}

func (repo *pointsRepository) QueryEvents(_ context.Context, filter points.EventFilter, _ ...core.DBExecutor) ([]points.Event, error) {
	repo.db.event.RLock()
	defer repo.db.event.RUnlock()

	events := make([]points.Event, 0)
	// most recent first
	for i := len(repo.db.event.rows) - 1; i >= 0; i-- {
		e := repo.db.event.rows[i]
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.TaskID != "" && e.TaskID != filter.TaskID {
			continue
		}
		if !filter.From.IsZero() && e.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.CreatedAt.After(filter.To) {
			continue
		}
		events = append(events, e)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(events) {
			return []points.Event{}, nil
		}
		events = events[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(events) {
		events = events[:filter.Limit]
	}
	return events, nil
}

func (repo *pointsRepository) QueryStandings(_ context.Context, limit int) ([]points.Standing, error) {
	repo.db.progression.RLock()
	defer repo.db.progression.RUnlock()
	repo.db.user.RLock()
	defer repo.db.user.RUnlock()
	repo.db.rank.RLock()
	defer repo.db.rank.RUnlock()

	updated := make(map[string]int64, len(repo.db.progression.table))
	standings := make([]points.Standing, 0, len(repo.db.progression.table))
	for userID, p := range repo.db.progression.table {
		usr, ok := repo.db.user.table[userID]
		if !ok || !usr.Active() {
			continue
		}
		s := points.Standing{
			UserID:    userID,
			Name:      usr.Name,
			Username:  usr.Username,
			Points:    p.Points,
			RankOrder: -1,
		}
		if r, ok := repo.db.rank.table[p.RankID]; ok {
			s.RankID, s.RankName, s.RankOrder = r.ID, r.Name, r.Order
		}
		updated[userID] = p.UpdatedAt.UnixNano()
		standings = append(standings, s)
	}

	sort.Slice(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if a.RankOrder != b.RankOrder {
			return a.RankOrder > b.RankOrder
		}
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		return updated[a.UserID] < updated[b.UserID]
	})
	if limit > 0 && limit < len(standings) {
		standings = standings[:limit]
	}
	return standings, nil
}
