package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/rank"
)

type rankRepository struct {
	db    *rankTable
	progs *progressionTable
}

var _ rank.Repository = (*rankRepository)(nil)

func NewRankRepository(db *DB) *rankRepository {
	return &rankRepository{db: db.rank, progs: db.progression}
}

func (repo *rankRepository) query() []rank.Rank {
	ranks := make([]rank.Rank, 0, len(repo.db.table))
	for _, r := range repo.db.table {
		ranks = append(ranks, r)
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i].Order < ranks[j].Order })
	return ranks
}

func (repo *rankRepository) CheckUniqueness(_ context.Context, name string, order int, excludedRanks []rank.Rank, _ ...core.DBExecutor) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

outer:
	for _, r := range repo.query() {
		for _, excl := range excludedRanks {
			if excl.ID == r.ID {
				continue outer
			}
		}
		if r.Name == name {
			return rank.ErrNameExists
		}
		if r.Order == order {
			return rank.ErrOrderExists
		}
	}
	return nil
}

func (repo *rankRepository) CreateRank(_ context.Context, r rank.Rank, _ ...core.DBExecutor) (rank.Rank, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	repo.db.table[r.ID] = r
	return r, nil
}

func (repo *rankRepository) QueryRanks(_ context.Context, _ ...core.DBExecutor) ([]rank.Rank, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.query(), nil
}

func (repo *rankRepository) GetRank(_ context.Context, id string, _ ...core.DBExecutor) (rank.Rank, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if r, ok := repo.db.table[id]; ok {
		return r, nil
	}
	return rank.Rank{}, rank.ErrNotFound
}

func (repo *rankRepository) UpdateRank(_ context.Context, r rank.Rank, _ ...core.DBExecutor) (rank.Rank, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[r.ID]; !ok {
		return rank.Rank{}, rank.ErrNotFound
	}
	repo.db.table[r.ID] = r
	return r, nil
}

func (repo *rankRepository) DeleteRanksByID(_ context.Context, ids []string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var cnt int
	deleted := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := repo.db.table[id]; ok {
			delete(repo.db.table, id)
			deleted[id] = true
			cnt++
		}
	}

	// progressions holding a deleted rank fall back to no rank
	repo.progs.Lock()
	defer repo.progs.Unlock()
	for userID, p := range repo.progs.table {
		if deleted[p.RankID] {
			p.RankID = ""
			repo.progs.table[userID] = p
		}
	}
	return cnt, nil
}
