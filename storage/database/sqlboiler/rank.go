package boiledrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/rank"
)

var rankColumns = []string{"id", "name", "order", "threshold", "is_parent", "is_exempt", "parent", "created_at", "updated_at"}

type rankRow struct {
	ID        string      `boil:"id"`
	Name      string      `boil:"name"`
	Order     int         `boil:"order"`
	Threshold int         `boil:"threshold"`
	IsParent  bool        `boil:"is_parent"`
	IsExempt  bool        `boil:"is_exempt"`
	Parent    null.String `boil:"parent"`
	CreatedAt time.Time   `boil:"created_at"`
	UpdatedAt time.Time   `boil:"updated_at"`
}

func (r rankRow) values() []interface{} {
	return []interface{}{r.ID, r.Name, r.Order, r.Threshold, r.IsParent, r.IsExempt, r.Parent, r.CreatedAt, r.UpdatedAt}
}

type rankRepository struct {
	exec core.DBExecutor
}

var _ rank.Repository = (*rankRepository)(nil) // interface compliance check

func NewRankRepository(exec core.DBExecutor) *rankRepository {
	return &rankRepository{exec: exec}
}

func (repo rankRepository) boil(r rank.Rank) rankRow {
	return rankRow{
		ID:        r.ID,
		Name:      r.Name,
		Order:     r.Order,
		Threshold: r.Threshold,
		IsParent:  r.IsParent,
		IsExempt:  r.IsExempt,
		Parent:    null.NewString(r.Parent, r.Parent != ""),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (repo rankRepository) unboil(row rankRow) rank.Rank {
	return rank.Rank{
		ID:        row.ID,
		Name:      row.Name,
		Order:     row.Order,
		Threshold: row.Threshold,
		IsParent:  row.IsParent,
		IsExempt:  row.IsExempt,
		Parent:    row.Parent.String,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

func (repo rankRepository) CheckUniqueness(ctx context.Context, name string, order int, excludedRanks []rank.Rank, exec ...core.DBExecutor) error {
	exe := getExec(repo.exec, exec)

	ids := make([]string, 0, len(excludedRanks))
	for _, r := range excludedRanks {
		ids = append(ids, r.ID)
	}

	check := func(where qm.QueryMod, errExists error) error {
		mods := []qm.QueryMod{qm.From(quote(tableRank)), where}
		if len(ids) > 0 {
			mods = append(mods, qm.WhereNotIn(`"id" NOT IN ?`, toInterfaces(ids)...))
		}
		found, err := exists(ctx, exe, mods...)
		if err != nil {
			return errors.Wrap(err, "checking rank uniqueness")
		}
		if found {
			return errExists
		}
		return nil
	}

	if err := check(qm.Where(`"name" = ?`, name), rank.ErrNameExists); err != nil {
		return err
	}
	return check(qm.Where(`"order" = ?`, order), rank.ErrOrderExists)
}

func (repo rankRepository) CreateRank(ctx context.Context, r rank.Rank, exec ...core.DBExecutor) (rank.Rank, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	row := repo.boil(r)
	if err := insert(ctx, getExec(repo.exec, exec), tableRank, rankColumns, row.values()...); err != nil {
		return rank.Rank{}, errors.Wrap(err, "inserting rank")
	}
	return repo.unboil(row), nil
}

func (repo rankRepository) QueryRanks(ctx context.Context, exec ...core.DBExecutor) ([]rank.Rank, error) {
	var rows []rankRow
	q := newQuery(qm.Select(quote(tableRank)+".*"), qm.From(quote(tableRank)), qm.OrderBy(`"order" ASC`))
	if err := q.Bind(ctx, getExec(repo.exec, exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying ranks")
	}

	ranks := make([]rank.Rank, 0, len(rows))
	for _, row := range rows {
		ranks = append(ranks, repo.unboil(row))
	}
	return ranks, nil
}

func (repo rankRepository) GetRank(ctx context.Context, id string, exec ...core.DBExecutor) (rank.Rank, error) {
	if _, err := uuid.Parse(id); err != nil {
		return rank.Rank{}, rank.ErrNotFound
	}

	var row rankRow
	q := newQuery(qm.Select(quote(tableRank)+".*"), qm.From(quote(tableRank)), qm.Where(`"id" = ?`, id))
	if err := q.Bind(ctx, getExec(repo.exec, exec), &row); err != nil {
		if isNoRows(err) {
			return rank.Rank{}, rank.ErrNotFound
		}
		return rank.Rank{}, errors.Wrap(err, "finding rank")
	}
	return repo.unboil(row), nil
}

func (repo rankRepository) UpdateRank(ctx context.Context, r rank.Rank, exec ...core.DBExecutor) (rank.Rank, error) {
	row := repo.boil(r)
	vals := append(row.values()[1:], row.ID)
	cnt, err := update(ctx, getExec(repo.exec, exec), tableRank, rankColumns[1:], []string{"id"}, vals...)
	if err != nil {
		return rank.Rank{}, errors.Wrap(err, "updating rank")
	}
	if cnt == 0 {
		return rank.Rank{}, rank.ErrNotFound
	}
	return repo.unboil(row), nil
}

func (repo rankRepository) DeleteRanksByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cnt, err := deleteAll(ctx, getExec(repo.exec, exec), qm.From(quote(tableRank)), qm.WhereIn(`"id" IN ?`, toInterfaces(ids)...))
	if err != nil {
		return 0, errors.Wrap(err, "deleting ranks")
	}
	return int(cnt), nil
}
