package boiledrepos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/points"
)

var eventColumns = []string{
	"id", "user_id", "delta", "reason", "task_id", "points_before", "points_after",
	"rank_before", "rank_after", "points_reset", "created_by", "created_at",
}

type progressionRow struct {
	UserID    string      `boil:"user_id"`
	Points    int         `boil:"points"`
	RankID    null.String `boil:"rank_id"`
	UpdatedAt time.Time   `boil:"updated_at"`
}

type eventRow struct {
	ID           string      `boil:"id"`
	UserID       string      `boil:"user_id"`
	Delta        int         `boil:"delta"`
	Reason       string      `boil:"reason"`
	TaskID       null.String `boil:"task_id"`
	PointsBefore int         `boil:"points_before"`
	PointsAfter  int         `boil:"points_after"`
	RankBefore   null.String `boil:"rank_before"`
	RankAfter    null.String `boil:"rank_after"`
	PointsReset  bool        `boil:"points_reset"`
	CreatedBy    null.String `boil:"created_by"`
	CreatedAt    time.Time   `boil:"created_at"`
}

type pointsRepository struct {
	exec core.DBExecutor
}

var _ points.Repository = (*pointsRepository)(nil) // interface compliance check

func NewPointsRepository(exec core.DBExecutor) *pointsRepository {
	return &pointsRepository{exec: exec}
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

func (repo pointsRepository) unboilProgression(row progressionRow) points.Progression {
	return points.Progression{
		UserID:    row.UserID,
		Points:    row.Points,
		RankID:    row.RankID.String,
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

func (repo pointsRepository) getState(ctx context.Context, exec core.DBExecutor, userID string, mods ...qm.QueryMod) (points.Progression, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return points.Progression{}, errors.Wrapf(err, "invalid user ID %q", userID)
	}

	mods = append([]qm.QueryMod{
		qm.Select(quote(tableProgression) + ".*"),
		qm.From(quote(tableProgression)),
		qm.Where(`"user_id" = ?`, userID),
	}, mods...)

	var row progressionRow
	if err := newQuery(mods...).Bind(ctx, exec, &row); err != nil {
		if isNoRows(err) {
			return points.NewProgression(userID), nil
		}
		return points.Progression{}, errors.Wrap(err, "finding progression")
	}
	return repo.unboilProgression(row), nil
}

// GetStateForUpdate creates the progression row when missing so that concurrent first adjustments
// of the same participant serialize on it.
func (repo pointsRepository) GetStateForUpdate(ctx context.Context, userID string, exec ...core.DBExecutor) (points.Progression, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return points.Progression{}, errors.Wrapf(err, "invalid user ID %q", userID)
	}
	exe := getExec(repo.exec, exec)

	q := fmt.Sprintf(
		`INSERT INTO %s ("user_id", "points", "updated_at") VALUES ($1, 0, $2) ON CONFLICT ("user_id") DO NOTHING`,
		quote(tableProgression))
	res, err := queries.Raw(q, userID, time.Now().UTC()).ExecContext(ctx, exe)
	if err != nil {
		return points.Progression{}, errors.Wrap(err, "initializing progression")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 1 {
		return points.NewProgression(userID), nil
	}
	return repo.getState(ctx, exe, userID, qm.For("UPDATE"))
}

func (repo pointsRepository) GetState(ctx context.Context, userID string, exec ...core.DBExecutor) (points.Progression, error) {
	return repo.getState(ctx, getExec(repo.exec, exec), userID)
}

func (repo pointsRepository) SaveState(ctx context.Context, p points.Progression, exec ...core.DBExecutor) error {
	q := fmt.Sprintf(
		`INSERT INTO %s ("user_id", "points", "rank_id", "updated_at") VALUES ($1, $2, $3, $4)
		ON CONFLICT ("user_id") DO UPDATE SET "points" = EXCLUDED."points", "rank_id" = EXCLUDED."rank_id", "updated_at" = EXCLUDED."updated_at"`,
		quote(tableProgression))
	_, err := queries.Raw(q, p.UserID, p.Points, nullString(p.RankID), p.UpdatedAt.UTC()).ExecContext(ctx, getExec(repo.exec, exec))
	return errors.Wrap(err, "saving progression")
}

func (repo pointsRepository) AppendEvent(ctx context.Context, e points.Event, exec ...core.DBExecutor) error {
	err := insert(ctx, getExec(repo.exec, exec), tableProgressionEvent, eventColumns,
		e.ID, e.UserID, e.Delta, e.Reason, nullString(e.TaskID), e.PointsBefore, e.PointsAfter,
		nullString(e.RankBefore), nullString(e.RankAfter), e.PointsReset, nullString(e.CreatedBy), e.CreatedAt.UTC())
	return errors.Wrap(err, "inserting progression event")
}

func (repo pointsRepository) QueryEvents(ctx context.Context, filter points.EventFilter, exec ...core.DBExecutor) ([]points.Event, error) {
	mods := []qm.QueryMod{
		qm.Select(quote(tableProgressionEvent) + ".*"),
		qm.From(quote(tableProgressionEvent)),
		qm.OrderBy(`"created_at" DESC, "id" DESC`),
	}
	if filter.UserID != "" {
		mods = append(mods, qm.Where(`"user_id" = ?`, filter.UserID))
	}
	if filter.TaskID != "" {
		mods = append(mods, qm.Where(`"task_id" = ?`, filter.TaskID))
	}
	if !filter.From.IsZero() {
		mods = append(mods, qm.Where(`"created_at" >= ?`, filter.From.UTC()))
	}
	if !filter.To.IsZero() {
		mods = append(mods, qm.Where(`"created_at" <= ?`, filter.To.UTC()))
	}
	if filter.Limit > 0 {
		mods = append(mods, qm.Limit(filter.Limit))
	}
	if filter.Offset > 0 {
		mods = append(mods, qm.Offset(filter.Offset))
	}

	var rows []eventRow
	if err := newQuery(mods...).Bind(ctx, getExec(repo.exec, exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying progression events")
	}

	events := make([]points.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, points.Event{
			ID:           row.ID,
			UserID:       row.UserID,
			Delta:        row.Delta,
			Reason:       row.Reason,
			TaskID:       row.TaskID.String,
			PointsBefore: row.PointsBefore,
			PointsAfter:  row.PointsAfter,
			RankBefore:   row.RankBefore.String,
			RankAfter:    row.RankAfter.String,
			PointsReset:  row.PointsReset,
			CreatedBy:    row.CreatedBy.String,
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return events, nil
}
