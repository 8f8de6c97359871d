package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/voluntas/core/points"
)

const standingsQuery = `
SELECT p."user_id",
       COALESCE(u."name", '')     AS "name",
       COALESCE(u."username", '') AS "username",
       p."points",
       COALESCE(r."id"::text, '') AS "rank_id",
       COALESCE(r."name", '')     AS "rank_name",
       COALESCE(r."order", -1)    AS "rank_order"
FROM "progression" p
         INNER JOIN "user" u ON u."id" = p."user_id"
         LEFT JOIN "rank" r ON r."id" = p."rank_id"
WHERE u."is_active"
ORDER BY "rank_order" DESC, p."points" DESC, p."updated_at" ASC
LIMIT $1`

type leaderboardRepository struct {
	db *sqlx.DB
}

var _ points.LeaderboardReader = (*leaderboardRepository)(nil) // interface compliance check

func NewLeaderboardRepository(db *sql.DB) *leaderboardRepository {
	return &leaderboardRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo leaderboardRepository) QueryStandings(ctx context.Context, limit int) ([]points.Standing, error) {
	standings := make([]points.Standing, 0, limit)
	if err := repo.db.SelectContext(ctx, &standings, standingsQuery, limit); err != nil {
		return nil, errors.Wrap(err, "querying standings")
	}
	return standings, nil
}
