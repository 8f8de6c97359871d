package boiledrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/volatiletech/sqlboiler/v4/drivers"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/voluntas/core"
)

// Table names
const (
	tableUser             = "user"
	tableRank             = "rank"
	tableProgression      = "progression"
	tableProgressionEvent = "progression_event"
	tableNotification     = "notification"
	tableTask             = "task"
	tableTaskAssignment   = "task_assignment"
)

var dialect = drivers.Dialect{
	LQ: 0x22,
	RQ: 0x22,

	UseIndexPlaceholders:    true,
	UseLastInsertID:         false,
	UseSchema:               false,
	UseDefaultKeyword:       true,
	UseAutoColumns:          false,
	UseTopClause:            false,
	UseOutputClause:         false,
	UseCaseWhenExistsClause: false,
}

// newQuery initializes a new Query using the passed in QueryMods
func newQuery(mods ...qm.QueryMod) *queries.Query {
	q := &queries.Query{}
	queries.SetDialect(q, &dialect)
	qm.Apply(q, mods...)
	return q
}

func quote(ident string) string {
	return strmangle.IdentQuote(dialect.LQ, dialect.RQ, ident)
}

func quoteAll(idents []string) string {
	return strings.Join(strmangle.IdentQuoteSlice(dialect.LQ, dialect.RQ, idents), ", ")
}

// col returns the quoted "table"."column" identifier.
func col(table, column string) string {
	return quote(table) + "." + quote(column)
}

// getExec returns the executor the service passed, or def.
func getExec(def core.DBExecutor, svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return def
}

func exists(ctx context.Context, exec core.DBExecutor, mods ...qm.QueryMod) (bool, error) {
	q := newQuery(mods...)
	queries.SetSelect(q, nil)
	queries.SetCount(q)
	queries.SetLimit(q, 1)

	var count int64
	if err := q.QueryRowContext(ctx, exec).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func count(ctx context.Context, exec core.DBExecutor, mods ...qm.QueryMod) (int64, error) {
	q := newQuery(mods...)
	queries.SetSelect(q, nil)
	queries.SetCount(q)

	var cnt int64
	err := q.QueryRowContext(ctx, exec).Scan(&cnt)
	return cnt, err
}

// insert inserts a single row. vals must follow cols.
func insert(ctx context.Context, exec core.DBExecutor, table string, cols []string, vals ...interface{}) error {
	q := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		quote(table), quoteAll(cols), strmangle.Placeholders(dialect.UseIndexPlaceholders, len(cols), 1, 1))
	_, err := queries.Raw(q, vals...).ExecContext(ctx, exec)
	return err
}

// update sets cols on the rows matching all whereCols. vals must follow cols then whereCols.
func update(ctx context.Context, exec core.DBExecutor, table string, cols, whereCols []string, vals ...interface{}) (int64, error) {
	q := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		quote(table),
		strmangle.SetParamNames(`"`, `"`, 1, cols),
		strmangle.WhereClause(`"`, `"`, len(cols)+1, whereCols))
	res, err := queries.Raw(q, vals...).ExecContext(ctx, exec)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// updateAll sets cols on the rows matched by mods.
func updateAll(ctx context.Context, exec core.DBExecutor, cols map[string]interface{}, mods ...qm.QueryMod) (int64, error) {
	q := newQuery(mods...)
	queries.SetUpdate(q, cols)
	res, err := q.ExecContext(ctx, exec)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// deleteAll deletes the rows matched by mods.
func deleteAll(ctx context.Context, exec core.DBExecutor, mods ...qm.QueryMod) (int64, error) {
	q := newQuery(mods...)
	queries.SetDelete(q)
	res, err := q.ExecContext(ctx, exec)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func orderBy(ordering []core.DBOrdering) qm.QueryMod {
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	return qm.OrderBy(strings.Join(orderList, ", "))
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}

func toInterfaces(ss []string) []interface{} {
	is := make([]interface{}, 0, len(ss))
	for _, s := range ss {
		is = append(is, s)
	}
	return is
}
