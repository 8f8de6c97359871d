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
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/task"
)

var (
	taskColumns       = []string{"id", "title", "description", "points", "penalty", "deadline", "created_by", "created_at", "updated_at"}
	assignmentColumns = []string{"task_id", "user_id", "status", "note", "submitted_at", "reviewed_at", "reviewed_by", "created_at", "updated_at", "penalty_due"}
)

type taskRow struct {
	ID          string      `boil:"id"`
	Title       string      `boil:"title"`
	Description string      `boil:"description"`
	Points      int         `boil:"points"`
	Penalty     int         `boil:"penalty"`
	Deadline    null.Time   `boil:"deadline"`
	CreatedBy   null.String `boil:"created_by"`
	CreatedAt   time.Time   `boil:"created_at"`
	UpdatedAt   time.Time   `boil:"updated_at"`
}

type assignmentRow struct {
	TaskID      string      `boil:"task_id"`
	UserID      string      `boil:"user_id"`
	Status      string      `boil:"status"`
	Note        string      `boil:"note"`
	SubmittedAt null.Time   `boil:"submitted_at"`
	ReviewedAt  null.Time   `boil:"reviewed_at"`
	ReviewedBy  null.String `boil:"reviewed_by"`
	CreatedAt   time.Time   `boil:"created_at"`
	UpdatedAt   time.Time   `boil:"updated_at"`
	PenaltyDue  bool        `boil:"penalty_due"`
}

func (r assignmentRow) values() []interface{} {
	return []interface{}{r.TaskID, r.UserID, r.Status, r.Note, r.SubmittedAt, r.ReviewedAt, r.ReviewedBy, r.CreatedAt, r.UpdatedAt, r.PenaltyDue}
}

type taskRepository struct {
	exec core.DBExecutor
}

var _ task.Repository = (*taskRepository)(nil) // interface compliance check

func NewTaskRepository(exec core.DBExecutor) *taskRepository {
	return &taskRepository{exec: exec}
}

func timePtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func (repo taskRepository) unboilTask(row taskRow) task.Task {
	return task.Task{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		Points:      row.Points,
		Penalty:     row.Penalty,
		Deadline:    timePtr(row.Deadline),
		CreatedBy:   row.CreatedBy.String,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}

func (repo taskRepository) boilAssignment(a task.Assignment) assignmentRow {
	return assignmentRow{
		TaskID:      a.TaskID,
		UserID:      a.UserID,
		Status:      a.Status,
		Note:        a.Note,
		SubmittedAt: null.TimeFromPtr(a.SubmittedAt),
		ReviewedAt:  null.TimeFromPtr(a.ReviewedAt),
		ReviewedBy:  nullString(a.ReviewedBy),
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
		PenaltyDue:  a.PenaltyDue,
	}
}

func (repo taskRepository) unboilAssignment(row assignmentRow) task.Assignment {
	return task.Assignment{
		TaskID:      row.TaskID,
		UserID:      row.UserID,
		Status:      row.Status,
		Note:        row.Note,
		SubmittedAt: timePtr(row.SubmittedAt),
		ReviewedAt:  timePtr(row.ReviewedAt),
		ReviewedBy:  row.ReviewedBy.String,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
		PenaltyDue:  row.PenaltyDue,
	}
}

func (repo taskRepository) unboilAssignments(rows []assignmentRow) []task.Assignment {
	as := make([]task.Assignment, 0, len(rows))
	for _, row := range rows {
		as = append(as, repo.unboilAssignment(row))
	}
	return as
}

func (repo taskRepository) CreateTask(ctx context.Context, t task.Task, exec ...core.DBExecutor) (task.Task, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	err := insert(ctx, getExec(repo.exec, exec), tableTask, taskColumns,
		t.ID, t.Title, t.Description, t.Points, t.Penalty, null.TimeFromPtr(t.Deadline), nullString(t.CreatedBy),
		t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		return task.Task{}, errors.Wrap(err, "inserting task")
	}
	return t, nil
}

func (repo taskRepository) QueryTasks(ctx context.Context, filter *task.QueryFilter, exec ...core.DBExecutor) ([]task.Task, error) {
	mods := []qm.QueryMod{
		qm.Select(quote(tableTask) + ".*"),
		qm.From(quote(tableTask)),
		qm.OrderBy(`"created_at" DESC`),
	}
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			mods = append(mods, qm.Expr(qm.Where(`"title" ILIKE ? OR "description" ILIKE ?`, val, val)))
		}
		if filter.CreatedBy != "" {
			mods = append(mods, qm.Where(`"created_by" = ?`, filter.CreatedBy))
		}
		if filter.Open {
			mods = append(mods, qm.Expr(qm.Where(`"deadline" IS NULL OR "deadline" >= ?`, time.Now().UTC())))
		}
	}

	var rows []taskRow
	if err := newQuery(mods...).Bind(ctx, getExec(repo.exec, exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying tasks")
	}
	tasks := make([]task.Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, repo.unboilTask(row))
	}
	return tasks, nil
}

func (repo taskRepository) GetTask(ctx context.Context, id string, exec ...core.DBExecutor) (task.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return task.Task{}, task.ErrNotFound
	}

	var row taskRow
	q := newQuery(qm.Select(quote(tableTask)+".*"), qm.From(quote(tableTask)), qm.Where(`"id" = ?`, id))
	if err := q.Bind(ctx, getExec(repo.exec, exec), &row); err != nil {
		if isNoRows(err) {
			return task.Task{}, task.ErrNotFound
		}
		return task.Task{}, errors.Wrap(err, "finding task")
	}
	return repo.unboilTask(row), nil
}

func (repo taskRepository) CreateAssignments(ctx context.Context, as []task.Assignment, exec ...core.DBExecutor) ([]task.Assignment, error) {
	if len(as) == 0 {
		return nil, nil
	}

	vals := make([]interface{}, 0, len(as)*len(assignmentColumns))
	for _, a := range as {
		vals = append(vals, repo.boilAssignment(a).values()...)
	}
	q := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES %s ON CONFLICT ("task_id", "user_id") DO NOTHING RETURNING *`,
		quote(tableTaskAssignment),
		quoteAll(assignmentColumns),
		strmangle.Placeholders(dialect.UseIndexPlaceholders, len(vals), 1, len(assignmentColumns)))

	var rows []assignmentRow
	if err := queries.Raw(q, vals...).Bind(ctx, getExec(repo.exec, exec), &rows); err != nil {
		return nil, errors.Wrap(err, "inserting task assignments")
	}
	return repo.unboilAssignments(rows), nil
}

func (repo taskRepository) GetAssignment(ctx context.Context, taskID, userID string, exec ...core.DBExecutor) (task.Assignment, error) {
	if _, err := uuid.Parse(taskID); err != nil {
		return task.Assignment{}, task.ErrAssignmentNotFound
	}
	if _, err := uuid.Parse(userID); err != nil {
		return task.Assignment{}, task.ErrAssignmentNotFound
	}

	var row assignmentRow
	q := newQuery(
		qm.Select(quote(tableTaskAssignment)+".*"),
		qm.From(quote(tableTaskAssignment)),
		qm.Where(`"task_id" = ? AND "user_id" = ?`, taskID, userID))
	if err := q.Bind(ctx, getExec(repo.exec, exec), &row); err != nil {
		if isNoRows(err) {
			return task.Assignment{}, task.ErrAssignmentNotFound
		}
		return task.Assignment{}, errors.Wrap(err, "finding task assignment")
	}
	return repo.unboilAssignment(row), nil
}

func (repo taskRepository) QueryAssignments(ctx context.Context, filter task.AssignmentFilter, exec ...core.DBExecutor) ([]task.Assignment, error) {
	mods := []qm.QueryMod{
		qm.Select(quote(tableTaskAssignment) + ".*"),
		qm.From(quote(tableTaskAssignment)),
		qm.OrderBy(`"created_at" ASC`),
	}
	if filter.TaskID != "" {
		mods = append(mods, qm.Where(`"task_id" = ?`, filter.TaskID))
	}
	if filter.UserID != "" {
		mods = append(mods, qm.Where(`"user_id" = ?`, filter.UserID))
	}
	if filter.Status != "" {
		mods = append(mods, qm.Where(`"status" = ?`, filter.Status))
	}

	var rows []assignmentRow
	if err := newQuery(mods...).Bind(ctx, getExec(repo.exec, exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying task assignments")
	}
	return repo.unboilAssignments(rows), nil
}

func (repo taskRepository) UpdateAssignment(ctx context.Context, a task.Assignment, fromStatus string, exec ...core.DBExecutor) (task.Assignment, error) {
	exe := getExec(repo.exec, exec)
	row := repo.boilAssignment(a)

	cols := assignmentColumns[2:]
	vals := append(row.values()[2:], row.TaskID, row.UserID, fromStatus)
	cnt, err := update(ctx, exe, tableTaskAssignment, cols, []string{"task_id", "user_id", "status"}, vals...)
	if err != nil {
		return task.Assignment{}, errors.Wrap(err, "updating task assignment")
	}
	if cnt == 0 {
		if _, err = repo.GetAssignment(ctx, a.TaskID, a.UserID, exe); err != nil {
			return task.Assignment{}, err
		}
		return task.Assignment{}, task.ErrStatusConflict
	}
	return repo.unboilAssignment(row), nil
}

func (repo taskRepository) QueryOverdueAssignments(ctx context.Context, now time.Time, exec ...core.DBExecutor) ([]task.Assignment, error) {
	mods := []qm.QueryMod{
		qm.Select(quote(tableTaskAssignment) + ".*"),
		qm.From(quote(tableTaskAssignment)),
		qm.InnerJoin(fmt.Sprintf("%s ON %s = %s", quote(tableTask), col(tableTask, "id"), col(tableTaskAssignment, "task_id"))),
		qm.Where(col(tableTaskAssignment, "status")+" = ?", task.StatusPending),
		qm.Where(col(tableTask, "deadline")+" < ?", now.UTC()),
		qm.OrderBy(col(tableTask, "deadline") + " ASC, " + col(tableTaskAssignment, "created_at") + " ASC"),
	}

	var rows []assignmentRow
	if err := newQuery(mods...).Bind(ctx, getExec(repo.exec, exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying overdue task assignments")
	}
	return repo.unboilAssignments(rows), nil
}

func (repo taskRepository) QueryDuePenalties(ctx context.Context, exec ...core.DBExecutor) ([]task.Assignment, error) {
	mods := []qm.QueryMod{
		qm.Select(quote(tableTaskAssignment) + ".*"),
		qm.From(quote(tableTaskAssignment)),
		qm.Where(`"status" = ? AND "penalty_due"`, task.StatusExpired),
		qm.OrderBy(`"task_id" ASC, "updated_at" ASC`),
	}

	var rows []assignmentRow
	if err := newQuery(mods...).Bind(ctx, getExec(repo.exec, exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying due penalties")
	}
	return repo.unboilAssignments(rows), nil
}
