package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/task"
)

type taskRepository struct {
	tasks       *taskTable
	assignments *assignmentTable
}

var _ task.Repository = (*taskRepository)(nil)

func NewTaskRepository(db *DB) *taskRepository {
	return &taskRepository{tasks: db.task, assignments: db.assignment}
}

func (repo *taskRepository) CreateTask(_ context.Context, t task.Task, _ ...core.DBExecutor) (task.Task, error) {
	repo.tasks.Lock()
	defer repo.tasks.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	repo.tasks.table[t.ID] = t
	return t, nil
}

func (repo *taskRepository) QueryTasks(_ context.Context, filter *task.QueryFilter, _ ...core.DBExecutor) ([]task.Task, error) {
	repo.tasks.RLock()
	defer repo.tasks.RUnlock()

	now := time.Now()
	tasks := make([]task.Task, 0, len(repo.tasks.table))
	for _, t := range repo.tasks.table {
		if filter != nil {
			if s := strings.ToLower(filter.Search); s != "" &&
				!strings.Contains(strings.ToLower(t.Title), s) &&
				!strings.Contains(strings.ToLower(t.Description), s) {
				continue
			}
			if filter.CreatedBy != "" && t.CreatedBy != filter.CreatedBy {
				continue
			}
			if filter.Open && t.Overdue(now) {
				continue
			}
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks, nil
}

func (repo *taskRepository) GetTask(_ context.Context, id string, _ ...core.DBExecutor) (task.Task, error) {
	repo.tasks.RLock()
	defer repo.tasks.RUnlock()

	if t, ok := repo.tasks.table[id]; ok {
		return t, nil
	}
	return task.Task{}, task.ErrNotFound
}

func (repo *taskRepository) find(taskID, userID string) int {
	for i, a := range repo.assignments.rows {
		if a.TaskID == taskID && a.UserID == userID {
			return i
		}
	}
	return -1
}

func (repo *taskRepository) CreateAssignments(_ context.Context, as []task.Assignment, _ ...core.DBExecutor) ([]task.Assignment, error) {
	repo.assignments.Lock()
	defer repo.assignments.Unlock()

	created := make([]task.Assignment, 0, len(as))
	for _, a := range as {
		if repo.find(a.TaskID, a.UserID) >= 0 {
			continue
		}
		repo.assignments.rows = append(repo.assignments.rows, a)
		created = append(created, a)
	}
	return created, nil
}

func (repo *taskRepository) GetAssignment(_ context.Context, taskID, userID string, _ ...core.DBExecutor) (task.Assignment, error) {
	repo.assignments.RLock()
	defer repo.assignments.RUnlock()

	if i := repo.find(taskID, userID); i >= 0 {
		return repo.assignments.rows[i], nil
	}
	return task.Assignment{}, task.ErrAssignmentNotFound
}

func (repo *taskRepository) QueryAssignments(_ context.Context, filter task.AssignmentFilter, _ ...core.DBExecutor) ([]task.Assignment, error) {
	repo.assignments.RLock()
	defer repo.assignments.RUnlock()

	as := make([]task.Assignment, 0)
	for _, a := range repo.assignments.rows {
		if filter.TaskID != "" && a.TaskID != filter.TaskID {
			continue
		}
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		as = append(as, a)
	}
	return as, nil
}

func (repo *taskRepository) UpdateAssignment(_ context.Context, a task.Assignment, fromStatus string, _ ...core.DBExecutor) (task.Assignment, error) {
	repo.assignments.Lock()
	defer repo.assignments.Unlock()

	i := repo.find(a.TaskID, a.UserID)
	if i < 0 {
		return task.Assignment{}, task.ErrAssignmentNotFound
	}
	if repo.assignments.rows[i].Status != fromStatus {
		return task.Assignment{}, task.ErrStatusConflict
	}
	repo.assignments.rows[i] = a
	return a, nil
}

func (repo *taskRepository) QueryOverdueAssignments(_ context.Context, now time.Time, _ ...core.DBExecutor) ([]task.Assignment, error) {
	repo.tasks.RLock()
	defer repo.tasks.RUnlock()
	repo.assignments.RLock()
	defer repo.assignments.RUnlock()

	as := make([]task.Assignment, 0)
	for _, a := range repo.assignments.rows {
		if a.Status != task.StatusPending {
			continue
		}
		if t, ok := repo.tasks.table[a.TaskID]; ok && t.Overdue(now) {
			as = append(as, a)
		}
	}
	return as, nil
}

func (repo *taskRepository) QueryDuePenalties(_ context.Context, _ ...core.DBExecutor) ([]task.Assignment, error) {
	repo.assignments.RLock()
	defer repo.assignments.RUnlock()

	as := make([]task.Assignment, 0)
	for _, a := range repo.assignments.rows {
		if a.Status == task.StatusExpired && a.PenaltyDue {
			as = append(as, a)
		}
	}
	return as, nil
}
