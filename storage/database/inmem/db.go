package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/notification"
	"github.com/trezcool/voluntas/core/points"
	"github.com/trezcool/voluntas/core/rank"
	"github.com/trezcool/voluntas/core/task"
	"github.com/trezcool/voluntas/core/user"
)

type (
	DB struct {
		txMu sync.Mutex

		user         *userTable
		rank         *rankTable
		progression  *progressionTable
		event        *eventTable
		notification *notificationTable
		task         *taskTable
		assignment   *assignmentTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]user.User
	}

	rankTable struct {
		sync.RWMutex
		table map[string]rank.Rank
	}

	progressionTable struct {
		sync.RWMutex
		table map[string]points.Progression
	}

	eventTable struct {
		sync.RWMutex
		rows []points.Event
	}

	notificationTable struct {
		sync.RWMutex
		rows []notification.Notification
	}

	taskTable struct {
		sync.RWMutex
		table map[string]task.Task
	}

	assignmentTable struct {
		sync.RWMutex
		rows []task.Assignment
	}
)

func Open() *DB {
	return &DB{
		user:         &userTable{table: make(map[string]user.User)},
		rank:         &rankTable{table: make(map[string]rank.Rank)},
		progression:  &progressionTable{table: make(map[string]points.Progression)},
		event:        &eventTable{},
		notification: &notificationTable{},
		task:         &taskTable{table: make(map[string]task.Task)},
		assignment:   &assignmentTable{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	cp := make(map[K]V, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func copySlice[V any](s []V) []V {
	return append(make([]V, 0, len(s)), s...)
}

// snapshot copies the tables touched by units of work and returns a func restoring them.
func (db *DB) snapshot() (restore func()) {
	db.progression.RLock()
	progs := copyMap(db.progression.table)
	db.progression.RUnlock()

	db.event.RLock()
	events := copySlice(db.event.rows)
	db.event.RUnlock()

	db.assignment.RLock()
	assignments := copySlice(db.assignment.rows)
	db.assignment.RUnlock()

	return func() {
		db.progression.Lock()
		db.progression.table = progs
		db.progression.Unlock()

		db.event.Lock()
		db.event.rows = events
		db.event.Unlock()

		db.assignment.Lock()
		db.assignment.rows = assignments
		db.assignment.Unlock()
	}
}

type txRunner struct {
	db *DB
}

var _ core.TxRunner = (*txRunner)(nil)

// NewTxRunner returns a core.TxRunner running one unit of work at a time.
// Changes made by a failed unit of work are discarded.
func NewTxRunner(db *DB) core.TxRunner {
	return &txRunner{db: db}
}

func (r *txRunner) InTx(ctx context.Context, fn func(exec core.DBExecutor) error) error {
	r.db.txMu.Lock()
	defer r.db.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	restore := r.db.snapshot()
	if err := fn(nil); err != nil {
		restore()
		return err
	}
	return nil
}
