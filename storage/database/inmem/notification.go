package inmemdb

import (
	"context"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/notification"
)

type notificationRepository struct {
	db *notificationTable
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *DB) *notificationRepository {
	return &notificationRepository{db: db.notification}
}

func (repo *notificationRepository) CreateNotification(_ context.Context, n notification.Notification, _ ...core.DBExecutor) (notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.rows = append(repo.db.rows, n)
	return n, nil
}

func (repo *notificationRepository) QueryNotifications(_ context.Context, filter notification.QueryFilter, _ ...core.DBExecutor) ([]notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	notifs := make([]notification.Notification, 0)
	for i := len(repo.db.rows) - 1; i >= 0; i-- {
		n := repo.db.rows[i]
		if n.UserID != filter.UserID || (filter.UnreadOnly && n.IsRead) {
			continue
		}
		notifs = append(notifs, n)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(notifs) {
			return []notification.Notification{}, nil
		}
		notifs = notifs[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(notifs) {
		notifs = notifs[:filter.Limit]
	}
	return notifs, nil
}

func (repo *notificationRepository) CountUnread(_ context.Context, userID string, _ ...core.DBExecutor) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var cnt int
	for _, n := range repo.db.rows {
		if n.UserID == userID && !n.IsRead {
			cnt++
		}
	}
	return cnt, nil
}

func (repo *notificationRepository) MarkRead(_ context.Context, userID string, ids []string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var cnt int
	for i, n := range repo.db.rows {
		if n.UserID != userID || n.IsRead {
			continue
		}
		if len(ids) > 0 && !wanted[n.ID] {
			continue
		}
		repo.db.rows[i].IsRead = true
		cnt++
	}
	return cnt, nil
}
