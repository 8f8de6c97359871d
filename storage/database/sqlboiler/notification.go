package boiledrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/notification"
)

var notificationColumns = []string{"id", "user_id", "kind", "title", "body", "data", "is_read", "created_at"}

type notificationRow struct {
	ID        string    `boil:"id"`
	UserID    string    `boil:"user_id"`
	Kind      string    `boil:"kind"`
	Title     string    `boil:"title"`
	Body      string    `boil:"body"`
	Data      null.JSON `boil:"data"`
	IsRead    bool      `boil:"is_read"`
	CreatedAt time.Time `boil:"created_at"`
}

type notificationRepository struct {
	exec core.DBExecutor
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(exec core.DBExecutor) *notificationRepository {
	return &notificationRepository{exec: exec}
}

func (repo notificationRepository) CreateNotification(ctx context.Context, n notification.Notification, exec ...core.DBExecutor) (notification.Notification, error) {
	var data null.JSON
	if len(n.Data) > 0 {
		if err := data.Marshal(n.Data); err != nil {
			return notification.Notification{}, errors.Wrap(err, "encoding notification data")
		}
	}

	err := insert(ctx, getExec(repo.exec, exec), tableNotification, notificationColumns,
		n.ID, n.UserID, n.Kind, n.Title, n.Body, data, n.IsRead, n.CreatedAt.UTC())
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return n, nil
}

func (repo notificationRepository) QueryNotifications(ctx context.Context, filter notification.QueryFilter, exec ...core.DBExecutor) ([]notification.Notification, error) {
	mods := []qm.QueryMod{
		qm.Select(quote(tableNotification) + ".*"),
		qm.From(quote(tableNotification)),
		qm.Where(`"user_id" = ?`, filter.UserID),
		qm.OrderBy(`"created_at" DESC`),
	}
	if filter.UnreadOnly {
		mods = append(mods, qm.Where(`"is_read" = ?`, false))
	}
	if filter.Limit > 0 {
		mods = append(mods, qm.Limit(filter.Limit))
	}
	if filter.Offset > 0 {
		mods = append(mods, qm.Offset(filter.Offset))
	}

	var rows []notificationRow
	if err := newQuery(mods...).Bind(ctx, getExec(repo.exec, exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}

	notifs := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		n := notification.Notification{
			ID:        row.ID,
			UserID:    row.UserID,
			Kind:      row.Kind,
			Title:     row.Title,
			Body:      row.Body,
			IsRead:    row.IsRead,
			CreatedAt: row.CreatedAt.UTC(),
		}
		if row.Data.Valid {
			if err := row.Data.Unmarshal(&n.Data); err != nil {
				return nil, errors.Wrap(err, "decoding notification data")
			}
		}
		notifs = append(notifs, n)
	}
	return notifs, nil
}

func (repo notificationRepository) CountUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error) {
	cnt, err := count(ctx, getExec(repo.exec, exec),
		qm.From(quote(tableNotification)),
		qm.Where(`"user_id" = ?`, userID),
		qm.Where(`"is_read" = ?`, false))
	if err != nil {
		return 0, errors.Wrap(err, "counting unread notifications")
	}
	return int(cnt), nil
}

func (repo notificationRepository) MarkRead(ctx context.Context, userID string, ids []string, exec ...core.DBExecutor) (int, error) {
	mods := []qm.QueryMod{
		qm.Where(`"user_id" = ?`, userID),
		qm.Where(`"is_read" = ?`, false),
	}
	if len(ids) > 0 {
		mods = append(mods, qm.WhereIn(`"id" IN ?`, toInterfaces(ids)...))
	}

	mods = append([]qm.QueryMod{qm.From(quote(tableNotification))}, mods...)
	cnt, err := updateAll(ctx, getExec(repo.exec, exec), map[string]interface{}{"is_read": true}, mods...)
	if err != nil {
		return 0, errors.Wrap(err, "marking notifications as read")
	}
	return int(cnt), nil
}
