// Package notification stores user-facing alerts and pushes them to the user's real-time channel.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/points"
	"github.com/trezcool/voluntas/core/user"
)

var ErrNotFound = errors.New("notification not found")

type (
	Repository interface {
		CreateNotification(ctx context.Context, n Notification, exec ...core.DBExecutor) (Notification, error)
		// QueryNotifications returns the notifications of filter.UserID, most recent first.
		QueryNotifications(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Notification, error)
		CountUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error)
		// MarkRead marks the given notifications of userID as read; an empty ids marks them all.
		MarkRead(ctx context.Context, userID string, ids []string, exec ...core.DBExecutor) (int, error)
	}

	// Publisher pushes payloads to subscribers of a channel.
	Publisher interface {
		Publish(ctx context.Context, channel string, payload []byte) error
	}

	// UserFinder resolves the recipient of email alerts.
	UserFinder interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service struct {
		repo      Repository
		publisher Publisher
		users     UserFinder
		mailSvc   core.EmailService
		logger    core.Logger
	}
)

var _ points.Notifier = (*Service)(nil)

func NewService(repo Repository, publisher Publisher, users UserFinder, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		users:     users,
		mailSvc:   mailSvc,
		logger:    logger,
	}
}

// Channel is the real-time channel of userID.
func Channel(userID string) string {
	return "notifications:" + userID
}

// Send stores the notification and publishes it. Publish failures are logged, not returned.
func (svc *Service) Send(ctx context.Context, nn NewNotification) (Notification, error) {
	n := Notification{
		ID:        uuid.New().String(),
		UserID:    nn.UserID,
		Kind:      nn.Kind,
		Title:     nn.Title,
		Body:      nn.Body,
		Data:      nn.Data,
		CreatedAt: time.Now().UTC(),
	}
	n, err := svc.repo.CreateNotification(ctx, n)
	if err != nil {
		return Notification{}, errors.Wrap(err, "creating notification")
	}

	if svc.publisher != nil {
		payload, err := json.Marshal(n)
		if err == nil {
			err = svc.publisher.Publish(ctx, Channel(n.UserID), payload)
		}
		if err != nil {
			svc.logger.Error("publishing notification", err, map[string]interface{}{"notification_id": n.ID})
		}
	}
	return n, nil
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Notification, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return svc.repo.QueryNotifications(ctx, filter)
}

func (svc *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return svc.repo.CountUnread(ctx, userID)
}

func (svc *Service) MarkRead(ctx context.Context, userID string, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return svc.repo.MarkRead(ctx, userID, ids)
}

func (svc *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return svc.repo.MarkRead(ctx, userID, nil)
}

// ProgressChanged alerts the participant about a committed point change.
// A rank change gets its own kind; other changes are reported as points changes.
func (svc *Service) ProgressChanged(ctx context.Context, out points.Outcome) {
	nn := NewNotification{
		UserID: out.UserID,
		Data: map[string]interface{}{
			"delta":  out.Adjustment.Delta,
			"reason": out.Adjustment.Reason,
			"points": out.Result.Points,
		},
	}
	if out.Adjustment.TaskID != "" {
		nn.Data["task_id"] = out.Adjustment.TaskID
	}

	if out.Result.RankChanged && out.Result.Rank != nil {
		oldName := ""
		if out.PrevRank != nil {
			oldName = out.PrevRank.Name
			nn.Data["old_rank"] = oldName
		}
		nn.Kind = KindRankChanged
		nn.Data["new_rank"] = out.Result.Rank.Name
		if out.Result.PointsReset {
			nn.Data["points_reset"] = true
		}
		if out.PrevRank != nil && out.PrevRank.Order > out.Result.Rank.Order {
			nn.Title = "Rank lost"
			nn.Body = fmt.Sprintf("You went from %s back to %s.", oldName, out.Result.Rank.Name)
		} else {
			nn.Title = "New rank"
			nn.Body = fmt.Sprintf("Congratulations! You are now %s.", out.Result.Rank.Name)
		}
	} else {
		nn.Kind = KindPointsChanged
		if out.Adjustment.Delta < 0 {
			nn.Title = "Points deducted"
			nn.Body = fmt.Sprintf("%d points were deducted: %s", -out.Adjustment.Delta, out.Adjustment.Reason)
		} else {
			nn.Title = "Points earned"
			nn.Body = fmt.Sprintf("You earned %d points: %s", out.Adjustment.Delta, out.Adjustment.Reason)
		}
	}

	if _, err := svc.Send(ctx, nn); err != nil {
		svc.logger.Error("notifying progress change", err, map[string]interface{}{"user_id": out.UserID})
	}
	if nn.Kind == KindRankChanged {
		svc.mailRankChange(ctx, nn, out.Result.Points)
	}
}

// mailRankChange emails the rank change to the participant when they have an email address.
func (svc *Service) mailRankChange(ctx context.Context, nn NewNotification, pts int) {
	if svc.users == nil || svc.mailSvc == nil {
		return
	}
	usr, err := svc.users.GetByID(ctx, nn.UserID)
	if err != nil {
		svc.logger.Warn("getting rank change recipient", err, map[string]interface{}{"user_id": nn.UserID})
		return
	}
	if usr.Email == "" || !usr.Active() {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      nn.Title,
		TemplateName: "rank_changed",
		TemplateData: map[string]interface{}{
			"Name":   usr.Name,
			"Body":   nn.Body,
			"Points": pts,
		},
	})
}
