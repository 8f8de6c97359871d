package notification_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/notification"
	"github.com/trezcool/voluntas/core/points"
	"github.com/trezcool/voluntas/core/rank"
	"github.com/trezcool/voluntas/core/user"
	appfs "github.com/trezcool/voluntas/fs"
	"github.com/trezcool/voluntas/services/email"
	"github.com/trezcool/voluntas/services/pubsub"
	"github.com/trezcool/voluntas/storage/database/inmem"
	testutil "github.com/trezcool/voluntas/tests"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func setup(t *testing.T, publisher notification.Publisher) (*notification.Service, user.Repository) {
	t.Helper()

	conf := core.NewTestConfig()
	logger := testutil.NewLogger()
	require.NoError(t, core.ParseEmailTemplates(conf, appfs.FS, logger))
	emailsvc.ClearSentMessages()

	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	svc := notification.NewService(
		inmemdb.NewNotificationRepository(db),
		publisher,
		user.NewService(usrRepo, nil, conf),
		emailsvc.NewConsoleServiceMock(conf, logger),
		logger,
	)
	return svc, usrRepo
}

func TestService_SendAndRead(t *testing.T) {
	pub := pubsub.NewConsolePublisher(nil)
	svc, _ := setup(t, pub)
	ctx := context.Background()

	n1, err := svc.Send(ctx, notification.NewNotification{UserID: "u1", Kind: notification.KindTaskAssigned, Title: "New task"})
	require.NoError(t, err)
	n2, err := svc.Send(ctx, notification.NewNotification{UserID: "u1", Kind: notification.KindPointsChanged, Title: "Points earned"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, notification.NewNotification{UserID: "u2", Kind: notification.KindPointsChanged, Title: "Points earned"})
	require.NoError(t, err)

	assert.NotEmpty(t, n1.ID)
	assert.False(t, n1.IsRead)

	msgs := pub.Messages(notification.Channel("u1"))
	require.Len(t, msgs, 2)
	var published notification.Notification
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &published))
	assert.Equal(t, n1.ID, published.ID)
	assert.Equal(t, notification.KindTaskAssigned, published.Kind)

	notifs, err := svc.Query(ctx, notification.QueryFilter{UserID: "u1"})
	require.NoError(t, err)
	if assert.Len(t, notifs, 2) {
		assert.Equal(t, n2.ID, notifs[0].ID) // most recent first
	}

	cnt, err := svc.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, cnt)

	marked, err := svc.MarkRead(ctx, "u1", n1.ID, "unknown")
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	marked, err = svc.MarkRead(ctx, "u2", n2.ID) // not theirs
	require.NoError(t, err)
	assert.Equal(t, 0, marked)

	marked, err = svc.MarkRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, marked)

	unread, err := svc.Query(ctx, notification.QueryFilter{UserID: "u1", UnreadOnly: true})
	require.NoError(t, err)
	if assert.Len(t, unread, 1) {
		assert.Equal(t, n2.ID, unread[0].ID)
	}

	marked, err = svc.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	cnt, err = svc.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, cnt)

	cnt, err = svc.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, cnt)
}

func TestService_SendPublishFailure(t *testing.T) {
	svc, _ := setup(t, failingPublisher{})
	ctx := context.Background()

	n, err := svc.Send(ctx, notification.NewNotification{UserID: "u1", Kind: notification.KindTaskExpired, Title: "Task expired"})
	require.NoError(t, err)

	notifs, err := svc.Query(ctx, notification.QueryFilter{UserID: "u1"})
	require.NoError(t, err)
	if assert.Len(t, notifs, 1) {
		assert.Equal(t, n.ID, notifs[0].ID)
	}
}

func TestService_ProgressChanged(t *testing.T) {
	recruit := rank.Rank{ID: "r0", Name: "Recruit"}
	member := rank.Rank{ID: "r1", Name: "Member", Order: 1, Threshold: 100}

	tests := []struct {
		name      string
		out       func(usr user.User) points.Outcome
		wantKind  string
		wantTitle string
		wantData  map[string]interface{}
		wantMail  bool
	}{
		{
			name: "promotion",
			out: func(usr user.User) points.Outcome {
				return points.Outcome{
					UserID:     usr.ID,
					Result:     rank.Result{Points: 120, Rank: &member, RankChanged: true},
					PrevRank:   &recruit,
					Event:      &points.Event{},
					Adjustment: points.Adjustment{UserID: usr.ID, Delta: 60, Reason: "event"},
				}
			},
			wantKind:  notification.KindRankChanged,
			wantTitle: "New rank",
			wantData: map[string]interface{}{
				"delta": float64(60), "reason": "event", "points": float64(120), "old_rank": "Recruit", "new_rank": "Member",
			},
			wantMail: true,
		},
		{
			name: "demotion",
			out: func(usr user.User) points.Outcome {
				return points.Outcome{
					UserID:     usr.ID,
					Result:     rank.Result{Points: 0, Rank: &recruit, RankChanged: true},
					PrevRank:   &member,
					Event:      &points.Event{},
					Adjustment: points.Adjustment{UserID: usr.ID, Delta: -5, Reason: "missed meeting", TaskID: "t1"},
				}
			},
			wantKind:  notification.KindRankChanged,
			wantTitle: "Rank lost",
			wantData: map[string]interface{}{
				"delta": float64(-5), "reason": "missed meeting", "points": float64(0), "task_id": "t1",
				"old_rank": "Member", "new_rank": "Recruit",
			},
			wantMail: true,
		},
		{
			name: "rank set back",
			out: func(usr user.User) points.Outcome {
				return points.Outcome{
					UserID:     usr.ID,
					Result:     rank.Result{Points: 40, Rank: &recruit, RankChanged: true},
					PrevRank:   &member,
					Event:      &points.Event{},
					Adjustment: points.Adjustment{UserID: usr.ID, Reason: "board decision"},
				}
			},
			wantKind:  notification.KindRankChanged,
			wantTitle: "Rank lost",
			wantData: map[string]interface{}{
				"delta": float64(0), "reason": "board decision", "points": float64(40), "old_rank": "Member", "new_rank": "Recruit",
			},
			wantMail: true,
		},
		{
			name: "points earned",
			out: func(usr user.User) points.Outcome {
				return points.Outcome{
					UserID:     usr.ID,
					Result:     rank.Result{Points: 30, Rank: &recruit},
					PrevRank:   &recruit,
					Event:      &points.Event{},
					Adjustment: points.Adjustment{UserID: usr.ID, Delta: 30, Reason: "event"},
				}
			},
			wantKind:  notification.KindPointsChanged,
			wantTitle: "Points earned",
			wantData:  map[string]interface{}{"delta": float64(30), "reason": "event", "points": float64(30)},
		},
		{
			name: "points deducted",
			out: func(usr user.User) points.Outcome {
				return points.Outcome{
					UserID:     usr.ID,
					Result:     rank.Result{Points: 10, Rank: &member},
					PrevRank:   &member,
					Event:      &points.Event{},
					Adjustment: points.Adjustment{UserID: usr.ID, Delta: -20, Reason: "late"},
				}
			},
			wantKind:  notification.KindPointsChanged,
			wantTitle: "Points deducted",
			wantData:  map[string]interface{}{"delta": float64(-20), "reason": "late", "points": float64(10)},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pub := pubsub.NewConsolePublisher(nil)
			svc, usrRepo := setup(t, pub)
			ctx := context.Background()
			usr := testutil.CreateUser(t, usrRepo, "Jane Doe", "jane", "jane@test.cd", "", nil, true)

			svc.ProgressChanged(ctx, tc.out(usr))

			msgs := pub.Messages(notification.Channel(usr.ID))
			require.Len(t, msgs, 1)
			var n notification.Notification
			require.NoError(t, json.Unmarshal(msgs[0].Payload, &n))
			assert.Equal(t, tc.wantKind, n.Kind)
			assert.Equal(t, tc.wantTitle, n.Title)
			assert.Equal(t, tc.wantData, n.Data)

			sent := emailsvc.GetSentMessages()
			if !tc.wantMail {
				assert.Empty(t, sent)
				return
			}
			if assert.Len(t, sent, 1) {
				assert.Equal(t, "rank_changed", sent[0].TemplateName)
				assert.Equal(t, tc.wantTitle, sent[0].Subject)
				assert.Contains(t, sent[0].TextContent, n.Body)
			}
		})
	}
}
