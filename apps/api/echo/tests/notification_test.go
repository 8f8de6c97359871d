package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/voluntas/apps/api/echo"
	"github.com/trezcool/voluntas/core/notification"
	"github.com/trezcool/voluntas/core/points"
	"github.com/trezcool/voluntas/core/user"
	"github.com/trezcool/voluntas/services/email"
)

func Test_notificationApi(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	hero := e.createUser(t, "Hero", "hero", user.RoleMember)
	other := e.createUser(t, "Other", "other", user.RoleMember)
	heroToken := e.getToken(t, hero)

	unread := func(token string) int {
		rec := e.serve(http.MethodGet, "/api/notifications/unread-count", token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp echoapi.CountResponse
		decode(t, rec, &resp)
		return resp.Count
	}

	rec := e.serve(http.MethodGet, "/api/notifications", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, unread(heroToken))

	// a small gain, then a promotion
	_, err := e.points.Adjust(ctx, points.Adjustment{UserID: hero.ID, Delta: 20, Reason: "flyers"})
	require.NoError(t, err)
	_, err = e.points.Adjust(ctx, points.Adjustment{UserID: hero.ID, Delta: 100, Reason: "fundraiser"})
	require.NoError(t, err)
	_, err = e.points.Adjust(ctx, points.Adjustment{UserID: other.ID, Delta: 5, Reason: "flyers"})
	require.NoError(t, err)

	assert.Equal(t, 2, unread(heroToken))
	assert.Len(t, e.pub.Messages(notification.Channel(hero.ID)), 2)

	// the promotion is mailed
	sent := emailsvc.GetSentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, hero.Email, sent[0].To[0].Address)

	rec = e.serve(http.MethodGet, "/api/notifications", heroToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var notifs []notification.Notification
	decode(t, rec, &notifs)
	require.Len(t, notifs, 2)
	assert.Equal(t, notification.KindRankChanged, notifs[0].Kind)
	assert.Equal(t, notification.KindPointsChanged, notifs[1].Kind)

	rec = e.serve(http.MethodPost, "/api/notifications/read", heroToken, []byte(`{"ids":[]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown ids are ignored
	rec = e.serve(http.MethodPost, "/api/notifications/read", heroToken, marchallObj(t, notification.MarkRead{IDs: []string{notifs[1].ID, "lol"}}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var count echoapi.CountResponse
	decode(t, rec, &count)
	assert.Equal(t, 1, count.Count)
	assert.Equal(t, 1, unread(heroToken))

	rec = e.serve(http.MethodGet, "/api/notifications?unread=true", heroToken)
	require.Equal(t, http.StatusOK, rec.Code)
	notifs = nil
	decode(t, rec, &notifs)
	require.Len(t, notifs, 1)
	assert.Equal(t, notification.KindRankChanged, notifs[0].Kind)

	rec = e.serve(http.MethodPost, "/api/notifications/read-all", heroToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, unread(heroToken))
	assert.Equal(t, 1, unread(e.getToken(t, other)))
}
