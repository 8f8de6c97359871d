package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/voluntas/apps/api/echo"
	"github.com/trezcool/voluntas/core/points"
	"github.com/trezcool/voluntas/core/rank"
	"github.com/trezcool/voluntas/core/user"
)

func Test_pointsApi_adjust(t *testing.T) {
	e := setup(t)

	member := e.createUser(t, "Hero", "hero", user.RoleMember)
	secretary := e.createUser(t, "Secretary", "secretary", user.RoleStaffSecretary)
	hr := e.createUser(t, "HR", "hr", user.RoleStaffHR)
	admin := e.createUser(t, "Admin", "admin", user.RoleAdmin)

	forbidden := marchallObj(t, httpErr{Error: "permission denied"})
	adj := func(userID string, delta int, reason string) []byte {
		return marchallObj(t, points.Adjustment{UserID: userID, Delta: delta, Reason: reason})
	}

	tests := []httpTest{
		{name: "Auth required", body: adj(member.ID, 10, "help"), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "member not allowed", token: e.getToken(t, member), body: adj(member.ID, 10, "help"), wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "staff without HR not allowed", token: e.getToken(t, secretary), body: adj(member.ID, 10, "help"), wantCode: http.StatusForbidden, wantData: forbidden},
		{
			name: "required fields", token: e.getToken(t, hr), body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"user_id":"this field is required","reason":"this field is required","delta":"delta should not be equal to 0"}`),
		},
		{
			name: "blank reason", token: e.getToken(t, hr), body: adj(member.ID, 10, "   "), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"reason":"this field is required"}`),
		},
		{
			name: "unknown user", token: e.getToken(t, hr), body: adj("lol", 10, "help"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"user_id": user.ErrNotFound.Error()}),
		},
		{name: "HR adjusts", token: e.getToken(t, hr), body: adj(member.ID, 60, "helped at the fair"), wantCode: http.StatusOK},
		{name: "admin adjusts", token: e.getToken(t, admin), body: adj(member.ID, 60, "organized the fair"), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/points/adjust"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			e.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	prog, err := e.points.Progress(context.Background(), member.ID)
	require.NoError(t, err)
	assert.Equal(t, 120, prog.Points)
	require.NotNil(t, prog.Rank)
	assert.Equal(t, "member", prog.Rank.ID)

	events, err := e.points.History(context.Background(), points.EventFilter{UserID: member.ID})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, admin.ID, events[0].CreatedBy)
	assert.Equal(t, hr.ID, events[1].CreatedBy)
	assert.Equal(t, "member", events[0].RankAfter)
}

func Test_pointsApi_adjustResponse(t *testing.T) {
	e := setup(t)

	member := e.createUser(t, "Hero", "hero", user.RoleMember)
	token := e.getToken(t, e.createUser(t, "HR", "hr", user.RoleStaffHR))

	rec := e.serve(http.MethodPost, "/api/points/adjust", token, marchallObj(t, points.Adjustment{UserID: member.ID, Delta: 150, Reason: "event"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out points.Outcome
	decode(t, rec, &out)
	assert.Equal(t, member.ID, out.UserID)
	assert.Equal(t, "recruit", out.Before.RankID)
	require.NotNil(t, out.Result.Rank)
	assert.Equal(t, "member", out.Result.Rank.ID)
	assert.True(t, out.Result.RankChanged)
	require.NotNil(t, out.Event)
	assert.Equal(t, 150, out.Event.Delta)

	// deducting from zero changes nothing
	other := e.createUser(t, "Other", "other", user.RoleMember)
	_, err := e.points.Adjust(context.Background(), points.Adjustment{UserID: other.ID, Delta: 1, Reason: "event"})
	require.NoError(t, err)
	_, err = e.points.Adjust(context.Background(), points.Adjustment{UserID: other.ID, Delta: -1, Reason: "late"})
	require.NoError(t, err)
	rec = e.serve(http.MethodPost, "/api/points/adjust", token, marchallObj(t, points.Adjustment{UserID: other.ID, Delta: -5, Reason: "late"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out = points.Outcome{}
	decode(t, rec, &out)
	assert.Nil(t, out.Event)
	assert.Zero(t, out.Result.Points)
}

func Test_pointsApi_emptyDirectory(t *testing.T) {
	e := setup(t)

	member := e.createUser(t, "Hero", "hero", user.RoleMember)
	_, err := e.rankRepo.DeleteRanksByID(context.Background(), []string{"recruit", "member"})
	require.NoError(t, err)

	tt := httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, httpErr{Error: rank.ErrInvalidInput.Error()}),
	}
	rec := e.serve(
		http.MethodPost, "/api/points/adjust", e.getToken(t, e.createUser(t, "Admin", "admin", user.RoleAdmin)),
		marchallObj(t, points.Adjustment{UserID: member.ID, Delta: 10, Reason: "event"}),
	)
	checkCodeAndData(t, tt, rec)
}

func Test_pointsApi_adjustBatch(t *testing.T) {
	e := setup(t)

	u1 := e.createUser(t, "One", "one", user.RoleMember)
	u2 := e.createUser(t, "Two", "two", user.RoleMember)
	token := e.getToken(t, e.createUser(t, "HR", "hr", user.RoleStaffHR))

	rec := e.serve(http.MethodPost, "/api/points/adjust-batch", token, []byte(`{"user_ids":[],"delta":10,"reason":"event"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := marchallObj(t, points.BatchAdjustment{UserIDs: []string{u1.ID, "lol", u2.ID, u1.ID}, Delta: 40, Reason: "beach cleanup"})
	rec = e.serve(http.MethodPost, "/api/points/adjust-batch", token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results []echoapi.BatchResultResponse
	decode(t, rec, &results)
	require.Len(t, results, 3)
	byUser := make(map[string]echoapi.BatchResultResponse, len(results))
	for _, res := range results {
		byUser[res.UserID] = res
	}
	assert.False(t, byUser["lol"].OK)
	assert.Equal(t, user.ErrNotFound.Error(), byUser["lol"].Error)
	for _, id := range []string{u1.ID, u2.ID} {
		res := byUser[id]
		assert.True(t, res.OK, id)
		if assert.NotNil(t, res.Outcome, id) {
			assert.Equal(t, 40, res.Outcome.Result.Points, id)
		}
	}

	// duplicates are adjusted once
	prog, err := e.points.Progress(context.Background(), u1.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, prog.Points)
}

func Test_pointsApi_leaderboard(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	u1 := e.createUser(t, "One", "one", user.RoleMember)
	u2 := e.createUser(t, "Two", "two", user.RoleMember)
	u3 := e.createUser(t, "Three", "three", user.RoleMember)
	for id, delta := range map[string]int{u1.ID: 50, u2.ID: 130, u3.ID: 90} {
		_, err := e.points.Adjust(ctx, points.Adjustment{UserID: id, Delta: delta, Reason: "event"})
		require.NoError(t, err)
	}
	token := e.getToken(t, u1)

	rec := e.serve(http.MethodGet, "/api/points/leaderboard", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var standings []points.Standing
	decode(t, rec, &standings)
	ids := make([]string, 0, len(standings))
	for _, s := range standings {
		ids = append(ids, s.UserID)
	}
	// u2 was promoted to member; the others are ranked by points
	assert.Equal(t, []string{u2.ID, u3.ID, u1.ID}, ids)
	assert.Equal(t, "Member", standings[0].RankName)

	rec = e.serve(http.MethodGet, "/api/points/leaderboard?limit=1", token)
	require.Equal(t, http.StatusOK, rec.Code)
	standings = nil
	decode(t, rec, &standings)
	assert.Len(t, standings, 1)

	rec = e.serve(http.MethodGet, "/api/points/leaderboard?limit=lol", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_pointsApi_setRank(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.rankRepo.CreateRank(ctx, rank.Rank{ID: "ambassador", Name: "Ambassador", Order: 2, Threshold: 500, IsExempt: true})
	require.NoError(t, err)

	member := e.createUser(t, "Hero", "hero", user.RoleMember)
	secretary := e.createUser(t, "Secretary", "secretary", user.RoleStaffSecretary)
	hr := e.createUser(t, "HR", "hr", user.RoleStaffHR)

	_, err = e.points.Adjust(ctx, points.Adjustment{UserID: member.ID, Delta: 30, Reason: "welcome"})
	require.NoError(t, err)

	forbidden := marchallObj(t, httpErr{Error: "permission denied"})
	set := func(userID, rankID string) []byte {
		return marchallObj(t, points.RankAssignment{UserID: userID, RankID: rankID, Reason: "board decision"})
	}

	tests := []httpTest{
		{name: "Auth required", body: set(member.ID, "ambassador"), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "member not allowed", token: e.getToken(t, member), body: set(member.ID, "ambassador"), wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "staff without HR not allowed", token: e.getToken(t, secretary), body: set(member.ID, "ambassador"), wantCode: http.StatusForbidden, wantData: forbidden},
		{
			name: "required fields", token: e.getToken(t, hr), body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"user_id":"this field is required","rank_id":"this field is required","reason":"this field is required"}`),
		},
		{
			name: "unknown user", token: e.getToken(t, hr), body: set("lol", "ambassador"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"user_id": user.ErrNotFound.Error()}),
		},
		{
			name: "unknown rank", token: e.getToken(t, hr), body: set(member.ID, "lol"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"rank_id": rank.ErrNotFound.Error()}),
		},
		{name: "HR sets exempt rank", token: e.getToken(t, hr), body: set(member.ID, "ambassador"), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/points/set-rank"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			e.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	prog, err := e.points.Progress(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, prog.Points)
	require.NotNil(t, prog.Rank)
	assert.Equal(t, "ambassador", prog.Rank.ID)

	events, err := e.points.History(ctx, points.EventFilter{UserID: member.ID})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Zero(t, events[0].Delta)
	assert.Equal(t, "recruit", events[0].RankBefore)
	assert.Equal(t, "ambassador", events[0].RankAfter)
	assert.Equal(t, hr.ID, events[0].CreatedBy)
}
