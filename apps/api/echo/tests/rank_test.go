package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/voluntas/core/rank"
	"github.com/trezcool/voluntas/core/user"
)

func Test_rankApi(t *testing.T) {
	e := setup(t)

	member := e.createUser(t, "Hero", "hero", user.RoleMember)
	admin := e.createUser(t, "Admin", "admin", user.RoleAdmin)
	memberToken, adminToken := e.getToken(t, member), e.getToken(t, admin)
	iPtr := func(i int) *int { return &i }

	forbidden := marchallObj(t, httpErr{Error: "permission denied"})
	leader := marchallObj(t, rank.NewRank{Name: "Leader", Order: iPtr(2), Threshold: iPtr(500), IsParent: true})

	tests := []httpTest{
		{name: "list: auth required", method: http.MethodGet, path: "/api/ranks", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "create: admin required", method: http.MethodPost, path: "/api/ranks", token: memberToken, body: leader, wantCode: http.StatusForbidden, wantData: forbidden},
		{
			name: "create: name taken", method: http.MethodPost, path: "/api/ranks", token: adminToken, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, rank.NewRank{Name: "Member", Order: iPtr(5), Threshold: iPtr(10)}),
			wantData: marchallObj(t, map[string]string{"name": rank.ErrNameExists.Error()}),
		},
		{
			name: "create: required fields", method: http.MethodPost, path: "/api/ranks", token: adminToken, body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"name":"this field is required","order":"this field is required","threshold":"this field is required"}`),
		},
		{name: "create", method: http.MethodPost, path: "/api/ranks", token: adminToken, body: leader, wantCode: http.StatusCreated},
		{name: "update: admin required", method: http.MethodPut, path: "/api/ranks/member", token: memberToken, body: []byte(`{"threshold":150}`), wantCode: http.StatusForbidden, wantData: forbidden},
		{
			name: "update: order taken", method: http.MethodPut, path: "/api/ranks/member", token: adminToken, body: []byte(`{"order":0}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"order": rank.ErrOrderExists.Error()}),
		},
		{name: "update", method: http.MethodPut, path: "/api/ranks/member", token: adminToken, body: []byte(`{"threshold":150}`), wantCode: http.StatusOK},
		{name: "retrieve: unknown", method: http.MethodGet, path: "/api/ranks/lol", token: memberToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})},
		{name: "delete: admin required", method: http.MethodDelete, path: "/api/ranks/recruit", token: memberToken, wantCode: http.StatusForbidden, wantData: forbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			e.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	rec := e.serve(http.MethodGet, "/api/ranks", memberToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var ranks []rank.Rank
	decode(t, rec, &ranks)
	require.Len(t, ranks, 3)
	assert.Equal(t, []string{"Recruit", "Member", "Leader"}, []string{ranks[0].Name, ranks[1].Name, ranks[2].Name})
	assert.Equal(t, 150, ranks[1].Threshold)
	assert.True(t, ranks[2].IsParent)

	rec = e.serve(http.MethodDelete, "/api/ranks/"+ranks[2].ID, adminToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.serve(http.MethodGet, "/api/ranks/"+ranks[2].ID, memberToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
