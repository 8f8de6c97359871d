package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/voluntas/apps/api/echo"
	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/notification"
	"github.com/trezcool/voluntas/core/points"
	"github.com/trezcool/voluntas/core/rank"
	"github.com/trezcool/voluntas/core/task"
	"github.com/trezcool/voluntas/core/user"
	appfs "github.com/trezcool/voluntas/fs"
	"github.com/trezcool/voluntas/services/email"
	"github.com/trezcool/voluntas/services/pubsub"
	"github.com/trezcool/voluntas/storage/database/inmem"
	testutil "github.com/trezcool/voluntas/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type env struct {
	app      *echoapi.Server
	conf     *core.Config
	usrRepo  user.Repository
	rankRepo rank.Repository
	points   *points.Service
	pub      *pubsub.ConsolePublisher
	health   *healthStub
}

type healthStub struct {
	err error
}

func (h *healthStub) check(context.Context) error { return h.err }

// setup serves the API over in-memory repositories seeded with the ranks Recruit (0) and Member (100).
func setup(t *testing.T) env {
	t.Helper()

	conf := core.NewTestConfig()
	logger := testutil.NewLogger()
	require.NoError(t, core.ParseEmailTemplates(conf, appfs.FS, logger))
	user.LoadCommonPasswords(appfs.FS, logger)
	emailsvc.ClearSentMessages()

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	rankRepo := inmemdb.NewRankRepository(db)
	ptsRepo := inmemdb.NewPointsRepository(db)
	for _, r := range []rank.Rank{
		{ID: "recruit", Name: "Recruit", Order: 0, Threshold: 0},
		{ID: "member", Name: "Member", Order: 1, Threshold: 100},
	} {
		_, err := rankRepo.CreateRank(context.Background(), r)
		require.NoError(t, err)
	}

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	pub := pubsub.NewConsolePublisher(nil)
	usrSvc := user.NewServiceMock(usrRepo, mailSvc, conf)
	rankSvc := rank.NewService(rankRepo)
	notifSvc := notification.NewService(inmemdb.NewNotificationRepository(db), pub, usrSvc, mailSvc, logger)
	ptsSvc := points.NewService(ptsRepo, ptsRepo, rankSvc, inmemdb.NewTxRunner(db), notifSvc, logger)
	taskSvc := task.NewService(inmemdb.NewTaskRepository(db), ptsSvc, notifSvc, logger)

	// set up server
	health := new(healthStub)
	app := echoapi.NewServer(echoapi.ServerDeps{
		Conf:            conf,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		UserSvc:         usrSvc,
		RankSvc:         rankSvc,
		PointsSvc:       ptsSvc,
		NotificationSvc: notifSvc,
		TaskSvc:         taskSvc,
		HealthCheck:     health.check,
		DisableReqLogs:  true,
	})

	return env{
		app:      app,
		conf:     conf,
		usrRepo:  usrRepo,
		rankRepo: rankRepo,
		points:   ptsSvc,
		pub:      pub,
		health:   health,
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// serve sends the request to the app and returns the recorded response.
func (e env) serve(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	e.app.ServeHTTP(rec, req)
	return rec
}

func (e env) getToken(t *testing.T, usr user.User) string {
	token, err := echoapi.GenerateToken(e.conf, echoapi.GetUserClaims(e.conf, usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func (e env) createUser(t *testing.T, name, uname string, roles ...string) user.User {
	return testutil.CreateUser(t, e.usrRepo, name, uname, uname+"@test.org", "", roles, true)
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	l1, ok1 := j1.([]interface{})
	l2, ok2 := j2.([]interface{})
	if !ok1 || !ok2 {
		return false, nil
	}
	return assert.ElementsMatch(t, l1, l2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
