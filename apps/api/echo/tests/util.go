package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/lessonsync/apps/api/echo"
	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
	"github.com/trezcool/lessonsync/core/lms/lmstest"
	"github.com/trezcool/lessonsync/core/lmssync"
	"github.com/trezcool/lessonsync/core/notification"
	logsvc "github.com/trezcool/lessonsync/services/logger"
	msgsvc "github.com/trezcool/lessonsync/services/messaging"
	inmemdb "github.com/trezcool/lessonsync/storage/database/inmem"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
	errNotFound     = httpErr{Error: "not found"}

	// Monday 12:00 UTC: nobody is due a daily motivation at 09:00 Moscow time.
	testNow = time.Date(2021, 1, 4, 12, 0, 0, 0, time.UTC)

	amina   = lms.Student{ID: "1", Username: "amina", FirstName: "Amina", Level: lms.LevelAdvanced}
	joe     = lms.Student{ID: "2", Username: "joe", FirstName: "Joe", Level: lms.LevelBeginner}
	grammar = lms.Lesson{ID: "10", Title: "Grammar", Level: lms.LevelAdvanced, Location: lms.DefaultLocation}
	quiz    = lms.Test{ID: "20", Title: "Quiz", Level: lms.LevelBeginner}
)

type fakeFactory map[string]*lmstest.Provider

func (f fakeFactory) New(conf lms.Config) (lms.Provider, error) {
	if p, ok := f[conf.Kind]; ok {
		return p, nil
	}
	return nil, errors.Wrapf(lms.ErrUnknownProvider, "%q", conf.Kind)
}

// never replaces time.After so that no loop ever ticks during a test.
func never(time.Duration) <-chan time.Time { return nil }

type env struct {
	conf      *core.Config
	server    *Server
	provider  *lmstest.Provider
	syncSvc   *lmssync.Service
	notifSvc  *notification.Service
	scheduler *notification.Scheduler
	sink      *msgsvc.ConsoleSink
}

func testConfig() *core.Config {
	return &core.Config{
		Env:       "TEST",
		TestMode:  true,
		AppName:   "Masomo",
		SecretKey: "secret",
		Server: core.ServerConfig{
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: time.Hour,
			DisableReqLogs:     true,
		},
		Sync:   core.SyncConfig{CallTimeout: time.Second, Location: "UTC"},
		Moodle: core.ProviderConfig{URL: "https://moodle.test", Token: "token", CourseID: "1"},
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// setup returns a server whose LMS provider is not configured yet.
func setup(t *testing.T) *env {
	conf := testConfig()
	logger := logsvc.NewNopLogger()
	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)

	provider := lmstest.New("moodle")
	provider.SetStudents(amina, joe)
	provider.SetLessons(grammar)
	provider.SetTests(quiz)

	db := inmemdb.Open()
	repo := inmemdb.NewNotificationRepository(db)
	now := func() time.Time { return testNow }

	syncSvc := lmssync.NewService(
		fakeFactory{"moodle": provider},
		lmssync.NewStore(time.Hour, now),
		logger,
		lmssync.Options{
			CallTimeout: time.Second,
			Recorder:    inmemdb.NewSyncRunRepository(db),
			Now:         now,
			After:       never,
		},
	)
	sink := msgsvc.NewConsoleSink(nil)
	scheduler, err := notification.New(repo, syncSvc, sink, logger, notification.Options{
		Location: time.UTC,
		Now:      now,
		After:    never,
	})
	if err != nil {
		t.Fatalf("notification.New() failed: %v", err)
	}
	notifSvc := notification.NewService(repo, validate)

	return &env{
		conf:     conf,
		provider: provider,
		server: NewServer(ServerDeps{
			Conf:       conf,
			Logger:     logger,
			SyncSvc:    syncSvc,
			NotifSvc:   notifSvc,
			Scheduler:  scheduler,
			Validate:   validate,
			Translator: translator,
		}),
		syncSvc:   syncSvc,
		notifSvc:  notifSvc,
		scheduler: scheduler,
		sink:      sink,
	}
}

// setupSynced returns a server that synchronized its provider once.
func setupSynced(t *testing.T) *env {
	e := setup(t)
	lmsConf := lms.Config{Kind: "moodle", BaseURL: "https://moodle.test", Token: "token"}.WithDefaults()
	if err := e.syncSvc.Configure(context.Background(), lmsConf); err != nil {
		t.Fatalf("Configure() failed: %v", err)
	}
	if _, err := e.syncSvc.ManualSync(context.Background()); err != nil {
		t.Fatalf("ManualSync() failed: %v", err)
	}
	return e
}

func (e *env) createUser(t *testing.T, id, name, level string) notification.User {
	usr, err := e.notifSvc.CreateUser(context.Background(), notification.NewUser{ID: id, Name: name, Level: level})
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func (e *env) adminToken(t *testing.T) string {
	token, err := GenerateToken(e.conf, GetAdminClaims(e.conf, "ops"))
	if err != nil {
		t.Fatalf("adminToken() failed: %v", err)
	}
	return token
}

func (e *env) userToken(t *testing.T, usr notification.User) string {
	token, err := GenerateToken(e.conf, GetUserClaims(e.conf, usr))
	if err != nil {
		t.Fatalf("userToken() failed: %v", err)
	}
	return token
}

// serve runs the request described by tt and returns the response.
func (e *env) serve(tt httpTest) *httptest.ResponseRecorder {
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
	e.server.ServeHTTP(rec, req)
	return rec
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

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarchall(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("unmarchall(%s) failed: %v", rec.Body.String(), err)
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
	if _, ok := j1.([]interface{}); !ok {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
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
