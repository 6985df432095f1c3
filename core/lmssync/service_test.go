package lmssync

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
	"github.com/trezcool/lessonsync/core/lms/lmstest"
	logsvc "github.com/trezcool/lessonsync/services/logger"
)

type fakeFactory map[string]*lmstest.Provider

func (f fakeFactory) New(conf lms.Config) (lms.Provider, error) {
	p, ok := f[conf.Kind]
	if !ok {
		return nil, errors.Wrapf(lms.ErrUnknownProvider, "%q", conf.Kind)
	}
	return p, nil
}

func newTestService(opts Options) (*Service, fakeFactory) {
	moodle, canvas := lmstest.New("moodle"), lmstest.New("canvas")
	moodle.SetStudents(amina)
	canvas.SetStudents(joe)
	canvas.SetLessons(grammar)
	factory := fakeFactory{"moodle": moodle, "canvas": canvas}
	return NewService(factory, NewStore(time.Hour, nil), logsvc.NewNopLogger(), opts), factory
}

func TestService_notConfigured(t *testing.T) {
	svc, _ := newTestService(Options{})

	st := svc.Status()
	assert.False(t, st.Configured)
	assert.False(t, st.Running)
	assert.Nil(t, st.LastSync)

	if _, err := svc.ManualSync(context.Background()); err != ErrNotConfigured {
		t.Errorf("ManualSync() error = %v; want %v", err, ErrNotConfigured)
	}
	if _, err := svc.Start(); err != ErrNotConfigured {
		t.Errorf("Start() error = %v; want %v", err, ErrNotConfigured)
	}
	if _, err := svc.Book(context.Background(), "1", "10", time.Now()); err != ErrNotConfigured {
		t.Errorf("Book() error = %v; want %v", err, ErrNotConfigured)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	assert.Empty(t, svc.Students())
}

func TestService_Configure(t *testing.T) {
	svc, factory := newTestService(Options{After: newTicker(1).After})

	err := svc.Configure(context.Background(), lms.Config{Kind: "blackboard"})
	if errors.Cause(err) != lms.ErrUnknownProvider {
		t.Fatalf("Configure() error = %v; want %v", err, lms.ErrUnknownProvider)
	}
	assert.False(t, svc.Status().Configured)

	if err = svc.Configure(context.Background(), lms.Config{Kind: "moodle"}); err != nil {
		t.Fatalf("Configure(moodle) error = %v", err)
	}
	st := svc.Status()
	assert.True(t, st.Configured)
	assert.Equal(t, "moodle", st.ProviderID)
	assert.False(t, st.Running, "AutoStart is off")

	if _, err = svc.ManualSync(context.Background()); err != nil {
		t.Fatalf("ManualSync() error = %v", err)
	}
	assert.Equal(t, []lms.Student{amina}, svc.Students())

	started, err := svc.Start()
	if err != nil || !started {
		t.Fatalf("Start() = %v, %v; want true, nil", started, err)
	}

	// switching providers keeps the loop running
	if err = svc.Configure(context.Background(), lms.Config{Kind: "canvas"}); err != nil {
		t.Fatalf("Configure(canvas) error = %v", err)
	}
	st = svc.Status()
	assert.Equal(t, "canvas", st.ProviderID)
	assert.True(t, st.Running)

	if _, err = svc.ManualSync(context.Background()); err != nil {
		t.Fatalf("ManualSync() error = %v", err)
	}
	assert.Equal(t, []lms.Student{joe}, svc.Students())
	assert.Equal(t, []lms.Lesson{grammar}, svc.Lessons(lms.LevelAdvanced))

	stopped, err := svc.Stop()
	if err != nil || !stopped {
		t.Errorf("Stop() = %v, %v; want true, nil", stopped, err)
	}
	if err = svc.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	assert.GreaterOrEqual(t, factory["canvas"].Calls("GetStudents"), 1)
}

func TestService_Configure_duringBatch(t *testing.T) {
	svc, factory := newTestService(Options{CallTimeout: 5 * time.Second})
	moodle := factory["moodle"]
	moodle.Block = make(chan struct{})
	moodle.Started = make(chan struct{}, 1)
	ctx := context.Background()

	if err := svc.Configure(ctx, lms.Config{Kind: "moodle"}); err != nil {
		t.Fatalf("Configure(moodle) error = %v", err)
	}
	runs := make(chan Run, 1)
	go func() {
		run, _ := svc.ManualSync(ctx)
		runs <- run
	}()
	<-moodle.Started

	configured := make(chan error, 1)
	go func() {
		configured <- svc.Configure(ctx, lms.Config{Kind: "canvas"})
	}()

	// the status stays readable while the moodle batch drains
	assert.Eventually(t, func() bool { return svc.Status().ProviderID == "canvas" }, 5*time.Second, 10*time.Millisecond)
	if _, err := svc.ManualSync(ctx); err != nil {
		t.Fatalf("ManualSync(canvas) error = %v", err)
	}
	select {
	case err := <-configured:
		t.Fatalf("Configure(canvas) = %v before the moodle batch returned", err)
	default:
	}

	close(moodle.Block)
	if err := <-configured; err != nil {
		t.Fatalf("Configure(canvas) error = %v", err)
	}
	old := <-runs
	assert.Equal(t, "moodle", old.Provider)
	assert.Equal(t, []string{SyncStudents}, old.Outcome.Failed)

	assert.Equal(t, []lms.Student{joe}, svc.Students())
	assert.Equal(t, "canvas", svc.Status().ProviderID)
}

func TestService_reads(t *testing.T) {
	svc, _ := newTestService(Options{})
	if err := svc.Configure(context.Background(), lms.Config{Kind: "moodle"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	_, _ = svc.ManualSync(context.Background())

	tests := []struct {
		name    string
		id      string
		want    lms.Student
		wantErr error
	}{
		{name: "cached", id: "1", want: amina},
		{name: "unknown", id: "404", wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Student(tt.id)
			if err != tt.wantErr {
				t.Fatalf("Student() error = %v; want %v", err, tt.wantErr)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_passThrough(t *testing.T) {
	svc, factory := newTestService(Options{})
	if err := svc.Configure(context.Background(), lms.Config{Kind: "moodle"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	date := time.Date(2021, 1, 5, 18, 0, 0, 0, time.UTC)
	if ok, err := svc.Book(context.Background(), "1", "10", date); err != nil || !ok {
		t.Errorf("Book() = %v, %v; want true, nil", ok, err)
	}
	assert.Equal(t, []lmstest.Booking{{StudentID: "1", LessonID: "10", Date: date}}, factory["moodle"].Bookings())

	res := lms.TestResult{Score: 80, Answers: map[string]string{"q1": "b"}}
	if ok, err := svc.SubmitTestResult(context.Background(), "1", "20", res); err != nil || !ok {
		t.Errorf("SubmitTestResult() = %v, %v; want true, nil", ok, err)
	}
	got, _ := factory["moodle"].Result("1", "20")
	assert.Equal(t, res, got)
}

func TestService_History(t *testing.T) {
	rec := new(memRecorder)
	svc, _ := newTestService(Options{Recorder: rec})
	if err := svc.Configure(context.Background(), lms.Config{Kind: "moodle"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	_, _ = svc.ManualSync(context.Background())

	runs, err := svc.History(context.Background(), RunFilter{Ordering: []core.DBOrdering{{Field: "started_at"}}})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	assert.Len(t, runs, 1)

	_, err = svc.History(context.Background(), RunFilter{Ordering: []core.DBOrdering{{Field: "password"}}})
	if _, ok := errors.Cause(err).(*core.ValidationError); !ok {
		t.Errorf("History() error = %v; want *core.ValidationError", err)
	}
}
