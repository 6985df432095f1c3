package notification_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/lessonsync/core/lms"
	"github.com/trezcool/lessonsync/core/notification"
	logsvc "github.com/trezcool/lessonsync/services/logger"
	inmemdb "github.com/trezcool/lessonsync/storage/database/inmem"
)

var (
	msk = time.FixedZone("MSK", 3*3600)

	// Monday 4 January 2021, 18:00
	lessonAt = time.Date(2021, 1, 4, 18, 0, 0, 0, msk)
	grammar  = lms.Lesson{
		ID:    "10",
		Title: "Grammar",
		Level: lms.LevelAdvanced,
		Slot:  lms.SlotOf(lessonAt),
	}

	amina = notification.User{ID: "100", Name: "Amina", Level: lms.LevelAdvanced}
	joe   = notification.User{ID: "200", Name: "Joe", Level: lms.LevelAdvanced}
)

const tolerance = 5 * time.Minute

type message struct {
	UserID string
	Text   string
}

type recordingSink struct {
	mu      sync.Mutex
	sent    []message
	failFor map[string]bool
}

func (s *recordingSink) SendMessage(ctx context.Context, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[userID] {
		return errors.New("chat not found")
	}
	s.sent = append(s.sent, message{UserID: userID, Text: text})
	return nil
}

func (s *recordingSink) Sent() []message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message(nil), s.sent...)
}

type lessonList []lms.Lesson

func (ls lessonList) Lessons(level string) []lms.Lesson {
	var lessons []lms.Lesson
	for _, l := range ls {
		if level == "" || l.Level == level {
			lessons = append(lessons, l)
		}
	}
	return lessons
}

// failingRepository fails to persist the notifications of some users.
type failingRepository struct {
	notification.Repository
	failFor map[string]bool
}

func (repo failingRepository) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	if repo.failFor[n.UserID] {
		return notification.Notification{}, errors.New("connection reset")
	}
	return repo.Repository.CreateNotification(ctx, n)
}

type env struct {
	now     time.Time
	lessons lessonList
	repo    notification.Repository
	sink    *recordingSink
	sched   *notification.Scheduler
}

func setup(t *testing.T, users ...notification.User) *env {
	t.Helper()
	e := &env{
		repo: inmemdb.NewNotificationRepository(inmemdb.Open()),
		sink: &recordingSink{},
	}
	for _, usr := range users {
		if _, err := e.repo.CreateUser(context.Background(), usr); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
	}
	e.sched = e.newScheduler(t, e.repo)
	return e
}

func (e *env) newScheduler(t *testing.T, repo notification.Repository) *notification.Scheduler {
	t.Helper()
	lessons := e.lessons
	if lessons == nil {
		lessons = lessonList{grammar}
	}
	sched, err := notification.New(repo, lessons, e.sink, logsvc.NewNopLogger(), notification.Options{
		Tick:      5 * time.Minute,
		Tolerance: tolerance,
		Location:  msk,
		Now:       func() time.Time { return e.now },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return sched
}

func (e *env) save(t *testing.T, s notification.Settings) {
	t.Helper()
	if _, err := e.repo.SaveSettings(context.Background(), s); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
}

func (e *env) tick(t *testing.T, at time.Time) notification.TickReport {
	t.Helper()
	e.now = at
	report, err := e.sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	return report
}

func (e *env) count(t *testing.T, userID, kind string) int {
	t.Helper()
	notifs, err := e.repo.FilterNotifications(context.Background(), notification.QueryFilter{UserID: userID})
	if err != nil {
		t.Fatalf("FilterNotifications() error = %v", err)
	}
	var n int
	for _, notif := range notifs {
		if notif.Kind == kind {
			n++
		}
	}
	return n
}

func lessonsOnly(userID string) notification.Settings {
	s := notification.DefaultSettings(userID)
	s.DailyMotivation = false
	s.Timezone = ""
	return s
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		tick      time.Duration
		tolerance time.Duration
		wantErr   error
	}{
		{name: "equal", tick: 5 * time.Minute, tolerance: 5 * time.Minute},
		{name: "half tick", tick: 10 * time.Minute, tolerance: 5 * time.Minute},
		{name: "too small", tick: 10 * time.Minute, tolerance: 4 * time.Minute, wantErr: notification.ErrToleranceTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := notification.New(nil, nil, nil, logsvc.NewNopLogger(), notification.Options{Tick: tt.tick, Tolerance: tt.tolerance})
			if errors.Cause(err) != tt.wantErr {
				t.Errorf("New() error = %v; want %v", err, tt.wantErr)
			}
		})
	}
}

func TestScheduler_lessonReminderWindows(t *testing.T) {
	oneHour := lessonAt.Add(-time.Hour)
	oneDay := lessonAt.Add(-24 * time.Hour)

	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{name: "one hour before", at: oneHour, want: 1},
		{name: "one hour window start", at: oneHour.Add(-tolerance), want: 1},
		{name: "one hour window end", at: oneHour.Add(tolerance), want: 1},
		{name: "before one hour window", at: oneHour.Add(-tolerance - time.Nanosecond)},
		{name: "after one hour window", at: oneHour.Add(tolerance + time.Nanosecond)},
		{name: "one day before", at: oneDay, want: 1},
		{name: "one day window end", at: oneDay.Add(tolerance), want: 1},
		{name: "after one day window", at: oneDay.Add(tolerance + time.Nanosecond)},
		{name: "lesson time", at: lessonAt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t, amina)
			e.save(t, lessonsOnly(amina.ID))

			report := e.tick(t, tt.at)
			assert.Equal(t, tt.want, report.Sent[notification.KindLessonReminder])
			assert.Equal(t, tt.want, e.count(t, amina.ID, notification.KindLessonReminder))
			assert.Len(t, e.sink.Sent(), tt.want)
		})
	}
}

func TestScheduler_lessonReminderMessages(t *testing.T) {
	e := setup(t, amina)
	e.save(t, lessonsOnly(amina.ID))

	e.tick(t, lessonAt.Add(-24*time.Hour))
	e.tick(t, lessonAt.Add(-time.Hour))

	sent := e.sink.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages; want 2", len(sent))
	}
	assert.Equal(t, "🔔 Lesson reminder\n\nTomorrow at 18:00 you have the lesson 'Grammar'.", sent[0].Text)
	assert.Equal(t, "🔔 Lesson reminder\n\nYour lesson 'Grammar' starts in one hour (online).", sent[1].Text)
	assert.Equal(t, amina.ID, sent[1].UserID)
}

func TestScheduler_lessonReminderSentOnce(t *testing.T) {
	e := setup(t, amina)
	e.save(t, lessonsOnly(amina.ID))

	// three ticks fall in the one hour window
	for _, d := range []time.Duration{-tolerance, 0, tolerance} {
		e.tick(t, lessonAt.Add(-time.Hour+d))
	}
	assert.Equal(t, 1, e.count(t, amina.ID, notification.KindLessonReminder))

	// next week's occurrence is announced again
	e.tick(t, lessonAt.Add(7*24*time.Hour-time.Hour))
	assert.Equal(t, 2, e.count(t, amina.ID, notification.KindLessonReminder))
}

// weeklyEvents returns a weekly class the way the LMS calendars list it: one dated event per week.
func weeklyEvents(first time.Time, weeks int) lessonList {
	var events lessonList
	for w := 0; w < weeks; w++ {
		start := first.AddDate(0, 0, 7*w)
		events = append(events, lms.Lesson{
			ID:       fmt.Sprintf("%d", 40+w),
			Title:    "Grammar",
			Level:    lms.LevelAdvanced,
			StartsAt: start,
			Slot:     lms.SlotOf(start),
		})
	}
	return events
}

func TestScheduler_datedLessons(t *testing.T) {
	tests := []struct {
		name     string
		at       time.Time
		want     int
		wantText string
	}{
		{name: "tomorrow", at: lessonAt.Add(-24 * time.Hour), want: 1, wantText: "Tomorrow at 18:00 you have the lesson 'Grammar'."},
		{name: "in one hour", at: lessonAt.Add(-time.Hour), want: 1, wantText: "Your lesson 'Grammar' starts in one hour (online)."},
		{name: "next week", at: lessonAt.Add(6 * 24 * time.Hour), want: 1, wantText: "Tomorrow at 18:00 you have the lesson 'Grammar'."},
		{name: "after the last event", at: lessonAt.Add(27 * 24 * time.Hour), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &env{
				repo:    inmemdb.NewNotificationRepository(inmemdb.Open()),
				sink:    &recordingSink{},
				lessons: weeklyEvents(lessonAt, 4),
			}
			if _, err := e.repo.CreateUser(context.Background(), amina); err != nil {
				t.Fatalf("CreateUser() error = %v", err)
			}
			e.sched = e.newScheduler(t, e.repo)
			e.save(t, lessonsOnly(amina.ID))

			report := e.tick(t, tt.at)
			assert.Equal(t, tt.want, report.Sent[notification.KindLessonReminder])
			sent := e.sink.Sent()
			if assert.Len(t, sent, tt.want) && tt.want > 0 {
				assert.True(t, strings.HasSuffix(sent[0].Text, tt.wantText), sent[0].Text)
			}
		})
	}
}

func TestScheduler_oneOffEvent(t *testing.T) {
	e := &env{
		repo:    inmemdb.NewNotificationRepository(inmemdb.Open()),
		sink:    &recordingSink{},
		lessons: weeklyEvents(lessonAt.AddDate(0, 0, 21), 1),
	}
	if _, err := e.repo.CreateUser(context.Background(), amina); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	e.sched = e.newScheduler(t, e.repo)
	e.save(t, lessonsOnly(amina.ID))

	// same weekday and time as the event, three weeks before it
	report := e.tick(t, lessonAt.Add(-24*time.Hour))
	assert.Zero(t, report.TotalSent())

	report = e.tick(t, lessonAt.AddDate(0, 0, 21).Add(-24*time.Hour))
	assert.Equal(t, 1, report.Sent[notification.KindLessonReminder])
}

// simulateDays ticks every 5 minutes from Sunday 00:00 to Monday 23:55.
func simulateDays(t *testing.T, e *env) {
	start := time.Date(2021, 1, 3, 0, 0, 0, 0, msk)
	for at := start; at.Before(start.Add(48 * time.Hour)); at = at.Add(5 * time.Minute) {
		e.tick(t, at)
	}
}

func TestScheduler_simulatedDays(t *testing.T) {
	e := setup(t, amina, joe)
	disabled := notification.DefaultSettings(joe.ID)
	disabled.LessonReminders = false
	e.save(t, disabled)

	simulateDays(t, e)

	// amina has the defaults: one tomorrow & one one-hour reminder, one motivation a day
	assert.Equal(t, 2, e.count(t, amina.ID, notification.KindLessonReminder))
	assert.Equal(t, 2, e.count(t, amina.ID, notification.KindDailyMotivation))

	// joe opted out of lesson reminders
	assert.Equal(t, 0, e.count(t, joe.ID, notification.KindLessonReminder))
	assert.Equal(t, 2, e.count(t, joe.ID, notification.KindDailyMotivation))
	for _, msg := range e.sink.Sent() {
		if msg.UserID == joe.ID && strings.Contains(msg.Text, "Lesson reminder") {
			t.Errorf("lesson reminder sent to %s: %q", joe.ID, msg.Text)
		}
	}
}

func TestScheduler_dailyMotivation(t *testing.T) {
	nine := time.Date(2021, 1, 5, 9, 0, 0, 0, msk)

	tests := []struct {
		name  string
		ticks []time.Time
		want  int
	}{
		{name: "at reminder time", ticks: []time.Time{nine}, want: 1},
		{name: "late tick", ticks: []time.Time{nine.Add(7 * time.Minute)}, want: 1},
		{name: "window end", ticks: []time.Time{nine.Add(2 * tolerance)}, want: 1},
		{name: "too late", ticks: []time.Time{nine.Add(2*tolerance + time.Second)}},
		{name: "too early", ticks: []time.Time{nine.Add(-time.Second)}},
		{name: "jittery ticks", ticks: []time.Time{nine.Add(time.Second), nine.Add(4 * time.Minute), nine.Add(9 * time.Minute)}, want: 1},
		{name: "two days", ticks: []time.Time{nine, nine.Add(24 * time.Hour)}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t, amina)
			s := notification.DefaultSettings(amina.ID)
			s.LessonReminders = false
			s.Timezone = ""
			e.save(t, s)

			for _, at := range tt.ticks {
				e.tick(t, at)
			}
			assert.Equal(t, tt.want, e.count(t, amina.ID, notification.KindDailyMotivation))
		})
	}
}

func TestScheduler_dailyMotivationUserTimezone(t *testing.T) {
	e := setup(t, amina)
	s := notification.DefaultSettings(amina.ID)
	s.LessonReminders = false
	s.Timezone = "UTC"
	e.save(t, s)

	e.tick(t, time.Date(2021, 1, 5, 9, 0, 0, 0, msk))
	assert.Equal(t, 0, e.count(t, amina.ID, notification.KindDailyMotivation))

	e.tick(t, time.Date(2021, 1, 5, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, e.count(t, amina.ID, notification.KindDailyMotivation))
}

func TestScheduler_dispatchFailures(t *testing.T) {
	e := setup(t, amina, joe)
	e.save(t, lessonsOnly(amina.ID))
	e.save(t, lessonsOnly(joe.ID))
	e.sink.failFor = map[string]bool{amina.ID: true}

	report := e.tick(t, lessonAt.Add(-time.Hour))

	// amina's notification was persisted but not pushed: it still counts as sent
	assert.Equal(t, 2, report.Users)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 2, report.Sent[notification.KindLessonReminder])
	assert.Equal(t, 1, e.count(t, amina.ID, notification.KindLessonReminder))
	assert.Equal(t, []string{joe.ID}, recipients(e.sink.Sent()))
}

func TestScheduler_undeliveredIsRetried(t *testing.T) {
	e := setup(t, amina)
	e.save(t, lessonsOnly(amina.ID))
	e.sink.failFor = map[string]bool{amina.ID: true}
	e.sched = e.newScheduler(t, failingRepository{Repository: e.repo, failFor: map[string]bool{amina.ID: true}})

	report := e.tick(t, lessonAt.Add(-time.Hour-tolerance))
	assert.Equal(t, 0, report.TotalSent())
	assert.Equal(t, 1, report.Failures)

	// both effects work again: the next tick of the window catches up
	e.sink.failFor = nil
	e.sched = e.newScheduler(t, e.repo)
	report = e.tick(t, lessonAt.Add(-time.Hour))
	assert.Equal(t, 1, report.Sent[notification.KindLessonReminder])
	assert.Equal(t, []string{amina.ID}, recipients(e.sink.Sent()))
}

func recipients(msgs []message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.UserID)
	}
	return ids
}

func TestScheduler_NotifyNewTest(t *testing.T) {
	e := setup(t, amina, joe)
	optedOut := notification.DefaultSettings(joe.ID)
	optedOut.TestNotifications = false
	e.save(t, optedOut)

	tests := []struct {
		name     string
		userID   string
		wantSent bool
		wantErr  error
	}{
		{name: "enabled", userID: amina.ID, wantSent: true},
		{name: "opted out", userID: joe.ID},
		{name: "unknown user", userID: "404", wantErr: notification.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent, err := e.sched.NotifyNewTest(context.Background(), tt.userID, "Present Perfect")
			if errors.Cause(err) != tt.wantErr {
				t.Fatalf("NotifyNewTest() error = %v; want %v", err, tt.wantErr)
			}
			if sent != tt.wantSent {
				t.Errorf("NotifyNewTest() = %v; want %v", sent, tt.wantSent)
			}
		})
	}

	assert.Equal(t, []message{{
		UserID: amina.ID,
		Text:   "📝 New test available\n\nTake the test 'Present Perfect' to earn points and check your knowledge.",
	}}, e.sink.Sent())
}

func TestScheduler_RemindClub(t *testing.T) {
	e := setup(t, amina)
	e.now = time.Date(2021, 1, 5, 12, 0, 0, 0, msk)

	sent, err := e.sched.RemindClub(context.Background(), amina.ID, "Speaking", lms.TimeOfDay{Hour: 19})
	if err != nil || !sent {
		t.Fatalf("RemindClub() = %v, %v; want true, nil", sent, err)
	}

	notifs, _ := e.repo.FilterNotifications(context.Background(), notification.QueryFilter{UserID: amina.ID})
	if len(notifs) != 1 {
		t.Fatalf("persisted %d notifications; want 1", len(notifs))
	}
	assert.Equal(t, notification.KindClubReminder, notifs[0].Kind)
	assert.Equal(t, "The 'Speaking' club meets today at 19:00.", notifs[0].Message)
	assert.True(t, notifs[0].ScheduledAt.Equal(time.Date(2021, 1, 5, 19, 0, 0, 0, msk)))
}

func TestScheduler_StartStop(t *testing.T) {
	e := setup(t, amina)
	ticks := make(chan time.Duration, 1)
	sched, err := notification.New(e.repo, lessonList{}, e.sink, logsvc.NewNopLogger(), notification.Options{
		Location: msk,
		Now:      func() time.Time { return lessonAt },
		After: func(d time.Duration) <-chan time.Time {
			select {
			case ticks <- d:
			default:
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	assert.False(t, sched.Stop())
	assert.True(t, sched.Start())
	assert.False(t, sched.Start())

	select {
	case d := <-ticks:
		assert.Equal(t, notification.DefaultTick, d)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first tick")
	}

	assert.True(t, sched.Stop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = sched.Wait(ctx); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	assert.False(t, sched.Running())
}
