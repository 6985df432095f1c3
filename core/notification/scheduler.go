package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
)

const (
	DefaultTick        = 5 * time.Minute
	DefaultTolerance   = 5 * time.Minute
	DefaultCallTimeout = 30 * time.Second
)

var ErrToleranceTooSmall = errors.New("tolerance must be at least half the tick interval")

// reminder leads: a lesson is announced one day and one hour before it starts
var leads = []struct {
	name string
	lead time.Duration
}{
	{"24h", 24 * time.Hour},
	{"1h", time.Hour},
}

type Options struct {
	Tick        time.Duration
	Tolerance   time.Duration
	CallTimeout time.Duration  // bounds the two effects of a dispatch
	Location    *time.Location // lessons are scheduled in this time zone

	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.After == nil {
		o.After = time.After
	}
	return o
}

// DispatchError reports the failed effects of one notification. Each effect fails independently.
type DispatchError struct {
	UserID     string
	Kind       string
	PersistErr error
	SendErr    error
}

func (e *DispatchError) Error() string {
	var causes []string
	if e.PersistErr != nil {
		causes = append(causes, "persisting: "+e.PersistErr.Error())
	}
	if e.SendErr != nil {
		causes = append(causes, "sending: "+e.SendErr.Error())
	}
	return fmt.Sprintf("dispatching %s to %s: %s", e.Kind, e.UserID, strings.Join(causes, "; "))
}

// Delivered reports whether at least one effect went through.
func (e *DispatchError) Delivered() bool {
	return e.PersistErr == nil || e.SendErr == nil
}

// TickReport sums up one evaluation of every user.
type TickReport struct {
	Users    int            `json:"users"`
	Sent     map[string]int `json:"sent"` // by kind
	Failures int            `json:"failures"`
}

func (r TickReport) TotalSent() int {
	var n int
	for _, c := range r.Sent {
		n += c
	}
	return n
}

// Scheduler decides, once per tick, which users are due a message and dispatches it.
type Scheduler struct {
	repo    Repository
	lessons LessonReader
	sink    Sink
	logger  core.Logger
	opts    Options

	tick sync.Mutex // one evaluation at a time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New returns ErrToleranceTooSmall if a tick could step over a whole window.
func New(repo Repository, lessons LessonReader, sink Sink, logger core.Logger, opts Options) (*Scheduler, error) {
	opts = opts.withDefaults()
	if 2*opts.Tolerance < opts.Tick {
		return nil, errors.Wrapf(ErrToleranceTooSmall, "tick %v, tolerance %v", opts.Tick, opts.Tolerance)
	}
	return &Scheduler{
		repo:    repo,
		lessons: lessons,
		sink:    sink,
		logger:  logger,
		opts:    opts,
	}, nil
}

// Start launches the loop. It returns false if it is already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)

	s.logger.Info(fmt.Sprintf("notification scheduler started: every %v", s.opts.Tick))
	return true
}

// Stop asks the loop to exit after the evaluation in progress. It returns false if it was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	s.running = false
	close(s.stop)

	s.logger.Info("notification scheduler stopped")
	return true
}

// Wait blocks until the loop has exited or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for notification scheduler")
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(stop, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		report, err := s.RunOnce(context.Background())
		if err != nil {
			s.logger.Error(fmt.Sprintf("notification tick: %v", err), err)
		} else if report.TotalSent() > 0 || report.Failures > 0 {
			s.logger.Info(fmt.Sprintf("notification tick: %d users, sent %v, %d failures", report.Users, report.Sent, report.Failures))
		}

		select {
		case <-stop:
			return
		case <-s.opts.After(s.opts.Tick):
		}
	}
}

// RunOnce evaluates every user now. Only the failure to list the users is returned:
// per-user failures are logged and counted in the report.
func (s *Scheduler) RunOnce(ctx context.Context) (TickReport, error) {
	s.tick.Lock()
	defer s.tick.Unlock()

	report := TickReport{Sent: make(map[string]int)}
	now := s.opts.Now()

	users, err := s.repo.QueryAllUsers(ctx)
	if err != nil {
		return report, errors.Wrap(err, "querying users")
	}
	for _, usr := range users {
		report.Users++
		s.evaluate(ctx, usr, now, &report)
	}
	return report, nil
}

func (s *Scheduler) evaluate(ctx context.Context, usr User, now time.Time, report *TickReport) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("panic: %v", r)
			s.logger.Error(fmt.Sprintf("evaluating notifications of user %s: %v", usr.ID, err), err)
			report.Failures++
		}
	}()

	settings, err := settingsOf(ctx, s.repo, usr.ID)
	if err != nil {
		s.logger.Error(fmt.Sprintf("loading settings of user %s: %v", usr.ID, err), err)
		report.Failures++
		return
	}
	if settings.LessonReminders {
		s.remindLessons(ctx, usr, now, report)
	}
	if settings.DailyMotivation {
		s.motivate(ctx, usr, settings, now, report)
	}
}

// remindLessons announces the next occurrence of every lesson at the user's level,
// once per (lesson, lead, occurrence).
func (s *Scheduler) remindLessons(ctx context.Context, usr User, now time.Time, report *TickReport) {
	local := now.In(s.opts.Location)
	for _, lesson := range s.lessons.Lessons(usr.Level) {
		occ := occurrence(lesson, local)
		for _, l := range leads {
			target := occ.Add(-l.lead)
			if !NewWindow(target, s.opts.Tolerance).Contains(now) {
				continue
			}

			key := fmt.Sprintf("%s:%s:%s", KindLessonReminder, lesson.ID, l.name)
			if s.alreadySent(ctx, usr.ID, key, func(last time.Time) bool { return last.Equal(occ) }) {
				continue
			}

			title, msg := lessonSoonMessage(lesson)
			if l.lead == 24*time.Hour {
				title, msg = lessonTomorrowMessage(lesson, occ)
			}
			s.send(ctx, usr.ID, KindLessonReminder, title, msg, target, key, occ, report)
		}
	}
}

// occurrence returns when lesson takes place next: its own start if it is a dated event,
// the next occurrence of its weekly slot otherwise.
func occurrence(lesson lms.Lesson, local time.Time) time.Time {
	if !lesson.StartsAt.IsZero() {
		return lesson.StartsAt.In(local.Location())
	}
	return lesson.Slot.Next(local)
}

// motivate sends the daily message once per local day, within [reminderTime, reminderTime + 2*tolerance].
func (s *Scheduler) motivate(ctx context.Context, usr User, settings Settings, now time.Time, report *TickReport) {
	loc := settings.Location(s.opts.Location)
	local := now.In(loc)

	at, err := lms.ParseTimeOfDay(settings.ReminderTime)
	if err != nil {
		at, _ = lms.ParseTimeOfDay(DefaultReminderTime)
	}

	// the window of yesterday may still be open right after midnight
	for _, day := range []int{0, -1} {
		target := at.On(local.AddDate(0, 0, day))
		if !(Window{Start: target, End: target.Add(2 * s.opts.Tolerance)}).Contains(local) {
			continue
		}

		key := KindDailyMotivation
		if s.alreadySent(ctx, usr.ID, key, func(last time.Time) bool { return sameDate(last, target, loc) }) {
			return
		}
		title, msg := motivationMessage(target)
		s.send(ctx, usr.ID, KindDailyMotivation, title, msg, target, key, target, report)
		return
	}
}

// alreadySent reports whether the marker at key was already set for what seen recognizes.
// A marker that cannot be read counts as sent.
func (s *Scheduler) alreadySent(ctx context.Context, userID, key string, seen func(last time.Time) bool) bool {
	last, err := s.repo.GetLastSent(ctx, userID, key)
	switch {
	case err == ErrNotFound:
		return false
	case err != nil:
		s.logger.Warn(fmt.Sprintf("reading marker %s of user %s: %v", key, userID, err))
		return true
	}
	return seen(last)
}

// send dispatches and, if anything was delivered, sets the marker at key to markAt.
func (s *Scheduler) send(ctx context.Context, userID, kind, title, msg string, scheduledAt time.Time, key string, markAt time.Time, report *TickReport) {
	if dErr := s.dispatch(ctx, userID, kind, title, msg, scheduledAt); dErr != nil {
		report.Failures++
		if !dErr.Delivered() {
			return
		}
	}
	report.Sent[kind]++

	if err := s.repo.SetLastSent(ctx, userID, key, markAt); err != nil {
		s.logger.Error(fmt.Sprintf("setting marker %s of user %s: %v", key, userID, err), err)
	}
}

// dispatch persists the notification then pushes it to the sink. Neither effect undoes the other.
func (s *Scheduler) dispatch(ctx context.Context, userID, kind, title, msg string, scheduledAt time.Time) *DispatchError {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	now := s.opts.Now().UTC()
	notif := Notification{
		UserID:      userID,
		Kind:        kind,
		Title:       title,
		Message:     msg,
		ScheduledAt: scheduledAt.UTC(),
		SentAt:      now,
		CreatedAt:   now,
	}

	dErr := &DispatchError{UserID: userID, Kind: kind}
	if _, err := s.repo.CreateNotification(ctx, notif); err != nil {
		dErr.PersistErr = err
	}
	if err := s.sink.SendMessage(ctx, userID, notif.Text()); err != nil {
		dErr.SendErr = err
	}
	if dErr.PersistErr == nil && dErr.SendErr == nil {
		return nil
	}
	s.logger.Error(dErr.Error(), dErr)
	return dErr
}

// NotifyNewTest tells the user that test is available. It returns false if the user opted out.
func (s *Scheduler) NotifyNewTest(ctx context.Context, userID, test string) (bool, error) {
	title, msg := newTestMessage(test)
	return s.notify(ctx, userID, KindTestNotification, title, msg, s.opts.Now())
}

// RemindClub reminds the user of the club meeting today at the given time. It returns false if the user opted out.
func (s *Scheduler) RemindClub(ctx context.Context, userID, club string, at lms.TimeOfDay) (bool, error) {
	title, msg := clubMessage(club, at)
	return s.notify(ctx, userID, KindClubReminder, title, msg, at.On(s.opts.Now().In(s.opts.Location)))
}

func (s *Scheduler) notify(ctx context.Context, userID, kind, title, msg string, scheduledAt time.Time) (bool, error) {
	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		return false, err
	}
	settings, err := settingsOf(ctx, s.repo, userID)
	if err != nil {
		return false, errors.Wrapf(err, "loading settings of user %s", userID)
	}
	if !settings.Enabled(kind) {
		return false, nil
	}
	if dErr := s.dispatch(ctx, userID, kind, title, msg, scheduledAt); dErr != nil {
		return dErr.Delivered(), dErr
	}
	return true, nil
}
