package lmssync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
)

const (
	DefaultInterval      = 5 * time.Minute
	DefaultErrorBackoff  = time.Minute
	DefaultLessonHorizon = 30 * 24 * time.Hour
)

type Options struct {
	Interval      time.Duration
	ErrorBackoff  time.Duration
	CallTimeout   time.Duration
	LessonHorizon time.Duration
	AutoStart     bool        // Service: start the loop as soon as a provider is configured
	Recorder      RunRecorder // optional

	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = DefaultErrorBackoff
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = lms.DefaultTimeout
	}
	if o.LessonHorizon <= 0 {
		o.LessonHorizon = DefaultLessonHorizon
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.After == nil {
		o.After = time.After
	}
	return o
}

// Orchestrator periodically pulls everything from one provider into the Store.
// Periodic and manual batches are single-flight: at most one batch writes to the Store at a time.
// Once retired, it neither starts a batch nor writes to the Store.
type Orchestrator struct {
	provider lms.Provider
	store    *Store
	logger   core.Logger
	opts     Options
	flight   singleflight.Group

	mu        sync.Mutex
	running   bool
	stopped   bool
	retired   bool
	syncing   bool
	backoff   bool
	healthy   bool
	lastSync  time.Time
	lastRun   *Run
	stop      chan struct{}
	done      chan struct{}
	batchDone chan struct{} // closed when the last batch returns
}

func NewOrchestrator(provider lms.Provider, store *Store, logger core.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		store:    store,
		logger:   logger,
		opts:     opts.withDefaults(),
	}
}

func (o *Orchestrator) ProviderID() string { return o.provider.ID() }

// Start launches the sync loop. It returns false if the loop is already running.
func (o *Orchestrator) Start() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running || o.retired {
		return false
	}
	o.running, o.stopped, o.backoff = true, false, false
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	go o.loop(o.stop, o.done)

	o.logger.Info(fmt.Sprintf("%s sync started: every %v", o.provider.ID(), o.opts.Interval))
	return true
}

// Stop asks the loop to exit. A batch in flight is allowed to finish. It returns false if the loop was not running.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.stopLocked()
}

func (o *Orchestrator) stopLocked() bool {
	if !o.running {
		return false
	}
	o.running, o.stopped, o.backoff = false, true, false
	close(o.stop)

	o.logger.Info(fmt.Sprintf("%s sync stopped", o.provider.ID()))
	return true
}

// retire stops the loop for good and fences the Store: whatever batch is still in flight
// can no longer write to it.
func (o *Orchestrator) retire() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopLocked()
	o.retired = true
}

// Drain waits for the loop to exit and for the batch in flight, if any, to return.
func (o *Orchestrator) Drain(ctx context.Context) error {
	if err := o.Wait(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	batch := o.batchDone
	o.mu.Unlock()

	if batch == nil {
		return nil
	}
	select {
	case <-batch:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for sync batch")
	}
}

// Wait blocks until the loop has exited or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for sync loop")
	}
}

func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		ProviderID: o.provider.ID(),
		Configured: true,
		Healthy:    o.healthy,
		Running:    o.running,
		Interval:   o.opts.Interval,
	}
	switch {
	case o.syncing:
		st.State = StateSyncing
	case o.stopped:
		st.State = StateStopped
	case o.backoff:
		st.State = StateBackoffWait
	default:
		st.State = StateIdle
	}
	if !o.lastSync.IsZero() {
		last := o.lastSync
		st.LastSync = &last
	}
	if o.lastRun != nil {
		run := *o.lastRun
		st.LastRun = &run
	}
	return st
}

func (o *Orchestrator) loop(stop, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		wait := o.opts.Interval
		_, err := o.sync(context.Background())
		if err != nil {
			wait = o.opts.ErrorBackoff
			o.logger.Warn(fmt.Sprintf("%s sync failed, retrying in %v: %v", o.provider.ID(), wait, err))
		}
		o.mu.Lock()
		select {
		case <-stop:
			// stopped during the batch: the state belongs to whoever restarts the loop
		default:
			o.backoff = err != nil
		}
		o.mu.Unlock()

		select {
		case <-stop:
			return
		case <-o.opts.After(wait):
		}
	}
}

// ManualSync runs a batch now, or joins the one in flight.
// An unhealthy provider is reported as a Failure run along with ErrUnhealthy.
func (o *Orchestrator) ManualSync(ctx context.Context) (Run, error) {
	return o.sync(ctx)
}

func (o *Orchestrator) sync(ctx context.Context) (Run, error) {
	ch := o.flight.DoChan(o.provider.ID(), func() (v interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				o.mu.Lock()
				o.syncing = false
				o.mu.Unlock()
				err = errors.Errorf("sync batch panicked: %v", r)
			}
		}()
		return o.runBatch()
	})
	select {
	case res := <-ch:
		run, _ := res.Val.(Run)
		return run, res.Err
	case <-ctx.Done():
		return Run{}, errors.Wrap(ctx.Err(), "waiting for sync batch")
	}
}

// callCtx bounds a single provider call. Stop never cancels it.
func (o *Orchestrator) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.opts.CallTimeout)
}

func (o *Orchestrator) runBatch() (Run, error) {
	o.mu.Lock()
	if o.retired {
		o.mu.Unlock()
		return Run{}, ErrProviderReplaced
	}
	o.syncing = true
	done := make(chan struct{})
	o.batchDone = done
	o.mu.Unlock()
	defer close(done)

	run := Run{
		ID:        uuid.New().String(),
		Provider:  o.provider.ID(),
		StartedAt: o.opts.Now(),
		Counts:    make(map[string]int),
	}

	if n := o.store.Sweep(); n > 0 {
		o.logger.Debug(fmt.Sprintf("swept %d expired cache entries", n))
	}

	ctx, cancel := o.callCtx()
	healthy := o.provider.HealthCheck(ctx)
	cancel()

	if !healthy {
		run.Outcome = Outcome{Kind: OutcomeFailure, Reason: ErrUnhealthy.Error()}
		o.finish(&run, false, false)
		return run, ErrUnhealthy
	}

	var failed []string
	for _, sub := range []struct {
		name string
		fn   func() (int, error)
	}{
		{SyncStudents, o.syncStudents},
		{SyncLessons, o.syncLessons},
		{SyncProgress, o.syncProgress},
		{SyncTests, o.syncTests},
	} {
		if err := o.guard(sub.name, &run, sub.fn); err != nil {
			failed = append(failed, sub.name)
		}
		if o.isRetired() {
			break
		}
	}

	if len(failed) > 0 {
		run.Outcome = Outcome{Kind: OutcomePartialFailure, Failed: failed}
	} else {
		run.Outcome = Outcome{Kind: OutcomeSuccess}
	}
	o.finish(&run, true, true)
	return run, nil
}

// guard runs one sub-sync, turning panics into errors, and records its item count.
func (o *Orchestrator) guard(name string, run *Run, fn func() (int, error)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
		if err != nil {
			o.logger.Error(fmt.Sprintf("syncing %s from %s: %v", name, o.provider.ID(), err), err)
		}
	}()

	n, err := fn()
	if err == nil {
		run.Counts[name] = n
	}
	return err
}

func (o *Orchestrator) syncStudents() (int, error) {
	ctx, cancel := o.callCtx()
	defer cancel()

	students, err := o.provider.GetStudents(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "getting students")
	}
	return len(students), o.commit(func() { o.store.PutStudents(students) })
}

func (o *Orchestrator) syncLessons() (int, error) {
	ctx, cancel := o.callCtx()
	defer cancel()

	from := o.opts.Now()
	lessons, err := o.provider.GetLessons(ctx, from, from.Add(o.opts.LessonHorizon))
	if err != nil {
		return 0, errors.Wrap(err, "getting lessons")
	}
	return len(lessons), o.commit(func() { o.store.PutLessons(lessons) })
}

// syncProgress refreshes the progress of the cached students (those of this batch unless the students sub-sync failed).
// Students whose progress could not be fetched keep their previous entry, which still expires on time,
// and fail the sub-sync.
func (o *Orchestrator) syncProgress() (int, error) {
	list := o.store.Students()
	progress := make([]lms.Progress, 0, len(list))
	var kept []string
	var lastErr error
	for _, st := range list {
		ctx, cancel := o.callCtx()
		pr, err := o.provider.GetStudentProgress(ctx, st.ID)
		cancel()
		if err != nil {
			kept = append(kept, st.ID)
			lastErr = err
			continue
		}
		pr.StudentID = st.ID
		progress = append(progress, pr)
	}
	if err := o.commit(func() { o.store.PutProgress(progress, kept...) }); err != nil {
		return 0, err
	}

	if len(kept) > 0 {
		return len(progress), errors.Wrapf(lastErr, "getting progress of %d/%d students", len(kept), len(list))
	}
	return len(progress), nil
}

func (o *Orchestrator) syncTests() (int, error) {
	ctx, cancel := o.callCtx()
	defer cancel()

	tests, err := o.provider.GetTests(ctx, "")
	if err != nil {
		return 0, errors.Wrap(err, "getting tests")
	}
	return len(tests), o.commit(func() { o.store.PutTests(tests) })
}

// commit applies a write to the Store unless the orchestrator was retired.
func (o *Orchestrator) commit(write func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.retired {
		return ErrProviderReplaced
	}
	write()
	return nil
}

func (o *Orchestrator) isRetired() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retired
}

// finish records the run. attempted batches move lastSync, whatever their outcome.
func (o *Orchestrator) finish(run *Run, healthy, attempted bool) {
	run.FinishedAt = o.opts.Now()

	o.mu.Lock()
	o.syncing = false
	o.healthy = healthy
	if attempted {
		o.lastSync = run.FinishedAt
	}
	last := *run
	o.lastRun = &last
	o.mu.Unlock()

	if o.opts.Recorder != nil {
		ctx, cancel := o.callCtx()
		defer cancel()
		if err := o.opts.Recorder.SaveSyncRun(ctx, *run); err != nil {
			o.logger.Error(fmt.Sprintf("saving sync run: %v", err), err)
		}
	}
	o.logger.Info(fmt.Sprintf("%s sync %s: %s %v", run.Provider, run.ID, run.Outcome.Kind, run.Counts))
}
