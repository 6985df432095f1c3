package lmssync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
)

// ProviderFactory builds a provider adapter from its config.
type ProviderFactory interface {
	New(conf lms.Config) (lms.Provider, error)
}

// Service is the operational surface of the synchronization: it owns the active Orchestrator
// and serves the cached data.
type Service struct {
	factory ProviderFactory
	store   *Store
	logger  core.Logger
	opts    Options

	configuring sync.Mutex // one Configure at a time

	mu   sync.Mutex
	orch *Orchestrator
}

func NewService(factory ProviderFactory, store *Store, logger core.Logger, opts Options) *Service {
	return &Service{
		factory: factory,
		store:   store,
		logger:  logger,
		opts:    opts.withDefaults(),
	}
}

func (svc *Service) current() (*Orchestrator, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.orch == nil {
		return nil, ErrNotConfigured
	}
	return svc.orch, nil
}

// Configure switches to the provider described by conf. The previous orchestrator is retired, so that
// only the new provider writes to the Store from then on, and drained for up to one call timeout.
// The new loop is started if the previous was running or AutoStart is set.
// An invalid conf leaves the current provider in place.
func (svc *Service) Configure(ctx context.Context, conf lms.Config) error {
	provider, err := svc.factory.New(conf)
	if err != nil {
		return errors.Wrap(err, "building provider")
	}

	svc.configuring.Lock()
	defer svc.configuring.Unlock()

	next := NewOrchestrator(provider, svc.store, svc.logger, svc.opts)
	start := svc.opts.AutoStart

	svc.mu.Lock()
	old := svc.orch
	if old != nil {
		start = start || old.Running()
		old.retire()
	}
	svc.orch = next
	svc.mu.Unlock()

	if old != nil {
		waitCtx, cancel := context.WithTimeout(ctx, svc.opts.CallTimeout)
		err = old.Drain(waitCtx)
		cancel()
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("previous %s sync did not drain, its writes are dropped: %v", old.ProviderID(), err))
		}
	}

	svc.logger.Info(fmt.Sprintf("LMS provider configured: %s", provider.ID()))
	if start {
		next.Start()
	}
	return nil
}

// Start starts the sync loop. It returns false if it was already running.
func (svc *Service) Start() (bool, error) {
	orch, err := svc.current()
	if err != nil {
		return false, err
	}
	return orch.Start(), nil
}

// Stop stops the sync loop. It returns false if it was not running.
func (svc *Service) Stop() (bool, error) {
	orch, err := svc.current()
	if err != nil {
		return false, err
	}
	return orch.Stop(), nil
}

// ManualSync runs a batch on the active provider. A call that raced a Configure is retried on the new provider.
func (svc *Service) ManualSync(ctx context.Context) (Run, error) {
	orch, err := svc.current()
	if err != nil {
		return Run{}, err
	}
	run, err := orch.ManualSync(ctx)
	if err == ErrProviderReplaced {
		if next, cErr := svc.current(); cErr == nil && next != orch {
			return next.ManualSync(ctx)
		}
	}
	return run, err
}

func (svc *Service) Status() Status {
	orch, err := svc.current()
	if err != nil {
		return Status{State: StateStopped, Interval: svc.opts.Interval}
	}
	return orch.Status()
}

// Shutdown stops the sync loop and waits for it and the batch in flight, for at most one call timeout.
func (svc *Service) Shutdown(ctx context.Context) error {
	orch, err := svc.current()
	if err != nil {
		return nil
	}
	orch.Stop()

	ctx, cancel := context.WithTimeout(ctx, svc.opts.CallTimeout)
	defer cancel()
	return orch.Drain(ctx)
}

// History returns the recorded sync runs.
func (svc *Service) History(ctx context.Context, filter RunFilter) ([]Run, error) {
	if svc.opts.Recorder == nil {
		return []Run{}, nil
	}
	for _, ord := range filter.Ordering {
		if !RunOrderingFields[ord.Field] {
			return nil, core.NewValidationError(
				errors.New("invalid ordering"),
				core.FieldError{Field: "ordering", Error: fmt.Sprintf("cannot order by %q", ord.Field)},
			)
		}
	}
	runs, err := svc.opts.Recorder.QuerySyncRuns(ctx, filter)
	return runs, errors.Wrap(err, "querying sync runs")
}

func (svc *Service) Students() []lms.Student {
	return svc.store.Students()
}

func (svc *Service) Student(id string) (lms.Student, error) {
	return svc.store.Student(id)
}

func (svc *Service) Lessons(level string) []lms.Lesson {
	return svc.store.Lessons(level)
}

func (svc *Service) Progress(studentID string) (lms.Progress, error) {
	return svc.store.Progress(studentID)
}

func (svc *Service) Tests(level string) []lms.Test {
	return svc.store.Tests(level)
}

// Book books lessonID for studentID on the active provider.
func (svc *Service) Book(ctx context.Context, studentID, lessonID string, date time.Time) (bool, error) {
	orch, err := svc.current()
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, svc.opts.CallTimeout)
	defer cancel()
	return orch.provider.CreateBooking(ctx, studentID, lessonID, date)
}

// SubmitTestResult sends the result of a test taken by studentID to the active provider.
func (svc *Service) SubmitTestResult(ctx context.Context, studentID, testID string, result lms.TestResult) (bool, error) {
	orch, err := svc.current()
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, svc.opts.CallTimeout)
	defer cancel()
	return orch.provider.SubmitTestResult(ctx, studentID, testID, result)
}
