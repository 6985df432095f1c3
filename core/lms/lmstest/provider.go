// Package lmstest provides an in-memory lms.Provider for tests.
package lmstest

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/lessonsync/core/lms"
)

// Provider is a scriptable lms.Provider. The zero value is healthy and serves nothing.
type Provider struct {
	Kind string

	mu        sync.Mutex
	unhealthy bool
	students  []lms.Student
	lessons   []lms.Lesson
	progress  map[string]lms.Progress
	tests     []lms.Test
	errs      map[string]error
	calls     map[string]int
	bookings  []Booking
	results   map[string]lms.TestResult

	// Block, when set, is received from by GetStudents before it returns.
	Block chan struct{}
	// Started, when set, is sent to (non-blocking) when GetStudents is entered.
	Started chan struct{}
}

type Booking struct {
	StudentID string
	LessonID  string
	Date      time.Time
}

var _ lms.Provider = (*Provider)(nil)

func New(kind string) *Provider {
	return &Provider{Kind: kind}
}

func (p *Provider) SetHealthy(healthy bool) {
	p.mu.Lock()
	p.unhealthy = !healthy
	p.mu.Unlock()
}

func (p *Provider) SetStudents(students ...lms.Student) {
	p.mu.Lock()
	p.students = students
	p.mu.Unlock()
}

func (p *Provider) SetLessons(lessons ...lms.Lesson) {
	p.mu.Lock()
	p.lessons = lessons
	p.mu.Unlock()
}

func (p *Provider) SetProgress(progress ...lms.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = make(map[string]lms.Progress, len(progress))
	for _, pr := range progress {
		p.progress[pr.StudentID] = pr
	}
}

func (p *Provider) SetTests(tests ...lms.Test) {
	p.mu.Lock()
	p.tests = tests
	p.mu.Unlock()
}

// Fail makes op ("GetStudents", "GetLessons", ...) return err. A nil err clears the failure.
func (p *Provider) Fail(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.errs == nil {
		p.errs = make(map[string]error)
	}
	if err == nil {
		delete(p.errs, op)
		return
	}
	p.errs[op] = err
}

// Calls returns how many times op was called.
func (p *Provider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *Provider) Bookings() []Booking {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Booking(nil), p.bookings...)
}

func (p *Provider) Result(studentID, testID string) (lms.TestResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.results[studentID+"/"+testID]
	return res, ok
}

func (p *Provider) call(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[op]++
	return p.errs[op]
}

func (p *Provider) ID() string {
	if p.Kind == "" {
		return "fake"
	}
	return p.Kind
}

func (p *Provider) HealthCheck(ctx context.Context) bool {
	_ = p.call("HealthCheck")
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unhealthy
}

func (p *Provider) GetStudents(ctx context.Context) ([]lms.Student, error) {
	if p.Started != nil {
		select {
		case p.Started <- struct{}{}:
		default:
		}
	}
	if p.Block != nil {
		select {
		case <-p.Block:
		case <-ctx.Done():
			return nil, lms.NewTransientError("GetStudents", ctx.Err())
		}
	}
	if err := p.call("GetStudents"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]lms.Student(nil), p.students...), nil
}

func (p *Provider) GetLessons(ctx context.Context, from, to time.Time) ([]lms.Lesson, error) {
	if err := p.call("GetLessons"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	lessons := make([]lms.Lesson, 0, len(p.lessons))
	for _, l := range p.lessons {
		if !from.IsZero() && !l.StartsAt.IsZero() && l.StartsAt.Before(from) {
			continue
		}
		if !to.IsZero() && !l.StartsAt.IsZero() && l.StartsAt.After(to) {
			continue
		}
		lessons = append(lessons, l)
	}
	return lessons, nil
}

func (p *Provider) GetStudentProgress(ctx context.Context, studentID string) (lms.Progress, error) {
	if err := p.call("GetStudentProgress"); err != nil {
		return lms.Progress{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr, ok := p.progress[studentID]; ok {
		return pr, nil
	}
	return lms.Progress{StudentID: studentID}, nil
}

func (p *Provider) GetTests(ctx context.Context, studentID string) ([]lms.Test, error) {
	if err := p.call("GetTests"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]lms.Test(nil), p.tests...), nil
}

func (p *Provider) CreateBooking(ctx context.Context, studentID, lessonID string, date time.Time) (bool, error) {
	if err := p.call("CreateBooking"); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bookings = append(p.bookings, Booking{StudentID: studentID, LessonID: lessonID, Date: date})
	return true, nil
}

func (p *Provider) SubmitTestResult(ctx context.Context, studentID, testID string, result lms.TestResult) (bool, error) {
	if err := p.call("SubmitTestResult"); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.results == nil {
		p.results = make(map[string]lms.TestResult)
	}
	p.results[studentID+"/"+testID] = result
	return true, nil
}
