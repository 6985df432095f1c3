package lmssync

import (
	"time"

	"github.com/trezcool/lessonsync/core/cache"
	"github.com/trezcool/lessonsync/core/lms"
)

// Store holds the last synchronized LMS data. Reads never reach the provider.
type Store struct {
	students *cache.TTL[string, lms.Student]
	lessons  *cache.TTL[string, lms.Lesson]
	progress *cache.TTL[string, lms.Progress]
	tests    *cache.TTL[string, lms.Test]
}

func NewStore(ttl time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		students: cache.New[string, lms.Student](ttl, cache.WithClock[string, lms.Student](now)),
		lessons:  cache.New[string, lms.Lesson](ttl, cache.WithClock[string, lms.Lesson](now)),
		progress: cache.New[string, lms.Progress](ttl, cache.WithClock[string, lms.Progress](now)),
		tests:    cache.New[string, lms.Test](ttl, cache.WithClock[string, lms.Test](now)),
	}
}

func (s *Store) PutStudents(students []lms.Student) {
	s.students.PutAll(students, func(st lms.Student) string { return st.ID })
}

func (s *Store) PutLessons(lessons []lms.Lesson) {
	s.lessons.PutAll(lessons, func(l lms.Lesson) string { return l.ID })
}

// PutProgress replaces the cached progress. The entries of the keep students are carried over
// as they are, expiring when they would have.
func (s *Store) PutProgress(progress []lms.Progress, keep ...string) {
	s.progress.PutAllKeeping(progress, func(p lms.Progress) string { return p.StudentID }, keep)
}

func (s *Store) PutTests(tests []lms.Test) {
	s.tests.PutAll(tests, func(t lms.Test) string { return t.ID })
}

func (s *Store) Students() []lms.Student {
	return s.students.GetAllValid(nil)
}

func (s *Store) Student(id string) (lms.Student, error) {
	st, ok := s.students.Get(id)
	if !ok {
		return lms.Student{}, ErrNotFound
	}
	return st, nil
}

// Lessons returns the cached lessons, only those of level if it is not empty.
func (s *Store) Lessons(level string) []lms.Lesson {
	if level == "" {
		return s.lessons.GetAllValid(nil)
	}
	return s.lessons.GetAllValid(func(l lms.Lesson) bool { return l.Level == level })
}

func (s *Store) Progress(studentID string) (lms.Progress, error) {
	pr, ok := s.progress.Get(studentID)
	if !ok {
		return lms.Progress{}, ErrNotFound
	}
	return pr, nil
}

// Tests returns the cached tests, only those of level if it is not empty.
func (s *Store) Tests(level string) []lms.Test {
	if level == "" {
		return s.tests.GetAllValid(nil)
	}
	return s.tests.GetAllValid(func(t lms.Test) bool { return t.Level == level })
}

// Sweep drops the expired entries of every cache and returns how many were removed.
func (s *Store) Sweep() int {
	return s.students.SweepExpired() + s.lessons.SweepExpired() + s.progress.SweepExpired() + s.tests.SweepExpired()
}
