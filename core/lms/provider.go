// Package lms defines the canonical learning-management entities and the Provider capability
// every LMS adapter implements.
package lms

import (
	"context"
	"time"
)

const DefaultTimeout = 30 * time.Second

type (
	// Provider is a remote learning-management system.
	// All errors returned are *ProviderError.
	Provider interface {
		// ID returns the provider kind ("moodle", "canvas").
		ID() string
		// HealthCheck reports whether the provider is reachable. It never fails.
		HealthCheck(ctx context.Context) bool
		GetStudents(ctx context.Context) ([]Student, error)
		// GetLessons returns the lessons starting within [from, to]. Zero times leave the range open.
		GetLessons(ctx context.Context, from, to time.Time) ([]Lesson, error)
		GetStudentProgress(ctx context.Context, studentID string) (Progress, error)
		// GetTests returns the tests available to studentID, or all tests if studentID is empty.
		GetTests(ctx context.Context, studentID string) ([]Test, error)
		CreateBooking(ctx context.Context, studentID, lessonID string, date time.Time) (bool, error)
		SubmitTestResult(ctx context.Context, studentID, testID string, result TestResult) (bool, error)
	}

	// Config is the per-provider configuration an adapter is built from.
	Config struct {
		Kind     string         `json:"provider" validate:"required"`
		BaseURL  string         `json:"url" validate:"required,url"`
		Token    string         `json:"token" validate:"required"`
		CourseID string         `json:"course_id"`
		Timeout  time.Duration  `json:"-"`
		Location *time.Location `json:"-"`
	}
)

// WithDefaults fills the optional fields left empty.
func (c Config) WithDefaults() Config {
	if c.CourseID == "" {
		c.CourseID = "1"
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}
