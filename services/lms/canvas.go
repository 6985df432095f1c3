package lmssvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
)

const (
	KindCanvas    = "canvas"
	canvasPerPage = "100"
)

// canvas talks to the Canvas REST API (/api/v1).
type canvas struct {
	c        *client
	courseID string
	loc      *time.Location
	logger   core.Logger
}

var _ lms.Provider = (*canvas)(nil)

func NewCanvas(conf lms.Config, logger core.Logger) lms.Provider {
	conf = conf.WithDefaults()
	c := newClient(conf.BaseURL, conf.Timeout, logger)
	c.headers["Authorization"] = "Bearer " + conf.Token
	return &canvas{c: c, courseID: conf.CourseID, loc: conf.Location, logger: logger}
}

func (cv *canvas) coursePath(parts ...string) string {
	p := "/api/v1/courses/" + url.PathEscape(cv.courseID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (cv *canvas) parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(cv.loc), nil
}

func (cv *canvas) ID() string { return KindCanvas }

func (cv *canvas) HealthCheck(ctx context.Context) bool {
	return cv.c.healthy(ctx)
}

type canvasUser struct {
	ID             flexID `json:"id"`
	Name           string `json:"name"`
	SortableName   string `json:"sortable_name"`
	LoginID        string `json:"login_id"`
	Email          string `json:"email"`
	CreatedAt      string `json:"created_at"`
	EnrollmentType string `json:"enrollment_type"`
}

// names splits "Last, First" (or "First Last").
func (u canvasUser) names() (first, last string) {
	if parts := strings.SplitN(u.SortableName, ",", 2); len(parts) == 2 {
		return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[0])
	}
	parts := strings.Fields(u.Name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

func (cv *canvas) GetStudents(ctx context.Context) ([]lms.Student, error) {
	var items []json.RawMessage
	cl := call{
		op:     "GetStudents",
		method: rest.Get,
		path:   cv.coursePath("users"),
		query:  map[string]string{"enrollment_type[]": "student", "per_page": canvasPerPage},
	}
	if err := cv.c.do(ctx, cl, &items); err != nil {
		return nil, err
	}

	students := make([]lms.Student, 0, len(items))
	decodeEach(cv.logger, "student", items, func(raw json.RawMessage) error {
		var u canvasUser
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		if u.ID == "" {
			return errMissingID
		}
		if u.EnrollmentType != "" && u.EnrollmentType != "student" {
			return nil
		}
		created, err := cv.parseTime(u.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "parsing created_at")
		}
		first, last := u.names()
		students = append(students, lms.Student{
			ID:         string(u.ID),
			Username:   u.LoginID,
			FirstName:  first,
			LastName:   last,
			Email:      u.Email,
			Level:      lms.LevelBeginner,
			EnrolledAt: created,
		})
		return nil
	})
	return students, nil
}

type canvasEvent struct {
	ID           flexID `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	StartAt      string `json:"start_at"`
	EndAt        string `json:"end_at"`
	LocationName string `json:"location_name"`
	ContextName  string `json:"context_name"`
}

func (cv *canvas) GetLessons(ctx context.Context, from, to time.Time) ([]lms.Lesson, error) {
	query := map[string]string{
		"context_codes[]": "course_" + cv.courseID,
		"type":            "event",
		"per_page":        canvasPerPage,
	}
	if !from.IsZero() {
		query["start_date"] = from.UTC().Format(time.RFC3339)
	}
	if !to.IsZero() {
		query["end_date"] = to.UTC().Format(time.RFC3339)
	}
	if from.IsZero() && to.IsZero() {
		query["all_events"] = "true"
	}

	var items []json.RawMessage
	if err := cv.c.do(ctx, call{op: "GetLessons", method: rest.Get, path: "/api/v1/calendar_events", query: query}, &items); err != nil {
		return nil, err
	}

	lessons := make([]lms.Lesson, 0, len(items))
	decodeEach(cv.logger, "lesson", items, func(raw json.RawMessage) error {
		var ev canvasEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		if ev.ID == "" {
			return errMissingID
		}
		start, err := cv.parseTime(ev.StartAt)
		if err != nil {
			return errors.Wrap(err, "parsing start_at")
		}
		if start.IsZero() {
			return errors.New("missing start_at")
		}
		end, err := cv.parseTime(ev.EndAt)
		if err != nil {
			return errors.Wrap(err, "parsing end_at")
		}
		var duration time.Duration
		if end.After(start) {
			duration = end.Sub(start)
		}
		lessons = append(lessons, lms.Lesson{
			ID:          string(ev.ID),
			Title:       ev.Title,
			Description: ev.Description,
			Level:       lms.LevelIn(ev.Title, ev.ContextName),
			Teacher:     lms.UnassignedTeacher,
			Location:    orDefault(ev.LocationName, lms.DefaultLocation),
			StartsAt:    start,
			Duration:    duration,
			Slot:        lms.SlotOf(start),
		})
		return nil
	})
	return lessons, nil
}

func (cv *canvas) GetStudentProgress(ctx context.Context, studentID string) (lms.Progress, error) {
	var data struct {
		RequirementCount          int    `json:"requirement_count"`
		RequirementCompletedCount int    `json:"requirement_completed_count"`
		CompletedAt               string `json:"completed_at"`
	}
	cl := call{op: "GetStudentProgress", method: rest.Get, path: cv.coursePath("users", studentID, "progress")}
	if err := cv.c.do(ctx, cl, &data); err != nil {
		return lms.Progress{}, err
	}

	pr := lms.Progress{
		StudentID:           studentID,
		CompletedActivities: data.RequirementCompletedCount,
		TotalActivities:     data.RequirementCount,
	}
	pr.CompletionPercentage = lms.CompletionPercentage(pr.CompletedActivities, pr.TotalActivities)
	if completed, err := cv.parseTime(data.CompletedAt); err == nil {
		pr.LastActivity = completed
	}
	return pr, nil
}

func (cv *canvas) GetTests(ctx context.Context, studentID string) ([]lms.Test, error) {
	query := map[string]string{"per_page": canvasPerPage}
	if studentID != "" {
		query["as_user_id"] = studentID
	}
	var items []json.RawMessage
	if err := cv.c.do(ctx, call{op: "GetTests", method: rest.Get, path: cv.coursePath("quizzes"), query: query}, &items); err != nil {
		return nil, err
	}

	tests := make([]lms.Test, 0, len(items))
	decodeEach(cv.logger, "test", items, func(raw json.RawMessage) error {
		var q struct {
			ID          flexID `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
			TimeLimit   int64  `json:"time_limit"` // minutes
		}
		if err := json.Unmarshal(raw, &q); err != nil {
			return err
		}
		if q.ID == "" {
			return errMissingID
		}
		tests = append(tests, lms.Test{
			ID:          string(q.ID),
			Title:       q.Title,
			Description: q.Description,
			Level:       lms.LevelIn(q.Title),
			TimeLimit:   time.Duration(q.TimeLimit) * time.Minute,
		})
		return nil
	})
	return tests, nil
}

// CreateBooking reserves the student a seat in the lesson's appointment-group event.
func (cv *canvas) CreateBooking(ctx context.Context, studentID, lessonID string, date time.Time) (bool, error) {
	cl := call{
		op:     "CreateBooking",
		method: rest.Post,
		path:   fmt.Sprintf("/api/v1/calendar_events/%s/reservations/%s", url.PathEscape(lessonID), url.PathEscape(studentID)),
		body:   map[string]string{"comments": "booked for " + date.In(cv.loc).Format("2006-01-02 15:04")},
	}
	var data struct {
		ID flexID `json:"id"`
	}
	if err := cv.c.do(ctx, cl, &data); err != nil {
		return false, err
	}
	return data.ID != "", nil
}

// SubmitTestResult grades the student's submission of the quiz assignment.
func (cv *canvas) SubmitTestResult(ctx context.Context, studentID, testID string, result lms.TestResult) (bool, error) {
	cl := call{
		op:     "SubmitTestResult",
		method: rest.Put,
		path:   cv.coursePath("assignments", testID, "submissions", studentID),
		body: map[string]interface{}{
			"submission": map[string]string{"posted_grade": strconv.FormatFloat(result.Score, 'f', -1, 64)},
		},
	}
	if err := cv.c.do(ctx, cl, nil); err != nil {
		return false, err
	}
	return true, nil
}
