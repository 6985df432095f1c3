package lmssvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
)

const (
	KindMoodle     = "moodle"
	moodleEndpoint = "/webservice/rest/server.php"
)

// moodle talks to the Moodle web services REST protocol.
type moodle struct {
	c        *client
	courseID string
	loc      *time.Location
	logger   core.Logger
}

var _ lms.Provider = (*moodle)(nil)

func NewMoodle(conf lms.Config, logger core.Logger) lms.Provider {
	conf = conf.WithDefaults()
	c := newClient(conf.BaseURL, conf.Timeout, logger)
	c.query["wstoken"] = conf.Token
	c.query["moodlewsrestformat"] = "json"
	return &moodle{c: c, courseID: conf.CourseID, loc: conf.Location, logger: logger}
}

type moodleException struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

// call invokes a web service function. Moodle reports failures as 200 responses carrying an exception.
func (m *moodle) call(ctx context.Context, op, wsfunction string, method rest.Method, params map[string]string, dest interface{}) error {
	query := map[string]string{"wsfunction": wsfunction}
	for k, v := range params {
		query[k] = v
	}

	var raw json.RawMessage
	if err := m.c.do(ctx, call{op: op, method: method, path: moodleEndpoint, query: query}, &raw); err != nil {
		return err
	}
	var exc moodleException
	if err := json.Unmarshal(raw, &exc); err == nil && exc.Exception != "" {
		return lms.NewPermanentError(op, errors.Errorf("%s: %s", exc.ErrorCode, exc.Message))
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return lms.NewPermanentError(op, errors.Wrap(err, "decoding response"))
	}
	return nil
}

func (m *moodle) ID() string { return KindMoodle }

func (m *moodle) HealthCheck(ctx context.Context) bool {
	return m.c.healthy(ctx)
}

type moodleUser struct {
	ID           flexID `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"firstname"`
	LastName     string `json:"lastname"`
	Email        string `json:"email"`
	FirstAccess  int64  `json:"firstaccess"`
	CustomFields []struct {
		ShortName string `json:"shortname"`
		Value     string `json:"value"`
	} `json:"customfields"`
	Roles []struct {
		ShortName string `json:"shortname"`
	} `json:"roles"`
}

func (u moodleUser) isStudent() bool {
	if len(u.Roles) == 0 {
		return true
	}
	for _, r := range u.Roles {
		if r.ShortName == "student" {
			return true
		}
	}
	return false
}

func (u moodleUser) level() string {
	for _, f := range u.CustomFields {
		if f.ShortName == "level" {
			return lms.ParseLevel(f.Value)
		}
	}
	return lms.LevelBeginner
}

func (m *moodle) GetStudents(ctx context.Context) ([]lms.Student, error) {
	var items []json.RawMessage
	params := map[string]string{"courseid": m.courseID}
	if err := m.call(ctx, "GetStudents", "core_enrol_get_enrolled_users", rest.Get, params, &items); err != nil {
		return nil, err
	}

	students := make([]lms.Student, 0, len(items))
	decodeEach(m.logger, "student", items, func(raw json.RawMessage) error {
		var u moodleUser
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		if u.ID == "" {
			return errMissingID
		}
		if !u.isStudent() {
			return nil
		}
		st := lms.Student{
			ID:        string(u.ID),
			Username:  u.Username,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.Email,
			Level:     u.level(),
		}
		if u.FirstAccess > 0 {
			st.EnrolledAt = time.Unix(u.FirstAccess, 0).In(m.loc)
		}
		students = append(students, st)
		return nil
	})
	return students, nil
}

type moodleEvent struct {
	ID           flexID `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	EventType    string `json:"eventtype"`
	TimeStart    int64  `json:"timestart"`
	TimeDuration int64  `json:"timeduration"`
	Location     string `json:"location"`
	GroupName    string `json:"groupname"`
}

func (m *moodle) GetLessons(ctx context.Context, from, to time.Time) ([]lms.Lesson, error) {
	params := map[string]string{"events[courseids][0]": m.courseID}
	if !from.IsZero() {
		params["events[timestartfrom]"] = strconv.FormatInt(from.Unix(), 10)
	}
	if !to.IsZero() {
		params["events[timestartto]"] = strconv.FormatInt(to.Unix(), 10)
	}

	var data struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := m.call(ctx, "GetLessons", "core_calendar_get_calendar_events", rest.Get, params, &data); err != nil {
		return nil, err
	}

	lessons := make([]lms.Lesson, 0, len(data.Events))
	decodeEach(m.logger, "lesson", data.Events, func(raw json.RawMessage) error {
		var ev moodleEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		if ev.EventType != "course" {
			return nil
		}
		if ev.ID == "" {
			return errMissingID
		}
		if ev.TimeStart <= 0 {
			return errors.New("missing start time")
		}
		start := time.Unix(ev.TimeStart, 0).In(m.loc)
		lessons = append(lessons, lms.Lesson{
			ID:          string(ev.ID),
			Title:       ev.Name,
			Description: ev.Description,
			Level:       lms.LevelIn(ev.GroupName, ev.Name),
			Teacher:     lms.UnassignedTeacher,
			Location:    orDefault(ev.Location, lms.DefaultLocation),
			StartsAt:    start,
			Duration:    time.Duration(ev.TimeDuration) * time.Second,
			Slot:        lms.SlotOf(start),
		})
		return nil
	})
	return lessons, nil
}

func (m *moodle) GetStudentProgress(ctx context.Context, studentID string) (lms.Progress, error) {
	var data struct {
		Statuses []struct {
			State         int   `json:"state"`
			TimeCompleted int64 `json:"timecompleted"`
		} `json:"statuses"`
	}
	params := map[string]string{"courseid": m.courseID, "userid": studentID}
	if err := m.call(ctx, "GetStudentProgress", "core_completion_get_activities_completion_status", rest.Get, params, &data); err != nil {
		return lms.Progress{}, err
	}

	pr := lms.Progress{StudentID: studentID, TotalActivities: len(data.Statuses)}
	var last int64
	for _, st := range data.Statuses {
		if st.State == 1 || st.State == 2 { // complete, complete-pass
			pr.CompletedActivities++
		}
		if st.TimeCompleted > last {
			last = st.TimeCompleted
		}
	}
	pr.CompletionPercentage = lms.CompletionPercentage(pr.CompletedActivities, pr.TotalActivities)
	if last > 0 {
		pr.LastActivity = time.Unix(last, 0).In(m.loc)
	}
	return pr, nil
}

// GetTests lists the course quizzes. Moodle quizzes are course-wide: studentID does not filter them.
func (m *moodle) GetTests(ctx context.Context, studentID string) ([]lms.Test, error) {
	var data struct {
		Quizzes []json.RawMessage `json:"quizzes"`
	}
	params := map[string]string{"courseids[0]": m.courseID}
	if err := m.call(ctx, "GetTests", "mod_quiz_get_quizzes_by_courses", rest.Get, params, &data); err != nil {
		return nil, err
	}

	tests := make([]lms.Test, 0, len(data.Quizzes))
	decodeEach(m.logger, "test", data.Quizzes, func(raw json.RawMessage) error {
		var q struct {
			ID        flexID `json:"id"`
			Name      string `json:"name"`
			Intro     string `json:"intro"`
			TimeLimit int64  `json:"timelimit"`
		}
		if err := json.Unmarshal(raw, &q); err != nil {
			return err
		}
		if q.ID == "" {
			return errMissingID
		}
		tests = append(tests, lms.Test{
			ID:          string(q.ID),
			Title:       q.Name,
			Description: q.Intro,
			Level:       lms.LevelIn(q.Name),
			TimeLimit:   time.Duration(q.TimeLimit) * time.Second,
		})
		return nil
	})
	return tests, nil
}

// CreateBooking records the booking as a user calendar event.
func (m *moodle) CreateBooking(ctx context.Context, studentID, lessonID string, date time.Time) (bool, error) {
	params := map[string]string{
		"events[0][name]":        fmt.Sprintf("Booking: lesson %s", lessonID),
		"events[0][description]": fmt.Sprintf("student=%s lesson=%s", studentID, lessonID),
		"events[0][eventtype]":   "user",
		"events[0][courseid]":    m.courseID,
		"events[0][timestart]":   strconv.FormatInt(date.Unix(), 10),
	}
	var data struct {
		Events   []json.RawMessage `json:"events"`
		Warnings []json.RawMessage `json:"warnings"`
	}
	if err := m.call(ctx, "CreateBooking", "core_calendar_create_calendar_events", rest.Post, params, &data); err != nil {
		return false, err
	}
	return len(data.Events) > 0, nil
}

// SubmitTestResult pushes the score to the quiz's grade item.
func (m *moodle) SubmitTestResult(ctx context.Context, studentID, testID string, result lms.TestResult) (bool, error) {
	params := map[string]string{
		"source":                 "mod/quiz",
		"courseid":               m.courseID,
		"component":              "mod_quiz",
		"activityid":             testID,
		"itemnumber":             "0",
		"grades[0][studentid]":   studentID,
		"grades[0][grade]":       strconv.FormatFloat(result.Score, 'f', -1, 64),
		"itemdetails[itemname]":  "quiz " + testID,
		"itemdetails[hidden]":    "0",
		"itemdetails[gradetype]": "1",
	}
	var status int // GRADE_UPDATE_OK
	if err := m.call(ctx, "SubmitTestResult", "core_grades_update_grades", rest.Post, params, &status); err != nil {
		return false, err
	}
	return status == 0, nil
}
