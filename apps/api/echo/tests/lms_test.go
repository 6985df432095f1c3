package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/lessonsync/core/lms"
	"github.com/trezcool/lessonsync/core/lms/lmstest"
)

func Test_lmsApi_reads(t *testing.T) {
	e := setupSynced(t)
	token := e.userToken(t, e.createUser(t, "100", "Amina", lms.LevelAdvanced))

	tests := []httpTest{
		{name: "Auth required", path: "/v1/students", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "students", path: "/v1/students", wantCode: http.StatusOK, wantData: marchallObj(t, []lms.Student{amina, joe})},
		{name: "student", path: "/v1/students/2", wantCode: http.StatusOK, wantData: marchallObj(t, joe)},
		{name: "unknown student", path: "/v1/students/404", wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
		{
			name: "progress", path: "/v1/students/1/progress", wantCode: http.StatusOK,
			wantData: marchallObj(t, lms.Progress{StudentID: "1"}),
		},
		{name: "lessons", path: "/v1/lessons", wantCode: http.StatusOK, wantData: marchallObj(t, []lms.Lesson{grammar})},
		{
			name: "lessons of a misspelled level", path: "/v1/lessons?level=Advansed", wantCode: http.StatusOK,
			wantData: marchallObj(t, []lms.Lesson{grammar}),
		},
		{name: "lessons of another level", path: "/v1/lessons?level=beginner", wantCode: http.StatusOK, wantData: []byte("[]")},
		{name: "tests", path: "/v1/tests?level=beginner", wantCode: http.StatusOK, wantData: marchallObj(t, []lms.Test{quiz})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantCode != http.StatusUnauthorized {
				tt.token = token
			}
			checkCodeAndData(t, tt, e.serve(tt))
		})
	}
}

func Test_lmsApi_book(t *testing.T) {
	e := setupSynced(t)
	token := e.adminToken(t)
	date := time.Date(2021, 1, 11, 18, 0, 0, 0, time.UTC)

	tests := []httpTest{
		{
			name: "invalid", method: http.MethodPost, path: "/v1/bookings", body: []byte(`{"student_id": " "}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"student_id": "this field is required", "lesson_id": "this field is required", "date": "this field is required"}`),
		},
		{
			name: "booked", method: http.MethodPost, path: "/v1/bookings",
			body:     []byte(`{"student_id": "1", "lesson_id": "10", "date": "2021-01-11T18:00:00Z"}`),
			wantCode: http.StatusOK, wantData: []byte(`{"success": true}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.token = token
			checkCodeAndData(t, tt, e.serve(tt))
		})
	}
	assert.Equal(t, []lmstest.Booking{{StudentID: "1", LessonID: "10", Date: date}}, e.provider.Bookings())

	tests = []httpTest{
		{
			name: "provider unreachable", method: http.MethodPost, path: "/v1/bookings",
			body:     []byte(`{"student_id": "1", "lesson_id": "10", "date": "2021-01-11T18:00:00Z"}`),
			wantCode: http.StatusServiceUnavailable, wantData: marchallObj(t, httpErr{Error: "LMS provider unavailable"}),
		},
	}
	e.provider.Fail("CreateBooking", lms.NewTransientError("CreateBooking", errors.New("connection refused")))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.token = token
			checkCodeAndData(t, tt, e.serve(tt))
		})
	}

	e.provider.Fail("CreateBooking", lms.NewPermanentError("CreateBooking", errors.New("401 Unauthorized")))
	rec := e.serve(httpTest{method: http.MethodPost, path: "/v1/bookings", token: token, body: tests[0].body})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func Test_lmsApi_submitResult(t *testing.T) {
	e := setupSynced(t)
	token := e.adminToken(t)

	tests := []httpTest{
		{
			name: "invalid", method: http.MethodPost, path: "/v1/tests/20/results", body: []byte(`{"student_id": "1", "score": -1}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"score": "score must be 0 or greater"}`),
		},
		{
			name: "sent", method: http.MethodPost, path: "/v1/tests/20/results",
			body:     []byte(`{"student_id": "1", "score": 85.5, "answers": {"1": "b"}}`),
			wantCode: http.StatusOK, wantData: []byte(`{"success": true}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.token = token
			checkCodeAndData(t, tt, e.serve(tt))
		})
	}

	res, ok := e.provider.Result("1", "20")
	assert.True(t, ok)
	assert.Equal(t, lms.TestResult{Score: 85.5, Answers: map[string]string{"1": "b"}}, res)
}
