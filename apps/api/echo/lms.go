package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
	"github.com/trezcool/lessonsync/core/lmssync"
)

// lmsApi serves the synchronized LMS data and passes bookings and test results through to the provider.
type lmsApi struct {
	svc      *lmssync.Service
	validate *validator.Validate
}

func registerLMSAPI(g *echo.Group, svc *lmssync.Service, validate *validator.Validate) {
	api := lmsApi{svc: svc, validate: validate}

	g.GET("/students", api.queryStudents)
	g.GET("/students/:id", api.retrieveStudent)
	g.GET("/students/:id/progress", api.retrieveProgress)
	g.GET("/lessons", api.queryLessons)
	g.GET("/tests", api.queryTests)
	g.POST("/bookings", api.book)
	g.POST("/tests/:id/results", api.submitResult)
}

// levelParam returns the level asked for in `?level=`, normalized. Empty means all levels.
func levelParam(ctx echo.Context) string {
	if lvl := core.CleanString(ctx.QueryParam("level")); lvl != "" {
		return lms.ParseLevel(lvl)
	}
	return ""
}

// Handlers

func (api *lmsApi) queryStudents(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.Students())
}

func (api *lmsApi) retrieveStudent(ctx echo.Context) error {
	student, err := api.svc.Student(ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding student")
	}
	return ctx.JSON(http.StatusOK, student)
}

func (api *lmsApi) retrieveProgress(ctx echo.Context) error {
	progress, err := api.svc.Progress(ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding student progress")
	}
	return ctx.JSON(http.StatusOK, progress)
}

func (api *lmsApi) queryLessons(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.Lessons(levelParam(ctx)))
}

func (api *lmsApi) queryTests(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.Tests(levelParam(ctx)))
}

func (api *lmsApi) book(ctx echo.Context) error {
	var data BookingRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BookingRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	booked, err := api.svc.Book(ctx.Request().Context(), data.StudentID, data.LessonID, data.Date)
	if err != nil {
		return errors.Wrap(err, "booking lesson")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: booked})
}

func (api *lmsApi) submitResult(ctx echo.Context) error {
	var data TestResultRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TestResultRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sent, err := api.svc.SubmitTestResult(ctx.Request().Context(), data.StudentID, ctx.Param("id"), data.TestResult)
	if err != nil {
		return errors.Wrap(err, "submitting test result")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: sent})
}

type (
	BookingRequest struct {
		StudentID string    `json:"student_id" validate:"required"`
		LessonID  string    `json:"lesson_id" validate:"required"`
		Date      time.Time `json:"date" validate:"required"`
	}

	TestResultRequest struct {
		StudentID string `json:"student_id" validate:"required"`
		lms.TestResult
	}

	SuccessResponse struct {
		Success bool `json:"success"`
	}
)

func (br *BookingRequest) Validate(validate *validator.Validate) error {
	br.StudentID = core.CleanString(br.StudentID)
	br.LessonID = core.CleanString(br.LessonID)
	return validate.Struct(br)
}

func (tr *TestResultRequest) Validate(validate *validator.Validate) error {
	tr.StudentID = core.CleanString(tr.StudentID)
	return validate.Struct(tr)
}
