package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
	"github.com/trezcool/lessonsync/core/notification"
)

// notificationApi dispatches the on-demand notifications.
type notificationApi struct {
	scheduler *notification.Scheduler
	validate  *validator.Validate
}

func registerNotificationAPI(g *echo.Group, scheduler *notification.Scheduler, validate *validator.Validate) {
	api := notificationApi{scheduler: scheduler, validate: validate}

	ng := g.Group("/notifications", adminMiddleware())
	ng.POST("/test", api.notifyNewTest)
	ng.POST("/club", api.remindClub)
	ng.POST("/tick", api.tick)
}

// Handlers

func (api *notificationApi) notifyNewTest(ctx echo.Context) error {
	var data NewTestRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTestRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sent, err := api.scheduler.NotifyNewTest(ctx.Request().Context(), data.UserID, data.Test)
	return dispatchResponse(ctx, sent, err)
}

func (api *notificationApi) remindClub(ctx echo.Context) error {
	var data ClubReminderRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ClubReminderRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	at, err := lms.ParseTimeOfDay(data.At)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "at", Error: err.Error()})
	}

	sent, err := api.scheduler.RemindClub(ctx.Request().Context(), data.UserID, data.Club, at)
	return dispatchResponse(ctx, sent, err)
}

// tick evaluates every user once, outside of the scheduler loop.
func (api *notificationApi) tick(ctx echo.Context) error {
	report, err := api.scheduler.RunOnce(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "running notification tick")
	}
	return ctx.JSON(http.StatusOK, report)
}

// dispatchResponse reports a failed delivery in the body: only unknown users and store failures are errors.
func dispatchResponse(ctx echo.Context, sent bool, err error) error {
	if dErr, ok := errors.Cause(err).(*notification.DispatchError); ok {
		return ctx.JSON(http.StatusOK, DispatchResponse{Sent: dErr.Delivered(), Error: dErr.Error()})
	}
	if err != nil {
		return errors.Wrap(err, "dispatching notification")
	}
	return ctx.JSON(http.StatusOK, DispatchResponse{Sent: sent})
}

type (
	NewTestRequest struct {
		UserID string `json:"user_id" validate:"required"`
		Test   string `json:"test" validate:"required"`
	}

	ClubReminderRequest struct {
		UserID string `json:"user_id" validate:"required"`
		Club   string `json:"club" validate:"required"`
		At     string `json:"at" validate:"required,clock"`
	}

	DispatchResponse struct {
		Sent  bool   `json:"sent"`
		Error string `json:"error,omitempty"`
	}
)

func (r *NewTestRequest) Validate(validate *validator.Validate) error {
	r.UserID = core.CleanString(r.UserID)
	r.Test = core.CleanString(r.Test)
	return validate.Struct(r)
}

func (r *ClubReminderRequest) Validate(validate *validator.Validate) error {
	r.UserID = core.CleanString(r.UserID)
	r.Club = core.CleanString(r.Club)
	r.At = core.CleanString(r.At)
	return validate.Struct(r)
}
