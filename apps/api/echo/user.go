package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/lessonsync/core/notification"
)

type userApi struct {
	svc *notification.Service
}

func registerUserAPI(g *echo.Group, svc *notification.Service) {
	api := userApi{svc: svc}

	ug := g.Group("/users")
	ug.POST("", api.create, adminMiddleware())
	ug.GET("", api.query, adminMiddleware())

	// detail endpoints
	dg := ug.Group("/:id", ctxUserOrAdminMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.GET("/settings", api.retrieveSettings)
	dg.PUT("/settings", api.updateSettings)
	dg.GET("/notifications", api.queryNotifications)
	dg.POST("/notifications/read", api.markRead)
}

// Handlers

func (api *userApi) create(ctx echo.Context) error {
	var data notification.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}

	usr, err := api.svc.CreateUser(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *userApi) query(ctx echo.Context) error {
	users, err := api.svc.QueryAllUsers(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []notification.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *userApi) retrieve(ctx echo.Context) error {
	usr, err := contextObjectUser(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) retrieveSettings(ctx echo.Context) error {
	usr, err := contextObjectUser(ctx)
	if err != nil {
		return err
	}
	settings, err := api.svc.Settings(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "loading settings")
	}
	return ctx.JSON(http.StatusOK, settings)
}

func (api *userApi) updateSettings(ctx echo.Context) error {
	usr, err := contextObjectUser(ctx)
	if err != nil {
		return err
	}

	var data notification.UpdateSettings
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSettings")
	}

	settings, err := api.svc.UpdateSettings(ctx.Request().Context(), usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating settings")
	}
	return ctx.JSON(http.StatusOK, settings)
}

func (api *userApi) queryNotifications(ctx echo.Context) error {
	usr, err := contextObjectUser(ctx)
	if err != nil {
		return err
	}

	filter := notification.QueryFilter{UserID: usr.ID}
	filter.UnreadOnly, _ = strconv.ParseBool(ctx.QueryParam("unread"))
	if limit, err := strconv.Atoi(ctx.QueryParam("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}

	notifs, err := api.svc.Notifications(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying notifications")
	}
	unread, err := api.svc.Notifications(ctx.Request().Context(), notification.QueryFilter{UserID: usr.ID, UnreadOnly: true})
	if err != nil {
		return errors.Wrap(err, "counting unread notifications")
	}
	if notifs == nil {
		notifs = []notification.Notification{}
	}
	return ctx.JSON(http.StatusOK, NotificationsResponse{
		Notifications: notifs,
		UnreadCount:   len(unread),
		Total:         len(notifs),
	})
}

// markRead marks the given notifications read, or all of them if no IDs are given.
func (api *userApi) markRead(ctx echo.Context) error {
	usr, err := contextObjectUser(ctx)
	if err != nil {
		return err
	}

	var data MarkReadRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkReadRequest")
	}
	if err = api.svc.MarkRead(ctx.Request().Context(), usr.ID, data.IDs...); err != nil {
		return errors.Wrap(err, "marking notifications read")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type (
	NotificationsResponse struct {
		Notifications []notification.Notification `json:"notifications"`
		UnreadCount   int                         `json:"unread_count"`
		Total         int                         `json:"total"`
	}

	MarkReadRequest struct {
		IDs []string `json:"ids"`
	}
)
