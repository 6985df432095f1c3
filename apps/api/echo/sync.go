package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
	"github.com/trezcool/lessonsync/core/lmssync"
)

type syncApi struct {
	conf     *core.Config
	svc      *lmssync.Service
	validate *validator.Validate
}

func registerSyncAPI(g *echo.Group, conf *core.Config, svc *lmssync.Service, validate *validator.Validate) {
	api := syncApi{conf: conf, svc: svc, validate: validate}

	sg := g.Group("/sync")
	sg.GET("/status", api.status)
	sg.GET("/history", api.history, adminMiddleware())
	sg.POST("/start", api.start, adminMiddleware())
	sg.POST("/stop", api.stop, adminMiddleware())
	sg.POST("/manual", api.manual, adminMiddleware())
	sg.POST("/configure", api.configure, adminMiddleware())
}

// Handlers

func (api *syncApi) status(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.Status())
}

func (api *syncApi) start(ctx echo.Context) error {
	started, err := api.svc.Start()
	if err != nil {
		return errors.Wrap(err, "starting sync")
	}
	return ctx.JSON(http.StatusOK, StartStopResponse{Changed: started, Status: api.svc.Status()})
}

func (api *syncApi) stop(ctx echo.Context) error {
	stopped, err := api.svc.Stop()
	if err != nil {
		return errors.Wrap(err, "stopping sync")
	}
	return ctx.JSON(http.StatusOK, StartStopResponse{Changed: stopped, Status: api.svc.Status()})
}

// manual never fails: the outcome of the batch is in the response.
func (api *syncApi) manual(ctx echo.Context) error {
	run, err := api.svc.ManualSync(ctx.Request().Context())
	resp := SyncResponse{Success: err == nil && run.Succeeded()}
	if run.ID != "" {
		resp.Run = &run
	}
	if err != nil {
		resp.Error = errors.Cause(err).Error()
	}
	return ctx.JSON(http.StatusOK, resp)
}

// configure never fails: a rejected config is reported in the response and the current provider is kept.
func (api *syncApi) configure(ctx echo.Context) error {
	var data lms.Config
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to lms.Config")
	}
	data.Kind = core.CleanString(data.Kind, true)
	data = api.completeConfig(data)

	resp := ConfigureResponse{Provider: data.Kind}
	if err := api.svc.Configure(ctx.Request().Context(), data); err != nil {
		resp.Error = err.Error()
		return ctx.JSON(http.StatusOK, resp)
	}
	resp.Success = true
	resp.Status = api.svc.Status()
	return ctx.JSON(http.StatusOK, resp)
}

// completeConfig fills the credentials left empty with the configured ones of the same kind.
func (api *syncApi) completeConfig(data lms.Config) lms.Config {
	if pc, ok := api.conf.ProviderConf(data.Kind); ok {
		if data.BaseURL == "" {
			data.BaseURL = pc.URL
		}
		if data.Token == "" {
			data.Token = pc.Token
		}
		if data.CourseID == "" {
			data.CourseID = pc.CourseID
		}
	}
	data.Timeout = api.conf.Sync.CallTimeout
	data.Location = api.conf.SchoolLocation()
	return data.WithDefaults()
}

func (api *syncApi) history(ctx echo.Context) error {
	var query HistoryQuery
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to HistoryQuery")
	}
	if err := api.validate.Struct(query); err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	runs, err := api.svc.History(ctx.Request().Context(), lmssync.RunFilter{
		Provider: core.CleanString(query.Provider, true),
		Outcome:  lmssync.OutcomeKind(query.Outcome),
		Limit:    query.Limit,
		Ordering: ordering.Orderings,
	})
	if err != nil {
		return errors.Wrap(err, "querying sync history")
	}
	if runs == nil {
		runs = []lmssync.Run{}
	}
	return ctx.JSON(http.StatusOK, runs)
}

type (
	StartStopResponse struct {
		Changed bool           `json:"changed"`
		Status  lmssync.Status `json:"status"`
	}

	SyncResponse struct {
		Success bool         `json:"success"`
		Run     *lmssync.Run `json:"run,omitempty"`
		Error   string       `json:"error,omitempty"`
	}

	ConfigureResponse struct {
		Success  bool           `json:"success"`
		Provider string         `json:"provider"`
		Status   lmssync.Status `json:"status"`
		Error    string         `json:"error,omitempty"`
	}

	HistoryQuery struct {
		Provider string `json:"provider" query:"provider"`
		Outcome  string `json:"outcome" query:"outcome" validate:"omitempty,oneof=success partial_failure failure"`
		Limit    int    `json:"limit" query:"limit" validate:"gte=0,lte=500"`
	}
)
