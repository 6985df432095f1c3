package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lmssync"
	"github.com/trezcool/lessonsync/core/notification"
)

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		SyncSvc    *lmssync.Service
		NotifSvc   *notification.Service
		Scheduler  *notification.Scheduler
		Validate   *validator.Validate
		Translator ut.Translator
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
		now      func() time.Time
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
		now:      time.Now,
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.SignalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	s.app.GET("/health", s.health)

	v1 := s.app.Group("/v1", middleware.JWTWithConfig(newJWTConfig(conf)))

	registerSyncAPI(v1, conf, s.deps.SyncSvc, s.deps.Validate)
	registerLMSAPI(v1, s.deps.SyncSvc, s.deps.Validate)
	registerUserAPI(v1, s.deps.NotifSvc)
	registerNotificationAPI(v1, s.deps.Scheduler, s.deps.Validate)
}

// Start serves the API until Shutdown. Failures are sent to Errors.
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.deps.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

// SignalShutdown asks the app to shut down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Provider  string    `json:"provider"`
	Syncing   bool      `json:"syncing"`
	Notifying bool      `json:"notifying"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) health(ctx echo.Context) error {
	status := s.deps.SyncSvc.Status()
	resp := HealthResponse{
		Status:    "healthy",
		Provider:  status.ProviderID,
		Syncing:   status.Running,
		Notifying: s.deps.Scheduler.Running(),
		Timestamp: s.now().UTC(),
	}
	if status.LastRun != nil && !status.Healthy {
		resp.Status = "degraded"
	}
	return ctx.JSON(http.StatusOK, resp)
}
