package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	dig_container "github.com/trezcool/lessonsync/apps/api/di/dig"
	echoapi "github.com/trezcool/lessonsync/apps/api/echo"
	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lmssync"
	"github.com/trezcool/lessonsync/core/notification"
	lmssvc "github.com/trezcool/lessonsync/services/lms"
)

func startWithDig() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		apiLogger core.Logger,
		closersParam dig_container.ClosersParam,
		validate *validator.Validate,
		translator ut.Translator,
		syncSvc *lmssync.Service,
		scheduler *notification.Scheduler,
		server *echoapi.Server,
	) {
		// =========================================================================
		// Initialize App

		apiLogger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))

		core.InitValidators(validate, translator)

		defer func() {
			for _, closer := range closersParam.Closers {
				if err := closer.Close(); err != nil {
					apiLogger.Error(fmt.Sprintf("failed to close: %v", err), err)
				}
			}
		}()
		defer apiLogger.Info("Application stopped")

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		// Expose important info under /debug/vars.
		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)
		expvar.Publish("sync", expvar.Func(func() interface{} { return syncSvc.Status() }))

		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start Sync & Notifications

		if conf.Sync.Provider != "" {
			configureProvider(conf, apiLogger, syncSvc)
		} else {
			apiLogger.Warn("no LMS provider configured: POST /v1/sync/configure to set one up")
		}
		if conf.Notification.Enabled {
			scheduler.Start()
		}

		// =========================================================================
		// Start API Service

		go func() {
			server.Start()
		}()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			apiLogger.Fatal(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			// give outstanding requests and syncs a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			scheduler.Stop()
			if err := scheduler.Wait(ctx); err != nil {
				apiLogger.Error(fmt.Sprintf("could not stop notifications gracefully: %v", err), err)
			}
			if err := syncSvc.Shutdown(ctx); err != nil {
				apiLogger.Error(fmt.Sprintf("could not stop sync gracefully: %v", err), err)
			}

			// asking listener to shut down and shed load
			if err := server.Shutdown(ctx); err != nil {
				apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					apiLogger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}
		}
	}))
}

// configureProvider sets up the provider named in the config. A failure is logged: the API still serves.
func configureProvider(conf *core.Config, logger core.Logger, syncSvc *lmssync.Service) {
	lmsConf, err := lmssvc.ConfigFor(conf.Sync.Provider, conf)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), conf.Sync.CallTimeout)
		defer cancel()
		err = syncSvc.Configure(ctx, lmsConf)
	}
	if err != nil {
		logger.Error(fmt.Sprintf("configuring LMS provider %q: %v", conf.Sync.Provider, err), err)
		return
	}
	logger.Info(fmt.Sprintf("synchronizing with %s", lmsConf.Kind))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
