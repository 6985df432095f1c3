package dig_container

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/lessonsync/apps/api/echo"
	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lmssync"
	"github.com/trezcool/lessonsync/core/notification"
	lmssvc "github.com/trezcool/lessonsync/services/lms"
	logsvc "github.com/trezcool/lessonsync/services/logger"
	msgsvc "github.com/trezcool/lessonsync/services/messaging"
	"github.com/trezcool/lessonsync/storage/database"
	inmemdb "github.com/trezcool/lessonsync/storage/database/inmem"
	sqlxrepos "github.com/trezcool/lessonsync/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// ClosersParam collects everything that must be closed on shutdown.
type ClosersParam struct {
	dig.In
	Closers []io.Closer `group:"closers"`
}

type storageResult struct {
	dig.Out
	Repo     notification.Repository
	Recorder lmssync.RunRecorder
	Closer   io.Closer `group:"closers"`
}

type sinkResult struct {
	dig.Out
	Sink   notification.Sink
	Closer io.Closer `group:"closers"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) storageResult {
	if conf.Database.InMemory {
		db := inmemdb.Open()
		return storageResult{
			Repo:     inmemdb.NewNotificationRepository(db),
			Recorder: inmemdb.NewSyncRunRepository(db),
			Closer:   nopCloser{},
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	if err = database.Migrate(db, "up"); err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return storageResult{
		Repo:     sqlxrepos.NewNotificationRepository(db),
		Recorder: sqlxrepos.NewSyncRunRepository(db),
		Closer:   db,
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newSyncService(conf *core.Config, factory lmssync.ProviderFactory, recorder lmssync.RunRecorder, logger core.Logger) *lmssync.Service {
	return lmssync.NewService(
		factory,
		lmssync.NewStore(conf.Sync.CacheTTL, time.Now),
		logger,
		lmssync.Options{
			Interval:      conf.Sync.Interval,
			ErrorBackoff:  conf.Sync.ErrorBackoff,
			CallTimeout:   conf.Sync.CallTimeout,
			LessonHorizon: conf.Sync.LessonHorizon,
			AutoStart:     conf.Sync.AutoStart,
			Recorder:      recorder,
		},
	)
}

func newSink(conf *core.Config, repo notification.Repository, logger core.Logger) (sinkResult, error) {
	sink, closer, err := msgsvc.FromConfig(conf, repo, logger)
	return sinkResult{Sink: sink, Closer: closer}, err
}

func newScheduler(conf *core.Config, repo notification.Repository, syncSvc *lmssync.Service, sink notification.Sink, logger core.Logger) (*notification.Scheduler, error) {
	return notification.New(repo, syncSvc, sink, logger, notification.Options{
		Tick:        conf.Notification.Tick,
		Tolerance:   conf.Notification.Tolerance,
		CallTimeout: conf.Sync.CallTimeout,
		Location:    conf.SchoolLocation(),
	})
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	syncSvc *lmssync.Service,
	notifSvc *notification.Service,
	scheduler *notification.Scheduler,
	validate *validator.Validate,
	translator ut.Translator,
) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		SyncSvc:    syncSvc,
		NotifSvc:   notifSvc,
		Scheduler:  scheduler,
		Validate:   validate,
		Translator: translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(lmssvc.NewFactory, dig.As(new(lmssync.ProviderFactory))))
	must(c.Provide(newSyncService))
	must(c.Provide(newSink))
	must(c.Provide(notification.NewService))
	must(c.Provide(newScheduler))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
