package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

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

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	appLogger := logsvc.NewStdLogger(logger)

	conf := core.NewConfig()

	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)

	// set up DB
	var (
		sqlDB    *sql.DB
		repo     notification.Repository
		recorder lmssync.RunRecorder
	)
	if conf.Database.InMemory {
		db := inmemdb.Open()
		repo, recorder = inmemdb.NewNotificationRepository(db), inmemdb.NewSyncRunRepository(db)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		db, err := database.Open(ctx, conf)
		cancel()
		errAndDie(err)
		defer db.Close()
		sqlDB = db.DB
		repo, recorder = sqlxrepos.NewNotificationRepository(db), sqlxrepos.NewSyncRunRepository(db)
	}

	syncSvc := lmssync.NewService(
		lmssvc.NewFactory(validate, appLogger),
		lmssync.NewStore(conf.Sync.CacheTTL, time.Now),
		appLogger,
		lmssync.Options{CallTimeout: conf.Sync.CallTimeout, LessonHorizon: conf.Sync.LessonHorizon, Recorder: recorder},
	)
	sink, closer, err := msgsvc.FromConfig(conf, repo, appLogger)
	errAndDie(err)
	defer closer.Close()
	scheduler, err := notification.New(repo, syncSvc, sink, appLogger, notification.Options{
		Tolerance:   conf.Notification.Tolerance,
		CallTimeout: conf.Sync.CallTimeout,
		Location:    conf.SchoolLocation(),
	})
	errAndDie(err)

	// start CLI
	cli := commandLine{
		conf:      conf,
		db:        sqlDB,
		notifSvc:  notification.NewService(repo, validate),
		syncSvc:   syncSvc,
		scheduler: scheduler,
		out:       os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
