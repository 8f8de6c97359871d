package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	echoapi "github.com/trezcool/voluntas/apps/api/echo"
	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/notification"
	"github.com/trezcool/voluntas/core/points"
	"github.com/trezcool/voluntas/core/rank"
	"github.com/trezcool/voluntas/core/task"
	"github.com/trezcool/voluntas/core/user"
	appfs "github.com/trezcool/voluntas/fs"
	"github.com/trezcool/voluntas/services/email"
	"github.com/trezcool/voluntas/services/logger"
	"github.com/trezcool/voluntas/services/pubsub"
	"github.com/trezcool/voluntas/storage/database"
	"github.com/trezcool/voluntas/storage/database/sqlboiler"
	"github.com/trezcool/voluntas/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	defer logger.Close()

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	// set up repos
	usrRepo := boiledrepos.NewUserRepository(db)
	rankRepo := boiledrepos.NewRankRepository(db)
	ptsRepo := boiledrepos.NewPointsRepository(db)
	notifRepo := boiledrepos.NewNotificationRepository(db)
	taskRepo := boiledrepos.NewTaskRepository(db)
	board := sqlxrepos.NewLeaderboardRepository(db)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	publisher := newPublisher(conf, logger)
	defer func() {
		if closer, ok := publisher.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}()

	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	rankSvc := rank.NewService(rankRepo)
	notifSvc := notification.NewService(notifRepo, publisher, usrSvc, mailSvc, logger)
	ptsSvc := points.NewService(ptsRepo, board, rankSvc, database.NewTxRunner(db), notifSvc, logger)
	taskSvc := task.NewService(taskRepo, ptsSvc, notifSvc, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	if err := core.ParseEmailTemplates(conf, appfs.FS, logger); err != nil {
		logger.Fatal(fmt.Sprintf("parsing email templates: %v", err), err)
	}

	user.LoadCommonPasswords(appfs.FS, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:            conf,
			Logger:          logger,
			Validate:        validate,
			Translator:      translator,
			UserSvc:         usrSvc,
			RankSvc:         rankSvc,
			PointsSvc:       ptsSvc,
			NotificationSvc: notifSvc,
			TaskSvc:         taskSvc,
			HealthCheck: func(ctx context.Context) error {
				if err := database.StatusCheck(ctx, db); err != nil {
					return errors.Wrap(err, "database")
				}
				if checker, ok := publisher.(statusChecker); ok {
					return errors.Wrap(checker.StatusCheck(ctx), "pubsub")
				}
				return nil
			},
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

type statusChecker interface {
	StatusCheck(ctx context.Context) error
}

// newPublisher returns the redis publisher, or prints notifications to stdout in DEBUG mode
// and when redis is unreachable.
func newPublisher(conf *core.Config, logger core.Logger) notification.Publisher {
	if !conf.Debug {
		pub, err := pubsub.NewRedisPublisher(conf, logger)
		if err == nil {
			return pub
		}
		logger.Error(fmt.Sprintf("connecting to redis: %v", err), err)
	}
	return pubsub.NewConsolePublisher(log.New(os.Stdout, "PUBSUB : ", log.LstdFlags).Printf)
}
