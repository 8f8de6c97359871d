package main

import (
	"fmt"
	"log"
	"os"

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
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	defer logger.Close()

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer db.Close()
	if err = db.Ping(); err != nil {
		logger.Fatal(fmt.Sprintf("connecting to database: %v", err), err)
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	if err := core.ParseEmailTemplates(conf, appfs.FS, logger); err != nil {
		logger.Fatal(fmt.Sprintf("parsing email templates: %v", err), err)
	}

	var publisher notification.Publisher = pubsub.NewConsolePublisher(log.New(os.Stdout, "PUBSUB : ", log.LstdFlags).Printf)
	if !conf.Debug {
		if pub, err := pubsub.NewRedisPublisher(conf, logger); err == nil {
			publisher = pub
			defer pub.Close()
		} else {
			logger.Error(fmt.Sprintf("connecting to redis: %v", err), err)
		}
	}

	usrRepo := boiledrepos.NewUserRepository(db)
	ptsRepo := boiledrepos.NewPointsRepository(db)
	notifSvc := notification.NewService(
		boiledrepos.NewNotificationRepository(db), publisher, user.NewService(usrRepo, mailSvc, conf), mailSvc, logger,
	)
	ptsSvc := points.NewService(
		ptsRepo, sqlxrepos.NewLeaderboardRepository(db), rank.NewService(boiledrepos.NewRankRepository(db)),
		database.NewTxRunner(db), notifSvc, logger,
	)

	// start CLI
	cli := commandLine{
		db:      db,
		usrRepo: usrRepo,
		taskSvc: task.NewService(boiledrepos.NewTaskRepository(db), ptsSvc, notifSvc, logger),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Printf("\nerror: %s\n", err)
		}
		logger.Close()
		os.Exit(1)
	}
}
