package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
	emailsvc "github.com/trezcool/suivi/services/email"
	logsvc "github.com/trezcool/suivi/services/logger"
	"github.com/trezcool/suivi/storage/cache"
	"github.com/trezcool/suivi/storage/database"
	boiledrepos "github.com/trezcool/suivi/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/suivi/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	stdLogger := log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	svc := progress.NewService(
		conf,
		boiledrepos.NewProgressRepository(db),
		sqlxrepos.NewDirectory(db),
		core.SQLTransactor{DB: db},
		cache.NewMemoryNonceCache(conf.Redis.NonceTTL),
		mailSvc,
		logger,
	)

	// start CLI
	cli := commandLine{
		conf: conf,
		db:   db,
		svc:  svc,
		out:  os.Stdout,
	}
	err = cli.run(os.Args)
	if cerr := db.Close(); cerr != nil {
		logger.Error(fmt.Sprintf("closing database: %v", cerr), cerr)
	}
	if err != nil {
		if err != errHelp {
			stdLogger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
