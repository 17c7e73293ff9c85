package dig_container

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/suivi/apps/api/echo"
	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
	emailsvc "github.com/trezcool/suivi/services/email"
	logsvc "github.com/trezcool/suivi/services/logger"
	"github.com/trezcool/suivi/storage/cache"
	"github.com/trezcool/suivi/storage/database"
	boiledrepos "github.com/trezcool/suivi/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/suivi/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type ServerParam struct {
	dig.In
	Conf        *core.Config
	Logger      core.Logger
	ProgressSvc *progress.Service
	Validate    *validator.Validate
	Translator  ut.Translator
}

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

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sql.DB, core.DB) {
	setUp := func() (*sql.DB, error) {
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

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db
}

func newProgressRepository(db core.DB) progress.Repository {
	return boiledrepos.NewProgressRepository(db)
}

func newDirectory(db *sql.DB) progress.Directory {
	return sqlxrepos.NewDirectory(db)
}

func newTransactor(db core.DB) core.Transactor {
	return core.SQLTransactor{DB: db}
}

// newNonceCache shares nonces between API instances through redis when configured. Without redis,
// or when it cannot be reached, nonces are only remembered by this process.
func newNonceCache(conf *core.Config, logger core.Logger) progress.NonceCache {
	if conf.Redis.Addr == "" {
		return cache.NewMemoryNonceCache(conf.Redis.NonceTTL)
	}
	nonces, err := cache.NewRedisNonceCache(conf)
	if err != nil {
		logger.Error(fmt.Sprintf("connecting to redis, falling back to in-process nonces: %v", err), err)
		return cache.NewMemoryNonceCache(conf.Redis.NonceTTL)
	}
	return nonces
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newServer(p ServerParam) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:        p.Conf,
		Logger:      p.Logger,
		ProgressSvc: p.ProgressSvc,
		Validate:    p.Validate,
		Translator:  p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newProgressRepository))
	must(c.Provide(newDirectory))
	must(c.Provide(newTransactor))
	must(c.Provide(newNonceCache))
	must(c.Provide(newEmailService))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(progress.NewService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
