package database

import (
	"database/sql"
	"net/url"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/trezcool/goose"

	"github.com/trezcool/suivi/core"
	appfs "github.com/trezcool/suivi/fs"
)

const migrationsDir = "migrations"

func dsn(dbName string, admin bool, conf *core.Config) string {
	user := url.UserPassword(conf.Database.User, conf.Database.Password)
	if admin && conf.Database.AdminUser != "" {
		user = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
	}

	sslMode := "require"
	if conf.Database.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   conf.Database.Engine,
		User:     user,
		Host:     conf.Database.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Open opens the application database and waits for it to answer.
func Open(conf *core.Config) (*sql.DB, error) {
	return OpenURL(conf.Database.Engine, dsn(conf.Database.Name, false, conf))
}

// OpenURL opens a database from a connection URL (tests, one-off tools).
func OpenURL(driver, dataSource string) (*sql.DB, error) {
	db, err := sql.Open(driver, dataSource)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = ping(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sql.DB) error {
	var err error
	maxAttempts := 20
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		if err = db.Ping(); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}
	return errors.Wrap(err, "DB ping timeout")
}

func exists(db *sql.DB, query string, args ...interface{}) (bool, error) {
	var found bool
	err := db.QueryRow(query, args...).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return found, err
}

// CreateIfNotExist creates the application role and database, connecting as the admin role.
func CreateIfNotExist(conf *core.Config) error {
	admin, err := OpenURL(conf.Database.Engine, dsn("postgres", true, conf))
	if err != nil {
		return err
	}
	defer func() { _ = admin.Close() }()

	if conf.Database.User != "" {
		found, err := exists(admin, "SELECT true FROM pg_roles WHERE rolname = $1", conf.Database.User)
		if err != nil {
			return errors.Wrap(err, "checking app user")
		}
		if !found {
			// identifiers and passwords cannot be bound as parameters
			q := "CREATE USER " + pq.QuoteIdentifier(conf.Database.User) +
				" CREATEDB ENCRYPTED PASSWORD " + pq.QuoteLiteral(conf.Database.Password)
			if _, err = admin.Exec(q); err != nil {
				return errors.Wrap(err, "creating app user")
			}
		}
	}

	// the database is owned by the app user
	db, err := OpenURL(conf.Database.Engine, dsn("postgres", false, conf))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	found, err := exists(db, "SELECT true FROM pg_database WHERE datname = $1", conf.Database.Name)
	if err != nil {
		return errors.Wrap(err, "checking DB")
	}
	if !found {
		if _, err = db.Exec("CREATE DATABASE " + pq.QuoteIdentifier(conf.Database.Name)); err != nil {
			return errors.Wrap(err, "creating database")
		}
	}
	return nil
}

// Migrate applies the pending embedded migrations.
func Migrate(db *sql.DB) error {
	if err := goose.RunFS("up", db, appfs.FS, migrationsDir); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}
