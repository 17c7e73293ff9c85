package testutil

import (
	"database/sql"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
	emailsvc "github.com/trezcool/suivi/services/email"
	logsvc "github.com/trezcool/suivi/services/logger"
	"github.com/trezcool/suivi/storage/cache"
	"github.com/trezcool/suivi/storage/database"
	inmemdb "github.com/trezcool/suivi/storage/database/inmem"
)

// NewConfig returns the defaults in test mode: no debug output, no redis, a fixed secret.
func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.Debug = false
	conf.TestMode = true
	conf.SecretKey = "test-secret"
	conf.Redis.Addr = ""
	conf.Server.JWTExpirationDelta = time.Hour
	return conf
}

// NewLogger returns a logger that reports nothing.
func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)
	return logger
}

// Env is a tracking engine backed by the in-memory store.
type Env struct {
	Conf   *core.Config
	Logger core.Logger
	DB     *inmemdb.DB
	Nonces *cache.MemoryNonceCache
	Svc    *progress.Service
}

// NewEnv builds the engine on a fresh store. configure may adjust the defaults first.
func NewEnv(t *testing.T, configure ...func(conf *core.Config)) *Env {
	t.Helper()

	conf := NewConfig()
	for _, fn := range configure {
		fn(conf)
	}
	logger := NewLogger(conf)
	db := inmemdb.NewDB()
	nonces := cache.NewMemoryNonceCache(conf.Redis.NonceTTL)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	emailsvc.ResetSentMessages()

	svc := progress.NewService(
		conf,
		inmemdb.NewProgressRepository(db),
		inmemdb.NewDirectory(db),
		db,
		nonces,
		mailSvc,
		logger,
	)
	return &Env{Conf: conf, Logger: logger, DB: db, Nonces: nonces, Svc: svc}
}

// Enroll enrolls userID in every course of clientID.
func (env *Env) Enroll(clientID, userID string, courseIDs ...string) {
	for _, courseID := range courseIDs {
		env.DB.AddEnrollment(progress.Enrollment{
			ClientID:     clientID,
			UserID:       userID,
			CourseID:     courseID,
			LearnerName:  "Learner " + userID,
			LearnerEmail: userID + "@test.cd",
			CourseTitle:  "Course " + courseID,
			IsActive:     true,
		})
	}
}

// AddContent adds a content to a course. It counts towards the course progress without gating
// the course.
func (env *Env) AddContent(clientID, courseID, contentID string, ct progress.ContentType) {
	env.DB.AddContent(progress.Content{ClientID: clientID, CourseID: courseID, ContentID: contentID, Type: ct})
	env.DB.AddRequirement(progress.Requirement{
		ClientID:         clientID,
		CourseID:         courseID,
		PrerequisiteID:   contentID,
		PrerequisiteType: ct,
		SourceCourseID:   courseID,
		Weight:           1,
	})
}

// Gate makes the content of sourceCourseID a required prerequisite of courseID.
func (env *Env) Gate(clientID, courseID, sourceCourseID, contentID string, ct progress.ContentType) {
	env.DB.AddRequirement(progress.Requirement{
		ClientID:         clientID,
		CourseID:         courseID,
		PrerequisiteID:   contentID,
		PrerequisiteType: ct,
		SourceCourseID:   sourceCourseID,
		Weight:           1,
		Required:         true,
	})
}

// Session returns a learner session of clientID at now.
func Session(clientID, userID string, now time.Time) core.Session {
	return core.Session{ClientID: clientID, UserID: userID, Now: now.UTC(), RequestID: "test"}
}

// AdminSession returns an admin session of clientID at now.
func AdminSession(clientID string, now time.Time) core.Session {
	return core.Session{ClientID: clientID, UserID: "admin", IsAdmin: true, Now: now.UTC(), RequestID: "test"}
}

// OpenDB opens the postgres database named by TEST_DATABASE_URL and migrates it.
// The test is skipped when the variable is not set.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.OpenURL("postgres", url)
	if err != nil {
		t.Fatalf("OpenURL() failed: %v", err)
	}
	if err = database.Migrate(db); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("db.Close() failed: %v", err)
		}
	})
	return db
}

// PrepareDB returns a migrated postgres database emptied of progress and catalog rows.
func PrepareDB(t *testing.T) *sql.DB {
	t.Helper()

	db := OpenDB(t)
	_, err := db.Exec(`TRUNCATE content_progress, prerequisite_completion, course_progress,
		enrollment, course_content, course_requirement`)
	if err != nil {
		t.Fatalf("truncating tables failed: %v", err)
	}
	return db
}
