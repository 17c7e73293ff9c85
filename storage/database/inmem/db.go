package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
)

type (
	enrollmentKey struct {
		clientID, userID, courseID string
	}

	contentKey struct {
		clientID, courseID, contentID string
	}

	completionKey struct {
		course   progress.CourseKey
		prereqID string
		prereqTp string
	}

	// DB is an in-process stand-in for the postgres schema: progress tables plus the catalog.
	// Units of work are serialized per learner and rolled back on error.
	DB struct {
		mutex       sync.RWMutex
		records     map[progress.Identity]progress.Record
		aggregates  map[progress.CourseKey]progress.CourseAggregate
		completions map[completionKey]progress.PrerequisiteCompletion

		enrollments  map[enrollmentKey]progress.Enrollment
		contents     map[contentKey]progress.Content
		requirements []progress.Requirement

		locksMu sync.Mutex
		locks   map[string]*sync.Mutex
	}
)

var _ core.Transactor = (*DB)(nil)

func NewDB() *DB {
	return &DB{
		records:     make(map[progress.Identity]progress.Record),
		aggregates:  make(map[progress.CourseKey]progress.CourseAggregate),
		completions: make(map[completionKey]progress.PrerequisiteCompletion),
		enrollments: make(map[enrollmentKey]progress.Enrollment),
		contents:    make(map[contentKey]progress.Content),
		locks:       make(map[string]*sync.Mutex),
	}
}

func learnerKey(clientID, userID string) string {
	return clientID + "/" + userID
}

func (db *DB) lock(key string) *sync.Mutex {
	db.locksMu.Lock()
	defer db.locksMu.Unlock()
	mu, ok := db.locks[key]
	if !ok {
		mu = new(sync.Mutex)
		db.locks[key] = mu
	}
	return mu
}

// snapshot holds the progress rows of one learner.
type snapshot struct {
	records     map[progress.Identity]progress.Record
	aggregates  map[progress.CourseKey]progress.CourseAggregate
	completions map[completionKey]progress.PrerequisiteCompletion
}

func (db *DB) snapshot(key string) snapshot {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	snap := snapshot{
		records:     make(map[progress.Identity]progress.Record),
		aggregates:  make(map[progress.CourseKey]progress.CourseAggregate),
		completions: make(map[completionKey]progress.PrerequisiteCompletion),
	}
	for k, v := range db.records {
		if k.LockKey() == key {
			snap.records[k] = v
		}
	}
	for k, v := range db.aggregates {
		if learnerKey(k.ClientID, k.UserID) == key {
			snap.aggregates[k] = v
		}
	}
	for k, v := range db.completions {
		if learnerKey(k.course.ClientID, k.course.UserID) == key {
			snap.completions[k] = v
		}
	}
	return snap
}

func (db *DB) restore(key string, snap snapshot) {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for k := range db.records {
		if k.LockKey() == key {
			delete(db.records, k)
		}
	}
	for k := range db.aggregates {
		if learnerKey(k.ClientID, k.UserID) == key {
			delete(db.aggregates, k)
		}
	}
	for k := range db.completions {
		if learnerKey(k.course.ClientID, k.course.UserID) == key {
			delete(db.completions, k)
		}
	}
	for k, v := range snap.records {
		db.records[k] = v
	}
	for k, v := range snap.aggregates {
		db.aggregates[k] = v
	}
	for k, v := range snap.completions {
		db.completions[k] = v
	}
}

// WithinTx runs fn while holding the lock of lockKey. Every write fn made to the rows of that
// learner is undone when fn fails. fn receives a nil executor.
func (db *DB) WithinTx(ctx context.Context, lockKey string, fn func(exec core.DBExecutor) error) (err error) {
	mu := db.lock(lockKey)
	mu.Lock()
	defer mu.Unlock()

	if err = ctx.Err(); err != nil {
		return err
	}
	snap := db.snapshot(lockKey)
	defer func() {
		if p := recover(); p != nil {
			db.restore(lockKey, snap)
			panic(p)
		}
		if err != nil {
			db.restore(lockKey, snap)
		}
	}()
	return fn(nil)
}

// Reset empties every table.
func (db *DB) Reset() {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	db.records = make(map[progress.Identity]progress.Record)
	db.aggregates = make(map[progress.CourseKey]progress.CourseAggregate)
	db.completions = make(map[completionKey]progress.PrerequisiteCompletion)
	db.enrollments = make(map[enrollmentKey]progress.Enrollment)
	db.contents = make(map[contentKey]progress.Content)
	db.requirements = nil
}
