package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
)

type progressRepository struct {
	db *DB
}

var _ progress.Repository = (*progressRepository)(nil) // interface compliance check

func NewProgressRepository(db *DB) *progressRepository {
	return &progressRepository{db: db}
}

func copyRecord(rec progress.Record) progress.Record {
	if rec.Resume != nil {
		rec.Resume = append([]byte(nil), rec.Resume...)
	}
	return rec
}

func (repo *progressRepository) LockRecord(_ context.Context, rec progress.Record, _ ...core.DBExecutor) (progress.Record, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if stored, ok := repo.db.records[rec.Identity]; ok {
		return copyRecord(stored), nil
	}
	rec.Version = 0
	repo.db.records[rec.Identity] = copyRecord(rec)
	return rec, nil
}

func (repo *progressRepository) GetRecord(_ context.Context, id progress.Identity, _ ...core.DBExecutor) (progress.Record, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if rec, ok := repo.db.records[id]; ok {
		return copyRecord(rec), nil
	}
	return progress.Record{}, progress.ErrNotFound
}

func (repo *progressRepository) SaveRecord(_ context.Context, rec progress.Record, _ ...core.DBExecutor) (progress.Record, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	stored, ok := repo.db.records[rec.Identity]
	if !ok {
		return progress.Record{}, progress.ErrNotFound
	}
	if stored.Version != rec.Version {
		return progress.Record{}, progress.ErrConflict
	}
	rec.Version++
	repo.db.records[rec.Identity] = copyRecord(rec)
	return rec, nil
}

func (repo *progressRepository) LockAggregate(_ context.Context, agg progress.CourseAggregate, _ ...core.DBExecutor) (progress.CourseAggregate, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	key := agg.Key()
	if stored, ok := repo.db.aggregates[key]; ok {
		return stored, nil
	}
	agg.Version = 0
	repo.db.aggregates[key] = agg
	return agg, nil
}

func (repo *progressRepository) GetAggregate(_ context.Context, key progress.CourseKey, _ ...core.DBExecutor) (progress.CourseAggregate, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if agg, ok := repo.db.aggregates[key]; ok {
		return agg, nil
	}
	return progress.CourseAggregate{}, progress.ErrNotFound
}

func (repo *progressRepository) SaveAggregate(_ context.Context, agg progress.CourseAggregate, _ ...core.DBExecutor) (progress.CourseAggregate, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	key := agg.Key()
	stored, ok := repo.db.aggregates[key]
	if !ok {
		return progress.CourseAggregate{}, progress.ErrNotFound
	}
	if stored.Version != agg.Version {
		return progress.CourseAggregate{}, progress.ErrConflict
	}
	agg.Version++
	repo.db.aggregates[key] = agg
	return agg, nil
}

func (repo *progressRepository) ListPrerequisiteCompletions(_ context.Context, key progress.CourseKey, _ ...core.DBExecutor) ([]progress.PrerequisiteCompletion, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	rows := make([]progress.PrerequisiteCompletion, 0)
	for k, pc := range repo.db.completions {
		if k.course == key {
			rows = append(rows, pc)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PrerequisiteID != rows[j].PrerequisiteID {
			return rows[i].PrerequisiteID < rows[j].PrerequisiteID
		}
		return rows[i].PrerequisiteType.String() < rows[j].PrerequisiteType.String()
	})
	return rows, nil
}

func (repo *progressRepository) SavePrerequisiteCompletion(_ context.Context, pc progress.PrerequisiteCompletion, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	key := completionKey{
		course:   progress.CourseKey{ClientID: pc.ClientID, UserID: pc.UserID, CourseID: pc.CourseID},
		prereqID: pc.PrerequisiteID,
		prereqTp: pc.PrerequisiteType.String(),
	}
	repo.db.completions[key] = pc
	return nil
}
