package boiledrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
)

const (
	recordColumns = `id, client_id, user_id, course_id, content_id, content_type, status, lesson_status,
		started_at, last_seen_at, completed_at, accrued_time_ms, visit_count, resume_state,
		resume_updated_at, score, progress_percent, version, created_at, updated_at`

	aggregateColumns = `client_id, user_id, course_id, status, completion_percentage,
		completed_prerequisites, total_prerequisites, access, unlocked_at, current_content_id,
		version, created_at, updated_at`

	completionColumns = `client_id, user_id, course_id, prerequisite_id, prerequisite_type, time_spent,
		is_completed, completion_percentage, score, completed_at, updated_at`
)

type (
	recordRow struct {
		ID              string       `boil:"id"`
		ClientID        string       `boil:"client_id"`
		UserID          string       `boil:"user_id"`
		CourseID        string       `boil:"course_id"`
		ContentID       string       `boil:"content_id"`
		ContentType     string       `boil:"content_type"`
		Status          string       `boil:"status"`
		LessonStatus    string       `boil:"lesson_status"`
		StartedAt       null.Time    `boil:"started_at"`
		LastSeenAt      null.Time    `boil:"last_seen_at"`
		CompletedAt     null.Time    `boil:"completed_at"`
		AccruedTimeMS   int64        `boil:"accrued_time_ms"`
		VisitCount      int          `boil:"visit_count"`
		ResumeState     null.Bytes   `boil:"resume_state"`
		ResumeUpdatedAt null.Time    `boil:"resume_updated_at"`
		Score           null.Float64 `boil:"score"`
		ProgressPercent float64      `boil:"progress_percent"`
		Version         int64        `boil:"version"`
		CreatedAt       time.Time    `boil:"created_at"`
		UpdatedAt       time.Time    `boil:"updated_at"`
	}

	aggregateRow struct {
		ClientID               string    `boil:"client_id"`
		UserID                 string    `boil:"user_id"`
		CourseID               string    `boil:"course_id"`
		Status                 string    `boil:"status"`
		CompletionPercentage   float64   `boil:"completion_percentage"`
		CompletedPrerequisites int       `boil:"completed_prerequisites"`
		TotalPrerequisites     int       `boil:"total_prerequisites"`
		Access                 string    `boil:"access"`
		UnlockedAt             null.Time `boil:"unlocked_at"`
		CurrentContentID       string    `boil:"current_content_id"`
		Version                int64     `boil:"version"`
		CreatedAt              time.Time `boil:"created_at"`
		UpdatedAt              time.Time `boil:"updated_at"`
	}

	completionRow struct {
		ClientID             string       `boil:"client_id"`
		UserID               string       `boil:"user_id"`
		CourseID             string       `boil:"course_id"`
		PrerequisiteID       string       `boil:"prerequisite_id"`
		PrerequisiteType     string       `boil:"prerequisite_type"`
		TimeSpent            int64        `boil:"time_spent"`
		IsCompleted          bool         `boil:"is_completed"`
		CompletionPercentage float64      `boil:"completion_percentage"`
		Score                null.Float64 `boil:"score"`
		CompletedAt          null.Time    `boil:"completed_at"`
		UpdatedAt            time.Time    `boil:"updated_at"`
	}
)

type progressRepository struct {
	exec core.DBExecutor
}

var _ progress.Repository = (*progressRepository)(nil) // interface compliance check

func NewProgressRepository(exec core.DBExecutor) *progressRepository {
	return &progressRepository{exec: exec}
}

func (repo progressRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

// trapErr maps "no rows" to progress.ErrNotFound and lost lock races to progress.ErrConflict.
// Corrupted data stops the process: the API shuts down on core shutdown errors.
func trapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Cause(err) == sql.ErrNoRows {
		return progress.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return errors.Wrap(progress.ErrConflict, msg)
		case "XX001", "XX002": // data_corrupted, index_corrupted
			return errors.WithStack(core.NewShutdownError(msg + ": " + pqErr.Message))
		}
	}
	return errors.Wrap(err, msg)
}

func timeFromPtr(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func floatFromPtr(f *float64) null.Float64 {
	return null.Float64FromPtr(f)
}

func (repo progressRepository) unboilRecord(row recordRow) (progress.Record, error) {
	ct, err := progress.ParseContentType(row.ContentType)
	if err != nil {
		return progress.Record{}, errors.Wrapf(err, "record %s", row.ID)
	}
	rec := progress.Record{
		ID: row.ID,
		Identity: progress.Identity{
			ClientID:  row.ClientID,
			UserID:    row.UserID,
			CourseID:  row.CourseID,
			ContentID: row.ContentID,
		},
		Type:            ct,
		Status:          progress.Status(row.Status),
		LessonStatus:    row.LessonStatus,
		StartedAt:       row.StartedAt.Ptr(),
		LastSeenAt:      row.LastSeenAt.Ptr(),
		CompletedAt:     row.CompletedAt.Ptr(),
		AccruedMillis:   row.AccruedTimeMS,
		VisitCount:      row.VisitCount,
		ResumeUpdatedAt: row.ResumeUpdatedAt.Ptr(),
		Score:           row.Score.Ptr(),
		ProgressPercent: row.ProgressPercent,
		Version:         row.Version,
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}
	if row.ResumeState.Valid {
		rec.Resume = row.ResumeState.Bytes
	}
	return rec, nil
}

func (repo progressRepository) LockRecord(ctx context.Context, rec progress.Record, exec ...core.DBExecutor) (progress.Record, error) {
	exe := repo.getExec(exec)

	_, err := queries.Raw(`
		INSERT INTO content_progress (id, client_id, user_id, course_id, content_id, content_type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (client_id, user_id, course_id, content_id) DO NOTHING`,
		rec.ID, rec.ClientID, rec.UserID, rec.CourseID, rec.ContentID, rec.Type.String(), string(rec.Status),
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	).ExecContext(ctx, exe)
	if err != nil {
		return progress.Record{}, trapErr(err, "inserting record")
	}

	var row recordRow
	err = queries.Raw(`SELECT `+recordColumns+` FROM content_progress
		WHERE client_id = $1 AND user_id = $2 AND course_id = $3 AND content_id = $4
		FOR UPDATE`,
		rec.ClientID, rec.UserID, rec.CourseID, rec.ContentID,
	).Bind(ctx, exe, &row)
	if err != nil {
		return progress.Record{}, trapErr(err, "locking record")
	}
	return repo.unboilRecord(row)
}

func (repo progressRepository) GetRecord(ctx context.Context, id progress.Identity, exec ...core.DBExecutor) (progress.Record, error) {
	var row recordRow
	err := queries.Raw(`SELECT `+recordColumns+` FROM content_progress
		WHERE client_id = $1 AND user_id = $2 AND course_id = $3 AND content_id = $4`,
		id.ClientID, id.UserID, id.CourseID, id.ContentID,
	).Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return progress.Record{}, trapErr(err, "getting record")
	}
	return repo.unboilRecord(row)
}

func (repo progressRepository) SaveRecord(ctx context.Context, rec progress.Record, exec ...core.DBExecutor) (progress.Record, error) {
	res, err := queries.Raw(`
		UPDATE content_progress SET
			status = $1, lesson_status = $2, started_at = $3, last_seen_at = $4, completed_at = $5,
			accrued_time_ms = $6, visit_count = $7, resume_state = $8, resume_updated_at = $9,
			score = $10, progress_percent = $11, updated_at = $12, version = version + 1
		WHERE id = $13 AND version = $14`,
		string(rec.Status), rec.LessonStatus, timeFromPtr(rec.StartedAt), timeFromPtr(rec.LastSeenAt),
		timeFromPtr(rec.CompletedAt), rec.AccruedMillis, rec.VisitCount, null.BytesFromPtr(resumePtr(rec.Resume)),
		timeFromPtr(rec.ResumeUpdatedAt), floatFromPtr(rec.Score), rec.ProgressPercent, rec.UpdatedAt.UTC(),
		rec.ID, rec.Version,
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return progress.Record{}, trapErr(err, "updating record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return progress.Record{}, errors.Wrap(err, "updating record")
	}
	if n == 0 {
		return progress.Record{}, errors.Wrapf(progress.ErrConflict, "record %s moved past version %d", rec.ID, rec.Version)
	}
	rec.Version++
	return rec, nil
}

func resumePtr(b []byte) *[]byte {
	if b == nil {
		return nil
	}
	return &b
}

func (repo progressRepository) unboilAggregate(row aggregateRow) progress.CourseAggregate {
	return progress.CourseAggregate{
		ClientID:               row.ClientID,
		UserID:                 row.UserID,
		CourseID:               row.CourseID,
		Status:                 progress.Status(row.Status),
		CompletionPercentage:   row.CompletionPercentage,
		CompletedPrerequisites: row.CompletedPrerequisites,
		TotalPrerequisites:     row.TotalPrerequisites,
		Access:                 progress.Access(row.Access),
		UnlockedAt:             row.UnlockedAt.Ptr(),
		CurrentContentID:       row.CurrentContentID,
		Version:                row.Version,
		CreatedAt:              row.CreatedAt.UTC(),
		UpdatedAt:              row.UpdatedAt.UTC(),
	}
}

func (repo progressRepository) LockAggregate(ctx context.Context, agg progress.CourseAggregate, exec ...core.DBExecutor) (progress.CourseAggregate, error) {
	exe := repo.getExec(exec)

	_, err := queries.Raw(`
		INSERT INTO course_progress (client_id, user_id, course_id, status, access, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id, user_id, course_id) DO NOTHING`,
		agg.ClientID, agg.UserID, agg.CourseID, string(agg.Status), string(agg.Access),
		agg.CreatedAt.UTC(), agg.UpdatedAt.UTC(),
	).ExecContext(ctx, exe)
	if err != nil {
		return progress.CourseAggregate{}, trapErr(err, "inserting aggregate")
	}

	var row aggregateRow
	err = queries.Raw(`SELECT `+aggregateColumns+` FROM course_progress
		WHERE client_id = $1 AND user_id = $2 AND course_id = $3
		FOR UPDATE`,
		agg.ClientID, agg.UserID, agg.CourseID,
	).Bind(ctx, exe, &row)
	if err != nil {
		return progress.CourseAggregate{}, trapErr(err, "locking aggregate")
	}
	return repo.unboilAggregate(row), nil
}

func (repo progressRepository) GetAggregate(ctx context.Context, key progress.CourseKey, exec ...core.DBExecutor) (progress.CourseAggregate, error) {
	var row aggregateRow
	err := queries.Raw(`SELECT `+aggregateColumns+` FROM course_progress
		WHERE client_id = $1 AND user_id = $2 AND course_id = $3`,
		key.ClientID, key.UserID, key.CourseID,
	).Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return progress.CourseAggregate{}, trapErr(err, "getting aggregate")
	}
	return repo.unboilAggregate(row), nil
}

func (repo progressRepository) SaveAggregate(ctx context.Context, agg progress.CourseAggregate, exec ...core.DBExecutor) (progress.CourseAggregate, error) {
	res, err := queries.Raw(`
		UPDATE course_progress SET
			status = $1, completion_percentage = $2, completed_prerequisites = $3, total_prerequisites = $4,
			access = $5, unlocked_at = $6, current_content_id = $7, updated_at = $8, version = version + 1
		WHERE client_id = $9 AND user_id = $10 AND course_id = $11 AND version = $12`,
		string(agg.Status), agg.CompletionPercentage, agg.CompletedPrerequisites, agg.TotalPrerequisites,
		string(agg.Access), timeFromPtr(agg.UnlockedAt), agg.CurrentContentID, agg.UpdatedAt.UTC(),
		agg.ClientID, agg.UserID, agg.CourseID, agg.Version,
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return progress.CourseAggregate{}, trapErr(err, "updating aggregate")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return progress.CourseAggregate{}, errors.Wrap(err, "updating aggregate")
	}
	if n == 0 {
		return progress.CourseAggregate{}, errors.Wrap(progress.ErrConflict, "aggregate moved")
	}
	agg.Version++
	return agg, nil
}

func (repo progressRepository) ListPrerequisiteCompletions(ctx context.Context, key progress.CourseKey, exec ...core.DBExecutor) ([]progress.PrerequisiteCompletion, error) {
	var rows []*completionRow
	err := queries.Raw(`SELECT `+completionColumns+` FROM prerequisite_completion
		WHERE client_id = $1 AND user_id = $2 AND course_id = $3
		ORDER BY prerequisite_id, prerequisite_type`,
		key.ClientID, key.UserID, key.CourseID,
	).Bind(ctx, repo.getExec(exec), &rows)
	if err != nil {
		return nil, errors.Wrap(err, "listing prerequisite completions")
	}

	pcs := make([]progress.PrerequisiteCompletion, 0, len(rows))
	for _, row := range rows {
		ct, err := progress.ParseContentType(row.PrerequisiteType)
		if err != nil {
			return nil, errors.Wrapf(err, "prerequisite %s", row.PrerequisiteID)
		}
		pcs = append(pcs, progress.PrerequisiteCompletion{
			ClientID:             row.ClientID,
			UserID:               row.UserID,
			CourseID:             row.CourseID,
			PrerequisiteID:       row.PrerequisiteID,
			PrerequisiteType:     ct,
			TimeSpentSeconds:     row.TimeSpent,
			IsCompleted:          row.IsCompleted,
			CompletionPercentage: row.CompletionPercentage,
			Score:                row.Score.Ptr(),
			CompletedAt:          row.CompletedAt.Ptr(),
			UpdatedAt:            row.UpdatedAt.UTC(),
		})
	}
	return pcs, nil
}

func (repo progressRepository) SavePrerequisiteCompletion(ctx context.Context, pc progress.PrerequisiteCompletion, exec ...core.DBExecutor) error {
	_, err := queries.Raw(`
		INSERT INTO prerequisite_completion (`+completionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (client_id, user_id, course_id, prerequisite_id, prerequisite_type) DO UPDATE SET
			time_spent = EXCLUDED.time_spent,
			is_completed = EXCLUDED.is_completed,
			completion_percentage = EXCLUDED.completion_percentage,
			score = EXCLUDED.score,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at`,
		pc.ClientID, pc.UserID, pc.CourseID, pc.PrerequisiteID, pc.PrerequisiteType.String(),
		pc.TimeSpentSeconds, pc.IsCompleted, pc.CompletionPercentage, floatFromPtr(pc.Score),
		timeFromPtr(pc.CompletedAt), pc.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	return trapErr(err, "saving prerequisite completion")
}
