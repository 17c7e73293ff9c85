package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/suivi/core/progress"
)

type (
	enrollmentRow struct {
		ClientID     string `db:"client_id"`
		UserID       string `db:"user_id"`
		CourseID     string `db:"course_id"`
		LearnerName  string `db:"learner_name"`
		LearnerEmail string `db:"learner_email"`
		CourseTitle  string `db:"course_title"`
		IsActive     bool   `db:"is_active"`
	}

	contentRow struct {
		ClientID    string `db:"client_id"`
		CourseID    string `db:"course_id"`
		ContentID   string `db:"content_id"`
		ContentType string `db:"content_type"`
	}

	requirementRow struct {
		ClientID         string  `db:"client_id"`
		CourseID         string  `db:"course_id"`
		PrerequisiteID   string  `db:"prerequisite_id"`
		PrerequisiteType string  `db:"prerequisite_type"`
		SourceCourseID   string  `db:"source_course_id"`
		Weight           float64 `db:"weight"`
		IsRequired       bool    `db:"is_required"`
	}
)

const requirementColumns = `client_id, course_id, prerequisite_id, prerequisite_type, source_course_id, weight, is_required`

// directory reads the course catalog tables. It never writes.
type directory struct {
	db *sqlx.DB
}

var _ progress.Directory = (*directory)(nil) // interface compliance check

func NewDirectory(db *sql.DB) *directory {
	return &directory{db: sqlx.NewDb(db, "postgres")}
}

func (dir directory) GetEnrollment(ctx context.Context, clientID, userID, courseID string) (progress.Enrollment, error) {
	var rows []enrollmentRow
	err := dir.db.SelectContext(ctx, &rows, `
		SELECT client_id, user_id, course_id, learner_name, learner_email, course_title, is_active
		FROM enrollment WHERE user_id = $1 AND course_id = $2`,
		userID, courseID,
	)
	if err != nil {
		return progress.Enrollment{}, errors.Wrap(err, "querying enrollment")
	}
	if len(rows) == 0 {
		return progress.Enrollment{}, progress.ErrNotFound
	}
	for _, row := range rows {
		if row.ClientID == clientID {
			return progress.Enrollment{
				ClientID:     row.ClientID,
				UserID:       row.UserID,
				CourseID:     row.CourseID,
				LearnerName:  row.LearnerName,
				LearnerEmail: row.LearnerEmail,
				CourseTitle:  row.CourseTitle,
				IsActive:     row.IsActive,
			}, nil
		}
	}
	return progress.Enrollment{}, progress.ErrForbidden
}

func (dir directory) GetContent(ctx context.Context, clientID, courseID, contentID string) (progress.Content, error) {
	var row contentRow
	err := dir.db.GetContext(ctx, &row, `
		SELECT client_id, course_id, content_id, content_type
		FROM course_content WHERE client_id = $1 AND course_id = $2 AND content_id = $3`,
		clientID, courseID, contentID,
	)
	if err == sql.ErrNoRows {
		return progress.Content{}, progress.ErrNotFound
	}
	if err != nil {
		return progress.Content{}, errors.Wrap(err, "querying content")
	}
	ct, err := progress.ParseContentType(row.ContentType)
	if err != nil {
		return progress.Content{}, errors.Wrapf(err, "content %s", row.ContentID)
	}
	return progress.Content{ClientID: row.ClientID, CourseID: row.CourseID, ContentID: row.ContentID, Type: ct}, nil
}

func (dir directory) ListRequirementsBySource(ctx context.Context, clientID, sourceCourseID, contentID string, ct progress.ContentType) ([]progress.Requirement, error) {
	return dir.selectRequirements(ctx, `
		SELECT `+requirementColumns+` FROM course_requirement
		WHERE client_id = $1 AND source_course_id = $2 AND prerequisite_id = $3 AND prerequisite_type = $4
		ORDER BY course_id`,
		clientID, sourceCourseID, contentID, ct.String(),
	)
}

func (dir directory) ListRequirements(ctx context.Context, clientID, courseID string) ([]progress.Requirement, error) {
	return dir.selectRequirements(ctx, `
		SELECT `+requirementColumns+` FROM course_requirement
		WHERE client_id = $1 AND course_id = $2
		ORDER BY prerequisite_id, prerequisite_type`,
		clientID, courseID,
	)
}

func (dir directory) selectRequirements(ctx context.Context, query string, args ...interface{}) ([]progress.Requirement, error) {
	var rows []requirementRow
	if err := dir.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying requirements")
	}

	reqs := make([]progress.Requirement, 0, len(rows))
	for _, row := range rows {
		ct, err := progress.ParseContentType(row.PrerequisiteType)
		if err != nil {
			return nil, errors.Wrapf(err, "requirement %s/%s", row.CourseID, row.PrerequisiteID)
		}
		reqs = append(reqs, progress.Requirement{
			ClientID:         row.ClientID,
			CourseID:         row.CourseID,
			PrerequisiteID:   row.PrerequisiteID,
			PrerequisiteType: ct,
			SourceCourseID:   row.SourceCourseID,
			Weight:           row.Weight,
			Required:         row.IsRequired,
		})
	}
	return reqs, nil
}
