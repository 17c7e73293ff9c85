package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/suivi/core/progress"
)

type directory struct {
	db *DB
}

var _ progress.Directory = (*directory)(nil) // interface compliance check

func NewDirectory(db *DB) *directory {
	return &directory{db: db}
}

// Catalog seeding

func (db *DB) AddEnrollment(enr progress.Enrollment) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.enrollments[enrollmentKey{enr.ClientID, enr.UserID, enr.CourseID}] = enr
}

func (db *DB) AddContent(c progress.Content) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.contents[contentKey{c.ClientID, c.CourseID, c.ContentID}] = c
}

func (db *DB) AddRequirement(req progress.Requirement) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.requirements = append(db.requirements, req)
}

func (dir *directory) GetEnrollment(_ context.Context, clientID, userID, courseID string) (progress.Enrollment, error) {
	dir.db.mutex.RLock()
	defer dir.db.mutex.RUnlock()

	if enr, ok := dir.db.enrollments[enrollmentKey{clientID, userID, courseID}]; ok {
		return enr, nil
	}
	for k := range dir.db.enrollments {
		if k.userID == userID && k.courseID == courseID {
			return progress.Enrollment{}, progress.ErrForbidden
		}
	}
	return progress.Enrollment{}, progress.ErrNotFound
}

func (dir *directory) GetContent(_ context.Context, clientID, courseID, contentID string) (progress.Content, error) {
	dir.db.mutex.RLock()
	defer dir.db.mutex.RUnlock()

	if c, ok := dir.db.contents[contentKey{clientID, courseID, contentID}]; ok {
		return c, nil
	}
	return progress.Content{}, progress.ErrNotFound
}

func (dir *directory) filterRequirements(keep func(progress.Requirement) bool) []progress.Requirement {
	dir.db.mutex.RLock()
	defer dir.db.mutex.RUnlock()

	reqs := make([]progress.Requirement, 0)
	for _, req := range dir.db.requirements {
		if keep(req) {
			reqs = append(reqs, req)
		}
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].CourseID < reqs[j].CourseID })
	return reqs
}

func (dir *directory) ListRequirementsBySource(_ context.Context, clientID, sourceCourseID, contentID string, ct progress.ContentType) ([]progress.Requirement, error) {
	return dir.filterRequirements(func(req progress.Requirement) bool {
		return req.ClientID == clientID &&
			req.SourceCourseID == sourceCourseID &&
			req.PrerequisiteID == contentID &&
			req.PrerequisiteType == ct
	}), nil
}

func (dir *directory) ListRequirements(_ context.Context, clientID, courseID string) ([]progress.Requirement, error) {
	return dir.filterRequirements(func(req progress.Requirement) bool {
		return req.ClientID == clientID && req.CourseID == courseID
	}), nil
}
