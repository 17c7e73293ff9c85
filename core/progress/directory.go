package progress

import "context"

type (
	// Enrollment ties a learner to a course of a client.
	Enrollment struct {
		ClientID     string
		UserID       string
		CourseID     string
		LearnerName  string
		LearnerEmail string
		CourseTitle  string
		IsActive     bool
	}

	// Content is a trackable unit of a course, as authored in the catalog.
	Content struct {
		ClientID  string
		CourseID  string
		ContentID string
		Type      ContentType
	}

	// Directory is the read-only catalog the engine resolves identities against.
	// It is owned by the course-authoring side of the platform.
	Directory interface {
		// GetEnrollment returns ErrForbidden when the enrollment exists under another client,
		// ErrNotFound when it does not exist at all.
		GetEnrollment(ctx context.Context, clientID, userID, courseID string) (Enrollment, error)
		GetContent(ctx context.Context, clientID, courseID, contentID string) (Content, error)
		// ListRequirementsBySource lists the requirements satisfied by a content, across all gated courses.
		ListRequirementsBySource(ctx context.Context, clientID, sourceCourseID, contentID string, ct ContentType) ([]Requirement, error)
		// ListRequirements lists the requirements of a gated course.
		ListRequirements(ctx context.Context, clientID, courseID string) ([]Requirement, error)
	}
)
