package progress

import (
	"math"
	"time"
)

// Access of a learner to a gated course.
type Access string

const (
	AccessLocked   Access = "locked"
	AccessUnlocked Access = "unlocked"
)

// Requirement is a catalog row: content PrerequisiteID (of course SourceCourseID) must be completed
// towards course CourseID.
type Requirement struct {
	ClientID         string
	CourseID         string
	PrerequisiteID   string
	PrerequisiteType ContentType
	SourceCourseID   string
	Weight           float64 // <= 0 counts as 1
	Required         bool
}

func (r Requirement) weight() float64 {
	if r.Weight <= 0 {
		return 1
	}
	return r.Weight
}

// PrerequisiteCompletion is the per-learner projection of a Requirement. It mirrors the terminal
// fields of the content record and is written by the Propagator only.
type PrerequisiteCompletion struct {
	ClientID             string      `json:"-"`
	UserID               string      `json:"user"`
	CourseID             string      `json:"course"`
	PrerequisiteID       string      `json:"prerequisite"`
	PrerequisiteType     ContentType `json:"prerequisite_type"`
	TimeSpentSeconds     int64       `json:"time_spent"`
	IsCompleted          bool        `json:"is_completed"`
	CompletionPercentage float64     `json:"completion_percentage"`
	Score                *float64    `json:"score,omitempty"`
	CompletedAt          *time.Time  `json:"completed_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

func (pc PrerequisiteCompletion) key() string {
	return pc.PrerequisiteID + "/" + pc.PrerequisiteType.String()
}

func (r Requirement) key() string {
	return r.PrerequisiteID + "/" + r.PrerequisiteType.String()
}

// CourseAggregate is the overall progress of a learner on a course.
type CourseAggregate struct {
	ClientID               string     `json:"-"`
	UserID                 string     `json:"user"`
	CourseID               string     `json:"course"`
	Status                 Status     `json:"status"`
	CompletionPercentage   float64    `json:"completion_percentage"`
	CompletedPrerequisites int        `json:"completed_prerequisites"`
	TotalPrerequisites     int        `json:"total_prerequisites"`
	Access                 Access     `json:"access"`
	UnlockedAt             *time.Time `json:"unlocked_at"`
	CurrentContentID       string     `json:"current_content,omitempty"`
	Version                int64      `json:"-"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// CourseKey addresses a CourseAggregate.
type CourseKey struct {
	ClientID string
	UserID   string
	CourseID string
}

func NewCourseAggregate(key CourseKey, now time.Time) CourseAggregate {
	return CourseAggregate{
		ClientID:  key.ClientID,
		UserID:    key.UserID,
		CourseID:  key.CourseID,
		Status:    StatusNotStarted,
		Access:    AccessLocked,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (agg CourseAggregate) Key() CourseKey {
	return CourseKey{ClientID: agg.ClientID, UserID: agg.UserID, CourseID: agg.CourseID}
}

// Recompute derives the aggregate from the course requirements and the learner's projections.
// The percentage is weighted by Requirement.Weight. Access flips locked -> unlocked once every
// required prerequisite is complete and never flips back. It reports whether this call unlocked
// the course through one of its required prerequisites.
func (agg *CourseAggregate) Recompute(reqs []Requirement, rows []PrerequisiteCompletion, now time.Time) bool {
	done := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.IsCompleted {
			done[row.key()] = true
		}
	}

	var (
		completed, required int
		doneWeight, weight  float64
		allRequiredComplete = true
	)
	for _, req := range reqs {
		weight += req.weight()
		if req.Required {
			required++
		}
		if done[req.key()] {
			completed++
			doneWeight += req.weight()
		} else if req.Required {
			allRequiredComplete = false
		}
	}

	agg.TotalPrerequisites = len(reqs)
	agg.CompletedPrerequisites = completed
	agg.CompletionPercentage = 0
	if weight > 0 {
		agg.CompletionPercentage = math.Round(doneWeight/weight*10000) / 100
	}

	switch {
	case len(reqs) > 0 && completed == len(reqs):
		agg.Status = StatusCompleted
	case completed > 0 || agg.CurrentContentID != "":
		agg.Status = StatusInProgress
	default:
		agg.Status = StatusNotStarted
	}
	agg.UpdatedAt = now

	if allRequiredComplete && agg.Access != AccessUnlocked {
		agg.Access = AccessUnlocked
		agg.UnlockedAt = timePtr(now)
		// an ungated course is open from the start: nothing to announce
		return required > 0
	}
	return false
}
