package progress

import (
	"time"
)

// Status is the lifecycle state of a content progress record.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Identity addresses a single record. Every lookup is scoped by ClientID (tenant).
type Identity struct {
	ClientID  string `json:"-"`
	UserID    string `json:"user"`
	CourseID  string `json:"course"`
	ContentID string `json:"content"`
}

// LockKey is the unit of write serialization: one learner of one tenant.
func (id Identity) LockKey() string {
	return id.ClientID + "/" + id.UserID
}

// Record is the durable progress of one learner on one content of one course.
type Record struct {
	ID string `json:"id"`
	Identity
	Type            ContentType `json:"content_type"`
	Status          Status      `json:"status"`
	LessonStatus    string      `json:"lesson_status,omitempty"` // last status hint reported by the player
	StartedAt       *time.Time  `json:"started_at"`
	LastSeenAt      *time.Time  `json:"last_seen_at"`
	CompletedAt     *time.Time  `json:"completed_at"`
	AccruedMillis   int64       `json:"-"`
	VisitCount      int         `json:"visit_count"`
	Resume          []byte      `json:"-"` // encoded resume blob, see EncodeResume
	ResumeUpdatedAt *time.Time  `json:"-"`
	Score           *float64    `json:"score,omitempty"`
	ProgressPercent float64     `json:"progress_percent"`
	Version         int64       `json:"-"`
	CreatedAt       time.Time   `json:"created_at"` // UTC
	UpdatedAt       time.Time   `json:"updated_at"` // UTC
}

// NewRecord returns the not_started record of a content nobody has opened yet.
func NewRecord(id Identity, ct ContentType, now time.Time) Record {
	return Record{
		Identity:  id,
		Type:      ct,
		Status:    StatusNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Accrued is the active time credited so far.
func (r Record) Accrued() time.Duration {
	return time.Duration(r.AccruedMillis) * time.Millisecond
}

// AccruedSeconds is Accrued in whole seconds.
func (r Record) AccruedSeconds() int64 {
	return r.AccruedMillis / 1000
}

func (r Record) IsCompleted() bool {
	return r.Status == StatusCompleted
}

// setAccrued only ever raises the accrued time.
func (r *Record) setAccrued(d time.Duration) bool {
	ms := d.Milliseconds()
	if ms <= r.AccruedMillis {
		return false
	}
	r.AccruedMillis = ms
	return true
}

// transition moves the record along not_started -> in_progress -> completed.
// Any other move is ErrInvalidTransition and leaves the record untouched.
func (r *Record) transition(to Status, at time.Time) error {
	switch {
	case r.Status == to:
		return ErrInvalidTransition
	case r.Status == StatusCompleted:
		return ErrInvalidTransition
	case r.Status == StatusInProgress && to == StatusNotStarted:
		return ErrInvalidTransition
	}
	r.Status = to
	if to == StatusCompleted {
		if r.StartedAt != nil && at.Before(*r.StartedAt) {
			at = *r.StartedAt
		}
		r.CompletedAt = timePtr(at)
	}
	return nil
}

// reopen is the explicit reset of a completed record. The completion evidence is cleared,
// accrued time and visits are kept.
func (r *Record) reopen() error {
	if r.Status != StatusCompleted {
		return ErrInvalidTransition
	}
	r.Status = StatusInProgress
	r.CompletedAt = nil
	r.LessonStatus = ""
	r.Score = nil
	r.ProgressPercent = 0
	return nil
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
