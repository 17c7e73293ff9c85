package progress

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/suivi/core"
)

// Target addresses a content of a course for a learner.
type Target struct {
	UserID    string `json:"user" query:"user" validate:"required,identifier"`
	CourseID  string `json:"course" query:"course" validate:"required,identifier"`
	ContentID string `json:"content" query:"content" validate:"required,identifier"`
}

func (t *Target) clean() {
	t.UserID = core.CleanString(t.UserID)
	t.CourseID = core.CleanString(t.CourseID)
	t.ContentID = core.CleanString(t.ContentID)
}

func (t *Target) Validate(validate *validator.Validate) error {
	t.clean()
	return validate.Struct(t)
}

// CourseTarget addresses the course progress of a learner.
type CourseTarget struct {
	UserID   string `json:"user" query:"user" validate:"required,identifier"`
	CourseID string `json:"course" query:"course" validate:"required,identifier"`
}

func (ct *CourseTarget) Validate(validate *validator.Validate) error {
	ct.UserID = core.CleanString(ct.UserID)
	ct.CourseID = core.CleanString(ct.CourseID)
	return validate.Struct(ct)
}

// StartRequest opens (or reopens) a player session.
type StartRequest struct {
	Target
	ContentType string `json:"content_type" validate:"required,contenttype"`
	Nonce       string `json:"nonce" validate:"omitempty,max=128"`
}

func (sr *StartRequest) Validate(validate *validator.Validate) error {
	sr.clean()
	sr.ContentType = core.CleanString(sr.ContentType, true /* lower */)
	return validate.Struct(sr)
}

// UpdateRequest is a progress ping. Only the fields the player has fresh data for are set.
type UpdateRequest struct {
	Target
	ContentType string    `json:"content_type" validate:"required,contenttype"`
	ResumeState *string   `json:"resume_state"`
	Score       *float64  `json:"score" validate:"omitempty,min=0,max=100"`
	Progress    *float64  `json:"progress" validate:"omitempty,min=0,max=100"`
	StatusHint  string    `json:"status_hint" validate:"omitempty,statushint"`
	SentAt      time.Time `json:"sent_at"` // orders resume writes only
	Nonce       string    `json:"nonce" validate:"omitempty,max=128"`
}

func (ur *UpdateRequest) Validate(validate *validator.Validate) error {
	ur.clean()
	ur.ContentType = core.CleanString(ur.ContentType, true /* lower */)
	ur.StatusHint = core.CleanString(ur.StatusHint, true /* lower */)
	return validate.Struct(ur)
}

// hasEvidence reports whether the ping carries anything beyond liveness.
func (ur UpdateRequest) hasEvidence() bool {
	return ur.Score != nil || ur.Progress != nil || ur.StatusHint != ""
}

// CompleteRequest asks for an evaluation pass. StartedAt/CompletedAt, when given, reconcile the
// accrued time of a session whose pings were lost.
type CompleteRequest struct {
	Target
	ContentType string     `json:"content_type" validate:"required,contenttype"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	StatusHint  string     `json:"status_hint" validate:"omitempty,statushint"`
	Score       *float64   `json:"score" validate:"omitempty,min=0,max=100"`
	Nonce       string     `json:"nonce" validate:"omitempty,max=128"`
}

func (cr *CompleteRequest) Validate(validate *validator.Validate) error {
	cr.clean()
	cr.ContentType = core.CleanString(cr.ContentType, true /* lower */)
	cr.StatusHint = core.CleanString(cr.StatusHint, true /* lower */)
	return validate.Struct(cr)
}

// Result is the outcome of a write operation.
type Result struct {
	Record      Record
	ResumeState *string // Start only
	Completed   bool    // this call completed the record
	Duplicate   bool    // a retry: nothing was written
	Cascade     Cascade
}

// CourseView is the course progress of a learner with its prerequisite projections.
type CourseView struct {
	CourseAggregate
	Prerequisites []PrerequisiteCompletion `json:"prerequisites"`
}
