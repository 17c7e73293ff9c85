package progress

import "time"

// Status hints reported by players. The SCORM ones mirror cmi lesson/completion/success status.
const (
	StatusHintPassed       = "passed"
	StatusHintCompleted    = "completed"
	StatusHintFailed       = "failed"
	StatusHintIncomplete   = "incomplete"
	StatusHintBrowsed      = "browsed"
	StatusHintNotAttempted = "not attempted"
	StatusHintExit         = "exit"         // player closed / navigated away
	StatusHintAcknowledged = "acknowledged" // "I have read this"
)

var StatusHints = []string{
	StatusHintPassed, StatusHintCompleted, StatusHintFailed, StatusHintIncomplete,
	StatusHintBrowsed, StatusHintNotAttempted, StatusHintExit, StatusHintAcknowledged,
}

// Signal holds the one-shot events of the request being evaluated. Durable evidence (lesson
// status, score, progress, accrued time) lives on the Record.
type Signal struct {
	MarkComplete bool // explicit /complete call
	Exit         bool
	Acknowledged bool
}

func signalFromHint(hint string) Signal {
	switch hint {
	case StatusHintExit:
		return Signal{Exit: true}
	case StatusHintAcknowledged:
		return Signal{Acknowledged: true}
	}
	return Signal{}
}

// isLessonStatus reports whether hint is durable SCORM state rather than a one-shot event.
func isLessonStatus(hint string) bool {
	switch hint {
	case "", StatusHintExit, StatusHintAcknowledged:
		return false
	}
	return true
}

// Evaluator decides completion transitions.
type Evaluator struct {
	Criteria Criteria
}

// Evaluate moves rec to in_progress on its first activity and to completed once its content type
// says so. It reports whether this call completed the record; a record that was already
// completed never transitions again (ErrInvalidTransition is swallowed).
func (e Evaluator) Evaluate(rec *Record, sig Signal, now time.Time) bool {
	if rec.Status == StatusNotStarted {
		_ = rec.transition(StatusInProgress, now)
	}
	if rec.IsCompleted() || !rec.Type.Completed(*rec, sig, e.Criteria) {
		return false
	}
	return rec.transition(StatusCompleted, now) == nil
}
