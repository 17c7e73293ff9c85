package progress

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Resume payload ceilings. SCORM suspend data is historically bounded around 4-64 KB.
const (
	scormResumeLimit    = 64 * 1024
	externalResumeLimit = 16 * 1024
	mediaResumeLimit    = 4 * 1024
	documentResumeLimit = 4 * 1024
)

// ContentType is the closed set of trackable content kinds:
// Scorm, External, Video, Audio and Document.
//
// Every kind-specific rule is a method of the variant, so a new variant does not compile until
// it states its completion predicate and its resume ceiling.
type ContentType interface {
	String() string
	MarshalText() ([]byte, error)

	// ResumeLimit is the largest resume payload (in bytes) accepted for this kind.
	ResumeLimit() int
	// Completed reports whether rec, given the signal of the current request, satisfies the
	// completion criteria of this kind.
	Completed(rec Record, sig Signal, c Criteria) bool

	sealed()
}

type (
	Scorm    struct{}
	External struct{}
	Video    struct{}
	Audio    struct{}
	Document struct{}
)

var (
	_ ContentType = Scorm{}
	_ ContentType = External{}
	_ ContentType = Video{}
	_ ContentType = Audio{}
	_ ContentType = Document{}

	// ContentTypes lists every variant.
	ContentTypes = []ContentType{Scorm{}, External{}, Video{}, Audio{}, Document{}}
)

// ParseContentType maps a wire name to its variant. Unknown names are an error, never a fallback.
func ParseContentType(name string) (ContentType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "scorm":
		return Scorm{}, nil
	case "external":
		return External{}, nil
	case "video":
		return Video{}, nil
	case "audio":
		return Audio{}, nil
	case "document":
		return Document{}, nil
	}
	return nil, errors.Wrapf(ErrUnknownContentType, "%q", name)
}

// Criteria are the configured completion thresholds.
type Criteria struct {
	MasteryScore    float64 // 0-100
	PlayedThreshold float64 // 0-100
	MinEngagement   time.Duration
	MinDocumentView time.Duration
}

// SCORM: lesson status is one of the accepted set, or the score reached mastery.

func (Scorm) String() string                 { return "scorm" }
func (t Scorm) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (Scorm) ResumeLimit() int               { return scormResumeLimit }
func (Scorm) sealed()                        {}

func (Scorm) Completed(rec Record, _ Signal, c Criteria) bool {
	switch rec.LessonStatus {
	case StatusHintCompleted, StatusHintPassed:
		return true
	}
	return rec.Score != nil && *rec.Score >= c.MasteryScore
}

// External content cannot be observed from inside its iframe: it needs an explicit
// mark-complete, or enough engagement followed by a close/exit event.

func (External) String() string                 { return "external" }
func (t External) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (External) ResumeLimit() int               { return externalResumeLimit }
func (External) sealed()                        {}

func (External) Completed(rec Record, sig Signal, c Criteria) bool {
	if sig.MarkComplete {
		return true
	}
	return sig.Exit && rec.Accrued() >= c.MinEngagement
}

// Video & Audio: played fraction reached the threshold.

func (Video) String() string                 { return "video" }
func (t Video) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (Video) ResumeLimit() int               { return mediaResumeLimit }
func (Video) sealed()                        {}

func (Video) Completed(rec Record, _ Signal, c Criteria) bool {
	return rec.ProgressPercent >= c.PlayedThreshold
}

func (Audio) String() string                 { return "audio" }
func (t Audio) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (Audio) ResumeLimit() int               { return mediaResumeLimit }
func (Audio) sealed()                        {}

func (Audio) Completed(rec Record, _ Signal, c Criteria) bool {
	return rec.ProgressPercent >= c.PlayedThreshold
}

// Document: enough view time, or an explicit "I have read this".

func (Document) String() string                 { return "document" }
func (t Document) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (Document) ResumeLimit() int               { return documentResumeLimit }
func (Document) sealed()                        {}

func (Document) Completed(rec Record, sig Signal, c Criteria) bool {
	if sig.MarkComplete || sig.Acknowledged {
		return true
	}
	return rec.Accrued() >= c.MinDocumentView
}
