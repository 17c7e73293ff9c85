package progress

import "errors"

var (
	// errors
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("permission denied")
	ErrPayloadTooLarge    = errors.New("resume state too large")
	ErrConflict           = errors.New("concurrent update, retry")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrUnknownContentType = errors.New("unknown content type")
	ErrContentTypeClash   = errors.New("content type does not match the course content")
	ErrCorruptResume      = errors.New("resume state does not belong to this content type")
)
