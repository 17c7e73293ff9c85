package core

import "time"

// Session carries the identity of the caller of a single request. It is built once per request
// (from the auth token and the request clock) and passed explicitly to every service call.
type Session struct {
	ClientID  string
	UserID    string
	IsAdmin   bool
	Now       time.Time // UTC
	RequestID string
}

// CanActFor reports whether the session may read or write data owned by userID.
func (s Session) CanActFor(userID string) bool {
	return s.IsAdmin || (s.UserID != "" && s.UserID == userID)
}
