package progress

import (
	"time"
)

// Anomaly describes player timing data that had to be clamped.
type Anomaly struct {
	Reason string
	Value  time.Duration
}

// Accrual derives active time from server-side timestamps. Client-reported durations are never
// trusted: a ping credits the time elapsed since the previous one, bounded by SessionCap.
type Accrual struct {
	SessionCap time.Duration
	ClockSkew  time.Duration
}

// Ping credits the time elapsed since the last ping and touches LastSeenAt.
// The first ping of a record credits nothing and starts it.
func (a Accrual) Ping(rec *Record, now time.Time) (time.Duration, *Anomaly) {
	now = now.UTC()
	if rec.LastSeenAt == nil {
		if rec.StartedAt == nil {
			rec.StartedAt = timePtr(now)
		}
		rec.LastSeenAt = timePtr(now)
		return 0, nil
	}

	var anomaly *Anomaly
	delta := now.Sub(*rec.LastSeenAt)
	switch {
	case delta < 0:
		// a concurrent ping with a later clock got the row first
		anomaly = &Anomaly{Reason: "negative delta", Value: delta}
		delta = 0
	case a.SessionCap > 0 && delta > a.SessionCap:
		anomaly = &Anomaly{Reason: "delta capped", Value: delta}
		delta = a.SessionCap
	}

	rec.AccruedMillis += delta.Milliseconds()
	a.Touch(rec, now)
	return delta, anomaly
}

// Reopen handles a player (re)opening the record. While the previous session is still live
// (last seen within SessionCap) the time since its last ping is credited, so another tab or a
// reconnect does not drop it. Otherwise the record is only touched.
func (a Accrual) Reopen(rec *Record, now time.Time) (time.Duration, *Anomaly) {
	if rec.LastSeenAt == nil || a.SessionCap <= 0 || now.UTC().Sub(*rec.LastSeenAt) > a.SessionCap {
		a.Touch(rec, now)
		return 0, nil
	}
	return a.Ping(rec, now)
}

// Touch moves LastSeenAt forward without crediting time (session (re)opening, explicit signals).
// LastSeenAt never moves backwards.
func (a Accrual) Touch(rec *Record, now time.Time) {
	now = now.UTC()
	if rec.StartedAt == nil {
		rec.StartedAt = timePtr(now)
	}
	if rec.LastSeenAt == nil || now.After(*rec.LastSeenAt) {
		rec.LastSeenAt = timePtr(now)
	}
}

// Reconcile repairs under-counted time from an explicit (started_at, completed_at) pair, e.g. after
// a crashed session lost its pings. The stored value is only ever raised.
// completedAt is clamped to now (+ClockSkew) and startedAt to the first start of the record.
func (a Accrual) Reconcile(rec *Record, startedAt, completedAt, now time.Time) (bool, *Anomaly) {
	startedAt, completedAt, now = startedAt.UTC(), completedAt.UTC(), now.UTC()

	if completedAt.After(now.Add(a.ClockSkew)) {
		completedAt = now
	}
	if startedAt.After(now) {
		startedAt = now
	}
	if rec.StartedAt != nil && startedAt.Before(*rec.StartedAt) {
		startedAt = *rec.StartedAt
	}
	span := completedAt.Sub(startedAt)
	if span < 0 {
		return false, &Anomaly{Reason: "completed_at before started_at", Value: span}
	}
	if rec.StartedAt == nil {
		rec.StartedAt = timePtr(startedAt)
	}
	return rec.setAccrued(span), nil
}

// ClampClientTime bounds a client-supplied timestamp to [zero, now+ClockSkew].
// A zero t means "not supplied" and yields now.
func (a Accrual) ClampClientTime(t, now time.Time) time.Time {
	now = now.UTC()
	if t.IsZero() {
		return now
	}
	t = t.UTC()
	if t.After(now.Add(a.ClockSkew)) {
		return now
	}
	return t
}
