package sessions

import "time"

// StatusEvent is one entry in a participant's timeline: the status they
// switched to and when.
type StatusEvent struct {
	Status    ParticipantStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

// Timeline is the append-only, timestamp-ordered log of one participant's
// status changes within a session. Past entries are never rewritten. It is
// not safe for concurrent use on its own; the owning session's lock covers it.
type Timeline struct {
	events []StatusEvent
}

// Append adds an event, enforcing non-decreasing timestamps. An event older
// than the latest entry is dropped, not inserted, and Append returns false.
func (t *Timeline) Append(status ParticipantStatus, ts time.Time) bool {
	if n := len(t.events); n > 0 && ts.Before(t.events[n-1].Timestamp) {
		return false
	}
	t.events = append(t.events, StatusEvent{Status: status, Timestamp: ts})
	return true
}

// Events returns a copy of the log in append order.
func (t *Timeline) Events() []StatusEvent {
	return append([]StatusEvent(nil), t.events...)
}

func (t *Timeline) Len() int {
	return len(t.events)
}

// Last returns the most recent event, if any.
func (t *Timeline) Last() (StatusEvent, bool) {
	if len(t.events) == 0 {
		return StatusEvent{}, false
	}
	return t.events[len(t.events)-1], true
}
