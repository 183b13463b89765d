package storage

import "time"

// Event represents one completed question/answer exchange of a session.
// Events are expected to be appended in chronological order.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Mode      string    `json:"mode"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Compacted bool      `json:"compacted,omitempty"`
}

// Filter selects events. Zero fields match everything; From is inclusive and
// To exclusive.
type Filter struct {
	SessionID string
	From      time.Time
	To        time.Time
}

// Day selects the UTC calendar day containing t.
func Day(t time.Time) Filter {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Filter{From: from, To: from.AddDate(0, 0, 1)}
}

func (f Filter) Match(ev Event) bool {
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if !f.From.IsZero() && ev.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !ev.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// Recorder persists interaction events. Query returns matching events in
// the order they were recorded. Implementations must be safe for concurrent
// use.
type Recorder interface {
	Record(event Event) error
	Query(f Filter) ([]Event, error)
}
