package scheduler

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Business-hour constraints for interview slots, in the scheduling
// timezone.
const (
	dayStartHour = 9
	dayEndHour   = 18
	slotStep     = 15 * time.Minute

	// MaxSearchDays bounds how far ahead the slot walk may extend.
	MaxSearchDays = 30

	// DefaultSearchDays is used when the caller does not specify a window.
	DefaultSearchDays = 7
)

// Interval is a half-open [Start, End) busy range derived from an
// existing calendar event.
type Interval struct {
	Start time.Time
	End   time.Time
}

// overlaps reports strict interval overlap with the candidate range.
func (iv Interval) overlaps(start, end time.Time) bool {
	return start.Before(iv.End) && end.After(iv.Start)
}

// Attachment is a link attached to a created event.
type Attachment struct {
	Title   string
	FileURL string
}

// EventRequest describes the calendar event to create.
type EventRequest struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
	Attachments []Attachment
}

// BookedEvent is the provider's record of a created event.
type BookedEvent struct {
	EventID  string `json:"event_id"`
	MeetLink string `json:"meet_link,omitempty"`
	HTMLLink string `json:"html_link,omitempty"`
}

// CalendarProvider is the calendar capability the engine consumes. Every
// existing event is exposed as an opaque busy interval.
type CalendarProvider interface {
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]Interval, error)
	CreateEvent(ctx context.Context, calendarID string, req *EventRequest) (*BookedEvent, error)
}

// Engine computes free interview slots against a calendar owner's
// existing events and books events once a slot is confirmed. The walk is
// deterministic: the same busy set and clock always produce the same
// slots.
type Engine struct {
	provider CalendarProvider
	loc      *time.Location
	now      func() time.Time
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithClock injects the time source, which tests use for reproducible
// results.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an availability engine for the given scheduling
// timezone.
func NewEngine(provider CalendarProvider, loc *time.Location, opts ...Option) *Engine {
	e := &Engine{provider: provider, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindAvailableSlots returns candidate start times of durationMinutes
// within the next days calendar days, walking forward in 15-minute steps
// and skipping weekends and anything outside 09:00-18:00 local. An empty
// result means no availability and is not an error.
func (e *Engine) FindAvailableSlots(ctx context.Context, calendarID string, durationMinutes, days int) ([]time.Time, error) {
	if durationMinutes <= 0 {
		return nil, goerr.New("duration must be positive", goerr.V("durationMinutes", durationMinutes))
	}
	if days <= 0 {
		days = DefaultSearchDays
	}
	if days > MaxSearchDays {
		return nil, goerr.New("search window too large", goerr.V("days", days), goerr.V("max", MaxSearchDays))
	}
	duration := time.Duration(durationMinutes) * time.Minute

	cursor := e.initialCursor()
	horizon := cursor.AddDate(0, 0, days)

	busy, err := e.provider.ListEvents(ctx, calendarID, cursor, horizon)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch calendar events", goerr.V("calendarID", calendarID))
	}

	var slots []time.Time
	for cursor.Before(horizon) {
		// No slots on weekends: jump straight to Monday 09:00.
		if wd := cursor.Weekday(); wd == time.Saturday || wd == time.Sunday {
			daysToMonday := int(8-wd) % 7
			cursor = atHour(cursor.AddDate(0, 0, daysToMonday), dayStartHour, e.loc)
			continue
		}
		if cursor.Hour() >= dayEndHour {
			cursor = atHour(cursor.AddDate(0, 0, 1), dayStartHour, e.loc)
			continue
		}

		end := cursor.Add(duration)
		if e.isFree(cursor, end, busy) && !end.After(atHour(cursor, dayEndHour, e.loc)) {
			slots = append(slots, cursor)
		}
		cursor = cursor.Add(slotStep)
	}
	return slots, nil
}

// BookEvent creates the event on the owner's calendar. Nothing is
// persisted locally here; callers record the interview only after the
// provider confirms creation.
func (e *Engine) BookEvent(ctx context.Context, calendarID string, req *EventRequest) (*BookedEvent, error) {
	if req.Start.IsZero() || req.End.IsZero() || !req.End.After(req.Start) {
		return nil, goerr.New("invalid event time range",
			goerr.V("start", req.Start), goerr.V("end", req.End))
	}
	booked, err := e.provider.CreateEvent(ctx, calendarID, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create calendar event",
			goerr.V("calendarID", calendarID), goerr.V("title", req.Title))
	}
	return booked, nil
}

// isFree reports whether the candidate overlaps none of the busy
// intervals.
func (e *Engine) isFree(start, end time.Time, busy []Interval) bool {
	for _, iv := range busy {
		if iv.overlaps(start, end) {
			return false
		}
	}
	return true
}

// initialCursor is the current time rounded up to the next 15-minute
// boundary, then clamped into business hours: at or past 18:00 moves to
// 09:00 the next day, before 09:00 clamps to 09:00 same day.
func (e *Engine) initialCursor() time.Time {
	now := e.now().In(e.loc).Truncate(time.Minute)
	cursor := roundUpToStep(now)

	if cursor.Hour() >= dayEndHour {
		return atHour(cursor.AddDate(0, 0, 1), dayStartHour, e.loc)
	}
	if cursor.Hour() < dayStartHour {
		return atHour(cursor, dayStartHour, e.loc)
	}
	return cursor
}

func roundUpToStep(t time.Time) time.Time {
	if rem := t.Minute() % 15; rem != 0 {
		t = t.Add(time.Duration(15-rem) * time.Minute)
	}
	return t.Truncate(time.Minute)
}

// atHour returns the given day at hour:00 in loc.
func atHour(t time.Time, hour int, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, hour, 0, 0, 0, loc)
}
