package scheduler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleCalendar implements CalendarProvider on top of the Google
// Calendar API.
type GoogleCalendar struct {
	service *calendar.Service
	loc     *time.Location
}

// NewGoogleCalendar builds a provider from an authorized HTTP client.
// loc is the scheduling timezone, used to anchor all-day events.
func NewGoogleCalendar(ctx context.Context, client *http.Client, loc *time.Location) (*GoogleCalendar, error) {
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create calendar service")
	}
	return &GoogleCalendar{service: service, loc: loc}, nil
}

// ListEvents fetches the owner's events in [from, to) as busy intervals.
// Recurring events are expanded to single instances by the API.
func (g *GoogleCalendar) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]Interval, error) {
	call := g.service.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)

	var intervals []Interval
	if err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, ev := range page.Items {
			iv, ok, err := eventInterval(ev, g.loc)
			if err != nil {
				return err
			}
			if ok {
				intervals = append(intervals, iv)
			}
		}
		return nil
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to list calendar events", goerr.V("calendarID", calendarID))
	}
	return intervals, nil
}

// CreateEvent inserts an event with a Meet conference and emails every
// attendee an invite.
func (g *GoogleCalendar) CreateEvent(ctx context.Context, calendarID string, req *EventRequest) (*BookedEvent, error) {
	created, err := g.service.Events.Insert(calendarID, g.buildEvent(req)).
		ConferenceDataVersion(1).
		SupportsAttachments(true).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to insert calendar event",
			goerr.V("calendarID", calendarID), goerr.V("title", req.Title))
	}
	return &BookedEvent{
		EventID:  created.Id,
		MeetLink: created.HangoutLink,
		HTMLLink: created.HtmlLink,
	}, nil
}

// buildEvent assembles the API event: times anchored to the scheduling
// timezone, a fresh Meet conference, the invited attendees, and the
// resume/JD links as event attachments. Attachments need
// SupportsAttachments(true) on the insert call.
func (g *GoogleCalendar) buildEvent(req *EventRequest) *calendar.Event {
	event := &calendar.Event{
		Summary:     req.Title,
		Description: req.Description,
		Start: &calendar.EventDateTime{
			DateTime: req.Start.Format(time.RFC3339),
			TimeZone: g.loc.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: req.End.Format(time.RFC3339),
			TimeZone: g.loc.String(),
		},
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId: uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{
					Type: "hangoutsMeet",
				},
			},
		},
		Reminders: &calendar.EventReminders{
			UseDefault:      true,
			ForceSendFields: []string{"UseDefault"},
		},
	}
	for _, email := range req.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}
	for _, att := range req.Attachments {
		if att.FileURL == "" {
			continue
		}
		event.Attachments = append(event.Attachments, &calendar.EventAttachment{
			FileUrl: att.FileURL,
			Title:   att.Title,
		})
	}
	return event
}

// eventInterval converts an API event into a busy interval. All-day
// events block each covered day midnight to midnight in loc; the API's
// end date is exclusive. Events with no resolvable times are skipped.
func eventInterval(ev *calendar.Event, loc *time.Location) (Interval, bool, error) {
	if ev.Start == nil || ev.End == nil {
		return Interval{}, false, nil
	}
	if ev.Start.DateTime != "" && ev.End.DateTime != "" {
		start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
		if err != nil {
			return Interval{}, false, goerr.Wrap(err, "invalid event start time", goerr.V("eventID", ev.Id))
		}
		end, err := time.Parse(time.RFC3339, ev.End.DateTime)
		if err != nil {
			return Interval{}, false, goerr.Wrap(err, "invalid event end time", goerr.V("eventID", ev.Id))
		}
		return Interval{Start: start.In(loc), End: end.In(loc)}, true, nil
	}
	if ev.Start.Date != "" && ev.End.Date != "" {
		start, err := time.ParseInLocation("2006-01-02", ev.Start.Date, loc)
		if err != nil {
			return Interval{}, false, goerr.Wrap(err, "invalid all-day start date", goerr.V("eventID", ev.Id))
		}
		end, err := time.ParseInLocation("2006-01-02", ev.End.Date, loc)
		if err != nil {
			return Interval{}, false, goerr.Wrap(err, "invalid all-day end date", goerr.V("eventID", ev.Id))
		}
		return Interval{Start: start, End: end}, true, nil
	}
	return Interval{}, false, nil
}
