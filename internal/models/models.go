package models

import (
	"strings"
	"time"
	"unicode"
)

// Applicant statuses the pipeline cares about. The status list itself is
// user-editable; these three have fixed semantics.
const (
	StatusNew      = "New"
	StatusHired    = "Hired"
	StatusRejected = "Rejected"
)

// Communication directions.
const (
	DirectionIncoming = "Incoming"
	DirectionOutgoing = "Outgoing"
)

// Applicant is a deduplicated candidate record keyed by normalized email.
type Applicant struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Domain     string    `json:"domain"`
	Education  string    `json:"education"`
	JobHistory string    `json:"job_history"`
	ResumeURL  string    `json:"resume_url"`
	Status     string    `json:"status"`
	Feedback   string    `json:"feedback"`
	CreatedAt  time.Time `json:"created_at"`
	LastAction time.Time `json:"last_action"`
	ThreadID   string    `json:"thread_id,omitempty"` // empty when no mail thread is linked
}

// StatusHistoryEntry is one row of the append-only status audit trail.
type StatusHistoryEntry struct {
	ID          int64     `json:"id"`
	ApplicantID int64     `json:"applicant_id"`
	Status      string    `json:"status"`
	ChangedAt   time.Time `json:"changed_at"`
}

// CommunicationEntry records one inbound or outbound message. MessageID is
// the provider-side id and is globally unique, which makes repeated sync
// runs idempotent.
type CommunicationEntry struct {
	ID          int64     `json:"id"`
	ApplicantID int64     `json:"applicant_id"`
	MessageID   string    `json:"message_id"`
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Direction   string    `json:"direction"`
	SentAt      time.Time `json:"sent_at"`
}

// Interview is logged only after the calendar event has been created.
type Interview struct {
	ID              int64     `json:"id"`
	ApplicantID     int64     `json:"applicant_id"`
	InterviewerID   int64     `json:"interviewer_id"`
	InterviewerName string    `json:"interviewer_name,omitempty"`
	Title           string    `json:"title"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	CalendarEventID string    `json:"calendar_event_id"`
	Status          string    `json:"status"`
}

// Interviewer is a calendar owner interviews can be booked against.
type Interviewer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// JobDescription is a stored JD document that can be attached to interview
// invites.
type JobDescription struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	DriveURL  string    `json:"drive_url"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
}

// ExportLog records a generated roster export.
type ExportLog struct {
	ID        int64     `json:"id"`
	FileName  string    `json:"file_name"`
	SheetURL  string    `json:"sheet_url"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageRef identifies a provider-side message within a thread.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
}

// EmailContent is the fetched content of a single message. Sender is the
// bare, normalized address.
type EmailContent struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Sender   string `json:"sender"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// ActiveThread pairs an applicant with the mail thread still being polled
// for replies.
type ActiveThread struct {
	ApplicantID int64  `json:"applicant_id"`
	ThreadID    string `json:"thread_id"`
}

// RunSummary aggregates the outcome of one ingestion run.
type RunSummary struct {
	NewApplications    int `json:"new_applications"`
	FailedApplications int `json:"failed_applications"`
	NewReplies         int `json:"new_replies"`
}

// ProcessOutcome is the per-message result of the ingestion pipeline. The
// caller decides the mail-state side effect from this value: everything
// except OutcomeRetryableFailure marks the message read.
type ProcessOutcome int

const (
	OutcomeCreated ProcessOutcome = iota
	OutcomeDuplicate
	OutcomeSkippedNoAttachment
	OutcomeSkippedNoSender
	OutcomeRetryableFailure
)

// String returns a log-friendly name for the outcome.
func (o ProcessOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeSkippedNoAttachment:
		return "skipped_no_attachment"
	case OutcomeSkippedNoSender:
		return "skipped_no_sender"
	case OutcomeRetryableFailure:
		return "retryable_failure"
	default:
		return "unknown"
	}
}

// NormalizeEmail lower-cases and trims an address. This is the natural key
// for applicants; an address that normalizes to "" is never persisted.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// titleCase upper-cases the first letter of each word. Fallback for domain
// values that match no known role.
func titleCase(s string) string {
	prev := ' '
	return strings.Map(func(r rune) rune {
		out := r
		if prev == ' ' || prev == '/' || prev == '-' {
			out = unicode.ToUpper(r)
		}
		prev = r
		return out
	}, strings.ToLower(s))
}
