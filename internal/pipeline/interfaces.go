package pipeline

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/paras-0007/HMS-Portal/internal/models"
)

// ErrThreadNotFound is returned by a MessageSource when a thread no longer
// exists upstream. The pipeline reacts by clearing the stored thread id so
// the broken thread is not retried on every run. It is deliberately
// distinct from generic transport errors, which are retried.
var ErrThreadNotFound = goerr.New("mail thread not found")

// MessageSource is the mailbox capability the pipeline consumes.
type MessageSource interface {
	// ListUnread returns references to unread application messages.
	ListUnread(ctx context.Context) ([]models.MessageRef, error)
	// GetContent fetches the sender, subject, body, and thread of one message.
	GetContent(ctx context.Context, id string) (*models.EmailContent, error)
	// SaveAttachment downloads the message's primary attachment to a local
	// file and returns its path, or "" when there is no usable attachment.
	SaveAttachment(ctx context.Context, id string) (string, error)
	// MarkRead flags the message as handled on the provider side.
	MarkRead(ctx context.Context, id string) error
	// ListNewInThread returns messages in a thread whose ids are not in
	// known. Returns ErrThreadNotFound when the thread is gone upstream.
	ListNewInThread(ctx context.Context, threadID string, known map[string]struct{}) ([]models.MessageRef, error)
	// SendReply sends a mail from the syncing mailbox. A non-empty threadID
	// keeps it on the existing thread; with an empty one the provider
	// starts a new thread. Returns the sent message's reference.
	SendReply(ctx context.Context, threadID, to, subject, body string) (models.MessageRef, error)
}

// TextExtractor turns a downloaded attachment into plain text.
type TextExtractor interface {
	Extract(path string) (string, error)
}

// Classifier produces a structured profile guess from application text.
// A guess without a usable name is a failure.
type Classifier interface {
	Extract(ctx context.Context, subject, body, resumeText string) (*models.ApplicantProfile, error)
}

// ResumeStore uploads an attachment to durable storage and returns a
// shareable link.
type ResumeStore interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Store is the slice of the persistence boundary the pipeline needs.
type Store interface {
	ApplicantIDByEmail(ctx context.Context, email string) (int64, error)
	InsertApplicantAndCommunication(ctx context.Context, profile *models.ApplicantProfile, meta *models.EmailContent) (int64, error)
	InsertCommunication(ctx context.Context, entry *models.CommunicationEntry) error
	UpdateThreadID(ctx context.Context, applicantID int64, threadID string) error
	GetActiveThreads(ctx context.Context) ([]models.ActiveThread, error)
	MessageIDsForApplicant(ctx context.Context, applicantID int64) ([]string, error)
}
