package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/paras-0007/HMS-Portal/internal/models"
)

// runState is the ephemeral set of message ids handled within one run. It
// prevents a message that shows up in both the unread query and a thread
// query from being processed twice. Discarded when the run ends.
type runState map[string]struct{}

func (s runState) has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s runState) add(id string) {
	s[id] = struct{}{}
}

// Pipeline turns unread inbound mail into applicant records and reconciles
// ongoing threads as replies. All collaborators are injected; the pipeline
// holds no hidden globals and is safe to re-run.
type Pipeline struct {
	source          MessageSource
	extractor       TextExtractor
	classifier      Classifier
	resumes         ResumeStore
	store           Store
	hrEmail         string
	classifyTimeout time.Duration
	logger          *slog.Logger
}

// Option tweaks pipeline construction.
type Option func(*Pipeline)

// WithClassifyTimeout bounds a single classification call. Zero disables
// the bound.
func WithClassifyTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.classifyTimeout = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New builds a pipeline. hrEmail is the syncing mailbox's own address;
// replies sent from it are never recorded at sync time.
func New(source MessageSource, extractor TextExtractor, classifier Classifier, resumes ResumeStore, store Store, hrEmail string, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:          source,
		extractor:       extractor,
		classifier:      classifier,
		resumes:         resumes,
		store:           store,
		hrEmail:         models.NormalizeEmail(hrEmail),
		classifyTimeout: 2 * time.Minute,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOnce performs one full sync: new applications first, then replies,
// sharing one run state so a message is handled at most once per run.
func (p *Pipeline) RunOnce(ctx context.Context) (models.RunSummary, error) {
	state := runState{}

	created, failed, err := p.processNewApplications(ctx, state)
	if err != nil {
		return models.RunSummary{}, err
	}

	replies, err := p.processReplies(ctx, state)
	if err != nil {
		return models.RunSummary{}, err
	}

	summary := models.RunSummary{
		NewApplications:    created,
		FailedApplications: failed,
		NewReplies:         replies,
	}
	p.logger.Info("ingestion run complete",
		"newApplications", summary.NewApplications,
		"failedApplications", summary.FailedApplications,
		"newReplies", summary.NewReplies)
	return summary, nil
}

// ProcessNewApplications handles the unread inbox with a fresh run state.
func (p *Pipeline) ProcessNewApplications(ctx context.Context) (created, failed int, err error) {
	return p.processNewApplications(ctx, runState{})
}

// ProcessReplies reconciles active threads with a fresh run state.
func (p *Pipeline) ProcessReplies(ctx context.Context) (int, error) {
	return p.processReplies(ctx, runState{})
}

func (p *Pipeline) processNewApplications(ctx context.Context, state runState) (created, failed int, err error) {
	refs, err := p.source.ListUnread(ctx)
	if err != nil {
		return 0, 0, goerr.Wrap(err, "failed to list unread messages")
	}
	if len(refs) == 0 {
		p.logger.Info("no new applications found")
		return 0, 0, nil
	}

	for _, ref := range refs {
		if state.has(ref.ID) {
			continue
		}

		outcome, perr := p.processMessage(ctx, ref)
		if perr != nil {
			p.logger.Error("failed to process message", "messageID", ref.ID, "error", perr)
			outcome = models.OutcomeRetryableFailure
		}

		// The outcome decides the mail-state side effect. A retryable
		// failure leaves the message unread so the next run re-attempts it;
		// marking it read would silently drop the application.
		switch outcome {
		case models.OutcomeCreated:
			created++
			p.markRead(ctx, ref.ID)
		case models.OutcomeDuplicate, models.OutcomeSkippedNoAttachment, models.OutcomeSkippedNoSender:
			p.markRead(ctx, ref.ID)
		case models.OutcomeRetryableFailure:
			failed++
		}
		p.logger.Info("processed application message", "messageID", ref.ID, "outcome", outcome.String())
		state.add(ref.ID)
	}
	return created, failed, nil
}

// processMessage runs the per-message ingestion steps and reports the
// outcome. It performs no mail-state side effects itself.
func (p *Pipeline) processMessage(ctx context.Context, ref models.MessageRef) (models.ProcessOutcome, error) {
	content, err := p.source.GetContent(ctx, ref.ID)
	if err != nil {
		return models.OutcomeRetryableFailure, goerr.Wrap(err, "failed to fetch message content")
	}

	email := models.NormalizeEmail(content.Sender)
	if email == "" {
		// Not actionable and will never become so; skip rather than retry.
		p.logger.Warn("message has no sender address", "messageID", ref.ID)
		return models.OutcomeSkippedNoSender, nil
	}

	// Cheap existence check before the expensive attachment download and
	// classification steps.
	if id, err := p.store.ApplicantIDByEmail(ctx, email); err != nil {
		return models.OutcomeRetryableFailure, goerr.Wrap(err, "duplicate pre-check failed")
	} else if id != 0 {
		p.logger.Info("skipping duplicate applicant", "email", email, "applicantID", id)
		return models.OutcomeDuplicate, nil
	}

	path, err := p.source.SaveAttachment(ctx, ref.ID)
	if err != nil {
		return models.OutcomeRetryableFailure, goerr.Wrap(err, "failed to save attachment")
	}
	if path == "" {
		p.logger.Warn("no processable attachment, skipping", "messageID", ref.ID)
		return models.OutcomeSkippedNoAttachment, nil
	}
	defer os.Remove(path)

	resumeURL, err := p.resumes.Upload(ctx, path)
	if err != nil {
		return models.OutcomeRetryableFailure, goerr.Wrap(err, "failed to upload resume")
	}

	resumeText, err := p.extractor.Extract(path)
	if err != nil {
		// Classification can still succeed on subject and body alone.
		p.logger.Warn("text extraction failed", "messageID", ref.ID, "error", err)
		resumeText = ""
	}

	profile, err := p.classify(ctx, content.Subject, content.Body, resumeText)
	if err != nil {
		p.logger.Error("classification failed, message stays unread for retry",
			"messageID", ref.ID, "error", err)
		return models.OutcomeRetryableFailure, nil
	}
	if !profile.HasName() {
		p.logger.Error("classifier returned no usable name, message stays unread for retry",
			"messageID", ref.ID)
		return models.OutcomeRetryableFailure, nil
	}

	profile.Email = email
	profile.ResumeURL = resumeURL
	profile.Normalize()

	id, err := p.store.InsertApplicantAndCommunication(ctx, profile, content)
	if err != nil {
		return models.OutcomeRetryableFailure, goerr.Wrap(err, "failed to insert applicant")
	}
	if id == 0 {
		// Lost a race with another insert for the same email.
		return models.OutcomeDuplicate, nil
	}

	p.logger.Info("new applicant created", "applicantID", id, "email", email, "name", profile.Name)
	return models.OutcomeCreated, nil
}

func (p *Pipeline) classify(ctx context.Context, subject, body, resumeText string) (*models.ApplicantProfile, error) {
	if p.classifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.classifyTimeout)
		defer cancel()
	}
	return p.classifier.Extract(ctx, subject, body, resumeText)
}

// SendReply mails the applicant from the HR mailbox and records the message
// as an outgoing communication, which is why the reply sync can skip
// HR-sent mail. When the send lands on a new thread (no thread was linked,
// or the old one was healed away) the new thread id is stored so later
// replies on it are picked up.
func (p *Pipeline) SendReply(ctx context.Context, applicantID int64, to, threadID, subject, body string) error {
	ref, err := p.source.SendReply(ctx, threadID, to, subject, body)
	if err != nil {
		return goerr.Wrap(err, "failed to send reply", goerr.V("applicantID", applicantID))
	}

	entry := &models.CommunicationEntry{
		ApplicantID: applicantID,
		MessageID:   ref.ID,
		Sender:      p.hrEmail,
		Subject:     subject,
		Body:        body,
		Direction:   models.DirectionOutgoing,
	}
	if err := p.store.InsertCommunication(ctx, entry); err != nil {
		return goerr.Wrap(err, "reply sent but not recorded",
			goerr.V("applicantID", applicantID), goerr.V("messageID", ref.ID))
	}

	if ref.ThreadID != "" && ref.ThreadID != threadID {
		if err := p.store.UpdateThreadID(ctx, applicantID, ref.ThreadID); err != nil {
			p.logger.Error("failed to link new thread", "applicantID", applicantID, "error", err)
		}
	}

	p.logger.Info("reply sent", "applicantID", applicantID, "messageID", ref.ID)
	return nil
}

func (p *Pipeline) processReplies(ctx context.Context, state runState) (int, error) {
	threads, err := p.store.GetActiveThreads(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to fetch active threads")
	}

	count := 0
	for _, t := range threads {
		known, err := p.knownMessageIDs(ctx, t.ApplicantID, state)
		if err != nil {
			p.logger.Error("failed to load known messages, skipping thread",
				"applicantID", t.ApplicantID, "threadID", t.ThreadID, "error", err)
			continue
		}

		refs, err := p.source.ListNewInThread(ctx, t.ThreadID, known)
		if errors.Is(err, ErrThreadNotFound) {
			// Heal the record so this thread stops erroring on every run.
			p.logger.Warn("thread no longer exists upstream, clearing thread id",
				"applicantID", t.ApplicantID, "threadID", t.ThreadID)
			if herr := p.store.UpdateThreadID(ctx, t.ApplicantID, ""); herr != nil {
				p.logger.Error("failed to clear thread id", "applicantID", t.ApplicantID, "error", herr)
			}
			continue
		}
		if err != nil {
			p.logger.Error("failed to list thread messages, skipping thread",
				"applicantID", t.ApplicantID, "threadID", t.ThreadID, "error", err)
			continue
		}

		for _, ref := range refs {
			if state.has(ref.ID) {
				continue
			}

			content, err := p.source.GetContent(ctx, ref.ID)
			if err != nil {
				p.logger.Error("failed to fetch reply content", "messageID", ref.ID, "error", err)
				continue
			}

			// Outbound mail is recorded when sent, not at sync time.
			if models.NormalizeEmail(content.Sender) == p.hrEmail {
				state.add(ref.ID)
				continue
			}

			entry := &models.CommunicationEntry{
				ApplicantID: t.ApplicantID,
				MessageID:   content.ID,
				Sender:      content.Sender,
				Subject:     content.Subject,
				Body:        content.Body,
				Direction:   models.DirectionIncoming,
			}
			if err := p.store.InsertCommunication(ctx, entry); err != nil {
				p.logger.Error("failed to record reply", "messageID", ref.ID, "error", err)
				continue
			}

			state.add(ref.ID)
			count++
			p.logger.Info("new reply recorded", "applicantID", t.ApplicantID, "messageID", ref.ID)
		}
	}
	return count, nil
}

// knownMessageIDs merges the applicant's recorded message ids with the ids
// already handled in this run.
func (p *Pipeline) knownMessageIDs(ctx context.Context, applicantID int64, state runState) (map[string]struct{}, error) {
	ids, err := p.store.MessageIDsForApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(ids)+len(state))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	for id := range state {
		known[id] = struct{}{}
	}
	return known, nil
}

func (p *Pipeline) markRead(ctx context.Context, id string) {
	if err := p.source.MarkRead(ctx, id); err != nil {
		p.logger.Error("failed to mark message read", "messageID", id, "error", err)
	}
}
