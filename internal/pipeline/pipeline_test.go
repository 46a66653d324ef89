package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"

	"github.com/paras-0007/HMS-Portal/internal/models"
)

// fakeSource is an in-memory MessageSource with call recording.
type fakeSource struct {
	unread      []models.MessageRef
	unreadErr   error
	content     map[string]*models.EmailContent
	attachments map[string]string // message id -> local path ("" means none)
	threads     map[string][]models.MessageRef
	threadErr   map[string]error

	markedRead     []string
	savedCalls     []string
	threadKnown    map[string]map[string]struct{}
	contentErr     map[string]error
	attachmentErrs map[string]error

	sendErr      error
	sendThreadID string // thread id the provider assigns to sent mail
	sent         []sentReply
}

type sentReply struct {
	threadID, to, subject, body string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		content:        map[string]*models.EmailContent{},
		attachments:    map[string]string{},
		threads:        map[string][]models.MessageRef{},
		threadErr:      map[string]error{},
		threadKnown:    map[string]map[string]struct{}{},
		contentErr:     map[string]error{},
		attachmentErrs: map[string]error{},
	}
}

func (f *fakeSource) ListUnread(ctx context.Context) ([]models.MessageRef, error) {
	return f.unread, f.unreadErr
}

func (f *fakeSource) GetContent(ctx context.Context, id string) (*models.EmailContent, error) {
	if err := f.contentErr[id]; err != nil {
		return nil, err
	}
	c, ok := f.content[id]
	if !ok {
		return nil, errors.New("no such message")
	}
	return c, nil
}

func (f *fakeSource) SaveAttachment(ctx context.Context, id string) (string, error) {
	f.savedCalls = append(f.savedCalls, id)
	if err := f.attachmentErrs[id]; err != nil {
		return "", err
	}
	return f.attachments[id], nil
}

func (f *fakeSource) MarkRead(ctx context.Context, id string) error {
	f.markedRead = append(f.markedRead, id)
	return nil
}

func (f *fakeSource) ListNewInThread(ctx context.Context, threadID string, known map[string]struct{}) ([]models.MessageRef, error) {
	f.threadKnown[threadID] = known
	if err := f.threadErr[threadID]; err != nil {
		return nil, err
	}
	var refs []models.MessageRef
	for _, ref := range f.threads[threadID] {
		if _, ok := known[ref.ID]; ok {
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (f *fakeSource) SendReply(ctx context.Context, threadID, to, subject, body string) (models.MessageRef, error) {
	if f.sendErr != nil {
		return models.MessageRef{}, f.sendErr
	}
	f.sent = append(f.sent, sentReply{threadID: threadID, to: to, subject: subject, body: body})
	assigned := f.sendThreadID
	if assigned == "" {
		assigned = threadID
	}
	return models.MessageRef{ID: "sent-1", ThreadID: assigned}, nil
}

// fakeExtractor returns canned text.
type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(path string) (string, error) { return f.text, f.err }

// fakeClassifier returns profiles keyed by call order.
type fakeClassifier struct {
	profile *models.ApplicantProfile
	err     error
	calls   int
}

func (f *fakeClassifier) Extract(ctx context.Context, subject, body, resumeText string) (*models.ApplicantProfile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	// Copy so the pipeline's mutations do not leak between messages.
	p := *f.profile
	return &p, nil
}

// fakeResumes records uploads.
type fakeResumes struct {
	link string
	err  error
}

func (f *fakeResumes) Upload(ctx context.Context, path string) (string, error) {
	return f.link, f.err
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	applicantsByEmail map[string]int64
	nextID            int64
	communications    []*models.CommunicationEntry
	activeThreads     []models.ActiveThread
	messageIDs        map[int64][]string
	threadUpdates     map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		applicantsByEmail: map[string]int64{},
		nextID:            1,
		messageIDs:        map[int64][]string{},
		threadUpdates:     map[int64]string{},
	}
}

func (f *fakeStore) ApplicantIDByEmail(ctx context.Context, email string) (int64, error) {
	return f.applicantsByEmail[models.NormalizeEmail(email)], nil
}

func (f *fakeStore) InsertApplicantAndCommunication(ctx context.Context, profile *models.ApplicantProfile, meta *models.EmailContent) (int64, error) {
	email := models.NormalizeEmail(profile.Email)
	if email == "" {
		return 0, errors.New("applicant email is missing")
	}
	if f.applicantsByEmail[email] != 0 {
		return 0, nil
	}
	id := f.nextID
	f.nextID++
	f.applicantsByEmail[email] = id
	if meta != nil && meta.ID != "" {
		f.communications = append(f.communications, &models.CommunicationEntry{
			ApplicantID: id,
			MessageID:   meta.ID,
			Sender:      meta.Sender,
		})
	}
	return id, nil
}

func (f *fakeStore) InsertCommunication(ctx context.Context, entry *models.CommunicationEntry) error {
	for _, c := range f.communications {
		if c.MessageID == entry.MessageID {
			return nil // unique constraint swallows duplicates
		}
	}
	f.communications = append(f.communications, entry)
	return nil
}

func (f *fakeStore) UpdateThreadID(ctx context.Context, applicantID int64, threadID string) error {
	f.threadUpdates[applicantID] = threadID
	return nil
}

func (f *fakeStore) GetActiveThreads(ctx context.Context) ([]models.ActiveThread, error) {
	return f.activeThreads, nil
}

func (f *fakeStore) MessageIDsForApplicant(ctx context.Context, applicantID int64) ([]string, error) {
	return f.messageIDs[applicantID], nil
}

func messageFixture(id, sender string) (models.MessageRef, *models.EmailContent) {
	ref := models.MessageRef{ID: id, ThreadID: "thread-" + id}
	content := &models.EmailContent{
		ID:       id,
		ThreadID: ref.ThreadID,
		Sender:   sender,
		Subject:  "Application for Software Developer",
		Body:     "Please find my resume attached.",
	}
	return ref, content
}

func newTestPipeline(source *fakeSource, store *fakeStore, classifier *fakeClassifier) *Pipeline {
	return New(source, &fakeExtractor{text: "resume text"}, classifier,
		&fakeResumes{link: "https://drive.example/view"}, store, "hr@example.com")
}

// TestRunOnceCreatesApplicants tests the happy path for new applications
func TestRunOnceCreatesApplicants(t *testing.T) {
	source := newFakeSource()
	ref1, content1 := messageFixture("m1", "alice@example.com")
	ref2, content2 := messageFixture("m2", "bob@example.com")
	source.unread = []models.MessageRef{ref1, ref2}
	source.content["m1"] = content1
	source.content["m2"] = content2
	source.attachments["m1"] = "/tmp/does-not-exist-m1.pdf"
	source.attachments["m2"] = "/tmp/does-not-exist-m2.pdf"

	store := newFakeStore()
	classifier := &fakeClassifier{profile: &models.ApplicantProfile{Name: "Candidate"}}

	p := newTestPipeline(source, store, classifier)
	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}

	if summary.NewApplications != 2 {
		t.Errorf("NewApplications = %d, want 2", summary.NewApplications)
	}
	if summary.FailedApplications != 0 {
		t.Errorf("FailedApplications = %d, want 0", summary.FailedApplications)
	}
	if len(source.markedRead) != 2 {
		t.Errorf("marked read %d messages, want 2", len(source.markedRead))
	}
	if store.applicantsByEmail["alice@example.com"] == 0 {
		t.Error("alice@example.com was not created")
	}
	if len(store.communications) != 2 {
		t.Errorf("recorded %d communications, want 2", len(store.communications))
	}
}

// TestDuplicateEmailSkipsDownload tests the cheap pre-check before
// attachment download
func TestDuplicateEmailSkipsDownload(t *testing.T) {
	source := newFakeSource()
	ref, content := messageFixture("m1", "  Alice@Example.COM ")
	source.unread = []models.MessageRef{ref}
	source.content["m1"] = content
	source.attachments["m1"] = "/tmp/does-not-exist.pdf"

	store := newFakeStore()
	store.applicantsByEmail["alice@example.com"] = 42

	classifier := &fakeClassifier{profile: &models.ApplicantProfile{Name: "Candidate"}}
	p := newTestPipeline(source, store, classifier)

	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}

	if summary.NewApplications != 0 {
		t.Errorf("NewApplications = %d, want 0", summary.NewApplications)
	}
	if len(source.savedCalls) != 0 {
		t.Errorf("SaveAttachment called %d times, want 0", len(source.savedCalls))
	}
	if classifier.calls != 0 {
		t.Errorf("classifier called %d times, want 0", classifier.calls)
	}
	// Duplicates are settled, not retryable: the message must be marked read.
	if len(source.markedRead) != 1 {
		t.Errorf("marked read %d messages, want 1", len(source.markedRead))
	}
}

// TestNoAttachmentSkips tests that attachment-less messages are settled
// without creating an applicant
func TestNoAttachmentSkips(t *testing.T) {
	source := newFakeSource()
	ref, content := messageFixture("m1", "carol@example.com")
	source.unread = []models.MessageRef{ref}
	source.content["m1"] = content
	source.attachments["m1"] = ""

	store := newFakeStore()
	classifier := &fakeClassifier{profile: &models.ApplicantProfile{Name: "Candidate"}}
	p := newTestPipeline(source, store, classifier)

	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}

	if summary.NewApplications != 0 || summary.FailedApplications != 0 {
		t.Errorf("summary = %+v, want zero applications and zero failures", summary)
	}
	if len(source.markedRead) != 1 {
		t.Errorf("marked read %d messages, want 1", len(source.markedRead))
	}
	if len(store.applicantsByEmail) != 0 {
		t.Error("applicant was created for a message without attachment")
	}
}

// TestNoSenderSkipped tests that a message without a sender address is
// settled with its own skip outcome
func TestNoSenderSkipped(t *testing.T) {
	source := newFakeSource()
	ref, content := messageFixture("m1", "")
	source.unread = []models.MessageRef{ref}
	source.content["m1"] = content
	source.attachments["m1"] = "/tmp/does-not-exist.pdf"

	store := newFakeStore()
	classifier := &fakeClassifier{profile: &models.ApplicantProfile{Name: "Candidate"}}
	p := newTestPipeline(source, store, classifier)

	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}

	// A missing sender can never become actionable: settled, not retried.
	if summary.NewApplications != 0 || summary.FailedApplications != 0 {
		t.Errorf("summary = %+v, want zero applications and zero failures", summary)
	}
	if len(source.markedRead) != 1 {
		t.Errorf("marked read %d messages, want 1", len(source.markedRead))
	}
	if len(source.savedCalls) != 0 {
		t.Errorf("SaveAttachment called %d times, want 0", len(source.savedCalls))
	}
	if got := models.OutcomeSkippedNoSender.String(); got != "skipped_no_sender" {
		t.Errorf("outcome name = %q, want %q", got, "skipped_no_sender")
	}
}

// TestClassifierFailureLeavesUnread tests retry semantics across runs
func TestClassifierFailureLeavesUnread(t *testing.T) {
	source := newFakeSource()
	ref, content := messageFixture("m1", "dave@example.com")
	source.unread = []models.MessageRef{ref}
	source.content["m1"] = content
	source.attachments["m1"] = "/tmp/does-not-exist.pdf"

	store := newFakeStore()
	classifier := &fakeClassifier{err: errors.New("model unavailable")}
	p := newTestPipeline(source, store, classifier)

	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}
	if summary.FailedApplications != 1 {
		t.Errorf("FailedApplications = %d, want 1", summary.FailedApplications)
	}
	if len(source.markedRead) != 0 {
		t.Errorf("marked read %d messages, want 0: a failed message must stay unread", len(source.markedRead))
	}

	// The message is still unread; the next run succeeds and settles it.
	classifier.err = nil
	classifier.profile = &models.ApplicantProfile{Name: "Dave"}

	summary, err = p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() retry unexpected error: %v", err)
	}
	if summary.NewApplications != 1 {
		t.Errorf("NewApplications on retry = %d, want 1", summary.NewApplications)
	}
	if len(source.markedRead) != 1 {
		t.Errorf("marked read %d messages after retry, want 1", len(source.markedRead))
	}
}

// TestNamelessProfileIsRetryable tests that a profile without a name is
// treated as a classification failure
func TestNamelessProfileIsRetryable(t *testing.T) {
	source := newFakeSource()
	ref, content := messageFixture("m1", "erin@example.com")
	source.unread = []models.MessageRef{ref}
	source.content["m1"] = content
	source.attachments["m1"] = "/tmp/does-not-exist.pdf"

	store := newFakeStore()
	classifier := &fakeClassifier{profile: &models.ApplicantProfile{Name: "   "}}
	p := newTestPipeline(source, store, classifier)

	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}
	if summary.FailedApplications != 1 {
		t.Errorf("FailedApplications = %d, want 1", summary.FailedApplications)
	}
	if len(source.markedRead) != 0 {
		t.Error("nameless classification must leave the message unread")
	}
}

// TestFatalListUnread tests that a listing failure aborts the run with
// zero progress
func TestFatalListUnread(t *testing.T) {
	source := newFakeSource()
	source.unreadErr = errors.New("transport down")

	p := newTestPipeline(source, newFakeStore(), &fakeClassifier{})
	if _, err := p.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() = nil error, want failure when listing is down")
	}
}

// TestRepliesRecorded tests reply reconciliation for active threads
func TestRepliesRecorded(t *testing.T) {
	source := newFakeSource()
	source.threads["t1"] = []models.MessageRef{
		{ID: "r1", ThreadID: "t1"},
		{ID: "r2", ThreadID: "t1"},
	}
	source.content["r1"] = &models.EmailContent{ID: "r1", ThreadID: "t1", Sender: "alice@example.com", Body: "re: interview"}
	source.content["r2"] = &models.EmailContent{ID: "r2", ThreadID: "t1", Sender: "HR@Example.com", Body: "our reply"}

	store := newFakeStore()
	store.activeThreads = []models.ActiveThread{{ApplicantID: 7, ThreadID: "t1"}}

	p := newTestPipeline(source, store, &fakeClassifier{})
	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}

	// The HR-sent message is skipped: outbound mail is recorded at send time.
	if summary.NewReplies != 1 {
		t.Errorf("NewReplies = %d, want 1", summary.NewReplies)
	}
	if len(store.communications) != 1 {
		t.Fatalf("recorded %d communications, want 1", len(store.communications))
	}
	if store.communications[0].MessageID != "r1" {
		t.Errorf("recorded message %q, want r1", store.communications[0].MessageID)
	}
	if store.communications[0].Direction != models.DirectionIncoming {
		t.Errorf("direction = %q, want %q", store.communications[0].Direction, models.DirectionIncoming)
	}
}

// TestKnownMessagesExcluded tests that already-recorded replies are not
// refetched
func TestKnownMessagesExcluded(t *testing.T) {
	source := newFakeSource()
	source.threads["t1"] = []models.MessageRef{{ID: "r1", ThreadID: "t1"}}

	store := newFakeStore()
	store.activeThreads = []models.ActiveThread{{ApplicantID: 7, ThreadID: "t1"}}
	store.messageIDs[7] = []string{"r1"}

	p := newTestPipeline(source, store, &fakeClassifier{})
	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}

	if summary.NewReplies != 0 {
		t.Errorf("NewReplies = %d, want 0", summary.NewReplies)
	}
	known := source.threadKnown["t1"]
	if _, ok := known["r1"]; !ok {
		t.Error("known set passed to the source is missing the recorded message id")
	}
}

// TestRunStateSpansPhases tests that a message settled in the application
// phase is not reprocessed as a reply in the same run
func TestRunStateSpansPhases(t *testing.T) {
	source := newFakeSource()
	ref, content := messageFixture("m1", "frank@example.com")
	source.unread = []models.MessageRef{ref}
	source.content["m1"] = content
	source.attachments["m1"] = "/tmp/does-not-exist.pdf"
	source.threads[ref.ThreadID] = []models.MessageRef{ref}

	store := newFakeStore()
	store.activeThreads = []models.ActiveThread{{ApplicantID: 9, ThreadID: ref.ThreadID}}

	classifier := &fakeClassifier{profile: &models.ApplicantProfile{Name: "Frank"}}
	p := newTestPipeline(source, store, classifier)

	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}

	if summary.NewApplications != 1 {
		t.Errorf("NewApplications = %d, want 1", summary.NewApplications)
	}
	if summary.NewReplies != 0 {
		t.Errorf("NewReplies = %d, want 0: the message was already settled this run", summary.NewReplies)
	}
}

// TestThreadHealing tests that a vanished thread clears the stored thread id
func TestThreadHealing(t *testing.T) {
	source := newFakeSource()
	source.threadErr["gone"] = goerr.Wrap(ErrThreadNotFound, "thread lookup failed")

	store := newFakeStore()
	store.activeThreads = []models.ActiveThread{{ApplicantID: 5, ThreadID: "gone"}}

	p := newTestPipeline(source, store, &fakeClassifier{})
	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}

	if summary.NewReplies != 0 {
		t.Errorf("NewReplies = %d, want 0", summary.NewReplies)
	}
	cleared, ok := store.threadUpdates[5]
	if !ok {
		t.Fatal("UpdateThreadID was not called for the vanished thread")
	}
	if cleared != "" {
		t.Errorf("thread id updated to %q, want cleared", cleared)
	}
}

// TestSendReplyRecordsOutgoing tests that a sent reply lands in the
// communication log with the outgoing direction
func TestSendReplyRecordsOutgoing(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore()
	p := newTestPipeline(source, store, &fakeClassifier{})

	err := p.SendReply(context.Background(), 7, "alice@example.com", "t1",
		"Re: Application for Software Developer", "We would like to schedule a call.")
	if err != nil {
		t.Fatalf("SendReply() unexpected error: %v", err)
	}

	if len(source.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(source.sent))
	}
	if source.sent[0].threadID != "t1" || source.sent[0].to != "alice@example.com" {
		t.Errorf("sent = %+v, want the applicant's address on thread t1", source.sent[0])
	}
	if len(store.communications) != 1 {
		t.Fatalf("recorded %d communications, want 1", len(store.communications))
	}
	entry := store.communications[0]
	if entry.Direction != models.DirectionOutgoing {
		t.Errorf("direction = %q, want %q", entry.Direction, models.DirectionOutgoing)
	}
	if entry.Sender != "hr@example.com" {
		t.Errorf("sender = %q, want the HR mailbox", entry.Sender)
	}
	if entry.MessageID != "sent-1" {
		t.Errorf("message id = %q, want the provider-assigned id", entry.MessageID)
	}
	// The thread was unchanged, so no relink happens.
	if _, ok := store.threadUpdates[7]; ok {
		t.Error("thread id was rewritten although the send stayed on the same thread")
	}
}

// TestSendReplyLinksNewThread tests that a send starting a fresh thread
// stores the new thread id on the applicant
func TestSendReplyLinksNewThread(t *testing.T) {
	source := newFakeSource()
	source.sendThreadID = "t-new"
	store := newFakeStore()
	p := newTestPipeline(source, store, &fakeClassifier{})

	if err := p.SendReply(context.Background(), 5, "bob@example.com", "",
		"Interview invitation", "Are you available next week?"); err != nil {
		t.Fatalf("SendReply() unexpected error: %v", err)
	}

	if store.threadUpdates[5] != "t-new" {
		t.Errorf("thread id = %q, want t-new", store.threadUpdates[5])
	}
}

// TestSendReplySendFailureRecordsNothing tests that a failed send leaves
// the communication log untouched
func TestSendReplySendFailureRecordsNothing(t *testing.T) {
	source := newFakeSource()
	source.sendErr = errors.New("smtp rejected")
	store := newFakeStore()
	p := newTestPipeline(source, store, &fakeClassifier{})

	if err := p.SendReply(context.Background(), 7, "alice@example.com", "t1", "Subject", "Body"); err == nil {
		t.Fatal("SendReply() = nil error, want failure")
	}
	if len(store.communications) != 0 {
		t.Errorf("recorded %d communications after a failed send, want 0", len(store.communications))
	}
	if _, ok := store.threadUpdates[7]; ok {
		t.Error("thread id was updated after a failed send")
	}
}

// TestTransientThreadErrorDoesNotHeal tests that generic thread errors
// leave the thread id alone for a later retry
func TestTransientThreadErrorDoesNotHeal(t *testing.T) {
	source := newFakeSource()
	source.threadErr["t1"] = errors.New("rate limited")

	store := newFakeStore()
	store.activeThreads = []models.ActiveThread{{ApplicantID: 5, ThreadID: "t1"}}

	p := newTestPipeline(source, store, &fakeClassifier{})
	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}

	if _, ok := store.threadUpdates[5]; ok {
		t.Error("thread id was cleared on a transient error")
	}
}
