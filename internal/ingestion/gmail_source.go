package ingestion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/paras-0007/HMS-Portal/internal/models"
	"github.com/paras-0007/HMS-Portal/internal/pipeline"
)

// unreadQuery selects inbound applications: unread inbox mail carrying an
// attachment.
const unreadQuery = "is:unread has:attachment in:inbox"

// resumeExtensions are the attachment types we accept as resumes.
var resumeExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".rtf": true, ".odt": true, ".txt": true,
}

// GmailSource implements the pipeline's MessageSource on the Gmail API.
type GmailSource struct {
	service        *gmail.Service
	attachmentsDir string
}

// Credentials locates the OAuth client secrets and the cached user token.
type Credentials struct {
	CredentialsFile string
	TokenFile       string
}

// NewGoogleClient builds the authorized HTTP client shared by the Gmail,
// Drive, and Calendar services, running the installed-app flow when no
// cached token exists yet.
func NewGoogleClient(ctx context.Context, creds Credentials, scopes ...string) (*http.Client, error) {
	b, err := os.ReadFile(creds.CredentialsFile)
	if err != nil {
		return nil, goerr.Wrap(err, "unable to read credentials file", goerr.V("path", creds.CredentialsFile))
	}

	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, goerr.Wrap(err, "unable to parse credentials")
	}

	tok, err := tokenFromFile(creds.TokenFile)
	if err != nil {
		tok, err = tokenFromWeb(ctx, config)
		if err != nil {
			return nil, err
		}
		if err := saveToken(creds.TokenFile, tok); err != nil {
			return nil, err
		}
	}
	return config.Client(ctx, tok), nil
}

// NewGmailSource builds a Gmail-backed message source on an authorized
// client.
func NewGmailSource(ctx context.Context, client *http.Client, attachmentsDir string) (*GmailSource, error) {
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, goerr.Wrap(err, "unable to create Gmail client")
	}
	return &GmailSource{service: srv, attachmentsDir: attachmentsDir}, nil
}

func tokenFromWeb(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser then type the authorization code:\n%v\n", authURL)

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return nil, goerr.Wrap(err, "unable to read authorization code")
	}

	tok, err := config.Exchange(ctx, authCode)
	if err != nil {
		return nil, goerr.Wrap(err, "unable to retrieve token from web")
	}
	return tok, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return goerr.Wrap(err, "unable to cache oauth token", goerr.V("path", path))
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// ListUnread returns references to unread application messages.
func (s *GmailSource) ListUnread(ctx context.Context) ([]models.MessageRef, error) {
	r, err := s.service.Users.Messages.List("me").Q(unreadQuery).Context(ctx).Do()
	if err != nil {
		return nil, goerr.Wrap(err, "unable to list unread messages")
	}

	refs := make([]models.MessageRef, 0, len(r.Messages))
	for _, m := range r.Messages {
		refs = append(refs, models.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return refs, nil
}

// GetContent fetches one message's sender, subject, body, and thread id.
// The sender is reduced to a bare, normalized address.
func (s *GmailSource) GetContent(ctx context.Context, id string) (*models.EmailContent, error) {
	msg, err := s.service.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, goerr.Wrap(err, "unable to retrieve message", goerr.V("messageID", id))
	}

	content := &models.EmailContent{ID: msg.Id, ThreadID: msg.ThreadId}
	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "From":
			content.Sender = extractAddress(header.Value)
		case "Subject":
			content.Subject = header.Value
		}
	}
	content.Body = extractBody(msg.Payload)
	return content, nil
}

// SaveAttachment downloads the first resume-like attachment to a temp file
// and returns its path, or "" when the message has none.
func (s *GmailSource) SaveAttachment(ctx context.Context, id string) (string, error) {
	msg, err := s.service.Users.Messages.Get("me", id).Context(ctx).Do()
	if err != nil {
		return "", goerr.Wrap(err, "unable to retrieve message", goerr.V("messageID", id))
	}

	part := findAttachmentPart(msg.Payload)
	if part == nil {
		return "", nil
	}

	attachment, err := s.service.Users.Messages.Attachments.Get("me", id, part.Body.AttachmentId).Context(ctx).Do()
	if err != nil {
		return "", goerr.Wrap(err, "unable to retrieve attachment", goerr.V("messageID", id))
	}

	data, err := base64.URLEncoding.DecodeString(attachment.Data)
	if err != nil {
		return "", goerr.Wrap(err, "unable to decode attachment", goerr.V("messageID", id))
	}

	path, err := tempFilePath(s.attachmentsDir, part.Filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", goerr.Wrap(err, "unable to write attachment", goerr.V("path", path))
	}
	return path, nil
}

// MarkRead removes the UNREAD label from a message.
func (s *GmailSource) MarkRead(ctx context.Context, id string) error {
	_, err := s.service.Users.Messages.Modify("me", id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return goerr.Wrap(err, "unable to mark message read", goerr.V("messageID", id))
	}
	return nil
}

// SendReply sends a plain-text mail from the user's mailbox. Setting the
// thread id keeps the mail on the applicant's existing conversation; Gmail
// requires the subject to match the thread's for that to take effect.
func (s *GmailSource) SendReply(ctx context.Context, threadID, to, subject, body string) (models.MessageRef, error) {
	var raw bytes.Buffer
	fmt.Fprintf(&raw, "To: %s\r\n", to)
	fmt.Fprintf(&raw, "Subject: %s\r\n", subject)
	raw.WriteString("MIME-Version: 1.0\r\n")
	raw.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	raw.WriteString(body)

	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw.Bytes()),
		ThreadId: threadID,
	}
	sent, err := s.service.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return models.MessageRef{}, goerr.Wrap(err, "unable to send reply",
			goerr.V("to", to), goerr.V("threadID", threadID))
	}
	return models.MessageRef{ID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// ListNewInThread returns the messages of a thread whose ids are not in
// known. A provider-side 404 maps to pipeline.ErrThreadNotFound so the
// caller can heal the stored thread reference.
func (s *GmailSource) ListNewInThread(ctx context.Context, threadID string, known map[string]struct{}) ([]models.MessageRef, error) {
	thread, err := s.service.Users.Threads.Get("me", threadID).Format("minimal").Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, goerr.Wrap(pipeline.ErrThreadNotFound, "thread lookup returned 404", goerr.V("threadID", threadID))
		}
		return nil, goerr.Wrap(err, "unable to fetch thread", goerr.V("threadID", threadID))
	}

	var refs []models.MessageRef
	for _, m := range thread.Messages {
		if _, ok := known[m.Id]; ok {
			continue
		}
		refs = append(refs, models.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return refs, nil
}

// extractAddress reduces a "Name <email@example.com>" header to the bare,
// normalized address.
func extractAddress(from string) string {
	if start := strings.Index(from, "<"); start >= 0 {
		if end := strings.Index(from[start:], ">"); end > 0 {
			return models.NormalizeEmail(from[start+1 : start+end])
		}
	}
	return models.NormalizeEmail(from)
}

// extractBody walks the MIME tree for the first text/plain part, falling
// back to the top-level body.
func extractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if text := findPlainText(payload); text != "" {
		return text
	}
	if payload.Body != nil && payload.Body.Data != "" {
		return decodeBody(payload.Body.Data)
	}
	return ""
}

func findPlainText(part *gmail.MessagePart) string {
	if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}
	for _, child := range part.Parts {
		if text := findPlainText(child); text != "" {
			return text
		}
	}
	return ""
}

func decodeBody(data string) string {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail omits padding on some parts.
		if decoded, err = base64.RawURLEncoding.DecodeString(data); err != nil {
			return ""
		}
	}
	return string(decoded)
}

// findAttachmentPart returns the first part that looks like a resume.
func findAttachmentPart(part *gmail.MessagePart) *gmail.MessagePart {
	if part == nil {
		return nil
	}
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		ext := strings.ToLower(filepath.Ext(part.Filename))
		if resumeExtensions[ext] {
			return part
		}
	}
	for _, child := range part.Parts {
		if found := findAttachmentPart(child); found != nil {
			return found
		}
	}
	return nil
}
