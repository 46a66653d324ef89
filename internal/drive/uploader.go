package drive

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Uploader stores resume files on Google Drive and hands back shareable
// links.
type Uploader struct {
	service *drive.Service
}

// NewUploader builds a Drive uploader on an authorized HTTP client.
func NewUploader(ctx context.Context, client *http.Client) (*Uploader, error) {
	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, goerr.Wrap(err, "unable to create Drive client")
	}
	return &Uploader{service: srv}, nil
}

// Upload stores the file on Drive with anyone-with-link read access and
// returns the web view link.
func (u *Uploader) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open file for upload", goerr.V("path", path))
	}
	defer f.Close()

	meta := &drive.File{Name: filepath.Base(path)}
	created, err := u.service.Files.Create(meta).
		Media(f).
		Fields("id, webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return "", goerr.Wrap(err, "drive upload failed", goerr.V("path", path))
	}

	_, err = u.service.Permissions.Create(created.Id, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Context(ctx).Do()
	if err != nil {
		return "", goerr.Wrap(err, "failed to set share permission", goerr.V("fileID", created.Id))
	}

	return created.WebViewLink, nil
}

var fileIDPattern = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)

// DirectDownloadLink converts a Drive view URL into a direct-fetch link
// suitable for calendar event attachments. Unrecognized URLs pass through
// unchanged.
func DirectDownloadLink(viewURL string) string {
	if viewURL == "" {
		return ""
	}
	m := fileIDPattern.FindStringSubmatch(viewURL)
	if m == nil {
		return viewURL
	}
	return fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", m[1])
}
