package ingestion

import (
	"os"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
	"github.com/m-mizutani/goerr/v2"
)

// MinExtractedTextLength is the minimum text length below which an
// extraction is treated as failed rather than returned.
const MinExtractedTextLength = 50

// Extractor turns a downloaded resume file into plain text. PDF and
// word-processor formats go through docconv; plain text is read directly.
type Extractor struct{}

// NewExtractor creates a text extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns best-effort plain text for the file, or an error when
// the format is unsupported or yields nothing usable.
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".txt":
		content, err := os.ReadFile(path)
		if err != nil {
			return "", goerr.Wrap(err, "failed to read text file", goerr.V("path", path))
		}
		return string(content), nil
	case ".pdf", ".docx", ".doc", ".rtf", ".odt":
		res, err := docconv.ConvertPath(path)
		if err != nil {
			return "", goerr.Wrap(err, "failed to convert document", goerr.V("path", path))
		}
		text := strings.TrimSpace(res.Body)
		if len(text) < MinExtractedTextLength {
			return "", goerr.New("extracted text is too short, likely failed extraction", goerr.V("path", path))
		}
		return text, nil
	default:
		return "", goerr.New("unsupported file type", goerr.V("ext", ext))
	}
}

// tempFilePath allocates a unique file path in dir, keeping the original
// extension so downstream format detection works.
func tempFilePath(dir, originalName string) (string, error) {
	suffix := filepath.Ext(originalName)
	f, err := os.CreateTemp(dir, "resume-*"+suffix)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create temp file", goerr.V("name", originalName))
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to close temp file", goerr.V("path", path))
	}
	return path, nil
}
