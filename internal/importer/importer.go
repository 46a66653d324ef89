package importer

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/xuri/excelize/v2"

	"github.com/paras-0007/HMS-Portal/internal/models"
	"github.com/paras-0007/HMS-Portal/internal/pipeline"
)

// Result summarizes one bulk import.
type Result struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// Importer loads applicants from spreadsheets or from a resume file URL,
// bypassing the mail pipeline but reusing its classification and storage
// stages.
type Importer struct {
	store      pipeline.Store
	extractor  pipeline.TextExtractor
	classifier pipeline.Classifier
	resumes    pipeline.ResumeStore
	httpClient *http.Client
	tmpDir     string
	logger     *slog.Logger
}

// New builds an importer. httpClient is used only to download resumes by
// URL and may be nil to use http.DefaultClient.
func New(store pipeline.Store, extractor pipeline.TextExtractor, classifier pipeline.Classifier, resumes pipeline.ResumeStore, httpClient *http.Client, tmpDir string) *Importer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Importer{
		store:      store,
		extractor:  extractor,
		classifier: classifier,
		resumes:    resumes,
		httpClient: httpClient,
		tmpDir:     tmpDir,
		logger:     slog.Default(),
	}
}

// ImportSpreadsheet reads applicant rows from an .xlsx or .csv upload.
// The first row must be a header; recognized columns are matched by name
// and the rest are ignored. Rows without an email are skipped, rows whose
// email already exists count as duplicates.
func (im *Importer) ImportSpreadsheet(ctx context.Context, filename string, r io.Reader) (*Result, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		rows, err = readExcel(r)
	case ".csv":
		rows, err = readCSV(r)
	default:
		return nil, goerr.New("unsupported import format", goerr.V("filename", filename))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read import file", goerr.V("filename", filename))
	}
	if len(rows) < 2 {
		return nil, goerr.New("import file has no data rows", goerr.V("filename", filename))
	}

	cols := mapColumns(rows[0])
	if _, ok := cols["email"]; !ok {
		return nil, goerr.New("import file has no email column", goerr.V("filename", filename))
	}

	result := &Result{}
	for _, row := range rows[1:] {
		profile := profileFromRow(row, cols)
		if models.NormalizeEmail(profile.Email) == "" || !profile.HasName() {
			// An incomplete row can still be salvaged when it links a resume.
			if profile.ResumeURL != "" {
				im.enrichFromResume(ctx, profile, result)
				continue
			}
			result.Skipped++
			continue
		}
		profile.Normalize()

		id, err := im.store.InsertApplicantAndCommunication(ctx, profile, nil)
		if err != nil {
			im.logger.Warn("skipping unimportable row",
				slog.String("email", profile.Email), slog.Any("error", err))
			result.Skipped++
			continue
		}
		if id == 0 {
			result.Duplicates++
			continue
		}
		result.Imported++
	}
	return result, nil
}

// enrichFromResume runs the resume-URL flow for a spreadsheet row whose
// own cells are not enough to create the applicant.
func (im *Importer) enrichFromResume(ctx context.Context, profile *models.ApplicantProfile, result *Result) {
	id, err := im.ImportFromResumeURL(ctx, profile.ResumeURL)
	if err != nil {
		im.logger.Warn("failed to enrich row from linked resume",
			slog.String("url", profile.ResumeURL), slog.Any("error", err))
		result.Skipped++
		return
	}
	if id == 0 {
		result.Duplicates++
		return
	}
	result.Imported++
}

// ImportFromResumeURL downloads a resume file, runs it through extraction
// and classification, uploads it to durable storage, and creates the
// applicant. Returns 0 when the extracted email already exists.
func (im *Importer) ImportFromResumeURL(ctx context.Context, fileURL string) (int64, error) {
	localPath, err := im.download(ctx, fileURL)
	if err != nil {
		return 0, err
	}
	defer os.Remove(localPath)

	resumeText, err := im.extractor.Extract(localPath)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to extract resume text", goerr.V("url", fileURL))
	}

	profile, err := im.classifier.Extract(ctx, "", "", resumeText)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to classify resume", goerr.V("url", fileURL))
	}

	link, err := im.resumes.Upload(ctx, localPath)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to upload resume", goerr.V("url", fileURL))
	}
	profile.ResumeURL = link
	profile.Normalize()

	id, err := im.store.InsertApplicantAndCommunication(ctx, profile, nil)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// download fetches the resume to a temp file, keeping the URL's file
// extension so the extractor can pick a converter.
func (im *Importer) download(ctx context.Context, fileURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", goerr.Wrap(err, "invalid resume url", goerr.V("url", fileURL))
	}
	resp, err := im.httpClient.Do(req)
	if err != nil {
		return "", goerr.Wrap(err, "failed to download resume", goerr.V("url", fileURL))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", goerr.New("unexpected status downloading resume",
			goerr.V("url", fileURL), goerr.V("status", resp.StatusCode))
	}

	ext := filepath.Ext(path.Base(req.URL.Path))
	if ext == "" {
		ext = ".pdf"
	}
	f, err := os.CreateTemp(im.tmpDir, "import-*"+ext)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create temp file")
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(f.Name())
		return "", goerr.Wrap(err, "failed to save downloaded resume")
	}
	return f.Name(), nil
}

func readExcel(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, goerr.New("workbook has no sheets")
	}
	return f.GetRows(sheet)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // rows may have trailing blanks trimmed
	return reader.ReadAll()
}

// mapColumns matches header cells to known profile fields, ignoring
// case, spaces, and underscores.
func mapColumns(header []string) map[string]int {
	known := map[string]string{
		"name":       "name",
		"fullname":   "name",
		"email":      "email",
		"phone":      "phone",
		"domain":     "domain",
		"role":       "domain",
		"education":  "education",
		"jobhistory": "job_history",
		"experience": "job_history",
		"resumeurl":  "resume_url",
		"cvurl":      "resume_url",
	}
	cols := make(map[string]int)
	for i, cell := range header {
		key := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(cell)))
		if field, ok := known[key]; ok {
			if _, taken := cols[field]; !taken {
				cols[field] = i
			}
		}
	}
	return cols
}

func profileFromRow(row []string, cols map[string]int) *models.ApplicantProfile {
	cell := func(field string) string {
		i, ok := cols[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	return &models.ApplicantProfile{
		Name:       cell("name"),
		Email:      cell("email"),
		Phone:      cell("phone"),
		Domain:     cell("domain"),
		Education:  cell("education"),
		JobHistory: cell("job_history"),
		ResumeURL:  cell("resume_url"),
	}
}
