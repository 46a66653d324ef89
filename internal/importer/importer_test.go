package importer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/paras-0007/HMS-Portal/internal/models"
)

// fakeStore is the in-memory persistence used by importer tests.
type fakeStore struct {
	applicantsByEmail map[string]int64
	nextID            int64
	inserted          []*models.ApplicantProfile
}

func newFakeStore() *fakeStore {
	return &fakeStore{applicantsByEmail: map[string]int64{}, nextID: 1}
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
	f.inserted = append(f.inserted, profile)
	return id, nil
}

func (f *fakeStore) InsertCommunication(ctx context.Context, entry *models.CommunicationEntry) error {
	return nil
}

func (f *fakeStore) UpdateThreadID(ctx context.Context, applicantID int64, threadID string) error {
	return nil
}

func (f *fakeStore) GetActiveThreads(ctx context.Context) ([]models.ActiveThread, error) {
	return nil, nil
}

func (f *fakeStore) MessageIDsForApplicant(ctx context.Context, applicantID int64) ([]string, error) {
	return nil, nil
}

type fakeExtractor struct{ text string }

func (f *fakeExtractor) Extract(path string) (string, error) { return f.text, nil }

type fakeClassifier struct{ profile *models.ApplicantProfile }

func (f *fakeClassifier) Extract(ctx context.Context, subject, body, resumeText string) (*models.ApplicantProfile, error) {
	p := *f.profile
	return &p, nil
}

type fakeResumes struct{ link string }

func (f *fakeResumes) Upload(ctx context.Context, path string) (string, error) {
	return f.link, nil
}

const csvFixture = `Name,Email,Phone,Domain,Education,Job History,Resume URL
Jane Doe,jane@example.com,+91 98765 43210,fullstack developer,B.Tech,Acme 2021-2024,https://drive.example/jane
Bob Smith,bob@example.com,,,,,
No Email Row,,,,,,
Duplicate,jane@example.com,,,,,
`

// TestImportCSV tests bulk import from a CSV upload
func TestImportCSV(t *testing.T) {
	store := newFakeStore()
	im := New(store, &fakeExtractor{}, &fakeClassifier{}, &fakeResumes{}, nil, t.TempDir())

	result, err := im.ImportSpreadsheet(context.Background(), "applicants.csv", strings.NewReader(csvFixture))
	if err != nil {
		t.Fatalf("ImportSpreadsheet() unexpected error: %v", err)
	}

	if result.Imported != 2 {
		t.Errorf("Imported = %d, want 2", result.Imported)
	}
	if result.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", result.Duplicates)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}

	jane := store.inserted[0]
	if jane.Phone != "9876543210" {
		t.Errorf("Phone = %q, want normalized %q", jane.Phone, "9876543210")
	}
	if jane.Domain != "Full Stack Developer" {
		t.Errorf("Domain = %q, want canonical %q", jane.Domain, "Full Stack Developer")
	}
	if jane.ResumeURL != "https://drive.example/jane" {
		t.Errorf("ResumeURL = %q not carried over", jane.ResumeURL)
	}

	// Empty optional fields receive the standard placeholders.
	bob := store.inserted[1]
	if bob.Education != models.DefaultEducation {
		t.Errorf("Education = %q, want default %q", bob.Education, models.DefaultEducation)
	}
}

// TestImportExcel tests bulk import from an xlsx upload
func TestImportExcel(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]string{
		{"Full Name", "EMAIL", "phone"},
		{"Carol Jones", "carol@example.com", "1234567890"},
	}
	for i, row := range rows {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			f.SetCellValue(sheet, cell, v)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("failed to build fixture workbook: %v", err)
	}
	f.Close()

	store := newFakeStore()
	im := New(store, &fakeExtractor{}, &fakeClassifier{}, &fakeResumes{}, nil, t.TempDir())

	result, err := im.ImportSpreadsheet(context.Background(), "upload.xlsx", &buf)
	if err != nil {
		t.Fatalf("ImportSpreadsheet() unexpected error: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("Imported = %d, want 1", result.Imported)
	}
	if store.applicantsByEmail["carol@example.com"] == 0 {
		t.Error("carol@example.com was not created")
	}
}

// TestImportRejectsUnknownFormat tests format validation
func TestImportRejectsUnknownFormat(t *testing.T) {
	im := New(newFakeStore(), &fakeExtractor{}, &fakeClassifier{}, &fakeResumes{}, nil, t.TempDir())

	if _, err := im.ImportSpreadsheet(context.Background(), "resume.pdf", strings.NewReader("x")); err == nil {
		t.Error("ImportSpreadsheet() accepted a pdf, want format error")
	}
	if _, err := im.ImportSpreadsheet(context.Background(), "empty.csv", strings.NewReader("Name,Email\n")); err == nil {
		t.Error("ImportSpreadsheet() accepted a header-only file, want error")
	}
	if _, err := im.ImportSpreadsheet(context.Background(), "noemail.csv", strings.NewReader("Name\nJane\n")); err == nil {
		t.Error("ImportSpreadsheet() accepted a file without an email column, want error")
	}
}

// TestImportFromResumeURL tests the download-extract-classify-create flow
func TestImportFromResumeURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Jane Doe resume text"))
	}))
	defer srv.Close()

	store := newFakeStore()
	classifier := &fakeClassifier{profile: &models.ApplicantProfile{
		Name:  "Jane Doe",
		Email: "jane@example.com",
	}}
	im := New(store, &fakeExtractor{text: "Jane Doe resume text"}, classifier,
		&fakeResumes{link: "https://drive.example/view"}, srv.Client(), t.TempDir())

	id, err := im.ImportFromResumeURL(context.Background(), srv.URL+"/jane.txt")
	if err != nil {
		t.Fatalf("ImportFromResumeURL() unexpected error: %v", err)
	}
	if id == 0 {
		t.Fatal("ImportFromResumeURL() = 0, want new applicant id")
	}
	if store.inserted[0].ResumeURL != "https://drive.example/view" {
		t.Errorf("ResumeURL = %q, want uploaded link", store.inserted[0].ResumeURL)
	}

	// Same email again is reported as a duplicate, not an error.
	id, err = im.ImportFromResumeURL(context.Background(), srv.URL+"/jane.txt")
	if err != nil {
		t.Fatalf("ImportFromResumeURL() duplicate unexpected error: %v", err)
	}
	if id != 0 {
		t.Errorf("ImportFromResumeURL() duplicate = %d, want 0", id)
	}
}

// TestImportEnrichesRowFromResume tests that an incomplete row with a
// linked resume goes through the classification flow
func TestImportEnrichesRowFromResume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Dana Lee resume text"))
	}))
	defer srv.Close()

	store := newFakeStore()
	classifier := &fakeClassifier{profile: &models.ApplicantProfile{
		Name:  "Dana Lee",
		Email: "dana@example.com",
	}}
	im := New(store, &fakeExtractor{text: "Dana Lee resume text"}, classifier,
		&fakeResumes{link: "https://drive.example/dana"}, srv.Client(), t.TempDir())

	csv := "Name,Email,Resume URL\n,," + srv.URL + "/dana.pdf\n"
	result, err := im.ImportSpreadsheet(context.Background(), "sparse.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ImportSpreadsheet() unexpected error: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("Imported = %d, want 1", result.Imported)
	}
	if store.applicantsByEmail["dana@example.com"] == 0 {
		t.Error("enriched applicant was not created")
	}
}

// TestImportFromResumeURLBadStatus tests upstream error handling
func TestImportFromResumeURLBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	im := New(newFakeStore(), &fakeExtractor{}, &fakeClassifier{}, &fakeResumes{}, srv.Client(), t.TempDir())
	if _, err := im.ImportFromResumeURL(context.Background(), srv.URL+"/gone.pdf"); err == nil {
		t.Error("ImportFromResumeURL() = nil error, want failure on 404")
	}
}

// TestMapColumns tests header matching
func TestMapColumns(t *testing.T) {
	cols := mapColumns([]string{" Full Name ", "E-Mail", "JOB_HISTORY", "cv url", "Ignored"})

	tests := []struct {
		field string
		index int
	}{
		{"name", 0},
		{"email", 1},
		{"job_history", 2},
		{"resume_url", 3},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			idx, ok := cols[tt.field]
			if !ok {
				t.Fatalf("column %q not mapped", tt.field)
			}
			if idx != tt.index {
				t.Errorf("column %q mapped to %d, want %d", tt.field, idx, tt.index)
			}
		})
	}
	if _, ok := cols["ignored"]; ok {
		t.Error("unknown header was mapped")
	}
}
