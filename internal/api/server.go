package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/paras-0007/HMS-Portal/internal/drive"
	"github.com/paras-0007/HMS-Portal/internal/export"
	"github.com/paras-0007/HMS-Portal/internal/importer"
	"github.com/paras-0007/HMS-Portal/internal/models"
	"github.com/paras-0007/HMS-Portal/internal/scheduler"
)

const maxUploadBytes = 32 << 20 // 32 MB

// Syncer runs ingestion passes over the mailbox and sends outbound mail.
type Syncer interface {
	RunOnce(ctx context.Context) (models.RunSummary, error)
	SendReply(ctx context.Context, applicantID int64, to, threadID, subject, body string) error
}

// Store is the persistence surface the HTTP layer needs.
type Store interface {
	ListApplicants(ctx context.Context) ([]models.Applicant, error)
	ApplicantByID(ctx context.Context, id int64) (*models.Applicant, error)
	UpdateStatus(ctx context.Context, applicantID int64, status string) error
	UpdateFeedback(ctx context.Context, applicantID int64, feedback string) error
	GetStatusHistory(ctx context.Context, applicantID int64) ([]models.StatusHistoryEntry, error)
	GetConversations(ctx context.Context, applicantID int64) ([]models.CommunicationEntry, error)

	LogInterview(ctx context.Context, iv *models.Interview) (int64, error)
	InterviewsForApplicant(ctx context.Context, applicantID int64) ([]models.Interview, error)
	GetInterviewers(ctx context.Context) ([]models.Interviewer, error)
	InterviewerByID(ctx context.Context, id int64) (*models.Interviewer, error)
	AddInterviewer(ctx context.Context, name, email string) (bool, error)
	DeleteInterviewer(ctx context.Context, id int64) error

	GetStatuses(ctx context.Context) ([]string, error)
	AddStatus(ctx context.Context, name string) (bool, error)
	DeleteStatus(ctx context.Context, name string) error

	UpsertJobDescription(ctx context.Context, name, driveURL, fileName string) error
	GetJobDescriptions(ctx context.Context) ([]models.JobDescription, error)
	JobDescriptionByID(ctx context.Context, id int64) (*models.JobDescription, error)
	DeleteJobDescription(ctx context.Context, id int64) error

	InsertExportLog(ctx context.Context, fileName, sheetURL, createdBy string) error
	RecentExportLogs(ctx context.Context) ([]models.ExportLog, error)
}

// Scheduler finds free interview slots and books events.
type Scheduler interface {
	FindAvailableSlots(ctx context.Context, calendarID string, durationMinutes, days int) ([]time.Time, error)
	BookEvent(ctx context.Context, calendarID string, req *scheduler.EventRequest) (*scheduler.BookedEvent, error)
}

// Bulkloader imports applicants outside the mail pipeline.
type Bulkloader interface {
	ImportSpreadsheet(ctx context.Context, filename string, r io.Reader) (*importer.Result, error)
	ImportFromResumeURL(ctx context.Context, fileURL string) (int64, error)
}

// FileStore uploads documents and returns shareable links.
type FileStore interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Server handles HTTP requests for the hiring dashboard.
type Server struct {
	syncer    Syncer
	store     Store
	scheduler Scheduler
	loader    Bulkloader
	files     FileStore
	hrEmail   string
	logger    *slog.Logger
}

// NewServer wires the HTTP layer to its collaborators.
func NewServer(syncer Syncer, store Store, sched Scheduler, loader Bulkloader, files FileStore, hrEmail string) *Server {
	return &Server{
		syncer:    syncer,
		store:     store,
		scheduler: sched,
		loader:    loader,
		files:     files,
		hrEmail:   hrEmail,
		logger:    slog.Default(),
	}
}

// Router returns the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sync", s.handleSync)

		r.Get("/applicants", s.handleListApplicants)
		r.Route("/applicants/{id}", func(r chi.Router) {
			r.Put("/status", s.handleUpdateStatus)
			r.Put("/feedback", s.handleUpdateFeedback)
			r.Get("/history", s.handleStatusHistory)
			r.Get("/conversations", s.handleConversations)
			r.Post("/reply", s.handleSendReply)
			r.Get("/interviews", s.handleApplicantInterviews)
		})

		r.Get("/availability", s.handleAvailability)
		r.Post("/interviews", s.handleBookInterview)

		r.Get("/interviewers", s.handleListInterviewers)
		r.Post("/interviewers", s.handleAddInterviewer)
		r.Delete("/interviewers/{id}", s.handleDeleteInterviewer)

		r.Get("/statuses", s.handleListStatuses)
		r.Post("/statuses", s.handleAddStatus)
		r.Delete("/statuses/{name}", s.handleDeleteStatus)

		r.Get("/job-descriptions", s.handleListJobDescriptions)
		r.Post("/job-descriptions", s.handleUploadJobDescription)
		r.Delete("/job-descriptions/{id}", s.handleDeleteJobDescription)

		r.Post("/import", s.handleImport)
		r.Get("/export", s.handleExport)
		r.Get("/export/logs", s.handleExportLogs)
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "HMS Portal",
		"endpoints": map[string]string{
			"POST /api/sync":        "Run one mailbox ingestion pass",
			"GET /api/applicants":   "List applicants",
			"GET /api/availability": "Find free interview slots",
			"POST /api/interviews":  "Book an interview",
			"GET /api/export":       "Download the applicant roster",
			"POST /api/import":      "Bulk-import applicants",
			"GET /health":           "Health check",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	summary, err := s.syncer.RunOnce(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListApplicants(w http.ResponseWriter, r *http.Request) {
	applicants, err := s.store.ListApplicants(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, applicants)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Status) == "" {
		s.respondError(w, http.StatusBadRequest, "status is required")
		return
	}
	if err := s.store.UpdateStatus(r.Context(), id, body.Status); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": body.Status})
}

func (s *Server) handleUpdateFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.UpdateFeedback(r.Context(), id, body.Feedback); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	history, err := s.store.GetStatusHistory(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	conversations, err := s.store.GetConversations(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, conversations)
}

// handleSendReply mails the applicant on their linked thread and records
// the message as an outgoing communication.
func (s *Server) handleSendReply(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil ||
		strings.TrimSpace(body.Subject) == "" || strings.TrimSpace(body.Body) == "" {
		s.respondError(w, http.StatusBadRequest, "subject and body are required")
		return
	}

	applicant, err := s.store.ApplicantByID(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "applicant not found")
		return
	}
	if applicant.Email == "" {
		s.respondError(w, http.StatusBadRequest, "applicant has no email address")
		return
	}

	if err := s.syncer.SendReply(r.Context(), applicant.ID, applicant.Email,
		applicant.ThreadID, body.Subject, body.Body); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleApplicantInterviews(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	interviews, err := s.store.InterviewsForApplicant(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, interviews)
}

// handleAvailability returns free slot start times for an interviewer's
// calendar. Query params: interviewer_id (required), duration (minutes,
// default 30), days (default 7).
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	interviewerID, err := strconv.ParseInt(r.URL.Query().Get("interviewer_id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "interviewer_id is required")
		return
	}
	duration := queryInt(r, "duration", 30)
	days := queryInt(r, "days", 0)

	interviewer, err := s.store.InterviewerByID(r.Context(), interviewerID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "interviewer not found")
		return
	}

	slots, err := s.scheduler.FindAvailableSlots(r.Context(), interviewer.Email, duration, days)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]string, 0, len(slots))
	for _, t := range slots {
		out = append(out, t.Format(time.RFC3339))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"slots": out})
}

type bookInterviewRequest struct {
	ApplicantID      int64     `json:"applicant_id"`
	InterviewerID    int64     `json:"interviewer_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	AttendeeEmails   []string  `json:"attendee_emails"`
	JobDescriptionID int64     `json:"job_description_id,omitempty"`
	ResumeURL        string    `json:"resume_url,omitempty"`
}

// handleBookInterview creates the calendar event first and records the
// interview only after the event exists, so the database never claims an
// interview that was not actually booked.
func (s *Server) handleBookInterview(w http.ResponseWriter, r *http.Request) {
	var req bookInterviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ApplicantID == 0 || req.InterviewerID == 0 || req.Title == "" {
		s.respondError(w, http.StatusBadRequest, "applicant_id, interviewer_id, and title are required")
		return
	}

	interviewer, err := s.store.InterviewerByID(r.Context(), req.InterviewerID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "interviewer not found")
		return
	}

	event := &scheduler.EventRequest{
		Title:       req.Title,
		Description: req.Description,
		Start:       req.Start,
		End:         req.End,
		Attendees:   append([]string{interviewer.Email}, req.AttendeeEmails...),
	}
	if req.ResumeURL != "" {
		event.Attachments = append(event.Attachments, scheduler.Attachment{
			Title:   "Resume",
			FileURL: drive.DirectDownloadLink(req.ResumeURL),
		})
	}
	if req.JobDescriptionID != 0 {
		jd, err := s.store.JobDescriptionByID(r.Context(), req.JobDescriptionID)
		if err != nil {
			s.respondError(w, http.StatusNotFound, "job description not found")
			return
		}
		event.Attachments = append(event.Attachments, scheduler.Attachment{
			Title:   jd.Name,
			FileURL: drive.DirectDownloadLink(jd.DriveURL),
		})
	}

	booked, err := s.scheduler.BookEvent(r.Context(), interviewer.Email, event)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	interview := &models.Interview{
		ApplicantID:     req.ApplicantID,
		InterviewerID:   req.InterviewerID,
		Title:           req.Title,
		StartTime:       req.Start,
		EndTime:         req.End,
		CalendarEventID: booked.EventID,
	}
	id, err := s.store.LogInterview(r.Context(), interview)
	if err != nil {
		// The event exists upstream; surface the id so the operator can
		// reconcile by hand.
		s.logger.Error("calendar event created but interview not recorded",
			slog.String("eventID", booked.EventID), slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]any{
		"interview_id": id,
		"event_id":     booked.EventID,
		"meet_link":    booked.MeetLink,
		"html_link":    booked.HTMLLink,
	})
}

func (s *Server) handleListInterviewers(w http.ResponseWriter, r *http.Request) {
	interviewers, err := s.store.GetInterviewers(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, interviewers)
}

func (s *Server) handleAddInterviewer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil ||
		strings.TrimSpace(body.Name) == "" || strings.TrimSpace(body.Email) == "" {
		s.respondError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	created, err := s.store.AddInterviewer(r.Context(), body.Name, models.NormalizeEmail(body.Email))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !created {
		s.respondError(w, http.StatusConflict, "interviewer already exists")
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) handleDeleteInterviewer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteInterviewer(r.Context(), id); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.GetStatuses(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleAddStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	created, err := s.store.AddStatus(r.Context(), strings.TrimSpace(body.Name))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !created {
		s.respondError(w, http.StatusConflict, "status already exists")
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) handleDeleteStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.store.DeleteStatus(r.Context(), name); err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListJobDescriptions(w http.ResponseWriter, r *http.Request) {
	jds, err := s.store.GetJobDescriptions(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, jds)
}

// handleUploadJobDescription stores a JD document in Drive and records
// the link under the given name. Re-uploading the same name replaces it.
func (s *Server) handleUploadJobDescription(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	localPath, err := saveUpload(file, header.Filename)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.Remove(localPath)

	link, err := s.files.Upload(r.Context(), localPath)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.UpsertJobDescription(r.Context(), name, link, header.Filename); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"name": name, "drive_url": link})
}

func (s *Server) handleDeleteJobDescription(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteJobDescription(r.Context(), id); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleImport accepts either a spreadsheet upload (form field "file")
// or a resume URL (form field "resume_url").
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}

	if resumeURL := strings.TrimSpace(r.FormValue("resume_url")); resumeURL != "" {
		id, err := s.loader.ImportFromResumeURL(r.Context(), resumeURL)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if id == 0 {
			s.respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
		s.respondJSON(w, http.StatusCreated, map[string]any{"applicant_id": id})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file or resume_url is required")
		return
	}
	defer file.Close()

	result, err := s.loader.ImportSpreadsheet(r.Context(), header.Filename, file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleExport streams the roster workbook and records the export.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	applicants, err := s.store.ListApplicants(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	fileName := export.Filename(time.Now())
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	if err := export.WriteApplicants(w, applicants); err != nil {
		// Headers are gone; all we can do is log.
		s.logger.Error("failed to stream export", slog.Any("error", err))
		return
	}

	if err := s.store.InsertExportLog(r.Context(), fileName, "", s.hrEmail); err != nil {
		s.logger.Warn("failed to record export", slog.Any("error", err))
	}
}

func (s *Server) handleExportLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.RecentExportLogs(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, logs)
}

// pathID parses the {id} route parameter, responding 400 on garbage.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// saveUpload copies an uploaded file to a temp path, keeping the
// extension for downstream converters.
func saveUpload(src io.Reader, originalName string) (string, error) {
	f, err := os.CreateTemp("", "upload-*"+filepath.Ext(originalName))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, src); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

// respondError sends an error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// loggingMiddleware logs each request with its status and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
