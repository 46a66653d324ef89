package store

import (
	"context"
	"database/sql"

	"github.com/m-mizutani/goerr/v2"

	"github.com/paras-0007/HMS-Portal/internal/models"
)

// InsertApplicantAndCommunication creates a new applicant, its initial
// "New" status-history row, and (when message metadata is present) the
// first communication row, all in one transaction. Returns 0 without error
// when the normalized email already exists, so repeated syncs are
// idempotent. Profiles without an email are rejected outright.
func (db *DB) InsertApplicantAndCommunication(ctx context.Context, profile *models.ApplicantProfile, meta *models.EmailContent) (int64, error) {
	email := models.NormalizeEmail(profile.Email)
	if email == "" {
		return 0, goerr.Wrap(ErrMissingEmail, "refusing to insert applicant", goerr.V("name", profile.Name))
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM applicants WHERE email = $1`, email).Scan(&existing)
	if err == nil {
		return 0, nil // duplicate
	}
	if err != sql.ErrNoRows {
		return 0, goerr.Wrap(err, "failed to check for existing applicant", goerr.V("email", email))
	}

	threadID := ""
	if meta != nil {
		threadID = meta.ThreadID
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO applicants (name, email, phone, domain, education, job_history, cv_url, gmail_thread_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'New') RETURNING id`,
		profile.Name, email, profile.Phone, profile.Domain, profile.Education,
		profile.JobHistory, profile.ResumeURL, nullable(threadID),
	).Scan(&id)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to insert applicant", goerr.V("email", email))
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO applicant_status_history (applicant_id, status_name) VALUES ($1, $2)`,
		id, models.StatusNew); err != nil {
		return 0, goerr.Wrap(err, "failed to log initial status", goerr.V("applicantID", id))
	}

	if meta != nil && meta.ID != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO communications (applicant_id, gmail_message_id, sender, subject, body, direction)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, meta.ID, meta.Sender, meta.Subject, meta.Body, models.DirectionIncoming); err != nil {
			return 0, goerr.Wrap(err, "failed to insert initial communication", goerr.V("messageID", meta.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, goerr.Wrap(err, "failed to commit applicant insert")
	}
	return id, nil
}

// ApplicantIDByEmail returns the id for a normalized email, or 0 when no
// such applicant exists. Used as the cheap pre-check before attachment
// download and classification.
func (db *DB) ApplicantIDByEmail(ctx context.Context, email string) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM applicants WHERE email = $1`, models.NormalizeEmail(email)).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, goerr.Wrap(err, "failed to look up applicant by email")
	}
	return id, nil
}

// ApplicantByID fetches a single applicant.
func (db *DB) ApplicantByID(ctx context.Context, id int64) (*models.Applicant, error) {
	var a models.Applicant
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, COALESCE(name, ''), COALESCE(email, ''), COALESCE(phone, ''),
		       COALESCE(domain, ''), COALESCE(education, ''), COALESCE(job_history, ''),
		       COALESCE(cv_url, ''), COALESCE(status, ''), COALESCE(feedback, ''),
		       created_at, COALESCE(gmail_thread_id, '')
		FROM applicants WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Email, &a.Phone, &a.Domain, &a.Education,
		&a.JobHistory, &a.ResumeURL, &a.Status, &a.Feedback, &a.CreatedAt, &a.ThreadID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch applicant", goerr.V("applicantID", id))
	}
	return &a, nil
}

// UpdateThreadID sets or clears (threadID == "") the mail thread linked to
// an applicant. Clearing is how broken threads are healed.
func (db *DB) UpdateThreadID(ctx context.Context, applicantID int64, threadID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE applicants SET gmail_thread_id = $1 WHERE id = $2`, nullable(threadID), applicantID)
	if err != nil {
		return goerr.Wrap(err, "failed to update thread id", goerr.V("applicantID", applicantID))
	}
	return nil
}

// GetActiveThreads returns applicants that are not in a terminal status
// and still have a mail thread to poll.
func (db *DB) GetActiveThreads(ctx context.Context) ([]models.ActiveThread, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, gmail_thread_id FROM applicants
		 WHERE status NOT IN ($1, $2) AND gmail_thread_id IS NOT NULL`,
		models.StatusRejected, models.StatusHired)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch active threads")
	}
	defer rows.Close()

	var threads []models.ActiveThread
	for rows.Next() {
		var t models.ActiveThread
		if err := rows.Scan(&t.ApplicantID, &t.ThreadID); err != nil {
			return nil, goerr.Wrap(err, "failed to scan active thread")
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// UpdateStatus changes an applicant's status and appends the matching
// history row in the same transaction, keeping the audit trail complete.
func (db *DB) UpdateStatus(ctx context.Context, applicantID int64, status string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE applicants SET status = $1 WHERE id = $2`, status, applicantID); err != nil {
		return goerr.Wrap(err, "failed to update status", goerr.V("applicantID", applicantID))
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO applicant_status_history (applicant_id, status_name) VALUES ($1, $2)`,
		applicantID, status); err != nil {
		return goerr.Wrap(err, "failed to log status change", goerr.V("applicantID", applicantID))
	}
	return tx.Commit()
}

// GetStatusHistory returns the append-only status trail, oldest first.
func (db *DB) GetStatusHistory(ctx context.Context, applicantID int64) ([]models.StatusHistoryEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, applicant_id, status_name, changed_at FROM applicant_status_history
		 WHERE applicant_id = $1 ORDER BY changed_at ASC, id ASC`, applicantID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch status history")
	}
	defer rows.Close()

	var entries []models.StatusHistoryEntry
	for rows.Next() {
		var e models.StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.ApplicantID, &e.Status, &e.ChangedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan status history entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateFeedback replaces the free-form feedback log for an applicant.
func (db *DB) UpdateFeedback(ctx context.Context, applicantID int64, feedback string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE applicants SET feedback = $1 WHERE id = $2`, feedback, applicantID)
	if err != nil {
		return goerr.Wrap(err, "failed to update feedback", goerr.V("applicantID", applicantID))
	}
	return nil
}

// ListApplicants returns all applicants with a derived last-action time:
// the newest status-history timestamp, falling back to creation time.
func (db *DB) ListApplicants(ctx context.Context) ([]models.Applicant, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT a.id, COALESCE(a.name, ''), COALESCE(a.email, ''), COALESCE(a.phone, ''),
		       COALESCE(a.domain, ''), COALESCE(a.education, ''), COALESCE(a.job_history, ''),
		       COALESCE(a.cv_url, ''), COALESCE(a.status, ''), COALESCE(a.feedback, ''),
		       a.created_at, COALESCE(a.gmail_thread_id, ''),
		       COALESCE(h.last_action, a.created_at)
		FROM applicants a
		LEFT JOIN (
			SELECT applicant_id, MAX(changed_at) AS last_action
			FROM applicant_status_history
			GROUP BY applicant_id
		) h ON a.id = h.applicant_id
		ORDER BY COALESCE(h.last_action, a.created_at) DESC, a.created_at DESC`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list applicants")
	}
	defer rows.Close()

	var applicants []models.Applicant
	for rows.Next() {
		var a models.Applicant
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.Phone, &a.Domain, &a.Education,
			&a.JobHistory, &a.ResumeURL, &a.Status, &a.Feedback, &a.CreatedAt,
			&a.ThreadID, &a.LastAction); err != nil {
			return nil, goerr.Wrap(err, "failed to scan applicant")
		}
		applicants = append(applicants, a)
	}
	return applicants, rows.Err()
}
