package store

import (
	"context"
	"database/sql"

	"github.com/m-mizutani/goerr/v2"

	"github.com/paras-0007/HMS-Portal/internal/models"
)

// LogInterview records a scheduled interview. Callers must only invoke
// this after the calendar event has actually been created.
func (db *DB) LogInterview(ctx context.Context, iv *models.Interview) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO interviews (applicant_id, interviewer_id, event_title, start_time, end_time, calendar_event_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'Scheduled') RETURNING id`,
		iv.ApplicantID, iv.InterviewerID, iv.Title, iv.StartTime, iv.EndTime, iv.CalendarEventID,
	).Scan(&id)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to log interview", goerr.V("applicantID", iv.ApplicantID))
	}
	return id, nil
}

// InterviewsForApplicant returns an applicant's interviews, newest first.
func (db *DB) InterviewsForApplicant(ctx context.Context, applicantID int64) ([]models.Interview, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT i.id, i.applicant_id, COALESCE(i.interviewer_id, 0), COALESCE(iv.name, ''),
		        COALESCE(i.event_title, ''), i.start_time, i.end_time,
		        COALESCE(i.calendar_event_id, ''), COALESCE(i.status, '')
		 FROM interviews i
		 LEFT JOIN interviewers iv ON i.interviewer_id = iv.id
		 WHERE i.applicant_id = $1 ORDER BY i.start_time DESC`, applicantID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch interviews", goerr.V("applicantID", applicantID))
	}
	defer rows.Close()

	var interviews []models.Interview
	for rows.Next() {
		var iv models.Interview
		if err := rows.Scan(&iv.ID, &iv.ApplicantID, &iv.InterviewerID, &iv.InterviewerName,
			&iv.Title, &iv.StartTime, &iv.EndTime, &iv.CalendarEventID, &iv.Status); err != nil {
			return nil, goerr.Wrap(err, "failed to scan interview")
		}
		interviews = append(interviews, iv)
	}
	return interviews, rows.Err()
}

// GetInterviewers lists all interviewers ordered by name.
func (db *DB) GetInterviewers(ctx context.Context) ([]models.Interviewer, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, email FROM interviewers ORDER BY name`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch interviewers")
	}
	defer rows.Close()

	var interviewers []models.Interviewer
	for rows.Next() {
		var iv models.Interviewer
		if err := rows.Scan(&iv.ID, &iv.Name, &iv.Email); err != nil {
			return nil, goerr.Wrap(err, "failed to scan interviewer")
		}
		interviewers = append(interviewers, iv)
	}
	return interviewers, rows.Err()
}

// InterviewerByID fetches a single interviewer.
func (db *DB) InterviewerByID(ctx context.Context, id int64) (*models.Interviewer, error) {
	var iv models.Interviewer
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, email FROM interviewers WHERE id = $1`, id).Scan(&iv.ID, &iv.Name, &iv.Email)
	if err == sql.ErrNoRows {
		return nil, goerr.New("interviewer not found", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch interviewer", goerr.V("id", id))
	}
	return &iv, nil
}

// AddInterviewer inserts an interviewer, reporting whether a row was added.
func (db *DB) AddInterviewer(ctx context.Context, name, email string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO interviewers (name, email) VALUES ($1, $2) ON CONFLICT (email) DO NOTHING`,
		name, models.NormalizeEmail(email))
	if err != nil {
		return false, goerr.Wrap(err, "failed to add interviewer", goerr.V("email", email))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, goerr.Wrap(err, "failed to read rows affected")
	}
	return n > 0, nil
}

// DeleteInterviewer removes an interviewer. Existing interview rows keep a
// NULL interviewer reference.
func (db *DB) DeleteInterviewer(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM interviewers WHERE id = $1`, id); err != nil {
		return goerr.Wrap(err, "failed to delete interviewer", goerr.V("id", id))
	}
	return nil
}
