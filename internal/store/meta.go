package store

import (
	"context"
	"database/sql"

	"github.com/m-mizutani/goerr/v2"

	"github.com/paras-0007/HMS-Portal/internal/models"
)

// GetStatuses returns the configurable status list with the fixed-meaning
// statuses pinned first.
func (db *DB) GetStatuses(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT status_name FROM applicant_statuses
		ORDER BY
			CASE
				WHEN status_name = 'New' THEN 1
				WHEN status_name = 'Hired' THEN 2
				WHEN status_name = 'Rejected' THEN 3
				ELSE 4
			END,
			status_name`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch statuses")
	}
	defer rows.Close()

	var statuses []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, goerr.Wrap(err, "failed to scan status")
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// AddStatus inserts a status name, reporting whether a row was added.
func (db *DB) AddStatus(ctx context.Context, name string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO applicant_statuses (status_name) VALUES ($1) ON CONFLICT (status_name) DO NOTHING`, name)
	if err != nil {
		return false, goerr.Wrap(err, "failed to add status", goerr.V("status", name))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, goerr.Wrap(err, "failed to read rows affected")
	}
	return n > 0, nil
}

// DeleteStatus removes a status name unless an applicant still carries it.
func (db *DB) DeleteStatus(ctx context.Context, name string) error {
	var one int
	err := db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM applicants WHERE status = $1 LIMIT 1`, name).Scan(&one)
	if err == nil {
		return goerr.New("status is still assigned to applicants", goerr.V("status", name))
	}
	if err != sql.ErrNoRows {
		return goerr.Wrap(err, "failed to check status usage", goerr.V("status", name))
	}
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM applicant_statuses WHERE status_name = $1`, name); err != nil {
		return goerr.Wrap(err, "failed to delete status", goerr.V("status", name))
	}
	return nil
}

// UpsertJobDescription registers or refreshes a stored JD document.
func (db *DB) UpsertJobDescription(ctx context.Context, name, driveURL, fileName string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO job_descriptions (name, drive_url, file_name) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET drive_url = EXCLUDED.drive_url, file_name = EXCLUDED.file_name`,
		name, driveURL, fileName)
	if err != nil {
		return goerr.Wrap(err, "failed to upsert job description", goerr.V("name", name))
	}
	return nil
}

// GetJobDescriptions lists stored JD documents by name.
func (db *DB) GetJobDescriptions(ctx context.Context) ([]models.JobDescription, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, COALESCE(drive_url, ''), COALESCE(file_name, ''), created_at
		 FROM job_descriptions ORDER BY name`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch job descriptions")
	}
	defer rows.Close()

	var jds []models.JobDescription
	for rows.Next() {
		var jd models.JobDescription
		if err := rows.Scan(&jd.ID, &jd.Name, &jd.DriveURL, &jd.FileName, &jd.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan job description")
		}
		jds = append(jds, jd)
	}
	return jds, rows.Err()
}

// JobDescriptionByID fetches a single stored JD.
func (db *DB) JobDescriptionByID(ctx context.Context, id int64) (*models.JobDescription, error) {
	var jd models.JobDescription
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(drive_url, ''), COALESCE(file_name, ''), created_at
		 FROM job_descriptions WHERE id = $1`, id).
		Scan(&jd.ID, &jd.Name, &jd.DriveURL, &jd.FileName, &jd.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, goerr.New("job description not found", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch job description", goerr.V("id", id))
	}
	return &jd, nil
}

// DeleteJobDescription removes a stored JD document.
func (db *DB) DeleteJobDescription(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM job_descriptions WHERE id = $1`, id); err != nil {
		return goerr.Wrap(err, "failed to delete job description", goerr.V("id", id))
	}
	return nil
}

// InsertExportLog records a generated roster export.
func (db *DB) InsertExportLog(ctx context.Context, fileName, sheetURL, createdBy string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO export_logs (file_name, sheet_url, created_by) VALUES ($1, $2, $3)`,
		fileName, sheetURL, createdBy)
	if err != nil {
		return goerr.Wrap(err, "failed to insert export log", goerr.V("fileName", fileName))
	}
	return nil
}

// RecentExportLogs returns the five most recent export records.
func (db *DB) RecentExportLogs(ctx context.Context) ([]models.ExportLog, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, COALESCE(file_name, ''), COALESCE(sheet_url, ''), COALESCE(created_by, ''), created_at
		 FROM export_logs ORDER BY created_at DESC LIMIT 5`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch export logs")
	}
	defer rows.Close()

	var logs []models.ExportLog
	for rows.Next() {
		var l models.ExportLog
		if err := rows.Scan(&l.ID, &l.FileName, &l.SheetURL, &l.CreatedBy, &l.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan export log")
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
