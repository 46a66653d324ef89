package store

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/paras-0007/HMS-Portal/internal/models"
)

// InsertCommunication records one message. The unique constraint on the
// provider message id makes this a no-op for messages already recorded,
// which is what keeps repeated sync runs from duplicating mail.
func (db *DB) InsertCommunication(ctx context.Context, entry *models.CommunicationEntry) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO communications (applicant_id, gmail_message_id, sender, subject, body, direction)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (gmail_message_id) DO NOTHING`,
		entry.ApplicantID, entry.MessageID, entry.Sender, entry.Subject, entry.Body, entry.Direction)
	if err != nil {
		return goerr.Wrap(err, "failed to insert communication", goerr.V("messageID", entry.MessageID))
	}
	return nil
}

// MessageIDsForApplicant returns the provider message ids already recorded
// for an applicant, used to filter thread listings down to new mail.
func (db *DB) MessageIDsForApplicant(ctx context.Context, applicantID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT gmail_message_id FROM communications WHERE applicant_id = $1`, applicantID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch message ids", goerr.V("applicantID", applicantID))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, goerr.Wrap(err, "failed to scan message id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetConversations returns an applicant's communication log, oldest first.
func (db *DB) GetConversations(ctx context.Context, applicantID int64) ([]models.CommunicationEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, applicant_id, gmail_message_id, COALESCE(sender, ''), COALESCE(subject, ''),
		        COALESCE(body, ''), COALESCE(direction, ''), sent_at
		 FROM communications WHERE applicant_id = $1 ORDER BY sent_at ASC, id ASC`, applicantID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch conversations", goerr.V("applicantID", applicantID))
	}
	defer rows.Close()

	var entries []models.CommunicationEntry
	for rows.Next() {
		var e models.CommunicationEntry
		if err := rows.Scan(&e.ID, &e.ApplicantID, &e.MessageID, &e.Sender, &e.Subject,
			&e.Body, &e.Direction, &e.SentAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan communication")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
