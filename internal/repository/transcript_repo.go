package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/resume-studio/collabsync/internal/model"
)

// DefaultListLimit bounds ListByUser when no limit is given.
const DefaultListLimit = 20

// TranscriptRepository provides data access for archived AI responses.
type TranscriptRepository struct {
	db *sql.DB
}

// NewTranscriptRepository creates a new TranscriptRepository.
func NewTranscriptRepository(db *sql.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// Create inserts a transcript. Archiving the same request twice replaces
// the earlier row.
func (r *TranscriptRepository) Create(ctx context.Context, t *model.Transcript) error {
	if err := t.Validate(); err != nil {
		return err
	}

	query := `
		INSERT OR REPLACE INTO transcripts (request_id, user_id, room_id, prompt, response, status, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var completedAt any
	if !t.CompletedAt.IsZero() {
		completedAt = t.CompletedAt
	}

	_, err := r.db.ExecContext(ctx, query,
		t.RequestID,
		t.UserID,
		t.RoomID,
		t.Prompt,
		t.Response,
		t.Status,
		t.CreatedAt,
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transcript: %w", err)
	}

	return nil
}

// GetByRequestID retrieves a transcript by its request id.
func (r *TranscriptRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Transcript, error) {
	query := `
		SELECT request_id, user_id, room_id, prompt, response, status, created_at, completed_at
		FROM transcripts
		WHERE request_id = ?
	`

	t, err := scanTranscript(r.db.QueryRowContext(ctx, query, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTranscriptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return t, nil
}

// ListByUser returns the most recent transcripts of a user, newest first.
func (r *TranscriptRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Transcript, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT request_id, user_id, room_id, prompt, response, status, created_at, completed_at
		FROM transcripts
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []*model.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		transcripts = append(transcripts, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcripts: %w", err)
	}

	return transcripts, nil
}

// Delete removes a transcript.
func (r *TranscriptRepository) Delete(ctx context.Context, requestID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM transcripts WHERE request_id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrTranscriptNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTranscript(row rowScanner) (*model.Transcript, error) {
	t := &model.Transcript{}
	var roomID sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&t.RequestID,
		&t.UserID,
		&roomID,
		&t.Prompt,
		&t.Response,
		&t.Status,
		&t.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if roomID.Valid {
		t.RoomID = roomID.String
	}
	if completedAt.Valid {
		t.CompletedAt = completedAt.Time
	}
	return t, nil
}
