package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/proust-questionnaire/internal/apperror"
	"github.com/sakif/proust-questionnaire/internal/model"
	"github.com/sakif/proust-questionnaire/internal/repository"
)

// RecordAnswer inserts answer and completes the session when it is the last
// unanswered question. On success answer.ID, Sequence and timestamps are set.
func (db *DB) RecordAnswer(ctx context.Context, answer *model.Answer, now time.Time) (*repository.RecordAnswerResult, error) {
	now = now.UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning answer tx: %w", err)
	}
	defer rollback(tx)

	var (
		status    string
		emailHash string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, email_hash FROM sessions WHERE id = ?`, answer.SessionID,
	).Scan(&status, &emailHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", shortID(answer.SessionID))
		}
		return nil, fmt.Errorf("sqlite: reading session: %w", err)
	}
	switch model.SessionStatus(status) {
	case model.SessionActive:
	case model.SessionCompleted:
		return nil, apperror.Conflict("questionnaire already completed")
	default:
		return nil, apperror.Conflict("session is no longer active")
	}

	var total int
	var inOrder int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(question_id = ?), 0)
		FROM session_questions WHERE session_id = ?`,
		answer.QuestionID, answer.SessionID,
	).Scan(&total, &inOrder)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading question order: %w", err)
	}
	if inOrder == 0 {
		return nil, apperror.ValidationFailed("questionId", "unknown question")
	}

	var answered int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM answers WHERE session_id = ?`, answer.SessionID,
	).Scan(&answered); err != nil {
		return nil, fmt.Errorf("sqlite: counting answers: %w", err)
	}

	answer.ID = xid.New().String()
	answer.Sequence = answered + 1
	answer.CreatedAt = now
	answer.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO answers (id, session_id, question_id, answer_text, sequence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		answer.ID, answer.SessionID, answer.QuestionID, answer.Text, answer.Sequence, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("question already answered")
		}
		return nil, fmt.Errorf("sqlite: inserting answer: %w", err)
	}
	answered++

	result := &repository.RecordAnswerResult{Answered: answered}
	if answered >= total {
		// Conditional on the current state: only one caller can flip it.
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = 'completed', completed_at = ?, updated_at = ?
			WHERE id = ? AND status = 'active'`,
			now, now, answer.SessionID,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: completing session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("sqlite: completing session: %w", err)
		}
		if n == 1 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE identities SET completion_count = completion_count + 1, updated_at = ?
				WHERE email_hash = ?`, now, emailHash,
			); err != nil {
				return nil, fmt.Errorf("sqlite: incrementing completion count: %w", err)
			}
			result.Completed = true
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing answer tx: %w", err)
	}
	return result, nil
}

// ListAnswers returns the session's answers in the order they were given.
func (db *DB) ListAnswers(ctx context.Context, sessionID string) ([]model.Answer, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, session_id, question_id, answer_text, sequence, created_at, updated_at
		FROM answers WHERE session_id = ? ORDER BY sequence`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing answers: %w", err)
	}
	defer rows.Close()

	answers := []model.Answer{}
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.Text, &a.Sequence, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning answer: %w", err)
		}
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating answers: %w", err)
	}
	return answers, nil
}
