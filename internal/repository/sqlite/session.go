package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/proust-questionnaire/internal/apperror"
	"github.com/sakif/proust-questionnaire/internal/model"
	"github.com/sakif/proust-questionnaire/internal/questions"
	"github.com/sakif/proust-questionnaire/internal/repository"
)

// compile-time checks that *DB implements the repository interfaces
var (
	_ repository.QuestionnaireRepository = (*DB)(nil)
	_ repository.MagicLinkRepository     = (*DB)(nil)
	_ repository.HealthChecker           = (*DB)(nil)
)

// StartSession runs the issuer's persistence steps in one transaction.
func (db *DB) StartSession(ctx context.Context, p repository.StartSessionParams) (*repository.StartSessionResult, error) {
	if p.EmailHash == "" || p.SessionID == "" || p.MagicLinkHash == "" {
		return nil, errors.New("sqlite: start session: missing identifiers")
	}
	if !questions.ValidOrder(p.QuestionOrder) {
		return nil, errors.New("sqlite: start session: question order is not a permutation of the catalog")
	}
	now := p.Now.UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning start-session tx: %w", err)
	}
	defer rollback(tx)

	// 1. Identity upsert. An empty encrypted copy never overwrites a stored one.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities (email_hash, encrypted_email, completion_count, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(email_hash) DO UPDATE SET
			encrypted_email = CASE WHEN excluded.encrypted_email != ''
			                       THEN excluded.encrypted_email
			                       ELSE identities.encrypted_email END,
			updated_at = excluded.updated_at`,
		p.EmailHash, p.EncryptedEmail, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: upserting identity: %w", err)
	}

	// 2. Supersede the active session, if any. Its answers are kept.
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = 'superseded', superseded_at = ?, updated_at = ?
		WHERE email_hash = ? AND status = 'active'`,
		now, now, p.EmailHash,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: superseding sessions: %w", err)
	}
	superseded, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: superseding sessions: %w", err)
	}

	// 3. New session and its fixed question order.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, email_hash, status, is_shared, created_at, updated_at)
		VALUES (?, ?, 'active', 0, ?, ?)`,
		p.SessionID, p.EmailHash, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("session already exists")
		}
		return nil, fmt.Errorf("sqlite: inserting session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_questions (session_id, position, question_id) VALUES (?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: preparing question order insert: %w", err)
	}
	defer stmt.Close()
	for pos, qid := range p.QuestionOrder {
		if _, err := stmt.ExecContext(ctx, p.SessionID, pos, qid); err != nil {
			return nil, fmt.Errorf("sqlite: inserting question order position %d: %w", pos, err)
		}
	}

	// 4. Older pending links point at a superseded session; drop them.
	if _, err := tx.ExecContext(ctx, `DELETE FROM magic_links WHERE email_hash = ?`, p.EmailHash); err != nil {
		return nil, fmt.Errorf("sqlite: clearing old magic links: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO magic_links (token_hash, email_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?)`,
		p.MagicLinkHash, p.EmailHash, now.Add(p.MagicLinkTTL).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: inserting magic link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing start-session tx: %w", err)
	}
	return &repository.StartSessionResult{Superseded: superseded}, nil
}

const sessionColumns = `id, email_hash, status, is_shared, share_id, created_at, updated_at, completed_at, superseded_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s            model.Session
		status       string
		shared       int
		shareID      sql.NullString
		completedAt  sql.NullTime
		supersededAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.EmailHash, &status, &shared, &shareID,
		&s.CreatedAt, &s.UpdatedAt, &completedAt, &supersededAt); err != nil {
		return nil, err
	}
	s.Status = model.SessionStatus(status)
	s.IsShared = shared != 0
	s.ShareID = shareID.String
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	if supersededAt.Valid {
		t := supersededAt.Time
		s.SupersededAt = &t
	}
	return &s, nil
}

// GetSession returns the session with its question order.
// Returns apperror.ErrNotFound if no session has that id.
func (db *DB) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s, err := scanSession(db.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", shortID(id))
		}
		return nil, fmt.Errorf("sqlite: getting session %s: %w", shortID(id), err)
	}
	if err := db.loadOrder(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetSessionByShareID looks a session up by its public share id.
func (db *DB) GetSessionByShareID(ctx context.Context, shareID string) (*model.Session, error) {
	s, err := scanSession(db.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE share_id = ?`, shareID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("share", shareID)
		}
		return nil, fmt.Errorf("sqlite: getting shared session: %w", err)
	}
	if err := db.loadOrder(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (db *DB) loadOrder(ctx context.Context, s *model.Session) error {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT question_id FROM session_questions WHERE session_id = ? ORDER BY position`, s.ID)
	if err != nil {
		return fmt.Errorf("sqlite: loading question order: %w", err)
	}
	defer rows.Close()

	s.QuestionOrder = s.QuestionOrder[:0]
	for rows.Next() {
		var qid int
		if err := rows.Scan(&qid); err != nil {
			return fmt.Errorf("sqlite: scanning question order: %w", err)
		}
		s.QuestionOrder = append(s.QuestionOrder, qid)
	}
	return rows.Err()
}

// SetSharing toggles is_shared on a completed session and assigns shareID the
// first time it is shared.
func (db *DB) SetSharing(ctx context.Context, sessionID string, shared bool, shareID string, now time.Time) (*model.Session, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning sharing tx: %w", err)
	}
	defer rollback(tx)

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", shortID(sessionID))
		}
		return nil, fmt.Errorf("sqlite: reading session status: %w", err)
	}
	if model.SessionStatus(status) != model.SessionCompleted {
		return nil, apperror.Conflict("only completed questionnaires can be shared")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET
			is_shared  = ?,
			share_id   = CASE WHEN share_id IS NULL AND ? != '' THEN ? ELSE share_id END,
			updated_at = ?
		WHERE id = ?`,
		boolToInt(shared), shareID, shareID, now.UTC(), sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating sharing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing sharing tx: %w", err)
	}
	return db.GetSession(ctx, sessionID)
}

// GetIdentity returns the identity for emailHash.
func (db *DB) GetIdentity(ctx context.Context, emailHash string) (*model.Identity, error) {
	var id model.Identity
	err := db.conn.QueryRowContext(ctx, `
		SELECT email_hash, encrypted_email, completion_count, created_at, updated_at
		FROM identities WHERE email_hash = ?`, emailHash,
	).Scan(&id.EmailHash, &id.EncryptedEmail, &id.CompletionCount, &id.CreatedAt, &id.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// the email hash is not a keyed value; keep it out of messages
			return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "identity not found"}
		}
		return nil, fmt.Errorf("sqlite: getting identity: %w", err)
	}
	return &id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// shortID truncates hashed ids for messages and logs.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
