package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/proust-questionnaire/internal/apperror"
	"github.com/sakif/proust-questionnaire/internal/model"
)

// ConsumeMagicLink deletes the link with tokenHash and returns what was
// deleted. Expired links are deleted too; the caller checks ExpiresAt.
func (db *DB) ConsumeMagicLink(ctx context.Context, tokenHash string) (*model.MagicLink, error) {
	var (
		link      model.MagicLink
		expiresMs int64
		createdMs int64
	)
	err := db.conn.QueryRowContext(ctx, `
		DELETE FROM magic_links WHERE token_hash = ?
		RETURNING token_hash, email_hash, expires_at, created_at`, tokenHash,
	).Scan(&link.TokenHash, &link.EmailHash, &expiresMs, &createdMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("magic link", shortID(tokenHash))
		}
		return nil, fmt.Errorf("sqlite: consuming magic link: %w", err)
	}
	link.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	link.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &link, nil
}

// DeleteExpiredMagicLinks removes every link whose expiry is at or before now.
func (db *DB) DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM magic_links WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting expired magic links: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting expired magic links: %w", err)
	}
	return n, nil
}
