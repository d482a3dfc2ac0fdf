package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const entryColumns = `code, file_reference, file_kind, uploader_id, uploaded_at,
	expires_at, storage_ref, category, locked_to, file_name, caption, mime_type`

// PostgresRegistry is a Registry backed by PostgreSQL. Each operation is a
// single statement, so PostgreSQL's row locking provides the serialization
// the JSON store gets from its mutex.
type PostgresRegistry struct {
	db *DB
}

// NewPostgresRegistry creates a registry over an open, migrated DB.
func NewPostgresRegistry(db *DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func scanEntry(row pgx.Row) (string, *Entry, error) {
	var (
		code       string
		e          Entry
		kind       string
		category   string
		uploadedAt time.Time
		expiresAt  *time.Time
	)
	err := row.Scan(
		&code,
		&e.FileReference,
		&kind,
		&e.UploaderID,
		&uploadedAt,
		&expiresAt,
		&e.StorageRef,
		&category,
		&e.LockedTo,
		&e.FileName,
		&e.Caption,
		&e.MimeType,
	)
	if err != nil {
		return "", nil, err
	}
	e.Kind = Kind(kind)
	e.Category = Category(category)
	e.UploadedAt = NewTimestamp(uploadedAt)
	if expiresAt != nil {
		ts := NewTimestamp(*expiresAt)
		e.ExpiresAt = &ts
	}
	return code, &e, nil
}

func entryArgs(code string, e *Entry) []any {
	var expiresAt *time.Time
	if e.ExpiresAt != nil {
		t := e.ExpiresAt.Time
		expiresAt = &t
	}
	return []any{
		code,
		e.FileReference,
		string(e.Kind),
		e.UploaderID,
		e.UploadedAt.Time,
		expiresAt,
		e.StorageRef,
		string(e.Category),
		e.LockedTo,
		e.FileName,
		e.Caption,
		e.MimeType,
	}
}

func (r *PostgresRegistry) Has(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM entries WHERE code = $1)", code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check code: %w", err)
	}
	return exists, nil
}

func (r *PostgresRegistry) Get(ctx context.Context, code string) (*Entry, error) {
	_, e, err := scanEntry(r.db.Pool.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE code = $1", code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

func (r *PostgresRegistry) Put(ctx context.Context, code string, entry *Entry) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (code) DO UPDATE SET
			file_reference = EXCLUDED.file_reference,
			file_kind      = EXCLUDED.file_kind,
			uploader_id    = EXCLUDED.uploader_id,
			uploaded_at    = EXCLUDED.uploaded_at,
			expires_at     = EXCLUDED.expires_at,
			storage_ref    = EXCLUDED.storage_ref,
			category       = EXCLUDED.category,
			locked_to      = EXCLUDED.locked_to,
			file_name      = EXCLUDED.file_name,
			caption        = EXCLUDED.caption,
			mime_type      = EXCLUDED.mime_type
	`, entryArgs(code, entry)...)
	if err != nil {
		return fmt.Errorf("%w: failed to put entry: %w", ErrPersist, err)
	}
	return nil
}

func (r *PostgresRegistry) Insert(ctx context.Context, code string, entry *Entry) error {
	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (code) DO NOTHING
	`, entryArgs(code, entry)...)
	if err != nil {
		return fmt.Errorf("%w: failed to insert entry: %w", ErrPersist, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCodeTaken
	}
	return nil
}

// patchClauses renders p as SET clauses, numbering placeholders after the
// code parameter ($1).
func patchClauses(p EntryPatch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	next := func() string { return fmt.Sprintf("$%d", len(args)+1) }

	switch {
	case p.ClearLock:
		sets = append(sets, "locked_to = NULL")
	case p.LockedTo != nil:
		args = append(args, *p.LockedTo)
		sets = append(sets, "locked_to = "+next())
	}
	switch {
	case p.ClearExpiry:
		sets = append(sets, "expires_at = NULL")
	case p.ExpiresAt != nil:
		args = append(args, NewTimestamp(*p.ExpiresAt).Time)
		sets = append(sets, "expires_at = "+next())
	}
	return sets, args
}

func (r *PostgresRegistry) Update(ctx context.Context, code string, patch EntryPatch) error {
	sets, args := patchClauses(patch)
	if len(sets) == 0 {
		return nil
	}
	query := "UPDATE entries SET " + strings.Join(sets, ", ") + " WHERE code = $1"
	if _, err := r.db.Pool.Exec(ctx, query, append([]any{code}, args...)...); err != nil {
		return fmt.Errorf("%w: failed to update entry: %w", ErrPersist, err)
	}
	return nil
}

func (r *PostgresRegistry) Delete(ctx context.Context, code string) error {
	if _, err := r.db.Pool.Exec(ctx, "DELETE FROM entries WHERE code = $1", code); err != nil {
		return fmt.Errorf("%w: failed to delete entry: %w", ErrPersist, err)
	}
	return nil
}

func (r *PostgresRegistry) Rename(ctx context.Context, oldCode, newCode string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE entries SET code = $2
		WHERE code = $1 AND NOT EXISTS (SELECT 1 FROM entries WHERE code = $2)
	`, oldCode, newCode)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to rename entry: %w", ErrPersist, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRegistry) Codes(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT code FROM entries ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to query codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan codes: %w", err)
	}
	return codes, nil
}

func (r *PostgresRegistry) list(ctx context.Context, where string, limit int, args ...any) ([]Item, error) {
	query := "SELECT " + entryColumns + " FROM entries WHERE " + where +
		" ORDER BY uploaded_at DESC, code ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		code, e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		items = append(items, Item{Code: code, Entry: e})
	}
	return items, rows.Err()
}

func (r *PostgresRegistry) ListByCategory(ctx context.Context, category Category, limit int) ([]Item, error) {
	return r.list(ctx, "category = $1", limit, string(category))
}

func (r *PostgresRegistry) ListByUploader(ctx context.Context, userID int64, limit int) ([]Item, error) {
	return r.list(ctx, "uploader_id = $1", limit, userID)
}

func (r *PostgresRegistry) Search(ctx context.Context, keyword string, limit int) ([]Item, error) {
	return r.list(ctx, `strpos(lower(code || ' ' || file_kind || ' ' || file_name || ' ' ||
		caption || ' ' || mime_type), lower($1)) > 0`, limit, keyword)
}

func (r *PostgresRegistry) IncrementUpload(ctx context.Context, userID int64) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO user_stats (user_id, upload_count) VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET upload_count = user_stats.upload_count + 1
	`, userID)
	if err != nil {
		return fmt.Errorf("%w: failed to increment uploads: %w", ErrPersist, err)
	}
	return nil
}

func (r *PostgresRegistry) IncrementRetrieved(ctx context.Context, userID int64) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO user_stats (user_id, retrieved_count) VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET retrieved_count = user_stats.retrieved_count + 1
	`, userID)
	if err != nil {
		return fmt.Errorf("%w: failed to increment retrievals: %w", ErrPersist, err)
	}
	return nil
}

func (r *PostgresRegistry) UserStats(ctx context.Context, userID int64) (*UserStats, error) {
	stats := &UserStats{}
	err := r.db.Pool.QueryRow(ctx,
		"SELECT upload_count, retrieved_count FROM user_stats WHERE user_id = $1", userID,
	).Scan(&stats.UploadCount, &stats.RetrievedCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user stats: %w", err)
	}
	return stats, nil
}

func (r *PostgresRegistry) DeleteUserStats(ctx context.Context, userID int64) error {
	if _, err := r.db.Pool.Exec(ctx, "DELETE FROM user_stats WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("%w: failed to delete user stats: %w", ErrPersist, err)
	}
	return nil
}

func (r *PostgresRegistry) UserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT user_id FROM user_stats ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}
	return ids, nil
}

func (r *PostgresRegistry) Counts(ctx context.Context) (int, int, error) {
	var entries, users int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM entries), (SELECT COUNT(*) FROM user_stats)
	`).Scan(&entries, &users)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count: %w", err)
	}
	return entries, users, nil
}

// Close shuts down the underlying pool.
func (r *PostgresRegistry) Close() error {
	r.db.Close()
	return nil
}
