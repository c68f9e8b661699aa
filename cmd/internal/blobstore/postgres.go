package blobstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/ids"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

// PostgresStore keeps file bytes in a BYTEA column next to their metadata.
//
// Ownership model:
// - It does NOT own the pgx pool; the caller closes it, so Close() is a no-op.
//
// The files table references sessions without ON DELETE CASCADE: an upload
// that races a reap on another instance fails the FK check (ErrNotFound)
// instead of leaving an orphaned file.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ sharing.BlobStore = (*PostgresStore)(nil)

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "passshare").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRE.MatchString(schema) {
			return errors.New("blobstore: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed BlobStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "passshare"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("blobstore: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

const fileColumns = `id, owner_user_id, session_id, file_name, file_type, size, digest, is_favourite, created_at`

func (s *PostgresStore) Save(ctx context.Context, in sharing.SaveInput) (sharing.File, error) {
	if strings.TrimSpace(in.OwnerUserID) == "" || strings.TrimSpace(in.FileName) == "" {
		return sharing.File{}, sharing.ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return sharing.File{}, err
	}

	data := in.Data
	if data == nil {
		data = []byte{}
	}

	files := pgIdent(s.schema, "files")
	out, err := scanFile(s.pool.QueryRow(ctx,
		`INSERT INTO `+files+` (id, owner_user_id, session_id, file_name, file_type, size, digest, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+fileColumns,
		id, in.OwnerUserID, in.SessionID, in.FileName, in.FileType,
		int64(len(data)), sharing.Digest(data), data, now,
	))
	if err != nil {
		if isFKViolation(err) {
			return sharing.File{}, sharing.ErrNotFound
		}
		return sharing.File{}, fmt.Errorf("insert file: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Fetch(ctx context.Context, fileID string) (sharing.Blob, error) {
	files := pgIdent(s.schema, "files")

	var (
		b         sharing.Blob
		sessionID *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+`, data FROM `+files+` WHERE id = $1`,
		fileID,
	).Scan(&b.ID, &b.OwnerUserID, &sessionID, &b.FileName, &b.FileType, &b.Size, &b.Digest, &b.Favourite, &b.CreatedAt, &b.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return sharing.Blob{}, sharing.ErrNotFound
	}
	if err != nil {
		return sharing.Blob{}, err
	}
	b.SessionID = sessionID
	return b, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]sharing.File, error) {
	files := pgIdent(s.schema, "files")
	return s.query(ctx,
		`SELECT `+fileColumns+` FROM `+files+` WHERE owner_user_id = $1 ORDER BY seq ASC`,
		userID,
	)
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]sharing.File, error) {
	files := pgIdent(s.schema, "files")
	return s.query(ctx,
		`SELECT `+fileColumns+` FROM `+files+` WHERE session_id = $1 ORDER BY seq ASC`,
		sessionID,
	)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]sharing.File, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []sharing.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, fileID string) error {
	files := pgIdent(s.schema, "files")
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+files+` WHERE id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sharing.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteBySession(ctx context.Context, sessionID string) (int, error) {
	files := pgIdent(s.schema, "files")
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+files+` WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session files: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SetFavourite(ctx context.Context, fileID string, favourite bool) (sharing.File, error) {
	files := pgIdent(s.schema, "files")
	out, err := scanFile(s.pool.QueryRow(ctx,
		`UPDATE `+files+` SET is_favourite = $2 WHERE id = $1 RETURNING `+fileColumns,
		fileID, favourite,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return sharing.File{}, sharing.ErrNotFound
	}
	if err != nil {
		return sharing.File{}, err
	}
	return out, nil
}

func scanFile(row pgx.Row) (sharing.File, error) {
	var f sharing.File
	err := row.Scan(&f.ID, &f.OwnerUserID, &f.SessionID, &f.FileName, &f.FileType, &f.Size, &f.Digest, &f.Favourite, &f.CreatedAt)
	return f, err
}

func isFKViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
