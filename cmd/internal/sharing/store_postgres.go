package sharing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSessionStore is a SessionStore backed by PostgreSQL.
//
// Ownership model:
// - It does NOT own the pgx pool; the caller closes it, so Close() is a no-op.
//
// Concurrency model:
//   - AddMember runs in a transaction holding a per-session advisory lock, so
//     concurrent joins from any number of instances serialize and none is lost.
type PostgresSessionStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresSessionStore behavior.
type PostgresOption func(*PostgresSessionStore) error

// WithSchema sets the DB schema used by this store (default: "passshare").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresSessionStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("sharing: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("sharing: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresSessionStore constructs a Postgres-backed SessionStore.
func NewPostgresSessionStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresSessionStore, error) {
	st := &PostgresSessionStore{
		pool:   pool,
		schema: "passshare",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("sharing: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresSessionStore) Close() error { return nil }

func (s *PostgresSessionStore) Create(ctx context.Context, in Session) error {
	if s == nil || s.pool == nil {
		return errors.New("sharing: nil store")
	}
	if in.ID == "" || in.Passkey == "" || len(in.Members) == 0 {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sessions := pgIdent(s.schema, "sessions")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+sessions+` (id, passkey, members, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		in.ID, in.Passkey, in.Members, in.CreatedAt, in.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) GetByPasskey(ctx context.Context, passkey string) (Session, error) {
	if s == nil || s.pool == nil {
		return Session{}, errors.New("sharing: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	sessions := pgIdent(s.schema, "sessions")
	out, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT id, passkey, members, created_at, expires_at
		   FROM `+sessions+`
		  WHERE passkey = $1`,
		passkey,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return out, nil
}

func (s *PostgresSessionStore) AddMember(ctx context.Context, in AddMemberInput) (Session, error) {
	if s == nil || s.pool == nil {
		return Session{}, errors.New("sharing: nil store")
	}
	if in.SessionID == "" || in.Username == "" {
		return Session{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Session{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sessions := pgIdent(s.schema, "sessions")

	// One membership mutation in flight per session, across all instances.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.SessionID); err != nil {
		return Session{}, fmt.Errorf("advisory lock: %w", err)
	}

	cur, err := scanSession(tx.QueryRow(ctx,
		`SELECT id, passkey, members, created_at, expires_at
		   FROM `+sessions+`
		  WHERE id = $1
		  FOR UPDATE`,
		in.SessionID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}

	if !in.Now.IsZero() && !cur.ActiveAt(in.Now) {
		return Session{}, ErrExpired
	}
	if cur.HasMember(in.Username) {
		if err := tx.Commit(ctx); err != nil {
			return Session{}, err
		}
		return cur, nil
	}

	updated, err := scanSession(tx.QueryRow(ctx,
		`UPDATE `+sessions+`
		    SET members = array_append(members, $2)
		  WHERE id = $1
		RETURNING id, passkey, members, created_at, expires_at`,
		in.SessionID, in.Username,
	))
	if err != nil {
		return Session{}, fmt.Errorf("append member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, err
	}
	return updated, nil
}

func (s *PostgresSessionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.pool == nil {
		return errors.New("sharing: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sessions := pgIdent(s.schema, "sessions")
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+sessions+` WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns all sessions ordered by creation time.
func (s *PostgresSessionStore) List(ctx context.Context) ([]Session, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("sharing: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sessions := pgIdent(s.schema, "sessions")
	rows, err := s.pool.Query(ctx,
		`SELECT id, passkey, members, created_at, expires_at
		   FROM `+sessions+`
		  ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var out Session
	err := row.Scan(&out.ID, &out.Passkey, &out.Members, &out.CreatedAt, &out.ExpiresAt)
	return out, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
