package directory

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

// PostgresStore is a UserDirectory backed by the users table.
//
// Ownership model:
// - It does NOT own the pgx pool; the caller closes it, so Close() is a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ sharing.UserDirectory = (*PostgresStore)(nil)

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "passshare").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRE.MatchString(schema) {
			return errors.New("directory: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed UserDirectory.
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
		return nil, errors.New("directory: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Create registers username under a fresh id.
func (s *PostgresStore) Create(ctx context.Context, username string) (sharing.User, error) {
	name, ok := sharing.NormalizeUsername(username)
	if !ok {
		return sharing.User{}, sharing.ErrInvalidInput
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return sharing.User{}, err
	}

	users := pgIdent(s.schema, "users")
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, username, created_at) VALUES ($1, $2, $3)`,
		id, name, now,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sharing.User{}, sharing.ErrConflict
		}
		return sharing.User{}, fmt.Errorf("insert user: %w", err)
	}
	return sharing.User{ID: id, Username: name}, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (sharing.User, error) {
	users := pgIdent(s.schema, "users")
	return s.findOne(ctx, `SELECT id, username FROM `+users+` WHERE id = $1`, id)
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (sharing.User, error) {
	users := pgIdent(s.schema, "users")
	return s.findOne(ctx, `SELECT id, username FROM `+users+` WHERE username = $1`, username)
}

func (s *PostgresStore) findOne(ctx context.Context, sql string, arg string) (sharing.User, error) {
	var u sharing.User
	err := s.pool.QueryRow(ctx, sql, arg).Scan(&u.ID, &u.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return sharing.User{}, sharing.ErrNotFound
	}
	if err != nil {
		return sharing.User{}, err
	}
	return u, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
