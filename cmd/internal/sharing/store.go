package sharing

import (
	"context"
	"time"
)

// SessionStore persists session records keyed by id and passkey.
//
// Requirements:
//   - Create rejects a passkey that is already stored (ErrConflict), expired or not;
//     superseding an expired record is the Manager's decision, not the store's.
//   - GetByPasskey returns ErrNotFound when nothing is stored under passkey.
//   - AddMember is atomic per session: it re-checks expiry at in.Now (ErrExpired),
//     is a no-op for existing members and otherwise appends in call order.
//   - Delete is idempotent.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	GetByPasskey(ctx context.Context, passkey string) (Session, error)
	AddMember(ctx context.Context, in AddMemberInput) (Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Session, error)
	Close() error
}

// AddMemberInput describes a membership append.
type AddMemberInput struct {
	SessionID string
	Username  string
	Now       time.Time
}
