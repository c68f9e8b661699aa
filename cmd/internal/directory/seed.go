package directory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

// Creator is a directory that can register new users.
type Creator interface {
	sharing.UserDirectory
	Create(ctx context.Context, username string) (sharing.User, error)
}

// Seed makes sure every username exists. Existing users are left alone.
func Seed(ctx context.Context, log *slog.Logger, dir Creator, usernames []string) ([]sharing.User, error) {
	out := make([]sharing.User, 0, len(usernames))
	for _, name := range usernames {
		u, err := dir.FindByUsername(ctx, name)
		if errors.Is(err, sharing.ErrNotFound) {
			u, err = dir.Create(ctx, name)
			if err == nil {
				log.Info("directory.seed.created", "user_id", u.ID, "username", u.Username)
			}
		}
		if errors.Is(err, sharing.ErrConflict) {
			u, err = dir.FindByUsername(ctx, name)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
