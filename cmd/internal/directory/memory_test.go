package directory

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

func TestInMemoryStore_CreateAndFind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()

	alice, err := st.Create(ctx, " alice ")
	require.NoError(t, err)
	require.Equal(t, "alice", alice.Username)
	require.Len(t, alice.ID, 26)

	_, err = st.Create(ctx, "alice")
	require.ErrorIs(t, err, sharing.ErrConflict)

	_, err = st.Create(ctx, "")
	require.ErrorIs(t, err, sharing.ErrInvalidInput)

	got, err := st.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, alice, got)

	got, err = st.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, alice, got)

	_, err = st.FindByUsername(ctx, "bob")
	require.ErrorIs(t, err, sharing.ErrNotFound)
	_, err = st.FindByID(ctx, "nope")
	require.ErrorIs(t, err, sharing.ErrNotFound)
}

func TestSeed_IsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := Seed(ctx, log, st, []string{"alice", "bob"})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := Seed(ctx, log, st, []string{"bob", "alice"})
	require.NoError(t, err)
	require.Equal(t, first[0], second[1])
	require.Equal(t, first[1], second[0])
}
