package blobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

func TestInMemoryStore_SaveFetchList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sid := "s1"

	data := []byte("hello")
	a, err := st.Save(ctx, sharing.SaveInput{OwnerUserID: "u1", SessionID: &sid, FileName: "a.txt", FileType: "text/plain", Data: data, Now: now})
	require.NoError(t, err)
	b, err := st.Save(ctx, sharing.SaveInput{OwnerUserID: "u1", FileName: "b.txt", FileType: "text/plain", Data: []byte("b"), Now: now})
	require.NoError(t, err)
	c, err := st.Save(ctx, sharing.SaveInput{OwnerUserID: "u2", SessionID: &sid, FileName: "c.txt", Data: nil, Now: now})
	require.NoError(t, err)

	require.Equal(t, sharing.Digest([]byte("hello")), a.Digest)
	require.EqualValues(t, 5, a.Size)
	require.EqualValues(t, 0, c.Size)

	// Caller-owned buffers are copied on the way in and out.
	data[0] = 'J'
	blob, err := st.Fetch(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), blob.Data)
	blob.Data[0] = 'X'
	*blob.SessionID = "mutated"
	again, err := st.Fetch(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), again.Data)
	require.Equal(t, "s1", *again.SessionID)

	byUser, err := st.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, b.ID}, fileIDs(byUser))

	bySession, err := st.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, c.ID}, fileIDs(bySession))
}

func TestInMemoryStore_DeleteAndFavourite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	sid := "s1"

	a, err := st.Save(ctx, sharing.SaveInput{OwnerUserID: "u1", SessionID: &sid, FileName: "a.txt"})
	require.NoError(t, err)
	_, err = st.Save(ctx, sharing.SaveInput{OwnerUserID: "u1", SessionID: &sid, FileName: "b.txt"})
	require.NoError(t, err)
	d, err := st.Save(ctx, sharing.SaveInput{OwnerUserID: "u1", FileName: "d.txt"})
	require.NoError(t, err)

	fav, err := st.SetFavourite(ctx, d.ID, true)
	require.NoError(t, err)
	require.True(t, fav.Favourite)

	n, err := st.DeleteBySession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = st.DeleteBySession(ctx, "s1")
	require.NoError(t, err)
	require.Zero(t, n)

	require.ErrorIs(t, st.Delete(ctx, a.ID), sharing.ErrNotFound)
	require.NoError(t, st.Delete(ctx, d.ID))
	require.Zero(t, st.Len())

	_, err = st.SetFavourite(ctx, d.ID, false)
	require.ErrorIs(t, err, sharing.ErrNotFound)
}

func TestInMemoryStore_SaveValidates(t *testing.T) {
	t.Parallel()

	_, err := NewInMemoryStore().Save(context.Background(), sharing.SaveInput{FileName: "a.txt"})
	require.ErrorIs(t, err, sharing.ErrInvalidInput)
}

func fileIDs(files []sharing.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.ID)
	}
	return out
}
