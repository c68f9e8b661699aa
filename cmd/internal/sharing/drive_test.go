package sharing_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

func TestCopyToPersonalDrive_ClonesUntagged(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
	require.NoError(t, err)
	src := f.upload(t, f.alice, "ABC123", "notes.txt", []byte("hello"))

	cp, err := f.coord.CopyToPersonalDrive(ctx, src.ID, f.bob.ID)
	require.NoError(t, err)
	require.NotEqual(t, src.ID, cp.ID)
	require.Nil(t, cp.SessionID)
	require.Equal(t, f.bob.ID, cp.OwnerUserID)
	require.Equal(t, src.FileName, cp.FileName)
	require.Equal(t, src.FileType, cp.FileType)

	blob, err := f.coord.GetFile(ctx, cp.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), blob.Data)
}

func TestCopyToPersonalDrive_DuplicateGuard(t *testing.T) {
	t.Parallel()

	drive := func(t *testing.T, f *fixture, name, typ string, data []byte) sharing.File {
		t.Helper()
		file, err := f.coord.UploadToDrive(context.Background(), sharing.DriveUploadInput{
			UserID: f.bob.ID, FileName: name, FileType: typ, Data: data,
		})
		require.NoError(t, err)
		return file
	}

	cases := []struct {
		name    string
		existed func(t *testing.T, f *fixture)
		wantDup bool
	}{
		{"exact match", func(t *testing.T, f *fixture) { drive(t, f, "notes.txt", "text/plain", []byte("hello")) }, true},
		{"different name", func(t *testing.T, f *fixture) { drive(t, f, "notes2.txt", "text/plain", []byte("hello")) }, false},
		{"different type", func(t *testing.T, f *fixture) { drive(t, f, "notes.txt", "text/markdown", []byte("hello")) }, false},
		{"different bytes", func(t *testing.T, f *fixture) { drive(t, f, "notes.txt", "text/plain", []byte("hellO")) }, false},
		{"different length", func(t *testing.T, f *fixture) { drive(t, f, "notes.txt", "text/plain", []byte("hello!")) }, false},
		{"nothing in drive", func(t *testing.T, f *fixture) {}, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			ctx := context.Background()

			_, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
			require.NoError(t, err)
			src := f.upload(t, f.alice, "ABC123", "notes.txt", []byte("hello"))

			tc.existed(t, f)

			_, err = f.coord.CopyToPersonalDrive(ctx, src.ID, f.bob.ID)
			if tc.wantDup {
				require.ErrorIs(t, err, sharing.ErrDuplicate)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCopyToPersonalDrive_SecondCopyIsDuplicate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
	require.NoError(t, err)

	// The uploader's own session file is not in her drive, so the first copy succeeds.
	src := f.upload(t, f.alice, "ABC123", "notes.txt", []byte("hello"))
	_, err = f.coord.CopyToPersonalDrive(ctx, src.ID, f.alice.ID)
	require.NoError(t, err)

	_, err = f.coord.CopyToPersonalDrive(ctx, src.ID, f.alice.ID)
	require.ErrorIs(t, err, sharing.ErrDuplicate)
}

func TestCopyToPersonalDrive_ConcurrentCopiesYieldOne(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
	require.NoError(t, err)
	src := f.upload(t, f.alice, "ABC123", "notes.txt", []byte("hello"))

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		dups int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.CopyToPersonalDrive(ctx, src.ID, f.bob.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, sharing.ErrDuplicate):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, n-1, dups)
}

func TestCopyToPersonalDrive_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.CopyToPersonalDrive(ctx, "missing", f.bob.ID)
	require.ErrorIs(t, err, sharing.ErrNotFound)

	_, err = f.coord.CopyToPersonalDrive(ctx, "missing", "ghost")
	require.ErrorIs(t, err, sharing.ErrUnknownUser)

	_, err = f.coord.CopyToPersonalDrive(ctx, "", f.bob.ID)
	require.ErrorIs(t, err, sharing.ErrInvalidInput)
}

func TestDriveOps_ListDeleteFavourite(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
	require.NoError(t, err)
	f.upload(t, f.alice, "ABC123", "shared.txt", []byte("s"))

	mine, err := f.coord.UploadToDrive(ctx, sharing.DriveUploadInput{
		UserID: f.alice.ID, FileName: "mine.txt", FileType: "text/plain", Data: []byte("m"),
	})
	require.NoError(t, err)

	files, err := f.coord.ListDriveFiles(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, files, 1, "session uploads are not drive files")
	require.Equal(t, mine.ID, files[0].ID)

	_, err = f.coord.ListDriveFiles(ctx, "nobody")
	require.ErrorIs(t, err, sharing.ErrUnknownUser)

	// Someone else's file looks missing.
	_, err = f.coord.SetFavourite(ctx, mine.ID, f.bob.ID, true)
	require.ErrorIs(t, err, sharing.ErrNotFound)
	require.ErrorIs(t, f.coord.DeleteFile(ctx, mine.ID, f.bob.ID), sharing.ErrNotFound)

	fav, err := f.coord.SetFavourite(ctx, mine.ID, f.alice.ID, true)
	require.NoError(t, err)
	require.True(t, fav.Favourite)

	require.NoError(t, f.coord.DeleteFile(ctx, mine.ID, f.alice.ID))
	_, err = f.coord.GetFile(ctx, mine.ID)
	require.ErrorIs(t, err, sharing.ErrNotFound)

	files, err = f.coord.ListDriveFiles(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestUploadToDrive_UnknownUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.coord.UploadToDrive(context.Background(), sharing.DriveUploadInput{
		UserID: "ghost", FileName: "x.txt", Data: []byte("x"),
	})
	require.ErrorIs(t, err, sharing.ErrUnknownUser)
	require.EqualValues(t, 0, f.blobs.saves.Load())
}
