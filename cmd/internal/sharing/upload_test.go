package sharing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

func TestUploadToSession_StoresAndNotifies(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
	require.NoError(t, err)

	file := f.upload(t, f.alice, "ABC123", `C:\Users\alice\notes.txt`, []byte("hello"))
	require.Equal(t, "notes.txt", file.FileName)
	require.Equal(t, f.alice.ID, file.OwnerUserID)
	require.True(t, file.InSession(s.ID))
	require.EqualValues(t, 5, file.Size)

	topic, notice := f.bc.last(t)
	require.Equal(t, "session/ABC123", topic)
	require.Equal(t, sharing.NoticeKindFileUploaded, notice.Kind)
	require.Equal(t, "ABC123", notice.SessionPasskey)
	require.Equal(t, file.ID, notice.FileID)
	require.Equal(t, "alice", notice.UploadedBy)
}

func TestUploadToSession_ExpiredStoresNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
	require.NoError(t, err)
	f.clock.Advance(sharing.DefaultSessionTTL)

	_, err = f.coord.UploadToSession(ctx, sharing.UploadInput{
		UploaderID: f.alice.ID,
		Passkey:    "ABC123",
		FileName:   "late.txt",
		Data:       []byte("late"),
	})
	require.ErrorIs(t, err, sharing.ErrExpired)
	require.EqualValues(t, 0, f.blobs.saves.Load(), "no byte storage")
	require.Equal(t, 0, f.bc.count(), "no broadcast")
}

func TestUploadToSession_UnknownUploader(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
	require.NoError(t, err)

	_, err = f.coord.UploadToSession(ctx, sharing.UploadInput{
		UploaderID: "01J0000000000000000000GHOST",
		Passkey:    "ABC123",
		FileName:   "x.txt",
		Data:       []byte("x"),
	})
	require.ErrorIs(t, err, sharing.ErrUnknownUser)
	require.EqualValues(t, 0, f.blobs.saves.Load())
	require.Equal(t, 0, f.bc.count())
}

func TestUploadToSession_InvalidInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
	require.NoError(t, err)

	for _, in := range []sharing.UploadInput{
		{UploaderID: f.alice.ID, Passkey: "ABC123", FileName: "  "},
		{UploaderID: f.alice.ID, Passkey: "ABC123", FileName: ".."},
		{UploaderID: "", Passkey: "ABC123", FileName: "a.txt"},
		{UploaderID: f.alice.ID, Passkey: "", FileName: "a.txt"},
	} {
		_, err := f.coord.UploadToSession(ctx, in)
		require.ErrorIs(t, err, sharing.ErrInvalidInput, "%+v", in)
	}
}

func TestUploadToSession_DefaultsFileType(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
	require.NoError(t, err)

	file, err := f.coord.UploadToSession(ctx, sharing.UploadInput{
		UploaderID: f.alice.ID, Passkey: "ABC123", FileName: "blob.bin", Data: []byte{0, 1},
	})
	require.NoError(t, err)
	require.Equal(t, "application/octet-stream", file.FileType)
}

func TestUploadToSession_BroadcastFailureKeepsFile(t *testing.T) {
	t.Parallel()

	mb := &mockBroadcaster{}
	mb.On("Publish", mock.Anything, "session/ABC123", mock.AnythingOfType("sharing.FileUploadedNotice")).
		Return(errors.New("broker down")).
		Once()

	f := newFixtureWith(t, mb)
	ctx := context.Background()

	_, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
	require.NoError(t, err)

	file := f.upload(t, f.alice, "ABC123", "kept.txt", []byte("kept"))

	files, err := f.coord.ListSessionFiles(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, file.ID, files[0].ID)
	mb.AssertExpectations(t)
}

func TestUploadToSession_NotifyIsBoundedAndSurvivesCallerCancel(t *testing.T) {
	t.Parallel()

	mb := &mockBroadcaster{}
	mb.On("Publish", mock.Anything, "session/ABC123", mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(context.DeadlineExceeded).
		Once()

	f := newFixtureWith(t, mb, sharing.WithNotifyTimeout(20*time.Millisecond))

	_, err := f.mgr.CreateSession(context.Background(), "ABC123", "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	// The caller's cancellation must not abort the notice; the timeout does.
	_, err = f.coord.UploadToSession(ctx, sharing.UploadInput{
		UploaderID: f.alice.ID, Passkey: "ABC123", FileName: "slow.txt", Data: []byte("s"),
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.Less(t, time.Since(start), 2*time.Second)
	mb.AssertExpectations(t)
}

func TestListSessionFiles_UploadOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
	require.NoError(t, err)
	_, err = f.mgr.JoinSession(ctx, "ABC123", "bob")
	require.NoError(t, err)

	var want []string
	for i, u := range []sharing.User{f.alice, f.bob, f.alice} {
		file := f.upload(t, u, "ABC123", string(rune('a'+i))+".txt", []byte{byte(i)})
		want = append(want, file.ID)
	}

	// A personal-drive upload is not part of the session.
	_, err = f.coord.UploadToDrive(ctx, sharing.DriveUploadInput{UserID: f.alice.ID, FileName: "mine.txt", Data: []byte("m")})
	require.NoError(t, err)

	files, err := f.coord.ListSessionFiles(ctx, "ABC123")
	require.NoError(t, err)
	got := make([]string, 0, len(files))
	for _, file := range files {
		got = append(got, file.ID)
	}
	require.Equal(t, want, got)
}
