package sharing_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/realtime"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
	v1 "github.com/Avinash-006/sdp-kubernetes/shared/contracts/realtime/v1"
)

func TestSessionLifecycle_EndToEnd(t *testing.T) {
	t.Parallel()

	hub := realtime.NewHub(testLogger(), nil)
	f := newFixtureWith(t, hub)
	ctx := context.Background()

	s, err := f.mgr.CreateSession(ctx, "ABC123", "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, s.Members)

	s, err = f.mgr.JoinSession(ctx, "ABC123", "bob")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, s.Members)

	sub := realtime.NewClient("bob-tab", 8)
	hub.Subscribe(sharing.SessionTopic("ABC123"), sub)

	file, err := f.coord.UploadToSession(ctx, sharing.UploadInput{
		UploaderID: f.alice.ID,
		Passkey:    "ABC123",
		FileName:   "notes.txt",
		FileType:   "text/plain",
		Data:       []byte("hello"),
	})
	require.NoError(t, err)

	var env v1.Envelope
	select {
	case env = <-sub.Send:
	case <-time.After(time.Second):
		t.Fatal("subscriber got no notice")
	}
	require.Equal(t, v1.TypeEvent, env.Type)
	require.Equal(t, "session/ABC123", env.Topic)

	var notice sharing.FileUploadedNotice
	require.NoError(t, json.Unmarshal(env.Payload, &notice))
	require.Equal(t, file.ID, notice.FileID)
	require.Equal(t, "ABC123", notice.SessionPasskey)

	f.clock.Advance(sharing.DefaultSessionTTL + time.Minute)

	res, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Reaped)

	_, err = f.coord.ListSessionFiles(ctx, "ABC123")
	require.ErrorIs(t, err, sharing.ErrNotFound)
	_, err = f.mgr.GetActiveSession(ctx, "ABC123")
	require.ErrorIs(t, err, sharing.ErrNotFound)

	tagged, err := f.raw.ListBySession(ctx, s.ID)
	require.NoError(t, err)
	require.Empty(t, tagged)
}

func TestUploadToSession_NotifiesAtPasskeyLimit(t *testing.T) {
	t.Parallel()

	hub := realtime.NewHub(testLogger(), nil)
	f := newFixtureWith(t, hub)
	ctx := context.Background()

	for _, pk := range []string{
		strings.Repeat("é", 128),
		strings.Repeat("𝄞", 128),
	} {
		_, err := f.mgr.CreateSession(ctx, pk, "alice")
		require.NoError(t, err)

		topic := sharing.SessionTopic(pk)
		require.NoError(t, v1.ValidateTopic(topic))

		sub := realtime.NewClient("tab", 8)
		hub.Subscribe(topic, sub)

		file, err := f.coord.UploadToSession(ctx, sharing.UploadInput{
			UploaderID: f.alice.ID,
			Passkey:    pk,
			FileName:   "notes.txt",
			FileType:   "text/plain",
			Data:       []byte("hello"),
		})
		require.NoError(t, err)

		select {
		case env := <-sub.Send:
			require.Equal(t, topic, env.Topic)
			var notice sharing.FileUploadedNotice
			require.NoError(t, json.Unmarshal(env.Payload, &notice))
			require.Equal(t, file.ID, notice.FileID)
		case <-time.After(time.Second):
			t.Fatalf("no notice for passkey of %d bytes", len(pk))
		}
		hub.Unsubscribe(topic, sub.ID)
	}
}
