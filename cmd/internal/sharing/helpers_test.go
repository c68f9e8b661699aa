package sharing_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/blobstore"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/directory"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingBroadcaster keeps every publish in order.
type recordingBroadcaster struct {
	mu     sync.Mutex
	topics []string
	sent   []any
}

func (b *recordingBroadcaster) Publish(_ context.Context, topic string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.sent = append(b.sent, payload)
	return nil
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func (b *recordingBroadcaster) last(t *testing.T) (string, sharing.FileUploadedNotice) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.sent, "nothing was published")
	n, ok := b.sent[len(b.sent)-1].(sharing.FileUploadedNotice)
	require.True(t, ok, "unexpected payload type %T", b.sent[len(b.sent)-1])
	return b.topics[len(b.topics)-1], n
}

type mockBroadcaster struct {
	mock.Mock
}

func (m *mockBroadcaster) Publish(ctx context.Context, topic string, payload any) error {
	args := m.Called(ctx, topic, payload)
	return args.Error(0)
}

// countingBlobs wraps a BlobStore, counts saves and can park Save until released.
type countingBlobs struct {
	sharing.BlobStore
	saves atomic.Int32

	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

func (c *countingBlobs) Save(ctx context.Context, in sharing.SaveInput) (sharing.File, error) {
	c.saves.Add(1)

	c.mu.Lock()
	entered, release := c.entered, c.release
	c.mu.Unlock()
	if entered != nil {
		close(entered)
		<-release
	}
	return c.BlobStore.Save(ctx, in)
}

// blockNextSave makes the next Save wait; entered closes once it is parked.
func (c *countingBlobs) blockNextSave() (entered <-chan struct{}, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, r := make(chan struct{}), make(chan struct{})
	c.entered, c.release = e, r
	return e, func() {
		c.mu.Lock()
		c.entered, c.release = nil, nil
		c.mu.Unlock()
		close(r)
	}
}

type fixture struct {
	clock    *fakeClock
	sessions *sharing.InMemorySessionStore
	blobs    *countingBlobs
	raw      *blobstore.InMemoryStore
	users    *directory.InMemoryStore
	bc       *recordingBroadcaster

	mgr    *sharing.Manager
	coord  *sharing.Coordinator
	reaper *sharing.Reaper

	alice sharing.User
	bob   sharing.User
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, b sharing.Broadcaster, opts ...sharing.CoordinatorOption) *fixture {
	t.Helper()

	f := &fixture{
		clock:    newFakeClock(t0),
		sessions: sharing.NewInMemorySessionStore(),
		raw:      blobstore.NewInMemoryStore(),
		users:    directory.NewInMemoryStore(),
		bc:       &recordingBroadcaster{},
	}
	f.blobs = &countingBlobs{BlobStore: f.raw}
	if b == nil {
		b = f.bc
	}

	var err error
	f.mgr, err = sharing.NewManager(f.sessions, f.blobs,
		sharing.WithClock(f.clock),
		sharing.WithLogger(testLogger()),
	)
	require.NoError(t, err)

	f.coord, err = sharing.NewCoordinator(f.mgr, f.users, f.blobs, b, opts...)
	require.NoError(t, err)

	f.reaper = sharing.NewReaper(f.mgr)

	ctx := context.Background()
	f.alice, err = f.users.Create(ctx, "alice")
	require.NoError(t, err)
	f.bob, err = f.users.Create(ctx, "bob")
	require.NoError(t, err)
	return f
}

func (f *fixture) upload(t *testing.T, user sharing.User, passkey, name string, data []byte) sharing.File {
	t.Helper()
	file, err := f.coord.UploadToSession(context.Background(), sharing.UploadInput{
		UploaderID: user.ID,
		Passkey:    passkey,
		FileName:   name,
		FileType:   "text/plain",
		Data:       data,
	})
	require.NoError(t, err)
	return file
}
