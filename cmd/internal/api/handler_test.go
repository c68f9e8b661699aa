package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/blobstore"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/directory"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type apiFixture struct {
	clock *testClock
	srv   *httptest.Server
	alice sharing.User
	bob   sharing.User
}

func newAPIFixture(t *testing.T, cfg Config) *apiFixture {
	t.Helper()

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	users := directory.NewInMemoryStore()
	seeded, err := directory.Seed(ctx, log, users, []string{"alice", "bob"})
	require.NoError(t, err)

	blobs := blobstore.NewInMemoryStore()
	mgr, err := sharing.NewManager(sharing.NewInMemorySessionStore(), blobs,
		sharing.WithClock(clock), sharing.WithTTL(time.Hour), sharing.WithLogger(log))
	require.NoError(t, err)
	coord, err := sharing.NewCoordinator(mgr, users, blobs, nil)
	require.NoError(t, err)

	h, err := NewHandler(log, mgr, coord, cfg, WithUserDirectory(users))
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &apiFixture{clock: clock, srv: srv, alice: seeded[0], bob: seeded[1]}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func (f *apiFixture) upload(t *testing.T, path string, fields map[string]string, name, contentType string, data []byte) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	res, err := f.srv.Client().Post(f.srv.URL+path, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func requireErrorCode(t *testing.T, res *http.Response, status int, code string) {
	t.Helper()
	require.Equal(t, status, res.StatusCode)
	body := decodeBody[errorResponse](t, res)
	require.Equal(t, code, body.Error.Code)
}

func TestAPI_SessionLifecycle(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, Config{})

	res := f.do(t, http.MethodPost, "/api/sessions", createSessionRequest{Passkey: "ABC123", Username: "alice"})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	created := decodeBody[sessionResponse](t, res)
	require.Equal(t, "ABC123", created.Passkey)
	require.Equal(t, []string{"alice"}, created.Members)

	res = f.do(t, http.MethodPost, "/api/sessions", createSessionRequest{Passkey: "ABC123", Username: "bob"})
	requireErrorCode(t, res, http.StatusConflict, "conflict")

	res = f.do(t, http.MethodPost, "/api/sessions/ABC123/join", joinSessionRequest{Username: "bob"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	joined := decodeBody[sessionResponse](t, res)
	require.Equal(t, []string{"alice", "bob"}, joined.Members)

	res = f.do(t, http.MethodGet, "/api/sessions/ABC123", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	got := decodeBody[sessionResponse](t, res)
	require.Equal(t, created.ID, got.ID)

	res = f.do(t, http.MethodGet, "/api/sessions/NOPE", nil)
	requireErrorCode(t, res, http.StatusNotFound, "not_found")

	f.clock.Advance(2 * time.Hour)
	res = f.do(t, http.MethodPost, "/api/sessions/ABC123/join", joinSessionRequest{Username: "carol"})
	requireErrorCode(t, res, http.StatusGone, "expired")
}

func TestAPI_RejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, Config{})

	res, err := f.srv.Client().Post(f.srv.URL+"/api/sessions", "application/json", strings.NewReader(`{"passkey":"A","username":"alice","extra":1}`))
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	requireErrorCode(t, res, http.StatusBadRequest, "invalid_json")

	res2 := f.do(t, http.MethodPost, "/api/sessions", createSessionRequest{Passkey: "", Username: "alice"})
	requireErrorCode(t, res2, http.StatusBadRequest, "invalid_input")

	res3, err := f.srv.Client().Post(f.srv.URL+"/api/sessions", "application/json", strings.NewReader(`{"passkey":"A","username":"alice"} {}`))
	require.NoError(t, err)
	defer func() { _ = res3.Body.Close() }()
	requireErrorCode(t, res3, http.StatusBadRequest, "invalid_json")
}

func TestAPI_RejectsOversizedJSON(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, Config{MaxBodyBytes: 16})

	res := f.do(t, http.MethodPost, "/api/sessions", createSessionRequest{Passkey: strings.Repeat("k", 64), Username: "alice"})
	requireErrorCode(t, res, http.StatusRequestEntityTooLarge, "too_large")
}

func TestAPI_UploadListDownloadCopy(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, Config{})

	res := f.do(t, http.MethodPost, "/api/sessions", createSessionRequest{Passkey: "ABC123", Username: "alice"})
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res = f.upload(t, "/api/sessions/ABC123/files", map[string]string{"user_id": f.alice.ID}, "notes.txt", "text/plain", []byte("hello"))
	require.Equal(t, http.StatusCreated, res.StatusCode)
	stored := decodeBody[fileResponse](t, res)
	require.Equal(t, "notes.txt", stored.FileName)
	require.Equal(t, "text/plain", stored.FileType)
	require.EqualValues(t, 5, stored.Size)
	require.NotNil(t, stored.SessionID)

	res = f.do(t, http.MethodGet, "/api/sessions/ABC123/files", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	listed := decodeBody[filesResponse](t, res)
	require.Len(t, listed.Files, 1)
	require.Equal(t, stored.ID, listed.Files[0].ID)

	res = f.do(t, http.MethodGet, "/api/files/"+stored.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "text/plain", res.Header.Get("Content-Type"))
	require.Equal(t, `attachment; filename=notes.txt`, res.Header.Get("Content-Disposition"))
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), body)

	res = f.do(t, http.MethodPost, "/api/files/"+stored.ID+"/copy", copyFileRequest{UserID: f.bob.ID})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	copied := decodeBody[fileResponse](t, res)
	require.Nil(t, copied.SessionID)
	require.Equal(t, f.bob.ID, copied.OwnerUserID)

	res = f.do(t, http.MethodPost, "/api/files/"+stored.ID+"/copy", copyFileRequest{UserID: f.bob.ID})
	requireErrorCode(t, res, http.StatusConflict, "duplicate")

	res = f.do(t, http.MethodGet, "/api/drive/bob/files", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	drive := decodeBody[filesResponse](t, res)
	require.Len(t, drive.Files, 1)
	require.Equal(t, copied.ID, drive.Files[0].ID)
}

func TestAPI_UploadErrors(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, Config{MaxUploadBytes: 8})

	res := f.do(t, http.MethodPost, "/api/sessions", createSessionRequest{Passkey: "ABC123", Username: "alice"})
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res = f.upload(t, "/api/sessions/ABC123/files", map[string]string{"user_id": "ghost"}, "a.txt", "text/plain", []byte("x"))
	requireErrorCode(t, res, http.StatusNotFound, "unknown_user")

	res = f.upload(t, "/api/sessions/NOPE/files", map[string]string{"user_id": f.alice.ID}, "a.txt", "text/plain", []byte("x"))
	requireErrorCode(t, res, http.StatusNotFound, "not_found")

	res = f.upload(t, "/api/sessions/ABC123/files", map[string]string{"user_id": f.alice.ID}, "big.bin", "application/octet-stream", bytes.Repeat([]byte("z"), 9))
	requireErrorCode(t, res, http.StatusRequestEntityTooLarge, "too_large")

	res2, err := f.srv.Client().Post(f.srv.URL+"/api/sessions/ABC123/files", "text/plain", strings.NewReader("nope"))
	require.NoError(t, err)
	defer func() { _ = res2.Body.Close() }()
	requireErrorCode(t, res2, http.StatusBadRequest, "invalid_multipart")
}

func TestAPI_DriveOwnership(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, Config{})

	res := f.upload(t, "/api/drive/"+f.alice.ID+"/files", nil, "photo.png", "image/png", []byte{0x89, 'P', 'N', 'G'})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	stored := decodeBody[fileResponse](t, res)
	require.Nil(t, stored.SessionID)

	yes := true
	res = f.do(t, http.MethodPut, "/api/files/"+stored.ID+"/favourite", favouriteRequest{UserID: f.bob.ID, Favourite: &yes})
	requireErrorCode(t, res, http.StatusNotFound, "not_found")

	res = f.do(t, http.MethodPut, "/api/files/"+stored.ID+"/favourite", favouriteRequest{UserID: f.alice.ID, Favourite: &yes})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, decodeBody[fileResponse](t, res).Favourite)

	res = f.do(t, http.MethodPut, "/api/files/"+stored.ID+"/favourite", map[string]string{"user_id": f.alice.ID})
	requireErrorCode(t, res, http.StatusBadRequest, "invalid_json")

	res = f.do(t, http.MethodDelete, "/api/files/"+stored.ID+"?user_id="+f.bob.ID, nil)
	requireErrorCode(t, res, http.StatusNotFound, "not_found")

	res = f.do(t, http.MethodDelete, "/api/files/"+stored.ID+"?user_id="+f.alice.ID, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res = f.do(t, http.MethodGet, "/api/files/"+stored.ID, nil)
	requireErrorCode(t, res, http.StatusNotFound, "not_found")

	res = f.do(t, http.MethodGet, "/api/drive/nobody/files", nil)
	requireErrorCode(t, res, http.StatusNotFound, "unknown_user")
}

func TestAPI_GetUser(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, Config{})

	res := f.do(t, http.MethodGet, "/api/users/alice", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	got := decodeBody[userResponse](t, res)
	require.Equal(t, f.alice.ID, got.ID)
	require.Equal(t, "alice", got.Username)

	res = f.do(t, http.MethodGet, "/api/users/carol", nil)
	requireErrorCode(t, res, http.StatusNotFound, "unknown_user")
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
	}{
		{sharing.OpError{Op: "x", Kind: sharing.ErrInvalidInput}, http.StatusBadRequest},
		{sharing.OpError{Op: "x", Kind: sharing.ErrNotFound}, http.StatusNotFound},
		{sharing.OpError{Op: "x", Kind: sharing.ErrUnknownUser}, http.StatusNotFound},
		{sharing.OpError{Op: "x", Kind: sharing.ErrConflict}, http.StatusConflict},
		{sharing.OpError{Op: "x", Kind: sharing.ErrDuplicate}, http.StatusConflict},
		{sharing.OpError{Op: "x", Kind: sharing.ErrExpired}, http.StatusGone},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := statusFor(tc.err)
		require.Equal(t, tc.status, status, "err=%v", tc.err)
	}
}
