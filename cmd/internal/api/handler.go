// Package api exposes sessions, uploads and personal drives over HTTP.
package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

const (
	// DefaultMaxUploadBytes caps a single uploaded file.
	DefaultMaxUploadBytes int64 = 25 << 20
	// DefaultMaxBodyBytes caps JSON request bodies.
	DefaultMaxBodyBytes int64 = 64 << 10

	// Room for multipart boundaries and the small text fields next to the file.
	multipartOverheadBytes int64 = 1 << 20
	multipartMemoryBytes   int64 = 8 << 20
)

// Config bounds request sizes.
type Config struct {
	MaxBodyBytes   int64
	MaxUploadBytes int64
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return c
}

// Handler wires HTTP routes to the sharing Manager and Coordinator.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions *sharing.Manager
	files    *sharing.Coordinator
	users    sharing.UserDirectory
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithUserDirectory enables GET /api/users/{username}.
func WithUserDirectory(dir sharing.UserDirectory) HandlerOption {
	return func(h *Handler) {
		if h == nil || dir == nil {
			return
		}
		h.users = dir
	}
}

// NewHandler constructs a Handler. Zero Config fields fall back to defaults.
func NewHandler(log *slog.Logger, m *sharing.Manager, c *sharing.Coordinator, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if m == nil || c == nil {
		return nil, errors.New("api: nil manager or coordinator")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{log: log, cfg: cfg.withDefaults(), sessions: m, files: c}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires the API routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/sessions", h.handleCreateSession)
	mux.HandleFunc("POST /api/sessions/{passkey}/join", h.handleJoinSession)
	mux.HandleFunc("GET /api/sessions/{passkey}", h.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{passkey}/files", h.handleUploadToSession)
	mux.HandleFunc("GET /api/sessions/{passkey}/files", h.handleListSessionFiles)

	mux.HandleFunc("POST /api/drive/{userID}/files", h.handleUploadToDrive)
	mux.HandleFunc("GET /api/drive/{username}/files", h.handleListDriveFiles)

	mux.HandleFunc("GET /api/files/{id}", h.handleDownload)
	mux.HandleFunc("DELETE /api/files/{id}", h.handleDeleteFile)
	mux.HandleFunc("POST /api/files/{id}/copy", h.handleCopyFile)
	mux.HandleFunc("PUT /api/files/{id}/favourite", h.handleSetFavourite)

	if h.users != nil {
		mux.HandleFunc("GET /api/users/{username}", h.handleGetUser)
	}
}

// ---- users ----

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	name, ok := sharing.NormalizeUsername(r.PathValue("username"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid username")
		return
	}
	u, err := h.users.FindByUsername(r.Context(), name)
	if errors.Is(err, sharing.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown_user", "no such user")
		return
	}
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	respond(w, http.StatusOK, userResponse{ID: u.ID, Username: u.Username})
}

// ---- sessions ----

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.sessions.CreateSession(r.Context(), req.Passkey, req.Username)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, toSessionResponse(sess))
}

func (h *Handler) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.sessions.JoinSession(r.Context(), r.PathValue("passkey"), req.Username)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.GetActiveSession(r.Context(), r.PathValue("passkey"))
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) handleUploadToSession(w http.ResponseWriter, r *http.Request) {
	up, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	f, err := h.files.UploadToSession(r.Context(), sharing.UploadInput{
		UploaderID: up.field("user_id"),
		Passkey:    r.PathValue("passkey"),
		FileName:   up.name,
		FileType:   up.contentType,
		Data:       up.data,
	})
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, toFileResponse(f))
}

func (h *Handler) handleListSessionFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.files.ListSessionFiles(r.Context(), r.PathValue("passkey"))
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toFilesResponse(files))
}

// ---- drive ----

func (h *Handler) handleUploadToDrive(w http.ResponseWriter, r *http.Request) {
	up, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	f, err := h.files.UploadToDrive(r.Context(), sharing.DriveUploadInput{
		UserID:   r.PathValue("userID"),
		FileName: up.name,
		FileType: up.contentType,
		Data:     up.data,
	})
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, toFileResponse(f))
}

func (h *Handler) handleListDriveFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.files.ListDriveFiles(r.Context(), r.PathValue("username"))
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toFilesResponse(files))
}

// ---- files ----

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	blob, err := h.files.GetFile(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", blob.FileType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": blob.FileName})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(blob.Data)
	}
}

func (h *Handler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.files.DeleteFile(r.Context(), r.PathValue("id"), r.URL.Query().Get("user_id")); err != nil {
		h.writeOpError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCopyFile(w http.ResponseWriter, r *http.Request) {
	var req copyFileRequest
	if !h.decode(w, r, &req) {
		return
	}

	f, err := h.files.CopyToPersonalDrive(r.Context(), r.PathValue("id"), req.UserID)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, toFileResponse(f))
}

func (h *Handler) handleSetFavourite(w http.ResponseWriter, r *http.Request) {
	var req favouriteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Favourite == nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "missing favourite")
		return
	}

	f, err := h.files.SetFavourite(r.Context(), r.PathValue("id"), req.UserID, *req.Favourite)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toFileResponse(f))
}

// ---- multipart ----

type upload struct {
	name        string
	contentType string
	data        []byte
	form        map[string][]string
}

func (u upload) field(key string) string {
	if v := u.form[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// readUpload parses a multipart body carrying one "file" part. It writes the
// error response itself and reports false when the request cannot continue.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+multipartOverheadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "upload too large")
			return upload{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid_multipart", "expected multipart/form-data")
		return upload{}, false
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	part, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "missing file part")
		return upload{}, false
	}
	defer func() { _ = part.Close() }()

	if hdr.Size > h.cfg.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "upload too large")
		return upload{}, false
	}
	data, err := io.ReadAll(io.LimitReader(part, h.cfg.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_multipart", "could not read file part")
		return upload{}, false
	}
	if int64(len(data)) > h.cfg.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "upload too large")
		return upload{}, false
	}

	return upload{
		name:        hdr.Filename,
		contentType: hdr.Header.Get("Content-Type"),
		data:        data,
		form:        r.MultipartForm.Value,
	}, true
}
