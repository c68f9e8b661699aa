package sharing

import (
	"context"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// User is the subset of a user account the core needs.
type User struct {
	ID       string
	Username string
}

// UserDirectory resolves users. Both lookups return ErrNotFound for unknown users.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
}

// File is stored file metadata. SessionID is nil for personal-drive files.
type File struct {
	ID          string
	OwnerUserID string
	SessionID   *string
	FileName    string
	FileType    string
	Size        int64
	Digest      string
	Favourite   bool
	CreatedAt   time.Time
}

// InSession reports whether f is tagged with sessionID.
func (f File) InSession(sessionID string) bool {
	return f.SessionID != nil && *f.SessionID == sessionID
}

// Blob is a file together with its bytes.
type Blob struct {
	File
	Data []byte
}

// SaveInput describes a new stored file.
type SaveInput struct {
	OwnerUserID string
	SessionID   *string
	FileName    string
	FileType    string
	Data        []byte
	Now         time.Time
}

// BlobStore owns file bytes.
//
// Requirements:
//   - ListBySession and ListByUser return files in insertion order.
//   - Fetch, Delete and SetFavourite return ErrNotFound for unknown ids.
//   - Save returns ErrNotFound when SessionID references a session that no longer exists
//     (stores that can check it).
//   - DeleteBySession is idempotent.
type BlobStore interface {
	Save(ctx context.Context, in SaveInput) (File, error)
	Fetch(ctx context.Context, fileID string) (Blob, error)
	ListByUser(ctx context.Context, userID string) ([]File, error)
	ListBySession(ctx context.Context, sessionID string) ([]File, error)
	Delete(ctx context.Context, fileID string) error
	DeleteBySession(ctx context.Context, sessionID string) (int, error)
	SetFavourite(ctx context.Context, fileID string, favourite bool) (File, error)
}

// Broadcaster publishes payload to the subscribers of topic that are connected
// right now. There is no acknowledgement, retry or replay.
//
// Payloads are JSON on the wire: structs are encoded, []byte holding JSON is
// forwarded verbatim and any other []byte arrives as a base64 string.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// FileUploadedNotice is published on SessionTopic after a session upload.
type FileUploadedNotice struct {
	Kind           string    `json:"kind"`
	SessionPasskey string    `json:"session_passkey"`
	FileID         string    `json:"file_id"`
	FileName       string    `json:"file_name"`
	FileType       string    `json:"file_type"`
	UploadedBy     string    `json:"uploaded_by"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

// NoticeKindFileUploaded tags FileUploadedNotice payloads.
const NoticeKindFileUploaded = "file_uploaded"

// Digest returns the hex BLAKE2b-256 digest stores keep for each file.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
