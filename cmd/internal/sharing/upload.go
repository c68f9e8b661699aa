package sharing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/metrics"
)

const (
	// DefaultNotifyTimeout bounds how long an upload waits on the broadcaster.
	DefaultNotifyTimeout = 2 * time.Second

	defaultFileType  = "application/octet-stream"
	maxFileNameChars = 255
)

// Coordinator stores uploads and tells session subscribers about them.
type Coordinator struct {
	sessions    *Manager
	users       UserDirectory
	blobs       BlobStore
	broadcaster Broadcaster

	notifyTimeout time.Duration
	driveLocks    *lockSet
	log           *slog.Logger
	metrics       *metrics.Metrics
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator) error

// WithNotifyTimeout bounds each upload notification (default: DefaultNotifyTimeout).
func WithNotifyTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		c.notifyTimeout = d
		return nil
	}
}

// WithCoordinatorLogger overrides the logger inherited from the Manager.
func WithCoordinatorLogger(log *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) error {
		if log != nil {
			c.log = log
		}
		return nil
	}
}

// NewCoordinator wires the upload path. A nil broadcaster disables notices.
func NewCoordinator(m *Manager, users UserDirectory, blobs BlobStore, b Broadcaster, opts ...CoordinatorOption) (*Coordinator, error) {
	if m == nil || users == nil || blobs == nil {
		return nil, ErrInvalidInput
	}
	if b == nil {
		b = noopBroadcaster{}
	}
	c := &Coordinator{
		sessions:      m,
		users:         users,
		blobs:         blobs,
		broadcaster:   b,
		notifyTimeout: DefaultNotifyTimeout,
		driveLocks:    newLockSet(),
		log:           m.log,
		metrics:       m.metrics,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// UploadInput is a file uploaded into a session.
type UploadInput struct {
	UploaderID string
	Passkey    string
	FileName   string
	FileType   string
	Data       []byte
}

// UploadToSession stores a file tagged with the session and publishes a
// FileUploadedNotice on the session topic. The notice is best effort: a
// publish failure is logged and the stored file is kept.
func (c *Coordinator) UploadToSession(ctx context.Context, in UploadInput) (File, error) {
	const op = "sharing.UploadToSession"

	name, fileType, err := cleanFileMeta(in.FileName, in.FileType)
	if err != nil {
		return File{}, opErr(op, ErrInvalidInput, err.Error())
	}
	if strings.TrimSpace(in.UploaderID) == "" {
		return File{}, opErr(op, ErrInvalidInput, "missing uploader")
	}

	var (
		stored   File
		sess     Session
		uploader User
	)
	err = c.sessions.withActiveSession(ctx, op, in.Passkey, func(s Session) error {
		sess = s

		u, err := c.lookupUser(ctx, op, in.UploaderID)
		if err != nil {
			return err
		}
		uploader = u

		sid := s.ID
		f, err := c.blobs.Save(ctx, SaveInput{
			OwnerUserID: u.ID,
			SessionID:   &sid,
			FileName:    name,
			FileType:    fileType,
			Data:        in.Data,
			Now:         c.sessions.clock.Now(),
		})
		if errors.Is(err, ErrNotFound) {
			return opErr(op, ErrNotFound, "session no longer exists")
		}
		if err != nil {
			return fmt.Errorf("%s: save: %w", op, err)
		}
		stored = f
		return nil
	})
	if err != nil {
		return File{}, err
	}

	c.metrics.FileStored("session")
	c.log.Info("upload.stored", "session_id", sess.ID, "file_id", stored.ID, "size", stored.Size)

	c.notify(ctx, sess, stored, uploader)
	return stored, nil
}

// ListSessionFiles returns the files of an active session in upload order.
func (c *Coordinator) ListSessionFiles(ctx context.Context, passkey string) ([]File, error) {
	const op = "sharing.ListSessionFiles"

	var files []File
	err := c.sessions.withActiveSession(ctx, op, passkey, func(s Session) error {
		out, err := c.blobs.ListBySession(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		files = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []File{}
	}
	return files, nil
}

func (c *Coordinator) notify(ctx context.Context, sess Session, f File, uploader User) {
	// The upload already succeeded; a caller that hangs up must not cancel the notice.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.notifyTimeout)
	defer cancel()

	notice := FileUploadedNotice{
		Kind:           NoticeKindFileUploaded,
		SessionPasskey: sess.Passkey,
		FileID:         f.ID,
		FileName:       f.FileName,
		FileType:       f.FileType,
		UploadedBy:     uploader.Username,
		UploadedAt:     f.CreatedAt,
	}
	if err := c.broadcaster.Publish(ctx, SessionTopic(sess.Passkey), notice); err != nil {
		c.metrics.BroadcastFailed()
		c.log.Warn("upload.notify.fail", "session_id", sess.ID, "file_id", f.ID, "err", err)
	}
}

func (c *Coordinator) lookupUser(ctx context.Context, op, userID string) (User, error) {
	u, err := c.users.FindByID(ctx, strings.TrimSpace(userID))
	if errors.Is(err, ErrNotFound) {
		return User{}, opErr(op, ErrUnknownUser, "no such user")
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: user lookup: %w", op, err)
	}
	return u, nil
}

// cleanFileMeta strips any client-side directory from name and defaults the type.
func cleanFileMeta(name, fileType string) (string, string, error) {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	name = path.Base(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", "", errors.New("missing file name")
	}
	if utf8.RuneCountInString(name) > maxFileNameChars {
		return "", "", errors.New("file name too long")
	}

	fileType = strings.TrimSpace(fileType)
	if fileType == "" {
		fileType = defaultFileType
	}
	return name, fileType, nil
}

type noopBroadcaster struct{}

func (noopBroadcaster) Publish(context.Context, string, any) error { return nil }
