package sharing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
)

// DriveUploadInput is a file uploaded straight into a user's personal drive.
type DriveUploadInput struct {
	UserID   string
	FileName string
	FileType string
	Data     []byte
}

// UploadToDrive stores an untagged file owned by the user.
func (c *Coordinator) UploadToDrive(ctx context.Context, in DriveUploadInput) (File, error) {
	const op = "sharing.UploadToDrive"

	name, fileType, err := cleanFileMeta(in.FileName, in.FileType)
	if err != nil {
		return File{}, opErr(op, ErrInvalidInput, err.Error())
	}
	if strings.TrimSpace(in.UserID) == "" {
		return File{}, opErr(op, ErrInvalidInput, "missing user")
	}

	u, err := c.lookupUser(ctx, op, in.UserID)
	if err != nil {
		return File{}, err
	}

	f, err := c.blobs.Save(ctx, SaveInput{
		OwnerUserID: u.ID,
		FileName:    name,
		FileType:    fileType,
		Data:        in.Data,
		Now:         c.sessions.clock.Now(),
	})
	if err != nil {
		return File{}, fmt.Errorf("%s: save: %w", op, err)
	}

	c.metrics.FileStored("drive")
	c.log.Info("drive.stored", "user_id", u.ID, "file_id", f.ID, "size", f.Size)
	return f, nil
}

// ListDriveFiles returns the personal-drive files of username (session files excluded).
func (c *Coordinator) ListDriveFiles(ctx context.Context, username string) ([]File, error) {
	const op = "sharing.ListDriveFiles"

	name, ok := NormalizeUsername(username)
	if !ok {
		return nil, opErr(op, ErrInvalidInput, "invalid username")
	}
	u, err := c.users.FindByUsername(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, opErr(op, ErrUnknownUser, "no such user")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: user lookup: %w", op, err)
	}

	owned, err := c.blobs.ListByUser(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]File, 0, len(owned))
	for _, f := range owned {
		if f.SessionID == nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// GetFile returns a file with its bytes.
func (c *Coordinator) GetFile(ctx context.Context, fileID string) (Blob, error) {
	const op = "sharing.GetFile"

	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return Blob{}, opErr(op, ErrInvalidInput, "missing file id")
	}
	b, err := c.blobs.Fetch(ctx, fileID)
	if errors.Is(err, ErrNotFound) {
		return Blob{}, opErr(op, ErrNotFound, "no such file")
	}
	if err != nil {
		return Blob{}, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// DeleteFile removes a file owned by userID. Files owned by someone else are
// reported as missing.
func (c *Coordinator) DeleteFile(ctx context.Context, fileID, userID string) error {
	const op = "sharing.DeleteFile"

	if _, err := c.ownedFile(ctx, op, fileID, userID); err != nil {
		return err
	}
	err := c.blobs.Delete(ctx, strings.TrimSpace(fileID))
	if errors.Is(err, ErrNotFound) {
		return opErr(op, ErrNotFound, "no such file")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.log.Info("file.deleted", "file_id", fileID, "user_id", userID)
	return nil
}

// SetFavourite flags or unflags a file owned by userID.
func (c *Coordinator) SetFavourite(ctx context.Context, fileID, userID string, favourite bool) (File, error) {
	const op = "sharing.SetFavourite"

	if _, err := c.ownedFile(ctx, op, fileID, userID); err != nil {
		return File{}, err
	}
	f, err := c.blobs.SetFavourite(ctx, strings.TrimSpace(fileID), favourite)
	if errors.Is(err, ErrNotFound) {
		return File{}, opErr(op, ErrNotFound, "no such file")
	}
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", op, err)
	}
	return f, nil
}

// CopyToPersonalDrive clones a file into userID's personal drive.
//
// The copy is refused with ErrDuplicate when the user already owns a drive
// file with the same name, type and bytes. Copies for one user are serialized
// so two concurrent requests cannot both pass that check.
func (c *Coordinator) CopyToPersonalDrive(ctx context.Context, fileID, userID string) (File, error) {
	const op = "sharing.CopyToPersonalDrive"

	fileID = strings.TrimSpace(fileID)
	if fileID == "" || strings.TrimSpace(userID) == "" {
		return File{}, opErr(op, ErrInvalidInput, "missing file or user id")
	}

	u, err := c.lookupUser(ctx, op, userID)
	if err != nil {
		return File{}, err
	}

	unlock := c.driveLocks.Lock("drive:" + u.ID)
	defer unlock()

	src, err := c.blobs.Fetch(ctx, fileID)
	if errors.Is(err, ErrNotFound) {
		return File{}, opErr(op, ErrNotFound, "no such file")
	}
	if err != nil {
		return File{}, fmt.Errorf("%s: fetch: %w", op, err)
	}

	dup, err := c.hasDriveCopy(ctx, u.ID, src)
	if err != nil {
		return File{}, fmt.Errorf("%s: duplicate check: %w", op, err)
	}
	if dup {
		return File{}, opErr(op, ErrDuplicate, "identical file already in drive")
	}

	f, err := c.blobs.Save(ctx, SaveInput{
		OwnerUserID: u.ID,
		FileName:    src.FileName,
		FileType:    src.FileType,
		Data:        src.Data,
		Now:         c.sessions.clock.Now(),
	})
	if err != nil {
		return File{}, fmt.Errorf("%s: save: %w", op, err)
	}

	c.metrics.FileStored("copy")
	c.log.Info("drive.copied", "user_id", u.ID, "source_file_id", src.ID, "file_id", f.ID)
	return f, nil
}

// hasDriveCopy compares src against the user's drive files. Size and digest
// only narrow the candidates; equality is decided on the bytes.
func (c *Coordinator) hasDriveCopy(ctx context.Context, userID string, src Blob) (bool, error) {
	owned, err := c.blobs.ListByUser(ctx, userID)
	if err != nil {
		return false, err
	}

	digest := Digest(src.Data)
	for _, f := range owned {
		if f.SessionID != nil || f.FileName != src.FileName || f.FileType != src.FileType {
			continue
		}
		if f.Size != int64(len(src.Data)) || (f.Digest != "" && f.Digest != digest) {
			continue
		}
		cand, err := c.blobs.Fetch(ctx, f.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if bytes.Equal(cand.Data, src.Data) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Coordinator) ownedFile(ctx context.Context, op, fileID, userID string) (File, error) {
	fileID = strings.TrimSpace(fileID)
	userID = strings.TrimSpace(userID)
	if fileID == "" || userID == "" {
		return File{}, opErr(op, ErrInvalidInput, "missing file or user id")
	}

	b, err := c.blobs.Fetch(ctx, fileID)
	if errors.Is(err, ErrNotFound) {
		return File{}, opErr(op, ErrNotFound, "no such file")
	}
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", op, err)
	}
	if b.OwnerUserID != userID {
		return File{}, opErr(op, ErrNotFound, "no such file")
	}
	return b.File, nil
}
