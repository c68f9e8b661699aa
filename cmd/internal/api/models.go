package api

import (
	"time"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

type createSessionRequest struct {
	Passkey  string `json:"passkey"`
	Username string `json:"username"`
}

type joinSessionRequest struct {
	Username string `json:"username"`
}

type copyFileRequest struct {
	UserID string `json:"user_id"`
}

type favouriteRequest struct {
	UserID    string `json:"user_id"`
	Favourite *bool  `json:"favourite"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	Passkey   string    `json:"passkey"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type fileResponse struct {
	ID          string    `json:"id"`
	OwnerUserID string    `json:"owner_user_id"`
	SessionID   *string   `json:"session_id"`
	FileName    string    `json:"file_name"`
	FileType    string    `json:"file_type"`
	Size        int64     `json:"size"`
	Digest      string    `json:"digest"`
	Favourite   bool      `json:"is_favourite"`
	CreatedAt   time.Time `json:"created_at"`
}

type filesResponse struct {
	Files []fileResponse `json:"files"`
}

func toSessionResponse(s sharing.Session) sessionResponse {
	members := s.Members
	if members == nil {
		members = []string{}
	}
	return sessionResponse{
		ID:        s.ID,
		Passkey:   s.Passkey,
		Members:   members,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

func toFileResponse(f sharing.File) fileResponse {
	return fileResponse{
		ID:          f.ID,
		OwnerUserID: f.OwnerUserID,
		SessionID:   f.SessionID,
		FileName:    f.FileName,
		FileType:    f.FileType,
		Size:        f.Size,
		Digest:      f.Digest,
		Favourite:   f.Favourite,
		CreatedAt:   f.CreatedAt,
	}
}

func toFilesResponse(files []sharing.File) filesResponse {
	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, toFileResponse(f))
	}
	return filesResponse{Files: out}
}
