package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Error apiError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	respond(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// statusFor maps a sharing error kind to its HTTP status and wire code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, sharing.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, sharing.ErrUnknownUser):
		return http.StatusNotFound, "unknown_user"
	case errors.Is(err, sharing.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, sharing.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, sharing.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, sharing.ErrExpired):
		return http.StatusGone, "expired"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeOpError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		if errors.Is(err, context.Canceled) {
			// Client went away; nothing useful to send.
			return
		}
		h.log.Error("api.request.fail", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, status, code, "internal error")
		return
	}

	msg := code
	var opErr sharing.OpError
	if errors.As(err, &opErr) && opErr.Msg != "" {
		msg = opErr.Msg
	}
	writeError(w, status, code, msg)
}
