package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"lifeline/pkg/types"
)

const maxJSONBody = 1 << 20

type errorBody struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

// writeError maps the error kinds to status codes. A lost claim is a 409 with
// code "conflict" so clients can tell it apart from an illegal transition.
func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *types.ValidationError

	switch {
	case errors.As(err, &verr):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Message: "request failed validation", Fields: verr.Fields})
	case errors.Is(err, types.ErrConflict):
		s.writeJSON(w, http.StatusConflict, errorBody{Error: "conflict", Code: "conflict", Message: err.Error()})
	case errors.Is(err, types.ErrInvalidTransition):
		s.writeJSON(w, http.StatusConflict, errorBody{Error: "invalid_transition", Code: "invalid_transition", Message: err.Error()})
	case errors.Is(err, types.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
	case errors.Is(err, types.ErrUnauthorized):
		s.writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "you are not allowed to perform this action"})
	case errors.Is(err, types.ErrDisabled):
		s.writeJSON(w, http.StatusNotImplemented, errorBody{Error: "disabled", Code: "disabled", Message: err.Error()})
	case errors.Is(err, types.ErrStoreUnavailable):
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("store unavailable")
		w.Header().Set("Retry-After", "1")
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable", Message: "temporarily unavailable, retry the request"})
	default:
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("unhandled error")
		s.internalServerError(w)
	}
}

func (s *Service) internalServerError(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal server error"})
}

func (s *Service) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}

func (s *Service) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		s.badRequest(w, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

// decodeQuery fills dst from the URL query using form tags.
func (s *Service) decodeQuery(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decoder.Decode(dst, r.URL.Query()); err != nil {
		s.badRequest(w, fmt.Sprintf("invalid query: %v", err))
		return false
	}
	return true
}
