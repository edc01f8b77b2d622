package api

import (
	"context"
	"errors"
	"net/http"

	"redactflow/internal/redact"
	"redactflow/internal/service"
	"redactflow/internal/session"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeRequestTooLarge      = "REQUEST_TOO_LARGE"
	CodeInvalidSpan          = "INVALID_SPAN"
	CodeEmptySelection       = "EMPTY_SELECTION"
	CodeInvalidEntityType    = "INVALID_ENTITY_TYPE"
	CodeManualTokenOverlap   = "MANUAL_TOKEN_OVERLAP"
	CodeNoMatch              = "NO_MATCH"
	CodeOccurrenceNotPresent = "OCCURRENCE_NOT_PRESENT"
	CodeTokenNotFound        = "TOKEN_NOT_FOUND"
	CodeValueConflict        = "VALUE_CONFLICT"
	CodeTokenMapNotFound     = "TOKEN_MAP_NOT_FOUND"
	CodeDetectionError       = "DETECTION_ERROR"
	CodeTimeout              = "TIMEOUT"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeInternal             = "INTERNAL_ERROR"
)

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// requestError is a malformed request, reported as INVALID_REQUEST.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

// classify maps an error to its response code, status and details.
func classify(err error) (string, int, map[string]any) {
	var (
		reqErr      *requestError
		tooLarge    *http.MaxBytesError
		spanErr     *redact.InvalidSpanError
		overlapErr  *redact.SelectionOverlapError
		noMatchErr  *redact.NoMatchError
		notPresent  *redact.OccurrenceNotPresentError
		notFound    *redact.TokenNotFoundError
		conflictErr *redact.ValueConflictError
		detectErr   *service.DetectionError
	)
	switch {
	case errors.As(err, &reqErr), errors.Is(err, service.ErrInvalidSelection):
		return CodeInvalidRequest, http.StatusBadRequest, nil
	case errors.As(err, &tooLarge):
		return CodeRequestTooLarge, http.StatusRequestEntityTooLarge, map[string]any{"limit": tooLarge.Limit}
	case errors.As(err, &spanErr):
		return CodeInvalidSpan, http.StatusBadRequest, map[string]any{"index": spanErr.Index, "reason": spanErr.Reason}
	case errors.Is(err, redact.ErrEmptySelection):
		return CodeEmptySelection, http.StatusBadRequest, nil
	case errors.Is(err, redact.ErrInvalidEntityType):
		return CodeInvalidEntityType, http.StatusBadRequest, nil
	case errors.As(err, &overlapErr):
		return CodeManualTokenOverlap, http.StatusBadRequest, map[string]any{"token": overlapErr.Token}
	case errors.As(err, &noMatchErr):
		return CodeNoMatch, http.StatusUnprocessableEntity, nil
	case errors.As(err, &notPresent):
		return CodeOccurrenceNotPresent, http.StatusConflict, map[string]any{"token": notPresent.Token}
	case errors.As(err, &notFound):
		return CodeTokenNotFound, http.StatusNotFound, map[string]any{"token": notFound.Token}
	case errors.As(err, &conflictErr):
		return CodeValueConflict, http.StatusConflict, map[string]any{"token": conflictErr.Token}
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
		return CodeTokenMapNotFound, http.StatusNotFound, nil
	case errors.As(err, &detectErr):
		return CodeDetectionError, http.StatusBadGateway, nil
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout, http.StatusGatewayTimeout, nil
	default:
		return CodeInternal, http.StatusInternalServerError, nil
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, status, details := classify(err)
	s.metrics.RecordError(code)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.Errorf("request", "%s %s: %v", r.Method, r.URL.Path, err)
		if code == CodeInternal {
			msg = "internal error"
		}
	} else {
		s.log.Debugf("request", "%s %s: %s: %v", r.Method, r.URL.Path, code, err)
	}
	s.writeJSON(w, status, errorBody{Code: code, Message: msg, Details: details})
}
