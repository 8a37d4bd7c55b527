package app

import (
	"errors"
	"fmt"
	"net/http"

	"chronicle/annotations/internal/annotate"
	"chronicle/annotations/internal/export"
	"chronicle/annotations/internal/gitrepo"
	"chronicle/annotations/internal/store"
	"chronicle/annotations/internal/suggest"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errUnknownField = errors.New("unknown field")

// toDomainError translates errors of the engine and storage packages into
// the error envelope the API returns. Unknown errors map to nil.
func toDomainError(err error) *DomainError {
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, store.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, errUnknownField):
		return domainError(http.StatusNotFound, "FIELD_NOT_FOUND", "Field not found", nil)
	case errors.Is(err, gitrepo.ErrUnknownVersion):
		return domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil)
	case errors.Is(err, annotate.ErrUnknownThread):
		return domainError(http.StatusNotFound, "THREAD_NOT_FOUND", "Thread not found", nil)
	case errors.Is(err, annotate.ErrUnknownMessage):
		return domainError(http.StatusNotFound, "MESSAGE_NOT_FOUND", "Message not found", nil)
	case errors.Is(err, suggest.ErrNoDiff):
		return domainError(http.StatusNotFound, "SUGGESTION_NOT_FOUND", "Suggestion has no diff", nil)
	case errors.Is(err, annotate.ErrNotDrafting):
		return domainError(http.StatusConflict, "NOT_DRAFTING", "No draft in progress", nil)
	case errors.Is(err, annotate.ErrEmptySelection):
		return domainError(http.StatusUnprocessableEntity, "EMPTY_SELECTION", "Selection is empty", nil)
	case errors.Is(err, annotate.ErrInvalidEdit):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, annotate.ErrClosed):
		return domainError(http.StatusConflict, "FIELD_CLOSED", "Field is closed", nil)
	case errors.Is(err, export.ErrUnsupportedFormat):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported export format", nil)
	case errors.Is(err, export.ErrUnsupportedPaper):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported paper size", nil)
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available on this server", nil)
	case errors.Is(err, export.ErrUploadUnavailable):
		return domainError(http.StatusServiceUnavailable, "UPLOAD_UNAVAILABLE", "Export upload is not configured", nil)
	}
	return nil
}
