// Package errors maps application errors onto the HTTP error envelope used
// by the status server.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/expinfo/pkg/jobregistry"
)

// Error codes carried in HTTPErrorResponse.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// HTTPErrorResponse is the JSON body of every error answer.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one error.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// AppError is an error that knows its HTTP status and envelope code.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewBadRequestError reports invalid request parameters.
func NewBadRequestError(message string, err error) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message, Err: err}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(message string) *AppError {
	return &AppError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

// NewServiceUnavailableError reports a dependency that cannot answer now.
func NewServiceUnavailableError(message string, details map[string]any) *AppError {
	return &AppError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Details: details}
}

// WrapInternal wraps err as an internal error with message.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	details := map[string]any{}
	if ctx != nil {
		if id := middleware.GetReqID(ctx); id != "" {
			details["request_id"] = id
		}
	}
	if len(details) == 0 {
		details = nil
	}
	return &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Details: details, Err: err}
}

// FromError classifies err. A busy registry lock is a 503; anything that is
// not already an *AppError is an internal error.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	if stderrors.Is(err, jobregistry.ErrAcquisitionTimeout) {
		return &AppError{
			Status:  http.StatusServiceUnavailable,
			Code:    CodeServiceUnavailable,
			Message: "registry busy",
			Err:     err,
		}
	}
	return &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal error", Err: err}
}

// RespondWithError writes err as an HTTPErrorResponse.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := FromError(err)
	msg := appErr.Message
	if appErr.Err != nil && appErr.Status != http.StatusInternalServerError {
		msg = appErr.Error()
	}
	var reqID string
	if r != nil {
		reqID = middleware.GetReqID(r.Context())
	}
	WriteError(w, appErr.Status, ErrorBody{
		Code:      appErr.Code,
		Message:   msg,
		Details:   appErr.Details,
		RequestID: reqID,
	})
}

// WriteError writes body with status.
func WriteError(w http.ResponseWriter, status int, body ErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}
