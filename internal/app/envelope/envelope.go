package envelope

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"chatgate/internal/domain/chat"
	"chatgate/internal/domain/identity"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Envelope is the uniform result shape every outbound event carries.
type Envelope struct {
	Status  Status `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func Success(code int, message string, data any) Envelope {
	if code == 0 {
		code = http.StatusOK
	}
	return Envelope{Status: StatusSuccess, Code: code, Message: message, Data: data}
}

func OK(message string, data any) Envelope {
	return Success(http.StatusOK, message, data)
}

func Created(message string, data any) Envelope {
	return Success(http.StatusCreated, message, data)
}

func Failure(code int, message string) Envelope {
	if code == 0 {
		code = http.StatusInternalServerError
	}
	return Envelope{Status: StatusFailure, Code: code, Message: message}
}

// FromError maps an error onto a failure envelope.
func FromError(err error) Envelope {
	if err == nil {
		return OK("ok", nil)
	}
	return Failure(CodeFor(err), err.Error())
}

func CodeFor(err error) int {
	var fieldErrs validator.ValidationErrors
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, chat.ErrValidation), errors.As(err, &fieldErrs):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrConsistency):
		return http.StatusConflict
	case errors.Is(err, chat.ErrUpstream), errors.Is(err, identity.ErrDirectoryUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (e Envelope) OK() bool {
	return e.Status == StatusSuccess
}
