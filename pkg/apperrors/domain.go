package apperrors

import (
	"net/http"
)

// ErrNotFound wraps a repository miss.
func ErrNotFound(err error) *AppError {
	return Wrap(err, CodeNotFound, "resource", "Resource not found", http.StatusNotFound)
}

// ErrInvalidState - операция недоступна в текущем состоянии формы.
func ErrInvalidState(message string) *AppError {
	return New(CodeInvalidState, "form", message, http.StatusConflict)
}

// --- Gate ---

// ErrGateRejected - код доступа неверного формата или отклонен политикой.
var ErrGateRejected = New(
	CodeGateRejected,
	"gate",
	"Access code rejected",
	http.StatusBadRequest,
)

// --- Forms ---

// ErrUnknownFormKind - неизвестный тип формы в URL.
var ErrUnknownFormKind = New(
	CodeUnknownFormKind,
	"form",
	"Unknown form type",
	http.StatusNotFound,
)

// ErrSubmissionInFlight - повторная отправка, пока предыдущая еще выполняется.
var ErrSubmissionInFlight = New(
	CodeSubmissionInFlight,
	"form",
	"A submission is already in progress",
	http.StatusConflict,
)

// --- Uploads ---

// ErrPayloadTooLarge - тело запроса превышает лимит формы.
var ErrPayloadTooLarge = New(
	CodePayloadTooLarge,
	"upload",
	"Request body exceeds the allowed upload size",
	http.StatusRequestEntityTooLarge,
)

// --- Transport ---

// ErrEndpointNotConfigured - для типа формы не задан webhook.
var ErrEndpointNotConfigured = New(
	CodeExternalServiceError,
	"transport",
	"Submission endpoint is not configured",
	http.StatusServiceUnavailable,
)
