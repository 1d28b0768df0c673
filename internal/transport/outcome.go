package transport

import "prohappy_backend/pkg/apperrors"

// Status is the tri-state result of a delivery as operators see it.
type Status string

const (
	StatusConfirmed         Status = "confirmed"
	StatusProbablySucceeded Status = "probably_succeeded"
	StatusFailed            Status = "failed"
)

// Class is the classification of a single attempt.
type Class string

const (
	ClassSuccess Class = "success"
	ClassClient  Class = "client_error"
	ClassServer  Class = "server_error"
	ClassNetwork Class = "network_error"
	ClassUnknown Class = "unknown_error"
)

// Retryable reports whether another attempt may succeed.
func (c Class) Retryable() bool {
	return c == ClassServer || c == ClassNetwork
}

const (
	MessageReceived  = "Your submission has been received. We will be in touch shortly."
	MessageUnknown   = "Something went wrong while sending your submission. Please try again later."
	MessageCancelled = "The submission was cancelled before it completed."
)

// Outcome is the final result of delivering one submission.
type Outcome struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	OrderID    string `json:"orderId,omitempty"`
	Status     Status `json:"status"`
	Class      Class  `json:"class"`
	Attempts   int    `json:"attempts"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Err        error  `json:"-"`
}

// Retryable reports whether the caller may offer a retry.
func (o Outcome) Retryable() bool {
	return !o.Success && o.Class.Retryable()
}

// FailedOutcome describes a delivery that could not be attempted at all.
func FailedOutcome(err error) Outcome {
	msg := MessageUnknown
	if appErr, ok := apperrors.AsAppError(err); ok {
		msg = appErr.Message
	}
	return Outcome{
		Success: false,
		Message: msg,
		Status:  StatusFailed,
		Class:   ClassUnknown,
		Err:     err,
	}
}
