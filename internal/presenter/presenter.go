// Package presenter turns form-flow results into the single view a client
// renders.
package presenter

import (
	"net/http"

	"prohappy_backend/internal/forms"
	"prohappy_backend/internal/transport"
	"prohappy_backend/pkg/apperrors"
)

// ViewKind - тип отображаемого результата
type ViewKind string

const (
	KindValidationErrors ViewKind = "validation_errors"
	KindErrorPanel       ViewKind = "error_panel"
	KindSuccess          ViewKind = "success"
)

// View is exactly one of inline field errors, an error panel, or a success
// confirmation.
type View struct {
	Kind         ViewKind          `json:"kind"`
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	Fields       map[string]string `json:"fields,omitempty"`
	OrderID      string            `json:"orderId,omitempty"`
	Retryable    bool              `json:"retryable"`
	SubmissionID string            `json:"submissionId,omitempty"`
	HTTPStatus   int               `json:"-"`
}

// Validation renders field errors.
func Validation(vr forms.ValidationResult) View {
	fields := make(map[string]string, len(vr))
	for k, v := range vr {
		fields[k] = v
	}
	return View{
		Kind:       KindValidationErrors,
		Message:    "Please correct the highlighted fields.",
		Fields:     fields,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// Gate renders a rejected access code as an error on the code field.
func Gate(err error) View {
	msg := "Access code rejected"
	if appErr, ok := apperrors.AsAppError(err); ok {
		msg = appErr.Message
	}
	return View{
		Kind:       KindValidationErrors,
		Message:    msg,
		Fields:     map[string]string{"code": msg},
		HTTPStatus: http.StatusBadRequest,
	}
}

// Outcome renders a delivery result. Confirmed and probably-succeeded
// deliveries look the same to the user.
func Outcome(submissionID string, out transport.Outcome) View {
	if out.Success {
		return View{
			Kind:         KindSuccess,
			Success:      true,
			Message:      out.Message,
			OrderID:      out.OrderID,
			SubmissionID: submissionID,
			HTTPStatus:   http.StatusOK,
		}
	}

	v := View{
		Kind:         KindErrorPanel,
		Message:      out.Message,
		Retryable:    out.Retryable(),
		SubmissionID: submissionID,
	}
	switch out.Class {
	case transport.ClassClient:
		v.HTTPStatus = http.StatusBadRequest
	case transport.ClassServer, transport.ClassNetwork:
		v.HTTPStatus = http.StatusBadGateway
	default:
		v.HTTPStatus = http.StatusInternalServerError
	}
	if v.Message == "" {
		v.Message = transport.MessageUnknown
	}
	return v
}

// Error renders any other failure as an error panel.
func Error(err error) View {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		return View{Kind: KindErrorPanel, Message: transport.MessageUnknown, HTTPStatus: http.StatusInternalServerError}
	}
	v := View{Kind: KindErrorPanel, Message: appErr.Message, HTTPStatus: appErr.HTTPCode}
	if appErr.HTTPCode == http.StatusUnprocessableEntity {
		v.Kind = KindValidationErrors
		if fields, ok := appErr.Details.(map[string]string); ok {
			v.Fields = fields
		}
	}
	if v.HTTPStatus == 0 {
		v.HTTPStatus = http.StatusInternalServerError
	}
	return v
}
