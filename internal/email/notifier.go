package email

import (
	"context"
	"fmt"

	"prohappy_backend/internal/logger"
)

// FailureAlert describes a submission that could not be delivered.
type FailureAlert struct {
	SubmissionID    string
	FormTitle       string
	Code            string
	Email           string
	Class           string
	HTTPStatus      int
	Attempts        int
	Message         string
	AttachmentCount int
	Retryable       bool
}

// AlertNotifier e-mails operators about failed deliveries.
type AlertNotifier struct {
	provider Provider
	renderer TemplateRenderer
	to       []string
}

func NewAlertNotifier(provider Provider, renderer TemplateRenderer, to ...string) *AlertNotifier {
	return &AlertNotifier{provider: provider, renderer: renderer, to: to}
}

// SubmissionFailed sends one alert. ctx is used only for logging.
func (n *AlertNotifier) SubmissionFailed(ctx context.Context, alert FailureAlert) error {
	body, err := n.renderer.Render("submission_failed", TemplateData{
		"SubmissionID":    alert.SubmissionID,
		"FormTitle":       alert.FormTitle,
		"Code":            alert.Code,
		"Email":           alert.Email,
		"Class":           alert.Class,
		"HTTPStatus":      alert.HTTPStatus,
		"Attempts":        alert.Attempts,
		"Message":         alert.Message,
		"AttachmentCount": alert.AttachmentCount,
		"Retryable":       alert.Retryable,
	})
	if err != nil {
		return err
	}

	msg := &Email{
		To:       n.to,
		Subject:  fmt.Sprintf("[ProHappy] %s delivery failed (%s)", alert.FormTitle, alert.SubmissionID),
		HTMLBody: body,
	}
	if err := n.provider.Send(msg); err != nil {
		return err
	}

	logger.CtxInfo(ctx, "Failure alert sent", "submission_id", alert.SubmissionID, "recipients", len(n.to))
	return nil
}
