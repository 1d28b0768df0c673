package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"prohappy_backend/internal/attachments"
	"prohappy_backend/internal/formflow"
	"prohappy_backend/internal/forms"
	"prohappy_backend/internal/gate"
	"prohappy_backend/internal/logger"
	"prohappy_backend/internal/models"
	"prohappy_backend/internal/presenter"
	"prohappy_backend/internal/repositories"
	"prohappy_backend/internal/storage"
	"prohappy_backend/internal/transport"
	"prohappy_backend/pkg/apperrors"
)

// SubmitRequest is one form post as received from a client.
type SubmitRequest struct {
	Kind      forms.Kind
	Form      forms.Form
	Files     []attachments.Attachment
	UserAgent string
}

// SubmitResult - ответ клиенту: представление плюс сведения о файлах
type SubmitResult struct {
	View       presenter.View    `json:"result"`
	FileErrors map[string]string `json:"fileErrors,omitempty"`
	Notices    []string          `json:"notices,omitempty"`
}

// AttachmentDownload is an archived attachment opened for reading. The caller
// closes Body.
type AttachmentDownload struct {
	Info models.AttachmentInfo
	Size int64
	Body io.ReadCloser
}

// SubmissionService обрабатывает отправку форм
type SubmissionService interface {
	// Submit проверяет код, валидирует форму и файлы и отправляет заявку
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)

	// VerifyCode проверяет только код доступа
	VerifyCode(ctx context.Context, kind forms.Kind, code string) error

	// Get возвращает запись об отправке для оператора
	Get(ctx context.Context, id string) (*models.SubmissionRecord, error)

	// Retry повторно отправляет неудачную заявку по просьбе пользователя.
	// Доступ подтверждается кодом, с которым заявка была отправлена
	Retry(ctx context.Context, kind forms.Kind, id, code string) (*SubmitResult, error)

	// Redeliver повторно отправляет сохраненный payload неудачной заявки
	Redeliver(ctx context.Context, id string) (*models.SubmissionRecord, error)

	// OpenAttachment открывает n-й (с 1) архивированный файл заявки
	OpenAttachment(ctx context.Context, id string, n int) (*AttachmentDownload, error)

	// Policy возвращает ограничения на вложения для типа формы
	Policy(kind forms.Kind) attachments.Policy
}

// SubmissionServiceConfig wires a SubmissionService.
type SubmissionServiceConfig struct {
	GatePolicy  gate.Policy
	Schema      *forms.Schema
	Recorder    *DeliveryRecorder
	Repo        repositories.SubmissionRepository
	Storage     storage.Storage // nil when archiving is disabled
	Sanitizer   *TextSanitizer
	MaxFileSize int64 // overrides every per-kind default when > 0
	Environment string
	Version     string
	NewID       func() string
	Now         func() time.Time
}

type submissionService struct {
	cfg SubmissionServiceConfig
}

func NewSubmissionService(cfg SubmissionServiceConfig) SubmissionService {
	if cfg.Schema == nil {
		cfg.Schema = forms.NewSchema(nil, cfg.Now)
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = NewTextSanitizer()
	}
	return &submissionService{cfg: cfg}
}

func (s *submissionService) Policy(kind forms.Kind) attachments.Policy {
	p := forms.DefaultPolicy(kind)
	if s.cfg.MaxFileSize > 0 {
		p.MaxSizeBytes = s.cfg.MaxFileSize
	}
	return p
}

func (s *submissionService) VerifyCode(ctx context.Context, kind forms.Kind, code string) error {
	return gate.New(s.cfg.GatePolicy).Verify(ctx, code)
}

func (s *submissionService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	ctx = logger.WithFormKind(ctx, string(req.Kind))

	if req.Form == nil || req.Form.Kind() != req.Kind {
		return nil, apperrors.NewBadRequestError("Form body does not match the form type")
	}

	flowCfg := formflow.Config{
		Kind:   req.Kind,
		Gate:   gate.New(s.cfg.GatePolicy),
		Schema: s.cfg.Schema,
		Policy: s.Policy(req.Kind),
		Metadata: forms.Metadata{
			UserAgent:   req.UserAgent,
			Environment: s.cfg.Environment,
			Version:     s.cfg.Version,
		},
		NewID: s.cfg.NewID,
		Now:   s.cfg.Now,
	}
	if s.cfg.Recorder != nil {
		flowCfg.Sender = s.cfg.Recorder
	}
	ctrl, err := formflow.New(flowCfg)
	if err != nil {
		return nil, err
	}

	if err := ctrl.Verify(ctx, req.Form.GateCode()); err != nil {
		if apperrors.Is(err, apperrors.ErrGateRejected) {
			logger.CtxInfo(ctx, "Gate rejected submission")
			return &SubmitResult{View: presenter.Gate(err)}, nil
		}
		return nil, err
	}

	form := req.Form.Clone()
	s.cfg.Sanitizer.SanitizeForm(form)
	if err := ctrl.SetForm(form); err != nil {
		return nil, err
	}

	files, err := ctrl.AddFiles(req.Files)
	if err != nil {
		return nil, err
	}
	result := &SubmitResult{Notices: files.Notices}

	if len(files.Errors) > 0 {
		// A rejected file blocks the submission so it is never silently
		// sent without it. Field errors are reported alongside.
		current, _ := ctrl.Values()
		forms.Normalize(current)
		vr := s.cfg.Schema.Validate(current)
		vr["files"] = "One or more files were rejected"
		result.View = presenter.Validation(vr)
		result.FileErrors = files.Errors
		return result, nil
	}

	res, err := ctrl.Submit(ctx)
	if err != nil {
		return nil, err
	}
	if !res.Submitted() {
		result.View = presenter.Validation(res.Validation)
		return result, nil
	}

	result.View = presenter.Outcome(res.Submission.ID, res.Outcome)
	logger.CtxInfo(logger.WithSubmissionID(ctx, res.Submission.ID), "Submission processed",
		"status", res.Outcome.Status,
		"attempts", res.Outcome.Attempts,
		"files", len(res.Submission.Attachments))
	return result, nil
}

func (s *submissionService) Get(ctx context.Context, id string) (*models.SubmissionRecord, error) {
	rec, err := s.cfg.Repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrSubmissionNotFound) {
			return nil, apperrors.NewNotFoundError("submission", "Submission not found")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "submission", "Failed to load submission", http.StatusInternalServerError)
	}
	return rec, nil
}

func (s *submissionService) Redeliver(ctx context.Context, id string) (*models.SubmissionRecord, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.SubmissionStatusFailed {
		return nil, apperrors.ErrInvalidState("Only failed submissions can be redelivered")
	}
	if _, err := s.cfg.Recorder.Redeliver(ctx, rec); err != nil {
		return nil, resendError(err)
	}
	return rec, nil
}

func (s *submissionService) Retry(ctx context.Context, kind forms.Kind, id, code string) (*SubmitResult, error) {
	ctx = logger.WithSubmissionID(logger.WithFormKind(ctx, string(kind)), id)

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// A wrong code looks the same as an unknown id.
	if rec.Kind != string(kind) || rec.Code == "" || gate.NormalizeCode(code) != gate.NormalizeCode(rec.Code) {
		return nil, apperrors.NewNotFoundError("submission", "Submission not found")
	}

	switch {
	case rec.Status.Delivered():
		// Already through, possibly by the redelivery worker.
		return &SubmitResult{View: presenter.Outcome(rec.ID, deliveredOutcome(rec))}, nil
	case rec.Status == models.SubmissionStatusPending:
		return nil, apperrors.ErrSubmissionInFlight
	case !transport.Class(rec.Class).Retryable():
		return nil, apperrors.ErrInvalidState("This submission cannot be retried; please correct it and submit again")
	}

	out, err := s.cfg.Recorder.Retry(ctx, rec)
	if err != nil {
		return nil, resendError(err)
	}
	logger.CtxInfo(ctx, "Submission retried", "status", out.Status, "attempts", out.Attempts)
	return &SubmitResult{View: presenter.Outcome(rec.ID, out)}, nil
}

func (s *submissionService) OpenAttachment(ctx context.Context, id string, n int) (*AttachmentDownload, error) {
	if s.cfg.Storage == nil {
		return nil, apperrors.NewNotFoundError("attachment", "Attachment archive is disabled")
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var infos []models.AttachmentInfo
	if len(rec.Attachments) > 0 {
		if err := json.Unmarshal(rec.Attachments, &infos); err != nil {
			return nil, apperrors.InternalError(err)
		}
	}
	if n < 1 || n > len(infos) || infos[n-1].StorageKey == "" {
		return nil, apperrors.NewNotFoundError("attachment", "Attachment not found")
	}
	info := infos[n-1]

	ok, err := s.cfg.Storage.Exists(ctx, info.StorageKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeExternalServiceError, "attachment", "Failed to reach attachment archive", http.StatusBadGateway)
	}
	if !ok {
		return nil, apperrors.NewNotFoundError("attachment", "Archived file is no longer available")
	}
	size, err := s.cfg.Storage.Size(ctx, info.StorageKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeExternalServiceError, "attachment", "Failed to reach attachment archive", http.StatusBadGateway)
	}
	body, err := s.cfg.Storage.Get(ctx, info.StorageKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeExternalServiceError, "attachment", "Failed to reach attachment archive", http.StatusBadGateway)
	}
	return &AttachmentDownload{Info: info, Size: size, Body: body}, nil
}

func resendError(err error) error {
	switch {
	case errors.Is(err, ErrNoStoredPayload):
		return apperrors.ErrInvalidState("Submission has no stored payload to redeliver")
	case errors.Is(err, repositories.ErrSubmissionClaimed):
		return apperrors.ErrSubmissionInFlight
	default:
		return apperrors.InternalError(err)
	}
}

func deliveredOutcome(rec *models.SubmissionRecord) transport.Outcome {
	msg := rec.Message
	if msg == "" {
		msg = transport.MessageReceived
	}
	return transport.Outcome{
		Success:    true,
		Message:    msg,
		OrderID:    rec.OrderID,
		Status:     transport.Status(rec.Status),
		Class:      transport.ClassSuccess,
		Attempts:   rec.Attempts,
		HTTPStatus: rec.HTTPStatus,
	}
}
