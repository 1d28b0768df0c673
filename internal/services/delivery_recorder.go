package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"prohappy_backend/internal/email"
	"prohappy_backend/internal/forms"
	"prohappy_backend/internal/logger"
	"prohappy_backend/internal/models"
	"prohappy_backend/internal/repositories"
	"prohappy_backend/internal/storage"
	"prohappy_backend/internal/transport"
)

// ErrNoStoredPayload is returned when a record cannot be redelivered because
// encoding never succeeded.
var ErrNoStoredPayload = errors.New("record has no stored payload")

// Deliverer encodes and posts payloads. *transport.Client implements it.
type Deliverer interface {
	Encode(sub *forms.Submission) (*transport.Payload, error)
	Deliver(ctx context.Context, p *transport.Payload) transport.Outcome
}

// Notifier is told about deliveries that ended in failure.
type Notifier interface {
	SubmissionFailed(ctx context.Context, alert email.FailureAlert) error
}

// DeliveryRecorder wraps a Deliverer and keeps a SubmissionRecord for every
// submission. The encoded payload is stored before the first attempt, so
// later retries and redeliveries send the same bytes.
type DeliveryRecorder struct {
	repo      repositories.SubmissionRepository
	deliverer Deliverer
	storage   storage.Storage
	notifier  Notifier
	now       func() time.Time
}

// NewDeliveryRecorder - storage и notifier могут быть nil
func NewDeliveryRecorder(repo repositories.SubmissionRepository, deliverer Deliverer, store storage.Storage, notifier Notifier) *DeliveryRecorder {
	return &DeliveryRecorder{
		repo:      repo,
		deliverer: deliverer,
		storage:   store,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Send implements formflow.Sender.
func (r *DeliveryRecorder) Send(ctx context.Context, sub *forms.Submission) transport.Outcome {
	ctx = logger.WithSubmissionID(ctx, sub.ID)
	ctx = logger.WithFormKind(ctx, string(sub.Kind))

	rec, payload, err := r.prepare(ctx, sub)
	if err != nil {
		out := transport.FailedOutcome(err)
		logger.CtxWithError(ctx, "Submission could not be encoded", err)
		if rec != nil {
			r.finish(ctx, rec, out, false)
		}
		return out
	}

	out := r.deliverer.Deliver(ctx, payload)
	if rec != nil {
		r.finish(ctx, rec, out, false)
	}
	return out
}

// Redeliver re-sends the stored payload of a failed record on behalf of the
// operator or the redelivery worker. It counts towards the redelivery cap.
func (r *DeliveryRecorder) Redeliver(ctx context.Context, rec *models.SubmissionRecord) (transport.Outcome, error) {
	return r.resend(ctx, rec, true)
}

// Retry re-sends the stored payload of a failed record on behalf of the
// person who submitted it.
func (r *DeliveryRecorder) Retry(ctx context.Context, rec *models.SubmissionRecord) (transport.Outcome, error) {
	return r.resend(ctx, rec, false)
}

// resend claims rec so no other retry or worker pass can send it at the same
// time, then delivers the stored bytes unchanged.
func (r *DeliveryRecorder) resend(ctx context.Context, rec *models.SubmissionRecord, counted bool) (transport.Outcome, error) {
	ctx = logger.WithSubmissionID(ctx, rec.ID)
	ctx = logger.WithFormKind(ctx, rec.Kind)

	if len(rec.Payload) == 0 || rec.Endpoint == "" {
		return transport.Outcome{}, ErrNoStoredPayload
	}
	if err := r.repo.Claim(ctx, rec.ID); err != nil {
		return transport.Outcome{}, err
	}
	rec.Status = models.SubmissionStatusPending

	payload := &transport.Payload{
		Kind:         forms.Kind(rec.Kind),
		SubmissionID: rec.ID,
		Endpoint:     rec.Endpoint,
		ContentType:  rec.ContentType,
		Body:         rec.Payload,
	}
	out := r.deliverer.Deliver(ctx, payload)
	if counted {
		rec.Redeliveries++
	}
	if err := r.finish(ctx, rec, out, true); err != nil {
		return out, err
	}
	return out, nil
}

// prepare returns the record and payload for sub. A record that already
// exists means this is a retry of the same capture: its stored payload wins.
func (r *DeliveryRecorder) prepare(ctx context.Context, sub *forms.Submission) (*models.SubmissionRecord, *transport.Payload, error) {
	existing, err := r.repo.FindByID(ctx, sub.ID)
	switch {
	case err == nil && len(existing.Payload) > 0:
		return existing, &transport.Payload{
			Kind:         sub.Kind,
			SubmissionID: sub.ID,
			Endpoint:     existing.Endpoint,
			ContentType:  existing.ContentType,
			Body:         existing.Payload,
		}, nil
	case err != nil && !errors.Is(err, repositories.ErrSubmissionNotFound):
		logger.CtxWithError(ctx, "Failed to look up submission record", err)
	}

	rec, isNew := existing, err != nil
	if isNew {
		rec = r.newRecord(sub)
		rec.Attachments = r.archive(ctx, sub)
	}

	payload, encErr := r.deliverer.Encode(sub)
	if encErr == nil {
		rec.Endpoint = payload.Endpoint
		rec.ContentType = payload.ContentType
		rec.Payload = payload.Body
	}

	if isNew {
		if err := r.repo.Create(ctx, rec); err != nil {
			// Delivery still goes ahead without bookkeeping.
			logger.CtxWithError(ctx, "Failed to store submission record", err)
			rec = nil
		}
	}
	return rec, payload, encErr
}

func (r *DeliveryRecorder) newRecord(sub *forms.Submission) *models.SubmissionRecord {
	meta, _ := json.Marshal(sub.Metadata)
	return &models.SubmissionRecord{
		BaseModel: models.BaseModel{ID: sub.ID},
		Kind:      string(sub.Kind),
		Code:      sub.Form.GateCode(),
		Email:     sub.Form.ContactEmail(),
		Status:    models.SubmissionStatusPending,
		Metadata:  meta,
	}
}

// archive stores attachments when storage is enabled. Failures are logged and
// never block delivery.
func (r *DeliveryRecorder) archive(ctx context.Context, sub *forms.Submission) []byte {
	infos := make([]models.AttachmentInfo, 0, len(sub.Attachments))
	for i, a := range sub.Attachments {
		info := models.AttachmentInfo{Name: a.Name, Type: a.MediaType, Size: a.Size}
		if r.storage != nil {
			key := storage.AttachmentKey(string(sub.Kind), sub.ID, i+1, a.Name)
			if err := r.storage.Save(ctx, key, bytes.NewReader(a.Content), a.MediaType); err != nil {
				logger.CtxWithError(ctx, "Failed to archive attachment", err, "file", a.Name)
			} else {
				info.StorageKey = key
			}
		}
		infos = append(infos, info)
	}
	raw, _ := json.Marshal(infos)
	return raw
}

func (r *DeliveryRecorder) finish(ctx context.Context, rec *models.SubmissionRecord, out transport.Outcome, redelivery bool) error {
	now := r.now().UTC()

	rec.Status = recordStatus(out)
	rec.Class = string(out.Class)
	rec.Attempts += out.Attempts
	rec.HTTPStatus = out.HTTPStatus
	rec.Message = out.Message
	if out.OrderID != "" {
		rec.OrderID = out.OrderID
	}
	if out.Success {
		rec.DeliveredAt = &now
	} else {
		rec.LastFailedAt = &now
	}
	if rec.Status.Delivered() {
		// Nothing will resend it; the payload holds personal data.
		rec.Payload = nil
	}

	err := r.repo.Update(ctx, rec)
	if err != nil {
		logger.CtxWithError(ctx, "Failed to update submission record", err)
	}

	switch rec.Status {
	case models.SubmissionStatusConfirmed:
		logger.CtxInfo(ctx, "Submission confirmed", "order_id", rec.OrderID, "attempts", out.Attempts)
	case models.SubmissionStatusProbablySucceeded:
		logger.CtxWarn(ctx, "Submission delivered without confirmation", "http_status", out.HTTPStatus, "attempts", out.Attempts)
	default:
		logger.CtxWarn(ctx, "Submission delivery failed", "class", out.Class, "http_status", out.HTTPStatus, "attempts", out.Attempts)
		if !redelivery {
			r.notify(ctx, rec, out)
		}
	}
	return err
}

func (r *DeliveryRecorder) notify(ctx context.Context, rec *models.SubmissionRecord, out transport.Outcome) {
	if r.notifier == nil {
		return
	}
	var files []models.AttachmentInfo
	_ = json.Unmarshal(rec.Attachments, &files)

	alert := email.FailureAlert{
		SubmissionID:    rec.ID,
		FormTitle:       forms.Kind(rec.Kind).Title(),
		Code:            rec.Code,
		Email:           rec.Email,
		Class:           rec.Class,
		HTTPStatus:      rec.HTTPStatus,
		Attempts:        rec.Attempts,
		Message:         rec.Message,
		AttachmentCount: len(files),
		Retryable:       out.Retryable(),
	}
	if err := r.notifier.SubmissionFailed(ctx, alert); err != nil {
		logger.CtxWithError(ctx, "Failed to send failure alert", err)
	}
}

func recordStatus(out transport.Outcome) models.SubmissionStatus {
	switch out.Status {
	case transport.StatusConfirmed:
		return models.SubmissionStatusConfirmed
	case transport.StatusProbablySucceeded:
		return models.SubmissionStatusProbablySucceeded
	default:
		return models.SubmissionStatusFailed
	}
}
