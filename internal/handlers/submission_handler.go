package handlers

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"time"

	"prohappy_backend/internal/logger"
	"prohappy_backend/internal/middleware"
	"prohappy_backend/internal/models"
	"prohappy_backend/internal/services"
	"prohappy_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

// SubmissionHandler exposes delivery records to operators.
type SubmissionHandler struct {
	*BaseHandler
	submissions services.SubmissionService
	adminToken  string
}

func NewSubmissionHandler(base *BaseHandler, submissions services.SubmissionService, adminToken string) *SubmissionHandler {
	return &SubmissionHandler{
		BaseHandler: base,
		submissions: submissions,
		adminToken:  adminToken,
	}
}

// RegisterRoutes registers nothing when no admin token is configured.
func (h *SubmissionHandler) RegisterRoutes(r *gin.RouterGroup) {
	if h.adminToken == "" {
		return
	}
	subs := r.Group("/submissions")
	subs.Use(middleware.AdminTokenMiddleware(h.adminToken))
	{
		subs.GET("/:id", h.GetSubmission)
		subs.POST("/:id/redeliver", h.Redeliver)
		subs.GET("/:id/attachments/:n", h.DownloadAttachment)
	}
}

// ============================================
// DTO
// ============================================

type SubmissionRecordResponse struct {
	ID           string                  `json:"id"`
	Kind         string                  `json:"formType"`
	Email        string                  `json:"email,omitempty"`
	Status       models.SubmissionStatus `json:"status"`
	Class        string                  `json:"class,omitempty"`
	Attempts     int                     `json:"attempts"`
	Redeliveries int                     `json:"redeliveries"`
	HTTPStatus   int                     `json:"httpStatus,omitempty"`
	Message      string                  `json:"message,omitempty"`
	OrderID      string                  `json:"orderId,omitempty"`
	Endpoint     string                  `json:"endpoint"`
	ContentType  string                  `json:"contentType"`
	PayloadBytes int                     `json:"payloadBytes"`
	Attachments  []models.AttachmentInfo `json:"attachments"`
	Metadata     json.RawMessage         `json:"metadata,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
	UpdatedAt    time.Time               `json:"updatedAt"`
	DeliveredAt  *time.Time              `json:"deliveredAt,omitempty"`
	LastFailedAt *time.Time              `json:"lastFailedAt,omitempty"`
}

func newSubmissionRecordResponse(rec *models.SubmissionRecord) SubmissionRecordResponse {
	resp := SubmissionRecordResponse{
		ID:           rec.ID,
		Kind:         rec.Kind,
		Email:        rec.Email,
		Status:       rec.Status,
		Class:        rec.Class,
		Attempts:     rec.Attempts,
		Redeliveries: rec.Redeliveries,
		HTTPStatus:   rec.HTTPStatus,
		Message:      rec.Message,
		OrderID:      rec.OrderID,
		Endpoint:     rec.Endpoint,
		ContentType:  rec.ContentType,
		PayloadBytes: len(rec.Payload),
		Attachments:  []models.AttachmentInfo{},
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		DeliveredAt:  rec.DeliveredAt,
		LastFailedAt: rec.LastFailedAt,
	}
	if len(rec.Attachments) > 0 {
		_ = json.Unmarshal(rec.Attachments, &resp.Attachments)
	}
	if len(rec.Metadata) > 0 {
		resp.Metadata = json.RawMessage(rec.Metadata)
	}
	return resp
}

// ============================================
// HANDLERS
// ============================================

func (h *SubmissionHandler) GetSubmission(c *gin.Context) {
	rec, err := h.submissions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSubmissionRecordResponse(rec))
}

// Redeliver - повторная отправка сохраненного payload
func (h *SubmissionHandler) Redeliver(c *gin.Context) {
	rec, err := h.submissions.Redeliver(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSubmissionRecordResponse(rec))
}

// DownloadAttachment - скачивание архивированного вложения по номеру (с 1)
func (h *SubmissionHandler) DownloadAttachment(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		h.HandleServiceError(c, apperrors.NewBadRequestError("Attachment number must be an integer"))
		return
	}

	dl, err := h.submissions.OpenAttachment(c.Request.Context(), c.Param("id"), n)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	defer func() {
		if err := dl.Body.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close archived attachment", "key", dl.Info.StorageKey)
		}
	}()

	contentType := dl.Info.Type
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, dl.Size, contentType, dl.Body, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": dl.Info.Name}),
	})
}
