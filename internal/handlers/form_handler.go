package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"prohappy_backend/internal/attachments"
	"prohappy_backend/internal/forms"
	"prohappy_backend/internal/logger"
	"prohappy_backend/internal/middleware"
	"prohappy_backend/internal/presenter"
	"prohappy_backend/internal/services"
	"prohappy_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

const (
	multipartMemory = 32 << 20
	smallBodyLimit  = 64 << 10
)

// ============================================
// FORM HANDLER
// ============================================

type FormHandler struct {
	*BaseHandler
	submissions services.SubmissionService
}

func NewFormHandler(base *BaseHandler, submissions services.SubmissionService) *FormHandler {
	return &FormHandler{
		BaseHandler: base,
		submissions: submissions,
	}
}

func (h *FormHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/forms", h.ListForms)
	r.POST("/gate/verify", middleware.BodyLimitMiddleware(smallBodyLimit), h.VerifyGate)
	r.POST("/forms/:kind", h.Submit)
	r.POST("/forms/:kind/submissions/:id/retry", middleware.BodyLimitMiddleware(smallBodyLimit), h.Retry)
}

// ============================================
// DTO
// ============================================

type PolicyResponse struct {
	MaxCount     int      `json:"maxCount"`
	MaxSizeBytes int64    `json:"maxSizeBytes"`
	MaxSize      string   `json:"maxSize"`
	AllowedTypes []string `json:"allowedTypes"`
}

type FormInfoResponse struct {
	Type   forms.Kind     `json:"type"`
	Title  string         `json:"title"`
	Policy PolicyResponse `json:"attachments"`
}

type VerifyGateRequest struct {
	Code     string `json:"code" validate:"required"`
	FormType string `json:"formType" validate:"required"`
}

// RetryRequest carries the access code the submission was sent with.
type RetryRequest struct {
	Code string `json:"code" validate:"required"`
}

// jsonFile is an attachment inlined in a JSON submission.
type jsonFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

// ============================================
// HANDLERS
// ============================================

// ListForms - типы форм и ограничения на вложения
func (h *FormHandler) ListForms(c *gin.Context) {
	out := make([]FormInfoResponse, 0, len(forms.Kinds()))
	for _, k := range forms.Kinds() {
		p := h.submissions.Policy(k)
		out = append(out, FormInfoResponse{
			Type:  k,
			Title: k.Title(),
			Policy: PolicyResponse{
				MaxCount:     p.MaxCount,
				MaxSizeBytes: p.MaxSizeBytes,
				MaxSize:      p.MaxSizeHuman(),
				AllowedTypes: p.AllowedTypes,
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{"forms": out})
}

// VerifyGate - проверка кода доступа без отправки формы
func (h *FormHandler) VerifyGate(c *gin.Context) {
	var req VerifyGateRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	kind, err := forms.ParseKind(req.FormType)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	if err := h.submissions.VerifyCode(c.Request.Context(), kind, req.Code); err != nil {
		if apperrors.Is(err, apperrors.ErrGateRejected) {
			h.RespondView(c, presenter.Gate(err), nil)
			return
		}
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "state": "unlocked"})
}

// Submit - отправка формы (multipart/form-data или JSON)
func (h *FormHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	kind, err := forms.ParseKind(c.Param("kind"))
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	p := h.submissions.Policy(kind)
	limit := int64(p.MaxCount)*p.MaxSizeBytes + multipartMemory
	if c.Request.ContentLength > limit {
		h.HandleServiceError(c, apperrors.ErrPayloadTooLarge)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	form, err := forms.NewForm(kind)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	var files []attachments.Attachment
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		files, err = h.bindMultipart(c, form)
	case "application/json":
		files, err = h.bindJSON(c, form)
	default:
		err = apperrors.NewBadRequestError("Content-Type must be multipart/form-data or application/json")
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = apperrors.ErrPayloadTooLarge
		}
		logger.CtxWarn(ctx, "Failed to read submission", "error", err.Error(), "form_kind", kind)
		h.HandleServiceError(c, err)
		return
	}

	result, err := h.submissions.Submit(ctx, services.SubmitRequest{
		Kind:      kind,
		Form:      form,
		Files:     files,
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	h.RespondView(c, result.View, result)
}

// Retry - повторная отправка неудачной заявки тем же пользователем
func (h *FormHandler) Retry(c *gin.Context) {
	kind, err := forms.ParseKind(c.Param("kind"))
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	var req RetryRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	logger.CtxDebug(ctx, "Retry requested", "form_kind", kind, "submission_id", c.Param("id"))

	result, err := h.submissions.Retry(ctx, kind, c.Param("id"), req.Code)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	h.RespondView(c, result.View, result)
}

func (h *FormHandler) bindMultipart(c *gin.Context, form forms.Form) ([]attachments.Attachment, error) {
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		return nil, wrapBodyError(err, "failed to parse form")
	}
	if err := c.ShouldBindWith(form, binding.FormMultipart); err != nil {
		return nil, apperrors.NewBadRequestError("Invalid form fields: " + err.Error())
	}

	headers := c.Request.MultipartForm.File["files"]
	files := make([]attachments.Attachment, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, apperrors.NewBadRequestError("failed to read file " + fh.Filename)
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, wrapBodyError(err, "failed to read file "+fh.Filename)
		}
		files = append(files, attachments.Attachment{
			Name:      fh.Filename,
			MediaType: fh.Header.Get("Content-Type"),
			Size:      int64(len(content)),
			Content:   content,
		})
	}
	return files, nil
}

func (h *FormHandler) bindJSON(c *gin.Context, form forms.Form) ([]attachments.Attachment, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, wrapBodyError(err, "failed to read body")
	}
	if err := json.Unmarshal(raw, form); err != nil {
		return nil, apperrors.NewBadRequestError("Invalid request body: " + err.Error())
	}

	var envelope struct {
		Files []jsonFile `json:"files"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, apperrors.NewBadRequestError("Invalid files: " + err.Error())
	}

	files := make([]attachments.Attachment, 0, len(envelope.Files))
	for _, jf := range envelope.Files {
		data := jf.Data
		// Browsers produce data URLs from FileReader.
		if i := strings.Index(data, ";base64,"); strings.HasPrefix(data, "data:") && i >= 0 {
			data = data[i+len(";base64,"):]
		}
		content, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, apperrors.NewBadRequestError("File " + jf.Name + " is not valid base64")
		}
		files = append(files, attachments.Attachment{
			Name:      jf.Name,
			MediaType: jf.Type,
			Size:      int64(len(content)),
			Content:   content,
		})
	}
	return files, nil
}

func wrapBodyError(err error, msg string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.ErrPayloadTooLarge
	}
	return apperrors.NewBadRequestError(msg + ": " + err.Error())
}
