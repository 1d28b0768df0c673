package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"prohappy_backend/internal/forms"
	"prohappy_backend/internal/middleware"
	"prohappy_backend/internal/models"
	"prohappy_backend/internal/repositories"
	"prohappy_backend/internal/services"
	"prohappy_backend/internal/storage"
	"prohappy_backend/internal/transport"
	"prohappy_backend/internal/workers"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "operator-secret"

type hookServer struct {
	mu     sync.Mutex
	status int
	reply  string
	calls  int
}

func (h *hookServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	h.mu.Lock()
	h.calls++
	status, reply := h.status, h.reply
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, reply)
}

func (h *hookServer) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *hookServer) set(status int, reply string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status, h.reply = status, reply
}

type testApp struct {
	router   *gin.Engine
	hook     *hookServer
	repo     *repositories.MemorySubmissionRepository
	recorder *services.DeliveryRecorder
	static   string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hook := &hookServer{status: http.StatusOK, reply: `{"success":true,"orderId":"PH-42"}`}
	srv := httptest.NewServer(hook)
	t.Cleanup(srv.Close)

	client := transport.New(transport.Options{
		Endpoints: map[forms.Kind]transport.Endpoint{
			forms.KindAssignment:    {URL: srv.URL, Encoding: transport.EncodingJSON},
			forms.KindChangeRequest: {URL: srv.URL, Encoding: transport.EncodingMultipart},
		},
		Timeout:    time.Second,
		MaxRetries: 1,
		Sleep:      func(ctx context.Context, d time.Duration) error { return nil },
	})
	t.Cleanup(client.CloseIdleConnections)

	archive, err := storage.NewLocalStorage(storage.Config{BasePath: t.TempDir()})
	require.NoError(t, err)

	repo := repositories.NewMemorySubmissionRepository()
	recorder := services.NewDeliveryRecorder(repo, client, archive, nil)
	now := func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	seq := 0
	svc := services.NewSubmissionService(services.SubmissionServiceConfig{
		Schema:   forms.NewSchema(nil, now),
		Recorder: recorder,
		Repo:     repo,
		Storage:  archive,
		NewID: func() string {
			seq++
			return fmt.Sprintf("00000000-0000-0000-0000-%012d", seq)
		},
		Now: now,
	})

	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>home</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(static, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(static, "assets", "app.js"), []byte("console.log(1)"), 0o644))

	base := NewBaseHandler(nil)
	r := gin.New()
	r.Use(middleware.RequestIDMiddleware())
	api := r.Group("/api/v1")
	NewFormHandler(base, svc).RegisterRoutes(api)
	NewSubmissionHandler(base, svc, testAdminToken).RegisterRoutes(api)
	NewStaticHandler(static, "test", "development").RegisterRoutes(r)

	return &testApp{router: r, hook: hook, repo: repo, recorder: recorder, static: static}
}

func (a *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func assignmentBody() map[string]interface{} {
	return map[string]interface{}{
		"code":        "ABC12",
		"fullName":    "Jane Student",
		"email":       "jane@example.com",
		"moduleName":  "Databases",
		"acceptTerms": true,
	}
}

func TestListForms(t *testing.T) {
	a := newTestApp(t)

	w := a.do(httptest.NewRequest(http.MethodGet, "/api/v1/forms", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Forms []FormInfoResponse `json:"forms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Forms, 3)
	assert.Equal(t, forms.KindChangeRequest, resp.Forms[1].Type)
	assert.Equal(t, 5, resp.Forms[1].Policy.MaxCount)
	assert.Equal(t, int64(100*1024*1024), resp.Forms[2].Policy.MaxSizeBytes)
}

func TestVerifyGate(t *testing.T) {
	a := newTestApp(t)

	t.Run("accepted", func(t *testing.T) {
		w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/gate/verify", VerifyGateRequest{Code: "abc12", FormType: "assignment"}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "unlocked", decode(t, w)["state"])
	})

	t.Run("malformed code", func(t *testing.T) {
		w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/gate/verify", VerifyGateRequest{Code: "ab", FormType: "assignment"}))
		require.Equal(t, http.StatusBadRequest, w.Code)
		fields := decode(t, w)["fields"].(map[string]interface{})
		assert.Contains(t, fields["code"], "exactly 5 characters")
	})

	t.Run("unknown form type", func(t *testing.T) {
		w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/gate/verify", VerifyGateRequest{Code: "abc12", FormType: "essay"}))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/gate/verify", map[string]string{}))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestSubmit_JSON(t *testing.T) {
	a := newTestApp(t)

	body := assignmentBody()
	body["files"] = []map[string]string{{
		"name": "brief.pdf",
		"type": "application/pdf",
		"data": "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 brief")),
	}}

	w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/forms/assignment", body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	result := decode(t, w)["result"].(map[string]interface{})
	assert.Equal(t, "success", result["kind"])
	assert.Equal(t, "PH-42", result["orderId"])
	assert.Equal(t, 1, a.hook.count())

	rec, err := a.repo.FindByID(context.Background(), result["submissionId"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusConfirmed, rec.Status)
}

func TestSubmit_Multipart(t *testing.T) {
	a := newTestApp(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"code":        "ABC12",
		"fullName":    "Jane Student",
		"email":       "jane@example.com",
		"moduleName":  "Databases",
		"acceptTerms": "true",
	} {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("files", "brief.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 brief"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/forms/assignment", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := a.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", decode(t, w)["result"].(map[string]interface{})["kind"])
}

func TestSubmit_ValidationErrors(t *testing.T) {
	a := newTestApp(t)

	body := assignmentBody()
	body["email"] = "not-an-email"
	body["acceptTerms"] = false

	w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/forms/assignment", body))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	result := decode(t, w)["result"].(map[string]interface{})
	assert.Equal(t, "validation_errors", result["kind"])
	fields := result["fields"].(map[string]interface{})
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "acceptTerms")
	assert.Zero(t, a.hook.count())
}

func TestSubmit_RejectedFileBlocks(t *testing.T) {
	a := newTestApp(t)

	body := assignmentBody()
	body["files"] = []map[string]string{{"name": "empty.pdf", "type": "application/pdf", "data": ""}}

	w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/forms/assignment", body))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	resp := decode(t, w)
	assert.Contains(t, resp["fileErrors"], "empty.pdf")
	assert.Zero(t, a.hook.count())
}

func TestSubmit_ServerErrorIsRetryable(t *testing.T) {
	a := newTestApp(t)
	a.hook.set(http.StatusServiceUnavailable, `{"error":"down"}`)

	w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/forms/assignment", assignmentBody()))
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())

	result := decode(t, w)["result"].(map[string]interface{})
	assert.Equal(t, "error_panel", result["kind"])
	assert.Equal(t, true, result["retryable"])
	assert.Equal(t, 2, a.hook.count())
}

func TestRetry_ThenWorkerPassDeliversOnce(t *testing.T) {
	a := newTestApp(t)
	a.hook.set(http.StatusServiceUnavailable, `{"error":"down"}`)

	w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/forms/assignment", assignmentBody()))
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	id := decode(t, w)["result"].(map[string]interface{})["submissionId"].(string)
	require.Equal(t, 2, a.hook.count())

	retryPath := "/api/v1/forms/assignment/submissions/" + id + "/retry"

	t.Run("wrong code", func(t *testing.T) {
		w := a.do(jsonRequest(t, http.MethodPost, retryPath, RetryRequest{Code: "ZZZ99"}))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("wrong form type", func(t *testing.T) {
		path := "/api/v1/forms/change_request/submissions/" + id + "/retry"
		w := a.do(jsonRequest(t, http.MethodPost, path, RetryRequest{Code: "ABC12"}))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing code", func(t *testing.T) {
		w := a.do(jsonRequest(t, http.MethodPost, retryPath, map[string]string{}))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
	require.Equal(t, 2, a.hook.count())

	a.hook.set(http.StatusOK, `{"success":true,"orderId":"PH-51"}`)
	w = a.do(jsonRequest(t, http.MethodPost, retryPath, RetryRequest{Code: "abc12"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode(t, w)["result"].(map[string]interface{})
	assert.Equal(t, "success", result["kind"])
	assert.Equal(t, "PH-51", result["orderId"])
	assert.Equal(t, id, result["submissionId"])
	assert.Equal(t, 3, a.hook.count())

	// A second tap returns the stored result without sending again.
	w = a.do(jsonRequest(t, http.MethodPost, retryPath, RetryRequest{Code: "ABC12"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "PH-51", decode(t, w)["result"].(map[string]interface{})["orderId"])

	stats, err := workers.NewRedeliveryWorker(a.repo, a.recorder, workers.RedeliveryConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Found)
	assert.Equal(t, 3, a.hook.count())

	rec, err := a.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusConfirmed, rec.Status)
	assert.Empty(t, rec.Payload)
}

func TestRetry_ClientErrorIsNotRetried(t *testing.T) {
	a := newTestApp(t)
	a.hook.set(http.StatusBadRequest, `{"error":"bad module"}`)

	w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/forms/assignment", assignmentBody()))
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	id := decode(t, w)["result"].(map[string]interface{})["submissionId"].(string)
	calls := a.hook.count()

	w = a.do(jsonRequest(t, http.MethodPost, "/api/v1/forms/assignment/submissions/"+id+"/retry", RetryRequest{Code: "ABC12"}))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, calls, a.hook.count())
}

func TestSubmit_BadRequests(t *testing.T) {
	a := newTestApp(t)

	t.Run("unknown kind", func(t *testing.T) {
		w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/forms/essay", assignmentBody()))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unsupported content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/forms/assignment", strings.NewReader("code=ABC12"))
		req.Header.Set("Content-Type", "text/plain")
		assert.Equal(t, http.StatusBadRequest, a.do(req).Code)
	})

	t.Run("declared body too large", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPost, "/api/v1/forms/assignment", assignmentBody())
		req.ContentLength = 1 << 40
		assert.Equal(t, http.StatusRequestEntityTooLarge, a.do(req).Code)
	})

	t.Run("invalid base64", func(t *testing.T) {
		body := assignmentBody()
		body["files"] = []map[string]string{{"name": "a.pdf", "data": "%%%"}}
		w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/forms/assignment", body))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSubmissionRoutes(t *testing.T) {
	a := newTestApp(t)
	a.hook.set(http.StatusInternalServerError, `{}`)

	w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/forms/assignment", assignmentBody()))
	require.Equal(t, http.StatusBadGateway, w.Code)
	id := decode(t, w)["result"].(map[string]interface{})["submissionId"].(string)

	t.Run("requires token", func(t *testing.T) {
		w := a.do(httptest.NewRequest(http.MethodGet, "/api/v1/submissions/"+id, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("get", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/submissions/"+id, nil)
		req.Header.Set(middleware.AdminTokenHeader, testAdminToken)
		w := a.do(req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var rec SubmissionRecordResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
		assert.Equal(t, models.SubmissionStatusFailed, rec.Status)
		assert.Equal(t, 2, rec.Attempts)
		assert.Positive(t, rec.PayloadBytes)
	})

	t.Run("redeliver", func(t *testing.T) {
		a.hook.set(http.StatusOK, `{"success":true,"orderId":"PH-77"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/"+id+"/redeliver", nil)
		req.Header.Set(middleware.AdminTokenHeader, testAdminToken)
		w := a.do(req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var rec SubmissionRecordResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
		assert.Equal(t, models.SubmissionStatusConfirmed, rec.Status)
		assert.Equal(t, "PH-77", rec.OrderID)
		assert.Equal(t, 1, rec.Redeliveries)
	})

	t.Run("redeliver confirmed conflicts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/"+id+"/redeliver", nil)
		req.Header.Set(middleware.AdminTokenHeader, testAdminToken)
		assert.Equal(t, http.StatusConflict, a.do(req).Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/submissions/00000000-0000-0000-0000-999999999999", nil)
		req.Header.Set(middleware.AdminTokenHeader, testAdminToken)
		assert.Equal(t, http.StatusNotFound, a.do(req).Code)
	})
}

func TestSubmissionRoutes_DownloadAttachment(t *testing.T) {
	a := newTestApp(t)

	body := assignmentBody()
	body["files"] = []map[string]string{{
		"name": "brief.pdf",
		"type": "application/pdf",
		"data": base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 brief")),
	}}
	w := a.do(jsonRequest(t, http.MethodPost, "/api/v1/forms/assignment", body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := decode(t, w)["result"].(map[string]interface{})["submissionId"].(string)

	get := func(n string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/submissions/"+id+"/attachments/"+n, nil)
		req.Header.Set(middleware.AdminTokenHeader, testAdminToken)
		return a.do(req)
	}

	w = get("1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "%PDF-1.4 brief", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "brief.pdf")
	assert.Equal(t, "14", w.Header().Get("Content-Length"))

	assert.Equal(t, http.StatusNotFound, get("2").Code)
	assert.Equal(t, http.StatusBadRequest, get("first").Code)
}

func TestSubmissionRoutes_DisabledWithoutToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewSubmissionHandler(NewBaseHandler(nil), nil, "").RegisterRoutes(r.Group("/api/v1"))
	assert.Empty(t, r.Routes())
}

func TestStaticHandler(t *testing.T) {
	a := newTestApp(t)

	t.Run("health", func(t *testing.T) {
		w := a.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", decode(t, w)["status"])
	})

	t.Run("asset", func(t *testing.T) {
		w := a.do(httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "console.log(1)", w.Body.String())
		assert.Contains(t, w.Header().Get("Cache-Control"), "immutable")
	})

	t.Run("spa fallback", func(t *testing.T) {
		w := a.do(httptest.NewRequest(http.MethodGet, "/services/assignments", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "home")
	})

	t.Run("unknown api path", func(t *testing.T) {
		w := a.do(httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), `"code":"NOT_FOUND"`)
	})
}
