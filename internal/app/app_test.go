package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"prohappy_backend/internal/config"
	"prohappy_backend/internal/forms"
	"prohappy_backend/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults(config.EnvDevelopment)
	cfg.Server.StaticDir = t.TempDir()
	cfg.Redelivery.Enabled = false
	return cfg
}

func TestNew_InMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.AdminToken = "secret"

	a, err := New(cfg)
	require.NoError(t, err)
	assert.Nil(t, a.db)
	assert.Nil(t, a.worker)
	assert.Nil(t, a.services.Email)
	assert.Nil(t, a.services.Storage)

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/forms", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var body struct {
		Forms []json.RawMessage `json:"forms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Forms, 3)

	w = httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/submissions/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNew_WorkerEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redelivery.Enabled = true

	a, err := New(cfg)
	require.NoError(t, err)
	assert.NotNil(t, a.worker)
}

func TestNew_RejectsBadGatePolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gate.Policy = "magic"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewTransportClient(t *testing.T) {
	cfg := testConfig(t)
	cfg.Webhooks.Assignment.URL = "https://hooks.example.com/assignment"
	cfg.Webhooks.WorkerDeliverable.URL = "https://hooks.example.com/deliverable"

	client, err := NewTransportClient(cfg)
	require.NoError(t, err)

	ep, ok := client.Endpoint(forms.KindAssignment)
	require.True(t, ok)
	assert.Equal(t, transport.EncodingJSON, ep.Encoding)

	ep, ok = client.Endpoint(forms.KindWorkerDeliverable)
	require.True(t, ok)
	assert.Equal(t, transport.EncodingMultipart, ep.Encoding)

	_, ok = client.Endpoint(forms.KindChangeRequest)
	assert.False(t, ok)

	cfg.Webhooks.ChangeRequest.Encoding = "xml"
	_, err = NewTransportClient(cfg)
	assert.Error(t, err)
}
