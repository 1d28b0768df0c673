package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"prohappy_backend/internal/forms"
	"prohappy_backend/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSample_ValidForEveryKind(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	schema := forms.NewSchema(nil, func() time.Time { return now })

	for _, kind := range forms.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			sub, err := Sample(kind, now)
			require.NoError(t, err)
			assert.Equal(t, kind, sub.Kind)
			assert.Equal(t, SampleCode, sub.Form.GateCode())
			assert.True(t, schema.Validate(sub.Form).OK())
			require.Len(t, sub.Attachments, 1)
		})
	}

	_, err := Sample(forms.Kind("essay"), now)
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"orderId":"T-1"}`)
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	client := transport.New(transport.Options{
		Endpoints: map[forms.Kind]transport.Endpoint{
			forms.KindAssignment:    {URL: ok.URL, Encoding: transport.EncodingJSON},
			forms.KindChangeRequest: {URL: broken.URL, Encoding: transport.EncodingMultipart},
		},
		Timeout:    time.Second,
		MaxRetries: 3,
	})

	var out bytes.Buffer
	report := Run(context.Background(), client, forms.Kinds(), &out)

	require.Len(t, report.Checks, 3)
	assert.Equal(t, ResultPass, report.Checks[0].Result)
	assert.Equal(t, http.StatusOK, report.Checks[0].HTTPStatus)
	assert.Equal(t, ResultFail, report.Checks[1].Result)
	assert.Equal(t, transport.ClassServer, report.Checks[1].Class)
	assert.Equal(t, ResultSkip, report.Checks[2].Result)
	assert.True(t, report.Failed())

	mu.Lock()
	assert.Equal(t, 2, calls, "retries must be disabled")
	mu.Unlock()

	text := out.String()
	assert.Contains(t, text, "PASS  assignment")
	assert.Contains(t, text, "FAIL  change_request")
	assert.Contains(t, text, "SKIP  worker_deliverable")
	assert.Contains(t, text, "1 passed, 1 failed, 1 skipped")
}

func TestReport_SkipsDoNotFail(t *testing.T) {
	r := Report{Checks: []Check{{Result: ResultSkip}, {Result: ResultPass}}}
	assert.False(t, r.Failed())
	assert.Equal(t, 1, r.Count(ResultSkip))
}
