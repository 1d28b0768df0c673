package workers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"prohappy_backend/internal/models"
	"prohappy_backend/internal/repositories"
	"prohappy_backend/internal/services"
	"prohappy_backend/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// keep-alive connections of httptest servers close asynchronously
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func failedRecord(id, class string, redeliveries int, endpoint string) *models.SubmissionRecord {
	rec := &models.SubmissionRecord{
		Kind:         "assignment",
		Code:         "ABC12",
		Status:       models.SubmissionStatusFailed,
		Class:        class,
		Attempts:     3,
		Redeliveries: redeliveries,
		Endpoint:     endpoint,
		ContentType:  "application/json",
		Payload:      []byte(`{"formType":"assignment","submissionId":"` + id + `"}`),
	}
	rec.ID = id
	return rec
}

type stubStore struct {
	records []models.SubmissionRecord
	err     error
}

func (s *stubStore) FindRedeliverable(ctx context.Context, limit, maxRedeliveries int) ([]models.SubmissionRecord, error) {
	return s.records, s.err
}

type stubRedeliverer struct {
	calls atomic.Int32
	out   transport.Outcome
	err   error
}

func (s *stubRedeliverer) Redeliver(ctx context.Context, rec *models.SubmissionRecord) (transport.Outcome, error) {
	s.calls.Add(1)
	return s.out, s.err
}

func TestRunOnce_RedeliversStoredPayload(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies [][]byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"orderId":"PH-9"}`)
	}))
	defer srv.Close()

	ctx := context.Background()
	repo := repositories.NewMemorySubmissionRepository()
	server := failedRecord("00000000-0000-0000-0000-000000000001", string(transport.ClassServer), 0, srv.URL)
	client := failedRecord("00000000-0000-0000-0000-000000000002", string(transport.ClassClient), 0, srv.URL)
	exhausted := failedRecord("00000000-0000-0000-0000-000000000003", string(transport.ClassNetwork), DefaultMaxRedeliveries, srv.URL)
	for _, rec := range []*models.SubmissionRecord{server, client, exhausted} {
		require.NoError(t, repo.Create(ctx, rec))
	}

	httpClient := transport.New(transport.Options{
		Timeout: time.Second,
		Sleep:   func(ctx context.Context, d time.Duration) error { return nil },
	})
	defer httpClient.CloseIdleConnections()
	recorder := services.NewDeliveryRecorder(repo, httpClient, nil, nil)

	w := NewRedeliveryWorker(repo, recorder, RedeliveryConfig{})
	stats, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunStats{Found: 1, Delivered: 1}, stats)

	mu.Lock()
	require.Len(t, bodies, 1)
	assert.Equal(t, server.Payload, bodies[0])
	mu.Unlock()

	got, err := repo.FindByID(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusConfirmed, got.Status)
	assert.Equal(t, "PH-9", got.OrderID)
	assert.Equal(t, 1, got.Redeliveries)

	untouched, err := repo.FindByID(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusFailed, untouched.Status)
	assert.Zero(t, untouched.Redeliveries)
}

func TestRunOnce_CountsFailures(t *testing.T) {
	store := &stubStore{records: []models.SubmissionRecord{
		*failedRecord("a", string(transport.ClassNetwork), 0, "http://example.invalid"),
		*failedRecord("b", string(transport.ClassNetwork), 1, "http://example.invalid"),
	}}
	red := &stubRedeliverer{out: transport.Outcome{Status: transport.StatusFailed, Class: transport.ClassNetwork}}

	stats, err := NewRedeliveryWorker(store, red, RedeliveryConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{Found: 2, Failed: 2}, stats)
	assert.EqualValues(t, 2, red.calls.Load())
}

func TestRunOnce_RedelivererErrorContinues(t *testing.T) {
	store := &stubStore{records: []models.SubmissionRecord{
		*failedRecord("a", string(transport.ClassServer), 0, ""),
		*failedRecord("b", string(transport.ClassServer), 0, ""),
	}}
	red := &stubRedeliverer{err: services.ErrNoStoredPayload}

	stats, err := NewRedeliveryWorker(store, red, RedeliveryConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Failed)
	assert.EqualValues(t, 2, red.calls.Load())
}

func TestRunOnce_StoreError(t *testing.T) {
	store := &stubStore{err: errors.New("connection refused")}
	red := &stubRedeliverer{}

	_, err := NewRedeliveryWorker(store, red, RedeliveryConfig{}).RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Zero(t, red.calls.Load())
}

func TestRunOnce_StopsOnCancelledContext(t *testing.T) {
	store := &stubStore{records: []models.SubmissionRecord{
		*failedRecord("a", string(transport.ClassServer), 0, ""),
	}}
	red := &stubRedeliverer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRedeliveryWorker(store, red, RedeliveryConfig{}).RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, red.calls.Load())
}

func TestStartStop(t *testing.T) {
	w := NewRedeliveryWorker(&stubStore{}, &stubRedeliverer{}, RedeliveryConfig{Schedule: "@every 1h"})
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestStart_InvalidSchedule(t *testing.T) {
	w := NewRedeliveryWorker(&stubStore{}, &stubRedeliverer{}, RedeliveryConfig{Schedule: "every now and then"})
	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redelivery schedule")
}

func TestRunOnce_SkipsClaimedRecords(t *testing.T) {
	store := &stubStore{records: []models.SubmissionRecord{
		*failedRecord("a", string(transport.ClassServer), 0, "http://example.invalid"),
	}}
	red := &stubRedeliverer{err: repositories.ErrSubmissionClaimed}

	stats, err := NewRedeliveryWorker(store, red, RedeliveryConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{Found: 1, Skipped: 1}, stats)
}

func TestRunOnce_AfterUserRetryDeliversNothingMore(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"orderId":"PH-10"}`)
	}))
	defer srv.Close()

	ctx := context.Background()
	repo := repositories.NewMemorySubmissionRepository()
	rec := failedRecord("00000000-0000-0000-0000-000000000010", string(transport.ClassServer), 0, srv.URL)
	require.NoError(t, repo.Create(ctx, rec))

	httpClient := transport.New(transport.Options{
		Timeout: time.Second,
		Sleep:   func(ctx context.Context, d time.Duration) error { return nil },
	})
	defer httpClient.CloseIdleConnections()
	recorder := services.NewDeliveryRecorder(repo, httpClient, nil, nil)

	// The worker lists the record before the user retries it.
	stale, err := repo.FindRedeliverable(ctx, DefaultBatchSize, DefaultMaxRedeliveries)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	userCopy, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	out, err := recorder.Retry(ctx, userCopy)
	require.NoError(t, err)
	require.True(t, out.Success)

	stats, err := NewRedeliveryWorker(&stubStore{records: stale}, recorder, RedeliveryConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunStats{Found: 1, Skipped: 1}, stats)

	stats, err = NewRedeliveryWorker(repo, recorder, RedeliveryConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunStats{}, stats)

	assert.EqualValues(t, 1, hits.Load())

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusConfirmed, got.Status)
	assert.Zero(t, got.Redeliveries)
	assert.Empty(t, got.Payload)
}
