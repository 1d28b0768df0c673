package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"prohappy_backend/internal/models"
)

// DefaultMemoryCapacity bounds the in-memory journal.
const DefaultMemoryCapacity = 5000

// MemorySubmissionRepository keeps records in process memory. It backs the
// service when no database is configured and in tests. Once capacity is
// reached the oldest delivered record is evicted, or the oldest record when
// nothing has been delivered.
type MemorySubmissionRepository struct {
	mu       sync.RWMutex
	records  map[string]models.SubmissionRecord
	order    []string
	capacity int
	now      func() time.Time
}

func NewMemorySubmissionRepository() *MemorySubmissionRepository {
	return NewMemorySubmissionRepositoryWithCapacity(DefaultMemoryCapacity)
}

func NewMemorySubmissionRepositoryWithCapacity(capacity int) *MemorySubmissionRepository {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemorySubmissionRepository{
		records:  make(map[string]models.SubmissionRecord),
		capacity: capacity,
		now:      time.Now,
	}
}

// Len returns the number of records held.
func (r *MemorySubmissionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *MemorySubmissionRepository) Create(ctx context.Context, rec *models.SubmissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if _, exists := r.records[rec.ID]; !exists {
		r.order = append(r.order, rec.ID)
	}
	r.records[rec.ID] = cloneRecord(*rec)
	for len(r.records) > r.capacity {
		r.evictOne()
	}
	return nil
}

// evictOne drops the oldest delivered record, falling back to the oldest one.
// Caller holds the lock.
func (r *MemorySubmissionRepository) evictOne() {
	victim := 0
	for i, id := range r.order {
		if r.records[id].Status.Delivered() {
			victim = i
			break
		}
	}
	delete(r.records, r.order[victim])
	r.order = append(r.order[:victim], r.order[victim+1:]...)
}

func (r *MemorySubmissionRepository) Claim(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrSubmissionNotFound
	}
	if rec.Status != models.SubmissionStatusFailed {
		return ErrSubmissionClaimed
	}
	rec.Status = models.SubmissionStatusPending
	rec.UpdatedAt = r.now()
	r.records[id] = rec
	return nil
}

func (r *MemorySubmissionRepository) Update(ctx context.Context, rec *models.SubmissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[rec.ID]
	if !ok {
		return ErrSubmissionNotFound
	}
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = r.now()
	r.records[rec.ID] = cloneRecord(*rec)
	return nil
}

func (r *MemorySubmissionRepository) FindByID(ctx context.Context, id string) (*models.SubmissionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (r *MemorySubmissionRepository) FindRedeliverable(ctx context.Context, limit, maxRedeliveries int) ([]models.SubmissionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.SubmissionRecord
	for _, rec := range r.records {
		if rec.Status != models.SubmissionStatusFailed || rec.Redeliveries >= maxRedeliveries {
			continue
		}
		if !isRedeliverableClass(rec.Class) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func isRedeliverableClass(class string) bool {
	for _, c := range redeliverableClasses {
		if c == class {
			return true
		}
	}
	return false
}

func cloneRecord(rec models.SubmissionRecord) models.SubmissionRecord {
	rec.Payload = append([]byte(nil), rec.Payload...)
	rec.Attachments = append([]byte(nil), rec.Attachments...)
	rec.Metadata = append([]byte(nil), rec.Metadata...)
	return rec
}
