package repositories

import (
	"context"
	"errors"

	"prohappy_backend/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrSubmissionNotFound возвращается, когда запись об отправке не найдена
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionClaimed возвращается, когда запись уже не в статусе failed:
	// ее забрал другой повтор или она доставлена
	ErrSubmissionClaimed = errors.New("submission is not failed or already claimed")
)

// Classes of failure that are worth delivering again.
var redeliverableClasses = []string{"server_error", "network_error"}

// SubmissionRepository определяет интерфейс для журнала отправок
type SubmissionRepository interface {
	// Create сохраняет новую запись
	Create(ctx context.Context, rec *models.SubmissionRecord) error

	// Update сохраняет все поля записи
	Update(ctx context.Context, rec *models.SubmissionRecord) error

	// Claim атомарно переводит неудачную запись в pending перед повтором
	Claim(ctx context.Context, id string) error

	// FindByID находит запись по ID
	FindByID(ctx context.Context, id string) (*models.SubmissionRecord, error)

	// FindRedeliverable возвращает неудачные отправки, которые можно повторить,
	// начиная с самых старых
	FindRedeliverable(ctx context.Context, limit, maxRedeliveries int) ([]models.SubmissionRecord, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository создает репозиторий поверх GORM
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Create(ctx context.Context, rec *models.SubmissionRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *submissionRepository) Update(ctx context.Context, rec *models.SubmissionRecord) error {
	result := r.db.WithContext(ctx).Model(rec).Select("*").Omit("created_at").Updates(rec)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

func (r *submissionRepository) Claim(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&models.SubmissionRecord{}).
		Where("id = ? AND status = ?", id, models.SubmissionStatusFailed).
		Update("status", models.SubmissionStatusPending)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubmissionClaimed
	}
	return nil
}

func (r *submissionRepository) FindByID(ctx context.Context, id string) (*models.SubmissionRecord, error) {
	var rec models.SubmissionRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *submissionRepository) FindRedeliverable(ctx context.Context, limit, maxRedeliveries int) ([]models.SubmissionRecord, error) {
	var recs []models.SubmissionRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND class IN ? AND redeliveries < ?", models.SubmissionStatusFailed, redeliverableClasses, maxRedeliveries).
		Order("created_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
