package services

import (
	"prohappy_backend/internal/email"
	"prohappy_backend/internal/repositories"
	"prohappy_backend/internal/storage"
)

// ServiceContainer содержит все сервисы приложения.
type ServiceContainer struct {
	Submissions SubmissionService
	Recorder    *DeliveryRecorder
	Repo        repositories.SubmissionRepository
	Email       email.Provider  // nil, если SMTP не настроен
	Storage     storage.Storage // nil, если архив отключен
}
