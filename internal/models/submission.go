package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionRecord - журнал доставки одной отправленной формы
type SubmissionRecord struct {
	BaseModel
	Kind         string           `gorm:"not null;index"`
	Code         string           `gorm:"size:5;index"`
	Email        string           `gorm:"size:254"`
	Status       SubmissionStatus `gorm:"not null;index;default:'pending'"`
	Class        string           `gorm:"column:class"` // success, client_error, server_error, network_error, unknown_error
	Attempts     int              `gorm:"default:0"`
	Redeliveries int              `gorm:"default:0"`
	HTTPStatus   int              `gorm:"column:http_status"`
	Message      string           `gorm:"type:text"`
	OrderID      string           `gorm:"column:order_id;index"`

	// Payload is the exact body sent on every attempt. Cleared once delivered.
	Endpoint    string `gorm:"type:text"`
	ContentType string `gorm:"type:text"`
	Payload     []byte `gorm:"type:bytea"`

	Attachments  datatypes.JSON `gorm:"type:jsonb"` // []AttachmentInfo
	Metadata     datatypes.JSON `gorm:"type:jsonb"`
	DeliveredAt  *time.Time
	LastFailedAt *time.Time
}

func (SubmissionRecord) TableName() string {
	return "submission_records"
}

// AttachmentInfo describes one archived attachment.
type AttachmentInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Size       int64  `json:"size"`
	StorageKey string `json:"storageKey,omitempty"`
}
