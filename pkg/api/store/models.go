package store

import (
	"time"
)

// DispatchRecord is one subscription create request and its outcome.
type DispatchRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ProjectID       string    `gorm:"index;not null" json:"project_id"`
	ConfigurationID string    `gorm:"not null" json:"configuration_id"`
	Event           string    `gorm:"not null" json:"event"`
	Recipient       string    `gorm:"not null" json:"recipient"`
	Outcome         string    `gorm:"index;not null" json:"outcome"`
	StatusCode      int       `json:"status_code,omitempty"`
	Message         string    `json:"message,omitempty"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// DispatchQuery narrows ListDispatches. Zero values match everything.
type DispatchQuery struct {
	ProjectID string
	Outcome   string
	Limit     int
}
