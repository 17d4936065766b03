package models

import "time"

// Config stores generated application state like the gateway API key and the
// fallback master key.
type Config struct {
	Key       string    `gorm:"primaryKey"` // Config key name
	Value     string    // Config value
	CreatedAt time.Time
	UpdatedAt time.Time
}
