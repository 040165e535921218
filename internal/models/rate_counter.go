package models

import "time"

// RateCounter is a fixed-window request counter shared between replicas.
type RateCounter struct {
	Bucket    string    `gorm:"primaryKey;size:256"`
	Count     int       `gorm:"not null"`
	WindowEnd time.Time `gorm:"index;not null"`
	UpdatedAt time.Time
}
