package models

import "time"

// GeneratedRecord stores the content of a QR code produced for a user.
type GeneratedRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Username  string    `json:"-" gorm:"index;type:varchar(100);not null"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"-"`
}

func (GeneratedRecord) TableName() string {
	return "generator_data"
}

// ReadRecord stores the content of a decoded QR code. Username is nil for
// anonymous reads.
type ReadRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Username  *string   `json:"-" gorm:"index;type:varchar(100)"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"-"`
}

func (ReadRecord) TableName() string {
	return "read_data"
}
