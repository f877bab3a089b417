package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Email        string
	DisplayName  string
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type DocumentModel struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"not null;index"`
	Filename     string `gorm:"not null"`
	Size         int64  `gorm:"not null"`
	FileType     string `gorm:"not null"`
	Status       string `gorm:"not null"`
	PageCount    int
	Content      string `gorm:"type:text"`
	Summary      string `gorm:"type:text"`
	Keywords     string
	ErrorMessage string
	StagingKey   string
	StorageKey   string
	UploadedAt   time.Time `gorm:"not null;index"`
	LastOpenedAt time.Time
}

type SessionModel struct {
	ID         string  `gorm:"primaryKey"`
	UserID     string  `gorm:"not null;index"`
	DocumentID *string `gorm:"index"`
	Title      string  `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID        string `gorm:"primaryKey"`
	SessionID string `gorm:"not null;index"`
	Sender    string `gorm:"not null"`
	Content   string `gorm:"type:text;not null"`
	Citations datatypes.JSON `gorm:"type:jsonb"`
	IsError   bool
	// Seq preserves caller-supplied append order even when timestamps collide.
	Seq       int64     `gorm:"autoIncrement;index"`
	CreatedAt time.Time `gorm:"not null"`
}
