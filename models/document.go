package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document statuses and types. Status flips to read on first download.
const (
	StatusUnread = "unread"
	StatusRead   = "read"

	TypePDF   = "pdf"
	TypeImage = "image"
)

// Document is the metadata record for a stored file. The binary itself lives
// in the object store under FilePath; Size is the human-readable display
// string built at upload time, not a byte count.
type Document struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    string    `gorm:"size:36;index;not null" json:"user_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	FilePath  string    `gorm:"size:512;not null" json:"file_path"`
	Year      string    `gorm:"size:8;index;not null" json:"year"`
	Month     string    `gorm:"size:8;not null" json:"month"`
	Size      string    `gorm:"size:32" json:"size"`
	Status    string    `gorm:"size:16;default:unread" json:"status"`
	Type      string    `gorm:"size:16" json:"type"`
	// ThumbPath points at a generated preview for image documents, empty otherwise.
	ThumbPath string `gorm:"size:512" json:"thumb_path"`
	// NotesCount is derived client-side from the notes table; it is never
	// persisted and is zero until a count refresh fills it in.
	NotesCount int64 `gorm:"-" json:"notes_count"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}
