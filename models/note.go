package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Note is a timestamped text entry attached to a document. Notes are
// append-only; ordering is always by CreatedAt ascending.
type Note struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	DocumentID string    `gorm:"size:36;index;not null" json:"document_id"`
	AuthorID   string    `gorm:"size:36;not null" json:"author_id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
}

func (n *Note) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return nil
}
