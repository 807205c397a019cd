package models

import "time"

// PasswordResetToken stores a hashed single-use token sent to a user by
// mail. Same storage scheme as RefreshToken: only the sha256 hex of the raw
// token ever touches the database.
type PasswordResetToken struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	UserID    string    `gorm:"size:36;index;not null"`
	TokenHash string    `gorm:"size:128;not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"index;not null"`
	Used      bool      `gorm:"default:false"`
}
