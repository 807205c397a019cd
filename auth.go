package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"docportal/models"

	"golang.org/x/crypto/bcrypt"
)

// Auth helpers live in the root package so handlers can call them directly.
func RegisterUser(email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("email required")
	}
	if len(password) < 6 { // basic password policy
		return fmt.Errorf("password too short (min 6)")
	}
	// pre-check existing (optimistic)
	var existing models.User
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		return fmt.Errorf("user already exists")
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	// ensure role exists (idempotent)
	var role models.Role
	if err := db.Where("name = ?", models.RoleCustomer).First(&role).Error; err != nil {
		role = models.Role{Name: models.RoleCustomer, Description: "views own documents"}
		if err2 := db.Where("name = ?", role.Name).FirstOrCreate(&role).Error; err2 != nil {
			return fmt.Errorf("failed to ensure customer role: %v", err2)
		}
	}
	rid := role.ID
	user := models.User{Email: email, HashedPassword: hashedPassword, RoleID: &rid}
	if err := db.Create(&user).Error; err != nil {
		if isUniqueConstraintError(err) { // race condition after initial check
			return fmt.Errorf("user already exists")
		}
		return err
	}
	return nil
}

func Authenticate(email, password string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		return models.User{}, fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)); err != nil {
		return models.User{}, fmt.Errorf("invalid credentials")
	}
	return user, nil
}

// UpdatePassword rehashes and stores a new password for the user.
func UpdatePassword(userID, newPassword string) error {
	if len(newPassword) < 6 {
		return fmt.Errorf("password too short (min 6)")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return db.Model(&models.User{}).Where("id = ?", userID).Update("hashed_password", hashed).Error
}

// newRawToken generates a random 32-byte hex token and the sha256 hex used
// for storage. Raw tokens never touch the database.
func newRawToken() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// createPasswordResetToken stores a one-hour reset token and returns the raw value.
func createPasswordResetToken(userID string) (string, error) {
	raw, hash, err := newRawToken()
	if err != nil {
		return "", err
	}
	rt := models.PasswordResetToken{UserID: userID, TokenHash: hash, ExpiresAt: time.Now().Add(time.Hour)}
	if err := db.Create(&rt).Error; err != nil {
		return "", err
	}
	return raw, nil
}

func findResetTokenByRaw(raw string) (*models.PasswordResetToken, error) {
	var rt models.PasswordResetToken
	if err := db.Where("token_hash = ?", hashToken(raw)).First(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

// matches postgres unique-violation messages without importing the driver error types
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint") || strings.Contains(s, "already exists")
}

// Compatibility wrappers expected by handlers.go
func Register(email, password string) error {
	return RegisterUser(email, password)
}

func Login(email, password string) (models.User, error) {
	return Authenticate(email, password)
}
