package handler

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/szsip239/corebridge/internal/model"
)

// HashPassword hashes a password using bcrypt with cost 12.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	return string(bytes), err
}

// CheckPassword compares a password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// BootstrapAdmin creates a SYSTEM_ADMIN account from email/password when the
// users table is empty. It does nothing when either value is blank or when
// any user already exists, whatever that user's role. There is no
// self-service registration route, so this is the only built-in way a fresh
// deployment gets its first operator account.
func BootstrapAdmin(db *gorm.DB, email, password string) error {
	if email == "" || password == "" {
		return nil
	}

	var count int64
	if err := db.Model(&model.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("handler: count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("handler: hash bootstrap password: %w", err)
	}

	admin := model.User{
		BaseModel:    model.BaseModel{ID: model.GenerateID(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		Email:        email,
		Name:         "Administrator",
		PasswordHash: hash,
		Role:         model.RoleSystemAdmin,
		Status:       model.UserStatusActive,
	}
	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("handler: create bootstrap admin: %w", err)
	}
	return nil
}
