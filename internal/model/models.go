package model

import (
	"time"

	"gorm.io/gorm"
)

// ─── Enums ─────────────────────────────────────────────

// Role represents an admin account's permission tier.
type Role string

const (
	RoleSystemAdmin Role = "SYSTEM_ADMIN"
	RoleOperator    Role = "OPERATOR"
)

// UserStatus represents admin account status.
type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusDisabled UserStatus = "DISABLED"
)

// CoreEndpointStatus mirrors ConnectionToCore's externally observable
// lifecycle state, persisted so the ops surface can report last-known
// status across process restarts.
type CoreEndpointStatus string

const (
	CoreEndpointStatusDisconnected CoreEndpointStatus = "DISCONNECTED"
	CoreEndpointStatusConnecting   CoreEndpointStatus = "CONNECTING"
	CoreEndpointStatusConnected    CoreEndpointStatus = "CONNECTED"
	CoreEndpointStatusError        CoreEndpointStatus = "ERROR"
)

// ─── Base Model ────────────────────────────────────────

// BaseModel provides common fields with CUID-style IDs.
type BaseModel struct {
	ID        string         `gorm:"primaryKey;size:30" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// ─── User ──────────────────────────────────────────────

type User struct {
	BaseModel
	Email        string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name         string     `gorm:"size:100;not null" json:"name"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	Role         Role       `gorm:"size:20;default:OPERATOR;not null" json:"role"`
	Status       UserStatus `gorm:"size:20;default:ACTIVE;not null" json:"status"`
	LastLoginAt  *time.Time `json:"lastLoginAt"`
}

func (User) TableName() string { return "users" }

// UserResponse is the safe representation of a user (no password hash).
type UserResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Role        Role       `json:"role"`
	Status      UserStatus `json:"status"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ToResponse converts User to UserResponse.
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		Status:      u.Status,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// ─── RefreshToken ──────────────────────────────────────

type RefreshToken struct {
	BaseModel
	UserID            string    `gorm:"index;size:30;not null" json:"userId"`
	User              User      `gorm:"foreignKey:UserID" json:"-"`
	TokenHash         string    `gorm:"uniqueIndex;size:255;not null" json:"-"`
	DeviceFingerprint *string   `gorm:"size:255" json:"-"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

func (RefreshToken) TableName() string { return "refresh_tokens" }

// ─── AuditLog ──────────────────────────────────────────

// AuditLog records every mutating request on the authenticated routes: the
// ops actions against the one ConnectionToCore this repository manages
// (connect/disconnect/request) and logout. Logins and token refreshes go
// through the unauthenticated route group and are not recorded.
type AuditLog struct {
	ID         string    `gorm:"primaryKey;size:30" json:"id"`
	UserID     string    `gorm:"index;size:30;not null" json:"userId"`
	User       User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Action     string    `gorm:"index;size:50;not null" json:"action"`
	Resource   string    `gorm:"size:50;not null" json:"resource"`
	ResourceID *string   `gorm:"size:30" json:"resourceId"`
	Details    *string   `gorm:"type:jsonb" json:"details"`
	IPAddress  string    `gorm:"size:50;not null" json:"ipAddress"`
	UserAgent  *string   `gorm:"size:500" json:"userAgent"`
	Result     string    `gorm:"size:20;not null" json:"result"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// ─── CoreEndpoint ──────────────────────────────────────

// CoreEndpoint is the single configured remote Core this repository's
// ConnectionToCore talks to. There is exactly one row in normal operation
// (spec.md's "multi-endpoint connection pooling" Non-goal applies at the
// ops layer too) — the table exists so the host URL and encrypted
// credential survive a process restart instead of living only in viper
// config.
type CoreEndpoint struct {
	BaseModel
	HostURL         string             `gorm:"size:500;not null" json:"hostUrl"`
	EncryptedToken  string             `gorm:"size:2000;not null" json:"-"`
	Status          CoreEndpointStatus `gorm:"size:20;default:DISCONNECTED;not null" json:"status"`
	LastConnectedAt *time.Time         `json:"lastConnectedAt"`
	LastError       *string            `gorm:"size:1000" json:"lastError"`
}

func (CoreEndpoint) TableName() string { return "core_endpoints" }

// CoreEndpointResponse is the API representation (EncryptedToken excluded).
type CoreEndpointResponse struct {
	ID              string             `json:"id"`
	HostURL         string             `json:"hostUrl"`
	Status          CoreEndpointStatus `json:"status"`
	LastConnectedAt *time.Time         `json:"lastConnectedAt"`
	LastError       *string            `json:"lastError"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// ToResponse converts CoreEndpoint to CoreEndpointResponse.
func (c *CoreEndpoint) ToResponse() CoreEndpointResponse {
	return CoreEndpointResponse{
		ID:              c.ID,
		HostURL:         c.HostURL,
		Status:          c.Status,
		LastConnectedAt: c.LastConnectedAt,
		LastError:       c.LastError,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// ─── AllModels returns all models for auto-migration ───

func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&RefreshToken{},
		&AuditLog{},
		&CoreEndpoint{},
	}
}
