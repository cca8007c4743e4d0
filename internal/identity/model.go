package identity

import (
	"strings"
	"time"
)

// Roles assignable to a profile. Admins may manage blog articles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Profile captures a voteable user identity together with its denormalized
// vote total. The votes column is maintained by the vote recorder and must
// equal the number of ledger rows targeting this profile.
type Profile struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Name         string    `gorm:"column:name;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:120;not null"`
	AvatarPath   string    `gorm:"column:avatar_path;size:512"`
	Votes        int64     `gorm:"column:votes;not null;default:0"`
	Role         string    `gorm:"column:role;size:32;not null;default:user"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// IsAdmin reports whether the profile carries the admin role.
func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
