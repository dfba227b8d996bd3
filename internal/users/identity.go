package users

import (
	"strings"
	"time"
)

// Identity is the local account created on the first successful external authentication.
// Email is unique among identities that have one; provider accounts without an email store "".
type Identity struct {
	ID          string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	ProviderID  *string   `gorm:"column:provider_id;size:255;uniqueIndex:idx_identities_provider_id" json:"-"`
	Email       string    `gorm:"column:email;size:320;not null;default:'';uniqueIndex:idx_identities_email,where:email <> ''" json:"email"`
	DisplayName string    `gorm:"column:display_name;size:320;not null;default:''" json:"display_name"`
	FirstName   string    `gorm:"column:first_name;size:190;not null;default:''" json:"first_name"`
	LastName    string    `gorm:"column:last_name;size:190;not null;default:''" json:"last_name"`
	AvatarURL   string    `gorm:"column:avatar_url;size:1024;not null;default:''" json:"avatar_url"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName exposes the table backing identities.
func (Identity) TableName() string {
	return "identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

// normalizeEmail folds case so the unique index is case-insensitive.
func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
