package models

import "time"

type User struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Email string `gorm:"uniqueIndex;not null" json:"email"`

	// Subscription fields back the entitlement checks for paid generation
	// features.
	SubscriptionStatus string     `gorm:"default:free" json:"subscription_status"`
	SubscriptionEndsAt *time.Time `json:"subscription_ends_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}

func (u *User) IsSubscribed() bool {
	if u.SubscriptionStatus != "active" && u.SubscriptionStatus != "trial" {
		return false
	}
	if u.SubscriptionEndsAt != nil && u.SubscriptionEndsAt.Before(time.Now()) {
		return false
	}
	return true
}
