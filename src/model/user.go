package model

import "time"

// User is the account record behind a funds ledger. Password holds a bcrypt
// hash; it may be empty for externally authenticated accounts.
type User struct {
	Username  string    `gorm:"primaryKey;size:60" json:"username"`
	Email     string    `gorm:"size:255;uniqueIndex" json:"email"`
	Password  string    `gorm:"size:255" json:"-"`
	FullName  string    `gorm:"size:120" json:"full_name"`
	Phone     string    `gorm:"size:20" json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (User) TableName() string {
	return "users"
}
