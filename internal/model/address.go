package model

import "time"

// Address 收货地址
type Address struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID     string    `json:"user_id" gorm:"type:varchar(36);index;not null"`
	Recipient  string    `json:"recipient" gorm:"type:varchar(100)"`
	Phone      string    `json:"phone" gorm:"type:varchar(32)"`
	Line1      string    `json:"line1" gorm:"type:varchar(255)"`
	City       string    `json:"city" gorm:"type:varchar(100)"`
	PostalCode string    `json:"postal_code" gorm:"type:varchar(16)"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Address) TableName() string { return "addresses" }
