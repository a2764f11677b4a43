package model

import "time"

type Role string

const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

type User struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Username     string    `gorm:"size:64;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         Role      `gorm:"size:16;not null;check:chk_users_role,role IN ('Admin','User')" json:"role"`
}

func (User) TableName() string { return "users" }
