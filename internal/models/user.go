package models

import (
	"time"
)

type User struct {
	ID                 string
	Email              string
	PasswordHash       string
	Username           string
	IsActive           bool // false = suspended
	HasChangedPassword bool // false forces a password change before login completes
	LastLogin          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
