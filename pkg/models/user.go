package models

import (
	"net/mail"
	"strings"
	"time"
)

// Role values stored on a user.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// User is an account that can sign in.
type User struct {
	ID             int64     `dynamodbav:"user_id" json:"id"`
	Email          string    `dynamodbav:"email" json:"email"`
	Name           string    `dynamodbav:"name" json:"name"`
	PasswordHash   string    `dynamodbav:"password_hash" json:"-"`
	ProfilePicture *string   `dynamodbav:"profile_picture,omitempty" json:"profile_picture"`
	Role           string    `dynamodbav:"role" json:"role"`
	CreatedAt      time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// IsAdmin returns true if the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// SignupInput holds the fields accepted when registering.
type SignupInput struct {
	Email          string  `json:"email"`
	Name           string  `json:"name"`
	Password       string  `json:"password"`
	ProfilePicture *string `json:"profile_picture"`
}

// Validate checks field constraints and returns every violation found.
func (in *SignupInput) Validate() []FieldError {
	var errs []FieldError
	if !ValidEmail(in.Email) {
		errs = append(errs, FieldError{Field: "email", Err: ErrInvalidEmail})
	}
	if n := len(strings.TrimSpace(in.Name)); n == 0 || len(in.Name) > 255 {
		errs = append(errs, FieldError{Field: "name", Err: ErrInvalidName})
	}
	if len(in.Password) < MinPasswordLength {
		errs = append(errs, FieldError{Field: "password", Err: ErrPasswordTooShort})
	}
	return errs
}

// ValidEmail reports whether s is a bare email address.
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
