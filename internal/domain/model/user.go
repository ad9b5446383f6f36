//revive:disable-next-line:var-naming // legacy package name used across the project
package model

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxUsernameLen = 255
	// MinPasswordLen is the shortest password accepted when creating or resetting a database user.
	MinPasswordLen = 8
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.@-]*$`)

// ValidateUsername checks the username rules shared by create and lookup paths.
func ValidateUsername(name string) error {
	n := strings.TrimSpace(name)
	if n == "" {
		return errors.New("username is required and cannot be empty")
	}
	if utf8.RuneCountInString(n) > maxUsernameLen {
		return errors.New("username cannot exceed 255 characters")
	}
	if !usernameRe.MatchString(n) {
		return errors.New(
			"username must start with a letter, digit, or underscore and contain only letters, digits, or . _ @ -",
		)
	}
	return nil
}

func validateRoles(roles []string) error {
	for _, r := range roles {
		if strings.TrimSpace(r) == "" {
			return errors.New("roles cannot contain empty names")
		}
	}
	return nil
}

// User is a database-backed account.
type User struct {
	ID           string    `json:"id"         db:"id"`
	Username     string    `json:"username"   db:"username"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	Roles        []string  `json:"roles"      db:"roles"`
	Disabled     bool      `json:"disabled"   db:"disabled"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// CreateUserRequest contains fields to create a database user.
// PasswordHash must already be a bcrypt hash; the repository never sees plaintext.
type CreateUserRequest struct {
	Username     string
	PasswordHash string
	Roles        []string
}

// Validate performs basic validation on the request.
func (r *CreateUserRequest) Validate() error {
	if err := ValidateUsername(r.Username); err != nil {
		return err
	}
	if r.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return validateRoles(r.Roles)
}

// Normalize trims whitespace on the username and role names.
func (r *CreateUserRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Roles = NormalizeRoles(r.Roles)
}

// UpdateUserRequest updates selected fields of a user. Nil fields are left unchanged.
type UpdateUserRequest struct {
	PasswordHash *string
	Roles        *[]string
	Disabled     *bool
}

// Validate performs basic validation on the request.
func (r *UpdateUserRequest) Validate() error {
	if r.PasswordHash == nil && r.Roles == nil && r.Disabled == nil {
		return errors.New("at least one field must be updated")
	}
	if r.PasswordHash != nil && *r.PasswordHash == "" {
		return errors.New("password hash cannot be empty")
	}
	if r.Roles != nil {
		return validateRoles(*r.Roles)
	}
	return nil
}

// NormalizeRoles trims role names and drops duplicates, keeping first-seen order.
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
