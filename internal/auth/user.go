// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

/*
Package auth implements the user identity and session management layer.

It defines the core domain entities (User, RefreshTokenEntry) and logic for
authentication, identity linking, and the refresh-token ledger.

# Architecture

This layer is the "Truth" of the system. Entities defined here have no external
dependencies and encapsulate all business rules related to user identity.
*/
package auth

import (
	"regexp"
	"strings"
	"time"

	"github.com/rlx-health/rhealth/internal/platform/constants"
)

// # Domain Entities

// User represents a registered member of the RLX Health platform.
//
// Email, Phone, GoogleID and PasswordHash are pointers because each of them
// is optional: a Google-created account has no password, a phone-registered
// account may have no email. Absent values are stored as NULL so the partial
// unique indexes never collide on empties.
type User struct {
	ID            string      `json:"id"`
	GoogleID      *string     `json:"-"`
	Email         *string     `json:"email,omitempty"`
	Phone         *string     `json:"phone,omitempty"`
	PasswordHash  *string     `json:"-"` // Explicitly omitted from JSON for security.
	Name          string      `json:"name"`
	FirstName     string      `json:"firstName,omitempty"`
	LastName      string      `json:"lastName,omitempty"`
	Age           int         `json:"age,omitempty"`
	Picture       string      `json:"picture,omitempty"`
	VerifiedEmail bool        `json:"verifiedEmail"`
	VerifiedPhone bool        `json:"verifiedPhone"`
	IsActive      bool        `json:"-"`
	LastLogin     time.Time   `json:"lastLogin"`
	LoginCount    int         `json:"loginCount"`
	Preferences   Preferences `json:"preferences"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Preferences holds per-user client settings.
type Preferences struct {
	Theme         string `json:"theme"`
	Notifications bool   `json:"notifications"`
}

// DefaultPreferences returns the preference set assigned to new accounts.
func DefaultPreferences() Preferences {
	return Preferences{Theme: ThemeAuto, Notifications: true}
}

// Profile is the client-facing view of a User. It mirrors the User entity
// minus everything security-sensitive (hash, ledger, Google linkage).
type Profile struct {
	ID            string      `json:"id"`
	Email         *string     `json:"email,omitempty"`
	Phone         *string     `json:"phone,omitempty"`
	Name          string      `json:"name"`
	FirstName     string      `json:"firstName,omitempty"`
	LastName      string      `json:"lastName,omitempty"`
	Age           int         `json:"age,omitempty"`
	Picture       string      `json:"picture,omitempty"`
	VerifiedEmail bool        `json:"verifiedEmail"`
	VerifiedPhone bool        `json:"verifiedPhone"`
	LastLogin     time.Time   `json:"lastLogin"`
	LoginCount    int         `json:"loginCount"`
	Preferences   Preferences `json:"preferences"`
}

// ToProfile projects the entity into its transport-safe view.
func (user *User) ToProfile() Profile {
	return Profile{
		ID:            user.ID,
		Email:         user.Email,
		Phone:         user.Phone,
		Name:          user.Name,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Age:           user.Age,
		Picture:       user.Picture,
		VerifiedEmail: user.VerifiedEmail,
		VerifiedPhone: user.VerifiedPhone,
		LastLogin:     user.LastLogin,
		LoginCount:    user.LoginCount,
		Preferences:   user.Preferences,
	}
}

// RefreshTokenEntry is one row of a user's refresh-token ledger. The ledger
// holds at most [constants.MaxRefreshTokensPerUser] entries per user; the
// oldest entry is evicted first.
type RefreshTokenEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Token      string    `json:"-"` // Raw refresh token string. Omitted for security.
	DeviceInfo string    `json:"deviceInfo"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SessionInfo is the device-list view of a ledger entry, safe to return to
// the owning user.
type SessionInfo struct {
	ID         string    `json:"id"`
	DeviceInfo string    `json:"deviceInfo"`
	CreatedAt  time.Time `json:"createdAt"`
}

// # Identifier Normalization

var (
	emailIdentifierRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePrefixRegex     = regexp.MustCompile(`^(\+91|91)`)
)

// IsEmailIdentifier reports whether a login identifier looks like an email
// address rather than a phone number.
func IsEmailIdentifier(identifier string) bool {
	return emailIdentifierRegex.MatchString(identifier)
}

// NormalizeEmail lowercases and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips the country prefix, leaving the bare subscriber number.
func NormalizePhone(phone string) string {
	return phonePrefixRegex.ReplaceAllString(strings.TrimSpace(phone), "")
}

// SplitDisplayName splits a display name at the first space: everything
// before it is the first name, the remainder (spaces included) the last.
func SplitDisplayName(name string) (firstName, lastName string) {
	firstName, lastName, _ = strings.Cut(strings.TrimSpace(name), " ")
	return firstName, lastName
}

// PhoneLookupForms expands a phone number into every representation it may
// have been stored under: the bare subscriber number and the "+91" and "91"
// prefixed forms, de-duplicated.
func PhoneLookupForms(phone string) []string {
	bare := NormalizePhone(phone)

	candidates := []string{
		bare,
		"+" + constants.PhoneCountryPrefix + bare,
		constants.PhoneCountryPrefix + bare,
		strings.TrimSpace(phone),
	}

	forms := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))

	for _, candidate := range candidates {
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		forms = append(forms, candidate)
	}

	return forms
}

// # Field Identifiers

// Global field names for validation and identity mapping in the authentication domain.
const (
	FieldName         = "name"
	FieldEmail        = "email"
	FieldPhone        = "phone"
	FieldPassword     = "password"
	FieldIdentifier   = "identifier"
	FieldFirstName    = "firstName"
	FieldLastName     = "lastName"
	FieldAge          = "age"
	FieldRefreshToken = "refreshToken"
	FieldCode         = "code"
	FieldIDToken      = "idToken"
	FieldTheme        = "theme"
)
