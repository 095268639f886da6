// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

/*
The service layer orchestrates the identity and session lifecycle.

It handles everything from user registration and secure password hashing to
Google sign-in, token pair issuance, and rotate-on-use refresh semantics.

Architecture:

  - Service: Orchestrates business logic (Register, Login, Google, Refresh).
  - Repository: Abstracted interfaces for Postgres (Users, Ledger) and Redis (OAuth state).
  - Security: Bcrypt password hashing, HS256-signed JWT pairs.

The package ensures that identity data remains consistent and secure throughout
the platform's lifecycle.
*/
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rlx-health/rhealth/internal/platform/apperr"
	"github.com/rlx-health/rhealth/internal/platform/constants"
	"github.com/rlx-health/rhealth/internal/platform/sec"
	"github.com/rlx-health/rhealth/internal/platform/validate"
	"github.com/rlx-health/rhealth/pkg/pointer"
	"github.com/rlx-health/rhealth/pkg/uuidv7"
)

// # Contracts & Types

// TokenProvider defines the contract for minting and verifying token pairs.
type TokenProvider interface {
	// MintPair issues a fresh access/refresh pair for the given user.
	MintPair(userID, email, name string) (sec.TokenPair, error)

	// VerifyRefresh validates a refresh token and returns its claims.
	VerifyRefresh(tokenString string) (*sec.RefreshClaims, error)
}

// TokenBundle is the transport shape of a freshly issued token pair.
type TokenBundle struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// AuthSession bundles the authenticated user with their issued tokens.
type AuthSession struct {
	User   *User
	Tokens TokenBundle
}

// Service implements the authentication use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to hashing, sign-in,
// or rotation logic must be reviewed by the security team.
type Service struct {
	userRepository         UserRepository
	refreshTokenRepository RefreshTokenRepository
	stateRepository        StateRepository
	identityProvider       IdentityProvider
	tokenProvider          TokenProvider
}

// NewService constructs a new [Service] with necessary dependencies.
func NewService(
	userRepo UserRepository,
	refreshRepo RefreshTokenRepository,
	stateRepo StateRepository,
	identityProv IdentityProvider,
	tokenProv TokenProvider,
) *Service {
	return &Service{
		userRepository:         userRepo,
		refreshTokenRepository: refreshRepo,
		stateRepository:        stateRepo,
		identityProvider:       identityProv,
		tokenProvider:          tokenProv,
	}
}

// # Registration Flow

// RegisterInput holds the data required to enroll a new member.
// At least one of Email/Phone must be provided.
type RegisterInput struct {
	Name       string
	Email      string
	Phone      string
	Password   string
	DeviceInfo string
}

/*
Register validates, hashes, and persists a brand new user account, then
issues its first session.

Parameters:
  - context: context.Context
  - input: RegisterInput

Returns:
  - *AuthSession: Created user plus token pair
  - error: ValidationError, Conflict (if identity exists) or storage errors
*/
func (service *Service) Register(context context.Context, input RegisterInput) (*AuthSession, error) {

	validator := &validate.Validator{}
	validator.Required(FieldName, input.Name).
		Required(FieldPassword, input.Password).
		MinLen(FieldPassword, input.Password, PasswordMinLength).
		Custom(FieldEmail, input.Email == "" && input.Phone == "", "Either email or phone number is required")
	if input.Email != "" {
		validator.Email(FieldEmail, input.Email)
	}
	if input.Phone != "" {
		validator.Phone(FieldPhone, input.Phone)
	}
	if err := validator.Err(); err != nil {
		return nil, err
	}

	// Friendly pre-checks for identity collisions. The partial unique indexes
	// remain the authoritative guard under concurrency.
	if input.Email != "" {
		if _, err := service.userRepository.FindByEmail(context, input.Email); err == nil {
			return nil, apperr.Conflict("User already exists with this email or phone number")
		}
	}
	if input.Phone != "" {
		if _, err := service.userRepository.FindByPhone(context, input.Phone); err == nil {
			return nil, apperr.Conflict("User already exists with this email or phone number")
		}
	}

	// Prevent storing plain-text passwords.
	hashedPassword, err := sec.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("auth_service_hash_failed: %w", err)
	}

	// Construct the new User entity. Time-sortable ID to prevent PG index fragmentation.
	user := &User{
		ID:           uuidv7.New(),
		Name:         input.Name,
		PasswordHash: pointer.To(hashedPassword),
		IsActive:     true,
		Preferences:  DefaultPreferences(),
	}
	if input.Email != "" {
		user.Email = pointer.To(NormalizeEmail(input.Email))
	}
	if input.Phone != "" {
		user.Phone = pointer.To(input.Phone)
	}

	// Persist the user to the database
	if err := service.userRepository.Create(context, user); err != nil {
		return nil, err
	}

	return service.issueSession(context, user, input.DeviceInfo)
}

// # Authentication Flow

// LoginInput defines credentials for an authentication attempt.
type LoginInput struct {
	Identifier string // Email address or phone number
	Password   string
	DeviceInfo string
}

/*
Login validates user credentials and issues a session.

Description: Resolves the identifier as email or phone, performs a
constant-work password comparison, records the login, and issues a new token
pair appended to the refresh ledger.

Parameters:
  - context: context.Context
  - input: LoginInput

Returns:
  - *AuthSession: Authenticated user plus token pair
  - error: InvalidCredentials or internal failures
*/
func (service *Service) Login(context context.Context, input LoginInput) (*AuthSession, error) {

	validator := &validate.Validator{}
	validator.Required(FieldIdentifier, input.Identifier).
		Required(FieldPassword, input.Password)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	user, err := service.findByIdentifier(context, input.Identifier)

	// Unknown identifier: generic message to prevent enumeration.
	if err != nil {
		return nil, apperr.InvalidCredentials()
	}

	// A Google-only account has no password to compare against; indistinguishable
	// from a wrong password on the outside.
	if user.PasswordHash == nil {
		return nil, apperr.InvalidCredentials()
	}

	if !sec.CheckPasswordHash(input.Password, pointer.Val(user.PasswordHash)) {
		return nil, apperr.InvalidCredentials()
	}

	if err := service.userRepository.RecordLogin(context, user.ID); err != nil {
		return nil, fmt.Errorf("auth_service_record_login_failed: %w", err)
	}
	user.LoginCount++

	return service.issueSession(context, user, input.DeviceInfo)
}

// findByIdentifier resolves a login identifier as an email or a phone number.
func (service *Service) findByIdentifier(context context.Context, identifier string) (*User, error) {
	if IsEmailIdentifier(identifier) {
		return service.userRepository.FindByEmail(context, identifier)
	}
	return service.userRepository.FindByPhone(context, identifier)
}

// # Google Sign-In

/*
GoogleAuthURL starts a browser-based sign-in: it mints a one-time state,
stores it with a TTL, and returns the Google consent URL bound to it.

Parameters:
  - context: context.Context

Returns:
  - string: Consent-screen URL
  - string: The one-time state
  - error: Generation or storage failures
*/
func (service *Service) GoogleAuthURL(context context.Context) (string, string, error) {
	state, err := sec.GenerateSecureToken(OAuthStateLength)
	if err != nil {
		return "", "", fmt.Errorf("auth_service_state_generation_failed: %w", err)
	}

	if err := service.stateRepository.Set(context, state, OAuthStateTTL); err != nil {
		return "", "", fmt.Errorf("auth_service_state_store_failed: %w", err)
	}

	return service.identityProvider.AuthCodeURL(state), state, nil
}

/*
GoogleSignInWithCode completes a Google sign-in from an authorization code.

Description: Redeems the one-time state (when provided), exchanges the code
upstream, then creates or links the local account and issues a session.

Parameters:
  - context: context.Context
  - code: string
  - state: string (optional; must match a stored state when non-empty)
  - deviceInfo: string

Returns:
  - *AuthSession: Authenticated user plus token pair
  - error: Validation, upstream, or storage failures
*/
func (service *Service) GoogleSignInWithCode(context context.Context, code, state, deviceInfo string) (*AuthSession, error) {
	if code == "" {
		return nil, validate.RequiredError(FieldCode, "Authorization code is required")
	}

	if state != "" {
		if err := service.stateRepository.Consume(context, state); err != nil {
			if apperr.IsAppError(err) {
				return nil, apperr.Unauthorized("Invalid or expired OAuth state")
			}
			return nil, fmt.Errorf("auth_service_state_consume_failed: %w", err)
		}
	}

	userData, err := service.identityProvider.ExchangeCode(context, code)
	if err != nil {
		return nil, err
	}

	user, err := service.createOrLinkFromGoogle(context, userData)
	if err != nil {
		return nil, err
	}

	return service.issueSession(context, user, deviceInfo)
}

/*
GoogleSignInWithIDToken completes a Google sign-in from an ID token obtained
directly on the device.

Parameters:
  - context: context.Context
  - idToken: string
  - deviceInfo: string

Returns:
  - *AuthSession: Authenticated user plus token pair
  - error: Validation, upstream, or storage failures
*/
func (service *Service) GoogleSignInWithIDToken(context context.Context, idToken, deviceInfo string) (*AuthSession, error) {
	if idToken == "" {
		return nil, validate.RequiredError(FieldIDToken, "ID token is required")
	}

	userData, err := service.identityProvider.VerifyIDToken(context, idToken)
	if err != nil {
		return nil, err
	}

	user, err := service.createOrLinkFromGoogle(context, userData)
	if err != nil {
		return nil, err
	}

	return service.issueSession(context, user, deviceInfo)
}

/*
createOrLinkFromGoogle resolves a Google identity into a local account.

Description: Three-way branch — already linked (refresh profile), same email
exists (link the Google subject to that account in place, never a duplicate),
or a brand new account.

Parameters:
  - context: context.Context
  - data: *GoogleUserData

Returns:
  - *User: Resolved account
  - error: Storage failures
*/
func (service *Service) createOrLinkFromGoogle(context context.Context, data *GoogleUserData) (*User, error) {

	firstName, lastName := SplitDisplayName(data.Name)

	// 1. Already linked: refresh the mirrored profile fields.
	user, err := service.userRepository.FindByGoogleID(context, data.ID)
	if err == nil {
		user.Name = data.Name
		user.FirstName = firstName
		user.LastName = lastName
		if data.Picture != "" {
			user.Picture = data.Picture
		}
		user.VerifiedEmail = data.VerifiedEmail
		if err := service.userRepository.Update(context, user); err != nil {
			return nil, err
		}
		return service.bumpLogin(context, user)
	}

	// 2. Same email already registered: link the Google identity in place.
	if data.Email != "" {
		user, err = service.userRepository.FindByEmail(context, data.Email)
		if err == nil {
			user.GoogleID = pointer.To(data.ID)
			user.Name = data.Name
			user.FirstName = firstName
			user.LastName = lastName
			if data.Picture != "" {
				user.Picture = data.Picture
			}
			user.VerifiedEmail = data.VerifiedEmail
			if err := service.userRepository.Update(context, user); err != nil {
				return nil, err
			}
			return service.bumpLogin(context, user)
		}
	}

	// 3. Brand new account. No password: this identity can only sign in
	// through Google until one is set.
	user = &User{
		ID:            uuidv7.New(),
		GoogleID:      pointer.To(data.ID),
		Name:          data.Name,
		FirstName:     firstName,
		LastName:      lastName,
		Picture:       data.Picture,
		VerifiedEmail: data.VerifiedEmail,
		IsActive:      true,
		LoginCount:    1,
		Preferences:   DefaultPreferences(),
	}
	if data.Email != "" {
		user.Email = pointer.To(NormalizeEmail(data.Email))
	}

	if err := service.userRepository.Create(context, user); err != nil {
		return nil, err
	}

	return user, nil
}

// bumpLogin records a successful sign-in on an existing account.
func (service *Service) bumpLogin(context context.Context, user *User) (*User, error) {
	if err := service.userRepository.RecordLogin(context, user.ID); err != nil {
		return nil, fmt.Errorf("auth_service_record_login_failed: %w", err)
	}
	user.LoginCount++
	return user, nil
}

// # Session Management

/*
Refresh implements the rotate-on-use refresh mechanism.

Description: Verifies the refresh token's signature and type claim, then
atomically swaps it for a fresh pair in the ledger. A token that has already
been rotated out fails with TokenInvalid, so a stolen old token is useless
the moment its successor exists.

Parameters:
  - context: context.Context
  - refreshToken: string
  - deviceInfo: string

Returns:
  - *AuthSession: New session credentials
  - error: TokenExpired, TokenInvalid, or storage failures
*/
func (service *Service) Refresh(context context.Context, refreshToken, deviceInfo string) (*AuthSession, error) {
	claims, err := service.verifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := service.userRepository.FindByID(context, claims.UserID)
	if err != nil {
		return nil, apperr.TokenInvalid()
	}

	tokens, err := service.tokenProvider.MintPair(user.ID, pointer.Val(user.Email), user.Name)
	if err != nil {
		return nil, fmt.Errorf("auth_service_mint_pair_failed: %w", err)
	}

	entry := &RefreshTokenEntry{
		ID:         uuidv7.New(),
		UserID:     user.ID,
		Token:      tokens.RefreshToken,
		DeviceInfo: deviceInfoOrDefault(deviceInfo),
	}

	if err := service.refreshTokenRepository.Rotate(context, user.ID, refreshToken, entry); err != nil {
		return nil, err
	}

	return &AuthSession{User: user, Tokens: bundle(tokens)}, nil
}

/*
Logout removes the given refresh token from its owner's ledger.

Description: Idempotent — an invalid, expired, or already-removed token still
results in a successful logout.

Parameters:
  - context: context.Context
  - refreshToken: string

Returns:
  - error: Storage failures only
*/
func (service *Service) Logout(context context.Context, refreshToken string) error {
	claims, err := service.verifyRefreshToken(refreshToken)
	if err != nil {
		// Token is already unusable; logout is a no-op success.
		return nil
	}

	if err := service.refreshTokenRepository.Remove(context, claims.UserID, refreshToken); err != nil {
		return fmt.Errorf("auth_service_logout_failed: %w", err)
	}

	return nil
}

/*
LogoutAll clears the owner's entire refresh ledger.

Description: Unlike Logout this requires a live token: wiping every device's
session is too destructive to grant to a token we cannot attribute.

Parameters:
  - context: context.Context
  - refreshToken: string

Returns:
  - error: TokenInvalid/TokenExpired, or storage failures
*/
func (service *Service) LogoutAll(context context.Context, refreshToken string) error {
	claims, err := service.verifyRefreshToken(refreshToken)
	if err != nil {
		return err
	}

	present, err := service.refreshTokenRepository.Contains(context, claims.UserID, refreshToken)
	if err != nil {
		return fmt.Errorf("auth_service_logout_all_lookup_failed: %w", err)
	}
	if !present {
		return apperr.TokenInvalid()
	}

	if err := service.refreshTokenRepository.Clear(context, claims.UserID); err != nil {
		return fmt.Errorf("auth_service_logout_all_failed: %w", err)
	}

	return nil
}

/*
Sessions lists the user's active devices, oldest first.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - []SessionInfo: Device list; never includes token strings
  - error: Retrieval failures
*/
func (service *Service) Sessions(context context.Context, userID string) ([]SessionInfo, error) {
	entries, err := service.refreshTokenRepository.ListByUser(context, userID)
	if err != nil {
		return nil, err
	}

	sessions := make([]SessionInfo, 0, len(entries))
	for _, entry := range entries {
		sessions = append(sessions, SessionInfo{
			ID:         entry.ID,
			DeviceInfo: entry.DeviceInfo,
			CreatedAt:  entry.CreatedAt,
		})
	}

	return sessions, nil
}

/*
PurgeExpiredSessions removes ledger entries past the refresh TTL across all
users. Intended to run periodically as housekeeping.
*/
func (service *Service) PurgeExpiredSessions(context context.Context) error {
	return service.refreshTokenRepository.DeleteExpired(context)
}

// # Profile Management

/*
GetProfile returns the account of the authenticated user.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - *User: Hydrated account
  - error: NotFound or retrieval failures
*/
func (service *Service) GetProfile(context context.Context, userID string) (*User, error) {
	return service.userRepository.FindByID(context, userID)
}

// UpdateProfileInput carries a partial profile update; nil fields are left
// untouched.
type UpdateProfileInput struct {
	Name          *string
	Theme         *string
	Notifications *bool
}

/*
UpdateProfile applies a partial update to the user's profile.

Parameters:
  - context: context.Context
  - userID: string
  - input: UpdateProfileInput

Returns:
  - *User: Updated account
  - error: ValidationError, NotFound, or storage failures
*/
func (service *Service) UpdateProfile(context context.Context, userID string, input UpdateProfileInput) (*User, error) {

	validator := &validate.Validator{}
	if input.Name != nil {
		validator.Required(FieldName, pointer.Val(input.Name))
	}
	if input.Theme != nil {
		validator.OneOf(FieldTheme, pointer.Val(input.Theme), ThemeLight, ThemeDark, ThemeAuto)
	}
	if err := validator.Err(); err != nil {
		return nil, err
	}

	user, err := service.userRepository.FindByID(context, userID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		user.Name = pointer.Val(input.Name)
	}
	if input.Theme != nil {
		user.Preferences.Theme = pointer.Val(input.Theme)
	}
	if input.Notifications != nil {
		user.Preferences.Notifications = pointer.Val(input.Notifications)
	}

	if err := service.userRepository.Update(context, user); err != nil {
		return nil, err
	}

	return user, nil
}

// UserDetailsInput carries the "tell a bit about yourself" form.
type UserDetailsInput struct {
	FirstName string
	LastName  string
	Age       int
}

/*
UpdateUserDetails sets the user's structured name and age, recomposing the
display name as "First Last".

Parameters:
  - context: context.Context
  - userID: string
  - input: UserDetailsInput

Returns:
  - *User: Updated account
  - error: ValidationError, NotFound, or storage failures
*/
func (service *Service) UpdateUserDetails(context context.Context, userID string, input UserDetailsInput) (*User, error) {

	validator := &validate.Validator{}
	validator.Required(FieldFirstName, input.FirstName).
		MinLen(FieldFirstName, input.FirstName, NamePartMinLength).
		MaxLen(FieldFirstName, input.FirstName, NamePartMaxLength).
		Required(FieldLastName, input.LastName).
		MinLen(FieldLastName, input.LastName, NamePartMinLength).
		MaxLen(FieldLastName, input.LastName, NamePartMaxLength).
		Range(FieldAge, input.Age, AgeMin, AgeMax)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	user, err := service.userRepository.FindByID(context, userID)
	if err != nil {
		return nil, err
	}

	user.FirstName = input.FirstName
	user.LastName = input.LastName
	user.Age = input.Age
	user.Name = input.FirstName + " " + input.LastName

	if err := service.userRepository.Update(context, user); err != nil {
		return nil, err
	}

	return user, nil
}

// # Internal Helpers

// verifyRefreshToken maps the token service's sentinel errors onto API errors.
func (service *Service) verifyRefreshToken(refreshToken string) (*sec.RefreshClaims, error) {
	claims, err := service.tokenProvider.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, sec.ErrTokenExpired) {
			return nil, apperr.TokenExpired()
		}
		return nil, apperr.TokenInvalid()
	}
	return claims, nil
}

// issueSession mints a token pair and appends it to the user's ledger.
func (service *Service) issueSession(context context.Context, user *User, deviceInfo string) (*AuthSession, error) {
	tokens, err := service.tokenProvider.MintPair(user.ID, pointer.Val(user.Email), user.Name)
	if err != nil {
		return nil, fmt.Errorf("auth_service_mint_pair_failed: %w", err)
	}

	entry := &RefreshTokenEntry{
		ID:         uuidv7.New(),
		UserID:     user.ID,
		Token:      tokens.RefreshToken,
		DeviceInfo: deviceInfoOrDefault(deviceInfo),
	}

	if err := service.refreshTokenRepository.Append(context, entry); err != nil {
		return nil, fmt.Errorf("auth_service_ledger_append_failed: %w", err)
	}

	return &AuthSession{User: user, Tokens: bundle(tokens)}, nil
}

// bundle converts a minted pair into its transport shape.
func bundle(pair sec.TokenPair) TokenBundle {
	return TokenBundle{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	}
}

// deviceInfoOrDefault substitutes the placeholder for empty device strings.
func deviceInfoOrDefault(deviceInfo string) string {
	if deviceInfo == "" {
		return constants.DefaultDeviceInfo
	}
	return deviceInfo
}
