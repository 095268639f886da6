// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

package auth_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlx-health/rhealth/internal/auth"
	"github.com/rlx-health/rhealth/internal/platform/apperr"
	"github.com/rlx-health/rhealth/internal/platform/constants"
	"github.com/rlx-health/rhealth/internal/platform/sec"
	"github.com/rlx-health/rhealth/pkg/pointer"
)

// # In-Memory Fakes

type memoryUserRepository struct {
	users []*auth.User
}

func (repository *memoryUserRepository) FindByID(_ context.Context, id string) (*auth.User, error) {
	for _, user := range repository.users {
		if user.ID == id && user.IsActive {
			return user, nil
		}
	}
	return nil, apperr.NotFound("User")
}

func (repository *memoryUserRepository) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	normalized := auth.NormalizeEmail(email)
	for _, user := range repository.users {
		if user.Email != nil && strings.ToLower(*user.Email) == normalized && user.IsActive {
			return user, nil
		}
	}
	return nil, apperr.NotFound("User")
}

func (repository *memoryUserRepository) FindByPhone(_ context.Context, phone string) (*auth.User, error) {
	forms := auth.PhoneLookupForms(phone)
	for _, user := range repository.users {
		if user.Phone == nil || !user.IsActive {
			continue
		}
		for _, form := range forms {
			if *user.Phone == form {
				return user, nil
			}
		}
	}
	return nil, apperr.NotFound("User")
}

func (repository *memoryUserRepository) FindByGoogleID(_ context.Context, googleID string) (*auth.User, error) {
	for _, user := range repository.users {
		if user.GoogleID != nil && *user.GoogleID == googleID && user.IsActive {
			return user, nil
		}
	}
	return nil, apperr.NotFound("User")
}

func (repository *memoryUserRepository) Create(ctx context.Context, user *auth.User) error {
	if user.Email != nil {
		if _, err := repository.FindByEmail(ctx, *user.Email); err == nil {
			return apperr.Conflict("User already exists with this email or phone number")
		}
	}
	if user.Phone != nil {
		if _, err := repository.FindByPhone(ctx, *user.Phone); err == nil {
			return apperr.Conflict("User already exists with this email or phone number")
		}
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.LastLogin.IsZero() {
		user.LastLogin = now
	}
	repository.users = append(repository.users, user)
	return nil
}

func (repository *memoryUserRepository) Update(_ context.Context, user *auth.User) error {
	if user.GoogleID != nil {
		for _, other := range repository.users {
			if other.ID != user.ID && other.GoogleID != nil && *other.GoogleID == *user.GoogleID {
				return apperr.Conflict("This Google account is already linked to another user")
			}
		}
	}
	user.UpdatedAt = time.Now()
	return nil
}

func (repository *memoryUserRepository) RecordLogin(ctx context.Context, userID string) error {
	user, err := repository.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	user.LastLogin = time.Now()
	return nil
}

type memoryRefreshLedger struct {
	entries map[string][]auth.RefreshTokenEntry
}

func newMemoryRefreshLedger() *memoryRefreshLedger {
	return &memoryRefreshLedger{entries: map[string][]auth.RefreshTokenEntry{}}
}

func (ledger *memoryRefreshLedger) Append(_ context.Context, entry *auth.RefreshTokenEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	list := append(ledger.entries[entry.UserID], *entry)
	if overflow := len(list) - constants.MaxRefreshTokensPerUser; overflow > 0 {
		list = list[overflow:]
	}
	ledger.entries[entry.UserID] = list
	return nil
}

func (ledger *memoryRefreshLedger) Remove(_ context.Context, userID, token string) error {
	list := ledger.entries[userID]
	kept := list[:0]
	for _, entry := range list {
		if entry.Token != token {
			kept = append(kept, entry)
		}
	}
	ledger.entries[userID] = kept
	return nil
}

func (ledger *memoryRefreshLedger) Clear(_ context.Context, userID string) error {
	delete(ledger.entries, userID)
	return nil
}

func (ledger *memoryRefreshLedger) Rotate(ctx context.Context, userID, oldToken string, entry *auth.RefreshTokenEntry) error {
	present, _ := ledger.Contains(ctx, userID, oldToken)
	if !present {
		return apperr.TokenInvalid()
	}
	if err := ledger.Remove(ctx, userID, oldToken); err != nil {
		return err
	}
	return ledger.Append(ctx, entry)
}

func (ledger *memoryRefreshLedger) Contains(_ context.Context, userID, token string) (bool, error) {
	for _, entry := range ledger.entries[userID] {
		if entry.Token == token {
			return true, nil
		}
	}
	return false, nil
}

func (ledger *memoryRefreshLedger) ListByUser(_ context.Context, userID string) ([]auth.RefreshTokenEntry, error) {
	return ledger.entries[userID], nil
}

func (ledger *memoryRefreshLedger) DeleteExpired(_ context.Context) error { return nil }

type memoryStateRepository struct {
	states map[string]bool
}

func newMemoryStateRepository() *memoryStateRepository {
	return &memoryStateRepository{states: map[string]bool{}}
}

func (repository *memoryStateRepository) Set(_ context.Context, state string, _ time.Duration) error {
	repository.states[state] = true
	return nil
}

func (repository *memoryStateRepository) Consume(_ context.Context, state string) error {
	if !repository.states[state] {
		return apperr.NotFound("OAuth state")
	}
	delete(repository.states, state)
	return nil
}

type fakeIdentityProvider struct {
	data *auth.GoogleUserData
	err  error
}

func (provider *fakeIdentityProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/consent?state=" + state
}

func (provider *fakeIdentityProvider) ExchangeCode(context.Context, string) (*auth.GoogleUserData, error) {
	return provider.data, provider.err
}

func (provider *fakeIdentityProvider) VerifyIDToken(context.Context, string) (*auth.GoogleUserData, error) {
	return provider.data, provider.err
}

// # Test Harness

type serviceFixture struct {
	service *auth.Service
	users   *memoryUserRepository
	ledger  *memoryRefreshLedger
	states  *memoryStateRepository
	google  *fakeIdentityProvider
	tokens  *sec.TokenService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	tokens, err := sec.NewTokenService("unit-test-secret", "1h", "24h")
	require.NoError(t, err)

	fixture := &serviceFixture{
		users:  &memoryUserRepository{},
		ledger: newMemoryRefreshLedger(),
		states: newMemoryStateRepository(),
		google: &fakeIdentityProvider{},
		tokens: tokens,
	}
	fixture.service = auth.NewService(fixture.users, fixture.ledger, fixture.states, fixture.google, tokens)
	return fixture
}

func (fixture *serviceFixture) register(t *testing.T, email string) *auth.AuthSession {
	t.Helper()
	session, err := fixture.service.Register(context.Background(), auth.RegisterInput{
		Name:     "Asha Rao",
		Email:    email,
		Password: "sup3rsafe",
	})
	require.NoError(t, err)
	return session
}

// # Registration

func TestService_Register_IssuesFirstSession(t *testing.T) {
	fixture := newServiceFixture(t)

	session := fixture.register(t, "asha@example.com")

	assert.NotEmpty(t, session.Tokens.AccessToken)
	assert.NotEmpty(t, session.Tokens.RefreshToken)
	assert.Equal(t, "Bearer", session.Tokens.TokenType)
	assert.Equal(t, int64(3600), session.Tokens.ExpiresIn)

	require.NotNil(t, session.User.PasswordHash)
	assert.NotEqual(t, "sup3rsafe", *session.User.PasswordHash)

	entries, err := fixture.ledger.ListByUser(context.Background(), session.User.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, session.Tokens.RefreshToken, entries[0].Token)
	assert.Equal(t, constants.DefaultDeviceInfo, entries[0].DeviceInfo)
}

func TestService_Register_DuplicateEmailConflicts(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.register(t, "asha@example.com")

	_, err := fixture.service.Register(context.Background(), auth.RegisterInput{
		Name:     "Imposter",
		Email:    "ASHA@Example.com",
		Password: "different1",
	})

	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "CONFLICT", appError.Code)
}

func TestService_Register_RequiresEmailOrPhone(t *testing.T) {
	fixture := newServiceFixture(t)

	_, err := fixture.service.Register(context.Background(), auth.RegisterInput{
		Name:     "Nobody",
		Password: "sup3rsafe",
	})

	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "VALIDATION_ERROR", appError.Code)
}

// # Login

func TestService_Login_Succeeds(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.register(t, "asha@example.com")

	session, err := fixture.service.Login(context.Background(), auth.LoginInput{
		Identifier: "Asha@Example.com",
		Password:   "sup3rsafe",
		DeviceInfo: "Pixel 9",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, session.User.LoginCount)

	entries, err := fixture.ledger.ListByUser(context.Background(), session.User.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "Pixel 9", entries[1].DeviceInfo)
}

func TestService_Login_FailuresAreIndistinguishable(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.register(t, "asha@example.com")

	// A Google-only account with no password set.
	require.NoError(t, fixture.users.Create(context.Background(), &auth.User{
		ID:       "google-only",
		GoogleID: pointer.To("subject-1"),
		Email:    pointer.To("g@example.com"),
		Name:     "Google Only",
		IsActive: true,
	}))

	attempts := []auth.LoginInput{
		{Identifier: "unknown@example.com", Password: "whatever1"},
		{Identifier: "asha@example.com", Password: "wrongpass"},
		{Identifier: "g@example.com", Password: "whatever1"},
	}

	var messages []string
	for _, attempt := range attempts {
		_, err := fixture.service.Login(context.Background(), attempt)
		appError := apperr.As(err)
		require.NotNil(t, appError)
		assert.Equal(t, "INVALID_CREDENTIALS", appError.Code)
		messages = append(messages, appError.Message)
	}

	assert.Equal(t, messages[0], messages[1])
	assert.Equal(t, messages[1], messages[2])
}

func TestService_Login_MatchesAnyPhoneRepresentation(t *testing.T) {
	fixture := newServiceFixture(t)

	_, err := fixture.service.Register(context.Background(), auth.RegisterInput{
		Name:     "Ravi",
		Phone:    "+919876543210",
		Password: "sup3rsafe",
	})
	require.NoError(t, err)

	for _, identifier := range []string{"9876543210", "919876543210", "+919876543210"} {
		_, err := fixture.service.Login(context.Background(), auth.LoginInput{
			Identifier: identifier,
			Password:   "sup3rsafe",
		})
		assert.NoError(t, err, "identifier %q should resolve the same account", identifier)
	}
}

func TestService_Login_MatchesBareStoredPhone(t *testing.T) {
	fixture := newServiceFixture(t)

	// Stored without any country prefix; prefixed identifiers must still match.
	_, err := fixture.service.Register(context.Background(), auth.RegisterInput{
		Name:     "Ravi",
		Phone:    "9876543210",
		Password: "sup3rsafe",
	})
	require.NoError(t, err)

	for _, identifier := range []string{"+919876543210", "919876543210", "9876543210"} {
		_, err := fixture.service.Login(context.Background(), auth.LoginInput{
			Identifier: identifier,
			Password:   "sup3rsafe",
		})
		assert.NoError(t, err, "identifier %q should resolve the same account", identifier)
	}
}

func TestPhoneLookupForms_IncludeBareNumber(t *testing.T) {
	forms := auth.PhoneLookupForms("+919876543210")

	assert.ElementsMatch(t, []string{"9876543210", "+919876543210", "919876543210"}, forms)
}

// # Google Sign-In

func TestService_GoogleSignIn_LinksExistingEmailAccount(t *testing.T) {
	fixture := newServiceFixture(t)
	registered := fixture.register(t, "asha@example.com")

	fixture.google.data = &auth.GoogleUserData{
		ID:            "subject-42",
		Email:         "asha@example.com",
		VerifiedEmail: true,
		Name:          "Asha R.",
		Picture:       "https://lh3.example.com/p.jpg",
	}

	session, err := fixture.service.GoogleSignInWithIDToken(context.Background(), "an-id-token", "")
	require.NoError(t, err)

	// Linked in place: same account, now carrying the Google subject.
	assert.Equal(t, registered.User.ID, session.User.ID)
	require.NotNil(t, session.User.GoogleID)
	assert.Equal(t, "subject-42", *session.User.GoogleID)
	assert.True(t, session.User.VerifiedEmail)
	assert.NotNil(t, session.User.PasswordHash, "password must survive the linking")
	assert.Len(t, fixture.users.users, 1, "no duplicate account may be created")
}

func TestService_GoogleSignIn_CreatesThenReusesAccount(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.google.data = &auth.GoogleUserData{
		ID:            "subject-7",
		Email:         "new@example.com",
		VerifiedEmail: true,
		Name:          "Brand New",
	}

	first, err := fixture.service.GoogleSignInWithIDToken(context.Background(), "token-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, first.User.LoginCount)
	assert.Nil(t, first.User.PasswordHash)

	second, err := fixture.service.GoogleSignInWithIDToken(context.Background(), "token-2", "")
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, 2, second.User.LoginCount)
	assert.Len(t, fixture.users.users, 1)
}

func TestService_GoogleSignIn_SplitsDisplayName(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.google.data = &auth.GoogleUserData{
		ID:            "subject-11",
		Email:         "asha@example.com",
		VerifiedEmail: true,
		Name:          "Asha Rao Kulkarni",
	}

	session, err := fixture.service.GoogleSignInWithIDToken(context.Background(), "an-id-token", "")
	require.NoError(t, err)

	// First space splits the name; the remainder stays together.
	assert.Equal(t, "Asha", session.User.FirstName)
	assert.Equal(t, "Rao Kulkarni", session.User.LastName)

	// Linking an existing password account picks up the split as well.
	linked := fixture.register(t, "linked@example.com")
	fixture.google.data = &auth.GoogleUserData{
		ID:    "subject-12",
		Email: "linked@example.com",
		Name:  "Ravi Verma",
	}

	session, err = fixture.service.GoogleSignInWithIDToken(context.Background(), "another-id-token", "")
	require.NoError(t, err)
	assert.Equal(t, linked.User.ID, session.User.ID)
	assert.Equal(t, "Ravi", session.User.FirstName)
	assert.Equal(t, "Verma", session.User.LastName)
}

func TestService_GoogleSignInWithCode_EnforcesOneTimeState(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.google.data = &auth.GoogleUserData{ID: "subject-9", Email: "s@example.com", Name: "S"}

	_, state, err := fixture.service.GoogleAuthURL(context.Background())
	require.NoError(t, err)

	_, err = fixture.service.GoogleSignInWithCode(context.Background(), "auth-code", state, "")
	require.NoError(t, err)

	// Replaying the same state must be rejected.
	_, err = fixture.service.GoogleSignInWithCode(context.Background(), "auth-code", state, "")
	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "UNAUTHORIZED", appError.Code)

	// A state that was never issued is equally dead.
	_, err = fixture.service.GoogleSignInWithCode(context.Background(), "auth-code", "forged-state", "")
	appError = apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "UNAUTHORIZED", appError.Code)
}

// # Refresh Rotation

func TestService_Refresh_RotatesAndRejectsReplay(t *testing.T) {
	fixture := newServiceFixture(t)
	session := fixture.register(t, "asha@example.com")
	firstRefresh := session.Tokens.RefreshToken

	rotated, err := fixture.service.Refresh(context.Background(), firstRefresh, "")
	require.NoError(t, err)
	assert.NotEqual(t, firstRefresh, rotated.Tokens.RefreshToken)

	present, err := fixture.ledger.Contains(context.Background(), session.User.ID, firstRefresh)
	require.NoError(t, err)
	assert.False(t, present, "rotated-out token must leave the ledger")

	// The stolen-but-stale token is now permanently unusable.
	_, err = fixture.service.Refresh(context.Background(), firstRefresh, "")
	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "TOKEN_INVALID", appError.Code)
}

func TestService_Refresh_RejectsAccessToken(t *testing.T) {
	fixture := newServiceFixture(t)
	session := fixture.register(t, "asha@example.com")

	_, err := fixture.service.Refresh(context.Background(), session.Tokens.AccessToken, "")
	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "TOKEN_INVALID", appError.Code)
}

func TestService_LedgerEvictsOldestBeyondCapacity(t *testing.T) {
	fixture := newServiceFixture(t)
	session := fixture.register(t, "asha@example.com")
	firstRefresh := session.Tokens.RefreshToken

	for i := 0; i < constants.MaxRefreshTokensPerUser; i++ {
		_, err := fixture.service.Login(context.Background(), auth.LoginInput{
			Identifier: "asha@example.com",
			Password:   "sup3rsafe",
		})
		require.NoError(t, err)
	}

	entries, err := fixture.ledger.ListByUser(context.Background(), session.User.ID)
	require.NoError(t, err)
	assert.Len(t, entries, constants.MaxRefreshTokensPerUser)

	present, err := fixture.ledger.Contains(context.Background(), session.User.ID, firstRefresh)
	require.NoError(t, err)
	assert.False(t, present, "oldest entry must be evicted first")
}

// # Logout

func TestService_Logout_IsIdempotent(t *testing.T) {
	fixture := newServiceFixture(t)
	session := fixture.register(t, "asha@example.com")

	require.NoError(t, fixture.service.Logout(context.Background(), session.Tokens.RefreshToken))
	require.NoError(t, fixture.service.Logout(context.Background(), session.Tokens.RefreshToken))
	require.NoError(t, fixture.service.Logout(context.Background(), "not-even-a-jwt"))

	entries, err := fixture.ledger.ListByUser(context.Background(), session.User.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestService_LogoutAll_RequiresLiveToken(t *testing.T) {
	fixture := newServiceFixture(t)
	session := fixture.register(t, "asha@example.com")

	_, err := fixture.service.Login(context.Background(), auth.LoginInput{
		Identifier: "asha@example.com",
		Password:   "sup3rsafe",
	})
	require.NoError(t, err)

	require.NoError(t, fixture.service.LogoutAll(context.Background(), session.Tokens.RefreshToken))

	entries, err := fixture.ledger.ListByUser(context.Background(), session.User.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The token is verifiable but no longer ledger-present.
	err = fixture.service.LogoutAll(context.Background(), session.Tokens.RefreshToken)
	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "TOKEN_INVALID", appError.Code)
}

// # Profile

func TestService_UpdateUserDetails_RecomposesDisplayName(t *testing.T) {
	fixture := newServiceFixture(t)
	session := fixture.register(t, "asha@example.com")

	user, err := fixture.service.UpdateUserDetails(context.Background(), session.User.ID, auth.UserDetailsInput{
		FirstName: "Asha",
		LastName:  "Rao",
		Age:       31,
	})

	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", user.Name)
	assert.Equal(t, 31, user.Age)
}

func TestService_UpdateUserDetails_RejectsOutOfRangeAge(t *testing.T) {
	fixture := newServiceFixture(t)
	session := fixture.register(t, "asha@example.com")

	_, err := fixture.service.UpdateUserDetails(context.Background(), session.User.ID, auth.UserDetailsInput{
		FirstName: "Asha",
		LastName:  "Rao",
		Age:       121,
	})

	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "VALIDATION_ERROR", appError.Code)
}

func TestService_UpdateProfile_AppliesPartialUpdate(t *testing.T) {
	fixture := newServiceFixture(t)
	session := fixture.register(t, "asha@example.com")

	user, err := fixture.service.UpdateProfile(context.Background(), session.User.ID, auth.UpdateProfileInput{
		Theme: pointer.To(auth.ThemeDark),
	})

	require.NoError(t, err)
	assert.Equal(t, auth.ThemeDark, user.Preferences.Theme)
	assert.Equal(t, "Asha Rao", user.Name, "unset fields stay untouched")
	assert.True(t, user.Preferences.Notifications)
}
