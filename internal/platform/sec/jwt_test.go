// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

package sec_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlx-health/rhealth/internal/platform/sec"
)

func TestParseExpiry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		expiresIn string
		want      time.Duration
	}{
		{name: "seconds", expiresIn: "45s", want: 45 * time.Second},
		{name: "minutes", expiresIn: "15m", want: 15 * time.Minute},
		{name: "hours", expiresIn: "2h", want: 2 * time.Hour},
		{name: "days", expiresIn: "30d", want: 30 * 24 * time.Hour},
		{name: "bare number is seconds", expiresIn: "3600", want: time.Hour},
		{name: "empty falls back", expiresIn: "", want: time.Hour},
		{name: "garbage falls back", expiresIn: "soon", want: time.Hour},
		{name: "negative falls back", expiresIn: "-5m", want: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, sec.ParseExpiry(tt.expiresIn))
		})
	}
}

func TestTokenService_MintPairRoundTrip(t *testing.T) {
	t.Parallel()

	service, err := sec.NewTokenService("test-secret", "30d", "90d")
	require.NoError(t, err)

	pair, err := service.MintPair("user-1", "jane@example.com", "Jane Doe")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(30*24*3600), pair.ExpiresIn)

	accessClaims, err := service.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", accessClaims.UserID)
	assert.Equal(t, "jane@example.com", accessClaims.Email)
	assert.Equal(t, "Jane Doe", accessClaims.Name)

	refreshClaims, err := service.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", refreshClaims.UserID)
}

func TestTokenService_RejectsCrossedTokenKinds(t *testing.T) {
	t.Parallel()

	service, err := sec.NewTokenService("test-secret", "30d", "90d")
	require.NoError(t, err)

	pair, err := service.MintPair("user-1", "jane@example.com", "Jane Doe")
	require.NoError(t, err)

	// An access token must not pass refresh verification even though both
	// share the same signing key.
	_, err = service.VerifyRefresh(pair.AccessToken)
	assert.ErrorIs(t, err, sec.ErrTokenInvalid)
}

func TestTokenService_RejectsForeignSignature(t *testing.T) {
	t.Parallel()

	minter, err := sec.NewTokenService("secret-one", "30d", "90d")
	require.NoError(t, err)
	verifier, err := sec.NewTokenService("secret-two", "30d", "90d")
	require.NoError(t, err)

	pair, err := minter.MintPair("user-1", "jane@example.com", "Jane Doe")
	require.NoError(t, err)

	_, err = verifier.VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, sec.ErrTokenInvalid)
}

func TestTokenService_ReportsExpiry(t *testing.T) {
	t.Parallel()

	service, err := sec.NewTokenService("test-secret", "1s", "90d")
	require.NoError(t, err)

	pair, err := service.MintPair("user-1", "jane@example.com", "Jane Doe")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	_, err = service.VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, sec.ErrTokenExpired)
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := sec.NewTokenService("", "30d", "90d")
	assert.Error(t, err)
}
