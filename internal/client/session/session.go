// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

/*
Package session is the device-local session manager.

It caches the signed-in user and their token pair in a persisted snapshot,
answers login-state questions with a safety buffer against token expiry, and
proactively rotates the refresh token before the access token runs out.

# Fail-Closed Refresh

A failed refresh never leaves a half-valid session behind: any error on the
rotation path clears the whole snapshot, forcing a fresh sign-in. A device
can therefore be in exactly two states, fully signed in or fully signed out.
*/
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rlx-health/rhealth/internal/auth"
)

// # Session Snapshot

// ProviderGoogle marks sessions established through Google sign-in.
const ProviderGoogle = "google"

// ProviderPassword marks sessions established with a password.
const ProviderPassword = "password"

// Session is the persisted device-side view of a signed-in user.
type Session struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	UserID       string  `json:"userId"`
	Email        *string `json:"email,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	Name         string  `json:"name"`
	FirstName    string  `json:"firstName,omitempty"`
	LastName     string  `json:"lastName,omitempty"`
	Picture      string  `json:"picture,omitempty"`
	Provider     string  `json:"provider"`
	IsLoggedIn   bool    `json:"isLoggedIn"`

	// TokenExpiry is the absolute access-token deadline in epoch milliseconds.
	TokenExpiry int64 `json:"tokenExpiry"`
}

// tokenExpiryBuffer is subtracted from the absolute expiry before comparing
// to now. A token within the buffer of expiring is already treated as
// expired, so in-flight requests never race a server-side rejection.
const tokenExpiryBuffer = 5 * time.Minute

// DefaultWatchInterval is the polling period of [Manager.Watch].
const DefaultWatchInterval = 1 * time.Second

// # Manager

// APIClient is the slice of the REST client the manager needs.
type APIClient interface {
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenBundle, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Manager owns the device's session snapshot.
//
// It is not safe for concurrent mutation; the device UI drives it from a
// single goroutine. The underlying [Store] guarantees atomic whole-record
// writes regardless.
type Manager struct {
	store  Store
	client APIClient

	// now is a test seam; replaced in tests to control the clock.
	now func() time.Time
}

// NewManager constructs a [Manager] over the given store and API client.
func NewManager(store Store, client APIClient) *Manager {
	return &Manager{store: store, client: client, now: time.Now}
}

/*
Save writes a wholesale snapshot after a successful sign-in.

Description: The absolute expiry is computed from the pair's relative
lifetime at the moment of saving.

Parameters:
  - user: auth.Profile (identity fields to cache)
  - tokens: auth.TokenBundle (pair just issued by the server)
  - provider: string (ProviderGoogle or ProviderPassword)

Returns:
  - error: Persistence failures
*/
func (manager *Manager) Save(user auth.Profile, tokens auth.TokenBundle, provider string) error {
	snapshot := &Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		UserID:       user.ID,
		Email:        user.Email,
		Phone:        user.Phone,
		Name:         user.Name,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		Picture:      user.Picture,
		Provider:     provider,
		IsLoggedIn:   true,
		TokenExpiry:  manager.expiryFrom(tokens.ExpiresIn),
	}
	return manager.store.Save(snapshot)
}

// Current returns the cached session, or nil when absent or not flagged
// logged-in.
func (manager *Manager) Current() (*Session, error) {
	snapshot, err := manager.store.Load()
	if err != nil {
		return nil, err
	}
	if snapshot == nil || !snapshot.IsLoggedIn {
		return nil, nil
	}
	return snapshot, nil
}

// IsLoggedIn reports whether a live session exists: present, flagged, and
// not within the expiry buffer.
func (manager *Manager) IsLoggedIn() bool {
	snapshot, err := manager.Current()
	if err != nil || snapshot == nil {
		return false
	}
	return !manager.expired(snapshot)
}

// TokenExpired reports whether the cached access token is past (or within
// the buffer of) its deadline. A missing session counts as expired.
func (manager *Manager) TokenExpired() bool {
	snapshot, err := manager.Current()
	if err != nil || snapshot == nil {
		return true
	}
	return manager.expired(snapshot)
}

/*
RefreshIfNeeded rotates the token pair when the cached one is near expiry.

Description: A fresh session is a no-op success. Otherwise the refresh
endpoint is called; on success only the tokens and expiry are rewritten, on
ANY failure the whole snapshot is cleared (fail-closed) and false is
returned.

Parameters:
  - ctx: context.Context

Returns:
  - bool: true when a live session remains after the call
  - error: Persistence failures while rewriting the snapshot
*/
func (manager *Manager) RefreshIfNeeded(ctx context.Context) (bool, error) {
	snapshot, err := manager.Current()
	if err != nil || snapshot == nil {
		return false, err
	}
	if !manager.expired(snapshot) {
		return true, nil
	}

	tokens, err := manager.client.Refresh(ctx, snapshot.RefreshToken)
	if err != nil {
		if clearErr := manager.store.Clear(); clearErr != nil {
			return false, fmt.Errorf("session_clear_after_refresh_failed: %w", clearErr)
		}
		return false, nil
	}

	snapshot.AccessToken = tokens.AccessToken
	snapshot.RefreshToken = tokens.RefreshToken
	snapshot.TokenExpiry = manager.expiryFrom(tokens.ExpiresIn)

	if err := manager.store.Save(snapshot); err != nil {
		return false, err
	}
	return true, nil
}

/*
ValidateSession reports whether the device still holds a usable session.

Description: Google-originated sessions are validated by the expiry check
alone; their identity was proven upstream at sign-in time, so no server
round-trip is needed while the token is live. Password sessions fall through
to [Manager.RefreshIfNeeded].

Parameters:
  - ctx: context.Context

Returns:
  - bool: true when the session is usable
*/
func (manager *Manager) ValidateSession(ctx context.Context) bool {
	snapshot, err := manager.Current()
	if err != nil || snapshot == nil {
		return false
	}

	if snapshot.Provider == ProviderGoogle {
		return !manager.expired(snapshot)
	}

	alive, err := manager.RefreshIfNeeded(ctx)
	if err != nil {
		return false
	}
	return alive
}

/*
Logout revokes the session server-side and clears the local snapshot.

Description: The server call is best-effort; the local snapshot is cleared
even when the server is unreachable, so the device always ends signed out.

Parameters:
  - ctx: context.Context

Returns:
  - error: Local clearing failures only
*/
func (manager *Manager) Logout(ctx context.Context) error {
	snapshot, err := manager.store.Load()
	if err == nil && snapshot != nil && snapshot.RefreshToken != "" {
		_ = manager.client.Logout(ctx, snapshot.RefreshToken)
	}
	return manager.store.Clear()
}

/*
Watch emits login-state transitions on a cooperative polling loop.

Description: The channel carries the new state whenever it differs from the
previously observed one, starting with the state at call time. The loop
stops and the channel closes when ctx is cancelled. Polling is a deliberate
simple mechanism for a short-lived foreground process.

Parameters:
  - ctx: context.Context
  - interval: time.Duration (zero means DefaultWatchInterval)

Returns:
  - <-chan bool: login-state transitions
*/
func (manager *Manager) Watch(ctx context.Context, interval time.Duration) <-chan bool {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	updates := make(chan bool, 1)
	go func() {
		defer close(updates)

		last := manager.IsLoggedIn()
		updates <- last

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current := manager.IsLoggedIn()
				if current != last {
					last = current
					select {
					case updates <- current:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return updates
}

// # Internal Helpers

// expired applies the safety buffer to the snapshot's absolute deadline.
func (manager *Manager) expired(snapshot *Session) bool {
	deadline := time.UnixMilli(snapshot.TokenExpiry).Add(-tokenExpiryBuffer)
	return !manager.now().Before(deadline)
}

// expiryFrom converts a relative lifetime in seconds to epoch milliseconds.
func (manager *Manager) expiryFrom(expiresIn int64) int64 {
	return manager.now().Add(time.Duration(expiresIn) * time.Second).UnixMilli()
}
