// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

package auth

import (
	"context"
	"time"
)

// # User Data Access

// UserRepository defines the data access contract for user accounts.
// All lookups resolve only active accounts; deactivated rows are invisible.
type UserRepository interface {

	/*
		FindByID returns the account with the given ID.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - *User: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByID(context context.Context, id string) (*User, error)

	/*
		FindByEmail returns the account with the given email (case-insensitive).

		Parameters:
		  - context: context.Context
		  - email: string

		Returns:
		  - *User: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByEmail(context context.Context, email string) (*User, error)

	/*
		FindByPhone returns the account matching any stored representation of
		the given phone number (raw, "91"-prefixed, "+91"-prefixed).

		Parameters:
		  - context: context.Context
		  - phone: string

		Returns:
		  - *User: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByPhone(context context.Context, phone string) (*User, error)

	/*
		FindByGoogleID returns the account linked to the given Google subject.

		Parameters:
		  - context: context.Context
		  - googleID: string

		Returns:
		  - *User: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByGoogleID(context context.Context, googleID string) (*User, error)

	/*
		Create persists a brand-new user account to the storage.

		Parameters:
		  - context: context.Context
		  - user: *User

		Returns:
		  - error: apperr.Conflict on identity collisions, other persistence failures
	*/
	Create(context context.Context, user *User) error

	/*
		Update persists changes to mutable account fields (identity linkage,
		names, age, picture, verification flags, preferences).

		Parameters:
		  - context: context.Context
		  - user: *User

		Returns:
		  - error: apperr.Conflict on identity collisions, other persistence failures
	*/
	Update(context context.Context, user *User) error

	/*
		RecordLogin bumps lastlogin to now and increments logincount.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - error: Persistence failures
	*/
	RecordLogin(context context.Context, userID string) error
}

// # Refresh Ledger Data Access

// RefreshTokenRepository defines the data access contract for the per-user
// refresh-token ledger.
//
// # Semantics
//
// The ledger holds at most [constants.MaxRefreshTokensPerUser] entries per
// user, evicting the oldest on overflow (FIFO by insertion, not by expiry).
// Reads never return entries older than the configured refresh TTL.
type RefreshTokenRepository interface {

	/*
		Append inserts a new ledger entry and trims the user's ledger to the
		capacity limit in the same transaction.

		Parameters:
		  - context: context.Context
		  - entry: *RefreshTokenEntry

		Returns:
		  - error: Persistence failures
	*/
	Append(context context.Context, entry *RefreshTokenEntry) error

	/*
		Remove deletes the entry holding the exact token string. Removing an
		absent token is a no-op, not an error.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - token: string

		Returns:
		  - error: Persistence failures
	*/
	Remove(context context.Context, userID, token string) error

	/*
		Clear deletes every ledger entry belonging to the user.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - error: Persistence failures
	*/
	Clear(context context.Context, userID string) error

	/*
		Rotate atomically replaces oldToken with a new entry: the old row is
		deleted (requiring exactly one row affected), the new entry inserted,
		and the ledger trimmed, all in one transaction.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - oldToken: string
		  - entry: *RefreshTokenEntry

		Returns:
		  - error: apperr.TokenInvalid if oldToken is no longer in the ledger,
		    other persistence failures
	*/
	Rotate(context context.Context, userID, oldToken string, entry *RefreshTokenEntry) error

	/*
		Contains reports whether the exact token string is present (and not
		older than the refresh TTL) in the user's ledger.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - token: string

		Returns:
		  - bool: Presence
		  - error: Retrieval failures
	*/
	Contains(context context.Context, userID, token string) (bool, error)

	/*
		ListByUser returns the user's ledger entries, oldest first.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - []RefreshTokenEntry: Live entries
		  - error: Retrieval failures
	*/
	ListByUser(context context.Context, userID string) ([]RefreshTokenEntry, error)

	/*
		DeleteExpired physically removes entries older than the refresh TTL
		across all users.

		Parameters:
		  - context: context.Context

		Returns:
		  - error: Cleanup failures
	*/
	DeleteExpired(context context.Context) error
}

// # Volatile Data Access

// StateRepository defines the contract for storing one-time OAuth state tokens.
type StateRepository interface {

	/*
		Set stores a state token for a limited duration.

		Parameters:
		  - context: context.Context
		  - state: string
		  - ttl: time.Duration

		Returns:
		  - error: Persistence failures
	*/
	Set(context context.Context, state string, ttl time.Duration) error

	/*
		Consume redeems a state token exactly once. A second redemption of the
		same state fails.

		Parameters:
		  - context: context.Context
		  - state: string

		Returns:
		  - error: apperr.NotFound if the state is absent, expired, or already
		    consumed; connectivity failures otherwise
	*/
	Consume(context context.Context, state string) error
}
