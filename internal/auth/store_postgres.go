// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

// PostgreSQL implementations of the auth storage contracts.
//
// # Architecture
//
// Repositories in this file are strictly separated from domain logic. They
// implement domain-defined interfaces (e.g., [UserRepository]) using the
// [pgxpool.Pool] connection manager.
//
// # Error Mapping
//
// Storage-specific errors (like pgx.ErrNoRows and unique-constraint
// violations) are mapped to domain-friendly [apperr.AppError] types to avoid
// leaking storage implementation details.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rlx-health/rhealth/internal/platform/apperr"
	"github.com/rlx-health/rhealth/internal/platform/constants"
)

// # User Repository

// userColumns is the canonical column list for hydrating a User entity.
const userColumns = `id, googleid, email, phone, passwordhash, name, firstname, lastname, age,
		picture, verifiedemail, verifiedphone, isactive, lastlogin, logincount,
		theme, notifications, createdat, updatedat`

// PostgresUserRepository implements the UserRepository interface using pgx.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new PostgreSQL implementation of the UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// scanUser hydrates a User from a row produced by a userColumns SELECT.
func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.GoogleID,
		&user.Email,
		&user.Phone,
		&user.PasswordHash,
		&user.Name,
		&user.FirstName,
		&user.LastName,
		&user.Age,
		&user.Picture,
		&user.VerifiedEmail,
		&user.VerifiedPhone,
		&user.IsActive,
		&user.LastLogin,
		&user.LoginCount,
		&user.Preferences.Theme,
		&user.Preferences.Notifications,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgError *pgconn.PgError
	return errors.As(err, &pgError) && pgError.Code == pgerrcode.UniqueViolation
}

/*
Create persists a new user record into the users.account table.

Description: Deep-persists account metadata, ensuring timestamps are initialized
if not provided.

Parameters:
  - context: context.Context
  - user: *User (Entity to persist)

Returns:
  - error: apperr.Conflict on identity collisions, or connectivity errors
*/
func (repository *PostgresUserRepository) Create(context context.Context, user *User) error {
	const query = `
		INSERT INTO users.account (
			id, googleid, email, phone, passwordhash, name, firstname, lastname, age,
			picture, verifiedemail, verifiedphone, isactive, lastlogin, logincount,
			theme, notifications, createdat, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.LastLogin.IsZero() {
		user.LastLogin = now
	}
	user.UpdatedAt = now

	_, err := repository.pool.Exec(context, query,
		user.ID,
		user.GoogleID,
		user.Email,
		user.Phone,
		user.PasswordHash,
		user.Name,
		user.FirstName,
		user.LastName,
		user.Age,
		user.Picture,
		user.VerifiedEmail,
		user.VerifiedPhone,
		user.IsActive,
		user.LastLogin,
		user.LoginCount,
		user.Preferences.Theme,
		user.Preferences.Notifications,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("User already exists with this email or phone number")
		}
		return fmt.Errorf("postgres_user_repo_create_failed: %w", err)
	}

	return nil
}

/*
FindByEmail retrieves a user record by their unique email address.

Description: Case-insensitive lookup on the account table, filtering out
deactivated users.

Parameters:
  - context: context.Context
  - email: string

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresUserRepository) FindByEmail(context context.Context, email string) (*User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE lower(email) = $1 AND isactive = TRUE`

	user, err := scanUser(repository.pool.QueryRow(context, query, NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_email_failed: %w", err)
	}

	return user, nil
}

/*
FindByPhone retrieves a user record by phone number.

Description: The number may have been stored bare or with a country prefix,
so the lookup matches every representation produced by [PhoneLookupForms].

Parameters:
  - context: context.Context
  - phone: string

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresUserRepository) FindByPhone(context context.Context, phone string) (*User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE phone = ANY($1) AND isactive = TRUE`

	user, err := scanUser(repository.pool.QueryRow(context, query, PhoneLookupForms(phone)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_phone_failed: %w", err)
	}

	return user, nil
}

/*
FindByGoogleID retrieves a user record by their linked Google subject ID.

Parameters:
  - context: context.Context
  - googleID: string

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresUserRepository) FindByGoogleID(context context.Context, googleID string) (*User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE googleid = $1 AND isactive = TRUE`

	user, err := scanUser(repository.pool.QueryRow(context, query, googleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_google_id_failed: %w", err)
	}

	return user, nil
}

/*
FindByID retrieves a user record by their unique ID.

Description: Primary key resolution for user accounts.

Parameters:
  - context: context.Context
  - id: string (UUIDv7)

Returns:
  - *User: Hydrated account entity
  - error: Not found or execution errors
*/
func (repository *PostgresUserRepository) FindByID(context context.Context, id string) (*User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE id = $1 AND isactive = TRUE`

	user, err := scanUser(repository.pool.QueryRow(context, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_id_failed: %w", err)
	}

	return user, nil
}

/*
Update persists changes to a user's mutable account fields.

Description: Synchronizes the in-memory user state with the database,
refreshing the updatedat timestamp. Identity linkage (googleid) is included
so a Google sign-in can upgrade an existing password account in place.

Parameters:
  - context: context.Context
  - user: *User

Returns:
  - error: apperr.Conflict on identity collisions, other update failures
*/
func (repository *PostgresUserRepository) Update(context context.Context, user *User) error {
	const query = `
		UPDATE users.account
		SET googleid = $2, name = $3, firstname = $4, lastname = $5, age = $6,
			picture = $7, verifiedemail = $8, verifiedphone = $9,
			theme = $10, notifications = $11, updatedat = $12
		WHERE id = $1 AND isactive = TRUE`

	user.UpdatedAt = time.Now()
	_, err := repository.pool.Exec(context, query,
		user.ID,
		user.GoogleID,
		user.Name,
		user.FirstName,
		user.LastName,
		user.Age,
		user.Picture,
		user.VerifiedEmail,
		user.VerifiedPhone,
		user.Preferences.Theme,
		user.Preferences.Notifications,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("This Google account is already linked to another user")
		}
		return fmt.Errorf("postgres_user_repo_update_failed: %w", err)
	}

	return nil
}

/*
RecordLogin updates the user's login bookkeeping fields.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - error: Execution errors
*/
func (repository *PostgresUserRepository) RecordLogin(context context.Context, userID string) error {
	const query = `
		UPDATE users.account
		SET lastlogin = $2, logincount = logincount + 1, updatedat = $2
		WHERE id = $1 AND isactive = TRUE`

	_, err := repository.pool.Exec(context, query, userID, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_user_repo_record_login_failed: %w", err)
	}

	return nil
}

// # Refresh Ledger Repository

// PostgresRefreshTokenRepository implements the RefreshTokenRepository interface.
type PostgresRefreshTokenRepository struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewRefreshTokenRepository creates a new PostgreSQL implementation of
// RefreshTokenRepository. Entries older than ttl are invisible to reads.
func NewRefreshTokenRepository(pool *pgxpool.Pool, ttl time.Duration) *PostgresRefreshTokenRepository {
	return &PostgresRefreshTokenRepository{pool: pool, ttl: ttl}
}

// cutoff returns the oldest createdat still considered live.
func (repository *PostgresRefreshTokenRepository) cutoff() time.Time {
	return time.Now().Add(-repository.ttl)
}

// trimQuery evicts the oldest rows beyond the per-user capacity. Ordering by
// (createdat, id) keeps eviction deterministic when timestamps collide,
// because IDs are time-sortable UUIDv7 values.
const trimQuery = `
		DELETE FROM users.refresh_token
		WHERE userid = $1 AND id NOT IN (
			SELECT id FROM users.refresh_token
			WHERE userid = $1
			ORDER BY createdat DESC, id DESC
			LIMIT $2
		)`

/*
Append inserts a new ledger entry and trims the user's ledger to capacity.

Description: Insert and eviction run in one transaction so the cap can never
be observed as exceeded.

Parameters:
  - context: context.Context
  - entry: *RefreshTokenEntry

Returns:
  - error: Storage failures
*/
func (repository *PostgresRefreshTokenRepository) Append(context context.Context, entry *RefreshTokenEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	transaction, err := repository.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_append_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	const insertQuery = `
		INSERT INTO users.refresh_token (id, userid, token, deviceinfo, createdat)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = transaction.Exec(context, insertQuery,
		entry.ID, entry.UserID, entry.Token, entry.DeviceInfo, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_append_insert_failed: %w", err)
	}

	_, err = transaction.Exec(context, trimQuery, entry.UserID, constants.MaxRefreshTokensPerUser)
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_append_trim_failed: %w", err)
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_refresh_repo_append_commit_failed: %w", err)
	}

	return nil
}

/*
Remove deletes the ledger entry holding the exact token string.

Description: Idempotent; removing a token that is not present succeeds.

Parameters:
  - context: context.Context
  - userID: string
  - token: string

Returns:
  - error: Execution errors
*/
func (repository *PostgresRefreshTokenRepository) Remove(context context.Context, userID, token string) error {
	const query = "DELETE FROM users.refresh_token WHERE userid = $1 AND token = $2"
	_, err := repository.pool.Exec(context, query, userID, token)
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_remove_failed: %w", err)
	}
	return nil
}

/*
Clear deletes every ledger entry belonging to the user.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - error: Execution errors
*/
func (repository *PostgresRefreshTokenRepository) Clear(context context.Context, userID string) error {
	const query = "DELETE FROM users.refresh_token WHERE userid = $1"
	_, err := repository.pool.Exec(context, query, userID)
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_clear_failed: %w", err)
	}
	return nil
}

/*
Rotate atomically replaces oldToken with a new ledger entry.

Description: The delete of the old row must affect exactly one row. Zero rows
means the token was already rotated out or never existed, so the whole
transaction fails with TokenInvalid; a concurrent rotation of the same token
can therefore never mint two descendants.

Parameters:
  - context: context.Context
  - userID: string
  - oldToken: string
  - entry: *RefreshTokenEntry

Returns:
  - error: apperr.TokenInvalid, or storage failures
*/
func (repository *PostgresRefreshTokenRepository) Rotate(context context.Context, userID, oldToken string, entry *RefreshTokenEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	transaction, err := repository.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_rotate_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	const deleteQuery = `
		DELETE FROM users.refresh_token
		WHERE userid = $1 AND token = $2 AND createdat > $3`

	tag, err := transaction.Exec(context, deleteQuery, userID, oldToken, repository.cutoff())
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_rotate_delete_failed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return apperr.TokenInvalid()
	}

	const insertQuery = `
		INSERT INTO users.refresh_token (id, userid, token, deviceinfo, createdat)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = transaction.Exec(context, insertQuery,
		entry.ID, entry.UserID, entry.Token, entry.DeviceInfo, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_rotate_insert_failed: %w", err)
	}

	_, err = transaction.Exec(context, trimQuery, userID, constants.MaxRefreshTokensPerUser)
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_rotate_trim_failed: %w", err)
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_refresh_repo_rotate_commit_failed: %w", err)
	}

	return nil
}

/*
Contains reports whether the exact token string is live in the user's ledger.

Parameters:
  - context: context.Context
  - userID: string
  - token: string

Returns:
  - bool: Presence
  - error: Execution errors
*/
func (repository *PostgresRefreshTokenRepository) Contains(context context.Context, userID, token string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM users.refresh_token
			WHERE userid = $1 AND token = $2 AND createdat > $3
		)`

	var present bool
	err := repository.pool.QueryRow(context, query, userID, token, repository.cutoff()).Scan(&present)
	if err != nil {
		return false, fmt.Errorf("postgres_refresh_repo_contains_failed: %w", err)
	}

	return present, nil
}

/*
ListByUser returns the user's live ledger entries, oldest first.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - []RefreshTokenEntry: Live entries
  - error: Execution errors
*/
func (repository *PostgresRefreshTokenRepository) ListByUser(context context.Context, userID string) ([]RefreshTokenEntry, error) {
	const query = `
		SELECT id, userid, token, deviceinfo, createdat
		FROM users.refresh_token
		WHERE userid = $1 AND createdat > $2
		ORDER BY createdat ASC, id ASC`

	rows, err := repository.pool.Query(context, query, userID, repository.cutoff())
	if err != nil {
		return nil, fmt.Errorf("postgres_refresh_repo_list_failed: %w", err)
	}
	defer rows.Close()

	var entries []RefreshTokenEntry
	for rows.Next() {
		var entry RefreshTokenEntry
		err := rows.Scan(&entry.ID, &entry.UserID, &entry.Token, &entry.DeviceInfo, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres_refresh_repo_scan_failed: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_refresh_repo_rows_failed: %w", err)
	}

	return entries, nil
}

/*
DeleteExpired permanently removes ledger entries past the refresh TTL.

Description: Cleanup task to reclaim storage from stale entries.

Parameters:
  - context: context.Context

Returns:
  - error: Cleanup failures
*/
func (repository *PostgresRefreshTokenRepository) DeleteExpired(context context.Context) error {
	const query = "DELETE FROM users.refresh_token WHERE createdat <= $1"
	_, err := repository.pool.Exec(context, query, repository.cutoff())
	if err != nil {
		return fmt.Errorf("postgres_refresh_repo_delete_expired_failed: %w", err)
	}
	return nil
}
