// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

package sec

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rlx-health/rhealth/internal/platform/constants"
	"github.com/rlx-health/rhealth/pkg/uuidv7"
)

// Sentinel errors returned by the verification methods. Callers map these to
// the appropriate API error responses.
var (
	// ErrTokenExpired indicates a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("sec: token has expired")

	// ErrTokenInvalid indicates a token that failed signature, claim, or
	// structural validation.
	ErrTokenInvalid = errors.New("sec: token is invalid")
)

// refreshTokenType is the value of the "type" claim that marks a refresh
// token. Access tokens carry no "type" claim, so the two are never
// interchangeable.
const refreshTokenType = "refresh"

// AccessClaims is the claim set embedded in access tokens. In addition to
// the registered claims it carries the user's identity so handlers can act
// without a database read.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// RefreshClaims is the claim set embedded in refresh tokens. It carries only
// the user ID plus a type marker so a refresh token can never pass as an
// access token.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"userId"`
	TokenType string `json:"type"`
}

// TokenPair bundles a freshly minted access/refresh pair together with the
// access token's lifetime in seconds, which clients use to schedule renewal.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

/*
TokenService mints and verifies the signed tokens used by the API. Both token
kinds are HS256 JWTs signed with a single shared secret; the issuer and
audience claims are fixed per deployment.

Construct it once at startup with NewTokenService and share it: the service
holds no mutable state and is safe for concurrent use.
*/
type TokenService struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

/*
NewTokenService creates a TokenService from the application configuration.

Parameters:
  - secret: shared HMAC signing secret. Must not be empty.
  - accessExpiresIn: access token lifetime, e.g. "30d" or "15m".
  - refreshExpiresIn: refresh token lifetime, e.g. "90d".

Returns:
  - *TokenService: the configured service.
  - error: if the secret is empty.

Lifetime strings that cannot be parsed fall back to one hour rather than
failing startup.
*/
func NewTokenService(secret, accessExpiresIn, refreshExpiresIn string) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("sec: jwt secret must not be empty")
	}
	return &TokenService{
		secret:     []byte(secret),
		issuer:     constants.AuthIssuer,
		audience:   constants.AuthAudience,
		accessTTL:  ParseExpiry(accessExpiresIn),
		refreshTTL: ParseExpiry(refreshExpiresIn),
	}, nil
}

/*
MintPair issues a new access/refresh token pair for the given user.

Parameters:
  - userID: the subject user's ID.
  - email: the user's email, embedded in the access token.
  - name: the user's display name, embedded in the access token.

Returns:
  - TokenPair: signed tokens plus the access token lifetime in seconds.
  - error: if signing fails.
*/
func (service *TokenService) MintPair(userID, email, name string) (TokenPair, error) {
	now := time.Now()

	// A jti on every token keeps two pairs minted within the same second from
	// serializing identically; the ledger stores the exact string.
	accessClaims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuidv7.New(),
			Issuer:    service.issuer,
			Audience:  jwt.ClaimStrings{service.audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(service.accessTTL)),
		},
		UserID: userID,
		Email:  email,
		Name:   name,
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(service.secret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sec: failed to sign access token: %w", err)
	}

	refreshClaims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuidv7.New(),
			Issuer:    service.issuer,
			Audience:  jwt.ClaimStrings{service.audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(service.refreshTTL)),
		},
		UserID:    userID,
		TokenType: refreshTokenType,
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(service.secret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sec: failed to sign refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(service.accessTTL.Seconds()),
	}, nil
}

/*
VerifyAccess validates an access token and returns its claims.

Returns:
  - *AccessClaims: the verified claims.
  - error: ErrTokenExpired for an expired token, ErrTokenInvalid otherwise.
*/
func (service *TokenService) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := service.verify(tokenString, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

/*
VerifyRefresh validates a refresh token and returns its claims. A token
whose "type" claim is not "refresh" is rejected even when its signature is
valid, so access tokens cannot be replayed against the refresh endpoint.

Returns:
  - *RefreshClaims: the verified claims.
  - error: ErrTokenExpired for an expired token, ErrTokenInvalid otherwise.
*/
func (service *TokenService) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := service.verify(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != refreshTokenType {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// RefreshTTL reports the configured refresh token lifetime. The ledger uses
// it to stamp expiry on stored entries.
func (service *TokenService) RefreshTTL() time.Duration {
	return service.refreshTTL
}

func (service *TokenService) verify(tokenString string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("sec: unexpected signing method %q", token.Header["alg"])
			}
			return service.secret, nil
		},
		jwt.WithIssuer(service.issuer),
		jwt.WithAudience(service.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}
	return nil
}

/*
ParseExpiry converts a lifetime string of the form "<number><unit>" into a
duration, where the unit is one of "s", "m", "h", or "d". A bare number is
read as seconds. Anything unparseable falls back to one hour.

Examples: "30d", "15m", "3600".
*/
func ParseExpiry(expiresIn string) time.Duration {
	const fallback = time.Hour
	if expiresIn == "" {
		return fallback
	}

	unit := time.Second
	numberPart := expiresIn
	switch expiresIn[len(expiresIn)-1] {
	case 's':
		numberPart = expiresIn[:len(expiresIn)-1]
	case 'm':
		unit = time.Minute
		numberPart = expiresIn[:len(expiresIn)-1]
	case 'h':
		unit = time.Hour
		numberPart = expiresIn[:len(expiresIn)-1]
	case 'd':
		unit = 24 * time.Hour
		numberPart = expiresIn[:len(expiresIn)-1]
	}

	value, err := strconv.Atoi(numberPart)
	if err != nil || value <= 0 {
		return fallback
	}
	return time.Duration(value) * unit
}
