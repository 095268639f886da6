// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

package auth

import "time"

// # Validation Constraints

const (
	// PasswordMinLength is the minimum accepted password length.
	PasswordMinLength = 6

	// NamePartMinLength bounds firstName/lastName from below.
	NamePartMinLength = 2

	// NamePartMaxLength bounds firstName/lastName from above.
	NamePartMaxLength = 50

	// AgeMin and AgeMax bound the accepted age range.
	AgeMin = 1
	AgeMax = 120
)

// # Preference Themes

const (
	ThemeLight = "light"
	ThemeDark  = "dark"
	ThemeAuto  = "auto"
)

// # OAuth

const (
	// OAuthStateLength is the byte length of the random one-time state token.
	OAuthStateLength = 32

	// OAuthStateTTL is how long a pending OAuth state remains redeemable.
	// Long enough for the account-chooser round trip, short enough that a
	// leaked state is useless.
	OAuthStateTTL = 10 * time.Minute
)
