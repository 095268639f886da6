// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/rlx-health/rhealth/internal/platform/apperr"
	"github.com/rlx-health/rhealth/internal/platform/constants"
)

// Google API endpoints. Overridable in tests via the provider fields.
const (
	googleUserInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
	googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
)

// GoogleUserData is the identity payload returned by Google for a signed-in
// account, shared by both the auth-code and the ID-token flows.
type GoogleUserData struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// IdentityProvider defines the contract for resolving upstream identities.
//
// # Why an interface?
//
// The service depends on this contract instead of the concrete Google client
// so tests can stub the upstream without network access.
type IdentityProvider interface {

	// AuthCodeURL builds the browser URL that starts the sign-in flow,
	// binding it to the given one-time state.
	AuthCodeURL(state string) string

	// ExchangeCode redeems an authorization code for the user's identity.
	ExchangeCode(context context.Context, code string) (*GoogleUserData, error)

	// VerifyIDToken validates a Google ID token and returns the identity it
	// asserts.
	VerifyIDToken(context context.Context, idToken string) (*GoogleUserData, error)
}

// GoogleProvider implements IdentityProvider against Google's OAuth2/OIDC
// endpoints.
type GoogleProvider struct {
	config       *oauth2.Config
	httpClient   *http.Client
	userInfoURL  string
	tokenInfoURL string
}

// NewGoogleProvider constructs a GoogleProvider from application credentials.
//
// # Parameters
//   - clientID: OAuth client ID; also the expected ID-token audience.
//   - clientSecret: OAuth client secret.
//   - redirectURL: The registered browser callback URL.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		httpClient:   &http.Client{Timeout: constants.UpstreamTimeout},
		userInfoURL:  googleUserInfoURL,
		tokenInfoURL: googleTokenInfoURL,
	}
}

// AuthCodeURL builds the Google consent-screen URL bound to the given state.
func (provider *GoogleProvider) AuthCodeURL(state string) string {
	return provider.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

/*
ExchangeCode redeems an authorization code and fetches the user's profile.

Description: Two upstream round trips — the code-for-token exchange against
the token endpoint, then a Bearer GET of the userinfo endpoint.

Parameters:
  - context: context.Context
  - code: string (Authorization code from the browser callback)

Returns:
  - *GoogleUserData: Upstream identity
  - error: apperr.UpstreamRejected if Google refuses the code,
    apperr.UpstreamUnavailable on transport failures
*/
func (provider *GoogleProvider) ExchangeCode(context context.Context, code string) (*GoogleUserData, error) {
	exchangeCtx := oauth2Context(context, provider.httpClient)

	token, err := provider.config.Exchange(exchangeCtx, code)
	if err != nil {
		var retrieveError *oauth2.RetrieveError
		if errors.As(err, &retrieveError) {
			return nil, apperr.UpstreamRejected("Google OAuth error", err)
		}
		return nil, apperr.UpstreamUnavailable("Google OAuth is unreachable", err)
	}

	return provider.fetchUserInfo(context, token.AccessToken)
}

// fetchUserInfo resolves an upstream access token into the account's profile.
func (provider *GoogleProvider) fetchUserInfo(context context.Context, accessToken string) (*GoogleUserData, error) {
	request, err := http.NewRequestWithContext(context, http.MethodGet, provider.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("google_provider_userinfo_request_failed: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)

	response, err := provider.httpClient.Do(request)
	if err != nil {
		return nil, apperr.UpstreamUnavailable("Google userinfo is unreachable", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return nil, apperr.UpstreamRejected("Google OAuth error",
			fmt.Errorf("google_provider_userinfo_status: %d", response.StatusCode))
	}

	userData := &GoogleUserData{}
	if err := json.NewDecoder(response.Body).Decode(userData); err != nil {
		return nil, apperr.UpstreamRejected("Google OAuth error", err)
	}
	if userData.ID == "" {
		return nil, apperr.UpstreamRejected("Google OAuth error",
			errors.New("google_provider_userinfo_missing_subject"))
	}

	return userData, nil
}

// tokenInfoResponse is the payload of Google's tokeninfo endpoint.
// Note: email_verified arrives as the string "true"/"false", not a boolean.
type tokenInfoResponse struct {
	Subject       string `json:"sub"`
	Audience      string `json:"aud"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

/*
VerifyIDToken validates a Google ID token via the tokeninfo endpoint.

Description: A 200 response means Google vouches for the token's signature
and expiry. The audience is additionally checked against our client ID so a
token minted for another application cannot be replayed here.

Parameters:
  - context: context.Context
  - idToken: string

Returns:
  - *GoogleUserData: Asserted identity
  - error: apperr.UpstreamRejected for an invalid token or audience mismatch,
    apperr.UpstreamUnavailable on transport failures
*/
func (provider *GoogleProvider) VerifyIDToken(context context.Context, idToken string) (*GoogleUserData, error) {
	endpoint := provider.tokenInfoURL + "?id_token=" + url.QueryEscape(idToken)

	request, err := http.NewRequestWithContext(context, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("google_provider_tokeninfo_request_failed: %w", err)
	}

	response, err := provider.httpClient.Do(request)
	if err != nil {
		return nil, apperr.UpstreamUnavailable("Google tokeninfo is unreachable", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return nil, apperr.UpstreamRejected("Google ID token validation failed",
			fmt.Errorf("google_provider_tokeninfo_status: %d", response.StatusCode))
	}

	info := &tokenInfoResponse{}
	if err := json.NewDecoder(response.Body).Decode(info); err != nil {
		return nil, apperr.UpstreamRejected("Google ID token validation failed", err)
	}
	if info.Subject == "" {
		return nil, apperr.UpstreamRejected("Google ID token validation failed",
			errors.New("google_provider_tokeninfo_missing_subject"))
	}
	if provider.config.ClientID != "" && info.Audience != provider.config.ClientID {
		return nil, apperr.UpstreamRejected("Google ID token validation failed",
			errors.New("google_provider_tokeninfo_audience_mismatch"))
	}

	return &GoogleUserData{
		ID:            info.Subject,
		Email:         info.Email,
		VerifiedEmail: info.EmailVerified == "true",
		Name:          info.Name,
		Picture:       info.Picture,
	}, nil
}

// oauth2Context attaches our tuned HTTP client to the oauth2 library's
// context-based client discovery.
func oauth2Context(parent context.Context, client *http.Client) context.Context {
	return context.WithValue(parent, oauth2.HTTPClient, client)
}
