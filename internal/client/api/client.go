// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

/*
Package api is the typed REST client for the RHealth auth surface.

It is the device-side counterpart of the server's /api/auth routes: every
method wraps one endpoint, decodes the response envelope, and surfaces
non-2xx responses as an [*APIError] carrying the server's message.

Architecture:

  - Stateless: the client holds no tokens. Callers pass the access or
    refresh token explicitly; session persistence lives in the session package.
  - Timeouts: every request inherits the underlying [http.Client] timeout,
    so a hung server never blocks the device indefinitely.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rlx-health/rhealth/internal/auth"
	"github.com/rlx-health/rhealth/internal/platform/constants"
)

// # Client Definition

// Client calls the RHealth auth API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a [Client] for the given server base URL (scheme + host,
// no trailing slash).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: constants.UpstreamTimeout,
		},
	}
}

// # Error Type

// APIError is a non-2xx response decoded from the server envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (apiError *APIError) Error() string {
	if apiError.Message != "" {
		return apiError.Message
	}
	return fmt.Sprintf("request failed with status %d", apiError.StatusCode)
}

// # Wire Types

// Session is the user-plus-tokens payload returned by every sign-in endpoint.
type Session struct {
	User   auth.Profile     `json:"user"`
	Tokens auth.TokenBundle `json:"tokens"`
}

// RegisterRequest enrolls a new account. At least one of Email/Phone is required.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

// envelope mirrors the server's uniform response shape.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// # Request Plumbing

// do executes one API call and decodes the envelope's data field into out
// (when out is non-nil). accessToken, when non-empty, is sent as a Bearer
// credential.
func (client *Client) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api_client_encode_failed: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api_client_build_request_failed: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		httpRequest.Header.Set(constants.HeaderAuthorization, "Bearer "+accessToken)
	}

	httpResponse, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("api_client_request_failed: %w", err)
	}
	defer func() { _ = httpResponse.Body.Close() }()

	var wrapped envelope
	if err := json.NewDecoder(httpResponse.Body).Decode(&wrapped); err != nil {
		return &APIError{StatusCode: httpResponse.StatusCode, Message: "malformed server response"}
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 || !wrapped.Success {
		apiError := &APIError{StatusCode: httpResponse.StatusCode, Message: wrapped.Message}
		if wrapped.Error != nil {
			apiError.Code = wrapped.Error.Code
			if wrapped.Error.Message != "" {
				apiError.Message = wrapped.Error.Message
			}
		}
		return apiError
	}

	if out != nil && len(wrapped.Data) > 0 {
		if err := json.Unmarshal(wrapped.Data, out); err != nil {
			return fmt.Errorf("api_client_decode_failed: %w", err)
		}
	}

	return nil
}

// # Sign-In Endpoints

// Register creates a new account and returns its first session.
func (client *Client) Register(ctx context.Context, input RegisterRequest) (*Session, error) {
	session := &Session{}
	if err := client.do(ctx, http.MethodPost, "/api/auth/register", "", input, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Login authenticates with an email-or-phone identifier and password.
func (client *Client) Login(ctx context.Context, identifier, password string) (*Session, error) {
	body := map[string]string{"identifier": identifier, "password": password}
	session := &Session{}
	if err := client.do(ctx, http.MethodPost, "/api/auth/login", "", body, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GoogleAuthURL fetches a Google consent URL and its one-time state.
func (client *Client) GoogleAuthURL(ctx context.Context) (authURL, state string, err error) {
	var data struct {
		URL   string `json:"url"`
		State string `json:"state"`
	}
	if err := client.do(ctx, http.MethodGet, "/api/auth/google/url", "", nil, &data); err != nil {
		return "", "", err
	}
	return data.URL, data.State, nil
}

// GoogleCallback completes the auth-code flow started by [Client.GoogleAuthURL].
func (client *Client) GoogleCallback(ctx context.Context, code, state string) (*Session, error) {
	body := map[string]string{"code": code, "state": state}
	session := &Session{}
	if err := client.do(ctx, http.MethodPost, "/api/auth/google/callback", "", body, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GoogleToken signs in with a Google ID token obtained on-device.
func (client *Client) GoogleToken(ctx context.Context, idToken string) (*Session, error) {
	body := map[string]string{"idToken": idToken}
	session := &Session{}
	if err := client.do(ctx, http.MethodPost, "/api/auth/google/token", "", body, session); err != nil {
		return nil, err
	}
	return session, nil
}

// # Session Endpoints

// Refresh rotates the refresh token and returns a new token pair.
func (client *Client) Refresh(ctx context.Context, refreshToken string) (*auth.TokenBundle, error) {
	body := map[string]string{"refreshToken": refreshToken}
	var data struct {
		Tokens auth.TokenBundle `json:"tokens"`
	}
	if err := client.do(ctx, http.MethodPost, "/api/auth/refresh", "", body, &data); err != nil {
		return nil, err
	}
	return &data.Tokens, nil
}

// Logout revokes the given refresh token on the server.
func (client *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refreshToken": refreshToken}
	return client.do(ctx, http.MethodPost, "/api/auth/logout", "", body, nil)
}

// LogoutAll revokes every refresh token belonging to the caller.
func (client *Client) LogoutAll(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refreshToken": refreshToken}
	return client.do(ctx, http.MethodPost, "/api/auth/logout-all", "", body, nil)
}

// Sessions lists the caller's active devices.
func (client *Client) Sessions(ctx context.Context, accessToken string) ([]auth.SessionInfo, error) {
	var data struct {
		Sessions []auth.SessionInfo `json:"sessions"`
	}
	if err := client.do(ctx, http.MethodGet, "/api/auth/sessions", accessToken, nil, &data); err != nil {
		return nil, err
	}
	return data.Sessions, nil
}

// # Profile Endpoints

// Check verifies the access token and returns the caller's profile.
func (client *Client) Check(ctx context.Context, accessToken string) (*auth.Profile, error) {
	var data struct {
		User auth.Profile `json:"user"`
	}
	if err := client.do(ctx, http.MethodGet, "/api/auth/check", accessToken, nil, &data); err != nil {
		return nil, err
	}
	return &data.User, nil
}

// Profile fetches the caller's profile.
func (client *Client) Profile(ctx context.Context, accessToken string) (*auth.Profile, error) {
	var data struct {
		User auth.Profile `json:"user"`
	}
	if err := client.do(ctx, http.MethodGet, "/api/auth/profile", accessToken, nil, &data); err != nil {
		return nil, err
	}
	return &data.User, nil
}

// ProfileUpdate carries the optional fields of a PUT /profile call.
type ProfileUpdate struct {
	Name        *string `json:"name,omitempty"`
	Preferences *struct {
		Theme         *string `json:"theme,omitempty"`
		Notifications *bool   `json:"notifications,omitempty"`
	} `json:"preferences,omitempty"`
}

// UpdateProfile changes the display name and preferences.
func (client *Client) UpdateProfile(ctx context.Context, accessToken string, update ProfileUpdate) (*auth.Profile, error) {
	var data struct {
		User auth.Profile `json:"user"`
	}
	if err := client.do(ctx, http.MethodPut, "/api/auth/profile", accessToken, update, &data); err != nil {
		return nil, err
	}
	return &data.User, nil
}

// UpdateUserDetails sets the structured name and age.
func (client *Client) UpdateUserDetails(ctx context.Context, accessToken, firstName, lastName string, age int) (*auth.Profile, error) {
	body := map[string]any{"firstName": firstName, "lastName": lastName, "age": age}
	var data struct {
		User auth.Profile `json:"user"`
	}
	if err := client.do(ctx, http.MethodPut, "/api/auth/user-details", accessToken, body, &data); err != nil {
		return nil, err
	}
	return &data.User, nil
}
