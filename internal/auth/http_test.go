// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

package auth_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlx-health/rhealth/internal/auth"
	"github.com/rlx-health/rhealth/internal/platform/middleware"
)

// newTestServer mounts the auth routes behind the real token-verifying
// middleware, the way the API server composes them.
func newTestServer(t *testing.T) (*httptest.Server, *serviceFixture) {
	t.Helper()

	fixture := newServiceFixture(t)
	handler := auth.NewHandler(fixture.service, "com.rlxhealth.app://oauth/callback")

	router := chi.NewRouter()
	router.Use(middleware.Authenticate(fixture.tokens))
	router.Mount("/api/auth", handler.Routes())
	router.Get("/oauth/callback", handler.CallbackPage)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, fixture
}

type envelopeBody struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func postJSON(t *testing.T, url string, body any) (*http.Response, envelopeBody) {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	response, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	return response, decodeEnvelope(t, response)
}

func getJSON(t *testing.T, url, accessToken string) (*http.Response, envelopeBody) {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	return response, decodeEnvelope(t, response)
}

func decodeEnvelope(t *testing.T, response *http.Response) envelopeBody {
	t.Helper()
	defer func() { _ = response.Body.Close() }()
	var body envelopeBody
	require.NoError(t, json.NewDecoder(response.Body).Decode(&body))
	return body
}

type sessionData struct {
	User   auth.Profile     `json:"user"`
	Tokens auth.TokenBundle `json:"tokens"`
}

func TestHandler_RegisterLoginCheckFlow(t *testing.T) {
	server, _ := newTestServer(t)

	// Register
	response, body := postJSON(t, server.URL+"/api/auth/register", map[string]string{
		"name":     "Asha Rao",
		"email":    "asha@example.com",
		"password": "sup3rsafe",
	})
	assert.Equal(t, http.StatusCreated, response.StatusCode)
	assert.True(t, body.Success)
	assert.Equal(t, "User registered successfully", body.Message)

	var registered sessionData
	require.NoError(t, json.Unmarshal(body.Data, &registered))
	assert.NotEmpty(t, registered.Tokens.AccessToken)

	// Login
	response, body = postJSON(t, server.URL+"/api/auth/login", map[string]string{
		"identifier": "asha@example.com",
		"password":   "sup3rsafe",
	})
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "Login successful", body.Message)

	var logged sessionData
	require.NoError(t, json.Unmarshal(body.Data, &logged))

	// Check with the fresh access token
	response, body = getJSON(t, server.URL+"/api/auth/check", logged.Tokens.AccessToken)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "User is authenticated", body.Message)

	var checked struct {
		User auth.Profile `json:"user"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &checked))
	assert.Equal(t, registered.User.ID, checked.User.ID)
}

func TestHandler_LoginRejectsBadPassword(t *testing.T) {
	server, fixture := newTestServer(t)
	fixture.register(t, "asha@example.com")

	response, body := postJSON(t, server.URL+"/api/auth/login", map[string]string{
		"identifier": "asha@example.com",
		"password":   "wrong",
	})

	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "INVALID_CREDENTIALS", body.Error.Code)
	assert.Equal(t, "Invalid credentials", body.Error.Message)
}

func TestHandler_ProtectedRoutesRequireBearer(t *testing.T) {
	server, _ := newTestServer(t)

	response, body := getJSON(t, server.URL+"/api/auth/profile", "")
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	require.NotNil(t, body.Error)

	response, _ = getJSON(t, server.URL+"/api/auth/profile", "not-a-real-token")
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
}

func TestHandler_RefreshRotatesPair(t *testing.T) {
	server, fixture := newTestServer(t)
	session := fixture.register(t, "asha@example.com")

	response, body := postJSON(t, server.URL+"/api/auth/refresh", map[string]string{
		"refreshToken": session.Tokens.RefreshToken,
	})
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "Token refreshed successfully", body.Message)

	var rotated struct {
		Tokens auth.TokenBundle `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &rotated))
	assert.NotEqual(t, session.Tokens.RefreshToken, rotated.Tokens.RefreshToken)

	// The old token was rotated out and must now be refused.
	response, body = postJSON(t, server.URL+"/api/auth/refresh", map[string]string{
		"refreshToken": session.Tokens.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, "TOKEN_INVALID", body.Error.Code)
}

func TestHandler_RefreshRequiresToken(t *testing.T) {
	server, _ := newTestServer(t)

	response, body := postJSON(t, server.URL+"/api/auth/refresh", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
}

func TestHandler_LogoutFlow(t *testing.T) {
	server, fixture := newTestServer(t)
	session := fixture.register(t, "asha@example.com")

	response, body := postJSON(t, server.URL+"/api/auth/logout", map[string]string{
		"refreshToken": session.Tokens.RefreshToken,
	})
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "Logged out successfully", body.Message)

	// Logout is idempotent even with a dead token.
	response, _ = postJSON(t, server.URL+"/api/auth/logout", map[string]string{
		"refreshToken": session.Tokens.RefreshToken,
	})
	assert.Equal(t, http.StatusOK, response.StatusCode)
}

func TestHandler_GoogleTokenSignIn(t *testing.T) {
	server, fixture := newTestServer(t)
	fixture.google.data = &auth.GoogleUserData{
		ID:            "subject-1",
		Email:         "g@example.com",
		VerifiedEmail: true,
		Name:          "G User",
	}

	response, body := postJSON(t, server.URL+"/api/auth/google/token", map[string]string{
		"idToken": "an-id-token",
	})
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "Authentication successful", body.Message)

	var session sessionData
	require.NoError(t, json.Unmarshal(body.Data, &session))
	assert.Equal(t, "G User", session.User.Name)
}

func TestHandler_GoogleURLIssuesState(t *testing.T) {
	server, fixture := newTestServer(t)

	response, body := getJSON(t, server.URL+"/api/auth/google/url", "")
	assert.Equal(t, http.StatusOK, response.StatusCode)

	var data struct {
		URL   string `json:"url"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.NotEmpty(t, data.State)
	assert.Contains(t, data.URL, data.State)
	assert.True(t, fixture.states.states[data.State], "state must be stored for later redemption")
}

func TestHandler_CallbackPage(t *testing.T) {
	server, _ := newTestServer(t)

	response, err := http.Get(server.URL + "/oauth/callback?code=the-code&state=the-state")
	require.NoError(t, err)
	defer func() { _ = response.Body.Close() }()
	assert.Equal(t, http.StatusOK, response.StatusCode)

	buffer := new(bytes.Buffer)
	_, _ = buffer.ReadFrom(response.Body)
	page := buffer.String()
	assert.Contains(t, page, "com.rlxhealth.app://oauth/callback")
	assert.Contains(t, page, "the-code")

	// Upstream error renders the failure page.
	response, err = http.Get(server.URL + "/oauth/callback?error=access_denied")
	require.NoError(t, err)
	defer func() { _ = response.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}
