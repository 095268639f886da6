// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlx-health/rhealth/internal/platform/apperr"
)

// newTestProvider points every upstream endpoint at local test servers.
func newTestProvider(tokenURL, userInfoURL, tokenInfoURL string) *GoogleProvider {
	provider := NewGoogleProvider("client-id-123", "client-secret", "http://localhost/oauth/callback")
	provider.config.Endpoint.AuthURL = tokenURL
	provider.config.Endpoint.TokenURL = tokenURL
	provider.userInfoURL = userInfoURL
	provider.tokenInfoURL = tokenInfoURL
	return provider
}

func TestGoogleProvider_AuthCodeURLCarriesState(t *testing.T) {
	provider := NewGoogleProvider("client-id-123", "client-secret", "http://localhost/oauth/callback")

	authURL := provider.AuthCodeURL("one-time-state")

	assert.Contains(t, authURL, "state=one-time-state")
	assert.Contains(t, authURL, "client_id=client-id-123")
	assert.Contains(t, authURL, "access_type=offline")
}

func TestGoogleProvider_ExchangeCodeFetchesProfile(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		require.NoError(t, request.ParseForm())
		assert.Equal(t, "the-auth-code", request.FormValue("code"))
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"access_token":"upstream-access","token_type":"Bearer"}`))
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "Bearer upstream-access", request.Header.Get("Authorization"))
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"id":"subject-1","email":"a@example.com","verified_email":true,"name":"A","picture":"p"}`))
	}))
	defer userInfoServer.Close()

	provider := newTestProvider(tokenServer.URL, userInfoServer.URL, "")

	data, err := provider.ExchangeCode(context.Background(), "the-auth-code")
	require.NoError(t, err)
	assert.Equal(t, "subject-1", data.ID)
	assert.Equal(t, "a@example.com", data.Email)
	assert.True(t, data.VerifiedEmail)
}

func TestGoogleProvider_ExchangeCodeRejectionIsAuthoritative(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusBadRequest)
		_, _ = writer.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenServer.Close()

	provider := newTestProvider(tokenServer.URL, "", "")

	_, err := provider.ExchangeCode(context.Background(), "stale-code")
	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, http.StatusBadRequest, appError.HTTPStatus, "a refusal is not an outage")
}

func TestGoogleProvider_ExchangeCodeUnreachableIsGatewayError(t *testing.T) {
	// A closed server yields a transport error, not a response.
	tokenServer := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	tokenServer.Close()

	provider := newTestProvider(tokenServer.URL, "", "")

	_, err := provider.ExchangeCode(context.Background(), "any-code")
	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, http.StatusBadGateway, appError.HTTPStatus)
}

func TestGoogleProvider_VerifyIDToken(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		status     int
		wantErr    bool
		wantViaAud bool
	}{
		{
			name:   "valid token with matching audience",
			body:   `{"sub":"subject-1","aud":"client-id-123","email":"a@example.com","email_verified":"true","name":"A"}`,
			status: http.StatusOK,
		},
		{
			name:    "audience minted for another app",
			body:    `{"sub":"subject-1","aud":"someone-else","email":"a@example.com"}`,
			status:  http.StatusOK,
			wantErr: true,
		},
		{
			name:    "missing subject",
			body:    `{"aud":"client-id-123"}`,
			status:  http.StatusOK,
			wantErr: true,
		},
		{
			name:    "google refuses the token",
			body:    `{"error":"invalid_token"}`,
			status:  http.StatusBadRequest,
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tokenInfoServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				assert.NotEmpty(t, request.URL.Query().Get("id_token"))
				writer.Header().Set("Content-Type", "application/json")
				writer.WriteHeader(test.status)
				_, _ = writer.Write([]byte(test.body))
			}))
			defer tokenInfoServer.Close()

			provider := newTestProvider("", "", tokenInfoServer.URL)

			data, err := provider.VerifyIDToken(context.Background(), "an-id-token")
			if test.wantErr {
				require.Error(t, err)
				assert.NotNil(t, apperr.As(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "subject-1", data.ID)
			assert.True(t, data.VerifiedEmail)
		})
	}
}

func TestGoogleProvider_VerifyIDTokenEmailVerifiedIsStringly(t *testing.T) {
	tokenInfoServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"sub":"subject-1","aud":"client-id-123","email":"a@example.com","email_verified":"false"}`))
	}))
	defer tokenInfoServer.Close()

	provider := newTestProvider("", "", tokenInfoServer.URL)

	data, err := provider.VerifyIDToken(context.Background(), "an-id-token")
	require.NoError(t, err)
	assert.False(t, data.VerifiedEmail)
}
