// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlx-health/rhealth/internal/platform/middleware"
	"github.com/rlx-health/rhealth/internal/platform/respond"
	"github.com/rlx-health/rhealth/internal/platform/sec"
)

// stubVerifier fails every verification with a fixed error, or succeeds with
// fixed claims when err is nil.
type stubVerifier struct {
	claims *sec.AccessClaims
	err    error
}

func (verifier *stubVerifier) VerifyAccess(string) (*sec.AccessClaims, error) {
	return verifier.claims, verifier.err
}

func authenticateResponse(t *testing.T, verifier middleware.TokenVerifier, header string) *httptest.ResponseRecorder {
	t.Helper()

	next := http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusNoContent)
	})
	handler := middleware.Authenticate(verifier)(next)

	request := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
	if header != "" {
		request.Header.Set("Authorization", header)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func errorCode(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()

	var envelope respond.Envelope
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	return envelope.Error.Code
}

func TestAuthenticate_DistinguishesExpiredFromInvalid(t *testing.T) {
	t.Parallel()

	expired := authenticateResponse(t, &stubVerifier{err: sec.ErrTokenExpired}, "Bearer stale")
	assert.Equal(t, http.StatusUnauthorized, expired.Code)
	assert.Equal(t, "TOKEN_EXPIRED", errorCode(t, expired))

	tampered := authenticateResponse(t, &stubVerifier{err: sec.ErrTokenInvalid}, "Bearer junk")
	assert.Equal(t, http.StatusUnauthorized, tampered.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, tampered))
}

func TestAuthenticate_PassesAnonymousThrough(t *testing.T) {
	t.Parallel()

	recorder := authenticateResponse(t, &stubVerifier{err: sec.ErrTokenInvalid}, "")
	assert.Equal(t, http.StatusNoContent, recorder.Code)
}
