// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

/*
HTTP delivery layer for the authentication lifecycle.

The handler acts as a thin mediation layer between the web and domain services:
  - Protocol: Standard RESTful JSON interface under /api/auth.
  - Security: Bearer access tokens for profile endpoints; refresh-token
    endpoints authenticate the token from the request body themselves.
  - Verification: Enforces strict input validation before passing to [Service].

This layer is strictly responsible for transport concerns (status codes,
headers, JSON).
*/
package auth

import (
	"html/template"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/rlx-health/rhealth/internal/platform/constants"
	"github.com/rlx-health/rhealth/internal/platform/middleware"
	"github.com/rlx-health/rhealth/internal/platform/request"
	"github.com/rlx-health/rhealth/internal/platform/respond"
	"github.com/rlx-health/rhealth/internal/platform/validate"
)

// # Definitions & Constructors

// Handler implements authentication-related HTTP endpoints.
type Handler struct {
	authService       *Service
	mobileRedirectURI string
}

// NewHandler constructs a new [Handler].
//
// mobileRedirectURI is the custom-scheme URI the browser callback page hands
// the authorization code to.
func NewHandler(service *Service, mobileRedirectURI string) *Handler {
	return &Handler{authService: service, mobileRedirectURI: mobileRedirectURI}
}

// Routes returns a [chi.Router] with the /api/auth surface.
//
// # Endpoints
//   - POST /register        : Creates a new account and issues tokens.
//   - POST /login           : Authenticates by email/phone + password.
//   - GET  /google/url      : Returns the Google consent URL + one-time state.
//   - POST /google/callback : Sign-in with an authorization code.
//   - POST /google/token    : Sign-in with a Google ID token.
//   - POST /refresh         : Rotates a refresh token for a new pair.
//   - POST /logout          : Removes one refresh token (idempotent).
//   - POST /logout-all      : Clears the whole refresh ledger.
//   - GET/PUT /profile, PUT /user-details, GET /check, GET /sessions (Bearer).
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// Public endpoints
	router.Post("/register", handler.register)
	router.Post("/login", handler.login)
	router.Get("/google/url", handler.googleURL)
	router.Post("/google/callback", handler.googleCallback)
	router.Post("/google/token", handler.googleToken)

	// Refresh-token endpoints authenticate the token from the body themselves.
	router.Post("/refresh", handler.refresh)
	router.Post("/logout", handler.logout)
	router.Post("/logout-all", handler.logoutAll)

	// Protected endpoints
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Get("/profile", handler.getProfile)
		r.Put("/profile", handler.updateProfile)
		r.Put("/user-details", handler.updateUserDetails)
		r.Get("/check", handler.check)
		r.Get("/sessions", handler.sessions)
	})

	return router
}

// # Request Payloads

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type googleCallbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type googleTokenRequest struct {
	IDToken string `json:"idToken"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type updateProfileRequest struct {
	Name        *string `json:"name"`
	Preferences *struct {
		Theme         *string `json:"theme"`
		Notifications *bool   `json:"notifications"`
	} `json:"preferences"`
}

type userDetailsRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Age       int    `json:"age"`
}

// sessionPayload is the standard success body for endpoints that establish a session.
func sessionPayload(session *AuthSession) map[string]any {
	return map[string]any{
		constants.FieldUser:   session.User.ToProfile(),
		constants.FieldTokens: session.Tokens,
	}
}

/*
register handles the creation of a new user account.

POST /api/auth/register

Request:
  - Body: registerRequest (Name, Email and/or Phone, Password)

Response:
  - 201: user profile + token pair
  - 400: Validation failure
  - 409: Email or phone already registered
*/
func (handler *Handler) register(writer http.ResponseWriter, httpRequest *http.Request) {
	var input registerRequest

	if err := request.DecodeJSON(httpRequest, &input); err != nil {
		respond.Error(writer, httpRequest, validate.ErrInvalidJSON)
		return
	}

	session, err := handler.authService.Register(httpRequest.Context(), RegisterInput{
		Name:       input.Name,
		Email:      input.Email,
		Phone:      input.Phone,
		Password:   input.Password,
		DeviceInfo: httpRequest.UserAgent(),
	})
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.Created(writer, "User registered successfully", sessionPayload(session))
}

/*
login authenticates a user and establishes a session.

POST /api/auth/login

Request:
  - Body: loginRequest (Identifier, Password)

Response:
  - 200: user profile + token pair
  - 401: Identical "Invalid credentials" for unknown identifier and wrong password
*/
func (handler *Handler) login(writer http.ResponseWriter, httpRequest *http.Request) {
	var input loginRequest

	if err := request.DecodeJSON(httpRequest, &input); err != nil {
		respond.Error(writer, httpRequest, validate.ErrInvalidJSON)
		return
	}

	session, err := handler.authService.Login(httpRequest.Context(), LoginInput{
		Identifier: input.Identifier,
		Password:   input.Password,
		DeviceInfo: httpRequest.UserAgent(),
	})
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.OK(writer, "Login successful", sessionPayload(session))
}

/*
googleURL starts a browser-based Google sign-in.

GET /api/auth/google/url

Response:
  - 200: {url, state} — consent URL bound to a stored one-time state
*/
func (handler *Handler) googleURL(writer http.ResponseWriter, httpRequest *http.Request) {
	authURL, state, err := handler.authService.GoogleAuthURL(httpRequest.Context())
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.OK(writer, "", map[string]string{
		"url":   authURL,
		"state": state,
	})
}

/*
googleCallback completes a Google sign-in with an authorization code.

POST /api/auth/google/callback

Request:
  - Body: googleCallbackRequest (Code, optional State)

Response:
  - 200: user profile + token pair
  - 400: Missing code, or Google rejected the exchange
  - 401: Invalid or expired state
  - 502: Google unreachable
*/
func (handler *Handler) googleCallback(writer http.ResponseWriter, httpRequest *http.Request) {
	var input googleCallbackRequest

	if err := request.DecodeJSON(httpRequest, &input); err != nil {
		respond.Error(writer, httpRequest, validate.ErrInvalidJSON)
		return
	}

	session, err := handler.authService.GoogleSignInWithCode(
		httpRequest.Context(), input.Code, input.State, httpRequest.UserAgent())
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.OK(writer, "Authentication successful", sessionPayload(session))
}

/*
googleToken completes a Google sign-in with a device-obtained ID token.

POST /api/auth/google/token

Request:
  - Body: googleTokenRequest (IDToken)

Response:
  - 200: user profile + token pair
  - 400: Missing or rejected ID token
  - 502: Google unreachable
*/
func (handler *Handler) googleToken(writer http.ResponseWriter, httpRequest *http.Request) {
	var input googleTokenRequest

	if err := request.DecodeJSON(httpRequest, &input); err != nil {
		respond.Error(writer, httpRequest, validate.ErrInvalidJSON)
		return
	}

	session, err := handler.authService.GoogleSignInWithIDToken(
		httpRequest.Context(), input.IDToken, httpRequest.UserAgent())
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.OK(writer, "Authentication successful", sessionPayload(session))
}

/*
refresh rotates a refresh token for a fresh pair.

POST /api/auth/refresh

Request:
  - Body: refreshRequest (RefreshToken)

Response:
  - 200: {tokens}
  - 401: TOKEN_EXPIRED or TOKEN_INVALID (includes replay of a rotated-out token)
*/
func (handler *Handler) refresh(writer http.ResponseWriter, httpRequest *http.Request) {
	input, ok := decodeRefreshBody(writer, httpRequest)
	if !ok {
		return
	}

	session, err := handler.authService.Refresh(
		httpRequest.Context(), input.RefreshToken, httpRequest.UserAgent())
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.OK(writer, "Token refreshed successfully", map[string]any{
		constants.FieldTokens: session.Tokens,
	})
}

/*
logout removes the given refresh token from its ledger.

POST /api/auth/logout

Response:
  - 200: Always succeeds for a syntactically present token (idempotent)
*/
func (handler *Handler) logout(writer http.ResponseWriter, httpRequest *http.Request) {
	input, ok := decodeRefreshBody(writer, httpRequest)
	if !ok {
		return
	}

	if err := handler.authService.Logout(httpRequest.Context(), input.RefreshToken); err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.OK(writer, "Logged out successfully", nil)
}

/*
logoutAll clears the caller's entire refresh ledger.

POST /api/auth/logout-all

Response:
  - 200: Ledger cleared
  - 401: Token not live in the ledger
*/
func (handler *Handler) logoutAll(writer http.ResponseWriter, httpRequest *http.Request) {
	input, ok := decodeRefreshBody(writer, httpRequest)
	if !ok {
		return
	}

	if err := handler.authService.LogoutAll(httpRequest.Context(), input.RefreshToken); err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.OK(writer, "Logged out from all devices successfully", nil)
}

// decodeRefreshBody decodes and validates the shared refresh-token body.
func decodeRefreshBody(writer http.ResponseWriter, httpRequest *http.Request) (refreshRequest, bool) {
	var input refreshRequest

	if err := request.DecodeJSON(httpRequest, &input); err != nil {
		respond.Error(writer, httpRequest, validate.ErrInvalidJSON)
		return input, false
	}
	if input.RefreshToken == "" {
		respond.Error(writer, httpRequest, validate.RequiredError(FieldRefreshToken, "Refresh token is required"))
		return input, false
	}

	return input, true
}

/*
getProfile returns the authenticated user's profile.

GET /api/auth/profile
*/
func (handler *Handler) getProfile(writer http.ResponseWriter, httpRequest *http.Request) {
	userID, err := request.RequiredUserID(httpRequest)
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	user, err := handler.authService.GetProfile(httpRequest.Context(), userID)
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.OK(writer, "", map[string]any{constants.FieldUser: user.ToProfile()})
}

/*
updateProfile applies a partial update to name and preferences.

PUT /api/auth/profile

Request:
  - Body: updateProfileRequest (Name?, Preferences{Theme?, Notifications?}?)
*/
func (handler *Handler) updateProfile(writer http.ResponseWriter, httpRequest *http.Request) {
	userID, err := request.RequiredUserID(httpRequest)
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	var input updateProfileRequest
	if err := request.DecodeJSON(httpRequest, &input); err != nil {
		respond.Error(writer, httpRequest, validate.ErrInvalidJSON)
		return
	}

	serviceInput := UpdateProfileInput{Name: input.Name}
	if input.Preferences != nil {
		serviceInput.Theme = input.Preferences.Theme
		serviceInput.Notifications = input.Preferences.Notifications
	}

	user, err := handler.authService.UpdateProfile(httpRequest.Context(), userID, serviceInput)
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.OK(writer, "Profile updated successfully", map[string]any{constants.FieldUser: user.ToProfile()})
}

/*
updateUserDetails sets the structured name and age.

PUT /api/auth/user-details

Request:
  - Body: userDetailsRequest (FirstName, LastName, Age)
*/
func (handler *Handler) updateUserDetails(writer http.ResponseWriter, httpRequest *http.Request) {
	userID, err := request.RequiredUserID(httpRequest)
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	var input userDetailsRequest
	if err := request.DecodeJSON(httpRequest, &input); err != nil {
		respond.Error(writer, httpRequest, validate.ErrInvalidJSON)
		return
	}

	user, err := handler.authService.UpdateUserDetails(httpRequest.Context(), userID, UserDetailsInput{
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Age:       input.Age,
	})
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.OK(writer, "User details updated successfully", map[string]any{constants.FieldUser: user.ToProfile()})
}

/*
check confirms the access token is valid and returns the caller's profile.

GET /api/auth/check
*/
func (handler *Handler) check(writer http.ResponseWriter, httpRequest *http.Request) {
	userID, err := request.RequiredUserID(httpRequest)
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	user, err := handler.authService.GetProfile(httpRequest.Context(), userID)
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.OK(writer, "User is authenticated", map[string]any{constants.FieldUser: user.ToProfile()})
}

/*
sessions lists the caller's active devices.

GET /api/auth/sessions
*/
func (handler *Handler) sessions(writer http.ResponseWriter, httpRequest *http.Request) {
	userID, err := request.RequiredUserID(httpRequest)
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	sessions, err := handler.authService.Sessions(httpRequest.Context(), userID)
	if err != nil {
		respond.Error(writer, httpRequest, err)
		return
	}

	respond.OK(writer, "", map[string]any{"sessions": sessions})
}

// # Browser Callback Page

// callbackPageTemplate hands the authorization code from the browser back to
// the app via its custom URI scheme.
var callbackPageTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>RLX Health — Sign In</title>
	{{if .RedirectURL}}<meta http-equiv="refresh" content="0;url={{.RedirectURL}}">{{end}}
</head>
<body>
	{{if .RedirectURL}}
	<p>Sign-in complete. Returning to the app&hellip;</p>
	<p><a href="{{.RedirectURL}}">Tap here if nothing happens.</a></p>
	{{else}}
	<p>Sign-in failed: {{.Error}}</p>
	<p>You can close this window and try again in the app.</p>
	{{end}}
</body>
</html>
`))

type callbackPageData struct {
	RedirectURL string
	Error       string
}

/*
CallbackPage renders the browser-side completion of the OAuth flow.

GET /oauth/callback?code=...&state=...  (or ?error=...)

Description: Google redirects the user's browser here. On success the page
immediately forwards code and state into the app's custom URI scheme; the app
then posts them to /api/auth/google/callback. On error a plain failure page
is shown.
*/
func (handler *Handler) CallbackPage(writer http.ResponseWriter, httpRequest *http.Request) {
	query := httpRequest.URL.Query()
	data := callbackPageData{}

	if upstreamError := query.Get("error"); upstreamError != "" {
		data.Error = upstreamError
	} else if code := query.Get("code"); code == "" {
		data.Error = "missing authorization code"
	} else {
		values := url.Values{}
		values.Set("code", code)
		if state := query.Get("state"); state != "" {
			values.Set("state", state)
		}
		data.RedirectURL = handler.mobileRedirectURI + "?" + values.Encode()
	}

	writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	if data.Error != "" {
		writer.WriteHeader(http.StatusBadRequest)
	}
	_ = callbackPageTemplate.Execute(writer, data)
}
