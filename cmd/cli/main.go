// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

// Command cli is an interactive device client for the RHealth auth API.
//
// It exercises the device-side session manager end to end: sign-in through
// every path, a persisted session snapshot, proactive refresh, and both
// logout flavors. Commands are read from a simple prompt loop.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/rlx-health/rhealth/internal/auth"
	clientapi "github.com/rlx-health/rhealth/internal/client/api"
	"github.com/rlx-health/rhealth/internal/client/session"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type app struct {
	client  *clientapi.Client
	session *session.Manager
	reader  *bufio.Reader
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "base URL of the RHealth API server")
	sessionPath := flag.String("session", defaultSessionPath(), "path of the persisted session snapshot")
	flag.Parse()

	client := clientapi.New(*serverURL)
	manager := session.NewManager(session.NewFileStore(*sessionPath), client)

	application := &app{
		client:  client,
		session: manager,
		reader:  bufio.NewReader(os.Stdin),
	}

	application.run(context.Background())
}

// defaultSessionPath places the snapshot under the user's config directory.
func defaultSessionPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "rhealth", "session.json")
}

func (application *app) run(ctx context.Context) {
	fmt.Println("RHealth device client. Type 'help' for commands.")

	if application.session.ValidateSession(ctx) {
		if snapshot, _ := application.session.Current(); snapshot != nil {
			fmt.Printf("Signed in as %s\n", snapshot.Name)
		}
	}

	for {
		fmt.Print("> ")
		line, err := application.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			fmt.Printf("error: %v\n", err)
			return
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "help":
			application.printHelp()
		case "register":
			application.register(ctx)
		case "login":
			application.login(ctx)
		case "google":
			application.googleSignIn(ctx)
		case "whoami":
			application.whoami(ctx)
		case "details":
			application.updateDetails(ctx)
		case "sessions":
			application.listSessions(ctx)
		case "refresh":
			application.refresh(ctx)
		case "status":
			application.status()
		case "logout":
			application.logout(ctx)
		case "logout-all":
			application.logoutAll(ctx)
		case "exit", "quit":
			return
		default:
			fmt.Println("Unknown command. Type 'help' for commands.")
		}
	}
}

func (application *app) printHelp() {
	fmt.Println(`Commands:
  register    create an account (email or phone + password)
  login       sign in with email/phone and password
  google      sign in with Google (browser flow)
  whoami      show the signed-in profile
  details     update first/last name and age
  sessions    list active devices
  refresh     force a token rotation
  status      show local session state
  logout      sign out this device
  logout-all  sign out every device
  exit        quit`)
}

// # Input Helpers

// promptLine prints a prompt and reads one trimmed line.
func (application *app) promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := application.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads a password without echo.
func (application *app) promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// # Commands

func (application *app) register(ctx context.Context) {
	name, err := application.promptLine("Name: ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	email, err := application.promptLine("Email (blank to use phone): ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	phone := ""
	if email == "" {
		if phone, err = application.promptLine("Phone: "); err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
	}
	password, err := application.promptPassword("Password: ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	result, err := application.client.Register(ctx, clientapi.RegisterRequest{
		Name:     name,
		Email:    email,
		Phone:    phone,
		Password: password,
	})
	if err != nil {
		fmt.Printf("Registration failed: %v\n", err)
		return
	}

	if err := application.session.Save(result.User, result.Tokens, session.ProviderPassword); err != nil {
		fmt.Printf("Could not persist session: %v\n", err)
		return
	}
	fmt.Printf("Registered and signed in as %s\n", result.User.Name)
}

func (application *app) login(ctx context.Context) {
	identifier, err := application.promptLine("Email or phone: ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	password, err := application.promptPassword("Password: ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	result, err := application.client.Login(ctx, identifier, password)
	if err != nil {
		fmt.Printf("Login failed: %v\n", err)
		return
	}

	if err := application.session.Save(result.User, result.Tokens, session.ProviderPassword); err != nil {
		fmt.Printf("Could not persist session: %v\n", err)
		return
	}
	fmt.Printf("Signed in as %s\n", result.User.Name)
}

// googleSignIn walks the browser-mediated auth-code flow: the user opens the
// consent URL, Google sends the browser to the server's callback page, and
// that page hands the code back for pasting here.
func (application *app) googleSignIn(ctx context.Context) {
	authURL, state, err := application.client.GoogleAuthURL(ctx)
	if err != nil {
		fmt.Printf("Could not start Google sign-in: %v\n", err)
		return
	}

	fmt.Println("Open this URL in your browser and approve access:")
	fmt.Println("  " + authURL)

	code, err := application.promptLine("Paste the authorization code: ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	result, err := application.client.GoogleCallback(ctx, code, state)
	if err != nil {
		fmt.Printf("Google sign-in failed: %v\n", err)
		return
	}

	if err := application.session.Save(result.User, result.Tokens, session.ProviderGoogle); err != nil {
		fmt.Printf("Could not persist session: %v\n", err)
		return
	}
	fmt.Printf("Signed in as %s\n", result.User.Name)
}

func (application *app) whoami(ctx context.Context) {
	snapshot := application.requireSession(ctx)
	if snapshot == nil {
		return
	}

	profile, err := application.client.Check(ctx, snapshot.AccessToken)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	fmt.Printf("%s (%s)\n", profile.Name, profile.ID)
	if profile.Email != nil {
		fmt.Printf("  email: %s\n", *profile.Email)
	}
	if profile.Phone != nil {
		fmt.Printf("  phone: %s\n", *profile.Phone)
	}
	fmt.Printf("  logins: %d, last %s\n", profile.LoginCount, profile.LastLogin.Format("2006-01-02 15:04"))
}

func (application *app) updateDetails(ctx context.Context) {
	snapshot := application.requireSession(ctx)
	if snapshot == nil {
		return
	}

	firstName, err := application.promptLine("First name: ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	lastName, err := application.promptLine("Last name: ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	rawAge, err := application.promptLine("Age: ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	age, err := strconv.Atoi(rawAge)
	if err != nil {
		fmt.Println("Age must be a number.")
		return
	}

	profile, err := application.client.UpdateUserDetails(ctx, snapshot.AccessToken, firstName, lastName, age)
	if err != nil {
		fmt.Printf("Update failed: %v\n", err)
		return
	}
	fmt.Printf("Updated: %s\n", profile.Name)
}

func (application *app) listSessions(ctx context.Context) {
	snapshot := application.requireSession(ctx)
	if snapshot == nil {
		return
	}

	sessions, err := application.client.Sessions(ctx, snapshot.AccessToken)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	if len(sessions) == 0 {
		fmt.Println("No active sessions.")
		return
	}
	for _, entry := range sessions {
		fmt.Printf("  %s  %s  (since %s)\n", entry.ID, entry.DeviceInfo, entry.CreatedAt.Format("2006-01-02 15:04"))
	}
}

func (application *app) refresh(ctx context.Context) {
	snapshot, err := application.session.Current()
	if err != nil || snapshot == nil {
		fmt.Println("Not signed in.")
		return
	}

	tokens, err := application.client.Refresh(ctx, snapshot.RefreshToken)
	if err != nil {
		fmt.Printf("Refresh failed: %v\n", err)
		return
	}

	// Swap only the pair; identity fields stay as cached.
	if err := application.session.Save(profileFromSnapshot(snapshot), *tokens, snapshot.Provider); err != nil {
		fmt.Printf("Could not persist session: %v\n", err)
		return
	}
	fmt.Println("Token pair rotated.")
}

func (application *app) status() {
	snapshot, err := application.session.Current()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if snapshot == nil {
		fmt.Println("Signed out.")
		return
	}
	state := "live"
	if application.session.TokenExpired() {
		state = "expired"
	}
	fmt.Printf("Signed in as %s via %s, token %s\n", snapshot.Name, snapshot.Provider, state)
}

func (application *app) logout(ctx context.Context) {
	if err := application.session.Logout(ctx); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("Signed out.")
}

func (application *app) logoutAll(ctx context.Context) {
	snapshot, err := application.session.Current()
	if err != nil || snapshot == nil {
		fmt.Println("Not signed in.")
		return
	}

	if err := application.client.LogoutAll(ctx, snapshot.RefreshToken); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if err := application.session.Logout(ctx); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("Signed out everywhere.")
}

// requireSession refreshes when needed and returns a live snapshot, or nil
// after printing why not.
func (application *app) requireSession(ctx context.Context) *session.Session {
	alive, err := application.session.RefreshIfNeeded(ctx)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return nil
	}
	if !alive {
		fmt.Println("Not signed in.")
		return nil
	}

	snapshot, err := application.session.Current()
	if err != nil || snapshot == nil {
		fmt.Println("Not signed in.")
		return nil
	}
	return snapshot
}

// profileFromSnapshot rebuilds the cached identity fields for a re-save.
func profileFromSnapshot(snapshot *session.Session) auth.Profile {
	return auth.Profile{
		ID:        snapshot.UserID,
		Email:     snapshot.Email,
		Phone:     snapshot.Phone,
		Name:      snapshot.Name,
		FirstName: snapshot.FirstName,
		LastName:  snapshot.LastName,
		Picture:   snapshot.Picture,
	}
}
