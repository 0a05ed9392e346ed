package commands

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashgate-dev/dashgate/internal/client"
	"github.com/dashgate-dev/dashgate/internal/guesttoken"
	"github.com/dashgate-dev/dashgate/internal/session"
)

// mockAuthenticator accepts a fixed user table
type mockAuthenticator struct {
	users map[string]client.LoginResponse
	calls []string
}

func (m *mockAuthenticator) Login(ctx context.Context, username, password string) (*client.LoginResponse, error) {
	m.calls = append(m.calls, username)
	resp, ok := m.users[username]
	if !ok || password != "secret" {
		return nil, &client.AuthError{StatusCode: 401, Message: "Invalid username or password"}
	}
	return &resp, nil
}

type mockPrompter struct {
	username, password string
	asked              []string
}

func (p *mockPrompter) Username() (string, error) {
	p.asked = append(p.asked, "username")
	if p.username == "" {
		return "", errors.New("user selection cancelled")
	}
	return p.username, nil
}

func (p *mockPrompter) Password() (string, error) {
	p.asked = append(p.asked, "password")
	return p.password, nil
}

type mockFetcher struct {
	token string
	err   error
	mode  guesttoken.Mode
	id    string
}

func (f *mockFetcher) Fetch(ctx context.Context, mode guesttoken.Mode, identity string) (guesttoken.Credential, error) {
	f.mode, f.id = mode, identity
	if f.err != nil {
		return guesttoken.Credential{}, f.err
	}
	return guesttoken.Credential{Token: f.token, Mode: mode, Identity: identity}, nil
}

func newTracker(t *testing.T) *session.Tracker {
	t.Helper()
	tracker := session.NewTracker(session.NewMemoryStore(), zerolog.Nop())
	require.NoError(t, tracker.Start(context.Background()))
	t.Cleanup(tracker.Stop)
	return tracker
}

func testBackend() *mockAuthenticator {
	return &mockAuthenticator{users: map[string]client.LoginResponse{
		"admin":     {Message: "ok", UserType: "admin"},
		"Cipla Ltd": {Message: "ok", UserType: "manufacturer", UserIdentifier: "Cipla Ltd"},
		"guest":     {Message: "ok", UserType: "guest", UserIdentifier: "guest"},
	}}
}

func signedToken(t *testing.T, claims guesttoken.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("superset-secret"))
	require.NoError(t, err)
	return token
}

func TestRunLogin_Admin(t *testing.T) {
	tracker := newTracker(t)
	var out bytes.Buffer

	err := runLogin(context.Background(), &out, testBackend(), tracker, &mockPrompter{}, "admin", "secret")
	require.NoError(t, err)

	sess := tracker.Current()
	assert.True(t, sess.Authenticated)
	assert.Equal(t, session.RoleAdmin, sess.Role)
	assert.Equal(t, session.AdminIdentity, sess.Identity, "admin without identifier gets the admin identity")
	assert.Contains(t, out.String(), "Login successful")
	assert.Contains(t, out.String(), "Dashboard: /dashboard/full")
}

func TestRunLogin_PromptsForMissingCredentials(t *testing.T) {
	tracker := newTracker(t)
	prompter := &mockPrompter{username: "Cipla Ltd", password: "secret"}
	var out bytes.Buffer

	err := runLogin(context.Background(), &out, testBackend(), tracker, prompter, "", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"username", "password"}, prompter.asked)
	sess := tracker.Current()
	assert.Equal(t, session.RoleManufacturer, sess.Role)
	assert.Equal(t, "Cipla Ltd", sess.Identity)
	assert.Contains(t, out.String(), "Dashboard: /dashboard/rls/Cipla%20Ltd")
}

func TestRunLogin_Failures(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		wantErr  string
	}{
		{name: "wrong password", username: "admin", password: "nope", wantErr: "Invalid username or password"},
		{name: "unknown user", username: "nobody", password: "secret", wantErr: "Invalid username or password"},
		{name: "unknown user type", username: "guest", password: "secret", wantErr: "unknown role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTracker(t)
			var out bytes.Buffer

			err := runLogin(context.Background(), &out, testBackend(), tracker, &mockPrompter{}, tt.username, tt.password)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.False(t, tracker.Current().Authenticated, "a failed login never writes the session")
		})
	}
}

func TestRunLogin_CancelledPrompt(t *testing.T) {
	tracker := newTracker(t)
	backend := testBackend()

	err := runLogin(context.Background(), &bytes.Buffer{}, backend, tracker, &mockPrompter{}, "", "")
	require.Error(t, err)
	assert.Empty(t, backend.calls)
}

func TestRunLogout(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()
	_, err := tracker.Login(ctx, session.RoleManufacturer, "Cipla Ltd")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runLogout(ctx, &out, tracker))
	assert.Contains(t, out.String(), "Logged out Cipla Ltd")
	assert.False(t, tracker.Current().Authenticated)

	out.Reset()
	require.NoError(t, runLogout(ctx, &out, tracker))
	assert.Contains(t, out.String(), "Not logged in")
}

func TestRunStatus(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runStatus(ctx, &out, tracker, "http://localhost:3000/"))
	assert.Contains(t, out.String(), "Not logged in")

	_, err := tracker.Login(ctx, session.RoleManufacturer, "Lupin Ltd")
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, runStatus(ctx, &out, tracker, "http://localhost:3000/"))
	assert.Contains(t, out.String(), "Logged in as Lupin Ltd (manufacturer)")
	assert.Contains(t, out.String(), "http://localhost:3000/dashboard/rls/Lupin%20Ltd")
}

func TestRunToken_RequiresLogin(t *testing.T) {
	tracker := newTracker(t)
	fetcher := &mockFetcher{token: "unused"}

	err := runToken(context.Background(), &bytes.Buffer{}, tracker, fetcher, false, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
	assert.Empty(t, fetcher.mode, "no fetch without a session")
}

func TestRunToken_ManufacturerClaims(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()
	_, err := tracker.Login(ctx, session.RoleManufacturer, "Cipla Ltd")
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	token := signedToken(t, guesttoken.Claims{
		User:      guesttoken.GuestUser{Username: "cipla_guest"},
		Resources: []guesttoken.Resource{{Type: "dashboard", ID: "dash-1"}},
		RLSRules:  []guesttoken.RLSRule{{Clause: "manufacturer = 'Cipla Ltd'"}},
		Type:      "guest",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	})
	fetcher := &mockFetcher{token: token}

	var out bytes.Buffer
	require.NoError(t, runToken(ctx, &out, tracker, fetcher, false, now))

	assert.Equal(t, guesttoken.ModeRLS, fetcher.mode)
	assert.Equal(t, "Cipla Ltd", fetcher.id)
	got := out.String()
	assert.Contains(t, got, "Dashboard View: Filtered for Cipla Ltd")
	assert.Contains(t, got, "Guest user: cipla_guest")
	assert.Contains(t, got, "Resource: dashboard dash-1")
	assert.Contains(t, got, "RLS: manufacturer = 'Cipla Ltd'")
	assert.Contains(t, got, "(in 5m0s)")
}

func TestRunToken_AdminRawAndOpaque(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()
	_, err := tracker.Login(ctx, session.RoleAdmin, session.AdminIdentity)
	require.NoError(t, err)

	fetcher := &mockFetcher{token: "opaque-token"}

	var out bytes.Buffer
	require.NoError(t, runToken(ctx, &out, tracker, fetcher, true, time.Now()))
	assert.Equal(t, "opaque-token\n", out.String())
	assert.Equal(t, guesttoken.ModeFull, fetcher.mode)
	assert.Equal(t, session.AdminIdentity, fetcher.id)

	out.Reset()
	require.NoError(t, runToken(ctx, &out, tracker, fetcher, false, time.Now()))
	assert.Contains(t, out.String(), "Dashboard View: Full Access")
	assert.Contains(t, out.String(), "not a decodable JWT")
}

func TestRunToken_FetchError(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()
	_, err := tracker.Login(ctx, session.RoleAdmin, session.AdminIdentity)
	require.NoError(t, err)

	fetcher := &mockFetcher{err: &guesttoken.FetchError{Kind: guesttoken.KindHTTP, StatusCode: 500, Message: "HTTP error! status: 500"}}

	err = runToken(ctx, &bytes.Buffer{}, tracker, fetcher, false, time.Now())
	require.Error(t, err)
	assert.Equal(t, "Error fetching guest token: HTTP error! status: 500.", err.Error())
}
