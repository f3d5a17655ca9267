// Package services contains application services for the gophauth client.
// This file defines the authentication service: register, the two-step
// password+OTP login, the current identity and the in-memory session.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/client/client"
)

// ErrNotLoggedIn is returned by calls that need a session when none is held.
var ErrNotLoggedIn = errors.New("not logged in")

// ErrNoPendingLogin is returned by VerifyOTP when Login has not been called.
var ErrNoPendingLogin = errors.New("no pending login, run login first")

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - Register: create a new user on the server.
//   - Login: check the password and obtain an OTP challenge.
//   - VerifyOTP: exchange the OTP of the pending login for a session token.
//   - WhoAmI: ask the server who the held token belongs to.
//   - Email: the email of the live session, "" when logged out.
//   - Logout: forget the session.
//   - Ping: check server liveness.
//
// All methods must honor context cancellation/timeouts.
type AuthService interface {
	Register(ctx context.Context, email, password string) error
	Login(ctx context.Context, email, password string) (*client.Challenge, error)
	VerifyOTP(ctx context.Context, otp string) (*client.Session, error)
	WhoAmI(ctx context.Context) (*client.Identity, error)
	Email() string
	Logout()
	IsLoggedIn() bool
	Ping(ctx context.Context) error
}

// authService is the concrete AuthService backed by a remote Client.
// The session lives in memory only.
type authService struct {
	client client.Client
	now    func() time.Time

	mu      sync.Mutex
	pending string
	email   string
	session *client.Session
}

// NewAuthService constructs an AuthService bound to the given API client.
func NewAuthService(c client.Client) AuthService {
	return &authService{client: c, now: time.Now}
}

func (a *authService) Register(ctx context.Context, email, password string) error {
	return a.client.Register(ctx, email, password)
}

// Login verifies the password and remembers email for the OTP step.
// Any previous session is kept until VerifyOTP succeeds.
func (a *authService) Login(ctx context.Context, email, password string) (*client.Challenge, error) {
	ch, err := a.client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.pending = email
	a.mu.Unlock()

	return ch, nil
}

// VerifyOTP completes the pending login. On success the token replaces any
// previous session.
func (a *authService) VerifyOTP(ctx context.Context, otp string) (*client.Session, error) {
	a.mu.Lock()
	email := a.pending
	a.mu.Unlock()

	if email == "" {
		return nil, ErrNoPendingLogin
	}

	sess, err := a.client.VerifyOTP(ctx, email, otp)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.pending = ""
	a.email = email
	a.session = sess
	a.mu.Unlock()

	return sess, nil
}

func (a *authService) WhoAmI(ctx context.Context) (*client.Identity, error) {
	token, err := a.token()
	if err != nil {
		return nil, err
	}

	id, err := a.client.Me(ctx, token)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			a.Logout()
			return nil, fmt.Errorf("session rejected: %w", err)
		}
		return nil, err
	}
	return id, nil
}

func (a *authService) Email() string {
	if _, err := a.token(); err != nil {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.email
}

func (a *authService) Logout() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = ""
	a.email = ""
	a.session = nil
}

// IsLoggedIn reports whether an unexpired session is held.
func (a *authService) IsLoggedIn() bool {
	_, err := a.token()
	return err == nil
}

// Ping proxies a liveness check to the underlying client.
func (a *authService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

func (a *authService) token() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return "", ErrNotLoggedIn
	}
	if !a.now().Before(a.session.ExpiresAt) {
		a.session = nil
		a.email = ""
		return "", ErrNotLoggedIn
	}
	return a.session.Token, nil
}
