package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/client/client"
	"github.com/dmitrijs2005/gophauth/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts the user for an email and password and attempts to create
// a new account via the AuthService.
//
// On success it prints "Success!" and returns nil. The password byte slice
// is wiped before returning.
func (a *App) Register(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.writer())
	if err != nil {
		return err
	}

	password, err := getPassword(a.writer())
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.authService.Register(ctx, email, string(password)); err != nil {
		a.report("Registration failed", err)
		return err
	}

	a.println("Success!")
	return nil
}

// Login runs both factors: it sends the password, then prompts for the
// one-time code. When the server echoes the code (demo mode) an empty answer
// submits the echoed value.
//
// A wrong code can be retried with another login. The previous session, if
// any, stays valid until the new one is issued.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.writer())
	if err != nil {
		return err
	}

	password, err := getPassword(a.writer())
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	ch, err := a.authService.Login(ctx, email, string(password))
	if err != nil {
		a.report("Login failed", err)
		return err
	}

	prompt := fmt.Sprintf("Enter the one-time code (valid until %s)", ch.ExpiresAt.Format(time.TimeOnly))
	if ch.OTP != "" {
		prompt = fmt.Sprintf("%s [%s]", prompt, ch.OTP)
	}
	otp, err := getSimpleText(a.reader, prompt, a.writer())
	if err != nil {
		return err
	}
	if otp == "" {
		otp = ch.OTP
	}

	sess, err := a.authService.VerifyOTP(ctx, otp)
	if err != nil {
		a.report("Verification failed", err)
		return err
	}

	a.setMode(ModeOnline)
	a.println("Logged in, session valid until", sess.ExpiresAt.Format(time.DateTime))
	return nil
}

// WhoAmI prints the identity the server associates with the session token.
func (a *App) WhoAmI(ctx context.Context) error {
	id, err := a.authService.WhoAmI(ctx)
	if err != nil {
		a.report("Request failed", err)
		return err
	}

	a.println(fmt.Sprintf("%s (%s), token expires %s", id.Subject, id.Role, id.ExpiresAt.Format(time.DateTime)))
	return nil
}

// Logout drops the in-memory session. Tokens are not revoked server-side.
func (a *App) Logout(ctx context.Context) error {
	a.authService.Logout()
	a.println("Logged out")
	return nil
}

// report prints a failure and flips to offline mode when the server
// could not be reached.
func (a *App) report(what string, err error) {
	if errors.Is(err, client.ErrUnavailable) {
		a.setMode(ModeOffline)
	}
	a.println(fmt.Sprintf("%s: %s", what, err))
}
