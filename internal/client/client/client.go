package client

import (
	"context"
	"time"
)

// Challenge is the server's answer to a password login: a pending OTP.
// OTP is empty unless the server echoes codes back (demo mode).
type Challenge struct {
	OTP       string
	ExpiresAt time.Time
}

// Session is a bearer token minted after a successful OTP verification.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Identity is what the server knows about the holder of a token.
type Identity struct {
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Client interface {
	Register(ctx context.Context, email, password string) error
	Login(ctx context.Context, email, password string) (*Challenge, error)
	VerifyOTP(ctx context.Context, email, otp string) (*Session, error)
	Me(ctx context.Context, token string) (*Identity, error)
	Ping(ctx context.Context) error
}
