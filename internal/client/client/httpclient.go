package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/netx"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type loginResponse struct {
	OTP       string `json:"otp"`
	ExpiresAt int64  `json:"otp_expires_at"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type meResponse struct {
	Subject   string `json:"subject"`
	Role      string `json:"role"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// HTTPClient talks to the gophauth JSON API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient returns a client for the server at baseURL
// (e.g. http://127.0.0.1:8080). timeout bounds every request.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Register(ctx context.Context, email, password string) error {
	err := c.do(ctx, http.MethodPost, "/api/register", "", credentialsRequest{Email: email, Password: password}, nil)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

func (c *HTTPClient) Login(ctx context.Context, email, password string) (*Challenge, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/login", "", credentialsRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &Challenge{OTP: resp.OTP, ExpiresAt: time.Unix(resp.ExpiresAt, 0)}, nil
}

func (c *HTTPClient) VerifyOTP(ctx context.Context, email, otp string) (*Session, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/verify-otp", "", verifyOTPRequest{Email: email, OTP: otp}, &resp); err != nil {
		return nil, fmt.Errorf("verify otp: %w", err)
	}
	return &Session{Token: resp.Token, ExpiresAt: time.Unix(resp.ExpiresAt, 0)}, nil
}

func (c *HTTPClient) Me(ctx context.Context, token string) (*Identity, error) {
	var resp meResponse
	if err := c.do(ctx, http.MethodGet, "/api/me", token, nil, &resp); err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	return &Identity{
		Subject:   resp.Subject,
		Role:      resp.Role,
		IssuedAt:  time.Unix(resp.IssuedAt, 0),
		ExpiresAt: time.Unix(resp.ExpiresAt, 0),
	}, nil
}

// Ping checks the server health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", "", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path, token string, in, out any) error {
	err := netx.DoJSON(ctx, c.http, method, c.baseURL+path, token, in, out)
	if err == nil {
		return nil
	}
	return mapError(err)
}

// mapError turns transport failures and HTTP statuses into sentinel errors,
// keeping the server's message for the caller.
func mapError(err error) error {
	var se *netx.StatusError
	if !errors.As(err, &se) {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sentinel error
	switch {
	case se.Code == http.StatusBadRequest:
		sentinel = ErrInvalidInput
	case se.Code == http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case se.Code == http.StatusConflict:
		sentinel = ErrAlreadyExists
	case se.Code >= 500:
		sentinel = ErrServer
	default:
		return se
	}
	if se.Message == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, se.Message)
}
