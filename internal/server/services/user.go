// Package services contains server-side business logic. This file implements
// UserService, which runs the register → login (password + OTP issuance) →
// OTP verification → session token flow and the bearer-token request gate.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrInvalidCredentials is the single message returned for every failed
// password, OTP or token check.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", common.ErrorUnauthorized)

type registerParams struct {
	Email    string `validate:"required"`
	Password string `validate:"required,min=8"`
}

type loginParams struct {
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

type verifyOTPParams struct {
	Email string `validate:"required"`
	OTP   string `validate:"required"`
}

// LoginResult is returned after a successful password check.
// OTP is only set when the service runs with OTP echo enabled.
type LoginResult struct {
	OTP       string
	ExpiresAt int64
}

// VerifyResult carries the session token minted after OTP verification.
type VerifyResult struct {
	Token     string
	ExpiresAt time.Time
	Role      string
}

// UserService composes the credential store, password hasher, OTP issuer and
// token service.
type UserService struct {
	repo     users.Repository
	hasher   auth.PasswordHasher
	otp      *auth.OTPIssuer
	tokens   *auth.TokenService
	notifier OTPNotifier
	validate *validator.Validate
	logger   logging.Logger
	now      func() time.Time
	otpEcho  bool

	dummyHash string
}

// Option customises a UserService.
type Option func(*UserService)

// WithClock replaces the wall clock used for OTP and token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *UserService) { s.now = now }
}

// WithHasher replaces the default PBKDF2 hasher.
func WithHasher(h auth.PasswordHasher) Option {
	return func(s *UserService) { s.hasher = h }
}

// WithNotifier sets the channel issued OTPs are handed to.
func WithNotifier(n OTPNotifier) Option {
	return func(s *UserService) { s.notifier = n }
}

// NewUserService constructs a UserService over repo using server config.
func NewUserService(repo users.Repository, cfg *config.Config, logger logging.Logger, opts ...Option) (*UserService, error) {
	s := &UserService{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "services.user"),
		now:      time.Now,
		otpEcho:  cfg.OTPEcho,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hasher == nil {
		s.hasher = auth.NewPBKDF2Hasher()
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(logger)
	}
	s.otp = auth.NewOTPIssuer(s.now)
	s.tokens = auth.NewTokenService([]byte(cfg.SecretKey), cfg.AccessTokenValidityDuration, s.now)

	dummy, err := s.hasher.Hash("gophauth-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("init dummy hash: %w", err)
	}
	s.dummyHash = dummy

	return s, nil
}

// Register creates a user with role "user".
func (s *UserService) Register(ctx context.Context, email, password string) (*models.User, error) {
	p := registerParams{Email: common.NormalizeEmail(email), Password: password}
	if err := s.validate.Struct(p); err != nil {
		return nil, validationError(err)
	}

	user, err := s.createUser(ctx, p.Email, p.Password, common.RoleUser)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		s.logger.Error(ctx, "register failed", "error", err)
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// Login checks the password and, on success, stores a fresh OTP on the record,
// replacing any earlier one.
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	p := loginParams{Email: common.NormalizeEmail(email), Password: password}
	if err := s.validate.Struct(p); err != nil {
		return nil, validationError(err)
	}

	user, err := s.repo.GetUserByEmail(ctx, p.Email)
	target := s.dummyHash
	switch {
	case err == nil:
		target = user.PasswordHash
	case errors.Is(err, common.ErrorNotFound):
	default:
		s.logger.Error(ctx, "login lookup failed", "error", err)
		return nil, common.ErrorInternal
	}

	ok, verr := s.hasher.Verify(p.Password, target)
	if user == nil || verr != nil || !ok {
		s.logger.Info(ctx, "login rejected", "reason", loginRejectReason(user, verr))
		return nil, ErrInvalidCredentials
	}

	code, expiresAt, err := s.otp.Issue()
	if err != nil {
		s.logger.Error(ctx, "otp issue failed", "error", err)
		return nil, common.ErrorInternal
	}
	if err := s.repo.SetOTP(ctx, user.Email, code, expiresAt); err != nil {
		s.logger.Error(ctx, "otp store failed", "error", err)
		return nil, common.ErrorInternal
	}
	if err := s.notifier.NotifyOTP(ctx, user.Email, code, expiresAt); err != nil {
		// the code is stored; a later login replaces it
		s.logger.Warn(ctx, "otp delivery failed", "user_id", user.ID, "error", err)
	}

	res := &LoginResult{ExpiresAt: expiresAt}
	if s.otpEcho {
		res.OTP = code
	}
	return res, nil
}

// VerifyOTP consumes the stored OTP and mints a session token for the user.
func (s *UserService) VerifyOTP(ctx context.Context, email, otp string) (*VerifyResult, error) {
	p := verifyOTPParams{Email: common.NormalizeEmail(email), OTP: strings.TrimSpace(otp)}
	if err := s.validate.Struct(p); err != nil {
		return nil, validationError(err)
	}

	user, err := s.repo.ConsumeOTP(ctx, p.Email, p.OTP, s.now().Unix())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Info(ctx, "otp rejected")
			return nil, ErrInvalidCredentials
		}
		s.logger.Error(ctx, "otp consume failed", "error", err)
		return nil, common.ErrorInternal
	}

	token, expiresAt, err := s.tokens.Issue(user.Email, user.Role)
	if err != nil {
		s.logger.Error(ctx, "token issue failed", "error", err)
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "user authenticated", "user_id", user.ID)
	return &VerifyResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Role:      user.Role,
	}, nil
}

// Authenticate is the request gate: it takes the raw Authorization header and
// returns the decoded claims of a valid bearer token.
func (s *UserService) Authenticate(ctx context.Context, authorization string) (*auth.Claims, error) {
	raw, err := auth.BearerToken(authorization)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	claims, err := s.tokens.Validate(raw)
	if err != nil {
		s.logger.Debug(ctx, "token rejected", "error", err)
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

// EnsureAdmin seeds an admin account. An existing record with the same email
// is left as it is.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password string) error {
	p := registerParams{Email: common.NormalizeEmail(email), Password: password}
	if err := s.validate.Struct(p); err != nil {
		return validationError(err)
	}

	_, err := s.createUser(ctx, p.Email, p.Password, common.RoleAdmin)
	switch {
	case err == nil:
		s.logger.Info(ctx, "admin account created", "email", p.Email)
	case errors.Is(err, common.ErrorAlreadyExists):
		s.logger.Debug(ctx, "admin account present", "email", p.Email)
	default:
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}

func (s *UserService) createUser(ctx context.Context, email, password, role string) (*models.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().Unix(),
	}
	return s.repo.Create(ctx, user)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed on %s", common.ErrorValidation, strings.ToLower(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %v", common.ErrorValidation, err)
}

func loginRejectReason(user *models.User, verr error) string {
	switch {
	case user == nil:
		return "unknown email"
	case verr != nil:
		return "unreadable hash"
	default:
		return "password mismatch"
	}
}
