package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (n *recordingNotifier) NotifyOTP(_ context.Context, email, otp string, _ int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.codes == nil {
		n.codes = map[string]string{}
	}
	n.codes[email] = otp
	return n.err
}

func (n *recordingNotifier) last(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[email]
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                   "k",
		AccessTokenValidityDuration: time.Hour,
		OTPEcho:                     true,
	}
}

type fixture struct {
	svc      *UserService
	repo     users.Repository
	clock    *testClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T, cfg *config.Config, repo users.Repository) *fixture {
	t.Helper()
	if repo == nil {
		repo = users.NewInMemoryRepository()
	}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	n := &recordingNotifier{}
	svc, err := NewUserService(repo, cfg, logging.Nop(),
		WithClock(clock.Now),
		WithHasher(&auth.PBKDF2Hasher{Iterations: 1000}),
		WithNotifier(n),
	)
	require.NoError(t, err)
	return &fixture{svc: svc, repo: repo, clock: clock, notifier: n}
}

// fakeUsersRepo returns canned errors for the store calls.
type fakeUsersRepo struct {
	createErr  error
	getOut     *models.User
	getErr     error
	setOTPErr  error
	consumeErr error
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return u, nil
}

func (f *fakeUsersRepo) GetUserByEmail(context.Context, string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOut, nil
}

func (f *fakeUsersRepo) SetOTP(context.Context, string, string, int64) error { return f.setOTPErr }

func (f *fakeUsersRepo) ConsumeOTP(context.Context, string, string, int64) (*models.User, error) {
	return nil, f.consumeErr
}

func (f *fakeUsersRepo) ClearOTP(context.Context, string) error { return nil }

var errBoom = errors.New("boom")

// --- Register ---

func TestRegister_Success(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	u, err := f.svc.Register(context.Background(), "  Alice@X.com ", "password1")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", u.Email)
	assert.Equal(t, common.RoleUser, u.Role)
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, "password1", u.PasswordHash)

	stored, err := f.repo.GetUserByEmail(context.Background(), "alice@x.com")
	require.NoError(t, err)
	assert.False(t, stored.HasPendingOTP())
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	for name, in := range map[string][2]string{
		"empty email":    {"", "password1"},
		"blank email":    {"   ", "password1"},
		"empty password": {"a@x.com", ""},
		"short password": {"a@x.com", "1234567"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), in[0], in[1])
			assert.ErrorIs(t, err, common.ErrorValidation)
		})
	}
}

func TestRegister_AcceptsAnyNonEmptyEmailAndLongPassword(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, "bob", "longpass1")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Email)

	_, err = f.svc.Register(ctx, "carol@x.com", strings.Repeat("p", 1025))
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, "dave@x.com", "12345678")
	require.NoError(t, err, "exactly eight characters is enough")
}

func TestRegister_ConflictOnNormalisedEmail(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice@x.com", "password1")
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, "ALICE@x.com ", "another-pass")
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestRegister_StoreFailure(t *testing.T) {
	f := newFixture(t, testConfig(), &fakeUsersRepo{createErr: errBoom})

	_, err := f.svc.Register(context.Background(), "alice@x.com", "password1")
	assert.ErrorIs(t, err, common.ErrorInternal)
}

// --- Login ---

func TestLogin_IssuesAndEchoesOTP(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "alice@x.com", "password1")
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, "Alice@x.com", "password1")
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9]{6}$`, res.OTP)
	assert.Equal(t, f.clock.Now().Unix()+300, res.ExpiresAt)
	assert.Equal(t, res.OTP, f.notifier.last("alice@x.com"))

	stored, err := f.repo.GetUserByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	require.True(t, stored.HasPendingOTP())
	assert.Equal(t, res.OTP, *stored.OTP)
}

func TestLogin_NoEchoWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.OTPEcho = false
	f := newFixture(t, cfg, nil)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "alice@x.com", "password1")
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, "alice@x.com", "password1")
	require.NoError(t, err)
	assert.Empty(t, res.OTP)
	assert.Len(t, f.notifier.last("alice@x.com"), 6)
}

func TestLogin_GenericFailure(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "alice@x.com", "password1")
	require.NoError(t, err)

	_, wrongPw := f.svc.Login(ctx, "alice@x.com", "password2")
	_, unknown := f.svc.Login(ctx, "bob@x.com", "password1")

	require.ErrorIs(t, wrongPw, common.ErrorUnauthorized)
	require.ErrorIs(t, unknown, common.ErrorUnauthorized)
	assert.Equal(t, wrongPw.Error(), unknown.Error(), "same message for unknown email and wrong password")

	stored, err := f.repo.GetUserByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.False(t, stored.HasPendingOTP())
}

func TestLogin_Validation(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	_, err := f.svc.Login(context.Background(), "", "password1")
	assert.ErrorIs(t, err, common.ErrorValidation)
	_, err = f.svc.Login(context.Background(), "alice@x.com", "")
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestLogin_MalformedStoredHashIsUnauthorized(t *testing.T) {
	repo := &fakeUsersRepo{getOut: &models.User{Email: "alice@x.com", PasswordHash: "garbage"}}
	f := newFixture(t, testConfig(), repo)

	_, err := f.svc.Login(context.Background(), "alice@x.com", "password1")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestLogin_StoreFailures(t *testing.T) {
	f := newFixture(t, testConfig(), &fakeUsersRepo{getErr: errBoom})
	_, err := f.svc.Login(context.Background(), "alice@x.com", "password1")
	assert.ErrorIs(t, err, common.ErrorInternal)

	hash, err := (&auth.PBKDF2Hasher{Iterations: 1000}).Hash("password1")
	require.NoError(t, err)
	f = newFixture(t, testConfig(), &fakeUsersRepo{
		getOut:    &models.User{Email: "alice@x.com", PasswordHash: hash},
		setOTPErr: errBoom,
	})
	_, err = f.svc.Login(context.Background(), "alice@x.com", "password1")
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestLogin_NotifierFailureStillSucceeds(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.notifier.err = errBoom
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "alice@x.com", "password1")
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, "alice@x.com", "password1")
	require.NoError(t, err)
	assert.Len(t, res.OTP, 6)
}

func TestLogin_OverwritesPreviousOTP(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "alice@x.com", "password1")
	require.NoError(t, err)

	first, err := f.svc.Login(ctx, "alice@x.com", "password1")
	require.NoError(t, err)
	var second *LoginResult
	for {
		second, err = f.svc.Login(ctx, "alice@x.com", "password1")
		require.NoError(t, err)
		if second.OTP != first.OTP {
			break
		}
	}

	_, err = f.svc.VerifyOTP(ctx, "alice@x.com", first.OTP)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = f.svc.VerifyOTP(ctx, "alice@x.com", second.OTP)
	assert.NoError(t, err)
}

// --- VerifyOTP / Authenticate ---

func registerAndLogin(t *testing.T, f *fixture, email string) string {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Register(ctx, email, "password1")
	require.NoError(t, err)
	res, err := f.svc.Login(ctx, email, "password1")
	require.NoError(t, err)
	return res.OTP
}

func TestFlow_EndToEnd(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()

	otp := registerAndLogin(t, f, "alice@x.com")

	res, err := f.svc.VerifyOTP(ctx, " ALICE@x.com", " "+otp+" ")
	require.NoError(t, err)
	assert.Equal(t, common.RoleUser, res.Role)
	assert.True(t, f.clock.Now().Add(time.Hour).Equal(res.ExpiresAt))

	claims, err := f.svc.Authenticate(ctx, "Bearer "+res.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", claims.Subject)
	assert.Equal(t, common.RoleUser, claims.Role)

	stored, err := f.repo.GetUserByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.False(t, stored.HasPendingOTP(), "otp cleared after use")
}

func TestVerifyOTP_SingleUse(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	otp := registerAndLogin(t, f, "alice@x.com")

	_, err := f.svc.VerifyOTP(context.Background(), "alice@x.com", otp)
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(context.Background(), "alice@x.com", otp)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestVerifyOTP_ExpiryWindow(t *testing.T) {
	t.Run("just inside", func(t *testing.T) {
		f := newFixture(t, testConfig(), nil)
		otp := registerAndLogin(t, f, "alice@x.com")

		f.clock.Advance(299 * time.Second)
		_, err := f.svc.VerifyOTP(context.Background(), "alice@x.com", otp)
		assert.NoError(t, err)
	})

	t.Run("at issuance plus 300s", func(t *testing.T) {
		f := newFixture(t, testConfig(), nil)
		otp := registerAndLogin(t, f, "alice@x.com")

		f.clock.Advance(300 * time.Second)
		_, err := f.svc.VerifyOTP(context.Background(), "alice@x.com", otp)
		assert.ErrorIs(t, err, common.ErrorUnauthorized)

		stored, err := f.repo.GetUserByEmail(context.Background(), "alice@x.com")
		require.NoError(t, err)
		assert.True(t, stored.HasPendingOTP(), "expired code stays until the next login")
	})
}

func TestVerifyOTP_Failures(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	otp := registerAndLogin(t, f, "alice@x.com")
	_, err := f.svc.Register(ctx, "bob@x.com", "password1")
	require.NoError(t, err)

	wrong := "000000"
	if otp == wrong {
		wrong = "000001"
	}

	_, errWrong := f.svc.VerifyOTP(ctx, "alice@x.com", wrong)
	_, errUnknown := f.svc.VerifyOTP(ctx, "carol@x.com", otp)
	_, errNoOTP := f.svc.VerifyOTP(ctx, "bob@x.com", otp)

	for _, err := range []error{errWrong, errUnknown, errNoOTP} {
		require.ErrorIs(t, err, common.ErrorUnauthorized)
		assert.Equal(t, ErrInvalidCredentials.Error(), err.Error())
	}

	_, err = f.svc.VerifyOTP(ctx, "alice@x.com", otp)
	assert.NoError(t, err, "a wrong guess leaves the code usable")
}

func TestVerifyOTP_Validation(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	_, err := f.svc.VerifyOTP(context.Background(), "alice@x.com", "   ")
	assert.ErrorIs(t, err, common.ErrorValidation)
	_, err = f.svc.VerifyOTP(context.Background(), "", "123456")
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestVerifyOTP_StoreFailure(t *testing.T) {
	f := newFixture(t, testConfig(), &fakeUsersRepo{consumeErr: errBoom})

	_, err := f.svc.VerifyOTP(context.Background(), "alice@x.com", "123456")
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestVerifyOTP_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	otp := registerAndLogin(t, f, "alice@x.com")

	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.VerifyOTP(context.Background(), "alice@x.com", otp)
			if err == nil {
				wins.Add(1)
			} else if errors.Is(err, common.ErrorUnauthorized) {
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(19), losses.Load())
}

func TestVerifyOTP_ExpiresAtMatchesTokenClaim(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	otp := registerAndLogin(t, f, "alice@x.com")

	// exp is stored in whole seconds; a sub-second clock must not leak into the result
	f.clock.Advance(900 * time.Millisecond)

	res, err := f.svc.VerifyOTP(ctx, "alice@x.com", otp)
	require.NoError(t, err)

	claims, err := f.svc.Authenticate(ctx, "Bearer "+res.Token)
	require.NoError(t, err)
	assert.True(t, claims.ExpiresAt.Time.Equal(res.ExpiresAt), "got %v, token says %v", res.ExpiresAt, claims.ExpiresAt.Time)
}

func TestAuthenticate_Rejections(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	otp := registerAndLogin(t, f, "alice@x.com")
	res, err := f.svc.VerifyOTP(ctx, "alice@x.com", otp)
	require.NoError(t, err)

	foreign, _, err := auth.NewTokenService([]byte("other"), time.Hour, f.clock.Now).Issue("alice@x.com", common.RoleAdmin)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":      "",
		"no scheme":    res.Token,
		"basic":        "Basic " + res.Token,
		"garbage":      "Bearer garbage",
		"wrong secret": "Bearer " + foreign,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Authenticate(ctx, header)
			assert.ErrorIs(t, err, common.ErrorUnauthorized)
		})
	}

	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(61 * time.Minute)
		_, err := f.svc.Authenticate(ctx, "Bearer "+res.Token)
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
	})
}

// --- EnsureAdmin ---

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, f.svc.EnsureAdmin(ctx, "Admin@Example.com", "adminpass1"))
	require.NoError(t, f.svc.EnsureAdmin(ctx, "admin@example.com", "different1"), "idempotent")

	u, err := f.repo.GetUserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, common.RoleAdmin, u.Role)

	res, err := f.svc.Login(ctx, "admin@example.com", "adminpass1")
	require.NoError(t, err, "first password is kept")
	v, err := f.svc.VerifyOTP(ctx, "admin@example.com", res.OTP)
	require.NoError(t, err)

	claims, err := f.svc.Authenticate(ctx, "Bearer "+v.Token)
	require.NoError(t, err)
	assert.Equal(t, common.RoleAdmin, claims.Role)
}

func TestEnsureAdmin_Errors(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	assert.ErrorIs(t, f.svc.EnsureAdmin(context.Background(), "admin@example.com", "short"), common.ErrorValidation)

	f = newFixture(t, testConfig(), &fakeUsersRepo{createErr: errBoom})
	assert.ErrorIs(t, f.svc.EnsureAdmin(context.Background(), "admin@example.com", "adminpass1"), errBoom)
}
