package users

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// InMemoryRepository keeps users in a map guarded by a mutex. Every
// operation holds the lock for its whole read-modify-write.
type InMemoryRepository struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{users: make(map[string]*models.User)}
}

func (r *InMemoryRepository) Create(_ context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.Email]; ok {
		return nil, common.ErrorAlreadyExists
	}
	r.users[user.Email] = cloneUser(user)
	return user, nil
}

func (r *InMemoryRepository) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneUser(u), nil
}

func (r *InMemoryRepository) SetOTP(_ context.Context, email, otp string, expiresAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[email]
	if !ok {
		return common.ErrorNotFound
	}
	u.OTP = &otp
	u.OTPExpiry = &expiresAt
	return nil
}

func (r *InMemoryRepository) ClearOTP(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[email]
	if !ok {
		return common.ErrorNotFound
	}
	u.OTP, u.OTPExpiry = nil, nil
	return nil
}

func (r *InMemoryRepository) ConsumeOTP(_ context.Context, email, otp string, now int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[email]
	if !ok || !u.HasPendingOTP() {
		return nil, common.ErrorNotFound
	}
	if subtle.ConstantTimeCompare([]byte(*u.OTP), []byte(otp)) != 1 || now >= *u.OTPExpiry {
		return nil, common.ErrorNotFound
	}

	u.OTP, u.OTPExpiry = nil, nil
	return cloneUser(u), nil
}

func cloneUser(u *models.User) *models.User {
	c := *u
	if u.OTP != nil {
		otp := *u.OTP
		c.OTP = &otp
	}
	if u.OTPExpiry != nil {
		exp := *u.OTPExpiry
		c.OTPExpiry = &exp
	}
	return &c
}
