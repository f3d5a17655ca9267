package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

// PasswordHasher derives and checks stored password hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

const (
	pbkdf2Scheme            = "pbkdf2-sha256"
	DefaultPBKDF2Iterations = 100_000
	pbkdf2SaltLen           = 16
	pbkdf2KeyLen            = 32
)

// PBKDF2Hasher hashes with PBKDF2-HMAC-SHA256 and a random salt per password.
//
// Encoded form: pbkdf2-sha256$<iterations>$<salt hex>$<digest hex>.
type PBKDF2Hasher struct {
	Iterations int
}

func NewPBKDF2Hasher() *PBKDF2Hasher {
	return &PBKDF2Hasher{Iterations: DefaultPBKDF2Iterations}
}

func (h *PBKDF2Hasher) Hash(password string) (string, error) {
	iter := h.Iterations
	if iter <= 0 {
		iter = DefaultPBKDF2Iterations
	}
	salt := common.GenerateRandByteArray(pbkdf2SaltLen)
	digest := pbkdf2.Key([]byte(password), salt, iter, pbkdf2KeyLen, sha256.New)

	return fmt.Sprintf("%s$%d$%s$%s", pbkdf2Scheme, iter,
		hex.EncodeToString(salt), hex.EncodeToString(digest)), nil
}

// Verify re-derives with the iterations and salt stored in encoded. A
// malformed encoded value yields common.ErrInvalidHash.
func (h *PBKDF2Hasher) Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != pbkdf2Scheme {
		return false, common.ErrInvalidHash
	}
	iter, err := strconv.Atoi(parts[1])
	if err != nil || iter <= 0 {
		return false, common.ErrInvalidHash
	}
	salt, err := hex.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return false, common.ErrInvalidHash
	}
	want, err := hex.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false, common.ErrInvalidHash
	}

	got := pbkdf2.Key([]byte(password), salt, iter, len(want), sha256.New)
	defer common.WipeByteArray(got)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
