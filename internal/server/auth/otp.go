package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// OTPValidity is how long an issued one-time code stays usable.
const OTPValidity = 5 * time.Minute

var otpSpace = big.NewInt(1_000_000)

// OTPIssuer produces six-digit one-time codes.
type OTPIssuer struct {
	now func() time.Time
}

func NewOTPIssuer(now func() time.Time) *OTPIssuer {
	if now == nil {
		now = time.Now
	}
	return &OTPIssuer{now: now}
}

// Issue returns a uniformly random code in 000000..999999 and its expiry in
// Unix seconds.
func (i *OTPIssuer) Issue() (string, int64, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", 0, fmt.Errorf("otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), i.now().Add(OTPValidity).Unix(), nil
}
