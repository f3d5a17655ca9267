package models

// User is a stored account record.
//
// OTP and OTPExpiry are either both nil or both set. OTPExpiry and CreatedAt
// are Unix seconds.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	OTP          *string
	OTPExpiry    *int64
	CreatedAt    int64
}

// HasPendingOTP reports whether an OTP is stored on the record.
func (u *User) HasPendingOTP() bool {
	return u.OTP != nil && u.OTPExpiry != nil
}
