package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/logging"
)

// OTPNotifier delivers an issued OTP to its owner.
type OTPNotifier interface {
	NotifyOTP(ctx context.Context, email, otp string, expiresAt int64) error
}

// LogNotifier writes the OTP to the log. It stands in for a real delivery
// channel in development.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "otp.notifier")}
}

func (n *LogNotifier) NotifyOTP(ctx context.Context, email, otp string, expiresAt int64) error {
	n.logger.Info(ctx, "one-time code issued",
		"email", email,
		"otp", otp,
		"expires_at", time.Unix(expiresAt, 0).UTC().Format(time.RFC3339))
	return nil
}
