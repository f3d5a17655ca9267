package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/metrics"
)

const maxBodyBytes = 1 << 20

func (s *HTTPServer) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, "register", &req) {
		return
	}

	_, err := s.users.Register(r.Context(), req.Email, req.Password)
	s.metrics.RecordAuth("register", outcome(err))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{Success: true, Message: "registration successful"})
}

func (s *HTTPServer) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, "login", &req) {
		return
	}

	res, err := s.users.Login(r.Context(), req.Email, req.Password)
	s.metrics.RecordAuth("login", outcome(err))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Message:   "one-time code issued",
		OTP:       res.OTP,
		ExpiresAt: res.ExpiresAt,
	})
}

func (s *HTTPServer) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !s.decode(w, r, "verify_otp", &req) {
		return
	}

	res, err := s.users.VerifyOTP(r.Context(), req.Email, req.OTP)
	s.metrics.RecordAuth("verify_otp", outcome(err))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Success:   true,
		Message:   "authenticated",
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) dashboard(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	writeJSON(w, http.StatusOK, dashboardResponse{
		Success: true,
		Message: "Welcome " + claims.Subject,
		Role:    claims.Role,
	})
}

func (s *HTTPServer) me(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	resp := meResponse{Success: true, Subject: claims.Subject, Role: claims.Role}
	if claims.IssuedAt != nil {
		resp.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into v. On failure it writes 400 and returns false.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Debug(r.Context(), "invalid payload", "op", op, "error", err)
		s.metrics.RecordAuth(op, metrics.OutcomeInvalid)
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrorAlreadyExists):
		writeError(w, http.StatusConflict, "user already exists")
	case errors.Is(err, common.ErrorUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, common.ErrorValidation):
		return metrics.OutcomeInvalid
	case errors.Is(err, common.ErrorAlreadyExists):
		return metrics.OutcomeConflict
	case errors.Is(err, common.ErrorUnauthorized):
		return metrics.OutcomeUnauthorized
	default:
		return metrics.OutcomeError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Success: false, Message: msg})
}
