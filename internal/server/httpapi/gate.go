package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
)

// ProtectedHandler serves a request whose bearer token has been validated.
type ProtectedHandler func(w http.ResponseWriter, r *http.Request, claims *auth.Claims)

// protected validates the Authorization header before calling next with the
// decoded claims. Any failure is a 401 with the generic message.
func (s *HTTPServer) protected(next ProtectedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.users.Authenticate(r.Context(), r.Header.Get(common.AuthorizationHeaderName))
		s.metrics.RecordAuth("authenticate", outcome(err))
		if err != nil {
			w.Header().Set("WWW-Authenticate", common.BearerScheme)
			s.writeServiceError(w, r, err)
			return
		}
		next(w, r, claims)
	}
}
