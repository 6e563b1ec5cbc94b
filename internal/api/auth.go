package api

import (
	"net/http"
	"strings"

	"depotroute/internal/auth"
)

// getPrincipal resolves the caller from the Authorization header. In dev
// mode an absent token degrades to an anonymous viewer so read endpoints
// stay curl-able.
func (s *Server) getPrincipal(r *http.Request) auth.Principal {
	h := r.Header.Get("Authorization")
	token := ""
	if strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" && s.Auth.Mode == "dev" {
		return auth.Principal{Subject: "anonymous", Role: "viewer"}
	}
	p, err := s.Auth.Verify(token)
	if err != nil {
		return auth.Principal{}
	}
	return p
}

// requireOptimizer gates mutating endpoints on the dispatcher or admin role.
// It writes the problem response itself and reports whether to proceed.
func (s *Server) requireOptimizer(w http.ResponseWriter, r *http.Request) bool {
	if !s.getPrincipal(r).CanOptimize() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin role required", r.URL.Path)
		return false
	}
	return true
}
