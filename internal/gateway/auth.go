package gateway

import (
	"net/http"
	"strings"
)

// credentials is the device pair carried by every scoped request, either in
// the JSON body or, for GET, in the query string.
type credentials struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
}

func (c credentials) trimmed() credentials {
	return credentials{ClientID: strings.TrimSpace(c.ClientID), Secret: c.Secret}
}

func queryCredentials(r *http.Request) credentials {
	q := r.URL.Query()
	return credentials{ClientID: q.Get("client_id"), Secret: q.Get("secret")}.trimmed()
}

const invalidCredentials = "Invalid client_id or secret"

// authorize checks c against the store. On failure it has already written
// 403 (or 500 when the store is unreachable) and returns false.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, c credentials) bool {
	c = c.trimmed()
	if c.ClientID == "" || c.Secret == "" {
		writeError(w, http.StatusForbidden, invalidCredentials)
		return false
	}
	ok, err := s.cfg.Store.Authenticate(r.Context(), c.ClientID, c.Secret)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "credential check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "credential check failed")
		return false
	}
	if !ok {
		s.logger.WarnContext(r.Context(), "rejected credentials", "path", r.URL.Path)
		writeError(w, http.StatusForbidden, invalidCredentials)
		return false
	}
	return true
}

// clientIP returns the request's remote host without the port.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	addr := r.RemoteAddr
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}
