package server

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// requireToken wraps next with Bearer token authentication. Failures get a
// JSON-RPC 2.0 error body. With an empty secret only loopback peers are
// admitted.
func requireToken(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(secret, r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"error": map[string]any{
					"code":    -32600,
					"message": "Unauthorized",
				},
				"id": nil,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authorized(secret string, r *http.Request) bool {
	if secret == "" {
		return loopback(r.RemoteAddr)
	}
	return validToken(secret, r.Header.Get("Authorization"))
}

// validToken compares a "Bearer <token>" header against secret in constant
// time.
func validToken(secret, authHeader string) bool {
	if secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

func loopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
