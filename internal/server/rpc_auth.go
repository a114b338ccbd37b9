package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/warpdl/warpload/pkg/logger"
)

// codeUnauthorized is the JSON-RPC "invalid request" code returned for
// rejected handshakes.
const codeUnauthorized = -32600

// requireToken guards next with Bearer token authentication. Rejections
// are answered with a JSON-RPC error object rather than a plain HTTP body
// so that RPC clients can surface them.
//
// An empty secret rejects every request.
func requireToken(secret string, l logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validToken(secret, r.Header.Get("Authorization")) {
			if l != nil {
				l.Warning("rpc: rejected unauthenticated request from %s", r.RemoteAddr)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"error": map[string]any{
					"code":    codeUnauthorized,
					"message": "Unauthorized",
				},
				"id": nil,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validToken reports whether authHeader is "Bearer <secret>".
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
