package handler

import "net/http"

// CORS allows every origin, matching a browser-hosted registration page
// served from any host.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Add("Vary", "Origin")
		next.ServeHTTP(w, r)
	})
}
