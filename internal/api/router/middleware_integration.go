package router

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/parlae/pms-gateway/internal/pms"
)

// Integration ids are uuids or slugs; anything else never reaches the PMS.
var integrationIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// requireIntegrationID rejects malformed integration ids before any service is built.
func requireIntegrationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "integrationID")
		if !integrationIDPattern.MatchString(id) {
			writeJSON(w, http.StatusBadRequest, pms.HandleError[any](pms.Invalid("invalid integration id")))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
