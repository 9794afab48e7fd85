package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/parlae/pms-gateway/internal/pms"
)

// writeError answers with the same envelope the tool handlers use.
func writeError(w http.ResponseWriter, status int, code pms.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(pms.Result[any]{
		Success: false,
		Error:   &pms.ErrorBody{Code: code, Message: message},
	})
}
