// utilitários pequenos para headers e respostas JSON dos adapters HTTP.

package ingress

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
