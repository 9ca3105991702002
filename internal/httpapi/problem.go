package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/adred-codev/ws_poc/internal/errs"
	"github.com/adred-codev/ws_poc/internal/metrics"
)

// writeError writes the spec's {error:string} body at the status the
// error taxonomy maps kind to.
func writeError(w http.ResponseWriter, kind errs.Kind, message string) {
	metrics.RecordError(string(kind))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errs.HTTPStatus(kind))
	json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: message})
}

// writeErrFrom inspects err for a wrapped *errs.Error and writes the
// corresponding status; anything else surfaces as Internal.
func writeErrFrom(w http.ResponseWriter, err error) {
	writeError(w, errs.KindOf(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONPublic is writeJSON without the no-store cache directive, for
// responses a load balancer or uptime check is allowed to cache briefly,
// like /health.
func writeJSONPublic(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
