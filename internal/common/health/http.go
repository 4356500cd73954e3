package health

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

// SetupHttpMux serves checker on /health: 204 when healthy, otherwise 503 with the failure as body.
func SetupHttpMux(mux *http.ServeMux, checker Checker) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		err := checker.Check()
		if err == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		log.WithError(err).Warn("Health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, writeErr := w.Write([]byte(err.Error())); writeErr != nil {
			log.WithError(writeErr).Error("Failed to write health check response")
		}
	})
}
