package health

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Handler serves a Checker over HTTP: 204 when healthy, 503 with the
// check's error text otherwise.
type Handler struct {
	checker Checker
}

func NewHandler(checker Checker) *Handler {
	return &Handler{checker: checker}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.checker.Check(); err != nil {
		log.Warnf("health check failed: %v", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, werr := w.Write([]byte(err.Error())); werr != nil {
			log.Errorf("failed to write health check response: %v", werr)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
