package health

import (
	"net/http"
)

// SetupMux registers checker's handler at /health on mux.
func SetupMux(mux *http.ServeMux, checker Checker) {
	mux.Handle("/health", NewHandler(checker))
}
