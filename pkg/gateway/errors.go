package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/komikgate/komikgate/pkg/domain"
)

// errorRepresentation selects how an image-endpoint failure is delivered.
type errorRepresentation int

const (
	representationJSON errorRepresentation = iota
	representationRedirect
)

// chooseErrorRepresentation inspects the client's Accept header. Clients that
// expect an image and did not explicitly ask for JSON get a redirect to the
// placeholder image, because an <img> tag cannot render a JSON error body.
func chooseErrorRepresentation(accept string) errorRepresentation {
	if strings.Contains(accept, "image/") && !strings.Contains(accept, "application/json") {
		return representationRedirect
	}
	return representationJSON
}

// writeErrorResponse writes the standard JSON error body with CORS headers.
// The HTTP status is taken from the body's Code field.
func writeErrorResponse(w http.ResponseWriter, logger *slog.Logger, body domain.ErrorResponse) {
	if logger == nil {
		logger = slog.Default()
	}
	applyCORSHeaders(w.Header())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(body.Code)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode error response", "error", err)
	}
}
