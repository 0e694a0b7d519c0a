package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/randimg/internal/picker"
	"github.com/JakeFAU/randimg/internal/token"
)

// statusFor maps a pipeline error onto an HTTP status and client message.
// A zero status means the client canceled and nothing should be written.
func statusFor(err error) (int, string) {
	var srcErr *picker.SourceError
	switch {
	case errors.Is(err, token.ErrInvalidToken):
		return http.StatusBadRequest, "bad token"
	case errors.Is(err, picker.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &srcErr):
		return http.StatusBadGateway, "failed to fetch page: " + srcErr.Error()
	case errors.Is(err, picker.ErrSourceFetch):
		return http.StatusBadGateway, "failed to fetch page"
	case errors.Is(err, picker.ErrNoSuitableImage):
		return http.StatusNotFound, "no suitable image found after filtering"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timed out selecting an image"
	case errors.Is(err, context.Canceled):
		return 0, ""
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Int("status", status), zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
