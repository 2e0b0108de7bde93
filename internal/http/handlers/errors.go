package handlers

import (
	"context"
	"errors"
	"net/http"

	"genstudio/internal/domain"
)

// writeError maps err onto the response contract of POST /generate:
// {"error": kind, "message": text, ...details}.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := domain.AsError(err); ok {
		body := map[string]any{}
		for k, v := range e.Details {
			body[k] = v
		}
		body["error"] = string(e.Kind)
		body["message"] = e.Message
		status := e.HTTPStatus()
		if status >= http.StatusInternalServerError {
			a.Logger.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("generation failed")
		}
		a.json(w, status, body)
		return
	}
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, string(domain.KindNotFound), "not found")
	case errors.Is(err, context.DeadlineExceeded):
		a.error(w, http.StatusGatewayTimeout, string(domain.KindTimeout), "generation timed out")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads this.
		a.error(w, 499, "canceled", "request canceled")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("unexpected error")
		a.error(w, http.StatusInternalServerError, string(domain.KindInternal), "internal error")
	}
}
