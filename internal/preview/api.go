package preview

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/pdfsplit-web/internal/locale"
	"github.com/keithlinneman/pdfsplit-web/internal/log"
)

// localeAPI serves message tables and the active locale preference.
type localeAPI struct {
	sel    *locale.Selector
	logger log.Logger
}

func (api *localeAPI) RegisterRoutes(r chi.Router) {
	r.Get("/-/i18n/{locale}.json", api.handleMessages)
	r.Get("/-/locale", api.handleGetLocale)
	r.Put("/-/locale", api.handleSetLocale)
}

// LocaleState is the body of GET and PUT /-/locale.
type LocaleState struct {
	Locale    string   `json:"locale"`
	Fallback  string   `json:"fallback"`
	Supported []string `json:"supported"`
	// Suggested is the best match for the request's Accept-Language.
	Suggested string `json:"suggested,omitempty"`
}

type setLocaleRequest struct {
	Locale string `json:"locale"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (api *localeAPI) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loc := chi.URLParam(r, "locale")

	tree, ok := api.sel.Catalog().Tree(loc)
	if !ok {
		api.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "unknown locale"})
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, tree)
}

func (api *localeAPI) handleGetLocale(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(r.Context(), w, http.StatusOK, api.state(r))
}

func (api *localeAPI) handleSetLocale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req setLocaleRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		api.writeJSON(ctx, w, status, errorResponse{Error: "invalid request body"})
		return
	}

	if err := api.sel.Set(ctx, req.Locale); err != nil {
		if errors.Is(err, locale.ErrUnsupported) {
			api.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{Error: "unsupported locale"})
			return
		}
		api.logger.Error(ctx, err, "persist locale failed", "locale", req.Locale)
		api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "could not save locale"})
		return
	}

	api.logger.Info(ctx, "locale changed", "locale", req.Locale)
	api.writeJSON(ctx, w, http.StatusOK, api.state(r))
}

func (api *localeAPI) state(r *http.Request) LocaleState {
	cat := api.sel.Catalog()
	st := LocaleState{
		Locale:    api.sel.Current(),
		Fallback:  cat.Fallback(),
		Supported: cat.Locales(),
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		st.Suggested = cat.MatchHeader(accept)
	}
	return st
}

func (api *localeAPI) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
