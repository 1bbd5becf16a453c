package http

import (
	"encoding/json"
	"net/http"

	"github.com/duocall/duocall/internal/core/domain"
	"github.com/duocall/duocall/internal/credential"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Handler is the token service's HTTP surface.
type Handler struct {
	builder *credential.Builder
}

func NewHandler(builder *credential.Builder) *Handler {
	return &Handler{builder: builder}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", h.Root)
	r.With(noCache).Get("/get-token", h.GetToken)

	return r
}

// noCache forbids any caching of issued credentials.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "private, no-cache, no-store, must-revalidate")
		w.Header().Set("Expires", "-1")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Token server is live!"))
}

// GetToken issues a credential for ?channelName=&uid=. The string uid is
// folded to the shared numeric identity here, and the same value is echoed
// back so the client joins under the uid the token was bound to.
func (h *Handler) GetToken(w http.ResponseWriter, r *http.Request) {
	if !h.builder.Configured() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "app credentials are not set on the server",
		})
		return
	}

	channel := r.URL.Query().Get("channelName")
	if channel == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "channelName is required",
		})
		return
	}

	rawUID := r.URL.Query().Get("uid")
	if rawUID == "" {
		rawUID = "0"
	}
	uid := domain.NumericIdentity(rawUID)

	token, err := h.builder.Issue(channel, uid)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("failed to issue credential")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to issue credential",
		})
		return
	}

	log.Info().Str("channel", channel).Str("raw_uid", rawUID).Uint32("uid", uid).Msg("credential issued")
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"uid":   uid,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
