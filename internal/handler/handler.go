package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"coffeebot/internal/logger"
	"coffeebot/internal/models"
	"coffeebot/internal/service"
	"coffeebot/internal/validation"
)

const (
	defaultMatchesLimit = 50
	maxMatchesLimit     = 500
)

// Handler provides HTTP handlers for the bot.
type Handler struct {
	service      *service.Service
	logger       *logger.Logger
	runSecret    string
	webhookToken string
	maxBodySize  int64

	runs sync.WaitGroup
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	// RunSecret must equal the "secret" header of POST /cron/run.
	RunSecret string
	// WebhookToken, when set, must equal the token of inbound webhooks.
	WebhookToken string
	MaxBodySize  int64
	Logger       *logger.Logger
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 1 << 20
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Handler{
		service:      svc,
		logger:       opts.Logger,
		runSecret:    opts.RunSecret,
		webhookToken: opts.WebhookToken,
		maxBodySize:  opts.MaxBodySize,
	}
}

// Routes registers the bot's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/cron/run", h.RunMatching)
	r.Post("/messages", h.ReceiveMessage)
	r.Get("/matches", h.ListMatches)
	r.Get("/users/{email}/preferences", h.GetPreference)
	r.Get("/health", h.Health)
}

// RunMatching handles POST /cron/run. The run starts in the background only
// when the secret header matches; the response is the same either way.
func (h *Handler) RunMatching(w http.ResponseWriter, r *http.Request) {
	if h.runSecret != "" && secureEqual(r.Header.Get("secret"), h.runSecret) {
		ctx := context.WithoutCancel(r.Context())
		h.runs.Add(1)
		go func() {
			defer h.runs.Done()
			result, err := h.service.Run(ctx)
			if err != nil {
				h.logger.Error("matching run failed", "error", err)
				return
			}
			h.logger.Info("matching run finished", "run_id", result.RunID, "pairs", len(result.Pairs))
		}()
	} else {
		h.logger.Warn("matching run trigger rejected", "remote_addr", r.RemoteAddr)
	}

	h.respondJSON(w, http.StatusOK, models.StatusResponse{Status: "ok"})
}

// WaitForRuns blocks until background runs started by RunMatching finish.
func (h *Handler) WaitForRuns() {
	h.runs.Wait()
}

// ReceiveMessage handles POST /messages, Zulip's outgoing webhook.
func (h *Handler) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.OutgoingWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	if h.webhookToken != "" && !secureEqual(req.Token, h.webhookToken) {
		h.respondError(w, http.StatusForbidden, "invalid webhook token")
		return
	}

	if err := h.service.HandleMessage(r.Context(), req.Message); err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to handle message", "sender", req.Message.SenderEmail, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to handle message")
		return
	}

	h.respondJSON(w, http.StatusOK, models.OutgoingWebhookResponse{ResponseNotRequired: true})
}

// ListMatches handles GET /matches
func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultMatchesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(validation.SanitizeString(raw))
		if err != nil || parsed <= 0 || parsed > maxMatchesLimit {
			h.respondError(w, http.StatusBadRequest, "invalid 'limit' parameter, must be between 1 and 500")
			return
		}
		limit = parsed
	}

	matches, err := h.service.ListMatches(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list matches", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list matches")
		return
	}

	h.respondJSON(w, http.StatusOK, models.MatchesResponse{Matches: matches})
}

// GetPreference handles GET /users/{email}/preferences
func (h *Handler) GetPreference(w http.ResponseWriter, r *http.Request) {
	email := validation.SanitizeString(chi.URLParam(r, "email"))

	pref, err := h.service.GetPreference(r.Context(), email)
	if err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to get preference", "email", email, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get preference")
		return
	}

	h.respondJSON(w, http.StatusOK, pref)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func secureEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
