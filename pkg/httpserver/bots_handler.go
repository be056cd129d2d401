package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/mselser95/botledger/internal/strategy"
	"go.uber.org/zap"
)

// BotStore is the ledger surface behind the management API.
type BotStore interface {
	CreateBot(ctx context.Context, name string, cfg ledger.BotConfig) (*ledger.Bot, error)
	GetBot(ctx context.Context, id string) (*ledger.Bot, error)
	ListBots(ctx context.Context, filter ledger.ListBotsFilter) ([]ledger.Bot, error)
	UpdateBot(ctx context.Context, id string, name string, cfg *ledger.BotConfig) (*ledger.Bot, error)
	DeleteBot(ctx context.Context, id string) error
	RequestStart(ctx context.Context, id string) (*ledger.Bot, error)
	RequestStop(ctx context.Context, id string) (*ledger.Bot, error)
	ListSessions(ctx context.Context, botID string) ([]ledger.Session, error)
	GetSession(ctx context.Context, id string) (*ledger.Session, error)
	SessionOrders(ctx context.Context, sessionID string) ([]ledger.OrderWithExecutions, error)
	RebuildSessionSummary(ctx context.Context, sessionID string) (*ledger.SessionSummary, error)
	BotStats(ctx context.Context, botID string) (*ledger.Stats, error)
	NetPositions(ctx context.Context, botID string) ([]ledger.Position, error)
}

// BotsHandler serves bot CRUD, lifecycle requests and ledger reads.
type BotsHandler struct {
	store  BotStore
	logger *zap.Logger
}

// NewBotsHandler creates a new bots handler.
func NewBotsHandler(store BotStore, logger *zap.Logger) *BotsHandler {
	return &BotsHandler{store: store, logger: logger}
}

// BotRequest is the body of create and update calls.
type BotRequest struct {
	Name           string                 `json:"name"`
	GlobalSettings *ledger.GlobalSettings `json:"global_settings,omitempty"`
	Pipeline       *ledger.Pipeline       `json:"pipeline,omitempty"`
}

// SessionDetail is a session with its orders and executions.
type SessionDetail struct {
	ledger.Session
	Orders []ledger.OrderWithExecutions `json:"orders"`
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes mounts the API under r.
func (h *BotsHandler) Routes(r chi.Router) {
	r.Get("/bots", h.listBots)
	r.Post("/bots", h.createBot)
	r.Route("/bots/{id}", func(r chi.Router) {
		r.Get("/", h.getBot)
		r.Put("/", h.updateBot)
		r.Delete("/", h.deleteBot)
		r.Post("/start", h.startBot)
		r.Post("/stop", h.stopBot)
		r.Get("/sessions", h.listSessions)
		r.Get("/stats", h.botStats)
		r.Get("/positions", h.positions)
	})
	r.Get("/sessions/{id}", h.getSession)
	r.Post("/sessions/{id}/rebuild", h.rebuildSession)
}

func (h *BotsHandler) listBots(w http.ResponseWriter, r *http.Request) {
	filter := ledger.ListBotsFilter{}

	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := ledger.BotStatus(strings.ToUpper(strings.TrimSpace(s)))
			if !status.Valid() {
				h.writeError(w, "invalid status: "+s, http.StatusBadRequest)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	var err error
	filter.Offset, err = queryInt(r, "skip", 0)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter.Limit, err = queryInt(r, "limit", 100)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	bots, err := h.store.ListBots(r.Context(), filter)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if bots == nil {
		bots = []ledger.Bot{}
	}
	h.writeJSON(w, http.StatusOK, bots)
}

func (h *BotsHandler) createBot(w http.ResponseWriter, r *http.Request) {
	var req BotRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	cfg := ledger.BotConfig{}
	if req.GlobalSettings != nil {
		cfg.GlobalSettings = *req.GlobalSettings
	}
	if req.Pipeline != nil {
		cfg.Pipeline = *req.Pipeline
	}

	err := strategy.Validate(cfg)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	bot, err := h.store.CreateBot(r.Context(), req.Name, cfg)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, bot)
}

func (h *BotsHandler) getBot(w http.ResponseWriter, r *http.Request) {
	bot, err := h.store.GetBot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bot)
}

func (h *BotsHandler) updateBot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req BotRequest
	if !h.decode(w, r, &req) {
		return
	}

	current, err := h.store.GetBot(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	var cfg *ledger.BotConfig
	if req.GlobalSettings != nil || req.Pipeline != nil {
		if current.Status != ledger.BotStopped {
			h.writeError(w, "bot must be STOPPED to change its configuration", http.StatusConflict)
			return
		}

		next := current.Config
		if req.GlobalSettings != nil {
			next.GlobalSettings = *req.GlobalSettings
		}
		if req.Pipeline != nil {
			next.Pipeline = *req.Pipeline
		}
		err = strategy.Validate(next)
		if err != nil {
			h.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg = &next
	}

	bot, err := h.store.UpdateBot(r.Context(), id, req.Name, cfg)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bot)
}

func (h *BotsHandler) deleteBot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	bot, err := h.store.GetBot(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if bot.Status != ledger.BotStopped {
		h.writeError(w, "bot must be STOPPED before deletion", http.StatusConflict)
		return
	}

	err = h.store.DeleteBot(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *BotsHandler) startBot(w http.ResponseWriter, r *http.Request) {
	bot, err := h.store.RequestStart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.logger.Info("bot-start-requested", zap.String("bot-id", bot.ID))
	h.writeJSON(w, http.StatusAccepted, bot)
}

func (h *BotsHandler) stopBot(w http.ResponseWriter, r *http.Request) {
	bot, err := h.store.RequestStop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.logger.Info("bot-stop-requested", zap.String("bot-id", bot.ID))
	h.writeJSON(w, http.StatusAccepted, bot)
}

func (h *BotsHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.botExists(w, r, id) {
		return
	}

	sessions, err := h.store.ListSessions(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if sessions == nil {
		sessions = []ledger.Session{}
	}
	h.writeJSON(w, http.StatusOK, sessions)
}

func (h *BotsHandler) botStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.botExists(w, r, id) {
		return
	}

	stats, err := h.store.BotStats(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *BotsHandler) positions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.botExists(w, r, id) {
		return
	}

	positions, err := h.store.NetPositions(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if positions == nil {
		positions = []ledger.Position{}
	}
	h.writeJSON(w, http.StatusOK, positions)
}

func (h *BotsHandler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	orders, err := h.store.SessionOrders(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if orders == nil {
		orders = []ledger.OrderWithExecutions{}
	}

	h.writeJSON(w, http.StatusOK, SessionDetail{Session: *session, Orders: orders})
}

func (h *BotsHandler) rebuildSession(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.RebuildSessionSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *BotsHandler) botExists(w http.ResponseWriter, r *http.Request, id string) bool {
	_, err := h.store.GetBot(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return false
	}
	return true
}

func (h *BotsHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))

	err := dec.Decode(v)
	if err != nil {
		h.writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *BotsHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		h.writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrInvalidTransition):
		h.writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrInvalidStatus):
		h.writeError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("api-store-error", zap.Error(err))
		h.writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *BotsHandler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (h *BotsHandler) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key + ": " + raw)
	}
	return n, nil
}
