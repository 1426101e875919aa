// Package httpapi is the request/response adapter. Every mutating route submits the same
// coordinator operation the websocket transport uses.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/auth"
	"github.com/park285/chess-arena/internal/board"
	"github.com/park285/chess-arena/internal/broadcast"
	"github.com/park285/chess-arena/internal/coordinator"
	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// Sessions is the part of the coordinator the HTTP routes drive.
type Sessions interface {
	Create(ctx context.Context, caller coordinator.Caller, req game.CreateRequest) (*domain.GameSession, error)
	Join(ctx context.Context, caller coordinator.Caller, sessionID string, as coordinator.JoinAs) (coordinator.JoinResult, error)
	SubmitMove(ctx context.Context, caller coordinator.Caller, sessionID string, req rules.MoveRequest) (coordinator.MoveResult, error)
	Resign(ctx context.Context, caller coordinator.Caller, sessionID string) (*domain.GameSession, error)
	OfferDraw(ctx context.Context, caller coordinator.Caller, sessionID string) (*domain.GameSession, error)
	RespondDraw(ctx context.Context, caller coordinator.Caller, sessionID string, accept bool) (*domain.GameSession, error)
	OfferTakeback(ctx context.Context, caller coordinator.Caller, sessionID string) (*domain.GameSession, error)
	RespondTakeback(ctx context.Context, caller coordinator.Caller, sessionID string, accept bool) (*domain.GameSession, error)
	SendChat(ctx context.Context, caller coordinator.Caller, sessionID, text string) (domain.ChatMessage, error)
	Snapshot(ctx context.Context, sessionID string) (*domain.GameSession, error)
	ActiveActors() int
}

type Options struct {
	// WS serves GET /ws when set.
	WS       http.Handler
	Renderer *board.Renderer
	Logger   *zap.Logger
	Now      func() time.Time
	// RequestTimeout bounds /api routes.
	RequestTimeout time.Duration
}

type Handler struct {
	sessions Sessions
	verifier *auth.Verifier
	catalog  *msgcat.Catalog
	validate *validator.Validate
	opts     Options
	logger   *zap.Logger
}

func New(sessions Sessions, verifier *auth.Verifier, catalog *msgcat.Catalog, opts Options) *Handler {
	if opts.Renderer == nil {
		opts.Renderer = board.NewRenderer(board.DefaultSquareSize)
	}
	if opts.Logger == nil {
		opts.Logger = obslog.L()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	return &Handler{
		sessions: sessions,
		verifier: verifier,
		catalog:  catalog,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
		logger:   opts.Logger,
	}
}

// Router mounts every route.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())
	if h.opts.WS != nil {
		r.Handle("/ws", h.opts.WS)
	}

	r.Route("/api/sessions", func(r chi.Router) {
		r.Use(middleware.Timeout(h.opts.RequestTimeout))
		r.Use(h.authenticate)
		r.Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Get("/board.png", h.boardPNG)
			r.Post("/join", h.join)
			r.Post("/moves", h.move)
			r.Post("/resign", h.resign)
			r.Post("/draw", h.offerDraw)
			r.Post("/draw/respond", h.respondDraw)
			r.Post("/takeback", h.offerTakeback)
			r.Post("/takeback/respond", h.respondTakeback)
			r.Post("/chat", h.chat)
		})
	})
	return r
}

type ctxKey struct{}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.verifier.FromRequest(r)
		if err != nil {
			h.writeJSON(w, http.StatusUnauthorized, arenadto.ErrorBody{
				Code:    "unauthorized",
				Message: h.catalog.Code("unauthorized", msgcat.ErrorData{}),
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func callerFrom(r *http.Request) coordinator.Caller {
	id, _ := r.Context().Value(ctxKey{}).(auth.Identity)
	return coordinator.Caller{Identity: id.Subject, DisplayName: id.DisplayName}
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		h.logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"actors": h.sessions.ActiveActors(),
		"time":   h.opts.Now().UTC(),
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body arenadto.CreateSessionRequest
	if !h.decode(w, r, &body, true) {
		return
	}
	req, err := createRequest(body)
	if err != nil {
		h.fail(w, r, "", err)
		return
	}
	s, err := h.sessions.Create(r.Context(), callerFrom(r), req)
	if err != nil {
		h.fail(w, r, "", err)
		return
	}
	h.writeSession(w, http.StatusCreated, s, domain.RolePlayer)
}

// createRequest applies the request over the default settings. Explicit seconds win over the
// "minutes+increment" string.
func createRequest(body arenadto.CreateSessionRequest) (game.CreateRequest, error) {
	tc, err := game.ParseTimeControl(body.TimeControl)
	if err != nil {
		return game.CreateRequest{}, err
	}
	if body.InitialSeconds != nil {
		tc.InitialSeconds = *body.InitialSeconds
	}
	if body.IncrementSeconds != nil {
		tc.IncrementSeconds = *body.IncrementSeconds
	}
	settings := domain.DefaultSettings()
	setIf(&settings.Rated, body.Rated)
	setIf(&settings.AllowSpectators, body.AllowSpectators)
	setIf(&settings.AllowChat, body.AllowChat)
	setIf(&settings.AllowDrawOffers, body.AllowDrawOffers)
	setIf(&settings.AllowTakebacks, body.AllowTakebacks)

	req := game.CreateRequest{
		Color:       game.ParseColorChoice(body.Color),
		TimeControl: tc,
		Settings:    settings,
	}
	if body.GameType != "" {
		gt, ok := domain.ParseGameType(body.GameType)
		if !ok {
			return game.CreateRequest{}, domain.Invalid("bad_game_type", "unknown game type %q", body.GameType)
		}
		req.GameType = gt
	}
	return req, nil
}

func setIf(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.sessions.Snapshot(r.Context(), id)
	if err != nil {
		h.fail(w, r, id, err)
		return
	}
	h.writeSession(w, http.StatusOK, s, roleOf(s, callerFrom(r).Identity))
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body arenadto.JoinRequest
	if !h.decode(w, r, &body, false) {
		return
	}
	res, err := h.sessions.Join(r.Context(), callerFrom(r), id, coordinator.ParseJoinAs(body.As))
	if err != nil {
		h.fail(w, r, id, err)
		return
	}
	h.writeSession(w, http.StatusOK, res.Session, res.Role)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body arenadto.MoveRequest
	if !h.decode(w, r, &body, true) {
		return
	}
	res, err := h.sessions.SubmitMove(r.Context(), callerFrom(r), id, rules.MoveRequest{
		Origin:      body.Origin,
		Destination: body.Destination,
		Promotion:   body.Promotion,
	})
	if err != nil {
		h.fail(w, r, id, err)
		return
	}
	if res.Flagged {
		h.writeSession(w, http.StatusOK, res.Session, domain.RolePlayer)
		return
	}
	h.writeJSON(w, http.StatusOK, arenadto.MoveAppliedEvent{
		Move:       broadcast.MoveViewOf(res.Move),
		Session:    broadcast.ViewOf(res.Session, h.opts.Now()),
		IsTerminal: res.Terminal,
	})
}

type sessionOp func(ctx context.Context, caller coordinator.Caller, sessionID string) (*domain.GameSession, error)

func (h *Handler) simple(op sessionOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s, err := op(r.Context(), callerFrom(r), id)
		if err != nil {
			h.fail(w, r, id, err)
			return
		}
		h.writeSession(w, http.StatusOK, s, domain.RolePlayer)
	}
}

type respondOp func(ctx context.Context, caller coordinator.Caller, sessionID string, accept bool) (*domain.GameSession, error)

func (h *Handler) respond(op respondOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var body arenadto.RespondRequest
		if !h.decode(w, r, &body, true) {
			return
		}
		s, err := op(r.Context(), callerFrom(r), id, *body.Accept)
		if err != nil {
			h.fail(w, r, id, err)
			return
		}
		h.writeSession(w, http.StatusOK, s, domain.RolePlayer)
	}
}

func (h *Handler) resign(w http.ResponseWriter, r *http.Request) {
	h.simple(h.sessions.Resign)(w, r)
}

func (h *Handler) offerDraw(w http.ResponseWriter, r *http.Request) {
	h.simple(h.sessions.OfferDraw)(w, r)
}

func (h *Handler) offerTakeback(w http.ResponseWriter, r *http.Request) {
	h.simple(h.sessions.OfferTakeback)(w, r)
}

func (h *Handler) respondDraw(w http.ResponseWriter, r *http.Request) {
	h.respond(h.sessions.RespondDraw)(w, r)
}

func (h *Handler) respondTakeback(w http.ResponseWriter, r *http.Request) {
	h.respond(h.sessions.RespondTakeback)(w, r)
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body arenadto.ChatRequest
	if !h.decode(w, r, &body, true) {
		return
	}
	msg, err := h.sessions.SendChat(r.Context(), callerFrom(r), id, body.Text)
	if err != nil {
		h.fail(w, r, id, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, broadcast.ChatViewOf(msg))
}

// boardPNG draws the position from the caller's side, or from ?side=black|white.
func (h *Handler) boardPNG(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.sessions.Snapshot(r.Context(), id)
	if err != nil {
		h.fail(w, r, id, err)
		return
	}
	viewer, _ := s.ColorOf(callerFrom(r).Identity)
	switch strings.ToLower(r.URL.Query().Get("side")) {
	case "black", "b":
		viewer = domain.Black
	case "white", "w":
		viewer = domain.White
	}
	img, err := h.opts.Renderer.RenderSession(r.Context(), s, viewer)
	if err != nil {
		h.fail(w, r, id, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func roleOf(s *domain.GameSession, identity string) domain.Role {
	if _, ok := s.ColorOf(identity); ok {
		return domain.RolePlayer
	}
	return domain.RoleSpectator
}

// decode reads a JSON body. With required unset an empty body is accepted.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, required bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(dst)
	if errors.Is(err, io.EOF) && !required {
		err = nil
	}
	if err == nil {
		err = h.validate.Struct(dst)
	}
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, arenadto.ErrorBody{
			Code:    "bad_message",
			Message: h.catalog.Code("bad_message", msgcat.ErrorData{Message: describe(err)}),
		})
		return false
	}
	return true
}

func describe(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return strings.ToLower(ve[0].Field()) + " failed " + ve[0].Tag()
	}
	if errors.Is(err, io.EOF) {
		return "empty body"
	}
	return "invalid JSON"
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("http_op_failed",
			zap.String("path", r.URL.Path),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
	code, text := h.catalog.Error(err, sessionID)
	body := arenadto.ErrorBody{Code: code, Message: text}
	if de, ok := domain.AsError(err); ok {
		body.LegalMoves = de.LegalMoves
	}
	h.writeJSON(w, status, body)
}

// StatusFor maps a rejection kind onto an HTTP status.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindIllegalState, domain.KindNotYourTurn:
		return http.StatusConflict
	case domain.KindIllegalMove:
		return http.StatusUnprocessableEntity
	case domain.KindPermission, domain.KindFeatureDisabled:
		return http.StatusForbidden
	case domain.KindInvalid:
		return http.StatusBadRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, coordinator.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeSession(w http.ResponseWriter, status int, s *domain.GameSession, role domain.Role) {
	h.writeJSON(w, status, arenadto.SessionResponse{
		Session: broadcast.ViewOf(s, h.opts.Now()),
		Role:    string(role),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("http_write_failed", zap.Error(err))
	}
}
