// Package ws serves the real-time session protocol over websocket connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/auth"
	"github.com/park285/chess-arena/internal/broadcast"
	"github.com/park285/chess-arena/internal/coordinator"
	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/metrics"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/registry"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// Sessions is the part of the coordinator a connection drives.
type Sessions interface {
	Join(ctx context.Context, caller coordinator.Caller, sessionID string, as coordinator.JoinAs) (coordinator.JoinResult, error)
	SubmitMove(ctx context.Context, caller coordinator.Caller, sessionID string, req rules.MoveRequest) (coordinator.MoveResult, error)
	Resign(ctx context.Context, caller coordinator.Caller, sessionID string) (*domain.GameSession, error)
	OfferDraw(ctx context.Context, caller coordinator.Caller, sessionID string) (*domain.GameSession, error)
	RespondDraw(ctx context.Context, caller coordinator.Caller, sessionID string, accept bool) (*domain.GameSession, error)
	OfferTakeback(ctx context.Context, caller coordinator.Caller, sessionID string) (*domain.GameSession, error)
	RespondTakeback(ctx context.Context, caller coordinator.Caller, sessionID string, accept bool) (*domain.GameSession, error)
	SendChat(ctx context.Context, caller coordinator.Caller, sessionID, text string) (domain.ChatMessage, error)
	Leave(ctx context.Context, caller coordinator.Caller, sessionID string) error
	Disconnect(ctx context.Context, connID string, joined ...string) error
}

type Options struct {
	OutboxSize     int
	Rate           float64
	Burst          int
	PingInterval   time.Duration
	AllowedOrigins []string
	// ReadLimit caps one inbound frame in bytes.
	ReadLimit int64
	Logger    *zap.Logger
}

func (o *Options) defaults() {
	if o.OutboxSize <= 0 {
		o.OutboxSize = broadcast.DefaultOutboxSize
	}
	if o.Rate <= 0 {
		o.Rate = 10
	}
	if o.Burst <= 0 {
		o.Burst = 20
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 16 << 10
	}
	if o.Logger == nil {
		o.Logger = obslog.L()
	}
}

const (
	writeTimeout = 5 * time.Second
	pingTimeout  = 3 * time.Second
	// detachTimeout bounds the Disconnect op submitted after a connection drops.
	detachTimeout = 10 * time.Second
)

type Server struct {
	sessions Sessions
	hub      *broadcast.Hub
	reg      *registry.Registry
	verifier *auth.Verifier
	catalog  *msgcat.Catalog
	validate *validator.Validate
	opts     Options
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(sessions Sessions, hub *broadcast.Hub, reg *registry.Registry, verifier *auth.Verifier, catalog *msgcat.Catalog, opts Options) *Server {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:      ctx,
		cancel:   cancel,
		sessions: sessions,
		hub:      hub,
		reg:      reg,
		verifier: verifier,
		catalog:  catalog,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
		logger:   opts.Logger,
	}
}

// ServeHTTP authenticates the upgrade request and runs the connection until either side
// closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	id, err := s.verifier.FromRequest(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(arenadto.ErrorBody{
			Code:    "unauthorized",
			Message: s.catalog.Code("unauthorized", msgcat.ErrorData{}),
		})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.opts.AllowedOrigins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Debug("ws_accept_failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(s.opts.ReadLimit)

	s.wg.Add(1)
	defer s.wg.Done()

	c := &client{
		srv:     s,
		conn:    conn,
		out:     broadcast.NewOutbox(uuid.NewString(), s.opts.OutboxSize),
		caller:  coordinator.Caller{Identity: id.Subject, DisplayName: id.DisplayName},
		limiter: rate.NewLimiter(rate.Limit(s.opts.Rate), s.opts.Burst),
	}
	c.caller.ConnID = c.out.ID()
	c.serve(s.ctx)
}

// Close drops every live connection and waits for their handlers to finish.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

type client struct {
	srv     *Server
	conn    *websocket.Conn
	out     *broadcast.Outbox
	caller  coordinator.Caller
	limiter *rate.Limiter
	// joined holds session ids whose join was abandoned mid-flight. Owned by the read loop.
	joined []string
}

func (c *client) serve(parent context.Context) {
	s := c.srv
	logger := s.logger.With(zap.String("conn_id", c.out.ID()), zap.String("identity", c.caller.Identity))

	s.hub.Attach(c.out)
	metrics.ConnectionOpened()
	logger.Info("ws_connected")

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writeLoop(ctx, logger)
		cancel()
	}()

	reason := c.readLoop(ctx)
	cancel()
	<-done

	dctx, dcancel := context.WithTimeout(context.Background(), detachTimeout)
	if err := s.sessions.Disconnect(dctx, c.out.ID(), c.joined...); err != nil && !domain.IsKind(err, domain.KindNotFound) {
		logger.Warn("ws_disconnect_failed", zap.Error(err))
	}
	dcancel()
	s.hub.Detach(c.out.ID())
	c.out.Close(reason)
	metrics.ConnectionClosed()

	if r := c.out.Reason(); r == "slow consumer" {
		_ = c.conn.Close(websocket.StatusPolicyViolation, r)
	} else {
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	}
	logger.Info("ws_disconnected", zap.String("reason", c.out.Reason()))
}

// readLoop returns why it stopped.
func (c *client) readLoop(ctx context.Context) string {
	for {
		typ, b, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "closed"
			}
			if st := websocket.CloseStatus(err); st == websocket.StatusNormalClosure || st == websocket.StatusGoingAway {
				return "client closed"
			}
			return "read error"
		}
		if !c.limiter.Allow() {
			metrics.InboundRateLimited()
			c.sendError("rate_limited", msgcat.ErrorData{})
			continue
		}
		if typ != websocket.MessageText {
			c.sendError("bad_message", msgcat.ErrorData{Message: "text frames only"})
			continue
		}
		var msg arenadto.ClientMessage
		if err := json.Unmarshal(b, &msg); err != nil {
			c.sendError("bad_message", msgcat.ErrorData{Message: "invalid JSON"})
			continue
		}
		if err := c.srv.validate.Struct(msg); err != nil {
			c.sendError("bad_message", msgcat.ErrorData{Message: validationText(err)})
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *client) writeLoop(ctx context.Context, logger *zap.Logger) {
	t := time.NewTicker(c.srv.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.out.Done():
			return
		case ev := <-c.out.C():
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, ev)
			cancel()
			if err != nil {
				logger.Debug("ws_write_failed", zap.String("event", ev.Type), zap.Error(err))
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				failures++
				if failures >= 2 {
					logger.Info("ws_ping_failed", zap.Error(err))
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (c *client) handle(ctx context.Context, msg arenadto.ClientMessage) {
	sessionID := strings.TrimSpace(msg.SessionID)
	if sessionID == "" {
		sessionID, _ = c.srv.reg.SessionFor(c.out.ID())
	}
	ss := c.srv.sessions
	var err error
	switch msg.Type {
	case arenadto.MsgJoin:
		_, err = ss.Join(ctx, c.caller, sessionID, coordinator.ParseJoinAs(msg.As))
		// the join may still be queued; Disconnect has to follow it there
		if err != nil && ctx.Err() != nil && !slices.Contains(c.joined, sessionID) {
			c.joined = append(c.joined, sessionID)
		}
	case arenadto.MsgMove:
		_, err = ss.SubmitMove(ctx, c.caller, sessionID, rules.MoveRequest{
			Origin:      msg.Origin,
			Destination: msg.Destination,
			Promotion:   msg.Promotion,
		})
		if err != nil && isRejection(err) {
			c.rejectMove(sessionID, err)
			return
		}
	case arenadto.MsgChat:
		_, err = ss.SendChat(ctx, c.caller, sessionID, msg.Text)
	case arenadto.MsgResign:
		_, err = ss.Resign(ctx, c.caller, sessionID)
	case arenadto.MsgOfferDraw:
		_, err = ss.OfferDraw(ctx, c.caller, sessionID)
	case arenadto.MsgRespondDraw:
		if msg.Accept == nil {
			c.sendError("bad_message", msgcat.ErrorData{Message: "accept is required"})
			return
		}
		_, err = ss.RespondDraw(ctx, c.caller, sessionID, *msg.Accept)
	case arenadto.MsgOfferTakeback:
		_, err = ss.OfferTakeback(ctx, c.caller, sessionID)
	case arenadto.MsgRespondTakeback:
		if msg.Accept == nil {
			c.sendError("bad_message", msgcat.ErrorData{Message: "accept is required"})
			return
		}
		_, err = ss.RespondTakeback(ctx, c.caller, sessionID, *msg.Accept)
	case arenadto.MsgLeave:
		err = ss.Leave(ctx, c.caller, sessionID)
	}
	if err == nil {
		return
	}
	if !isRejection(err) {
		c.srv.logger.Warn("ws_op_failed",
			zap.String("conn_id", c.out.ID()),
			zap.String("session_id", sessionID),
			zap.String("type", msg.Type),
			zap.Error(err),
		)
	}
	code, text := c.srv.catalog.Error(err, sessionID)
	c.push(arenadto.EventError, arenadto.ErrorBody{Code: code, Message: text})
}

func (c *client) rejectMove(sessionID string, err error) {
	code, text := c.srv.catalog.Error(err, sessionID)
	ev := arenadto.MoveRejectedEvent{Reason: code, Message: text}
	if de, ok := domain.AsError(err); ok {
		ev.LegalMoves = de.LegalMoves
	}
	c.push(arenadto.EventMoveRejected, ev)
}

func (c *client) sendError(code string, data msgcat.ErrorData) {
	c.push(arenadto.EventError, arenadto.ErrorBody{Code: code, Message: c.srv.catalog.Code(code, data)})
}

// push goes through the hub so replies keep their order relative to broadcasts.
func (c *client) push(kind string, data any) {
	c.srv.hub.Send(c.out.ID(), broadcast.Event(kind, data))
}

func isRejection(err error) bool {
	_, ok := domain.AsError(err)
	return ok
}

func validationText(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err.Error()
	}
	fe := ve[0]
	return strings.ToLower(fe.Field()) + " failed " + fe.Tag()
}
