package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"classchat/internal/auth"
	"classchat/internal/logging"
	"classchat/internal/metrics"
	"classchat/internal/session"
	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// Dispatcher runs the chat workflow for frames read off a connection.
type Dispatcher interface {
	Authenticate(ctx context.Context, conn interfaces.Connection, credential string) (types.Identity, error)
	Handle(ctx context.Context, conn interfaces.Connection, frame *types.Frame)
	SendError(ctx context.Context, conn interfaces.Connection, err error)
	Disconnect(ctx context.Context, conn interfaces.Connection)
}

// Handler upgrades HTTP requests and pumps frames into the dispatcher
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic;
// the handler only authenticates the transport and reads frames
type Handler struct {
	dispatcher Dispatcher
	config     Config
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	log        zerolog.Logger
	wg         sync.WaitGroup
}

// NewHandler creates a handler. m may be nil.
func NewHandler(dispatcher Dispatcher, config Config, m *metrics.Metrics) *Handler {
	h := &Handler{
		dispatcher: dispatcher,
		config:     config,
		metrics:    m,
		log:        logging.L().With().Str(logging.FieldComponent, "websocket").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin allows every origin when none are configured (development).
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request. The credential comes from the bearer
// header, the token query parameter or, failing both, the first frame.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	credential := auth.RequestCredential(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	conn := NewConnection(ws, h.config)
	h.metrics.ConnectionOpened()
	h.wg.Add(1)

	// TECHNICAL DISCOVERY: Separate goroutine for connection lifecycle management
	// lets the HTTP server reclaim the request goroutine immediately
	go h.serve(conn, credential)
}

// Wait blocks until every connection served by h has been released.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) serve(conn *Connection, credential string) {
	logger := h.log.With().Str(logging.FieldConnID, conn.ID()).Logger()
	ctx := logging.WithLogger(conn.ctx, logger)

	defer func() {
		h.dispatcher.Disconnect(context.Background(), conn)
		_ = conn.Close()
		h.metrics.ConnectionClosed()
		h.wg.Done()
	}()

	conn.conn.SetReadLimit(h.config.MaxMessageSize)

	if err := h.authenticate(ctx, conn, credential); err != nil {
		if types.KindOf(err) == types.Internal && errors.Is(err, net.ErrClosed) {
			return
		}
		h.reject(ctx, conn, err)
		return
	}

	h.extendDeadline(conn)
	conn.conn.SetPongHandler(func(string) error {
		h.extendDeadline(conn)
		return nil
	})

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug().Err(err).Msg("WebSocket read ended")
			}
			return
		}
		h.extendDeadline(conn)

		if messageType != websocket.TextMessage {
			continue
		}
		frame, err := types.ParseFrame(data)
		if err != nil {
			h.dispatcher.SendError(ctx, conn, err)
			continue
		}
		h.dispatcher.Handle(ctx, conn, frame)
	}
}

// authenticate completes the handshake within the auth grace period.
func (h *Handler) authenticate(ctx context.Context, conn *Connection, credential string) error {
	if credential == "" {
		if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.AuthTimeout)); err != nil {
			return types.WrapError(types.Internal, "connection unusable", err)
		}
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return types.WrapError(types.Unauthorized, "authentication timeout", ErrAuthTimeout)
			}
			return types.WrapError(types.Internal, "connection closed during handshake", errors.Join(net.ErrClosed, err))
		}
		frame, err := types.ParseFrame(data)
		if err != nil || frame.Type != types.OpAuthenticate {
			return types.WrapError(types.Unauthorized, "authenticate first", ErrExpectedAuth)
		}
		var payload types.AuthenticatePayload
		if err := frame.Decode(&payload); err != nil {
			return types.WrapError(types.Unauthorized, "missing token", ErrMissingCredential)
		}
		credential = payload.Token
		ctx = session.WithRequestID(ctx, frame.RequestID)
	}

	// Resolution and its retries share the grace period
	authCtx, cancel := context.WithTimeout(ctx, h.config.AuthTimeout)
	defer cancel()
	identity, err := h.dispatcher.Authenticate(authCtx, conn, credential)
	if err != nil {
		return err
	}
	logger := logging.Ctx(ctx)
	logger.Debug().Str(logging.FieldUserID, identity.ID).Msg("Handshake complete")
	return nil
}

// reject reports a failed handshake and closes the connection. Transient
// failures ask the client to retry; everything else is an auth failure.
func (h *Handler) reject(ctx context.Context, conn *Connection, err error) {
	h.dispatcher.SendError(ctx, conn, err)

	code, reason := CloseUnauthorized, "unauthorized"
	if types.KindOf(err) == types.Transient {
		code, reason = CloseTryAgain, "try again later"
	}
	logger := logging.Ctx(ctx)
	logger.Info().Err(err).Int("close_code", code).Msg("Handshake rejected")
	_ = conn.CloseWithCode(code, reason)
}

func (h *Handler) extendDeadline(conn *Connection) {
	_ = conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
}
