package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"classchat/internal/auth"
	"classchat/internal/logging"
	"classchat/internal/registry"
	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// Chat is the gated read side of the session manager.
type Chat interface {
	Occupants(ctx context.Context, identity types.Identity, classID string) ([]types.Identity, error)
	History(ctx context.Context, identity types.Identity, classID string, limit int, beforeID int64) ([]*types.Message, error)
}

// HealthChecker probes the message backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsSource reports live connection statistics.
type StatsSource interface {
	Stats() registry.Stats
}

// Dependencies are the collaborators the HTTP surface reads from.
// Metrics and WebSocket are optional.
type Dependencies struct {
	Chat           Chat
	Resolver       interfaces.IdentityResolver
	Health         HealthChecker
	Stats          StatsSource
	Metrics        http.Handler
	WebSocket      http.Handler
	AllowedOrigins []string
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps   Dependencies
	router chi.Router
	log    zerolog.Logger
}

// NewServer builds the router.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		deps:   deps,
		router: chi.NewRouter(),
		log:    logging.L().With().Str(logging.FieldComponent, "api").Logger(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// TECHNICAL DISCOVERY: CORS sits on the root mux so preflights are answered
// before method routing rejects OPTIONS
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(logging.HTTPMiddleware(s.log))
	r.Use(s.corsMiddleware())

	if s.deps.WebSocket != nil {
		r.Handle("/ws", s.deps.WebSocket)
	}
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(jsonMiddleware)

		r.Get("/health", s.healthCheck)

		r.Route("/api/classes/{classID}", func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/messages", s.listMessages)
			r.Get("/occupants", s.listOccupants)
		})
	})
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type MessagesResponse struct {
	ClassID  string           `json:"class_id"`
	Messages []*types.Message `json:"messages"`
	// NextBefore restarts the walk towards older messages; absent on an empty page
	NextBefore *int64 `json:"next_before,omitempty"`
}

type OccupantsResponse struct {
	ClassID   string           `json:"class_id"`
	Occupants []types.Identity `json:"occupants"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections registry.Stats `json:"connections"`
}

type ErrorResponse struct {
	Error   string          `json:"error"`
	Code    int             `json:"code"`
	Kind    types.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /api/classes/{classID}/messages - one history page, oldest first
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "classID")

	limit, err := queryInt(r, "limit")
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	before, err := queryInt(r, "before")
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	msgs, err := s.deps.Chat.History(r.Context(), identityFrom(r.Context()), classID, int(limit), before)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	resp := MessagesResponse{ClassID: classID, Messages: msgs}
	if len(msgs) > 0 {
		oldest := msgs[0].ID
		resp.NextBefore = &oldest
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// FUNCTIONAL DISCOVERY: GET /api/classes/{classID}/occupants - deduplicated by user
func (s *Server) listOccupants(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "classID")

	occupants, err := s.deps.Chat.Occupants(r.Context(), identityFrom(r.Context()), classID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if occupants == nil {
		occupants = []types.Identity{}
	}
	s.writeJSON(w, http.StatusOK, OccupantsResponse{ClassID: classID, Occupants: occupants})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
	}

	if err := s.deps.Health.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "unavailable"
		logger := logging.Ctx(r.Context())
		logger.Warn().Err(err).Msg("Health check failed")
	}
	if s.deps.Stats != nil {
		resp.Connections = s.deps.Stats.Stats()
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

// authenticate resolves the bearer token once per request and stores the
// identity for the handlers.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			s.sendError(w, r, types.NewError(types.Unauthorized, "missing bearer token"))
			return
		}
		identity, err := s.deps.Resolver.Resolve(r.Context(), token)
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind types.ErrorKind) int {
	switch kind {
	case types.Unauthorized:
		return http.StatusUnauthorized
	case types.Forbidden:
		return http.StatusForbidden
	case types.NotFound:
		return http.StatusNotFound
	case types.Validation:
		return http.StatusBadRequest
	case types.Conflict:
		return http.StatusConflict
	case types.Transient:
		return http.StatusServiceUnavailable
	case types.RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	kind := types.KindOf(err)
	code := StatusFor(kind)

	logger := logging.Ctx(r.Context())
	if kind == types.Internal {
		logger.Error().Err(err).Msg("Request failed")
	} else {
		logger.Debug().Err(err).Str(logging.FieldErrorKind, string(kind)).Msg("Request rejected")
	}

	if kind == types.Transient {
		w.Header().Set("Retry-After", "1")
	}
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Kind:    kind,
		Message: types.PublicMessage(err),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("Response write failed")
	}
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development; production lists the LMS origins
func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	origins := s.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, types.NewError(types.Validation, name+" must be a non-negative integer")
	}
	return n, nil
}

type identityKey struct{}

func withIdentity(ctx context.Context, identity types.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func identityFrom(ctx context.Context) types.Identity {
	identity, _ := ctx.Value(identityKey{}).(types.Identity)
	return identity
}
