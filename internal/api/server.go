// Package api serves the HTTP surface: login sessions, administration of
// robots and users, code compilation, the live client snapshot and the
// WebSocket endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"roboclass/internal/auth"
	"roboclass/internal/clock"
	"roboclass/internal/engine"
	"roboclass/internal/hub"
	"roboclass/internal/model"
	"roboclass/internal/store"
	"roboclass/pkg/interfaces"
)

// EngineFactory opens an engine and its session for one request.
type EngineFactory interface {
	Initialise() (*engine.Engine, *store.Session)
}

// TokenService issues and checks session tokens.
type TokenService interface {
	Issue(session *model.Session) (string, error)
	Parse(token string) (*auth.Claims, error)
	Forget(token string)
}

// Directory is the read side of the hub used by the snapshot endpoints.
type Directory interface {
	GetAllClients() []interfaces.Connection
	Stats() hub.Stats
}

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies wires the server. Database and WebSocket may be nil.
type Dependencies struct {
	Engines   EngineFactory
	Tokens    TokenService
	Hub       Directory
	Database  HealthChecker
	WebSocket http.HandlerFunc
	Clock     clock.Clock
	Logger    *slog.Logger
}

// ARCHITECTURAL DISCOVERY: The HTTP layer holds no business logic. Every
// state change is a command run through a fresh engine session.
type Server struct {
	engines   EngineFactory
	tokens    TokenService
	hub       Directory
	database  HealthChecker
	websocket http.HandlerFunc
	clock     clock.Clock
	logger    *slog.Logger
	router    chi.Router
}

func NewServer(deps Dependencies) *Server {
	s := &Server{
		engines:   deps.Engines,
		tokens:    deps.Tokens,
		hub:       deps.Hub,
		database:  deps.Database,
		websocket: deps.WebSocket,
		clock:     deps.Clock,
		logger:    deps.Logger.With("component", "api"),
		router:    chi.NewRouter(),
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(s.corsMiddleware)
	if s.websocket != nil {
		r.Get("/connections/{type}", s.websocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.jsonMiddleware)
		r.Get("/health", s.healthCheck)

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/session", s.startSession)
			r.Post("/robots/session", s.startRobotSession)

			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(model.RoleUser))
				r.Put("/session", s.renewSession)
				r.Delete("/session", s.finishSession)
				r.Post("/code/compile", s.compileCode)
				r.Post("/snapshots", s.storeSnapshot)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(model.RoleTeacher))
				r.Get("/clients", s.listClients)
				r.Post("/robots", s.addRobot)
				r.Put("/robots/{name}", s.updateRobot)
				r.Delete("/robots/{name}", s.deleteRobot)
				r.Post("/robottypes", s.addRobotType)
				r.Post("/users", s.addUser)
				r.Put("/users/{name}", s.updateUser)
				r.Delete("/users/{name}", s.deleteUser)
				r.Delete("/students/{name}", s.deleteStudent)
			})
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	Connections hub.Stats `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health returns 503 when the database cannot be reached.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if s.database != nil {
		if err := s.database.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   s.clock.Now(),
		Database:    dbStatus,
		Connections: s.hub.Stats(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
