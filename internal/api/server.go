// Package api is the HTTP front door: it routes websocket upgrades to the room
// named in the path, serves the limiter query protocol and reports health.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"roomchat/internal/limiter"
	"roomchat/internal/room"
	"roomchat/internal/websocket"
	"roomchat/pkg/interfaces"
)

// maxPublicName is the longest room name reachable by name rather than by hidden id
const maxPublicName = 32

const healthTimeout = 2 * time.Second

var hiddenRoomID = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ARCHITECTURAL DISCOVERY: HTTP layer holds no chat state, it only resolves the
// room for a request and hands the upgraded connection to it
type Server struct {
	rooms      *room.Manager
	websocket  *websocket.Handler
	history    interfaces.HistoryLog
	limiters   *limiter.Namespace
	endpoint   *limiter.Namespace
	trustProxy bool
	router     *mux.Router
	log        *slog.Logger
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithLimiterNamespace reports the number of in-process limiter actors on /health.
func WithLimiterNamespace(ns *limiter.Namespace) ServerOption {
	return func(s *Server) { s.limiters = ns }
}

// WithLimiterEndpoint serves /api/limiter/{id} from ns so that other processes
// can use it as their http limiter backend. Without it the route does not exist.
func WithLimiterEndpoint(ns *limiter.Namespace) ServerOption {
	return func(s *Server) { s.endpoint = ns }
}

// WithTrustedProxyHeaders takes client identities from the proxy headers
// rather than the peer address.
func WithTrustedProxyHeaders() ServerOption {
	return func(s *Server) { s.trustProxy = true }
}

// NewServer wires the routes.
func NewServer(rooms *room.Manager, ws *websocket.Handler, history interfaces.HistoryLog, log *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		rooms:     rooms,
		websocket: ws,
		history:   history,
		router:    mux.NewRouter(),
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware, s.logMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/room", s.createRoom).Methods(http.MethodPost)
	api.HandleFunc("/room/{name}/websocket", s.roomWebSocket).Methods(http.MethodGet)
	if s.endpoint != nil {
		api.HandleFunc("/limiter/{id}", s.limiterCooldown).Methods(http.MethodGet, http.MethodPost)
	}

	s.router.Handle("/health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)

	s.router.NotFoundHandler = s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendText(w, "Not found", http.StatusNotFound)
	}))
	s.router.MethodNotAllowedHandler = s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendText(w, "Method not allowed", http.StatusMethodNotAllowed)
	}))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// NewHiddenRoomID returns 64 lowercase hex characters naming an unlisted room.
func NewHiddenRoomID() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// POST /api/room
func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(NewHiddenRoomID()))
}

// GET /api/room/{name}/websocket
func (s *Server) roomWebSocket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !hiddenRoomID.MatchString(name) && utf8.RuneCountInString(name) > maxPublicName {
		sendText(w, "Name too long", http.StatusNotFound)
		return
	}
	if !websocket.IsUpgrade(r) {
		sendText(w, "expected websocket", http.StatusUpgradeRequired)
		return
	}

	rm, err := s.rooms.Get(name)
	if err != nil {
		s.log.Warn("Room unavailable", "room", name, "error", err)
		sendText(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	s.websocket.Serve(w, r, rm, ClientIdentity(r, s.trustProxy))
}

// GET|POST /api/limiter/{id}
func (s *Server) limiterCooldown(w http.ResponseWriter, r *http.Request) {
	limiter.ServeCooldown(w, r, s.endpoint.Resolve(mux.Vars(r)["id"]))
}

// ClientIdentity is the address a client is rate limited by. Behind a trusted
// proxy that is CF-Connecting-IP, then the first X-Forwarded-For hop; otherwise,
// and when neither header is set, the peer address.
func ClientIdentity(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	History   string    `json:"history"`
	Rooms     int       `json:"rooms"`
	Sessions  int       `json:"sessions"`
	Limiters  int       `json:"limiters"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		History:   "healthy",
	}
	status := http.StatusOK

	if err := s.history.HealthCheck(ctx); err != nil {
		s.log.Warn("History health check failed", "error", err)
		response.Status = "unhealthy"
		response.History = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	stats, err := s.rooms.Stats(ctx)
	if err != nil {
		s.sendError(w, "Failed to collect room stats", http.StatusServiceUnavailable)
		return
	}
	response.Rooms = stats.Rooms
	response.Sessions = stats.Sessions
	if s.limiters != nil {
		response.Limiters = s.limiters.Len()
	}

	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Error("Failed to encode health response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	response := ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Error("Failed to encode error response", "error", err)
	}
}

// sendText answers the plain text routes that browsers and chat clients read directly
func sendText(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(message))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// logMiddleware leaves the ResponseWriter untouched so websocket upgrades can hijack it
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("Handled request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}
