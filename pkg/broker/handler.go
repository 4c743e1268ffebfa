package broker

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/onlitec/remotebroker/internal/logger"
	"github.com/onlitec/remotebroker/pkg/session"
)

// adminTimeout bounds the admin inspection endpoints; it does not apply
// to /ws, which is a long-lived connection by design.
const adminTimeout = 10 * time.Second

// wsHandler builds the chi router serving health checks, the admin
// inspection endpoints and the websocket upgrade endpoint technicians
// and clients connect to.
func (b *Broker) wsHandler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", b.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(adminTimeout))
		b.registerAdminRoutes(r)
	})

	// /ws is a long-lived connection, so it sits outside the admin
	// group's Timeout middleware; it still gets RequestID/RealIP/
	// Recoverer from the router-level stack above.
	r.Get("/ws", b.handleWebsocket)

	return r
}

func (b *Broker) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleWebsocket upgrades the connection and hands it to the router.
// Callers identify themselves with ?session_id=...&role=technician|client.
func (b *Broker) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	roleParam := r.URL.Query().Get("role")
	if sessionID == "" || roleParam == "" {
		http.Error(w, "session_id and role are required", http.StatusBadRequest)
		return
	}

	role := session.Role(roleParam)
	if role != session.RoleTechnician && role != session.RoleClient {
		http.Error(w, "role must be technician or client", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     b.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err, "session_id", sessionID)
		return
	}

	if err := b.router.HandleConnection(conn, sessionID, role); err != nil {
		logger.Warn("connection closed with error", "error", err, "session_id", sessionID, "role", role)
	}
}

// checkOrigin allows every origin when no allow-list is configured
// (the common localhost/same-host deployment), otherwise requires an
// exact match against server.cors_origins.
func (b *Broker) checkOrigin(r *http.Request) bool {
	allowed := b.cfg.Server.CORSOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range allowed {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// requestLogger logs each request's method, path, status and duration
// through the internal logger, the same shape the teacher wraps around
// its own chi stack.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
