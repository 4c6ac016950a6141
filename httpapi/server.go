// Package httpapi exposes a mesh instance's introspection surface over
// HTTP: health, the registered-instance list (/routes), a metrics
// snapshot, and a websocket stream
// that tails the facade's log/message/metric event channels. The
// router and its middleware chain follow the teacher's runn_api
// package; the websocket hub is adapted from the same source.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	hctx "github.com/hydra-mesh/hydra/context"
	"github.com/hydra-mesh/hydra/hydra"
	"github.com/hydra-mesh/hydra/logger"
	"github.com/hydra-mesh/hydra/recover"
)

// Server serves one Facade's introspection endpoints.
type Server struct {
	facade    *hydra.Facade
	log       logger.ILogger
	sessions  hctx.IContext
	jwtSecret []byte
	upgrader  websocket.Upgrader
	router    *chi.Mux
}

// New builds a Server for facade. When jwtSecret is non-empty, every
// route except /health requires a valid Bearer token signed with it.
func New(facade *hydra.Facade, log logger.ILogger, jwtSecret []byte) *Server {
	s := &Server{
		facade:    facade,
		log:       log,
		sessions:  hctx.NewContext(),
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the assembled chi router, ready to pass to
// http.ListenAndServe or httptest.NewServer.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(s.recoverMiddleware)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if len(s.jwtSecret) > 0 {
			r.Use(s.jwtMiddleware)
		}
		r.Get("/routes", s.handleRoutes)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/stream", s.handleStream)
	})

	return r
}

// recoverMiddleware turns a panicking handler into a 500 instead of
// taking down the listener goroutine, in the spirit of recover.Safe.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panicked := true
		recover.Safe("httpapi.handler:"+r.URL.Path, func() {
			next.ServeHTTP(w, r)
			panicked = false
		})
		if panicked {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reports, err := s.facade.Discovery.GetServiceHealth(r.Context(), s.facade.ServiceName())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"serviceName": s.facade.ServiceName(),
		"instanceID":  s.facade.InstanceID(),
		"reports":     reports,
	})
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.facade.Discovery.GetServiceNodes(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

// handleMetrics drains whatever metric events are currently buffered
// on the facade's channel without blocking, giving callers a point-in-
// time view rather than requiring a websocket connection for a single
// poll.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var snapshot []string
	for {
		select {
		case m, ok := <-s.facade.Metrics():
			if !ok {
				writeJSON(w, http.StatusOK, map[string]any{"metrics": snapshot})
				return
			}
			snapshot = append(snapshot, m)
		default:
			writeJSON(w, http.StatusOK, map[string]any{"metrics": snapshot})
			return
		}
	}
}

// streamEvent is one JSON line written to a /stream client.
type streamEvent struct {
	Kind    string `json:"kind"`
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
	Metric  string `json:"metric,omitempty"`
	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
}

// handleStream upgrades to a websocket and fans every facade log,
// message, and metric event out to this one client until it
// disconnects or the session is marked Done (server shutdown).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("httpapi: websocket upgrade failed: " + err.Error())
		return
	}
	defer conn.Close()

	id := s.sessions.Add(&hctx.Conversation{Request: r.URL.Path})
	defer s.sessions.Delete(id)

	var writeMu sync.Mutex
	write := func(ev streamEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	done := s.sessions.DoneChan(id)
	for {
		select {
		case ev, ok := <-s.facade.Logs():
			if !ok {
				return
			}
			if err := write(streamEvent{Kind: "log", Level: ev.Level, Message: ev.Message}); err != nil {
				return
			}
		case msg, ok := <-s.facade.Messages():
			if !ok {
				return
			}
			if err := write(streamEvent{Kind: "message", To: msg.To, From: msg.Frm}); err != nil {
				return
			}
		case metric, ok := <-s.facade.Metrics():
			if !ok {
				return
			}
			if err := write(streamEvent{Kind: "metric", Metric: metric}); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// Shutdown marks every open stream session Done, unblocking each
// connection's select loop so it can close cleanly.
func (s *Server) Shutdown() {
	s.sessions.ShutdownAll()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type claims struct {
	jwt.RegisteredClaims
}

// jwtMiddleware requires a valid Bearer token signed with s.jwtSecret.
func (s *Server) jwtMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractBearerToken(r)
		if tokenStr == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		tok, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (any, error) {
			return s.jwtSecret, nil
		})
		if err != nil || !tok.Valid {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
