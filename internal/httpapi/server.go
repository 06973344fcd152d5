package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/harshmpotenz/SideBar/internal/config"
	"github.com/harshmpotenz/SideBar/internal/identity"
	"github.com/harshmpotenz/SideBar/internal/observability"
	"github.com/harshmpotenz/SideBar/internal/panel"
	"github.com/harshmpotenz/SideBar/internal/policy"
	"github.com/harshmpotenz/SideBar/internal/relay"
	"github.com/harshmpotenz/SideBar/internal/taskid"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// PanelRunner drives one panel over a frame channel.
type PanelRunner interface {
	RunConnection(ctx context.Context, inbound <-chan []byte, outbound chan<- any) error
}

// Deps are the collaborators the server routes to. Relay may be nil when
// this process does not serve task data.
type Deps struct {
	Identity identity.Service
	Panels   PanelRunner
	Registry *panel.Registry
	Relay    *relay.Handler
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

type Server struct {
	cfg      config.Config
	identity identity.Service
	panels   PanelRunner
	registry *panel.Registry
	relay    *relay.Handler
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		identity: deps.Identity,
		panels:   deps.Panels,
		registry: deps.Registry,
		relay:    deps.Relay,
		metrics:  deps.Metrics,
		logger:   logger.With("component", "httpapi"),
		static:   newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg.AllowAnyOrigin, r)
			},
		},
	}
}

// originAllowed admits same-origin pages, browser extension frames and
// clients that send no Origin at all.
func originAllowed(allowAny bool, r *http.Request) bool {
	if allowAny {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "chrome-extension", "moz-extension":
		return true
	case "http", "https":
		return strings.EqualFold(u.Host, r.Host)
	default:
		return false
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/auth/callback", s.handleAuthCallback)
	r.Get("/v1/panel/ws", s.handlePanelWS)
	r.Get("/v1/panels", s.handleListPanels)
	r.Get("/v1/resolve", s.handleResolve)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handlePerfReset)

	if s.relay != nil {
		r.Group(func(r chi.Router) {
			r.Use(cors)
			r.Options("/callback", func(http.ResponseWriter, *http.Request) {})
			r.Options("/task/{taskId}", func(http.ResponseWriter, *http.Request) {})
			s.relay.Mount(r)
		})
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"active_panels": s.activePanels(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.identity == nil || s.panels == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "panel runtime not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"identity_mode":   s.cfg.IdentityMode,
		"task_fetch_mode": s.cfg.TaskFetchMode,
		"relay_enabled":   s.relay != nil,
		"chat_store_mode": chatStoreMode(s.cfg),
	})
}

func chatStoreMode(cfg config.Config) string {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return "in-memory"
	}
	return "postgres"
}

func (s *Server) activePanels() int {
	if s.registry == nil {
		return 0
	}
	return s.registry.ActiveCount()
}

// handleAuthCallback completes the OAuth redirect flow. The resulting
// session reaches every mounted panel through the identity service.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.identity == nil {
		respondError(w, http.StatusServiceUnavailable, "identity_unavailable", "identity service not configured")
		return
	}
	q := r.URL.Query()
	if desc := strings.TrimSpace(q.Get("error_description")); desc != "" {
		respondError(w, http.StatusBadRequest, "oauth_failed", desc)
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter code is required")
		return
	}
	sess, err := s.identity.ExchangeCodeForSession(r.Context(), code)
	if err != nil {
		var se *identity.ServiceError
		if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
			respondError(w, http.StatusUnauthorized, "oauth_failed", se.Error())
			return
		}
		s.logger.Warn("oauth code exchange failed", "error", err)
		respondError(w, http.StatusBadGateway, "oauth_failed", "Google login failed")
		return
	}
	if sess != nil && sess.User != nil {
		s.logger.Info("oauth sign-in completed", "email", policy.RedactEmail(sess.User.Email))
	}
	http.Redirect(w, r, "/ui/", http.StatusFound)
}

func (s *Server) handleListPanels(w http.ResponseWriter, _ *http.Request) {
	if s.registry == nil {
		respondJSON(w, http.StatusOK, map[string]any{"panels": []panel.Info{}})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"panels": s.registry.List()})
}

type resolveResponse struct {
	URL               string `json:"url"`
	TaskID            string `json:"task_id,omitempty"`
	DerivationMessage string `json:"derivation_message,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	id := taskid.Resolve(raw)
	respondJSON(w, http.StatusOK, resolveResponse{URL: raw, TaskID: id.TaskID, DerivationMessage: id.Message})
}

func (s *Server) handlePanelWS(w http.ResponseWriter, r *http.Request) {
	if s.panels == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "panel runtime not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.panelEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan []byte, 64)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.panels.RunConnection(ctx, inbound, outbound); err != nil {
			s.logger.Warn("panel connection ended with error", "error", err)
		}
		// An expired panel must also stop the read loop.
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.panelEvent("ws_write_error")
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- data:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.panelEvent("ws_disconnected")
}

func (s *Server) panelEvent(event string) {
	if s.metrics != nil {
		s.metrics.PanelEvents.WithLabelValues(event).Inc()
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
