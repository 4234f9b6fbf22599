// Package proxy is the HTTP gate in front of the chat backend. Every chat
// request passes the admission engine before it is forwarded.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/ppiankov/chatgate/internal/gate"
	"github.com/ppiankov/chatgate/internal/report"
)

const (
	// SessionHeader carries the client session token.
	SessionHeader = "X-Session-ID"
	// RequestIDHeader is set on every response.
	RequestIDHeader = "X-Request-ID"

	maxBodyBytes = 1 << 20
	retryAfter   = "5"
)

// Config holds proxy server configuration.
type Config struct {
	Listen             string
	ChatPath           string
	Upstream           string // full URL of the backend chat endpoint
	UpstreamTimeout    time.Duration
	TrustForwarded     bool
	PlaceholderAddress string
	Logger             *slog.Logger
}

// liveConfig is the reloadable part of the configuration.
type liveConfig struct {
	upstream       *url.URL
	timeout        time.Duration
	trustForwarded bool
	placeholder    string
}

// Server is the gating reverse proxy.
type Server struct {
	engine   *gate.Engine
	recorder *report.Recorder
	client   *http.Client
	logger   *slog.Logger
	chatPath string

	mu  sync.RWMutex
	rt  liveConfig
	srv *http.Server
}

// NewServer creates a proxy server that consults engine for every request
// and reports each decision to recorder (nil disables reporting).
func NewServer(cfg Config, engine *gate.Engine, recorder *report.Recorder) (*Server, error) {
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/api/chat"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		engine:   engine,
		recorder: recorder,
		client:   &http.Client{},
		logger:   cfg.Logger,
		chatPath: cfg.ChatPath,
	}
	if err := s.Reload(cfg); err != nil {
		return nil, err
	}

	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Reload swaps the upstream, timeout and address trust settings.
// The chat path requires a restart.
func (s *Server) Reload(cfg Config) error {
	u, err := url.Parse(cfg.Upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream %q", cfg.Upstream)
	}
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	placeholder := cfg.PlaceholderAddress
	if placeholder == "" {
		placeholder = "127.0.0.1"
	}

	rt := liveConfig{
		upstream:       u,
		timeout:        timeout,
		trustForwarded: cfg.TrustForwarded,
		placeholder:    placeholder,
	}

	s.mu.Lock()
	s.rt = rt
	s.mu.Unlock()
	return nil
}

func (s *Server) live() liveConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rt
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.chatPath, s.handleChat)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start begins listening. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv.Addr = ln.Addr().String()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	w.Header().Set(RequestIDHeader, reqID)
	rt := s.live()
	log := s.logger.With("request_id", reqID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("Request body too large"))
		return
	}
	var req chatRequest
	if err := sonic.ConfigStd.Unmarshal(body, &req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing message body"))
		return
	}

	token := r.Header.Get(SessionHeader)
	if token == "" {
		token = req.SessionID
	}
	addr := ClientAddress(r, rt.trustForwarded, rt.placeholder)

	verdict, err := s.engine.Decide(r.Context(), addr, token)
	if s.recorder != nil {
		s.recorder.Record(reqID, token, verdict, err)
	}
	if err != nil {
		log.Error("admission check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody("Security check unavailable"))
		return
	}

	if !verdict.Allowed {
		status := http.StatusForbidden
		logType := "error"
		if verdict.Reason == gate.ReasonCooldown {
			status = http.StatusTooManyRequests
			logType = "warning"
			w.Header().Set("Retry-After", retryAfter)
		}
		writeJSON(w, status, map[string]any{
			"success": false,
			"reason":  string(verdict.Reason),
			"error":   verdict.Message,
			"logs":    []map[string]string{{"type": logType, "message": verdict.Message}},
		})
		return
	}

	s.forward(r.Context(), w, rt, log, req.Message)
}

// forward sends the message to the backend and relays its JSON reply.
func (s *Server) forward(ctx context.Context, w http.ResponseWriter, rt liveConfig, log *slog.Logger, message string) {
	ctx, cancel := context.WithTimeout(ctx, rt.timeout)
	defer cancel()

	payload, err := sonic.Marshal(map[string]string{"message": message})
	if err != nil {
		writeUpstreamError(w, http.StatusInternalServerError, err.Error())
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rt.upstream.String(), bytes.NewReader(payload))
	if err != nil {
		writeUpstreamError(w, http.StatusInternalServerError, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		log.Error("backend request failed", "upstream", rt.upstream.Host, "error", err)
		writeUpstreamError(w, status, err.Error())
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("backend response read failed", "error", err)
		writeUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		log.Error("non-JSON response from backend", "status", resp.StatusCode, "body", truncate(string(data), 200))
		writeUpstreamError(w, http.StatusBadGateway, "Backend sent non-JSON response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, bans := s.engine.Bans().List(r.Context())
	_, sessions := s.engine.Sessions().Load(r.Context(), s.engine.Now())
	st := bans.Merge(sessions)
	if st.Degraded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": st.Err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ClientAddress derives the raw client address. With trustForwarded, the
// first X-Forwarded-For entry wins, then X-Real-IP, then placeholder.
// Otherwise the TCP peer is used.
func ClientAddress(r *http.Request, trustForwarded bool, placeholder string) string {
	if !trustForwarded {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil || host == "" {
			return placeholder
		}
		return host
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return placeholder
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func errorBody(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func writeUpstreamError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success":  false,
		"response": "Connection error between gateway and backend.",
		"logs":     []map[string]string{{"type": "error", "message": "✗ " + msg}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	sonic.ConfigDefault.NewEncoder(w).Encode(v)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
