// Package web is the thin presentation shell: an html page, a JSON view and a
// websocket that pushes the view after every applied poll tick.
package web

import (
	"bufio"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"oems-dashboard/action"
	"oems-dashboard/infrastructure/logger"
	"oems-dashboard/order"
	"oems-dashboard/session"
)

// CookieName 浏览器会话 cookie。
const CookieName = "oems_sid"

//go:embed templates/*.html
var templateFS embed.FS

// Dashboard 视图与操作，由 session.Hub 实现。
type Dashboard interface {
	Open(ctx context.Context, sid string) (session.View, error)
	Subscribe(ctx context.Context, sid string) (<-chan struct{}, func(), error)
	Select(ctx context.Context, sid, clOrdID string) (session.View, error)
	Dismiss(ctx context.Context, sid string) (session.View, error)
	SetFilter(ctx context.Context, sid, filter string) (session.View, error)
	Submit(ctx context.Context, sid string, in action.NewOrderInput) (session.View, error)
	Amend(ctx context.Context, sid string, in action.AmendInput) (session.View, error)
	Cancel(ctx context.Context, sid string) (session.View, error)
	ClearExecutions(ctx context.Context, sid string) (session.View, error)
	Stats(ctx context.Context) (views, subscribers int, err error)
}

// Config 监听配置。
type Config struct {
	Addr         string
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Server serves the dashboard over HTTP.
type Server struct {
	cfg     Config
	hub     Dashboard
	logger  *logger.Logger
	health  func() error
	tmpl    *template.Template
	upgrade websocket.Upgrader
	handler http.Handler

	httpServer *http.Server
	listener   net.Listener
}

// NewServer health 可为 nil。
func NewServer(cfg Config, hub Dashboard, l *logger.Logger, health func() error) (*Server, error) {
	if hub == nil {
		return nil, errors.New("web: dashboard required")
	}
	if l == nil {
		l = logger.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	s := &Server{
		cfg:    cfg,
		hub:    hub,
		logger: l,
		health: health,
		tmpl:   tmpl,
		upgrade: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /view", s.handleView)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /orders", s.handleSubmit)
	mux.HandleFunc("POST /orders/{clOrdId}/select", s.handleSelect)
	mux.HandleFunc("POST /selection/dismiss", s.handleDismiss)
	mux.HandleFunc("POST /selection/amend", s.handleAmend)
	mux.HandleFunc("POST /selection/cancel", s.handleCancel)
	mux.HandleFunc("POST /filter", s.handleFilter)
	mux.HandleFunc("POST /executions/clear", s.handleClear)

	s.handler = s.loggingMiddleware(s.requestIDMiddleware(s.recoveryMiddleware(mux)))
}

// Handler 供 httptest 使用。
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start 绑定端口并在后台服务。
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("web server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop 优雅关闭。
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr 实际监听地址（":0" 时有用）。
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	v, err := s.hub.Open(r.Context(), sidOf(r))
	if err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	setSID(w, r, v.SID)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "dashboard.html", v); err != nil {
		s.logger.Error("render dashboard failed", zap.Error(err))
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	v, err := s.hub.Open(r.Context(), sidOf(r))
	s.respondView(w, r, v, err, true)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	form, err := formValues(w, r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	in := action.NewOrderInput{
		Symbol:    form.Get("symbol"),
		Side:      order.Side(strings.ToUpper(form.Get("side"))),
		OrderType: order.OrderType(strings.ToUpper(form.Get("orderType"))),
		Quantity:  action.ParseQuantity(form.Get("quantity")),
		Price:     action.ParsePrice(form.Get("price")),
	}
	v, err := s.hub.Submit(r.Context(), sidOf(r), in)
	s.respondView(w, r, v, err, false)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	v, err := s.hub.Select(r.Context(), sidOf(r), r.PathValue("clOrdId"))
	s.respondView(w, r, v, err, false)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	v, err := s.hub.Dismiss(r.Context(), sidOf(r))
	s.respondView(w, r, v, err, false)
}

func (s *Server) handleAmend(w http.ResponseWriter, r *http.Request) {
	form, err := formValues(w, r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	in := action.AmendInput{
		NewQuantity: action.ParseQuantity(form.Get("newQuantity")),
		NewPrice:    action.ParsePrice(form.Get("newPrice")),
	}
	v, err := s.hub.Amend(r.Context(), sidOf(r), in)
	s.respondView(w, r, v, err, false)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	v, err := s.hub.Cancel(r.Context(), sidOf(r))
	s.respondView(w, r, v, err, false)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	form, err := formValues(w, r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.hub.SetFilter(r.Context(), sidOf(r), form.Get("value"))
	s.respondView(w, r, v, err, false)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	v, err := s.hub.ClearExecutions(r.Context(), sidOf(r))
	s.respondView(w, r, v, err, false)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type resp struct {
		Status      string `json:"status"`
		Error       string `json:"error,omitempty"`
		Views       int    `json:"views"`
		Subscribers int    `json:"subscribers"`
		Timestamp   int64  `json:"timestamp"`
	}
	out := resp{Status: "ok", Timestamp: time.Now().Unix()}
	code := http.StatusOK
	if s.health != nil {
		if err := s.health(); err != nil {
			out.Status, out.Error, code = "unhealthy", err.Error(), http.StatusServiceUnavailable
		}
	}
	views, subs, err := s.hub.Stats(r.Context())
	if err != nil {
		out.Status, out.Error, code = "unhealthy", err.Error(), http.StatusServiceUnavailable
	}
	out.Views, out.Subscribers = views, subs
	s.respondJSON(w, code, out)
}

// handleWS 每次数据或本视图变化时推送完整视图。
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	v, err := s.hub.Open(ctx, sidOf(r))
	if err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	signal, unsubscribe, err := s.hub.Subscribe(ctx, v.SID)
	if err != nil {
		return
	}
	defer unsubscribe()

	// 读循环只用于感知客户端断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()
	if err := s.writeView(conn, v); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-signal:
			next, err := s.hub.Open(ctx, v.SID)
			if err != nil {
				return
			}
			if err := s.writeView(conn, next); err != nil {
				s.logger.Debug("websocket write failed", zap.String("sid", v.SID), zap.Error(err))
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeView(conn *websocket.Conn, v session.View) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteJSON(v)
}

// respondView JSON 客户端得到视图；表单提交重定向回首页。
func (s *Server) respondView(w http.ResponseWriter, r *http.Request, v session.View, err error, alwaysJSON bool) {
	if err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	setSID(w, r, v.SID)
	if alwaysJSON || wantsJSON(r) {
		s.respondJSON(w, http.StatusOK, v)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, struct {
		Error     string `json:"error"`
		Status    int    `json:"status"`
		Timestamp int64  `json:"timestamp"`
	}{message, statusCode, time.Now().Unix()})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", zap.Any("error", err), zap.String("path", r.URL.Path))
				s.respondError(w, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack websocket 升级需要。
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func sidOf(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

func setSID(w http.ResponseWriter, r *http.Request, sid string) {
	if sid == "" || sidOf(r) == sid {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// formValues 同时支持表单和 JSON 请求体。
func formValues(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var m map[string]any
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		vals := url.Values{}
		for k, v := range m {
			if v == nil {
				continue
			}
			if f, ok := v.(float64); ok {
				vals.Set(k, strconv.FormatFloat(f, 'f', -1, 64))
				continue
			}
			vals.Set(k, fmt.Sprint(v))
		}
		return vals, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return r.PostForm, nil
}
