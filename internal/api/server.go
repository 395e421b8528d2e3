package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"Feelan-Chain/internal/auth"
	"Feelan-Chain/internal/conversation"
	"Feelan-Chain/internal/dispatch"
	xerrors "Feelan-Chain/internal/errors"
	"Feelan-Chain/internal/observability/metrics"
	"Feelan-Chain/internal/ratelimit"
	"Feelan-Chain/pkg/logger"
)

// Rules 集中定义各端点的限流规则。
type Rules struct {
	SendMessage ratelimit.Rule
	Default     ratelimit.Rule
}

// Config 描述 API 服务的装配参数。
type Config struct {
	Address        string
	AllowedOrigins []string
	Rules          Rules
}

// Server 负责暴露 REST 接口，把入站回合交给调度器处理。
type Server struct {
	addr           string
	allowedOrigins []string
	rules          Rules

	auth       *auth.Service
	dispatcher *dispatch.Dispatcher
	store      conversation.Store
	limiter    ratelimit.Limiter
	log        *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(cfg Config, authService *auth.Service, dispatcher *dispatch.Dispatcher, store conversation.Store, limiter ratelimit.Limiter) *Server {
	return &Server{
		addr:           cfg.Address,
		allowedOrigins: cfg.AllowedOrigins,
		rules:          cfg.Rules,
		auth:           authService,
		dispatcher:     dispatcher,
		store:          store,
		limiter:        limiter,
		log:            logger.Named("api"),
	}
}

// routes 组装全部端点及其中间件链。
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/api/login", s.public("login", s.rules.Default, s.handleLogin))
	mux.Handle("/api/send-message", s.protected("send-message", s.rules.SendMessage, s.handleSendMessage))
	mux.Handle("/api/meta-update", s.protected("meta-update", s.rules.Default, s.handleMetaUpdate))
	mux.Handle("/api/retrieveAll", s.protected("retrieveAll", s.rules.Default, s.handleRetrieveAll))
	mux.Handle("/api/conv-summary", s.protected("conv-summary", s.rules.Default, s.handleConvSummary))
	return s.cors(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// public 组装未认证端点的中间件链：请求标识、指标与按 IP 限流。
func (s *Server) public(name string, rule ratelimit.Rule, handler http.HandlerFunc) http.Handler {
	var h http.Handler = handler
	h = s.rateLimit(rule, h)
	h = s.instrument(name, h)
	return requestID(h)
}

// protected 在 public 的基础上加入身份认证，限流按认证主体计数。
func (s *Server) protected(name string, rule ratelimit.Rule, handler http.HandlerFunc) http.Handler {
	var h http.Handler = handler
	h = s.rateLimit(rule, h)
	if s.auth != nil {
		h = s.auth.Middleware(auth.MiddlewareConfig{AuditEvent: name})(h)
	}
	h = s.instrument(name, h)
	return requestID(h)
}

// requestID 为每个请求注入 X-Request-Id，缺失时生成。
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// instrument 记录请求耗时与状态码。
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

// rateLimit 对请求执行固定窗口限流。已认证请求按钱包地址计数，
// 否则退回客户端 IP。
func (s *Server) rateLimit(rule ratelimit.Rule, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := clientKey(r)
		allowed, err := s.limiter.Allow(r.Context(), key, rule)
		if err != nil {
			s.log.Error("ratelimit_check_failed", "error", err.Error())
			// 限流器故障时放行，不让限流基础设施拖垮业务。
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"success": false,
				"message": "You have exceeded your rate limit. Please try again later.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors 按配置回应跨域请求。
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// clientKey 给出限流计数的键：认证主体优先，其次客户端 IP。
func clientKey(r *http.Request) string {
	if subject := auth.SubjectFromContext(r.Context()); subject != nil {
		return subject.Address
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder 捕获响应状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Feelan server is running!"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError 把内部错误映射为结构化失败响应，永远不透出堆栈。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeAuthFailure:
		status = http.StatusUnauthorized
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict:
		status = http.StatusConflict
	case xerrors.CodeRateLimited:
		status = http.StatusTooManyRequests
	case xerrors.CodeClassificationUnresolved:
		status = http.StatusBadGateway
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	message := err.Error()
	if typed, ok := xerrors.From(err); ok && typed.Message() != "" {
		message = typed.Message()
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": message,
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
