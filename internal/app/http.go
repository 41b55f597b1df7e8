package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/auth"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/ratelimit"
)

const maxRequestBody = 1 << 20

var (
	errInvalidJSON  = errors.New("invalid JSON body")
	errBodyTooLarge = errors.New("request body too large")
)

type oauthClient interface {
	LoginURL() string
	Exchange(ctx context.Context, code string) ([]byte, error)
}

type rateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

type HTTPServer struct {
	service    *Service
	oauth      oauthClient
	corsOrigin string
	limiter    rateLimiter
	logger     *zap.Logger
}

type HTTPOption func(*HTTPServer)

// WithRateLimiter limits POST /approve and GET /callback per client IP.
func WithRateLimiter(limiter rateLimiter) HTTPOption {
	return func(s *HTTPServer) { s.limiter = limiter }
}

func WithAccessLogger(logger *zap.Logger) HTTPOption {
	return func(s *HTTPServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewHTTPServer(service *Service, oauth oauthClient, corsOrigin string, opts ...HTTPOption) *HTTPServer {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	s := &HTTPServer{
		service:    service,
		oauth:      oauth,
		corsOrigin: corsOrigin,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch r.URL.Path {
	case "/login":
		if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		http.Redirect(w, r, s.oauth.LoginURL(), http.StatusFound)

	case "/callback":
		if !allowMethods(w, r, http.MethodGet) || !s.allow(w, r) {
			return
		}
		s.handleCallback(w, r)

	case "/approve":
		if !allowMethods(w, r, http.MethodPost) || !s.allow(w, r) {
			return
		}
		s.handleApprove(w, r)

	case "/notes":
		if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		entries, err := s.service.ListApproved(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)

	default:
		writeText(w, http.StatusNotFound, "Not Found")
	}
}

func (s *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeText(w, http.StatusBadRequest, "Missing code")
		return
	}
	body, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Error("oauth code exchange failed",
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		writeText(w, http.StatusBadGateway, "Failed to exchange code")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeText(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	note, err := s.service.Approve(r.Context(), auth.BearerToken(r.Header.Get("Authorization")), body.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Note \"" + note.Title + "\" approved!",
	})
}

// allow applies the rate limiter, if any. Limiter failures let the request
// through.
func (s *HTTPServer) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	key := r.URL.Path + ":" + clientIP(r)
	res, err := s.limiter.Allow(r.Context(), key)
	if err != nil {
		s.logger.Warn("rate limiter unavailable",
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		return true
	}
	if res.Allowed {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
	writeText(w, http.StatusTooManyRequests, "Too Many Requests")
	return false
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeText(w, status, message)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		// The login redirect goes out bare.
		if !isLoginRedirect(r) {
			setCORSHeaders(writer.Header(), s.corsOrigin)
		}
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("X-Request-ID", reqID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", time.Since(started)),
		)
	})
}

func isLoginRedirect(r *http.Request) bool {
	return r.URL.Path == "/login" && (r.Method == http.MethodGet || r.Method == http.MethodHead)
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}

// decodeBody reads one JSON value into target. An empty body leaves target
// untouched.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	return nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func mapError(err error) (status int, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Message
	}
	return http.StatusInternalServerError, "Internal Server Error"
}
