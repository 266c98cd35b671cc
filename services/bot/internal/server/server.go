package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"voicebridge/internal/ratelimit"
	"voicebridge/internal/util"
	"voicebridge/pkg/domain"
	"voicebridge/pkg/line"
	"voicebridge/services/bot/internal/app"
)

const maxWebhookBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	ChannelSecret  string
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes the platform webhook and the note-client API.
type Server struct {
	app            *app.App
	channelSecret  string
	limiter        *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if strings.TrimSpace(cfg.ChannelSecret) == "" {
		return nil, errors.New("channel secret required")
	}
	s := &Server{
		app:            cfg.App,
		channelSecret:  cfg.ChannelSecret,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("bot", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/webhook", s.handleWebhook)
	s.mux.Handle("/api/register", s.rateLimited(s.handleRegister))
	s.mux.Handle("/api/keys", s.rateLimited(s.handleKeys))
	s.mux.Handle("/api/inbox", s.rateLimited(s.handleInbox))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook acknowledges a batch once it is handed to background processing.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	signature := strings.TrimSpace(r.Header.Get(line.SignatureHeader))
	if signature == "" {
		writeError(w, http.StatusUnauthorized, "missing signature")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	if len(body) > maxWebhookBodyBytes {
		util.LoggerFromContext(r.Context()).Warn("webhook_body_too_large", "limit_bytes", maxWebhookBodyBytes)
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if !line.ValidateSignature(body, s.channelSecret, signature) {
		util.LoggerFromContext(r.Context()).Warn("webhook_signature_invalid", "client_ip", util.ClientIP(r, s.trustedProxies))
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}
	payload, err := line.ParseWebhookBody(body)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("webhook_parse_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "invalid webhook body")
		return
	}
	s.app.Dispatch(r.Context(), payload.Events)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			ip := util.ClientIP(r, s.trustedProxies)
			allowed, retryAfter := s.limiter.Allow("api:" + ip)
			if !allowed {
				secs := int(math.Ceil(retryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				slog.Warn("api_rate_limited", "client_ip", ip, "path", r.URL.Path, "request_id", util.RequestIDFromRequest(r))
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
		}
		next(w, r)
	})
}

type registerRequest struct {
	LineUserID string `json:"lineUserId"`
	VaultID    string `json:"vaultId"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.RegisterVault(req.LineUserID, req.VaultID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type keysRequest struct {
	VaultID      string `json:"vaultId"`
	PublicKeyPEM string `json:"publicKeyPem"`
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req keysRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.RegisterPublicKey(req.VaultID, req.PublicKeyPEM); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.PullInbox(r.URL.Query().Get("vaultId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.InboxItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": items})
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrUnknownVault):
		writeError(w, http.StatusUnauthorized, "unknown vault")
	default:
		util.LoggerFromContext(r.Context()).Error("api_request_failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
