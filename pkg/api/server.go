// Package api serves the intent creation, read, listing, abort and provider
// notification endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/speedrun-hq/speedrun-router/pkg/logger"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/speedrun-hq/speedrun-router/pkg/orchestrator"
	"github.com/speedrun-hq/speedrun-router/pkg/store"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 30 * time.Second

	// SessionHeader carries the notification session id
	SessionHeader = "X-Session-Id"
	// ChannelHeader carries the notification channel
	ChannelHeader = "X-Channel"
)

// Error codes that are not reason codes
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeInvalidID      = "INVALID_INTENT_ID"
	codeNotFound       = "INTENT_NOT_FOUND"
	codeUnauthorized   = "UNAUTHORIZED"
	codeForbidden      = "FORBIDDEN"
	codeTerminal       = "INTENT_TERMINAL"
	codeInternal       = "INTERNAL_ERROR"
)

// Service is the orchestrator surface the API drives.
type Service interface {
	Submit(ctx context.Context, intent models.Intent) (*models.IntentRecord, error)
	Get(ctx context.Context, id string) (*models.IntentRecord, error)
	List(ctx context.Context, opts store.ListOptions) ([]*models.IntentRecord, error)
	Notify(ctx context.Context, n orchestrator.Notification) (*models.IntentRecord, error)
	Abort(ctx context.Context, id, reason string) (*models.IntentRecord, error)
}

var _ Service = (*orchestrator.Orchestrator)(nil)

// AuthConfig holds the shared secrets. Empty values disable the matching check.
type AuthConfig struct {
	NotifyToken     string
	NotifySessionID string
	NotifyChannel   string
	// OperatorToken guards the abort endpoint, which is disabled when empty
	OperatorToken string
}

// Server is the public HTTP API.
type Server struct {
	port   string
	svc    Service
	auth   AuthConfig
	logger logger.Logger
	router chi.Router
	http   *http.Server
}

// NewServer creates the API server and its routes.
func NewServer(port string, svc Service, auth AuthConfig, logger logger.Logger) *Server {
	s := &Server{port: port, svc: svc, auth: auth, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/intents", s.createIntent)
		r.Get("/intents", s.listIntents)
		r.Get("/intents/{id}", s.getIntent)
		r.With(s.operatorAuth).Post("/intents/{id}/abort", s.abortIntent)
		r.With(s.notifyTokenAuth).Post("/notifications", s.notify)
	})
	s.router = r
	s.http = &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting API server on port %s", s.port)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type errorBody struct {
	Error      string `json:"error"`
	ReasonCode string `json:"reasonCode"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, ReasonCode: code})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "could not read request body")
		return nil, false
	}
	return body, true
}

// bearerMatches compares the Authorization bearer token in constant time.
func bearerMatches(r *http.Request, want string) bool {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || scheme != "Bearer" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}

func (s *Server) notifyTokenAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth.NotifyToken != "" && !bearerMatches(r, s.auth.NotifyToken) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing or invalid notification token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) operatorAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth.OperatorToken == "" {
			writeError(w, http.StatusForbidden, codeForbidden, "operator actions are disabled")
			return
		}
		if !bearerMatches(r, s.auth.OperatorToken) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing or invalid operator token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createIntentRequest struct {
	SourceChain      string `json:"sourceChain"`
	DestinationChain string `json:"destinationChain"`
	TokenIn          string `json:"tokenIn"`
	TokenOut         string `json:"tokenOut"`
	AmountIn         string `json:"amountIn"`
	MinAmountOut     string `json:"minAmountOut"`
	Deadline         int64  `json:"deadline"`
	Signature        string `json:"signature"`
	Signer           string `json:"signer"`
}

type createIntentResponse struct {
	IntentID string        `json:"intentId"`
	Status   models.Status `json:"status"`
}

func (s *Server) createIntent(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := validateJSONSchema(intentLoader, body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	var req createIntentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed intent")
		return
	}

	rec, err := s.svc.Submit(r.Context(), models.Intent{
		ID:               uuid.NewString(),
		SourceChain:      req.SourceChain,
		DestinationChain: req.DestinationChain,
		TokenIn:          req.TokenIn,
		TokenOut:         req.TokenOut,
		AmountIn:         req.AmountIn,
		MinAmountOut:     req.MinAmountOut,
		Deadline:         req.Deadline,
		Signature:        req.Signature,
		Signer:           req.Signer,
	})
	if err != nil {
		s.logger.Error("Failed to submit intent: %v", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "intent could not be accepted")
		return
	}
	writeJSON(w, http.StatusAccepted, createIntentResponse{IntentID: rec.Intent.ID, Status: models.StatusCreated})
}

// intentID reads and validates the {id} path parameter.
func intentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidID, fmt.Sprintf("%q is not a valid intent id", id))
		return "", false
	}
	return id, true
}

func (s *Server) getIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := intentID(w, r)
	if !ok {
		return
	}
	rec, err := s.svc.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "intent not found")
	case err != nil:
		s.logger.Error("Failed to load intent %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, codeInternal, "intent could not be loaded")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

type listResponse struct {
	Intents []*models.IntentRecord `json:"intents"`
	Count   int                    `json:"count"`
}

func (s *Server) listIntents(w http.ResponseWriter, r *http.Request) {
	var opts store.ListOptions
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := models.Status(strings.ToUpper(strings.TrimSpace(part)))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			opts.Statuses = append(opts.Statuses, status)
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}

	records, err := s.svc.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list intents: %v", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "intents could not be listed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Intents: records, Count: len(records)})
}

type abortRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) abortIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := intentID(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req abortRequest
	if len(body) > 0 {
		if err := validateJSONSchema(abortLoader, body); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
			return
		}
		_ = json.Unmarshal(body, &req)
	}
	if req.Reason == "" {
		req.Reason = "no reason given"
	}

	rec, err := s.svc.Abort(r.Context(), id, req.Reason)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "intent not found")
	case errors.Is(err, orchestrator.ErrTerminal):
		writeError(w, http.StatusConflict, codeTerminal, fmt.Sprintf("intent is already %s", rec.Status))
	case err != nil:
		s.logger.Error("Failed to abort intent %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, codeInternal, "intent could not be aborted")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) notify(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := validateJSONSchema(notificationLoader, body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	var n orchestrator.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed notification")
		return
	}

	if !pinned(s.auth.NotifySessionID, r.Header.Get(SessionHeader), n.SessionID) {
		writeError(w, http.StatusForbidden, codeForbidden, "session id mismatch")
		return
	}
	if !pinned(s.auth.NotifyChannel, r.Header.Get(ChannelHeader), n.Channel) {
		writeError(w, http.StatusForbidden, codeForbidden, "channel mismatch")
		return
	}

	rec, err := s.svc.Notify(r.Context(), n)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "intent not found")
	case err != nil:
		s.logger.Error("Failed to apply notification %s for intent %s: %v", n.Name(), n.IntentID, err)
		writeError(w, http.StatusInternalServerError, codeInternal, "notification could not be applied")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

// pinned reports whether a configured value is presented by header or body.
func pinned(want, header, body string) bool {
	if want == "" {
		return true
	}
	got := header
	if got == "" {
		got = body
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
