package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"repairflow/apperr"
	"repairflow/auth"
	"repairflow/contractor"
	"repairflow/hrdoc"
	"repairflow/logging"
	"repairflow/request"
	"repairflow/verification"
)

type contextKey string

const (
	ctxKeyUserID contextKey = "user_id"
	ctxKeyRole   contextKey = "role"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Provision(ctx context.Context, actor auth.Actor, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID int64) (*auth.User, error)
	VerifyToken(token string) (auth.Actor, error)
}

type requestService interface {
	Submit(ctx context.Context, actor auth.Actor, params request.SubmitParams) (request.Request, error)
	Get(ctx context.Context, actor auth.Actor, id int64) (request.Request, error)
	List(ctx context.Context, actor auth.Actor, filters request.Filters) (request.ListResult, error)
	History(ctx context.Context, actor auth.Actor, id int64) ([]request.HistoryEntry, error)
	AllowedEvents(ctx context.Context, actor auth.Actor, id int64) ([]request.Event, error)
	UpdateDetails(ctx context.Context, actor auth.Actor, id int64, params request.DetailsParams) (request.Request, error)
	Review(ctx context.Context, actor auth.Actor, id int64, params request.ReviewParams) (request.Request, error)
	Delete(ctx context.Context, actor auth.Actor, id int64) error
	Claim(ctx context.Context, actor auth.Actor, id int64) (request.Request, error)
	RequestClarification(ctx context.Context, actor auth.Actor, id int64, details string) (request.Request, error)
	Resume(ctx context.Context, actor auth.Actor, id int64) (request.Request, error)
	SendToContractors(ctx context.Context, actor auth.Actor, id int64) (request.Request, error)
	StartWork(ctx context.Context, actor auth.Actor, id int64) (request.Request, error)
	CompleteWork(ctx context.Context, actor auth.Actor, id int64, finalPrice float64) (request.Request, error)
	Cancel(ctx context.Context, actor auth.Actor, id int64, reason string) (request.Request, error)
	SubmitResponse(ctx context.Context, actor auth.Actor, params request.ResponseParams) (request.Response, error)
	AcceptResponse(ctx context.Context, actor auth.Actor, requestID, responseID int64) (request.Request, error)
	Responses(ctx context.Context, actor auth.Actor, requestID int64) ([]request.ResponseView, error)
}

type contractorService interface {
	SaveProfile(ctx context.Context, actor auth.Actor, p contractor.Profile) (contractor.Profile, error)
	Get(ctx context.Context, actor auth.Actor, userID int64) (contractor.Profile, error)
	ListEligible(ctx context.Context, actor auth.Actor, filters contractor.Filters) ([]contractor.Profile, error)
}

type verificationService interface {
	Open(ctx context.Context, actor auth.Actor, contractorID int64) (verification.Verification, error)
	SubmitSecurityDecision(ctx context.Context, actor auth.Actor, params verification.DecisionParams) (verification.Verification, error)
	SubmitManagerDecision(ctx context.Context, actor auth.Actor, params verification.DecisionParams) (verification.Verification, error)
	Get(ctx context.Context, actor auth.Actor, id int64) (verification.Verification, error)
	Latest(ctx context.Context, actor auth.Actor, contractorID int64) (verification.Verification, error)
	Queue(ctx context.Context, actor auth.Actor, stage verification.Stage, limit int) ([]verification.Verification, error)
}

type documentService interface {
	Create(ctx context.Context, actor auth.Actor, contractorID int64, docType hrdoc.Type) (hrdoc.Document, error)
	Generate(ctx context.Context, actor auth.Actor, id int64, body string) (hrdoc.Document, error)
	Complete(ctx context.Context, actor auth.Actor, id int64) (hrdoc.Document, error)
	Get(ctx context.Context, actor auth.Actor, id int64) (hrdoc.Document, error)
	List(ctx context.Context, actor auth.Actor, contractorID *int64) ([]hrdoc.Document, error)
	Content(ctx context.Context, actor auth.Actor, id int64) ([]byte, hrdoc.Document, error)
}

// Server exposes the workflow services over HTTP.
type Server struct {
	authService         authService
	requestService      requestService
	contractorService   contractorService
	verificationService verificationService
	documentService     documentService
	requestTimeout      time.Duration
	logger              *zap.Logger
}

func (s *Server) log() *zap.Logger {
	return logging.OrNop(s.logger)
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	if s.requestTimeout > 0 {
		r.Use(middleware.Timeout(s.requestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/auth/me", s.handleMe)
			r.Post("/users", s.handleProvision)

			r.Route("/requests", func(r chi.Router) {
				r.Get("/", s.handleListRequests)
				r.Post("/", s.handleSubmitRequest)
				r.Route("/{requestID}", func(r chi.Router) {
					r.Get("/", s.handleGetRequest)
					r.Patch("/", s.handleUpdateDetails)
					r.Delete("/", s.handleDeleteRequest)
					r.Put("/review", s.handleReview)
					r.Get("/history", s.handleHistory)
					r.Get("/events", s.handleAllowedEvents)
					r.Post("/claim", s.handleClaim)
					r.Post("/clarify", s.handleClarify)
					r.Post("/resume", s.handleResume)
					r.Post("/send", s.handleSend)
					r.Post("/start", s.handleStart)
					r.Post("/complete", s.handleComplete)
					r.Post("/cancel", s.handleCancel)
					r.Get("/responses", s.handleListResponses)
					r.Post("/responses", s.handleSubmitResponse)
					r.Post("/responses/{responseID}/accept", s.handleAcceptResponse)
				})
			})

			r.Route("/contractors", func(r chi.Router) {
				r.Get("/", s.handleListContractors)
				r.Put("/me/profile", s.handleSaveProfile)
				r.Get("/{contractorID}/profile", s.handleGetProfile)
				r.Get("/{contractorID}/verification", s.handleLatestVerification)
			})

			r.Route("/verifications", func(r chi.Router) {
				r.Get("/", s.handleVerificationQueue)
				r.Post("/", s.handleOpenVerification)
				r.Get("/{verificationID}", s.handleGetVerification)
				r.Post("/{verificationID}/security", s.handleSecurityDecision)
				r.Post("/{verificationID}/manager", s.handleManagerDecision)
			})

			r.Route("/documents", func(r chi.Router) {
				r.Get("/", s.handleListDocuments)
				r.Post("/", s.handleCreateDocument)
				r.Get("/types", s.handleDocumentTypes)
				r.Get("/{documentID}", s.handleGetDocument)
				r.Get("/{documentID}/content", s.handleDocumentContent)
				r.Post("/{documentID}/generate", s.handleGenerateDocument)
				r.Post("/{documentID}/complete", s.handleCompleteDocument)
			})
		})
	})

	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// authenticate resolves the bearer token into the actor stored on the context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		actor, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, actor.ID)
		ctx = context.WithValue(ctx, ctxKeyRole, actor.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) (auth.Actor, bool) {
	id, ok := r.Context().Value(ctxKeyUserID).(int64)
	if !ok || id <= 0 {
		return auth.Actor{}, false
	}
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return auth.Actor{ID: id, Role: role}, true
}

// withActor adapts a handler that needs the authenticated actor.
func withActor(w http.ResponseWriter, r *http.Request, fn func(auth.Actor)) {
	actor, ok := actorFrom(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	fn(actor)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func queryID(r *http.Request, key string) (*int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.New("invalid " + key)
	}
	return &id, nil
}

const maxBodyBytes = 1 << 20

// decodeJSON reads the body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps a workflow error onto its HTTP status. Errors outside the
// taxonomy are logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeMessage(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeMessage(w, status, "internal error")
		return
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  apperr.Kind(err).Error(),
	})
}
