package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"repairflow/auth"
	"repairflow/contractor"
	"repairflow/hrdoc"
	"repairflow/request"
	"repairflow/verification"
)

type stubAuthService struct {
	actors map[string]auth.Actor
	user   auth.User
	login  auth.LoginResult
	err    error
}

func (s *stubAuthService) Register(_ context.Context, req auth.RegisterRequest) (*auth.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u := s.user
	u.Email = req.Email
	return &u, nil
}

func (s *stubAuthService) Provision(_ context.Context, _ auth.Actor, _ auth.RegisterRequest) (*auth.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u := s.user
	return &u, nil
}

func (s *stubAuthService) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return s.login, s.err
}

func (s *stubAuthService) GetUserByID(_ context.Context, _ int64) (*auth.User, error) {
	u := s.user
	return &u, s.err
}

func (s *stubAuthService) VerifyToken(token string) (auth.Actor, error) {
	actor, ok := s.actors[token]
	if !ok {
		return auth.Actor{}, errors.New("bad token")
	}
	return actor, nil
}

// stubRequestService embeds the interface so tests only implement what they call.
type stubRequestService struct {
	requestService
	req      request.Request
	list     request.ListResult
	views    []request.ResponseView
	err      error
	lastID   int64
	lastNote string
	lastKey  string
}

func (s *stubRequestService) Submit(_ context.Context, actor auth.Actor, params request.SubmitParams) (request.Request, error) {
	s.lastKey = params.IdempotencyKey
	r := s.req
	r.CustomerID = actor.ID
	r.Title = params.Title
	return r, s.err
}

func (s *stubRequestService) Get(_ context.Context, _ auth.Actor, id int64) (request.Request, error) {
	s.lastID = id
	return s.req, s.err
}

func (s *stubRequestService) List(_ context.Context, _ auth.Actor, _ request.Filters) (request.ListResult, error) {
	return s.list, s.err
}

func (s *stubRequestService) Claim(_ context.Context, _ auth.Actor, id int64) (request.Request, error) {
	s.lastID = id
	return s.req, s.err
}

func (s *stubRequestService) Cancel(_ context.Context, _ auth.Actor, id int64, reason string) (request.Request, error) {
	s.lastID = id
	s.lastNote = reason
	return s.req, s.err
}

func (s *stubRequestService) AcceptResponse(_ context.Context, _ auth.Actor, requestID, responseID int64) (request.Request, error) {
	s.lastID = requestID*1000 + responseID
	return s.req, s.err
}

func (s *stubRequestService) Responses(_ context.Context, _ auth.Actor, _ int64) ([]request.ResponseView, error) {
	return s.views, s.err
}

type stubDocumentService struct {
	documentService
	doc     hrdoc.Document
	content []byte
	err     error
}

func (s *stubDocumentService) Content(_ context.Context, _ auth.Actor, _ int64) ([]byte, hrdoc.Document, error) {
	return s.content, s.doc, s.err
}

func (s *stubDocumentService) Complete(_ context.Context, _ auth.Actor, _ int64) (hrdoc.Document, error) {
	return s.doc, s.err
}

type stubVerificationService struct {
	verificationService
	v        verification.Verification
	err      error
	decision verification.DecisionParams
}

func (s *stubVerificationService) SubmitSecurityDecision(_ context.Context, _ auth.Actor, params verification.DecisionParams) (verification.Verification, error) {
	s.decision = params
	return s.v, s.err
}

type stubContractorService struct {
	contractorService
	profiles []contractor.Profile
	err      error
}

func (s *stubContractorService) ListEligible(_ context.Context, _ auth.Actor, _ contractor.Filters) ([]contractor.Profile, error) {
	return s.profiles, s.err
}

var testActors = map[string]auth.Actor{
	"customer-token":   {ID: 5, Role: auth.RoleCustomer},
	"manager-token":    {ID: 30, Role: auth.RoleManager},
	"security-token":   {ID: 20, Role: auth.RoleSecurity},
	"hr-token":         {ID: 60, Role: auth.RoleHR},
	"contractor-token": {ID: 40, Role: auth.RoleContractor},
}

func newTestServer() *Server {
	return &Server{authService: &stubAuthService{actors: testActors}}
}

func do(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestServer(), http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthenticateRejectsMissingAndBadTokens(t *testing.T) {
	s := newTestServer()
	s.requestService = &stubRequestService{}

	if rec := do(t, s, http.MethodGet, "/api/requests", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/requests", "forged", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestSubmitRequest_Created(t *testing.T) {
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	stub := &stubRequestService{req: request.Request{ID: 7, Status: request.StatusNew, CreatedAt: now, UpdatedAt: now}}
	s := newTestServer()
	s.requestService = stub

	req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader(`{"title":"Boiler","description":"Leaks","urgency":"high"}`))
	req.Header.Set("Authorization", "Bearer customer-token")
	req.Header.Set("Idempotency-Key", "form-1")
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp requestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 7 || resp.CustomerID != 5 || resp.Title != "Boiler" || resp.Status != "NEW" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("expected created_at %s, got %s", now.Format(time.RFC3339), resp.CreatedAt)
	}
	if stub.lastKey != "form-1" {
		t.Fatalf("expected idempotency key to be forwarded, got %q", stub.lastKey)
	}
}

func TestSubmitRequest_UnknownField(t *testing.T) {
	s := newTestServer()
	s.requestService = &stubRequestService{}

	rec := do(t, s, http.MethodPost, "/api/requests", "customer-token", `{"title":"x","status":"COMPLETED"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{request.ErrNotFound, http.StatusNotFound},
		{request.ErrNotOwner, http.StatusForbidden},
		{request.ErrAlreadyClaimed, http.StatusConflict},
		{request.ErrFinalPriceRequired, http.StatusUnprocessableEntity},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s := newTestServer()
		s.requestService = &stubRequestService{err: tc.err}
		rec := do(t, s, http.MethodPost, "/api/requests/3/claim", "manager-token", "")
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
		if tc.want == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "connection refused") {
			t.Fatalf("internal error detail leaked: %s", rec.Body.String())
		}
	}
}

func TestCancel_ForwardsReason(t *testing.T) {
	stub := &stubRequestService{req: request.Request{ID: 3, Status: request.StatusCancelled}}
	s := newTestServer()
	s.requestService = stub

	rec := do(t, s, http.MethodPost, "/api/requests/3/cancel", "customer-token", `{"reason":"moved out"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stub.lastID != 3 || stub.lastNote != "moved out" {
		t.Fatalf("unexpected call: id=%d reason=%q", stub.lastID, stub.lastNote)
	}
}

func TestAcceptResponse_PathParams(t *testing.T) {
	assigned := int64(40)
	stub := &stubRequestService{req: request.Request{ID: 3, Status: request.StatusAssigned, AssignedContractorID: &assigned}}
	s := newTestServer()
	s.requestService = stub

	rec := do(t, s, http.MethodPost, "/api/requests/3/responses/9/accept", "manager-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stub.lastID != 3009 {
		t.Fatalf("expected request 3 response 9, got %d", stub.lastID)
	}

	if rec := do(t, s, http.MethodPost, "/api/requests/3/responses/abc/accept", "manager-token", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad response id, got %d", rec.Code)
	}
}

func TestListResponses_IncludesState(t *testing.T) {
	stub := &stubRequestService{views: []request.ResponseView{
		{Response: request.Response{ID: 1, ContractorID: 40, ProposedPrice: 100, IsAccepted: true}, State: request.ResponseAccepted},
		{Response: request.Response{ID: 2, ContractorID: 41, ProposedPrice: 90}, State: request.ResponseSuperseded},
	}}
	s := newTestServer()
	s.requestService = stub

	rec := do(t, s, http.MethodGet, "/api/requests/3/responses", "manager-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []responseResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 2 || payload.Items[0].State != "accepted" || payload.Items[1].State != "superseded" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestSecurityDecision_Forwarded(t *testing.T) {
	stub := &stubVerificationService{v: verification.Verification{
		ID: 4, ContractorID: 40, Cycle: 1,
		SecurityStatus: verification.StatusRejected, ManagerStatus: verification.StatusPending,
	}}
	s := newTestServer()
	s.verificationService = stub

	rec := do(t, s, http.MethodPost, "/api/verifications/4/security", "security-token", `{"decision":"reject","notes":"expired licence"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stub.decision.VerificationID != 4 || stub.decision.Decision != verification.DecisionReject || stub.decision.Notes != "expired licence" {
		t.Fatalf("unexpected decision: %+v", stub.decision)
	}
	var resp verificationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OverallStatus != "rejected" {
		t.Fatalf("expected overall rejected, got %q", resp.OverallStatus)
	}
}

func TestVerificationQueue_BadStage(t *testing.T) {
	s := newTestServer()
	s.verificationService = &stubVerificationService{}

	rec := do(t, s, http.MethodGet, "/api/verifications?stage=hr", "manager-token", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDocumentContent_ServesPDF(t *testing.T) {
	sum := "abc123"
	s := newTestServer()
	s.documentService = &stubDocumentService{
		doc:     hrdoc.Document{ID: 2, Status: hrdoc.StatusGenerated, ContentSHA256: &sum},
		content: []byte("%PDF-1.3 test"),
	}

	rec := do(t, s, http.MethodGet, "/api/documents/2/content", "contractor-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", ct)
	}
	if etag := rec.Header().Get("ETag"); etag != `"abc123"` {
		t.Fatalf("unexpected etag %q", etag)
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF-") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestDocumentTypes(t *testing.T) {
	rec := do(t, newTestServer(), http.MethodGet, "/api/documents/types", "hr-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []struct {
			Type string `json:"type"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != len(hrdoc.Catalog()) {
		t.Fatalf("expected %d types, got %d", len(hrdoc.Catalog()), len(payload.Items))
	}
}

func TestListContractors(t *testing.T) {
	s := newTestServer()
	s.contractorService = &stubContractorService{profiles: []contractor.Profile{
		{UserID: 40, FullName: "Ivan Petrov", Phone: "+7 700", City: "Almaty", Specialization: "HVAC"},
	}}

	rec := do(t, s, http.MethodGet, "/api/contractors?city=Almaty", "manager-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []profileResponse `json:"items"`
		Total int               `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Total != 1 || !payload.Items[0].Complete {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := &Server{authService: &stubAuthService{err: auth.ErrInvalidCredentials}}

	rec := do(t, s, http.MethodPost, "/api/auth/login", "", `{"email":"a@b.c","password":"nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMe_ListsActions(t *testing.T) {
	s := &Server{authService: &stubAuthService{actors: testActors, user: auth.User{ID: 20, Role: auth.RoleSecurity}}}

	rec := do(t, s, http.MethodGet, "/api/auth/me", "security-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Actions []string `json:"actions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Actions) != len(auth.AllowedActions(auth.RoleSecurity)) {
		t.Fatalf("unexpected actions: %v", payload.Actions)
	}
}
