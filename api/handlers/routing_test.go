package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/internal/ctxkeys"
	"github.com/BaSui01/inferflow/llm"
	"github.com/BaSui01/inferflow/llm/cache"
	"github.com/BaSui01/inferflow/llm/feedback"
	"github.com/BaSui01/inferflow/llm/router"
	"github.com/BaSui01/inferflow/llm/tier"
	"github.com/BaSui01/inferflow/pipeline"
	"github.com/BaSui01/inferflow/types"
)

type stubRoutingService struct {
	mu sync.Mutex

	routeErr    error
	feedbackErr error
	tierErr     error

	currentTier tier.Tier

	lastRoute    pipeline.RouteRequest
	lastFeedback pipeline.FeedbackInput
	lastTier     tier.Tier
	lastTierUser string
	lastRecUser  string
}

func (s *stubRoutingService) Route(_ context.Context, req pipeline.RouteRequest) (*pipeline.RouteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRoute = req
	if s.routeErr != nil {
		return nil, s.routeErr
	}
	return &pipeline.RouteResult{
		Response:  "answer",
		ModelUsed: "gpt-4o-mini",
		CacheHit:  cache.LayerNone,
		CostUnits: 0.2,
		Attempts:  []llm.AttemptRecord{{Model: "gpt-4o-mini", Succeeded: true}},
		Tier:      tier.TierPro,
		SessionID: "session-1",
		Latency:   15 * time.Millisecond,
	}, nil
}

func (s *stubRoutingService) RecordFeedback(_ context.Context, in pipeline.FeedbackInput) (*feedback.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFeedback = in
	if s.feedbackErr != nil {
		return nil, s.feedbackErr
	}
	return &feedback.Record{ID: 7, SessionID: in.SessionID, CreatedAt: time.Now()}, nil
}

func (s *stubRoutingService) Recommend(_ context.Context, agentType string, p router.Priority, userID string) (router.Recommendation, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRecUser = userID
	return router.Recommendation{Model: "gpt-4o-mini", Static: true, Reasoning: "static default for " + agentType},
		[]string{"gpt-4o-mini", "claude-3-haiku"}
}

func (s *stubRoutingService) SetUserTier(_ context.Context, userID string, t tier.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTierUser = userID
	s.lastTier = t
	return s.tierErr
}

func (s *stubRoutingService) UserTier(context.Context, string) tier.Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentTier == "" {
		return tier.TierFree
	}
	return s.currentTier
}

func asUser(userID string, roles ...string) context.Context {
	ctx := ctxkeys.WithUserID(context.Background(), userID)
	if len(roles) > 0 {
		ctx = ctxkeys.WithRoles(ctx, roles)
	}
	return ctx
}

func newRoutingServer(svc RoutingService) http.Handler {
	r := chi.NewRouter()
	NewRoutingHandler(svc, zap.NewNop()).Register(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, ctx context.Context) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	if dst != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, dst))
	}
	return raw.Response
}

func TestRoutingHandler_Route(t *testing.T) {
	svc := &stubRoutingService{}
	h := newRoutingServer(svc)

	w := doJSON(t, h, http.MethodPost, "/api/v1/route",
		`{"agent_type":"codegen","query":"sort a slice","priority":"QUALITY"}`, asUser("user-12345"))
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Response  string `json:"response"`
		ModelUsed string `json:"model_used"`
		CacheHit  string `json:"cache_hit"`
		Tier      string `json:"tier"`
		LatencyMs int64  `json:"latency_ms"`
	}
	resp := decodeData(t, w, &out)
	assert.True(t, resp.Success)
	assert.Equal(t, "answer", out.Response)
	assert.Equal(t, "none", out.CacheHit)
	assert.Equal(t, "pro", out.Tier)
	assert.Equal(t, int64(15), out.LatencyMs)

	assert.Equal(t, "user-12345", svc.lastRoute.UserID)
	assert.Equal(t, router.PriorityQuality, svc.lastRoute.Priority)
	assert.Equal(t, "codegen", svc.lastRoute.AgentType)
}

func TestRoutingHandler_RouteUsesAuthenticatedUser(t *testing.T) {
	svc := &stubRoutingService{}
	h := newRoutingServer(svc)

	ctx := ctxkeys.WithUserID(context.Background(), "token-user-1")
	w := doJSON(t, h, http.MethodPost, "/api/v1/route", `{"query":"hi","user_id":"spoofed-user"}`, ctx)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "token-user-1", svc.lastRoute.UserID)
}

func TestRoutingHandler_RouteIgnoresClaimedUserWithoutIdentity(t *testing.T) {
	svc := &stubRoutingService{}
	w := doJSON(t, newRoutingServer(svc), http.MethodPost, "/api/v1/route",
		`{"query":"hi","user_id":"enterprise-user-1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, svc.lastRoute.UserID)

	// 显式信任时才采用请求体中的 user_id
	r := chi.NewRouter()
	NewRoutingHandler(svc, nil).WithTrustedClientUserID(true).Register(r)
	w = doJSON(t, r, http.MethodPost, "/api/v1/route", `{"query":"hi","user_id":" enterprise-user-1 "}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "enterprise-user-1", svc.lastRoute.UserID)
}

func TestRoutingHandler_RouteErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		routeErr   error
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{name: "empty query", body: `{"query":"   "}`, wantStatus: http.StatusBadRequest, wantCode: types.ErrInvalidRequest},
		{name: "unknown field", body: `{"query":"x","model":"gpt-4o"}`, wantStatus: http.StatusBadRequest, wantCode: types.ErrInvalidRequest},
		{
			name:       "quota exceeded",
			body:       `{"query":"x"}`,
			routeErr:   types.NewError(types.ErrQuotaExceeded, "budget exceeded"),
			wantStatus: http.StatusPaymentRequired,
			wantCode:   types.ErrQuotaExceeded,
		},
		{
			name:       "all models failed",
			body:       `{"query":"x"}`,
			routeErr:   types.NewError(types.ErrAllModelsFailed, "all models failed"),
			wantStatus: http.StatusBadGateway,
			wantCode:   types.ErrAllModelsFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRoutingServer(&stubRoutingService{routeErr: tt.routeErr})
			w := doJSON(t, h, http.MethodPost, "/api/v1/route", tt.body, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeData(t, w, nil)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
		})
	}
}

func TestRoutingHandler_RouteRequiresJSON(t *testing.T) {
	h := newRoutingServer(&stubRoutingService{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/route", strings.NewReader(`{"query":"x"}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutingHandler_Feedback(t *testing.T) {
	svc := &stubRoutingService{}
	h := newRoutingServer(svc)

	w := doJSON(t, h, http.MethodPost, "/api/v1/feedback",
		`{"session_id":"s-1","agent_type":"general","model_used":"gpt-4o","rating":4,"was_successful":true}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		ID        uint   `json:"id"`
		SessionID string `json:"session_id"`
	}
	decodeData(t, w, &out)
	assert.Equal(t, uint(7), out.ID)
	assert.Equal(t, "s-1", out.SessionID)
	require.NotNil(t, svc.lastFeedback.Rating)
	assert.Equal(t, 4, *svc.lastFeedback.Rating)
}

func TestRoutingHandler_FeedbackInvalid(t *testing.T) {
	svc := &stubRoutingService{
		feedbackErr: types.NewError(types.ErrInvalidRequest, "rating must be between 1 and 5"),
	}
	h := newRoutingServer(svc)

	w := doJSON(t, h, http.MethodPost, "/api/v1/feedback",
		`{"session_id":"s-1","agent_type":"general","model_used":"gpt-4o","rating":9}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutingHandler_Recommend(t *testing.T) {
	svc := &stubRoutingService{}
	h := newRoutingServer(svc)

	w := doJSON(t, h, http.MethodGet, "/api/v1/models/recommend?priority=cost&user_id=spoofed-user", "", asUser("user-12345"))
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		AgentType     string   `json:"agent_type"`
		Priority      string   `json:"priority"`
		Model         string   `json:"model"`
		Static        bool     `json:"static"`
		FallbackChain []string `json:"fallback_chain"`
	}
	decodeData(t, w, &out)
	assert.Equal(t, pipeline.DefaultAgentType, out.AgentType)
	assert.Equal(t, "cost", out.Priority)
	assert.True(t, out.Static)
	assert.Equal(t, []string{"gpt-4o-mini", "claude-3-haiku"}, out.FallbackChain)
	assert.Equal(t, "user-12345", svc.lastRecUser)
}

func TestRoutingHandler_SetTier(t *testing.T) {
	svc := &stubRoutingService{}
	h := newRoutingServer(svc)

	w := doJSON(t, h, http.MethodPut, "/api/v1/users/user-12345/tier", `{"tier":"Enterprise"}`, asUser("ops-admin-1", AdminRole))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-12345", svc.lastTierUser)
	assert.Equal(t, tier.TierEnterprise, svc.lastTier)

	w = doJSON(t, h, http.MethodPut, "/api/v1/users/user-12345/tier", `{"tier":"platinum"}`, asUser("ops-admin-1", AdminRole))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutingHandler_SetTierAuthorization(t *testing.T) {
	tests := []struct {
		name       string
		ctx        context.Context
		current    tier.Tier
		target     string
		wantStatus int
	}{
		{name: "anonymous caller", ctx: nil, target: "enterprise", wantStatus: http.StatusUnauthorized},
		{name: "anonymous downgrade", ctx: nil, current: tier.TierPro, target: "free", wantStatus: http.StatusUnauthorized},
		{name: "self upgrade", ctx: asUser("user-12345"), current: tier.TierFree, target: "enterprise", wantStatus: http.StatusForbidden},
		{name: "self upgrade from pro", ctx: asUser("user-12345"), current: tier.TierPro, target: "enterprise", wantStatus: http.StatusForbidden},
		{name: "other user", ctx: asUser("user-99999"), current: tier.TierEnterprise, target: "free", wantStatus: http.StatusForbidden},
		{name: "self downgrade", ctx: asUser("user-12345"), current: tier.TierEnterprise, target: "pro", wantStatus: http.StatusOK},
		{name: "self same tier", ctx: asUser("user-12345"), current: tier.TierPro, target: "pro", wantStatus: http.StatusOK},
		{name: "admin upgrades other", ctx: asUser("user-99999", AdminRole), current: tier.TierFree, target: "enterprise", wantStatus: http.StatusOK},
		{name: "admin upgrades self", ctx: asUser("user-12345", AdminRole), current: tier.TierFree, target: "pro", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubRoutingService{currentTier: tt.current}
			w := doJSON(t, newRoutingServer(svc), http.MethodPut, "/api/v1/users/user-12345/tier",
				`{"tier":"`+tt.target+`"}`, tt.ctx)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tier.Tier(tt.target), svc.lastTier)
			} else {
				assert.Empty(t, svc.lastTierUser)
			}
		})
	}
}

func TestRoutingHandler_SetTierStorageError(t *testing.T) {
	svc := &stubRoutingService{tierErr: types.NewError(types.ErrStorage, "save failed").WithCause(errors.New("disk full"))}
	h := newRoutingServer(svc)

	w := doJSON(t, h, http.MethodPut, "/api/v1/users/user-12345/tier", `{"tier":"pro"}`, asUser("ops-admin-1", AdminRole))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk full")
}

func TestRoutingHandler_DefaultPriority(t *testing.T) {
	svc := &stubRoutingService{}
	r := chi.NewRouter()
	NewRoutingHandler(svc, nil).WithDefaultPriority(router.PrioritySpeed).Register(r)

	w := doJSON(t, r, http.MethodPost, "/api/v1/route", `{"query":"hi"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, router.PrioritySpeed, svc.lastRoute.Priority)

	w = doJSON(t, r, http.MethodPost, "/api/v1/route", `{"query":"hi","priority":"bogus"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, router.PriorityBalanced, svc.lastRoute.Priority)
}
