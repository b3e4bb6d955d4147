package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/domains/contract/money"
	"owlfenc-backend/internal/domains/contract/repository"
	"owlfenc-backend/internal/domains/contract/service"
	"owlfenc-backend/internal/infrastructure/chat"
	"owlfenc-backend/internal/infrastructure/email"
	"owlfenc-backend/internal/infrastructure/sms"
	"owlfenc-backend/internal/infrastructure/storage"
	"owlfenc-backend/internal/shared/middleware"
	"owlfenc-backend/internal/shared/response"
	"owlfenc-backend/pkg/cache"
	"owlfenc-backend/pkg/jwt"
)

const (
	testAuthSecret    = "test-auth-secret"
	testWebhookSecret = "test-webhook-secret"
)

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    json.RawMessage        `json:"data"`
	Error   map[string]interface{} `json:"error"`
	Meta    *response.Meta         `json:"meta"`
}

type testServer struct {
	router *gin.Engine
	owner  uuid.UUID
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryContractRepository()
	docs, err := storage.NewLocalStorage(t.TempDir(), "http://docs.test")
	require.NoError(t, err)

	drafts := service.NewDraftService(repo, money.Default(), cache.NopCache{})
	delivery := service.NewDeliveryService(repo, service.NewChannelProviders(
		email.NewMockEmailService(), sms.NewMockSMSService(), chat.NewMockChatService(),
	))
	signatures := service.NewSignatureService(repo, jwt.NewManager("test-link-secret"), nil, cache.NopCache{}, service.SignatureConfig{
		BaseURL: "http://sign.test",
	})
	lifecycle := service.NewLifecycleService(repo, service.NewSnapshotRenderer(), docs, signatures, cache.NopCache{})
	query := service.NewQueryService(repo, cache.NopCache{})
	autosave := service.NewAutoSaveRegistry(drafts, time.Hour, time.Hour)

	auth := jwt.NewManager(testAuthSecret)
	owner := uuid.New()
	token, err := auth.GenerateAccessToken(owner.String(), "owner@owlfence.test", "contractor", time.Hour)
	require.NoError(t, err)

	router := gin.New()
	router.Use(middleware.Recovery(), middleware.RequestID())
	v1 := router.Group("/api/v1")
	NewSigningHandler(signatures, testWebhookSecret).RegisterRoutes(v1)
	protected := v1.Group("", middleware.AuthMiddleware(auth))
	NewContractHandler(drafts, autosave, lifecycle, signatures, delivery, query).RegisterRoutes(protected)

	return &testServer{router: router, owner: owner, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (s *testServer) authed() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.token}
}

func draftBody() map[string]interface{} {
	return map[string]interface{}{
		"title":           "Backyard cedar fence",
		"client":          map[string]string{"name": "Dana Client", "email": "dana@example.com", "phone": "+15550001111"},
		"contractor":      map[string]string{"name": "Owl Fence Co", "email": "office@owlfence.test"},
		"scope_of_work":   "Install 120ft of cedar fence.",
		"financial_input": map[string]interface{}{"summary": map[string]string{"finalTotal": "8000.00"}},
		"milestones": []map[string]interface{}{
			{"description": "Deposit", "percentage": 40},
			{"description": "Completion", "percentage": 60},
		},
	}
}

func (s *testServer) createDraft(t *testing.T) uuid.UUID {
	t.Helper()
	rec, env := s.do(t, http.MethodPut, "/api/v1/contracts/drafts", draftBody(), s.authed())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res model.SaveDraftResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res.ContractID
}

func (s *testServer) generate(t *testing.T, id uuid.UUID) model.GenerateResult {
	t.Helper()
	rec, env := s.do(t, http.MethodPost, "/api/v1/contracts/"+id.String()+"/generate", nil, s.authed())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res model.GenerateResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res
}

func linkToken(link string) string {
	return link[strings.LastIndex(link, "/")+1:]
}

// ================================================
// AUTH
// ================================================

func TestAuth(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic " + s.token},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			rec, env := s.do(t, http.MethodGet, "/api/v1/contracts/drafts", nil, headers)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, env.Success)
		})
	}

	t.Run("signing link is not an access token", func(t *testing.T) {
		link, err := jwt.NewManager(testAuthSecret).GenerateLinkToken(uuid.NewString(), "client", uuid.NewString(), 0)
		require.NoError(t, err)
		rec, _ := s.do(t, http.MethodGet, "/api/v1/contracts/drafts", nil, map[string]string{"Authorization": "Bearer " + link})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

// ================================================
// DRAFTS AND QUERIES
// ================================================

func TestDraftSaveLoadAndList(t *testing.T) {
	s := newTestServer(t)
	id := s.createDraft(t)

	body := draftBody()
	body["contract_id"] = id
	body["title"] = "Front yard fence"
	rec, env := s.do(t, http.MethodPut, "/api/v1/contracts/drafts", body, s.authed())
	require.Equal(t, http.StatusOK, rec.Code)
	var saved model.SaveDraftResult
	require.NoError(t, json.Unmarshal(env.Data, &saved))
	assert.Equal(t, 2, saved.Version)

	rec, env = s.do(t, http.MethodGet, "/api/v1/contracts/"+id.String()+"/draft", nil, s.authed())
	require.Equal(t, http.StatusOK, rec.Code)
	var form model.DraftForm
	require.NoError(t, json.Unmarshal(env.Data, &form))
	assert.Equal(t, "Front yard fence", form.Title)
	assert.True(t, decimal.NewFromInt(8000).Equal(form.Total))

	rec, env = s.do(t, http.MethodGet, "/api/v1/contracts/drafts?page=1&limit=10", nil, s.authed())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Total)
	assert.Equal(t, 10, env.Meta.Limit)

	rec, env = s.do(t, http.MethodGet, "/api/v1/contracts/completed", nil, s.authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.Meta.Total)
}

func TestDraftSave_ValidationErrorListsFields(t *testing.T) {
	s := newTestServer(t)
	body := draftBody()
	body["client"] = map[string]string{"name": "Dana", "email": "not-an-email"}

	rec, env := s.do(t, http.MethodPut, "/api/v1/contracts/drafts", body, s.authed())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, model.ErrCodeValidation, env.Error["code"])
	assert.NotEmpty(t, env.Error["fields"])
}

func TestContractRoutes_NotFoundAndBadID(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodGet, "/api/v1/contracts/"+uuid.NewString(), nil, s.authed())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeContractNotFound, env.Error["code"])

	rec, _ = s.do(t, http.MethodPost, "/api/v1/contracts/not-a-uuid/generate", nil, s.authed())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ================================================
// AUTOSAVE
// ================================================

func TestAutoSaveEndpoints(t *testing.T) {
	s := newTestServer(t)
	headers := s.authed()

	rec, _ := s.do(t, http.MethodPost, "/api/v1/contracts/drafts/autosave", draftBody(), headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	headers[HeaderEditSession] = "tab-1"
	rec, env := s.do(t, http.MethodPost, "/api/v1/contracts/drafts/autosave", draftBody(), headers)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var status service.SessionStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.Pending)

	rec, env = s.do(t, http.MethodPost, "/api/v1/contracts/drafts/autosave/flush", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var saved model.SaveDraftResult
	require.NoError(t, json.Unmarshal(env.Data, &saved))
	assert.True(t, saved.Created)

	rec, env = s.do(t, http.MethodGet, "/api/v1/contracts/drafts/autosave", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, service.SaveStateSaved, status.State)
	require.NotNil(t, status.ContractID)
	assert.Equal(t, saved.ContractID, *status.ContractID)

	rec, _ = s.do(t, http.MethodDelete, "/api/v1/contracts/drafts/autosave", nil, headers)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ================================================
// LIFECYCLE, SIGNING AND DELIVERY
// ================================================

func TestSigningFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createDraft(t)

	gen := s.generate(t, id)
	assert.Equal(t, model.StatusAwaitingSignatures, gen.Status)
	require.NotNil(t, gen.Links)

	replay := s.generate(t, id)
	assert.True(t, replay.Replayed)

	rec, env := s.do(t, http.MethodPost, "/api/v1/contracts/"+id.String()+"/send",
		model.SendRequest{Channels: []model.Channel{model.ChannelEmail, model.ChannelSMS}}, s.authed())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sent model.SendResult
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, 2, sent.Sent)

	clientToken := linkToken(gen.Links.ClientLink)
	rec, env = s.do(t, http.MethodGet, "/api/v1/sign/"+clientToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view model.SigningView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, model.PartyClient, view.Party)
	assert.False(t, view.Signed)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/sign/"+clientToken, model.SignRequest{SignerName: "Dana Client"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = s.do(t, http.MethodPost, "/api/v1/sign/"+linkToken(gen.Links.ContractorLink), model.SignRequest{SignerName: "Owl Fence Co"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Contract completed", env.Message)

	rec, env = s.do(t, http.MethodPost, "/api/v1/contracts/"+id.String()+"/payments",
		map[string]interface{}{"reference": "CHK-1", "milestone_index": 0, "amount": "3200.00"}, s.authed())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var paid model.PaymentResult
	require.NoError(t, json.Unmarshal(env.Data, &paid))
	assert.True(t, decimal.NewFromInt(4800).Equal(paid.Balance))

	rec, _ = s.do(t, http.MethodGet, "/api/v1/contracts/"+id.String()+"/audit.xlsx", nil, s.authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), id.String())
	assert.NotEmpty(t, rec.Body.Bytes())

	rec, env = s.do(t, http.MethodPost, "/api/v1/contracts/"+id.String()+"/cancel", nil, s.authed())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidTransition, env.Error["code"])
}

func TestSignLink_InvalidToken(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodGet, "/api/v1/sign/garbage", nil, nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, model.ErrCodeSigningLinkInvalid, env.Error["code"])
}

func TestCancelAndReissue(t *testing.T) {
	s := newTestServer(t)
	id := s.createDraft(t)
	gen := s.generate(t, id)

	rec, env := s.do(t, http.MethodPost, "/api/v1/contracts/"+id.String()+"/links/client/reissue", nil, s.authed())
	require.Equal(t, http.StatusOK, rec.Code)
	var reissued map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &reissued))
	assert.NotEqual(t, gen.Links.ClientLink, reissued["link"])

	rec, _ = s.do(t, http.MethodGet, "/api/v1/sign/"+linkToken(gen.Links.ClientLink), nil, nil)
	assert.Equal(t, http.StatusGone, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/contracts/"+id.String()+"/cancel",
		model.CancelRequest{Reason: "project postponed"}, s.authed())
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/sign/"+linkToken(reissued["link"]), nil, nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

// ================================================
// WEBHOOK
// ================================================

func TestSignatureWebhook(t *testing.T) {
	s := newTestServer(t)
	id := s.createDraft(t)
	s.generate(t, id)

	body, err := json.Marshal(model.SignatureEvent{EventID: "evt-9", ContractID: id, Party: model.PartyClient, SignerName: "Dana Client"})
	require.NoError(t, err)

	t.Run("missing signature", func(t *testing.T) {
		rec, env := s.do(t, http.MethodPost, "/api/v1/webhooks/signatures", body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, model.ErrCodeInvalidWebhook, env.Error["code"])
	})

	t.Run("wrong secret", func(t *testing.T) {
		rec, _ := s.do(t, http.MethodPost, "/api/v1/webhooks/signatures", body, map[string]string{
			HeaderSignature: SignWebhookBody("other-secret", body),
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid event then redelivery", func(t *testing.T) {
		headers := map[string]string{HeaderSignature: SignWebhookBody(testWebhookSecret, body)}

		rec, env := s.do(t, http.MethodPost, "/api/v1/webhooks/signatures", body, headers)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var first model.SignResult
		require.NoError(t, json.Unmarshal(env.Data, &first))
		assert.False(t, first.Duplicate)

		rec, env = s.do(t, http.MethodPost, "/api/v1/webhooks/signatures", body, headers)
		require.Equal(t, http.StatusOK, rec.Code)
		var again model.SignResult
		require.NoError(t, json.Unmarshal(env.Data, &again))
		assert.True(t, again.Duplicate)
	})
}

func TestSendOnDraftIsConflict(t *testing.T) {
	s := newTestServer(t)
	id := s.createDraft(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/contracts/"+id.String()+"/send",
		model.SendRequest{Channels: []model.Channel{model.ChannelEmail}}, s.authed())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeNotAwaitingSignature, env.Error["code"])
}
