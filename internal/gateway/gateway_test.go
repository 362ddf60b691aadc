package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/timemarket/internal/auth"
	"github.com/terminal-bench/timemarket/internal/exchange"
	"github.com/terminal-bench/timemarket/internal/governor"
	"github.com/terminal-bench/timemarket/internal/ledger"
	"github.com/terminal-bench/timemarket/internal/params"
	"github.com/terminal-bench/timemarket/internal/registry"
	"github.com/terminal-bench/timemarket/internal/session"
	"github.com/terminal-bench/timemarket/pkg/payments"
)

type testEnv struct {
	gw     *Gateway
	auth   *auth.Service
	ledger *ledger.Store
	bank   *payments.MemoryBank
	params *params.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	paramStore := params.NewStore("operator", params.Parameters{
		Tariff:              500,
		AccountCeiling:      1000,
		FeePercent:          5,
		CompensationPercent: 50,
		GlobalCap:           10000,
	})
	ledgerStore := ledger.NewStore()
	bank := payments.NewMemoryBank()

	engine := exchange.NewEngine(exchange.Config{
		Params:      paramStore,
		Ledger:      ledgerStore,
		Registry:    registry.NewRegistry(),
		Sessions:    session.NewTracker(),
		Payments:    bank,
		SessionUnit: time.Hour,
	})

	authSvc := auth.NewService("test-secret", time.Hour)
	gov := governor.New(paramStore, nil, nil)
	gw := NewGateway(Config{RateLimitMax: 10000}, engine, gov, authSvc, nil, nil, nil)

	return &testEnv{
		gw:     gw,
		auth:   authSvc,
		ledger: ledgerStore,
		bank:   bank,
		params: paramStore,
	}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.gw.Router().ServeHTTP(w, req)
	return w
}

func (e *testEnv) token(t *testing.T, account string) string {
	t.Helper()
	token, err := e.auth.IssueToken(account)
	require.NoError(t, err)
	return token
}

func TestHealthAndAuth(t *testing.T) {
	t.Run("should report healthy", func(t *testing.T) {
		e := newTestEnv(t)

		w := e.request(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("should reject operations without a token", func(t *testing.T) {
		e := newTestEnv(t)

		w := e.request(t, http.MethodPost, "/api/v1/purchase", "", map[string]uint64{"intervals": 1})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should issue usable tokens", func(t *testing.T) {
		e := newTestEnv(t)

		w := e.request(t, http.MethodPost, "/api/v1/auth/token", "", map[string]string{"account_id": "alice"})
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

		claims, err := e.auth.VerifyToken(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.AccountID)
	})
}

func TestOperationRoutes(t *testing.T) {
	t.Run("should purchase and report the balance", func(t *testing.T) {
		e := newTestEnv(t)
		e.bank.Deposit("alice", decimal.NewFromInt(10000))
		token := e.token(t, "alice")

		w := e.request(t, http.MethodPost, "/api/v1/purchase", token, map[string]uint64{"intervals": 10})
		require.Equal(t, http.StatusOK, w.Code)

		w = e.request(t, http.MethodGet, "/api/v1/accounts/alice", "", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Balance uint64 `json:"balance"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, uint64(10), resp.Balance)
	})

	t.Run("should run a listing and acquisition through HTTP", func(t *testing.T) {
		e := newTestEnv(t)
		e.ledger.SetBalance("provider", 10)
		e.ledger.SetCredit("buyer", 2000)

		w := e.request(t, http.MethodPost, "/api/v1/listings", e.token(t, "provider"),
			map[string]uint64{"intervals": 10, "tariff": 100})
		require.Equal(t, http.StatusCreated, w.Code)

		w = e.request(t, http.MethodPost, "/api/v1/acquire", e.token(t, "buyer"),
			map[string]interface{}{"provider": "provider", "intervals": 5})
		require.Equal(t, http.StatusOK, w.Code)

		w = e.request(t, http.MethodGet, "/api/v1/listings/provider", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var listing struct {
			Intervals uint64 `json:"intervals"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
		assert.Equal(t, uint64(5), listing.Intervals)
	})

	t.Run("should run the session lifecycle through HTTP", func(t *testing.T) {
		e := newTestEnv(t)
		e.ledger.SetBalance("alice", 10)
		token := e.token(t, "alice")

		w := e.request(t, http.MethodPost, "/api/v1/sessions", token, map[string]uint64{"intervals": 6})
		require.Equal(t, http.StatusCreated, w.Code)

		w = e.request(t, http.MethodDelete, "/api/v1/sessions?reclaim=true", token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Reclaimed uint64 `json:"reclaimed"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, uint64(6), resp.Reclaimed)
	})
}

func TestErrorMapping(t *testing.T) {
	t.Run("should map validation failures to 400", func(t *testing.T) {
		e := newTestEnv(t)
		token := e.token(t, "alice")

		w := e.request(t, http.MethodPost, "/api/v1/transfer", token,
			map[string]interface{}{"beneficiary": "alice", "intervals": 5})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should map shortages to 422", func(t *testing.T) {
		e := newTestEnv(t)
		token := e.token(t, "alice")

		w := e.request(t, http.MethodPost, "/api/v1/transfer", token,
			map[string]interface{}{"beneficiary": "bob", "intervals": 5})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("should map a failed payment leg to 402", func(t *testing.T) {
		e := newTestEnv(t)
		token := e.token(t, "alice")

		w := e.request(t, http.MethodPost, "/api/v1/purchase", token, map[string]uint64{"intervals": 1})
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
	})

	t.Run("should map an idle session end to 409", func(t *testing.T) {
		e := newTestEnv(t)
		token := e.token(t, "alice")

		w := e.request(t, http.MethodDelete, "/api/v1/sessions", token, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("should map a halted exchange to 503", func(t *testing.T) {
		e := newTestEnv(t)
		e.params.SetHalted(true)
		token := e.token(t, "alice")

		w := e.request(t, http.MethodPost, "/api/v1/purchase", token, map[string]uint64{"intervals": 1})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestAdminRoutes(t *testing.T) {
	t.Run("should reject a non-operator", func(t *testing.T) {
		e := newTestEnv(t)

		w := e.request(t, http.MethodPut, "/api/v1/admin/params/tariff", e.token(t, "alice"),
			map[string]uint64{"value": 600})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, uint64(500), e.params.Snapshot().Tariff)
	})

	t.Run("should let the operator update parameters", func(t *testing.T) {
		e := newTestEnv(t)

		w := e.request(t, http.MethodPut, "/api/v1/admin/params/tariff", e.token(t, "operator"),
			map[string]uint64{"value": 600})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, uint64(600), e.params.Snapshot().Tariff)
	})

	t.Run("should halt and resume the exchange", func(t *testing.T) {
		e := newTestEnv(t)
		operatorToken := e.token(t, "operator")

		w := e.request(t, http.MethodPost, "/api/v1/admin/halt", operatorToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, e.params.Halted())

		w = e.request(t, http.MethodPost, "/api/v1/admin/resume", operatorToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.False(t, e.params.Halted())
	})
}
