package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/permipay/permipay/internal/clock"
	"github.com/permipay/permipay/internal/config"
	executionservice "github.com/permipay/permipay/internal/execution/service"
	ingestdomain "github.com/permipay/permipay/internal/ingest/domain"
	ingestservice "github.com/permipay/permipay/internal/ingest/service"
	"github.com/permipay/permipay/internal/migration"
	permissionservice "github.com/permipay/permipay/internal/permission/service"
	statsservice "github.com/permipay/permipay/internal/stats/service"
	"github.com/permipay/permipay/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type apiEnv struct {
	server    *Server
	ingestSvc ingestdomain.Service
	clk       *clock.FakeClock
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.Migrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	logger := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))

	execSvc := executionservice.NewService(executionservice.Params{
		DB:    conn,
		Log:   logger,
		GenID: node,
	})
	statSvc := statsservice.NewService(statsservice.Params{
		DB:    conn,
		Log:   logger,
		Clock: clk,
	})
	permSvc := permissionservice.NewService(permissionservice.Params{
		DB:           conn,
		Log:          logger,
		GenID:        node,
		Clock:        clk,
		ExecutionSvc: execSvc,
		StatsSvc:     statSvc,
	})
	ingestSvc := ingestservice.NewService(ingestservice.Params{
		DB:            conn,
		Log:           logger,
		Config:        config.Config{Ingest: config.IngestConfig{BatchSize: 100}},
		Clock:         clk,
		Normalizer:    ingestservice.NewNormalizer(node),
		PermissionSvc: permSvc,
		ExecutionSvc:  execSvc,
		StatsSvc:      statSvc,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:           engine,
		Cfg:           config.Config{},
		PermissionSvc: permSvc,
		ExecutionSvc:  execSvc,
		StatsSvc:      statSvc,
		IngestSvc:     ingestSvc,
	})

	return &apiEnv{server: srv, ingestSvc: ingestSvc, clk: clk}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.server.Engine().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPermissionEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	ts := env.clk.Now().Unix()

	w := env.do(t, http.MethodGet, "/v1/permissions/0xaa", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/v1/events", gin.H{
		"event":          ingestdomain.EventPermissionGranted,
		"tx_hash":        "0xgrant",
		"log_index":      0,
		"block_number":   100,
		"timestamp":      ts,
		"user":           "0xAA",
		"spending_limit": "1000",
		"expires_at":     ts + 86400,
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	_, err := env.ingestSvc.ProcessPending(context.Background())
	require.NoError(t, err)

	w = env.do(t, http.MethodGet, "/v1/permissions/0xAA", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "0xaa", body["user"])
	assert.Equal(t, "1000", body["spending_limit"])
	assert.Equal(t, "1000", body["remaining_budget"])
	assert.Equal(t, true, body["is_active"])
}

func TestChargeEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	ts := env.clk.Now().Unix()

	w := env.do(t, http.MethodPost, "/v1/events", gin.H{
		"event":          ingestdomain.EventPermissionGranted,
		"tx_hash":        "0xgrant",
		"log_index":      0,
		"block_number":   100,
		"timestamp":      ts,
		"user":           "0xaa",
		"spending_limit": "500",
		"expires_at":     ts + 86400,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	_, err := env.ingestSvc.ProcessPending(context.Background())
	require.NoError(t, err)

	charge := gin.H{
		"user":            "0xaa",
		"service_type":    0,
		"cost":            "400",
		"idempotency_key": "call-1",
	}
	w = env.do(t, http.MethodPost, "/v1/charges", charge)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "100", body["remaining_budget"])
	assert.NotEmpty(t, body["execution_id"])

	t.Run("replay returns the original outcome", func(t *testing.T) {
		again := env.do(t, http.MethodPost, "/v1/charges", charge)
		require.Equal(t, http.StatusOK, again.Code)
		assert.Equal(t, body["execution_id"], decodeBody(t, again)["execution_id"])
	})

	t.Run("over budget maps to 402", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/charges", gin.H{
			"user":         "0xaa",
			"service_type": 1,
			"cost":         "200",
		})
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		payload := decodeBody(t, w)["error"].(map[string]any)
		assert.Equal(t, "budget_exceeded", payload["type"])
	})

	t.Run("unknown user maps to 404", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/charges", gin.H{
			"user":         "0xnobody",
			"service_type": 0,
			"cost":         "1",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestStatsEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	ts := env.clk.Now().Unix()

	w := env.do(t, http.MethodPost, "/v1/events", gin.H{
		"event":          ingestdomain.EventPermissionGranted,
		"tx_hash":        "0xgrant",
		"log_index":      0,
		"block_number":   100,
		"timestamp":      ts,
		"user":           "0xaa",
		"spending_limit": "1000",
		"expires_at":     ts + 86400,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	_, err := env.ingestSvc.ProcessPending(context.Background())
	require.NoError(t, err)

	w = env.do(t, http.MethodGet, "/v1/stats/global", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["total_permissions_granted"])
	assert.Equal(t, float64(1), body["distinct_users"])

	w = env.do(t, http.MethodGet, "/v1/stats/daily?from=2026-04-01&to=2026-04-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	days := decodeBody(t, w)["days"].([]any)
	assert.Len(t, days, 1)

	t.Run("bad range maps to 400", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/v1/stats/daily?from=April&to=2026-04-01", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rebuild", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/stats/rebuild", nil)
		require.Equal(t, http.StatusOK, w.Code)

		after := env.do(t, http.MethodGet, "/v1/stats/global", nil)
		assert.Equal(t, float64(1), decodeBody(t, after)["total_permissions_granted"])
	})
}

func TestEventEndpointValidation(t *testing.T) {
	env := newAPIEnv(t)
	ts := env.clk.Now().Unix()

	t.Run("unknown event name", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/events", gin.H{
			"event":     "SomethingElse",
			"tx_hash":   "0x1",
			"timestamp": ts,
			"user":      "0xaa",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed grant", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/events", gin.H{
			"event":          ingestdomain.EventPermissionGranted,
			"tx_hash":        "0x1",
			"timestamp":      ts,
			"user":           "0xaa",
			"spending_limit": "0",
			"expires_at":     ts + 60,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("duplicate delivery returns 200", func(t *testing.T) {
		raw := gin.H{
			"event":          ingestdomain.EventPermissionGranted,
			"tx_hash":        "0xdup",
			"log_index":      0,
			"block_number":   5,
			"timestamp":      ts,
			"user":           "0xaa",
			"spending_limit": "100",
			"expires_at":     ts + 60,
		}
		first := env.do(t, http.MethodPost, "/v1/events", raw)
		require.Equal(t, http.StatusAccepted, first.Code)
		second := env.do(t, http.MethodPost, "/v1/events", raw)
		assert.Equal(t, http.StatusOK, second.Code)
	})

	t.Run("unwind requires from_block", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/events/unwind", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
