package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"assetledger/internal/config"
	"assetledger/internal/infrastructure/database"
	"assetledger/internal/infrastructure/lock"
	"assetledger/internal/service"
	"assetledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type apiResponse struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	cfg := &config.Config{}
	cfg.Kafka.Topic.AssetEvent = "asset_event"
	svc := service.NewServices(db, cfg, service.Options{Locker: lock.NewLocalLocker()})
	return SetupRouter(svc)
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp apiResponse
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func createCustomer(t *testing.T, r *gin.Engine) int64 {
	t.Helper()
	_, resp := do(t, r, http.MethodPost, "/api/v1/customers", gin.H{"store_id": 1, "name": "alice", "mobile": "13800000000"})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var customer struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &customer))
	return customer.ID
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	w, _ := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "asset_ledger_http_requests_total")
}

func TestRequestIDPropagated(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w, _ = do(t, r, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCORSHeaders(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://pos.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRechargeAndSettleFlow(t *testing.T) {
	r := newTestRouter(t)
	id := createCustomer(t, r)

	_, resp := do(t, r, http.MethodPost, "/api/v1/wallet/recharge", gin.H{"customer_id": id, "amount": "100"})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	_, resp = do(t, r, http.MethodPost, "/api/v1/consume/settle", gin.H{
		"customer_id":           id,
		"consume_amount":        "60",
		"deduct_balance_amount": "60",
	})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	assert.NotEmpty(t, resp.RequestID)

	var settled struct {
		Record struct {
			ConsumeNo string `json:"consume_no"`
		} `json:"record"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &settled))
	assert.NotEmpty(t, settled.Record.ConsumeNo)

	_, resp = do(t, r, http.MethodGet, fmt.Sprintf("/api/v1/wallet/balance?customer_id=%d", id), nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var balance struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &balance))
	assert.Equal(t, "40", balance.Balance)

	_, resp = do(t, r, http.MethodGet, "/api/v1/consume/"+settled.Record.ConsumeNo, nil)
	assert.Equal(t, response.CodeSuccess, resp.Code)
}

func TestErrorKindsMapToCodes(t *testing.T) {
	r := newTestRouter(t)
	id := createCustomer(t, r)

	// 余额不足
	_, resp := do(t, r, http.MethodPost, "/api/v1/consume/settle", gin.H{
		"customer_id":           id,
		"consume_amount":        "10",
		"deduct_balance_amount": "10",
	})
	assert.Equal(t, response.CodeInsufficientAsset, resp.Code)

	// 参数校验
	_, resp = do(t, r, http.MethodPost, "/api/v1/consume/settle", gin.H{"customer_id": id})
	assert.Equal(t, response.CodeParamError, resp.Code)

	// 绑定失败
	_, resp = do(t, r, http.MethodPost, "/api/v1/wallet/recharge", gin.H{"amount": "10"})
	assert.Equal(t, response.CodeParamError, resp.Code)

	// 不存在
	_, resp = do(t, r, http.MethodGet, "/api/v1/customers/999", nil)
	assert.Equal(t, response.CodeNotFound, resp.Code)

	_, resp = do(t, r, http.MethodGet, "/api/v1/customers/abc", nil)
	assert.Equal(t, response.CodeParamError, resp.Code)

	// 状态冲突
	_, resp = do(t, r, http.MethodPost, "/api/v1/appointments/status-change", gin.H{
		"appointment_id": 1,
		"customer_id":    id,
		"from_status":    "cancelled",
		"to_status":      "completed",
		"member_card_id": 1,
	})
	assert.Equal(t, response.CodeConflict, resp.Code)
}

func TestLookupCustomer(t *testing.T) {
	r := newTestRouter(t)
	id := createCustomer(t, r)

	_, resp := do(t, r, http.MethodGet, "/api/v1/customers/lookup?store_id=1&mobile=13800000000", nil)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var customer struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &customer))
	assert.Equal(t, id, customer.ID)

	_, resp = do(t, r, http.MethodGet, "/api/v1/customers/lookup?store_id=1", nil)
	assert.Equal(t, response.CodeParamError, resp.Code)
}
