package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epoch-crank/internal/crank"
	"epoch-crank/internal/metrics"
)

const testSecret = "s3cret"

type fakeService struct {
	summary    crank.Summary
	tick       func(ctx context.Context) crank.TickReport
	close      crank.CloseReport
	closePanic any
	opened     crank.OpenedRound
	openErr    error
	openedAt   time.Duration
	cranks     int
}

func (f *fakeService) Crank(context.Context) crank.Summary {
	f.cranks++
	return f.summary
}

func (f *fakeService) Tick(ctx context.Context) crank.TickReport {
	if f.tick != nil {
		return f.tick(ctx)
	}
	return crank.TickReport{Success: true, Message: "tick"}
}

func (f *fakeService) CloseAll(context.Context) crank.CloseReport {
	if f.closePanic != nil {
		panic(f.closePanic)
	}
	return f.close
}

func (f *fakeService) CloseExpired(context.Context) crank.CloseReport { return f.close }

func (f *fakeService) OpenRound(_ context.Context, d time.Duration) (crank.OpenedRound, error) {
	f.openedAt = d
	return f.opened, f.openErr
}

func newTestRouter(svc Service, cfg Config) http.Handler {
	if cfg.Secret == "" {
		cfg.Secret = testSecret
	}
	return NewRouter(svc, cfg, metrics.NewNoopCollector(), prometheus.NewRegistry(), zerolog.Nop())
}

func do(t *testing.T, h http.Handler, method, target, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	body := map[string]any{}
	if rr.Header().Get("Content-Type") != "" && len(rr.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	}
	return rr, body
}

func TestCrankRequiresBearer(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(svc, Config{})

	for _, token := range []string{"", "wrong"} {
		rr, body := do(t, h, http.MethodGet, "/api/cron/crank", token)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "AuthError", body["errorType"])
	}
	assert.Zero(t, svc.cranks)
}

func TestEmptySecretRefusesEverything(t *testing.T) {
	h := NewRouter(&fakeService{}, Config{}, nil, nil, zerolog.Nop())
	rr, _ := do(t, h, http.MethodGet, "/api/cron/crank", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, authorized("Bearer ", ""))
}

func TestCrankResponseCarriesSummary(t *testing.T) {
	svc := &fakeService{summary: crank.Summary{
		Success: true,
		Message: "Crank logic finished. Processed 1 epoch(s).",
		Details: &crank.Details{ProcessedCount: 1, Errors: []crank.RoundError{{RoundID: 4, Error: "x"}}},
	}}
	h := newTestRouter(svc, Config{})

	rr, body := do(t, h, http.MethodGet, "/api/cron/crank", testSecret)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Crank logic finished. Processed 1 epoch(s).", body["message"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, rr.Header().Get(requestIDHeader), body["requestId"])

	details := body["details"].(map[string]any)
	assert.Equal(t, float64(1), details["processedCount"])
	errs := details["errors"].([]any)
	assert.Equal(t, float64(4), errs[0].(map[string]any)["epochId"])
}

func TestFailedRunStillAnswersOK(t *testing.T) {
	svc := &fakeService{summary: crank.Summary{Success: false, Message: "An error occurred: boom"}}
	rr, body := do(t, newTestRouter(svc, Config{}), http.MethodGet, "/api/cron/crank", testSecret)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, body["success"])
}

func TestRequestIDsAreUnique(t *testing.T) {
	h := newTestRouter(&fakeService{}, Config{})
	rr1, _ := do(t, h, http.MethodGet, "/healthz", "")
	rr2, _ := do(t, h, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rr1.Header().Get(requestIDHeader))
	assert.NotEqual(t, rr1.Header().Get(requestIDHeader), rr2.Header().Get(requestIDHeader))
}

func TestSchedulerBudgetExceeded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	svc := &fakeService{tick: func(ctx context.Context) crank.TickReport {
		<-release
		return crank.TickReport{Success: true}
	}}
	h := newTestRouter(svc, Config{RunBudget: 20 * time.Millisecond})

	rr, body := do(t, h, http.MethodGet, "/api/cron/epoch-scheduler", testSecret)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "TimeoutError", body["errorType"])
	assert.Equal(t, false, body["success"])
}

func TestSchedulerWithinBudget(t *testing.T) {
	var sawDeadline bool
	svc := &fakeService{tick: func(ctx context.Context) crank.TickReport {
		_, sawDeadline = ctx.Deadline()
		return crank.TickReport{Success: true, Message: "done"}
	}}
	h := newTestRouter(svc, Config{RunBudget: time.Minute})

	rr, body := do(t, h, http.MethodGet, "/api/cron/epoch-scheduler", testSecret)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "done", body["message"])
	assert.True(t, sawDeadline)
}

func TestCloseExpiredReport(t *testing.T) {
	svc := &fakeService{close: crank.CloseReport{
		Success: true,
		Policy:  crank.CloseExpiredPolicy,
		Checked: 2,
		Closed:  []crank.ClosedRound{{RoundID: 9, Signature: "TX1"}},
	}}
	rr, body := do(t, newTestRouter(svc, Config{}), http.MethodGet, "/api/epoch/close-expired", testSecret)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["closed"], 1)
}

func TestOpenRound(t *testing.T) {
	svc := &fakeService{opened: crank.OpenedRound{RoundID: 77}}
	h := newTestRouter(svc, Config{DefaultRoundDuration: 2 * time.Hour})

	rr, body := do(t, h, http.MethodPost, "/api/epoch/open", testSecret)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2*time.Hour, svc.openedAt)
	assert.Equal(t, true, body["success"])

	rr, _ = do(t, h, http.MethodPost, "/api/epoch/open?duration=90m", testSecret)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 90*time.Minute, svc.openedAt)

	rr, body = do(t, h, http.MethodPost, "/api/epoch/open?duration=soon", testSecret)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "ValidationError", body["errorType"])

	rr, _ = do(t, h, http.MethodPost, "/api/epoch/open?duration=10s", testSecret)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	svc.openErr = errors.New("rejected")
	rr, body = do(t, h, http.MethodPost, "/api/epoch/open", testSecret)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "LedgerError", body["errorType"])

	rr, _ = do(t, h, http.MethodGet, "/api/epoch/open", testSecret)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRequestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)
	h := NewRouter(&fakeService{}, Config{Secret: testSecret}, m, reg, zerolog.Nop())

	do(t, h, http.MethodGet, "/api/cron/crank", testSecret)
	do(t, h, http.MethodGet, "/api/cron/crank", "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "epoch_crank_http")
}

func TestHandlerPanicAnswersInternalError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)
	svc := &fakeService{closePanic: "closer exploded"}
	h := NewRouter(svc, Config{Secret: testSecret}, m, reg, zerolog.Nop())

	rr, body := do(t, h, http.MethodGet, "/api/epoch/close-all", testSecret)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "InternalError", body["errorType"])
	assert.Contains(t, body["error"], "closer exploded")
	assert.Equal(t, rr.Header().Get(requestIDHeader), body["requestId"])

	svc.closePanic = nil
	rr, _ = do(t, h, http.MethodGet, "/api/epoch/close-all", testSecret)
	assert.Equal(t, http.StatusOK, rr.Code)

	out := httptest.NewRecorder()
	h.ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, out.Body.String(), `route="close-all",status="500"`)
}
