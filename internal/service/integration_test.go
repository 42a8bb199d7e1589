package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	httpHandler "crm-webhook-engine/internal/adapter/http/handler"
	"crm-webhook-engine/internal/adapter/storage/memory"
	redisStorage "crm-webhook-engine/internal/adapter/storage/redis"
	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/internal/observability"
	"crm-webhook-engine/internal/ratelimit"
	"crm-webhook-engine/internal/service"
	"crm-webhook-engine/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// receiver is a webhook endpoint that records what it was sent.
type receiver struct {
	server *httptest.Server
	status func(n int64) int

	hits     atomic.Int64
	ok       atomic.Int64
	mu       sync.Mutex
	requests []receivedRequest
}

type receivedRequest struct {
	header http.Header
	body   string
}

func newReceiver(t *testing.T, status func(n int64) int) *receiver {
	t.Helper()
	r := &receiver{status: status}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		n := r.hits.Add(1)
		r.mu.Lock()
		r.requests = append(r.requests, receivedRequest{header: req.Header.Clone(), body: string(body)})
		r.mu.Unlock()

		code := r.status(n)
		if code >= 200 && code < 300 {
			r.ok.Add(1)
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte("receiver says " + http.StatusText(code)))
	}))
	t.Cleanup(r.server.Close)
	return r
}

func always(code int) func(int64) int { return func(int64) int { return code } }

func (r *receiver) received() []receivedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]receivedRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

type testApp struct {
	server    *httptest.Server
	subs      *memory.SubscriptionRepo
	logs      *memory.DeliveryLogRepo
	records   *memory.SearchRepo
	tokens    *service.JWTTokenService
	signer    ports.Signer
	stopQueue context.CancelFunc
	queueDone chan error
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logger.New("error", false)
	metrics := observability.NewMetrics()

	app := &testApp{
		subs:    memory.NewSubscriptionRepo(),
		logs:    memory.NewDeliveryLogRepo(),
		records: memory.NewSearchRepo(),
		tokens:  service.NewJWTTokenService("integration-secret", time.Hour, "crm-webhook-engine"),
		signer:  service.NewHMACSigner(),
	}

	executor := service.NewDeliveryExecutor(resty.New(), app.signer, service.DeliveryConfig{Timeout: 2 * time.Second}, log)
	recorder := service.NewDeliveryRecorder(app.subs, app.logs, metrics, log)
	webhookSvc := service.NewWebhookService(app.subs, app.logs, executor, recorder, metrics, 0, log)
	queue := service.NewDispatchQueue(webhookSvc, 64, 2, metrics, log)

	queueCtx, stop := context.WithCancel(context.Background())
	app.stopQueue = stop
	app.queueDone = make(chan error, 1)
	go func() { app.queueDone <- queue.Run(queueCtx) }()

	rlStore := redisStorage.NewRateLimitStore(rdb)
	generous := ratelimit.Rule{Limit: 10000, Window: time.Minute}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WebhookSvc: webhookSvc,
		Queue:      queue,
		Dedup:      redisStorage.NewEventDedupStore(rdb),
		DedupTTL:   time.Hour,
		SearchSvc:  service.NewSearchService(app.records, log),
		TokenSvc:   app.tokens,
		Limiters: map[string]*ratelimit.Limiter{
			httpHandler.GroupEvents:   ratelimit.NewLimiter(rlStore, generous),
			httpHandler.GroupWebhooks: ratelimit.NewLimiter(rlStore, generous),
			httpHandler.GroupSearch:   ratelimit.NewLimiter(rlStore, generous),
		},
		Metrics:        metrics,
		HealthCheckers: []ports.HealthChecker{redisStorage.NewHealthCheck(rdb)},
		MaxBodyBytes:   1 << 20,
		Logger:         log,
	})
	app.server = httptest.NewServer(router)

	t.Cleanup(func() {
		app.server.Close()
		app.drainQueue(t)
	})
	return app
}

// drainQueue stops intake and waits for queued events to be delivered.
func (a *testApp) drainQueue(t *testing.T) {
	a.stopQueue()
	select {
	case <-a.queueDone:
		a.queueDone <- nil // allow repeated calls
	case <-time.After(10 * time.Second):
		t.Fatal("dispatch queue did not drain")
	}
}

func (a *testApp) token(t *testing.T, tenantID uuid.UUID) string {
	t.Helper()
	tok, _, err := a.tokens.Generate(tenantID, uuid.New())
	require.NoError(t, err)
	return tok
}

func (a *testApp) subscribe(tenantID uuid.UUID, url string, events ...string) domain.Subscription {
	sub := domain.Subscription{
		ID:        uuid.New(),
		TenantID:  tenantID,
		URL:       url,
		SecretKey: "secret-" + uuid.NewString()[:8],
		Events:    events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	a.subs.Save(sub)
	return sub
}

func (a *testApp) call(t *testing.T, method, path, token, body string, headers ...string) (int, json.RawMessage) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env struct {
		Data      json.RawMessage `json:"data"`
		ErrorCode string          `json:"errorCode"`
	}
	if json.Unmarshal(raw, &env) == nil && env.ErrorCode != "" {
		return resp.StatusCode, json.RawMessage(fmt.Sprintf("%q", env.ErrorCode))
	}
	if env.Data != nil {
		return resp.StatusCode, env.Data
	}
	return resp.StatusCode, raw
}

func (a *testApp) mustGetSub(t *testing.T, id uuid.UUID) *domain.Subscription {
	t.Helper()
	sub, err := a.subs.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub
}

// --- Integration Tests ---

func TestIntegration_HealthCheck(t *testing.T) {
	app := newTestApp(t)

	status, raw := app.call(t, http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), `"redis":{"status":"healthy"}`)
}

func TestIntegration_DispatchFanOutAndFailureAccounting(t *testing.T) {
	app := newTestApp(t)
	tenantID, otherTenant := uuid.New(), uuid.New()

	good := newReceiver(t, always(http.StatusOK))
	bad := newReceiver(t, always(http.StatusInternalServerError))
	unrelated := newReceiver(t, always(http.StatusOK))

	goodSub := app.subscribe(tenantID, good.server.URL, "deal.created", "deal.won")
	badSub := app.subscribe(tenantID, bad.server.URL, "deal.created")
	app.subscribe(tenantID, unrelated.server.URL, "contact.created")
	app.subscribe(otherTenant, unrelated.server.URL, "deal.created")

	status, raw := app.call(t, http.MethodPost, "/api/v1/events?wait=true", app.token(t, tenantID),
		`{"event":"deal.created","data":{"dealId":"d-1","title":"Acme <renewal>"}}`)

	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"dispatched":2}`, string(raw))
	assert.Zero(t, unrelated.hits.Load(), "other events and other tenants are not notified")

	// The receiver can verify the signature over the exact body bytes.
	reqs := good.received()
	require.Len(t, reqs, 1)
	body := reqs[0].body
	assert.True(t, app.signer.Verify(goodSub.SecretKey, body, reqs[0].header.Get("X-Webhook-Signature")))
	assert.Equal(t, "deal.created", reqs[0].header.Get("X-Webhook-Event"))
	assert.Contains(t, body, `"title":"Acme <renewal>"`)

	var payload struct {
		Event  string          `json:"event"`
		Data   json.RawMessage `json:"data"`
		SentAt string          `json:"sentAt"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, "deal.created", payload.Event)
	_, err := time.Parse("2006-01-02T15:04:05.000Z", payload.SentAt)
	assert.NoError(t, err)

	// Both receivers saw the same sentAt.
	require.Len(t, bad.received(), 1)
	assert.Contains(t, bad.received()[0].body, payload.SentAt)

	// Successful subscriber
	sub := app.mustGetSub(t, goodSub.ID)
	assert.Equal(t, int64(1), sub.SuccessCount)
	assert.Equal(t, int64(0), sub.FailureCount)
	require.NotNil(t, sub.LastTriggeredAt)

	// Failing subscriber: one failed log row, failure counter bumped, success untouched.
	sub = app.mustGetSub(t, badSub.ID)
	assert.Equal(t, int64(0), sub.SuccessCount)
	assert.Equal(t, int64(1), sub.FailureCount)

	status, raw = app.call(t, http.MethodGet, "/api/v1/webhooks/"+badSub.ID.String()+"/logs", app.token(t, tenantID), "")
	require.Equal(t, http.StatusOK, status)
	var logs []domain.DeliveryLog
	require.NoError(t, json.Unmarshal(raw, &logs))
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	require.NotNil(t, logs[0].ResponseStatus)
	assert.Equal(t, 500, *logs[0].ResponseStatus)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Equal(t, domain.FallbackDeliveryError, *logs[0].ErrorMessage)
	assert.Equal(t, "receiver says Internal Server Error", logs[0].ResponseBody)
	assert.Equal(t, bad.received()[0].body, logs[0].Payload)
}

func TestIntegration_NoSubscribers(t *testing.T) {
	app := newTestApp(t)

	status, raw := app.call(t, http.MethodPost, "/api/v1/events?wait=true", app.token(t, uuid.New()), `{"event":"deal.created"}`)

	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"dispatched":0}`, string(raw))
	assert.Zero(t, app.logs.Len())
}

func TestIntegration_UnreachableSubscriberIsIsolated(t *testing.T) {
	app := newTestApp(t)
	tenantID := uuid.New()

	gone := httptest.NewServer(http.NotFoundHandler())
	goneURL := gone.URL
	gone.Close()

	good := newReceiver(t, always(http.StatusNoContent))
	goneSub := app.subscribe(tenantID, goneURL, "proposal.sent")
	goodSub := app.subscribe(tenantID, good.server.URL, "proposal.sent")

	status, raw := app.call(t, http.MethodPost, "/api/v1/events?wait=true", app.token(t, tenantID), `{"event":"proposal.sent","data":{"id":7}}`)

	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"dispatched":2}`, string(raw))
	assert.Equal(t, int64(1), good.hits.Load())

	assert.Equal(t, int64(1), app.mustGetSub(t, goodSub.ID).SuccessCount)
	unreachable := app.mustGetSub(t, goneSub.ID)
	assert.Equal(t, int64(1), unreachable.FailureCount)

	logs, err := app.logs.ListBySubscription(context.Background(), goneSub.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].ResponseStatus)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.NotEqual(t, domain.FallbackDeliveryError, *logs[0].ErrorMessage)
}

func TestIntegration_QueuedEventsDrainOnShutdown(t *testing.T) {
	app := newTestApp(t)
	tenantID := uuid.New()
	rec := newReceiver(t, always(http.StatusOK))
	app.subscribe(tenantID, rec.server.URL, "contact.created")

	token := app.token(t, tenantID)
	for i := 0; i < 5; i++ {
		status, raw := app.call(t, http.MethodPost, "/api/v1/events", token, fmt.Sprintf(`{"event":"contact.created","data":{"n":%d}}`, i))
		require.Equal(t, http.StatusAccepted, status)
		assert.JSONEq(t, `{"queued":true}`, string(raw))
	}

	app.drainQueue(t)

	assert.Equal(t, int64(5), rec.hits.Load())
	assert.Equal(t, 5, app.logs.Len())
}

func TestIntegration_IdempotencyKey(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, uuid.New())

	first, _ := app.call(t, http.MethodPost, "/api/v1/events", token, `{"event":"deal.created"}`, "Idempotency-Key", "evt-42")
	second, raw := app.call(t, http.MethodPost, "/api/v1/events", token, `{"event":"deal.created"}`, "Idempotency-Key", "evt-42")
	otherTenant, _ := app.call(t, http.MethodPost, "/api/v1/events", app.token(t, uuid.New()), `{"event":"deal.created"}`, "Idempotency-Key", "evt-42")

	assert.Equal(t, http.StatusAccepted, first)
	assert.Equal(t, http.StatusConflict, second)
	assert.Equal(t, `"WHK_005"`, string(raw))
	assert.Equal(t, http.StatusAccepted, otherTenant, "keys are scoped per tenant")
}

func TestIntegration_TestSendAndLogRetry(t *testing.T) {
	app := newTestApp(t)
	tenantID := uuid.New()
	rec := newReceiver(t, func(n int64) int {
		if n == 1 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})
	sub := app.subscribe(tenantID, rec.server.URL, "deal.created")
	token := app.token(t, tenantID)

	status, raw := app.call(t, http.MethodPost, "/api/v1/events?wait=true", token, `{"event":"deal.created","data":{"dealId":"d-9"}}`)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"dispatched":1}`, string(raw))

	logs, err := app.logs.ListBySubscription(context.Background(), sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.False(t, logs[0].Success)

	// Replay the failed delivery.
	status, raw = app.call(t, http.MethodPost,
		"/api/v1/webhooks/"+sub.ID.String()+"/logs/"+logs[0].ID.String()+"/retry", token, "")
	require.Equal(t, http.StatusOK, status)
	var retry domain.RetryResult
	require.NoError(t, json.Unmarshal(raw, &retry))
	assert.True(t, retry.Attempt.Result.OK)
	require.NotNil(t, retry.Log)
	assert.NotEqual(t, logs[0].ID, retry.Log.ID, "retries append a new row")
	assert.Contains(t, rec.received()[1].body, `"data":{"dealId":"d-9"}`)

	// Test-send
	status, raw = app.call(t, http.MethodPost, "/api/v1/webhooks/"+sub.ID.String()+"/test", token, "")
	require.Equal(t, http.StatusOK, status)
	var test domain.TestSendResult
	require.NoError(t, json.Unmarshal(raw, &test))
	assert.True(t, test.Result.OK)
	assert.Equal(t, int64(2), test.Subscription.SuccessCount)
	assert.Equal(t, int64(1), test.Subscription.FailureCount)
	assert.NotContains(t, string(raw), sub.SecretKey)
	assert.Equal(t, "webhook.test", rec.received()[2].header.Get("X-Webhook-Event"))

	logs, err = app.logs.ListBySubscription(context.Background(), sub.ID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestIntegration_TenantIsolation(t *testing.T) {
	app := newTestApp(t)
	owner, intruder := uuid.New(), uuid.New()
	rec := newReceiver(t, always(http.StatusOK))
	sub := app.subscribe(owner, rec.server.URL, "deal.created")
	token := app.token(t, intruder)

	paths := []struct{ method, path, body string }{
		{http.MethodPost, "/api/v1/webhooks/" + sub.ID.String() + "/test", ""},
		{http.MethodPost, "/api/v1/webhooks/" + sub.ID.String() + "/retry", `{"event":"deal.created"}`},
		{http.MethodGet, "/api/v1/webhooks/" + sub.ID.String() + "/logs", ""},
	}
	for _, p := range paths {
		status, raw := app.call(t, p.method, p.path, token, p.body)
		assert.Equal(t, http.StatusNotFound, status, p.path)
		assert.Equal(t, `"WHK_001"`, string(raw), p.path)
	}

	assert.Zero(t, rec.hits.Load())
	assert.Zero(t, app.mustGetSub(t, sub.ID).TotalAttempts())
}

func TestIntegration_CounterConservationUnderLoad(t *testing.T) {
	app := newTestApp(t)
	tenantID := uuid.New()
	rec := newReceiver(t, func(n int64) int {
		if n%3 == 0 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	})
	sub := app.subscribe(tenantID, rec.server.URL, "deal.updated")
	token := app.token(t, tenantID)

	const dispatches, tests, retries = 20, 5, 5
	var wg sync.WaitGroup
	for i := 0; i < dispatches; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, _ := app.call(t, http.MethodPost, "/api/v1/events?wait=true", token, fmt.Sprintf(`{"event":"deal.updated","data":{"i":%d}}`, i))
			assert.Equal(t, http.StatusOK, status)
		}(i)
	}
	for i := 0; i < tests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _ := app.call(t, http.MethodPost, "/api/v1/webhooks/"+sub.ID.String()+"/test", token, "")
			assert.Equal(t, http.StatusOK, status)
		}()
	}
	for i := 0; i < retries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _ := app.call(t, http.MethodPost, "/api/v1/webhooks/"+sub.ID.String()+"/retry", token, `{"event":"deal.updated"}`)
			assert.Equal(t, http.StatusOK, status)
		}()
	}
	wg.Wait()

	total := int64(dispatches + tests + retries)
	final := app.mustGetSub(t, sub.ID)
	assert.Equal(t, total, rec.hits.Load())
	assert.Equal(t, total, final.TotalAttempts())
	assert.Equal(t, rec.ok.Load(), final.SuccessCount)
	assert.Equal(t, int(total), app.logs.Len())
}

func TestIntegration_Search(t *testing.T) {
	app := newTestApp(t)
	tenantID := uuid.New()
	now := time.Now().UTC()
	app.records.Add(tenantID, domain.SearchResults{
		Deals: []domain.Deal{
			{ID: uuid.New(), Title: "Acme expansion", Stage: "negotiation", UpdatedAt: now},
			{ID: uuid.New(), Title: "Acme pilot", Stage: "lost", UpdatedAt: now.AddDate(0, 0, -60)},
		},
		Contacts: []domain.Contact{{ID: uuid.New(), FirstName: "Ada", LastName: "Acme", UpdatedAt: now}},
	})

	body := `{"query":"acme%","filters":{"types":["deals","deals"],"dateRange":"30d"}}`
	status, raw := app.call(t, http.MethodPost, "/api/v1/search", app.token(t, tenantID), body)
	require.Equal(t, http.StatusOK, status)

	var resp domain.SearchResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "acme", resp.Query)
	require.Len(t, resp.Results.Deals, 1)
	assert.Equal(t, "Acme expansion", resp.Results.Deals[0].Title)
	assert.Empty(t, resp.Results.Contacts)

	// Unauthenticated callers get empty collections.
	status, raw = app.call(t, http.MethodPost, "/api/v1/search", "", body)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Empty(t, resp.Results.Deals)
	assert.NotNil(t, resp.Results.Deals)
}
