package router

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/app/repository/memrepo"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/billing"
	"github.com/brandbridge/brandbridge/internal/pkg/campaigns"
	"github.com/brandbridge/brandbridge/internal/pkg/config"
	"github.com/brandbridge/brandbridge/internal/pkg/identity"
	"github.com/brandbridge/brandbridge/internal/pkg/ledger"
	"github.com/brandbridge/brandbridge/internal/pkg/notify"
	"github.com/brandbridge/brandbridge/internal/pkg/profile"
)

const (
	webhookSecret = "whsec_router"
	adminUser     = "ops"
	adminPassword = "ops-secret"
)

type staticVerifier map[string]*identity.Identity

func (v staticVerifier) Verify(_ context.Context, credential string) (*identity.Identity, error) {
	if id, ok := v[credential]; ok {
		return id, nil
	}
	return nil, identity.ErrInvalidCredential
}

type stubProcessor struct {
	mu       sync.Mutex
	calls    int
	sessions map[string]*billing.CheckoutSession
}

func (p *stubProcessor) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	id := fmt.Sprintf("cs_router_%d", p.calls)
	s := &billing.CheckoutSession{
		ID:                id,
		URL:               "https://checkout.stripe.test/" + id,
		AmountTotal:       req.Package.PriceCents,
		Currency:          req.Currency,
		ClientReferenceID: req.UserID,
		Metadata:          req.Metadata(),
	}
	p.sessions[id] = s
	return s, nil
}

func (p *stubProcessor) GetCheckoutSession(_ context.Context, id string) (*billing.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok {
		return nil, apperror.NotFound("Checkout session not found")
	}
	cp := *s
	return &cp, nil
}

func (p *stubProcessor) pay(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[id].Paid = true
}

type webhookStore struct {
	mu     sync.Mutex
	events []models.BillingWebhookEvent
}

func (r *webhookStore) CreateWebhookEventIfNotExists(_ context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			return false, &e, nil
		}
	}
	event.ID = uint(len(r.events) + 1)
	r.events = append(r.events, *event)
	return true, event, nil
}

func (r *webhookStore) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.events[id-1].ProcessedAt = &now
	r.events[id-1].ProcessingError = processingError
	return nil
}

func (r *webhookStore) ListWebhookEvents(_ context.Context, filter billing.WebhookFilter, limit, offset int) ([]models.BillingWebhookEvent, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.BillingWebhookEvent, 0, len(r.events))
	for i := len(r.events) - 1; i >= 0; i-- {
		if filter.Matches(&r.events[i]) {
			out = append(out, r.events[i])
		}
	}
	return out, int64(len(out)), nil
}

type testEnv struct {
	app       *fiber.App
	store     *memrepo.Store
	processor *stubProcessor
	ledger    *ledger.Service
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	store := memrepo.New()
	repos := store.Repositories()
	resolver := profile.NewResolver(repos.User, repos.Profile)
	l := ledger.NewService(repos.Ledger, resolver)
	notifications := notify.NewService(repos.Notification, nil)
	processor := &stubProcessor{sessions: map[string]*billing.CheckoutSession{}}
	billingSvc := billing.NewService(billing.Config{
		Currency:      "usd",
		PublicBaseURL: "https://app.example.com",
		WebhookSecret: webhookSecret,
	}, &webhookStore{}, processor, l, notifications, nil)

	cfg := &config.Config{App: config.AppConfig{
		AdminUser:       adminUser,
		AdminPassword:   adminPassword,
		RateLimitMax:    rateLimit,
		RateLimitWindow: time.Minute,
	}}

	app := fiber.New(fiber.Config{ErrorHandler: apperror.ErrorHandler})
	InstallRouter(app, &Dependencies{
		Config: cfg,
		Verifier: staticVerifier{
			"biz-token": {Subject: "biz", Email: "biz@example.com", EmailVerified: true},
			"inf-token": {Subject: "inf", Email: "inf@example.com", EmailVerified: true},
		},
		Users:         repos.User,
		Ledger:        l,
		Profiles:      resolver,
		Billing:       billingSvc,
		Notifications: notifications,
		Campaigns:     campaigns.NewService(repos.Campaign, nil, l, notifications, 100),
	})
	return &testEnv{app: app, store: store, processor: processor, ledger: l}
}

type response struct {
	status int
	body   map[string]interface{}
	header http.Header
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}, headers ...string) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return response{status: resp.StatusCode, body: out, header: resp.Header}
}

func (e *testEnv) onboard(t *testing.T, token, role string) {
	t.Helper()
	r := e.do(t, "POST", "/user/role", token, map[string]string{"role": role})
	require.Equal(t, fiber.StatusOK, r.status, r.body)
}

func (e *testEnv) buy(t *testing.T, token, packageID string) string {
	t.Helper()
	r := e.do(t, "POST", "/payments/create-payment-intent", token, map[string]string{"packageId": packageID})
	require.Equal(t, fiber.StatusOK, r.status, r.body)
	return r.body["sessionId"].(string)
}

func TestPublicRoutes(t *testing.T) {
	e := newTestEnv(t, 100)

	r := e.do(t, "GET", "/health", "", nil)
	assert.Equal(t, fiber.StatusOK, r.status)

	r = e.do(t, "GET", "/payments/packages", "", nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Len(t, r.body["packages"], 3)

	r = e.do(t, "GET", "/nowhere", "", nil)
	assert.Equal(t, fiber.StatusNotFound, r.status)
	assert.Equal(t, "not_found", r.body["error"])

	resp, err := e.app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "http_requests_total")
}

func TestAuthenticatedRoutesRequireBearer(t *testing.T) {
	e := newTestEnv(t, 100)

	for _, path := range []string{"/user/tokens", "/user/transactions", "/campaigns"} {
		r := e.do(t, "GET", path, "", nil)
		assert.Equal(t, fiber.StatusUnauthorized, r.status, path)
		assert.Equal(t, "unauthenticated", r.body["error"], path)
	}

	r := e.do(t, "POST", "/payments/create-payment-intent", "expired", map[string]string{"packageId": "small"})
	assert.Equal(t, fiber.StatusUnauthorized, r.status)
	assert.Zero(t, e.processor.calls, "no session without a valid credential")
}

func TestCreatePaymentIntent(t *testing.T) {
	e := newTestEnv(t, 100)

	r := e.do(t, "POST", "/payments/create-payment-intent", "biz-token", map[string]string{"packageId": "small"})
	assert.Equal(t, fiber.StatusForbidden, r.status, "no checkout before a role is chosen")
	assert.Equal(t, "forbidden", r.body["error"])
	assert.Zero(t, e.processor.calls)

	e.onboard(t, "biz-token", models.ROLE_BUSINESS)

	r = e.do(t, "POST", "/payments/create-payment-intent", "biz-token", map[string]string{"packageId": "xl"})
	assert.Equal(t, fiber.StatusBadRequest, r.status)
	assert.Equal(t, "invalid_package", r.body["error"])
	assert.Zero(t, e.processor.calls)

	r = e.do(t, "POST", "/payments/create-payment-intent", "biz-token", map[string]string{"packageId": "small"}, "Idempotency-Key", "k-1")
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Equal(t, "small", r.body["packageId"])
	assert.EqualValues(t, 1000, r.body["tokenCount"])
	assert.EqualValues(t, 9900, r.body["priceCents"])
	assert.NotEmpty(t, r.body["url"])

	// creating a session is not a payment
	r = e.do(t, "GET", "/user/tokens", "biz-token", nil)
	assert.EqualValues(t, 0, r.body["balance"])
}

func TestConfirmPaymentCreditsOnce(t *testing.T) {
	e := newTestEnv(t, 100)
	e.onboard(t, "biz-token", models.ROLE_BUSINESS)
	sessionID := e.buy(t, "biz-token", "small")

	r := e.do(t, "POST", "/payments/confirm", "biz-token", map[string]string{"sessionId": sessionID})
	assert.Equal(t, fiber.StatusBadRequest, r.status, "unpaid session")

	e.processor.pay(sessionID)
	r = e.do(t, "POST", "/payments/confirm", "biz-token", map[string]string{"sessionId": sessionID})
	require.Equal(t, fiber.StatusOK, r.status, r.body)
	assert.Equal(t, false, r.body["alreadyCredited"])

	r = e.do(t, "POST", "/payments/confirm", "biz-token", map[string]string{"sessionId": sessionID})
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Equal(t, true, r.body["alreadyCredited"])

	r = e.do(t, "GET", "/user/tokens", "biz-token", nil)
	assert.EqualValues(t, 1000, r.body["balance"])

	r = e.do(t, "GET", "/user/notifications", "biz-token", nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.EqualValues(t, 1, r.body["total"])

	e.onboard(t, "inf-token", models.ROLE_INFLUENCER)
	r = e.do(t, "POST", "/payments/confirm", "inf-token", map[string]string{"sessionId": sessionID})
	assert.Equal(t, fiber.StatusForbidden, r.status)
}

func signedHeader(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeWebhook(t *testing.T) {
	e := newTestEnv(t, 100)
	e.onboard(t, "biz-token", models.ROLE_BUSINESS)
	sessionID := e.buy(t, "biz-token", "medium")
	e.processor.pay(sessionID)
	s, err := e.processor.GetCheckoutSession(context.Background(), sessionID)
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]interface{}{
		"id":     "evt_router_1",
		"object": "event",
		"type":   billing.EventCheckoutCompleted,
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":                  s.ID,
				"object":              "checkout.session",
				"payment_status":      "paid",
				"amount_total":        s.AmountTotal,
				"currency":            s.Currency,
				"client_reference_id": s.ClientReferenceID,
				"metadata":            s.Metadata,
			},
		},
	})
	require.NoError(t, err)

	post := func(sig string) response {
		req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Stripe-Signature", sig)
		resp, err := e.app.Test(req, -1)
		require.NoError(t, err)
		out := map[string]interface{}{}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return response{status: resp.StatusCode, body: out}
	}

	r := post("t=1,v1=deadbeef")
	assert.Equal(t, fiber.StatusUnauthorized, r.status)

	r = post(signedHeader(payload))
	require.Equal(t, fiber.StatusOK, r.status, r.body)
	assert.Nil(t, r.body["duplicate"])

	r = post(signedHeader(payload))
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Equal(t, true, r.body["duplicate"])

	r = e.do(t, "GET", "/user/tokens", "biz-token", nil)
	assert.EqualValues(t, 3000, r.body["balance"])
	assert.Len(t, e.store.Transactions("biz"), 1)
}

func TestOnboardingAndProfile(t *testing.T) {
	e := newTestEnv(t, 100)

	r := e.do(t, "GET", "/user/profile", "inf-token", nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Equal(t, "", r.body["role"])
	assert.Nil(t, r.body["profile"])

	e.onboard(t, "inf-token", models.ROLE_INFLUENCER)
	e.onboard(t, "inf-token", models.ROLE_INFLUENCER)

	r = e.do(t, "POST", "/user/role", "inf-token", map[string]string{"role": models.ROLE_BUSINESS})
	assert.Equal(t, fiber.StatusBadRequest, r.status)
	assert.Equal(t, "invalid_request", r.body["error"])

	r = e.do(t, "GET", "/user/profile", "inf-token", nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Equal(t, models.ROLE_INFLUENCER, r.body["role"])
	assert.NotNil(t, r.body["profile"])
}

func TestTransactionsPagination(t *testing.T) {
	e := newTestEnv(t, 100)
	e.onboard(t, "biz-token", models.ROLE_BUSINESS)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		e.store.SetClock(func() time.Time { return at })
		_, err := e.ledger.RecordCredit(ctx, "biz", int64(i), models.TransactionTypePurchase, fmt.Sprintf("credit %d", i))
		require.NoError(t, err)
	}

	r := e.do(t, "GET", "/user/transactions?limit=2", "biz-token", nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.EqualValues(t, 5, r.body["total"])
	txs := r.body["transactions"].([]interface{})
	require.Len(t, txs, 2)
	assert.EqualValues(t, 5, txs[0].(map[string]interface{})["amount"])
	assert.EqualValues(t, 4, txs[1].(map[string]interface{})["amount"])

	r = e.do(t, "GET", "/user/transactions?limit=-3&offset=-1", "biz-token", nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.EqualValues(t, 50, r.body["limit"])
	assert.EqualValues(t, 0, r.body["offset"])
}

func TestCampaignRoutes(t *testing.T) {
	e := newTestEnv(t, 100)
	e.onboard(t, "biz-token", models.ROLE_BUSINESS)
	e.onboard(t, "inf-token", models.ROLE_INFLUENCER)
	input := map[string]interface{}{"title": "Spring drop", "description": "Looking for creators", "niche": "beauty", "budgetCents": 100000}

	r := e.do(t, "POST", "/campaigns", "biz-token", input)
	assert.Equal(t, fiber.StatusUnprocessableEntity, r.status)
	assert.Equal(t, "insufficient_balance", r.body["error"])

	r = e.do(t, "POST", "/campaigns", "inf-token", input)
	assert.Equal(t, fiber.StatusForbidden, r.status)

	_, err := e.ledger.RecordCredit(context.Background(), "biz", 150, models.TransactionTypePurchase, "seed")
	require.NoError(t, err)
	r = e.do(t, "POST", "/campaigns", "biz-token", input)
	require.Equal(t, fiber.StatusCreated, r.status, r.body)
	campaign := r.body["campaign"].(map[string]interface{})
	assert.Equal(t, models.CampaignStatusActive, campaign["status"])

	r = e.do(t, "GET", "/campaigns/"+campaign["id"].(string), "inf-token", nil)
	assert.Equal(t, fiber.StatusOK, r.status)

	r = e.do(t, "GET", "/campaigns", "inf-token", nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.EqualValues(t, 1, r.body["total"])

	r = e.do(t, "GET", "/campaigns?mine=true", "biz-token", nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.EqualValues(t, 2, r.body["total"], "the unfunded draft is listed for its owner")

	r = e.do(t, "GET", "/user/tokens", "biz-token", nil)
	assert.EqualValues(t, 50, r.body["balance"])
}

func TestNotificationRoutes(t *testing.T) {
	e := newTestEnv(t, 100)
	e.onboard(t, "biz-token", models.ROLE_BUSINESS)
	for i := 0; i < 2; i++ {
		e.buy(t, "biz-token", "small")
		id := fmt.Sprintf("cs_router_%d", i+1)
		e.processor.pay(id)
		r := e.do(t, "POST", "/payments/confirm", "biz-token", map[string]string{"sessionId": id})
		require.Equal(t, fiber.StatusOK, r.status)
	}

	r := e.do(t, "GET", "/user/notifications?unread=true", "biz-token", nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.EqualValues(t, 2, r.body["unread"])
	first := r.body["notifications"].([]interface{})[0].(map[string]interface{})
	path := fmt.Sprintf("/user/notifications/%v/read", first["id"])

	r = e.do(t, "POST", path, "biz-token", nil)
	assert.Equal(t, fiber.StatusOK, r.status)
	r = e.do(t, "POST", path, "biz-token", nil)
	assert.Equal(t, fiber.StatusOK, r.status, "marking read twice is fine")

	r = e.do(t, "POST", "/user/notifications/read-all", "biz-token", nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.EqualValues(t, 1, r.body["updated"])

	r = e.do(t, "POST", "/user/notifications/abc/read", "biz-token", nil)
	assert.Equal(t, fiber.StatusBadRequest, r.status)

	r = e.do(t, "GET", "/user/notifications/stream", "biz-token", nil)
	assert.Equal(t, fiber.StatusBadGateway, r.status, "stream needs a subscriber")
}

func TestAdminRoutes(t *testing.T) {
	e := newTestEnv(t, 100)
	e.onboard(t, "biz-token", models.ROLE_BUSINESS)
	basic := func(user, pass string) []string {
		req := httptest.NewRequest("GET", "/", nil)
		req.SetBasicAuth(user, pass)
		return []string{"Authorization", req.Header.Get("Authorization")}
	}

	r := e.do(t, "POST", "/admin/ledger/adjust", "", map[string]interface{}{"userId": "biz", "amount": 10, "description": "goodwill"})
	assert.Equal(t, fiber.StatusUnauthorized, r.status)

	r = e.do(t, "POST", "/admin/ledger/adjust", "", map[string]interface{}{"userId": "biz", "amount": 10, "description": "goodwill"}, basic(adminUser, "wrong")...)
	assert.Equal(t, fiber.StatusUnauthorized, r.status)

	r = e.do(t, "POST", "/admin/ledger/adjust", "", map[string]interface{}{"userId": "biz", "amount": 25, "description": "goodwill"}, basic(adminUser, adminPassword)...)
	require.Equal(t, fiber.StatusOK, r.status, r.body)
	assert.EqualValues(t, 25, r.body["balance"])

	r = e.do(t, "POST", "/admin/ledger/adjust", "", map[string]interface{}{"userId": "biz", "amount": -40, "description": "chargeback"}, basic(adminUser, adminPassword)...)
	assert.Equal(t, fiber.StatusUnprocessableEntity, r.status)

	r = e.do(t, "POST", "/admin/ledger/adjust", "", map[string]interface{}{"userId": "biz", "amount": 0, "description": "noop"}, basic(adminUser, adminPassword)...)
	assert.Equal(t, fiber.StatusBadRequest, r.status)

	e.store.SetBalance(models.ProfileKindBusiness, "biz", 999)
	r = e.do(t, "POST", "/admin/ledger/reconcile/biz", "", nil, basic(adminUser, adminPassword)...)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Equal(t, true, r.body["repaired"])
	assert.EqualValues(t, 25, r.body["ledger_sum"])

	r = e.do(t, "GET", "/admin/webhooks", "", nil, basic(adminUser, adminPassword)...)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.EqualValues(t, 0, r.body["total"])

	r = e.do(t, "GET", "/admin/jobs", "", nil, basic(adminUser, adminPassword)...)
	require.Equal(t, fiber.StatusBadGateway, r.status)
	assert.Equal(t, "upstream_unavailable", r.body["error"])
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, 2)

	for i := 0; i < 2; i++ {
		r := e.do(t, "GET", "/user/tokens", "biz-token", nil)
		require.Equal(t, fiber.StatusOK, r.status)
	}
	r := e.do(t, "GET", "/user/tokens", "biz-token", nil)
	assert.Equal(t, fiber.StatusTooManyRequests, r.status)
	assert.Equal(t, "rate_limited", r.body["error"])

	// counters are per user
	r = e.do(t, "GET", "/user/tokens", "inf-token", nil)
	assert.Equal(t, fiber.StatusOK, r.status)
}
