package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/app/repository/memrepo"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/ledger"
	"github.com/brandbridge/brandbridge/internal/pkg/notify"
	"github.com/brandbridge/brandbridge/internal/pkg/profile"
)

const testWebhookSecret = "whsec_test"

type fakeProcessor struct {
	mu       sync.Mutex
	created  []CheckoutRequest
	sessions map[string]*CheckoutSession
	err      error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{sessions: map[string]*CheckoutSession{}}
}

func (p *fakeProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.created = append(p.created, req)
	id := fmt.Sprintf("cs_test_%d", len(p.created))
	s := &CheckoutSession{
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

func (p *fakeProcessor) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok {
		return nil, apperror.NotFound("Checkout session not found")
	}
	cp := *s
	return &cp, nil
}

func (p *fakeProcessor) markPaid(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[id].Paid = true
}

type memWebhookRepo struct {
	mu      sync.Mutex
	events  []models.BillingWebhookEvent
	markErr error
}

func (r *memWebhookRepo) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].Provider == event.Provider && r.events[i].ProviderEventID == event.ProviderEventID {
			stored := r.events[i]
			return false, &stored, nil
		}
	}
	event.ID = uint(len(r.events) + 1)
	event.CreatedAt = time.Now()
	r.events = append(r.events, *event)
	stored := *event
	return true, &stored, nil
}

func (r *memWebhookRepo) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return r.markErr
	}
	for i := range r.events {
		if r.events[i].ID == id {
			now := time.Now()
			r.events[i].ProcessedAt = &now
			r.events[i].ProcessingError = processingError
			return nil
		}
	}
	return errors.New("not found")
}

func (r *memWebhookRepo) ListWebhookEvents(ctx context.Context, filter WebhookFilter, limit, offset int) ([]models.BillingWebhookEvent, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BillingWebhookEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		if filter.Matches(&r.events[i]) {
			out = append(out, r.events[i])
		}
	}
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

type recordingReceipts struct {
	mu  sync.Mutex
	txs []uint
}

func (r *recordingReceipts) EnqueueReceipt(ctx context.Context, userID string, tx *models.TokenTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx.ID)
	return nil
}

type fixture struct {
	svc       *Service
	store     *memrepo.Store
	ledger    *ledger.Service
	processor *fakeProcessor
	webhooks  *memWebhookRepo
	receipts  *recordingReceipts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memrepo.New()
	repos := store.Repositories()
	l := ledger.NewService(repos.Ledger, profile.NewResolver(repos.User, repos.Profile))
	f := &fixture{
		store:     store,
		ledger:    l,
		processor: newFakeProcessor(),
		webhooks:  &memWebhookRepo{},
		receipts:  &recordingReceipts{},
	}
	f.svc = NewService(Config{
		Currency:      "USD",
		PublicBaseURL: "https://app.example.com/",
		WebhookSecret: testWebhookSecret,
	}, f.webhooks, f.processor, l, notify.NewService(repos.Notification, nil), f.receipts)

	ctx := context.Background()
	_, _, err := repos.User.Ensure(ctx, &models.User{ID: "biz"})
	require.NoError(t, err)
	require.NoError(t, repos.User.SetRole(ctx, "biz", models.ROLE_BUSINESS))
	return f
}

func (f *fixture) paidSession(t *testing.T, userID, packageID string) *CheckoutSession {
	t.Helper()
	res, err := f.svc.CreateCheckout(context.Background(), userID, "", packageID, "")
	require.NoError(t, err)
	f.processor.markPaid(res.SessionID)
	s, err := f.processor.GetCheckoutSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	return s
}

func TestCreateCheckoutRejectsUnknownPackageBeforeProcessor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateCheckout(context.Background(), "biz", "", "xl", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrInvalidPackage))
	assert.Empty(t, f.processor.created)
}

func TestCreateCheckoutRequiresRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.store.Repositories().User.Ensure(ctx, &models.User{ID: "newbie"})
	require.NoError(t, err)

	_, err = f.svc.CreateCheckout(ctx, "newbie", "", "small", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
	assert.Empty(t, f.processor.created)

	_, err = f.svc.CreateCheckout(ctx, "ghost", "", "small", "")
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
	assert.Empty(t, f.processor.created)

	// once onboarded the same user can buy, and the paid session is credited
	require.NoError(t, f.store.Repositories().User.SetRole(ctx, "newbie", models.ROLE_INFLUENCER))
	session := f.paidSession(t, "newbie", "small")
	res, err := f.svc.ConfirmPurchase(ctx, session, "webhook")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Transaction.Amount)
	assert.Len(t, f.store.Transactions("newbie"), 1)
}

func TestCreateCheckoutSendsPackageMetadata(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateCheckout(context.Background(), "biz", "owner@example.com", "small", "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "small", res.PackageID)
	assert.Equal(t, int64(1000), res.TokenCount)
	assert.Equal(t, int64(9900), res.PriceCents)
	assert.Equal(t, "usd", res.Currency)
	assert.NotEmpty(t, res.URL)

	require.Len(t, f.processor.created, 1)
	req := f.processor.created[0]
	assert.Equal(t, "idem-1", req.IdempotencyKey)
	assert.Equal(t, "owner@example.com", req.Email)
	assert.Equal(t, "https://app.example.com/payments/cancel", req.CancelURL)
	assert.Contains(t, req.SuccessURL, "https://app.example.com/payments/success")
	assert.Equal(t, map[string]string{
		MetadataUserID:      "biz",
		MetadataPackageID:   "small",
		MetadataTokenCount:  "1000",
		MetadataPackageName: "Starter Pack",
	}, req.Metadata())
}

func TestCreateCheckoutProcessorFailure(t *testing.T) {
	f := newFixture(t)
	f.processor.err = apperror.Upstream("failed to create checkout session", errors.New("connection refused"))

	_, err := f.svc.CreateCheckout(context.Background(), "biz", "", "medium", "")
	require.Error(t, err)
	assert.Equal(t, apperror.KindUpstreamUnavailable, apperror.KindOf(err))
}

func TestConfirmPurchaseCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.paidSession(t, "biz", "small")

	first, err := f.svc.ConfirmPurchase(ctx, session, "webhook")
	require.NoError(t, err)
	assert.False(t, first.AlreadyCredited)
	assert.Equal(t, int64(1000), first.Transaction.Amount)
	assert.Equal(t, models.TransactionTypePurchase, first.Transaction.Type)

	second, err := f.svc.ConfirmPurchase(ctx, session, "poll")
	require.NoError(t, err)
	assert.True(t, second.AlreadyCredited)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	balance, err := f.ledger.GetBalance(ctx, "biz")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
	assert.Len(t, f.store.Transactions("biz"), 1)

	notes := f.store.Notifications("biz")
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationTypeTokenPurchase, notes[0].Type)
	assert.Equal(t, []uint{first.Transaction.ID}, f.receipts.txs)
}

func TestConfirmPurchaseConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.paidSession(t, "biz", "medium")

	var wg sync.WaitGroup
	results := make([]*ConfirmResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.ConfirmPurchase(ctx, session, "webhook")
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	credited := 0
	for _, r := range results {
		require.NotNil(t, r)
		if !r.AlreadyCredited {
			credited++
		}
	}
	assert.Equal(t, 1, credited)
	balance, err := f.ledger.GetBalance(ctx, "biz")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), balance)
	assert.Len(t, f.store.Notifications("biz"), 1)
}

func TestConfirmPurchaseRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unpaid, err := f.svc.CreateCheckout(ctx, "biz", "", "small", "")
	require.NoError(t, err)
	unpaidSession, err := f.processor.GetCheckoutSession(ctx, unpaid.SessionID)
	require.NoError(t, err)

	wrongAmount := f.paidSession(t, "biz", "small")
	wrongAmount.AmountTotal = 100

	wrongCurrency := f.paidSession(t, "biz", "small")
	wrongCurrency.Currency = "eur"

	unknownPackage := f.paidSession(t, "biz", "small")
	unknownPackage.Metadata[MetadataPackageID] = "xl"

	tests := []struct {
		name    string
		session *CheckoutSession
		kind    apperror.Kind
	}{
		{name: "nil session", session: nil, kind: apperror.KindInvalidRequest},
		{name: "unpaid", session: unpaidSession, kind: apperror.KindInvalidRequest},
		{name: "amount mismatch", session: wrongAmount, kind: apperror.KindInvalidRequest},
		{name: "currency mismatch", session: wrongCurrency, kind: apperror.KindInvalidRequest},
		{name: "unknown package", session: unknownPackage, kind: apperror.KindInvalidPackage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ConfirmPurchase(ctx, tt.session, "poll")
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperror.KindOf(err))
		})
	}

	assert.Empty(t, f.store.Transactions("biz"))
	assert.Empty(t, f.store.Notifications("biz"))
}

func TestConfirmSessionChecksOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.paidSession(t, "biz", "large")

	_, err := f.svc.ConfirmSession(ctx, "intruder", session.ID)
	assert.True(t, errors.Is(err, apperror.ErrForbidden))

	_, err = f.svc.ConfirmSession(ctx, "biz", "cs_missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	res, err := f.svc.ConfirmSession(ctx, "biz", session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Transaction.Amount)
}

func signPayload(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEvent(t *testing.T, eventID, eventType string, s *CheckoutSession) []byte {
	t.Helper()
	paymentStatus := "unpaid"
	if s.Paid {
		paymentStatus = "paid"
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":     eventID,
		"object": "event",
		"type":   eventType,
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":                  s.ID,
				"object":              "checkout.session",
				"payment_status":      paymentStatus,
				"amount_total":        s.AmountTotal,
				"currency":            s.Currency,
				"client_reference_id": s.ClientReferenceID,
				"metadata":            s.Metadata,
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func TestHandleStripeWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.paidSession(t, "biz", "small")
	payload := checkoutEvent(t, "evt_1", EventCheckoutCompleted, session)
	header := signPayload(payload, testWebhookSecret, time.Now().Unix())

	outcome, err := f.svc.HandleStripeWebhook(ctx, payload, header)
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, int64(1000), outcome.Result.Transaction.Amount)

	again, err := f.svc.HandleStripeWebhook(ctx, payload, header)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Nil(t, again.Result)

	balance, err := f.ledger.GetBalance(ctx, "biz")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
	assert.Len(t, f.store.Notifications("biz"), 1)

	page, err := f.svc.ListWebhookEvents(ctx, WebhookFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	assert.True(t, page.Items[0].IsProcessed())
	assert.Equal(t, session.ID, page.Items[0].CheckoutSessionID)

	page, err = f.svc.ListWebhookEvents(ctx, WebhookFilter{SessionID: " " + session.ID + " "}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	page, err = f.svc.ListWebhookEvents(ctx, WebhookFilter{SessionID: "cs_other"}, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	page, err = f.svc.ListWebhookEvents(ctx, WebhookFilter{FailedOnly: true}, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestHandleStripeWebhookSurvivesMarkFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.paidSession(t, "biz", "small")
	payload := checkoutEvent(t, "evt_mark", EventCheckoutCompleted, session)
	header := signPayload(payload, testWebhookSecret, time.Now().Unix())
	f.webhooks.markErr = errors.New("deadlock found when trying to get lock")

	outcome, err := f.svc.HandleStripeWebhook(ctx, payload, header)
	require.NoError(t, err, "the credit stands even when the event row cannot be updated")
	require.NotNil(t, outcome.Result)
	assert.False(t, outcome.Result.AlreadyCredited)
	assert.False(t, f.webhooks.events[0].IsProcessed())

	// the event is still open, so a redelivery confirms again and finds the credit
	again, err := f.svc.HandleStripeWebhook(ctx, payload, header)
	require.NoError(t, err)
	require.NotNil(t, again.Result)
	assert.True(t, again.Result.AlreadyCredited)
	assert.Len(t, f.store.Transactions("biz"), 1)

	f.webhooks.markErr = nil
	_, err = f.svc.HandleStripeWebhook(ctx, payload, header)
	require.NoError(t, err)
	assert.True(t, f.webhooks.events[0].IsProcessed())
}

func TestHandleStripeWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	session := f.paidSession(t, "biz", "small")
	payload := checkoutEvent(t, "evt_forged", EventCheckoutCompleted, session)

	_, err := f.svc.HandleStripeWebhook(context.Background(), payload, signPayload(payload, "wrong", time.Now().Unix()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrUnauthenticated))
	assert.Empty(t, f.webhooks.events)
	assert.Empty(t, f.store.Transactions("biz"))
}

func TestHandleStripeWebhookIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	unpaid, err := f.svc.CreateCheckout(context.Background(), "biz", "", "small", "")
	require.NoError(t, err)
	session, err := f.processor.GetCheckoutSession(context.Background(), unpaid.SessionID)
	require.NoError(t, err)

	payload := checkoutEvent(t, "evt_2", EventCheckoutCompleted, session)
	outcome, err := f.svc.HandleStripeWebhook(context.Background(), payload, signPayload(payload, testWebhookSecret, time.Now().Unix()))
	require.NoError(t, err)
	assert.True(t, outcome.Ignored)
	assert.Empty(t, f.store.Transactions("biz"))
}

func TestLookupPackage(t *testing.T) {
	p, ok := LookupPackage(" medium ")
	require.True(t, ok)
	assert.Equal(t, int64(3000), p.Tokens)
	assert.Equal(t, int64(24900), p.PriceCents)

	_, ok = LookupPackage("xl")
	assert.False(t, ok)
	_, ok = LookupPackage("SMALL")
	assert.False(t, ok)
	assert.Len(t, Packages(), 3)
}
