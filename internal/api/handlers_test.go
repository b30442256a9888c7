package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owanbe/settlement/internal/config"
	"github.com/owanbe/settlement/internal/engine"
	"github.com/owanbe/settlement/internal/gateway"
	"github.com/owanbe/settlement/internal/models"
	"github.com/owanbe/settlement/internal/store"
)

const testSecret = "sk_test_webhook"

func sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// fakeLedger implements LedgerStore in memory, routing vendor mutations
// through the same guard rules the real store applies.
type fakeLedger struct {
	gifts   map[string]*models.Gift
	vendors map[int64]*models.Vendor
}

func (f *fakeLedger) GetGiftByEventLink(_ context.Context, link string) (*models.Gift, error) {
	g, ok := f.gifts[link]
	if !ok {
		return nil, store.ErrGiftNotFound
	}
	return g, nil
}

func (f *fakeLedger) SchedulePayment(_ context.Context, vendorID, userID int64, req models.SchedulePaymentRequest) (*models.Vendor, error) {
	v, ok := f.vendors[vendorID]
	if !ok {
		return nil, store.ErrVendorNotFound
	}
	if err := store.ScheduleGuard(v, userID); err != nil {
		return nil, err
	}
	due := v.DueDate
	if req.DueDate != nil {
		due = req.DueDate
	}
	if due == nil {
		return nil, errors.New("vendor has no due date")
	}
	release := store.ScheduleReleaseDate(*due)
	v.Status = models.VendorScheduled
	v.ScheduledAmount += req.Amount
	v.DueDate = due
	v.ReleaseDate = &release
	v.Email = req.VendorEmail
	v.AccountNumber = req.AccountNumber
	v.BankCode = req.BankCode
	v.AccountName = req.AccountName
	cp := *v
	return &cp, nil
}

func (f *fakeLedger) CancelScheduled(_ context.Context, vendorID, userID int64, now time.Time) (*models.Vendor, error) {
	v, ok := f.vendors[vendorID]
	if !ok {
		return nil, store.ErrVendorNotFound
	}
	if err := store.CancelGuard(v, userID, now); err != nil {
		return nil, err
	}
	v.Status = models.VendorCancelled
	v.ScheduledAmount = 0
	v.ReleaseDate = nil
	cp := *v
	return &cp, nil
}

// settleStore is the minimal engine.Store for exercising settlement paths.
type settleStore struct {
	contributions []models.Contribution
	wallet        int64
}

func (s *settleStore) GetGift(_ context.Context, id int64) (*models.Gift, error) {
	if id != 1 {
		return nil, errors.New("gift not found")
	}
	return &models.Gift{ID: 1, UserID: 10, EventLink: "ada-weds", Title: "Ada weds Obi"}, nil
}

func (s *settleStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	return &models.User{ID: id, Email: "ada@example.com"}, nil
}

func (s *settleStore) CreateContribution(_ context.Context, c *models.Contribution, _, credit int64) (*models.Contribution, bool, error) {
	for i := range s.contributions {
		if s.contributions[i].Reference == c.Reference || s.contributions[i].TransactionID == c.TransactionID {
			return &s.contributions[i], false, nil
		}
	}
	c.ID = int64(len(s.contributions) + 1)
	s.contributions = append(s.contributions, *c)
	s.wallet += credit
	return c, true, nil
}

func (s *settleStore) IncrementAsoebiSold(context.Context, int64, int) error { return nil }
func (s *settleStore) UpsertAsoebiGuest(context.Context, *int64, int64, int64, string, string, string) error {
	return nil
}
func (s *settleStore) CreateReferralPayout(context.Context, *models.ReferralTransaction) error {
	return nil
}

type stubVerifier struct {
	data *gateway.VerifyData
	err  error
}

func (v *stubVerifier) VerifyTransaction(context.Context, string) (*gateway.VerifyData, error) {
	return v.data, v.err
}

func testLedger() *fakeLedger {
	due := time.Now().Add(48 * time.Hour)
	return &fakeLedger{
		gifts: map[string]*models.Gift{
			"ada-weds": {ID: 1, UserID: 10, EventLink: "ada-weds", Title: "Ada weds Obi"},
		},
		vendors: map[int64]*models.Vendor{
			7: {ID: 7, GiftID: 1, UserID: 10, Name: "Caterer", AmountAgreed: 500_000, DueDate: &due},
		},
	}
}

func newTestHandler(ledger *fakeLedger, settle *settleStore, verifier engine.Verifier) *Handler {
	cfg := &config.Config{WebhookSecret: testSecret}
	var eng *engine.Engine
	if verifier != nil {
		eng = engine.New(settle, verifier, nil)
	}
	return NewHandler(ledger, eng, nil, cfg)
}

func postWebhook(h *Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contributions/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("x-paystack-signature", signature)
	}
	rec := httptest.NewRecorder()
	h.WebhookHandler(rec, req)
	return rec
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	h := newTestHandler(nil, nil, nil)
	rec := postWebhook(h, []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newTestHandler(nil, nil, nil)
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`)
	rec := postWebhook(h, body, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	// Engine is nil: reaching settlement would panic, proving it is never
	// touched for non-charge events.
	h := newTestHandler(nil, nil, nil)
	body := []byte(`{"event":"transfer.success","data":{"reference":"ref-1"}}`)
	rec := postWebhook(h, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookAcksUnparseableBody(t *testing.T) {
	h := newTestHandler(nil, nil, nil)
	body := []byte(`not json at all`)
	rec := postWebhook(h, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookSettlesVerifiedCharge(t *testing.T) {
	settle := &settleStore{}
	meta, _ := json.Marshal(models.ChargeMetadata{GiftID: 1, ContributorEmail: "ngozi@example.com"})
	verifier := &stubVerifier{data: &gateway.VerifyData{
		ID: 42, Status: "success", Reference: "ref-1", Amount: 100_000, Metadata: meta,
	}}
	h := newTestHandler(nil, settle, verifier)

	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`)
	rec := postWebhook(h, body, sign(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, settle.contributions, 1)
	assert.Equal(t, int64(95_000), settle.wallet)
}

func TestWebhookAcksFailedVerificationWithoutSettling(t *testing.T) {
	settle := &settleStore{}
	verifier := &stubVerifier{data: &gateway.VerifyData{ID: 42, Status: "failed", Reference: "ref-1"}}
	h := newTestHandler(nil, settle, verifier)

	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`)
	rec := postWebhook(h, body, sign(body))

	// 200 so the provider stops retrying, but nothing was booked.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, settle.contributions)
	assert.Equal(t, int64(0), settle.wallet)
}

func postVerifyPayment(h *Handler, eventLink string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contributions/"+eventLink+"/verify-payment",
		bytes.NewReader([]byte(body)))
	req = mux.SetURLVars(req, map[string]string{"eventLink": eventLink})
	rec := httptest.NewRecorder()
	h.VerifyPaymentHandler(rec, req)
	return rec
}

func TestVerifyPaymentRequiresIdentifier(t *testing.T) {
	h := newTestHandler(nil, nil, nil)
	rec := postVerifyPayment(h, "ada-weds", `{"status":"successful"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyPaymentUnknownEventLink(t *testing.T) {
	// Engine is nil: an unknown link must be rejected before verification.
	h := newTestHandler(testLedger(), nil, nil)
	rec := postVerifyPayment(h, "no-such-event", `{"transaction_id":"42","tx_ref":"ref-1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyPaymentFailedVerificationIs400(t *testing.T) {
	settle := &settleStore{}
	verifier := &stubVerifier{data: &gateway.VerifyData{ID: 42, Status: "abandoned", Reference: "ref-1"}}
	h := newTestHandler(testLedger(), settle, verifier)

	rec := postVerifyPayment(h, "ada-weds", `{"transaction_id":"42","tx_ref":"ref-1","status":"successful"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, settle.contributions)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Payment verification failed", resp["msg"])
}

func TestVerifyPaymentSettles(t *testing.T) {
	settle := &settleStore{}
	meta, _ := json.Marshal(models.ChargeMetadata{GiftID: 1, ContributorName: "Ngozi"})
	verifier := &stubVerifier{data: &gateway.VerifyData{
		ID: 42, Status: "success", Reference: "ref-1", Amount: 100_000, Metadata: meta,
	}}
	h := newTestHandler(testLedger(), settle, verifier)

	rec := postVerifyPayment(h, "ada-weds", `{"transaction_id":"42","tx_ref":"ref-1","status":"successful"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, settle.contributions, 1)

	var resp struct {
		Msg          string               `json:"msg"`
		Contribution *models.Contribution `json:"contribution"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Contribution)
	assert.Equal(t, "ref-1", resp.Contribution.Reference)
}

func postVendor(h *Handler, path string, userID, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/vendors/7/"+path, reader)
	req = mux.SetURLVars(req, map[string]string{"id": "7"})
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	if path == "schedule-payment" {
		h.SchedulePaymentHandler(rec, req)
	} else {
		h.CancelScheduledHandler(rec, req)
	}
	return rec
}

const scheduleBody = `{"amount":200000,"vendor_email":"caterer@example.com",
	"account_number":"0001234567","bank_code":"058","account_name":"CATERER LTD"}`

func TestSchedulePaymentRequiresIdentity(t *testing.T) {
	ledger := testLedger()
	h := newTestHandler(ledger, nil, nil)

	rec := postVendor(h, "schedule-payment", "", scheduleBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "", ledger.vendors[7].AccountNumber, "vendor untouched")
}

func TestSchedulePaymentForbiddenForNonOwner(t *testing.T) {
	// The body cannot name the owner; only the authenticated identity
	// counts, so a non-owner gets 403 regardless of what they send.
	ledger := testLedger()
	h := newTestHandler(ledger, nil, nil)

	rec := postVendor(h, "schedule-payment", "11", scheduleBody)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	v := ledger.vendors[7]
	assert.Equal(t, "", v.AccountNumber, "attacker bank details not stored")
	assert.Equal(t, int64(0), v.ScheduledAmount)
	assert.NotEqual(t, models.VendorScheduled, v.Status)
}

func TestSchedulePaymentStampsReleaseDate(t *testing.T) {
	ledger := testLedger()
	h := newTestHandler(ledger, nil, nil)

	rec := postVendor(h, "schedule-payment", "10", scheduleBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.VendorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.VendorScheduled, resp.Status)
	assert.Equal(t, int64(200_000), resp.ScheduledAmount)
	assert.Equal(t, int64(300_000), resp.Balance)
	require.NotNil(t, resp.ReleaseDate)
	require.NotNil(t, resp.DueDate)
	assert.True(t, resp.ReleaseDate.Equal(resp.DueDate.Add(24*time.Hour)),
		"release date is due date plus 24h")
}

func TestCancelScheduled(t *testing.T) {
	ledger := testLedger()
	h := newTestHandler(ledger, nil, nil)

	require.Equal(t, http.StatusOK, postVendor(h, "schedule-payment", "10", scheduleBody).Code)
	rec := postVendor(h, "cancel-scheduled", "10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.VendorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.VendorCancelled, resp.Status)
	assert.Equal(t, int64(0), resp.ScheduledAmount)
	assert.Equal(t, int64(500_000), resp.Balance)
}

func TestCancelScheduledRejectsPastDue(t *testing.T) {
	ledger := testLedger()
	past := time.Now().Add(-48 * time.Hour)
	release := store.ScheduleReleaseDate(past)
	ledger.vendors[7].Status = models.VendorScheduled
	ledger.vendors[7].ScheduledAmount = 200_000
	ledger.vendors[7].DueDate = &past
	ledger.vendors[7].ReleaseDate = &release
	h := newTestHandler(ledger, nil, nil)

	rec := postVendor(h, "cancel-scheduled", "10", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, models.VendorScheduled, ledger.vendors[7].Status, "tranche stays scheduled for the sweep")
}

func TestCancelScheduledRejectsNonScheduled(t *testing.T) {
	ledger := testLedger()
	h := newTestHandler(ledger, nil, nil)

	rec := postVendor(h, "cancel-scheduled", "10", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
