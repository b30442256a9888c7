package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(srv *httptest.Server) *Client {
	return &Client{Secret: "sk_test_abc", BaseURL: srv.URL, HTTPClient: srv.Client()}
}

func TestVerifyTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/ref-1", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_abc", r.Header.Get("Authorization"))
		w.Write([]byte(`{"status":true,"message":"Verification successful",
			"data":{"id":42,"status":"success","reference":"ref-1","amount":100000,
			"metadata":{"gift_id":1}}}`))
	}))
	defer srv.Close()

	data, err := testClient(srv).VerifyTransaction(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), data.ID)
	assert.True(t, data.Success())
	assert.Equal(t, int64(100_000), data.Amount)
	assert.JSONEq(t, `{"gift_id":1}`, string(data.Metadata))
}

func TestVerifyTransactionHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv).VerifyTransaction(context.Background(), "nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "not found")
}

func TestVerifyTransactionProviderRejection(t *testing.T) {
	// 200 with status:false is still a failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv).VerifyTransaction(context.Background(), "ref-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid key", apiErr.Body)
}

func TestMissingSecret(t *testing.T) {
	c := &Client{BaseURL: "http://127.0.0.1:1", HTTPClient: http.DefaultClient}
	_, err := c.VerifyTransaction(context.Background(), "ref-1")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestInitializeTransactionAmountNormalization(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":true,"data":{"authorization_url":"https://pay.example/x","reference":"ref-1"}}`))
	}))
	defer srv.Close()
	c := testClient(srv)

	// Integral input is already kobo.
	_, err := c.InitializeTransaction(context.Background(), "ref-1", 150000, "a@b.c", "https://cb", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(150000), got["amount"])

	// Fractional input is Naira and gets scaled once.
	_, err = c.InitializeTransaction(context.Background(), "ref-2", 1500.75, "a@b.c", "https://cb", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(150075), got["amount"])
}

func TestCreateTransferRecipientAndTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transferrecipient":
			w.Write([]byte(`{"status":true,"data":{"recipient_code":"RCP_123"}}`))
		case "/transfer":
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "RCP_123", body["recipient"])
			assert.Equal(t, "balance", body["source"])
			w.Write([]byte(`{"status":true,"data":{"transfer_code":"TRF_9","status":"pending","amount":50000}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()
	c := testClient(srv)

	code, err := c.CreateTransferRecipient(context.Background(), "0001234567", "058", "Caterer Ltd")
	require.NoError(t, err)
	assert.Equal(t, "RCP_123", code)

	res, err := c.InitiateTransfer(context.Background(), 50_000, code, "Vendor payment")
	require.NoError(t, err)
	assert.Equal(t, "TRF_9", res.TransferCode)
}

func TestResolveAccountAndListBanks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bank/resolve":
			assert.Equal(t, "0001234567", r.URL.Query().Get("account_number"))
			w.Write([]byte(`{"status":true,"data":{"account_name":"ADA OBI"}}`))
		case "/bank":
			w.Write([]byte(`{"status":true,"data":[{"name":"GTBank","code":"058"}]}`))
		}
	}))
	defer srv.Close()
	c := testClient(srv)

	name, err := c.ResolveAccount(context.Background(), "0001234567", "058")
	require.NoError(t, err)
	assert.Equal(t, "ADA OBI", name)

	banks, err := c.ListBanks(context.Background())
	require.NoError(t, err)
	require.Len(t, banks, 1)
	assert.Equal(t, "058", banks[0].Code)
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "sk_test_abc"
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`)

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	valid := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifyWebhookSignature(body, valid, secret))
	assert.False(t, VerifyWebhookSignature(body, "deadbeef", secret))
	assert.False(t, VerifyWebhookSignature(body, "", secret), "missing signature fails closed")
	assert.False(t, VerifyWebhookSignature(body, valid, ""), "missing secret fails closed")

	// Signature over different bytes must not validate.
	assert.False(t, VerifyWebhookSignature([]byte(`{"event":"charge.success"}`), valid, secret))
}
