package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://api.paystack.co"

// ErrNoSecret is returned when the client was built without a secret key.
var ErrNoSecret = errors.New("gateway secret key is not configured")

// APIError carries the provider's HTTP status and raw error body.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway request failed with status %d: %s", e.StatusCode, e.Body)
}

// Client wraps the Paystack REST API. It holds no business state; every call
// carries the caller's context and the client's bounded timeout.
type Client struct {
	Secret     string
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(secret string) *Client {
	return &Client{
		Secret:     secret,
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// InitializeResponse is the subset of the initialize payload callers need.
type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// VerifyData is the authoritative transaction record from the provider.
type VerifyData struct {
	ID        int64           `json:"id"`
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Success reports whether the provider considers the charge settled.
func (d *VerifyData) Success() bool {
	return d.Status == "success"
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// InitializeTransaction starts a charge. Amount is accepted in kobo, or in
// Naira when a fractional value is passed, in which case it is scaled once.
func (c *Client) InitializeTransaction(ctx context.Context, reference string, amount float64, email, callbackURL string, metadata interface{}) (*InitializeResponse, error) {
	kobo := int64(amount)
	if amount != math.Trunc(amount) {
		kobo = int64(math.Round(amount * 100))
	}

	body := map[string]interface{}{
		"reference":    reference,
		"amount":       kobo,
		"email":        email,
		"callback_url": callbackURL,
		"metadata":     metadata,
	}

	var out InitializeResponse
	if err := c.call(ctx, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyTransaction is the single source of truth for whether a charge
// succeeded. Callers must never trust client-supplied status fields.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyData, error) {
	var out VerifyData
	if err := c.call(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTransferRecipient registers a bank account for payouts. Must succeed
// before any transfer is attempted.
func (c *Client) CreateTransferRecipient(ctx context.Context, accountNumber, bankCode, name string) (string, error) {
	body := map[string]interface{}{
		"type":           "nuban",
		"name":           name,
		"account_number": accountNumber,
		"bank_code":      bankCode,
		"currency":       "NGN",
	}

	var out struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := c.call(ctx, http.MethodPost, "/transferrecipient", body, &out); err != nil {
		return "", err
	}
	return out.RecipientCode, nil
}

// TransferResult is the provider's record of an initiated transfer.
type TransferResult struct {
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
}

// InitiateTransfer pushes amount (kobo) to a previously created recipient.
func (c *Client) InitiateTransfer(ctx context.Context, amount int64, recipientCode, narration string) (*TransferResult, error) {
	body := map[string]interface{}{
		"source":    "balance",
		"amount":    amount,
		"recipient": recipientCode,
		"reason":    narration,
	}

	var out TransferResult
	if err := c.call(ctx, http.MethodPost, "/transfer", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveAccount looks up the account name for user-facing form validation.
func (c *Client) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	q := url.Values{}
	q.Set("account_number", accountNumber)
	q.Set("bank_code", bankCode)

	var out struct {
		AccountName string `json:"account_name"`
	}
	if err := c.call(ctx, http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &out); err != nil {
		return "", err
	}
	return out.AccountName, nil
}

// Bank is one entry in the provider's bank directory.
type Bank struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

func (c *Client) ListBanks(ctx context.Context) ([]Bank, error) {
	var out []Bank
	if err := c.call(ctx, http.MethodGet, "/bank", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyWebhookSignature checks the HMAC-SHA512 signature over the exact raw
// request bytes. Fails closed when either the signature or secret is absent.
func VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	if c.Secret == "" {
		return ErrNoSecret
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	if !env.Status {
		return &APIError{StatusCode: resp.StatusCode, Body: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode gateway data: %w", err)
		}
	}
	return nil
}
