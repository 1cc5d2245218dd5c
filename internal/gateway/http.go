package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront/internal/models"
)

// HTTPVerifier asks a card gateway over HTTP whether a payment went through
type HTTPVerifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPVerifier creates a verifier whose calls are bounded by timeout
func NewHTTPVerifier(baseURL, apiKey string, timeout time.Duration) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type verifyRequest struct {
	PaymentID int64             `json:"payment_id"`
	OrderID   int64             `json:"order_id"`
	Amount    string            `json:"amount"`
	Method    string            `json:"method"`
	Context   map[string]string `json:"context,omitempty"`
}

type verifyResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

// Name returns the gateway name
func (v *HTTPVerifier) Name() string { return "card" }

// Verify posts the payment to the gateway's verify endpoint
func (v *HTTPVerifier) Verify(ctx context.Context, payment models.Payment, gatewayContext map[string]string) (Outcome, error) {
	body, err := json.Marshal(verifyRequest{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		Amount:    payment.Amount.StringFixed(2),
		Method:    payment.Method,
		Context:   gatewayContext,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/payments/verify", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read gateway response: %w", err)
	}

	out := Outcome{Gateway: v.Name(), RawResponse: string(raw)}
	if resp.StatusCode >= 300 {
		out.Reason = fmt.Sprintf("gateway returned %d", resp.StatusCode)
		return out, nil
	}

	var parsed verifyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Outcome{}, fmt.Errorf("invalid gateway response: %w", err)
	}

	out.TransactionID = parsed.TransactionID
	out.Success = parsed.Status == "approved" && parsed.TransactionID != ""
	if !out.Success {
		out.Reason = parsed.Reason
		if out.Reason == "" {
			out.Reason = "payment " + parsed.Status
		}
	}
	return out, nil
}
