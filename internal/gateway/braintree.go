package gateway

import (
	"context"
	"fmt"

	"storefront/internal/models"

	"github.com/braintree-go/braintree-go"
	"github.com/shopspring/decimal"
)

// BraintreeConfig holds merchant credentials
type BraintreeConfig struct {
	Environment string
	MerchantID  string
	PublicKey   string
	PrivateKey  string
}

// BraintreeVerifier charges a client-side payment nonce through Braintree
type BraintreeVerifier struct {
	bt *braintree.Braintree
}

// NewBraintreeVerifier initializes the Braintree SDK gateway
func NewBraintreeVerifier(cfg BraintreeConfig) *BraintreeVerifier {
	env := braintree.Sandbox
	if cfg.Environment == "production" {
		env = braintree.Production
	}
	return &BraintreeVerifier{
		bt: braintree.New(env, cfg.MerchantID, cfg.PublicKey, cfg.PrivateKey),
	}
}

// Name returns the gateway name
func (v *BraintreeVerifier) Name() string { return "braintree" }

// Verify submits a sale for the payment amount using the nonce in
// gatewayContext["payment_method_nonce"]
func (v *BraintreeVerifier) Verify(ctx context.Context, payment models.Payment, gatewayContext map[string]string) (Outcome, error) {
	nonce := gatewayContext["payment_method_nonce"]
	if nonce == "" {
		return Outcome{Gateway: v.Name(), Reason: "missing payment_method_nonce"}, nil
	}

	cents := payment.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	tx, err := v.bt.Transaction().Create(ctx, &braintree.TransactionRequest{
		Type:               "sale",
		Amount:             braintree.NewDecimal(cents, 2),
		PaymentMethodNonce: nonce,
		OrderId:            fmt.Sprintf("%d", payment.OrderID),
		Options: &braintree.TransactionOptions{
			SubmitForSettlement: true,
		},
	})
	if err != nil {
		return Outcome{Gateway: v.Name(), RawResponse: err.Error(), Reason: "transaction rejected"}, nil
	}

	raw := fmt.Sprintf(`{"id":%q,"status":%q,"processor_response":%q}`, tx.Id, tx.Status, tx.ProcessorResponseText)
	out := Outcome{Gateway: v.Name(), TransactionID: tx.Id, RawResponse: raw}

	switch tx.Status {
	case braintree.TransactionStatusAuthorized,
		braintree.TransactionStatusSubmittedForSettlement,
		braintree.TransactionStatusSettling,
		braintree.TransactionStatusSettled:
		out.Success = true
	default:
		out.Reason = fmt.Sprintf("transaction %s", tx.Status)
	}
	return out, nil
}
