package gateway

import (
	"context"

	"storefront/internal/models"

	"github.com/google/uuid"
)

const manualApprovedResponse = `{"status":"approved","method":"manual"}`

// ManualVerifier approves cash and bank transfer payments on behalf of the
// operator who collects them
type ManualVerifier struct{}

// Name returns the gateway name
func (ManualVerifier) Name() string { return "manual" }

// Verify always approves with a synthetic transaction id
func (ManualVerifier) Verify(_ context.Context, _ models.Payment, _ map[string]string) (Outcome, error) {
	return Outcome{
		Success:       true,
		Gateway:       "manual",
		TransactionID: "MANUAL_" + uuid.New().String(),
		RawResponse:   manualApprovedResponse,
	}, nil
}
