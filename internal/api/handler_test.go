package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/store/memstore"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discardPublisher struct{}

func (discardPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}
func (discardPublisher) PublishOrderPaid(context.Context, *models.OrderPaidEvent) error { return nil }
func (discardPublisher) PublishPaymentFailed(context.Context, *models.PaymentFailedEvent) error {
	return nil
}
func (discardPublisher) PublishOrderCancelled(context.Context, *models.OrderCancelledEvent) error {
	return nil
}
func (discardPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}
func (discardPublisher) PublishStockInconsistency(context.Context, *models.StockInconsistencyEvent) error {
	return nil
}
func (discardPublisher) PublishRefundRequired(context.Context, *models.RefundRequiredEvent) error {
	return nil
}

var (
	shopper = models.Actor{UserID: 1, Roles: []string{models.RoleCustomer}}
	seller  = models.Actor{UserID: 50, Roles: []string{models.RoleSeller}}
)

type apiFixture struct {
	router *gin.Engine
	repo   *memstore.Store
	auth   *Authenticator
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := memstore.New()
	pub := discardPublisher{}

	registry := gateway.NewRegistry()
	registry.Register("cash", gateway.ManualVerifier{})

	auth := NewAuthenticator("test-secret", "storefront-test")
	h := NewHandler(Services{
		Cart:       service.NewCartService(repo),
		Checkout:   service.NewCheckoutService(repo, nil, pub, 30*time.Minute, time.Hour),
		Settlement: service.NewSettlementService(repo, registry, nil, pub, time.Second),
		Orders:     service.NewOrderService(repo, pub, 10),
		Inventory:  service.NewInventoryService(repo),
	}, auth, repo)

	router := gin.New()
	h.SetupRoutes(router)
	return &apiFixture{router: router, repo: repo, auth: auth}
}

func (f *apiFixture) do(t *testing.T, actor *models.Actor, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		token, err := f.auth.Sign(*actor, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndReady(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, nil, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decode(t, w)["status"])
}

func TestRequiresBearerToken(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, nil, http.MethodGet, "/api/v1/cart", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_token", decode(t, w)["error"])
}

func TestRejectsTokenFromOtherIssuer(t *testing.T) {
	f := newAPIFixture(t)
	other := NewAuthenticator("test-secret", "someone-else")
	token, err := other.Sign(shopper, time.Minute)
	require.NoError(t, err)

	_, err = f.auth.Parse(token)
	assert.Error(t, err)
}

func TestAdminRoutesRequireOperator(t *testing.T) {
	f := newAPIFixture(t)
	v := f.repo.SeedVariant("Mug", "MUG-1", decimal.NewFromInt(10), decimal.Zero, 5)
	path := fmt.Sprintf("/api/v1/admin/variants/%d/stock", v.ID)
	body := gin.H{"type": "Inbound", "quantity": 3, "reason": "restock"}

	w := f.do(t, &shopper, http.MethodPost, path, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, &seller, http.MethodPost, path, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(8), decode(t, w)["stock"])

	w = f.do(t, &seller, http.MethodGet, fmt.Sprintf("/api/v1/admin/variants/%d/reconcile", v.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["consistent"])
}

func TestCheckoutEmptyCartIsBadRequest(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, &shopper, http.MethodPost, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Failed to create order", body["message"])
	assert.Equal(t, "validation_error", body["kind"])
}

func TestPurchaseFlow(t *testing.T) {
	f := newAPIFixture(t)
	v := f.repo.SeedVariant("Shirt", "SHIRT-M", decimal.RequireFromString("20.00"), decimal.NewFromInt(10), 4)

	w := f.do(t, &shopper, http.MethodPost, "/api/v1/cart", gin.H{"variant_id": v.ID, "cantidad": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "36", decode(t, w)["subtotal"])

	w = f.do(t, &shopper, http.MethodPost, "/api/v1/orders", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode(t, w)
	orderID := int64(order["id"].(float64))
	assert.Equal(t, "Pending", order["estado"])
	assert.Equal(t, "36", order["total"])

	w = f.do(t, &shopper, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/payments", orderID), gin.H{"method": "cash"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	paymentID := int64(decode(t, w)["id"].(float64))

	confirmPath := fmt.Sprintf("/api/v1/payments/%d/confirm", paymentID)

	// manual methods need an operator to confirm
	w = f.do(t, &shopper, http.MethodPost, confirmPath, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, &seller, http.MethodPost, confirmPath, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Paid", decode(t, w)["estado"])

	w = f.do(t, &seller, http.MethodPost, confirmPath, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "state_conflict", decode(t, w)["kind"])

	w = f.do(t, &shopper, http.MethodGet, "/api/v1/orders?estado=Paid", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.Equal(t, float64(1), page["total"])

	err := f.repo.WithTx(context.Background(), func(tx store.Tx) error {
		got, err := tx.GetVariant(context.Background(), v.ID)
		if err != nil {
			return err
		}
		if got.Stock != 2 {
			return errors.New("stock not decremented")
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestOrderOfAnotherUserIsForbidden(t *testing.T) {
	f := newAPIFixture(t)
	v := f.repo.SeedVariant("Cap", "CAP-1", decimal.NewFromInt(15), decimal.Zero, 3)

	f.do(t, &shopper, http.MethodPost, "/api/v1/cart", gin.H{"variant_id": v.ID, "cantidad": 1})
	w := f.do(t, &shopper, http.MethodPost, "/api/v1/orders", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := int64(decode(t, w)["id"].(float64))

	stranger := models.Actor{UserID: 2, Roles: []string{models.RoleCustomer}}
	w = f.do(t, &stranger, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", orderID), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, &shopper, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/cancel", orderID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Cancelled", decode(t, w)["estado"])
}

func TestInvalidPathID(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, &shopper, http.MethodGet, "/api/v1/orders/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		service.ErrEmptyCart:         http.StatusBadRequest,
		service.ErrAlreadyProcessed:  http.StatusBadRequest,
		service.ErrPaymentDeclined:   http.StatusBadRequest,
		service.ErrPaymentInProgress: http.StatusConflict,
		service.ErrForbidden:         http.StatusForbidden,
		store.ErrNotFound:            http.StatusNotFound,
		&service.StockInconsistencyError{SKU: "X"}: http.StatusInternalServerError,
		errors.New("boom"):                         http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func TestListOrdersHugePageIsBadRequest(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, &shopper, http.MethodGet, "/api/v1/orders?page=4611686018427387904", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decode(t, w)["kind"])

	w = f.do(t, &shopper, http.MethodGet, "/api/v1/orders?page=99999999999999999999999", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
