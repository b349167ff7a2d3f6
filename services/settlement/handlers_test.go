package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.opentelemetry.io/otel"
)

const testWebhookSecret = "super-secret"

func setupRouter(mockRepo *MockRepository, mockGateway *MockGateway) *gin.Engine {
	gin.SetMode(gin.TestMode)

	resaleUC := NewResaleUseCase(mockRepo)
	reconciliationUC := NewReconciliationUseCase(mockRepo, mockGateway)
	purchaseUC := NewPurchaseUseCase(mockRepo, mockGateway, resaleUC)
	withdrawalUC := NewWithdrawalUseCase(mockRepo, mockGateway)

	handler := NewHandler(purchaseUC, reconciliationUC, resaleUC, withdrawalUC,
		testWebhookSecret, otel.Tracer("test"))

	r := gin.New()
	r.POST("/api/webhooks/pix", handler.PixWebhook)
	authenticated := r.Group("/api", PrincipalMiddleware())
	authenticated.POST("/withdrawals", handler.CreateWithdrawal)
	authenticated.GET("/withdrawals/:id", handler.GetWithdrawal)
	authenticated.POST("/withdrawals/:id/reject", handler.RejectWithdrawal)
	authenticated.POST("/listings", handler.CreateListing)
	return r
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPixWebhook_InvalidSignatureIsRejected(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	router := setupRouter(mockRepo, new(MockGateway))

	body := []byte(`{"charge":{"status":"COMPLETED","correlationID":"order-1","transactionID":"charge-1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/pix", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	w := httptest.NewRecorder()

	// Act
	router.ServeHTTP(w, req)

	// Assert: nada conciliado
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	mockRepo.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestPixWebhook_MissingSignatureIsRejected(t *testing.T) {
	// Arrange
	router := setupRouter(new(MockRepository), new(MockGateway))

	body := []byte(`{"charge":{"status":"COMPLETED","transactionID":"charge-1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/pix", bytes.NewReader(body))
	w := httptest.NewRecorder()

	// Act
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPixWebhook_UnknownChargeIsAcknowledged(t *testing.T) {
	// Arrange: cobrança alheia — o provedor recebe 2xx e não reentrega
	mockRepo := new(MockRepository)
	tx := newMockTx()
	mockRepo.On("BeginTx", mock.Anything).Return(tx, nil)
	mockRepo.On("GetPaymentByChargeIDForUpdate", mock.Anything, tx, "charge-foreign").Return(nil, ErrNotFound)

	router := setupRouter(mockRepo, new(MockGateway))

	body := []byte(`{"charge":{"status":"COMPLETED","correlationID":"order-x","transactionID":"charge-foreign"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/pix", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signBody(body))
	w := httptest.NewRecorder()

	// Act
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(OutcomeUnknownCharge))
}

func TestPixWebhook_MalformedSignedBodyIsDiscarded(t *testing.T) {
	// Arrange
	router := setupRouter(new(MockRepository), new(MockGateway))

	body := []byte(`{not json`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/pix", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signBody(body))
	w := httptest.NewRecorder()

	// Act
	router.ServeHTTP(w, req)

	// Assert: 2xx para não reentregar lixo assinado para sempre
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "discarded")
}

func TestAuthenticatedRoutes_MissingPrincipalIsUnauthorized(t *testing.T) {
	// Arrange
	router := setupRouter(new(MockRepository), new(MockGateway))

	req := httptest.NewRequest(http.MethodPost, "/api/withdrawals", bytes.NewBufferString(`{"amount":100,"pix_key":"k","pix_key_type":"cpf"}`))
	w := httptest.NewRecorder()

	// Act
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateWithdrawal_HappyPath(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	tx := newMockTx()
	wallet := &Wallet{ID: "wallet-1", OwnerID: "seller-1", Balance: 10000}

	mockRepo.On("BeginTx", mock.Anything).Return(tx, nil)
	mockRepo.On("GetWalletForUpdate", mock.Anything, tx, "seller-1").Return(wallet, nil)
	mockRepo.On("CreateWithdrawal", mock.Anything, tx, mock.Anything).Return(nil)
	mockRepo.On("ApplyLedgerEntry", mock.Anything, tx, "wallet-1", int64(-4000), LedgerTypeWithdraw, mock.Anything).Return(nil)

	router := setupRouter(mockRepo, new(MockGateway))

	req := httptest.NewRequest(http.MethodPost, "/api/withdrawals",
		bytes.NewBufferString(`{"amount":4000,"pix_key":"seller@pix.dev","pix_key_type":"email"}`))
	req.Header.Set("X-User-ID", "seller-1")
	w := httptest.NewRecorder()

	// Act
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), WithdrawalStatusPending)
	mockRepo.AssertExpectations(t)
}

func TestGetWithdrawal_OwnerCanFetch(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	tx := newMockTx()
	withdrawal := &Withdrawal{ID: "wd-1", OwnerID: "seller-1", Amount: 4000, Status: WithdrawalStatusPending}

	mockRepo.On("BeginTx", mock.Anything).Return(tx, nil)
	mockRepo.On("GetWithdrawalForUpdate", mock.Anything, tx, "wd-1").Return(withdrawal, nil)

	router := setupRouter(mockRepo, new(MockGateway))

	req := httptest.NewRequest(http.MethodGet, "/api/withdrawals/wd-1", nil)
	req.Header.Set("X-User-ID", "seller-1")
	w := httptest.NewRecorder()

	// Act
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wd-1")
	assert.Contains(t, w.Body.String(), WithdrawalStatusPending)
}

func TestGetWithdrawal_OtherUserIsForbidden(t *testing.T) {
	// Arrange: saque de seller-1 consultado por outro usuário comum
	mockRepo := new(MockRepository)
	tx := newMockTx()
	withdrawal := &Withdrawal{ID: "wd-1", OwnerID: "seller-1", Amount: 4000, Status: WithdrawalStatusPending}

	mockRepo.On("BeginTx", mock.Anything).Return(tx, nil)
	mockRepo.On("GetWithdrawalForUpdate", mock.Anything, tx, "wd-1").Return(withdrawal, nil)

	router := setupRouter(mockRepo, new(MockGateway))

	req := httptest.NewRequest(http.MethodGet, "/api/withdrawals/wd-1", nil)
	req.Header.Set("X-User-ID", "intruder-1")
	w := httptest.NewRecorder()

	// Act
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRejectWithdrawal_NonAdminIsForbidden(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	router := setupRouter(mockRepo, new(MockGateway))

	req := httptest.NewRequest(http.MethodPost, "/api/withdrawals/wd-1/reject", nil)
	req.Header.Set("X-User-ID", "seller-1")
	req.Header.Set("X-User-Role", RoleUser)
	w := httptest.NewRecorder()

	// Act
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusForbidden, w.Code)
	mockRepo.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestCreateListing_PriceOverCapReturns400(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	tx := newMockTx()
	ticket := &UserTicket{ID: "ticket-1", OwnerID: "seller-1", TicketTypeID: "tt-1", Status: TicketStatusActive}
	ticketType := &TicketType{ID: "tt-1", Price: 5000, FeePercent: 10}

	mockRepo.On("BeginTx", mock.Anything).Return(tx, nil)
	mockRepo.On("GetUserTicketForUpdate", mock.Anything, tx, "ticket-1").Return(ticket, nil)
	mockRepo.On("GetTicketType", mock.Anything, tx, "tt-1").Return(ticketType, nil)

	router := setupRouter(mockRepo, new(MockGateway))

	req := httptest.NewRequest(http.MethodPost, "/api/listings",
		bytes.NewBufferString(`{"ticket_id":"ticket-1","asking_price":6000}`))
	req.Header.Set("X-User-ID", "seller-1")
	w := httptest.NewRecorder()

	// Act
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockRepo.AssertNotCalled(t, "CreateListing", mock.Anything, mock.Anything, mock.Anything)
}
