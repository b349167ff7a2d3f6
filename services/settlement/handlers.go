package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Handler contém os handlers HTTP do serviço de liquidação
type Handler struct {
	purchase       *PurchaseUseCase
	reconciliation *ReconciliationUseCase
	resale         *ResaleUseCase
	withdrawal     *WithdrawalUseCase
	webhookSecret  []byte
	tracer         trace.Tracer
}

// NewHandler cria uma nova instância de Handler
func NewHandler(
	purchase *PurchaseUseCase,
	reconciliation *ReconciliationUseCase,
	resale *ResaleUseCase,
	withdrawal *WithdrawalUseCase,
	webhookSecret string,
	tracer trace.Tracer,
) *Handler {
	return &Handler{
		purchase:       purchase,
		reconciliation: reconciliation,
		resale:         resale,
		withdrawal:     withdrawal,
		webhookSecret:  []byte(webhookSecret),
		tracer:         tracer,
	}
}

// PrincipalMiddleware resolve o principal autenticado a partir dos headers
// do provedor de identidade externo. A checagem de capacidade acontece uma
// vez na entrada de cada operação de núcleo, com o principal explícito.
func PrincipalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authenticated user"})
			return
		}
		role := c.GetHeader("X-User-Role")
		if role == "" {
			role = RoleUser
		}
		c.Set("principal", Principal{UserID: userID, Role: role})
		c.Next()
	}
}

func principalOf(c *gin.Context) Principal {
	p, _ := c.Get("principal")
	principal, _ := p.(Principal)
	return principal
}

// respondDomainError mapeia a taxonomia de erros para códigos HTTP
func respondDomainError(c *gin.Context, err error) {
	switch {
	case IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case IsGateway(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "retryable": errIsRetryable(err)})
	case IsInvariantViolation(err):
		// Pedido pago que não pode ser cumprido: canal do operador
		log.Printf("🚨 [OPERATOR] %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CreatePrimaryOrderRequest representa a requisição de compra primária
type CreatePrimaryOrderRequest struct {
	TicketTypeID  string `json:"ticket_type_id" binding:"required"`
	Quantity      int    `json:"quantity" binding:"required,gt=0"`
	CustomerName  string `json:"customer_name" binding:"required"`
	CustomerEmail string `json:"customer_email" binding:"required"`
	CustomerTaxID string `json:"customer_tax_id"`
}

// CreatePrimaryOrder inicia uma compra primária: pedido + cobrança PIX
func (h *Handler) CreatePrimaryOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_primary_order")
	defer span.End()

	var req CreatePrimaryOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	principal := principalOf(c)
	span.SetAttributes(
		attribute.String("buyer_id", principal.UserID),
		attribute.String("ticket_type_id", req.TicketTypeID),
		attribute.Int("quantity", req.Quantity),
	)

	result, err := h.purchase.PurchasePrimary(ctx, principal, req.TicketTypeID, req.Quantity, Customer{
		Name:  req.CustomerName,
		Email: req.CustomerEmail,
		TaxID: req.CustomerTaxID,
	})
	if err != nil {
		span.RecordError(err)
		respondDomainError(c, err)
		return
	}

	span.SetAttributes(attribute.String("order_id", result.Order.ID))
	c.JSON(http.StatusCreated, result)
}

// CreateResaleOrderRequest representa a requisição de compra de revenda
type CreateResaleOrderRequest struct {
	ListingID     string `json:"listing_id" binding:"required"`
	CustomerName  string `json:"customer_name" binding:"required"`
	CustomerEmail string `json:"customer_email" binding:"required"`
	CustomerTaxID string `json:"customer_tax_id"`
}

// CreateResaleOrder inicia a compra de um anúncio de revenda
func (h *Handler) CreateResaleOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_resale_order")
	defer span.End()

	var req CreateResaleOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	principal := principalOf(c)
	span.SetAttributes(
		attribute.String("buyer_id", principal.UserID),
		attribute.String("listing_id", req.ListingID),
	)

	result, err := h.purchase.PurchaseResale(ctx, principal, req.ListingID, Customer{
		Name:  req.CustomerName,
		Email: req.CustomerEmail,
		TaxID: req.CustomerTaxID,
	})
	if err != nil {
		span.RecordError(err)
		respondDomainError(c, err)
		return
	}

	span.SetAttributes(attribute.String("order_id", result.Order.ID))
	c.JSON(http.StatusCreated, result)
}

// webhookPayload é o corpo mínimo entregue pelo provedor PIX
type webhookPayload struct {
	Charge struct {
		Status        string     `json:"status"`
		CorrelationID string     `json:"correlationID"`
		TransactionID string     `json:"transactionID"`
		PaidAt        *time.Time `json:"paidAt"`
	} `json:"charge"`
}

// PixWebhook recebe o push de status do provedor. Responde 2xx prontamente:
// cobrança desconhecida ou evento duplicado são descartados com sucesso para
// o provedor não reentregar para sempre. A assinatura HMAC do corpo é
// obrigatória.
func (h *Handler) PixWebhook(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "pix_webhook")
	defer span.End()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !h.verifySignature(body, c.GetHeader("X-Webhook-Signature")) {
		span.SetAttributes(attribute.Bool("signature_valid", false))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		// Corpo ilegível de um chamador assinado: descarta sem reentrega
		log.Printf("⚠️ [WEBHOOK] Discarding malformed payload: %v", err)
		c.JSON(http.StatusOK, gin.H{"result": "discarded"})
		return
	}

	outcome, err := h.reconciliation.IngestStatus(ctx, SourceWebhook,
		payload.Charge.TransactionID, payload.Charge.Status, payload.Charge.PaidAt)
	if err != nil {
		span.RecordError(err)
		// O estado desejado não foi alcançado: o provedor deve reentregar
		respondDomainError(c, err)
		return
	}

	span.SetAttributes(attribute.String("outcome", string(outcome)))
	c.JSON(http.StatusOK, gin.H{"result": string(outcome)})
}

// verifySignature valida o HMAC-SHA256 do corpo cru contra o segredo
// compartilhado com o provedor
func (h *Handler) verifySignature(body []byte, signature string) bool {
	if len(h.webhookSecret) == 0 || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.webhookSecret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// OrderStatus é o fallback de polling do cliente: devolve o status atual da
// transação do pedido, conciliando na hora se o provedor já confirmou
func (h *Handler) OrderStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "order_status_poll")
	defer span.End()

	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	payment, err := h.reconciliation.PollOrderStatus(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": payment.OrderID,
		"status":   payment.Status,
		"paid_at":  payment.PaidAt,
	})
}

// RefundOrder aplica o reembolso manual de um pedido pago (admin)
func (h *Handler) RefundOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "refund_order")
	defer span.End()

	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	if err := h.reconciliation.RefundOrder(ctx, principalOf(c), orderID); err != nil {
		span.RecordError(err)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "refunded"})
}

// CreateListingRequest representa a requisição de criação de anúncio
type CreateListingRequest struct {
	TicketID    string `json:"ticket_id" binding:"required"`
	AskingPrice int64  `json:"asking_price" binding:"required,gt=0"`
}

// CreateListing coloca um ingresso à venda
func (h *Handler) CreateListing(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_listing")
	defer span.End()

	var req CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	principal := principalOf(c)
	span.SetAttributes(
		attribute.String("seller_id", principal.UserID),
		attribute.String("ticket_id", req.TicketID),
		attribute.Int64("asking_price", req.AskingPrice),
	)

	listing, err := h.resale.CreateListing(ctx, principal, req.TicketID, req.AskingPrice)
	if err != nil {
		span.RecordError(err)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, listing)
}

// CancelListing cancela um anúncio ativo
func (h *Handler) CancelListing(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "cancel_listing")
	defer span.End()

	listingID := c.Param("id")
	span.SetAttributes(attribute.String("listing_id", listingID))

	if err := h.resale.CancelListing(ctx, principalOf(c), listingID); err != nil {
		span.RecordError(err)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "cancelled"})
}

// CreateWithdrawalRequest representa a requisição de saque
type CreateWithdrawalRequest struct {
	Amount     int64  `json:"amount" binding:"required,gt=0"`
	PixKey     string `json:"pix_key" binding:"required"`
	PixKeyType string `json:"pix_key_type" binding:"required"`
}

// CreateWithdrawal cria um pedido de saque debitando a carteira na hora
func (h *Handler) CreateWithdrawal(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_withdrawal")
	defer span.End()

	var req CreateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	principal := principalOf(c)
	span.SetAttributes(
		attribute.String("owner_id", principal.UserID),
		attribute.Int64("amount", req.Amount),
	)

	withdrawal, err := h.withdrawal.RequestWithdrawal(ctx, principal, req.Amount, req.PixKey, req.PixKeyType)
	if err != nil {
		span.RecordError(err)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, withdrawal)
}

// GetWithdrawal devolve um saque pelo id (dono ou admin)
func (h *Handler) GetWithdrawal(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_withdrawal")
	defer span.End()

	withdrawalID := c.Param("id")
	span.SetAttributes(attribute.String("withdrawal_id", withdrawalID))

	withdrawal, err := h.withdrawal.GetWithdrawal(ctx, principalOf(c), withdrawalID)
	if err != nil {
		span.RecordError(err)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, withdrawal)
}

// ApproveWithdrawal executa o payout de um saque pendente (admin)
func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "approve_withdrawal")
	defer span.End()

	withdrawalID := c.Param("id")
	span.SetAttributes(attribute.String("withdrawal_id", withdrawalID))

	if err := h.withdrawal.Approve(ctx, principalOf(c), withdrawalID); err != nil {
		span.RecordError(err)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "completed"})
}

// RejectWithdrawal rejeita um saque pendente e devolve o valor (admin)
func (h *Handler) RejectWithdrawal(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "reject_withdrawal")
	defer span.End()

	withdrawalID := c.Param("id")
	span.SetAttributes(attribute.String("withdrawal_id", withdrawalID))

	if err := h.withdrawal.Reject(ctx, principalOf(c), withdrawalID); err != nil {
		span.RecordError(err)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "rejected"})
}

// HealthCheck verifica a saúde do serviço
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "settlement-service",
	})
}
