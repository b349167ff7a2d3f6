package main

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// PurchaseResult devolve ao comprador o pedido e os dados da cobrança PIX
type PurchaseResult struct {
	Order         *Order `json:"order"`
	ChargeID      string `json:"charge_id"`
	QRCode        string `json:"qr_code"`
	CopyPasteCode string `json:"copy_paste_code"`
}

// PurchaseUseCase cria pedidos (primários e de revenda) e a cobrança PIX
// correspondente. A conciliação do pagamento fica com o ReconciliationUseCase.
type PurchaseUseCase struct {
	repository Repository
	gateway    PixGateway
	resale     *ResaleUseCase
}

// NewPurchaseUseCase cria uma nova instância de PurchaseUseCase
func NewPurchaseUseCase(repository Repository, gateway PixGateway, resale *ResaleUseCase) *PurchaseUseCase {
	return &PurchaseUseCase{
		repository: repository,
		gateway:    gateway,
		resale:     resale,
	}
}

// PurchasePrimary cria um pedido primário: valida o lote, cria a cobrança no
// provedor (correlationID = id do pedido) e persiste pedido + transação
// pendentes. O estoque só é consumido no fulfillment, quando o pagamento
// confirma.
func (uc *PurchaseUseCase) PurchasePrimary(ctx context.Context, principal Principal, ticketTypeID string, quantity int, customer Customer) (*PurchaseResult, error) {
	if quantity <= 0 {
		return nil, newValidationError("quantity", "must be positive")
	}

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	ticketType, err := uc.repository.GetTicketType(ctx, tx, ticketTypeID)
	tx.Rollback()
	if errors.Is(err, ErrNotFound) {
		return nil, newValidationError("ticket_type_id", "ticket type does not exist")
	}
	if err != nil {
		return nil, err
	}

	if ticketType.SoldQuantity+quantity > ticketType.TotalQuantity {
		return nil, newConflictError("purchase_primary", "not enough tickets available")
	}

	order := NewPrimaryOrder(principal.UserID, ticketType.ID, quantity, ticketType.Price)
	return uc.chargeAndPersist(ctx, order, customer)
}

// PurchaseResale cria um pedido de revenda: reserva o anúncio (active ->
// reserved, impedindo venda dupla), cria a cobrança e persiste o pedido.
// Falha na cobrança libera a reserva.
func (uc *PurchaseUseCase) PurchaseResale(ctx context.Context, principal Principal, listingID string, customer Customer) (*PurchaseResult, error) {
	listing, err := uc.resale.ReserveListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	if listing.SellerID == principal.UserID {
		_ = uc.resale.ReleaseListing(ctx, listingID)
		return nil, newValidationError("listing_id", "seller cannot buy own listing")
	}

	order := NewResaleOrder(principal.UserID, listing.ID, listing.AskingPrice)
	result, err := uc.chargeAndPersist(ctx, order, customer)
	if err != nil {
		// Compensação: a reserva não pode prender o anúncio se a cobrança
		// nunca existiu
		if releaseErr := uc.resale.ReleaseListing(ctx, listingID); releaseErr != nil {
			log.Printf("❌ [PURCHASE] Failed to release listing %s: %v", listingID, releaseErr)
		}
		return nil, err
	}
	return result, nil
}

// chargeAndPersist cria a cobrança no provedor e grava pedido + transação
// numa transação só. O id do pedido é o correlationID: se a gravação falhar
// depois da cobrança criada, o webhook órfão cai no descarte de cobrança
// desconhecida.
func (uc *PurchaseUseCase) chargeAndPersist(ctx context.Context, order *Order, customer Customer) (*PurchaseResult, error) {
	charge, err := uc.gateway.CreateCharge(ctx, order.TotalAmount, order.ID, customer)
	if err != nil {
		return nil, err
	}

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	if err := uc.repository.CreateOrder(ctx, tx, order); err != nil {
		return nil, err
	}

	payment := NewPaymentTransaction(order.ID, charge.ChargeID, order.TotalAmount)
	if err := uc.repository.CreatePaymentTransaction(ctx, tx, payment); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("erro ao comitar pedido: %w", err)
	}

	log.Printf("🛒 [PURCHASE] OrderID=%s | Origin=%s | Amount=%d | ChargeID=%s",
		order.ID, order.Origin, order.TotalAmount, charge.ChargeID)

	return &PurchaseResult{
		Order:         order,
		ChargeID:      charge.ChargeID,
		QRCode:        charge.QRCode,
		CopyPasteCode: charge.CopyPasteCode,
	}, nil
}
