package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome é o resultado de uma conciliação de evento de pagamento
type Outcome string

const (
	// OutcomeSettled: transição pending -> paid aplicada, pedido cumprido e
	// carteira creditada
	OutcomeSettled Outcome = "settled"
	// OutcomeOrderFailed: transição pending -> failed/cancelled aplicada
	OutcomeOrderFailed Outcome = "order_failed"
	// OutcomeAlreadyReconciled: a transação já estava em estado terminal;
	// entrega duplicada ou corrida webhook/poll, nada a fazer
	OutcomeAlreadyReconciled Outcome = "already_reconciled"
	// OutcomeUnknownCharge: a cobrança não resolve para nenhuma transação;
	// callback alheio ou replay antigo, logado e descartado
	OutcomeUnknownCharge Outcome = "unknown_charge"
	// OutcomeIgnored: o provedor ainda reporta a cobrança como pendente
	OutcomeIgnored Outcome = "ignored"
)

// Fontes possíveis de um evento de status
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceSweeper = "sweeper"
)

// ReconciliationUseCase é o motor de conciliação: consome eventos de status
// de pagamento (webhook ou poll), dirige a máquina de estados do pedido e
// aplica o crédito na carteira exatamente uma vez
type ReconciliationUseCase struct {
	repository        Repository
	gateway           PixGateway
	settledCounter    metric.Int64Counter
	duplicateCounter  metric.Int64Counter
	sweepCycleCounter metric.Int64Counter
}

// NewReconciliationUseCase cria uma nova instância de ReconciliationUseCase
func NewReconciliationUseCase(repository Repository, gateway PixGateway) *ReconciliationUseCase {
	meter := otel.Meter("settlement-service")
	settled, _ := meter.Int64Counter("reconciliation.settled")
	duplicate, _ := meter.Int64Counter("reconciliation.duplicate")
	sweeps, _ := meter.Int64Counter("reconciliation.sweep_cycles")

	return &ReconciliationUseCase{
		repository:        repository,
		gateway:           gateway,
		settledCounter:    settled,
		duplicateCounter:  duplicate,
		sweepCycleCounter: sweeps,
	}
}

// IngestStatus aplica um evento de status do provedor à transação de
// pagamento identificada pela cobrança externa.
//
// Toda a transição roda numa única transação de banco com lock pessimista
// na linha da transação de pagamento: dois relatos "paid" concorrentes para
// a mesma cobrança resultam em exatamente um fulfillment + crédito.
func (uc *ReconciliationUseCase) IngestStatus(ctx context.Context, source, externalChargeID, reportedStatus string, paidAt *time.Time) (Outcome, error) {
	log.Printf("➡️ [RECONCILE] Source: %s | ChargeID: %s | Status: %s", source, externalChargeID, reportedStatus)

	newStatus, err := mapChargeStatus(reportedStatus)
	if err != nil {
		log.Printf("⚠️ [RECONCILE] Discarding unparseable status: %v", err)
		return OutcomeIgnored, nil
	}
	if newStatus == PaymentStatusPending {
		return OutcomeIgnored, nil
	}

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return "", fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	payment, err := uc.repository.GetPaymentByChargeIDForUpdate(ctx, tx, externalChargeID)
	if errors.Is(err, ErrNotFound) {
		// Cobrança desconhecida: replay antigo ou callback de terceiros.
		// No-op de sucesso para o provedor não reentregar para sempre.
		log.Printf("ℹ️ [RECONCILE] Unknown charge %s, discarding", externalChargeID)
		return OutcomeUnknownCharge, nil
	}
	if err != nil {
		return "", err
	}

	if payment.IsSettled() {
		log.Printf("ℹ️ [IDEMPOTENCY] Charge %s already reconciled as %s", externalChargeID, payment.Status)
		uc.duplicateCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
		return OutcomeAlreadyReconciled, nil
	}

	if newStatus == PaymentStatusPaid && paidAt == nil {
		now := time.Now()
		paidAt = &now
	}
	if newStatus != PaymentStatusPaid {
		paidAt = nil
	}

	if err := uc.repository.SettlePaymentTransaction(ctx, tx, payment.ID, newStatus, paidAt); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return OutcomeAlreadyReconciled, nil
		}
		return "", err
	}

	order, err := uc.repository.GetOrder(ctx, tx, payment.OrderID)
	if err != nil {
		return "", err
	}

	outcome := OutcomeOrderFailed
	if newStatus == PaymentStatusPaid {
		if err := uc.settlePaidOrder(ctx, tx, order); err != nil {
			log.Printf("❌ [RECONCILE] Paid order %s cannot be settled: %v", order.ID, err)
			return "", err
		}
		outcome = OutcomeSettled
	} else {
		if err := uc.failOrder(ctx, tx, order, newStatus); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("erro ao comitar conciliação: %w", err)
	}

	if outcome == OutcomeSettled {
		uc.settledCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	}
	log.Printf("✅ [RECONCILE] ChargeID: %s | Outcome: %s", externalChargeID, outcome)
	return outcome, nil
}

// settlePaidOrder aplica, dentro da transação aberta, a transição do pedido
// para paid, o fulfillment e o crédito na carteira do vendedor/organizador
func (uc *ReconciliationUseCase) settlePaidOrder(ctx context.Context, tx Tx, order *Order) error {
	if err := uc.repository.UpdateOrderStatus(ctx, tx, order.ID, OrderStatusPending, OrderStatusPaid); err != nil {
		return fmt.Errorf("failed to mark order paid: %w", err)
	}

	sellerID, feePercent, entryType, err := uc.fulfill(ctx, tx, order)
	if err != nil {
		return err
	}

	return uc.creditSeller(ctx, tx, sellerID, order, feePercent, entryType)
}

// fulfill emite/transfere os ingressos do pedido pago e devolve quem recebe
// o repasse, a comissão capturada e o tipo de lançamento no ledger
func (uc *ReconciliationUseCase) fulfill(ctx context.Context, tx Tx, order *Order) (string, int, string, error) {
	switch order.Origin {
	case OrderOriginPrimary:
		ticketType, err := uc.repository.GetTicketType(ctx, tx, order.TicketTypeID)
		if err != nil {
			return "", 0, "", newInvariantViolation("paid order references missing ticket type", err)
		}

		if err := uc.repository.ReserveTicketTypeStock(ctx, tx, ticketType.ID, order.Quantity); err != nil {
			if errors.Is(err, ErrStateConflict) {
				// Pedido pago mas lote esgotado: a transação inteira reverte
				// e o caso sobe para intervenção manual
				return "", 0, "", newInvariantViolation("paid order cannot be fulfilled: ticket type sold out", nil)
			}
			return "", 0, "", err
		}

		tickets := make([]*UserTicket, 0, order.Quantity)
		for i := 0; i < order.Quantity; i++ {
			tickets = append(tickets, NewUserTicket(order.BuyerID, ticketType.EventID, ticketType.ID))
		}
		if err := uc.repository.InsertUserTickets(ctx, tx, tickets); err != nil {
			return "", 0, "", err
		}

		return ticketType.OrganizerID, ticketType.FeePercent, LedgerTypeTicketSale, nil

	case OrderOriginResale:
		listing, err := uc.repository.GetListingForUpdate(ctx, tx, order.ResaleListingID)
		if err != nil {
			return "", 0, "", newInvariantViolation("paid resale order references missing listing", err)
		}

		if err := uc.repository.UpdateListingStatus(ctx, tx, listing.ID, ListingStatusReserved, ListingStatusSold); err != nil {
			if errors.Is(err, ErrStateConflict) {
				return "", 0, "", newInvariantViolation("paid resale order but listing is no longer reserved", nil)
			}
			return "", 0, "", err
		}

		if err := uc.repository.TransferTicketToBuyer(ctx, tx, listing.TicketID, order.BuyerID); err != nil {
			if errors.Is(err, ErrStateConflict) {
				return "", 0, "", newInvariantViolation("escrowed ticket left the listed state before transfer", nil)
			}
			return "", 0, "", err
		}

		return listing.SellerID, listing.FeePercent, LedgerTypeSaleCommission, nil

	default:
		return "", 0, "", newInvariantViolation("order has unknown origin "+order.Origin, nil)
	}
}

// creditSeller credita o repasse (total menos comissão) na carteira, chaveado
// por reference_id = order.id: uma nova tentativa detecta o crédito já
// aplicado e vira no-op
func (uc *ReconciliationUseCase) creditSeller(ctx context.Context, tx Tx, sellerID string, order *Order, feePercent int, entryType string) error {
	wallet, err := uc.repository.GetWalletForUpdate(ctx, tx, sellerID)
	if err != nil {
		return err
	}

	exists, err := uc.repository.LedgerEntryExists(ctx, tx, order.ID, entryType)
	if err != nil {
		return fmt.Errorf("erro ao verificar idempotência: %w", err)
	}
	if exists {
		log.Printf("ℹ️ [IDEMPOTENCY] Wallet already credited for OrderID=%s", order.ID)
		return nil
	}

	payout := PayoutAmount(order.TotalAmount, feePercent)
	if err := uc.repository.ApplyLedgerEntry(ctx, tx, wallet.ID, payout, entryType, order.ID); err != nil {
		return err
	}

	log.Printf("💰 [CREDIT] OrderID=%s | Seller=%s | Payout=%d (fee %d%%)", order.ID, sellerID, payout, feePercent)
	return nil
}

// failOrder aplica a transição terminal de falha/cancelamento e, para
// revenda, devolve o anúncio reservado ao estado ativo
func (uc *ReconciliationUseCase) failOrder(ctx context.Context, tx Tx, order *Order, paymentStatus string) error {
	orderStatus := OrderStatusFailed
	if paymentStatus == PaymentStatusCancelled {
		orderStatus = OrderStatusCancelled
	}

	if err := uc.repository.UpdateOrderStatus(ctx, tx, order.ID, OrderStatusPending, orderStatus); err != nil {
		return fmt.Errorf("failed to mark order %s: %w", orderStatus, err)
	}

	if order.Origin == OrderOriginResale && order.ResaleListingID != "" {
		err := uc.repository.UpdateListingStatus(ctx, tx, order.ResaleListingID, ListingStatusReserved, ListingStatusActive)
		if err != nil && !errors.Is(err, ErrStateConflict) {
			return err
		}
	}
	return nil
}

// PollOrderStatus é o fallback de polling do cliente: devolve o status atual
// da transação e, se ainda pendente, consulta o provedor e concilia na hora
func (uc *ReconciliationUseCase) PollOrderStatus(ctx context.Context, orderID string) (*PaymentTransaction, error) {
	payment, err := uc.repository.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.IsSettled() {
		return payment, nil
	}

	status, err := uc.gateway.GetChargeStatus(ctx, payment.ExternalChargeID)
	if err != nil {
		// Falha de gateway no poll não é fatal: o cliente continua com o
		// status local e tenta de novo no próximo ciclo
		log.Printf("⚠️ [POLL] Gateway query failed for charge %s: %v", payment.ExternalChargeID, err)
		return payment, nil
	}

	if _, err := uc.IngestStatus(ctx, SourcePoll, payment.ExternalChargeID, status.Status, status.PaidAt); err != nil {
		return nil, err
	}

	return uc.repository.GetPaymentByOrderID(ctx, orderID)
}

// SweepStalePending é a varredura de recuperação: cobre webhooks perdidos
// consultando o provedor para transações presas em pending
func (uc *ReconciliationUseCase) SweepStalePending(ctx context.Context, olderThan time.Duration, limit int) error {
	chargeIDs, err := uc.repository.ListStalePendingCharges(ctx, olderThan, limit)
	if err != nil {
		return fmt.Errorf("failed to list stale charges: %w", err)
	}

	for _, chargeID := range chargeIDs {
		status, err := uc.gateway.GetChargeStatus(ctx, chargeID)
		if err != nil {
			log.Printf("⚠️ [SWEEP] Gateway query failed for charge %s: %v", chargeID, err)
			continue
		}
		if _, err := uc.IngestStatus(ctx, SourceSweeper, chargeID, status.Status, status.PaidAt); err != nil {
			log.Printf("❌ [SWEEP] Reconciliation failed for charge %s: %v", chargeID, err)
		}
	}

	uc.sweepCycleCounter.Add(ctx, 1)
	return nil
}

// RunSweeper roda a varredura em loop até o contexto ser cancelado
func (uc *ReconciliationUseCase) RunSweeper(ctx context.Context, interval, olderThan time.Duration, limit int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("🔎 Reconciliation sweeper running every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := uc.SweepStalePending(ctx, olderThan, limit); err != nil {
				log.Printf("❌ [SWEEP] Cycle failed: %v", err)
			}
		}
	}
}

// RefundOrder aplica o reembolso manual de um pedido pago (admin): pedido e
// transação vão para refunded e o crédito do vendedor é revertido com um
// lançamento negativo de tipo refund referenciando o pedido
func (uc *ReconciliationUseCase) RefundOrder(ctx context.Context, principal Principal, orderID string) error {
	if !principal.IsAdmin() {
		return ErrNotAllowed
	}

	payment, err := uc.repository.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return err
	}

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	locked, err := uc.repository.GetPaymentByChargeIDForUpdate(ctx, tx, payment.ExternalChargeID)
	if err != nil {
		return err
	}
	if locked.Status != PaymentStatusPaid {
		return newConflictError("refund_order", "order payment is not in paid state")
	}

	if err := uc.repository.RefundPaymentTransaction(ctx, tx, locked.ID); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return newConflictError("refund_order", "payment already refunded")
		}
		return err
	}
	if err := uc.repository.UpdateOrderStatus(ctx, tx, orderID, OrderStatusPaid, OrderStatusRefunded); err != nil {
		return fmt.Errorf("failed to mark order refunded: %w", err)
	}

	order, err := uc.repository.GetOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}

	sellerID, feePercent, err := uc.sellerOfOrder(ctx, tx, order)
	if err != nil {
		return err
	}

	wallet, err := uc.repository.GetWalletForUpdate(ctx, tx, sellerID)
	if err != nil {
		return err
	}

	exists, err := uc.repository.LedgerEntryExists(ctx, tx, order.ID, LedgerTypeRefund)
	if err != nil {
		return fmt.Errorf("erro ao verificar idempotência: %w", err)
	}
	if !exists {
		payout := PayoutAmount(order.TotalAmount, feePercent)
		// Se o vendedor já sacou o repasse, o estorno deixaria o saldo
		// negativo: InvariantViolation, intervenção manual
		if err := uc.repository.ApplyLedgerEntry(ctx, tx, wallet.ID, -payout, LedgerTypeRefund, order.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("erro ao comitar reembolso: %w", err)
	}

	log.Printf("↩️ [REFUND] OrderID=%s refunded by admin %s", orderID, principal.UserID)
	return nil
}

// sellerOfOrder resolve quem recebeu o repasse do pedido e a comissão
// capturada na criação do lote/anúncio
func (uc *ReconciliationUseCase) sellerOfOrder(ctx context.Context, tx Tx, order *Order) (string, int, error) {
	if order.Origin == OrderOriginResale {
		listing, err := uc.repository.GetListingForUpdate(ctx, tx, order.ResaleListingID)
		if err != nil {
			return "", 0, err
		}
		return listing.SellerID, listing.FeePercent, nil
	}

	ticketType, err := uc.repository.GetTicketType(ctx, tx, order.TicketTypeID)
	if err != nil {
		return "", 0, err
	}
	return ticketType.OrganizerID, ticketType.FeePercent, nil
}
