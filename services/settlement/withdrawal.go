package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// WithdrawalUseCase é o gerente de liquidação de saques: valida saldo,
// debita a carteira, executa o payout e aplica o estorno compensatório
// quando o payout falha em definitivo (rejeição manual)
type WithdrawalUseCase struct {
	repository        Repository
	gateway           PixGateway
	requestedCounter  metric.Int64Counter
	completedCounter  metric.Int64Counter
	rejectedCounter   metric.Int64Counter
	payoutFailCounter metric.Int64Counter
}

// NewWithdrawalUseCase cria uma nova instância de WithdrawalUseCase
func NewWithdrawalUseCase(repository Repository, gateway PixGateway) *WithdrawalUseCase {
	meter := otel.Meter("settlement-service")
	requested, _ := meter.Int64Counter("withdrawal.requested")
	completed, _ := meter.Int64Counter("withdrawal.completed")
	rejected, _ := meter.Int64Counter("withdrawal.rejected")
	payoutFail, _ := meter.Int64Counter("withdrawal.payout_failures")

	return &WithdrawalUseCase{
		repository:        repository,
		gateway:           gateway,
		requestedCounter:  requested,
		completedCounter:  completed,
		rejectedCounter:   rejected,
		payoutFailCounter: payoutFail,
	}
}

// RequestWithdrawal cria um saque pendente debitando a carteira na mesma
// transação (saldo + lançamento withdraw negativo + insert do saque): os
// fundos ficam reservados na hora e não podem ser sacados duas vezes
func (uc *WithdrawalUseCase) RequestWithdrawal(ctx context.Context, principal Principal, amount int64, pixKey, pixKeyType string) (*Withdrawal, error) {
	if amount <= 0 {
		return nil, newValidationError("amount", "must be positive")
	}
	if pixKey == "" {
		return nil, newValidationError("pix_key", "must not be empty")
	}

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	// Lock pessimista: a checagem de saldo e o débito são atômicos, nenhum
	// crédito/débito concorrente intercala entre eles
	wallet, err := uc.repository.GetWalletForUpdate(ctx, tx, principal.UserID)
	if err != nil {
		return nil, err
	}

	if wallet.Balance < amount {
		return nil, newValidationError("amount", "exceeds wallet balance")
	}

	withdrawal := NewWithdrawal(principal.UserID, amount, pixKey, pixKeyType)
	if err := uc.repository.CreateWithdrawal(ctx, tx, withdrawal); err != nil {
		return nil, err
	}

	if err := uc.repository.ApplyLedgerEntry(ctx, tx, wallet.ID, -amount, LedgerTypeWithdraw, withdrawal.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("erro ao comitar saque: %w", err)
	}

	uc.requestedCounter.Add(ctx, 1)
	log.Printf("💸 [WITHDRAWAL] Requested: ID=%s | Owner=%s | Amount=%d", withdrawal.ID, principal.UserID, amount)
	return withdrawal, nil
}

// Approve executa o payout de um saque pendente. O id do saque é a chave de
// correlação junto ao provedor: um retry após falha nunca paga duas vezes.
// Na falha do payout o saque permanece pending com os fundos já reservados
// e o erro retryable sobe para o chamador.
func (uc *WithdrawalUseCase) Approve(ctx context.Context, principal Principal, withdrawalID string) error {
	if !principal.IsAdmin() {
		return ErrNotAllowed
	}

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	withdrawal, err := uc.repository.GetWithdrawalForUpdate(ctx, tx, withdrawalID)
	if err != nil {
		return err
	}
	if withdrawal.Status != WithdrawalStatusPending {
		return newConflictError("approve_withdrawal", "withdrawal is not in pending state")
	}

	// Chamada de rede com timeout limitado do cliente: a transação nunca
	// fica pendurada esperando o provedor
	transfer, err := uc.gateway.CreateTransfer(ctx, withdrawal.Amount, withdrawal.PixKey, withdrawal.PixKeyType, withdrawal.ID)
	if err != nil {
		uc.payoutFailCounter.Add(ctx, 1)
		log.Printf("❌ [WITHDRAWAL] Payout failed: ID=%s | %v", withdrawalID, err)
		return err
	}

	if err := uc.repository.UpdateWithdrawalStatus(ctx, tx, withdrawal.ID, WithdrawalStatusPending, WithdrawalStatusCompleted); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("erro ao comitar aprovação: %w", err)
	}

	uc.completedCounter.Add(ctx, 1)
	log.Printf("✅ [WITHDRAWAL] Completed: ID=%s | TransferID=%s", withdrawalID, transfer.TransferID)
	return nil
}

// Reject rejeita um saque pendente e aplica a transação compensatória: o
// valor reservado volta para a carteira com um lançamento refund
// referenciando o saque. Idempotente: rejeitar um saque já rejeitado é um
// erro de conflito, nunca crédito dobrado.
func (uc *WithdrawalUseCase) Reject(ctx context.Context, principal Principal, withdrawalID string) error {
	if !principal.IsAdmin() {
		return ErrNotAllowed
	}

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	withdrawal, err := uc.repository.GetWithdrawalForUpdate(ctx, tx, withdrawalID)
	if err != nil {
		return err
	}
	if withdrawal.Status != WithdrawalStatusPending {
		return newConflictError("reject_withdrawal", "withdrawal is not in pending state")
	}

	if err := uc.repository.UpdateWithdrawalStatus(ctx, tx, withdrawal.ID, WithdrawalStatusPending, WithdrawalStatusRejected); err != nil {
		return err
	}

	wallet, err := uc.repository.GetWalletForUpdate(ctx, tx, withdrawal.OwnerID)
	if err != nil {
		return err
	}

	exists, err := uc.repository.LedgerEntryExists(ctx, tx, withdrawal.ID, LedgerTypeRefund)
	if err != nil {
		return fmt.Errorf("erro ao verificar idempotência: %w", err)
	}
	if !exists {
		if err := uc.repository.ApplyLedgerEntry(ctx, tx, wallet.ID, withdrawal.Amount, LedgerTypeRefund, withdrawal.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("erro ao comitar rejeição: %w", err)
	}

	uc.rejectedCounter.Add(ctx, 1)
	log.Printf("↩️ [WITHDRAWAL] Rejected: ID=%s | Amount=%d credited back", withdrawalID, withdrawal.Amount)
	return nil
}

// GetWithdrawal devolve um saque pelo id (consulta do dono ou do admin)
func (uc *WithdrawalUseCase) GetWithdrawal(ctx context.Context, principal Principal, withdrawalID string) (*Withdrawal, error) {
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	withdrawal, err := uc.repository.GetWithdrawalForUpdate(ctx, tx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if withdrawal.OwnerID != principal.UserID && !principal.IsAdmin() {
		return nil, ErrNotAllowed
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return withdrawal, nil
}

// errIsRetryable informa se o erro de aprovação permite retry seguro
func errIsRetryable(err error) bool {
	return IsGateway(err) || errors.Is(err, context.DeadlineExceeded)
}
