package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRequestWithdrawal_DebitsWalletAtomically(t *testing.T) {
	// Arrange: saldo 10000, saque de 4000
	mockRepo := new(MockRepository)
	mockGateway := new(MockGateway)
	tx := newMockTx()
	ctx := context.Background()
	owner := Principal{UserID: "seller-1", Role: RoleUser}

	wallet := &Wallet{ID: "wallet-1", OwnerID: "seller-1", Balance: 10000}

	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("GetWalletForUpdate", ctx, tx, "seller-1").Return(wallet, nil)
	mockRepo.On("CreateWithdrawal", ctx, tx, mock.MatchedBy(func(w *Withdrawal) bool {
		return w.OwnerID == "seller-1" && w.Amount == 4000 && w.Status == WithdrawalStatusPending
	})).Return(nil)
	mockRepo.On("ApplyLedgerEntry", ctx, tx, "wallet-1", int64(-4000), LedgerTypeWithdraw, mock.Anything).Return(nil)

	uc := NewWithdrawalUseCase(mockRepo, mockGateway)

	// Act
	withdrawal, err := uc.RequestWithdrawal(ctx, owner, 4000, "seller@pix.dev", "email")

	// Assert: débito + lançamento + insert do saque na mesma transação
	assert.NoError(t, err)
	assert.Equal(t, WithdrawalStatusPending, withdrawal.Status)
	mockRepo.AssertExpectations(t)
	tx.AssertCalled(t, "Commit")
}

func TestRequestWithdrawal_InsufficientBalanceIsRejected(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	mockGateway := new(MockGateway)
	tx := newMockTx()
	ctx := context.Background()

	wallet := &Wallet{ID: "wallet-1", OwnerID: "seller-1", Balance: 3000}

	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("GetWalletForUpdate", ctx, tx, "seller-1").Return(wallet, nil)

	uc := NewWithdrawalUseCase(mockRepo, mockGateway)

	// Act
	_, err := uc.RequestWithdrawal(ctx, Principal{UserID: "seller-1", Role: RoleUser}, 4000, "seller@pix.dev", "email")

	// Assert: nenhuma mutação aplicada
	assert.True(t, IsValidation(err))
	mockRepo.AssertNotCalled(t, "CreateWithdrawal", mock.Anything, mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "ApplyLedgerEntry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	tx.AssertNotCalled(t, "Commit")
}

func TestRequestWithdrawal_NonPositiveAmountIsRejected(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	mockGateway := new(MockGateway)
	uc := NewWithdrawalUseCase(mockRepo, mockGateway)

	// Act
	_, err := uc.RequestWithdrawal(context.Background(), Principal{UserID: "seller-1"}, -10, "key", "cpf")

	// Assert: rejeitado antes de qualquer acesso ao banco
	assert.True(t, IsValidation(err))
	mockRepo.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestApprove_PayoutUsesWithdrawalIDAsCorrelationKey(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	mockGateway := new(MockGateway)
	tx := newMockTx()
	ctx := context.Background()
	admin := Principal{UserID: "admin-1", Role: RoleAdmin}

	withdrawal := &Withdrawal{ID: "wd-1", OwnerID: "seller-1", Amount: 4000, PixKey: "seller@pix.dev", PixKeyType: "email", Status: WithdrawalStatusPending}

	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("GetWithdrawalForUpdate", ctx, tx, "wd-1").Return(withdrawal, nil)
	mockGateway.On("CreateTransfer", ctx, int64(4000), "seller@pix.dev", "email", "wd-1").
		Return(&Transfer{TransferID: "tr-1", Status: "COMPLETED"}, nil)
	mockRepo.On("UpdateWithdrawalStatus", ctx, tx, "wd-1", WithdrawalStatusPending, WithdrawalStatusCompleted).Return(nil)

	uc := NewWithdrawalUseCase(mockRepo, mockGateway)

	// Act
	err := uc.Approve(ctx, admin, "wd-1")

	// Assert
	assert.NoError(t, err)
	mockGateway.AssertExpectations(t)
	mockRepo.AssertExpectations(t)
	tx.AssertCalled(t, "Commit")
}

func TestApprove_PayoutFailureLeavesWithdrawalPending(t *testing.T) {
	// Arrange: o provedor falha; o saque continua pending com os fundos já
	// reservados, e o retry com a mesma chave de correlação é seguro
	mockRepo := new(MockRepository)
	mockGateway := new(MockGateway)
	tx := newMockTx()
	ctx := context.Background()
	admin := Principal{UserID: "admin-1", Role: RoleAdmin}

	withdrawal := &Withdrawal{ID: "wd-1", OwnerID: "seller-1", Amount: 4000, PixKey: "seller@pix.dev", PixKeyType: "email", Status: WithdrawalStatusPending}

	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("GetWithdrawalForUpdate", ctx, tx, "wd-1").Return(withdrawal, nil)
	mockGateway.On("CreateTransfer", ctx, int64(4000), "seller@pix.dev", "email", "wd-1").
		Return(nil, newGatewayError("create_transfer", assert.AnError)).Once()

	uc := NewWithdrawalUseCase(mockRepo, mockGateway)

	// Act
	err := uc.Approve(ctx, admin, "wd-1")

	// Assert
	assert.True(t, IsGateway(err))
	mockRepo.AssertNotCalled(t, "UpdateWithdrawalStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	tx.AssertNotCalled(t, "Commit")

	// Retry após a falha: mesma chave de correlação wd-1 no provedor
	mockGateway.On("CreateTransfer", ctx, int64(4000), "seller@pix.dev", "email", "wd-1").
		Return(&Transfer{TransferID: "tr-1", Status: "COMPLETED"}, nil)
	mockRepo.On("UpdateWithdrawalStatus", ctx, tx, "wd-1", WithdrawalStatusPending, WithdrawalStatusCompleted).Return(nil)

	err = uc.Approve(ctx, admin, "wd-1")
	assert.NoError(t, err)
	mockGateway.AssertNumberOfCalls(t, "CreateTransfer", 2)
}

func TestApprove_NonPendingWithdrawalConflicts(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	mockGateway := new(MockGateway)
	tx := newMockTx()
	ctx := context.Background()

	completed := &Withdrawal{ID: "wd-1", OwnerID: "seller-1", Amount: 4000, Status: WithdrawalStatusCompleted}

	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("GetWithdrawalForUpdate", ctx, tx, "wd-1").Return(completed, nil)

	uc := NewWithdrawalUseCase(mockRepo, mockGateway)

	// Act
	err := uc.Approve(ctx, Principal{UserID: "admin-1", Role: RoleAdmin}, "wd-1")

	// Assert: nenhum payout disparado
	assert.True(t, IsConflict(err))
	mockGateway.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApprove_RequiresAdminCapability(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	mockGateway := new(MockGateway)
	uc := NewWithdrawalUseCase(mockRepo, mockGateway)

	// Act
	err := uc.Approve(context.Background(), Principal{UserID: "seller-1", Role: RoleUser}, "wd-1")

	// Assert
	assert.ErrorIs(t, err, ErrNotAllowed)
	mockRepo.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestReject_CreditsEarmarkedAmountBack(t *testing.T) {
	// Arrange: saldo B-W volta a B com um lançamento refund referenciando o saque
	mockRepo := new(MockRepository)
	mockGateway := new(MockGateway)
	tx := newMockTx()
	ctx := context.Background()
	admin := Principal{UserID: "admin-1", Role: RoleAdmin}

	withdrawal := &Withdrawal{ID: "wd-1", OwnerID: "seller-1", Amount: 4000, Status: WithdrawalStatusPending}
	wallet := &Wallet{ID: "wallet-1", OwnerID: "seller-1", Balance: 6000}

	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("GetWithdrawalForUpdate", ctx, tx, "wd-1").Return(withdrawal, nil)
	mockRepo.On("UpdateWithdrawalStatus", ctx, tx, "wd-1", WithdrawalStatusPending, WithdrawalStatusRejected).Return(nil)
	mockRepo.On("GetWalletForUpdate", ctx, tx, "seller-1").Return(wallet, nil)
	mockRepo.On("LedgerEntryExists", ctx, tx, "wd-1", LedgerTypeRefund).Return(false, nil)
	mockRepo.On("ApplyLedgerEntry", ctx, tx, "wallet-1", int64(4000), LedgerTypeRefund, "wd-1").Return(nil)

	uc := NewWithdrawalUseCase(mockRepo, mockGateway)

	// Act
	err := uc.Reject(ctx, admin, "wd-1")

	// Assert
	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	tx.AssertCalled(t, "Commit")
}

func TestReject_AlreadyRejectedIsConflictNotDoubleCredit(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	mockGateway := new(MockGateway)
	tx := newMockTx()
	ctx := context.Background()

	rejected := &Withdrawal{ID: "wd-1", OwnerID: "seller-1", Amount: 4000, Status: WithdrawalStatusRejected}

	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("GetWithdrawalForUpdate", ctx, tx, "wd-1").Return(rejected, nil)

	uc := NewWithdrawalUseCase(mockRepo, mockGateway)

	// Act: segunda rejeição
	err := uc.Reject(ctx, Principal{UserID: "admin-1", Role: RoleAdmin}, "wd-1")

	// Assert: erro de conflito, nunca crédito dobrado
	assert.True(t, IsConflict(err))
	mockRepo.AssertNotCalled(t, "ApplyLedgerEntry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	tx.AssertNotCalled(t, "Commit")
}
