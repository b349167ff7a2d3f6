package main

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockTx simula uma transação do banco
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTx) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// newMockTx cria uma transação que aceita Commit e Rollback
func newMockTx() *MockTx {
	tx := new(MockTx)
	tx.On("Commit").Return(nil)
	tx.On("Rollback").Return(nil)
	return tx
}

// MockRepository simula o Repository para testes de use case
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) BeginTx(ctx context.Context) (Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Tx), args.Error(1)
}

func (m *MockRepository) CreateOrder(ctx context.Context, tx Tx, order *Order) error {
	args := m.Called(ctx, tx, order)
	return args.Error(0)
}

func (m *MockRepository) GetOrder(ctx context.Context, tx Tx, orderID string) (*Order, error) {
	args := m.Called(ctx, tx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) UpdateOrderStatus(ctx context.Context, tx Tx, orderID, from, to string) error {
	args := m.Called(ctx, tx, orderID, from, to)
	return args.Error(0)
}

func (m *MockRepository) CreatePaymentTransaction(ctx context.Context, tx Tx, payment *PaymentTransaction) error {
	args := m.Called(ctx, tx, payment)
	return args.Error(0)
}

func (m *MockRepository) GetPaymentByChargeIDForUpdate(ctx context.Context, tx Tx, externalChargeID string) (*PaymentTransaction, error) {
	args := m.Called(ctx, tx, externalChargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaymentTransaction), args.Error(1)
}

func (m *MockRepository) GetPaymentByOrderID(ctx context.Context, orderID string) (*PaymentTransaction, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaymentTransaction), args.Error(1)
}

func (m *MockRepository) SettlePaymentTransaction(ctx context.Context, tx Tx, paymentID, status string, paidAt *time.Time) error {
	args := m.Called(ctx, tx, paymentID, status, paidAt)
	return args.Error(0)
}

func (m *MockRepository) RefundPaymentTransaction(ctx context.Context, tx Tx, paymentID string) error {
	args := m.Called(ctx, tx, paymentID)
	return args.Error(0)
}

func (m *MockRepository) ListStalePendingCharges(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	args := m.Called(ctx, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockRepository) GetTicketType(ctx context.Context, tx Tx, ticketTypeID string) (*TicketType, error) {
	args := m.Called(ctx, tx, ticketTypeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TicketType), args.Error(1)
}

func (m *MockRepository) ReserveTicketTypeStock(ctx context.Context, tx Tx, ticketTypeID string, quantity int) error {
	args := m.Called(ctx, tx, ticketTypeID, quantity)
	return args.Error(0)
}

func (m *MockRepository) InsertUserTickets(ctx context.Context, tx Tx, tickets []*UserTicket) error {
	args := m.Called(ctx, tx, tickets)
	return args.Error(0)
}

func (m *MockRepository) GetUserTicketForUpdate(ctx context.Context, tx Tx, ticketID string) (*UserTicket, error) {
	args := m.Called(ctx, tx, ticketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*UserTicket), args.Error(1)
}

func (m *MockRepository) UpdateTicketStatus(ctx context.Context, tx Tx, ticketID, from, to string) error {
	args := m.Called(ctx, tx, ticketID, from, to)
	return args.Error(0)
}

func (m *MockRepository) TransferTicketToBuyer(ctx context.Context, tx Tx, ticketID, buyerID string) error {
	args := m.Called(ctx, tx, ticketID, buyerID)
	return args.Error(0)
}

func (m *MockRepository) CreateListing(ctx context.Context, tx Tx, listing *ResaleListing) error {
	args := m.Called(ctx, tx, listing)
	return args.Error(0)
}

func (m *MockRepository) GetListingForUpdate(ctx context.Context, tx Tx, listingID string) (*ResaleListing, error) {
	args := m.Called(ctx, tx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ResaleListing), args.Error(1)
}

func (m *MockRepository) UpdateListingStatus(ctx context.Context, tx Tx, listingID, from, to string) error {
	args := m.Called(ctx, tx, listingID, from, to)
	return args.Error(0)
}

func (m *MockRepository) GetWalletForUpdate(ctx context.Context, tx Tx, ownerID string) (*Wallet, error) {
	args := m.Called(ctx, tx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Wallet), args.Error(1)
}

func (m *MockRepository) LedgerEntryExists(ctx context.Context, tx Tx, referenceID, entryType string) (bool, error) {
	args := m.Called(ctx, tx, referenceID, entryType)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ApplyLedgerEntry(ctx context.Context, tx Tx, walletID string, amount int64, entryType, referenceID string) error {
	args := m.Called(ctx, tx, walletID, amount, entryType, referenceID)
	return args.Error(0)
}

func (m *MockRepository) CreateWithdrawal(ctx context.Context, tx Tx, withdrawal *Withdrawal) error {
	args := m.Called(ctx, tx, withdrawal)
	return args.Error(0)
}

func (m *MockRepository) GetWithdrawalForUpdate(ctx context.Context, tx Tx, withdrawalID string) (*Withdrawal, error) {
	args := m.Called(ctx, tx, withdrawalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Withdrawal), args.Error(1)
}

func (m *MockRepository) UpdateWithdrawalStatus(ctx context.Context, tx Tx, withdrawalID, from, to string) error {
	args := m.Called(ctx, tx, withdrawalID, from, to)
	return args.Error(0)
}

// MockGateway simula o provedor PIX
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCharge(ctx context.Context, amount int64, correlationID string, customer Customer) (*Charge, error) {
	args := m.Called(ctx, amount, correlationID, customer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Charge), args.Error(1)
}

func (m *MockGateway) GetChargeStatus(ctx context.Context, chargeID string) (*ChargeStatus, error) {
	args := m.Called(ctx, chargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChargeStatus), args.Error(1)
}

func (m *MockGateway) CreateTransfer(ctx context.Context, amount int64, pixKey, pixKeyType, correlationID string) (*Transfer, error) {
	args := m.Called(ctx, amount, pixKey, pixKeyType, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Transfer), args.Error(1)
}
