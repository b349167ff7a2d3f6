package main

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status possíveis de um pedido
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
	OrderStatusRefunded  = "refunded"
)

// Origem de um pedido: venda primária ou revenda
const (
	OrderOriginPrimary = "primary"
	OrderOriginResale  = "resale"
)

// Status possíveis de uma transação de pagamento
const (
	PaymentStatusPending   = "pending"
	PaymentStatusPaid      = "paid"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusRefunded  = "refunded"
)

// Status possíveis de um ingresso
const (
	TicketStatusActive    = "active"
	TicketStatusListed    = "listed"
	TicketStatusSold      = "sold"
	TicketStatusUsed      = "used"
	TicketStatusCancelled = "cancelled"
)

// Status possíveis de um anúncio de revenda
const (
	ListingStatusActive    = "active"
	ListingStatusReserved  = "reserved"
	ListingStatusSold      = "sold"
	ListingStatusCancelled = "cancelled"
)

// Status possíveis de um saque
const (
	WithdrawalStatusPending   = "pending"
	WithdrawalStatusCompleted = "completed"
	WithdrawalStatusRejected  = "rejected"
)

// Tipos de lançamento no ledger da carteira
const (
	LedgerTypeTicketSale     = "ticket_sale"
	LedgerTypeSaleCommission = "sale_commission"
	LedgerTypeWithdraw       = "withdraw"
	LedgerTypeRefund         = "refund"
	LedgerTypeAdjustment     = "adjustment"
)

// Papéis conhecidos do provedor de identidade
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Principal representa o usuário autenticado resolvido pelo provedor de
// identidade externo. As operações de núcleo recebem o principal explícito
// e fazem a checagem de capacidade uma única vez na entrada.
type Principal struct {
	UserID string
	Role   string
}

// IsAdmin informa se o principal tem capacidade administrativa
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Order representa um pedido de compra (primário ou de revenda)
type Order struct {
	ID              string    `json:"id" db:"id"`
	BuyerID         string    `json:"buyer_id" db:"buyer_id"`
	TotalAmount     int64     `json:"total_amount" db:"total_amount"`
	Status          string    `json:"status" db:"status"`
	Origin          string    `json:"origin" db:"origin"`
	TicketTypeID    string    `json:"ticket_type_id,omitempty" db:"ticket_type_id"`
	Quantity        int       `json:"quantity,omitempty" db:"quantity"`
	ResaleListingID string    `json:"resale_listing_id,omitempty" db:"resale_listing_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// NewPrimaryOrder cria um pedido de venda primária
func NewPrimaryOrder(buyerID, ticketTypeID string, quantity int, unitPrice int64) *Order {
	return &Order{
		ID:           uuid.New().String(),
		BuyerID:      buyerID,
		TotalAmount:  unitPrice * int64(quantity),
		Status:       OrderStatusPending,
		Origin:       OrderOriginPrimary,
		TicketTypeID: ticketTypeID,
		Quantity:     quantity,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

// NewResaleOrder cria um pedido de revenda a partir de um anúncio reservado
func NewResaleOrder(buyerID, listingID string, askingPrice int64) *Order {
	return &Order{
		ID:              uuid.New().String(),
		BuyerID:         buyerID,
		TotalAmount:     askingPrice,
		Status:          OrderStatusPending,
		Origin:          OrderOriginResale,
		Quantity:        1,
		ResaleListingID: listingID,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

// IsTerminal informa se o pedido está em estado terminal (nunca reverte)
func (o *Order) IsTerminal() bool {
	return o.Status != OrderStatusPending
}

// PaymentTransaction representa a cobrança PIX associada a um pedido.
// ExternalChargeID é a chave de idempotência para eventos do provedor.
type PaymentTransaction struct {
	ID               string     `json:"id" db:"id"`
	OrderID          string     `json:"order_id" db:"order_id"`
	ExternalChargeID string     `json:"external_charge_id" db:"external_charge_id"`
	Amount           int64      `json:"amount" db:"amount"`
	Status           string     `json:"status" db:"status"`
	PaidAt           *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// NewPaymentTransaction cria uma transação pendente para um pedido
func NewPaymentTransaction(orderID, externalChargeID string, amount int64) *PaymentTransaction {
	return &PaymentTransaction{
		ID:               uuid.New().String(),
		OrderID:          orderID,
		ExternalChargeID: externalChargeID,
		Amount:           amount,
		Status:           PaymentStatusPending,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
}

// IsSettled informa se a transação já chegou a um estado terminal
func (t *PaymentTransaction) IsSettled() bool {
	return t.Status != PaymentStatusPending
}

// Wallet representa a carteira de um organizador/vendedor.
// O saldo é em centavos e nunca pode ficar negativo; toda mudança de saldo
// acontece junto com a inserção de um WalletLedgerEntry na mesma transação.
type Wallet struct {
	ID        string    `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Balance   int64     `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// WalletLedgerEntry é o registro imutável de uma mudança de saldo.
// A soma dos lançamentos de uma carteira sempre iguala o saldo atual.
type WalletLedgerEntry struct {
	ID          string    `json:"id" db:"id"`
	WalletID    string    `json:"wallet_id" db:"wallet_id"`
	Amount      int64     `json:"amount" db:"amount"`
	Type        string    `json:"type" db:"type"`
	ReferenceID string    `json:"reference_id" db:"reference_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TicketType representa um lote de ingressos de um evento.
// FeePercent é a comissão da plataforma capturada na criação do lote.
type TicketType struct {
	ID            string    `json:"id" db:"id"`
	EventID       string    `json:"event_id" db:"event_id"`
	OrganizerID   string    `json:"organizer_id" db:"organizer_id"`
	Name          string    `json:"name" db:"name"`
	Price         int64     `json:"price" db:"price"`
	FeePercent    int       `json:"fee_percent" db:"fee_percent"`
	TotalQuantity int       `json:"total_quantity" db:"total_quantity"`
	SoldQuantity  int       `json:"sold_quantity" db:"sold_quantity"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// UserTicket representa um ingresso de posse de um usuário
type UserTicket struct {
	ID           string    `json:"id" db:"id"`
	OwnerID      string    `json:"owner_id" db:"owner_id"`
	EventID      string    `json:"event_id" db:"event_id"`
	TicketTypeID string    `json:"ticket_type_id" db:"ticket_type_id"`
	Status       string    `json:"status" db:"status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NewUserTicket emite um ingresso ativo para um comprador
func NewUserTicket(ownerID, eventID, ticketTypeID string) *UserTicket {
	return &UserTicket{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		EventID:      eventID,
		TicketTypeID: ticketTypeID,
		Status:       TicketStatusActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

// ResaleListing representa um anúncio de revenda de ingresso.
// No máximo um anúncio ativo/reservado por ingresso (índice parcial único).
type ResaleListing struct {
	ID          string    `json:"id" db:"id"`
	TicketID    string    `json:"ticket_id" db:"ticket_id"`
	SellerID    string    `json:"seller_id" db:"seller_id"`
	AskingPrice int64     `json:"asking_price" db:"asking_price"`
	FeePercent  int       `json:"fee_percent" db:"fee_percent"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// NewResaleListing cria um anúncio ativo. O teto de preço é validado antes
// (uma única vez, na criação — não é revalidado retroativamente).
func NewResaleListing(ticketID, sellerID string, askingPrice int64, feePercent int) *ResaleListing {
	return &ResaleListing{
		ID:          uuid.New().String(),
		TicketID:    ticketID,
		SellerID:    sellerID,
		AskingPrice: askingPrice,
		FeePercent:  feePercent,
		Status:      ListingStatusActive,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

// Withdrawal representa um pedido de saque via PIX.
// O ID do saque é a chave de correlação usada no payout junto ao provedor.
type Withdrawal struct {
	ID         string    `json:"id" db:"id"`
	OwnerID    string    `json:"owner_id" db:"owner_id"`
	Amount     int64     `json:"amount" db:"amount"`
	PixKey     string    `json:"pix_key" db:"pix_key"`
	PixKeyType string    `json:"pix_key_type" db:"pix_key_type"`
	Status     string    `json:"status" db:"status"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// NewWithdrawal cria um saque pendente
func NewWithdrawal(ownerID string, amount int64, pixKey, pixKeyType string) *Withdrawal {
	return &Withdrawal{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		Amount:     amount,
		PixKey:     pixKey,
		PixKeyType: pixKeyType,
		Status:     WithdrawalStatusPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

// PayoutAmount calcula o valor líquido do vendedor: total menos a comissão
// da plataforma capturada na criação do lote/anúncio
func PayoutAmount(total int64, feePercent int) int64 {
	fee := total * int64(feePercent) / 100
	return total - fee
}

// mapChargeStatus normaliza o status reportado pelo provedor PIX para o
// vocabulário interno de PaymentTransaction
func mapChargeStatus(providerStatus string) (string, error) {
	switch providerStatus {
	case "COMPLETED", "CONFIRMED", "PAID":
		return PaymentStatusPaid, nil
	case "EXPIRED", "FAILED":
		return PaymentStatusFailed, nil
	case "CANCELLED", "CANCELED":
		return PaymentStatusCancelled, nil
	case "ACTIVE", "PENDING", "CREATED":
		return PaymentStatusPending, nil
	default:
		return "", errors.New("unknown provider charge status: " + providerStatus)
	}
}
