package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tx interface para transações
type Tx interface {
	Commit() error
	Rollback() error
}

// Repository define as operações de banco do serviço de liquidação.
// Toda mutação de estado roda dentro de uma transação com lock pessimista
// na linha alvo; as transições de status são escritas condicionais
// (UPDATE ... WHERE status = <from>) para que corridas percam limpo.
type Repository interface {
	BeginTx(ctx context.Context) (Tx, error)

	// Pedidos e transações de pagamento
	CreateOrder(ctx context.Context, tx Tx, order *Order) error
	GetOrder(ctx context.Context, tx Tx, orderID string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, tx Tx, orderID, from, to string) error
	CreatePaymentTransaction(ctx context.Context, tx Tx, payment *PaymentTransaction) error
	GetPaymentByChargeIDForUpdate(ctx context.Context, tx Tx, externalChargeID string) (*PaymentTransaction, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (*PaymentTransaction, error)
	SettlePaymentTransaction(ctx context.Context, tx Tx, paymentID, status string, paidAt *time.Time) error
	RefundPaymentTransaction(ctx context.Context, tx Tx, paymentID string) error
	ListStalePendingCharges(ctx context.Context, olderThan time.Duration, limit int) ([]string, error)

	// Lotes de ingresso e fulfillment
	GetTicketType(ctx context.Context, tx Tx, ticketTypeID string) (*TicketType, error)
	ReserveTicketTypeStock(ctx context.Context, tx Tx, ticketTypeID string, quantity int) error
	InsertUserTickets(ctx context.Context, tx Tx, tickets []*UserTicket) error

	// Ingressos e anúncios de revenda
	GetUserTicketForUpdate(ctx context.Context, tx Tx, ticketID string) (*UserTicket, error)
	UpdateTicketStatus(ctx context.Context, tx Tx, ticketID, from, to string) error
	TransferTicketToBuyer(ctx context.Context, tx Tx, ticketID, buyerID string) error
	CreateListing(ctx context.Context, tx Tx, listing *ResaleListing) error
	GetListingForUpdate(ctx context.Context, tx Tx, listingID string) (*ResaleListing, error)
	UpdateListingStatus(ctx context.Context, tx Tx, listingID, from, to string) error

	// Carteiras e ledger
	GetWalletForUpdate(ctx context.Context, tx Tx, ownerID string) (*Wallet, error)
	LedgerEntryExists(ctx context.Context, tx Tx, referenceID, entryType string) (bool, error)
	ApplyLedgerEntry(ctx context.Context, tx Tx, walletID string, amount int64, entryType, referenceID string) error

	// Saques
	CreateWithdrawal(ctx context.Context, tx Tx, withdrawal *Withdrawal) error
	GetWithdrawalForUpdate(ctx context.Context, tx Tx, withdrawalID string) (*Withdrawal, error)
	UpdateWithdrawalStatus(ctx context.Context, tx Tx, withdrawalID, from, to string) error
}

// PostgresRepository implementa Repository usando PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(db *pgxpool.Pool) Repository {
	return &PostgresRepository{db: db}
}

// PostgresTx implementa a interface Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

// BeginTx inicia uma nova transação
func (r *PostgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &PostgresTx{tx: tx}, nil
}

func pgTxOf(tx Tx) pgx.Tx {
	return tx.(*PostgresTx).tx
}

// isUniqueViolation detecta violação de constraint única (23505)
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateOrder insere um novo pedido
func (r *PostgresRepository) CreateOrder(ctx context.Context, tx Tx, order *Order) error {
	_, err := pgTxOf(tx).Exec(ctx, `
		INSERT INTO orders (id, buyer_id, total_amount, status, origin, ticket_type_id, quantity, resale_listing_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::uuid, $7, NULLIF($8, '')::uuid, $9, $10)
	`, order.ID, order.BuyerID, order.TotalAmount, order.Status, order.Origin,
		order.TicketTypeID, order.Quantity, order.ResaleListingID, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetOrder busca um pedido pelo ID
func (r *PostgresRepository) GetOrder(ctx context.Context, tx Tx, orderID string) (*Order, error) {
	var order Order
	err := pgTxOf(tx).QueryRow(ctx, `
		SELECT id, buyer_id, total_amount, status, origin,
		       COALESCE(ticket_type_id::text, ''), quantity,
		       COALESCE(resale_listing_id::text, ''), created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID).Scan(&order.ID, &order.BuyerID, &order.TotalAmount, &order.Status, &order.Origin,
		&order.TicketTypeID, &order.Quantity, &order.ResaleListingID, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus faz a transição condicional de status de um pedido.
// Retorna ErrStateConflict se o pedido não está mais no status esperado.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, tx Tx, orderID, from, to string) error {
	tag, err := pgTxOf(tx).Exec(ctx, `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, orderID, from)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// CreatePaymentTransaction insere a transação de pagamento de um pedido
func (r *PostgresRepository) CreatePaymentTransaction(ctx context.Context, tx Tx, payment *PaymentTransaction) error {
	_, err := pgTxOf(tx).Exec(ctx, `
		INSERT INTO payment_transactions (id, order_id, external_charge_id, amount, status, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, payment.ID, payment.OrderID, payment.ExternalChargeID, payment.Amount,
		payment.Status, payment.PaidAt, payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return newConflictError("create_payment", "charge already registered")
		}
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}
	return nil
}

// GetPaymentByChargeIDForUpdate busca a transação pela cobrança externa com
// lock pessimista. É o ponto de serialização da conciliação: webhook e poll
// concorrentes para a mesma cobrança enfileiram aqui.
func (r *PostgresRepository) GetPaymentByChargeIDForUpdate(ctx context.Context, tx Tx, externalChargeID string) (*PaymentTransaction, error) {
	var payment PaymentTransaction
	err := pgTxOf(tx).QueryRow(ctx, `
		SELECT id, order_id, external_charge_id, amount, status, paid_at, created_at, updated_at
		FROM payment_transactions
		WHERE external_charge_id = $1
		FOR UPDATE
	`, externalChargeID).Scan(&payment.ID, &payment.OrderID, &payment.ExternalChargeID,
		&payment.Amount, &payment.Status, &payment.PaidAt, &payment.CreatedAt, &payment.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment with lock: %w", err)
	}
	return &payment, nil
}

// GetPaymentByOrderID busca a transação de um pedido (caminho de poll, sem lock)
func (r *PostgresRepository) GetPaymentByOrderID(ctx context.Context, orderID string) (*PaymentTransaction, error) {
	var payment PaymentTransaction
	err := r.db.QueryRow(ctx, `
		SELECT id, order_id, external_charge_id, amount, status, paid_at, created_at, updated_at
		FROM payment_transactions
		WHERE order_id = $1
	`, orderID).Scan(&payment.ID, &payment.OrderID, &payment.ExternalChargeID,
		&payment.Amount, &payment.Status, &payment.PaidAt, &payment.CreatedAt, &payment.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// SettlePaymentTransaction aplica a transição pending -> terminal.
// A cláusula WHERE status = 'pending' garante exatamente-uma aplicação
// mesmo com entregas duplicadas do provedor.
func (r *PostgresRepository) SettlePaymentTransaction(ctx context.Context, tx Tx, paymentID, status string, paidAt *time.Time) error {
	tag, err := pgTxOf(tx).Exec(ctx, `
		UPDATE payment_transactions
		SET status = $1, paid_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'pending'
	`, status, paidAt, paymentID)
	if err != nil {
		return fmt.Errorf("failed to settle payment transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// RefundPaymentTransaction aplica a transição paid -> refunded (a única
// saída permitida de um estado terminal, via ação manual de admin)
func (r *PostgresRepository) RefundPaymentTransaction(ctx context.Context, tx Tx, paymentID string) error {
	tag, err := pgTxOf(tx).Exec(ctx, `
		UPDATE payment_transactions
		SET status = 'refunded', updated_at = NOW()
		WHERE id = $1 AND status = 'paid'
	`, paymentID)
	if err != nil {
		return fmt.Errorf("failed to refund payment transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// ListStalePendingCharges lista cobranças pendentes antigas para a varredura
// de recuperação (webhooks perdidos)
func (r *PostgresRepository) ListStalePendingCharges(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT external_charge_id
		FROM payment_transactions
		WHERE status = 'pending' AND created_at < NOW() - $1::interval
		ORDER BY created_at
		LIMIT $2
	`, fmt.Sprintf("%d seconds", int(olderThan.Seconds())), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chargeIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		chargeIDs = append(chargeIDs, id)
	}
	return chargeIDs, rows.Err()
}

// GetTicketType busca um lote de ingressos
func (r *PostgresRepository) GetTicketType(ctx context.Context, tx Tx, ticketTypeID string) (*TicketType, error) {
	var tt TicketType
	err := pgTxOf(tx).QueryRow(ctx, `
		SELECT id, event_id, organizer_id, name, price, fee_percent, total_quantity, sold_quantity, created_at
		FROM ticket_types WHERE id = $1
	`, ticketTypeID).Scan(&tt.ID, &tt.EventID, &tt.OrganizerID, &tt.Name, &tt.Price,
		&tt.FeePercent, &tt.TotalQuantity, &tt.SoldQuantity, &tt.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tt, nil
}

// ReserveTicketTypeStock incrementa sold_quantity se ainda há estoque.
// Escrita condicional: uma corrida de esgotamento perde aqui, não depois.
func (r *PostgresRepository) ReserveTicketTypeStock(ctx context.Context, tx Tx, ticketTypeID string, quantity int) error {
	tag, err := pgTxOf(tx).Exec(ctx, `
		UPDATE ticket_types
		SET sold_quantity = sold_quantity + $1
		WHERE id = $2 AND sold_quantity + $1 <= total_quantity
	`, quantity, ticketTypeID)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// InsertUserTickets emite os ingressos de um pedido primário pago
func (r *PostgresRepository) InsertUserTickets(ctx context.Context, tx Tx, tickets []*UserTicket) error {
	for _, ticket := range tickets {
		_, err := pgTxOf(tx).Exec(ctx, `
			INSERT INTO user_tickets (id, owner_id, event_id, ticket_type_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, ticket.ID, ticket.OwnerID, ticket.EventID, ticket.TicketTypeID,
			ticket.Status, ticket.CreatedAt, ticket.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert user ticket: %w", err)
		}
	}
	return nil
}

// GetUserTicketForUpdate busca um ingresso com lock pessimista
func (r *PostgresRepository) GetUserTicketForUpdate(ctx context.Context, tx Tx, ticketID string) (*UserTicket, error) {
	var ticket UserTicket
	err := pgTxOf(tx).QueryRow(ctx, `
		SELECT id, owner_id, event_id, ticket_type_id, status, created_at, updated_at
		FROM user_tickets
		WHERE id = $1
		FOR UPDATE
	`, ticketID).Scan(&ticket.ID, &ticket.OwnerID, &ticket.EventID, &ticket.TicketTypeID,
		&ticket.Status, &ticket.CreatedAt, &ticket.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket with lock: %w", err)
	}
	return &ticket, nil
}

// UpdateTicketStatus faz a transição condicional de status de um ingresso
func (r *PostgresRepository) UpdateTicketStatus(ctx context.Context, tx Tx, ticketID, from, to string) error {
	tag, err := pgTxOf(tx).Exec(ctx, `
		UPDATE user_tickets
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, ticketID, from)
	if err != nil {
		return fmt.Errorf("failed to update ticket status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// TransferTicketToBuyer finaliza a revenda: o ingresso em escrow (listed)
// passa a sold e a posse muda para o comprador, numa única escrita condicional
func (r *PostgresRepository) TransferTicketToBuyer(ctx context.Context, tx Tx, ticketID, buyerID string) error {
	tag, err := pgTxOf(tx).Exec(ctx, `
		UPDATE user_tickets
		SET owner_id = $1, status = 'sold', updated_at = NOW()
		WHERE id = $2 AND status = 'listed'
	`, buyerID, ticketID)
	if err != nil {
		return fmt.Errorf("failed to transfer ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// CreateListing insere um anúncio de revenda. O índice parcial único em
// resale_listings garante no banco que só existe um anúncio ativo/reservado
// por ingresso; a corrida de anúncio duplo vira ConflictError aqui.
func (r *PostgresRepository) CreateListing(ctx context.Context, tx Tx, listing *ResaleListing) error {
	_, err := pgTxOf(tx).Exec(ctx, `
		INSERT INTO resale_listings (id, ticket_id, seller_id, asking_price, fee_percent, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, listing.ID, listing.TicketID, listing.SellerID, listing.AskingPrice,
		listing.FeePercent, listing.Status, listing.CreatedAt, listing.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return newConflictError("create_listing", "ticket already has an active listing")
		}
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

// GetListingForUpdate busca um anúncio com lock pessimista
func (r *PostgresRepository) GetListingForUpdate(ctx context.Context, tx Tx, listingID string) (*ResaleListing, error) {
	var listing ResaleListing
	err := pgTxOf(tx).QueryRow(ctx, `
		SELECT id, ticket_id, seller_id, asking_price, fee_percent, status, created_at, updated_at
		FROM resale_listings
		WHERE id = $1
		FOR UPDATE
	`, listingID).Scan(&listing.ID, &listing.TicketID, &listing.SellerID, &listing.AskingPrice,
		&listing.FeePercent, &listing.Status, &listing.CreatedAt, &listing.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing with lock: %w", err)
	}
	return &listing, nil
}

// UpdateListingStatus faz a transição condicional de status de um anúncio
func (r *PostgresRepository) UpdateListingStatus(ctx context.Context, tx Tx, listingID, from, to string) error {
	tag, err := pgTxOf(tx).Exec(ctx, `
		UPDATE resale_listings
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, listingID, from)
	if err != nil {
		return fmt.Errorf("failed to update listing status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// GetWalletForUpdate obtém a carteira do dono com lock pessimista,
// criando a linha na primeira vez (INSERT ... ON CONFLICT DO NOTHING)
func (r *PostgresRepository) GetWalletForUpdate(ctx context.Context, tx Tx, ownerID string) (*Wallet, error) {
	pgTx := pgTxOf(tx)

	_, err := pgTx.Exec(ctx, `
		INSERT INTO wallets (id, owner_id, balance, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
		ON CONFLICT (owner_id) DO NOTHING
	`, uuid.New().String(), ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var wallet Wallet
	err = pgTx.QueryRow(ctx, `
		SELECT id, owner_id, balance, created_at, updated_at
		FROM wallets
		WHERE owner_id = $1
		FOR UPDATE
	`, ownerID).Scan(&wallet.ID, &wallet.OwnerID, &wallet.Balance, &wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet with lock: %w", err)
	}
	return &wallet, nil
}

// LedgerEntryExists verifica dentro da transação se um lançamento com essa
// referência e tipo já foi aplicado (idempotência do crédito)
func (r *PostgresRepository) LedgerEntryExists(ctx context.Context, tx Tx, referenceID, entryType string) (bool, error) {
	var exists bool
	err := pgTxOf(tx).QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM wallet_ledger_entries
			WHERE reference_id = $1 AND type = $2
		)
	`, referenceID, entryType).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ApplyLedgerEntry aplica uma mudança de saldo: atualização condicional do
// saldo (nunca abaixo de zero) e inserção do lançamento, inseparáveis.
func (r *PostgresRepository) ApplyLedgerEntry(ctx context.Context, tx Tx, walletID string, amount int64, entryType, referenceID string) error {
	pgTx := pgTxOf(tx)

	tag, err := pgTx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2 AND balance + $1 >= 0
	`, amount, walletID)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return newInvariantViolation("wallet balance would go negative", nil)
	}

	_, err = pgTx.Exec(ctx, `
		INSERT INTO wallet_ledger_entries (id, wallet_id, amount, type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New().String(), walletID, amount, entryType, referenceID)
	if err != nil {
		if isUniqueViolation(err) {
			return newConflictError("apply_ledger_entry", "entry already applied for this reference")
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// CreateWithdrawal insere um pedido de saque
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, tx Tx, withdrawal *Withdrawal) error {
	_, err := pgTxOf(tx).Exec(ctx, `
		INSERT INTO withdrawals (id, owner_id, amount, pix_key, pix_key_type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, withdrawal.ID, withdrawal.OwnerID, withdrawal.Amount, withdrawal.PixKey,
		withdrawal.PixKeyType, withdrawal.Status, withdrawal.CreatedAt, withdrawal.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

// GetWithdrawalForUpdate busca um saque com lock pessimista. Serializa
// approve e reject concorrentes para o mesmo saque.
func (r *PostgresRepository) GetWithdrawalForUpdate(ctx context.Context, tx Tx, withdrawalID string) (*Withdrawal, error) {
	var w Withdrawal
	err := pgTxOf(tx).QueryRow(ctx, `
		SELECT id, owner_id, amount, pix_key, pix_key_type, status, created_at, updated_at
		FROM withdrawals
		WHERE id = $1
		FOR UPDATE
	`, withdrawalID).Scan(&w.ID, &w.OwnerID, &w.Amount, &w.PixKey, &w.PixKeyType,
		&w.Status, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal with lock: %w", err)
	}
	return &w, nil
}

// UpdateWithdrawalStatus faz a transição condicional de status de um saque.
// pending é o único estado mutável.
func (r *PostgresRepository) UpdateWithdrawalStatus(ctx context.Context, tx Tx, withdrawalID, from, to string) error {
	tag, err := pgTxOf(tx).Exec(ctx, `
		UPDATE withdrawals
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, withdrawalID, from)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}
