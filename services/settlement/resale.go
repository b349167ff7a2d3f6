package main

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// ResaleUseCase é o gerente de escrow da revenda: teto de preço, anúncio
// único por ingresso e as transições de status do ingresso em torno do
// anúncio
type ResaleUseCase struct {
	repository Repository
}

// NewResaleUseCase cria uma nova instância de ResaleUseCase
func NewResaleUseCase(repository Repository) *ResaleUseCase {
	return &ResaleUseCase{repository: repository}
}

// CreateListing coloca um ingresso à venda. Pré-condições: o ingresso
// pertence ao vendedor, está ativo, não tem anúncio ativo (índice único do
// banco, não só checagem de aplicação) e o preço não passa do preço original
// do lote. Anúncio criado e ingresso em escrow (listed) atomicamente.
func (uc *ResaleUseCase) CreateListing(ctx context.Context, principal Principal, ticketID string, askingPrice int64) (*ResaleListing, error) {
	if askingPrice <= 0 {
		return nil, newValidationError("asking_price", "must be positive")
	}

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	ticket, err := uc.repository.GetUserTicketForUpdate(ctx, tx, ticketID)
	if errors.Is(err, ErrNotFound) {
		return nil, newValidationError("ticket_id", "ticket does not exist")
	}
	if err != nil {
		return nil, err
	}

	if ticket.OwnerID != principal.UserID {
		return nil, newValidationError("ticket_id", "ticket is not owned by the seller")
	}
	if ticket.Status != TicketStatusActive {
		return nil, newConflictError("create_listing", "ticket is not in active state")
	}

	ticketType, err := uc.repository.GetTicketType(ctx, tx, ticket.TicketTypeID)
	if err != nil {
		return nil, err
	}

	// Teto de preço: validado uma única vez, na criação do anúncio
	if askingPrice > ticketType.Price {
		return nil, newValidationError("asking_price", "exceeds original ticket price")
	}

	listing := NewResaleListing(ticket.ID, principal.UserID, askingPrice, ticketType.FeePercent)
	if err := uc.repository.CreateListing(ctx, tx, listing); err != nil {
		return nil, err
	}

	if err := uc.repository.UpdateTicketStatus(ctx, tx, ticket.ID, TicketStatusActive, TicketStatusListed); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("erro ao comitar anúncio: %w", err)
	}

	log.Printf("🏷️ [LISTING] TicketID=%s listed by %s for %d", ticket.ID, principal.UserID, askingPrice)
	return listing, nil
}

// CancelListing cancela um anúncio e devolve o ingresso a active. Só vale
// enquanto o anúncio ainda está active (não reserved/sold).
func (uc *ResaleUseCase) CancelListing(ctx context.Context, principal Principal, listingID string) error {
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	listing, err := uc.repository.GetListingForUpdate(ctx, tx, listingID)
	if err != nil {
		return err
	}

	if listing.SellerID != principal.UserID && !principal.IsAdmin() {
		return newValidationError("listing_id", "listing is not owned by the seller")
	}
	if listing.Status != ListingStatusActive {
		return newConflictError("cancel_listing", "listing is not in active state")
	}

	if err := uc.repository.UpdateListingStatus(ctx, tx, listing.ID, ListingStatusActive, ListingStatusCancelled); err != nil {
		return err
	}
	if err := uc.repository.UpdateTicketStatus(ctx, tx, listing.TicketID, TicketStatusListed, TicketStatusActive); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("erro ao comitar cancelamento: %w", err)
	}

	log.Printf("🚫 [LISTING] ListingID=%s cancelled", listingID)
	return nil
}

// ReserveListing move o anúncio de active para reserved na criação do pedido
// de revenda, impedindo venda dupla concorrente. A conciliação finaliza
// reserved -> sold no pagamento ou devolve reserved -> active na falha.
func (uc *ResaleUseCase) ReserveListing(ctx context.Context, listingID string) (*ResaleListing, error) {
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	listing, err := uc.repository.GetListingForUpdate(ctx, tx, listingID)
	if errors.Is(err, ErrNotFound) {
		return nil, newValidationError("listing_id", "listing does not exist")
	}
	if err != nil {
		return nil, err
	}

	if err := uc.repository.UpdateListingStatus(ctx, tx, listing.ID, ListingStatusActive, ListingStatusReserved); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return nil, newConflictError("reserve_listing", "listing is no longer available")
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("erro ao comitar reserva: %w", err)
	}

	listing.Status = ListingStatusReserved
	return listing, nil
}

// ReleaseListing devolve um anúncio reservado para active (falha na criação
// da cobrança, expiração). Idempotente: liberar um anúncio que não está
// reservado é no-op.
func (uc *ResaleUseCase) ReleaseListing(ctx context.Context, listingID string) error {
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	err = uc.repository.UpdateListingStatus(ctx, tx, listingID, ListingStatusReserved, ListingStatusActive)
	if err != nil && !errors.Is(err, ErrStateConflict) {
		return err
	}

	return tx.Commit()
}
