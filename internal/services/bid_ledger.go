package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/clock"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
	"github.com/AlexisRellon/JunkHop-development-sub000/pkg/logger"
)

const (
	// A new offer must beat the leading one by at least 5%.
	minIncrementPercent = 5

	// currencyScale rounds minimums to the currency's minor unit.
	currencyScale = 2

	notesMaxLen = 500

	// placeRetries bounds the optimistic-write loop under contention.
	placeRetries = 3
)

var minIncrementFactor = decimal.NewFromInt(100 + minIncrementPercent).Div(decimal.NewFromInt(100))

// BidLedger owns bid lifecycle: listing creation, offer placement with the
// minimum-increment rule, and status decisions.
type BidLedger struct {
	bids     domain.BidRepository
	notifier domain.NotificationGateway
	clk      clock.Clock
	log      logger.Logger
}

func NewBidLedger(
	bids domain.BidRepository,
	notifier domain.NotificationGateway,
	clk clock.Clock,
	log logger.Logger,
) *BidLedger {
	return &BidLedger{
		bids:     bids,
		notifier: notifier,
		clk:      clk,
		log:      log,
	}
}

type ListingInput struct {
	JunkshopID       string
	JunkshopOwnerID  string
	ItemID           string
	MerchantID       *string
	Quantity         decimal.Decimal
	PricePerKg       decimal.Decimal
	StartingBid      *decimal.Decimal
	EnableBidding    bool
	StartDate        *time.Time
	EndDate          *time.Time
	AllowAutoRenewal bool
	SubscriptionID   *string
	AutoRenewedAt    *time.Time
}

// PlacementResult carries the committed state of one successful placement.
// PreviousBidderID is the snapshot taken before the mutation and drives outbid
// notification.
type PlacementResult struct {
	Bid              *domain.Bid
	History          *domain.BidHistory
	PreviousBidderID *string
}

func (s *BidLedger) CreateListing(ctx context.Context, in ListingInput) (*domain.Bid, error) {
	if in.JunkshopID == "" {
		return nil, &domain.ValidationError{Field: "junkshop_id", Reason: "is required"}
	}
	if in.JunkshopOwnerID == "" {
		return nil, &domain.ValidationError{Field: "junkshop_owner_id", Reason: "is required"}
	}
	if in.ItemID == "" {
		return nil, &domain.ValidationError{Field: "item_id", Reason: "is required"}
	}
	if in.Quantity.IsNegative() {
		return nil, &domain.ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if !in.PricePerKg.IsPositive() {
		return nil, &domain.ValidationError{Field: "price_per_kg", Reason: "must be positive"}
	}
	if in.StartingBid != nil && in.StartingBid.IsNegative() {
		return nil, &domain.ValidationError{Field: "starting_bid", Reason: "must not be negative"}
	}
	if in.EnableBidding {
		if in.StartDate == nil || in.EndDate == nil {
			return nil, &domain.ValidationError{Field: "bidding_window", Reason: "start and end dates are required"}
		}
		if !in.EndDate.After(*in.StartDate) {
			return nil, &domain.ValidationError{Field: "end_date", Reason: "must be after start date"}
		}
	}

	now := s.clk.Now()
	bid := &domain.Bid{
		ID:               domain.NewID(),
		MerchantID:       in.MerchantID,
		JunkshopID:       in.JunkshopID,
		JunkshopOwnerID:  in.JunkshopOwnerID,
		ItemID:           in.ItemID,
		Quantity:         in.Quantity,
		PricePerKg:       in.PricePerKg,
		StartingBid:      in.StartingBid,
		Status:           domain.BidPending,
		IsBiddingEnabled: in.EnableBidding,
		StartDate:        in.StartDate,
		EndDate:          in.EndDate,
		AllowAutoRenewal: in.AllowAutoRenewal,
		SubscriptionID:   in.SubscriptionID,
		AutoRenewedAt:    in.AutoRenewedAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.bids.Create(ctx, bid); err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	s.log.Info("Listing created",
		"bid_id", bid.ID,
		"junkshop_id", bid.JunkshopID,
		"item_id", bid.ItemID,
		"bidding_enabled", bid.IsBiddingEnabled)
	return bid, nil
}

// MinimumBid computes the lowest acceptable offer for a bid. With no leading
// offer the floor is the starting bid (price per kg when no starting bid was
// set); otherwise the leading offer plus the 5% increment, rounded to the
// currency's minor unit.
func (s *BidLedger) MinimumBid(bid *domain.Bid) decimal.Decimal {
	if bid.CurrentBid == nil || bid.CurrentBid.IsZero() {
		if bid.StartingBid != nil && bid.StartingBid.IsPositive() {
			return *bid.StartingBid
		}
		return bid.PricePerKg
	}
	return bid.CurrentBid.Mul(minIncrementFactor).Round(currencyScale)
}

func (s *BidLedger) PlaceBid(ctx context.Context, bidID, merchantID string, amount decimal.Decimal, notes string) (*PlacementResult, error) {
	if merchantID == "" {
		return nil, &domain.ValidationError{Field: "merchant_id", Reason: "is required"}
	}
	if !amount.IsPositive() {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if len(notes) > notesMaxLen {
		return nil, &domain.ValidationError{Field: "notes", Reason: "too long"}
	}

	bid, err := s.bids.Get(ctx, bidID)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	if !bid.WindowOpen(now) {
		return nil, domain.Precondition(domain.CodeBiddingClosed, "bidding is closed for this listing")
	}
	if merchantID == bid.JunkshopOwnerID {
		return nil, domain.Precondition(domain.CodeSelfBid, "junkshop owners cannot bid on their own listings")
	}

	for attempt := 0; attempt < placeRetries; attempt++ {
		minimum := s.MinimumBid(bid)
		if amount.LessThan(minimum) {
			return nil, domain.BelowMinimum(minimum)
		}

		// Snapshot before mutating so the outbid notice targets the right
		// merchant even after the swap commits.
		var previous *string
		if bid.CurrentBidderID != nil {
			p := *bid.CurrentBidderID
			previous = &p
		}

		hist := &domain.BidHistory{
			ID:         domain.NewID(),
			BidID:      bid.ID,
			MerchantID: merchantID,
			Amount:     amount,
			Notes:      notes,
			CreatedAt:  now,
		}

		err = s.bids.PlaceBid(ctx, bid.ID, bid.Version, amount, merchantID, hist)
		if errors.Is(err, domain.ErrVersionConflict) {
			// Lost the race: re-read and re-validate against the
			// winner's committed value.
			bid, err = s.bids.Get(ctx, bid.ID)
			if err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("place bid: %w", err)
		}

		updated := *bid
		updated.CurrentBid = &amount
		updated.CurrentBidderID = &merchantID
		updated.Version = bid.Version + 1
		updated.UpdatedAt = now

		s.log.Info("Bid placed",
			"bid_id", bid.ID,
			"merchant_id", merchantID,
			"amount", amount.StringFixed(currencyScale))
		s.notifyPlacement(ctx, &updated, hist, previous)

		return &PlacementResult{Bid: &updated, History: hist, PreviousBidderID: previous}, nil
	}

	return nil, fmt.Errorf("bid placement contention on %s: %w", bidID, domain.ErrVersionConflict)
}

// notifyPlacement dispatches the post-commit notices. Best-effort: failures
// are logged, never surfaced, and never roll back the placement.
func (s *BidLedger) notifyPlacement(ctx context.Context, bid *domain.Bid, hist *domain.BidHistory, previous *string) {
	payload := map[string]interface{}{
		"bid_id":      bid.ID,
		"item_id":     bid.ItemID,
		"merchant_id": hist.MerchantID,
		"amount":      hist.Amount.StringFixed(currencyScale),
	}

	if err := s.notifier.Notify(ctx, bid.JunkshopOwnerID, domain.NotifyBidReceived, payload); err != nil {
		s.log.Error("Failed to notify junkshop owner", "bid_id", bid.ID, "error", err)
	}

	if previous != nil && *previous != hist.MerchantID {
		if err := s.notifier.Notify(ctx, *previous, domain.NotifyOutbid, payload); err != nil {
			s.log.Error("Failed to notify outbid merchant", "bid_id", bid.ID, "merchant_id", *previous, "error", err)
		}
	}
}

func (s *BidLedger) UpdateStatus(ctx context.Context, bidID string, newStatus domain.BidStatus, reason string) (*domain.Bid, error) {
	bid, err := s.bids.Get(ctx, bidID)
	if err != nil {
		return nil, err
	}

	if bid.Status != domain.BidPending || (newStatus != domain.BidAccepted && newStatus != domain.BidRejected) {
		return nil, domain.Precondition(domain.CodeInvalidTransition,
			fmt.Sprintf("cannot transition from %s to %s", bid.Status, newStatus))
	}

	now := s.clk.Now()
	bid.Status = newStatus
	switch newStatus {
	case domain.BidAccepted:
		bid.AcceptedAt = &now
		bid.RejectionReason = nil
	case domain.BidRejected:
		bid.RejectedAt = &now
		if reason != "" {
			bid.RejectionReason = &reason
		}
	}
	bid.UpdatedAt = now

	if err := s.bids.UpdateDecision(ctx, bid); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.log.Info("Bid status updated", "bid_id", bid.ID, "status", string(newStatus))
	return bid, nil
}

// Cancel withdraws a merchant-initiated pending listing. Competitive auctions
// are closed through UpdateStatus instead.
func (s *BidLedger) Cancel(ctx context.Context, bidID, requesterMerchantID string) (*domain.Bid, error) {
	bid, err := s.bids.Get(ctx, bidID)
	if err != nil {
		return nil, err
	}

	if bid.MerchantID == nil || *bid.MerchantID != requesterMerchantID {
		return nil, domain.Precondition(domain.CodeNotOwner, "only the bid's merchant can cancel it")
	}
	if bid.IsBiddingEnabled {
		return nil, domain.Precondition(domain.CodeInvalidTransition, "competitive listings cannot be cancelled directly")
	}
	if bid.Status != domain.BidPending {
		return nil, domain.Precondition(domain.CodeInvalidTransition,
			fmt.Sprintf("cannot cancel a %s bid", bid.Status))
	}

	now := s.clk.Now()
	bid.Status = domain.BidCancelled
	bid.UpdatedAt = now

	if err := s.bids.UpdateDecision(ctx, bid); err != nil {
		return nil, fmt.Errorf("cancel bid: %w", err)
	}

	s.log.Info("Bid cancelled", "bid_id", bid.ID, "merchant_id", requesterMerchantID)
	return bid, nil
}

func (s *BidLedger) GetBid(ctx context.Context, bidID string) (*domain.Bid, error) {
	return s.bids.Get(ctx, bidID)
}

func (s *BidLedger) History(ctx context.Context, bidID string) ([]*domain.BidHistory, error) {
	if _, err := s.bids.Get(ctx, bidID); err != nil {
		return nil, err
	}
	return s.bids.History(ctx, bidID)
}
