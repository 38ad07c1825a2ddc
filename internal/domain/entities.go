package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

type BidStatus string

const (
	BidPending   BidStatus = "pending"
	BidAccepted  BidStatus = "accepted"
	BidRejected  BidStatus = "rejected"
	BidExpired   BidStatus = "expired"
	BidCompleted BidStatus = "completed"
	BidCancelled BidStatus = "cancelled"
)

// Bid is a junkshop listing that accepts competitive offers while its bidding
// window is open. The current_bid/current_bidder pair tracks the leading offer.
type Bid struct {
	ID               string
	Seq              int64
	MerchantID       *string
	JunkshopID       string
	JunkshopOwnerID  string
	ItemID           string
	Quantity         decimal.Decimal
	PricePerKg       decimal.Decimal
	StartingBid      *decimal.Decimal
	CurrentBid       *decimal.Decimal
	CurrentBidderID  *string
	Status           BidStatus
	IsBiddingEnabled bool
	StartDate        *time.Time
	EndDate          *time.Time
	BiddingProcessed bool
	AcceptedAt       *time.Time
	RejectedAt       *time.Time
	RejectionReason  *string
	AllowAutoRenewal bool
	SubscriptionID   *string
	AutoRenewedAt    *time.Time

	// Version guards concurrent current-bid updates. Every committed
	// placement increments it; a stale writer gets ErrVersionConflict.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasBidder reports whether at least one offer has been placed.
func (b *Bid) HasBidder() bool {
	return b.CurrentBidderID != nil && *b.CurrentBidderID != ""
}

// WindowOpen reports whether bidding is enabled and now falls inside the
// start/end window. Windows are only meaningful when bidding is enabled.
func (b *Bid) WindowOpen(now time.Time) bool {
	if !b.IsBiddingEnabled {
		return false
	}
	if b.StartDate != nil && now.Before(*b.StartDate) {
		return false
	}
	if b.EndDate != nil && now.After(*b.EndDate) {
		return false
	}
	return true
}

// BidHistory is an append-only record of a single placed offer.
type BidHistory struct {
	ID         string
	BidID      string
	MerchantID string
	Amount     decimal.Decimal
	Notes      string
	CreatedAt  time.Time
}

type RenewalFrequency string

const (
	FrequencyWeekly   RenewalFrequency = "weekly"
	FrequencyBiweekly RenewalFrequency = "biweekly"
	FrequencyMonthly  RenewalFrequency = "monthly"
)

// BidSubscription is a recurring instruction to re-create a bid listing on a
// cadence. Settings is an opaque key/value bag for per-subscription renewal
// preferences (notification lead days, reminder opt-out).
type BidSubscription struct {
	ID              string
	Seq             int64
	MerchantID      string
	JunkshopID      string
	JunkshopOwnerID string
	ItemID          string
	Quantity        decimal.Decimal
	PricePerKg      decimal.Decimal
	Frequency       RenewalFrequency
	StartDate       time.Time
	NextRenewalDate time.Time
	EndDate         *time.Time
	MaxRenewals     *int
	RenewalsCount   int
	IsActive        bool
	Settings        map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Setting returns the named settings entry or def when absent.
func (s *BidSubscription) Setting(key, def string) string {
	if s.Settings == nil {
		return def
	}
	if v, ok := s.Settings[key]; ok && v != "" {
		return v
	}
	return def
}

type RenewalOutcome string

const (
	RenewalSuccess RenewalOutcome = "success"
	RenewalFailed  RenewalOutcome = "failed"
	RenewalSkipped RenewalOutcome = "skipped"
)

// BidRenewalHistory is the append-only audit trail of renewal attempts. The
// parameter snapshot is taken at attempt time so later subscription edits do
// not rewrite history.
type BidRenewalHistory struct {
	ID             string
	SubscriptionID string
	BidID          *string
	RenewalDate    time.Time
	Outcome        RenewalOutcome
	Detail         string
	Quantity       decimal.Decimal
	PricePerKg     decimal.Decimal
	Frequency      RenewalFrequency
	CreatedAt      time.Time
}

// Item is the slice of the inventory catalogue the renewal flow cares about.
type Item struct {
	ID          string
	Name        string
	IsAvailable bool
}

type NotificationKind string

const (
	NotifyBidReceived     NotificationKind = "bid_received"
	NotifyOutbid          NotificationKind = "outbid"
	NotifyAuctionWon      NotificationKind = "auction_won"
	NotifyAuctionClosed   NotificationKind = "auction_closed"
	NotifyNoWinner        NotificationKind = "auction_no_winner"
	NotifyRenewalCreated  NotificationKind = "renewal_created"
	NotifyRenewalUpcoming NotificationKind = "renewal_upcoming"
)

// NewID generates a ULID for entity identity.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
