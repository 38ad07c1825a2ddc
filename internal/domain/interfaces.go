package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository interfaces

type BidRepository interface {
	Create(ctx context.Context, bid *Bid) error
	Get(ctx context.Context, bidID string) (*Bid, error)

	// PlaceBid commits one offer as a single unit of work: it swaps
	// current_bid/current_bidder_id on the bid, bumps the version, and
	// appends the history row. The write only applies when the stored
	// version still equals expectedVersion; otherwise ErrVersionConflict
	// is returned and nothing is written.
	PlaceBid(ctx context.Context, bidID string, expectedVersion int64, amount decimal.Decimal, bidderID string, hist *BidHistory) error

	// UpdateDecision persists a status transition together with its
	// accepted/rejected timestamps and rejection reason.
	UpdateDecision(ctx context.Context, bid *Bid) error

	// ListEndedUnprocessed selects bidding-enabled bids whose window ended
	// at or before now and that have not been finalized. withBidder splits
	// the scan into the winner branch and the no-offers branch.
	ListEndedUnprocessed(ctx context.Context, now time.Time, withBidder bool, limit int) ([]*Bid, error)

	// ClaimForProcessing flips bidding_processed from false to true,
	// stamping updated_at with now. Exactly one caller wins the flip; the
	// rest get ErrAlreadyProcessed.
	ClaimForProcessing(ctx context.Context, bidID string, now time.Time) error

	History(ctx context.Context, bidID string) ([]*BidHistory, error)
}

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *BidSubscription) error
	Get(ctx context.Context, subID string) (*BidSubscription, error)
	Update(ctx context.Context, sub *BidSubscription) error

	// ListDue selects active subscriptions whose next renewal date is at
	// or before today, excluding those past their renewal cap or end date.
	// Results are ordered by seq and restricted to seq > afterSeq, so a
	// run pages forward without re-selecting rows it already attempted.
	ListDue(ctx context.Context, today time.Time, afterSeq int64, limit int) ([]*BidSubscription, error)

	// ListActive pages active subscriptions by seq, for the
	// upcoming-renewal reminder pass.
	ListActive(ctx context.Context, afterSeq int64, limit int) ([]*BidSubscription, error)

	RecordRenewal(ctx context.Context, rec *BidRenewalHistory) error
	RenewalHistory(ctx context.Context, subID string) ([]*BidRenewalHistory, error)
}

// ItemCatalog is the inventory collaborator. Only existence and availability
// matter to the renewal flow.
type ItemCatalog interface {
	Get(ctx context.Context, itemID string) (*Item, error)
}

// NotificationGateway dispatches user-facing messages. At-least-once and
// fire-and-forget: callers log failures and never roll back state over them.
type NotificationGateway interface {
	Notify(ctx context.Context, recipientID string, kind NotificationKind, payload map[string]interface{}) error
}

// LeaderElection gates batch runs so overlapping worker replicas do not
// double-drive the scans.
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}
