package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/clock"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/services"
	"github.com/AlexisRellon/JunkHop-development-sub000/pkg/logger"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type ledgerFixture struct {
	repo     *memoryBidRepo
	notifier *fakeNotifier
	clk      *clock.FakeClock
	ledger   *services.BidLedger
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		repo:     newMemoryBidRepo(),
		notifier: &fakeNotifier{},
		clk:      clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.ledger = services.NewBidLedger(f.repo, f.notifier, f.clk, logger.NewNop())
	return f
}

// seedAuction creates a bidding-enabled listing whose window spans the fake
// clock's current time.
func (f *ledgerFixture) seedAuction(t *testing.T, starting *decimal.Decimal) *domain.Bid {
	t.Helper()
	start := f.clk.Now().Add(-time.Hour)
	end := f.clk.Now().Add(24 * time.Hour)
	bid, err := f.ledger.CreateListing(context.Background(), services.ListingInput{
		JunkshopID:      "shop-1",
		JunkshopOwnerID: "owner-1",
		ItemID:          "item-1",
		Quantity:        dec("50"),
		PricePerKg:      dec("12.00"),
		StartingBid:     starting,
		EnableBidding:   true,
		StartDate:       &start,
		EndDate:         &end,
	})
	require.NoError(t, err)
	return bid
}

func TestMinimumBidUsesStartingBidWhenNoOffers(t *testing.T) {
	f := newLedgerFixture(t)
	bid := f.seedAuction(t, decPtr("20.00"))

	assert.True(t, f.ledger.MinimumBid(bid).Equal(dec("20.00")))
}

func TestMinimumBidFallsBackToPricePerKg(t *testing.T) {
	f := newLedgerFixture(t)
	bid := f.seedAuction(t, nil)

	assert.True(t, f.ledger.MinimumBid(bid).Equal(dec("12.00")))
}

func TestMinimumBidAddsFivePercentIncrement(t *testing.T) {
	f := newLedgerFixture(t)
	bid := f.seedAuction(t, decPtr("20.00"))

	current := dec("20.00")
	bid.CurrentBid = &current
	assert.True(t, f.ledger.MinimumBid(bid).Equal(dec("21.00")))

	current = dec("33.33")
	assert.True(t, f.ledger.MinimumBid(bid).Equal(dec("35.00")),
		"33.33 * 1.05 = 34.9965, rounds to 35.00")
}

func TestPlaceBidBelowMinimumDoesNotMutate(t *testing.T) {
	f := newLedgerFixture(t)
	bid := f.seedAuction(t, decPtr("20.00"))

	_, err := f.ledger.PlaceBid(context.Background(), bid.ID, "merchant-a", dec("19.99"), "")
	pe, ok := domain.IsPrecondition(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeBelowMinimum, pe.Code)
	require.NotNil(t, pe.MinimumBid)
	assert.True(t, pe.MinimumBid.Equal(dec("20.00")))

	stored, err := f.repo.Get(context.Background(), bid.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CurrentBid)
	assert.Nil(t, stored.CurrentBidderID)

	hist, err := f.repo.History(context.Background(), bid.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestPlaceBidScenario(t *testing.T) {
	f := newLedgerFixture(t)
	bid := f.seedAuction(t, decPtr("20.00"))
	ctx := context.Background()

	// Merchant A opens at the starting bid.
	res, err := f.ledger.PlaceBid(ctx, bid.ID, "merchant-a", dec("20.00"), "")
	require.NoError(t, err)
	assert.True(t, res.Bid.CurrentBid.Equal(dec("20.00")))
	assert.Nil(t, res.PreviousBidderID)

	// Merchant B undercuts the 5% increment and learns the real minimum.
	_, err = f.ledger.PlaceBid(ctx, bid.ID, "merchant-b", dec("20.50"), "")
	pe, ok := domain.IsPrecondition(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeBelowMinimum, pe.Code)
	assert.True(t, pe.MinimumBid.Equal(dec("21.00")))

	// Merchant B retries at the told minimum.
	res, err = f.ledger.PlaceBid(ctx, bid.ID, "merchant-b", dec("21.00"), "")
	require.NoError(t, err)
	assert.True(t, res.Bid.CurrentBid.Equal(dec("21.00")))
	assert.Equal(t, "merchant-b", *res.Bid.CurrentBidderID)
	require.NotNil(t, res.PreviousBidderID)
	assert.Equal(t, "merchant-a", *res.PreviousBidderID)

	// Sequential successes strictly increase the leading offer.
	hist, err := f.repo.History(context.Background(), bid.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.True(t, hist[1].Amount.GreaterThan(hist[0].Amount))
}

func TestPlaceBidSelfBidForbidden(t *testing.T) {
	f := newLedgerFixture(t)
	bid := f.seedAuction(t, decPtr("20.00"))

	_, err := f.ledger.PlaceBid(context.Background(), bid.ID, "owner-1", dec("25.00"), "")
	pe, ok := domain.IsPrecondition(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeSelfBid, pe.Code)
}

func TestPlaceBidOutsideWindow(t *testing.T) {
	f := newLedgerFixture(t)
	bid := f.seedAuction(t, decPtr("20.00"))

	f.clk.Advance(25 * time.Hour)
	_, err := f.ledger.PlaceBid(context.Background(), bid.ID, "merchant-a", dec("25.00"), "")
	pe, ok := domain.IsPrecondition(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeBiddingClosed, pe.Code)
}

func TestPlaceBidOnDisabledListing(t *testing.T) {
	f := newLedgerFixture(t)
	merchant := "merchant-a"
	bid, err := f.ledger.CreateListing(context.Background(), services.ListingInput{
		JunkshopID:      "shop-1",
		JunkshopOwnerID: "owner-1",
		ItemID:          "item-1",
		MerchantID:      &merchant,
		Quantity:        dec("10"),
		PricePerKg:      dec("8.00"),
	})
	require.NoError(t, err)

	_, err = f.ledger.PlaceBid(context.Background(), bid.ID, "merchant-b", dec("25.00"), "")
	pe, ok := domain.IsPrecondition(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeBiddingClosed, pe.Code)
}

func TestPlaceBidValidation(t *testing.T) {
	f := newLedgerFixture(t)
	bid := f.seedAuction(t, decPtr("20.00"))
	ctx := context.Background()

	_, err := f.ledger.PlaceBid(ctx, bid.ID, "", dec("25.00"), "")
	_, ok := domain.IsValidation(err)
	assert.True(t, ok)

	_, err = f.ledger.PlaceBid(ctx, bid.ID, "merchant-a", dec("0"), "")
	_, ok = domain.IsValidation(err)
	assert.True(t, ok)

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.ledger.PlaceBid(ctx, bid.ID, "merchant-a", dec("25.00"), string(long))
	_, ok = domain.IsValidation(err)
	assert.True(t, ok)
}

func TestPlaceBidUnknownBid(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.ledger.PlaceBid(context.Background(), "missing", "merchant-a", dec("25.00"), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceBidNotifications(t *testing.T) {
	f := newLedgerFixture(t)
	bid := f.seedAuction(t, decPtr("20.00"))
	ctx := context.Background()

	_, err := f.ledger.PlaceBid(ctx, bid.ID, "merchant-a", dec("20.00"), "")
	require.NoError(t, err)
	_, err = f.ledger.PlaceBid(ctx, bid.ID, "merchant-b", dec("21.00"), "")
	require.NoError(t, err)

	assert.Len(t, f.notifier.sentTo("owner-1", domain.NotifyBidReceived), 2)
	assert.Len(t, f.notifier.sentTo("merchant-a", domain.NotifyOutbid), 1)

	// Raising your own leading offer is not an outbid.
	_, err = f.ledger.PlaceBid(ctx, bid.ID, "merchant-b", dec("25.00"), "")
	require.NoError(t, err)
	assert.Empty(t, f.notifier.sentTo("merchant-b", domain.NotifyOutbid))
}

func TestPlaceBidSurvivesNotifierFailure(t *testing.T) {
	f := newLedgerFixture(t)
	bid := f.seedAuction(t, decPtr("20.00"))
	f.notifier.fail = true
	f.notifier.errTo = errors.New("gateway down")

	res, err := f.ledger.PlaceBid(context.Background(), bid.ID, "merchant-a", dec("20.00"), "")
	require.NoError(t, err)
	assert.True(t, res.Bid.CurrentBid.Equal(dec("20.00")))
}

func TestPlaceBidConcurrentContention(t *testing.T) {
	f := newLedgerFixture(t)
	bid := f.seedAuction(t, decPtr("20.00"))

	const bidders = 10
	var wg sync.WaitGroup
	results := make([]error, bidders)

	// All bidders contest the same amount; exactly one placement can win.
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.ledger.PlaceBid(context.Background(), bid.ID, "merchant-"+string(rune('a'+i)), dec("20.00"), "")
			results[i] = err
		}(i)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		pe, ok := domain.IsPrecondition(err)
		require.True(t, ok, "unexpected error: %v", err)
		assert.Equal(t, domain.CodeBelowMinimum, pe.Code)
		// The loser sees the minimum recomputed against the winner's
		// committed value, not the stale pre-race floor.
		assert.True(t, pe.MinimumBid.Equal(dec("21.00")))
		losers++
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, bidders-1, losers)

	hist, err := f.repo.History(context.Background(), bid.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestUpdateStatusTransitions(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	accepted := f.seedAuction(t, decPtr("20.00"))
	got, err := f.ledger.UpdateStatus(ctx, accepted.ID, domain.BidAccepted, "")
	require.NoError(t, err)
	assert.Equal(t, domain.BidAccepted, got.Status)
	require.NotNil(t, got.AcceptedAt)
	assert.Equal(t, f.clk.Now(), *got.AcceptedAt)
	assert.Nil(t, got.RejectionReason)

	rejected := f.seedAuction(t, decPtr("20.00"))
	got, err = f.ledger.UpdateStatus(ctx, rejected.ID, domain.BidRejected, "quality concerns")
	require.NoError(t, err)
	assert.Equal(t, domain.BidRejected, got.Status)
	require.NotNil(t, got.RejectedAt)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "quality concerns", *got.RejectionReason)
}

func TestUpdateStatusRejectsInvalidTransitions(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	bid := f.seedAuction(t, decPtr("20.00"))

	// pending -> completed skips the decision step.
	_, err := f.ledger.UpdateStatus(ctx, bid.ID, domain.BidCompleted, "")
	pe, ok := domain.IsPrecondition(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeInvalidTransition, pe.Code)

	// Decisions are one-directional.
	_, err = f.ledger.UpdateStatus(ctx, bid.ID, domain.BidAccepted, "")
	require.NoError(t, err)
	_, err = f.ledger.UpdateStatus(ctx, bid.ID, domain.BidRejected, "changed my mind")
	pe, ok = domain.IsPrecondition(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeInvalidTransition, pe.Code)
}

func TestCancelRules(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	merchant := "merchant-a"

	plain, err := f.ledger.CreateListing(ctx, services.ListingInput{
		JunkshopID:      "shop-1",
		JunkshopOwnerID: "owner-1",
		ItemID:          "item-1",
		MerchantID:      &merchant,
		Quantity:        dec("10"),
		PricePerKg:      dec("8.00"),
	})
	require.NoError(t, err)

	// Only the owning merchant may cancel.
	_, err = f.ledger.Cancel(ctx, plain.ID, "merchant-b")
	pe, ok := domain.IsPrecondition(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeNotOwner, pe.Code)

	got, err := f.ledger.Cancel(ctx, plain.ID, merchant)
	require.NoError(t, err)
	assert.Equal(t, domain.BidCancelled, got.Status)

	// Competitive auctions are closed via status decisions instead.
	start := f.clk.Now().Add(-time.Hour)
	end := f.clk.Now().Add(24 * time.Hour)
	auction, err := f.ledger.CreateListing(ctx, services.ListingInput{
		JunkshopID:      "shop-1",
		JunkshopOwnerID: "owner-1",
		ItemID:          "item-1",
		MerchantID:      &merchant,
		Quantity:        dec("10"),
		PricePerKg:      dec("8.00"),
		EnableBidding:   true,
		StartDate:       &start,
		EndDate:         &end,
	})
	require.NoError(t, err)
	_, err = f.ledger.Cancel(ctx, auction.ID, merchant)
	pe, ok = domain.IsPrecondition(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeInvalidTransition, pe.Code)
}
