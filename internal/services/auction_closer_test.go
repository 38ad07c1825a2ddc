package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/clock"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/services"
	"github.com/AlexisRellon/JunkHop-development-sub000/pkg/logger"
)

type closerFixture struct {
	repo     *memoryBidRepo
	notifier *fakeNotifier
	clk      *clock.FakeClock
	ledger   *services.BidLedger
	closer   *services.AuctionCloser
}

func newCloserFixture(t *testing.T) *closerFixture {
	t.Helper()
	f := &closerFixture{
		repo:     newMemoryBidRepo(),
		notifier: &fakeNotifier{},
		clk:      clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.ledger = services.NewBidLedger(f.repo, f.notifier, f.clk, logger.NewNop())
	f.closer = services.NewAuctionCloser(f.repo, f.notifier, 100, logger.NewNop())
	return f
}

// seedEnded creates an auction, optionally places an offer, and moves the
// clock past the auction window.
func (f *closerFixture) seedEnded(t *testing.T, bidderID string) *domain.Bid {
	t.Helper()
	start := f.clk.Now().Add(-time.Hour)
	end := f.clk.Now().Add(time.Hour)
	bid, err := f.ledger.CreateListing(context.Background(), services.ListingInput{
		JunkshopID:      "shop-1",
		JunkshopOwnerID: "owner-1",
		ItemID:          "item-1",
		Quantity:        dec("50"),
		PricePerKg:      dec("12.00"),
		StartingBid:     decPtr("20.00"),
		EnableBidding:   true,
		StartDate:       &start,
		EndDate:         &end,
	})
	require.NoError(t, err)

	if bidderID != "" {
		_, err = f.ledger.PlaceBid(context.Background(), bid.ID, bidderID, dec("20.00"), "")
		require.NoError(t, err)
	}
	return bid
}

func TestProcessEndedAuctionsWithWinner(t *testing.T) {
	f := newCloserFixture(t)
	bid := f.seedEnded(t, "merchant-a")
	f.clk.Advance(2 * time.Hour)

	report, err := f.closer.ProcessEndedAuctions(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ProcessedCount)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "winner", report.Outcomes[0].Result)
	require.NotNil(t, report.Outcomes[0].WinnerID)
	assert.Equal(t, "merchant-a", *report.Outcomes[0].WinnerID)
	require.NotNil(t, report.Outcomes[0].FinalAmount)
	assert.Equal(t, "20.00", *report.Outcomes[0].FinalAmount)

	assert.Len(t, f.notifier.sentTo("merchant-a", domain.NotifyAuctionWon), 1)
	assert.Len(t, f.notifier.sentTo("owner-1", domain.NotifyAuctionClosed), 1)

	stored, err := f.repo.Get(context.Background(), bid.ID)
	require.NoError(t, err)
	assert.True(t, stored.BiddingProcessed)
	// The claim stamps the injected run time, not the wall clock.
	assert.Equal(t, f.clk.Now(), stored.UpdatedAt)
}

func TestProcessEndedAuctionsNoWinner(t *testing.T) {
	f := newCloserFixture(t)
	f.seedEnded(t, "")
	f.clk.Advance(2 * time.Hour)

	report, err := f.closer.ProcessEndedAuctions(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ProcessedCount)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "no_winner", report.Outcomes[0].Result)
	assert.Nil(t, report.Outcomes[0].WinnerID)

	assert.Len(t, f.notifier.sentTo("owner-1", domain.NotifyNoWinner), 1)
	assert.Equal(t, 0, f.notifier.count(domain.NotifyAuctionWon))
}

func TestProcessEndedAuctionsIsIdempotent(t *testing.T) {
	f := newCloserFixture(t)
	f.seedEnded(t, "merchant-a")
	f.clk.Advance(2 * time.Hour)

	first, err := f.closer.ProcessEndedAuctions(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, first.ProcessedCount)

	// A second run over the same horizon finds nothing to claim and sends
	// nothing.
	second, err := f.closer.ProcessEndedAuctions(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, second.ProcessedCount)
	assert.Empty(t, second.Outcomes)

	assert.Equal(t, 1, f.notifier.count(domain.NotifyAuctionWon))
	assert.Equal(t, 1, f.notifier.count(domain.NotifyAuctionClosed))
}

func TestProcessEndedAuctionsIgnoresOpenAndProcessed(t *testing.T) {
	f := newCloserFixture(t)
	f.seedEnded(t, "merchant-a") // ends at +1h; the clock stays inside the window

	report, err := f.closer.ProcessEndedAuctions(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, report.ProcessedCount)
	assert.Empty(t, report.Outcomes)
}

func TestProcessEndedAuctionsIsolatesFailures(t *testing.T) {
	f := newCloserFixture(t)
	broken := f.seedEnded(t, "merchant-a")
	healthy := f.seedEnded(t, "merchant-b")
	f.clk.Advance(2 * time.Hour)

	f.repo.failClaim[broken.ID] = errors.New("deadlock")

	report, err := f.closer.ProcessEndedAuctions(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ProcessedCount)

	results := map[string]string{}
	for _, out := range report.Outcomes {
		results[out.BidID] = out.Result
	}
	assert.Equal(t, "error", results[broken.ID])
	assert.Equal(t, "winner", results[healthy.ID])

	// The failed bid stays unclaimed and closes on the next run.
	delete(f.repo.failClaim, broken.ID)
	retry, err := f.closer.ProcessEndedAuctions(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, retry.ProcessedCount)
	require.Len(t, retry.Outcomes, 1)
	assert.Equal(t, broken.ID, retry.Outcomes[0].BidID)
}

func TestProcessEndedAuctionsSkipsConcurrentClaim(t *testing.T) {
	f := newCloserFixture(t)
	bid := f.seedEnded(t, "merchant-a")
	f.clk.Advance(2 * time.Hour)

	// Another run wins the claim between this run's scan and its close.
	f.repo.failClaim[bid.ID] = domain.ErrAlreadyProcessed

	report, err := f.closer.ProcessEndedAuctions(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, report.ProcessedCount)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "skipped", report.Outcomes[0].Result)
	assert.Equal(t, 0, f.notifier.count(domain.NotifyAuctionWon))
}

func TestProcessEndedAuctionsHonorsCancellation(t *testing.T) {
	f := newCloserFixture(t)
	f.seedEnded(t, "merchant-a")
	f.clk.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.closer.ProcessEndedAuctions(ctx, f.clk.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
