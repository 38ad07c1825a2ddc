package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
	"github.com/AlexisRellon/JunkHop-development-sub000/pkg/logger"
)

// AuctionCloser finalizes ended auctions. It is driven on a recurring schedule
// and must tolerate overlapping runs: flipping bidding_processed is the sole
// idempotence gate, and the flip is claimed before any notification goes out.
type AuctionCloser struct {
	bids     domain.BidRepository
	notifier domain.NotificationGateway
	pageSize int
	log      logger.Logger
}

func NewAuctionCloser(
	bids domain.BidRepository,
	notifier domain.NotificationGateway,
	pageSize int,
	log logger.Logger,
) *AuctionCloser {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &AuctionCloser{
		bids:     bids,
		notifier: notifier,
		pageSize: pageSize,
		log:      log,
	}
}

type BidOutcome struct {
	BidID       string
	WinnerID    *string
	FinalAmount *string
	Result      string // "winner", "no_winner", "skipped", "error"
	Detail      string
}

type ClosingReport struct {
	RunID          string
	ProcessedCount int
	Outcomes       []BidOutcome
}

// ProcessEndedAuctions scans ended, unfinalized auctions and closes each one
// in its own unit of work. Bids whose processing fails stay unclaimed and are
// retried on the next run. The winner branch and the no-offers branch run as
// two separate scans.
func (c *AuctionCloser) ProcessEndedAuctions(ctx context.Context, now time.Time) (*ClosingReport, error) {
	report := &ClosingReport{RunID: uuid.NewString()}

	c.log.Info("Auction closing scan started", "run_id", report.RunID, "as_of", now)

	if err := c.scan(ctx, now, true, report); err != nil {
		return report, err
	}
	if err := c.scan(ctx, now, false, report); err != nil {
		return report, err
	}

	c.log.Info("Auction closing scan finished",
		"run_id", report.RunID,
		"processed", report.ProcessedCount)
	return report, nil
}

func (c *AuctionCloser) scan(ctx context.Context, now time.Time, withBidder bool, report *ClosingReport) error {
	for {
		bids, err := c.bids.ListEndedUnprocessed(ctx, now, withBidder, c.pageSize)
		if err != nil {
			return err
		}
		if len(bids) == 0 {
			return nil
		}

		claimed := 0
		for _, bid := range bids {
			// Each bid is an independently committed unit; honor
			// interruption between them.
			if err := ctx.Err(); err != nil {
				return err
			}
			out := c.closeOne(ctx, bid, now)
			if out.Result == "winner" || out.Result == "no_winner" {
				report.ProcessedCount++
				claimed++
			}
			report.Outcomes = append(report.Outcomes, out)
		}

		if len(bids) < c.pageSize {
			return nil
		}
		// Failed bids stay selectable; stop rather than re-reading the
		// same page when nothing was claimed.
		if claimed == 0 {
			return nil
		}
	}
}

func (c *AuctionCloser) closeOne(ctx context.Context, bid *domain.Bid, now time.Time) BidOutcome {
	err := c.bids.ClaimForProcessing(ctx, bid.ID, now)
	if errors.Is(err, domain.ErrAlreadyProcessed) {
		// Another run got here first.
		return BidOutcome{BidID: bid.ID, Result: "skipped", Detail: "claimed by a concurrent run"}
	}
	if err != nil {
		c.log.Error("Failed to claim ended auction", "bid_id", bid.ID, "error", err)
		return BidOutcome{BidID: bid.ID, Result: "error", Detail: err.Error()}
	}

	report := c.notifyClosed(ctx, bid)
	report.Result = "no_winner"
	if bid.HasBidder() {
		report.Result = "winner"
		report.WinnerID = bid.CurrentBidderID
		if bid.CurrentBid != nil {
			amount := bid.CurrentBid.StringFixed(currencyScale)
			report.FinalAmount = &amount
		}
	}

	c.log.Info("Auction closed",
		"bid_id", bid.ID,
		"result", report.Result)
	return report
}

// notifyClosed dispatches the closing notices. Dispatch is best-effort: the
// claim has already committed, so a failed notification is logged and lost
// rather than retried.
func (c *AuctionCloser) notifyClosed(ctx context.Context, bid *domain.Bid) BidOutcome {
	out := BidOutcome{BidID: bid.ID}

	if !bid.HasBidder() {
		payload := map[string]interface{}{
			"bid_id":  bid.ID,
			"item_id": bid.ItemID,
		}
		if err := c.notifier.Notify(ctx, bid.JunkshopOwnerID, domain.NotifyNoWinner, payload); err != nil {
			c.log.Error("Failed to notify owner of no-winner close", "bid_id", bid.ID, "error", err)
		}
		return out
	}

	winnerID := *bid.CurrentBidderID
	amount := ""
	if bid.CurrentBid != nil {
		amount = bid.CurrentBid.StringFixed(currencyScale)
	}

	winnerPayload := map[string]interface{}{
		"bid_id":   bid.ID,
		"item_id":  bid.ItemID,
		"amount":   amount,
		"quantity": bid.Quantity.String(),
	}
	if err := c.notifier.Notify(ctx, winnerID, domain.NotifyAuctionWon, winnerPayload); err != nil {
		c.log.Error("Failed to notify auction winner", "bid_id", bid.ID, "winner_id", winnerID, "error", err)
	}

	ownerPayload := map[string]interface{}{
		"bid_id":    bid.ID,
		"item_id":   bid.ItemID,
		"winner_id": winnerID,
		"amount":    amount,
	}
	if err := c.notifier.Notify(ctx, bid.JunkshopOwnerID, domain.NotifyAuctionClosed, ownerPayload); err != nil {
		c.log.Error("Failed to notify junkshop owner of close", "bid_id", bid.ID, "error", err)
	}

	return out
}
