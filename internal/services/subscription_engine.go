package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/clock"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
	"github.com/AlexisRellon/JunkHop-development-sub000/pkg/logger"
)

const (
	// Renewal bids accept offers for a fixed 7-day window.
	renewalBidWindow = 7 * 24 * time.Hour

	// Reminder lead when the subscription settings don't override it.
	defaultNotifyLeadDays = 3

	settingNotifyRenewal  = "notify_renewal"
	settingNotifyLeadDays = "notify_lead_days"
)

// SubscriptionEngine owns bid subscriptions: cadence computation, scheduled
// renewal processing with failure tracking, and upcoming-renewal reminders.
type SubscriptionEngine struct {
	subs     domain.SubscriptionRepository
	ledger   *BidLedger
	items    domain.ItemCatalog
	notifier domain.NotificationGateway
	clk      clock.Clock
	pageSize int
	log      logger.Logger
}

func NewSubscriptionEngine(
	subs domain.SubscriptionRepository,
	ledger *BidLedger,
	items domain.ItemCatalog,
	notifier domain.NotificationGateway,
	clk clock.Clock,
	pageSize int,
	log logger.Logger,
) *SubscriptionEngine {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &SubscriptionEngine{
		subs:     subs,
		ledger:   ledger,
		items:    items,
		notifier: notifier,
		clk:      clk,
		pageSize: pageSize,
		log:      log,
	}
}

type SubscriptionInput struct {
	MerchantID      string
	JunkshopID      string
	JunkshopOwnerID string
	ItemID          string
	Quantity        decimal.Decimal
	PricePerKg      decimal.Decimal
	Frequency       domain.RenewalFrequency
	StartDate       time.Time
	EndDate         *time.Time
	MaxRenewals     *int
	Settings        map[string]string
}

// Subscribe creates the subscription and its initial bid in one request.
func (e *SubscriptionEngine) Subscribe(ctx context.Context, in SubscriptionInput) (*domain.BidSubscription, *domain.Bid, error) {
	if in.MerchantID == "" {
		return nil, nil, &domain.ValidationError{Field: "merchant_id", Reason: "is required"}
	}
	if in.ItemID == "" {
		return nil, nil, &domain.ValidationError{Field: "item_id", Reason: "is required"}
	}
	if in.Quantity.IsNegative() {
		return nil, nil, &domain.ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if !in.PricePerKg.IsPositive() {
		return nil, nil, &domain.ValidationError{Field: "price_per_kg", Reason: "must be positive"}
	}
	switch in.Frequency {
	case domain.FrequencyWeekly, domain.FrequencyBiweekly, domain.FrequencyMonthly:
	default:
		return nil, nil, &domain.ValidationError{Field: "frequency", Reason: "must be weekly, biweekly or monthly"}
	}
	if in.MaxRenewals != nil && *in.MaxRenewals <= 0 {
		return nil, nil, &domain.ValidationError{Field: "max_renewals", Reason: "must be positive"}
	}

	item, err := e.items.Get(ctx, in.ItemID)
	if err != nil {
		return nil, nil, err
	}
	if !item.IsAvailable {
		return nil, nil, &domain.ValidationError{Field: "item_id", Reason: "item is not available"}
	}

	now := e.clk.Now()
	start := in.StartDate
	if start.IsZero() {
		start = now
	}

	sub := &domain.BidSubscription{
		ID:              domain.NewID(),
		MerchantID:      in.MerchantID,
		JunkshopID:      in.JunkshopID,
		JunkshopOwnerID: in.JunkshopOwnerID,
		ItemID:          in.ItemID,
		Quantity:        in.Quantity,
		PricePerKg:      in.PricePerKg,
		Frequency:       in.Frequency,
		StartDate:       start,
		NextRenewalDate: NextRenewalDate(in.Frequency, start),
		EndDate:         in.EndDate,
		MaxRenewals:     in.MaxRenewals,
		IsActive:        true,
		Settings:        in.Settings,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.subs.Create(ctx, sub); err != nil {
		return nil, nil, fmt.Errorf("create subscription: %w", err)
	}

	bid, err := e.createRenewalBid(ctx, sub, now)
	if err != nil {
		// Undo the subscription so a rejected request leaves nothing for
		// the renewal scans to pick up.
		sub.IsActive = false
		sub.UpdatedAt = now
		if uerr := e.subs.Update(ctx, sub); uerr != nil {
			e.log.Error("Failed to deactivate subscription after bid failure",
				"subscription_id", sub.ID, "error", uerr)
		}
		return nil, nil, fmt.Errorf("create initial bid: %w", err)
	}

	e.log.Info("Subscription created",
		"subscription_id", sub.ID,
		"merchant_id", sub.MerchantID,
		"frequency", string(sub.Frequency),
		"initial_bid_id", bid.ID)
	return sub, bid, nil
}

// IsDueForRenewal reports whether the subscription should renew on today's
// run: active, schedule reached, cap not hit, and not past its end date.
func IsDueForRenewal(sub *domain.BidSubscription, today time.Time) bool {
	if !sub.IsActive {
		return false
	}
	if sub.NextRenewalDate.After(today) {
		return false
	}
	if sub.MaxRenewals != nil && sub.RenewalsCount >= *sub.MaxRenewals {
		return false
	}
	if sub.EndDate != nil && sub.EndDate.Before(today) {
		return false
	}
	return true
}

// NextRenewalDate advances fromDate by one cadence period. Unrecognized
// frequencies fall back to monthly. Monthly uses calendar-month arithmetic
// clamped to the last day of the target month (Jan 31 renews Feb 28).
func NextRenewalDate(freq domain.RenewalFrequency, fromDate time.Time) time.Time {
	switch freq {
	case domain.FrequencyWeekly:
		return fromDate.AddDate(0, 0, 7)
	case domain.FrequencyBiweekly:
		return fromDate.AddDate(0, 0, 14)
	default:
		return addMonthClamped(fromDate)
	}
}

func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := daysIn(first.Year(), first.Month())
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

type RenewalResult struct {
	SubscriptionID string
	Outcome        domain.RenewalOutcome
	BidID          *string
	Detail         string
}

// ProcessRenewal runs one renewal cycle for the subscription. On success the
// schedule advances; on failure it holds, so the same renewal date is retried
// on the next run once the cause is fixed. That asymmetry is deliberate.
func (e *SubscriptionEngine) ProcessRenewal(ctx context.Context, sub *domain.BidSubscription, manual bool) (*RenewalResult, error) {
	now := e.clk.Now()

	item, err := e.items.Get(ctx, sub.ItemID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("look up item %s: %w", sub.ItemID, err)
	}
	if err != nil || !item.IsAvailable {
		return e.recordFailure(ctx, sub, now, "item no longer available")
	}

	bid, err := e.createRenewalBid(ctx, sub, now)
	if err != nil {
		// Unexpected failure: audit it and hold the schedule for retry.
		e.log.Error("Renewal bid creation failed",
			"subscription_id", sub.ID,
			"manual", manual,
			"error", err)
		return e.recordFailure(ctx, sub, now, err.Error())
	}

	sub.RenewalsCount++
	if sub.MaxRenewals != nil && sub.RenewalsCount >= *sub.MaxRenewals {
		sub.IsActive = false
	}
	sub.NextRenewalDate = NextRenewalDate(sub.Frequency, sub.NextRenewalDate)
	sub.UpdatedAt = now
	if err := e.subs.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("advance subscription %s: %w", sub.ID, err)
	}

	rec := e.snapshot(sub, now, domain.RenewalSuccess, "renewal bid created")
	rec.BidID = &bid.ID
	if err := e.subs.RecordRenewal(ctx, rec); err != nil {
		e.log.Error("Failed to record renewal history", "subscription_id", sub.ID, "error", err)
	}

	payload := map[string]interface{}{
		"subscription_id": sub.ID,
		"bid_id":          bid.ID,
		"item_id":         sub.ItemID,
		"renewals_count":  sub.RenewalsCount,
		"manual":          manual,
	}
	if err := e.notifier.Notify(ctx, sub.MerchantID, domain.NotifyRenewalCreated, payload); err != nil {
		e.log.Error("Failed to notify merchant of renewal", "subscription_id", sub.ID, "error", err)
	}

	e.log.Info("Subscription renewed",
		"subscription_id", sub.ID,
		"bid_id", bid.ID,
		"renewals_count", sub.RenewalsCount,
		"next_renewal", sub.NextRenewalDate,
		"still_active", sub.IsActive)

	return &RenewalResult{
		SubscriptionID: sub.ID,
		Outcome:        domain.RenewalSuccess,
		BidID:          &bid.ID,
		Detail:         "renewal bid created",
	}, nil
}

// recordFailure audits a failed attempt without advancing next_renewal_date.
func (e *SubscriptionEngine) recordFailure(ctx context.Context, sub *domain.BidSubscription, now time.Time, detail string) (*RenewalResult, error) {
	rec := e.snapshot(sub, now, domain.RenewalFailed, detail)
	if err := e.subs.RecordRenewal(ctx, rec); err != nil {
		e.log.Error("Failed to record renewal failure", "subscription_id", sub.ID, "error", err)
	}
	return &RenewalResult{
		SubscriptionID: sub.ID,
		Outcome:        domain.RenewalFailed,
		Detail:         detail,
	}, nil
}

func (e *SubscriptionEngine) snapshot(sub *domain.BidSubscription, now time.Time, outcome domain.RenewalOutcome, detail string) *domain.BidRenewalHistory {
	return &domain.BidRenewalHistory{
		ID:             domain.NewID(),
		SubscriptionID: sub.ID,
		RenewalDate:    sub.NextRenewalDate,
		Outcome:        outcome,
		Detail:         detail,
		Quantity:       sub.Quantity,
		PricePerKg:     sub.PricePerKg,
		Frequency:      sub.Frequency,
		CreatedAt:      now,
	}
}

func (e *SubscriptionEngine) createRenewalBid(ctx context.Context, sub *domain.BidSubscription, now time.Time) (*domain.Bid, error) {
	start := now
	end := now.Add(renewalBidWindow)
	return e.ledger.CreateListing(ctx, ListingInput{
		JunkshopID:       sub.JunkshopID,
		JunkshopOwnerID:  sub.JunkshopOwnerID,
		ItemID:           sub.ItemID,
		MerchantID:       &sub.MerchantID,
		Quantity:         sub.Quantity,
		PricePerKg:       sub.PricePerKg,
		EnableBidding:    true,
		StartDate:        &start,
		EndDate:          &end,
		AllowAutoRenewal: true,
		SubscriptionID:   &sub.ID,
		AutoRenewedAt:    &now,
	})
}

type RenewalRunReport struct {
	RunID      string
	Total      int
	Successful int
	Failed     int
	Details    []RenewalResult
}

// ProcessDueRenewals renews every due subscription. One subscription's
// failure never blocks the rest; only aggregate counts surface to the caller.
func (e *SubscriptionEngine) ProcessDueRenewals(ctx context.Context, today time.Time) (*RenewalRunReport, error) {
	report := &RenewalRunReport{RunID: uuid.NewString()}

	e.log.Info("Renewal run started", "run_id", report.RunID, "as_of", today)

	// Paging keys on seq so subscriptions that failed this run, and are
	// therefore still due, are not re-selected and re-attempted until the
	// next run.
	var afterSeq int64
	for {
		due, err := e.subs.ListDue(ctx, today, afterSeq, e.pageSize)
		if err != nil {
			return report, err
		}
		if len(due) == 0 {
			break
		}

		for _, sub := range due {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			afterSeq = sub.Seq
			if !IsDueForRenewal(sub, today) {
				continue
			}

			report.Total++
			result, err := e.ProcessRenewal(ctx, sub, false)
			if err != nil {
				e.log.Error("Renewal processing failed",
					"run_id", report.RunID,
					"subscription_id", sub.ID,
					"error", err)
				report.Failed++
				report.Details = append(report.Details, RenewalResult{
					SubscriptionID: sub.ID,
					Outcome:        domain.RenewalFailed,
					Detail:         err.Error(),
				})
				continue
			}

			report.Details = append(report.Details, *result)
			if result.Outcome == domain.RenewalSuccess {
				report.Successful++
			} else {
				report.Failed++
			}
		}

		if len(due) < e.pageSize {
			break
		}
	}

	e.log.Info("Renewal run finished",
		"run_id", report.RunID,
		"total", report.Total,
		"successful", report.Successful,
		"failed", report.Failed)
	return report, nil
}

// RenewManually runs one renewal cycle on demand, outside the schedule.
func (e *SubscriptionEngine) RenewManually(ctx context.Context, subID string) (*RenewalResult, error) {
	sub, err := e.subs.Get(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive {
		return nil, domain.Precondition(domain.CodeInvalidTransition, "subscription is no longer active")
	}
	return e.ProcessRenewal(ctx, sub, true)
}

// CheckUpcomingRenewals sends a reminder to merchants whose next renewal is
// exactly the configured lead away. Read-and-notify only; no state changes.
func (e *SubscriptionEngine) CheckUpcomingRenewals(ctx context.Context, today time.Time) (int, error) {
	sent := 0
	var afterSeq int64
	for {
		subs, err := e.subs.ListActive(ctx, afterSeq, e.pageSize)
		if err != nil {
			return sent, err
		}
		if len(subs) == 0 {
			break
		}

		for _, sub := range subs {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			afterSeq = sub.Seq

			if sub.Setting(settingNotifyRenewal, "true") == "false" {
				continue
			}

			lead := defaultNotifyLeadDays
			if v, err := strconv.Atoi(sub.Setting(settingNotifyLeadDays, "")); err == nil && v > 0 {
				lead = v
			}

			if !sameDay(sub.NextRenewalDate, today.AddDate(0, 0, lead)) {
				continue
			}

			payload := map[string]interface{}{
				"subscription_id": sub.ID,
				"item_id":         sub.ItemID,
				"renewal_date":    sub.NextRenewalDate.Format("2006-01-02"),
				"lead_days":       lead,
			}
			if err := e.notifier.Notify(ctx, sub.MerchantID, domain.NotifyRenewalUpcoming, payload); err != nil {
				e.log.Error("Failed to send renewal reminder", "subscription_id", sub.ID, "error", err)
				continue
			}
			sent++
		}

		if len(subs) < e.pageSize {
			break
		}
	}

	if sent > 0 {
		e.log.Info("Renewal reminders sent", "count", sent)
	}
	return sent, nil
}

// CancelSubscription deactivates the subscription. Terminal; records a
// skipped entry in the renewal trail so the audit log shows why renewals
// stopped.
func (e *SubscriptionEngine) CancelSubscription(ctx context.Context, subID, merchantID string) (*domain.BidSubscription, error) {
	sub, err := e.subs.Get(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.MerchantID != merchantID {
		return nil, domain.Precondition(domain.CodeNotOwner, "only the subscribing merchant can cancel")
	}
	if !sub.IsActive {
		return sub, nil
	}

	now := e.clk.Now()
	sub.IsActive = false
	sub.UpdatedAt = now
	if err := e.subs.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}

	rec := e.snapshot(sub, now, domain.RenewalSkipped, "subscription cancelled by merchant")
	if err := e.subs.RecordRenewal(ctx, rec); err != nil {
		e.log.Error("Failed to record cancellation", "subscription_id", sub.ID, "error", err)
	}

	e.log.Info("Subscription cancelled", "subscription_id", sub.ID)
	return sub, nil
}

func (e *SubscriptionEngine) GetSubscription(ctx context.Context, subID string) (*domain.BidSubscription, error) {
	return e.subs.Get(ctx, subID)
}

func (e *SubscriptionEngine) RenewalHistory(ctx context.Context, subID string) ([]*domain.BidRenewalHistory, error) {
	if _, err := e.subs.Get(ctx, subID); err != nil {
		return nil, err
	}
	return e.subs.RenewalHistory(ctx, subID)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
