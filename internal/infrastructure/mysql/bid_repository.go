package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
)

type MySQLBidRepository struct {
	db *sql.DB
}

func NewMySQLBidRepository(db *sql.DB) *MySQLBidRepository {
	return &MySQLBidRepository{db: db}
}

const bidColumns = `id, seq, merchant_id, junkshop_id, junkshop_owner_id, item_id,
	quantity, price_per_kg, starting_bid, current_bid, current_bidder_id,
	status, is_bidding_enabled, start_date, end_date, bidding_processed,
	accepted_at, rejected_at, rejection_reason, allow_auto_renewal,
	bid_subscription_id, auto_renewed_at, version, created_at, updated_at`

func (r *MySQLBidRepository) Create(ctx context.Context, bid *domain.Bid) error {
	query := `
        INSERT INTO bids (id, merchant_id, junkshop_id, junkshop_owner_id, item_id,
            quantity, price_per_kg, starting_bid, status, is_bidding_enabled,
            start_date, end_date, allow_auto_renewal, bid_subscription_id,
            auto_renewed_at, version, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	res, err := r.db.ExecContext(ctx, query,
		bid.ID, bid.MerchantID, bid.JunkshopID, bid.JunkshopOwnerID, bid.ItemID,
		bid.Quantity.String(), bid.PricePerKg.String(), nullDecimal(bid.StartingBid),
		string(bid.Status), bid.IsBiddingEnabled,
		bid.StartDate, bid.EndDate, bid.AllowAutoRenewal, bid.SubscriptionID,
		bid.AutoRenewedAt, bid.Version, bid.CreatedAt, bid.UpdatedAt)
	if err != nil {
		return err
	}

	if seq, err := res.LastInsertId(); err == nil {
		bid.Seq = seq
	}
	return nil
}

func (r *MySQLBidRepository) Get(ctx context.Context, bidID string) (*domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = ?`
	bid, err := scanBid(r.db.QueryRowContext(ctx, query, bidID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bid %s: %w", bidID, domain.ErrNotFound)
	}
	return bid, err
}

// PlaceBid commits the offer swap and the history row in one transaction.
// The version predicate makes the swap an optimistic compare-and-set: a
// concurrent placement that committed first leaves this update matching zero
// rows and the whole unit rolls back with ErrVersionConflict.
func (r *MySQLBidRepository) PlaceBid(ctx context.Context, bidID string, expectedVersion int64, amount decimal.Decimal, bidderID string, hist *domain.BidHistory) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE bids
        SET current_bid = ?, current_bidder_id = ?, version = version + 1, updated_at = ?
        WHERE id = ? AND version = ?
    `, amount.String(), bidderID, hist.CreatedAt, bidID, expectedVersion)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrVersionConflict
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO bid_histories (id, bid_id, merchant_id, amount, notes, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `, hist.ID, hist.BidID, hist.MerchantID, hist.Amount.String(), hist.Notes, hist.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *MySQLBidRepository) UpdateDecision(ctx context.Context, bid *domain.Bid) error {
	query := `
        UPDATE bids
        SET status = ?, accepted_at = ?, rejected_at = ?, rejection_reason = ?, updated_at = ?
        WHERE id = ?
    `
	_, err := r.db.ExecContext(ctx, query,
		string(bid.Status), bid.AcceptedAt, bid.RejectedAt, bid.RejectionReason,
		bid.UpdatedAt, bid.ID)
	return err
}

func (r *MySQLBidRepository) ListEndedUnprocessed(ctx context.Context, now time.Time, withBidder bool, limit int) ([]*domain.Bid, error) {
	bidderClause := "AND current_bidder_id IS NOT NULL"
	if !withBidder {
		bidderClause = "AND current_bidder_id IS NULL"
	}

	query := `
        SELECT ` + bidColumns + `
        FROM bids
        WHERE is_bidding_enabled = 1
          AND end_date <= ?
          AND bidding_processed = 0
          ` + bidderClause + `
        ORDER BY end_date ASC
        LIMIT ?
    `

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

// ClaimForProcessing is the idempotence gate for auction closing: the flag
// flip matches at most one unprocessed row, so exactly one run wins.
func (r *MySQLBidRepository) ClaimForProcessing(ctx context.Context, bidID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE bids SET bidding_processed = 1, updated_at = ?
        WHERE id = ? AND bidding_processed = 0
    `, now, bidID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrAlreadyProcessed
	}
	return nil
}

func (r *MySQLBidRepository) History(ctx context.Context, bidID string) ([]*domain.BidHistory, error) {
	query := `
        SELECT id, bid_id, merchant_id, amount, notes, created_at
        FROM bid_histories
        WHERE bid_id = ?
        ORDER BY created_at ASC
    `

	rows, err := r.db.QueryContext(ctx, query, bidID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hist []*domain.BidHistory
	for rows.Next() {
		var h domain.BidHistory
		var amount string

		if err := rows.Scan(&h.ID, &h.BidID, &h.MerchantID, &amount, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		if h.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		hist = append(hist, &h)
	}
	return hist, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBid(row rowScanner) (*domain.Bid, error) {
	var (
		bid             domain.Bid
		status          string
		quantity, price string
		starting        sql.NullString
		current         sql.NullString
		merchantID      sql.NullString
		bidderID        sql.NullString
		subscriptionID  sql.NullString
		rejectionReason sql.NullString
		startDate       sql.NullTime
		endDate         sql.NullTime
		acceptedAt      sql.NullTime
		rejectedAt      sql.NullTime
		autoRenewedAt   sql.NullTime
	)

	err := row.Scan(&bid.ID, &bid.Seq, &merchantID, &bid.JunkshopID, &bid.JunkshopOwnerID, &bid.ItemID,
		&quantity, &price, &starting, &current, &bidderID,
		&status, &bid.IsBiddingEnabled, &startDate, &endDate, &bid.BiddingProcessed,
		&acceptedAt, &rejectedAt, &rejectionReason, &bid.AllowAutoRenewal,
		&subscriptionID, &autoRenewedAt, &bid.Version, &bid.CreatedAt, &bid.UpdatedAt)
	if err != nil {
		return nil, err
	}

	bid.Status = domain.BidStatus(status)
	if bid.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, err
	}
	if bid.PricePerKg, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	if bid.StartingBid, err = decimalPtr(starting); err != nil {
		return nil, err
	}
	if bid.CurrentBid, err = decimalPtr(current); err != nil {
		return nil, err
	}
	bid.MerchantID = stringPtr(merchantID)
	bid.CurrentBidderID = stringPtr(bidderID)
	bid.SubscriptionID = stringPtr(subscriptionID)
	bid.RejectionReason = stringPtr(rejectionReason)
	bid.StartDate = timePtr(startDate)
	bid.EndDate = timePtr(endDate)
	bid.AcceptedAt = timePtr(acceptedAt)
	bid.RejectedAt = timePtr(rejectedAt)
	bid.AutoRenewedAt = timePtr(autoRenewedAt)

	return &bid, nil
}

func nullDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalPtr(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
