package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
)

type MySQLSubscriptionRepository struct {
	db *sql.DB
}

func NewMySQLSubscriptionRepository(db *sql.DB) *MySQLSubscriptionRepository {
	return &MySQLSubscriptionRepository{db: db}
}

const subscriptionColumns = `id, seq, merchant_id, junkshop_id, junkshop_owner_id, item_id,
	quantity, price_per_kg, frequency, start_date, next_renewal_date, end_date,
	max_renewals, renewals_count, is_active, settings, created_at, updated_at`

func (r *MySQLSubscriptionRepository) Create(ctx context.Context, sub *domain.BidSubscription) error {
	settings, err := marshalSettings(sub.Settings)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO bid_subscriptions (id, merchant_id, junkshop_id, junkshop_owner_id,
            item_id, quantity, price_per_kg, frequency, start_date, next_renewal_date,
            end_date, max_renewals, renewals_count, is_active, settings, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	res, err := r.db.ExecContext(ctx, query,
		sub.ID, sub.MerchantID, sub.JunkshopID, sub.JunkshopOwnerID,
		sub.ItemID, sub.Quantity.String(), sub.PricePerKg.String(), string(sub.Frequency),
		sub.StartDate, sub.NextRenewalDate, sub.EndDate, sub.MaxRenewals,
		sub.RenewalsCount, sub.IsActive, settings, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return err
	}

	if seq, err := res.LastInsertId(); err == nil {
		sub.Seq = seq
	}
	return nil
}

func (r *MySQLSubscriptionRepository) Get(ctx context.Context, subID string) (*domain.BidSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM bid_subscriptions WHERE id = ?`
	sub, err := scanSubscription(r.db.QueryRowContext(ctx, query, subID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription %s: %w", subID, domain.ErrNotFound)
	}
	return sub, err
}

func (r *MySQLSubscriptionRepository) Update(ctx context.Context, sub *domain.BidSubscription) error {
	settings, err := marshalSettings(sub.Settings)
	if err != nil {
		return err
	}

	query := `
        UPDATE bid_subscriptions
        SET quantity = ?, price_per_kg = ?, frequency = ?, next_renewal_date = ?,
            end_date = ?, max_renewals = ?, renewals_count = ?, is_active = ?,
            settings = ?, updated_at = ?
        WHERE id = ?
    `
	_, err = r.db.ExecContext(ctx, query,
		sub.Quantity.String(), sub.PricePerKg.String(), string(sub.Frequency),
		sub.NextRenewalDate, sub.EndDate, sub.MaxRenewals, sub.RenewalsCount,
		sub.IsActive, settings, sub.UpdatedAt, sub.ID)
	return err
}

func (r *MySQLSubscriptionRepository) ListDue(ctx context.Context, today time.Time, afterSeq int64, limit int) ([]*domain.BidSubscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM bid_subscriptions
        WHERE is_active = 1
          AND next_renewal_date <= ?
          AND (max_renewals IS NULL OR renewals_count < max_renewals)
          AND (end_date IS NULL OR end_date >= ?)
          AND seq > ?
        ORDER BY seq ASC
        LIMIT ?
    `

	rows, err := r.db.QueryContext(ctx, query, today, today, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func (r *MySQLSubscriptionRepository) ListActive(ctx context.Context, afterSeq int64, limit int) ([]*domain.BidSubscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM bid_subscriptions
        WHERE is_active = 1 AND seq > ?
        ORDER BY seq ASC
        LIMIT ?
    `

	rows, err := r.db.QueryContext(ctx, query, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func (r *MySQLSubscriptionRepository) RecordRenewal(ctx context.Context, rec *domain.BidRenewalHistory) error {
	query := `
        INSERT INTO bid_renewal_histories (id, bid_subscription_id, bid_id, renewal_date,
            outcome, detail, quantity, price_per_kg, frequency, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.SubscriptionID, rec.BidID, rec.RenewalDate,
		string(rec.Outcome), rec.Detail, rec.Quantity.String(),
		rec.PricePerKg.String(), string(rec.Frequency), rec.CreatedAt)
	return err
}

func (r *MySQLSubscriptionRepository) RenewalHistory(ctx context.Context, subID string) ([]*domain.BidRenewalHistory, error) {
	query := `
        SELECT id, bid_subscription_id, bid_id, renewal_date, outcome, detail,
            quantity, price_per_kg, frequency, created_at
        FROM bid_renewal_histories
        WHERE bid_subscription_id = ?
        ORDER BY created_at ASC
    `

	rows, err := r.db.QueryContext(ctx, query, subID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hist []*domain.BidRenewalHistory
	for rows.Next() {
		var (
			rec             domain.BidRenewalHistory
			bidID           sql.NullString
			outcome, freq   string
			quantity, price string
		)

		err := rows.Scan(&rec.ID, &rec.SubscriptionID, &bidID, &rec.RenewalDate,
			&outcome, &rec.Detail, &quantity, &price, &freq, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}

		rec.BidID = stringPtr(bidID)
		rec.Outcome = domain.RenewalOutcome(outcome)
		rec.Frequency = domain.RenewalFrequency(freq)
		if rec.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, err
		}
		if rec.PricePerKg, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		hist = append(hist, &rec)
	}
	return hist, rows.Err()
}

func scanSubscription(row rowScanner) (*domain.BidSubscription, error) {
	var (
		sub             domain.BidSubscription
		quantity, price string
		freq            string
		endDate         sql.NullTime
		maxRenewals     sql.NullInt64
		settings        sql.NullString
	)

	err := row.Scan(&sub.ID, &sub.Seq, &sub.MerchantID, &sub.JunkshopID, &sub.JunkshopOwnerID,
		&sub.ItemID, &quantity, &price, &freq, &sub.StartDate, &sub.NextRenewalDate,
		&endDate, &maxRenewals, &sub.RenewalsCount, &sub.IsActive, &settings,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sub.Frequency = domain.RenewalFrequency(freq)
	if sub.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, err
	}
	if sub.PricePerKg, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	sub.EndDate = timePtr(endDate)
	if maxRenewals.Valid {
		v := int(maxRenewals.Int64)
		sub.MaxRenewals = &v
	}
	if settings.Valid && settings.String != "" {
		if err := json.Unmarshal([]byte(settings.String), &sub.Settings); err != nil {
			return nil, err
		}
	}

	return &sub, nil
}

func collectSubscriptions(rows *sql.Rows) ([]*domain.BidSubscription, error) {
	var subs []*domain.BidSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func marshalSettings(settings map[string]string) (interface{}, error) {
	if len(settings) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
