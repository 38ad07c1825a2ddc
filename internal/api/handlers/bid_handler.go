package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/services"
	"github.com/AlexisRellon/JunkHop-development-sub000/pkg/logger"
)

type BidHandler struct {
	ledger *services.BidLedger
	log    logger.Logger
}

func NewBidHandler(ledger *services.BidLedger, log logger.Logger) *BidHandler {
	return &BidHandler{
		ledger: ledger,
		log:    log,
	}
}

func (h *BidHandler) Register(e *echo.Echo) {
	e.POST("/bids", h.CreateListing)
	e.GET("/bids/:id", h.GetBid)
	e.GET("/bids/:id/history", h.History)
	e.POST("/bids/:id/offers", h.PlaceBid)
	e.PATCH("/bids/:id/status", h.UpdateStatus)
	e.POST("/bids/:id/cancel", h.Cancel)
}

type CreateListingRequest struct {
	JunkshopID       string     `json:"junkshop_id"`
	JunkshopOwnerID  string     `json:"junkshop_owner_id"`
	ItemID           string     `json:"item_id"`
	MerchantID       *string    `json:"merchant_id,omitempty"`
	Quantity         string     `json:"quantity"`
	PricePerKg       string     `json:"price_per_kg"`
	StartingBid      *string    `json:"starting_bid,omitempty"`
	EnableBidding    bool       `json:"enable_bidding"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	AllowAutoRenewal bool       `json:"allow_auto_renewal"`
}

type PlaceBidRequest struct {
	MerchantID string `json:"merchant_id"`
	Amount     string `json:"amount"`
	Notes      string `json:"notes"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type CancelRequest struct {
	MerchantID string `json:"merchant_id"`
}

func (h *BidHandler) CreateListing(c echo.Context) error {
	var req CreateListingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid quantity"})
	}
	price, err := decimal.NewFromString(req.PricePerKg)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid price_per_kg"})
	}

	var starting *decimal.Decimal
	if req.StartingBid != nil {
		d, err := decimal.NewFromString(*req.StartingBid)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid starting_bid"})
		}
		starting = &d
	}

	bid, err := h.ledger.CreateListing(c.Request().Context(), services.ListingInput{
		JunkshopID:       req.JunkshopID,
		JunkshopOwnerID:  req.JunkshopOwnerID,
		ItemID:           req.ItemID,
		MerchantID:       req.MerchantID,
		Quantity:         quantity,
		PricePerKg:       price,
		StartingBid:      starting,
		EnableBidding:    req.EnableBidding,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		AllowAutoRenewal: req.AllowAutoRenewal,
	})
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, bidResponse(bid))
}

func (h *BidHandler) GetBid(c echo.Context) error {
	bid, err := h.ledger.GetBid(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, bidResponse(bid))
}

func (h *BidHandler) History(c echo.Context) error {
	hist, err := h.ledger.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}

	out := make([]map[string]interface{}, 0, len(hist))
	for _, rec := range hist {
		out = append(out, map[string]interface{}{
			"id":          rec.ID,
			"merchant_id": rec.MerchantID,
			"amount":      rec.Amount.StringFixed(2),
			"notes":       rec.Notes,
			"created_at":  rec.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"history": out})
}

func (h *BidHandler) PlaceBid(c echo.Context) error {
	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid amount"})
	}

	result, err := h.ledger.PlaceBid(c.Request().Context(), c.Param("id"), req.MerchantID, amount, req.Notes)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"bid":        bidResponse(result.Bid),
		"history_id": result.History.ID,
	})
}

func (h *BidHandler) UpdateStatus(c echo.Context) error {
	var req UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	bid, err := h.ledger.UpdateStatus(c.Request().Context(), c.Param("id"), domain.BidStatus(req.Status), req.Reason)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, bidResponse(bid))
}

func (h *BidHandler) Cancel(c echo.Context) error {
	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	bid, err := h.ledger.Cancel(c.Request().Context(), c.Param("id"), req.MerchantID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, bidResponse(bid))
}

func (h *BidHandler) writeError(c echo.Context, err error) error {
	return writeError(c, h.log, err)
}

func bidResponse(bid *domain.Bid) map[string]interface{} {
	resp := map[string]interface{}{
		"id":                 bid.ID,
		"junkshop_id":        bid.JunkshopID,
		"item_id":            bid.ItemID,
		"quantity":           bid.Quantity.String(),
		"price_per_kg":       bid.PricePerKg.StringFixed(2),
		"status":             string(bid.Status),
		"is_bidding_enabled": bid.IsBiddingEnabled,
		"bidding_processed":  bid.BiddingProcessed,
		"allow_auto_renewal": bid.AllowAutoRenewal,
		"created_at":         bid.CreatedAt,
		"updated_at":         bid.UpdatedAt,
	}
	if bid.MerchantID != nil {
		resp["merchant_id"] = *bid.MerchantID
	}
	if bid.StartingBid != nil {
		resp["starting_bid"] = bid.StartingBid.StringFixed(2)
	}
	if bid.CurrentBid != nil {
		resp["current_bid"] = bid.CurrentBid.StringFixed(2)
	}
	if bid.CurrentBidderID != nil {
		resp["current_bidder_id"] = *bid.CurrentBidderID
	}
	if bid.StartDate != nil {
		resp["start_date"] = bid.StartDate
	}
	if bid.EndDate != nil {
		resp["end_date"] = bid.EndDate
	}
	if bid.RejectionReason != nil {
		resp["rejection_reason"] = *bid.RejectionReason
	}
	if bid.SubscriptionID != nil {
		resp["bid_subscription_id"] = *bid.SubscriptionID
	}
	return resp
}

// writeError maps the error taxonomy onto HTTP statuses. BelowMinimum
// responses include the computed minimum so clients can retry without
// guessing.
func writeError(c echo.Context, log logger.Logger, err error) error {
	if ve, ok := domain.IsValidation(err); ok {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": ve.Error(),
			"field": ve.Field,
		})
	}
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	if pe, ok := domain.IsPrecondition(err); ok {
		body := map[string]interface{}{
			"error": pe.Message,
			"code":  string(pe.Code),
		}
		if pe.MinimumBid != nil {
			body["minimum_bid"] = pe.MinimumBid.StringFixed(2)
		}
		return c.JSON(http.StatusConflict, body)
	}

	log.Error("Request failed", "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}
