package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/services"
	"github.com/AlexisRellon/JunkHop-development-sub000/pkg/logger"
)

type SubscriptionHandler struct {
	engine *services.SubscriptionEngine
	log    logger.Logger
}

func NewSubscriptionHandler(engine *services.SubscriptionEngine, log logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		engine: engine,
		log:    log,
	}
}

func (h *SubscriptionHandler) Register(e *echo.Echo) {
	e.POST("/subscriptions", h.Subscribe)
	e.GET("/subscriptions/:id", h.Get)
	e.GET("/subscriptions/:id/renewals", h.RenewalHistory)
	e.POST("/subscriptions/:id/renew", h.RenewNow)
	e.POST("/subscriptions/:id/cancel", h.Cancel)
}

type SubscribeRequest struct {
	MerchantID      string            `json:"merchant_id"`
	JunkshopID      string            `json:"junkshop_id"`
	JunkshopOwnerID string            `json:"junkshop_owner_id"`
	ItemID          string            `json:"item_id"`
	Quantity        string            `json:"quantity"`
	PricePerKg      string            `json:"price_per_kg"`
	Frequency       string            `json:"frequency"`
	StartDate       *time.Time        `json:"start_date,omitempty"`
	EndDate         *time.Time        `json:"end_date,omitempty"`
	MaxRenewals     *int              `json:"max_renewals,omitempty"`
	Settings        map[string]string `json:"settings,omitempty"`
}

type CancelSubscriptionRequest struct {
	MerchantID string `json:"merchant_id"`
}

func (h *SubscriptionHandler) Subscribe(c echo.Context) error {
	var req SubscribeRequest
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

	in := services.SubscriptionInput{
		MerchantID:      req.MerchantID,
		JunkshopID:      req.JunkshopID,
		JunkshopOwnerID: req.JunkshopOwnerID,
		ItemID:          req.ItemID,
		Quantity:        quantity,
		PricePerKg:      price,
		Frequency:       domain.RenewalFrequency(req.Frequency),
		EndDate:         req.EndDate,
		MaxRenewals:     req.MaxRenewals,
		Settings:        req.Settings,
	}
	if req.StartDate != nil {
		in.StartDate = *req.StartDate
	}

	sub, bid, err := h.engine.Subscribe(c.Request().Context(), in)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"subscription": subscriptionResponse(sub),
		"initial_bid":  bidResponse(bid),
	})
}

func (h *SubscriptionHandler) Get(c echo.Context) error {
	sub, err := h.engine.GetSubscription(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, subscriptionResponse(sub))
}

func (h *SubscriptionHandler) RenewalHistory(c echo.Context) error {
	hist, err := h.engine.RenewalHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}

	out := make([]map[string]interface{}, 0, len(hist))
	for _, rec := range hist {
		entry := map[string]interface{}{
			"id":           rec.ID,
			"renewal_date": rec.RenewalDate.Format("2006-01-02"),
			"outcome":      string(rec.Outcome),
			"detail":       rec.Detail,
			"quantity":     rec.Quantity.String(),
			"price_per_kg": rec.PricePerKg.StringFixed(2),
			"frequency":    string(rec.Frequency),
			"created_at":   rec.CreatedAt,
		}
		if rec.BidID != nil {
			entry["bid_id"] = *rec.BidID
		}
		out = append(out, entry)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"renewals": out})
}

func (h *SubscriptionHandler) RenewNow(c echo.Context) error {
	result, err := h.engine.RenewManually(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}

	body := map[string]interface{}{
		"subscription_id": result.SubscriptionID,
		"outcome":         string(result.Outcome),
		"detail":          result.Detail,
	}
	if result.BidID != nil {
		body["bid_id"] = *result.BidID
	}
	return c.JSON(http.StatusOK, body)
}

func (h *SubscriptionHandler) Cancel(c echo.Context) error {
	var req CancelSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	sub, err := h.engine.CancelSubscription(c.Request().Context(), c.Param("id"), req.MerchantID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, subscriptionResponse(sub))
}

func subscriptionResponse(sub *domain.BidSubscription) map[string]interface{} {
	resp := map[string]interface{}{
		"id":                sub.ID,
		"merchant_id":       sub.MerchantID,
		"junkshop_id":       sub.JunkshopID,
		"item_id":           sub.ItemID,
		"quantity":          sub.Quantity.String(),
		"price_per_kg":      sub.PricePerKg.StringFixed(2),
		"frequency":         string(sub.Frequency),
		"start_date":        sub.StartDate.Format("2006-01-02"),
		"next_renewal_date": sub.NextRenewalDate.Format("2006-01-02"),
		"renewals_count":    sub.RenewalsCount,
		"is_active":         sub.IsActive,
		"created_at":        sub.CreatedAt,
		"updated_at":        sub.UpdatedAt,
	}
	if sub.EndDate != nil {
		resp["end_date"] = sub.EndDate.Format("2006-01-02")
	}
	if sub.MaxRenewals != nil {
		resp["max_renewals"] = *sub.MaxRenewals
	}
	if len(sub.Settings) > 0 {
		resp["settings"] = sub.Settings
	}
	return resp
}
