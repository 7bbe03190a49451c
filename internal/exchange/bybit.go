package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/suwandre/p2parb/internal/models"
)

const bybitDefaultURL = "https://api2.bybit.com/fiat/otc/item/online"

// BybitAdapter queries Bybit's public OTC listing endpoint.
//
// Side table: request side "1" = requester BUY, "0" = requester SELL. Listings
// echo the same encoding in their own side field. Min/max are fiat amounts.
type BybitAdapter struct {
	client
}

type bybitItem struct {
	ID             flexString        `json:"id"`
	UserID         flexString        `json:"userId"`
	AccountID      flexString        `json:"accountId"`
	NickName       flexString        `json:"nickName"`
	Side           flexString        `json:"side"`
	Price          flexString        `json:"price"`
	MinAmount      flexString        `json:"minAmount"`
	MaxAmount      flexString        `json:"maxAmount"`
	Quantity       flexString        `json:"quantity"`
	LastQuantity   flexString        `json:"lastQuantity"`
	Payments       []json.RawMessage `json:"payments"`
	FinishRate     flexString        `json:"finishRate"`
	RecentOrderNum flexString        `json:"recentOrderNum"`
	CreateDate     flexString        `json:"createDate"`
}

func NewBybitAdapter(cfg AdapterConfig) *BybitAdapter {
	return &BybitAdapter{client: newClient("bybit", cfg, bybitDefaultURL, 1200*time.Millisecond)}
}

func (b *BybitAdapter) Name() string {
	return "Bybit"
}

func bybitRequestSide(side models.Side) string {
	if side == models.SideSell {
		return "0"
	}
	return "1"
}

func bybitListingSide(v flexString, requested models.Side) models.Side {
	switch v.String() {
	case "1":
		return models.SideBuy
	case "0":
		return models.SideSell
	}
	return requested
}

func (b *BybitAdapter) FetchOrders(ctx context.Context, asset, fiat string, side models.Side, opts FetchOptions) ([]models.NormalizedOrder, error) {
	asset, fiat = upper(asset), upper(fiat)

	amount := ""
	if opts.MinFiatAmount > 0 {
		amount = formatAmount(opts.MinFiatAmount)
	}

	payload := map[string]any{
		"userId":             "",
		"tokenId":            asset,
		"currencyId":         fiat,
		"payment":            []string{},
		"side":               bybitRequestSide(side),
		"size":               "20",
		"page":               "1",
		"amount":             amount,
		"vaMaker":            false,
		"bulkMaker":          false,
		"canTrade":           true,
		"verificationFilter": 0,
		"sortType":           "TRADE_PRICE",
		"paymentPeriod":      []int{},
		"itemRegion":         1,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return []models.NormalizedOrder{}, fmt.Errorf("bybit orders: failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(body))
	if err != nil {
		return []models.NormalizedOrder{}, fmt.Errorf("bybit orders: failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	var raw struct {
		RetCode int    `json:"ret_code"`
		RetMsg  string `json:"ret_msg"`
		Result  struct {
			Items []json.RawMessage `json:"items"`
		} `json:"result"`
	}

	if err := b.do(ctx, req, &raw); err != nil {
		return []models.NormalizedOrder{}, err
	}

	if raw.RetCode != 0 {
		return []models.NormalizedOrder{}, fmt.Errorf("bybit API error %d: %s", raw.RetCode, raw.RetMsg)
	}

	now := b.nowMillis()
	orders := make([]models.NormalizedOrder, 0, len(raw.Result.Items))
	for i, item := range decodeListings[bybitItem]("bybit", raw.Result.Items) {
		if o, ok := mapBybitItem(item, asset, fiat, side, i, now); ok {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func mapBybitItem(it bybitItem, asset, fiat string, side models.Side, idx int, now int64) (models.NormalizedOrder, bool) {
	price, ok := parsePrice(it.Price)
	if !ok {
		return models.NormalizedOrder{}, false
	}

	userID := it.UserID.String()
	if userID == "" {
		userID = it.AccountID.String()
	}
	seq := it.CreateDate.String()
	if seq == "" {
		seq = strconv.Itoa(idx)
	}

	// lastQuantity is what is left on the ad; quantity is the original size.
	available := it.LastQuantity
	if available == "" {
		available = it.Quantity
	}

	p := &fieldParser{}
	o := models.NormalizedOrder{
		ID:              orderID("bybit", it.ID.String(), userID, seq),
		Exchange:        "Bybit",
		Asset:           asset,
		FiatCurrency:    fiat,
		Side:            bybitListingSide(it.Side, side),
		Price:           price,
		MinAmount:       p.number("minAmount", it.MinAmount),
		MaxAmount:       p.number("maxAmount", it.MaxAmount),
		AvailableAmount: p.number("availableAmount", available),
		PaymentMethods:  paymentList(it.Payments, "name", "paymentName", "paymentType"),
		MerchantName:    p.merchant(it.NickName.String()),
		CompletionRate:  p.percent("completionRate", it.FinishRate),
		OrderCount:      p.number("orderCount", it.RecentOrderNum),
		Timestamp:       now,
		CreatedAt:       parseMillis(it.CreateDate),
	}
	return finalize(o, p), true
}
