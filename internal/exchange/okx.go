package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/suwandre/p2parb/internal/models"
)

const okxDefaultURL = "https://www.okx.com/v3/c2c/tradingOrders/books"

// OKXAdapter queries OKX's public C2C order books.
//
// Side table: OKX lists ads by the advertiser's side. A requester BUY asks
// for side=sell and reads data.sell; a requester SELL asks for side=buy and
// reads data.buy. Min/max are quote (fiat) amounts.
type OKXAdapter struct {
	client
}

type okxItem struct {
	ID                     flexString        `json:"id"`
	PublicUserID           flexString        `json:"publicUserId"`
	MerchantID             flexString        `json:"merchantId"`
	NickName               flexString        `json:"nickName"`
	Side                   flexString        `json:"side"`
	Price                  flexString        `json:"price"`
	QuoteMinAmountPerOrder flexString        `json:"quoteMinAmountPerOrder"`
	QuoteMaxAmountPerOrder flexString        `json:"quoteMaxAmountPerOrder"`
	AvailableAmount        flexString        `json:"availableAmount"`
	PaymentMethods         []json.RawMessage `json:"paymentMethods"`
	CompletedRate          flexString        `json:"completedRate"`
	CompletedOrderQuantity flexString        `json:"completedOrderQuantity"`
}

func NewOKXAdapter(cfg AdapterConfig) *OKXAdapter {
	return &OKXAdapter{client: newClient("okx", cfg, okxDefaultURL, 500*time.Millisecond)}
}

func (o *OKXAdapter) Name() string {
	return "OKX"
}

func okxRequestSide(side models.Side) string {
	return strings.ToLower(string(side.Opposite()))
}

func okxListingSide(v flexString, requested models.Side) models.Side {
	switch strings.ToLower(v.String()) {
	case "sell":
		return models.SideBuy
	case "buy":
		return models.SideSell
	}
	return requested
}

func (o *OKXAdapter) FetchOrders(ctx context.Context, asset, fiat string, side models.Side, opts FetchOptions) ([]models.NormalizedOrder, error) {
	asset, fiat = upper(asset), upper(fiat)
	okxSide := okxRequestSide(side)

	q := url.Values{
		"quoteCurrency": {fiat},
		"baseCurrency":  {asset},
		"side":          {okxSide},
		"paymentMethod": {"all"},
		"userType":      {"all"},
		"receivingAds":  {"false"},
		"t":             {strconv.FormatInt(o.nowMillis(), 10)},
	}
	if opts.MinFiatAmount > 0 {
		q.Set("quoteMinAmountPerOrder", formatAmount(opts.MinFiatAmount))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return []models.NormalizedOrder{}, fmt.Errorf("okx orders: failed to build request: %w", err)
	}

	var raw struct {
		Code flexString                   `json:"code"`
		Msg  string                       `json:"msg"`
		Data map[string][]json.RawMessage `json:"data"`
	}

	if err := o.do(ctx, req, &raw); err != nil {
		return []models.NormalizedOrder{}, err
	}

	if code := raw.Code.String(); code != "" && code != "0" {
		return []models.NormalizedOrder{}, fmt.Errorf("okx API error %s: %s", code, raw.Msg)
	}

	listings := raw.Data[okxSide]
	now := o.nowMillis()
	orders := make([]models.NormalizedOrder, 0, len(listings))
	for i, item := range decodeListings[okxItem]("okx", listings) {
		if ord, ok := mapOKXItem(item, asset, fiat, side, i, now); ok {
			orders = append(orders, ord)
		}
	}
	return orders, nil
}

func mapOKXItem(it okxItem, asset, fiat string, side models.Side, idx int, now int64) (models.NormalizedOrder, bool) {
	price, ok := parsePrice(it.Price)
	if !ok {
		return models.NormalizedOrder{}, false
	}

	userID := it.PublicUserID.String()
	if userID == "" {
		userID = it.MerchantID.String()
	}

	p := &fieldParser{}
	o := models.NormalizedOrder{
		ID:              orderID("okx", it.ID.String(), userID, strconv.Itoa(idx)),
		Exchange:        "OKX",
		Asset:           asset,
		FiatCurrency:    fiat,
		Side:            okxListingSide(it.Side, side),
		Price:           price,
		MinAmount:       p.number("minAmount", it.QuoteMinAmountPerOrder),
		MaxAmount:       p.number("maxAmount", it.QuoteMaxAmountPerOrder),
		AvailableAmount: p.number("availableAmount", it.AvailableAmount),
		PaymentMethods:  paymentList(it.PaymentMethods, "name", "paymentMethod"),
		MerchantName:    p.merchant(it.NickName.String()),
		CompletionRate:  p.percent("completionRate", it.CompletedRate),
		OrderCount:      p.number("orderCount", it.CompletedOrderQuantity),
		Timestamp:       now,
	}
	return finalize(o, p), true
}
