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

const gateDefaultURL = "https://www.gate.com/json_svr/query_push/"

// GateAdapter queries Gate's P2P push-order list.
//
// Side table: push_type and the listing's type field both name the
// advertiser's side, so a requester BUY sends push_type=sell and a "sell"
// listing maps back to BUY. Min/max come from "min~max" fiat strings.
type GateAdapter struct {
	client
}

type gateItem struct {
	OID                 flexString `json:"oid"`
	UID                 flexString `json:"uid"`
	Username            flexString `json:"username"`
	Type                flexString `json:"type"`
	Rate                flexString `json:"rate"`
	Amount              flexString `json:"amount"`
	LimitTotal          flexString `json:"limit_total"`
	LimitFiat           flexString `json:"limit_fiat"`
	PayTypeNum          flexString `json:"pay_type_num"`
	CompleteRateMonth   flexString `json:"complete_rate_month"`
	CompleteNumberMonth flexString `json:"complete_number_month"`
}

func NewGateAdapter(cfg AdapterConfig) *GateAdapter {
	return &GateAdapter{client: newClient("gate", cfg, gateDefaultURL, 500*time.Millisecond)}
}

func (g *GateAdapter) Name() string {
	return "Gate"
}

func gateRequestSide(side models.Side) string {
	return strings.ToLower(string(side.Opposite()))
}

func gateListingSide(v flexString, requested models.Side) models.Side {
	switch strings.ToLower(v.String()) {
	case "sell":
		return models.SideBuy
	case "buy":
		return models.SideSell
	}
	return requested
}

func (g *GateAdapter) FetchOrders(ctx context.Context, asset, fiat string, side models.Side, opts FetchOptions) ([]models.NormalizedOrder, error) {
	asset, fiat = upper(asset), upper(fiat)

	fiatAmount := ""
	if opts.MinFiatAmount > 0 {
		fiatAmount = formatAmount(opts.MinFiatAmount)
	}

	form := url.Values{
		"type":          {"push_order_list"},
		"symbol":        {asset + "_" + fiat},
		"big_trade":     {"0"},
		"fiat_amount":   {fiatAmount},
		"amount":        {""},
		"pay_type":      {""},
		"is_blue":       {"0"},
		"is_crown":      {"0"},
		"is_follow":     {"0"},
		"have_traded":   {"0"},
		"no_query_hide": {"0"},
		"remove_limit":  {"0"},
		"per_page":      {"20"},
		"push_type":     {gateRequestSide(side)},
		"sort_type":     {"1"},
		"page":          {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return []models.NormalizedOrder{}, fmt.Errorf("gate orders: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("csrftoken", "1")

	var raw struct {
		Result    flexString        `json:"result"`
		Msg       string            `json:"msg"`
		PushOrder []json.RawMessage `json:"push_order"`
	}

	if err := g.do(ctx, req, &raw); err != nil {
		return []models.NormalizedOrder{}, err
	}

	if strings.EqualFold(raw.Result.String(), "false") {
		return []models.NormalizedOrder{}, fmt.Errorf("gate API error: %s", raw.Msg)
	}

	now := g.nowMillis()
	orders := make([]models.NormalizedOrder, 0, len(raw.PushOrder))
	for i, item := range decodeListings[gateItem]("gate", raw.PushOrder) {
		if o, ok := mapGateItem(item, asset, fiat, side, i, now); ok {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// splitGateLimit parses "1000~10383.24".
func splitGateLimit(limit string) (flexString, flexString) {
	lo, hi, found := strings.Cut(limit, "~")
	if !found {
		return "", ""
	}
	return flexString(strings.TrimSpace(lo)), flexString(strings.TrimSpace(hi))
}

func mapGateItem(it gateItem, asset, fiat string, side models.Side, idx int, now int64) (models.NormalizedOrder, bool) {
	price, ok := parsePrice(it.Rate)
	if !ok {
		return models.NormalizedOrder{}, false
	}

	limit := it.LimitTotal.String()
	if limit == "" {
		limit = it.LimitFiat.String()
	}
	lo, hi := splitGateLimit(limit)

	userID := it.UID.String()
	if userID == "" {
		userID = it.Username.String()
	}

	p := &fieldParser{}
	o := models.NormalizedOrder{
		ID:              orderID("gate", it.OID.String(), userID, strconv.Itoa(idx)),
		Exchange:        "Gate",
		Asset:           asset,
		FiatCurrency:    fiat,
		Side:            gateListingSide(it.Type, side),
		Price:           price,
		MinAmount:       p.number("minAmount", lo),
		MaxAmount:       p.number("maxAmount", hi),
		AvailableAmount: p.number("availableAmount", it.Amount),
		PaymentMethods:  paymentNames(strings.Split(it.PayTypeNum.String(), ",")),
		MerchantName:    p.merchant(it.Username.String()),
		CompletionRate:  p.number("completionRate", it.CompleteRateMonth),
		OrderCount:      p.number("orderCount", it.CompleteNumberMonth),
		Timestamp:       now,
	}
	return finalize(o, p), true
}
