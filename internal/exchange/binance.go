package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/suwandre/p2parb/internal/models"
)

const binanceDefaultURL = "https://p2p.binance.com/bapi/c2c/v2/friendly/c2c/adv/search"

// BinanceAdapter queries Binance's public C2C advertisement search.
//
// Side table: tradeType is sent as the requester's side. Listings report
// adv.tradeType from the advertiser's side, so "SELL" listings answer a
// requester BUY and vice versa. Min/max are fiat amounts.
type BinanceAdapter struct {
	client
}

type binanceItem struct {
	Adv struct {
		AdvNo                flexString        `json:"advNo"`
		TradeType            flexString        `json:"tradeType"`
		Price                flexString        `json:"price"`
		MinSingleTransAmount flexString        `json:"minSingleTransAmount"`
		MaxSingleTransAmount flexString        `json:"maxSingleTransAmount"`
		SurplusAmount        flexString        `json:"surplusAmount"`
		TradeMethods         []json.RawMessage `json:"tradeMethods"`
	} `json:"adv"`
	Advertiser struct {
		UserNo          flexString `json:"userNo"`
		NickName        flexString `json:"nickName"`
		MonthOrderCount flexString `json:"monthOrderCount"`
		MonthFinishRate flexString `json:"monthFinishRate"`
	} `json:"advertiser"`
}

func NewBinanceAdapter(cfg AdapterConfig) *BinanceAdapter {
	return &BinanceAdapter{client: newClient("binance", cfg, binanceDefaultURL, time.Second)}
}

func (b *BinanceAdapter) Name() string {
	return "Binance"
}

func binanceListingSide(v flexString, requested models.Side) models.Side {
	switch strings.ToUpper(v.String()) {
	case "SELL":
		return models.SideBuy
	case "BUY":
		return models.SideSell
	}
	return requested
}

func (b *BinanceAdapter) FetchOrders(ctx context.Context, asset, fiat string, side models.Side, opts FetchOptions) ([]models.NormalizedOrder, error) {
	asset, fiat = upper(asset), upper(fiat)

	payload := map[string]any{
		"fiat":          fiat,
		"page":          1,
		"rows":          20,
		"tradeType":     string(side),
		"asset":         asset,
		"countries":     []string{},
		"payTypes":      []string{},
		"publisherType": nil,
		"classifies":    []string{"mass", "profession"},
	}
	if opts.MinFiatAmount > 0 {
		payload["transAmount"] = formatAmount(opts.MinFiatAmount)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return []models.NormalizedOrder{}, fmt.Errorf("binance orders: failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(body))
	if err != nil {
		return []models.NormalizedOrder{}, fmt.Errorf("binance orders: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var raw struct {
		Code    flexString        `json:"code"`
		Message string            `json:"message"`
		Success bool              `json:"success"`
		Data    []json.RawMessage `json:"data"`
	}

	if err := b.do(ctx, req, &raw); err != nil {
		return []models.NormalizedOrder{}, err
	}

	if !raw.Success {
		return []models.NormalizedOrder{}, fmt.Errorf("binance API error %s: %s", raw.Code, raw.Message)
	}

	now := b.nowMillis()
	orders := make([]models.NormalizedOrder, 0, len(raw.Data))
	for i, item := range decodeListings[binanceItem]("binance", raw.Data) {
		if o, ok := mapBinanceItem(item, asset, fiat, side, i, now); ok {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func mapBinanceItem(it binanceItem, asset, fiat string, side models.Side, idx int, now int64) (models.NormalizedOrder, bool) {
	price, ok := parsePrice(it.Adv.Price)
	if !ok {
		return models.NormalizedOrder{}, false
	}

	p := &fieldParser{}
	o := models.NormalizedOrder{
		ID:              orderID("binance", it.Adv.AdvNo.String(), it.Advertiser.UserNo.String(), strconv.Itoa(idx)),
		Exchange:        "Binance",
		Asset:           asset,
		FiatCurrency:    fiat,
		Side:            binanceListingSide(it.Adv.TradeType, side),
		Price:           price,
		MinAmount:       p.number("minAmount", it.Adv.MinSingleTransAmount),
		MaxAmount:       p.number("maxAmount", it.Adv.MaxSingleTransAmount),
		AvailableAmount: p.number("availableAmount", it.Adv.SurplusAmount),
		PaymentMethods:  paymentList(it.Adv.TradeMethods, "tradeMethodName", "payMethodName", "identifier"),
		MerchantName:    p.merchant(it.Advertiser.NickName.String()),
		CompletionRate:  p.percent("completionRate", it.Advertiser.MonthFinishRate),
		OrderCount:      p.number("orderCount", it.Advertiser.MonthOrderCount),
		Timestamp:       now,
	}
	return finalize(o, p), true
}
