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

const bitgetDefaultURL = "https://www.bitget.com/v1/p2p/pub/adv/queryAdvList"

// BitgetAdapter queries Bitget's public P2P advertisement list.
//
// Side table: side 1 = requester BUY, 2 = requester SELL. Listings carry no
// side of their own, so the requested side is echoed. Min/max are fiat.
type BitgetAdapter struct {
	client
}

type bitgetItem struct {
	AdvNo           flexString        `json:"advNo"`
	UserID          flexString        `json:"userId"`
	NickName        flexString        `json:"nickName"`
	Price           flexString        `json:"price"`
	MinAmount       flexString        `json:"minAmount"`
	MaxAmount       flexString        `json:"maxAmount"`
	AvailableAmount flexString        `json:"availableAmount"`
	PayMethods      []json.RawMessage `json:"payMethods"`
	TurnoverRate    flexString        `json:"turnoverRate"`
	FinishRate      flexString        `json:"finishRate"`
	TurnoverNum     flexString        `json:"turnoverNum"`
	MonthOrderCount flexString        `json:"monthOrderCount"`
	CreateTime      flexString        `json:"createTime"`
}

func NewBitgetAdapter(cfg AdapterConfig) *BitgetAdapter {
	return &BitgetAdapter{client: newClient("bitget", cfg, bitgetDefaultURL, 500*time.Millisecond)}
}

func (b *BitgetAdapter) Name() string {
	return "Bitget"
}

func bitgetRequestSide(side models.Side) int {
	if side == models.SideSell {
		return 2
	}
	return 1
}

func (b *BitgetAdapter) FetchOrders(ctx context.Context, asset, fiat string, side models.Side, opts FetchOptions) ([]models.NormalizedOrder, error) {
	asset, fiat = upper(asset), upper(fiat)

	payload := map[string]any{
		"side":         bitgetRequestSide(side),
		"pageNo":       1,
		"pageSize":     20,
		"coinCode":     asset,
		"fiatCode":     fiat,
		"languageType": 0,
	}
	if opts.MinFiatAmount > 0 {
		payload["amount"] = formatAmount(opts.MinFiatAmount)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return []models.NormalizedOrder{}, fmt.Errorf("bitget orders: failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(body))
	if err != nil {
		return []models.NormalizedOrder{}, fmt.Errorf("bitget orders: failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json;charset=utf-8")

	var raw struct {
		Code flexString `json:"code"`
		Msg  string     `json:"msg"`
		Data struct {
			DataList []json.RawMessage `json:"dataList"`
		} `json:"data"`
	}

	if err := b.do(ctx, req, &raw); err != nil {
		return []models.NormalizedOrder{}, err
	}

	if code := raw.Code.String(); code != "" && code != "00000" {
		return []models.NormalizedOrder{}, fmt.Errorf("bitget API error %s: %s", code, raw.Msg)
	}

	now := b.nowMillis()
	orders := make([]models.NormalizedOrder, 0, len(raw.Data.DataList))
	for i, item := range decodeListings[bitgetItem]("bitget", raw.Data.DataList) {
		if o, ok := mapBitgetItem(item, asset, fiat, side, i, now); ok {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func mapBitgetItem(it bitgetItem, asset, fiat string, side models.Side, idx int, now int64) (models.NormalizedOrder, bool) {
	price, ok := parsePrice(it.Price)
	if !ok {
		return models.NormalizedOrder{}, false
	}

	seq := it.CreateTime.String()
	if seq == "" {
		seq = strconv.Itoa(idx)
	}

	rate := it.TurnoverRate
	if rate == "" {
		rate = it.FinishRate
	}
	count := it.TurnoverNum
	if count == "" {
		count = it.MonthOrderCount
	}

	p := &fieldParser{}
	o := models.NormalizedOrder{
		ID:              orderID("bitget", it.AdvNo.String(), it.UserID.String(), seq),
		Exchange:        "Bitget",
		Asset:           asset,
		FiatCurrency:    fiat,
		Side:            side,
		Price:           price,
		MinAmount:       p.number("minAmount", it.MinAmount),
		MaxAmount:       p.number("maxAmount", it.MaxAmount),
		AvailableAmount: p.number("availableAmount", it.AvailableAmount),
		PaymentMethods:  paymentList(it.PayMethods, "payMethodName", "name"),
		MerchantName:    p.merchant(it.NickName.String()),
		CompletionRate:  p.number("completionRate", rate),
		OrderCount:      p.number("orderCount", count),
		Timestamp:       now,
		CreatedAt:       parseMillis(it.CreateTime),
	}
	return finalize(o, p), true
}
