package exchange

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/suwandre/p2parb/internal/models"
)

const unknownMerchant = "Unknown"

// flexString absorbs the string/number/null drift venues show for the same
// field. Anything else is kept verbatim and later fails numeric parsing.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "" || raw == "null" {
		*f = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	*f = flexString(raw)
	return nil
}

func (f flexString) String() string {
	return string(f)
}

// parseNumber parses venue decimals exactly before converting to float64.
// ok is false for empty or malformed input.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// fieldParser collects the names of fields that had to be defaulted so that
// a genuine zero can be told apart from a missing one.
type fieldParser struct {
	defaulted []string
}

func (p *fieldParser) number(field string, v flexString) float64 {
	f, ok := parseNumber(v.String())
	if !ok {
		p.defaulted = append(p.defaulted, field)
		return 0
	}
	return f
}

// percent parses a 0..1 ratio and scales it to 0..100.
func (p *fieldParser) percent(field string, v flexString) float64 {
	return p.number(field, v) * 100
}

func (p *fieldParser) merchant(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		p.defaulted = append(p.defaulted, "merchantName")
		return unknownMerchant
	}
	return name
}

// parsePrice enforces the price invariant: a listing without a positive,
// parseable price is not a listing.
func parsePrice(v flexString) (float64, bool) {
	price, ok := parseNumber(v.String())
	if !ok || price <= 0 {
		return 0, false
	}
	return price, true
}

// parseMillis reads an epoch-millis creation time if the venue reports one.
func parseMillis(v flexString) *int64 {
	ms, err := strconv.ParseInt(v.String(), 10, 64)
	if err != nil || ms <= 0 {
		return nil
	}
	return &ms
}

// orderID prefers the venue's own advertisement id, then a composite of the
// account id and a sequence-ish value, and only then a random id. Random ids
// differ on every fetch, so such listings never de-duplicate across refreshes.
func orderID(prefix, nativeID, userID, seq string) string {
	if nativeID != "" {
		return prefix + "-" + nativeID
	}
	if userID != "" {
		if seq == "" {
			return prefix + "-" + userID
		}
		return prefix + "-" + userID + "-" + seq
	}
	return prefix + "-rnd-" + uuid.NewString()
}

// paymentNames guarantees a non-nil slice.
func paymentNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func finalize(o models.NormalizedOrder, p *fieldParser) models.NormalizedOrder {
	if o.PaymentMethods == nil {
		o.PaymentMethods = []string{}
	}
	if len(p.defaulted) > 0 {
		o.DefaultedFields = p.defaulted
		log.Debug().
			Str("exchange", o.Exchange).
			Str("id", o.ID).
			Strs("fields", p.defaulted).
			Msg("listing fields defaulted")
	}
	return o
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// decodeListings splits a listings array so that one malformed entry is
// dropped on its own instead of failing the whole response.
func decodeListings[T any](venue string, raws []json.RawMessage) []T {
	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			log.Debug().Err(err).Str("exchange", venue).Int("index", i).Msg("dropping malformed listing")
			continue
		}
		out = append(out, item)
	}
	return out
}

// paymentList reads payment entries that may be plain strings, numbers or
// objects carrying the name under one of keys.
func paymentList(raws []json.RawMessage, keys ...string) []string {
	names := make([]string, 0, len(raws))
	for _, raw := range raws {
		var s flexString
		if err := json.Unmarshal(raw, &s); err == nil && s != "" && !strings.HasPrefix(s.String(), "{") {
			names = append(names, s.String())
			continue
		}
		var obj map[string]flexString
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		for _, k := range keys {
			if v := obj[k]; v != "" {
				names = append(names, v.String())
				break
			}
		}
	}
	return paymentNames(names)
}
