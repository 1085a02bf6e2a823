package domain

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// RawQuote is one currency block of a provider listing record.
// NullDecimal keeps "absent or null" distinguishable from zero.
type RawQuote struct {
	Price            decimal.NullDecimal `json:"price"`
	Volume24h        decimal.NullDecimal `json:"volume_24h"`
	PercentChange1h  decimal.NullDecimal `json:"percent_change_1h"`
	PercentChange24h decimal.NullDecimal `json:"percent_change_24h"`
	PercentChange7d  decimal.NullDecimal `json:"percent_change_7d"`
	MarketCap        decimal.NullDecimal `json:"market_cap"`
	LastUpdated      string              `json:"last_updated"`
}

// RawAssetRecord is a listing record as returned by the provider.
type RawAssetRecord struct {
	ID                *json.Number         `json:"id"`
	Name              *string              `json:"name"`
	Symbol            *string              `json:"symbol"`
	Slug              string               `json:"slug"`
	CMCRank           int                  `json:"cmc_rank"`
	CirculatingSupply decimal.NullDecimal  `json:"circulating_supply"`
	LastUpdated       string               `json:"last_updated"`
	Quote             map[string]*RawQuote `json:"quote"`
}

// USD returns the USD quote block, or nil when absent.
func (r *RawAssetRecord) USD() *RawQuote {
	if r.Quote == nil {
		return nil
	}
	return r.Quote["USD"]
}

// IDString returns the identifier as a string, or "" when absent.
func (r *RawAssetRecord) IDString() string {
	if r.ID == nil {
		return ""
	}
	return strings.TrimSpace(r.ID.String())
}

// RawGlobalQuote is the USD block of the global-metrics payload.
type RawGlobalQuote struct {
	TotalMarketCap                          float64  `json:"total_market_cap"`
	TotalVolume24h                          float64  `json:"total_volume_24h"`
	MarketCapChange24h                      *float64 `json:"market_cap_change_24h"`
	TotalMarketCapYesterdayPercentageChange *float64 `json:"total_market_cap_yesterday_percentage_change"`
	LastUpdated                             string   `json:"last_updated"`
}

// RawGlobalMetrics is the data block of the global-metrics payload.
type RawGlobalMetrics struct {
	ActiveCryptocurrencies int                       `json:"active_cryptocurrencies"`
	TotalCryptocurrencies  int                       `json:"total_cryptocurrencies"`
	ActiveExchanges        int                       `json:"active_exchanges"`
	BTCDominance           float64                   `json:"btc_dominance"`
	ETHDominance           float64                   `json:"eth_dominance"`
	Quote                  map[string]RawGlobalQuote `json:"quote"`
}
