package domain

import "time"

// GlobalMetrics is the aggregate market snapshot.
// UpdatedAt is stamped when the provider payload is transformed, not by the provider.
type GlobalMetrics struct {
	ActiveCryptocurrencies int       `json:"active_cryptocurrencies"`
	BTCDominance           float64   `json:"btc_dominance"`
	ETHDominance           float64   `json:"eth_dominance"`
	TotalMarketCap         float64   `json:"total_market_cap"`
	TotalVolume24h         float64   `json:"total_volume_24h"`
	MarketCapChange24h     float64   `json:"market_cap_change_24h"`
	UpdatedAt              time.Time `json:"updated_at"`
}
