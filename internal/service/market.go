package service

import (
	"math"
	"sort"
	"strings"
	"time"

	"crypto_dashboard/internal/domain"
)

const (
	// DefaultImageURLTemplate is the provider's static icon location; {id} is replaced.
	DefaultImageURLTemplate = "https://s2.coinmarketcap.com/static/img/coins/64x64/{id}.png"

	// TopPerformersLimit is the length of each gainers/losers ranking.
	TopPerformersLimit = 5

	defaultName   = "Unknown"
	defaultSymbol = "?"
)

// Transformer maps provider records onto dashboard shapes.
type Transformer struct {
	imageTemplate string
	now           func() time.Time
}

// NewTransformer creates a Transformer. An empty template uses DefaultImageURLTemplate.
func NewTransformer(imageTemplate string) *Transformer {
	if imageTemplate == "" {
		imageTemplate = DefaultImageURLTemplate
	}
	return &Transformer{
		imageTemplate: imageTemplate,
		now:           time.Now,
	}
}

// IsValidRecord reports whether a record carries every required field.
// Zero and negative numbers are valid; circulating supply is optional.
func IsValidRecord(r *domain.RawAssetRecord) bool {
	if r == nil || r.IDString() == "" || r.Name == nil || r.Symbol == nil {
		return false
	}
	q := r.USD()
	if q == nil {
		return false
	}
	return q.Price.Valid && q.PercentChange24h.Valid && q.MarketCap.Valid && q.Volume24h.Valid
}

// TransformAssets keeps the valid records and maps them in input order.
// It fails with NoValidDataError when nothing survives the filter.
func (t *Transformer) TransformAssets(records []domain.RawAssetRecord) ([]domain.Asset, error) {
	assets := make([]domain.Asset, 0, len(records))
	for i := range records {
		if !IsValidRecord(&records[i]) {
			continue
		}
		assets = append(assets, t.NewAsset(&records[i]))
	}

	if len(assets) == 0 {
		return nil, &domain.NoValidDataError{Total: len(records)}
	}
	return assets, nil
}

// NewAsset builds an Asset from a record that passed IsValidRecord.
func (t *Transformer) NewAsset(r *domain.RawAssetRecord) domain.Asset {
	q := r.USD()
	id := r.IDString()

	price := q.Price.Decimal.InexactFloat64()
	change := q.PercentChange24h.Decimal.InexactFloat64()

	var supply float64
	if r.CirculatingSupply.Valid {
		supply = r.CirculatingSupply.Decimal.InexactFloat64()
	}

	return domain.Asset{
		ID:                id,
		Name:              orDefault(r.Name, defaultName),
		Symbol:            orDefault(r.Symbol, defaultSymbol),
		CurrentPrice:      price,
		PriceChange24h:    change,
		MarketCap:         q.MarketCap.Decimal.InexactFloat64(),
		TotalVolume:       q.Volume24h.Decimal.InexactFloat64(),
		CirculatingSupply: supply,
		Image:             t.ImageURL(id),
		Sparkline7d:       GenerateSparkline(price, change),
	}
}

// ImageURL substitutes id into the image template.
func (t *Transformer) ImageURL(id string) string {
	return strings.ReplaceAll(t.imageTemplate, "{id}", id)
}

func orDefault(s *string, def string) string {
	if s == nil {
		return def
	}
	if v := strings.TrimSpace(*s); v != "" {
		return v
	}
	return def
}

// GenerateSparkline synthesizes a 7-point trend from the current price and 24h change.
// This is a linear interpolation of one 24h delta across the window, not historical data.
// The last point equals price. When change <= -100 or an input is not finite, the
// implied prior price is undefined and a flat series at price is returned.
func GenerateSparkline(price, change float64) domain.Sparkline {
	var s domain.Sparkline

	if change <= -100 || !isFinite(price) || !isFinite(change) {
		for i := range s.Price {
			s.Price[i] = flatValue(price)
		}
		return s
	}

	base := price / (1 + change/100)
	n := domain.SparklinePoints
	for i := 0; i < n; i++ {
		daysAgo := float64(n - 1 - i)
		delta := (change / 24) * (24 - daysAgo*24/7)
		s.Price[i] = base * (1 + delta/100)
	}
	s.Price[n-1] = price
	return s
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func flatValue(price float64) float64 {
	if !isFinite(price) {
		return 0
	}
	return price
}

// TopPerformers ranks assets by 24h change: gainers descending, losers ascending.
// Ties keep input order. Each list holds at most limit entries.
func TopPerformers(assets []domain.Asset, limit int) domain.TopPerformers {
	gainers := make([]domain.Asset, len(assets))
	copy(gainers, assets)
	sort.SliceStable(gainers, func(i, j int) bool {
		return gainers[i].PriceChange24h > gainers[j].PriceChange24h
	})

	losers := make([]domain.Asset, len(assets))
	copy(losers, assets)
	sort.SliceStable(losers, func(i, j int) bool {
		return losers[i].PriceChange24h < losers[j].PriceChange24h
	})

	return domain.TopPerformers{
		TopGainers: toPerformers(gainers, limit),
		TopLosers:  toPerformers(losers, limit),
	}
}

func toPerformers(assets []domain.Asset, limit int) []domain.Performer {
	if limit >= 0 && len(assets) > limit {
		assets = assets[:limit]
	}
	out := make([]domain.Performer, 0, len(assets))
	for _, a := range assets {
		out = append(out, domain.NewPerformer(a))
	}
	return out
}

// TransformGlobalMetrics maps the provider's global payload. Absent numbers become 0
// and UpdatedAt is the transform time.
func (t *Transformer) TransformGlobalMetrics(raw *domain.RawGlobalMetrics) domain.GlobalMetrics {
	gm := domain.GlobalMetrics{UpdatedAt: t.now().UTC()}
	if raw == nil {
		return gm
	}

	gm.ActiveCryptocurrencies = raw.ActiveCryptocurrencies
	gm.BTCDominance = raw.BTCDominance
	gm.ETHDominance = raw.ETHDominance

	if usd, ok := raw.Quote["USD"]; ok {
		gm.TotalMarketCap = usd.TotalMarketCap
		gm.TotalVolume24h = usd.TotalVolume24h
		switch {
		case usd.MarketCapChange24h != nil:
			gm.MarketCapChange24h = *usd.MarketCapChange24h
		case usd.TotalMarketCapYesterdayPercentageChange != nil:
			gm.MarketCapChange24h = *usd.TotalMarketCapYesterdayPercentageChange
		}
	}
	return gm
}
