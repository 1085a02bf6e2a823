package domain

// SparklinePoints is the length of the synthetic 7-day trend.
const SparklinePoints = 7

// Sparkline is a 7-point price trend, oldest first.
// It is synthesized from the 24h change and is not historical data.
type Sparkline struct {
	Price [SparklinePoints]float64 `json:"price"`
}

// Asset is the canonical per-coin record served to the dashboard.
// Assets are rebuilt on every fetch cycle and never mutated after construction.
type Asset struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Symbol            string    `json:"symbol"`
	CurrentPrice      float64   `json:"current_price"`
	PriceChange24h    float64   `json:"price_change_percentage_24h"`
	MarketCap         float64   `json:"market_cap"`
	TotalVolume       float64   `json:"total_volume"`
	CirculatingSupply float64   `json:"circulating_supply"`
	Image             string    `json:"image"`
	Sparkline7d       Sparkline `json:"sparkline_in_7d"`
}

// Performer is the compact shape used by the top gainers/losers panels.
type Performer struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Symbol         string  `json:"symbol"`
	CurrentPrice   float64 `json:"current_price"`
	PriceChange24h float64 `json:"price_change_percentage_24h"`
	Image          string  `json:"image"`
	MarketCap      float64 `json:"market_cap"`
}

// NewPerformer projects an asset onto the performer shape.
func NewPerformer(a Asset) Performer {
	return Performer{
		ID:             a.ID,
		Name:           a.Name,
		Symbol:         a.Symbol,
		CurrentPrice:   a.CurrentPrice,
		PriceChange24h: a.PriceChange24h,
		Image:          a.Image,
		MarketCap:      a.MarketCap,
	}
}

// TopPerformers holds both 24h rankings.
type TopPerformers struct {
	TopGainers []Performer `json:"top_gainers"`
	TopLosers  []Performer `json:"top_losers"`
}
