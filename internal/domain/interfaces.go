package domain

import (
	"context"
)

// MarketDataProvider performs single validated requests against the upstream provider.
// Implementations never retry.
type MarketDataProvider interface {
	FetchListings(ctx context.Context, limit int) ([]RawAssetRecord, error)
	FetchGlobalMetrics(ctx context.Context) (*RawGlobalMetrics, error)
}

// CoinRepository defines how catalog metadata is persisted
type CoinRepository interface {
	SyncCatalog(assets []Asset) error
	ListFavorites() ([]CoinInfo, error)
	ToggleFavorite(id string) (bool, error)
}
