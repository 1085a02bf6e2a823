package service

import (
	"sort"
	"strings"

	"crypto_dashboard/internal/domain"
)

// DefaultPageSize is the table page size used when paging is requested without per_page.
const DefaultPageSize = 10

// MaxPageSize bounds per_page.
const MaxPageSize = 250

// SortField names a sortable table column.
type SortField string

const (
	SortMarketCap    SortField = "market_cap"
	SortName         SortField = "name"
	SortCurrentPrice SortField = "current_price"
	SortChange24h    SortField = "price_change_percentage_24h"
	SortTotalVolume  SortField = "total_volume"
)

// ParseSortField returns the field for s, or false when unknown. Empty means market cap.
func ParseSortField(s string) (SortField, bool) {
	switch f := SortField(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return SortMarketCap, true
	case SortMarketCap, SortName, SortCurrentPrice, SortChange24h, SortTotalVolume:
		return f, true
	default:
		return "", false
	}
}

// TableQuery filters, orders, and pages the asset table.
// Page 0 disables paging.
type TableQuery struct {
	Search  string
	Sort    SortField
	Asc     bool
	Page    int
	PerPage int
}

// TablePage is one page of the asset table.
type TablePage struct {
	Assets     []domain.Asset
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// ApplyTableQuery returns a new slice; assets is not modified.
func ApplyTableQuery(assets []domain.Asset, q TableQuery) TablePage {
	filtered := filterAssets(assets, q.Search)

	field := q.Sort
	if field == "" {
		field = SortMarketCap
	}
	less := lessFunc(field)
	sort.SliceStable(filtered, func(i, j int) bool {
		if q.Asc {
			return less(filtered[i], filtered[j])
		}
		return less(filtered[j], filtered[i])
	})

	total := len(filtered)
	if q.Page <= 0 {
		return TablePage{Assets: filtered, Total: total}
	}

	perPage := q.PerPage
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	if perPage > MaxPageSize {
		perPage = MaxPageSize
	}

	totalPages := (total + perPage - 1) / perPage
	start := (q.Page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return TablePage{
		Assets:     filtered[start:end],
		Page:       q.Page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	}
}

func filterAssets(assets []domain.Asset, search string) []domain.Asset {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]domain.Asset, 0, len(assets))
	for _, a := range assets {
		if needle == "" ||
			strings.Contains(strings.ToLower(a.Name), needle) ||
			strings.Contains(strings.ToLower(a.Symbol), needle) {
			out = append(out, a)
		}
	}
	return out
}

func lessFunc(f SortField) func(a, b domain.Asset) bool {
	switch f {
	case SortName:
		return func(a, b domain.Asset) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case SortCurrentPrice:
		return func(a, b domain.Asset) bool { return a.CurrentPrice < b.CurrentPrice }
	case SortChange24h:
		return func(a, b domain.Asset) bool { return a.PriceChange24h < b.PriceChange24h }
	case SortTotalVolume:
		return func(a, b domain.Asset) bool { return a.TotalVolume < b.TotalVolume }
	default:
		return func(a, b domain.Asset) bool { return a.MarketCap < b.MarketCap }
	}
}
