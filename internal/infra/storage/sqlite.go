package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"crypto_dashboard/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists the asset catalog (names, icons, favorites)
type Storage struct {
	db *gorm.DB
}

var _ domain.CoinRepository = (*Storage)(nil)

// NewStorage creates a new SQLite storage instance.
// An empty path resolves to the per-user config directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		dbPath, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.CoinInfo{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "CryptoDashboard", "data", "dashboard.db"), nil
}

// Close closes the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Catalog Operations
// ======================================================================================

// SyncCatalog upserts listing metadata for every asset of a fetch cycle.
// Favorite flags and icon paths are preserved.
func (s *Storage) SyncCatalog(assets []domain.Asset) error {
	if len(assets) == 0 {
		return nil
	}

	now := time.Now()
	coins := make([]domain.CoinInfo, 0, len(assets))
	for _, a := range assets {
		coins = append(coins, domain.CoinInfo{
			ID:        a.ID,
			Symbol:    a.Symbol,
			Name:      a.Name,
			ImageURL:  a.Image,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "name", "image_url", "updated_at"}),
	}).CreateInBatches(coins, 100).Error
}

// GetAllCoins retrieves all coins
func (s *Storage) GetAllCoins() ([]domain.CoinInfo, error) {
	var coins []domain.CoinInfo
	err := s.db.Order("id").Find(&coins).Error
	return coins, err
}

// ListFavorites returns favorite coins ordered by symbol
func (s *Storage) ListFavorites() ([]domain.CoinInfo, error) {
	var coins []domain.CoinInfo
	err := s.db.Where("is_favorite = ?", true).Order("symbol").Find(&coins).Error
	return coins, err
}

// ToggleFavorite toggles the favorite status of a coin
func (s *Storage) ToggleFavorite(id string) (bool, error) {
	var coin domain.CoinInfo
	if err := s.db.First(&coin, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, id)
		}
		return false, err
	}

	coin.IsFavorite = !coin.IsFavorite
	err := s.db.Model(&coin).Update("is_favorite", coin.IsFavorite).Error
	return coin.IsFavorite, err
}

// SetIconPath records a downloaded icon for a coin
func (s *Storage) SetIconPath(id, path string) error {
	return s.db.Model(&domain.CoinInfo{}).
		Where("id = ?", id).
		Updates(map[string]any{"icon_path": path, "last_synced_at": time.Now()}).Error
}

// CoinsMissingIcons returns coins that have no local icon yet
func (s *Storage) CoinsMissingIcons() ([]domain.CoinInfo, error) {
	var coins []domain.CoinInfo
	err := s.db.Where("icon_path = ?", "").Order("id").Find(&coins).Error
	return coins, err
}
