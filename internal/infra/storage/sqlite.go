package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"dex_go/internal/domain"
	"dex_go/internal/state"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MarketRecord is the persisted form of a market with its book and queue.
type MarketRecord struct {
	Key       string `gorm:"primaryKey"`
	BaseMint  string
	QuoteMint string
	Data      []byte // JSON state.MarketSnapshot
	UpdatedAt time.Time
}

func (MarketRecord) TableName() string { return "markets" }

// UserAccountRecord is the persisted form of a user account.
type UserAccountRecord struct {
	Key       string `gorm:"primaryKey"`
	Market    string `gorm:"index"`
	Owner     string `gorm:"index"`
	Data      []byte // JSON domain.UserAccount
	UpdatedAt time.Time
}

func (UserAccountRecord) TableName() string { return "user_accounts" }

// Storage mirrors committed records into SQLite for queries. The journal,
// not this mirror, is the source of truth on restart.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at dbPath. An empty path
// resolves to the per-user data directory.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		p, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		dbPath = p
	}

	// Ensure directory exists
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&MarketRecord{}, &UserAccountRecord{}); err != nil {
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

	return filepath.Join(configDir, "DexGo", "data", "records.db"), nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Write side
// ======================================================================================

// SaveChanges writes every record a unit committed in one transaction.
func (s *Storage) SaveChanges(ch state.Changes) error {
	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, ms := range ch.Markets {
			data, err := json.Marshal(ms.Snapshot())
			if err != nil {
				return fmt.Errorf("marshal market %s: %w", ms.Market.Key, err)
			}
			rec := MarketRecord{
				Key:       ms.Market.Key.String(),
				BaseMint:  ms.Market.BaseMint.String(),
				QuoteMint: ms.Market.QuoteMint.String(),
				Data:      data,
				UpdatedAt: now,
			}
			if err := tx.Save(&rec).Error; err != nil {
				return err
			}
		}
		for _, u := range ch.Accounts {
			data, err := json.Marshal(u)
			if err != nil {
				return fmt.Errorf("marshal account %s: %w", u.Key, err)
			}
			rec := UserAccountRecord{
				Key:       u.Key.String(),
				Market:    u.Market.String(),
				Owner:     u.Owner.String(),
				Data:      data,
				UpdatedAt: now,
			}
			if err := tx.Save(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// OnCommit is a state.Store commit hook. Mirror failures are logged; the
// journal still has the instruction.
func (s *Storage) OnCommit(ch state.Changes) {
	if err := s.SaveChanges(ch); err != nil {
		slog.Error("MIRROR_WRITE_FAILED",
			slog.Int("markets", len(ch.Markets)),
			slog.Int("accounts", len(ch.Accounts)),
			slog.Any("error", err),
		)
	}
}

// ======================================================================================
// Read side
// ======================================================================================

// GetMarket retrieves a market by key. Returns nil if absent.
func (s *Storage) GetMarket(key domain.Key) (*state.MarketSnapshot, error) {
	var rec MarketRecord
	err := s.db.First(&rec, "key = ?", key.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	var snap state.MarketSnapshot
	if err := json.Unmarshal(rec.Data, &snap); err != nil {
		return nil, fmt.Errorf("decode market %s: %w", rec.Key, err)
	}
	return &snap, nil
}

// ListMarkets returns every stored market's configuration and aggregates.
func (s *Storage) ListMarkets() ([]*domain.Market, error) {
	var recs []MarketRecord
	if err := s.db.Order("key").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Market, 0, len(recs))
	for _, rec := range recs {
		var snap state.MarketSnapshot
		if err := json.Unmarshal(rec.Data, &snap); err != nil {
			return nil, fmt.Errorf("decode market %s: %w", rec.Key, err)
		}
		out = append(out, snap.Market)
	}
	return out, nil
}

// GetUserAccount retrieves an account by key. Returns nil if absent.
func (s *Storage) GetUserAccount(key domain.Key) (*domain.UserAccount, error) {
	var rec UserAccountRecord
	err := s.db.First(&rec, "key = ?", key.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeAccount(rec)
}

// ListUserAccounts retrieves every account on a market.
func (s *Storage) ListUserAccounts(market domain.Key) ([]*domain.UserAccount, error) {
	var recs []UserAccountRecord
	if err := s.db.Where("market = ?", market.String()).Order("key").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.UserAccount, 0, len(recs))
	for _, rec := range recs {
		u, err := decodeAccount(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// ListOwnerAccounts retrieves every account an owner holds across markets.
func (s *Storage) ListOwnerAccounts(owner domain.Key) ([]*domain.UserAccount, error) {
	var recs []UserAccountRecord
	if err := s.db.Where("owner = ?", owner.String()).Order("key").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.UserAccount, 0, len(recs))
	for _, rec := range recs {
		u, err := decodeAccount(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func decodeAccount(rec UserAccountRecord) (*domain.UserAccount, error) {
	var u domain.UserAccount
	if err := json.Unmarshal(rec.Data, &u); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", rec.Key, err)
	}
	return &u, nil
}
