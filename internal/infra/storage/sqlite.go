package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"polytrader/internal/domain"
)

// Storage persists the order event log and the market metadata cache in
// SQLite. The event table is append-only: rows are inserted, never updated
// or deleted, so a restart can rebuild every order by replaying the log.
type Storage struct {
	db *gorm.DB
}

// orderEventRecord is the persisted form of a domain.OrderEvent. Decimals
// are stored as strings to avoid float drift.
type orderEventRecord struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	ClientOrderID   string `gorm:"index"`
	Type            string
	At              time.Time
	Market          string
	TokenID         string
	Side            string
	TIF             string
	Price           string
	Size            string
	Expiration      time.Time
	ExchangeOrderID string
	TradeID         string
	FillPrice       string
	FillSize        string
	Reason          string
	CreatedAt       time.Time
}

// marketRecord caches discovered market metadata across sessions.
type marketRecord struct {
	ConditionID string `gorm:"primaryKey"`
	Question    string
	TokensJSON  string
	TickSize    string
	MinSize     string
	NegRisk     bool
	FetchedAt   time.Time
	UpdatedAt   time.Time
}

// NewStorage opens (or creates) the SQLite database. An empty path resolves
// to the OS config directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		dbPath, err = defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&orderEventRecord{}, &marketRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func defaultDBPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "PolyTrader", "data", "polytrader.db"), nil
}

// Append durably records one order event. Called before the event is applied
// in memory so a crash cannot lose an in-flight order.
func (s *Storage) Append(ev domain.OrderEvent) error {
	rec := orderEventRecord{
		ClientOrderID:   ev.ClientOrderID,
		Type:            string(ev.Type),
		At:              ev.At,
		Market:          ev.Market,
		TokenID:         ev.TokenID,
		Side:            ev.Side,
		TIF:             ev.TIF,
		Price:           ev.Price.String(),
		Size:            ev.Size.String(),
		Expiration:      ev.Expiration,
		ExchangeOrderID: ev.ExchangeOrderID,
		TradeID:         ev.TradeID,
		FillPrice:       ev.FillPrice.String(),
		FillSize:        ev.FillSize.String(),
		Reason:          ev.Reason,
	}
	return s.db.Create(&rec).Error
}

// Load replays the full event log in append order.
func (s *Storage) Load() ([]domain.OrderEvent, error) {
	var recs []orderEventRecord
	if err := s.db.Order("id asc").Find(&recs).Error; err != nil {
		return nil, err
	}

	events := make([]domain.OrderEvent, 0, len(recs))
	for _, rec := range recs {
		events = append(events, domain.OrderEvent{
			ClientOrderID:   rec.ClientOrderID,
			Type:            domain.EventType(rec.Type),
			At:              rec.At,
			Market:          rec.Market,
			TokenID:         rec.TokenID,
			Side:            rec.Side,
			TIF:             rec.TIF,
			Price:           parseDecimal(rec.Price),
			Size:            parseDecimal(rec.Size),
			Expiration:      rec.Expiration,
			ExchangeOrderID: rec.ExchangeOrderID,
			TradeID:         rec.TradeID,
			FillPrice:       parseDecimal(rec.FillPrice),
			FillSize:        parseDecimal(rec.FillSize),
			Reason:          rec.Reason,
		})
	}
	return events, nil
}

// SaveMarket upserts cached market metadata.
func (s *Storage) SaveMarket(m *domain.Market) error {
	tokens, err := json.Marshal(m.Tokens)
	if err != nil {
		return err
	}
	rec := marketRecord{
		ConditionID: m.ConditionID,
		Question:    m.Question,
		TokensJSON:  string(tokens),
		TickSize:    m.TickSize.String(),
		MinSize:     m.MinSize.String(),
		NegRisk:     m.NegRisk,
		FetchedAt:   m.FetchedAt,
	}
	return s.db.Save(&rec).Error
}

// GetMarket retrieves cached market metadata. Not found is not an error;
// it returns (nil, nil).
func (s *Storage) GetMarket(conditionID string) (*domain.Market, error) {
	var rec marketRecord
	err := s.db.First(&rec, "condition_id = ?", conditionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var tokens []domain.Token
	if err := json.Unmarshal([]byte(rec.TokensJSON), &tokens); err != nil {
		return nil, err
	}

	return &domain.Market{
		ConditionID: rec.ConditionID,
		Question:    rec.Question,
		Tokens:      tokens,
		TickSize:    parseDecimal(rec.TickSize),
		MinSize:     parseDecimal(rec.MinSize),
		NegRisk:     rec.NegRisk,
		FetchedAt:   rec.FetchedAt,
	}, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
