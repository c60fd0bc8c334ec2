package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OutcomeRecord is the append-only database row for one classified
// LiquidationCall.
type OutcomeRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ObservedAt     time.Time `gorm:"index;not null"`
	Block          uint64    `gorm:"index;not null"`
	TxHash         string    `gorm:"type:varchar(66);index;not null"`
	User           string    `gorm:"type:varchar(42);index;not null"`
	Liquidator     string    `gorm:"type:varchar(42);not null"`
	DebtAsset      string    `gorm:"type:varchar(42);not null"`
	CollateralAsset string   `gorm:"type:varchar(42);not null"`
	Classification string    `gorm:"type:varchar(32);index;not null"`
	InfoTags       string    `gorm:"type:varchar(128)"`
	DebtUsd        float64   `gorm:"not null"`
	CollateralUsd  float64   `gorm:"not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// TableName pins the table name for GORM.
func (OutcomeRecord) TableName() string { return "liquidation_outcomes" }

// GormRecorder persists Outcomes to MySQL via GORM as an append-only
// classification stream.
type GormRecorder struct {
	db *gorm.DB
}

// NewGormRecorder opens a MySQL connection and migrates the outcome table.
func NewGormRecorder(dsn string) (*GormRecorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	if err := db.AutoMigrate(&OutcomeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate liquidation_outcomes: %w", err)
	}
	return &GormRecorder{db: db}, nil
}

// NewGormRecorderWithDB wraps an existing GORM handle, migrating the
// outcome table onto it.
func NewGormRecorderWithDB(db *gorm.DB) (*GormRecorder, error) {
	if err := db.AutoMigrate(&OutcomeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate liquidation_outcomes: %w", err)
	}
	return &GormRecorder{db: db}, nil
}

// Record appends one classified Outcome to the table.
func (r *GormRecorder) Record(ctx context.Context, outcome Outcome) error {
	row := OutcomeRecord{
		ObservedAt:      outcome.ObservedAt,
		Block:           outcome.Call.Block,
		TxHash:          outcome.Call.TxHash.Hex(),
		User:            outcome.Call.User.Hex(),
		Liquidator:      outcome.Call.Liquidator.Hex(),
		DebtAsset:       outcome.Call.DebtAsset.Hex(),
		CollateralAsset: outcome.Call.CollateralAsset.Hex(),
		Classification:  string(outcome.Classification),
		InfoTags:        joinInfoTags(outcome.Info),
		DebtUsd:         outcome.DebtUsd,
		CollateralUsd:   outcome.CollateralUsd,
	}
	result := r.db.WithContext(ctx).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to record liquidation outcome: %w", result.Error)
	}
	return nil
}

// RecentByUser returns the most recent outcomes observed for a user, newest
// first, used by operator tooling to investigate a specific borrower.
func (r *GormRecorder) RecentByUser(ctx context.Context, user string, limit int) ([]OutcomeRecord, error) {
	var rows []OutcomeRecord
	result := r.db.WithContext(ctx).Where("user = ?", user).Order("observed_at DESC").Limit(limit).Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query liquidation outcomes: %w", result.Error)
	}
	return rows, nil
}

// SinceID returns outcomes with ID greater than afterID, oldest first, for
// incremental archival export that never re-reads a row it already shipped.
func (r *GormRecorder) SinceID(ctx context.Context, afterID uint, limit int) ([]OutcomeRecord, error) {
	var rows []OutcomeRecord
	result := r.db.WithContext(ctx).Where("id > ?", afterID).Order("id ASC").Limit(limit).Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query liquidation outcomes: %w", result.Error)
	}
	return rows, nil
}

// Close closes the underlying database connection.
func (r *GormRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}

func joinInfoTags(tags []InfoTag) string {
	if len(tags) == 0 {
		return ""
	}
	out := string(tags[0])
	for _, t := range tags[1:] {
		out += "," + string(t)
	}
	return out
}
