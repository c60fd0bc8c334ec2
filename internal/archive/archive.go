// Package archive exports the append-only liquidation outcome stream to
// columnar parquet files and ships them to object storage, so offline
// analysis tooling can scan months of history without hitting MySQL.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/liqcore/liqbot/internal/audit"
)

// outcomeRow is the parquet schema for one liquidation_outcomes row.
// USD figures are DOUBLE columns carrying the same float64 values GORM
// persisted, so export adds no further rounding.
type outcomeRow struct {
	ID              int64   `parquet:"name=id, type=INT64"`
	ObservedAt      string  `parquet:"name=observed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	Block           int64   `parquet:"name=block, type=INT64"`
	TxHash          string  `parquet:"name=tx_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	User            string  `parquet:"name=user, type=BYTE_ARRAY, convertedtype=UTF8"`
	Liquidator      string  `parquet:"name=liquidator, type=BYTE_ARRAY, convertedtype=UTF8"`
	DebtAsset       string  `parquet:"name=debt_asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	CollateralAsset string  `parquet:"name=collateral_asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Classification  string  `parquet:"name=classification, type=BYTE_ARRAY, convertedtype=UTF8"`
	InfoTags        string  `parquet:"name=info_tags, type=BYTE_ARRAY, convertedtype=UTF8"`
	DebtUsd         float64 `parquet:"name=debt_usd, type=DOUBLE"`
	CollateralUsd   float64 `parquet:"name=collateral_usd, type=DOUBLE"`
}

func toOutcomeRow(rec audit.OutcomeRecord) *outcomeRow {
	return &outcomeRow{
		ID:              int64(rec.ID),
		ObservedAt:      rec.ObservedAt.Format(time.RFC3339),
		Block:           int64(rec.Block),
		TxHash:          rec.TxHash,
		User:            rec.User,
		Liquidator:      rec.Liquidator,
		DebtAsset:       rec.DebtAsset,
		CollateralAsset: rec.CollateralAsset,
		Classification:  rec.Classification,
		InfoTags:        rec.InfoTags,
		DebtUsd:         rec.DebtUsd,
		CollateralUsd:   rec.CollateralUsd,
	}
}

// WriteParquet encodes rows into a snappy-compressed parquet file at path,
// overwriting anything already there.
func WriteParquet(path string, rows []audit.OutcomeRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("archive: mkdir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: create parquet file: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(outcomeRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("archive: parquet schema: %w", err)
	}
	pw.RowGroupSize = 64 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range rows {
		if err := pw.Write(toOutcomeRow(rec)); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("archive: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("archive: parquet flush: %w", err)
	}
	return file.Close()
}

// Recorder is the narrow surface onto audit.GormRecorder this package needs,
// letting Exporter run against a fake in tests without a live MySQL.
type Recorder interface {
	SinceID(ctx context.Context, afterID uint, limit int) ([]audit.OutcomeRecord, error)
}

// Uploader is the narrow surface onto an S3 client this package needs.
type Uploader interface {
	UploadFile(ctx context.Context, key, path string) error
}
