package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ExporterConfig bounds how often and how much the exporter ships per tick.
type ExporterConfig struct {
	Interval  time.Duration
	BatchSize int
	WorkDir   string
}

func (c *ExporterConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5000
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
}

// Exporter periodically drains new rows from Recorder past its high-water
// mark, writes them to a parquet file, and uploads it through Uploader. It
// tracks lastID only in memory: a restart resumes after whatever ID its
// caller passes to NewExporter. Every archive file is named by its first and
// last row ID, so re-uploading a batch with the same ID range overwrites the
// same S3 key.
type Exporter struct {
	recorder Recorder
	uploader Uploader
	cfg      ExporterConfig
	log      zerolog.Logger
	lastID   uint
}

// NewExporter builds an Exporter starting from resumeAfterID, the
// last-exported row ID recorded by a prior run (0 to export everything).
func NewExporter(recorder Recorder, uploader Uploader, cfg ExporterConfig, resumeAfterID uint, log zerolog.Logger) *Exporter {
	cfg.setDefaults()
	return &Exporter{recorder: recorder, uploader: uploader, cfg: cfg, log: log, lastID: resumeAfterID}
}

// Run ticks until ctx is cancelled, exporting one batch per tick.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.exportOnce(ctx); err != nil {
				e.log.Error().Err(err).Msg("archive export failed")
			}
		}
	}
}

// LastID returns the high-water mark reached so far, for a caller that wants
// to persist it across restarts.
func (e *Exporter) LastID() uint { return e.lastID }

func (e *Exporter) exportOnce(ctx context.Context) error {
	rows, err := e.recorder.SinceID(ctx, e.lastID, e.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("archive: fetch rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	first, last := rows[0].ID, rows[len(rows)-1].ID
	fileName := fmt.Sprintf("outcomes_%d_%d.parquet", first, last)
	path := filepath.Join(e.cfg.WorkDir, fileName)
	defer os.Remove(path)

	if err := WriteParquet(path, rows); err != nil {
		return err
	}
	if err := e.uploader.UploadFile(ctx, fileName, path); err != nil {
		return err
	}

	e.lastID = last
	e.log.Info().Uint("firstId", first).Uint("lastId", last).Int("rows", len(rows)).Msg("uploaded outcome archive batch")
	return nil
}
