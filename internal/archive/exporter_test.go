package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/liqcore/liqbot/internal/audit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	rows []audit.OutcomeRecord
}

func (f *fakeRecorder) SinceID(ctx context.Context, afterID uint, limit int) ([]audit.OutcomeRecord, error) {
	var out []audit.OutcomeRecord
	for _, r := range f.rows {
		if r.ID > afterID {
			out = append(out, r)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

type fakeUploader struct {
	uploaded map[string]string
}

func (f *fakeUploader) UploadFile(ctx context.Context, key, path string) error {
	if f.uploaded == nil {
		f.uploaded = map[string]string{}
	}
	f.uploaded[key] = path
	return nil
}

func sampleRow(id uint) audit.OutcomeRecord {
	return audit.OutcomeRecord{
		ID: id, Block: 100 + uint64(id), TxHash: "0xabc", User: "0xuser", Liquidator: "0xliq",
		DebtAsset: "0xdebt", CollateralAsset: "0xcoll", Classification: "healthy",
		DebtUsd: 1000, CollateralUsd: 1050, ObservedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestExporterExportsNewRowsOnlyOnce(t *testing.T) {
	recorder := &fakeRecorder{rows: []audit.OutcomeRecord{sampleRow(1), sampleRow(2), sampleRow(3)}}
	uploader := &fakeUploader{}
	exporter := NewExporter(recorder, uploader, ExporterConfig{WorkDir: t.TempDir()}, 0, zerolog.Nop())

	require.NoError(t, exporter.exportOnce(context.Background()))
	assert.Equal(t, uint(3), exporter.LastID())
	assert.Len(t, uploader.uploaded, 1)

	require.NoError(t, exporter.exportOnce(context.Background()))
	assert.Len(t, uploader.uploaded, 1, "a second tick with no new rows should not upload again")
}

func TestExporterResumesFromLastID(t *testing.T) {
	recorder := &fakeRecorder{rows: []audit.OutcomeRecord{sampleRow(1), sampleRow(2), sampleRow(3)}}
	uploader := &fakeUploader{}
	exporter := NewExporter(recorder, uploader, ExporterConfig{WorkDir: t.TempDir()}, 2, zerolog.Nop())

	require.NoError(t, exporter.exportOnce(context.Background()))
	assert.Equal(t, uint(3), exporter.LastID())
	assert.Len(t, uploader.uploaded, 1)
}

func TestWriteParquetWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.parquet")
	rows := []audit.OutcomeRecord{sampleRow(1), sampleRow(2)}

	require.NoError(t, WriteParquet(path, rows))
	assert.FileExists(t, path)
}
