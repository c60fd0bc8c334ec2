// Package backfill implements Backfiller: a one-shot historical log
// scan in fixed-size chunks that seeds the BorrowerIndex, best-effort across
// chunk failures.
package backfill

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// LogReader is the narrow eth_getLogs surface Backfiller needs.
type LogReader interface {
	GetLogs(ctx context.Context, fromBlock, toBlock uint64) ([]Log, error)
}

// Log is a minimal decoded pool log carrying the user addresses it touches.
type Log struct {
	Users []common.Address
}

// Config bounds the scan window and per-chunk behavior.
type Config struct {
	Blocks        uint64
	ChunkBlocks   uint64
	MaxLogs       int
	MaxRetriesPerChunk int
}

func (c *Config) setDefaults() {
	if c.ChunkBlocks == 0 {
		c.ChunkBlocks = 2000
	}
	if c.MaxLogs == 0 {
		c.MaxLogs = 50_000
	}
	if c.MaxRetriesPerChunk == 0 {
		c.MaxRetriesPerChunk = 3
	}
}

// Result is the best-effort outcome of one backfill run.
type Result struct {
	Users            map[common.Address]struct{}
	LogsScanned      int
	ChunksSkipped    int
	StalledChunks    int
}

// Backfiller performs the startup historical scan.
type Backfiller struct {
	reader LogReader
	log    zerolog.Logger
}

// New constructs a Backfiller over reader.
func New(reader LogReader, log zerolog.Logger) *Backfiller {
	return &Backfiller{reader: reader, log: log.With().Str("component", "backfiller").Logger()}
}

// Run is RunWithConfig with a zero Config. Its Blocks is therefore 0, so Run
// returns an empty result without any RPC call.
func (b *Backfiller) Run(ctx context.Context, currentBlock uint64) (Result, error) {
	cfg := Config{}
	return b.RunWithConfig(ctx, currentBlock, cfg)
}

// RunWithConfig scans the last cfg.Blocks blocks ending at currentBlock, in
// cfg.ChunkBlocks-sized chunks, stopping after the chunk that brings the
// total to cfg.MaxLogs or more. Failed chunk reads are retried with
// exponential backoff and jitter, capped per chunk; unrecoverable chunks are
// skipped so the scan still returns best-effort progress. Blocks == 0
// returns an empty result with no RPC calls.
func (b *Backfiller) RunWithConfig(ctx context.Context, currentBlock uint64, cfg Config) (Result, error) {
	cfg.setDefaults()
	result := Result{Users: make(map[common.Address]struct{})}
	if cfg.Blocks == 0 {
		return result, nil
	}

	var fromBlock uint64
	if currentBlock > cfg.Blocks {
		fromBlock = currentBlock - cfg.Blocks
	}

	for start := fromBlock; start <= currentBlock; start += cfg.ChunkBlocks {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		end := start + cfg.ChunkBlocks - 1
		if end > currentBlock {
			end = currentBlock
		}

		logs, ok := b.scanChunkWithRetry(ctx, start, end, cfg.MaxRetriesPerChunk)
		if !ok {
			result.ChunksSkipped++
			continue
		}
		for _, l := range logs {
			for _, u := range l.Users {
				result.Users[u] = struct{}{}
			}
		}
		result.LogsScanned += len(logs)
		if result.LogsScanned >= cfg.MaxLogs {
			break
		}
	}
	return result, nil
}

func (b *Backfiller) scanChunkWithRetry(ctx context.Context, from, to uint64, maxRetries int) ([]Log, bool) {
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < maxRetries; attempt++ {
		logs, err := b.reader.GetLogs(ctx, from, to)
		if err == nil {
			return logs, true
		}
		b.log.Warn().Err(err).Uint64("from", from).Uint64("to", to).Int("attempt", attempt).Msg("chunk scan failed, retrying")
		jittered := time.Duration(float64(backoff) * (0.5 + rand.Float64()))
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return nil, false
		}
		backoff = time.Duration(math.Min(float64(backoff)*2, float64(30*time.Second)))
	}
	b.log.Error().Uint64("from", from).Uint64("to", to).Msg("chunk unrecoverable, skipping")
	return nil, false
}
