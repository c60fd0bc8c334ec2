package ingest

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// Config configures the reconnect/heartbeat contract: interval, initial
// backoff, and its growth cap.
type Config struct {
	URL               string
	HeartbeatInterval time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
}

// rawMessage mirrors the subset of a JSON-RPC subscription notification
// this ingestor cares about: eth_subscribe push frames.
type rawMessage struct {
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// Ingestor owns the single WS subscription and fans out the three logical
// streams. Ordering within one stream is FIFO to its first consumer;
// ordering across streams is not guaranteed.
type Ingestor struct {
	cfg      Config
	registry *Registry
	log      zerolog.Logger

	blocks  chan NewBlock
	events  chan PoolEvent
	prices  chan PriceUpdate

	mu              sync.Mutex
	reconnectCount  int
	connected       bool
}

// New constructs an Ingestor bound to the given topic registry.
func New(cfg Config, registry *Registry, log zerolog.Logger) *Ingestor {
	cfg.setDefaults()
	return &Ingestor{
		cfg:      cfg,
		registry: registry,
		log:      log.With().Str("component", "event_ingestor").Logger(),
		blocks:   make(chan NewBlock, 256),
		events:   make(chan PoolEvent, 1024),
		prices:   make(chan PriceUpdate, 256),
	}
}

// Blocks returns the NewBlock stream.
func (in *Ingestor) Blocks() <-chan NewBlock { return in.blocks }

// PoolEvents returns the decoded pool-event stream.
func (in *Ingestor) PoolEvents() <-chan PoolEvent { return in.events }

// PriceUpdates returns the oracle price-update stream.
func (in *Ingestor) PriceUpdates() <-chan PriceUpdate { return in.prices }

// IsConnected reports the current connection state for health checks.
func (in *Ingestor) IsConnected() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.connected
}

// Run drives the reconnect loop until ctx is cancelled. Each iteration
// connects, subscribes, and reads until a heartbeat timeout or read error,
// then backs off exponentially (capped, with jitter) before retrying.
func (in *Ingestor) Run(ctx context.Context) error {
	backoff := in.cfg.InitialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := in.connectAndRead(ctx)
		in.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		in.mu.Lock()
		in.reconnectCount++
		count := in.reconnectCount
		in.mu.Unlock()
		in.log.Warn().Err(err).Int("reconnect_count", count).Dur("backoff", backoff).Msg("ws disconnected, reconnecting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, in.cfg.MaxBackoff)
	}
}

// nextBackoff doubles the delay, capped at max, then applies +/-20% jitter,
// so the result can exceed max by up to a fifth of it.
func nextBackoff(current, max time.Duration) time.Duration {
	next := time.Duration(math.Min(float64(current)*2, float64(max)))
	jitter := time.Duration(rand.Int63n(int64(next)/5 + 1))
	if rand.Intn(2) == 0 {
		return next + jitter
	}
	d := next - jitter
	if d <= 0 {
		return next
	}
	return d
}

func (in *Ingestor) setConnected(v bool) {
	in.mu.Lock()
	in.connected = v
	in.mu.Unlock()
}

func (in *Ingestor) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, in.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	in.setConnected(true)
	in.mu.Lock()
	in.reconnectCount = 0
	in.mu.Unlock()

	for {
		readCtx, cancel := context.WithTimeout(ctx, in.cfg.HeartbeatInterval)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return err
		}
		in.dispatch(data)
	}
}

func (in *Ingestor) dispatch(data []byte) {
	var msg rawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		in.log.Debug().Err(err).Msg("dropped malformed ws frame")
		return
	}
	var head struct {
		Number string `json:"number"`
		Hash   string `json:"hash"`
	}
	if err := json.Unmarshal(msg.Params.Result, &head); err == nil && head.Hash != "" {
		number, _ := hexutil.DecodeUint64(head.Number)
		in.blocks <- NewBlock{Number: number, Hash: common.HexToHash(head.Hash)}
		return
	}

	var logEntry struct {
		Topics      []string `json:"topics"`
		Data        string   `json:"data"`
		BlockNumber string   `json:"blockNumber"`
		TxHash      string   `json:"transactionHash"`
	}
	if err := json.Unmarshal(msg.Params.Result, &logEntry); err != nil || len(logEntry.Topics) == 0 {
		return
	}
	topics := make([]common.Hash, len(logEntry.Topics))
	for i, t := range logEntry.Topics {
		topics[i] = common.HexToHash(t)
	}
	blockNumber, _ := hexutil.DecodeUint64(logEntry.BlockNumber)
	if ev, ok := in.registry.Decode(topics, common.FromHex(logEntry.Data), blockNumber, common.HexToHash(logEntry.TxHash)); ok {
		in.events <- ev
	}
}
