package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxListener polls for a transaction's receipt with a functional-options
// constructor for poll interval and timeout.
type TxListener struct {
	backend      Backend
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a TxListener at construction time.
type Option func(*TxListener)

// WithPollInterval sets how often the listener polls for a receipt.
func WithPollInterval(d time.Duration) Option {
	return func(l *TxListener) { l.pollInterval = d }
}

// WithTimeout bounds how long WaitForTransaction waits before giving up.
func WithTimeout(d time.Duration) Option {
	return func(l *TxListener) { l.timeout = d }
}

// NewTxListener builds a TxListener with sane defaults, overridable via opts.
func NewTxListener(backend Backend, opts ...Option) *TxListener {
	l := &TxListener{backend: backend, pollInterval: 3 * time.Second, timeout: 5 * time.Minute}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction polls TransactionReceipt until it is mined or the
// listener's timeout elapses.
func (l *TxListener) WaitForTransaction(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
