// Package prices implements PriceService and PriceWindow.
package prices

import (
	"math"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// DefaultWindowCapacity is the typical ring-buffer size per asset.
const DefaultWindowCapacity = 256

// Window is a ring buffer of price samples for one asset, used only by
// PredictiveOrchestrator for realized-volatility scaling.
type Window struct {
	mu       sync.Mutex
	capacity int
	samples  []domain.PriceSample
	next     int
	filled   bool
}

// NewWindow constructs a Window with the given ring-buffer capacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &Window{capacity: capacity, samples: make([]domain.PriceSample, capacity)}
}

// Add appends a new sample, overwriting the oldest once the buffer is full.
func (w *Window) Add(s domain.PriceSample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = s
	w.next = (w.next + 1) % w.capacity
	if w.next == 0 {
		w.filled = true
	}
}

// Last returns the most recently added sample, if any.
func (w *Window) Last() (domain.PriceSample, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := w.next - 1
	if idx < 0 {
		idx = w.capacity - 1
	}
	if !w.filled && w.next == 0 {
		return domain.PriceSample{}, false
	}
	return w.samples[idx], true
}

// orderedCopy returns the stored samples oldest-first, regardless of
// physical ring position.
func (w *Window) orderedCopy() []domain.PriceSample {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.filled {
		return append([]domain.PriceSample(nil), w.samples[:w.next]...)
	}
	out := make([]domain.PriceSample, 0, w.capacity)
	out = append(out, w.samples[w.next:]...)
	out = append(out, w.samples[:w.next]...)
	return out
}

// Volatility returns the standard deviation of log-returns over the last
// lookbackPeriods samples. Being derived from log-returns, it is invariant
// to a uniform multiplicative rescaling of all stored prices.
func (w *Window) Volatility(lookbackPeriods int) float64 {
	samples := w.orderedCopy()
	if len(samples) > lookbackPeriods {
		samples = samples[len(samples)-lookbackPeriods:]
	}
	if len(samples) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		prev := toFloat(samples[i-1].Price)
		cur := toFloat(samples[i].Price)
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	out, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return out
}
