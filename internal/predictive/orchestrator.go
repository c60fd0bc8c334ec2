// Package predictive implements PredictiveOrchestrator: scenario-based
// HF projection over rolling price windows, near-band filtering, and
// priority scoring so IntentBuilder can pre-stage calldata before a
// borrower's health factor actually crosses the execution threshold.
package predictive

import (
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/risk"
	"github.com/rs/zerolog"
)

// Candidate is the minimal per-borrower state the orchestrator evaluates
// each tick; supplied by the caller (usually sourced from HealthResolver's
// BorrowerSnapshot plus a reserves/positions lookup).
type Candidate struct {
	User         common.Address
	HF           *uint256.Int // nil = infinite
	TotalDebtUsd float64
	Reserves     map[common.Address]domain.Reserve
	Positions    []domain.ReservePosition
}

// RiskEngine is the narrow surface PredictiveOrchestrator needs from
// package risk.
type RiskEngine interface {
	ProjectHF(reserves map[common.Address]domain.Reserve, positions []domain.ReservePosition, basePrice risk.PriceLookup, shocks []risk.PriceShock) (*uint256.Int, error)
}

// PriceLookup resolves an asset's current USD price (BaseUnit 10^8).
type PriceLookup = risk.PriceLookup

// ShockSet is an alias for risk.PriceShock, kept so callers in this package
// can write predictive.ShockSet without a direct risk import.
type ShockSet = risk.PriceShock

// Volatility reports an asset's recent realized volatility (stddev of
// log-returns). prices.Window computes the same statistic but its Volatility
// returns no error, so a *prices.Window does not satisfy this interface.
type Volatility interface {
	Volatility(lookbackPeriods int) (float64, error)
}

// Config tunes triggering cadence, near-band admission, dynamic buffer
// scaling, the per-tick dispatch cap, and priority-score weighting.
type Config struct {
	FallbackInterval   time.Duration
	FallbackBlocks      uint64
	HardCeiling        int
	ExecutionThresholdBps uint32
	NearBandBps        uint32
	DynamicBufferEnabled bool
	VolMinBps          uint32
	VolMaxBps          uint32
	WeightHF           float64
	WeightEta          float64
	WeightDebt         float64
	ScenarioWeights    map[domain.Scenario]float64
	// StrictNearBandEdge selects strict (<) vs inclusive (<=) comparison at
	// the upper near-band edge; left configurable since source variants of
	// this logic disagree on which is correct.
	StrictNearBandEdge bool
}

func (c *Config) setDefaults() {
	if c.FallbackInterval <= 0 {
		c.FallbackInterval = 5 * time.Second
	}
	if c.FallbackBlocks == 0 {
		c.FallbackBlocks = 3
	}
	if c.HardCeiling == 0 {
		c.HardCeiling = 500
	}
	if c.ExecutionThresholdBps == 0 {
		c.ExecutionThresholdBps = 9800
	}
	if c.NearBandBps == 0 {
		c.NearBandBps = 500
	}
	if c.VolMinBps == 0 {
		c.VolMinBps = 50
	}
	if c.VolMaxBps == 0 {
		c.VolMaxBps = 800
	}
	if c.WeightHF == 0 {
		c.WeightHF = 1
	}
	if c.WeightEta == 0 {
		c.WeightEta = 1
	}
	if c.WeightDebt == 0 {
		c.WeightDebt = 1
	}
	if c.ScenarioWeights == nil {
		c.ScenarioWeights = map[domain.Scenario]float64{
			domain.ScenarioBaseline: 1.0,
			domain.ScenarioAdverse:  1.5,
			domain.ScenarioExtreme:  2.0,
		}
	}
}

// Listener receives each emitted PredictiveCandidate. A listener's error is
// logged and isolated: it must never stop delivery to the other listeners.
type Listener interface {
	OnPredictiveCandidate(domain.PredictiveCandidate) error
}

// Orchestrator runs scenario projection over a candidate set on a fallback
// timer or an explicit tick, filters to the near band, scores, caps, and
// fans each surviving candidate out to registered listeners.
type Orchestrator struct {
	cfg   Config
	risk  RiskEngine
	price PriceLookup
	vol   map[common.Address]Volatility
	log   zerolog.Logger

	mu        sync.Mutex
	listeners []Listener
}

// New constructs an Orchestrator.
func New(cfg Config, risk RiskEngine, price PriceLookup, vol map[common.Address]Volatility, log zerolog.Logger) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		cfg: cfg, risk: risk, price: price, vol: vol,
		log: log.With().Str("component", "predictive_orchestrator").Logger(),
	}
}

// Register adds a listener. Safe to call concurrently with Tick: both take
// o.mu, and Tick delivers to the listeners registered when it copies the list.
func (o *Orchestrator) Register(l Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

// Tick evaluates candidates for one pass: near-band filter, scenario
// projection across baseline/adverse/extreme, priority scoring, dynamic cap,
// and fan-out to listeners. lowHfCount is the number of candidates currently
// below the execution threshold, used to size the dynamic cap.
func (o *Orchestrator) Tick(candidates []Candidate, lowHfCount int) {
	dispatchCap := dynamicCap(lowHfCount, o.cfg.HardCeiling)
	buffer := o.effectiveBufferBps()

	scored := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !o.inNearBand(c.HF, buffer) {
			continue
		}
		for scenario, shocks := range o.scenarioShocks(c) {
			projected, err := o.risk.ProjectHF(c.Reserves, c.Positions, o.price, shocks)
			if err != nil {
				o.log.Debug().Err(err).Str("user", c.User.Hex()).Msg("projection failed, skipping scenario")
				continue
			}
			cand := domain.PredictiveCandidate{
				User: c.User, Scenario: scenario, HfCurrent: c.HF, HfProjected: projected,
				EtaSec: estimateEta(c.HF, projected), TotalDebtUsd: c.TotalDebtUsd,
			}
			scored = append(scored, scoredCandidate{cand: cand, priority: o.priority(cand)})
		}
	}

	sortByPriorityAscending(scored)
	if len(scored) > dispatchCap {
		o.log.Debug().Int("dropped", len(scored)-dispatchCap).Msg("dynamic cap truncated predictive batch")
		scored = scored[:dispatchCap]
	}

	o.mu.Lock()
	listeners := append([]Listener(nil), o.listeners...)
	o.mu.Unlock()

	for _, sc := range scored {
		o.fanOut(listeners, sc.cand)
	}
}

func (o *Orchestrator) fanOut(listeners []Listener, cand domain.PredictiveCandidate) {
	for _, l := range listeners {
		if err := l.OnPredictiveCandidate(cand); err != nil {
			o.log.Warn().Err(err).Str("user", cand.User.Hex()).Msg("predictive listener failed, continuing")
		}
	}
}

// inNearBand implements the near-band filter: HF in
// [executionThreshold-2%, 1.0+nearBandBps/BPS], or nil (infinite) HF is
// always excluded since there is nothing to project.
func (o *Orchestrator) inNearBand(hf *uint256.Int, bufferBps uint32) bool {
	if hf == nil {
		return false
	}
	lowerBps := int64(o.cfg.ExecutionThresholdBps) - 200
	if lowerBps < 0 {
		lowerBps = 0
	}
	upperBps := int64(domain.BPS) + int64(bufferBps)

	lower := bpsToWad(uint32(lowerBps))
	upper := bpsToWad(uint32(upperBps))

	if hf.Lt(lower) {
		return false
	}
	if o.cfg.StrictNearBandEdge {
		return hf.Lt(upper)
	}
	return hf.Cmp(upper) <= 0
}

func bpsToWad(bps uint32) *uint256.Int {
	v := uint256.NewInt(uint64(bps))
	v.Mul(v, uint256.NewInt(domain.WAD))
	return v.Div(v, uint256.NewInt(domain.BPS))
}

// effectiveBufferBps scales NearBandBps by average cross-asset volatility
// when DynamicBufferEnabled, clamped to [VolMinBps, VolMaxBps].
func (o *Orchestrator) effectiveBufferBps() uint32 {
	if !o.cfg.DynamicBufferEnabled || len(o.vol) == 0 {
		return o.cfg.NearBandBps
	}
	var sum float64
	var n int
	for _, w := range o.vol {
		v, err := w.Volatility(20)
		if err != nil {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return o.cfg.NearBandBps
	}
	avg := sum / float64(n)
	scaled := uint32(avg * 10000)
	if scaled < o.cfg.VolMinBps {
		scaled = o.cfg.VolMinBps
	}
	if scaled > o.cfg.VolMaxBps {
		scaled = o.cfg.VolMaxBps
	}
	return scaled
}

func (o *Orchestrator) scenarioShocks(c Candidate) map[domain.Scenario][]ShockSet {
	out := make(map[domain.Scenario][]ShockSet, 3)
	out[domain.ScenarioBaseline] = nil
	adverse := make([]ShockSet, 0, len(c.Reserves))
	extreme := make([]ShockSet, 0, len(c.Reserves))
	for asset := range c.Reserves {
		adverse = append(adverse, ShockSet{Asset: asset, CollateralMultiplier: 0.90, DebtMultiplier: 1.05})
		extreme = append(extreme, ShockSet{Asset: asset, CollateralMultiplier: 0.75, DebtMultiplier: 1.15})
	}
	out[domain.ScenarioAdverse] = adverse
	out[domain.ScenarioExtreme] = extreme
	return out
}

type scoredCandidate struct {
	cand     domain.PredictiveCandidate
	priority float64
}

// priority implements:
//
//	rawScore = hfDelta * w_hf * (1/etaSec * w_eta) * log10(debtUsd+1) * w_debt * scenarioWeight
//	priority = rawScore > 0 ? 1/rawScore : +Inf
func (o *Orchestrator) priority(c domain.PredictiveCandidate) float64 {
	hfDelta := hfDeltaFloat(c.HfCurrent, c.HfProjected)
	etaTerm := 1.0
	if c.EtaSec > 0 {
		etaTerm = (1 / c.EtaSec) * o.cfg.WeightEta
	}
	debtTerm := math.Log10(c.TotalDebtUsd+1) * o.cfg.WeightDebt
	scenarioWeight := o.cfg.ScenarioWeights[c.Scenario]
	if scenarioWeight == 0 {
		scenarioWeight = 1
	}
	rawScore := hfDelta * o.cfg.WeightHF * etaTerm * debtTerm * scenarioWeight
	if rawScore > 0 {
		return 1 / rawScore
	}
	return math.Inf(1)
}

func hfDeltaFloat(current, projected *uint256.Int) float64 {
	if current == nil || projected == nil {
		return 0
	}
	c := toFloatWad(current)
	p := toFloatWad(projected)
	delta := c - p
	if delta < 0 {
		return 0
	}
	return delta
}

func toFloatWad(v *uint256.Int) float64 {
	f := new(big.Float).SetInt(v.ToBig())
	wad := new(big.Float).SetInt64(domain.WAD)
	f.Quo(f, wad)
	out, _ := f.Float64()
	return out
}

// estimateEta is a coarse time-to-breach estimate: assumes the HF decline
// observed between current and projected continues linearly over the
// scenario's implicit one-block horizon, floored to avoid division blowups.
func estimateEta(current, projected *uint256.Int) float64 {
	if current == nil || projected == nil {
		return math.Inf(1)
	}
	delta := hfDeltaFloat(current, projected)
	if delta <= 0 {
		return math.Inf(1)
	}
	const assumedBlockSeconds = 2.0
	return assumedBlockSeconds / delta
}

// dynamicCap implements max(lowHfCount * 4, 100) capped by hardCeiling.
func dynamicCap(lowHfCount, hardCeiling int) int {
	c := lowHfCount * 4
	if c < 100 {
		c = 100
	}
	if c > hardCeiling {
		c = hardCeiling
	}
	return c
}

func sortByPriorityAscending(s []scoredCandidate) {
	sort.Slice(s, func(i, j int) bool { return s[i].priority < s[j].priority })
}
