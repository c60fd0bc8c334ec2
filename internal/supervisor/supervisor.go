// Package supervisor implements startup ordering, periodic health checks,
// graceful shutdown, and daily budget-reset scheduling.
package supervisor

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Component is any long-lived subsystem the Supervisor starts in order and
// stops in reverse order, e.g. rpcpool connections, the event ingestor, the
// executor's background loops.
type Component struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

// ConnectionGauge reports how many healthy endpoints a pool currently has,
// implemented by rpcpool.Pool.HealthySnapshot.
type ConnectionGauge func() int

// ConnectedChecker reports whether an ingest stream is currently connected,
// implemented by ingest.Ingestor.IsConnected.
type ConnectedChecker func() bool

// HealthStatus is one point-in-time health snapshot.
type HealthStatus struct {
	Healthy        bool
	CPUPercent     float64
	MemPercent     float64
	HealthyReads   int
	HealthyWrites  int
	IngestConnected bool
	CheckedAt      time.Time
	Reasons        []string
}

// Config bounds health-check cadence and resource thresholds.
type Config struct {
	CheckInterval    time.Duration
	MaxCPUPercent    float64
	MaxMemPercent    float64
	MinHealthyReads  int
	ShutdownGrace    time.Duration
	DailyResetCron   string // robfig/cron/v3 spec, e.g. "0 0 * * *"
}

func (c *Config) setDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 15 * time.Second
	}
	if c.MaxCPUPercent <= 0 {
		c.MaxCPUPercent = 90
	}
	if c.MaxMemPercent <= 0 {
		c.MaxMemPercent = 90
	}
	if c.MinHealthyReads <= 0 {
		c.MinHealthyReads = 1
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.DailyResetCron == "" {
		c.DailyResetCron = "0 0 * * *"
	}
}

// Supervisor owns component lifecycle, periodic health checks, and the
// daily budget-reset cron tick.
type Supervisor struct {
	cfg         Config
	components  []Component
	readGauge   ConnectionGauge
	writeGauge  ConnectionGauge
	ingest      ConnectedChecker
	resetDaily  func()
	cron        *cron.Cron
	log         zerolog.Logger

	mu        sync.RWMutex
	lastCheck HealthStatus
}

// New constructs a Supervisor. readGauge/writeGauge/ingest/resetDaily may be
// nil when the corresponding subsystem isn't wired yet.
func New(cfg Config, readGauge, writeGauge ConnectionGauge, ingest ConnectedChecker, resetDaily func(), log zerolog.Logger) *Supervisor {
	cfg.setDefaults()
	return &Supervisor{
		cfg: cfg, readGauge: readGauge, writeGauge: writeGauge, ingest: ingest, resetDaily: resetDaily,
		cron: cron.New(), log: log.With().Str("component", "supervisor").Logger(),
	}
}

// Register appends a component to the startup order; Stop order is the
// reverse.
func (s *Supervisor) Register(c Component) {
	s.components = append(s.components, c)
}

// Run starts every registered component in order, schedules the daily
// budget reset and periodic health checks, then blocks until ctx is
// cancelled or SIGINT/SIGTERM is received. On return every component has
// been stopped in reverse order. The returned exit code is 1 when a
// component fails to start and 2 after a graceful shutdown, whether
// triggered by SIGINT/SIGTERM or by ctx being cancelled; Run never returns 0.
func (s *Supervisor) Run(ctx context.Context) int {
	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	started := make([]Component, 0, len(s.components))
	for _, c := range s.components {
		s.log.Info().Str("name", c.Name).Msg("starting component")
		if err := c.Start(runCtx); err != nil {
			s.log.Error().Err(err).Str("name", c.Name).Msg("component startup failed")
			s.stopAll(context.Background(), started)
			return 1
		}
		started = append(started, c)
	}

	if s.resetDaily != nil {
		if _, err := s.cron.AddFunc(s.cfg.DailyResetCron, s.resetDaily); err != nil {
			s.log.Error().Err(err).Msg("failed to schedule daily budget reset")
		}
	}
	s.cron.Start()
	defer s.cron.Stop()

	exitCode := 0
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			exitCode = 2
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
			s.stopAll(shutdownCtx, started)
			shutdownCancel()
			return exitCode
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *Supervisor) stopAll(ctx context.Context, started []Component) {
	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]
		s.log.Info().Str("name", c.Name).Msg("stopping component")
		if err := c.Stop(ctx); err != nil {
			s.log.Warn().Err(err).Str("name", c.Name).Msg("component shutdown error")
		}
	}
}

// check runs one health-check pass and records it for Status.
func (s *Supervisor) check() {
	status := HealthStatus{CheckedAt: time.Now()}

	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read cpu percent")
	} else if len(cpuPercent) > 0 {
		status.CPUPercent = cpuPercent[0]
	}

	if memStat, err := mem.VirtualMemory(); err != nil {
		s.log.Warn().Err(err).Msg("failed to read memory stats")
	} else {
		status.MemPercent = memStat.UsedPercent
	}

	if s.readGauge != nil {
		status.HealthyReads = s.readGauge()
	}
	if s.writeGauge != nil {
		status.HealthyWrites = s.writeGauge()
	}
	if s.ingest != nil {
		status.IngestConnected = s.ingest()
	}

	status.Healthy = true
	if status.CPUPercent > s.cfg.MaxCPUPercent {
		status.Healthy = false
		status.Reasons = append(status.Reasons, fmt.Sprintf("cpu %.1f%% over threshold", status.CPUPercent))
	}
	if status.MemPercent > s.cfg.MaxMemPercent {
		status.Healthy = false
		status.Reasons = append(status.Reasons, fmt.Sprintf("mem %.1f%% over threshold", status.MemPercent))
	}
	if s.readGauge != nil && status.HealthyReads < s.cfg.MinHealthyReads {
		status.Healthy = false
		status.Reasons = append(status.Reasons, "no healthy read endpoints")
	}
	if s.ingest != nil && !status.IngestConnected {
		status.Healthy = false
		status.Reasons = append(status.Reasons, "ingest stream disconnected")
	}

	if !status.Healthy {
		s.log.Warn().Strs("reasons", status.Reasons).Msg("unhealthy")
	}

	s.mu.Lock()
	s.lastCheck = status
	s.mu.Unlock()
}

// Status returns the most recent health-check result.
func (s *Supervisor) Status() HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCheck
}
