// Package quota estimates local storage usage against a configured budget and
// gates offline writes when the budget is effectively exhausted.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fieldsync/fieldsync/internal/config"
	"github.com/fieldsync/fieldsync/internal/loggy"
)

// ErrQuotaExceeded is returned by the write gate when local usage is at the
// danger level. Reads and sync drains are never blocked, only new dirty writes.
var ErrQuotaExceeded = errors.New("local storage quota exceeded")

// Level grades how full local storage is.
type Level string

const (
	// LevelHealthy means usage is below the warning threshold
	LevelHealthy Level = "healthy"
	// LevelWarning means usage crossed the warning threshold
	LevelWarning Level = "warning"
	// LevelCritical means usage crossed the critical threshold
	LevelCritical Level = "critical"
	// LevelDanger means usage crossed the danger threshold and writes are gated
	LevelDanger Level = "danger"
)

// Info is one usage estimate. Usage numbers are approximations derived from
// stored payload sizes, not filesystem truth.
type Info struct {
	UsageBytes  int64            `json:"usage_bytes"`
	BudgetBytes int64            `json:"budget_bytes"`
	Percentage  float64          `json:"percentage"`
	Level       Level            `json:"level"`
	Breakdown   map[string]int64 `json:"breakdown"`
	EstimatedAt time.Time        `json:"estimated_at"`
}

// UsageSource supplies per-store payload byte usage. The store service
// satisfies it.
type UsageSource interface {
	UsageByStore(ctx context.Context) (map[string]int64, error)
}

// NotifyFunc receives threshold notifications. Called at most once per level
// within the configured notification window.
type NotifyFunc func(info Info)

// Monitor estimates usage and acts as the write gate for dirty writes.
type Monitor struct {
	source UsageSource
	cfg    config.QuotaConfig
	logger *loggy.Logger
	notify NotifyFunc

	mu       sync.Mutex
	limiters map[Level]*rate.Limiter
	last     *Info
}

// NewMonitor creates a quota monitor. notify may be nil.
func NewMonitor(source UsageSource, cfg config.QuotaConfig, notify NotifyFunc, logger *loggy.Logger) *Monitor {
	window := cfg.NotifyWindow
	if window <= 0 {
		window = 24 * time.Hour
	}

	limiters := make(map[Level]*rate.Limiter, 3)
	for _, lvl := range []Level{LevelWarning, LevelCritical, LevelDanger} {
		limiters[lvl] = rate.NewLimiter(rate.Every(window), 1)
	}

	return &Monitor{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		notify:   notify,
		limiters: limiters,
	}
}

// Estimate computes a fresh usage snapshot and fires any due notification.
func (m *Monitor) Estimate(ctx context.Context) (*Info, error) {
	breakdown, err := m.source.UsageByStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("estimating storage usage: %w", err)
	}

	var usage int64
	for _, bytes := range breakdown {
		usage += bytes
	}

	var pct float64
	if m.cfg.BudgetBytes > 0 {
		pct = float64(usage) / float64(m.cfg.BudgetBytes) * 100
	}

	info := Info{
		UsageBytes:  usage,
		BudgetBytes: m.cfg.BudgetBytes,
		Percentage:  pct,
		Level:       m.level(pct),
		Breakdown:   breakdown,
		EstimatedAt: time.Now(),
	}

	m.mu.Lock()
	m.last = &info
	m.mu.Unlock()

	m.maybeNotify(info)

	return &info, nil
}

// Last returns the most recent estimate, or nil before the first one.
func (m *Monitor) Last() *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// AllowDirtyWrite refuses new offline writes once usage reaches the danger
// level. It re-estimates on every call: the check must see deletions that
// freed space since the last estimate.
func (m *Monitor) AllowDirtyWrite(ctx context.Context) error {
	info, err := m.Estimate(ctx)
	if err != nil {
		// Gate open on estimation failure: losing field data over a broken
		// usage query is the worse failure mode.
		m.logger.Warn("Quota estimate failed, admitting write", "error", err)
		return nil
	}

	if info.Level == LevelDanger {
		return fmt.Errorf("%w: %d of %d bytes used (%.1f%%)",
			ErrQuotaExceeded, info.UsageBytes, info.BudgetBytes, info.Percentage)
	}

	return nil
}

func (m *Monitor) level(pct float64) Level {
	switch {
	case pct >= float64(m.cfg.DangerPct):
		return LevelDanger
	case pct >= float64(m.cfg.CriticalPct):
		return LevelCritical
	case pct >= float64(m.cfg.WarningPct):
		return LevelWarning
	default:
		return LevelHealthy
	}
}

// maybeNotify emits at most one notification per level per window, so a
// near-full device does not nag on every write.
func (m *Monitor) maybeNotify(info Info) {
	if info.Level == LevelHealthy {
		return
	}

	limiter := m.limiters[info.Level]
	if limiter == nil || !limiter.Allow() {
		return
	}

	m.logger.Warn("Storage usage threshold crossed",
		"level", info.Level,
		"usage_bytes", info.UsageBytes,
		"budget_bytes", info.BudgetBytes,
		"percentage", fmt.Sprintf("%.1f", info.Percentage),
	)

	if m.notify != nil {
		m.notify(info)
	}
}
